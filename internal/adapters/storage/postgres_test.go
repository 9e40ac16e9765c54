package postgres

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildListingConditionsEmpty(t *testing.T) {
	args := []interface{}{"tenant-1"}

	conditions, outArgs := buildListingConditions(map[string]interface{}{}, args)

	assert.Empty(t, conditions)
	assert.Equal(t, args, outArgs)
}

func TestBuildListingConditionsSourceAndBrand(t *testing.T) {
	args := []interface{}{"tenant-1"}

	conditions, outArgs := buildListingConditions(map[string]interface{}{
		"source": "wildberries",
		"brand":  "Acme",
	}, args)

	require.Len(t, conditions, 2)
	assert.Contains(t, conditions, "source = $2")
	assert.Contains(t, conditions, "brand ILIKE $3")
	require.Len(t, outArgs, 3)
	assert.Contains(t, outArgs, "wildberries")
	assert.Contains(t, outArgs, "Acme")
}

func TestBuildListingConditionsPriceRange(t *testing.T) {
	args := []interface{}{"tenant-1"}

	conditions, outArgs := buildListingConditions(map[string]interface{}{
		"min_price": 100.0,
		"max_price": 500.0,
	}, args)

	require.Len(t, conditions, 2)
	assert.Equal(t, "price >= $2", conditions[0])
	assert.Equal(t, "price <= $3", conditions[1])
	assert.Equal(t, []interface{}{"tenant-1", 100.0, 500.0}, outArgs)
}

func TestBuildListingConditionsIgnoresZeroPrices(t *testing.T) {
	args := []interface{}{"tenant-1"}

	conditions, outArgs := buildListingConditions(map[string]interface{}{
		"min_price": 0.0,
		"max_price": 0,
	}, args)

	assert.Empty(t, conditions)
	assert.Len(t, outArgs, 1)
}

func TestBuildListingConditionsInStock(t *testing.T) {
	args := []interface{}{"tenant-1"}

	conditions, outArgs := buildListingConditions(map[string]interface{}{
		"in_stock": true,
	}, args)

	require.Len(t, conditions, 1)
	assert.Equal(t, "stock > 0", conditions[0])
	assert.Len(t, outArgs, 1) // условие без параметров

	conditions, _ = buildListingConditions(map[string]interface{}{
		"in_stock": false,
	}, args)

	require.Len(t, conditions, 1)
	assert.Equal(t, "(stock IS NULL OR stock <= 0)", conditions[0])
}

func TestBuildListingConditionsUpdatedAfter(t *testing.T) {
	args := []interface{}{"tenant-1"}

	conditions, outArgs := buildListingConditions(map[string]interface{}{
		"updated_after": int64(1700000000),
	}, args)

	require.Len(t, conditions, 1)
	assert.Equal(t, "updated_at > $2", conditions[0])
	require.Len(t, outArgs, 2)
	assert.Equal(t, time.Unix(1700000000, 0).UTC(), outArgs[1])
}

func TestBuildListingConditionsSearchQuery(t *testing.T) {
	args := []interface{}{"tenant-1"}

	conditions, outArgs := buildListingConditions(map[string]interface{}{
		"search_query": "кроссовки",
	}, args)

	require.Len(t, conditions, 1)
	assert.Equal(t, "(title ILIKE $2 OR brand ILIKE $3)", conditions[0])
	assert.Equal(t, []interface{}{"tenant-1", "%кроссовки%", "%кроссовки%"}, outArgs)
}

func TestBuildListingConditionsSyncID(t *testing.T) {
	args := []interface{}{"tenant-1"}

	conditions, outArgs := buildListingConditions(map[string]interface{}{
		"sync_id": "sync-42",
	}, args)

	require.Len(t, conditions, 1)
	assert.Equal(t, "sync_id = $2", conditions[0])
	assert.Contains(t, outArgs, "sync-42")
}

func TestBuildListingConditionsCombined(t *testing.T) {
	args := []interface{}{"tenant-1"}

	conditions, outArgs := buildListingConditions(map[string]interface{}{
		"source":   "ozon",
		"in_stock": true,
		"brand":    "Nike",
	}, args)

	assert.Len(t, conditions, 3)
	// stock > 0 не добавляет аргументов
	assert.Len(t, outArgs, 3)
}
