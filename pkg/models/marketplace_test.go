package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeSource(t *testing.T) {
	assert.Equal(t, SourceWildberries, NormalizeSource("wb"))
	assert.Equal(t, SourceWildberries, NormalizeSource(" WB "))
	assert.Equal(t, SourceWildberries, NormalizeSource("wildberries"))
	assert.Equal(t, SourceOzon, NormalizeSource("ozon"))
	assert.Equal(t, "EBAY", NormalizeSource("ebay"))
}

func TestMarketplaceByCode(t *testing.T) {
	m, ok := MarketplaceByCode("wildberries")
	require.True(t, ok)
	assert.Equal(t, SourceWildberries, m.Code)
	assert.Equal(t, "Wildberries", m.Name)

	_, ok = MarketplaceByCode("ebay")
	assert.False(t, ok)
}

func TestIsSupportedSource(t *testing.T) {
	assert.True(t, IsSupportedSource("WB"))
	assert.True(t, IsSupportedSource("ozon"))
	assert.False(t, IsSupportedSource(""))
	assert.False(t, IsSupportedSource("amazon"))
}

func TestMarketplacesReturnsCopy(t *testing.T) {
	registry := Marketplaces()
	require.Len(t, registry, 2)

	registry[0].Code = "mutated"

	fresh := Marketplaces()
	assert.Equal(t, SourceWildberries, fresh[0].Code)
}
