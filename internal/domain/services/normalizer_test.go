package services

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/athebyme/gomarket-platform/marketplace-service/internal/domain/models"
	"github.com/athebyme/gomarket-platform/marketplace-service/internal/gateway/ozon"
	"github.com/athebyme/gomarket-platform/marketplace-service/internal/gateway/wb"
	base "github.com/athebyme/gomarket-platform/marketplace-service/pkg/models"
)

func TestNormalizeWBCard(t *testing.T) {
	card := wb.Card{
		"nmID":  float64(12345),
		"title": "Кружка керамическая",
		"brand": "Acme",
		"sizes": []interface{}{
			map[string]interface{}{
				"stocks": []interface{}{
					map[string]interface{}{"qty": float64(3)},
					map[string]interface{}{"qty": float64(4)},
				},
			},
			map[string]interface{}{
				"stocks": []interface{}{
					map[string]interface{}{"qty": float64(5)},
				},
			},
		},
		"priceU": float64(123456),
		"mediaFiles": []interface{}{
			"https://img.example/1.jpg",
			map[string]interface{}{"big": "https://img.example/2-big.jpg"},
		},
	}

	snapshot, ok := NormalizeWBCard("tenant-1", card)
	require.True(t, ok)

	assert.Equal(t, "tenant-1", snapshot.TenantID)
	assert.Equal(t, base.SourceWildberries, snapshot.Source)
	assert.Equal(t, "12345", snapshot.ExternalKey)
	assert.Equal(t, models.ExternalKeyTypeWBNmID, snapshot.ExternalKeyType)
	assert.Equal(t, int64(12345), snapshot.NMID)
	assert.Equal(t, "Кружка керамическая", snapshot.Title)
	assert.Equal(t, "Acme", snapshot.Brand)

	require.NotNil(t, snapshot.Price)
	assert.InDelta(t, 1234.56, *snapshot.Price, 0.001)

	require.NotNil(t, snapshot.Stock)
	assert.Equal(t, int64(12), *snapshot.Stock)

	assert.Equal(t, []string{"https://img.example/1.jpg", "https://img.example/2-big.jpg"}, snapshot.ImageURLs)

	var extra map[string]interface{}
	require.NoError(t, json.Unmarshal(snapshot.Extra, &extra))
	assert.Equal(t, "Кружка керамическая", extra["title"])
}

func TestNormalizeWBCardNmIDAliases(t *testing.T) {
	tests := []struct {
		name string
		card wb.Card
		want int64
	}{
		{"nmId", wb.Card{"nmId": float64(7)}, 7},
		{"nmid", wb.Card{"nmid": float64(8)}, 8},
		{"nm", wb.Card{"nm": float64(9)}, 9},
		{"string value", wb.Card{"nmID": "15"}, 15},
		{"first alias wins", wb.Card{"nmID": float64(1), "nm": float64(2)}, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			snapshot, ok := NormalizeWBCard("tenant-1", tt.card)
			require.True(t, ok)
			assert.Equal(t, tt.want, snapshot.NMID)
		})
	}
}

func TestNormalizeWBCardSkipsWithoutNmID(t *testing.T) {
	tests := []struct {
		name string
		card wb.Card
	}{
		{"no id fields", wb.Card{"title": "Без артикула"}},
		{"unparseable id", wb.Card{"nmID": "abc"}},
		{"fractional string id", wb.Card{"nmID": "12.5"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, ok := NormalizeWBCard("tenant-1", tt.card)
			assert.False(t, ok)
		})
	}
}

func TestNormalizeWBCardTitleFallbacks(t *testing.T) {
	tests := []struct {
		name string
		card wb.Card
		want string
	}{
		{"name", wb.Card{"nmID": float64(1), "name": "Имя"}, "Имя"},
		{"object", wb.Card{"nmID": float64(1), "object": "Кружки"}, "Кружки"},
		{"vendorCode", wb.Card{"nmID": float64(1), "vendorCode": "SKU-1"}, "SKU-1"},
		{"empty", wb.Card{"nmID": float64(1)}, ""},
		{"numeric title stringified", wb.Card{"nmID": float64(1), "title": float64(42)}, "42"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			snapshot, ok := NormalizeWBCard("tenant-1", tt.card)
			require.True(t, ok)
			assert.Equal(t, tt.want, snapshot.Title)
		})
	}
}

// TestNormalizeWBCardPriceFields covers the legacy minor-unit heuristic:
// *U fields above 1000 are kopecks, everything else is taken as is.
func TestNormalizeWBCardPriceFields(t *testing.T) {
	tests := []struct {
		name string
		card wb.Card
		want float64
	}{
		{"plain price", wb.Card{"nmID": float64(1), "price": float64(499)}, 499},
		{"plain price above threshold", wb.Card{"nmID": float64(1), "price": float64(4990)}, 4990},
		{"priceU kopecks", wb.Card{"nmID": float64(1), "priceU": float64(499000)}, 4990},
		{"priceU below threshold", wb.Card{"nmID": float64(1), "priceU": float64(500)}, 500},
		{"basicPrice", wb.Card{"nmID": float64(1), "basicPrice": float64(199)}, 199},
		{"salePriceU kopecks", wb.Card{"nmID": float64(1), "salePriceU": float64(129900)}, 1299},
		{"price wins over priceU", wb.Card{"nmID": float64(1), "price": float64(100), "priceU": float64(990000)}, 100},
		{"unparseable first field falls through", wb.Card{"nmID": float64(1), "price": "n/a", "basicPrice": float64(77)}, 77},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			snapshot, ok := NormalizeWBCard("tenant-1", tt.card)
			require.True(t, ok)
			require.NotNil(t, snapshot.Price)
			assert.InDelta(t, tt.want, *snapshot.Price, 0.001)
		})
	}
}

func TestNormalizeWBCardPriceAbsent(t *testing.T) {
	snapshot, ok := NormalizeWBCard("tenant-1", wb.Card{"nmID": float64(1)})
	require.True(t, ok)
	assert.Nil(t, snapshot.Price)

	require.NotNil(t, snapshot.Stock)
	assert.Equal(t, int64(0), *snapshot.Stock)
}

func TestNormalizeWBCardPhotosFallback(t *testing.T) {
	card := wb.Card{
		"nmID": float64(1),
		"photos": []interface{}{
			map[string]interface{}{"url": "https://img.example/u.jpg"},
			map[string]interface{}{"img": "https://img.example/i.jpg"},
			map[string]interface{}{"big": float64(404)},
			"",
			"https://img.example/plain.jpg",
		},
	}

	snapshot, ok := NormalizeWBCard("tenant-1", card)
	require.True(t, ok)
	assert.Equal(t, []string{
		"https://img.example/u.jpg",
		"https://img.example/i.jpg",
		"https://img.example/plain.jpg",
	}, snapshot.ImageURLs)
}

func TestNormalizeOzonProduct(t *testing.T) {
	listItem := ozon.Product{
		"product_id": float64(111),
		"offer_id":   "SKU-111",
	}
	infoItem := ozon.Product{
		"product_id": float64(111),
		"name":       "Чайник стеклянный",
		"brand_name": "Acme",
		"price": map[string]interface{}{
			"price_with_discount": "1 290,50",
		},
		"stocks": []interface{}{
			map[string]interface{}{"present": float64(3)},
			map[string]interface{}{"present": float64(2)},
		},
		"images": []interface{}{
			"https://cdn.example/2.jpg",
			map[string]interface{}{"url": "https://cdn.example/3.jpg"},
		},
		"primary_image": "https://cdn.example/1.jpg",
		"fbs_sku":       float64(555),
	}

	snapshot, ok := NormalizeOzonProduct("tenant-1", listItem, infoItem)
	require.True(t, ok)

	assert.Equal(t, base.SourceOzon, snapshot.Source)
	assert.Equal(t, "111", snapshot.ExternalKey)
	assert.Equal(t, models.ExternalKeyTypeOzonProductID, snapshot.ExternalKeyType)
	assert.Equal(t, "111", snapshot.ProductID)
	assert.Equal(t, "SKU-111", snapshot.OfferID)
	assert.Equal(t, "555", snapshot.SKU)
	assert.Equal(t, "Чайник стеклянный", snapshot.Title)
	assert.Equal(t, "Acme", snapshot.Brand)

	require.NotNil(t, snapshot.Price)
	assert.InDelta(t, 1290.50, *snapshot.Price, 0.001)

	require.NotNil(t, snapshot.Stock)
	assert.Equal(t, int64(5), *snapshot.Stock)

	assert.Equal(t, []string{
		"https://cdn.example/1.jpg",
		"https://cdn.example/2.jpg",
		"https://cdn.example/3.jpg",
	}, snapshot.ImageURLs)

	var extra map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(snapshot.Extra, &extra))
	assert.Contains(t, extra, "list_item")
	assert.Contains(t, extra, "info_item")
}

func TestNormalizeOzonProductOfferKey(t *testing.T) {
	snapshot, ok := NormalizeOzonProduct("tenant-1", ozon.Product{"offer_id": "OFF-1"}, nil)
	require.True(t, ok)

	assert.Equal(t, "OFF-1", snapshot.ExternalKey)
	assert.Equal(t, models.ExternalKeyTypeOzonOfferID, snapshot.ExternalKeyType)
	// Без названия заголовком становится offer_id
	assert.Equal(t, "OFF-1", snapshot.Title)
	assert.Empty(t, snapshot.ProductID)
}

func TestNormalizeOzonProductSkipsWithoutKeys(t *testing.T) {
	_, ok := NormalizeOzonProduct("tenant-1", ozon.Product{"name": "Безымянный"}, nil)
	assert.False(t, ok)

	_, ok = NormalizeOzonProduct("tenant-1", nil, nil)
	assert.False(t, ok)
}

func TestNormalizeOzonProductStockAbsent(t *testing.T) {
	snapshot, ok := NormalizeOzonProduct("tenant-1", ozon.Product{"product_id": float64(5)}, nil)
	require.True(t, ok)
	assert.Nil(t, snapshot.Stock)
	assert.Nil(t, snapshot.Price)
}

func TestNormalizeOzonProductFlatPriceFallback(t *testing.T) {
	infoItem := ozon.Product{
		"product_id": float64(5),
		"min_price":  "990",
	}

	snapshot, ok := NormalizeOzonProduct("tenant-1", nil, infoItem)
	require.True(t, ok)
	require.NotNil(t, snapshot.Price)
	assert.InDelta(t, 990, *snapshot.Price, 0.001)
}

func TestMergeOzonProducts(t *testing.T) {
	listItems := []ozon.Product{
		{"product_id": float64(1), "offer_id": "A"},
		{"offer_id": "B"},
	}
	infoItems := []ozon.Product{
		{"product_id": float64(1), "name": "Первый"},
		{"product_id": float64(9), "offer_id": "B", "name": "Второй"},
		{"product_id": float64(3), "name": "Только карточка"},
	}

	snapshots := MergeOzonProducts("tenant-1", listItems, infoItems)
	require.Len(t, snapshots, 3)

	// Списочная запись обогащена карточкой по product_id
	assert.Equal(t, "1", snapshots[0].ExternalKey)
	assert.Equal(t, "Первый", snapshots[0].Title)

	// Сопоставление по offer_id, когда product_id в списке нет:
	// ключом становится product_id карточки
	assert.Equal(t, "9", snapshots[1].ExternalKey)
	assert.Equal(t, "Второй", snapshots[1].Title)

	// Карточка без списочной записи добавлена отдельным снимком
	assert.Equal(t, "3", snapshots[2].ExternalKey)
	assert.Equal(t, "Только карточка", snapshots[2].Title)
}

func TestMergeOzonProductsDeduplicates(t *testing.T) {
	listItems := []ozon.Product{{"product_id": float64(1)}}
	infoItems := []ozon.Product{{"product_id": float64(1), "name": "Единственный"}}

	snapshots := MergeOzonProducts("tenant-1", listItems, infoItems)
	require.Len(t, snapshots, 1)
	assert.Equal(t, "Единственный", snapshots[0].Title)
}

func TestChainOr(t *testing.T) {
	assert.Equal(t, "a", chainOr(nil, "", "a"))
	assert.Equal(t, float64(5), chainOr(float64(0), float64(5)))
	// Все пустые: возвращается последнее значение как есть
	assert.Equal(t, float64(0), chainOr(nil, float64(0)))
	assert.Nil(t, chainOr(nil, nil))
	assert.Nil(t, chainOr())
}

func TestTruthy(t *testing.T) {
	assert.False(t, truthy(nil))
	assert.False(t, truthy(""))
	assert.False(t, truthy(float64(0)))
	assert.False(t, truthy(false))
	assert.False(t, truthy([]interface{}{}))
	assert.False(t, truthy(map[string]interface{}{}))

	assert.True(t, truthy("x"))
	assert.True(t, truthy(float64(0.5)))
	assert.True(t, truthy([]interface{}{1}))
}

func TestStringify(t *testing.T) {
	assert.Equal(t, "12345", stringify(float64(12345)))
	assert.Equal(t, "12.5", stringify(float64(12.5)))
	assert.Equal(t, "abc", stringify("abc"))
	assert.Equal(t, "", stringify(nil))
	assert.Equal(t, "true", stringify(true))
}

func TestSafeFloat(t *testing.T) {
	tests := []struct {
		name   string
		value  interface{}
		want   float64
		wantOK bool
	}{
		{"nil", nil, 0, false},
		{"bool rejected", true, 0, false},
		{"number", float64(12.5), 12.5, true},
		{"string", "12.5", 12.5, true},
		{"comma separator", "12,5", 12.5, true},
		{"spaces stripped", " 1 290,50 ", 1290.5, true},
		{"empty string", "   ", 0, false},
		{"garbage", "abc", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := safeFloat(tt.value)
			assert.Equal(t, tt.wantOK, ok)
			if tt.wantOK {
				assert.InDelta(t, tt.want, got, 0.001)
			}
		})
	}
}

func TestSafeInt(t *testing.T) {
	tests := []struct {
		name   string
		value  interface{}
		want   int64
		wantOK bool
	}{
		{"nil", nil, 0, false},
		{"bool converted", true, 1, true},
		{"integral float", float64(7), 7, true},
		{"fractional float rejected", float64(7.5), 0, false},
		{"string", "42", 42, true},
		{"string with dot truncated", "42.9", 42, true},
		{"string with comma truncated", "42,9", 42, true},
		{"empty string", "  ", 0, false},
		{"garbage", "x1", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := safeInt(tt.value)
			assert.Equal(t, tt.wantOK, ok)
			if tt.wantOK {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}
