package models

// ListingFilter представляет структурированную модель для фильтрации
// снимков листингов
type ListingFilter struct {
	// Основные поля фильтрации
	Source string `json:"source,omitempty"`
	Brand  string `json:"brand,omitempty"`
	SyncID string `json:"sync_id,omitempty"`

	// Фильтрация по цене
	MinPrice float64 `json:"min_price,omitempty"`
	MaxPrice float64 `json:"max_price,omitempty"`

	// Фильтрация по остаткам
	InStock *bool `json:"in_stock,omitempty"`

	// Фильтрация по времени
	UpdatedAfter int64 `json:"updated_after,omitempty"` // Unix timestamp

	// Полнотекстовый поиск по названию и бренду
	SearchQuery string `json:"search_query,omitempty"`
}

// ToMap преобразует ListingFilter в map для использования в запросах
func (f *ListingFilter) ToMap() map[string]interface{} {
	result := make(map[string]interface{})

	if f.Source != "" {
		result["source"] = f.Source
	}

	if f.Brand != "" {
		result["brand"] = f.Brand
	}

	if f.SyncID != "" {
		result["sync_id"] = f.SyncID
	}

	if f.MinPrice > 0 {
		result["min_price"] = f.MinPrice
	}

	if f.MaxPrice > 0 {
		result["max_price"] = f.MaxPrice
	}

	if f.InStock != nil {
		result["in_stock"] = *f.InStock
	}

	if f.UpdatedAfter > 0 {
		result["updated_after"] = f.UpdatedAfter
	}

	if f.SearchQuery != "" {
		result["search_query"] = f.SearchQuery
	}

	return result
}
