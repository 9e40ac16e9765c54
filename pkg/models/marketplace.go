package models

import "strings"

// Коды маркетплейсов, с которыми работает сервис. Код хранится в БД и
// используется в ключах кэша и топиках событий.
const (
	SourceWildberries = "WB"
	SourceOzon        = "OZON"
)

// Marketplace описывает поддерживаемый маркетплейс
type Marketplace struct {
	ID   int    `json:"id"`   // Числовой ID маркетплейса
	Code string `json:"code"` // Код источника: "WB", "OZON"
	Name string `json:"name"` // Человекочитаемое имя
}

var marketplaces = []Marketplace{
	{ID: 1, Code: SourceWildberries, Name: "Wildberries"},
	{ID: 2, Code: SourceOzon, Name: "Ozon"},
}

// Marketplaces возвращает реестр поддерживаемых маркетплейсов
func Marketplaces() []Marketplace {
	registry := make([]Marketplace, len(marketplaces))
	copy(registry, marketplaces)
	return registry
}

// MarketplaceByCode ищет маркетплейс по коду источника без учета регистра
func MarketplaceByCode(code string) (Marketplace, bool) {
	normalized := NormalizeSource(code)
	for _, m := range marketplaces {
		if m.Code == normalized {
			return m, true
		}
	}
	return Marketplace{}, false
}

// sourceAliases альтернативные написания кодов, встречающиеся в URL
// и конфигурации
var sourceAliases = map[string]string{
	"WILDBERRIES": SourceWildberries,
}

// NormalizeSource приводит код источника к каноническому виду
// ("wb" -> "WB", "wildberries" -> "WB")
func NormalizeSource(code string) string {
	normalized := strings.ToUpper(strings.TrimSpace(code))
	if canonical, ok := sourceAliases[normalized]; ok {
		return canonical
	}
	return normalized
}

// IsSupportedSource проверяет, что код источника есть в реестре
func IsSupportedSource(code string) bool {
	_, ok := MarketplaceByCode(code)
	return ok
}
