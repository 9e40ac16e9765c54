package wb

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

// PriceUpdate запись изменения цены. На входе допускает ключи-синонимы
// разных поколений API, на выходе из нормализации содержит канонические
// nmId, price и, опционально, discount; прочие ключи проходят насквозь.
type PriceUpdate map[string]interface{}

// PriceUnit трактовка числового значения цены при нормализации.
type PriceUnit int

const (
	// PriceUnitAuto историческое поведение API: значение меньше 1000
	// считается рублями и умножается на 100, остальное — уже копейки.
	// Около порога возможна коллизия, поэтому есть PriceUnitMinor.
	PriceUnitAuto PriceUnit = iota
	// PriceUnitMinor значение всегда в копейках, эвристика отключена.
	PriceUnitMinor
)

// UpdateOptions режимы обновления цен.
type UpdateOptions struct {
	// DryRun вернуть нормализованные записи, не отправляя запрос.
	DryRun bool
	// Unit трактовка значения цены; ноль означает PriceUnitAuto.
	Unit PriceUnit
}

// PriceUpdateResult исход обновления цен. Payload это фактически
// отправленные (или готовые к отправке при DryRun) записи.
type PriceUpdateResult struct {
	DryRun   bool            `json:"dry_run,omitempty"`
	Payload  []PriceUpdate   `json:"payload"`
	Response json.RawMessage `json:"response,omitempty"`
}

// PricesQuery параметры выборки цен. Нулевые значения в запрос не попадают.
type PricesQuery struct {
	Limit  int
	Offset int
	NMIDs  []int64
}

// Ключи-синонимы записей обновления цены. Порядок важен: первый
// найденный выигрывает.
var (
	priceUpdateIDKeys    = [...]string{"nmId", "nmID", "nm_id", "nm"}
	priceUpdateValueKeys = [...]string{"price", "priceRub", "price_rub", "priceU", "price_u"}

	// priceUpdateAliasKeys ключи, которые не проходят насквозь: их
	// заменяют канонические nmId и price.
	priceUpdateAliasKeys = map[string]struct{}{
		"nmId": {}, "nmID": {}, "nm_id": {}, "nm": {},
		"price": {}, "priceRub": {}, "price_rub": {}, "priceU": {}, "price_u": {},
	}
)

// FetchPrices возвращает цены кабинета как есть, без разбора: состав
// ответа различается между поколениями API.
func (c *Client) FetchPrices(ctx context.Context, query PricesQuery) (json.RawMessage, error) {
	params := url.Values{}
	if query.Limit > 0 {
		params.Set("limit", strconv.Itoa(query.Limit))
	}
	if query.Offset > 0 {
		params.Set("offset", strconv.Itoa(query.Offset))
	}
	if len(query.NMIDs) > 0 {
		values := make([]string, 0, len(query.NMIDs))
		for _, nm := range query.NMIDs {
			values = append(values, strconv.FormatInt(nm, 10))
		}
		params.Set("nmID", strings.Join(values, ","))
	}
	return c.requestJSON(ctx, http.MethodGet, c.cfg.PricesListEndpoint, nil, params, false)
}

// UpdatePrices нормализует записи и отправляет их одним запросом.
// Любая некорректная запись отклоняет весь пакет до обращения к API.
// При DryRun возвращается нормализованный пакет без сетевого вызова.
func (c *Client) UpdatePrices(ctx context.Context, updates []PriceUpdate, opts UpdateOptions) (*PriceUpdateResult, error) {
	normalized := make([]PriceUpdate, 0, len(updates))
	for _, update := range updates {
		if len(update) == 0 {
			continue
		}
		record, err := normalizePriceUpdate(update, opts.Unit)
		if err != nil {
			return nil, err
		}
		normalized = append(normalized, record)
	}
	if len(normalized) == 0 {
		return nil, newConfigurationError("Передайте хотя бы одну запись для обновления цен Wildberries.")
	}

	if opts.DryRun {
		return &PriceUpdateResult{DryRun: true, Payload: normalized}, nil
	}

	c.log.InfoWithContext(ctx, "wildberries: обновление цен", logField("records", len(normalized)))
	raw, err := c.requestJSON(ctx, http.MethodPost, c.cfg.PricesUpdateEndpoint, normalized, nil, false)
	if err != nil {
		return nil, err
	}
	return &PriceUpdateResult{Payload: normalized, Response: raw}, nil
}

// normalizePriceUpdate приводит запись к каноническому виду: целый nmId,
// цена в копейках, скидка в диапазоне 0-99. Остальные непустые поля
// копируются без изменений.
func normalizePriceUpdate(update PriceUpdate, unit PriceUnit) (PriceUpdate, error) {
	var nmRaw interface{}
	for _, key := range priceUpdateIDKeys {
		if value, ok := update[key]; ok && truthy(value) {
			nmRaw = value
			break
		}
	}
	if nmRaw == nil {
		return nil, newConfigurationError("Отсутствует nmId/nm_id/nmID в записи обновления цены.")
	}
	nmID, err := coerceInt64(nmRaw)
	if err != nil {
		return nil, newConfigurationError("Некорректный nmId для обновления цены: %v.", nmRaw)
	}

	var priceRaw interface{}
	priceFound := false
	for _, key := range priceUpdateValueKeys {
		if value, ok := update[key]; ok && value != nil {
			priceRaw = value
			priceFound = true
			break
		}
	}
	if !priceFound {
		return nil, newConfigurationError("Отсутствует поле price/priceU для nmId %d.", nmID)
	}
	priceValue, err := coerceFloat64(priceRaw)
	if err != nil {
		return nil, newConfigurationError("Некорректное значение price для nmId %d: %v.", nmID, priceRaw)
	}
	if priceValue <= 0 {
		return nil, newConfigurationError("Цена должна быть положительной для nmId %d.", nmID)
	}

	var priceUnits int64
	if unit == PriceUnitAuto && priceValue < 1000 {
		priceUnits = int64(math.Round(priceValue * 100))
	} else {
		priceUnits = int64(math.Round(priceValue))
	}

	normalized := make(PriceUpdate, len(update)+2)
	for key, value := range update {
		if _, aliased := priceUpdateAliasKeys[key]; aliased || value == nil {
			continue
		}
		normalized[key] = value
	}
	normalized["nmId"] = nmID
	normalized["price"] = priceUnits

	if discount, ok := update["discount"]; ok && discount != nil {
		discountValue, err := coerceInt64(discount)
		if err != nil {
			return nil, newConfigurationError("Некорректное значение discount для nmId %d: %v.", nmID, discount)
		}
		if discountValue < 0 || discountValue > 99 {
			return nil, newConfigurationError("Скидка должна быть в диапазоне 0-99%%.")
		}
		normalized["discount"] = discountValue
	}

	return normalized, nil
}

// truthy пустые и нулевые значения считаются отсутствующими при выборе
// ключа-синонима идентификатора.
func truthy(value interface{}) bool {
	switch v := value.(type) {
	case nil:
		return false
	case string:
		return strings.TrimSpace(v) != ""
	case bool:
		return v
	case int:
		return v != 0
	case int32:
		return v != 0
	case int64:
		return v != 0
	case float32:
		return v != 0
	case float64:
		return v != 0
	case json.Number:
		return v.String() != "" && v.String() != "0"
	default:
		return true
	}
}

// coerceInt64 целое из значения, пришедшего из JSON или от вызывающего
// кода. Дробные числа усекаются, числовые строки разбираются.
func coerceInt64(value interface{}) (int64, error) {
	switch v := value.(type) {
	case int:
		return int64(v), nil
	case int32:
		return int64(v), nil
	case int64:
		return v, nil
	case float32:
		return int64(v), nil
	case float64:
		return int64(v), nil
	case json.Number:
		return v.Int64()
	case string:
		parsed, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return 0, err
		}
		return parsed, nil
	default:
		return 0, fmt.Errorf("unsupported integer value of type %T", value)
	}
}

func coerceFloat64(value interface{}) (float64, error) {
	switch v := value.(type) {
	case int:
		return float64(v), nil
	case int32:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case float32:
		return float64(v), nil
	case float64:
		return v, nil
	case json.Number:
		return v.Float64()
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, err
		}
		return parsed, nil
	default:
		return 0, fmt.Errorf("unsupported numeric value of type %T", value)
	}
}
