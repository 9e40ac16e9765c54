package services

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/athebyme/gomarket-platform/marketplace-service/internal/domain/models"
	"github.com/athebyme/gomarket-platform/marketplace-service/internal/gateway/ozon"
	"github.com/athebyme/gomarket-platform/marketplace-service/internal/gateway/wb"
	base "github.com/athebyme/gomarket-platform/marketplace-service/pkg/models"
)

// Порядок ключей при нормализации ответов маркетплейсов. Первый
// найденный выигрывает, поэтому порядок менять нельзя.
var (
	wbPriceKeys = []string{"price", "priceU", "basicPrice", "salePriceU"}

	ozonContainerPriceKeys = []string{"price", "price_with_discount", "marketing_price", "min_price", "old_price"}
	ozonFlatPriceKeys      = []string{"price", "min_price", "old_price"}
	ozonImageDictKeys      = []string{"url", "file_name", "preview"}
)

// NormalizeWBCard приводит карточку Wildberries к снимку листинга.
// Карточка без числового артикула (nmID и синонимы) непригодна для
// сопоставления и отбрасывается: вторым значением вернётся false.
func NormalizeWBCard(tenantID string, card wb.Card) (*models.ListingSnapshot, bool) {
	nmRaw := chainOr(card["nmID"], card["nmId"], card["nmid"], card["nm"])
	if nmRaw == nil {
		return nil, false
	}
	nmID, ok := toInt64(nmRaw)
	if !ok {
		return nil, false
	}

	title := ""
	if raw := chainOr(card["title"], card["name"], card["object"], card["vendorCode"]); raw != nil {
		title = stringify(raw)
	}

	brand := ""
	if raw, present := card["brand"]; present && raw != nil {
		brand = stringify(raw)
	}

	// Контентный API не всегда отдаёт цену; пробуем известные поля.
	// Поля с суффиксом U исторически содержат копейки.
	var price *float64
	for _, key := range wbPriceKeys {
		raw, present := card[key]
		if !present || raw == nil {
			continue
		}
		value, ok := toFloat(raw)
		if !ok {
			continue
		}
		if strings.HasSuffix(key, "U") && value > 1000 {
			value = value / 100.0
		}
		price = &value
		break
	}

	stock := sumWBStocks(card["sizes"])

	var imageURLs []string
	media := chainOr(card["mediaFiles"], card["photos"])
	if list, ok := media.([]interface{}); ok {
		for _, entry := range list {
			if !truthy(entry) {
				continue
			}
			if dict, ok := entry.(map[string]interface{}); ok {
				if s, ok := chainOr(dict["big"], dict["url"], dict["img"]).(string); ok && s != "" {
					imageURLs = append(imageURLs, s)
				}
				continue
			}
			if s := stringify(entry); s != "" {
				imageURLs = append(imageURLs, s)
			}
		}
	}

	extra, _ := json.Marshal(card)

	return &models.ListingSnapshot{
		TenantID:        tenantID,
		Source:          base.SourceWildberries,
		ExternalKey:     strconv.FormatInt(nmID, 10),
		ExternalKeyType: models.ExternalKeyTypeWBNmID,
		NMID:            nmID,
		Title:           title,
		Brand:           brand,
		Price:           price,
		Stock:           &stock,
		ImageURLs:       imageURLs,
		Extra:           extra,
	}, true
}

// sumWBStocks складывает остатки по всем размерам карточки.
// Некорректные элементы пропускаются.
func sumWBStocks(rawSizes interface{}) int64 {
	var total int64
	sizes, ok := rawSizes.([]interface{})
	if !ok {
		return 0
	}
	for _, rawSize := range sizes {
		size, ok := rawSize.(map[string]interface{})
		if !ok {
			continue
		}
		stocks, ok := size["stocks"].([]interface{})
		if !ok {
			continue
		}
		for _, rawStock := range stocks {
			stock, ok := rawStock.(map[string]interface{})
			if !ok {
				continue
			}
			qty, present := stock["qty"]
			if !present || qty == nil {
				continue
			}
			if value, ok := toInt64(qty); ok {
				total += value
			}
		}
	}
	return total
}

// NormalizeOzonProduct собирает снимок листинга Ozon из пары записей:
// списочной (product/list) и карточки (product/info/list). Любая из них
// может отсутствовать. Запись без product_id и offer_id сопоставить не с
// чем, вторым значением вернётся false.
func NormalizeOzonProduct(tenantID string, listItem, infoItem ozon.Product) (*models.ListingSnapshot, bool) {
	if listItem == nil {
		listItem = ozon.Product{}
	}
	if infoItem == nil {
		infoItem = ozon.Product{}
	}

	productID := chainOr(listItem["product_id"], infoItem["product_id"])
	offerID := chainOr(listItem["offer_id"], infoItem["offer_id"])
	sku := chainOr(listItem["sku"], infoItem["sku"], infoItem["fbs_sku"], infoItem["fbo_sku"])

	var externalKey, externalKeyType string
	switch {
	case productID != nil:
		externalKey = stringify(productID)
		externalKeyType = models.ExternalKeyTypeOzonProductID
	case offerID != nil:
		externalKey = stringify(offerID)
		externalKeyType = models.ExternalKeyTypeOzonOfferID
	default:
		return nil, false
	}

	title := ""
	if raw := chainOr(infoItem["name"], listItem["name"], infoItem["title"], infoItem["product_name"], offerID); raw != nil {
		title = stringify(raw)
	}

	brand := ""
	if raw := chainOr(infoItem["brand_name"], infoItem["brand"], listItem["brand"]); raw != nil {
		brand = stringify(raw)
	}

	// Цена живёт либо во вложенном объекте price, либо плоско в карточке.
	var price *float64
	if container, ok := infoItem["price"].(map[string]interface{}); ok {
		for _, key := range ozonContainerPriceKeys {
			if value, ok := safeFloat(container[key]); ok {
				price = &value
				break
			}
		}
	}
	if price == nil {
		for _, key := range ozonFlatPriceKeys {
			if value, ok := safeFloat(infoItem[key]); ok {
				price = &value
				break
			}
		}
	}

	// Остаток известен, только если stocks содержит хотя бы одно
	// разбираемое поле present. Иначе nil: маркетплейс не отдал данные.
	var stock *int64
	if stocks, ok := infoItem["stocks"].([]interface{}); ok {
		var total int64
		hasData := false
		for _, rawEntry := range stocks {
			entry, ok := rawEntry.(map[string]interface{})
			if !ok {
				continue
			}
			if qty, ok := safeInt(entry["present"]); ok {
				total += qty
				hasData = true
			}
		}
		if hasData {
			stock = &total
		}
	}

	extra, _ := json.Marshal(map[string]interface{}{
		"list_item": listItem,
		"info_item": infoItem,
	})

	snapshot := &models.ListingSnapshot{
		TenantID:        tenantID,
		Source:          base.SourceOzon,
		ExternalKey:     externalKey,
		ExternalKeyType: externalKeyType,
		Title:           title,
		Brand:           brand,
		Price:           price,
		Stock:           stock,
		ImageURLs:       collectOzonImages(infoItem),
		Extra:           extra,
	}
	if productID != nil {
		snapshot.ProductID = stringify(productID)
	}
	if offerID != nil {
		snapshot.OfferID = stringify(offerID)
	}
	if sku != nil {
		snapshot.SKU = stringify(sku)
	}
	return snapshot, true
}

// collectOzonImages собирает ссылки на изображения карточки: сначала
// список images (строки или объекты), затем primary_image/image в начало,
// если её там ещё нет.
func collectOzonImages(infoItem ozon.Product) []string {
	var images []string
	if raw, ok := infoItem["images"].([]interface{}); ok {
		for _, img := range raw {
			switch typed := img.(type) {
			case string:
				if trimmed := strings.TrimSpace(typed); trimmed != "" {
					images = append(images, trimmed)
				}
			case map[string]interface{}:
				for _, key := range ozonImageDictKeys {
					if value, ok := typed[key].(string); ok && strings.TrimSpace(value) != "" {
						images = append(images, strings.TrimSpace(value))
						break
					}
				}
			}
		}
	}

	if primary, ok := chainOr(infoItem["primary_image"], infoItem["image"]).(string); ok {
		trimmed := strings.TrimSpace(primary)
		if trimmed != "" && !containsString(images, trimmed) {
			images = append([]string{trimmed}, images...)
		}
	}
	return images
}

// MergeOzonProducts сопоставляет списочные записи с карточками по
// product_id (запасной вариант offer_id) и нормализует пары. Карточки,
// не встретившиеся ни одной списочной записи, добавляются отдельными
// снимками. Дубликаты по составному ключу отбрасываются.
func MergeOzonProducts(tenantID string, listItems, infoItems []ozon.Product) []*models.ListingSnapshot {
	infoByProductID := make(map[string]ozon.Product, len(infoItems))
	infoByOfferID := make(map[string]ozon.Product, len(infoItems))
	for _, info := range infoItems {
		if pid, present := info["product_id"]; present && pid != nil {
			infoByProductID[stringify(pid)] = info
		}
		if offer := info["offer_id"]; truthy(offer) {
			infoByOfferID[stringify(offer)] = info
		}
	}

	type compositeKey struct {
		source          string
		externalKey     string
		externalKeyType string
	}

	snapshots := make([]*models.ListingSnapshot, 0, len(listItems))
	seen := make(map[compositeKey]struct{}, len(listItems))

	for _, item := range listItems {
		var info ozon.Product
		if pid, present := item["product_id"]; present && pid != nil {
			info = infoByProductID[stringify(pid)]
		}
		if info == nil {
			if offer := item["offer_id"]; truthy(offer) {
				info = infoByOfferID[stringify(offer)]
			}
		}

		snapshot, ok := NormalizeOzonProduct(tenantID, item, info)
		if !ok {
			continue
		}
		seen[compositeKey{snapshot.Source, snapshot.ExternalKey, snapshot.ExternalKeyType}] = struct{}{}
		snapshots = append(snapshots, snapshot)
	}

	for _, info := range infoItems {
		snapshot, ok := NormalizeOzonProduct(tenantID, nil, info)
		if !ok {
			continue
		}
		key := compositeKey{snapshot.Source, snapshot.ExternalKey, snapshot.ExternalKeyType}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		snapshots = append(snapshots, snapshot)
	}

	return snapshots
}

// chainOr возвращает первое непустое значение, иначе последнее из
// перечисленных. Повторяет поведение цепочек запасных ключей в ответах
// маркетплейсов, где ноль и пустая строка равнозначны отсутствию.
func chainOr(values ...interface{}) interface{} {
	for _, v := range values {
		if truthy(v) {
			return v
		}
	}
	if len(values) == 0 {
		return nil
	}
	return values[len(values)-1]
}

// truthy сообщает, считается ли JSON-значение непустым: nil, false, ноль,
// пустая строка и пустые контейнеры считаются пустыми.
func truthy(v interface{}) bool {
	switch typed := v.(type) {
	case nil:
		return false
	case bool:
		return typed
	case string:
		return typed != ""
	case float64:
		return typed != 0
	case int:
		return typed != 0
	case int64:
		return typed != 0
	case json.Number:
		f, err := typed.Float64()
		return err == nil && f != 0
	case []interface{}:
		return len(typed) > 0
	case map[string]interface{}:
		return len(typed) > 0
	}
	return true
}

// stringify приводит JSON-значение к строке. Целые числа из JSON
// декодируются как float64, поэтому форматирование без хвоста ".0".
func stringify(v interface{}) string {
	switch typed := v.(type) {
	case nil:
		return ""
	case string:
		return typed
	case float64:
		return strconv.FormatFloat(typed, 'f', -1, 64)
	case json.Number:
		return typed.String()
	case bool:
		return strconv.FormatBool(typed)
	default:
		return fmt.Sprintf("%v", typed)
	}
}

// toFloat числовое значение из JSON, строки разбираются как есть.
func toFloat(v interface{}) (float64, bool) {
	switch typed := v.(type) {
	case float64:
		return typed, true
	case int:
		return float64(typed), true
	case int64:
		return float64(typed), true
	case json.Number:
		f, err := typed.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(typed), 64)
		return f, err == nil
	case bool:
		if typed {
			return 1, true
		}
		return 0, true
	}
	return 0, false
}

// toInt64 целое из JSON-значения; дробные числа усекаются, строка
// должна быть целой.
func toInt64(v interface{}) (int64, bool) {
	switch typed := v.(type) {
	case float64:
		return int64(typed), true
	case int:
		return int64(typed), true
	case int64:
		return typed, true
	case json.Number:
		if i, err := typed.Int64(); err == nil {
			return i, true
		}
		if f, err := typed.Float64(); err == nil {
			return int64(f), true
		}
		return 0, false
	case string:
		i, err := strconv.ParseInt(strings.TrimSpace(typed), 10, 64)
		return i, err == nil
	case bool:
		if typed {
			return 1, true
		}
		return 0, true
	}
	return 0, false
}

// safeFloat осторожный разбор цены: булевы значения отвергаются, строки
// чистятся от пробелов, запятая понимается как десятичный разделитель.
func safeFloat(v interface{}) (float64, bool) {
	switch typed := v.(type) {
	case nil:
		return 0, false
	case bool:
		return 0, false
	case float64:
		return typed, true
	case int:
		return float64(typed), true
	case int64:
		return float64(typed), true
	case json.Number:
		f, err := typed.Float64()
		return f, err == nil
	case string:
		stripped := strings.ReplaceAll(strings.TrimSpace(typed), " ", "")
		if stripped == "" {
			return 0, false
		}
		f, err := strconv.ParseFloat(strings.ReplaceAll(stripped, ",", "."), 64)
		return f, err == nil
	}
	return 0, false
}

// safeInt осторожный разбор остатка: дробные значения без целой
// эквивалентности отвергаются, строки с разделителем усекаются.
func safeInt(v interface{}) (int64, bool) {
	switch typed := v.(type) {
	case nil:
		return 0, false
	case bool:
		if typed {
			return 1, true
		}
		return 0, true
	case int:
		return int64(typed), true
	case int64:
		return typed, true
	case float64:
		if typed == math.Trunc(typed) {
			return int64(typed), true
		}
		return 0, false
	case json.Number:
		if i, err := typed.Int64(); err == nil {
			return i, true
		}
		if f, err := typed.Float64(); err == nil && f == math.Trunc(f) {
			return int64(f), true
		}
		return 0, false
	case string:
		stripped := strings.TrimSpace(typed)
		if stripped == "" {
			return 0, false
		}
		if strings.ContainsAny(stripped, ".,") {
			f, err := strconv.ParseFloat(strings.ReplaceAll(stripped, ",", "."), 64)
			if err != nil {
				return 0, false
			}
			return int64(f), true
		}
		i, err := strconv.ParseInt(stripped, 10, 64)
		return i, err == nil
	}
	return 0, false
}

func containsString(list []string, value string) bool {
	for _, entry := range list {
		if entry == value {
			return true
		}
	}
	return false
}
