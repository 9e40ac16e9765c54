package ozon

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// Product сырой товар в том виде, в котором его отдаёт API. Списочный
// эндпоинт и эндпоинт карточек кладут разные поля, поэтому без типизации.
type Product map[string]interface{}

// VisibilityAll значение фильтра видимости «все товары кабинета».
const VisibilityAll = "ALL"

// FetchProductList выгружает список товаров (/v2/product/list) целиком,
// продвигаясь по last_id.
func (c *Client) FetchProductList(ctx context.Context, limit int, visibility string) ([]Product, error) {
	return c.fetchPaginated(ctx, ProductListEndpoint, limit, visibility)
}

// FetchProductInfoList выгружает карточки товаров (/v3/product/info/list)
// целиком. Состав полей богаче спискового эндпоинта: цены, остатки,
// изображения.
func (c *Client) FetchProductInfoList(ctx context.Context, limit int, visibility string) ([]Product, error) {
	return c.fetchPaginated(ctx, ProductInfoListEndpoint, limit, visibility)
}

// fetchPaginated общий цикл пагинации по last_id. Страницы читаются, пока
// ответ даёт непустую партию и продвигающийся last_id; потолок итераций
// c.maxPages страхует от зацикливания на неподвижном курсоре.
func (c *Client) fetchPaginated(ctx context.Context, endpoint string, limit int, visibility string) ([]Product, error) {
	if limit <= 0 {
		limit = DefaultPageLimit
	}
	if visibility == "" {
		visibility = VisibilityAll
	}

	var items []Product
	lastID := ""

	for page := 0; page < c.maxPages; page++ {
		payload := map[string]interface{}{
			"filter": map[string]interface{}{"visibility": visibility},
			"limit":  limit,
		}
		if lastID != "" {
			payload["last_id"] = lastID
		}

		raw, err := c.requestJSON(ctx, http.MethodPost, endpoint, payload)
		if err != nil {
			return nil, err
		}

		var envelope map[string]interface{}
		if err := json.Unmarshal(raw, &envelope); err != nil {
			break
		}
		batch := extractItems(envelope)
		if len(batch) == 0 {
			break
		}
		items = append(items, batch...)
		c.log.DebugWithContext(ctx, "ozon: получена страница товаров",
			logField("endpoint", endpoint),
			logField("items", len(batch)),
			logField("total", len(items)))

		hasNext, nextLastID := extractPagination(envelope, len(batch) >= limit)
		if !hasNext || nextLastID == "" || nextLastID == lastID {
			break
		}
		lastID = nextLastID
	}

	return items, nil
}

// extractItems достаёт партию товаров из ответа. Эндпоинты разных
// поколений кладут её в items, result.items или result.products.
func extractItems(payload map[string]interface{}) []Product {
	if batch := toProducts(payload["items"]); batch != nil {
		return batch
	}
	if result, ok := payload["result"].(map[string]interface{}); ok {
		if batch := toProducts(result["items"]); batch != nil {
			return batch
		}
		if batch := toProducts(result["products"]); batch != nil {
			return batch
		}
	}
	return nil
}

func toProducts(value interface{}) []Product {
	list, ok := value.([]interface{})
	if !ok {
		return nil
	}
	items := make([]Product, 0, len(list))
	for _, entry := range list {
		if item, ok := entry.(map[string]interface{}); ok {
			items = append(items, Product(item))
		}
	}
	return items
}

// extractPagination решает, есть ли следующая страница, и с каким last_id
// её запрашивать. Флаг has_next и курсор могут лежать на верхнем уровне
// или внутри result; курсор зовётся last_id либо next_page_id. Когда флага
// нет, полнота текущей партии служит эвристикой продолжения.
func extractPagination(payload map[string]interface{}, fullPage bool) (bool, string) {
	containers := []map[string]interface{}{payload}
	if result, ok := payload["result"].(map[string]interface{}); ok {
		containers = append(containers, result)
	}

	var hasNextFlag *bool
	nextLastID := ""
	for _, container := range containers {
		if flag, ok := container["has_next"].(bool); ok && hasNextFlag == nil {
			value := flag
			hasNextFlag = &value
		}
		for _, key := range []string{"last_id", "next_page_id"} {
			if cursor := stringifyCursor(container[key]); cursor != "" {
				nextLastID = cursor
				break
			}
		}
	}

	if nextLastID != "" {
		hasMore := fullPage
		if hasNextFlag != nil {
			hasMore = *hasNextFlag
		}
		if !hasMore {
			return false, ""
		}
		return true, nextLastID
	}
	if hasNextFlag != nil {
		return *hasNextFlag, ""
	}
	return false, ""
}

// stringifyCursor приводит курсор к строке: API отдаёт его то строкой,
// то числом.
func stringifyCursor(value interface{}) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case float64:
		if v == 0 {
			return ""
		}
		return fmt.Sprintf("%.0f", v)
	case json.Number:
		if v.String() == "0" {
			return ""
		}
		return v.String()
	default:
		return fmt.Sprint(v)
	}
}
