package wb

import (
	"context"
	"net/http"
)

// Card сырая карточка каталога в том виде, в котором её отдаёт API.
// Состав полей зависит от поколения API и категории товара, поэтому
// карточка не типизируется; разбором занимается доменный слой.
type Card map[string]interface{}

// cardsV2Response ответ курсорного листинга текущего поколения.
// Карточки и следующий курсор лежат внутри контейнера data.
type cardsV2Response struct {
	Data struct {
		Cards  []Card `json:"cards"`
		Cursor struct {
			UpdatedAt string `json:"updatedAt"`
			NMID      int64  `json:"nmID"`
		} `json:"cursor"`
	} `json:"data"`
}

// cardsV1Response ответ устаревшего листинга без курсора.
type cardsV1Response struct {
	Data struct {
		Cards []Card `json:"cards"`
	} `json:"data"`
}

// cardsV2Payload тело курсорного запроса. Пустые значения курсора
// опускаются: первый запрос страницы идёт без updatedAt и nmID.
func cardsV2Payload(limit int, updatedAt string, nmIDCursor int64) map[string]interface{} {
	cursor := map[string]interface{}{"limit": limit}
	if updatedAt != "" {
		cursor["updatedAt"] = updatedAt
	}
	if nmIDCursor > 0 {
		cursor["nmID"] = nmIDCursor
	}
	return map[string]interface{}{
		"settings": map[string]interface{}{
			"cursor": cursor,
			"filter": map[string]interface{}{},
		},
	}
}

// fetchCardsV2 одна страница курсорного листинга. Возвращает карточки и
// курсор следующей страницы из ответа.
func (c *Client) fetchCardsV2(ctx context.Context, limit int, updatedAt string, nmIDCursor int64) ([]Card, string, int64, error) {
	raw, err := c.requestJSON(ctx, http.MethodPost, c.cfg.CardsV2Endpoint, cardsV2Payload(limit, updatedAt, nmIDCursor), nil, true)
	if err != nil {
		return nil, "", 0, err
	}

	var parsed cardsV2Response
	decodeJSON(raw, &parsed)
	return parsed.Data.Cards, parsed.Data.Cursor.UpdatedAt, parsed.Data.Cursor.NMID, nil
}

// fetchCardsCursorV1 одиночный запрос к листингу первого поколения.
// Используется как запасной путь для кабинетов, которым контентное API
// текущего поколения отдаёт пустой каталог.
func (c *Client) fetchCardsCursorV1(ctx context.Context, limit int, updatedAt string, nmIDCursor int64) ([]Card, error) {
	cursor := map[string]interface{}{}
	if updatedAt != "" {
		cursor["updatedAt"] = updatedAt
	}
	if nmIDCursor > 0 {
		cursor["nmID"] = nmIDCursor
	}
	payload := map[string]interface{}{
		"sort":       map[string]interface{}{"sortBy": "updateAt", "order": "asc"},
		"supplierID": 0,
		"limit":      limit,
		"filter":     map[string]interface{}{},
	}
	if len(cursor) > 0 {
		payload["cursor"] = cursor
	} else {
		payload["cursor"] = nil
	}

	raw, err := c.requestJSON(ctx, http.MethodPost, c.cfg.CardsCursorV1Endpoint, payload, nil, true)
	if err != nil {
		return nil, err
	}

	var parsed cardsV1Response
	decodeJSON(raw, &parsed)
	return parsed.Data.Cards, nil
}

// FetchAllCards выгружает каталог целиком через курсорный листинг.
// Страницы читаются, пока не придёт пустая или неполная; потолок итераций
// c.maxPages страхует от курсора, который не продвигается. Если курсорный
// листинг не вернул ничего, выполняется ровно один запрос к устаревшему
// листингу. Дедупликации нет: застрявший на стороне API курсор может дать
// повторы, это решает доменный слой.
func (c *Client) FetchAllCards(ctx context.Context, limit int) ([]Card, error) {
	if limit <= 0 {
		limit = DefaultPageLimit
	}

	var all []Card
	var updatedAt string
	var nmIDCursor int64
	pages := 0

	for pages < c.maxPages {
		cards, nextUpdatedAt, nextNMID, err := c.fetchCardsV2(ctx, limit, updatedAt, nmIDCursor)
		if err != nil {
			return nil, err
		}
		pages++
		if len(cards) == 0 {
			break
		}
		all = append(all, cards...)
		c.log.DebugWithContext(ctx, "wildberries: получена страница каталога",
			logField("page", pages),
			logField("cards", len(cards)),
			logField("total", len(all)))
		if len(cards) < limit {
			break
		}
		updatedAt = nextUpdatedAt
		nmIDCursor = nextNMID
	}

	if len(all) == 0 {
		c.log.DebugWithContext(ctx, "wildberries: курсорный листинг пуст, пробуем устаревший листинг")
		cards, err := c.fetchCardsCursorV1(ctx, limit, "", 0)
		if err != nil {
			return nil, err
		}
		all = append(all, cards...)
	}

	c.log.InfoWithContext(ctx, "wildberries: выгрузка каталога завершена",
		logField("cards", len(all)),
		logField("pages", pages))
	return all, nil
}
