package wb

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// HTTPClient минимальная поверхность http-клиента. Позволяет подменять
// транспорт в тестах, не поднимая сетевой стек.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// attemptResult исход одной доставленной попытки: ответ дочитан и закрыт.
type attemptResult struct {
	status int
	url    string
	header http.Header
	body   []byte
}

// requestJSON выполняет запрос с перебором вариантов авторизации и
// возвращает сырое тело успешного ответа. Сетевые повторы живут уровнем
// ниже, в doWithRetry: смена заголовка авторизации — это новый запрос
// с тем же телом, а не повтор неудавшегося.
func (c *Client) requestJSON(ctx context.Context, method, endpoint string, body interface{}, query url.Values, useContentAPI bool) (json.RawMessage, error) {
	reqURL := c.cfg.BuildURL(endpoint, useContentAPI)
	if len(query) > 0 {
		reqURL += "?" + query.Encode()
	}

	var payload []byte
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, newConfigurationError("cannot encode the request body for %s: %v", endpoint, err)
		}
		payload = encoded
	}

	order := c.auth.sequence()
	attempted := make([]string, 0, len(order))

	for position, authIndex := range order {
		variant := c.auth.variant(authIndex)

		res, err := c.doWithRetry(ctx, method, reqURL, payload, variant)
		if err != nil {
			return nil, err
		}

		if res.status < http.StatusBadRequest {
			c.auth.markSuccess(authIndex)
			c.log.DebugWithContext(ctx, "wildberries: запрос выполнен",
				logField("url", reqURL),
				logField("auth_variant", variant.Label),
				logField("status", res.status))
			return res.body, nil
		}

		if res.status == http.StatusUnauthorized || res.status == http.StatusForbidden {
			attempted = append(attempted, variant.Label)
			if position+1 < len(order) {
				c.auth.markRejected()
				c.log.DebugWithContext(ctx, "wildberries: вариант авторизации отклонён, пробуем следующий",
					logField("auth_variant", variant.Label),
					logField("status", res.status))
				continue
			}
			return nil, c.httpError(res.status, res.url, res.header, res.body, attempted)
		}

		return nil, c.httpError(res.status, res.url, res.header, res.body, nil)
	}

	// Недостижимо: негоциатор без вариантов не создаётся.
	return nil, &Error{Kind: KindHTTP, URL: reqURL, Message: c.withLegacyWarning("the Wildberries API request was never sent.")}
}

// doWithRetry отправляет запрос с ограниченными повторами на сетевых
// сбоях, 429 и 5xx. Остальные статусы возвращаются сразу: их повтор
// не изменит исход. Задержка экспоненциальная, Retry-After на 429
// имеет приоритет. Исчерпанные повторы на 429/5xx возвращают последний
// ответ, классификация остаётся за вызывающим.
func (c *Client) doWithRetry(ctx context.Context, method, reqURL string, payload []byte, variant AuthVariant) (*attemptResult, error) {
	var lastRes *attemptResult
	var lastErr error

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			delay := c.backoffDelay(attempt - 1)
			if lastRes != nil && lastRes.status == http.StatusTooManyRequests {
				if retryAfter := parseRetryAfter(lastRes.header.Get("Retry-After")); retryAfter > 0 {
					delay = retryAfter
				}
			}
			c.log.DebugWithContext(ctx, "wildberries: повтор запроса",
				logField("url", reqURL),
				logField("attempt", attempt),
				logField("delay", delay.String()))
			if err := sleepContext(ctx, delay); err != nil {
				return nil, c.classifyTransportError(err, reqURL)
			}
		}

		res, err := c.do(ctx, method, reqURL, payload, variant)
		if err != nil {
			lastErr = err
			lastRes = nil
			continue
		}
		if res.status == http.StatusTooManyRequests || res.status >= http.StatusInternalServerError {
			lastRes = res
			lastErr = nil
			continue
		}
		return res, nil
	}

	if lastErr != nil {
		return nil, c.classifyTransportError(lastErr, reqURL)
	}
	return lastRes, nil
}

// do одна попытка: лимитер, запрос, вычитанное тело.
func (c *Client) do(ctx context.Context, method, reqURL string, payload []byte, variant AuthVariant) (*attemptResult, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, reqURL, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(variant.Header, variant.Value)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	resURL := reqURL
	if resp.Request != nil && resp.Request.URL != nil {
		resURL = resp.Request.URL.String()
	}
	return &attemptResult{status: resp.StatusCode, url: resURL, header: resp.Header, body: data}, nil
}

// backoffDelay задержка перед повтором номер attempt (с нуля):
// backoffFactor * 2^attempt секунд.
func (c *Client) backoffDelay(attempt int) time.Duration {
	if c.backoffFactor <= 0 {
		return 0
	}
	return time.Duration(c.backoffFactor * float64(uint64(1)<<uint(attempt)) * float64(time.Second))
}

// parseRetryAfter понимает обе формы заголовка: секунды и HTTP-дату.
func parseRetryAfter(value string) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(value); err == nil {
		if seconds <= 0 {
			return 0
		}
		return time.Duration(seconds) * time.Second
	}
	if when, err := http.ParseTime(value); err == nil {
		if delay := time.Until(when); delay > 0 {
			return delay
		}
	}
	return 0
}

// sleepContext ждёт delay, прерываясь по отмене контекста.
func sleepContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// decodeJSON нестрогий разбор тела: пустое или некорректное тело
// приравнивается к пустому ответу, target остаётся нулевым.
func decodeJSON(data []byte, target interface{}) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return
	}
	_ = json.Unmarshal(trimmed, target)
}

// newHTTPTransport стандартный транспорт с раздельными таймаутами
// установки соединения и чтения ответа.
func newHTTPTransport(connectTimeout, readTimeout time.Duration) *http.Client {
	dialer := &net.Dialer{Timeout: connectTimeout}
	return &http.Client{
		Transport: &http.Transport{
			DialContext:           dialer.DialContext,
			TLSHandshakeTimeout:   connectTimeout,
			ResponseHeaderTimeout: readTimeout,
			MaxIdleConns:          10,
			MaxIdleConnsPerHost:   5,
			IdleConnTimeout:       90 * time.Second,
		},
	}
}
