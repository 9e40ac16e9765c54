package ozon

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/athebyme/gomarket-platform/marketplace-service/pkg/interfaces"
	"golang.org/x/time/rate"
)

// Параметры клиента Ozon Seller API по умолчанию.
const (
	DefaultBaseURL    = "https://api-seller.ozon.ru"
	DefaultTimeout    = 30 * time.Second
	DefaultMaxRetries = 3

	// DefaultPageLimit размер страницы при выгрузке товаров.
	DefaultPageLimit = 100
	// DefaultMaxPages предохранитель от last_id, который не продвигается.
	DefaultMaxPages = 1000

	ProductListEndpoint     = "/v2/product/list"
	ProductInfoListEndpoint = "/v3/product/info/list"

	// maxStatusResponseKeys столько верхнеуровневых ключей ответа попадает
	// в диагностику соединения.
	maxStatusResponseKeys = 5

	// Повторы при сетевых сбоях и 5xx: задержка удваивается от базы до потолка.
	retryBackoffBase = time.Second
	retryBackoffCap  = 30 * time.Second
)

// ErrorKind вид сбоя при обращении к Ozon Seller API.
type ErrorKind int

const (
	KindConfiguration ErrorKind = iota
	KindNetwork
	KindAuth
	KindRateLimited
	KindHTTP
)

func (k ErrorKind) String() string {
	switch k {
	case KindConfiguration:
		return "configuration"
	case KindNetwork:
		return "network"
	case KindAuth:
		return "auth"
	case KindRateLimited:
		return "rate_limited"
	case KindHTTP:
		return "http"
	}
	return "unknown"
}

// Error диагностика сбоя Ozon Seller API, сообщение самодостаточно.
type Error struct {
	Kind       ErrorKind
	StatusCode int
	URL        string
	Message    string
}

func (e *Error) Error() string { return e.Message }

// IsKind сообщает, относится ли err (или обёртка над ней) к данному виду.
func IsKind(err error, kind ErrorKind) bool {
	var gwErr *Error
	return errors.As(err, &gwErr) && gwErr.Kind == kind
}

func newConfigurationError(format string, args ...interface{}) *Error {
	return &Error{Kind: KindConfiguration, Message: fmt.Sprintf(format, args...)}
}

// HTTPClient минимальная поверхность http-клиента для подмены в тестах.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Config настройки клиента Ozon Seller API. Авторизация парой
// Client-Id/Api-Key, оба значения обязательны.
type Config struct {
	BaseURL  string
	ClientID string
	APIKey   string
}

// Client клиент Ozon Seller API. Потокобезопасен.
type Client struct {
	cfg Config

	httpClient HTTPClient
	log        interfaces.LoggerPort
	limiter    *rate.Limiter

	maxRetries  int
	maxPages    int
	timeout     time.Duration
	backoffBase time.Duration
	backoffCap  time.Duration
}

// Option настройка клиента при создании.
type Option func(*Client)

// WithHTTPClient подменяет транспорт; WithTimeout при этом не применяется.
func WithHTTPClient(httpClient HTTPClient) Option {
	return func(c *Client) { c.httpClient = httpClient }
}

// WithTimeout задаёт общий таймаут запроса для транспорта по умолчанию.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.timeout = timeout
		}
	}
}

// WithMaxRetries задаёт общее число попыток запроса (не меньше одной).
func WithMaxRetries(retries int) Option {
	return func(c *Client) {
		if retries > 0 {
			c.maxRetries = retries
		}
	}
}

// WithMaxPages меняет предохранительный потолок итераций пагинации.
func WithMaxPages(pages int) Option {
	return func(c *Client) {
		if pages > 0 {
			c.maxPages = pages
		}
	}
}

// WithRateLimit включает локальный лимитер запросов.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *Client) {
		if rps > 0 && burst > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
		}
	}
}

// WithBackoff меняет базу и потолок задержки между повторами.
func WithBackoff(base, cap time.Duration) Option {
	return func(c *Client) {
		if base >= 0 {
			c.backoffBase = base
		}
		if cap > 0 {
			c.backoffCap = cap
		}
	}
}

// NewClient собирает клиент Ozon Seller API.
func NewClient(cfg Config, log interfaces.LoggerPort, opts ...Option) (*Client, error) {
	if strings.TrimSpace(cfg.ClientID) == "" || strings.TrimSpace(cfg.APIKey) == "" {
		return nil, newConfigurationError("Ozon Client-Id and Api-Key are required")
	}
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	parsed, err := url.Parse(cfg.BaseURL)
	if err != nil || parsed.Host == "" || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return nil, newConfigurationError("the Ozon base URL must be an absolute http(s) address")
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	if log == nil {
		return nil, newConfigurationError("the Ozon client requires a logger")
	}

	client := &Client{
		cfg:         cfg,
		log:         log,
		maxRetries:  DefaultMaxRetries,
		maxPages:    DefaultMaxPages,
		timeout:     DefaultTimeout,
		backoffBase: retryBackoffBase,
		backoffCap:  retryBackoffCap,
	}
	for _, opt := range opts {
		opt(client)
	}
	if client.httpClient == nil {
		client.httpClient = &http.Client{Timeout: client.timeout}
	}
	return client, nil
}

// Config возвращает нормализованную конфигурацию клиента.
func (c *Client) Config() Config {
	return c.cfg
}

// ConnectionStatus диагностика доступа к Seller API: какой хост настроен
// и как выглядит ответ минимального запроса.
type ConnectionStatus struct {
	Status       string   `json:"status"`
	BaseURL      string   `json:"base_url"`
	ClientID     string   `json:"client_id"`
	ResponseKeys []string `json:"response_keys,omitempty"`
}

// CheckConnection выполняет минимальный списочный запрос (одна позиция)
// и возвращает диагностику. Ошибка несёт уже классифицированную причину.
func (c *Client) CheckConnection(ctx context.Context) (*ConnectionStatus, error) {
	payload := map[string]interface{}{
		"filter": map[string]interface{}{"visibility": VisibilityAll},
		"limit":  1,
	}
	raw, err := c.requestJSON(ctx, http.MethodPost, ProductListEndpoint, payload)
	if err != nil {
		return nil, err
	}

	var body map[string]json.RawMessage
	_ = json.Unmarshal(raw, &body)
	keys := make([]string, 0, len(body))
	for key := range body {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	if len(keys) > maxStatusResponseKeys {
		keys = keys[:maxStatusResponseKeys]
	}

	return &ConnectionStatus{
		Status:       "ok",
		BaseURL:      c.cfg.BaseURL,
		ClientID:     c.cfg.ClientID,
		ResponseKeys: keys,
	}, nil
}

// requestJSON выполняет запрос с ограниченными повторами на сетевых сбоях
// и 5xx. Остальные статусы классифицируются сразу. Тело успешного ответа
// возвращается сырым.
func (c *Client) requestJSON(ctx context.Context, method, path string, body interface{}) (json.RawMessage, error) {
	reqURL := c.cfg.BaseURL + path

	var payload []byte
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, newConfigurationError("cannot encode the request body for %s: %v", path, err)
		}
		payload = encoded
	}

	backoff := c.backoffBase
	var lastStatus int
	var lastBody []byte
	var lastErr error

	for attempt := 0; attempt < c.maxRetries; attempt++ {
		if attempt > 0 {
			c.log.DebugWithContext(ctx, "ozon: повтор запроса",
				logField("url", reqURL),
				logField("attempt", attempt),
				logField("delay", backoff.String()))
			if err := sleepContext(ctx, backoff); err != nil {
				return nil, c.classifyTransportError(err, reqURL)
			}
			backoff *= 2
			if backoff > c.backoffCap {
				backoff = c.backoffCap
			}
		}

		status, respBody, err := c.do(ctx, method, reqURL, payload)
		if err != nil {
			lastErr = err
			continue
		}
		if status >= http.StatusInternalServerError {
			lastStatus, lastBody, lastErr = status, respBody, nil
			continue
		}
		if status >= http.StatusBadRequest {
			return nil, c.httpError(status, reqURL, respBody)
		}
		return respBody, nil
	}

	if lastErr != nil {
		return nil, c.classifyTransportError(lastErr, reqURL)
	}
	return nil, c.httpError(lastStatus, reqURL, lastBody)
}

// do одна попытка: лимитер, заголовки авторизации, вычитанное тело.
func (c *Client) do(ctx context.Context, method, reqURL string, payload []byte) (int, []byte, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return 0, nil, err
		}
	}

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, reqURL, body)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Client-Id", c.cfg.ClientID)
	req.Header.Set("Api-Key", c.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, err
	}
	return resp.StatusCode, data, nil
}

// classifyTransportError переводит ошибку транспорта в *Error с хостом в тексте.
func (c *Client) classifyTransportError(err error, rawURL string) *Error {
	host := hostFromURL(rawURL)

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return &Error{Kind: KindNetwork, URL: rawURL,
			Message: fmt.Sprintf("cannot resolve host `%s`; check the Ozon base URL configuration.", host)}
	}

	var netErr net.Error
	if (errors.As(err, &netErr) && netErr.Timeout()) || errors.Is(err, context.DeadlineExceeded) {
		return &Error{Kind: KindNetwork, URL: rawURL,
			Message: fmt.Sprintf("the request to `%s` timed out.", host)}
	}
	if errors.Is(err, context.Canceled) {
		return &Error{Kind: KindNetwork, URL: rawURL,
			Message: fmt.Sprintf("the request to `%s` was canceled.", host)}
	}

	return &Error{Kind: KindNetwork, URL: rawURL,
		Message: fmt.Sprintf("network error while contacting `%s`: %v.", host, err)}
}

// httpError строит *Error по ответу с кодом >= 400.
func (c *Client) httpError(status int, reqURL string, body []byte) *Error {
	kind := KindHTTP
	var base string

	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		kind = KindAuth
		base = fmt.Sprintf("the Ozon API rejected the request (status %d); verify the Client-Id/Api-Key pair.", status)
	case status == http.StatusTooManyRequests:
		kind = KindRateLimited
		base = "the Ozon API rate limit was hit (429); slow down and retry later."
	default:
		base = fmt.Sprintf("the request to `%s` failed with status %d.", hostFromURL(reqURL), status)
	}

	if detail := extractErrorDetail(body); detail != "" {
		base += " details: " + detail + "."
	}
	return &Error{Kind: kind, StatusCode: status, URL: reqURL, Message: base}
}

// extractErrorDetail вытаскивает человекочитаемую причину из тела ошибки.
// Ozon кладёт её в message или error.message; иначе берётся усечённое тело.
func extractErrorDetail(body []byte) string {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return ""
	}
	var payload struct {
		Message string `json:"message"`
		Error   struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(trimmed, &payload); err == nil {
		if payload.Message != "" {
			return payload.Message
		}
		if payload.Error.Message != "" {
			return payload.Error.Message
		}
	}
	runes := []rune(string(trimmed))
	if len(runes) > 300 {
		runes = runes[:300]
	}
	return string(runes)
}

func hostFromURL(rawURL string) string {
	if rawURL == "" {
		return "ozon"
	}
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Host == "" {
		return rawURL
	}
	return parsed.Host
}

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

func logField(key string, value interface{}) interfaces.LogField {
	return interfaces.LogField{Key: key, Value: value}
}
