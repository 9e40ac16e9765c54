package wb

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"time"

	"github.com/athebyme/gomarket-platform/marketplace-service/pkg/interfaces"
	"golang.org/x/time/rate"
)

// Параметры клиента по умолчанию. Таймауты разделены на установку
// соединения и чтение ответа: контентное API отвечает медленно на
// больших каталогах, а зависание на connect должно проявляться быстро.
const (
	DefaultMaxRetries     = 3
	DefaultBackoffFactor  = 0.8
	DefaultConnectTimeout = 10 * time.Second
	DefaultReadTimeout    = 60 * time.Second

	// DefaultPageLimit размер страницы при выгрузке карточек.
	DefaultPageLimit = 100
	// DefaultMaxPages предохранитель от курсора, который никогда не
	// завершается. Не встречается в нормальной работе.
	DefaultMaxPages = 10000

	// maxStatusResponseKeys сколько ключей ответа попадает в диагностику.
	maxStatusResponseKeys = 5
)

// Client клиент Wildberries API продавца: карточки каталога и цены.
// Потокобезопасен, один экземпляр разделяется обработчиками и воркером.
type Client struct {
	cfg  Config
	auth *authNegotiator

	httpClient HTTPClient
	log        interfaces.LoggerPort
	limiter    *rate.Limiter

	maxRetries    int
	backoffFactor float64
	maxPages      int

	connectTimeout time.Duration
	readTimeout    time.Duration
}

// Option настройка клиента при создании.
type Option func(*Client)

// WithHTTPClient подменяет транспорт. Таймауты из WithTimeouts при этом
// не применяются: переданный клиент используется как есть.
func WithHTTPClient(httpClient HTTPClient) Option {
	return func(c *Client) { c.httpClient = httpClient }
}

// WithTimeouts задаёт таймауты установки соединения и чтения ответа
// для транспорта по умолчанию.
func WithTimeouts(connect, read time.Duration) Option {
	return func(c *Client) {
		if connect > 0 {
			c.connectTimeout = connect
		}
		if read > 0 {
			c.readTimeout = read
		}
	}
}

// WithMaxRetries ограничивает число повторов на сетевых сбоях, 429 и 5xx.
// Ноль отключает повторы полностью.
func WithMaxRetries(retries int) Option {
	return func(c *Client) {
		if retries >= 0 {
			c.maxRetries = retries
		}
	}
}

// WithBackoffFactor задаёт базу экспоненциальной задержки между повторами.
func WithBackoffFactor(factor float64) Option {
	return func(c *Client) {
		if factor >= 0 {
			c.backoffFactor = factor
		}
	}
}

// WithRateLimit включает локальный лимитер запросов: rps запросов в
// секунду со всплесками до burst. По умолчанию лимитера нет.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *Client) {
		if rps > 0 && burst > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
		}
	}
}

// WithMaxPages меняет предохранительный потолок итераций курсора.
func WithMaxPages(pages int) Option {
	return func(c *Client) {
		if pages > 0 {
			c.maxPages = pages
		}
	}
}

// NewClient собирает клиент Wildberries API. Конфигурация проходит через
// NewConfig, токен разворачивается в варианты авторизации. Ошибки на этом
// этапе всегда конфигурационные.
func NewClient(cfg Config, token string, log interfaces.LoggerPort, opts ...Option) (*Client, error) {
	normalized, err := NewConfig(cfg)
	if err != nil {
		return nil, err
	}

	auth, err := newAuthNegotiator(token)
	if err != nil {
		return nil, err
	}

	if log == nil {
		return nil, newConfigurationError("the Wildberries client requires a logger")
	}

	client := &Client{
		cfg:            normalized,
		auth:           auth,
		log:            log,
		maxRetries:     DefaultMaxRetries,
		backoffFactor:  DefaultBackoffFactor,
		maxPages:       DefaultMaxPages,
		connectTimeout: DefaultConnectTimeout,
		readTimeout:    DefaultReadTimeout,
	}
	for _, opt := range opts {
		opt(client)
	}
	if client.httpClient == nil {
		client.httpClient = newHTTPTransport(client.connectTimeout, client.readTimeout)
	}

	if warning := normalized.LegacyBaseWarning(); warning != "" {
		client.log.Warn("wildberries: настроен устаревший домен", logField("base_url", normalized.BaseURL))
	}
	return client, nil
}

// Config возвращает нормализованную конфигурацию клиента.
func (c *Client) Config() Config {
	return c.cfg
}

// ActiveAuthLabel метка подтверждённого варианта авторизации для диагностики.
func (c *Client) ActiveAuthLabel() string {
	return c.auth.activeLabel()
}

// ConnectionStatus диагностика доступа к API: какой хост настроен, каким
// заголовком прошла авторизация и как выглядит ответ. Warning непустой,
// если настроен устаревший домен.
type ConnectionStatus struct {
	Status         string   `json:"status"`
	BaseURL        string   `json:"base_url"`
	ContentBaseURL string   `json:"content_base_url"`
	AuthHeader     string   `json:"auth_header"`
	ResponseKeys   []string `json:"response_keys,omitempty"`
	Warning        string   `json:"warning,omitempty"`
}

// CheckConnection выполняет минимальный запрос каталога (страница из одной
// карточки) и возвращает диагностику. Ошибка здесь означает, что обычные
// операции тоже не пройдут, и несёт уже классифицированную причину.
func (c *Client) CheckConnection(ctx context.Context) (*ConnectionStatus, error) {
	raw, err := c.requestJSON(ctx, http.MethodPost, c.cfg.CardsV2Endpoint, cardsV2Payload(1, "", 0), nil, true)
	if err != nil {
		return nil, err
	}

	var body map[string]json.RawMessage
	decodeJSON(raw, &body)
	keys := make([]string, 0, len(body))
	for key := range body {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	if len(keys) > maxStatusResponseKeys {
		keys = keys[:maxStatusResponseKeys]
	}

	status := &ConnectionStatus{
		Status:         "ok",
		BaseURL:        c.cfg.BaseURL,
		ContentBaseURL: c.cfg.ContentBaseURL,
		AuthHeader:     c.auth.activeLabel(),
		ResponseKeys:   keys,
		Warning:        c.cfg.LegacyBaseWarning(),
	}
	if status.AuthHeader == "" {
		status.AuthHeader = "not negotiated yet"
	}
	return status, nil
}

// logField сокращение для структурированного поля лога.
func logField(key string, value interface{}) interfaces.LogField {
	return interfaces.LogField{Key: key, Value: value}
}
