package wb

import (
	"net/url"
	"strings"
)

// Значения по умолчанию для Wildberries API.
const (
	DefaultBaseURL        = "https://marketplace-api.wildberries.ru"
	DefaultContentBaseURL = "https://content-api.wildberries.ru"

	DefaultCardsCursorV1Endpoint = "/content/v1/cards/cursor/list"
	DefaultCardsV2Endpoint       = "/content/v2/get/cards/list"
	DefaultPricesListEndpoint    = "/api/v2/prices"
	DefaultPricesUpdateEndpoint  = "/api/v2/prices"

	// LegacyHost устаревший домен, который API пока принимает, но снимает с поддержки.
	LegacyHost = "suppliers-api.wildberries.ru"
)

const legacyBaseWarning = "the legacy host `" + LegacyHost + "` is deprecated; " +
	"switch the base URL to " + DefaultBaseURL + "."

// Config неизменяемые настройки клиента Wildberries API.
// Собирается вызывающей стороной один раз (обычно из конфигурации сервиса)
// и передаётся в NewClient. Клиент никогда не читает окружение сам.
type Config struct {
	// BaseURL основной хост (цены и прочие операции продавца).
	BaseURL string
	// ContentBaseURL хост контентного API (карточки каталога).
	ContentBaseURL string

	CardsCursorV1Endpoint string
	CardsV2Endpoint       string
	PricesListEndpoint    string
	PricesUpdateEndpoint  string

	// IsLegacyBase выставляется в NewConfig, если BaseURL указывает на LegacyHost.
	IsLegacyBase bool
}

// NewConfig заполняет пустые поля значениями по умолчанию, нормализует и
// валидирует адреса. Любая проблема с адресами возвращается как ошибка
// конфигурации. ContentBaseURL по умолчанию наследует нестандартный BaseURL:
// старые развёртывания держали контентное API на том же хосте.
func NewConfig(cfg Config) (Config, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if strings.TrimSpace(cfg.ContentBaseURL) == "" {
		if cfg.BaseURL == DefaultBaseURL {
			cfg.ContentBaseURL = DefaultContentBaseURL
		} else {
			cfg.ContentBaseURL = cfg.BaseURL
		}
	}
	if strings.TrimSpace(cfg.CardsCursorV1Endpoint) == "" {
		cfg.CardsCursorV1Endpoint = DefaultCardsCursorV1Endpoint
	}
	if strings.TrimSpace(cfg.CardsV2Endpoint) == "" {
		cfg.CardsV2Endpoint = DefaultCardsV2Endpoint
	}
	if strings.TrimSpace(cfg.PricesListEndpoint) == "" {
		cfg.PricesListEndpoint = DefaultPricesListEndpoint
	}
	if strings.TrimSpace(cfg.PricesUpdateEndpoint) == "" {
		cfg.PricesUpdateEndpoint = cfg.PricesListEndpoint
	}

	var err error
	if cfg.BaseURL, err = normalizeBaseURL(cfg.BaseURL); err != nil {
		return Config{}, err
	}
	if cfg.ContentBaseURL, err = normalizeBaseURL(cfg.ContentBaseURL); err != nil {
		return Config{}, err
	}
	if cfg.CardsCursorV1Endpoint, err = normalizeEndpoint(cfg.CardsCursorV1Endpoint); err != nil {
		return Config{}, err
	}
	if cfg.CardsV2Endpoint, err = normalizeEndpoint(cfg.CardsV2Endpoint); err != nil {
		return Config{}, err
	}
	if cfg.PricesListEndpoint, err = normalizeEndpoint(cfg.PricesListEndpoint); err != nil {
		return Config{}, err
	}
	if cfg.PricesUpdateEndpoint, err = normalizeEndpoint(cfg.PricesUpdateEndpoint); err != nil {
		return Config{}, err
	}

	cfg.IsLegacyBase = strings.Contains(cfg.BaseURL, LegacyHost)
	return cfg, nil
}

// BuildURL собирает абсолютный адрес запроса. Эндпоинт, заданный полным
// URL, используется как есть; это позволяет переопределять отдельные
// операции на другой хост.
func (c Config) BuildURL(endpoint string, useContentAPI bool) string {
	if strings.HasPrefix(endpoint, "http://") || strings.HasPrefix(endpoint, "https://") {
		return endpoint
	}
	base := c.BaseURL
	if useContentAPI {
		base = c.ContentBaseURL
	}
	return base + endpoint
}

// LegacyBaseWarning текст предупреждения об устаревшем домене.
// Пустая строка, если настроен актуальный хост.
func (c Config) LegacyBaseWarning() string {
	if c.IsLegacyBase {
		return legacyBaseWarning
	}
	return ""
}

func normalizeBaseURL(value string) (string, error) {
	cleaned := strings.TrimSpace(value)
	if cleaned == "" {
		return "", newConfigurationError("the Wildberries base URL is not configured")
	}
	parsed, err := url.Parse(cleaned)
	if err != nil {
		return "", newConfigurationError("the Wildberries base URL is malformed: %v", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return "", newConfigurationError("the Wildberries base URL must start with http:// or https://")
	}
	if parsed.Host == "" {
		return "", newConfigurationError("the Wildberries base URL must contain a host")
	}
	return strings.TrimRight(cleaned, "/"), nil
}

func normalizeEndpoint(value string) (string, error) {
	cleaned := strings.TrimSpace(value)
	if cleaned == "" {
		return "", newConfigurationError("a Wildberries API endpoint cannot be empty")
	}
	if strings.HasPrefix(cleaned, "http://") || strings.HasPrefix(cleaned, "https://") {
		return cleaned, nil
	}
	if !strings.HasPrefix(cleaned, "/") {
		cleaned = "/" + cleaned
	}
	return cleaned, nil
}
