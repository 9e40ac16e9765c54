package wb

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
)

// ErrorKind вид сбоя при обращении к Wildberries API.
// Определяет реакцию вызывающего кода: повторять, чинить настройки или
// менять токен.
type ErrorKind int

const (
	// KindConfiguration неверные или отсутствующие настройки и входные данные.
	KindConfiguration ErrorKind = iota
	// KindNetwork транспортный сбой: DNS, таймауты, TLS, обрыв соединения.
	KindNetwork
	// KindAuth запрос отклонён по 401/403 после перебора всех вариантов авторизации.
	KindAuth
	// KindNotFound эндпоинт не найден (404).
	KindNotFound
	// KindRateLimited превышен лимит запросов (429).
	KindRateLimited
	// KindHTTP прочие ошибки уровня HTTP.
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
	case KindNotFound:
		return "not_found"
	case KindRateLimited:
		return "rate_limited"
	case KindHTTP:
		return "http"
	}
	return "unknown"
}

// Error диагностика сбоя Wildberries API. Message самодостаточен:
// хост, код ответа и детали из тела уже вшиты в текст, чтобы оператор
// мог действовать без чтения логов транспорта.
type Error struct {
	Kind       ErrorKind
	StatusCode int
	URL        string
	Message    string
}

func (e *Error) Error() string { return e.Message }

// IsKind сообщает, относится ли err (или любая обёртка над ней) к данному виду.
func IsKind(err error, kind ErrorKind) bool {
	var gwErr *Error
	return errors.As(err, &gwErr) && gwErr.Kind == kind
}

func newConfigurationError(format string, args ...interface{}) *Error {
	return &Error{Kind: KindConfiguration, Message: fmt.Sprintf(format, args...)}
}

// detailPayloadKeys ключи, под которыми WB кладёт человекочитаемую причину
// отказа. Порядок важен: первые ключи надёжнее.
var detailPayloadKeys = [...]string{"errorText", "message", "error_description", "detail", "description"}

// maxBodyDetailRunes предел сырого тела, попадающего в сообщение об ошибке.
const maxBodyDetailRunes = 300

// classifyTransportError переводит ошибку транспорта в *Error с хостом
// в тексте. Проверки идут от специфичных к общим: DNS, установка
// соединения, TLS, таймаут чтения.
func (c *Client) classifyTransportError(err error, rawURL string) *Error {
	host := hostFromURL(rawURL)

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return c.networkError(rawURL, "cannot resolve host `%s`; check the base URL configuration.", host)
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		if opErr.Timeout() {
			return c.networkError(rawURL, "connection to `%s` timed out; the host is unreachable or the port is blocked.", host)
		}
		return c.networkError(rawURL, "cannot connect to `%s`: %v.", host, opErr.Err)
	}

	if isTLSError(err) {
		return c.networkError(rawURL, "TLS handshake with `%s` failed; check the base URL scheme and local certificates.", host)
	}

	var netErr net.Error
	if (errors.As(err, &netErr) && netErr.Timeout()) || errors.Is(err, context.DeadlineExceeded) {
		return c.networkError(rawURL, "reading the response from `%s` timed out; the API is slow or the timeout is too low.", host)
	}
	if errors.Is(err, context.Canceled) {
		return c.networkError(rawURL, "the request to `%s` was canceled.", host)
	}

	return c.networkError(rawURL, "network error while contacting `%s`: %v.", host, err)
}

func isTLSError(err error) bool {
	var certErr *tls.CertificateVerificationError
	if errors.As(err, &certErr) {
		return true
	}
	var recordErr tls.RecordHeaderError
	if errors.As(err, &recordErr) {
		return true
	}
	text := err.Error()
	return strings.Contains(text, "tls:") || strings.Contains(text, "x509:")
}

// httpError строит *Error по ответу с кодом >= 400. authAttempts метки
// перепробованных вариантов авторизации; непустой список означает, что
// отказ пережил полный перебор.
func (c *Client) httpError(status int, respURL string, header http.Header, body []byte, authAttempts []string) *Error {
	kind := KindHTTP
	var base string

	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		kind = KindAuth
		base = fmt.Sprintf("the Wildberries API rejected the request (status %d); verify that the token is an API token with the right scopes.", status)
		if len(authAttempts) > 0 {
			base += " attempted header variants: " + strings.Join(uniqueStrings(authAttempts), ", ") + "."
		}
	case status == http.StatusNotFound:
		kind = KindNotFound
		base = "the endpoint was not found (404); verify the configured API path."
	case status == http.StatusTooManyRequests:
		kind = KindRateLimited
		base = "the Wildberries API rate limit was hit (429); slow down and retry later."
		if retryAfter := strings.TrimSpace(header.Get("Retry-After")); retryAfter != "" {
			base += fmt.Sprintf(" the API asks to retry after %s.", retryAfter)
		}
	default:
		base = fmt.Sprintf("the request to `%s` failed with status %d.", hostFromURL(respURL), status)
	}

	msg := base
	if details := extractErrorDetails(body); len(details) > 0 {
		msg += " details: " + strings.Join(details, "; ") + "."
	}

	return &Error{
		Kind:       kind,
		StatusCode: status,
		URL:        respURL,
		Message:    c.withLegacyWarning(msg),
	}
}

// extractErrorDetails вытаскивает человекочитаемые фрагменты из тела ошибки.
// Пробуются известные ключи и список errors; если ничего не нашлось,
// берётся усечённое сырое тело. Повторы отбрасываются с сохранением порядка.
func extractErrorDetails(body []byte) []string {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil
	}

	var fragments []string
	var payload interface{}
	if err := json.Unmarshal(trimmed, &payload); err == nil {
		switch value := payload.(type) {
		case map[string]interface{}:
			for _, key := range detailPayloadKeys {
				if fragment := stringifyDetail(value[key]); fragment != "" {
					fragments = append(fragments, fragment)
				}
			}
			if list, ok := value["errors"].([]interface{}); ok {
				for _, item := range list {
					if fragment := stringifyDetail(item); fragment != "" {
						fragments = append(fragments, fragment)
					}
				}
			}
		case []interface{}:
			for i, item := range value {
				if i == 3 {
					break
				}
				if fragment := stringifyDetail(item); fragment != "" {
					fragments = append(fragments, fragment)
				}
			}
		}
	}

	if len(fragments) == 0 {
		fragments = append(fragments, truncateRunes(string(trimmed), maxBodyDetailRunes))
	}
	return uniqueStrings(fragments)
}

func stringifyDetail(value interface{}) string {
	if value == nil {
		return ""
	}
	switch v := value.(type) {
	case string:
		return v
	case map[string]interface{}, []interface{}:
		encoded, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprint(v)
		}
		return string(encoded)
	default:
		return fmt.Sprint(v)
	}
}

func truncateRunes(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}

func uniqueStrings(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

func hostFromURL(rawURL string) string {
	if rawURL == "" {
		return "wildberries"
	}
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Host == "" {
		return rawURL
	}
	return parsed.Host
}

func (c *Client) networkError(rawURL, format string, args ...interface{}) *Error {
	return &Error{
		Kind:    KindNetwork,
		URL:     rawURL,
		Message: c.withLegacyWarning(fmt.Sprintf(format, args...)),
	}
}

// withLegacyWarning дописывает предупреждение об устаревшем домене к любому
// сообщению об ошибке, чтобы оператор увидел вероятную причину сразу.
func (c *Client) withLegacyWarning(message string) string {
	warning := c.cfg.LegacyBaseWarning()
	if warning == "" || strings.Contains(message, warning) {
		return message
	}
	return message + " " + warning
}
