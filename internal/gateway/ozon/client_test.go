package ozon

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/athebyme/gomarket-platform/marketplace-service/internal/adapters/logger"
)

// recordedRequest is one request captured by newRecordingServer.
type recordedRequest struct {
	Method string
	Path   string
	Header http.Header
	Body   []byte
}

type recordingServer struct {
	*httptest.Server

	mu       sync.Mutex
	requests []recordedRequest
}

func newRecordingServer(t *testing.T, respond func(call int, w http.ResponseWriter, r *http.Request)) *recordingServer {
	t.Helper()
	rs := &recordingServer{}
	rs.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		rs.mu.Lock()
		rs.requests = append(rs.requests, recordedRequest{
			Method: r.Method,
			Path:   r.URL.Path,
			Header: r.Header.Clone(),
			Body:   body,
		})
		call := len(rs.requests)
		rs.mu.Unlock()
		respond(call, w, r)
	}))
	t.Cleanup(rs.Close)
	return rs
}

func (rs *recordingServer) calls() int {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return len(rs.requests)
}

func (rs *recordingServer) request(i int) recordedRequest {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return rs.requests[i]
}

func writeJSON(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}

func newTestClient(t *testing.T, serverURL string, opts ...Option) *Client {
	t.Helper()
	client, err := NewClient(
		Config{BaseURL: serverURL, ClientID: "client-1", APIKey: "key-1"},
		logger.NewNopLogger(),
		append([]Option{WithBackoff(time.Millisecond, 5*time.Millisecond)}, opts...)...,
	)
	require.NoError(t, err)
	return client
}

// TestNewClientRequiresCredentials verifies that both halves of the
// Client-Id/Api-Key pair are mandatory.
func TestNewClientRequiresCredentials(t *testing.T) {
	_, err := NewClient(Config{APIKey: "key"}, logger.NewNopLogger())
	require.Error(t, err)
	assert.True(t, IsKind(err, KindConfiguration))

	_, err = NewClient(Config{ClientID: "client"}, logger.NewNopLogger())
	require.Error(t, err)
	assert.True(t, IsKind(err, KindConfiguration))
}

// TestNewClientRejectsMalformedBaseURL verifies base URL validation.
func TestNewClientRejectsMalformedBaseURL(t *testing.T) {
	_, err := NewClient(Config{BaseURL: "api-seller.ozon.ru", ClientID: "c", APIKey: "k"}, logger.NewNopLogger())

	require.Error(t, err)
	assert.True(t, IsKind(err, KindConfiguration))
}

// TestNewClientAppliesDefaults verifies the default host and tuning values.
func TestNewClientAppliesDefaults(t *testing.T) {
	client, err := NewClient(Config{ClientID: "c", APIKey: "k"}, logger.NewNopLogger())
	require.NoError(t, err)

	assert.Equal(t, DefaultBaseURL, client.Config().BaseURL)
	assert.Equal(t, DefaultMaxRetries, client.maxRetries)
	assert.Equal(t, DefaultMaxPages, client.maxPages)
}

// TestRequestSendsAuthHeaders verifies the Client-Id/Api-Key header pair on
// the wire.
func TestRequestSendsAuthHeaders(t *testing.T) {
	server := newRecordingServer(t, func(call int, w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, `{"result":{"items":[]}}`)
	})

	client := newTestClient(t, server.URL)
	_, err := client.FetchProductList(context.Background(), 100, "")
	require.NoError(t, err)

	sent := server.request(0)
	assert.Equal(t, "client-1", sent.Header.Get("Client-Id"))
	assert.Equal(t, "key-1", sent.Header.Get("Api-Key"))
	assert.Equal(t, "application/json", sent.Header.Get("Content-Type"))
}

// TestRequestRetriesOnServerError verifies that a transient 500 is retried.
func TestRequestRetriesOnServerError(t *testing.T) {
	server := newRecordingServer(t, func(call int, w http.ResponseWriter, r *http.Request) {
		if call == 1 {
			writeJSON(w, http.StatusInternalServerError, `{"message":"boom"}`)
			return
		}
		writeJSON(w, http.StatusOK, `{"result":{"items":[]}}`)
	})

	client := newTestClient(t, server.URL)
	_, err := client.FetchProductList(context.Background(), 100, "")

	require.NoError(t, err)
	assert.Equal(t, 2, server.calls())
}

// TestRequestExhaustsRetries verifies that a persistent 5xx consumes all
// attempts and is returned classified.
func TestRequestExhaustsRetries(t *testing.T) {
	server := newRecordingServer(t, func(call int, w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusServiceUnavailable, `{"message":"maintenance"}`)
	})

	client := newTestClient(t, server.URL, WithMaxRetries(3))
	_, err := client.FetchProductList(context.Background(), 100, "")

	require.Error(t, err)
	assert.True(t, IsKind(err, KindHTTP))
	assert.Equal(t, 3, server.calls())
	assert.Contains(t, err.Error(), "maintenance")
}

// TestRequestDoesNotRetryAuthErrors verifies that 401/403 fail immediately
// with the credential hint.
func TestRequestDoesNotRetryAuthErrors(t *testing.T) {
	server := newRecordingServer(t, func(call int, w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusForbidden, `{"error":{"message":"invalid key"}}`)
	})

	client := newTestClient(t, server.URL)
	_, err := client.FetchProductList(context.Background(), 100, "")

	require.Error(t, err)
	assert.True(t, IsKind(err, KindAuth))
	assert.Equal(t, 1, server.calls())
	assert.Contains(t, err.Error(), "Client-Id/Api-Key")
	assert.Contains(t, err.Error(), "invalid key")
}

// TestRequestRateLimited verifies 429 classification without retry.
func TestRequestRateLimited(t *testing.T) {
	server := newRecordingServer(t, func(call int, w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusTooManyRequests, `{}`)
	})

	client := newTestClient(t, server.URL)
	_, err := client.FetchProductList(context.Background(), 100, "")

	require.Error(t, err)
	assert.True(t, IsKind(err, KindRateLimited))
	assert.Equal(t, 1, server.calls())
}

// TestCheckConnection verifies the diagnostic probe: a single-item list
// request, sorted response keys, configured host echoed back.
func TestCheckConnection(t *testing.T) {
	server := newRecordingServer(t, func(call int, w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, `{"result":{"items":[],"total":0},"extra":1}`)
	})

	client := newTestClient(t, server.URL)
	status, err := client.CheckConnection(context.Background())

	require.NoError(t, err)
	assert.Equal(t, "ok", status.Status)
	assert.Equal(t, server.URL, status.BaseURL)
	assert.Equal(t, "client-1", status.ClientID)
	assert.Equal(t, []string{"extra", "result"}, status.ResponseKeys)

	req := server.request(0)
	assert.Equal(t, ProductListEndpoint, req.Path)
}

// TestCheckConnectionPropagatesClassifiedErrors verifies that a failed
// probe carries the gateway error kind.
func TestCheckConnectionPropagatesClassifiedErrors(t *testing.T) {
	server := newRecordingServer(t, func(call int, w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusUnauthorized, `{"message":"auth failed"}`)
	})

	client := newTestClient(t, server.URL)
	_, err := client.CheckConnection(context.Background())

	require.Error(t, err)
	assert.True(t, IsKind(err, KindAuth))
}
