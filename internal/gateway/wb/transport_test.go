package wb

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestRequestFallsBackOnUnauthorized verifies the header negotiation: the
// first variant (Authorization: Bearer) is rejected with 401, the second
// (bare Authorization) succeeds, and exactly two calls are made.
func TestRequestFallsBackOnUnauthorized(t *testing.T) {
	server := newRecordingServer(t, func(call int, w http.ResponseWriter, r *http.Request) {
		if call == 1 {
			writeJSON(w, http.StatusUnauthorized, `{"errorText":"unauthorized"}`)
			return
		}
		writeJSON(w, http.StatusOK, `{"data":{"cards":[]}}`)
	})

	client := newTestClient(t, server.URL)
	_, err := client.CheckConnection(context.Background())
	require.NoError(t, err)

	require.Equal(t, 2, server.calls())
	assert.Equal(t, "Bearer token", server.request(0).Header.Get("Authorization"))
	assert.Equal(t, "token", server.request(1).Header.Get("Authorization"))
	assert.Equal(t, "Authorization", client.ActiveAuthLabel())
}

// TestRequestStartsWithConfirmedVariant verifies stickiness: after a
// successful negotiation the confirmed variant opens the next request.
func TestRequestStartsWithConfirmedVariant(t *testing.T) {
	server := newRecordingServer(t, func(call int, w http.ResponseWriter, r *http.Request) {
		if call == 1 {
			writeJSON(w, http.StatusForbidden, `{}`)
			return
		}
		writeJSON(w, http.StatusOK, `{"data":{"cards":[]}}`)
	})

	client := newTestClient(t, server.URL)

	_, err := client.CheckConnection(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, server.calls())

	_, err = client.CheckConnection(context.Background())
	require.NoError(t, err)

	require.Equal(t, 3, server.calls())
	assert.Equal(t, "token", server.request(2).Header.Get("Authorization"),
		"the confirmed bare variant must open the next request")
}

// TestRequestAuthExhaustion verifies that rejecting every variant yields an
// auth error listing all attempted labels, with exactly one call per variant.
func TestRequestAuthExhaustion(t *testing.T) {
	server := newRecordingServer(t, func(call int, w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusUnauthorized, `{"errorText":"bad token"}`)
	})

	client := newTestClient(t, server.URL)
	_, err := client.CheckConnection(context.Background())

	require.Error(t, err)
	assert.True(t, IsKind(err, KindAuth))
	assert.Equal(t, 4, server.calls())

	for _, label := range []string{"Authorization: Bearer", "Authorization", "X-Authorization: Bearer", "X-Authorization"} {
		assert.Contains(t, err.Error(), label)
	}
	assert.Contains(t, err.Error(), "bad token")
}

// TestRequestRetriesOnServerError verifies that a transient 500 is retried
// and the subsequent success is returned to the caller.
func TestRequestRetriesOnServerError(t *testing.T) {
	server := newRecordingServer(t, func(call int, w http.ResponseWriter, r *http.Request) {
		if call == 1 {
			writeJSON(w, http.StatusInternalServerError, `{"errorText":"boom"}`)
			return
		}
		writeJSON(w, http.StatusOK, `{"data":{"cards":[]}}`)
	})

	client := newTestClient(t, server.URL)
	_, err := client.CheckConnection(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 2, server.calls())
}

// TestRequestRetriesOnTooManyRequests verifies that 429 is retried within
// the same auth variant.
func TestRequestRetriesOnTooManyRequests(t *testing.T) {
	server := newRecordingServer(t, func(call int, w http.ResponseWriter, r *http.Request) {
		if call == 1 {
			writeJSON(w, http.StatusTooManyRequests, `{}`)
			return
		}
		writeJSON(w, http.StatusOK, `{"data":{"cards":[]}}`)
	})

	client := newTestClient(t, server.URL)
	_, err := client.CheckConnection(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 2, server.calls())
	assert.Equal(t, server.request(0).Header.Get("Authorization"), server.request(1).Header.Get("Authorization"),
		"a retry is the same request again, not a new auth variant")
}

// TestRequestExhaustsRetries verifies that a persistent 503 consumes all
// retry attempts and comes back classified with the host in the message.
func TestRequestExhaustsRetries(t *testing.T) {
	server := newRecordingServer(t, func(call int, w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusServiceUnavailable, `{"errorText":"maintenance"}`)
	})

	client := newTestClient(t, server.URL, WithMaxRetries(2))
	_, err := client.CheckConnection(context.Background())

	require.Error(t, err)
	assert.True(t, IsKind(err, KindHTTP))
	assert.Equal(t, 3, server.calls(), "initial attempt plus two retries")

	var gwErr *Error
	require.ErrorAs(t, err, &gwErr)
	assert.Equal(t, http.StatusServiceUnavailable, gwErr.StatusCode)
	assert.Contains(t, gwErr.Message, "maintenance")
}

// TestRequestDoesNotRetryClientErrors verifies that 4xx responses other
// than 401/403/429 are returned after a single attempt.
func TestRequestDoesNotRetryClientErrors(t *testing.T) {
	server := newRecordingServer(t, func(call int, w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusBadRequest, `{"errorText":"bad cursor"}`)
	})

	client := newTestClient(t, server.URL)
	_, err := client.CheckConnection(context.Background())

	require.Error(t, err)
	assert.True(t, IsKind(err, KindHTTP))
	assert.Equal(t, 1, server.calls(), "must not retry on 400")
	assert.Contains(t, err.Error(), "bad cursor")
}

// TestRequestNotFound verifies 404 classification.
func TestRequestNotFound(t *testing.T) {
	server := newRecordingServer(t, func(call int, w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, `{}`)
	})

	client := newTestClient(t, server.URL)
	_, err := client.CheckConnection(context.Background())

	require.Error(t, err)
	assert.True(t, IsKind(err, KindNotFound))
	assert.Equal(t, 1, server.calls())
}

// TestRequestConnectionRefused verifies that a dead endpoint produces a
// network error naming the host instead of a raw transport error.
func TestRequestConnectionRefused(t *testing.T) {
	server := newRecordingServer(t, func(call int, w http.ResponseWriter, r *http.Request) {})
	host := server.Listener.Addr().String()
	serverURL := server.URL
	server.Close()

	client := newTestClient(t, serverURL, WithMaxRetries(1))
	_, err := client.CheckConnection(context.Background())

	require.Error(t, err)
	assert.True(t, IsKind(err, KindNetwork))
	assert.Contains(t, err.Error(), host)
}

// TestBackoffDelayGrowsExponentially verifies the delay schedule
// factor*2^attempt.
func TestBackoffDelayGrowsExponentially(t *testing.T) {
	client := newTestClient(t, "http://127.0.0.1:1", WithBackoffFactor(0.8))

	assert.Equal(t, 800*time.Millisecond, client.backoffDelay(0))
	assert.Equal(t, 1600*time.Millisecond, client.backoffDelay(1))
	assert.Equal(t, 3200*time.Millisecond, client.backoffDelay(2))
}

// TestBackoffDelayZeroFactor verifies that a zero factor disables waiting.
func TestBackoffDelayZeroFactor(t *testing.T) {
	client := newTestClient(t, "http://127.0.0.1:1")
	assert.Equal(t, time.Duration(0), client.backoffDelay(5))
}

// TestParseRetryAfter covers both header forms.
func TestParseRetryAfter(t *testing.T) {
	assert.Equal(t, 7*time.Second, parseRetryAfter("7"))
	assert.Equal(t, time.Duration(0), parseRetryAfter("0"))
	assert.Equal(t, time.Duration(0), parseRetryAfter("-3"))
	assert.Equal(t, time.Duration(0), parseRetryAfter(""))
	assert.Equal(t, time.Duration(0), parseRetryAfter("garbage"))

	// HTTP-date in the past means no extra wait.
	past := time.Now().Add(-time.Minute).UTC().Format(http.TimeFormat)
	assert.Equal(t, time.Duration(0), parseRetryAfter(past))

	// HTTP-date in the future is honored approximately.
	future := time.Now().Add(30 * time.Second).UTC().Format(http.TimeFormat)
	delay := parseRetryAfter(future)
	assert.Greater(t, delay, 20*time.Second)
	assert.LessOrEqual(t, delay, 30*time.Second)
}

// TestSleepContextCancelled verifies that a cancelled context interrupts the
// backoff wait immediately.
func TestSleepContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	err := sleepContext(ctx, 10*time.Second)

	require.Error(t, err)
	assert.Less(t, time.Since(start), 100*time.Millisecond)
}
