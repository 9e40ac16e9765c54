package wb

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestNormalizePriceUpdateAliasesAndHeuristic verifies the canonical record
// produced from alias keys: string identifiers are coerced, a price under
// 1000 is treated as whole currency, and unknown keys pass through.
func TestNormalizePriceUpdateAliasesAndHeuristic(t *testing.T) {
	record, err := normalizePriceUpdate(PriceUpdate{
		"nm_id":    "123",
		"price":    150.5,
		"discount": "10",
		"note":     "test",
	}, PriceUnitAuto)

	require.NoError(t, err)
	assert.Equal(t, int64(123), record["nmId"])
	assert.Equal(t, int64(15050), record["price"])
	assert.Equal(t, int64(10), record["discount"])
	assert.Equal(t, "test", record["note"])
	assert.NotContains(t, record, "nm_id")
}

// TestNormalizePriceUpdateMinorUnits verifies that a value of 1000 and above
// is passed through as already-minor units.
func TestNormalizePriceUpdateMinorUnits(t *testing.T) {
	record, err := normalizePriceUpdate(PriceUpdate{"nmId": 1, "price": 150000}, PriceUnitAuto)

	require.NoError(t, err)
	assert.Equal(t, int64(150000), record["price"])
}

// TestNormalizePriceUpdateThreshold pins the heuristic boundary: 999.99
// is whole currency, exactly 1000 is minor units.
func TestNormalizePriceUpdateThreshold(t *testing.T) {
	record, err := normalizePriceUpdate(PriceUpdate{"nmId": 1, "price": 999.99}, PriceUnitAuto)
	require.NoError(t, err)
	assert.Equal(t, int64(99999), record["price"])

	record, err = normalizePriceUpdate(PriceUpdate{"nmId": 1, "price": 1000}, PriceUnitAuto)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), record["price"])
}

// TestNormalizePriceUpdateMinorUnitMode verifies the explicit opt-out of the
// whole-currency heuristic.
func TestNormalizePriceUpdateMinorUnitMode(t *testing.T) {
	record, err := normalizePriceUpdate(PriceUpdate{"nmId": 1, "price": 150.5}, PriceUnitMinor)

	require.NoError(t, err)
	assert.Equal(t, int64(151), record["price"], "minor mode only rounds, never multiplies")
}

// TestNormalizePriceUpdateIDAliasPriority verifies that the first non-empty
// alias wins.
func TestNormalizePriceUpdateIDAliasPriority(t *testing.T) {
	record, err := normalizePriceUpdate(PriceUpdate{"nmId": 5, "nm": 9, "price": 100}, PriceUnitAuto)
	require.NoError(t, err)
	assert.Equal(t, int64(5), record["nmId"])

	// A zero-valued alias is skipped in favour of the next one.
	record, err = normalizePriceUpdate(PriceUpdate{"nmId": 0, "nm": 9, "price": 100}, PriceUnitAuto)
	require.NoError(t, err)
	assert.Equal(t, int64(9), record["nmId"])
}

// TestNormalizePriceUpdatePriceAliases verifies the price key priority list.
func TestNormalizePriceUpdatePriceAliases(t *testing.T) {
	record, err := normalizePriceUpdate(PriceUpdate{"nmId": 1, "priceU": 250000}, PriceUnitAuto)
	require.NoError(t, err)
	assert.Equal(t, int64(250000), record["price"])
	assert.NotContains(t, record, "priceU")

	record, err = normalizePriceUpdate(PriceUpdate{"nmId": 1, "price_rub": 499.0}, PriceUnitAuto)
	require.NoError(t, err)
	assert.Equal(t, int64(49900), record["price"])
}

// TestNormalizePriceUpdateErrors covers every rejection path; each one is a
// configuration error so that the whole batch is refused before any call.
func TestNormalizePriceUpdateErrors(t *testing.T) {
	tests := []struct {
		name   string
		record PriceUpdate
	}{
		{"missing id", PriceUpdate{"price": 100}},
		{"unparsable id", PriceUpdate{"nmId": "abc", "price": 100}},
		{"missing price", PriceUpdate{"nmId": 1}},
		{"unparsable price", PriceUpdate{"nmId": 1, "price": "free"}},
		{"zero price", PriceUpdate{"nmId": 1, "price": 0}},
		{"negative price", PriceUpdate{"nmId": 1, "price": -5}},
		{"discount too big", PriceUpdate{"nmId": 1, "price": 100, "discount": 100}},
		{"negative discount", PriceUpdate{"nmId": 1, "price": 100, "discount": -1}},
		{"unparsable discount", PriceUpdate{"nmId": 1, "price": 100, "discount": "half"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := normalizePriceUpdate(tt.record, PriceUnitAuto)
			require.Error(t, err)
			assert.True(t, IsKind(err, KindConfiguration))
		})
	}
}

// TestNormalizePriceUpdateDiscountBoundsAccepted verifies the inclusive
// 0..99 range.
func TestNormalizePriceUpdateDiscountBoundsAccepted(t *testing.T) {
	record, err := normalizePriceUpdate(PriceUpdate{"nmId": 1, "price": 100, "discount": 0}, PriceUnitAuto)
	require.NoError(t, err)
	assert.Equal(t, int64(0), record["discount"])

	record, err = normalizePriceUpdate(PriceUpdate{"nmId": 1, "price": 100, "discount": 99}, PriceUnitAuto)
	require.NoError(t, err)
	assert.Equal(t, int64(99), record["discount"])
}

// TestNormalizePriceUpdateDropsNilValues verifies that nil extra keys do not
// reach the payload.
func TestNormalizePriceUpdateDropsNilValues(t *testing.T) {
	record, err := normalizePriceUpdate(PriceUpdate{"nmId": 1, "price": 100, "comment": nil}, PriceUnitAuto)

	require.NoError(t, err)
	assert.NotContains(t, record, "comment")
}

// TestUpdatePricesDryRun verifies that the dry-run mode returns the
// normalized batch without touching the network.
func TestUpdatePricesDryRun(t *testing.T) {
	server := newRecordingServer(t, func(call int, w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, `{}`)
	})

	client := newTestClient(t, server.URL)
	result, err := client.UpdatePrices(context.Background(), []PriceUpdate{
		{"nm_id": "123", "price": 150.5, "discount": "10", "note": "test"},
	}, UpdateOptions{DryRun: true})

	require.NoError(t, err)
	assert.True(t, result.DryRun)
	assert.Equal(t, 0, server.calls(), "dry run must not call the API")

	require.Len(t, result.Payload, 1)
	assert.Equal(t, int64(123), result.Payload[0]["nmId"])
	assert.Equal(t, int64(15050), result.Payload[0]["price"])
	assert.Equal(t, int64(10), result.Payload[0]["discount"])
	assert.Equal(t, "test", result.Payload[0]["note"])
}

// TestUpdatePricesSendsNormalizedBatch verifies the wire format: a bare
// JSON array of canonical records posted to the prices endpoint.
func TestUpdatePricesSendsNormalizedBatch(t *testing.T) {
	server := newRecordingServer(t, func(call int, w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, `{"uploadID":42}`)
	})

	client := newTestClient(t, server.URL)
	result, err := client.UpdatePrices(context.Background(), []PriceUpdate{
		{"nmId": 1, "price": 1500},
	}, UpdateOptions{})

	require.NoError(t, err)
	require.Equal(t, 1, server.calls())

	sent := server.request(0)
	assert.Equal(t, http.MethodPost, sent.Method)
	assert.Equal(t, DefaultPricesUpdateEndpoint, sent.Path)

	var batch []map[string]interface{}
	require.NoError(t, json.Unmarshal(sent.Body, &batch))
	require.Len(t, batch, 1)
	assert.Equal(t, float64(1), batch[0]["nmId"])
	assert.Equal(t, float64(1500), batch[0]["price"])

	assert.JSONEq(t, `{"uploadID":42}`, string(result.Response))
}

// TestUpdatePricesRejectsEmptyBatch verifies that nothing-to-send is a
// configuration error, including a batch of only empty records.
func TestUpdatePricesRejectsEmptyBatch(t *testing.T) {
	client := newTestClient(t, "http://127.0.0.1:1")

	_, err := client.UpdatePrices(context.Background(), nil, UpdateOptions{})
	require.Error(t, err)
	assert.True(t, IsKind(err, KindConfiguration))

	_, err = client.UpdatePrices(context.Background(), []PriceUpdate{{}}, UpdateOptions{})
	require.Error(t, err)
	assert.True(t, IsKind(err, KindConfiguration))
}

// TestUpdatePricesRejectsWholeBatchOnBadRecord verifies all-or-nothing
// validation.
func TestUpdatePricesRejectsWholeBatchOnBadRecord(t *testing.T) {
	server := newRecordingServer(t, func(call int, w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, `{}`)
	})

	client := newTestClient(t, server.URL)
	_, err := client.UpdatePrices(context.Background(), []PriceUpdate{
		{"nmId": 1, "price": 1500},
		{"price": 900},
	}, UpdateOptions{})

	require.Error(t, err)
	assert.True(t, IsKind(err, KindConfiguration))
	assert.Equal(t, 0, server.calls())
}

// TestFetchPricesQueryParams verifies the GET query assembly with the
// comma-joined identifier list.
func TestFetchPricesQueryParams(t *testing.T) {
	server := newRecordingServer(t, func(call int, w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, `{"data":[]}`)
	})

	client := newTestClient(t, server.URL)
	_, err := client.FetchPrices(context.Background(), PricesQuery{
		Limit:  10,
		Offset: 5,
		NMIDs:  []int64{123, 456},
	})
	require.NoError(t, err)

	sent := server.request(0)
	assert.Equal(t, http.MethodGet, sent.Method)
	assert.Equal(t, DefaultPricesListEndpoint, sent.Path)

	query, err := url.ParseQuery(sent.Query)
	require.NoError(t, err)
	assert.Equal(t, "10", query.Get("limit"))
	assert.Equal(t, "5", query.Get("offset"))
	assert.Equal(t, "123,456", query.Get("nmID"))
}

// TestFetchPricesOmitsZeroParams verifies that unset parameters stay out of
// the query string.
func TestFetchPricesOmitsZeroParams(t *testing.T) {
	server := newRecordingServer(t, func(call int, w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, `{"data":[]}`)
	})

	client := newTestClient(t, server.URL)
	_, err := client.FetchPrices(context.Background(), PricesQuery{})
	require.NoError(t, err)

	assert.Empty(t, server.request(0).Query)
}
