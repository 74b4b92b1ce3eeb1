package autoleap

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/garagehq/advisor/pkg/adapters"
	"github.com/garagehq/advisor/pkg/faults"
	"github.com/garagehq/advisor/pkg/models"
)

func draft(chatID, runID string) adapters.EstimateDraft {
	price := 64.50
	return adapters.EstimateDraft{
		ChatID:   chatID,
		RunID:    runID,
		Customer: models.CustomerHints{Name: "Jane Doe", Phone: "555-0100"},
		Vehicle:  models.Vehicle{Year: 2019, Make: "Honda", Model: "Civic"},
		Bundle: &models.PartsBundle{
			Selections: []models.QuoteOutcome{
				{
					Part:  models.PartRequest{Name: "oxygen sensor (downstream)", Qty: 1, SearchTerms: []string{"oxygen sensor"}},
					Quote: &models.PartQuote{Supplier: "X", Brand: "Denso", UnitPrice: &price, InStock: true, Source: "partstech"},
				},
			},
			PartsCost: 64.50,
		},
		Labor:     &models.LaborResult{Hours: 1.2, Source: "motor", Operation: "replace downstream O2 sensor"},
		Diagnosis: "downstream O2 sensor degraded",
	}
}

func newSink(t *testing.T, handler http.HandlerFunc) *Sink {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(srv.URL, "shop-1", 5*time.Second, func() string { return "tok" }, nil)
}

func TestSink_Create(t *testing.T) {
	var gotKey string
	s := newSink(t, func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		gotKey, _ = body["idempotency_key"].(string)
		assert.Equal(t, "shop-1", body["shop_id"])
		_ = json.NewEncoder(w).Encode(map[string]any{
			"estimate_id": "EST-1", "estimate_code": "A-100", "total": 389.50,
		})
	})

	rec, err := s.Create(context.Background(), draft("chat-1", "run-1"))

	require.NoError(t, err)
	assert.Equal(t, "EST-1", rec.EstimateID)
	assert.Equal(t, "A-100", rec.EstimateCode)
	assert.InDelta(t, 389.50, rec.Total, 0.001)
	assert.Equal(t, "autoleap", rec.Source)
	assert.Equal(t, "chat-1/run-1", gotKey)
}

func TestSink_CreateIdempotentOnReplay(t *testing.T) {
	var calls int32
	s := newSink(t, func(w http.ResponseWriter, _ *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"estimate_id": "EST-" + string(rune('0'+n)), "total": 100.0,
		})
	})

	first, err := s.Create(context.Background(), draft("chat-1", "run-1"))
	require.NoError(t, err)
	replay, err := s.Create(context.Background(), draft("chat-1", "run-1"))
	require.NoError(t, err)

	assert.Equal(t, first.EstimateID, replay.EstimateID)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))

	// A new run is a new estimate.
	second, err := s.Create(context.Background(), draft("chat-1", "run-2"))
	require.NoError(t, err)
	assert.NotEqual(t, first.EstimateID, second.EstimateID)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestSink_CreateUnauthorized(t *testing.T) {
	unauthorized := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	t.Cleanup(srv.Close)
	s := New(srv.URL, "shop-1", 5*time.Second, func() string { return "stale" }, func() { unauthorized = true })

	_, err := s.Create(context.Background(), draft("chat-1", "run-1"))

	require.Error(t, err)
	assert.True(t, faults.Is(err, faults.CodeAuthFailed))
	assert.True(t, unauthorized)
}

func TestSink_CreateMissingID(t *testing.T) {
	s := newSink(t, func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"total": 10.0})
	})

	_, err := s.Create(context.Background(), draft("chat-1", "run-1"))
	require.Error(t, err)
}
