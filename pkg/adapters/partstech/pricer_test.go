package partstech

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/garagehq/advisor/pkg/models"
)

func newAdapter(t *testing.T, handler http.HandlerFunc) *Adapter {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(srv.URL, 5*time.Second, nil, nil)
}

func quotesHandler(t *testing.T, searches *[]string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		*searches = append(*searches, body["search"].(string))
		_ = json.NewEncoder(w).Encode(map[string]any{
			"quotes": []map[string]any{
				{"brand": "Denso", "part_number": "234-4621", "supplier": "wd-1", "price": "$45.99", "in_stock": true},
			},
		})
	}
}

func TestAdapter_PriceUsesCanonicalSearchTerm(t *testing.T) {
	var searches []string
	a := newAdapter(t, quotesHandler(t, &searches))

	outcome, err := a.Price(context.Background(), models.Vehicle{Year: 2015, Make: "Toyota", Model: "Camry"},
		[]models.PartRequest{{Name: "oxygen sensor (downstream)", Qty: 1,
			SearchTerms: []string{"oxygen sensor downstream", "O2 sensor bank 1 sensor 2"}}})

	require.NoError(t, err)
	require.Len(t, outcome.Results, 1)
	require.NotNil(t, outcome.Results[0].Quote)
	assert.InDelta(t, 45.99, *outcome.Results[0].Quote.UnitPrice, 0.001)
	assert.Equal(t, []string{"oxygen sensor downstream"}, searches)
}

func TestAdapter_PriceFallsBackToPartName(t *testing.T) {
	var searches []string
	a := newAdapter(t, quotesHandler(t, &searches))

	outcome, err := a.Price(context.Background(), models.Vehicle{Year: 2015, Make: "Toyota", Model: "Camry"},
		[]models.PartRequest{{Name: "oxygen sensor", Qty: 1}})

	require.NoError(t, err)
	require.Len(t, outcome.Results, 1)
	require.NotNil(t, outcome.Results[0].Quote)
	assert.Equal(t, []string{"oxygen sensor"}, searches)
}

func TestAdapter_PriceNoPriceReason(t *testing.T) {
	a := newAdapter(t, func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"quotes": []map[string]any{
				{"brand": "NoName", "supplier": "wd-2", "price": "call for price", "in_stock": true},
			},
		})
	})

	outcome, err := a.Price(context.Background(), models.Vehicle{Year: 2015, Make: "Toyota", Model: "Camry"},
		[]models.PartRequest{{Name: "thermostat", Qty: 1, SearchTerms: []string{"thermostat"}}})

	require.NoError(t, err)
	require.Len(t, outcome.Results, 1)
	assert.Nil(t, outcome.Results[0].Quote)
	assert.Equal(t, "NO_PRICE", outcome.Results[0].ReasonCode)
}
