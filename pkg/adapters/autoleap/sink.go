// Package autoleap is the shop-management estimate sink. Estimates created
// here carry native retail pricing; when creation fails the pipeline falls
// back to matrix pricing and the gate decides what the customer may see.
package autoleap

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/garagehq/advisor/pkg/adapters"
	"github.com/garagehq/advisor/pkg/adapters/httpapi"
	"github.com/garagehq/advisor/pkg/models"
)

const sourceTag = "autoleap"

// Sink implements adapters.EstimateSink. Creation is idempotent on
// (chat_id, run_id): the idempotency key is sent to the vendor and the
// created record is memoized locally so a retry never creates two
// estimates.
type Sink struct {
	client *httpapi.Client
	shopID string

	mu      sync.Mutex
	created map[string]*models.EstimateRecord // idempotency key -> record
}

// New creates the sink.
func New(baseURL, shopID string, timeout time.Duration, token func() string, onUnauthorized func()) *Sink {
	c := httpapi.New(sourceTag, baseURL, timeout)
	c.Token = token
	c.OnUnauthorized = onUnauthorized
	return &Sink{client: c, shopID: shopID, created: make(map[string]*models.EstimateRecord)}
}

func (s *Sink) Name() string { return sourceTag }

func idemKey(chatID, runID string) string { return chatID + "/" + runID }

type createResponse struct {
	EstimateID   string  `json:"estimate_id"`
	EstimateCode string  `json:"estimate_code"`
	Total        float64 `json:"total"`
}

// Create creates the estimate with customer, vehicle, parts, and labor
// lines. A replay with the same (chat_id, run_id) returns the original
// record.
func (s *Sink) Create(ctx context.Context, draft adapters.EstimateDraft) (*models.EstimateRecord, error) {
	key := idemKey(draft.ChatID, draft.RunID)
	s.mu.Lock()
	if rec, ok := s.created[key]; ok {
		s.mu.Unlock()
		return rec, nil
	}
	s.mu.Unlock()

	lines := make([]map[string]any, 0)
	if draft.Bundle != nil {
		for _, sel := range draft.Bundle.Selections {
			if sel.Quote == nil {
				continue
			}
			lines = append(lines, map[string]any{
				"type":        "part",
				"description": sel.Part.Name,
				"part_number": sel.Quote.PartNumber,
				"qty":         qty(sel.Part),
				"unit_cost":   *sel.Quote.UnitPrice,
			})
		}
	}
	if draft.Labor != nil && draft.Labor.Hours > 0 {
		lines = append(lines, map[string]any{
			"type":        "labor",
			"description": draft.Labor.Operation,
			"hours":       draft.Labor.Hours,
		})
	}

	var resp createResponse
	err := s.client.PostJSON(ctx, "/v1/estimates", map[string]any{
		"idempotency_key": key,
		"shop_id":         s.shopID,
		"customer": map[string]any{
			"name":  draft.Customer.Name,
			"phone": draft.Customer.Phone,
		},
		"vehicle": map[string]any{
			"vin":   draft.Vehicle.VIN,
			"year":  draft.Vehicle.Year,
			"make":  draft.Vehicle.Make,
			"model": draft.Vehicle.Model,
		},
		"diagnosis": draft.Diagnosis,
		"lines":     lines,
	}, &resp)
	if err != nil {
		return nil, err
	}
	if resp.EstimateID == "" {
		return nil, fmt.Errorf("estimate created without id")
	}

	rec := &models.EstimateRecord{
		EstimateID:   resp.EstimateID,
		EstimateCode: resp.EstimateCode,
		Total:        resp.Total,
		Source:       sourceTag,
	}
	s.mu.Lock()
	s.created[key] = rec
	s.mu.Unlock()
	return rec, nil
}

func qty(p models.PartRequest) int {
	if p.Qty > 0 {
		return p.Qty
	}
	return 1
}
