// Package nexpart is the browser-driven parts pricing adapter (primary
// wholesale source). It drives the shared browser through the bridge and
// also pre-stages carts and submits orders for the follow-up actions.
package nexpart

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/garagehq/advisor/pkg/adapters"
	"github.com/garagehq/advisor/pkg/browser"
	"github.com/garagehq/advisor/pkg/faults"
	"github.com/garagehq/advisor/pkg/models"
	"github.com/garagehq/advisor/pkg/pricing"
	"github.com/garagehq/advisor/pkg/tabs"
)

const sourceTag = "nexpart"

// Adapter implements adapters.PartsPricer, adapters.CartStager, and
// adapters.PartsOrderer over the shared browser. Run identity for tab leases
// travels on the context.
type Adapter struct {
	driver   *browser.Driver
	registry *tabs.Registry

	// Cart staging is idempotent on run_id; staged runs are remembered
	// process-wide for the life of the adapter.
	mu     sync.Mutex
	staged map[string]bool
}

// New creates the adapter.
func New(driver *browser.Driver, registry *tabs.Registry) *Adapter {
	return &Adapter{driver: driver, registry: registry, staged: make(map[string]bool)}
}

func (a *Adapter) Name() string        { return sourceTag }
func (a *Adapter) BrowserDriven() bool { return true }

type searchPayload struct {
	Results []struct {
		Brand        string `json:"brand"`
		PartNumber   string `json:"part_number"`
		Price        string `json:"price"`
		Availability string `json:"availability"`
		InStock      bool   `json:"in_stock"`
		OEM          bool   `json:"oem"`
	} `json:"results"`
}

// Price runs one search per part on the vendor site and extracts the
// results grid.
func (a *Adapter) Price(ctx context.Context, v models.Vehicle, parts []models.PartRequest) (*models.PricingOutcome, error) {
	tabID, err := a.driver.OpenTab(ctx, sourceTag)
	if err != nil {
		return nil, err
	}
	if err := a.registry.Acquire(ctx, tabID, sourceTag, adapters.RunIDFrom(ctx)); err != nil {
		return nil, err
	}
	defer a.registry.Release(tabID)

	outcome := &models.PricingOutcome{Source: sourceTag}
	for _, part := range parts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		raw, err := a.driver.Extract(ctx, tabID, "parts-search", map[string]any{
			"vehicle": fmt.Sprintf("%d %s %s %s", v.Year, v.Make, v.Model, v.Engine),
			"term":    searchTerm(part),
		})
		if err != nil {
			return nil, err
		}
		a.registry.Touch(tabID)

		var payload searchPayload
		if err := json.Unmarshal(raw, &payload); err != nil {
			return nil, faults.New(faults.CodeParseError, sourceTag, "decoding search payload: %v", err)
		}

		res := models.QuoteOutcome{Part: part}
		for _, r := range payload.Results {
			price := pricing.NormalizePrice(r.Price)
			if price == nil {
				continue
			}
			quote := models.PartQuote{
				Brand:        r.Brand,
				PartNumber:   r.PartNumber,
				Supplier:     sourceTag,
				UnitPrice:    price,
				Availability: r.Availability,
				InStock:      r.InStock,
				OEM:          r.OEM,
				Source:       sourceTag,
			}
			if res.Quote == nil ||
				(quote.InStock && !res.Quote.InStock) ||
				(quote.InStock == res.Quote.InStock && *quote.UnitPrice < *res.Quote.UnitPrice) {
				res.Quote = &quote
			}
		}
		if res.Quote == nil {
			res.ReasonCode = "NO_PRICE"
		}
		outcome.Results = append(outcome.Results, res)
	}
	return outcome, nil
}

// StageCart holds the non-conditional selected parts in the vendor cart
// ahead of approval. Idempotent on run_id.
func (a *Adapter) StageCart(ctx context.Context, runID string, selections []models.QuoteOutcome) error {
	a.mu.Lock()
	if a.staged[runID] {
		a.mu.Unlock()
		return nil
	}
	a.mu.Unlock()

	tabID, err := a.driver.OpenTab(ctx, sourceTag)
	if err != nil {
		return err
	}
	if err := a.registry.Acquire(ctx, tabID, sourceTag, runID); err != nil {
		return err
	}
	defer a.registry.Release(tabID)

	for _, sel := range selections {
		if sel.Quote == nil || sel.Part.Conditional {
			continue
		}
		if _, err := a.driver.Extract(ctx, tabID, "add-to-cart", map[string]any{
			"part_number": sel.Quote.PartNumber,
			"qty":         maxInt(sel.Part.Qty, 1),
		}); err != nil {
			return err
		}
		a.registry.Touch(tabID)
	}

	a.mu.Lock()
	a.staged[runID] = true
	a.mu.Unlock()
	return nil
}

// OrderParts submits the staged cart and returns the vendor order id.
func (a *Adapter) OrderParts(ctx context.Context, runID string, selections []models.QuoteOutcome) (string, error) {
	if err := a.StageCart(ctx, runID, selections); err != nil {
		return "", err
	}

	tabID, err := a.driver.OpenTab(ctx, sourceTag)
	if err != nil {
		return "", err
	}
	if err := a.registry.Acquire(ctx, tabID, sourceTag, runID); err != nil {
		return "", err
	}
	defer a.registry.Release(tabID)

	raw, err := a.driver.Extract(ctx, tabID, "submit-order", map[string]any{"run_id": runID})
	if err != nil {
		return "", err
	}
	var resp struct {
		OrderID string `json:"order_id"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil || resp.OrderID == "" {
		return "", faults.New(faults.CodeParseError, sourceTag, "order confirmation missing order id")
	}
	return resp.OrderID, nil
}

// searchTerm picks the part's canonical search term, falling back to its
// name when the plan carries none.
func searchTerm(p models.PartRequest) string {
	if len(p.SearchTerms) > 0 {
		return p.SearchTerms[0]
	}
	return p.Name
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
