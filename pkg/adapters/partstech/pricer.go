// Package partstech is the API-class parts pricing adapter (fallback
// pricing source).
package partstech

import (
	"context"
	"time"

	"github.com/garagehq/advisor/pkg/adapters/httpapi"
	"github.com/garagehq/advisor/pkg/models"
	"github.com/garagehq/advisor/pkg/pricing"
)

const sourceTag = "partstech"

// Adapter implements adapters.PartsPricer over the vendor's JSON API.
type Adapter struct {
	client *httpapi.Client
}

// New creates the adapter.
func New(baseURL string, timeout time.Duration, token func() string, onUnauthorized func()) *Adapter {
	c := httpapi.New(sourceTag, baseURL, timeout)
	c.Token = token
	c.OnUnauthorized = onUnauthorized
	return &Adapter{client: c}
}

func (a *Adapter) Name() string        { return sourceTag }
func (a *Adapter) BrowserDriven() bool { return false }

type quoteResponse struct {
	Quotes []struct {
		Brand        string `json:"brand"`
		PartNumber   string `json:"part_number"`
		Supplier     string `json:"supplier"`
		Price        string `json:"price"` // vendor returns display strings
		Availability string `json:"availability"`
		InStock      bool   `json:"in_stock"`
		OEM          bool   `json:"oem"`
	} `json:"quotes"`
}

// Price searches each part's canonical term and returns a quote or a
// NO_PRICE reason per part. Vendor price strings are normalized; a quote
// whose price normalizes to nil is reported without a unit price.
func (a *Adapter) Price(ctx context.Context, v models.Vehicle, parts []models.PartRequest) (*models.PricingOutcome, error) {
	outcome := &models.PricingOutcome{Source: sourceTag}
	for _, part := range parts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var resp quoteResponse
		err := a.client.PostJSON(ctx, "/v1/quotes", map[string]any{
			"year":   v.Year,
			"make":   v.Make,
			"model":  v.Model,
			"engine": v.Engine,
			"search": searchTerm(part),
		}, &resp)
		if err != nil {
			return nil, err
		}

		res := models.QuoteOutcome{Part: part}
		for _, q := range resp.Quotes {
			price := pricing.NormalizePrice(q.Price)
			if price == nil {
				continue
			}
			quote := models.PartQuote{
				Brand:        q.Brand,
				PartNumber:   q.PartNumber,
				Supplier:     q.Supplier,
				UnitPrice:    price,
				Availability: q.Availability,
				InStock:      q.InStock,
				OEM:          q.OEM,
				Source:       sourceTag,
			}
			if res.Quote == nil || betterQuote(quote, *res.Quote) {
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

// searchTerm picks the part's canonical search term, falling back to its
// name when the plan carries none.
func searchTerm(p models.PartRequest) string {
	if len(p.SearchTerms) > 0 {
		return p.SearchTerms[0]
	}
	return p.Name
}

func betterQuote(a, b models.PartQuote) bool {
	if a.InStock != b.InStock {
		return a.InStock
	}
	return *a.UnitPrice < *b.UnitPrice
}
