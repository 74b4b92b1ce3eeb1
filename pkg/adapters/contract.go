// Package adapters defines the four source ports the orchestrator sees.
// Implementations differ widely (HTTP JSON vs browser-driven) but the
// pipeline only ever holds the port. Every operation takes a context
// carrying the stage deadline and run identity; returned values never
// contain raw vendor-site strings beyond normalization.
package adapters

import (
	"context"

	"github.com/garagehq/advisor/pkg/models"
)

type runIDKey struct{}

// WithRunID stamps the run identity onto a context. Browser-driven adapters
// read it when acquiring tab leases.
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, runIDKey{}, runID)
}

// RunIDFrom extracts the run identity, or "" when absent.
func RunIDFrom(ctx context.Context) string {
	if v, ok := ctx.Value(runIDKey{}).(string); ok {
		return v
	}
	return ""
}

// VINDecoder resolves a 17-character VIN into a structured Vehicle.
type VINDecoder interface {
	Decode(ctx context.Context, vin string) (models.Vehicle, error)
}

// Research searches one platform for fixes, procedures, torque specs, labor
// times, TSBs, and screenshots. Partial success is normal: missing fields
// are empty, not errors. Fails with PLATFORM_DOWN or AUTH_FAILED.
type Research interface {
	// Name is the stable source tag used by merge precedence.
	Name() string
	// BrowserDriven marks adapters that hold the shared-browser resource.
	BrowserDriven() bool
	Search(ctx context.Context, v models.Vehicle, query string, dtcs []string) (*models.ResearchFragment, error)
}

// PartsPricer prices a parts list, returning a quote or a reason code per
// part. Unit prices are normalized; never negative or zero.
type PartsPricer interface {
	Name() string
	BrowserDriven() bool
	Price(ctx context.Context, v models.Vehicle, parts []models.PartRequest) (*models.PricingOutcome, error)
}

// LaborLookup returns labor hours for a procedure, or NOT_FOUND.
type LaborLookup interface {
	Name() string
	Hours(ctx context.Context, v models.Vehicle, procedure string) (*models.LaborResult, error)
}

// EstimateDraft is the input to estimate creation.
type EstimateDraft struct {
	ChatID    string
	RunID     string
	Customer  models.CustomerHints
	Vehicle   models.Vehicle
	Bundle    *models.PartsBundle
	Labor     *models.LaborResult
	Diagnosis string
	Totals    models.Totals
}

// EstimateSink creates the estimate on the shop-management platform.
// Idempotent on (chat_id, run_id): retrying must not create two estimates.
type EstimateSink interface {
	Name() string
	Create(ctx context.Context, draft EstimateDraft) (*models.EstimateRecord, error)
}

// CartStager pre-stages selected parts in the vendor's cart ahead of
// approval. Idempotent on run_id.
type CartStager interface {
	Name() string
	StageCart(ctx context.Context, runID string, selections []models.QuoteOutcome) error
}

// PartsOrderer submits a staged cart as an order (follow-up actions).
type PartsOrderer interface {
	Name() string
	OrderParts(ctx context.Context, runID string, selections []models.QuoteOutcome) (orderID string, err error)
}

// PDFRenderer renders the customer-facing estimate PDF. Rendering itself is
// an external collaborator; only the port matters here.
type PDFRenderer interface {
	Render(ctx context.Context, result *models.EstimateResult) (path string, err error)
}
