// Package motor is the labor-time lookup adapter for the MOTOR flat-rate
// guide API.
package motor

import (
	"context"
	"time"

	"github.com/garagehq/advisor/pkg/adapters/httpapi"
	"github.com/garagehq/advisor/pkg/faults"
	"github.com/garagehq/advisor/pkg/models"
)

const sourceTag = "MOTOR"

// Adapter implements adapters.LaborLookup.
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

func (a *Adapter) Name() string { return sourceTag }

type hoursResponse struct {
	Operations []struct {
		Name  string  `json:"name"`
		Hours float64 `json:"hours"`
		Skill string  `json:"skill,omitempty"`
	} `json:"operations"`
}

// Hours looks up the flat-rate time for a procedure. An empty result is
// NOT_FOUND; hours of zero or less are INVALID_LABOR data attached to the
// result, not an error.
func (a *Adapter) Hours(ctx context.Context, v models.Vehicle, procedure string) (*models.LaborResult, error) {
	var resp hoursResponse
	err := a.client.PostJSON(ctx, "/v2/labor/estimate", map[string]any{
		"year":      v.Year,
		"make":      v.Make,
		"model":     v.Model,
		"engine":    v.Engine,
		"operation": procedure,
	}, &resp)
	if err != nil {
		return nil, err
	}
	if len(resp.Operations) == 0 {
		return nil, faults.New(faults.CodeNotFound, sourceTag, "no operation match for %q", procedure)
	}

	op := resp.Operations[0]
	res := &models.LaborResult{
		Hours:      op.Hours,
		Source:     sourceTag,
		Operation:  op.Name,
		Confidence: 0.9,
	}
	if op.Hours <= 0 {
		res.Hours = 0
		res.ReasonCode = string(faults.CodeInvalidLabor)
	}
	return res, nil
}
