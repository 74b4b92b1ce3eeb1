// Package alldata is the API-class research adapter for the ALLDATA repair
// information service.
package alldata

import (
	"context"
	"time"

	"github.com/garagehq/advisor/pkg/adapters/httpapi"
	"github.com/garagehq/advisor/pkg/faults"
	"github.com/garagehq/advisor/pkg/models"
)

const sourceTag = "alldata"

// Adapter implements adapters.Research over the vendor's JSON API.
type Adapter struct {
	client *httpapi.Client
}

// New creates the adapter. token supplies the bearer token per call;
// onUnauthorized feeds 401s back to the session manager.
func New(baseURL string, timeout time.Duration, token func() string, onUnauthorized func()) *Adapter {
	c := httpapi.New(sourceTag, baseURL, timeout)
	c.Token = token
	c.OnUnauthorized = onUnauthorized
	return &Adapter{client: c}
}

func (a *Adapter) Name() string        { return sourceTag }
func (a *Adapter) BrowserDriven() bool { return false }

type searchResponse struct {
	Articles []struct {
		Title      string            `json:"title"`
		Procedure  string            `json:"procedure,omitempty"`
		LaborHours float64           `json:"labor_hours,omitempty"`
		Torque     map[string]string `json:"torque_specs,omitempty"`
		Tools      []string          `json:"tools,omitempty"`
	} `json:"articles"`
	TSBs []struct {
		ID    string `json:"id"`
		Title string `json:"title"`
		URL   string `json:"url"`
	} `json:"tsbs"`
}

// Search queries the vendor and maps articles into a research fragment.
// Partial payloads are normal; only a transport or auth failure is an error.
func (a *Adapter) Search(ctx context.Context, v models.Vehicle, query string, dtcs []string) (*models.ResearchFragment, error) {
	var resp searchResponse
	err := a.client.PostJSON(ctx, "/v1/search", map[string]any{
		"year":   v.Year,
		"make":   v.Make,
		"model":  v.Model,
		"engine": v.Engine,
		"query":  query,
		"dtcs":   dtcs,
	}, &resp)
	if err != nil {
		if faults.Is(err, faults.CodeNotFound) {
			return &models.ResearchFragment{Source: sourceTag}, nil
		}
		return nil, err
	}

	frag := &models.ResearchFragment{Source: sourceTag}
	var bestHours float64
	for _, art := range resp.Articles {
		if art.Procedure != "" {
			frag.Procedures = append(frag.Procedures, art.Procedure)
		}
		for component, spec := range art.Torque {
			if frag.TorqueSpecs == nil {
				frag.TorqueSpecs = make(map[string]string)
			}
			frag.TorqueSpecs[component] = spec
		}
		frag.Tools = append(frag.Tools, art.Tools...)
		if art.LaborHours > bestHours {
			bestHours = art.LaborHours
		}
	}
	if bestHours > 0 {
		frag.Labor = &models.Labor{Hours: bestHours, Source: sourceTag}
	}
	for _, t := range resp.TSBs {
		frag.TSBs = append(frag.TSBs, models.ExternalRef{ID: t.ID, Title: t.Title, URL: t.URL, Source: sourceTag})
	}
	return frag, nil
}
