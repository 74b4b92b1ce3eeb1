// Package kb queries the diagnosis knowledge base. The vector store itself
// is an external collaborator; this client speaks its HTTP lookup API and
// falls back to a builtin table of well-known trouble codes when no
// connection is configured.
package kb

import (
	"context"
	"strings"
	"time"

	"github.com/garagehq/advisor/pkg/adapters/httpapi"
	"github.com/garagehq/advisor/pkg/faults"
	"github.com/garagehq/advisor/pkg/models"
)

// Answer is the knowledge base's response for one query.
type Answer struct {
	Diagnoses    []models.Diagnosis   `json:"diagnoses"`
	Parts        []models.PartRequest `json:"parts,omitempty"`
	LaborHint    *models.Labor        `json:"labor_hint,omitempty"`
	Verification models.Verification  `json:"verification,omitempty"`
}

// Confidence returns the top diagnosis confidence, or 0.
func (a *Answer) Confidence() float64 {
	if a == nil || len(a.Diagnoses) == 0 {
		return 0
	}
	return a.Diagnoses[0].Confidence
}

// Client looks up diagnoses. A nil remote means builtin-only.
type Client struct {
	remote *httpapi.Client
}

// New creates a client. baseURL empty disables the remote lookup; the
// builtin table still answers common codes.
func New(baseURL string, timeout time.Duration) *Client {
	c := &Client{}
	if baseURL != "" {
		c.remote = httpapi.New("knowledge-base", baseURL, timeout)
	}
	return c
}

// Lookup queries the knowledge base for a vehicle + complaint. A miss
// returns NOT_FOUND rather than an empty answer.
func (c *Client) Lookup(ctx context.Context, v models.Vehicle, query string, dtcs []string) (*Answer, error) {
	if c.remote != nil {
		var ans Answer
		err := c.remote.PostJSON(ctx, "/lookup", map[string]any{
			"vehicle": v,
			"query":   query,
			"dtcs":    dtcs,
		}, &ans)
		if err == nil && len(ans.Diagnoses) > 0 {
			for i := range ans.Diagnoses {
				ans.Diagnoses[i].FromKnowledgeBase = true
			}
			for i := range ans.Parts {
				if len(ans.Parts[i].SearchTerms) == 0 {
					ans.Parts[i].SearchTerms = []string{ans.Parts[i].Name}
				}
			}
			return &ans, nil
		}
		if err != nil && !faults.Is(err, faults.CodeNotFound) {
			return nil, err
		}
	}
	if ans := builtinLookup(dtcs, query); ans != nil {
		return ans, nil
	}
	return nil, faults.New(faults.CodeNotFound, "knowledge-base", "no match for query")
}

// builtinLookup answers the handful of trouble codes and maintenance jobs
// frequent enough to hard-code. Confidence values are deliberately below
// the direct-answer threshold for keyword-only matches.
func builtinLookup(dtcs []string, query string) *Answer {
	for _, code := range dtcs {
		if e, ok := builtinDTCs[strings.ToUpper(code)]; ok {
			return e()
		}
	}
	q := strings.ToLower(query)
	for keyword, entry := range builtinKeywords {
		if strings.Contains(q, keyword) {
			return entry()
		}
	}
	return nil
}

func part(name, position string, qty int, terms ...string) models.PartRequest {
	if len(terms) == 0 {
		terms = []string{name}
	}
	return models.PartRequest{Name: name, Position: position, Qty: qty, SearchTerms: terms}
}

var builtinDTCs = map[string]func() *Answer{
	"P0420": func() *Answer {
		return &Answer{
			Diagnoses: []models.Diagnosis{
				{Cause: "downstream O2 sensor degraded", Confidence: 0.72, Primary: true, FromKnowledgeBase: true,
					Parts: []string{"oxygen sensor (downstream)"}},
				{Cause: "catalytic converter below efficiency threshold", Confidence: 0.55, FromKnowledgeBase: true,
					Parts: []string{"catalytic converter"}},
			},
			Parts: []models.PartRequest{
				part("oxygen sensor (downstream)", "downstream", 1, "oxygen sensor downstream", "O2 sensor bank 1 sensor 2"),
			},
			LaborHint: &models.Labor{Hours: 1.0, Source: "default", Category: "emissions"},
			Verification: models.Verification{
				Before: []string{"Verify code with scan tool; check fuel trims and O2 sensor waveform"},
				After:  []string{"Clear codes, complete drive cycle, confirm catalyst monitor ready"},
			},
		}
	},
	"P0300": func() *Answer {
		return &Answer{
			Diagnoses: []models.Diagnosis{
				{Cause: "worn ignition components causing random misfire", Confidence: 0.6, Primary: true, FromKnowledgeBase: true,
					Parts: []string{"spark plugs", "ignition coil"}},
				{Cause: "vacuum leak at intake", Confidence: 0.45, FromKnowledgeBase: true},
			},
			Parts: []models.PartRequest{
				part("spark plugs", "", 0, "spark plug set"),
				part("ignition coil", "", 1, "ignition coil pack"),
			},
			LaborHint: &models.Labor{Hours: 1.5, Source: "default", Category: "drivability"},
			Verification: models.Verification{
				Before: []string{"Record misfire counters per cylinder; inspect plugs and coils"},
				After:  []string{"Road test; confirm no pending misfire codes"},
			},
		}
	},
}

var builtinKeywords = map[string]func() *Answer{
	"rough idle": builtinDTCs["P0300"],
	"oil change": func() *Answer {
		return &Answer{
			Diagnoses: []models.Diagnosis{
				{Cause: "scheduled maintenance: oil and filter service", Confidence: 0.9, Primary: true, FromKnowledgeBase: true},
			},
			Parts: []models.PartRequest{
				part("oil filter", "", 1),
				part("drain plug gasket", "", 1, "drain plug gasket", "oil drain plug washer"),
			},
			LaborHint: &models.Labor{Hours: 0.6, Source: "shop_default", Category: "maintenance"},
		}
	},
}
