// Package identifix is the browser-driven research adapter for the
// Identifix Direct-Hit community fix database. It drives the shared remote
// browser through the bridge; tab ownership comes from the tab registry and
// must be leased by the caller before Search runs.
package identifix

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/garagehq/advisor/pkg/adapters"
	"github.com/garagehq/advisor/pkg/browser"
	"github.com/garagehq/advisor/pkg/faults"
	"github.com/garagehq/advisor/pkg/models"
	"github.com/garagehq/advisor/pkg/tabs"
)

const sourceTag = "identifix"

// Adapter implements adapters.Research over the shared browser. Run identity
// for tab leases travels on the context.
type Adapter struct {
	driver   *browser.Driver
	registry *tabs.Registry
}

// New creates the adapter.
func New(driver *browser.Driver, registry *tabs.Registry) *Adapter {
	return &Adapter{driver: driver, registry: registry}
}

func (a *Adapter) Name() string        { return sourceTag }
func (a *Adapter) BrowserDriven() bool { return true }

// directHit is the payload shape of the "direct-hit" extraction recipe.
type directHit struct {
	Fixes []struct {
		Description string   `json:"description"`
		SuccessRate float64  `json:"success_rate"`
		Parts       []string `json:"parts"`
	} `json:"fixes"`
	Procedures []string          `json:"procedures"`
	Torque     map[string]string `json:"torque_specs"`
}

// Search opens the platform tab, runs the search, and extracts community
// fixes. The lease is acquired here and released on every exit path.
func (a *Adapter) Search(ctx context.Context, v models.Vehicle, query string, dtcs []string) (*models.ResearchFragment, error) {
	tabID, err := a.driver.OpenTab(ctx, sourceTag)
	if err != nil {
		return nil, err
	}
	if err := a.registry.Acquire(ctx, tabID, sourceTag, adapters.RunIDFrom(ctx)); err != nil {
		return nil, err
	}
	defer a.registry.Release(tabID)

	term := query
	if len(dtcs) > 0 {
		term = strings.Join(dtcs, " ")
	}
	searchURL := fmt.Sprintf("https://www.identifix.com/direct-hit/search?vehicle=%d+%s+%s&q=%s",
		v.Year, v.Make, v.Model, term)
	if err := a.driver.Navigate(ctx, tabID, searchURL); err != nil {
		return nil, err
	}
	a.registry.Touch(tabID)

	raw, err := a.driver.Extract(ctx, tabID, "direct-hit", map[string]any{"query": term})
	if err != nil {
		return nil, err
	}
	a.registry.Touch(tabID)

	var hit directHit
	if err := json.Unmarshal(raw, &hit); err != nil {
		return nil, faults.New(faults.CodeParseError, sourceTag, "decoding direct-hit payload: %v", err)
	}

	frag := &models.ResearchFragment{Source: sourceTag, TorqueSpecs: hit.Torque}
	for _, fix := range hit.Fixes {
		frag.Fixes = append(frag.Fixes, fix.Description)
		frag.Diagnoses = append(frag.Diagnoses, models.FragmentDiagnosis{
			Cause:       fix.Description,
			SuccessRate: fix.SuccessRate,
			Parts:       fix.Parts,
		})
	}
	frag.Procedures = append(frag.Procedures, hit.Procedures...)

	if shot, err := a.driver.Screenshot(ctx, tabID, sourceTag); err == nil {
		frag.Screenshots = append(frag.Screenshots, shot)
	}
	return frag, nil
}
