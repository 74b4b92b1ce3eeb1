// Package estpdf renders the customer-facing estimate PDF through the
// shared browser's print pipeline.
package estpdf

import (
	"context"
	"encoding/base64"
	"fmt"
	"html"
	"strings"

	"github.com/garagehq/advisor/pkg/browser"
	"github.com/garagehq/advisor/pkg/models"
	"github.com/garagehq/advisor/pkg/tabs"
)

const platform = "pdf-render"

// Renderer implements adapters.PDFRenderer.
type Renderer struct {
	driver   *browser.Driver
	registry *tabs.Registry
}

// New creates the renderer.
func New(driver *browser.Driver, registry *tabs.Registry) *Renderer {
	return &Renderer{driver: driver, registry: registry}
}

// Render lays the estimate out as HTML, loads it in a scratch tab, and
// prints it. Callers guarantee the pricing gate passed; a blocked result
// must never reach this path.
func (r *Renderer) Render(ctx context.Context, res *models.EstimateResult) (string, error) {
	tabID, err := r.driver.OpenTab(ctx, platform)
	if err != nil {
		return "", err
	}
	if err := r.registry.Acquire(ctx, tabID, platform, res.RunID); err != nil {
		return "", err
	}
	defer r.registry.Release(tabID)

	doc := buildHTML(res)
	dataURL := "data:text/html;base64," + base64.StdEncoding.EncodeToString([]byte(doc))
	if err := r.driver.Navigate(ctx, tabID, dataURL); err != nil {
		return "", err
	}
	r.registry.Touch(tabID)

	return r.driver.PrintPDF(ctx, tabID, "estimate-"+res.RunID)
}

func buildHTML(res *models.EstimateResult) string {
	var b strings.Builder
	b.WriteString("<!doctype html><html><head><meta charset=\"utf-8\"><title>Estimate</title></head><body>")
	fmt.Fprintf(&b, "<h1>Repair Estimate</h1><p>%s</p>", html.EscapeString(res.Vehicle.Display()))
	fmt.Fprintf(&b, "<p>Recommended repair: %s</p>", html.EscapeString(res.Plan.PrimaryCause))

	if res.Bundle != nil {
		b.WriteString("<h2>Parts</h2><ul>")
		for _, sel := range res.Bundle.Selections {
			if sel.Quote == nil {
				continue
			}
			fmt.Fprintf(&b, "<li>%s (%s)</li>",
				html.EscapeString(sel.Part.Name), html.EscapeString(sel.Quote.Brand))
		}
		b.WriteString("</ul>")
	}

	b.WriteString("<h2>Totals</h2><table>")
	fmt.Fprintf(&b, "<tr><td>Labor</td><td>$%.2f</td></tr>", res.Totals.LaborTotal)
	fmt.Fprintf(&b, "<tr><td>Parts</td><td>$%.2f</td></tr>", res.Totals.PartsRetailTotal)
	if res.Totals.Supplies > 0 {
		fmt.Fprintf(&b, "<tr><td>Shop supplies</td><td>$%.2f</td></tr>", res.Totals.Supplies)
	}
	if res.Totals.Tax > 0 {
		fmt.Fprintf(&b, "<tr><td>Tax</td><td>$%.2f</td></tr>", res.Totals.Tax)
	}
	fmt.Fprintf(&b, "<tr><td><strong>Total</strong></td><td><strong>$%.2f</strong></td></tr>", res.Totals.GrandTotal)
	b.WriteString("</table></body></html>")
	return b.String()
}
