package pricing

import (
	"sort"
	"strings"

	"github.com/garagehq/advisor/pkg/models"
)

// SelectBundle picks the best-value quote per part from one or more adapter
// outcomes. In-stock quotes beat out-of-stock ones; among equals the lowest
// unit price wins, then the lexicographically smaller supplier for
// determinism. Parts with no usable quote keep a nil selection with a
// NO_PRICE reason.
func SelectBundle(parts []models.PartRequest, outcomes []*models.PricingOutcome) *models.PartsBundle {
	bundle := &models.PartsBundle{AllInStock: true}
	suppliers := make(map[string]bool)

	for _, part := range parts {
		var best *models.PartQuote
		var alternatives []models.PartQuote
		for _, outcome := range outcomes {
			if outcome == nil {
				continue
			}
			for _, res := range outcome.Results {
				if !samePart(res.Part, part) || res.Quote == nil || res.Quote.UnitPrice == nil {
					continue
				}
				q := *res.Quote
				if better(&q, best) {
					if best != nil {
						alternatives = append(alternatives, *best)
					}
					best = &q
				} else {
					alternatives = append(alternatives, q)
				}
			}
		}

		sel := models.QuoteOutcome{Part: part}
		if best != nil {
			sel.Quote = best
			bundle.PartsCost += *best.UnitPrice * float64(qty(part))
			suppliers[best.Supplier] = true
			if !best.InStock {
				bundle.AllInStock = false
			}
		} else {
			sel.ReasonCode = "NO_PRICE"
			bundle.AllInStock = false
		}
		bundle.Selections = append(bundle.Selections, sel)

		for _, alt := range alternatives {
			if alt.OEM {
				bundle.OEMAlternatives = append(bundle.OEMAlternatives, alt)
			}
		}
	}

	for s := range suppliers {
		bundle.Suppliers = append(bundle.Suppliers, s)
	}
	sort.Strings(bundle.Suppliers)
	return bundle
}

func qty(p models.PartRequest) int {
	if p.Qty > 0 {
		return p.Qty
	}
	return 1
}

func samePart(a, b models.PartRequest) bool {
	return strings.EqualFold(a.Name, b.Name) &&
		strings.EqualFold(a.Position, b.Position)
}

func better(candidate, incumbent *models.PartQuote) bool {
	if incumbent == nil {
		return true
	}
	if candidate.InStock != incumbent.InStock {
		return candidate.InStock
	}
	if *candidate.UnitPrice != *incumbent.UnitPrice {
		return *candidate.UnitPrice < *incumbent.UnitPrice
	}
	return candidate.Supplier < incumbent.Supplier
}

// Priced reports whether the bundle has at least one selected quote.
func Priced(b *models.PartsBundle) bool {
	if b == nil {
		return false
	}
	for _, s := range b.Selections {
		if s.Quote != nil {
			return true
		}
	}
	return false
}
