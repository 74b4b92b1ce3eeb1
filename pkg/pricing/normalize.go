// Package pricing normalizes vendor price strings, selects the best-value
// parts bundle, and applies the pricing gate that decides whether an
// estimate may be shown to an external customer.
package pricing

import (
	"math"
	"strconv"
	"strings"
)

// NormalizePrice parses a vendor price string into a unit price. Returns nil
// for anything that is not a strictly positive number: "N/A", "Call", "",
// "$0.00", negatives, and non-numeric noise all normalize to nil.
func NormalizePrice(raw string) *float64 {
	s := strings.TrimSpace(raw)
	if s == "" {
		return nil
	}
	switch strings.ToLower(s) {
	case "n/a", "na", "call", "call for price", "tbd", "--", "-":
		return nil
	}
	s = strings.ReplaceAll(s, "$", "")
	s = strings.ReplaceAll(s, ",", "")
	s = strings.TrimSpace(s)
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	if v <= 0 {
		return nil
	}
	v = roundCents(v)
	return &v
}

// NormalizeValue applies the same strictly-positive rule to an already
// numeric price.
func NormalizeValue(v float64) *float64 {
	if v <= 0 || math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	v = roundCents(v)
	return &v
}

// roundCents rounds half-up to two decimal places.
func roundCents(v float64) float64 {
	return math.Round(v*100) / 100
}

// Retail applies the shop markup percentage multiplicatively to a wholesale
// cost and rounds to cents.
func Retail(wholesale, markupPercent float64) float64 {
	return roundCents(wholesale * (1 + markupPercent/100))
}
