package pipeline

import (
	"regexp"
	"strings"

	"github.com/garagehq/advisor/pkg/models"
)

var dtcInQuery = regexp.MustCompile(`\b[PBCUpbcu][0-9]{4}\b`)

var maintenanceKeywords = []string{
	"oil change", "tire rotation", "rotate tires", "brake pads", "brake service",
	"coolant flush", "transmission flush", "air filter", "cabin filter",
	"wiper blades", "alignment", "mile service", "scheduled maintenance",
	"tune up", "tune-up", "spark plug replacement",
}

var diagnosticKeywords = []string{
	"check engine", "misfire", "rough idle", "stall", "won't start", "wont start",
	"no start", "noise", "grinding", "squeal", "leak", "overheat", "smoke",
	"vibration", "hesitat", "shudder", "code",
}

// Classify partitions a query into diagnostic, maintenance, or general, and
// extracts the full DTC list (explicit plus any embedded in the query text).
// Any DTC forces the diagnostic path.
func Classify(query string, explicit []string) (models.RequestKind, []string) {
	seen := make(map[string]bool)
	var dtcs []string
	addDTC := func(code string) {
		code = strings.ToUpper(code)
		if models.ValidDTC(code) && !seen[code] {
			seen[code] = true
			dtcs = append(dtcs, code)
		}
	}
	for _, c := range explicit {
		addDTC(c)
	}
	for _, c := range dtcInQuery.FindAllString(query, -1) {
		addDTC(c)
	}
	if len(dtcs) > 0 {
		return models.RequestKindDiagnostic, dtcs
	}

	q := strings.ToLower(query)
	for _, kw := range maintenanceKeywords {
		if strings.Contains(q, kw) {
			return models.RequestKindMaintenance, nil
		}
	}
	for _, kw := range diagnosticKeywords {
		if strings.Contains(q, kw) {
			return models.RequestKindDiagnostic, nil
		}
	}
	return models.RequestKindGeneral, nil
}

// keywordParts is the last-resort part extraction from query keywords, used
// only when neither the seeded plan nor the diagnoses named any parts.
var keywordPartTable = []struct {
	keyword string
	part    models.PartRequest
}{
	{"battery", models.PartRequest{Name: "battery", Qty: 1, SearchTerms: []string{"battery"}}},
	{"alternator", models.PartRequest{Name: "alternator", Qty: 1, SearchTerms: []string{"alternator"}}},
	{"starter", models.PartRequest{Name: "starter motor", Qty: 1, SearchTerms: []string{"starter motor", "starter"}}},
	{"brake", models.PartRequest{Name: "brake pads", Position: "front", Qty: 1, SearchTerms: []string{"brake pad set front"}}},
	{"wiper", models.PartRequest{Name: "wiper blades", Qty: 2, SearchTerms: []string{"wiper blade"}}},
	{"thermostat", models.PartRequest{Name: "thermostat", Qty: 1, SearchTerms: []string{"engine coolant thermostat"}}},
}

func keywordParts(query string) []models.PartRequest {
	q := strings.ToLower(query)
	var out []models.PartRequest
	for _, row := range keywordPartTable {
		if strings.Contains(q, row.keyword) {
			out = append(out, row.part)
		}
	}
	return out
}
