package pipeline

import (
	"strings"

	"github.com/garagehq/advisor/pkg/models"
)

// cannedJob is a pre-built maintenance plan. Maintenance requests skip the
// diagnosis stage entirely; the job table supplies parts and labor directly.
type cannedJob struct {
	keywords []string
	summary  string
	parts    []models.PartRequest
	labor    models.Labor
	before   []string
	after    []string
}

var cannedJobs = []cannedJob{
	{
		keywords: []string{"oil change", "oil service", "oil and filter"},
		summary:  "scheduled maintenance: oil and filter service",
		parts: []models.PartRequest{
			{Name: "oil filter", Qty: 1, SearchTerms: []string{"oil filter"}},
			{Name: "drain plug gasket", Qty: 1, SearchTerms: []string{"drain plug gasket", "oil drain plug washer"}},
		},
		labor:  models.Labor{Hours: 0.6, Source: "shop_default", Category: "maintenance"},
		before: []string{"Note mileage; check for oil leaks at filter and drain plug"},
		after:  []string{"Verify oil level on dipstick; reset maintenance reminder"},
	},
	{
		keywords: []string{"tire rotation", "rotate tires"},
		summary:  "scheduled maintenance: tire rotation",
		labor:    models.Labor{Hours: 0.5, Source: "shop_default", Category: "maintenance", LiftRequired: true},
		after:    []string{"Torque lug nuts to spec; set tire pressures"},
	},
	{
		keywords: []string{"brake pads", "brake service"},
		summary:  "brake pad replacement",
		parts: []models.PartRequest{
			{Name: "brake pads", Position: "front", Qty: 1, SearchTerms: []string{"brake pad set front"}},
		},
		labor:  models.Labor{Hours: 1.8, Source: "shop_default", Category: "brakes", LiftRequired: true},
		before: []string{"Measure pad and rotor thickness; inspect calipers and hardware"},
		after:  []string{"Bed in pads; road test for pull and noise"},
	},
	{
		keywords: []string{"coolant flush"},
		summary:  "cooling system flush and fill",
		labor:    models.Labor{Hours: 1.2, Source: "shop_default", Category: "cooling"},
		after:    []string{"Pressure test system; verify no air pockets after warm-up"},
	},
	{
		keywords: []string{"air filter"},
		summary:  "engine air filter replacement",
		parts: []models.PartRequest{
			{Name: "engine air filter", Qty: 1, SearchTerms: []string{"engine air filter"}},
		},
		labor: models.Labor{Hours: 0.3, Source: "shop_default", Category: "maintenance"},
	},
	{
		keywords: []string{"cabin filter"},
		summary:  "cabin air filter replacement",
		parts: []models.PartRequest{
			{Name: "cabin air filter", Qty: 1, SearchTerms: []string{"cabin air filter"}},
		},
		labor: models.Labor{Hours: 0.3, Source: "shop_default", Category: "maintenance"},
	},
}

// seedFromCannedJob returns a plan for a recognized maintenance request, or
// nil when no job matches.
func seedFromCannedJob(query string) *models.RepairPlan {
	q := strings.ToLower(query)
	for _, job := range cannedJobs {
		for _, kw := range job.keywords {
			if !strings.Contains(q, kw) {
				continue
			}
			p := &models.RepairPlan{
				PrimaryCause: job.summary,
				Confidence:   0.9,
				Diagnoses: []models.Diagnosis{
					{Cause: job.summary, Confidence: 0.9, Primary: true},
				},
				Parts: append([]models.PartRequest(nil), job.parts...),
				Labor: job.labor,
				Verification: models.Verification{
					Before: append([]string(nil), job.before...),
					After:  append([]string(nil), job.after...),
				},
			}
			return p
		}
	}
	return nil
}
