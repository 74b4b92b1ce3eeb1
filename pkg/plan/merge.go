// Package plan merges research fragments into the canonical RepairPlan.
// Merge is a pure function: the base plan is never mutated, and applying the
// same fragment twice equals applying it once, which lets the scheduler
// complete sibling stages in any order.
package plan

import (
	"sort"
	"strings"

	"github.com/garagehq/advisor/pkg/models"
)

// laborPrecedence ranks labor sources, highest first. A merge replaces labor
// only when the incoming source ranks at least as high as the current one;
// ties between distinct tags break lexicographically (smaller tag wins) so
// merges stay order-independent.
var laborPrecedence = map[string]int{
	"MOTOR":        7,
	"shop_default": 6,
	"ari":          5,
	"labor_cache":  4,
	"prodemand":    3,
	"alldata":      2,
	"AI_fallback":  1,
	"default":      0,
}

// LaborRank returns the precedence rank of a labor source tag. Unknown tags
// rank below every known one.
func LaborRank(source string) int {
	if r, ok := laborPrecedence[source]; ok {
		return r
	}
	return -1
}

// laborUpgrades reports whether incoming should replace current.
func laborUpgrades(current, incoming models.Labor) bool {
	if incoming.Hours < 0 {
		return false
	}
	if current.Source == "" && current.Hours == 0 {
		return true
	}
	cr, ir := LaborRank(current.Source), LaborRank(incoming.Source)
	if ir != cr {
		return ir > cr
	}
	if incoming.Source == current.Source {
		return true
	}
	// Equal rank, distinct tags: lexicographic total order as the tie-break.
	return incoming.Source < current.Source
}

const (
	corroborationBonus  = 0.05
	confidenceCap       = 0.95
	confidenceFloor     = 0.05
	historyDeltaLimit   = 0.2
	corroborationThresh = 50.0 // success rate percent
)

// Merge applies one research fragment to a plan and returns the merged copy.
func Merge(base models.RepairPlan, frag *models.ResearchFragment) models.RepairPlan {
	out := base.Clone()
	if frag == nil {
		return out
	}

	mergeLabor(&out, frag)
	mergeTorqueAndTools(&out, frag)
	mergeDiagnoses(&out, frag)
	mergeParts(&out, frag)

	out.TSBs = unionRefs(out.TSBs, frag.TSBs)
	out.Recalls = unionRefs(out.Recalls, frag.Recalls)
	for _, p := range frag.Procedures {
		if !containsString(out.Verification.Before, p) {
			out.Verification.Before = append(out.Verification.Before, p)
		}
	}
	return out
}

func mergeLabor(out *models.RepairPlan, frag *models.ResearchFragment) {
	if frag.Labor == nil {
		return
	}
	incoming := *frag.Labor
	if incoming.Source == "" {
		incoming.Source = frag.Source
	}
	if laborUpgrades(out.Labor, incoming) {
		out.Labor = incoming
	}
}

func mergeTorqueAndTools(out *models.RepairPlan, frag *models.ResearchFragment) {
	if len(frag.TorqueSpecs) > 0 && out.TorqueSpecs == nil {
		out.TorqueSpecs = make(map[string]models.TorqueSpec, len(frag.TorqueSpecs))
	}
	for component, spec := range frag.TorqueSpecs {
		// Union; later (higher-precedence) source wins on conflict, with
		// the platform recorded per entry.
		out.TorqueSpecs[component] = models.TorqueSpec{Spec: spec, Platform: frag.Source}
	}
	for _, tool := range frag.Tools {
		if !containsFold(out.Tools, tool) {
			out.Tools = append(out.Tools, tool)
		}
	}
}

func mergeDiagnoses(out *models.RepairPlan, frag *models.ResearchFragment) {
	for _, fd := range frag.Diagnoses {
		idx := matchDiagnosis(out.Diagnoses, fd.Cause)
		if idx < 0 {
			continue // fragments never extend the ordered diagnosis list
		}
		if fd.SuccessRate >= corroborationThresh {
			d := &out.Diagnoses[idx]
			if !d.IdentifixCorroborated {
				d.IdentifixCorroborated = true
				d.Confidence = capAt(d.Confidence+corroborationBonus, confidenceCap)
				if d.Primary || idx == 0 {
					out.Confidence = capAt(out.Confidence+corroborationBonus, confidenceCap)
				}
			}
		}
	}
}

func mergeParts(out *models.RepairPlan, frag *models.ResearchFragment) {
	if frag.Seeding && len(frag.Parts) > 0 {
		out.Parts = append([]models.PartRequest(nil), frag.Parts...)
		return
	}
	// Subsequent fragments may annotate but never re-order or truncate.
	for i := range out.Parts {
		if hint, ok := frag.PartHints[strings.ToLower(out.Parts[i].Name)]; ok && out.Parts[i].Position == "" {
			out.Parts[i].Position = hint
		}
	}
}

// matchDiagnosis finds an existing diagnosis sharing at least two multi-char
// words with cause, returning its index or -1.
func matchDiagnosis(existing []models.Diagnosis, cause string) int {
	words := significantWords(cause)
	for i, d := range existing {
		shared := 0
		have := significantWords(d.Cause)
		for w := range words {
			if have[w] {
				shared++
			}
		}
		if shared >= 2 {
			return i
		}
	}
	return -1
}

func significantWords(s string) map[string]bool {
	out := make(map[string]bool)
	for _, w := range strings.Fields(strings.ToLower(s)) {
		w = strings.Trim(w, ".,;:()[]")
		if len(w) > 1 {
			out[w] = true
		}
	}
	return out
}

// ApplyHistoryDelta applies the prior-repair signal to the top diagnosis.
// The delta is clamped to [-0.2, +0.2] and the resulting confidence to
// [0.05, 0.95]. Returns the adjusted copy; idempotence is up to the caller
// (the orchestrator applies it once).
func ApplyHistoryDelta(base models.RepairPlan, delta float64) models.RepairPlan {
	out := base.Clone()
	top := out.TopDiagnosis()
	if top == nil {
		return out
	}
	if delta > historyDeltaLimit {
		delta = historyDeltaLimit
	} else if delta < -historyDeltaLimit {
		delta = -historyDeltaLimit
	}
	top.Confidence = clamp(top.Confidence+delta, confidenceFloor, confidenceCap)
	top.HistoryAdjusted = true
	out.Confidence = clamp(out.Confidence+delta, confidenceFloor, confidenceCap)
	return out
}

// MergeAll applies fragments in a deterministic linear order: the caller's
// slice order is assumed topological by stage dependency; siblings are
// ordered by stable source tag before merging.
func MergeAll(base models.RepairPlan, frags []*models.ResearchFragment) models.RepairPlan {
	sorted := make([]*models.ResearchFragment, len(frags))
	copy(sorted, frags)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Source < sorted[j].Source
	})
	out := base
	for _, f := range sorted {
		out = Merge(out, f)
	}
	return out
}

func capAt(v, max float64) float64 {
	if v > max {
		return max
	}
	return v
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func containsString(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}

func containsFold(haystack []string, needle string) bool {
	for _, s := range haystack {
		if strings.EqualFold(s, needle) {
			return true
		}
	}
	return false
}

func unionRefs(cur, add []models.ExternalRef) []models.ExternalRef {
	for _, r := range add {
		dup := false
		for _, c := range cur {
			if c.ID == r.ID {
				dup = true
				break
			}
		}
		if !dup {
			cur = append(cur, r)
		}
	}
	return cur
}
