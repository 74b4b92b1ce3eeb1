package models

// DiagnosticPath records how the diagnosis was produced.
type DiagnosticPath string

const (
	PathKBDirect     DiagnosticPath = "kb_direct"
	PathKBWithClaude DiagnosticPath = "kb_with_claude"
	PathClaudeOnly   DiagnosticPath = "claude_only"
)

// Diagnosis is one candidate cause with its confidence and origin flags.
type Diagnosis struct {
	Cause                 string   `json:"cause"`
	Confidence            float64  `json:"confidence"` // [0,1]
	Primary               bool     `json:"primary,omitempty"`
	Parts                 []string `json:"parts,omitempty"`
	FromKnowledgeBase     bool     `json:"from_knowledge_base,omitempty"`
	IdentifixCorroborated bool     `json:"identifix_corroborated,omitempty"`
	HistoryAdjusted       bool     `json:"history_adjusted,omitempty"`
}

// PartRequest names one part the plan needs priced. SearchTerms is never
// empty; the first entry is the canonical term.
type PartRequest struct {
	Name         string   `json:"name"`
	Position     string   `json:"position,omitempty"` // e.g. "downstream", "front left"
	Qty          int      `json:"qty"`
	OEMPreferred bool     `json:"oem_preferred,omitempty"`
	SearchTerms  []string `json:"search_terms"`
	Conditional  bool     `json:"conditional,omitempty"`
	Condition    string   `json:"condition,omitempty"`
}

// Labor is the plan's labor estimate. Source participates in the merge
// precedence ladder.
type Labor struct {
	Hours        float64 `json:"hours"` // >= 0
	Source       string  `json:"source"`
	Category     string  `json:"category,omitempty"`
	LiftRequired bool    `json:"lift_required,omitempty"`
	Notes        string  `json:"notes,omitempty"`
}

// TorqueSpec pairs a free-text spec with the platform that sourced it.
type TorqueSpec struct {
	Spec     string `json:"spec"`
	Platform string `json:"platform,omitempty"`
}

// ExternalRef points at a TSB or recall document.
type ExternalRef struct {
	ID     string `json:"id"`
	Title  string `json:"title,omitempty"`
	URL    string `json:"url,omitempty"`
	Source string `json:"source,omitempty"`
}

// Verification holds before/after repair check steps.
type Verification struct {
	Before []string `json:"before,omitempty"`
	After  []string `json:"after,omitempty"`
}

// RepairPlan is the single source of truth refined across stages. The
// orchestrator owns it; adapters receive immutable views and return fragments
// which are merged by pkg/plan.
type RepairPlan struct {
	PrimaryCause         string                `json:"primary_cause"`
	Confidence           float64               `json:"confidence"` // [0,1]
	Diagnoses            []Diagnosis           `json:"diagnoses,omitempty"`
	Parts                []PartRequest         `json:"parts,omitempty"`
	Labor                Labor                 `json:"labor"`
	Tools                []string              `json:"tools,omitempty"`
	TorqueSpecs          map[string]TorqueSpec `json:"torque_specs,omitempty"`
	Verification         Verification          `json:"verification"`
	DiagramsNeeded       []string              `json:"diagrams_needed,omitempty"`
	TSBs                 []ExternalRef         `json:"tsbs,omitempty"`
	Recalls              []ExternalRef         `json:"recalls,omitempty"`
	LowConfidenceWarning bool                  `json:"low_confidence_warning,omitempty"`
	DiagnosticPath       DiagnosticPath        `json:"diagnostic_path,omitempty"`
}

// Clone returns a deep copy. Merge operates on copies so the base plan is
// never mutated.
func (p RepairPlan) Clone() RepairPlan {
	out := p
	out.Diagnoses = append([]Diagnosis(nil), p.Diagnoses...)
	for i := range out.Diagnoses {
		out.Diagnoses[i].Parts = append([]string(nil), p.Diagnoses[i].Parts...)
	}
	out.Parts = append([]PartRequest(nil), p.Parts...)
	for i := range out.Parts {
		out.Parts[i].SearchTerms = append([]string(nil), p.Parts[i].SearchTerms...)
	}
	out.Tools = append([]string(nil), p.Tools...)
	if p.TorqueSpecs != nil {
		out.TorqueSpecs = make(map[string]TorqueSpec, len(p.TorqueSpecs))
		for k, v := range p.TorqueSpecs {
			out.TorqueSpecs[k] = v
		}
	}
	out.Verification.Before = append([]string(nil), p.Verification.Before...)
	out.Verification.After = append([]string(nil), p.Verification.After...)
	out.DiagramsNeeded = append([]string(nil), p.DiagramsNeeded...)
	out.TSBs = append([]ExternalRef(nil), p.TSBs...)
	out.Recalls = append([]ExternalRef(nil), p.Recalls...)
	return out
}

// TopDiagnosis returns a pointer to the highest-priority diagnosis (the
// primary one if flagged, else the first), or nil when there are none.
func (p *RepairPlan) TopDiagnosis() *Diagnosis {
	for i := range p.Diagnoses {
		if p.Diagnoses[i].Primary {
			return &p.Diagnoses[i]
		}
	}
	if len(p.Diagnoses) > 0 {
		return &p.Diagnoses[0]
	}
	return nil
}

// ResearchFragment is a partial result from one research source. Missing
// fields are nil/empty, not errors.
type ResearchFragment struct {
	Source      string              `json:"source"`
	Seeding     bool                `json:"-"` // true only for the seed merge
	Diagnoses   []FragmentDiagnosis `json:"diagnoses,omitempty"`
	Parts       []PartRequest       `json:"parts,omitempty"`
	Labor       *Labor              `json:"labor,omitempty"`
	Tools       []string            `json:"tools,omitempty"`
	TorqueSpecs map[string]string   `json:"torque_specs,omitempty"`
	Fixes       []string            `json:"fixes,omitempty"`
	Procedures  []string            `json:"procedures,omitempty"`
	TSBs        []ExternalRef       `json:"tsbs,omitempty"`
	Recalls     []ExternalRef       `json:"recalls,omitempty"`
	Screenshots []string            `json:"screenshots,omitempty"`
	PartHints   map[string]string   `json:"part_hints,omitempty"` // part name -> position hint
}

// FragmentDiagnosis is a candidate cause reported by a research source,
// carrying the source's observed success rate in percent.
type FragmentDiagnosis struct {
	Cause       string   `json:"cause"`
	Confidence  float64  `json:"confidence,omitempty"`
	SuccessRate float64  `json:"success_rate,omitempty"` // percent, 0-100
	Parts       []string `json:"parts,omitempty"`
}

// Empty reports whether the fragment carries no usable content.
func (f *ResearchFragment) Empty() bool {
	return f == nil || (len(f.Diagnoses) == 0 && len(f.Parts) == 0 && f.Labor == nil &&
		len(f.Tools) == 0 && len(f.TorqueSpecs) == 0 && len(f.Fixes) == 0 &&
		len(f.Procedures) == 0 && len(f.TSBs) == 0 && len(f.Recalls) == 0 &&
		len(f.Screenshots) == 0 && len(f.PartHints) == 0)
}
