package models

import "time"

// Warning is one pipeline warning attached to the result.
type Warning struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// StageStatus records how one stage ended.
type StageStatus struct {
	Stage    string        `json:"stage"`
	Outcome  string        `json:"outcome"` // completed, failed, skipped
	Code     string        `json:"code,omitempty"`
	Duration time.Duration `json:"duration_ms"`
}

// MechanicReference is the synthesized reference sheet for the technician.
type MechanicReference struct {
	SensorLocations map[string]string     `json:"sensor_locations,omitempty"`
	Fluids          map[string]string     `json:"fluids,omitempty"`
	TorqueSpecs     map[string]TorqueSpec `json:"torque_specs,omitempty"`
	Tools           []string              `json:"tools,omitempty"`
	Notes           []string              `json:"notes,omitempty"`
}

// Totals holds the money columns of an estimate.
type Totals struct {
	LaborTotal       float64 `json:"labor_total"`
	PartsRetailTotal float64 `json:"parts_retail_total"`
	Supplies         float64 `json:"supplies"`
	Tax              float64 `json:"tax"`
	GrandTotal       float64 `json:"grand_total"`
}

// Artifacts holds file paths produced by the run.
type Artifacts struct {
	PDFPath         string   `json:"pdf_path,omitempty"`
	DiagramPaths    []string `json:"diagram_paths,omitempty"`
	ScreenshotPaths []string `json:"screenshot_paths,omitempty"`
}

// EstimateRecord is the vendor sink's durable record of a created estimate.
type EstimateRecord struct {
	EstimateID   string  `json:"estimate_id"`
	EstimateCode string  `json:"estimate_code,omitempty"`
	Total        float64 `json:"total"`
	Source       string  `json:"source"`
}

// EstimateResult is the full pipeline output. The orchestrator owns it
// exclusively while the run is in flight; afterwards it is immutable.
type EstimateResult struct {
	RunID         string            `json:"run_id"`
	ChatID        string            `json:"chat_id"`
	Vehicle       Vehicle           `json:"vehicle"`
	Plan          RepairPlan        `json:"plan"`
	Bundle        *PartsBundle      `json:"bundle,omitempty"`
	Labor         *LaborResult      `json:"labor,omitempty"`
	Reference     MechanicReference `json:"reference"`
	Totals        Totals            `json:"totals"`
	Estimate      *EstimateRecord   `json:"estimate,omitempty"`
	PricingSource PricingSource     `json:"pricing_source"`
	PricingGate   GateVerdict       `json:"pricing_gate"`
	CustomerReady bool              `json:"customer_ready"`
	Warnings      []Warning         `json:"warnings,omitempty"`
	Artifacts     Artifacts         `json:"artifacts"`
	Stages        []StageStatus     `json:"stages,omitempty"`
	FailureCode   string            `json:"failure_code,omitempty"`
	Elapsed       time.Duration     `json:"elapsed_ms"`
	CompletedAt   time.Time         `json:"completed_at"`
}

// Warn appends a warning, deduplicating by code+message.
func (r *EstimateResult) Warn(code, message string) {
	for _, w := range r.Warnings {
		if w.Code == code && w.Message == message {
			return
		}
	}
	r.Warnings = append(r.Warnings, Warning{Code: code, Message: message})
}

// HasWarning reports whether a warning with the given code is present.
func (r *EstimateResult) HasWarning(code string) bool {
	for _, w := range r.Warnings {
		if w.Code == code {
			return true
		}
	}
	return false
}

// OrderResult is the outcome of a follow-up action against the vendor
// platform (order_parts, customer_approved).
type OrderResult struct {
	ChatID    string    `json:"chat_id"`
	RunID     string    `json:"run_id"`
	Action    string    `json:"action"`
	Accepted  bool      `json:"accepted"`
	Message   string    `json:"message,omitempty"`
	OrderID   string    `json:"order_id,omitempty"`
	OrderedAt time.Time `json:"ordered_at,omitempty"`
}
