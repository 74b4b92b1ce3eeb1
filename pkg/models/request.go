// Package models defines the canonical data model shared by every pipeline
// stage: the inbound Request, the Vehicle identity, the RepairPlan refined
// across stages, parts quotes and bundles, and the final EstimateResult.
package models

import "regexp"

// VehicleHints carries the caller-supplied vehicle identity fields. All are
// optional; the Identify Vehicle stage resolves them into a Vehicle.
type VehicleHints struct {
	VIN     string `json:"vin,omitempty"`
	Year    int    `json:"year,omitempty"`
	Make    string `json:"make,omitempty"`
	Model   string `json:"model,omitempty"`
	Engine  string `json:"engine,omitempty"`
	Mileage int    `json:"mileage,omitempty"`
}

// CustomerHints carries optional customer identity for estimate creation.
type CustomerHints struct {
	Name  string `json:"name,omitempty"`
	Phone string `json:"phone,omitempty"`
}

// Phase is one step of the closed progress-reporting set emitted on a
// Request's progress channel.
type Phase string

const (
	PhaseLoggingIn        Phase = "logging_in"
	PhaseCreatingCustomer Phase = "creating_customer"
	PhaseAddingParts      Phase = "adding_parts"
	PhaseAddingLabor      Phase = "adding_labor"
	PhaseLinkingParts     Phase = "linking_parts"
	PhaseGeneratingPDF    Phase = "generating_pdf"
	PhaseDone             Phase = "done"
)

// ProgressFunc receives phase transitions. May be nil.
type ProgressFunc func(Phase)

// Request is one identified unit of work. Immutable after creation; the
// orchestrator is its sole owner.
type Request struct {
	RunID        string         `json:"run_id"`
	ChatID       string         `json:"chat_id"`
	ShopID       string         `json:"shop_id,omitempty"`
	VehicleHints VehicleHints   `json:"vehicle_hints"`
	Query        string         `json:"query"`
	DTCs         []string       `json:"dtcs,omitempty"`
	Customer     *CustomerHints `json:"customer,omitempty"`
	WantPDF      bool           `json:"want_pdf,omitempty"`

	// Progress is an optional callback sink; not serialized.
	Progress ProgressFunc `json:"-"`
}

var dtcPattern = regexp.MustCompile(`^[PBCU][0-9]{4}$`)

// ValidDTC reports whether code is a well-formed diagnostic trouble code.
func ValidDTC(code string) bool {
	return dtcPattern.MatchString(code)
}

// RequestKind partitions queries for routing.
type RequestKind string

const (
	RequestKindDiagnostic  RequestKind = "diagnostic"
	RequestKindMaintenance RequestKind = "maintenance"
	RequestKindGeneral     RequestKind = "general"
)
