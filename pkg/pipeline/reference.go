package pipeline

import (
	"fmt"
	"strings"

	"github.com/garagehq/advisor/pkg/models"
)

// BuildReference synthesizes the technician reference sheet from the merged
// plan plus platform-independent tables (body plan to bank layout, category
// to typical fluids). Platform-sourced torque specs take precedence over the
// generic notes.
func BuildReference(v models.Vehicle, p *models.RepairPlan) models.MechanicReference {
	ref := models.MechanicReference{
		SensorLocations: sensorLayout(v),
		Fluids:          fluidsFor(v, p),
		Tools:           append([]string(nil), p.Tools...),
	}
	if len(p.TorqueSpecs) > 0 {
		ref.TorqueSpecs = make(map[string]models.TorqueSpec, len(p.TorqueSpecs))
		for k, spec := range p.TorqueSpecs {
			ref.TorqueSpecs[k] = spec
		}
	}
	if p.Labor.LiftRequired {
		ref.Notes = append(ref.Notes, "Lift required")
	}
	for _, topic := range p.DiagramsNeeded {
		ref.Notes = append(ref.Notes, "Diagram needed: "+topic)
	}
	return ref
}

// sensorLayout maps the engine body plan onto O2 sensor positions. Inline
// engines have one bank; V and flat engines have two.
func sensorLayout(v models.Vehicle) map[string]string {
	out := map[string]string{
		"bank 1 sensor 1": "upstream of catalytic converter, cylinder 1 side",
		"bank 1 sensor 2": "downstream of catalytic converter, cylinder 1 side",
	}
	if v.BodyPlan == "V" || v.BodyPlan == "flat" || v.Cylinders >= 6 {
		out["bank 2 sensor 1"] = "upstream of catalytic converter, opposite cylinder 1"
		out["bank 2 sensor 2"] = "downstream of catalytic converter, opposite cylinder 1"
	}
	return out
}

func fluidsFor(v models.Vehicle, p *models.RepairPlan) map[string]string {
	out := make(map[string]string)
	switch strings.ToLower(p.Labor.Category) {
	case "maintenance":
		out["engine_oil"] = oilCapacityNote(v)
	case "cooling":
		out["coolant"] = "OEM-spec coolant; verify color/type before mixing"
	case "brakes":
		out["brake_fluid"] = "DOT 3/4 per reservoir cap; do not reuse bled fluid"
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func oilCapacityNote(v models.Vehicle) string {
	if v.Displacement != "" {
		return fmt.Sprintf("capacity varies by %s engine; verify against service data", v.Displacement)
	}
	return "verify capacity and viscosity against service data"
}
