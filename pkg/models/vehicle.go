package models

import (
	"fmt"
	"regexp"
	"strings"
)

// Vehicle is the resolved vehicle identity. Produced by the Identify Vehicle
// stage; subsequent stages must not mutate it.
type Vehicle struct {
	VIN          string `json:"vin,omitempty"`
	Year         int    `json:"year"`
	Make         string `json:"make"`
	Model        string `json:"model"`
	Trim         string `json:"trim,omitempty"`
	Engine       string `json:"engine,omitempty"`
	Displacement string `json:"displacement,omitempty"`
	Cylinders    int    `json:"cylinders,omitempty"`
	BodyPlan     string `json:"body_plan,omitempty"` // inline, V, flat
	Mileage      int    `json:"mileage,omitempty"`
}

// vinPattern: 17 chars, alphanumeric excluding I, O, Q.
var vinPattern = regexp.MustCompile(`^[A-HJ-NPR-Z0-9]{17}$`)

// ValidVIN reports whether vin is a well-formed 17-character VIN.
func ValidVIN(vin string) bool {
	return vinPattern.MatchString(strings.ToUpper(vin))
}

// Resolved reports whether the vehicle identity is usable: a VIN, or the
// year/make/model tuple.
func (v Vehicle) Resolved() bool {
	if ValidVIN(v.VIN) {
		return true
	}
	return v.Year > 0 && v.Make != "" && v.Model != ""
}

// Display renders the vehicle as "2019 Honda Civic 2.0L".
func (v Vehicle) Display() string {
	s := fmt.Sprintf("%d %s %s", v.Year, v.Make, v.Model)
	if v.Engine != "" {
		s += " " + v.Engine
	}
	return strings.TrimSpace(s)
}
