// Package vindecode resolves VINs through the public decode service
// (vPIC-shaped: DecodeVinValues returns flat key/value results).
package vindecode

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/garagehq/advisor/pkg/adapters/httpapi"
	"github.com/garagehq/advisor/pkg/faults"
	"github.com/garagehq/advisor/pkg/models"
)

// DefaultBaseURL is the public decode service.
const DefaultBaseURL = "https://vpic.nhtsa.dot.gov/api/vehicles"

// Decoder decodes VINs over HTTP.
type Decoder struct {
	client *httpapi.Client
}

// New creates a decoder. baseURL empty means the public service.
func New(baseURL string, timeout time.Duration) *Decoder {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Decoder{client: httpapi.New("vin-decode", baseURL, timeout)}
}

type decodeResponse struct {
	Results []struct {
		ModelYear           string `json:"ModelYear"`
		Make                string `json:"Make"`
		Model               string `json:"Model"`
		Trim                string `json:"Trim"`
		DisplacementL       string `json:"DisplacementL"`
		EngineCylinders     string `json:"EngineCylinders"`
		EngineConfiguration string `json:"EngineConfiguration"`
	} `json:"Results"`
}

// Decode resolves a VIN. Invalid VINs fail fast without a network call.
func (d *Decoder) Decode(ctx context.Context, vin string) (models.Vehicle, error) {
	vin = strings.ToUpper(strings.TrimSpace(vin))
	if !models.ValidVIN(vin) {
		return models.Vehicle{}, faults.New(faults.CodeVehicleUnresolved, "vin-decode", "malformed VIN %q", vin)
	}

	var resp decodeResponse
	path := fmt.Sprintf("/DecodeVinValues/%s?format=json", vin)
	if err := d.client.GetJSON(ctx, path, &resp); err != nil {
		return models.Vehicle{}, err
	}
	if len(resp.Results) == 0 {
		return models.Vehicle{}, faults.New(faults.CodeParseError, "vin-decode", "empty decode result")
	}

	r := resp.Results[0]
	year, _ := strconv.Atoi(r.ModelYear)
	cylinders, _ := strconv.Atoi(r.EngineCylinders)
	v := models.Vehicle{
		VIN:          vin,
		Year:         year,
		Make:         titleCase(r.Make),
		Model:        r.Model,
		Trim:         r.Trim,
		Displacement: r.DisplacementL,
		Cylinders:    cylinders,
		BodyPlan:     normalizeBodyPlan(r.EngineConfiguration),
	}
	if r.DisplacementL != "" {
		v.Engine = r.DisplacementL + "L"
	}
	if !v.Resolved() {
		return models.Vehicle{}, faults.New(faults.CodeVehicleUnresolved, "vin-decode",
			"decode returned incomplete identity for %s", vin)
	}
	return v, nil
}

func titleCase(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return ""
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func normalizeBodyPlan(engineConfig string) string {
	switch strings.ToLower(strings.TrimSpace(engineConfig)) {
	case "v-shaped", "v":
		return "V"
	case "in-line", "inline":
		return "inline"
	case "horizontally opposed (boxer)", "flat":
		return "flat"
	default:
		return ""
	}
}
