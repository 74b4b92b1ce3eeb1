package models

// PartQuote is the result of pricing one PartRequest. UnitPrice is nil or
// strictly positive; "N/A"/"Call" vendor strings normalize to nil.
type PartQuote struct {
	Brand        string   `json:"brand,omitempty"`
	PartNumber   string   `json:"part_number,omitempty"`
	Supplier     string   `json:"supplier"`
	UnitPrice    *float64 `json:"unit_price"`
	Availability string   `json:"availability,omitempty"`
	InStock      bool     `json:"in_stock"`
	OEM          bool     `json:"oem,omitempty"`
	Source       string   `json:"source"`
}

// QuoteOutcome pairs a part request with its quote or the reason it could
// not be priced.
type QuoteOutcome struct {
	Part       PartRequest `json:"part"`
	Quote      *PartQuote  `json:"quote,omitempty"`
	ReasonCode string      `json:"reason_code,omitempty"` // NO_PRICE etc. when Quote is nil
}

// PricingOutcome is one PartsPrice adapter's full response.
type PricingOutcome struct {
	Source  string         `json:"source"`
	Results []QuoteOutcome `json:"results"`
}

// PartsBundle is the best-value selection across quotes.
type PartsBundle struct {
	Selections      []QuoteOutcome `json:"selections"`
	PartsCost       float64        `json:"parts_cost"` // wholesale sum of selected quotes
	Suppliers       []string       `json:"suppliers"`
	AllInStock      bool           `json:"all_in_stock"`
	OEMAlternatives []PartQuote    `json:"oem_alternatives,omitempty"`
}

// LaborResult is one LaborLookup adapter's answer.
type LaborResult struct {
	Hours      float64 `json:"hours"`
	Source     string  `json:"source"`
	Operation  string  `json:"operation,omitempty"`
	Confidence float64 `json:"confidence,omitempty"`
	ReasonCode string  `json:"reason_code,omitempty"`
}

// PricingSource tags where customer-facing pricing came from.
type PricingSource string

const (
	PricingSourceAutoLeapNative PricingSource = "autoleap-native"
	PricingSourceMatrixFallback PricingSource = "matrix-fallback"
	PricingSourceFailed         PricingSource = "FAILED_PRICING_SOURCE"
	PricingSourceNone           PricingSource = "none"
)

// GateVerdict is the pricing gate's decision.
type GateVerdict string

const (
	GatePass    GateVerdict = "PASS"
	GateBlocked GateVerdict = "BLOCKED"
)
