package pricing

import "github.com/garagehq/advisor/pkg/models"

// BlockedMessage is the internal-only text shown in place of the estimate
// block when the gate blocks; formatters must suppress monetary totals.
const BlockedMessage = "Parts pricing couldn't be resolved - review before sending"

// ApplyGate applies the pricing gate to a result, exactly once, immediately
// before the result is finalized. It mutates the verdict fields in place:
//
//  1. No parts: PASS, customer ready.
//  2. autoleap-native with a positive retail total: PASS.
//  3. matrix-fallback with a positive retail total: PASS (shop markup
//     already applied to wholesale).
//  4. Anything else: BLOCKED. customer_ready false, PRICING_GATE_BLOCKED
//     warning, pricing_source forced to FAILED_PRICING_SOURCE. Downstream
//     renderers must suppress customer-visible dollar totals and must not
//     emit a customer PDF.
//
// The gate never lets wholesale cost through as customer-facing retail.
func ApplyGate(result *models.EstimateResult) {
	if len(result.Plan.Parts) == 0 {
		result.PricingGate = models.GatePass
		result.CustomerReady = true
		return
	}

	switch {
	case result.PricingSource == models.PricingSourceAutoLeapNative && result.Totals.PartsRetailTotal > 0:
		result.PricingGate = models.GatePass
		result.CustomerReady = true
	case result.PricingSource == models.PricingSourceMatrixFallback && result.Totals.PartsRetailTotal > 0:
		result.PricingGate = models.GatePass
		result.CustomerReady = true
	default:
		result.PricingGate = models.GateBlocked
		result.CustomerReady = false
		result.PricingSource = models.PricingSourceFailed
		result.Warn("PRICING_GATE_BLOCKED", BlockedMessage)
	}
}
