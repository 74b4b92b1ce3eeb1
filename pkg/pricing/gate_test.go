package pricing

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/garagehq/advisor/pkg/models"
)

func planWithParts() models.RepairPlan {
	return models.RepairPlan{
		Parts: []models.PartRequest{
			{Name: "oxygen sensor", Qty: 1, SearchTerms: []string{"oxygen sensor"}},
		},
	}
}

func TestApplyGate_NoPartsPasses(t *testing.T) {
	res := &models.EstimateResult{PricingSource: models.PricingSourceNone}

	ApplyGate(res)

	assert.Equal(t, models.GatePass, res.PricingGate)
	assert.True(t, res.CustomerReady)
	assert.Empty(t, res.Warnings)
}

func TestApplyGate_AutoLeapNativePasses(t *testing.T) {
	res := &models.EstimateResult{
		Plan:          planWithParts(),
		PricingSource: models.PricingSourceAutoLeapNative,
		Totals:        models.Totals{PartsRetailTotal: 189.99},
	}

	ApplyGate(res)

	assert.Equal(t, models.GatePass, res.PricingGate)
	assert.True(t, res.CustomerReady)
}

func TestApplyGate_MatrixFallbackPasses(t *testing.T) {
	res := &models.EstimateResult{
		Plan:          planWithParts(),
		PricingSource: models.PricingSourceMatrixFallback,
		Totals:        models.Totals{PartsRetailTotal: 140.00},
	}

	ApplyGate(res)

	assert.Equal(t, models.GatePass, res.PricingGate)
	assert.True(t, res.CustomerReady)
}

func TestApplyGate_ZeroRetailBlocks(t *testing.T) {
	res := &models.EstimateResult{
		Plan:          planWithParts(),
		PricingSource: models.PricingSourceAutoLeapNative,
		Totals:        models.Totals{PartsRetailTotal: 0},
	}

	ApplyGate(res)

	assert.Equal(t, models.GateBlocked, res.PricingGate)
	assert.False(t, res.CustomerReady)
	assert.Equal(t, models.PricingSourceFailed, res.PricingSource)
	assert.True(t, res.HasWarning("PRICING_GATE_BLOCKED"))
}

func TestApplyGate_FailedSourceBlocks(t *testing.T) {
	res := &models.EstimateResult{
		Plan:          planWithParts(),
		PricingSource: models.PricingSourceFailed,
		Totals:        models.Totals{PartsRetailTotal: 140.00},
	}

	ApplyGate(res)

	assert.Equal(t, models.GateBlocked, res.PricingGate)
	assert.False(t, res.CustomerReady)
	assert.True(t, res.HasWarning("PRICING_GATE_BLOCKED"))
}

func TestApplyGate_Idempotent(t *testing.T) {
	res := &models.EstimateResult{
		Plan:          planWithParts(),
		PricingSource: models.PricingSourceNone,
	}

	ApplyGate(res)
	first := *res
	ApplyGate(res)

	assert.Equal(t, first.PricingGate, res.PricingGate)
	assert.Equal(t, first.CustomerReady, res.CustomerReady)
	assert.Equal(t, len(first.Warnings), len(res.Warnings))
}
