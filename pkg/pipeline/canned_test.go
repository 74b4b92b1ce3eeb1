package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSeedFromCannedJob_OilChange(t *testing.T) {
	p := seedFromCannedJob("customer wants an oil change on the Camry")

	require.NotNil(t, p)
	assert.Equal(t, "scheduled maintenance: oil and filter service", p.PrimaryCause)
	assert.InDelta(t, 0.9, p.Confidence, 0.001)
	require.Len(t, p.Parts, 2)
	assert.Equal(t, "oil filter", p.Parts[0].Name)
	assert.Equal(t, "drain plug gasket", p.Parts[1].Name)
	assert.InDelta(t, 0.6, p.Labor.Hours, 0.001)
	assert.Equal(t, "shop_default", p.Labor.Source)
	assert.NotEmpty(t, p.Verification.After)
}

func TestSeedFromCannedJob_TireRotationHasNoParts(t *testing.T) {
	p := seedFromCannedJob("tire rotation")

	require.NotNil(t, p)
	assert.Empty(t, p.Parts)
	assert.InDelta(t, 0.5, p.Labor.Hours, 0.001)
	assert.True(t, p.Labor.LiftRequired)
}

func TestSeedFromCannedJob_NoMatch(t *testing.T) {
	assert.Nil(t, seedFromCannedJob("engine misfire under load"))
}
