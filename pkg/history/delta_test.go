package history

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func repair(outcome, complaint, resolution string) PriorRepair {
	return PriorRepair{
		RepairedAt: time.Now().AddDate(0, -6, 0),
		Complaint:  complaint,
		Resolution: resolution,
		Outcome:    outcome,
	}
}

func TestConfidenceDelta_PriorFixBoosts(t *testing.T) {
	repairs := []PriorRepair{
		repair("fixed", "check engine light P0420", "replaced downstream oxygen sensor"),
	}

	delta := ConfidenceDelta(repairs, "downstream oxygen sensor degraded")

	assert.InDelta(t, 0.05, delta, 0.001)
}

func TestConfidenceDelta_ComebackPenalizes(t *testing.T) {
	repairs := []PriorRepair{
		repair("comeback", "misfire on cold start", "replaced ignition coil for misfire"),
	}

	delta := ConfidenceDelta(repairs, "ignition coil misfire")

	assert.InDelta(t, -0.1, delta, 0.001)
}

func TestConfidenceDelta_UnrelatedRepairIgnored(t *testing.T) {
	repairs := []PriorRepair{
		repair("fixed", "worn brake pads", "front brake pad replacement"),
	}

	delta := ConfidenceDelta(repairs, "downstream oxygen sensor degraded")

	assert.Zero(t, delta)
}

func TestConfidenceDelta_SingleSharedWordNotEnough(t *testing.T) {
	repairs := []PriorRepair{
		repair("fixed", "sensor issue", "replaced wheel speed module"),
	}

	delta := ConfidenceDelta(repairs, "oxygen sensor degraded")

	assert.Zero(t, delta)
}

func TestConfidenceDelta_Accumulates(t *testing.T) {
	repairs := []PriorRepair{
		repair("fixed", "P0420", "replaced downstream oxygen sensor"),
		repair("fixed", "catalyst efficiency", "downstream oxygen sensor replaced again"),
		repair("comeback", "still throwing P0420", "oxygen sensor downstream swapped"),
	}

	delta := ConfidenceDelta(repairs, "downstream oxygen sensor degraded")

	// +0.05 +0.05 -0.1; the merge layer clamps, not this function.
	assert.InDelta(t, 0.0, delta, 0.001)
}

func TestConfidenceDelta_NoRepairs(t *testing.T) {
	assert.Zero(t, ConfidenceDelta(nil, "anything at all"))
}
