package plan

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/garagehq/advisor/pkg/models"
)

func basePlan() models.RepairPlan {
	return models.RepairPlan{
		PrimaryCause: "failed downstream oxygen sensor",
		Confidence:   0.70,
		Diagnoses: []models.Diagnosis{
			{Cause: "failed downstream oxygen sensor", Confidence: 0.70, Primary: true, FromKnowledgeBase: true},
			{Cause: "catalytic converter efficiency below threshold", Confidence: 0.40, FromKnowledgeBase: true},
		},
		Parts: []models.PartRequest{
			{Name: "oxygen sensor", Qty: 1, SearchTerms: []string{"oxygen sensor downstream"}},
		},
		Labor: models.Labor{Hours: 1.0, Source: "alldata"},
	}
}

func TestMerge_DoesNotMutateBase(t *testing.T) {
	base := basePlan()
	frag := &models.ResearchFragment{
		Source: "identifix",
		Labor:  &models.Labor{Hours: 0.8, Source: "MOTOR"},
		Tools:  []string{"oxygen sensor socket"},
	}

	_ = Merge(base, frag)

	assert.Equal(t, 1.0, base.Labor.Hours)
	assert.Equal(t, "alldata", base.Labor.Source)
	assert.Empty(t, base.Tools)
}

func TestMerge_Idempotent(t *testing.T) {
	base := basePlan()
	frag := &models.ResearchFragment{
		Source: "identifix",
		Diagnoses: []models.FragmentDiagnosis{
			{Cause: "downstream oxygen sensor failure", SuccessRate: 72},
		},
		Labor: &models.Labor{Hours: 0.8, Source: "MOTOR"},
		Tools: []string{"oxygen sensor socket"},
	}

	once := Merge(base, frag)
	twice := Merge(once, frag)

	assert.Equal(t, once.Confidence, twice.Confidence)
	assert.Equal(t, once.Labor, twice.Labor)
	assert.Equal(t, once.Tools, twice.Tools)
	assert.Equal(t, once.Diagnoses, twice.Diagnoses)
}

func TestMerge_LaborPrecedence(t *testing.T) {
	tests := []struct {
		name     string
		current  models.Labor
		incoming models.Labor
		want     string
	}{
		{"MOTOR beats alldata", models.Labor{Hours: 1, Source: "alldata"}, models.Labor{Hours: 2, Source: "MOTOR"}, "MOTOR"},
		{"alldata loses to shop_default", models.Labor{Hours: 1, Source: "shop_default"}, models.Labor{Hours: 2, Source: "alldata"}, "shop_default"},
		{"AI_fallback beats default", models.Labor{Hours: 1, Source: "default"}, models.Labor{Hours: 2, Source: "AI_fallback"}, "AI_fallback"},
		{"unknown loses to AI_fallback", models.Labor{Hours: 1, Source: "AI_fallback"}, models.Labor{Hours: 2, Source: "mystery"}, "AI_fallback"},
		{"same source refreshes", models.Labor{Hours: 1, Source: "MOTOR"}, models.Labor{Hours: 1.5, Source: "MOTOR"}, "MOTOR"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			base := models.RepairPlan{Labor: tt.current}
			out := Merge(base, &models.ResearchFragment{Source: tt.incoming.Source, Labor: &tt.incoming})
			assert.Equal(t, tt.want, out.Labor.Source)
		})
	}
}

func TestMerge_OrderIndependentForEqualRankTags(t *testing.T) {
	// Two unknown tags share rank -1; the lexicographic tie-break must make
	// merge order irrelevant.
	base := models.RepairPlan{}
	fa := &models.ResearchFragment{Source: "vendor_a", Labor: &models.Labor{Hours: 1, Source: "vendor_a"}}
	fb := &models.ResearchFragment{Source: "vendor_b", Labor: &models.Labor{Hours: 2, Source: "vendor_b"}}

	ab := Merge(Merge(base, fa), fb)
	ba := Merge(Merge(base, fb), fa)

	assert.Equal(t, ab.Labor, ba.Labor)
	assert.Equal(t, "vendor_a", ab.Labor.Source)
}

func TestMerge_CorroborationBumpsConfidence(t *testing.T) {
	base := basePlan()
	frag := &models.ResearchFragment{
		Source: "identifix",
		Diagnoses: []models.FragmentDiagnosis{
			// Shares "downstream", "oxygen", "sensor" with the primary cause.
			{Cause: "downstream oxygen sensor failed", SuccessRate: 68},
		},
	}

	out := Merge(base, frag)

	require.Len(t, out.Diagnoses, 2)
	assert.True(t, out.Diagnoses[0].IdentifixCorroborated)
	assert.InDelta(t, 0.75, out.Diagnoses[0].Confidence, 0.001)
	assert.InDelta(t, 0.75, out.Confidence, 0.001)
}

func TestMerge_LowSuccessRateDoesNotCorroborate(t *testing.T) {
	base := basePlan()
	frag := &models.ResearchFragment{
		Source: "identifix",
		Diagnoses: []models.FragmentDiagnosis{
			{Cause: "downstream oxygen sensor failed", SuccessRate: 30},
		},
	}

	out := Merge(base, frag)

	assert.False(t, out.Diagnoses[0].IdentifixCorroborated)
	assert.InDelta(t, 0.70, out.Confidence, 0.001)
}

func TestMerge_ConfidenceCappedAt95(t *testing.T) {
	base := basePlan()
	base.Confidence = 0.93
	base.Diagnoses[0].Confidence = 0.93
	frag := &models.ResearchFragment{
		Source: "identifix",
		Diagnoses: []models.FragmentDiagnosis{
			{Cause: "downstream oxygen sensor failed", SuccessRate: 90},
		},
	}

	out := Merge(base, frag)

	assert.InDelta(t, 0.95, out.Diagnoses[0].Confidence, 0.001)
	assert.InDelta(t, 0.95, out.Confidence, 0.001)
}

func TestMerge_FragmentsNeverExtendDiagnosisList(t *testing.T) {
	base := basePlan()
	frag := &models.ResearchFragment{
		Source: "identifix",
		Diagnoses: []models.FragmentDiagnosis{
			{Cause: "completely unrelated transmission fault", SuccessRate: 95},
		},
	}

	out := Merge(base, frag)

	assert.Len(t, out.Diagnoses, 2)
}

func TestMerge_UnionsTSBsAndTools(t *testing.T) {
	base := basePlan()
	base.TSBs = []models.ExternalRef{{ID: "TSB-100"}}
	frag := &models.ResearchFragment{
		Source: "alldata",
		TSBs:   []models.ExternalRef{{ID: "TSB-100"}, {ID: "TSB-200"}},
		Tools:  []string{"Oxygen Sensor Socket", "torque wrench"},
	}

	out := Merge(Merge(base, frag), frag)

	assert.Len(t, out.TSBs, 2)
	assert.Len(t, out.Tools, 2)
}

func TestMergeAll_DeterministicAcrossSiblingOrder(t *testing.T) {
	base := basePlan()
	frags := []*models.ResearchFragment{
		{Source: "identifix", Diagnoses: []models.FragmentDiagnosis{{Cause: "downstream oxygen sensor failed", SuccessRate: 70}}},
		{Source: "alldata", Labor: &models.Labor{Hours: 1.1, Source: "alldata"}},
	}
	reversed := []*models.ResearchFragment{frags[1], frags[0]}

	a := MergeAll(base, frags)
	b := MergeAll(base, reversed)

	assert.Equal(t, a, b)
}

func TestApplyHistoryDelta_ClampsDelta(t *testing.T) {
	base := basePlan()

	out := ApplyHistoryDelta(base, 0.5)

	// Delta clamps to +0.2 before applying.
	assert.InDelta(t, 0.90, out.Diagnoses[0].Confidence, 0.001)
	assert.True(t, out.Diagnoses[0].HistoryAdjusted)
	assert.InDelta(t, 0.90, out.Confidence, 0.001)
}

func TestApplyHistoryDelta_ClampsConfidenceFloor(t *testing.T) {
	base := basePlan()
	base.Confidence = 0.10
	base.Diagnoses[0].Confidence = 0.10

	out := ApplyHistoryDelta(base, -0.2)

	assert.InDelta(t, 0.05, out.Diagnoses[0].Confidence, 0.001)
	assert.InDelta(t, 0.05, out.Confidence, 0.001)
}

func TestApplyHistoryDelta_NoDiagnoses(t *testing.T) {
	out := ApplyHistoryDelta(models.RepairPlan{Confidence: 0.5}, 0.1)
	assert.InDelta(t, 0.5, out.Confidence, 0.001)
}

func TestLaborRank(t *testing.T) {
	assert.Equal(t, 7, LaborRank("MOTOR"))
	assert.Equal(t, 0, LaborRank("default"))
	assert.Equal(t, -1, LaborRank("never-heard-of-it"))
	assert.Greater(t, LaborRank("shop_default"), LaborRank("ari"))
	assert.Greater(t, LaborRank("ari"), LaborRank("labor_cache"))
	assert.Greater(t, LaborRank("labor_cache"), LaborRank("prodemand"))
	assert.Greater(t, LaborRank("prodemand"), LaborRank("alldata"))
	assert.Greater(t, LaborRank("alldata"), LaborRank("AI_fallback"))
}
