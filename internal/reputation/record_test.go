package reputation

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amx/backend/internal/core"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestLabelBands(t *testing.T) {
	cases := []struct {
		score int
		want  TierLabel
	}{
		{0, LabelNovice},
		{249, LabelNovice},
		{250, LabelEmerging},
		{499, LabelEmerging},
		{500, LabelVerified},
		{749, LabelVerified},
		{750, LabelExpert},
		{899, LabelExpert},
		{900, LabelElite},
		{1000, LabelElite},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, LabelFor(tc.score), "score %d", tc.score)
	}
}

func TestApplyComponentSingle(t *testing.T) {
	rec := NewRecord("agent-a", t0)
	next, err := ApplyComponent(rec, ComponentPaymentHistory, 80, t0, BoostMultiplicativeFinal)
	require.NoError(t, err)

	// 80 * 0.30 weight * 10 scale = 240.
	assert.Equal(t, 240, next.CompositeScore)
	assert.Equal(t, LabelNovice, next.TierLabel)
	assert.Equal(t, uint64(1), next.Components[ComponentPaymentHistory].Samples)
}

func TestApplyComponentRunningAverage(t *testing.T) {
	rec := NewRecord("agent-a", t0)
	rec, err := ApplyComponent(rec, ComponentEndorsements, 100, t0, BoostMultiplicativeFinal)
	require.NoError(t, err)
	rec, err = ApplyComponent(rec, ComponentEndorsements, 50, t0, BoostMultiplicativeFinal)
	require.NoError(t, err)
	rec, err = ApplyComponent(rec, ComponentEndorsements, 30, t0, BoostMultiplicativeFinal)
	require.NoError(t, err)

	st := rec.Components[ComponentEndorsements]
	assert.Equal(t, uint64(3), st.Samples)
	assert.InDelta(t, 60.0, st.Value, 1e-9)
}

func TestApplyComponentRejectsOutOfRange(t *testing.T) {
	rec := NewRecord("agent-a", t0)
	rec, err := ApplyComponent(rec, ComponentPaymentHistory, 80, t0, BoostMultiplicativeFinal)
	require.NoError(t, err)

	for _, value := range []float64{-0.1, 100.1, math.NaN(), math.Inf(1)} {
		got, err := ApplyComponent(rec, ComponentPaymentHistory, value, t0, BoostMultiplicativeFinal)
		assert.ErrorIs(t, err, ErrInvalidComponentValue, "value %v", value)
		// The rejected update must not touch the record.
		assert.Equal(t, rec, got)
	}
}

func TestApplyComponentUnknownComponent(t *testing.T) {
	rec := NewRecord("agent-a", t0)
	_, err := ApplyComponent(rec, Component("charisma"), 50, t0, BoostMultiplicativeFinal)
	assert.ErrorIs(t, err, ErrUnknownComponent)
}

func TestCompositeAllMaxNoBoost(t *testing.T) {
	rec := NewRecord("agent-a", t0)
	var err error
	for _, c := range Components() {
		rec, err = ApplyComponent(rec, c, 100, t0, BoostMultiplicativeFinal)
		require.NoError(t, err)
	}
	// Weights sum to 1, so all-max lands exactly on the ceiling.
	assert.Equal(t, MaxScore, rec.CompositeScore)
	assert.Equal(t, LabelElite, rec.TierLabel)
}

func TestCompositeBoundedUnderBoost(t *testing.T) {
	rec := NewRecord("agent-a", t0)
	var err error
	for _, c := range Components() {
		rec, err = ApplyComponent(rec, c, 100, t0, BoostMultiplicativeFinal)
		require.NoError(t, err)
	}
	// A Whale boost on an already perfect record clamps, never overflows.
	boosted := SetStakeTier(rec, 100, 0.20, t0, BoostMultiplicativeFinal)
	assert.Equal(t, MaxScore, boosted.CompositeScore)
}

func TestMultiplicativeBoost(t *testing.T) {
	rec := NewRecord("agent-a", t0)
	rec, err := ApplyComponent(rec, ComponentPaymentHistory, 50, t0, BoostMultiplicativeFinal)
	require.NoError(t, err)
	base := rec.CompositeScore // 50*0.30*10 = 150

	boosted := SetStakeTier(rec, 25, 0.05, t0, BoostMultiplicativeFinal)
	// (150 + 25*0.05*10) * 1.05 = (150+12.5)*1.05 = 170.625 -> 171
	assert.Equal(t, 171, boosted.CompositeScore)
	assert.Greater(t, boosted.CompositeScore, base)
}

func TestAdditiveComponentBoost(t *testing.T) {
	rec := NewRecord("agent-a", t0)
	boosted := SetStakeTier(rec, 50, 0.10, t0, BoostAdditiveComponent)

	// Stake component reads as min(100, 50+10) = 60; 60*0.05*10 = 30.
	assert.Equal(t, 30, boosted.CompositeScore)

	// Additive form saturates at the component ceiling.
	saturated := SetStakeTier(rec, 95, 0.20, t0, BoostAdditiveComponent)
	assert.Equal(t, 50, saturated.CompositeScore)
}

func TestApplyJobSignalOutcomes(t *testing.T) {
	rec := NewRecord("provider-1", t0)

	full := ApplyJobSignal(rec, core.Signal{
		Identity:       "provider-1",
		Type:           core.SignalJobCompleted,
		Magnitude:      1,
		SourceEscrowID: "esc-1",
	}, t0, BoostMultiplicativeFinal)
	assert.InDelta(t, 100.0, full.Components[ComponentCompletedJobs].Value, 1e-9)

	negative := ApplyJobSignal(rec, core.Signal{
		Identity:       "provider-1",
		Type:           core.SignalJobResolved,
		Magnitude:      -1,
		SourceEscrowID: "esc-2",
	}, t0, BoostMultiplicativeFinal)
	assert.InDelta(t, 0.0, negative.Components[ComponentCompletedJobs].Value, 1e-9)

	// 60/40 split in the provider's favour: magnitude 2*0.4-1 = -0.2 maps
	// to outcome 40.
	partial := ApplyJobSignal(rec, core.Signal{
		Identity:       "provider-1",
		Type:           core.SignalJobResolved,
		Magnitude:      -0.2,
		SourceEscrowID: "esc-3",
	}, t0, BoostMultiplicativeFinal)
	assert.InDelta(t, 40.0, partial.Components[ComponentCompletedJobs].Value, 1e-9)
}

func TestApplyJobSignalNeutral(t *testing.T) {
	rec := NewRecord("provider-1", t0)
	rec = ApplyJobSignal(rec, core.Signal{
		Identity:       "provider-1",
		Type:           core.SignalJobCompleted,
		Magnitude:      1,
		SourceEscrowID: "esc-1",
	}, t0, BoostMultiplicativeFinal)
	before := *rec.Components[ComponentCompletedJobs]

	later := t0.Add(time.Hour)
	next := ApplyJobSignal(rec, core.Signal{
		Identity:       "provider-1",
		Type:           core.SignalJobNeutral,
		Magnitude:      0,
		SourceEscrowID: "esc-2",
	}, later, BoostMultiplicativeFinal)

	// Activity timestamp moves, the aggregates do not.
	assert.Equal(t, later, next.UpdatedAt)
	assert.Equal(t, before, *next.Components[ComponentCompletedJobs])
	assert.Equal(t, rec.CompositeScore, next.CompositeScore)
}

func TestDecayMovesTowardZero(t *testing.T) {
	rec := NewRecord("agent-a", t0)
	rec, err := ApplyComponent(rec, ComponentPaymentHistory, 100, t0, BoostMultiplicativeFinal)
	require.NoError(t, err)
	start := rec.CompositeScore

	decayed := Decay(rec, 0.5, t0.Add(24*time.Hour), BoostMultiplicativeFinal)
	assert.InDelta(t, 50.0, decayed.Components[ComponentPaymentHistory].Value, 1e-9)
	assert.Less(t, decayed.CompositeScore, start)
	assert.GreaterOrEqual(t, decayed.CompositeScore, 0)
}

func TestHistoryRingBounded(t *testing.T) {
	rec := NewRecord("agent-a", t0)
	var err error
	for i := 0; i < historyCap+20; i++ {
		rec, err = ApplyComponent(rec, ComponentGovernance, 50, t0.Add(time.Duration(i)*time.Minute), BoostMultiplicativeFinal)
		require.NoError(t, err)
	}
	assert.Len(t, rec.History, historyCap)
	// Newest snapshot is last.
	assert.Equal(t, rec.UpdatedAt, rec.History[len(rec.History)-1].Timestamp)
}

func TestWeightsSumToOne(t *testing.T) {
	var sum float64
	for _, c := range Components() {
		w, err := Weight(c)
		require.NoError(t, err)
		sum += w
	}
	assert.InDelta(t, 1.0, sum, 1e-9)
}
