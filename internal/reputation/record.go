// Package reputation aggregates heterogeneous activity signals into one
// bounded trust score per agent.
//
// Every component is a small running aggregate updated in O(1) per event;
// the composite is recombined from current components and never re-derived
// from an event history.
package reputation

import (
	"math"
	"time"

	"github.com/amx/backend/internal/core"
)

const (
	// MaxScore is the composite ceiling. The final clamp against it is the
	// one documented saturation in the scoring path.
	MaxScore = 1000

	// MaxComponentValue bounds every normalized component input.
	MaxComponentValue = 100

	// historyCap bounds the trend ring; the oldest snapshot is dropped.
	historyCap = 64
)

// TierLabel is the discrete band of a composite score.
type TierLabel string

const (
	LabelNovice   TierLabel = "Novice"   // [0,249]
	LabelEmerging TierLabel = "Emerging" // [250,499]
	LabelVerified TierLabel = "Verified" // [500,749]
	LabelExpert   TierLabel = "Expert"   // [750,899]
	LabelElite    TierLabel = "Elite"    // [900,1000]
)

// LabelFor maps a composite score to its band. Pure and idempotent; the
// stored label is always rewritten from this function when the score moves.
func LabelFor(score int) TierLabel {
	switch {
	case score >= 900:
		return LabelElite
	case score >= 750:
		return LabelExpert
	case score >= 500:
		return LabelVerified
	case score >= 250:
		return LabelEmerging
	default:
		return LabelNovice
	}
}

// BoostPolicy selects how the staking boost enters the composite. The
// multiplicative-final form is the default; the additive form folds the
// boost into the stake component before weighting instead.
type BoostPolicy string

const (
	BoostMultiplicativeFinal BoostPolicy = "multiplicative_final"
	BoostAdditiveComponent   BoostPolicy = "additive_component"
)

// ComponentState is one running aggregate: a count-weighted average of the
// normalized values observed so far.
type ComponentState struct {
	Value     float64   `json:"value"` // [0,100]
	Samples   uint64    `json:"samples"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Snapshot is one (timestamp, score) point in the trend ring.
type Snapshot struct {
	Timestamp time.Time `json:"timestamp"`
	Score     int       `json:"score"`
}

// ReputationRecord is the per-agent scoring state. Created on the first
// scoring event and never deleted; decay may move the score toward zero but
// the record persists for audit.
type ReputationRecord struct {
	Identity       core.AgentID                   `json:"identity"`
	CompositeScore int                            `json:"composite_score"`
	TierLabel      TierLabel                      `json:"tier_label"`
	Components     map[Component]*ComponentState  `json:"components"`
	TierBoost      float64                        `json:"tier_boost"` // from the staking tier
	History        []Snapshot                     `json:"history"`
	CreatedAt      time.Time                      `json:"created_at"`
	UpdatedAt      time.Time                      `json:"updated_at"`
}

// NewRecord creates an empty record for an identity's first scoring event.
func NewRecord(identity core.AgentID, now time.Time) *ReputationRecord {
	return &ReputationRecord{
		Identity:   identity,
		TierLabel:  LabelNovice,
		Components: make(map[Component]*ComponentState),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// clone returns a deep copy so failed updates never leak partial mutation.
func (r *ReputationRecord) clone() *ReputationRecord {
	out := *r
	out.Components = make(map[Component]*ComponentState, len(r.Components))
	for c, s := range r.Components {
		cp := *s
		out.Components[c] = &cp
	}
	out.History = append([]Snapshot(nil), r.History...)
	return &out
}

// ApplyComponent folds one normalized observation into the named component
// and recombines the composite. Out-of-range values are rejected with no
// mutation; nothing is clamped on the way in.
func ApplyComponent(r *ReputationRecord, c Component, value float64, now time.Time, policy BoostPolicy) (*ReputationRecord, error) {
	if _, err := Weight(c); err != nil {
		return r, err
	}
	if !(value >= 0 && value <= MaxComponentValue) {
		return r, ErrInvalidComponentValue
	}

	next := r.clone()
	st, ok := next.Components[c]
	if !ok {
		st = &ComponentState{}
		next.Components[c] = st
	}
	st.Value = (st.Value*float64(st.Samples) + value) / float64(st.Samples+1)
	st.Samples++
	st.UpdatedAt = now

	recombine(next, policy, now)
	return next, nil
}

// SetStakeTier overwrites the stake component and boost from the current
// staking tier. The tier is authoritative, so this is a set, not an average.
func SetStakeTier(r *ReputationRecord, componentValue, boost float64, now time.Time, policy BoostPolicy) *ReputationRecord {
	next := r.clone()
	st, ok := next.Components[ComponentStake]
	if !ok {
		st = &ComponentState{}
		next.Components[ComponentStake] = st
	}
	st.Value = componentValue
	st.Samples++
	st.UpdatedAt = now
	next.TierBoost = boost

	recombine(next, policy, now)
	return next
}

// ApplyJobSignal folds a settlement outcome into the completed-jobs
// component. Neutral signals carry no judgment of fault and leave the
// aggregates untouched.
func ApplyJobSignal(r *ReputationRecord, sig core.Signal, now time.Time, policy BoostPolicy) *ReputationRecord {
	if sig.Type == core.SignalJobNeutral {
		next := r.clone()
		next.UpdatedAt = now
		return next
	}

	// Magnitude [-1,1] maps onto the [0,100] component scale.
	outcome := (sig.Magnitude + 1) / 2 * MaxComponentValue
	next, _ := ApplyComponent(r, ComponentCompletedJobs, outcome, now, policy)
	return next
}

// Decay multiplies every component toward zero by the given rate and
// recombines. Used by the decay scheduler for inactive identities.
func Decay(r *ReputationRecord, rate float64, now time.Time, policy BoostPolicy) *ReputationRecord {
	next := r.clone()
	for _, st := range next.Components {
		st.Value *= rate
	}
	recombine(next, policy, now)
	return next
}

// recombine rebuilds the composite from current components, applies the
// boost per policy, clamps to [0,MaxScore], and appends a trend snapshot.
func recombine(r *ReputationRecord, policy BoostPolicy, now time.Time) {
	var weighted float64
	for c, w := range componentWeights {
		value := 0.0
		if st, ok := r.Components[c]; ok {
			value = st.Value
		}
		if policy == BoostAdditiveComponent && c == ComponentStake {
			value = math.Min(MaxComponentValue, value+r.TierBoost*MaxComponentValue)
		}
		weighted += w * value
	}

	score := weighted * 10 // [0,100] -> [0,1000]
	if policy == BoostMultiplicativeFinal {
		score *= 1 + r.TierBoost
	}

	final := int(math.Round(score))
	if final > MaxScore {
		final = MaxScore
	}
	if final < 0 {
		final = 0
	}

	r.CompositeScore = final
	r.TierLabel = LabelFor(final)
	r.UpdatedAt = now

	r.History = append(r.History, Snapshot{Timestamp: now, Score: final})
	if len(r.History) > historyCap {
		r.History = r.History[len(r.History)-historyCap:]
	}
}
