package reputation

import "errors"

// Component names one independently-updated input to the composite score.
// External feeds tag updates with these names; anything else is rejected.
type Component string

const (
	// Activity-derived layer (60%)
	ComponentPaymentHistory Component = "payment_history" // volume, count, success rate
	ComponentCompletedJobs  Component = "completed_jobs"  // job outcomes and client ratings
	ComponentEndorsements   Component = "endorsements"    // peer endorsements and certifications

	// External-platform layer (30%)
	ComponentPlatformReviews Component = "platform_reviews"
	ComponentFrameworkRep    Component = "framework_reputation"
	ComponentCrossIdentity   Component = "cross_identity"

	// On-chain layer (10%)
	ComponentStake      Component = "stake"
	ComponentGovernance Component = "governance"
)

// componentWeights sum to 1.0. The weighted recombination of all eight
// components is the only path to a composite score.
var componentWeights = map[Component]float64{
	ComponentPaymentHistory:  0.30,
	ComponentCompletedJobs:   0.20,
	ComponentEndorsements:    0.10,
	ComponentPlatformReviews: 0.15,
	ComponentFrameworkRep:    0.10,
	ComponentCrossIdentity:   0.05,
	ComponentStake:           0.05,
	ComponentGovernance:      0.05,
}

var (
	ErrInvalidComponentValue = errors.New("component value outside [0,100]")
	ErrUnknownComponent      = errors.New("unknown reputation component")
)

// Weight returns the component's fixed weight, or an error for names the
// core does not recognize.
func Weight(c Component) (float64, error) {
	w, ok := componentWeights[c]
	if !ok {
		return 0, ErrUnknownComponent
	}
	return w, nil
}

// Components lists every known component name.
func Components() []Component {
	out := make([]Component, 0, len(componentWeights))
	for c := range componentWeights {
		out = append(out, c)
	}
	return out
}
