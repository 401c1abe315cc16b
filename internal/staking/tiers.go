package staking

import (
	"math"
	"strings"
)

// Tier is the access level derived from staked collateral. Ordering matters:
// higher tiers compare greater.
type Tier int

const (
	TierNone Tier = iota
	TierBasic
	TierVerified
	TierPro
	TierWhale
)

// UnlimitedQuota marks a tier with no daily API ceiling. The counter is
// pinned to this sentinel and never decremented.
const UnlimitedQuota = math.MaxUint32

// TierParams holds the per-tier policy values.
type TierParams struct {
	MinStake   uint64  // inclusive lower bound, smallest token unit
	DailyQuota uint32  // API calls per 24h window
	Boost      float64 // reputation multiplier bonus, e.g. 0.05 = +5%
}

// tierTable is ordered by ascending MinStake; TierFor walks it from the top.
// Bounds are inclusive-lower and contiguous, so every stake amount maps to
// exactly one tier.
var tierTable = [...]TierParams{
	TierNone:     {MinStake: 0, DailyQuota: 0, Boost: 0},
	TierBasic:    {MinStake: 1_000, DailyQuota: 100, Boost: 0.05},
	TierVerified: {MinStake: 5_000, DailyQuota: 1_000, Boost: 0.10},
	TierPro:      {MinStake: 50_000, DailyQuota: 10_000, Boost: 0.15},
	TierWhale:    {MinStake: 500_000, DailyQuota: UnlimitedQuota, Boost: 0.20},
}

// TierFor returns the highest tier whose threshold is <= amountStaked.
// Pure function; callers must re-evaluate it after every balance change and
// never trust a tier cached across a mutation.
func TierFor(amountStaked uint64) Tier {
	for t := TierWhale; t > TierNone; t-- {
		if amountStaked >= tierTable[t].MinStake {
			return t
		}
	}
	return TierNone
}

// Params returns the policy values for the tier.
func (t Tier) Params() TierParams {
	if t < TierNone || t > TierWhale {
		return tierTable[TierNone]
	}
	return tierTable[t]
}

// ParseTier maps a config string onto a tier, case-insensitive. Unknown
// strings return TierNone and false.
func ParseTier(s string) (Tier, bool) {
	switch strings.ToLower(s) {
	case "none", "":
		return TierNone, true
	case "basic":
		return TierBasic, true
	case "verified":
		return TierVerified, true
	case "pro":
		return TierPro, true
	case "whale":
		return TierWhale, true
	}
	return TierNone, false
}

func (t Tier) String() string {
	switch t {
	case TierBasic:
		return "Basic"
	case TierVerified:
		return "Verified"
	case TierPro:
		return "Pro"
	case TierWhale:
		return "Whale"
	default:
		return "None"
	}
}
