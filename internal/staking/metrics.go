package staking

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/amx/backend/internal/core"
)

// Metrics holds the Prometheus metrics for the staking engine.
type Metrics struct {
	StakedTotal    *prometheus.GaugeVec
	TierChanges    *prometheus.CounterVec
	QuotaConsumed  *prometheus.CounterVec
	QuotaExhausted *prometheus.CounterVec
}

// NewMetrics creates and registers all staking metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		StakedTotal: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "staking_amount_staked",
				Help: "Current staked balance per agent (smallest token unit)",
			},
			[]string{"agent_id", "tier"},
		),
		TierChanges: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "staking_tier_changes_total",
				Help: "Tier transitions observed after stake/unstake",
			},
			[]string{"from", "to"},
		),
		QuotaConsumed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "staking_api_calls_consumed_total",
				Help: "API quota units consumed",
			},
			[]string{"tier"},
		),
		QuotaExhausted: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "staking_quota_exhausted_total",
				Help: "API calls rejected because the daily quota was spent",
			},
			[]string{"agent_id"},
		),
	}
}

// Observe records the outcome of a committed stake mutation.
func (m *Metrics) Observe(owner core.AgentID, before, after StakeAccount) {
	m.StakedTotal.WithLabelValues(string(owner), after.Tier.String()).Set(float64(after.AmountStaked))
	if before.Tier != after.Tier {
		m.TierChanges.WithLabelValues(before.Tier.String(), after.Tier.String()).Inc()
	}
	if after.APICallsRemaining < before.APICallsRemaining && before.AmountStaked == after.AmountStaked {
		m.QuotaConsumed.WithLabelValues(after.Tier.String()).Inc()
	}
}
