package escrow

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus metrics for the settlement state machine.
type Metrics struct {
	SettlementsTotal *prometheus.CounterVec
	PayoutAmount     *prometheus.HistogramVec
	DisputesOpen     prometheus.Gauge
	SweepExpired     prometheus.Counter
}

// NewMetrics creates and registers all escrow metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		SettlementsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "escrow_settlements_total",
				Help: "Terminal settlements by outcome status",
			},
			[]string{"status"},
		),
		PayoutAmount: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "escrow_payout_amount",
				Help:    "Payout amounts by recipient side (smallest token unit)",
				Buckets: prometheus.ExponentialBuckets(1, 10, 9),
			},
			[]string{"side"},
		),
		DisputesOpen: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "escrow_disputes_open",
				Help: "Escrows currently in the Disputed state",
			},
		),
		SweepExpired: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "escrow_sweep_expired_total",
				Help: "Escrows expired by the periodic sweeper",
			},
		),
	}
}

// ObserveSettlement records one terminal settlement.
func (m *Metrics) ObserveSettlement(acct EscrowAccount, s Settlement) {
	m.SettlementsTotal.WithLabelValues(string(acct.Status)).Inc()
	m.PayoutAmount.WithLabelValues("client").Observe(float64(s.ClientPayout(acct.Client)))
	m.PayoutAmount.WithLabelValues("provider").Observe(float64(s.ProviderPayout(acct.Provider)))
}
