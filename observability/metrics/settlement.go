package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

type SettlementMetrics struct {
	operations      *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	vaultDeposits   prometheus.Counter
	payouts         prometheus.Counter
	feesCollected   prometheus.Counter
}

var (
	settlementOnce     sync.Once
	settlementRegistry *SettlementMetrics
)

func Settlement() *SettlementMetrics {
	settlementOnce.Do(func() {
		settlementRegistry = &SettlementMetrics{
			operations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "settlement_operations_total",
				Help: "Count of settlement operations by name and outcome.",
			}, []string{"operation", "result"}),
			requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Name:    "settlement_request_duration_seconds",
				Help:    "Latency of gateway requests by route.",
				Buckets: prometheus.DefBuckets,
			}, []string{"route"}),
			vaultDeposits: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "settlement_vault_deposits_total",
				Help: "Count of escrow deposits locked into intent vaults.",
			}),
			payouts: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "settlement_payouts_total",
				Help: "Count of completed fee-split payouts.",
			}),
			feesCollected: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "settlement_fees_collected_total",
				Help: "Sum of platform fees routed to the treasury, in base units.",
			}),
		}
		prometheus.MustRegister(
			settlementRegistry.operations,
			settlementRegistry.requestDuration,
			settlementRegistry.vaultDeposits,
			settlementRegistry.payouts,
			settlementRegistry.feesCollected,
		)
	})
	return settlementRegistry
}

func (m *SettlementMetrics) ObserveOperation(operation, result string) {
	if m == nil {
		return
	}
	if operation == "" {
		operation = "unknown"
	}
	if result == "" {
		result = "unknown"
	}
	m.operations.WithLabelValues(operation, result).Inc()
}

func (m *SettlementMetrics) ObserveRequestDuration(route string, seconds float64) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unknown"
	}
	m.requestDuration.WithLabelValues(route).Observe(seconds)
}

func (m *SettlementMetrics) IncVaultDeposit() {
	if m == nil {
		return
	}
	m.vaultDeposits.Inc()
}

func (m *SettlementMetrics) ObservePayout(fee uint64) {
	if m == nil {
		return
	}
	m.payouts.Inc()
	m.feesCollected.Add(float64(fee))
}
