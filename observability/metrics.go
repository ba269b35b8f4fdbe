package observability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"chainswap/chain"
	"chainswap/swap"
)

// SwapMetrics records swap engine activity in Prometheus. It satisfies the
// engine's metrics contract.
type SwapMetrics struct {
	swapsCreated  *prometheus.CounterVec
	stepsExecuted *prometheus.CounterVec
	pegViolations prometheus.Counter
	refunds       prometheus.Counter
}

var (
	swapMetricsOnce sync.Once
	swapRegistry    *SwapMetrics
)

// Swap returns the lazily-initialised swap metrics registry.
func Swap() *SwapMetrics {
	swapMetricsOnce.Do(func() {
		swapRegistry = &SwapMetrics{
			swapsCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "chainswap_swaps_created_total",
				Help: "Count of swaps created by chain direction.",
			}, []string{"source", "target"}),
			stepsExecuted: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "chainswap_steps_executed_total",
				Help: "Count of plan step executions by kind and outcome.",
			}, []string{"kind", "outcome"}),
			pegViolations: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "chainswap_peg_violations_total",
				Help: "Count of peg protection threshold breaches.",
			}),
			refunds: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "chainswap_refunds_total",
				Help: "Count of completed timelock refunds.",
			}),
		}
		prometheus.MustRegister(
			swapRegistry.swapsCreated,
			swapRegistry.stepsExecuted,
			swapRegistry.pegViolations,
			swapRegistry.refunds,
		)
	})
	return swapRegistry
}

func (m *SwapMetrics) SwapCreated(source, target chain.Ref) {
	if m == nil {
		return
	}
	m.swapsCreated.WithLabelValues(string(source), string(target)).Inc()
}

func (m *SwapMetrics) StepExecuted(kind swap.StepKind, outcome string) {
	if m == nil {
		return
	}
	m.stepsExecuted.WithLabelValues(string(kind), outcome).Inc()
}

func (m *SwapMetrics) PegViolation() {
	if m == nil {
		return
	}
	m.pegViolations.Inc()
}

func (m *SwapMetrics) SwapRefunded() {
	if m == nil {
		return
	}
	m.refunds.Inc()
}

// OracleMetrics times venue price fetches. It satisfies the price router's
// fetch observer contract.
type OracleMetrics struct {
	fetchLatency *prometheus.HistogramVec
}

var (
	oracleMetricsOnce sync.Once
	oracleRegistry    *OracleMetrics
)

// Oracle returns the lazily-initialised oracle metrics registry.
func Oracle() *OracleMetrics {
	oracleMetricsOnce.Do(func() {
		oracleRegistry = &OracleMetrics{
			fetchLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Name:    "chainswap_oracle_fetch_seconds",
				Help:    "Venue price fetch latency by source and outcome.",
				Buckets: prometheus.DefBuckets,
			}, []string{"source", "outcome"}),
		}
		prometheus.MustRegister(oracleRegistry.fetchLatency)
	})
	return oracleRegistry
}

func (m *OracleMetrics) ObserveFetch(source, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.fetchLatency.WithLabelValues(source, outcome).Observe(elapsed.Seconds())
}
