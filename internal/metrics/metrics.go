package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the agent's Prometheus collectors.
type Metrics struct {
	cycles          prometheus.Counter
	cycleErrors     prometheus.Counter
	refreshes       prometheus.Counter
	refreshFailures prometheus.Counter
	chunkFailures   prometheus.Counter
	candidates      prometheus.Gauge
	eligible        prometheus.Gauge
	submissions     *prometheus.CounterVec
}

var (
	once    sync.Once
	metrics *Metrics
)

// Init initializes global metrics (idempotent).
func Init() *Metrics {
	once.Do(func() {
		metrics = &Metrics{
			cycles: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "comet_liquidator_cycles_total",
				Help: "Total number of completed scheduler cycles",
			}),
			cycleErrors: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "comet_liquidator_cycle_errors_total",
				Help: "Total number of cycles that ended in an error or panic",
			}),
			refreshes: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "comet_liquidator_refreshes_total",
				Help: "Total number of successful candidate refreshes",
			}),
			refreshFailures: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "comet_liquidator_refresh_failures_total",
				Help: "Total number of refreshes that exhausted their retries",
			}),
			chunkFailures: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "comet_liquidator_chunk_failures_total",
				Help: "Total number of eligibility chunks discarded",
			}),
			candidates: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "comet_liquidator_candidates",
				Help: "Accounts currently tracked as candidates",
			}),
			eligible: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "comet_liquidator_eligible",
				Help: "Accounts found liquidatable in the last sweep",
			}),
			submissions: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "comet_liquidator_submissions_total",
				Help: "Liquidation attempts by settled strategy and outcome",
			}, []string{"strategy", "outcome"}),
		}
		prometheus.MustRegister(
			metrics.cycles,
			metrics.cycleErrors,
			metrics.refreshes,
			metrics.refreshFailures,
			metrics.chunkFailures,
			metrics.candidates,
			metrics.eligible,
			metrics.submissions,
		)
	})
	return metrics
}

// CycleCompleted increments the cycle counter.
func (m *Metrics) CycleCompleted() {
	if m != nil {
		m.cycles.Inc()
	}
}

// CycleError increments the cycle error counter.
func (m *Metrics) CycleError() {
	if m != nil {
		m.cycleErrors.Inc()
	}
}

// Refreshed increments the refresh counter.
func (m *Metrics) Refreshed() {
	if m != nil {
		m.refreshes.Inc()
	}
}

// RefreshFailed increments the refresh failure counter.
func (m *Metrics) RefreshFailed() {
	if m != nil {
		m.refreshFailures.Inc()
	}
}

// ChunkFailed adds n discarded chunks.
func (m *Metrics) ChunkFailed(n int) {
	if m != nil && n > 0 {
		m.chunkFailures.Add(float64(n))
	}
}

// SetCandidates records the registry size.
func (m *Metrics) SetCandidates(n int) {
	if m != nil {
		m.candidates.Set(float64(n))
	}
}

// SetEligible records the size of the last eligible set.
func (m *Metrics) SetEligible(n int) {
	if m != nil {
		m.eligible.Set(float64(n))
	}
}

// Submission counts a settled attempt.
func (m *Metrics) Submission(strategy, outcome string) {
	if m != nil {
		m.submissions.WithLabelValues(strategy, outcome).Inc()
	}
}

// Handler returns an HTTP handler for /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
