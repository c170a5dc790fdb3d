package runner

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/ahrdadan/uicheck/internal/scenario"
)

// Metrics holds the runner's prometheus collectors. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	scenarios *prometheus.CounterVec
	steps     *prometheus.HistogramVec
	polls     *prometheus.CounterVec
	active    prometheus.Gauge
}

// NewMetrics registers the runner collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		scenarios: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "uicheck_scenarios_total",
			Help: "Scenarios finished, by terminal status.",
		}, []string{"status"}),
		steps: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "uicheck_step_duration_seconds",
			Help:    "Time spent per scenario entry, by kind.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 4, 8, 30},
		}, []string{"kind"}),
		polls: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "uicheck_assertion_polls_total",
			Help: "Assertion evaluations, by assertion kind.",
		}, []string{"kind"}),
		active: factory.NewGauge(prometheus.GaugeOpts{
			Name: "uicheck_scenarios_running",
			Help: "Scenarios currently running.",
		}),
	}
}

func (m *Metrics) observeScenario(status Status) {
	if m == nil {
		return
	}
	m.scenarios.WithLabelValues(string(status)).Inc()
}

func (m *Metrics) observeStep(kind string, d time.Duration) {
	if m == nil {
		return
	}
	m.steps.WithLabelValues(kind).Observe(d.Seconds())
}

func (m *Metrics) observePoll(kind scenario.AssertionKind) {
	if m == nil {
		return
	}
	m.polls.WithLabelValues(string(kind)).Inc()
}

func (m *Metrics) scenarioStarted() {
	if m == nil {
		return
	}
	m.active.Inc()
}

func (m *Metrics) scenarioDone() {
	if m == nil {
		return
	}
	m.active.Dec()
}
