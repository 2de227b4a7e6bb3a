package scheduler

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/headline-goat/verdict/internal/evaluator"
)

// Metrics is a snapshot of the scheduler's rolling counters. Daily counters
// reset when the local date changes.
type Metrics struct {
	Running        bool          `json:"running"`
	TestsMonitored int           `json:"tests_monitored"`
	EvaluatedToday int           `json:"evaluated_today"`
	WinnersToday   int           `json:"winners_selected_today"`
	FailedToday    int           `json:"failed_today"`
	AverageLatency time.Duration `json:"average_latency"`
	SuccessRate    float64       `json:"success_rate"` // percent; 0 before any evaluation
	CyclesRun      int           `json:"cycles_run"`
	LastCycleAt    time.Time     `json:"last_cycle_at"`
}

type rollingMetrics struct {
	day            string
	testsMonitored int
	evaluated      int
	winners        int
	failed         int
	totalLatency   time.Duration
	cycles         int
	lastCycleAt    time.Time
}

func dayKey(t time.Time) string {
	return t.Format(time.DateOnly)
}

// roll resets the daily counters when now falls on a new day.
func (m *rollingMetrics) roll(now time.Time) {
	if d := dayKey(now); d != m.day {
		m.day = d
		m.evaluated = 0
		m.winners = 0
		m.failed = 0
		m.totalLatency = 0
	}
}

func (m *rollingMetrics) record(c *CycleResult) {
	m.roll(c.StartedAt)
	m.cycles++
	m.lastCycleAt = c.StartedAt
	m.testsMonitored = c.Eligible

	for _, r := range c.Results {
		if r.Status == evaluator.StatusSkipped {
			continue
		}
		m.evaluated++
		m.totalLatency += r.Latency
		if r.Failed() {
			m.failed++
		}
		if r.Winner != nil {
			m.winners++
		}
	}
}

func (m *rollingMetrics) snapshot() Metrics {
	out := Metrics{
		TestsMonitored: m.testsMonitored,
		EvaluatedToday: m.evaluated,
		WinnersToday:   m.winners,
		FailedToday:    m.failed,
		CyclesRun:      m.cycles,
		LastCycleAt:    m.lastCycleAt,
	}
	if m.evaluated > 0 {
		out.AverageLatency = m.totalLatency / time.Duration(m.evaluated)
		out.SuccessRate = float64(m.evaluated-m.failed) / float64(m.evaluated) * 100
	}
	return out
}

type collectors struct {
	cycles         prometheus.Counter
	fetchErrors    prometheus.Counter
	evaluations    *prometheus.CounterVec
	winners        prometheus.Counter
	latency        prometheus.Histogram
	testsMonitored prometheus.Gauge
	activeTests    prometheus.Gauge
	skippedCycles  prometheus.Counter
}

func newCollectors(reg prometheus.Registerer) *collectors {
	c := &collectors{
		cycles: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "verdict",
			Subsystem: "scheduler",
			Name:      "cycles_total",
			Help:      "Total number of completed evaluation cycles",
		}),
		fetchErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "verdict",
			Subsystem: "scheduler",
			Name:      "fetch_errors_total",
			Help:      "Cycles aborted because eligible tests could not be fetched",
		}),
		evaluations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "verdict",
			Subsystem: "scheduler",
			Name:      "evaluations_total",
			Help:      "Per-test evaluations by result status",
		}, []string{"status"}),
		winners: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "verdict",
			Subsystem: "scheduler",
			Name:      "winners_total",
			Help:      "Total number of winners selected",
		}),
		latency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "verdict",
			Subsystem: "scheduler",
			Name:      "evaluation_duration_seconds",
			Help:      "Per-test evaluation latency in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
		}),
		testsMonitored: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "verdict",
			Subsystem: "scheduler",
			Name:      "tests_monitored",
			Help:      "Eligible tests found by the last cycle",
		}),
		activeTests: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "verdict",
			Subsystem: "scheduler",
			Name:      "active_evaluations",
			Help:      "Tests currently being evaluated",
		}),
		skippedCycles: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "verdict",
			Subsystem: "scheduler",
			Name:      "skipped_cycles_total",
			Help:      "Cycles skipped because another cycle was still running",
		}),
	}

	if reg != nil {
		reg.MustRegister(
			c.cycles,
			c.fetchErrors,
			c.evaluations,
			c.winners,
			c.latency,
			c.testsMonitored,
			c.activeTests,
			c.skippedCycles,
		)
	}
	return c
}

func (c *collectors) observe(cycle *CycleResult) {
	c.cycles.Inc()
	c.testsMonitored.Set(float64(cycle.Eligible))
	for _, r := range cycle.Results {
		c.evaluations.WithLabelValues(string(r.Status)).Inc()
		if r.Status != evaluator.StatusSkipped {
			c.latency.Observe(r.Latency.Seconds())
		}
		if r.Winner != nil {
			c.winners.Inc()
		}
	}
}
