// Package scheduler periodically evaluates running tests and declares
// winners for the ones that have concluded.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/headline-goat/verdict/internal/conclusion"
	"github.com/headline-goat/verdict/internal/evaluator"
	"github.com/headline-goat/verdict/internal/notify"
	"github.com/headline-goat/verdict/internal/store"
)

// ErrCycleInProgress is returned by ForceRun while another cycle runs.
var ErrCycleInProgress = errors.New("evaluation cycle already in progress")

// Source lists the tests a cycle should consider.
type Source interface {
	ListEligible(ctx context.Context, minAge time.Duration, now time.Time) ([]*store.Experiment, error)
}

// FetchError aborts the current cycle; the next cycle retries.
type FetchError struct {
	Err error
}

func (e *FetchError) Error() string { return fmt.Sprintf("fetch eligible tests: %v", e.Err) }
func (e *FetchError) Unwrap() error { return e.Err }

// PerTestError is recorded on a single test's result and never affects the
// rest of the cycle.
type PerTestError struct {
	TestID string
	Err    error
}

func (e *PerTestError) Error() string { return fmt.Sprintf("evaluate test %s: %v", e.TestID, e.Err) }
func (e *PerTestError) Unwrap() error { return e.Err }

// TestResult is the outcome of evaluating one test.
type TestResult struct {
	TestID   string
	TestName string
	Status   evaluator.Status
	Winner   *conclusion.WinnerSelection
	Latency  time.Duration
	Err      error
}

func (r TestResult) Failed() bool {
	return r.Err != nil || r.Status == evaluator.StatusFailed
}

// CycleResult summarizes one cycle.
type CycleResult struct {
	ID        string
	StartedAt time.Time
	Duration  time.Duration
	Eligible  int
	Results   []TestResult
}

// Winners returns the results that selected a winner.
func (c *CycleResult) Winners() []TestResult {
	var out []TestResult
	for _, r := range c.Results {
		if r.Winner != nil {
			out = append(out, r)
		}
	}
	return out
}

type Scheduler struct {
	source    Source
	evaluator evaluator.Evaluator
	logger    *slog.Logger
	now       func() time.Time
	prom      *collectors

	mu       sync.Mutex
	cfg      Config
	notifier notify.Notifier
	active  map[string]struct{}
	rolling rollingMetrics
	ticker  *time.Ticker
	stopCh  chan struct{}
	done    chan struct{}
	running bool
	baseCtx context.Context

	// held for the duration of a cycle so cycles never overlap
	cycleMu sync.Mutex
}

type Option func(*Scheduler)

func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) { s.logger = l }
}

func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// WithRegisterer registers the scheduler's Prometheus collectors.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(s *Scheduler) { s.prom = newCollectors(reg) }
}

// New creates a scheduler. It does nothing until Start or ForceRun.
func New(cfg Config, source Source, eval evaluator.Evaluator, notifier notify.Notifier, opts ...Option) *Scheduler {
	if notifier == nil {
		notifier = notify.Nop{}
	}
	s := &Scheduler{
		source:    source,
		evaluator: eval,
		notifier:  notifier,
		logger:    slog.Default(),
		now:       time.Now,
		cfg:       normalize(cfg),
		active:    make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.prom == nil {
		s.prom = newCollectors(nil)
	}
	return s
}

// Start begins periodic cycles. It is a no-op when the scheduler is
// already running or disabled. Cycles run with ctx; cancelling it stops the
// scheduler without waiting for an in-flight cycle.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.baseCtx = ctx
	if s.running {
		return
	}
	if !s.cfg.Enabled {
		s.logger.Info("winner scheduler disabled")
		return
	}

	s.ticker = time.NewTicker(s.cfg.CheckInterval)
	s.stopCh = make(chan struct{})
	s.done = make(chan struct{})
	s.running = true

	go s.run(ctx, s.ticker, s.stopCh, s.done)

	s.logger.Info("winner scheduler started",
		"interval", s.cfg.CheckInterval,
		"max_concurrent", s.cfg.MaxConcurrentEvaluations,
		"min_test_age", s.cfg.MinTestAge,
	)
}

// Stop halts the timer and waits for an in-flight cycle to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopCh)
	s.ticker.Stop()
	done := s.done
	s.mu.Unlock()

	<-done
	s.logger.Info("winner scheduler stopped")
}

func (s *Scheduler) run(ctx context.Context, ticker *time.Ticker, stopCh <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	for {
		select {
		case <-ticker.C:
			if _, err := s.runCycle(ctx); err != nil && !errors.Is(err, ErrCycleInProgress) {
				s.logger.Error("evaluation cycle failed", "error", err)
			}
		case <-stopCh:
			return
		case <-ctx.Done():
			s.halt(done)
			return
		}
	}
}

// halt marks the loop owning done as stopped after its context ended.
func (s *Scheduler) halt(done chan<- struct{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running || s.done != done {
		return
	}
	s.running = false
	s.ticker.Stop()
	s.logger.Info("winner scheduler stopped", "reason", "context done")
}

// IsRunning reports whether the periodic timer is active.
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// ForceRun runs one cycle immediately.
func (s *Scheduler) ForceRun(ctx context.Context) (*CycleResult, error) {
	return s.runCycle(ctx)
}

// Config returns the current configuration.
func (s *Scheduler) Config() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

// UpdateConfig swaps the configuration. A changed CheckInterval resets the
// timer; disabling stops it and re-enabling restarts it. Changed sink
// settings rebuild the notifier; if that fails the previous notifier stays.
// Everything else applies from the next cycle.
func (s *Scheduler) UpdateConfig(cfg Config) {
	cfg = normalize(cfg)

	var notifier notify.Notifier
	if old := s.Config(); !sameSinks(old.Notifications.Config, cfg.Notifications.Config) {
		n, err := notify.FromConfig(cfg.Notifications.Config, s.logger)
		if err != nil {
			s.logger.Warn("keeping previous notifier", "error", err)
		} else {
			notifier = n
		}
	}

	s.mu.Lock()
	old := s.cfg
	s.cfg = cfg
	if notifier != nil {
		s.notifier = notifier
	}
	running := s.running
	baseCtx := s.baseCtx
	if running && cfg.Enabled && cfg.CheckInterval != old.CheckInterval {
		s.ticker.Reset(cfg.CheckInterval)
	}
	s.mu.Unlock()

	s.logger.Info("winner scheduler config updated",
		"enabled", cfg.Enabled,
		"interval", cfg.CheckInterval,
		"max_concurrent", cfg.MaxConcurrentEvaluations,
	)

	switch {
	case running && !cfg.Enabled:
		s.Stop()
	case !running && cfg.Enabled && baseCtx != nil && baseCtx.Err() == nil:
		s.Start(baseCtx)
	}
}

// Metrics returns a snapshot of the rolling metrics.
func (s *Scheduler) Metrics() Metrics {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.rolling.roll(s.now())
	m := s.rolling.snapshot()
	m.Running = s.running
	return m
}

func (s *Scheduler) runCycle(ctx context.Context) (*CycleResult, error) {
	if !s.cycleMu.TryLock() {
		s.prom.skippedCycles.Inc()
		s.logger.Warn("evaluation cycle still running, skipping")
		return nil, ErrCycleInProgress
	}
	defer s.cycleMu.Unlock()

	cfg := s.Config()
	cycle := &CycleResult{ID: uuid.NewString(), StartedAt: s.now()}

	tests, err := s.source.ListEligible(ctx, cfg.MinTestAge, cycle.StartedAt)
	if err != nil {
		s.prom.fetchErrors.Inc()
		return nil, &FetchError{Err: err}
	}
	cycle.Eligible = len(tests)

	pending := make([]*store.Experiment, 0, len(tests))
	for _, t := range tests {
		if !s.isActive(t.ID) {
			pending = append(pending, t)
		}
	}
	if len(pending) > cfg.MaxConcurrentEvaluations {
		pending = pending[:cfg.MaxConcurrentEvaluations]
	}

	cycle.Results = make([]TestResult, len(pending))
	var g errgroup.Group
	g.SetLimit(cfg.MaxConcurrentEvaluations)
	for i, test := range pending {
		g.Go(func() error {
			cycle.Results[i] = s.evaluate(ctx, test, cfg)
			return nil
		})
	}
	_ = g.Wait()
	cycle.Duration = s.now().Sub(cycle.StartedAt)

	s.mu.Lock()
	s.rolling.record(cycle)
	metrics := s.rolling.snapshot()
	s.mu.Unlock()
	s.prom.observe(cycle)

	s.logger.Info("evaluation cycle complete",
		"cycle_id", cycle.ID,
		"eligible", cycle.Eligible,
		"evaluated", len(cycle.Results),
		"winners", len(cycle.Winners()),
		"duration", cycle.Duration,
	)

	s.notifyWinners(ctx, cycle, metrics, cfg)
	return cycle, nil
}

// EvaluateTest evaluates one test unless it is already being evaluated, in
// which case the result is skipped.
func (s *Scheduler) EvaluateTest(ctx context.Context, test *store.Experiment) TestResult {
	return s.evaluate(ctx, test, s.Config())
}

func (s *Scheduler) evaluate(ctx context.Context, test *store.Experiment, cfg Config) TestResult {
	res := TestResult{TestID: test.ID, TestName: test.Name}

	if !s.claim(test.ID) {
		s.logger.Debug("test already being evaluated", "test_id", test.ID)
		res.Status = evaluator.StatusSkipped
		return res
	}
	defer s.release(test.ID)

	criteria := cfg.DefaultCriteria
	start := s.now()
	resp, err := s.evaluator.Evaluate(ctx, evaluator.Request{
		TestID:         test.ID,
		CustomCriteria: &criteria,
	})
	res.Latency = s.now().Sub(start)

	switch {
	case err != nil:
		res.Status = evaluator.StatusFailed
		res.Err = &PerTestError{TestID: test.ID, Err: err}
	case resp.Status == evaluator.StatusFailed:
		res.Status = evaluator.StatusFailed
		res.Err = &PerTestError{TestID: test.ID, Err: errors.New(resp.Error)}
	default:
		res.Status = resp.Status
		res.Winner = resp.Winner()
	}

	if res.Err != nil {
		s.logger.Warn("test evaluation failed", "test_id", test.ID, "error", res.Err)
	} else if res.Winner != nil {
		s.logger.Info("winner selected", "test_id", test.ID, "variant_id", res.Winner.VariantID)
	}
	return res
}

func (s *Scheduler) claim(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.active[id]; ok {
		return false
	}
	s.active[id] = struct{}{}
	s.prom.activeTests.Inc()
	return true
}

func (s *Scheduler) release(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.active, id)
	s.prom.activeTests.Dec()
}

func (s *Scheduler) isActive(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.active[id]
	return ok
}

func (s *Scheduler) notifyWinners(ctx context.Context, cycle *CycleResult, m Metrics, cfg Config) {
	winners := cycle.Winners()
	if len(winners) == 0 || !cfg.Notifications.Enabled {
		return
	}

	summary := notify.Summary{
		Timestamp:           s.now(),
		WinnersSelected:     len(winners),
		TotalTestsMonitored: m.TestsMonitored,
		SuccessRate:         m.SuccessRate,
		Stakeholders:        cfg.Notifications.Stakeholders,
	}
	for _, r := range winners {
		summary.Winners = append(summary.Winners, notify.WinnerDetail{
			TestID:              r.TestID,
			TestName:            r.TestName,
			VariantID:           r.Winner.VariantID,
			VariantName:         r.Winner.VariantName,
			Confidence:          r.Winner.Confidence,
			ExpectedImprovement: r.Winner.ExpectedImprovement,
			Strategy:            string(r.Winner.Strategy),
		})
	}

	s.mu.Lock()
	notifier := s.notifier
	s.mu.Unlock()

	if err := notifier.Notify(ctx, summary); err != nil {
		s.logger.Warn("failed to send winner notification", "error", err)
	}
}
