package scheduler_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/headline-goat/verdict/internal/conclusion"
	"github.com/headline-goat/verdict/internal/evaluator"
	"github.com/headline-goat/verdict/internal/notify"
	"github.com/headline-goat/verdict/internal/scheduler"
	"github.com/headline-goat/verdict/internal/store"
	"github.com/headline-goat/verdict/internal/testutil"
)

type fakeSource struct {
	mu    sync.Mutex
	tests []*store.Experiment
	err   error
	calls int
}

func (f *fakeSource) ListEligible(ctx context.Context, minAge time.Duration, now time.Time) ([]*store.Experiment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.tests, f.err
}

func experiments(ids ...string) []*store.Experiment {
	out := make([]*store.Experiment, len(ids))
	for i, id := range ids {
		out[i] = &store.Experiment{ID: id, Name: "Test " + id, Status: store.StatusRunning, AutoDeclareWinner: true}
	}
	return out
}

// fakeEvaluator answers from a per-test table. Tests listed in block wait
// on release before answering.
type fakeEvaluator struct {
	mu        sync.Mutex
	responses map[string]*evaluator.Response
	errs      map[string]error
	requests  []evaluator.Request

	block   map[string]bool
	entered chan string
	release chan struct{}

	inFlight    atomic.Int32
	maxInFlight atomic.Int32
}

func newFakeEvaluator() *fakeEvaluator {
	return &fakeEvaluator{
		responses: make(map[string]*evaluator.Response),
		errs:      make(map[string]error),
		block:     make(map[string]bool),
		entered:   make(chan string, 16),
		release:   make(chan struct{}),
	}
}

func (f *fakeEvaluator) Evaluate(ctx context.Context, req evaluator.Request) (*evaluator.Response, error) {
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		peak := f.maxInFlight.Load()
		if n <= peak || f.maxInFlight.CompareAndSwap(peak, n) {
			break
		}
	}

	f.mu.Lock()
	f.requests = append(f.requests, req)
	blocked := f.block[req.TestID]
	resp, err := f.responses[req.TestID], f.errs[req.TestID]
	f.mu.Unlock()

	if blocked {
		f.entered <- req.TestID
		<-f.release
	}
	if err != nil {
		return nil, err
	}
	if resp == nil {
		resp = &evaluator.Response{EvaluationCompleted: true, Status: evaluator.StatusNoAction}
	}
	return resp, nil
}

func winnerResponse(variant string) *evaluator.Response {
	return &evaluator.Response{
		EvaluationCompleted: true,
		Status:              evaluator.StatusConcluded,
		Conclusion: &conclusion.TestConclusion{
			Status: conclusion.StatusWinnerSelected,
			Winner: &conclusion.WinnerSelection{
				VariantID:           variant,
				VariantName:         "Variant " + variant,
				Confidence:          99.5,
				ExpectedImprovement: 22,
				Strategy:            conclusion.StrategyImmediate,
			},
		},
	}
}

type recordingNotifier struct {
	mu        sync.Mutex
	summaries []notify.Summary
}

func (r *recordingNotifier) Notify(ctx context.Context, s notify.Summary) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.summaries = append(r.summaries, s)
	return nil
}

func testConfig() scheduler.Config {
	cfg := scheduler.DefaultConfig()
	cfg.Notifications.Enabled = true
	cfg.Notifications.Stakeholders = []string{"growth@example.com"}
	return cfg
}

func TestEvaluateTest_Exclusive(t *testing.T) {
	eval := newFakeEvaluator()
	eval.block["t1"] = true
	eval.responses["t1"] = winnerResponse("b")
	s := scheduler.New(testConfig(), &fakeSource{}, eval, nil)

	test := experiments("t1")[0]
	first := make(chan scheduler.TestResult, 1)
	go func() { first <- s.EvaluateTest(context.Background(), test) }()

	require.Equal(t, "t1", <-eval.entered)

	second := s.EvaluateTest(context.Background(), test)
	assert.Equal(t, evaluator.StatusSkipped, second.Status)
	assert.Nil(t, second.Err)

	close(eval.release)
	res := <-first
	assert.Equal(t, evaluator.StatusConcluded, res.Status)
	require.NotNil(t, res.Winner)

	// released: a later call evaluates again
	third := s.EvaluateTest(context.Background(), test)
	assert.Equal(t, evaluator.StatusConcluded, third.Status)
}

func TestForceRun_IsolatesFailures(t *testing.T) {
	eval := newFakeEvaluator()
	boom := errors.New("connection refused")
	eval.errs["broken"] = boom
	eval.responses["bad"] = &evaluator.Response{Status: evaluator.StatusFailed, Error: "no control variant"}
	eval.responses["good"] = winnerResponse("b")

	notifier := &recordingNotifier{}
	s := scheduler.New(testConfig(), &fakeSource{tests: experiments("broken", "bad", "good", "quiet")}, eval, notifier)

	cycle, err := s.ForceRun(context.Background())
	require.NoError(t, err)
	require.Len(t, cycle.Results, 4)

	byID := map[string]scheduler.TestResult{}
	for _, r := range cycle.Results {
		byID[r.TestID] = r
	}

	var perTest *scheduler.PerTestError
	require.True(t, errors.As(byID["broken"].Err, &perTest))
	assert.Equal(t, "broken", perTest.TestID)
	assert.ErrorIs(t, byID["broken"].Err, boom)

	assert.True(t, byID["bad"].Failed())
	assert.Contains(t, byID["bad"].Err.Error(), "no control variant")

	assert.False(t, byID["good"].Failed())
	assert.Equal(t, "b", byID["good"].Winner.VariantID)
	assert.Equal(t, evaluator.StatusNoAction, byID["quiet"].Status)

	m := s.Metrics()
	assert.Equal(t, 4, m.TestsMonitored)
	assert.Equal(t, 4, m.EvaluatedToday)
	assert.Equal(t, 2, m.FailedToday)
	assert.Equal(t, 1, m.WinnersToday)
	assert.InDelta(t, 50.0, m.SuccessRate, 1e-9)
	assert.Equal(t, 1, m.CyclesRun)

	require.Len(t, notifier.summaries, 1)
	summary := notifier.summaries[0]
	assert.Equal(t, 1, summary.WinnersSelected)
	assert.Equal(t, 4, summary.TotalTestsMonitored)
	assert.InDelta(t, 50.0, summary.SuccessRate, 1e-9)
	assert.Equal(t, []string{"growth@example.com"}, summary.Stakeholders)
	require.Len(t, summary.Winners, 1)
	assert.Equal(t, "Test good", summary.Winners[0].TestName)
}

func TestForceRun_CapsConcurrency(t *testing.T) {
	eval := newFakeEvaluator()
	cfg := testConfig()
	cfg.MaxConcurrentEvaluations = 3

	ids := []string{"t0", "t1", "t2", "t3", "t4", "t5", "t6", "t7", "t8", "t9"}
	s := scheduler.New(cfg, &fakeSource{tests: experiments(ids...)}, eval, nil)

	cycle, err := s.ForceRun(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 10, cycle.Eligible)
	require.Len(t, cycle.Results, 3)
	for i, r := range cycle.Results {
		assert.Equal(t, ids[i], r.TestID)
	}
	assert.LessOrEqual(t, eval.maxInFlight.Load(), int32(3))
	assert.Equal(t, 10, s.Metrics().TestsMonitored)
}

func TestForceRun_PassesDefaultCriteria(t *testing.T) {
	eval := newFakeEvaluator()
	cfg := testConfig()
	cfg.DefaultCriteria = conclusion.Criteria{MinimumConfidence: 99, MinimumImprovement: 10, RiskTolerance: conclusion.RiskLow}
	s := scheduler.New(cfg, &fakeSource{tests: experiments("t1")}, eval, nil)

	_, err := s.ForceRun(context.Background())
	require.NoError(t, err)

	require.Len(t, eval.requests, 1)
	require.NotNil(t, eval.requests[0].CustomCriteria)
	assert.Equal(t, cfg.DefaultCriteria, *eval.requests[0].CustomCriteria)
	assert.False(t, eval.requests[0].ForceEvaluation)
}

func TestForceRun_SkipsActiveTests(t *testing.T) {
	eval := newFakeEvaluator()
	eval.block["t1"] = true
	s := scheduler.New(testConfig(), &fakeSource{tests: experiments("t1", "t2")}, eval, nil)

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.EvaluateTest(context.Background(), experiments("t1")[0])
	}()
	require.Equal(t, "t1", <-eval.entered)

	cycle, err := s.ForceRun(context.Background())
	require.NoError(t, err)
	require.Len(t, cycle.Results, 1)
	assert.Equal(t, "t2", cycle.Results[0].TestID)
	assert.Equal(t, 2, cycle.Eligible)

	close(eval.release)
	<-done
}

func TestForceRun_NoOverlap(t *testing.T) {
	eval := newFakeEvaluator()
	eval.block["slow"] = true
	s := scheduler.New(testConfig(), &fakeSource{tests: experiments("slow")}, eval, nil)

	first := make(chan error, 1)
	go func() {
		_, err := s.ForceRun(context.Background())
		first <- err
	}()
	require.Equal(t, "slow", <-eval.entered)

	_, err := s.ForceRun(context.Background())
	assert.ErrorIs(t, err, scheduler.ErrCycleInProgress)

	close(eval.release)
	assert.NoError(t, <-first)
}

func TestForceRun_FetchErrorAbortsCycle(t *testing.T) {
	eval := newFakeEvaluator()
	source := &fakeSource{err: errors.New("database is locked")}
	s := scheduler.New(testConfig(), source, eval, nil)

	_, err := s.ForceRun(context.Background())
	var fetchErr *scheduler.FetchError
	require.True(t, errors.As(err, &fetchErr))
	assert.Empty(t, eval.requests)
	assert.Equal(t, 0, s.Metrics().CyclesRun)

	// next cycle retries
	source.mu.Lock()
	source.err = nil
	source.tests = experiments("t1")
	source.mu.Unlock()

	cycle, err := s.ForceRun(context.Background())
	require.NoError(t, err)
	assert.Len(t, cycle.Results, 1)
}

func TestForceRun_NotificationRules(t *testing.T) {
	t.Run("batched", func(t *testing.T) {
		eval := newFakeEvaluator()
		eval.responses["t1"] = winnerResponse("b")
		eval.responses["t2"] = winnerResponse("c")
		notifier := &recordingNotifier{}
		s := scheduler.New(testConfig(), &fakeSource{tests: experiments("t1", "t2", "t3")}, eval, notifier)

		_, err := s.ForceRun(context.Background())
		require.NoError(t, err)
		require.Len(t, notifier.summaries, 1)
		assert.Equal(t, 2, notifier.summaries[0].WinnersSelected)
		assert.Len(t, notifier.summaries[0].Winners, 2)
	})

	t.Run("no winners", func(t *testing.T) {
		notifier := &recordingNotifier{}
		s := scheduler.New(testConfig(), &fakeSource{tests: experiments("t1")}, newFakeEvaluator(), notifier)

		_, err := s.ForceRun(context.Background())
		require.NoError(t, err)
		assert.Empty(t, notifier.summaries)
	})

	t.Run("disabled", func(t *testing.T) {
		eval := newFakeEvaluator()
		eval.responses["t1"] = winnerResponse("b")
		notifier := &recordingNotifier{}
		cfg := testConfig()
		cfg.Notifications.Enabled = false
		s := scheduler.New(cfg, &fakeSource{tests: experiments("t1")}, eval, notifier)

		_, err := s.ForceRun(context.Background())
		require.NoError(t, err)
		assert.Empty(t, notifier.summaries)
	})
}

func TestMetrics_DailyReset(t *testing.T) {
	now := time.Date(2026, 3, 1, 23, 0, 0, 0, time.Local)
	var mu sync.Mutex
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}

	eval := newFakeEvaluator()
	eval.responses["t1"] = winnerResponse("b")
	s := scheduler.New(testConfig(), &fakeSource{tests: experiments("t1")}, eval, nil, scheduler.WithClock(clock))

	_, err := s.ForceRun(context.Background())
	require.NoError(t, err)
	m := s.Metrics()
	assert.Equal(t, 1, m.EvaluatedToday)
	assert.Equal(t, 1, m.WinnersToday)
	assert.InDelta(t, 100.0, m.SuccessRate, 1e-9)

	mu.Lock()
	now = now.Add(2 * time.Hour)
	mu.Unlock()

	m = s.Metrics()
	assert.Equal(t, 0, m.EvaluatedToday)
	assert.Equal(t, 0, m.WinnersToday)
	assert.Zero(t, m.SuccessRate)
	assert.Equal(t, 1, m.TestsMonitored)
	assert.Equal(t, 1, m.CyclesRun)
}

func TestStartStopAndUpdateConfig(t *testing.T) {
	s := scheduler.New(testConfig(), &fakeSource{}, newFakeEvaluator(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s.Start(ctx)
	assert.True(t, s.IsRunning())
	assert.True(t, s.Metrics().Running)

	cfg := testConfig()
	cfg.CheckInterval = 10 * time.Second
	cfg.MaxConcurrentEvaluations = 0
	s.UpdateConfig(cfg)
	assert.True(t, s.IsRunning())
	assert.Equal(t, scheduler.MinCheckInterval, s.Config().CheckInterval)
	assert.Equal(t, scheduler.DefaultConfig().MaxConcurrentEvaluations, s.Config().MaxConcurrentEvaluations)

	cfg.Enabled = false
	s.UpdateConfig(cfg)
	assert.False(t, s.IsRunning())

	cfg.Enabled = true
	s.UpdateConfig(cfg)
	assert.True(t, s.IsRunning())

	s.Stop()
	assert.False(t, s.IsRunning())
	s.Stop()
}

func TestStart_Disabled(t *testing.T) {
	cfg := testConfig()
	cfg.Enabled = false
	s := scheduler.New(cfg, &fakeSource{}, newFakeEvaluator(), nil)

	s.Start(context.Background())
	assert.False(t, s.IsRunning())
	s.Stop()
}

func TestPrometheusCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	eval := newFakeEvaluator()
	eval.responses["t1"] = winnerResponse("b")
	eval.errs["t2"] = errors.New("timeout")
	s := scheduler.New(testConfig(), &fakeSource{tests: experiments("t1", "t2")}, eval, nil, scheduler.WithRegisterer(reg))

	_, err := s.ForceRun(context.Background())
	require.NoError(t, err)

	families, err := reg.Gather()
	require.NoError(t, err)

	values := map[string]float64{}
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			switch {
			case m.GetCounter() != nil:
				key := mf.GetName()
				for _, l := range m.GetLabel() {
					key += "/" + l.GetValue()
				}
				values[key] = m.GetCounter().GetValue()
			case m.GetGauge() != nil:
				values[mf.GetName()] = m.GetGauge().GetValue()
			}
		}
	}

	assert.Equal(t, 1.0, values["verdict_scheduler_cycles_total"])
	assert.Equal(t, 1.0, values["verdict_scheduler_winners_total"])
	assert.Equal(t, 1.0, values["verdict_scheduler_evaluations_total/concluded"])
	assert.Equal(t, 1.0, values["verdict_scheduler_evaluations_total/failed"])
	assert.Equal(t, 2.0, values["verdict_scheduler_tests_monitored"])
	assert.Equal(t, 0.0, values["verdict_scheduler_active_evaluations"])
}

func TestForceRun_EndToEnd(t *testing.T) {
	st := testutil.SetupTestStore(t)
	now := time.Now()
	testutil.SeedExperiment(t, st, "hero", now.Add(-72*time.Hour), testutil.ClearWinner()...)
	testutil.SeedExperiment(t, st, "flat", now.Add(-72*time.Hour), testutil.NoDifference()...)
	testutil.SeedExperiment(t, st, "fresh", now.Add(-time.Hour), testutil.ClearWinner()...)

	notifier := &recordingNotifier{}
	eval := evaluator.NewLocal(st, conclusion.New(nil))
	s := scheduler.New(testConfig(), st, eval, notifier)

	cycle, err := s.ForceRun(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, cycle.Eligible)

	winners := cycle.Winners()
	require.Len(t, winners, 1)
	assert.Equal(t, "hero", winners[0].TestID)
	assert.Equal(t, "b", winners[0].Winner.VariantID)

	exp, err := st.GetExperiment(context.Background(), "hero")
	require.NoError(t, err)
	assert.Equal(t, store.StatusCompleted, exp.Status)

	require.Len(t, notifier.summaries, 1)
	assert.Equal(t, "Experiment hero", notifier.summaries[0].Winners[0].TestName)

	// the concluded test is no longer eligible
	cycle, err = s.ForceRun(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, cycle.Eligible)
	assert.Empty(t, cycle.Winners())
}

// lockedBuffer lets concurrent evaluations share one log sink.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestUpdateConfig_RebuildsNotifier(t *testing.T) {
	var logs lockedBuffer
	logger := slog.New(slog.NewTextHandler(&logs, nil))

	eval := newFakeEvaluator()
	eval.responses["t1"] = winnerResponse("b")
	cfg := scheduler.DefaultConfig()
	s := scheduler.New(cfg, &fakeSource{tests: experiments("t1")}, eval, nil, scheduler.WithLogger(logger))

	_, err := s.ForceRun(context.Background())
	require.NoError(t, err)
	assert.NotContains(t, logs.String(), `msg="winners selected"`)

	cfg.Notifications.Config = notify.Config{Enabled: true, Channels: []string{notify.ChannelLog}}
	s.UpdateConfig(cfg)

	_, err = s.ForceRun(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(logs.String(), `msg="winners selected"`))

	// a webhook channel without a url is rejected and the log sink stays
	cfg.Notifications.Channels = []string{notify.ChannelWebhook}
	s.UpdateConfig(cfg)

	_, err = s.ForceRun(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(logs.String(), `msg="winners selected"`))

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	cfg.Notifications.WebhookURL = srv.URL
	s.UpdateConfig(cfg)

	_, err = s.ForceRun(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(1), hits.Load())
	assert.Equal(t, 2, strings.Count(logs.String(), `msg="winners selected"`))
}

// The active set only guards one process. Two schedulers sharing a store
// both evaluate the same test; there is no cross-instance lease.
func TestEvaluateTest_NoCrossInstanceExclusivity(t *testing.T) {
	eval := newFakeEvaluator()
	eval.block["t1"] = true
	eval.responses["t1"] = winnerResponse("b")
	source := &fakeSource{tests: experiments("t1")}

	first := scheduler.New(testConfig(), source, eval, nil)
	second := scheduler.New(testConfig(), source, eval, nil)
	test := experiments("t1")[0]

	results := make(chan scheduler.TestResult, 2)
	go func() { results <- first.EvaluateTest(context.Background(), test) }()
	go func() { results <- second.EvaluateTest(context.Background(), test) }()

	require.Equal(t, "t1", <-eval.entered)
	require.Equal(t, "t1", <-eval.entered)
	assert.Equal(t, int32(2), eval.maxInFlight.Load())

	close(eval.release)
	for range 2 {
		res := <-results
		assert.Equal(t, evaluator.StatusConcluded, res.Status)
		require.NotNil(t, res.Winner)
	}
}

func TestStart_ContextCancelStops(t *testing.T) {
	s := scheduler.New(testConfig(), &fakeSource{}, newFakeEvaluator(), nil)
	ctx, cancel := context.WithCancel(context.Background())

	s.Start(ctx)
	require.True(t, s.IsRunning())

	cancel()
	require.Eventually(t, func() bool { return !s.IsRunning() }, time.Second, 5*time.Millisecond)
	assert.False(t, s.Metrics().Running)

	// the cancelled context is not reused for a restart
	cfg := testConfig()
	cfg.CheckInterval = 2 * time.Hour
	s.UpdateConfig(cfg)
	assert.False(t, s.IsRunning())

	s.Start(context.Background())
	assert.True(t, s.IsRunning())
	s.Stop()
	assert.False(t, s.IsRunning())
}
