// Package conclusion decides whether a running test should continue, and
// when it should not, picks a winner and plans its rollout.
package conclusion

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/headline-goat/verdict/internal/significance"
)

// OutcomeKind distinguishes the three results of an evaluation.
type OutcomeKind int

const (
	// NoAction means the triggered rules asked to keep the test running.
	NoAction OutcomeKind = iota
	Concluded
	Failed
)

func (k OutcomeKind) String() string {
	switch k {
	case NoAction:
		return "no_action"
	case Concluded:
		return "concluded"
	case Failed:
		return "failed"
	}
	return fmt.Sprintf("outcome(%d)", int(k))
}

// Outcome is the result of Engine.Evaluate. Conclusion is set only for
// Concluded; Err only for Failed. Analysis is set whenever the statistical
// analysis succeeded.
type Outcome struct {
	Kind       OutcomeKind
	Action     Action
	Conclusion *TestConclusion
	Analysis   *significance.TestAnalysis
	Err        error
}

// Request is one evaluation of one test.
type Request struct {
	TestID       string
	Variants     []significance.Variant
	CustomRules  []Rule
	Criteria     *Criteria
	StrategyHint Strategy
}

// Engine evaluates conclusion rules. It is stateless between calls and
// safe for concurrent use.
type Engine struct {
	analyzer *significance.Engine
	defaults []Rule
	criteria Criteria
	now      func() time.Time
	logger   *slog.Logger
}

type Option func(*Engine)

func WithCriteria(c Criteria) Option {
	return func(e *Engine) { e.criteria = c }
}

// WithDefaultRules replaces the built-in rule set.
func WithDefaultRules(rules []Rule) Option {
	return func(e *Engine) { e.defaults = rules }
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

func New(analyzer *significance.Engine, opts ...Option) *Engine {
	if analyzer == nil {
		analyzer = significance.New()
	}
	e := &Engine{
		analyzer: analyzer,
		defaults: DefaultRules(),
		criteria: DefaultCriteria(),
		now:      time.Now,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Criteria returns the engine's default winner-selection criteria.
func (e *Engine) Criteria() Criteria {
	return e.criteria
}

// EvaluateTestConclusion returns the conclusion for a test, or nil when no
// terminal rule fired or the evaluation failed.
func (e *Engine) EvaluateTestConclusion(ctx context.Context, testID string, variants []significance.Variant, customRules []Rule) *TestConclusion {
	out := e.Evaluate(ctx, Request{TestID: testID, Variants: variants, CustomRules: customRules})
	return out.Conclusion
}

// Evaluate runs the full decision pipeline for one test. Errors and panics
// are recovered into a Failed outcome so a single bad test never takes
// down the caller.
func (e *Engine) Evaluate(ctx context.Context, req Request) (out Outcome) {
	defer func() {
		if r := recover(); r != nil {
			out = Outcome{Kind: Failed, Err: errors.Errorf("evaluation of test %s panicked: %v", req.TestID, r)}
		}
		if out.Kind == Failed {
			e.logger.Error("test evaluation failed", "test_id", req.TestID, "error", out.Err)
		}
	}()

	if err := ctx.Err(); err != nil {
		return Outcome{Kind: Failed, Err: errors.Wrap(err, "evaluation cancelled")}
	}

	criteria := e.criteria
	if req.Criteria != nil {
		criteria = *req.Criteria
	}

	analysis, err := e.analyzer.AnalyzeTest(req.TestID, req.Variants, 0)
	if err != nil {
		return Outcome{Kind: Failed, Err: errors.Wrap(err, "analyze test")}
	}

	snap := &snapshot{analysis: analysis, variants: req.Variants, now: e.now()}

	triggered, err := evaluateRules(MergeRules(e.defaults, req.CustomRules), snap)
	if err != nil {
		return Outcome{Kind: Failed, Analysis: analysis, Err: errors.Wrap(err, "evaluate rules")}
	}

	action := DetermineAction(triggered)
	if !action.Terminal() {
		e.logger.Debug("no conclusion this cycle",
			"test_id", req.TestID,
			"action", action,
			"analysis_status", analysis.Status,
		)
		return Outcome{Kind: NoAction, Action: action, Analysis: analysis}
	}

	conclusion := e.conclude(req, analysis, snap, triggered, action, criteria)
	e.logger.Info("test concluded",
		"test_id", req.TestID,
		"action", action,
		"status", conclusion.Status,
		"winner", winnerID(conclusion.Winner),
	)
	return Outcome{Kind: Concluded, Action: action, Conclusion: conclusion, Analysis: analysis}
}

func (e *Engine) conclude(req Request, analysis *significance.TestAnalysis, snap *snapshot, triggered []Rule, action Action, criteria Criteria) *TestConclusion {
	c := &TestConclusion{
		ID:             uuid.NewString(),
		TestID:         req.TestID,
		ConcludedAt:    snap.now,
		Action:         action,
		TriggeredRules: triggered,
		Confidence:     analysis.OverallSignificance,
		AnalysisStatus: analysis.Status,
		Recommendation: analysis.RecommendedAction,
		Rollback:       BuildRollbackPlan(),
	}

	var best *scored
	switch {
	case analysis.HasBlockingIssue():
		c.Status = StatusInvestigate
		c.Recommendation = significance.RecommendInvestigate
	case action == ActionPause:
		c.Status = StatusPaused
	default:
		best = selectWinner(analysis, snap, criteria)
	}

	strategy := StrategyDelayed
	if best != nil {
		strategy = StrategyFor(best.risk)
		if req.StrategyHint.Valid() {
			strategy = req.StrategyHint
		}
		c.Winner = winnerSelection(best, snap, strategy)
		c.Status = StatusWinnerSelected
		c.Confidence = c.Winner.Confidence
	} else if c.Status == "" {
		c.Status = StatusNoWinner
		if action == ActionStop {
			c.Status = StatusStopped
		}
	}

	c.Plan = BuildPlan(strategy, snap.now, c.Winner)
	c.Risk = AssessRisk(c.Winner, strategy)
	c.Impact = EstimateImpact(c.Winner, snap)
	c.Reason = reason(c, triggered)
	return c
}

func reason(c *TestConclusion, triggered []Rule) string {
	names := make([]string, len(triggered))
	for i, r := range triggered {
		names[i] = r.Name
	}
	rules := strings.Join(names, ", ")

	switch c.Status {
	case StatusWinnerSelected:
		return fmt.Sprintf("%s (triggered: %s)", c.Winner.Reason, rules)
	case StatusInvestigate:
		return fmt.Sprintf("Data quality checks failed; investigate before acting (triggered: %s)", rules)
	case StatusPaused:
		return fmt.Sprintf("Test paused (triggered: %s)", rules)
	case StatusStopped:
		return fmt.Sprintf("Test stopped without a qualifying winner (triggered: %s)", rules)
	default:
		return fmt.Sprintf("No variant met the confidence and improvement thresholds (triggered: %s)", rules)
	}
}

func winnerID(w *WinnerSelection) string {
	if w == nil {
		return ""
	}
	return w.VariantID
}
