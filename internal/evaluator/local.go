package evaluator

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/pkg/errors"

	"github.com/headline-goat/verdict/internal/conclusion"
	"github.com/headline-goat/verdict/internal/store"
)

// Local evaluates tests in-process and persists the result.
type Local struct {
	store  store.Store
	engine *conclusion.Engine
	rules  []conclusion.Rule
	logger *slog.Logger
}

type LocalOption func(*Local)

// WithRules adds custom rules to every evaluation.
func WithRules(rules []conclusion.Rule) LocalOption {
	return func(l *Local) { l.rules = rules }
}

func WithLogger(logger *slog.Logger) LocalOption {
	return func(l *Local) { l.logger = logger }
}

func NewLocal(s store.Store, engine *conclusion.Engine, opts ...LocalOption) *Local {
	l := &Local{
		store:  s,
		engine: engine,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Evaluate loads the test's variants, runs the conclusion engine and, when
// the test concludes, saves the conclusion and moves the test to its new
// status. Tests that are no longer running are skipped unless forced.
func (l *Local) Evaluate(ctx context.Context, req Request) (*Response, error) {
	if err := req.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid evaluation request")
	}

	exp, err := l.store.GetExperiment(ctx, req.TestID)
	if err != nil {
		return nil, errors.Wrapf(err, "load test %s", req.TestID)
	}
	if exp.Status != store.StatusRunning && !req.ForceEvaluation {
		l.logger.Debug("skipping test that is not running", "test_id", exp.ID, "status", exp.Status)
		return &Response{Status: StatusSkipped}, nil
	}

	variants, err := l.store.GetVariants(ctx, exp.ID)
	if err != nil {
		return nil, errors.Wrapf(err, "load variants for %s", exp.ID)
	}

	out := l.engine.Evaluate(ctx, conclusion.Request{
		TestID:       exp.ID,
		Variants:     store.AnalysisVariants(variants),
		CustomRules:  l.rules,
		Criteria:     req.CustomCriteria,
		StrategyHint: req.StrategyHint,
	})

	switch out.Kind {
	case conclusion.Failed:
		return &Response{Status: StatusFailed, Error: out.Err.Error()}, nil
	case conclusion.NoAction:
		return &Response{EvaluationCompleted: true, Status: StatusNoAction}, nil
	}

	if err := l.persist(ctx, out.Conclusion); err != nil {
		return nil, err
	}
	return &Response{EvaluationCompleted: true, Status: StatusConcluded, Conclusion: out.Conclusion}, nil
}

func (l *Local) persist(ctx context.Context, c *conclusion.TestConclusion) error {
	payload, err := json.Marshal(c)
	if err != nil {
		return errors.Wrap(err, "encode conclusion")
	}

	rec := &store.Conclusion{
		ID:           c.ID,
		ExperimentID: c.TestID,
		Action:       string(c.Action),
		Status:       string(c.Status),
		Payload:      payload,
		CreatedAt:    c.ConcludedAt,
	}
	if c.Winner != nil {
		rec.WinnerVariant = c.Winner.VariantID
	}
	if err := l.store.SaveConclusion(ctx, rec); err != nil {
		return errors.Wrapf(err, "save conclusion for %s", c.TestID)
	}

	if c.Winner != nil {
		return errors.Wrapf(l.store.SetWinner(ctx, c.TestID, c.Winner.VariantID), "set winner for %s", c.TestID)
	}
	return errors.Wrapf(l.store.UpdateStatus(ctx, c.TestID, StatusAfter(c.Status)), "update status for %s", c.TestID)
}

// StatusAfter maps a conclusion without a winner onto the test's next
// status. Tests that need investigation are paused so they stop being
// picked up until someone looks at them.
func StatusAfter(s conclusion.Status) store.ExperimentStatus {
	switch s {
	case conclusion.StatusStopped:
		return store.StatusStopped
	case conclusion.StatusPaused, conclusion.StatusInvestigate:
		return store.StatusPaused
	default:
		return store.StatusCompleted
	}
}
