package cli

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/headline-goat/verdict/internal/conclusion"
	"github.com/headline-goat/verdict/internal/evaluator"
	"github.com/headline-goat/verdict/internal/notify"
	"github.com/headline-goat/verdict/internal/scheduler"
	"github.com/headline-goat/verdict/internal/store"
)

// withStore opens the database, executes the function, and handles cleanup.
func withStore(fn func(*store.SQLiteStore) error) error {
	s, err := store.Open(cfg.DB)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer s.Close()

	return fn(s)
}

func notFound(kind, id string, err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("%s '%s' not found", kind, id)
	}
	return fmt.Errorf("failed to get %s: %w", kind, err)
}

func newEngine() *conclusion.Engine {
	return conclusion.New(nil,
		conclusion.WithCriteria(cfg.Criteria()),
		conclusion.WithLogger(slog.Default()),
	)
}

// newEvaluator returns the remote evaluator when a remote URL is configured
// and the local one otherwise.
func newEvaluator(s store.Store) (evaluator.Evaluator, error) {
	if cfg.Remote.URL != "" {
		return evaluator.NewHTTP(cfg.Remote.URL, cfg.Remote.Token,
			evaluator.WithRateLimit(cfg.Remote.RateLimit),
		), nil
	}

	var opts []evaluator.LocalOption
	opts = append(opts, evaluator.WithLogger(slog.Default()))
	if cfg.RulesFile != "" {
		rules, err := conclusion.LoadRules(cfg.RulesFile)
		if err != nil {
			return nil, err
		}
		opts = append(opts, evaluator.WithRules(rules))
	}
	return evaluator.NewLocal(s, newEngine(), opts...), nil
}

func newScheduler(s store.Store, reg prometheus.Registerer) (*scheduler.Scheduler, error) {
	eval, err := newEvaluator(s)
	if err != nil {
		return nil, err
	}
	notifier, err := notify.FromConfig(cfg.NotifyConfig(), slog.Default())
	if err != nil {
		return nil, fmt.Errorf("failed to configure notifications: %w", err)
	}

	opts := []scheduler.Option{scheduler.WithLogger(slog.Default())}
	if reg != nil {
		opts = append(opts, scheduler.WithRegisterer(reg))
	}
	return scheduler.New(cfg.SchedulerConfig(), s, eval, notifier, opts...), nil
}

func formatPercent(rate float64) string {
	if rate == 0 {
		return "0%"
	}
	return fmt.Sprintf("%.2f%%", rate*100)
}

func formatNumber(n int) string {
	if n < 1000 {
		return fmt.Sprintf("%d", n)
	}
	if n < 1000000 {
		return fmt.Sprintf("%d,%03d", n/1000, n%1000)
	}
	return fmt.Sprintf("%d,%03d,%03d", n/1000000, (n/1000)%1000, n%1000)
}
