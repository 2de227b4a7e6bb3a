// Package notify delivers scheduler cycle summaries to stakeholders.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// WinnerDetail describes one winner selected during a cycle.
type WinnerDetail struct {
	TestID              string  `json:"test_id"`
	TestName            string  `json:"test_name"`
	VariantID           string  `json:"variant_id"`
	VariantName         string  `json:"variant_name"`
	Confidence          float64 `json:"confidence"`
	ExpectedImprovement float64 `json:"expected_improvement"`
	Strategy            string  `json:"implementation_strategy"`
}

// Summary is the batched report sent once per cycle that selected winners.
type Summary struct {
	Timestamp           time.Time      `json:"timestamp"`
	WinnersSelected     int            `json:"winners_selected"`
	TotalTestsMonitored int            `json:"total_tests_monitored"`
	SuccessRate         float64        `json:"success_rate"`
	Winners             []WinnerDetail `json:"winners"`
	Stakeholders        []string       `json:"stakeholders,omitempty"`
}

type Notifier interface {
	Notify(ctx context.Context, s Summary) error
}

// Nop discards every summary.
type Nop struct{}

func (Nop) Notify(context.Context, Summary) error { return nil }

// Log writes summaries to a structured logger.
type Log struct {
	logger *slog.Logger
}

func NewLog(logger *slog.Logger) *Log {
	if logger == nil {
		logger = slog.Default()
	}
	return &Log{logger: logger}
}

func (l *Log) Notify(ctx context.Context, s Summary) error {
	l.logger.InfoContext(ctx, "winners selected",
		"count", s.WinnersSelected,
		"tests_monitored", s.TotalTestsMonitored,
		"success_rate", s.SuccessRate,
		"stakeholders", s.Stakeholders,
	)
	for _, w := range s.Winners {
		l.logger.InfoContext(ctx, "winner",
			"test_id", w.TestID,
			"variant_id", w.VariantID,
			"confidence", w.Confidence,
			"improvement", w.ExpectedImprovement,
			"strategy", w.Strategy,
		)
	}
	return nil
}

// Multi fans a summary out to every notifier and joins their errors.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, s Summary) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, s); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Format renders a summary as Markdown text for chat channels.
func Format(s Summary) string {
	var b strings.Builder
	fmt.Fprintf(&b, "*%d winner(s) selected*\n", s.WinnersSelected)
	fmt.Fprintf(&b, "Tests monitored: %d, success rate %.1f%%\n", s.TotalTestsMonitored, s.SuccessRate)
	for _, w := range s.Winners {
		name := w.TestName
		if name == "" {
			name = w.TestID
		}
		variant := w.VariantName
		if variant == "" {
			variant = w.VariantID
		}
		fmt.Fprintf(&b, "- %s: *%s* (+%.1f%%, %.1f%% confidence, %s rollout)\n",
			name, variant, w.ExpectedImprovement, w.Confidence, w.Strategy)
	}
	if len(s.Stakeholders) > 0 {
		fmt.Fprintf(&b, "cc: %s\n", strings.Join(s.Stakeholders, ", "))
	}
	return b.String()
}
