package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/headline-goat/verdict/internal/conclusion"
	"github.com/headline-goat/verdict/internal/evaluator"
	"github.com/headline-goat/verdict/internal/store"
)

func init() {
	rootCmd.AddCommand(newEvaluateCmd())
}

func newEvaluateCmd() *cobra.Command {
	var (
		force         bool
		strategy      string
		minConfidence float64
		minLift       float64
		risk          string
	)

	cmd := &cobra.Command{
		Use:   "evaluate <id>",
		Short: "Evaluate a test and apply the conclusion",
		Long: `Run the conclusion rules against a test. When a rule concludes the
test, the conclusion is saved and the test status updated; a selected
winner completes the test.

Examples:
  verdict evaluate hero
  verdict evaluate hero --force --strategy gradual
  verdict evaluate hero --min-confidence 99 --risk-tolerance low`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := evaluator.Request{
				TestID:          args[0],
				ForceEvaluation: force,
				StrategyHint:    conclusion.Strategy(strategy),
			}
			if strategy != "" && !req.StrategyHint.Valid() {
				return fmt.Errorf("invalid strategy %q: must be immediate, gradual, staged or delayed", strategy)
			}

			flags := cmd.Flags()
			if flags.Changed("min-confidence") || flags.Changed("min-improvement") || flags.Changed("risk-tolerance") {
				criteria := cfg.Criteria()
				if flags.Changed("min-confidence") {
					criteria.MinimumConfidence = minConfidence
				}
				if flags.Changed("min-improvement") {
					criteria.MinimumImprovement = minLift
				}
				if flags.Changed("risk-tolerance") {
					criteria.RiskTolerance = conclusion.RiskTolerance(risk)
				}
				req.CustomCriteria = &criteria
			}

			return withStore(func(s *store.SQLiteStore) error {
				eval, err := newEvaluator(s)
				if err != nil {
					return err
				}
				resp, err := eval.Evaluate(context.Background(), req)
				if err != nil {
					return fmt.Errorf("failed to evaluate %s: %w", req.TestID, err)
				}
				printEvaluation(cmd.OutOrStdout(), req.TestID, resp)
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "evaluate even if the test is not running")
	cmd.Flags().StringVar(&strategy, "strategy", "", "implementation strategy override")
	cmd.Flags().Float64Var(&minConfidence, "min-confidence", 95, "minimum winner confidence (percent)")
	cmd.Flags().Float64Var(&minLift, "min-improvement", 5, "minimum winner improvement (percent)")
	cmd.Flags().StringVar(&risk, "risk-tolerance", "medium", "risk tolerance (low, medium, high)")

	return cmd
}

func printEvaluation(w io.Writer, id string, resp *evaluator.Response) {
	switch resp.Status {
	case evaluator.StatusSkipped:
		fmt.Fprintf(w, "Test '%s' is not running; use --force to evaluate anyway.\n", id)
		return
	case evaluator.StatusFailed:
		fmt.Fprintf(w, "Evaluation of '%s' failed: %s\n", id, resp.Error)
		return
	case evaluator.StatusNoAction:
		fmt.Fprintf(w, "Test '%s': no action, keep the test running.\n", id)
		return
	}

	c := resp.Conclusion
	fmt.Fprintf(w, "Test '%s' concluded: %s (%s)\n", id, c.Status, c.Action)
	fmt.Fprintf(w, "Reason: %s\n", c.Reason)
	if c.Winner == nil {
		return
	}

	fmt.Fprintf(w, "Winner: %s (%+.1f%%, %.1f%% confidence)\n", c.Winner.VariantID, c.Winner.ExpectedImprovement, c.Winner.Confidence)
	fmt.Fprintf(w, "Rollout: %s, risk %s (%.0f/100)\n", c.Plan.Strategy, c.Risk.Level, c.Risk.OverallScore)
	for i, p := range c.Plan.Phases {
		fmt.Fprintf(w, "  %d. %s: %.0f%% for %s\n", i+1, p.Name, p.RolloutPercentage, p.Duration)
	}
}
