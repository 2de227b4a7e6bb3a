package cli

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/headline-goat/verdict/internal/significance"
	"github.com/headline-goat/verdict/internal/stats"
	"github.com/headline-goat/verdict/internal/store"
)

var resultsConfidence float64

var resultsCmd = &cobra.Command{
	Use:     "results <id>",
	Aliases: []string{"analyze"},
	Short:   "Show the statistical analysis of a test",
	Long: `Show conversion rates, Wilson confidence intervals, significance
against the control, quality checks and sample size progress.`,
	Args: cobra.ExactArgs(1),
	RunE: runResults,
}

func init() {
	resultsCmd.Flags().Float64VarP(&resultsConfidence, "confidence", "c", 0.95, "target confidence level (0.90, 0.95 or 0.99)")
	rootCmd.AddCommand(resultsCmd)
}

func runResults(cmd *cobra.Command, args []string) error {
	id := args[0]

	return withStore(func(s *store.SQLiteStore) error {
		ctx := context.Background()

		exp, err := s.GetExperiment(ctx, id)
		if err != nil {
			return notFound("test", id, err)
		}
		variants, err := s.GetVariants(ctx, id)
		if err != nil {
			return fmt.Errorf("failed to get variants: %w", err)
		}

		analysis, err := significance.New().AnalyzeTest(id, store.AnalysisVariants(variants), resultsConfidence)
		if err != nil {
			return err
		}

		printResults(cmd.OutOrStdout(), exp, variants, analysis)
		return nil
	})
}

func printResults(w io.Writer, exp *store.Experiment, variants []*store.Variant, a *significance.TestAnalysis) {
	// Print header
	fmt.Fprintf(w, "TEST: %s (%s)\n", exp.Name, exp.ID)
	fmt.Fprintf(w, "STATUS: %s\n", exp.Status)
	if exp.StartDate != nil {
		fmt.Fprintf(w, "STARTED: %s\n", exp.StartDate.Format("2006-01-02"))
	}
	if exp.WinnerVariant != "" {
		fmt.Fprintf(w, "WINNER: %s\n", exp.WinnerVariant)
	}
	fmt.Fprintln(w)

	results := make(map[string]significance.StatisticalResult, len(a.Results))
	for _, r := range a.Results {
		results[r.VariantID] = r
	}

	// Print table header
	fmt.Fprintf(w, "%-16s  %-9s  %-11s  %-7s  %-17s  %-8s  %s\n", "VARIANT", "VIEWS", "CONVERSIONS", "RATE", "CI", "LIFT", "P-VALUE")
	fmt.Fprintln(w, strings.Repeat("─", 86))

	for _, v := range variants {
		r := results[v.ID]

		ciStr := "N/A"
		if v.Impressions > 0 {
			ci := stats.WilsonInterval(v.Conversions, v.Impressions, a.ConfidenceLevel)
			ciStr = fmt.Sprintf("[%.1f%%, %.1f%%]", ci.Lower*100, ci.Upper*100)
		}

		lift, pValue := "control", "-"
		if !v.IsControl {
			lift = fmt.Sprintf("%+.1f%%", r.RelativeImprovement*100)
			pValue = fmt.Sprintf("%.4f", r.PValue)
		}

		indicator := ""
		if v.ID == a.WinningVariantID {
			indicator = " ← LEADING"
		}

		// Truncate name if too long
		name := v.Name
		if len(name) > 16 {
			name = name[:13] + "..."
		}

		fmt.Fprintf(w, "%-16s  %-9s  %-11s  %-7s  %-17s  %-8s  %s%s\n",
			name,
			formatNumber(v.Impressions),
			formatNumber(v.Conversions),
			formatPercent(r.ConversionRate),
			ciStr,
			lift,
			pValue,
			indicator,
		)
	}
	fmt.Fprintln(w)

	fmt.Fprintf(w, "Analysis: %s, recommended action: %s\n", a.Status, a.RecommendedAction)
	fmt.Fprintf(w, "Sample size: %s of %s (%.0f%%)\n",
		formatNumber(a.SampleSize.Current), formatNumber(a.SampleSize.Required), a.SampleSize.Progress)
	if a.WinningVariantID != "" {
		fmt.Fprintf(w, "Statistical significance: %.1f%% confident %q beats control\n", a.OverallSignificance, a.WinningVariantID)
	} else {
		fmt.Fprintln(w, "Statistical significance: Not enough data to determine a winner")
	}
	if t := a.TimeToSignificance; t != nil {
		fmt.Fprintf(w, "Estimated time to significance: %.1f days\n", t.EstimatedDays)
	}

	for _, q := range a.QualityChecks {
		if q.Status == significance.CheckPass {
			continue
		}
		fmt.Fprintf(w, "Quality %s: %s (%s impact) - %s\n", q.Status, q.Name, q.Impact, q.Description)
	}
}
