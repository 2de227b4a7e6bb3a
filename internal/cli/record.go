package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/headline-goat/verdict/internal/store"
)

func init() {
	rootCmd.AddCommand(newRecordCmd())
}

func newRecordCmd() *cobra.Command {
	var (
		impressions int
		clicks      int
		conversions int
		revenue     float64
		bounceRate  float64
		timeOnPage  float64
		engagement  float64
		add         bool
	)

	cmd := &cobra.Command{
		Use:   "record <id> <variant>",
		Short: "Record metrics for a variant",
		Long: `Set the aggregated metrics of one variant. Only the flags given are
changed. With --add the counts are added to the stored totals instead.

Examples:
  verdict record hero bold --impressions 5000 --conversions 260
  verdict record hero bold --add --impressions 120 --conversions 7 --revenue 84.50`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, variantID := args[0], args[1]
			flags := cmd.Flags()

			return withStore(func(s *store.SQLiteStore) error {
				ctx := context.Background()

				variants, err := s.GetVariants(ctx, id)
				if err != nil {
					return fmt.Errorf("failed to get variants: %w", err)
				}
				var v *store.Variant
				for _, candidate := range variants {
					if candidate.ID == variantID {
						v = candidate
						break
					}
				}
				if v == nil {
					return fmt.Errorf("variant '%s' not found in test '%s'", variantID, id)
				}

				if flags.Changed("impressions") {
					v.Impressions = accumulate(add, v.Impressions, impressions)
				}
				if flags.Changed("clicks") {
					v.Clicks = accumulate(add, v.Clicks, clicks)
				}
				if flags.Changed("conversions") {
					v.Conversions = accumulate(add, v.Conversions, conversions)
				}
				if flags.Changed("revenue") {
					v.Revenue = accumulate(add, v.Revenue, revenue)
				}
				if flags.Changed("bounce-rate") {
					v.BounceRate = &bounceRate
				}
				if flags.Changed("time-on-page") {
					v.TimeOnPage = &timeOnPage
				}
				if flags.Changed("engagement-rate") {
					v.EngagementRate = &engagement
				}

				if v.Impressions < 0 || v.Conversions < 0 || v.Clicks < 0 {
					return fmt.Errorf("counts must not be negative")
				}
				if v.Conversions > v.Impressions {
					return fmt.Errorf("conversions (%d) exceed impressions (%d)", v.Conversions, v.Impressions)
				}

				if err := s.UpsertVariant(ctx, v); err != nil {
					return err
				}

				fmt.Fprintf(cmd.OutOrStdout(), "%s/%s: %s views, %s conversions (%s), revenue %.2f\n",
					id, v.ID,
					formatNumber(v.Impressions),
					formatNumber(v.Conversions),
					formatPercent(v.Analysis().Metrics.ConversionRate()),
					v.Revenue,
				)
				return nil
			})
		},
	}

	cmd.Flags().IntVar(&impressions, "impressions", 0, "impressions")
	cmd.Flags().IntVar(&clicks, "clicks", 0, "clicks")
	cmd.Flags().IntVar(&conversions, "conversions", 0, "conversions")
	cmd.Flags().Float64Var(&revenue, "revenue", 0, "revenue")
	cmd.Flags().Float64Var(&bounceRate, "bounce-rate", 0, "bounce rate (0-1)")
	cmd.Flags().Float64Var(&timeOnPage, "time-on-page", 0, "average time on page (seconds)")
	cmd.Flags().Float64Var(&engagement, "engagement-rate", 0, "engagement rate (0-1)")
	cmd.Flags().BoolVar(&add, "add", false, "add to the stored counts instead of replacing them")

	return cmd
}

func accumulate[T int | float64](add bool, current, value T) T {
	if add {
		return current + value
	}
	return value
}
