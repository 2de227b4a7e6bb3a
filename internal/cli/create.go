package cli

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/headline-goat/verdict/internal/store"
)

func init() {
	rootCmd.AddCommand(newCreateCmd())
}

func newCreateCmd() *cobra.Command {
	var (
		name        string
		variants    string
		allocations string
		status      string
		startedAgo  time.Duration
		manual      bool
	)

	cmd := &cobra.Command{
		Use:   "create <id>",
		Short: "Create a new A/B test",
		Long: `Create a new A/B test with the specified variants. The first variant
is the control. Traffic is split evenly unless --allocation is given.

Examples:
  verdict create hero --variants "control,bold"
  verdict create cta --variants "a,b,c" --allocation "50,25,25"
  verdict create pricing --variants "a,b" --status draft --manual`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]

			// Parse variants
			variantList := splitList(variants)
			if len(variantList) < 2 {
				return fmt.Errorf("need at least 2 variants. Example: --variants \"control,bold\"")
			}

			split, err := parseAllocations(allocations, len(variantList))
			if err != nil {
				return err
			}

			st := store.ExperimentStatus(status)
			if !st.Valid() {
				return fmt.Errorf("invalid status %q", status)
			}

			if name == "" {
				name = id
			}
			testType := "ab"
			if len(variantList) > 2 {
				testType = "multivariate"
			}

			var start *time.Time
			if st == store.StatusRunning {
				t := time.Now().Add(-startedAgo)
				start = &t
			}

			return withStore(func(s *store.SQLiteStore) error {
				ctx := context.Background()

				exp := &store.Experiment{
					ID:                id,
					Name:              name,
					Status:            st,
					AutoDeclareWinner: !manual,
					TestType:          testType,
					StartDate:         start,
				}
				if err := s.CreateExperiment(ctx, exp); err != nil {
					return fmt.Errorf("failed to create test: %w", err)
				}

				for i, vid := range variantList {
					v := &store.Variant{
						ExperimentID:      id,
						ID:                vid,
						Name:              vid,
						IsControl:         i == 0,
						TrafficAllocation: split[i],
						StartDate:         start,
					}
					if err := s.UpsertVariant(ctx, v); err != nil {
						return fmt.Errorf("failed to create variant %s: %w", vid, err)
					}
				}

				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Created test '%s' with %d variants:\n", id, len(variantList))
				for i, vid := range variantList {
					role := ""
					if i == 0 {
						role = " (control)"
					}
					fmt.Fprintf(out, "  %s: %.2f%%%s\n", vid, split[i], role)
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "display name (defaults to the id)")
	cmd.Flags().StringVarP(&variants, "variants", "v", "", "comma-separated variant ids, control first (required)")
	cmd.Flags().StringVar(&allocations, "allocation", "", "comma-separated traffic percentages")
	cmd.Flags().StringVar(&status, "status", string(store.StatusRunning), "initial status")
	cmd.Flags().DurationVar(&startedAgo, "started-ago", 0, "backdate the start time")
	cmd.Flags().BoolVar(&manual, "manual", false, "never declare a winner automatically")
	cmd.MarkFlagRequired("variants")

	return cmd
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseAllocations(s string, n int) ([]float64, error) {
	if s == "" {
		even := make([]float64, n)
		for i := range even {
			even[i] = 100 / float64(n)
		}
		return even, nil
	}

	parts := splitList(s)
	if len(parts) != n {
		return nil, fmt.Errorf("got %d allocations for %d variants", len(parts), n)
	}
	out := make([]float64, n)
	for i, p := range parts {
		f, err := strconv.ParseFloat(p, 64)
		if err != nil || f < 0 || f > 100 {
			return nil, fmt.Errorf("invalid allocation %q", p)
		}
		out[i] = f
	}
	return out, nil
}
