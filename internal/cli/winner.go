package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"

	"github.com/headline-goat/verdict/internal/store"
)

func init() {
	rootCmd.AddCommand(newWinnerCmd())
}

func newWinnerCmd() *cobra.Command {
	var (
		variantID string
		yes       bool
	)

	cmd := &cobra.Command{
		Use:   "winner <id>",
		Short: "Declare a winner for a test",
		Long: `Declare a winning variant for an A/B test and complete it.

Use this for tests created with --manual, or to override the scheduler.
You are asked to confirm unless --yes is given.

Example:
  verdict winner hero --variant bold`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]

			return withStore(func(s *store.SQLiteStore) error {
				ctx := context.Background()

				test, err := s.GetExperiment(ctx, id)
				if err != nil {
					return notFound("test", id, err)
				}

				// Validate test is still open
				if test.Status == store.StatusCompleted {
					return fmt.Errorf("test already completed (winner: %s)", test.WinnerVariant)
				}

				variants, err := s.GetVariants(ctx, id)
				if err != nil {
					return fmt.Errorf("failed to get variants: %w", err)
				}
				var winner *store.Variant
				var ids []string
				for _, v := range variants {
					ids = append(ids, v.ID)
					if v.ID == variantID {
						winner = v
					}
				}
				if winner == nil {
					return fmt.Errorf("invalid variant %q (test has variants: %v)", variantID, ids)
				}

				if !yes {
					ok, err := confirm(fmt.Sprintf("Declare %q the winner of %q", winner.Name, test.Name))
					if err != nil {
						return err
					}
					if !ok {
						fmt.Fprintln(cmd.OutOrStdout(), "Aborted.")
						return nil
					}
				}

				if err := s.SetWinner(ctx, id, winner.ID); err != nil {
					return fmt.Errorf("failed to set winner: %w", err)
				}

				fmt.Fprintf(cmd.OutOrStdout(), "Declared winner for test '%s': %s (%q)\n", id, winner.ID, winner.Name)
				fmt.Fprintln(cmd.OutOrStdout(), "Test has been marked as completed.")
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&variantID, "variant", "v", "", "winning variant id (required)")
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "skip the confirmation prompt")
	cmd.MarkFlagRequired("variant")

	return cmd
}

func confirm(label string) (bool, error) {
	prompt := promptui.Prompt{
		Label:     label,
		IsConfirm: true,
	}

	_, err := prompt.Run()
	if err != nil {
		if errors.Is(err, promptui.ErrAbort) || errors.Is(err, promptui.ErrInterrupt) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}
