package cli

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/headline-goat/verdict/internal/store"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one scheduler cycle now",
	Long: `Evaluate every eligible test once, exactly as the scheduler would on
its timer, and send notifications for any winners.`,
	Args: cobra.NoArgs,
	RunE: runCycle,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runCycle(cmd *cobra.Command, args []string) error {
	return withStore(func(s *store.SQLiteStore) error {
		sched, err := newScheduler(s, nil)
		if err != nil {
			return err
		}

		cycle, err := sched.ForceRun(context.Background())
		if err != nil {
			return fmt.Errorf("failed to run cycle: %w", err)
		}

		out := cmd.OutOrStdout()
		if len(cycle.Results) == 0 {
			fmt.Fprintf(out, "No eligible tests (%d found).\n", cycle.Eligible)
			return nil
		}

		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "TEST\tSTATUS\tWINNER\tLATENCY\tERROR")
		for _, r := range cycle.Results {
			winner, errMsg := "-", ""
			if r.Winner != nil {
				winner = r.Winner.VariantID
			}
			if r.Err != nil {
				errMsg = r.Err.Error()
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", r.TestID, r.Status, winner, r.Latency.Round(time.Millisecond), errMsg)
		}
		w.Flush()

		m := sched.Metrics()
		fmt.Fprintf(out, "\n%d evaluated, %d winner(s), %.0f%% success\n", m.EvaluatedToday, m.WinnersToday, m.SuccessRate)
		return nil
	})
}
