package cli

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/headline-goat/verdict/internal/store"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List all tests",
	Long:  `List all A/B tests with their status and traffic.`,
	RunE:  runList,
}

func init() {
	rootCmd.AddCommand(listCmd)
}

func runList(cmd *cobra.Command, args []string) error {
	return withStore(func(s *store.SQLiteStore) error {
		ctx := context.Background()

		tests, err := s.ListExperiments(ctx)
		if err != nil {
			return fmt.Errorf("failed to list tests: %w", err)
		}

		if len(tests) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No tests yet.")
			fmt.Fprintln(cmd.OutOrStdout())
			fmt.Fprintln(cmd.OutOrStdout(), "Create one with:")
			fmt.Fprintln(cmd.OutOrStdout(), `  verdict create hero --variants "control,bold"`)
			return nil
		}

		// Print table
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tSTATUS\tVARIANTS\tVIEWS\tCONVERSIONS\tWINNER\tSTARTED")

		for _, test := range tests {
			variants, err := s.GetVariants(ctx, test.ID)
			if err != nil {
				return fmt.Errorf("failed to get variants for test %s: %w", test.ID, err)
			}

			totalViews := 0
			totalConversions := 0
			for _, v := range variants {
				totalViews += v.Impressions
				totalConversions += v.Conversions
			}

			winner := test.WinnerVariant
			if winner == "" {
				winner = "-"
			}
			started := "-"
			if test.StartDate != nil {
				started = test.StartDate.Format("2006-01-02")
			}

			fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\t%s\t%s\n",
				test.ID,
				test.Name,
				strings.ToUpper(string(test.Status)),
				len(variants),
				formatNumber(totalViews),
				formatNumber(totalConversions),
				winner,
				started,
			)
		}

		w.Flush()
		return nil
	})
}
