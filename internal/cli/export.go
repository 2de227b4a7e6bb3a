package cli

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/headline-goat/verdict/internal/store"
)

var exportFormat string

var exportCmd = &cobra.Command{
	Use:   "export [id]",
	Short: "Export saved conclusions",
	Long: `Export the conclusions recorded for one test, or for every test when
no id is given, in CSV or JSON format.

Examples:
  verdict export hero --format csv > hero-conclusions.csv
  verdict export --format json > conclusions.json`,
	Args: cobra.MaximumNArgs(1),
	RunE: runExport,
}

func init() {
	exportCmd.Flags().StringVarP(&exportFormat, "format", "f", "csv", "output format (csv or json)")
	rootCmd.AddCommand(exportCmd)
}

func runExport(cmd *cobra.Command, args []string) error {
	if exportFormat != "csv" && exportFormat != "json" {
		return fmt.Errorf("invalid format: must be 'csv' or 'json'")
	}

	var id string
	if len(args) == 1 {
		id = args[0]
	}

	return withStore(func(s *store.SQLiteStore) error {
		ctx := context.Background()

		// Verify test exists
		if id != "" {
			if _, err := s.GetExperiment(ctx, id); err != nil {
				return notFound("test", id, err)
			}
		}

		conclusions, err := s.ListConclusions(ctx, id)
		if err != nil {
			return fmt.Errorf("failed to get conclusions: %w", err)
		}

		if exportFormat == "csv" {
			return exportCSV(cmd.OutOrStdout(), conclusions)
		}
		return exportJSON(cmd.OutOrStdout(), conclusions)
	})
}

func exportCSV(out io.Writer, conclusions []*store.Conclusion) error {
	w := csv.NewWriter(out)
	defer w.Flush()

	// Write header
	if err := w.Write([]string{"timestamp", "test_id", "conclusion_id", "action", "status", "winner"}); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	// Write rows
	for _, c := range conclusions {
		row := []string{
			strconv.FormatInt(c.CreatedAt.Unix(), 10),
			c.ExperimentID,
			c.ID,
			c.Action,
			c.Status,
			c.WinnerVariant,
		}
		if err := w.Write(row); err != nil {
			return fmt.Errorf("failed to write row: %w", err)
		}
	}

	return nil
}

type jsonExport struct {
	Conclusions []json.RawMessage `json:"conclusions"`
}

func exportJSON(out io.Writer, conclusions []*store.Conclusion) error {
	export := jsonExport{
		Conclusions: make([]json.RawMessage, len(conclusions)),
	}

	for i, c := range conclusions {
		export.Conclusions[i] = json.RawMessage(c.Payload)
	}

	encoder := json.NewEncoder(out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(export)
}
