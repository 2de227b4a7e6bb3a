package cli

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"io"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/headline-goat/verdict/internal/config"
)

// execute runs the root command against a fresh flag state.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	resetFlags(rootCmd)

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(io.Discard)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		f.Value.Set(f.DefValue)
		f.Changed = false
	}
	cmd.PersistentFlags().VisitAll(reset)
	cmd.Flags().VisitAll(reset)
	for _, c := range cmd.Commands() {
		resetFlags(c)
	}
}

func mustExecute(t *testing.T, args ...string) string {
	t.Helper()
	out, err := execute(t, args...)
	require.NoError(t, err, "verdict %s", strings.Join(args, " "))
	return out
}

// seedHero creates a test whose "b" variant clearly beats control.
func seedHero(t *testing.T, db string) {
	t.Helper()
	mustExecute(t, "--db", db, "create", "hero", "--name", "Homepage hero", "--variants", "a,b", "--started-ago", "72h")
	mustExecute(t, "--db", db, "record", "hero", "a", "--impressions", "10000", "--conversions", "500", "--revenue", "5000")
	mustExecute(t, "--db", db, "record", "hero", "b", "--impressions", "10000", "--conversions", "700", "--revenue", "7000")
}

func tempDB(t *testing.T) string {
	return filepath.Join(t.TempDir(), "verdict.db")
}

func TestCreateAndList(t *testing.T) {
	db := tempDB(t)

	out := mustExecute(t, "--db", db, "list")
	assert.Contains(t, out, "No tests yet.")

	out = mustExecute(t, "--db", db, "create", "cta", "--variants", "a, b, c", "--allocation", "50,25,25")
	assert.Contains(t, out, "Created test 'cta' with 3 variants")
	assert.Contains(t, out, "a: 50.00% (control)")

	out = mustExecute(t, "--db", db, "list")
	assert.Contains(t, out, "cta")
	assert.Contains(t, out, "RUNNING")
}

func TestCreateValidation(t *testing.T) {
	db := tempDB(t)

	_, err := execute(t, "--db", db, "create", "hero", "--variants", "only")
	assert.ErrorContains(t, err, "at least 2 variants")

	_, err = execute(t, "--db", db, "create", "hero", "--variants", "a,b", "--allocation", "100")
	assert.ErrorContains(t, err, "allocations")

	_, err = execute(t, "--db", db, "create", "hero", "--variants", "a,b", "--status", "bogus")
	assert.ErrorContains(t, err, "invalid status")

	mustExecute(t, "--db", db, "create", "hero", "--variants", "a,b")
	_, err = execute(t, "--db", db, "create", "hero", "--variants", "a,b")
	assert.Error(t, err, "duplicate id")
}

func TestRecord(t *testing.T) {
	db := tempDB(t)
	mustExecute(t, "--db", db, "create", "hero", "--variants", "a,b")

	out := mustExecute(t, "--db", db, "record", "hero", "b", "--impressions", "1000", "--conversions", "50")
	assert.Contains(t, out, "hero/b: 1,000 views, 50 conversions (5.00%)")

	out = mustExecute(t, "--db", db, "record", "hero", "b", "--add", "--impressions", "500", "--conversions", "10")
	assert.Contains(t, out, "1,500 views, 60 conversions")

	_, err := execute(t, "--db", db, "record", "hero", "b", "--conversions", "5000")
	assert.ErrorContains(t, err, "exceed impressions")

	_, err = execute(t, "--db", db, "record", "hero", "z", "--impressions", "1")
	assert.ErrorContains(t, err, "variant 'z' not found")
}

func TestResults(t *testing.T) {
	db := tempDB(t)
	seedHero(t, db)

	out := mustExecute(t, "--db", db, "results", "hero")
	assert.Contains(t, out, "TEST: Homepage hero (hero)")
	assert.Contains(t, out, "← LEADING")
	assert.Contains(t, out, "+40.0%")
	assert.Contains(t, out, "Analysis: significant")

	out = mustExecute(t, "--db", db, "analyze", "hero", "--confidence", "0.99")
	assert.Contains(t, out, "VARIANT")

	_, err := execute(t, "--db", db, "results", "missing")
	assert.ErrorContains(t, err, "test 'missing' not found")
}

func TestEvaluateAndExport(t *testing.T) {
	db := tempDB(t)
	seedHero(t, db)

	out := mustExecute(t, "--db", db, "evaluate", "hero")
	assert.Contains(t, out, "concluded: winner_selected")
	assert.Contains(t, out, "Winner: b")

	out = mustExecute(t, "--db", db, "list")
	assert.Contains(t, out, "COMPLETED")

	out = mustExecute(t, "--db", db, "evaluate", "hero")
	assert.Contains(t, out, "not running")

	out = mustExecute(t, "--db", db, "export", "hero")
	rows, err := csv.NewReader(strings.NewReader(out)).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, []string{"timestamp", "test_id", "conclusion_id", "action", "status", "winner"}, rows[0])
	assert.Equal(t, "hero", rows[1][1])
	assert.Equal(t, "b", rows[1][5])

	out = mustExecute(t, "--db", db, "export", "--format", "json")
	var export struct {
		Conclusions []struct {
			TestID string `json:"test_id"`
			Winner struct {
				VariantID string `json:"variant_id"`
			} `json:"winner"`
		} `json:"conclusions"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &export))
	require.Len(t, export.Conclusions, 1)
	assert.Equal(t, "b", export.Conclusions[0].Winner.VariantID)

	_, err = execute(t, "--db", db, "export", "hero", "--format", "xml")
	assert.ErrorContains(t, err, "invalid format")
}

func TestEvaluateFlags(t *testing.T) {
	db := tempDB(t)
	seedHero(t, db)

	_, err := execute(t, "--db", db, "evaluate", "hero", "--strategy", "yolo")
	assert.ErrorContains(t, err, "invalid strategy")

	// no variant clears a 50% lift bar, so nothing concludes with a winner
	out := mustExecute(t, "--db", db, "evaluate", "hero", "--min-improvement", "50")
	assert.NotContains(t, out, "Winner: b")
}

func TestRunCycle(t *testing.T) {
	db := tempDB(t)
	seedHero(t, db)
	mustExecute(t, "--db", db, "create", "fresh", "--variants", "a,b")

	out := mustExecute(t, "--db", db, "run")
	assert.Contains(t, out, "hero")
	assert.NotContains(t, out, "fresh")
	assert.Contains(t, out, "1 evaluated, 1 winner(s), 100% success")

	out = mustExecute(t, "--db", db, "run")
	assert.Contains(t, out, "No eligible tests")
}

func TestWinner(t *testing.T) {
	db := tempDB(t)
	mustExecute(t, "--db", db, "create", "hero", "--variants", "a,b", "--manual")

	_, err := execute(t, "--db", db, "winner", "hero", "--variant", "z", "--yes")
	assert.ErrorContains(t, err, "invalid variant")

	out := mustExecute(t, "--db", db, "winner", "hero", "--variant", "b", "--yes")
	assert.Contains(t, out, "Declared winner for test 'hero': b")

	_, err = execute(t, "--db", db, "winner", "hero", "--variant", "a", "--yes")
	assert.ErrorContains(t, err, "already completed")

	_, err = execute(t, "--db", db, "winner", "missing", "--variant", "a", "--yes")
	assert.ErrorContains(t, err, "test 'missing' not found")
}

func TestInitWritesConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "verdict.yaml")

	out := mustExecute(t, "init", "--defaults", "--risk-tolerance", "low", "--check-interval", "10m", "--notify", "log", "--output", path)
	assert.Contains(t, out, "Wrote "+path)

	v, err := config.New(path)
	require.NoError(t, err)
	loaded, err := config.Load(v)
	require.NoError(t, err)
	assert.Equal(t, "low", loaded.Scheduler.DefaultCriteria.RiskTolerance)
	assert.Equal(t, 10*time.Minute, loaded.Scheduler.CheckInterval)
	assert.True(t, loaded.Notifications.Enabled)

	_, err = execute(t, "init", "--defaults", "--output", path)
	assert.ErrorContains(t, err, "already exists")

	_, err = execute(t, "init", "--defaults", "--risk-tolerance", "reckless", "--output", filepath.Join(t.TempDir(), "x.yaml"))
	assert.Error(t, err)
}

func TestConfigFileFeedsCommands(t *testing.T) {
	dir := t.TempDir()
	db := filepath.Join(dir, "from-config.db")
	path := filepath.Join(dir, "verdict.yaml")
	mustExecute(t, "--db", db, "init", "--defaults", "--output", path)

	mustExecute(t, "--config", path, "create", "hero", "--variants", "a,b")
	out := mustExecute(t, "--db", db, "list")
	assert.Contains(t, out, "hero")
}

func TestFormatNumber(t *testing.T) {
	tests := []struct {
		n    int
		want string
	}{
		{0, "0"},
		{999, "999"},
		{1000, "1,000"},
		{123456, "123,456"},
		{1234567, "1,234,567"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, formatNumber(tt.n))
	}
}
