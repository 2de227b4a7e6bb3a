package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/headline-goat/verdict/internal/conclusion"
	"github.com/headline-goat/verdict/internal/notify"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "verdict.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	v, err := New("")
	require.NoError(t, err)

	cfg, err := Load(v)
	require.NoError(t, err)

	assert.Equal(t, "./verdict.db", cfg.DB)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, ":8080", cfg.ListenAddr())

	sched := cfg.SchedulerConfig()
	assert.True(t, sched.Enabled)
	assert.Equal(t, 60*time.Minute, sched.CheckInterval)
	assert.Equal(t, 5, sched.MaxConcurrentEvaluations)
	assert.Equal(t, 24*time.Hour, sched.MinTestAge)
	assert.Equal(t, conclusion.DefaultCriteria(), sched.DefaultCriteria)

	assert.False(t, cfg.NotifyConfig().Enabled)
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
db: /tmp/experiments.db
port: 9090
scheduler:
  check_interval: 15m
  max_concurrent_evaluations: 2
  min_test_age: 48h
  default_criteria:
    minimum_confidence: 99
    minimum_improvement: 2
    risk_tolerance: low
notifications:
  enabled: true
  channels: [log, webhook]
  stakeholders: [growth@example.com]
  webhook_url: https://hooks.example.com/verdict
`)

	v, err := New(path)
	require.NoError(t, err)
	cfg, err := Load(v)
	require.NoError(t, err)

	sched := cfg.SchedulerConfig()
	assert.Equal(t, 15*time.Minute, sched.CheckInterval)
	assert.Equal(t, 2, sched.MaxConcurrentEvaluations)
	assert.Equal(t, 48*time.Hour, sched.MinTestAge)
	assert.Equal(t, conclusion.RiskLow, sched.DefaultCriteria.RiskTolerance)
	assert.Equal(t, float64(99), sched.DefaultCriteria.MinimumConfidence)
	assert.Equal(t, []string{"growth@example.com"}, sched.Notifications.Stakeholders)

	nc := cfg.NotifyConfig()
	assert.True(t, nc.Enabled)
	assert.Equal(t, []string{notify.ChannelLog, notify.ChannelWebhook}, nc.Channels)
	assert.Equal(t, "https://hooks.example.com/verdict", nc.WebhookURL)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("VERDICT_PORT", "7070")
	t.Setenv("VERDICT_SCHEDULER_MAX_CONCURRENT_EVALUATIONS", "9")

	v, err := New("")
	require.NoError(t, err)
	cfg, err := Load(v)
	require.NoError(t, err)

	assert.Equal(t, 7070, cfg.Port)
	assert.Equal(t, 9, cfg.Scheduler.MaxConcurrentEvaluations)
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"interval below a minute", "scheduler:\n  check_interval: 30s\n"},
		{"zero concurrency", "scheduler:\n  max_concurrent_evaluations: 0\n"},
		{"unknown risk tolerance", "scheduler:\n  default_criteria:\n    risk_tolerance: reckless\n"},
		{"confidence above 100", "scheduler:\n  default_criteria:\n    minimum_confidence: 150\n"},
		{"unknown channel", "notifications:\n  channels: [pager]\n"},
		{"bad webhook url", "notifications:\n  webhook_url: not a url\n"},
		{"bad log level", "log:\n  level: loud\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := New(writeConfig(t, tt.body))
			require.NoError(t, err)

			_, err = Load(v)
			assert.Error(t, err)
		})
	}
}

func TestNewMissingFile(t *testing.T) {
	_, err := New(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestWriteFileRoundTrip(t *testing.T) {
	v, err := New("")
	require.NoError(t, err)
	cfg, err := Load(v)
	require.NoError(t, err)
	cfg.Scheduler.CheckInterval = 5 * time.Minute
	cfg.Scheduler.DefaultCriteria.RiskTolerance = "high"

	path := filepath.Join(t.TempDir(), "verdict.yaml")
	require.NoError(t, WriteFile(path, cfg))

	v2, err := New(path)
	require.NoError(t, err)
	loaded, err := Load(v2)
	require.NoError(t, err)
	assert.Equal(t, 5*time.Minute, loaded.Scheduler.CheckInterval)
	assert.Equal(t, "high", loaded.Scheduler.DefaultCriteria.RiskTolerance)

	assert.Error(t, WriteFile(path, cfg), "existing file must not be overwritten")
}

func TestLogger(t *testing.T) {
	var buf bytes.Buffer
	cfg := &Config{Log: LogConfig{Level: "warn", Format: "json"}}
	logger := cfg.Logger(&buf)

	logger.Info("hidden")
	logger.Warn("shown", "test_id", "hero")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.True(t, strings.HasPrefix(out, "{"))
	assert.Contains(t, out, `"test_id":"hero"`)
}

func TestParseLevelFallback(t *testing.T) {
	assert.Equal(t, parseLevel("debug").String(), "DEBUG")
	assert.Equal(t, parseLevel("nonsense").String(), "INFO")
}
