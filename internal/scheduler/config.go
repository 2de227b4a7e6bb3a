package scheduler

import (
	"slices"
	"time"

	"github.com/headline-goat/verdict/internal/conclusion"
	"github.com/headline-goat/verdict/internal/notify"
)

// MinCheckInterval is the shortest accepted interval between cycles.
const MinCheckInterval = time.Minute

// Config configures the winner scheduler.
type Config struct {
	Enabled bool

	// CheckInterval is the time between cycles.
	CheckInterval time.Duration

	// MaxConcurrentEvaluations caps how many tests are evaluated per cycle.
	// Eligible tests beyond the cap wait for a later cycle.
	MaxConcurrentEvaluations int

	// MinTestAge is how long a test must have been running to be eligible.
	MinTestAge time.Duration

	DefaultCriteria conclusion.Criteria

	Notifications NotificationConfig
}

// NotificationConfig selects the notification sinks. A change to the
// embedded sink settings rebuilds the notifier on UpdateConfig.
type NotificationConfig struct {
	notify.Config
	Stakeholders []string
}

func sameSinks(a, b notify.Config) bool {
	return a.Enabled == b.Enabled &&
		slices.Equal(a.Channels, b.Channels) &&
		a.WebhookURL == b.WebhookURL &&
		a.TelegramToken == b.TelegramToken &&
		a.TelegramChatID == b.TelegramChatID
}

func DefaultConfig() Config {
	return Config{
		Enabled:                  true,
		CheckInterval:            60 * time.Minute,
		MaxConcurrentEvaluations: 5,
		MinTestAge:               24 * time.Hour,
		DefaultCriteria:          conclusion.DefaultCriteria(),
	}
}

func normalize(cfg Config) Config {
	if cfg.CheckInterval < MinCheckInterval {
		cfg.CheckInterval = MinCheckInterval
	}
	if cfg.MaxConcurrentEvaluations <= 0 {
		cfg.MaxConcurrentEvaluations = DefaultConfig().MaxConcurrentEvaluations
	}
	if cfg.MinTestAge < 0 {
		cfg.MinTestAge = 0
	}
	if cfg.DefaultCriteria == (conclusion.Criteria{}) {
		cfg.DefaultCriteria = conclusion.DefaultCriteria()
	}
	return cfg
}
