package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/headline-goat/verdict/internal/conclusion"
	"github.com/headline-goat/verdict/internal/notify"
	"github.com/headline-goat/verdict/internal/scheduler"
)

const EnvPrefix = "VERDICT"

var validate = validator.New()

type Config struct {
	DB        string `mapstructure:"db" yaml:"db" validate:"required"`
	Addr      string `mapstructure:"addr" yaml:"addr"`
	Port      int    `mapstructure:"port" yaml:"port" validate:"gte=0,lte=65535"`
	Token     string `mapstructure:"token" yaml:"token,omitempty"`
	RulesFile string `mapstructure:"rules_file" yaml:"rules_file,omitempty"`

	Log           LogConfig          `mapstructure:"log" yaml:"log"`
	Scheduler     SchedulerConfig    `mapstructure:"scheduler" yaml:"scheduler"`
	Notifications NotificationConfig `mapstructure:"notifications" yaml:"notifications"`
	Remote        RemoteConfig       `mapstructure:"remote" yaml:"remote,omitempty"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level" validate:"oneof=debug info warn error"`
	Format string `mapstructure:"format" yaml:"format" validate:"oneof=text json"`
}

type SchedulerConfig struct {
	Enabled                  bool           `mapstructure:"enabled" yaml:"enabled"`
	CheckInterval            time.Duration  `mapstructure:"check_interval" yaml:"check_interval" validate:"min=1m"`
	MaxConcurrentEvaluations int            `mapstructure:"max_concurrent_evaluations" yaml:"max_concurrent_evaluations" validate:"min=1"`
	MinTestAge               time.Duration  `mapstructure:"min_test_age" yaml:"min_test_age" validate:"gte=0"`
	DefaultCriteria          CriteriaConfig `mapstructure:"default_criteria" yaml:"default_criteria"`
}

type CriteriaConfig struct {
	MinimumConfidence  float64 `mapstructure:"minimum_confidence" yaml:"minimum_confidence" validate:"gte=0,lte=100"`
	MinimumImprovement float64 `mapstructure:"minimum_improvement" yaml:"minimum_improvement" validate:"gte=-100"`
	RiskTolerance      string  `mapstructure:"risk_tolerance" yaml:"risk_tolerance" validate:"oneof=low medium high"`
}

type NotificationConfig struct {
	Enabled        bool     `mapstructure:"enabled" yaml:"enabled"`
	Channels       []string `mapstructure:"channels" yaml:"channels" validate:"dive,oneof=log webhook telegram"`
	Stakeholders   []string `mapstructure:"stakeholders" yaml:"stakeholders,omitempty"`
	WebhookURL     string   `mapstructure:"webhook_url" yaml:"webhook_url,omitempty" validate:"omitempty,url"`
	TelegramToken  string   `mapstructure:"telegram_token" yaml:"telegram_token,omitempty"`
	TelegramChatID int64    `mapstructure:"telegram_chat_id" yaml:"telegram_chat_id,omitempty"`
}

// RemoteConfig points evaluation at another verdict server instead of the
// local database.
type RemoteConfig struct {
	URL       string  `mapstructure:"url" yaml:"url,omitempty" validate:"omitempty,url"`
	Token     string  `mapstructure:"token" yaml:"token,omitempty"`
	RateLimit float64 `mapstructure:"rate_limit" yaml:"rate_limit,omitempty" validate:"gte=0"`
}

func SetDefaults(v *viper.Viper) {
	sched := scheduler.DefaultConfig()

	v.SetDefault("db", "./verdict.db")
	v.SetDefault("addr", "")
	v.SetDefault("port", 8080)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("scheduler.enabled", sched.Enabled)
	v.SetDefault("scheduler.check_interval", sched.CheckInterval)
	v.SetDefault("scheduler.max_concurrent_evaluations", sched.MaxConcurrentEvaluations)
	v.SetDefault("scheduler.min_test_age", sched.MinTestAge)
	v.SetDefault("scheduler.default_criteria.minimum_confidence", sched.DefaultCriteria.MinimumConfidence)
	v.SetDefault("scheduler.default_criteria.minimum_improvement", sched.DefaultCriteria.MinimumImprovement)
	v.SetDefault("scheduler.default_criteria.risk_tolerance", string(sched.DefaultCriteria.RiskTolerance))
	v.SetDefault("notifications.enabled", false)
	v.SetDefault("notifications.channels", []string{notify.ChannelLog})
	v.SetDefault("remote.rate_limit", 0)
}

// New returns a viper instance with defaults, environment binding and the
// optional config file applied. A .env file in the working directory is
// loaded first when present.
func New(configFile string) (*viper.Viper, error) {
	_ = godotenv.Load()

	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", configFile, err)
		}
	}
	return v, nil
}

func Load(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Addr, c.Port)
}

func (c *Config) Criteria() conclusion.Criteria {
	return conclusion.Criteria{
		MinimumConfidence:  c.Scheduler.DefaultCriteria.MinimumConfidence,
		MinimumImprovement: c.Scheduler.DefaultCriteria.MinimumImprovement,
		RiskTolerance:      conclusion.RiskTolerance(c.Scheduler.DefaultCriteria.RiskTolerance),
	}
}

func (c *Config) SchedulerConfig() scheduler.Config {
	return scheduler.Config{
		Enabled:                  c.Scheduler.Enabled,
		CheckInterval:            c.Scheduler.CheckInterval,
		MaxConcurrentEvaluations: c.Scheduler.MaxConcurrentEvaluations,
		MinTestAge:               c.Scheduler.MinTestAge,
		DefaultCriteria:          c.Criteria(),
		Notifications: scheduler.NotificationConfig{
			Config:       c.NotifyConfig(),
			Stakeholders: c.Notifications.Stakeholders,
		},
	}
}

func (c *Config) NotifyConfig() notify.Config {
	return notify.Config{
		Enabled:        c.Notifications.Enabled,
		Channels:       c.Notifications.Channels,
		WebhookURL:     c.Notifications.WebhookURL,
		TelegramToken:  c.Notifications.TelegramToken,
		TelegramChatID: c.Notifications.TelegramChatID,
	}
}

// Logger builds a slog logger writing to w in the configured format.
func (c *Config) Logger(w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(c.Log.Level)}
	if c.Log.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func parseLevel(s string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return level
}

// Watch reloads the config file on change and hands every valid result to
// onChange. Invalid edits are logged and ignored.
func Watch(v *viper.Viper, logger *slog.Logger, onChange func(*Config)) {
	v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		cfg, err := Load(v)
		if err != nil {
			logger.Warn("ignoring config change", "file", e.Name, "error", err)
			return
		}
		logger.Info("config reloaded", "file", e.Name)
		onChange(cfg)
	})
	v.WatchConfig()
}

// WriteFile writes cfg as YAML. Existing files are not overwritten.
func WriteFile(path string, cfg *Config) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file %s already exists", path)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}
