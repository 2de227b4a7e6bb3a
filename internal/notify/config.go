package notify

import (
	"fmt"
	"log/slog"
)

const (
	ChannelLog      = "log"
	ChannelWebhook  = "webhook"
	ChannelTelegram = "telegram"
)

type Config struct {
	Enabled        bool
	Channels       []string
	WebhookURL     string
	TelegramToken  string
	TelegramChatID int64
}

// FromConfig builds the notifier for the configured channels. Disabled
// notifications yield Nop.
func FromConfig(cfg Config, logger *slog.Logger) (Notifier, error) {
	if !cfg.Enabled || len(cfg.Channels) == 0 {
		return Nop{}, nil
	}

	var multi Multi
	for _, ch := range cfg.Channels {
		switch ch {
		case ChannelLog:
			multi = append(multi, NewLog(logger))
		case ChannelWebhook:
			if cfg.WebhookURL == "" {
				return nil, fmt.Errorf("webhook channel requires a webhook url")
			}
			multi = append(multi, NewWebhook(cfg.WebhookURL))
		case ChannelTelegram:
			if cfg.TelegramToken == "" || cfg.TelegramChatID == 0 {
				return nil, fmt.Errorf("telegram channel requires a bot token and chat id")
			}
			tg, err := NewTelegram(cfg.TelegramToken, cfg.TelegramChatID)
			if err != nil {
				return nil, err
			}
			multi = append(multi, tg)
		default:
			return nil, fmt.Errorf("unknown notification channel %q", ch)
		}
	}

	if len(multi) == 1 {
		return multi[0], nil
	}
	return multi, nil
}
