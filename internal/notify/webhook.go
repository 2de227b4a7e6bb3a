package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

// Webhook posts summaries as JSON to a chat-style incoming webhook.
type Webhook struct {
	url     string
	client  *http.Client
	limiter *rate.Limiter
}

type webhookPayload struct {
	Text    string  `json:"text"`
	Summary Summary `json:"summary"`
}

// NewWebhook sends at most one summary per second to url.
func NewWebhook(url string) *Webhook {
	return &Webhook{
		url:     url,
		client:  &http.Client{Timeout: 10 * time.Second},
		limiter: rate.NewLimiter(rate.Every(time.Second), 1),
	}
}

func (w *Webhook) Notify(ctx context.Context, s Summary) error {
	if err := w.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("failed to wait for webhook rate limit: %w", err)
	}

	body, err := json.Marshal(webhookPayload{Text: Format(s), Summary: s})
	if err != nil {
		return fmt.Errorf("failed to encode webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to post webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}
