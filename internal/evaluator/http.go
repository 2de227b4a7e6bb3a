package evaluator

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/time/rate"
)

// EvaluatePath is the route a verdict server exposes for remote evaluation.
const EvaluatePath = "/api/v1/evaluate"

// HTTP forwards evaluations to a remote verdict server.
type HTTP struct {
	baseURL string
	token   string
	client  *http.Client
	limiter *rate.Limiter
}

type HTTPOption func(*HTTP)

func WithHTTPClient(c *http.Client) HTTPOption {
	return func(h *HTTP) { h.client = c }
}

// WithRateLimit caps outgoing requests per second. Zero or less disables
// the limit.
func WithRateLimit(perSecond float64) HTTPOption {
	return func(h *HTTP) {
		if perSecond <= 0 {
			h.limiter = rate.NewLimiter(rate.Inf, 0)
			return
		}
		h.limiter = rate.NewLimiter(rate.Limit(perSecond), 1)
	}
}

func NewHTTP(baseURL, token string, opts ...HTTPOption) *HTTP {
	h := &HTTP{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  &http.Client{Timeout: 30 * time.Second},
		limiter: rate.NewLimiter(rate.Inf, 0),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *HTTP) Evaluate(ctx context.Context, req Request) (*Response, error) {
	if err := req.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid evaluation request")
	}
	if err := h.limiter.Wait(ctx); err != nil {
		return nil, errors.Wrap(err, "rate limit wait")
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, errors.Wrap(err, "encode request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, h.baseURL+EvaluatePath, bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(err, "build request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if h.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+h.token)
	}

	resp, err := h.client.Do(httpReq)
	if err != nil {
		return nil, errors.Wrapf(err, "evaluate %s", req.TestID)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, errors.Errorf("evaluate %s: remote returned %d: %s", req.TestID, resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var out Response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, errors.Wrap(err, "decode response")
	}
	return &out, nil
}
