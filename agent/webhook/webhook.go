// Package webhook posts agent actions to business systems.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	contractx "github.com/mosopedev/chimedesk-api/agent/contract"
)

const (
	defaultHTTPTimeout = 10 * time.Second
	maxBodyBytes       = 1 << 20
)

type Config struct {
	Timeout    time.Duration `envconfig:"TIMEOUT" default:"10s"`
	Retries    int           `envconfig:"RETRIES" default:"1"`
	RetryDelay time.Duration `envconfig:"RETRY_DELAY" split_words:"true" default:"300ms"`
}

func (c Config) Validate() error {
	if c.Retries < 0 {
		return fmt.Errorf("webhook retries must be >= 0, got %d", c.Retries)
	}
	return nil
}

type Option func(*Caller)

// Caller implements contract.ActionInvoker.
type Caller struct {
	httpClient *http.Client
	retries    int
	retryDelay time.Duration
	observe    func(outcome string)
}

func New(opts ...Option) *Caller {
	c := &Caller{
		httpClient: &http.Client{Timeout: defaultHTTPTimeout},
		retries:    1,
		retryDelay: 300 * time.Millisecond,
		observe:    func(string) {},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

func NewFromConfig(cfg Config, opts ...Option) *Caller {
	base := []Option{
		WithHTTPClient(&http.Client{Timeout: cfg.Timeout}),
		WithRetries(cfg.Retries, cfg.RetryDelay),
	}
	return New(append(base, opts...)...)
}

func WithHTTPClient(client *http.Client) Option {
	return func(c *Caller) {
		if client != nil {
			c.httpClient = client
		}
	}
}

func WithRetries(n int, delay time.Duration) Option {
	return func(c *Caller) {
		if n >= 0 {
			c.retries = n
		}
		if delay >= 0 {
			c.retryDelay = delay
		}
	}
}

func WithObserver(fn func(outcome string)) Option {
	return func(c *Caller) {
		if fn != nil {
			c.observe = fn
		}
	}
}

// Invoke posts {action, schemaData} to webhookURL and returns the response
// body. Network errors and 429/5xx responses are retried; everything else
// fails with ErrWebhookFailure straight away.
func (c *Caller) Invoke(ctx context.Context, webhookURL string, req contractx.ActionRequest) (json.RawMessage, error) {
	target := strings.TrimSpace(webhookURL)
	if u, err := url.Parse(target); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		c.observe("invalid_url")
		return nil, fmt.Errorf("%w: invalid webhook url %q", contractx.ErrInvalidAction, webhookURL)
	}
	if req.SchemaData == nil {
		req.SchemaData = map[string]any{}
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal action request: %w", err)
	}

	logger := zerolog.Ctx(ctx).With().Str("action", req.Action).Str("webhook", target).Logger()

	var lastErr error
	for attempt := 0; attempt <= c.retries; attempt++ {
		if attempt > 0 {
			logger.Warn().Err(lastErr).Str("kind", contractx.ErrorKind(lastErr)).Int("attempt", attempt).Msg("retrying action webhook")
			if err := sleep(ctx, c.retryDelay); err != nil {
				return nil, err
			}
		}

		result, retryable, err := c.post(ctx, target, body)
		if err == nil {
			c.observe("ok")
			return result, nil
		}
		lastErr = err
		if !retryable {
			break
		}
	}

	c.observe("error")
	return nil, lastErr
}

func (c *Caller) post(ctx context.Context, target string, body []byte) (json.RawMessage, bool, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return nil, false, fmt.Errorf("build webhook request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, false, fmt.Errorf("%w: %v", contractx.ErrWebhookFailure, err)
		}
		return nil, true, fmt.Errorf("%w: post webhook: %v", contractx.ErrWebhookFailure, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes+1))
	if err != nil {
		return nil, true, fmt.Errorf("%w: status=%d read body: %v", contractx.ErrWebhookFailure, resp.StatusCode, err)
	}
	truncated := len(raw) > maxBodyBytes
	if truncated {
		raw = raw[:maxBodyBytes]
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		retryable := resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError
		suffix := ""
		if truncated {
			suffix = " (truncated)"
		}
		return nil, retryable, fmt.Errorf("%w: status=%d body=%q%s", contractx.ErrWebhookFailure, resp.StatusCode, string(raw), suffix)
	}
	if truncated {
		return nil, false, fmt.Errorf("%w: response larger than %d bytes", contractx.ErrWebhookFailure, maxBodyBytes)
	}

	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || !gjson.ValidBytes(raw) {
		status, err := sjson.SetBytes([]byte(`{}`), "status", resp.StatusCode)
		if err != nil {
			return nil, false, err
		}
		return status, false, nil
	}
	return json.RawMessage(raw), false, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
