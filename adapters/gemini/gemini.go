// Package gemini implements ports.Completer on Google's Gemini API using the
// official genai client.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	genai "google.golang.org/genai"

	"github.com/artpar/chatgate/ports"
)

// DefaultModel is used when no model is configured.
const DefaultModel = "gemini-2.5-flash"

// Config contains configuration for the Gemini client.
type Config struct {
	APIKey  string
	Model   string
	BaseURL string // optional, for proxies and tests

	// Timeout bounds the whole turn including retries (default 60s).
	Timeout time.Duration
	// MaxAttempts counts the first call (default 3).
	MaxAttempts int
	// Backoff is the delay before the first retry, doubled after each (default 300ms).
	Backoff time.Duration
}

// Client wraps genai.Client.
type Client struct {
	cli *genai.Client
	cfg Config
}

// New creates a Gemini completer.
func New(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("gemini: api key is required")
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.Backoff == 0 {
		cfg.Backoff = 300 * time.Millisecond
	}

	cc := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.BaseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}
	cli, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("gemini: create client: %w", err)
	}
	return &Client{cli: cli, cfg: cfg}, nil
}

// Name identifies the provider.
func (c *Client) Name() string { return "gemini" }

// Complete sends seed with instructions as the system instruction and returns
// the first candidate's text. Transient failures are retried with backoff.
func (c *Client) Complete(ctx context.Context, userID, seed, instructions string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	gc := &genai.GenerateContentConfig{}
	if instructions != "" {
		gc.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: instructions}}}
	}
	contents := []*genai.Content{{Role: "user", Parts: []*genai.Part{{Text: seed}}}}

	var lastErr error
	delay := c.cfg.Backoff
	for attempt := 0; attempt < c.cfg.MaxAttempts; attempt++ {
		if attempt > 0 {
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return "", c.ctxErr(ctx, lastErr)
			case <-timer.C:
			}
			delay *= 2
		}

		resp, err := c.cli.Models.GenerateContent(ctx, c.cfg.Model, contents, gc)
		if err != nil {
			if ctx.Err() != nil {
				return "", c.ctxErr(ctx, err)
			}
			lastErr = mapError(err)
			if !ports.IsRetryable(lastErr) {
				return "", lastErr
			}
			continue
		}

		text := responseText(resp)
		if strings.TrimSpace(text) == "" {
			return "", ports.ErrEmptyCompletion
		}
		return text, nil
	}
	return "", lastErr
}

func (c *Client) ctxErr(ctx context.Context, cause error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s after %s: %v", ports.ErrCompletionTimeout, c.cfg.Model, c.cfg.Timeout, cause)
	}
	return ctx.Err()
}

func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var b strings.Builder
	for _, p := range resp.Candidates[0].Content.Parts {
		if p != nil && !p.Thought {
			b.WriteString(p.Text)
		}
	}
	return b.String()
}

func mapError(err error) error {
	var apiErr genai.APIError
	if !errors.As(err, &apiErr) {
		return fmt.Errorf("%w: %v", ports.ErrProviderUnavailable, err)
	}
	switch {
	case apiErr.Code == http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", ports.ErrProviderRateLimited, apiErr.Message)
	case apiErr.Code == http.StatusUnauthorized, apiErr.Code == http.StatusForbidden:
		return fmt.Errorf("%w: %s", ports.ErrProviderAuth, apiErr.Message)
	case apiErr.Code >= 500:
		return fmt.Errorf("%w: %d %s", ports.ErrProviderUnavailable, apiErr.Code, apiErr.Message)
	default:
		return fmt.Errorf("%w: %d %s", ports.ErrCompletionFailed, apiErr.Code, apiErr.Message)
	}
}

// Ensure interface compliance.
var _ ports.Completer = (*Client)(nil)
