// Package openai implements ports.Completer on the OpenAI Assistants API.
//
// One turn creates a thread and a run in a single call, polls the run until it
// reaches a terminal status, then reads the newest assistant message. Polling
// backs off exponentially and gives up after a maximum total wait.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/artpar/chatgate/ports"
)

// DefaultBaseURL is the public OpenAI API endpoint.
const DefaultBaseURL = "https://api.openai.com/v1"

// Config contains configuration for the assistant client.
type Config struct {
	APIKey      string
	AssistantID string
	BaseURL     string

	// Polling bounds. Zero values take the defaults (500ms, 5s, 60s).
	PollInitial time.Duration
	PollMax     time.Duration
	MaxWait     time.Duration

	// RequestTimeout bounds each individual HTTP call (default 30s).
	RequestTimeout time.Duration
	MaxIdleConns   int
}

// Client talks to the Assistants API.
type Client struct {
	cfg        Config
	httpClient *http.Client
	baseURL    string
}

// Option configures Client.
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.httpClient = c }
}

// New creates a new assistant client.
func New(cfg Config, opts ...Option) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openai: api key is required")
	}
	if cfg.AssistantID == "" {
		return nil, errors.New("openai: assistant id is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.PollInitial == 0 {
		cfg.PollInitial = 500 * time.Millisecond
	}
	if cfg.PollMax == 0 {
		cfg.PollMax = 5 * time.Second
	}
	if cfg.MaxWait == 0 {
		cfg.MaxWait = 60 * time.Second
	}
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = 20
	}

	c := &Client{
		cfg:     cfg,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{
			Timeout: cfg.RequestTimeout,
			Transport: &http.Transport{
				MaxIdleConns:        cfg.MaxIdleConns,
				MaxIdleConnsPerHost: cfg.MaxIdleConns,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Name identifies the provider.
func (c *Client) Name() string { return "openai" }

type threadMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type createRunRequest struct {
	AssistantID  string `json:"assistant_id"`
	Instructions string `json:"instructions,omitempty"`
	Thread       struct {
		Messages []threadMessage   `json:"messages"`
		Metadata map[string]string `json:"metadata,omitempty"`
	} `json:"thread"`
}

type run struct {
	ID        string `json:"id"`
	ThreadID  string `json:"thread_id"`
	Status    string `json:"status"`
	LastError *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"last_error"`
}

type messageList struct {
	Data []struct {
		Role    string `json:"role"`
		Content []struct {
			Type string `json:"type"`
			Text struct {
				Value string `json:"value"`
			} `json:"text"`
		} `json:"content"`
	} `json:"data"`
}

// Complete runs one conversation turn and returns the assistant's reply.
func (c *Client) Complete(ctx context.Context, userID, seed, instructions string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.MaxWait)
	defer cancel()

	var req createRunRequest
	req.AssistantID = c.cfg.AssistantID
	req.Instructions = instructions
	req.Thread.Messages = []threadMessage{{Role: "user", Content: seed}}
	if userID != "" {
		req.Thread.Metadata = map[string]string{"user_id": userID}
	}

	var r run
	if err := c.do(ctx, http.MethodPost, "/threads/runs", req, &r); err != nil {
		return "", err
	}

	r, err := c.waitForRun(ctx, r)
	if err != nil {
		return "", err
	}

	var msgs messageList
	path := fmt.Sprintf("/threads/%s/messages?order=desc&limit=1", r.ThreadID)
	if err := c.do(ctx, http.MethodGet, path, nil, &msgs); err != nil {
		return "", err
	}
	if len(msgs.Data) == 0 || msgs.Data[0].Role != "assistant" {
		return "", ports.ErrEmptyCompletion
	}

	var b strings.Builder
	for _, part := range msgs.Data[0].Content {
		if part.Type == "text" {
			b.WriteString(part.Text.Value)
		}
	}
	text := StripCitations(b.String())
	if strings.TrimSpace(text) == "" {
		return "", ports.ErrEmptyCompletion
	}
	return text, nil
}

// waitForRun polls the run until it completes, fails, or ctx expires.
func (c *Client) waitForRun(ctx context.Context, r run) (run, error) {
	delay := c.cfg.PollInitial
	for {
		switch r.Status {
		case "completed":
			return r, nil
		case "failed", "cancelled", "expired", "incomplete", "requires_action":
			if r.LastError != nil {
				return r, fmt.Errorf("%w: run %s %s: %s", ports.ErrCompletionFailed, r.ID, r.Status, r.LastError.Message)
			}
			return r, fmt.Errorf("%w: run %s %s", ports.ErrCompletionFailed, r.ID, r.Status)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return r, c.ctxErr(ctx, r)
		case <-timer.C:
		}

		delay *= 2
		if delay > c.cfg.PollMax {
			delay = c.cfg.PollMax
		}

		path := fmt.Sprintf("/threads/%s/runs/%s", r.ThreadID, r.ID)
		next := run{}
		if err := c.do(ctx, http.MethodGet, path, nil, &next); err != nil {
			return r, err
		}
		r = next
	}
}

func (c *Client) ctxErr(ctx context.Context, r run) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: run %s still %s after %s", ports.ErrCompletionTimeout, r.ID, r.Status, c.cfg.MaxWait)
	}
	return ctx.Err()
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("openai: marshal request: %w", err)
		}
		reader = bytes.NewReader(jsonBody)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("openai: create request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	httpReq.Header.Set("OpenAI-Beta", "assistants=v2")
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return c.ctxErr(ctx, run{})
		}
		return fmt.Errorf("%w: %v", ports.ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	if err := mapHTTPError(resp); err != nil {
		return err
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("openai: decode response: %w", err)
	}
	return nil
}

func mapHTTPError(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return ports.ErrProviderRateLimited
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return ports.ErrProviderAuth
	case resp.StatusCode >= 500:
		return fmt.Errorf("%w: status %d", ports.ErrProviderUnavailable, resp.StatusCode)
	default:
		return fmt.Errorf("%w: status %d: %s", ports.ErrCompletionFailed, resp.StatusCode, strings.TrimSpace(string(body)))
	}
}

var citationPattern = regexp.MustCompile(`【[^】]*】`)

// StripCitations removes file-search citation markers such as 【4:0†source】.
func StripCitations(s string) string {
	return strings.TrimSpace(citationPattern.ReplaceAllString(s, ""))
}

// Ensure interface compliance.
var _ ports.Completer = (*Client)(nil)
