package openai_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/artpar/chatgate/adapters/openai"
	"github.com/artpar/chatgate/ports"
)

type fakeAssistant struct {
	statuses   []string // returned by successive run polls
	reply      string
	polls      atomic.Int32
	lastCreate map[string]any
}

func (f *fakeAssistant) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /threads/runs", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("OpenAI-Beta") != "assistants=v2" {
			t.Errorf("OpenAI-Beta = %q", r.Header.Get("OpenAI-Beta"))
		}
		if r.Header.Get("Authorization") != "Bearer sk-test" {
			t.Errorf("Authorization = %q", r.Header.Get("Authorization"))
		}
		json.NewDecoder(r.Body).Decode(&f.lastCreate)
		json.NewEncoder(w).Encode(map[string]any{"id": "run_1", "thread_id": "thread_1", "status": "queued"})
	})
	mux.HandleFunc("GET /threads/thread_1/runs/run_1", func(w http.ResponseWriter, r *http.Request) {
		i := int(f.polls.Add(1)) - 1
		status := f.statuses[len(f.statuses)-1]
		if i < len(f.statuses) {
			status = f.statuses[i]
		}
		json.NewEncoder(w).Encode(map[string]any{"id": "run_1", "thread_id": "thread_1", "status": status})
	})
	mux.HandleFunc("GET /threads/thread_1/messages", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("order") != "desc" || r.URL.Query().Get("limit") != "1" {
			t.Errorf("messages query = %q", r.URL.RawQuery)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"data": []any{map[string]any{
				"role": "assistant",
				"content": []any{map[string]any{
					"type": "text",
					"text": map[string]any{"value": f.reply},
				}},
			}},
		})
	})
	return mux
}

func newClient(t *testing.T, url string, maxWait time.Duration) *openai.Client {
	t.Helper()
	c, err := openai.New(openai.Config{
		APIKey:      "sk-test",
		AssistantID: "asst_1",
		BaseURL:     url,
		PollInitial: time.Millisecond,
		PollMax:     5 * time.Millisecond,
		MaxWait:     maxWait,
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return c
}

func TestComplete_PollsUntilCompleted(t *testing.T) {
	fake := &fakeAssistant{
		statuses: []string{"in_progress", "in_progress", "completed"},
		reply:    "Olá!【4:0†fonte】\n\nComo posso ajudar?",
	}
	srv := httptest.NewServer(fake.handler(t))
	defer srv.Close()

	c := newClient(t, srv.URL, time.Second)
	text, err := c.Complete(context.Background(), "ana@example.com", "oi", "seja breve")
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if text != "Olá!\n\nComo posso ajudar?" {
		t.Errorf("text = %q", text)
	}
	if got := fake.polls.Load(); got != 3 {
		t.Errorf("polls = %d, want 3", got)
	}
	if fake.lastCreate["assistant_id"] != "asst_1" || fake.lastCreate["instructions"] != "seja breve" {
		t.Errorf("create body = %v", fake.lastCreate)
	}
}

func TestComplete_FailedRun(t *testing.T) {
	fake := &fakeAssistant{statuses: []string{"failed"}}
	srv := httptest.NewServer(fake.handler(t))
	defer srv.Close()

	c := newClient(t, srv.URL, time.Second)
	_, err := c.Complete(context.Background(), "u1", "oi", "")
	if !errors.Is(err, ports.ErrCompletionFailed) {
		t.Fatalf("err = %v, want ErrCompletionFailed", err)
	}
	if ports.IsRetryable(err) {
		t.Error("failed run should not be retryable")
	}
}

func TestComplete_TimesOut(t *testing.T) {
	fake := &fakeAssistant{statuses: []string{"in_progress"}}
	srv := httptest.NewServer(fake.handler(t))
	defer srv.Close()

	c := newClient(t, srv.URL, 50*time.Millisecond)
	start := time.Now()
	_, err := c.Complete(context.Background(), "u1", "oi", "")
	if !errors.Is(err, ports.ErrCompletionTimeout) {
		t.Fatalf("err = %v, want ErrCompletionTimeout", err)
	}
	if !ports.IsRetryable(err) {
		t.Error("timeout should be retryable")
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("Complete took %v, want bounded by max wait", elapsed)
	}
}

func TestComplete_HTTPErrors(t *testing.T) {
	tests := []struct {
		status int
		want   error
	}{
		{http.StatusTooManyRequests, ports.ErrProviderRateLimited},
		{http.StatusUnauthorized, ports.ErrProviderAuth},
		{http.StatusBadGateway, ports.ErrProviderUnavailable},
		{http.StatusBadRequest, ports.ErrCompletionFailed},
	}

	for _, tt := range tests {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "nope", tt.status)
		}))
		c := newClient(t, srv.URL, time.Second)
		_, err := c.Complete(context.Background(), "u1", "oi", "")
		if !errors.Is(err, tt.want) {
			t.Errorf("status %d: err = %v, want %v", tt.status, err, tt.want)
		}
		srv.Close()
	}
}

func TestNew_RequiresCredentials(t *testing.T) {
	if _, err := openai.New(openai.Config{AssistantID: "a"}); err == nil {
		t.Error("expected error without api key")
	}
	if _, err := openai.New(openai.Config{APIKey: "k"}); err == nil {
		t.Error("expected error without assistant id")
	}
}

func TestStripCitations(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"sem citações", "sem citações"},
		{"carne【12:3†dieta.pdf】 é vida", "carne é vida"},
		{"  【1†a】【2†b】ok ", "ok"},
	}
	for _, tt := range tests {
		if got := openai.StripCitations(tt.in); got != tt.want {
			t.Errorf("StripCitations(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
