// Package http provides the HTTP surface of the chat gateway.
package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/artpar/chatgate/adapters/metrics"
	"github.com/artpar/chatgate/app"
	"github.com/artpar/chatgate/domain/chat"
	"github.com/artpar/chatgate/domain/quota"
	"github.com/artpar/chatgate/domain/usage"
	"github.com/artpar/chatgate/ports"
)

// maxBodyBytes caps the request body; messages are cut to 200 characters anyway.
const maxBodyBytes = 64 << 10

// QuotaNoticeHeader carries the limit a successful turn just crossed.
const QuotaNoticeHeader = "X-Quota-Notice"

// ChatRequestBody is the body of POST /chat.
type ChatRequestBody struct {
	UserID  string `json:"user_id"`
	Message string `json:"message"`
}

// ChatResponseBody is the body of every /chat response. Response holds the
// reply on success and the user-facing error text otherwise.
type ChatResponseBody struct {
	Response   string   `json:"response"`
	Segments   []string `json:"segments,omitempty"`
	Notice     string   `json:"notice,omitempty"`
	Limit      string   `json:"limit,omitempty"`
	RetryAfter int      `json:"retry_after,omitempty"`
}

// UsageResponseBody is the body of GET /usage/{userID}.
type UsageResponseBody struct {
	UserID            string     `json:"user_id"`
	Day               string     `json:"day"`
	MessageCount      int        `json:"message_count"`
	MessagesRemaining int        `json:"messages_remaining"`
	Cost              float64    `json:"cost"`
	InFlight          int        `json:"in_flight"`
	LastMessageAt     *time.Time `json:"last_message_at"`
}

// HealthResponse represents a health check response.
type HealthResponse struct {
	Status string `json:"status"`
}

// ChatHandler wraps the chat service for HTTP handling.
type ChatHandler struct {
	service *app.ChatService
	clock   ports.Clock
	logger  zerolog.Logger
	metrics *metrics.Collector
}

// NewChatHandler creates a new chat handler. m may be nil.
func NewChatHandler(service *app.ChatService, clk ports.Clock, logger zerolog.Logger, m *metrics.Collector) *ChatHandler {
	return &ChatHandler{
		service: service,
		clock:   clk,
		logger:  logger,
		metrics: m,
	}
}

// Chat handles POST /chat.
func (h *ChatHandler) Chat(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	var body ChatRequestBody
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&body); err != nil {
		h.recordOutcome("invalid")
		writeChatError(w, chat.NewMalformedError(err), h.clock.Now())
		return
	}

	result := h.service.HandleChat(r.Context(), chat.Request{
		UserID:    body.UserID,
		Message:   body.Message,
		RequestID: r.Header.Get("X-Request-ID"),
	})
	w.Header().Set("X-Request-ID", result.RequestID)

	h.logTurn(r, body.UserID, result, time.Since(start))
	h.record(result)

	if result.Error != nil {
		writeChatError(w, result.Error, h.clock.Now())
		return
	}

	resp := ChatResponseBody{
		Response: result.Reply.Text,
		Segments: result.Reply.Segments,
	}
	if result.Reply.CapReached {
		w.Header().Set(QuotaNoticeHeader, string(quota.KindDailyCostCap))
		resp.Notice = chat.CostCapNotice
	}
	writeJSON(w, http.StatusOK, resp)
}

// Usage handles GET /usage/{userID}.
func (h *ChatHandler) Usage(w http.ResponseWriter, r *http.Request) {
	rec, err := h.service.Usage(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		var chatErr *chat.Error
		if errors.As(err, &chatErr) {
			writeChatError(w, chatErr, h.clock.Now())
			return
		}
		h.logger.Error().Err(err).Msg("usage lookup failed")
		writeChatError(w, chat.NewInternalError(err), h.clock.Now())
		return
	}

	limits := h.service.Config().Limits
	remaining := limits.MaxMessagesPerDay - rec.MessageCount - rec.InFlight
	if remaining < 0 {
		remaining = 0
	}
	resp := UsageResponseBody{
		UserID:            rec.UserID,
		Day:               rec.Day,
		MessageCount:      rec.MessageCount,
		MessagesRemaining: remaining,
		Cost:              rec.Cost,
		InFlight:          rec.InFlight,
	}
	if !rec.LastMessageAt.IsZero() {
		t := rec.LastMessageAt
		resp.LastMessageAt = &t
	}
	writeJSON(w, http.StatusOK, resp)
}

// Health returns a simple liveness check.
func Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

func (h *ChatHandler) logTurn(r *http.Request, userID string, result app.ChatResult, latency time.Duration) {
	event := h.logger.Info()
	status := http.StatusOK
	if result.Error != nil {
		status = result.Error.Status
		event = h.logger.Warn()
		if status >= 500 {
			event = h.logger.Error()
		}
		event.Str("error_kind", string(result.Error.Kind))
		if result.Error.Limit != quota.KindNone {
			event.Str("limit", string(result.Error.Limit))
		}
		if result.Error.Err != nil {
			event.AnErr("cause", result.Error.Err)
		}
	} else {
		event.Float64("cost", result.Reply.Cost).
			Int("segments", len(result.Reply.Segments)).
			Bool("cost_cap_reached", result.Reply.CapReached)
	}

	event.
		Str("user_id", userID).
		Str("request_id", result.RequestID).
		Str("remote_ip", r.RemoteAddr).
		Int("status", status).
		Int64("latency_ms", latency.Milliseconds()).
		Msg("chat request")
}

func (h *ChatHandler) record(result app.ChatResult) {
	if h.metrics == nil {
		return
	}
	if result.Error == nil {
		h.recordOutcome("ok")
		h.metrics.CommittedCost.Add(result.Reply.Cost)
		if result.Reply.CapReached {
			h.metrics.CostCapCrossings.Inc()
		}
		return
	}
	switch result.Error.Kind {
	case chat.KindRateLimited:
		h.recordOutcome("rejected")
		h.metrics.QuotaRejections.WithLabelValues(result.Error.Limit.String()).Inc()
	case chat.KindValidation:
		h.recordOutcome("invalid")
	case chat.KindProviderFailure:
		h.recordOutcome("provider_error")
	default:
		h.recordOutcome("internal_error")
	}
}

func (h *ChatHandler) recordOutcome(outcome string) {
	if h.metrics != nil {
		h.metrics.ChatTurns.WithLabelValues(outcome).Inc()
	}
}

// writeChatError renders a chat error as {response} with its status.
func writeChatError(w http.ResponseWriter, err *chat.Error, now time.Time) {
	resp := ChatResponseBody{Response: err.Message}
	if err.Kind == chat.KindRateLimited {
		resp.Limit = string(err.Limit)
		retry := err.RetryIn
		if err.Limit != quota.KindCooldown {
			retry = quota.RetryAfter(usage.NextMidnight(now).Sub(now))
		}
		if retry > 0 {
			resp.RetryAfter = retry
			w.Header().Set("Retry-After", strconv.Itoa(retry))
		}
	}
	writeJSON(w, err.Status, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// statusLabel returns a string label for the status code.
func statusLabel(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	case status >= 200:
		return "2xx"
	default:
		return "other"
	}
}

func isInternalPath(path string) bool {
	return strings.HasPrefix(path, "/health") || path == "/metrics"
}
