// Package app provides application services that orchestrate domain logic.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/artpar/chatgate/domain/chat"
	"github.com/artpar/chatgate/domain/cost"
	"github.com/artpar/chatgate/domain/quota"
	"github.com/artpar/chatgate/domain/usage"
	"github.com/artpar/chatgate/ports"
)

// errRejected aborts a ledger update when admission is denied.
var errRejected = errors.New("admission rejected")

// ChatService admits, forwards and accounts chat turns.
type ChatService struct {
	ledger    ports.UsageLedger
	completer ports.Completer
	estimator ports.CostEstimator
	clock     ports.Clock
	idGen     ports.IDGenerator
	logger    zerolog.Logger

	// Dynamic configuration (hot-reloadable)
	dynamicCfg atomic.Pointer[ChatConfig]

	// Day of the last opportunistic sweep
	sweptDay atomic.Pointer[string]
}

// ChatConfig contains hot-reloadable configuration for ChatService.
type ChatConfig struct {
	Limits         quota.Limits
	Pricing        cost.Pricing
	Instructions   string
	SupportContact string
}

// DefaultChatConfig returns the stock limits and pricing.
func DefaultChatConfig() ChatConfig {
	return ChatConfig{
		Limits:         quota.DefaultLimits(),
		Pricing:        cost.DefaultPricing(),
		SupportContact: chat.DefaultSupportContact,
	}
}

// ChatDeps contains dependencies for ChatService.
type ChatDeps struct {
	Ledger    ports.UsageLedger
	Completer ports.Completer
	Estimator ports.CostEstimator // Defaults to cost.WordEstimator
	Clock     ports.Clock
	IDGen     ports.IDGenerator
	Logger    zerolog.Logger
}

// NewChatService creates a new chat service.
func NewChatService(deps ChatDeps, cfg ChatConfig) *ChatService {
	s := &ChatService{
		ledger:    deps.Ledger,
		completer: deps.Completer,
		estimator: deps.Estimator,
		clock:     deps.Clock,
		idGen:     deps.IDGen,
		logger:    deps.Logger,
	}
	if s.estimator == nil {
		s.estimator = cost.WordEstimator{}
	}
	s.UpdateConfig(cfg)
	return s
}

// UpdateConfig swaps the hot-reloadable configuration.
// This is thread-safe and can be called while handling requests.
func (s *ChatService) UpdateConfig(cfg ChatConfig) {
	if cfg.SupportContact == "" {
		cfg.SupportContact = chat.DefaultSupportContact
	}
	s.dynamicCfg.Store(&cfg)
}

// Config returns the current configuration.
func (s *ChatService) Config() ChatConfig {
	return *s.dynamicCfg.Load()
}

// ChatResult represents the outcome of a chat turn.
// Exactly one of Reply and Error is set.
type ChatResult struct {
	RequestID string
	Reply     *chat.Reply
	Error     *chat.Error
}

// HandleChat runs one chat turn through the quota gate.
//
// Admission and reservation happen in one ledger update. The ledger lock is
// released while the completer runs; a second update then commits the turn
// or releases the reservation.
func (s *ChatService) HandleChat(ctx context.Context, req chat.Request) (result ChatResult) {
	if req.RequestID == "" {
		req.RequestID = s.idGen.New()
	}
	result.RequestID = req.RequestID

	log := s.logger.With().
		Str("request_id", req.RequestID).
		Str("user_id", req.UserID).
		Logger()

	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("chat turn panicked")
			result = ChatResult{RequestID: req.RequestID, Error: chat.NewInternalError(r)}
		}
	}()

	cfg := s.dynamicCfg.Load()

	// 1. Validate input (PURE)
	userID := strings.TrimSpace(req.UserID)
	if userID == "" {
		return ChatResult{RequestID: req.RequestID, Error: chat.NewMissingUserError()}
	}
	if strings.TrimSpace(req.Message) == "" {
		return ChatResult{RequestID: req.RequestID, Error: chat.NewMissingMessageError()}
	}
	message := chat.Truncate(req.Message)

	now := s.clock.Now()
	today := usage.Day(now)
	s.maybeSweep(today)

	// 2. Reconcile, check and reserve under the identity's lock (I/O)
	var decision quota.Decision
	var expired int
	_, err := s.ledger.Update(ctx, userID, today, func(r *usage.Record) error {
		live := r.ExpireReservations(now, cfg.Limits.ReservationTTL)
		expired = r.InFlight - live.InFlight
		*r = live
		decision = quota.Check(*r, cfg.Limits, now)
		if !decision.Allowed {
			return errRejected
		}
		*r = r.Reserve(now)
		return nil
	})
	if expired > 0 {
		log.Warn().Int("expired", expired).Msg("dropped unsettled reservations")
	}
	if errors.Is(err, errRejected) {
		log.Info().
			Str("limit", decision.Kind.String()).
			Int("retry_after", decision.RetryAfterSeconds).
			Msg("chat turn rejected")
		return ChatResult{RequestID: req.RequestID, Error: chat.NewRateLimitedError(decision, cfg.Limits)}
	}
	if err != nil {
		log.Error().Err(err).Msg("usage ledger reserve failed")
		return ChatResult{RequestID: req.RequestID, Error: chat.NewInternalError(fmt.Errorf("reserve usage: %w", err))}
	}

	// From here on the reservation must be settled even if the caller goes away.
	settleCtx := context.WithoutCancel(ctx)

	// 3. External completion, lock not held (I/O)
	text, err := s.complete(settleCtx, userID, message, cfg.Instructions)
	done := s.clock.Now()
	if err != nil {
		s.release(settleCtx, log, userID, usage.Day(done))
		retryable := ports.IsRetryable(err)
		log.Warn().Err(err).
			Str("provider", s.completer.Name()).
			Bool("retryable", retryable).
			Dur("elapsed", done.Sub(now)).
			Msg("completion failed")
		return ChatResult{RequestID: req.RequestID, Error: chat.NewProviderError(err, retryable, cfg.SupportContact)}
	}

	// 4. Estimate and commit (PURE + I/O)
	turnCost := cfg.Pricing.Cost(s.estimator.Tokens(message), s.estimator.Tokens(text))
	rec, err := s.ledger.Update(settleCtx, userID, usage.Day(done), func(r *usage.Record) error {
		*r = r.Commit(turnCost, done)
		return nil
	})
	if err != nil {
		// The provider already answered; the turn is returned uncounted.
		log.Error().Err(err).Float64("cost", turnCost).Msg("usage ledger commit failed")
	}

	reply := &chat.Reply{
		Text:       text,
		Segments:   chat.Segments(text),
		Cost:       turnCost,
		CapReached: err == nil && quota.CapReached(rec, cfg.Limits),
	}

	ev := log.Info()
	if reply.CapReached {
		ev = log.Warn().Bool("cost_cap_reached", true)
	}
	ev.Int("message_count", rec.MessageCount).
		Float64("cost", turnCost).
		Float64("daily_cost", rec.Cost).
		Str("estimator", s.estimator.Name()).
		Dur("elapsed", done.Sub(now)).
		Msg("chat turn committed")

	return ChatResult{RequestID: req.RequestID, Reply: reply}
}

// complete calls the completer, converting a panic into an error so the
// reservation is still released.
func (s *ChatService) complete(ctx context.Context, userID, seed, instructions string) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: completer panic: %v", ports.ErrCompletionFailed, r)
		}
	}()
	return s.completer.Complete(ctx, userID, seed, instructions)
}

func (s *ChatService) release(ctx context.Context, log zerolog.Logger, userID, day string) {
	_, err := s.ledger.Update(ctx, userID, day, func(r *usage.Record) error {
		*r = r.Release()
		return nil
	})
	if err != nil {
		log.Error().Err(err).Msg("usage ledger release failed")
	}
}

// Usage returns the current-day record for userID. Nothing is stored for
// identities without usage today.
func (s *ChatService) Usage(ctx context.Context, userID string) (usage.Record, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return usage.Record{}, chat.NewMissingUserError()
	}
	now := s.clock.Now()
	rec, err := s.ledger.Peek(ctx, userID, usage.Day(now))
	if err != nil {
		return usage.Record{}, err
	}
	return rec.ExpireReservations(now, s.Config().Limits.ReservationTTL), nil
}

// SweepStale removes records left over from previous days.
func (s *ChatService) SweepStale(ctx context.Context) (int, error) {
	today := usage.Day(s.clock.Now())
	n, err := s.ledger.SweepStale(ctx, today)
	if err != nil {
		return n, fmt.Errorf("sweep stale usage: %w", err)
	}
	if n > 0 {
		s.logger.Debug().Int("removed", n).Str("day", today).Msg("swept stale usage records")
	}
	return n, nil
}

// maybeSweep starts a background sweep the first time a new day is seen.
func (s *ChatService) maybeSweep(today string) {
	prev := s.sweptDay.Load()
	if prev != nil && *prev == today {
		return
	}
	if !s.sweptDay.CompareAndSwap(prev, &today) {
		return
	}
	if prev == nil {
		return // first request since start; the periodic sweeper covers startup
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		if _, err := s.SweepStale(ctx); err != nil {
			s.logger.Warn().Err(err).Msg("day-change sweep failed")
		}
	}()
}
