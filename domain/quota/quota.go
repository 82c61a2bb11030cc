// Package quota provides pure functions for daily chat quota enforcement.
// All functions are deterministic with no side effects.
package quota

import (
	"math"
	"time"

	"github.com/artpar/chatgate/domain/usage"
)

// Limits holds the daily quota settings (value type).
type Limits struct {
	MaxMessagesPerDay int           // Admitted messages per UTC day
	MaxCostPerDay     float64       // Estimated dollars per UTC day
	Cooldown          time.Duration // Minimum spacing between admitted messages
	ReservationTTL    time.Duration // Age after which an unsettled reservation no longer counts
}

// DefaultLimits returns the calibrated production limits.
func DefaultLimits() Limits {
	return Limits{
		MaxMessagesPerDay: 20,
		MaxCostPerDay:     0.50,
		Cooldown:          15 * time.Second,
		ReservationTTL:    90 * time.Second,
	}
}

// Kind identifies which limit rejected a request.
type Kind string

const (
	KindNone            Kind = ""
	KindDailyMessageCap Kind = "daily_message_cap"
	KindDailyCostCap    Kind = "daily_cost_cap"
	KindCooldown        Kind = "cooldown"
)

// Decision represents the outcome of an admission check (value type).
type Decision struct {
	Allowed           bool
	Kind              Kind // Set when not allowed
	RetryAfterSeconds int  // Only for KindCooldown
	MessagesRemaining int
}

// Check evaluates the admission rules against a reconciled record.
// Reservations older than lim.ReservationTTL are ignored.
// Rules run in a fixed order and the first failing one wins:
// message cap, cost cap, cooldown.
// This is a PURE function - no side effects.
func Check(r usage.Record, lim Limits, now time.Time) Decision {
	r = r.ExpireReservations(now, lim.ReservationTTL)
	used := r.MessageCount + r.InFlight
	remaining := lim.MaxMessagesPerDay - used
	if remaining < 0 {
		remaining = 0
	}

	if used >= lim.MaxMessagesPerDay {
		return Decision{Kind: KindDailyMessageCap}
	}

	if r.Cost >= lim.MaxCostPerDay {
		return Decision{Kind: KindDailyCostCap, MessagesRemaining: remaining}
	}

	if last := r.LastActivity(); !last.IsZero() {
		elapsed := now.Sub(last)
		if elapsed < lim.Cooldown {
			return Decision{
				Kind:              KindCooldown,
				RetryAfterSeconds: RetryAfter(lim.Cooldown - elapsed),
				MessagesRemaining: remaining,
			}
		}
	}

	return Decision{Allowed: true, MessagesRemaining: remaining - 1}
}

// RetryAfter converts a remaining wait into whole seconds, rounding up.
// This is a PURE function.
func RetryAfter(wait time.Duration) int {
	if wait <= 0 {
		return 0
	}
	return int(math.Ceil(wait.Seconds()))
}

// CapReached reports whether a committed record has crossed the daily cost cap.
func CapReached(r usage.Record, lim Limits) bool {
	return r.Cost >= lim.MaxCostPerDay
}

// String returns the kind as a metrics label.
func (k Kind) String() string {
	if k == KindNone {
		return "none"
	}
	return string(k)
}
