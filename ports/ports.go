// Package ports defines interfaces (contracts) between layers.
// These interfaces enable dependency injection and testability.
// Implementations live in adapters/.
package ports

import (
	"context"
	"time"

	"github.com/artpar/chatgate/domain/usage"
)

// -----------------------------------------------------------------------------
// Infrastructure Ports
// -----------------------------------------------------------------------------

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

// IDGenerator generates unique identifiers.
type IDGenerator interface {
	New() string
}

// -----------------------------------------------------------------------------
// Data Store Ports
// -----------------------------------------------------------------------------

// UsageLedger stores one daily usage record per user identity.
//
// Every method reconciles before reading: a stored record whose day differs
// from today is treated as a fresh zero record.
type UsageLedger interface {
	// GetOrInit returns today's record for userID, storing a fresh one if the
	// stored record is missing or stale.
	GetOrInit(ctx context.Context, userID string, today string) (usage.Record, error)

	// Peek returns today's record for userID without storing anything. A
	// missing or stale record reads as a fresh zero record.
	Peek(ctx context.Context, userID string, today string) (usage.Record, error)

	// Update runs fn against today's record under the identity's lock and
	// stores the result. If fn returns an error nothing is stored and the
	// error is returned unchanged. Updates for different identities must not
	// block each other beyond shard contention.
	Update(ctx context.Context, userID string, today string, fn func(*usage.Record) error) (usage.Record, error)

	// SweepStale removes records whose day is not today.
	SweepStale(ctx context.Context, today string) (int, error)

	// Close releases resources.
	Close() error
}

// -----------------------------------------------------------------------------
// External Service Ports
// -----------------------------------------------------------------------------

// Completer runs one conversation turn against the external assistant.
type Completer interface {
	// Complete sends seed as the user's message with the given assistant
	// instructions and returns the reply text. Implementations must return
	// within a bounded time even if the provider never finishes.
	Complete(ctx context.Context, userID, seed, instructions string) (string, error)

	// Name identifies the provider in logs and metrics.
	Name() string
}

// CostEstimator counts tokens in a text for cost estimation.
type CostEstimator interface {
	Tokens(text string) float64
	Name() string
}
