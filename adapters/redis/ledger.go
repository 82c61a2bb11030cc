// Package redis provides a Redis-backed usage ledger.
//
// Records live in one hash per user identity. Updates use WATCH/MULTI optimistic
// transactions, so several chatgate instances can share one ledger. Each hash
// expires shortly after the UTC midnight that ends its day.
package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/artpar/chatgate/domain/usage"
	"github.com/artpar/chatgate/ports"
)

// ErrContended is returned when an update lost the optimistic race too many times.
var ErrContended = errors.New("redis ledger: too many concurrent updates")

// Ledger is a Redis-backed usage ledger.
type Ledger struct {
	client     goredis.UniversalClient
	keyPrefix  string
	maxRetries int
	expiryPad  time.Duration
}

// Option configures Ledger.
type Option func(*Ledger)

// WithKeyPrefix sets the Redis key prefix (default "chatgate:usage:").
func WithKeyPrefix(prefix string) Option {
	return func(l *Ledger) { l.keyPrefix = prefix }
}

// WithMaxRetries sets how many times a contended update is retried (default 50).
func WithMaxRetries(n int) Option {
	return func(l *Ledger) { l.maxRetries = n }
}

// New creates a Redis-backed ledger. The client must already be connected.
func New(client goredis.UniversalClient, opts ...Option) *Ledger {
	l := &Ledger{
		client:     client,
		keyPrefix:  "chatgate:usage:",
		maxRetries: 50,
		expiryPad:  time.Hour,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Ledger) key(userID string) string {
	return l.keyPrefix + userID
}

// GetOrInit returns today's record, storing a fresh one if needed.
func (l *Ledger) GetOrInit(ctx context.Context, userID string, today string) (usage.Record, error) {
	return l.Update(ctx, userID, today, func(*usage.Record) error { return nil })
}

// Peek returns today's record without writing.
func (l *Ledger) Peek(ctx context.Context, userID string, today string) (usage.Record, error) {
	fields, err := l.client.HGetAll(ctx, l.key(userID)).Result()
	if err != nil {
		return usage.Record{}, fmt.Errorf("redis ledger: get: %w", err)
	}
	return usage.Reconcile(decode(userID, fields), userID, today), nil
}

// fnError marks an error returned by the caller's update function so it is
// passed through instead of being retried.
type fnError struct{ err error }

func (e fnError) Error() string { return e.err.Error() }

// Update applies fn to today's record under WATCH, retrying on contention.
func (l *Ledger) Update(ctx context.Context, userID string, today string, fn func(*usage.Record) error) (usage.Record, error) {
	key := l.key(userID)
	expireAt, err := l.expiry(today)
	if err != nil {
		return usage.Record{}, err
	}

	var rec usage.Record
	txf := func(tx *goredis.Tx) error {
		fields, err := tx.HGetAll(ctx, key).Result()
		if err != nil {
			return fmt.Errorf("redis ledger: get: %w", err)
		}
		rec = usage.Reconcile(decode(userID, fields), userID, today)
		if err := fn(&rec); err != nil {
			return fnError{err}
		}

		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.Del(ctx, key)
			pipe.HSet(ctx, key, encode(rec))
			pipe.ExpireAt(ctx, key, expireAt)
			return nil
		})
		return err
	}

	for i := 0; i < l.maxRetries; i++ {
		err := l.client.Watch(ctx, txf, key)
		if err == nil {
			return rec, nil
		}
		var fe fnError
		if errors.As(err, &fe) {
			return rec, fe.err
		}
		if errors.Is(err, goredis.TxFailedErr) {
			continue
		}
		return usage.Record{}, fmt.Errorf("redis ledger: update: %w", err)
	}
	return usage.Record{}, ErrContended
}

// SweepStale deletes records whose day is not today. Expiry already bounds
// memory; this only matters when keys were written without a TTL.
func (l *Ledger) SweepStale(ctx context.Context, today string) (int, error) {
	removed := 0
	iter := l.client.Scan(ctx, 0, l.keyPrefix+"*", 200).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		day, err := l.client.HGet(ctx, key, "day").Result()
		if errors.Is(err, goredis.Nil) {
			continue
		}
		if err != nil {
			return removed, fmt.Errorf("redis ledger: sweep: %w", err)
		}
		if day == today {
			continue
		}
		n, err := l.client.Del(ctx, key).Result()
		if err != nil {
			return removed, fmt.Errorf("redis ledger: sweep: %w", err)
		}
		removed += int(n)
	}
	if err := iter.Err(); err != nil {
		return removed, fmt.Errorf("redis ledger: sweep: %w", err)
	}
	return removed, nil
}

// Close is a no-op; the client is owned by the caller.
func (l *Ledger) Close() error {
	return nil
}

func (l *Ledger) expiry(today string) (time.Time, error) {
	day, err := time.Parse(usage.DayLayout, today)
	if err != nil {
		return time.Time{}, fmt.Errorf("redis ledger: bad day %q: %w", today, err)
	}
	return usage.NextMidnight(day).Add(l.expiryPad), nil
}

func encode(r usage.Record) map[string]any {
	return map[string]any{
		"day":             r.Day,
		"message_count":   r.MessageCount,
		"cost":            strconv.FormatFloat(r.Cost, 'g', -1, 64),
		"last_message_at": unixNano(r.LastMessageAt),
		"in_flight":       r.InFlight,
		"in_flight_since": unixNano(r.InFlightSince),
	}
}

func decode(userID string, fields map[string]string) usage.Record {
	if len(fields) == 0 {
		return usage.Record{}
	}
	rec := usage.Record{UserID: userID, Day: fields["day"]}
	rec.MessageCount, _ = strconv.Atoi(fields["message_count"])
	rec.Cost, _ = strconv.ParseFloat(fields["cost"], 64)
	rec.InFlight, _ = strconv.Atoi(fields["in_flight"])
	rec.LastMessageAt = parseUnixNano(fields["last_message_at"])
	rec.InFlightSince = parseUnixNano(fields["in_flight_since"])
	return rec
}

func unixNano(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func parseUnixNano(s string) time.Time {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}

// Ensure interface compliance.
var _ ports.UsageLedger = (*Ledger)(nil)
