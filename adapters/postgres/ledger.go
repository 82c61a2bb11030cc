// Package postgres provides a PostgreSQL-backed usage ledger.
//
// Each update locks the identity's row with SELECT ... FOR UPDATE, which makes
// the ledger safe to share between chatgate instances and durable across restarts.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/artpar/chatgate/domain/usage"
	"github.com/artpar/chatgate/ports"
)

// Ledger is a PostgreSQL-backed usage ledger.
type Ledger struct {
	pool  *pgxpool.Pool
	table string
}

// Option configures Ledger.
type Option func(*Ledger)

// WithTable sets the table name (default "chatgate_usage_records").
func WithTable(name string) Option {
	return func(l *Ledger) { l.table = name }
}

// New creates a new PostgreSQL-backed ledger.
func New(pool *pgxpool.Pool, opts ...Option) *Ledger {
	l := &Ledger{
		pool:  pool,
		table: "chatgate_usage_records",
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// EnsureSchema creates the ledger table if it doesn't exist.
func (l *Ledger) EnsureSchema(ctx context.Context) error {
	q := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %[1]s (
			user_id TEXT PRIMARY KEY,
			day TEXT NOT NULL,
			message_count INTEGER NOT NULL DEFAULT 0 CHECK (message_count >= 0),
			cost DOUBLE PRECISION NOT NULL DEFAULT 0 CHECK (cost >= 0),
			last_message_at BIGINT NOT NULL DEFAULT 0,
			in_flight INTEGER NOT NULL DEFAULT 0 CHECK (in_flight >= 0),
			in_flight_since BIGINT NOT NULL DEFAULT 0,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);
		CREATE INDEX IF NOT EXISTS %[1]s_day_idx ON %[1]s (day);
	`, l.table)
	if _, err := l.pool.Exec(ctx, q); err != nil {
		return fmt.Errorf("postgres ledger: ensure schema: %w", err)
	}
	return nil
}

// GetOrInit returns today's record, storing a fresh one if needed.
func (l *Ledger) GetOrInit(ctx context.Context, userID string, today string) (usage.Record, error) {
	return l.Update(ctx, userID, today, func(*usage.Record) error { return nil })
}

// Peek returns today's record without writing.
func (l *Ledger) Peek(ctx context.Context, userID string, today string) (usage.Record, error) {
	var rec usage.Record
	var lastAt, inFlightSince int64
	err := l.pool.QueryRow(ctx,
		fmt.Sprintf(`SELECT user_id, day, message_count, cost, last_message_at, in_flight, in_flight_since
			FROM %s WHERE user_id = $1`, l.table),
		userID,
	).Scan(&rec.UserID, &rec.Day, &rec.MessageCount, &rec.Cost, &lastAt, &rec.InFlight, &inFlightSince)
	if errors.Is(err, pgx.ErrNoRows) {
		return usage.Fresh(userID, today), nil
	}
	if err != nil {
		return usage.Record{}, fmt.Errorf("postgres ledger: get: %w", err)
	}
	rec.LastMessageAt = fromUnixNano(lastAt)
	rec.InFlightSince = fromUnixNano(inFlightSince)
	return usage.Reconcile(rec, userID, today), nil
}

// Update applies fn to today's record with the row locked.
func (l *Ledger) Update(ctx context.Context, userID string, today string, fn func(*usage.Record) error) (usage.Record, error) {
	tx, err := l.pool.Begin(ctx)
	if err != nil {
		return usage.Record{}, fmt.Errorf("postgres ledger: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	stored, err := l.lockRow(ctx, tx, userID, today)
	if err != nil {
		return usage.Record{}, err
	}

	rec := usage.Reconcile(stored, userID, today)
	if err := fn(&rec); err != nil {
		return rec, err
	}

	tag, err := tx.Exec(ctx,
		fmt.Sprintf(`INSERT INTO %s (user_id, day, message_count, cost, last_message_at, in_flight, in_flight_since)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (user_id) DO UPDATE SET
				day = excluded.day,
				message_count = excluded.message_count,
				cost = excluded.cost,
				last_message_at = excluded.last_message_at,
				in_flight = excluded.in_flight,
				in_flight_since = excluded.in_flight_since,
				updated_at = now()`, l.table),
		rec.UserID, rec.Day, rec.MessageCount, rec.Cost,
		toUnixNano(rec.LastMessageAt), rec.InFlight, toUnixNano(rec.InFlightSince),
	)
	if err != nil {
		return usage.Record{}, fmt.Errorf("postgres ledger: update: %w", err)
	}
	if tag.RowsAffected() != 1 {
		return usage.Record{}, fmt.Errorf("postgres ledger: update: %d rows written for %q", tag.RowsAffected(), userID)
	}

	if err := tx.Commit(ctx); err != nil {
		return usage.Record{}, fmt.Errorf("postgres ledger: commit: %w", err)
	}
	return rec, nil
}

// lockAttempts bounds how often lockRow re-creates a row deleted by a
// concurrent sweep between its INSERT and SELECT.
const lockAttempts = 5

// lockRow makes sure the identity's row exists and locks it for the rest of tx.
func (l *Ledger) lockRow(ctx context.Context, tx pgx.Tx, userID, today string) (usage.Record, error) {
	insert := fmt.Sprintf(`INSERT INTO %s (user_id, day) VALUES ($1, $2) ON CONFLICT (user_id) DO NOTHING`, l.table)
	sel := fmt.Sprintf(`SELECT user_id, day, message_count, cost, last_message_at, in_flight, in_flight_since
		FROM %s WHERE user_id = $1 FOR UPDATE`, l.table)

	for i := 0; i < lockAttempts; i++ {
		if _, err := tx.Exec(ctx, insert, userID, today); err != nil {
			return usage.Record{}, fmt.Errorf("postgres ledger: ensure row: %w", err)
		}

		var rec usage.Record
		var lastAt, inFlightSince int64
		err := tx.QueryRow(ctx, sel, userID).Scan(
			&rec.UserID, &rec.Day, &rec.MessageCount, &rec.Cost, &lastAt, &rec.InFlight, &inFlightSince)
		if errors.Is(err, pgx.ErrNoRows) {
			// A stale row was swept after the INSERT saw it.
			continue
		}
		if err != nil {
			return usage.Record{}, fmt.Errorf("postgres ledger: lock row: %w", err)
		}
		rec.LastMessageAt = fromUnixNano(lastAt)
		rec.InFlightSince = fromUnixNano(inFlightSince)
		return rec, nil
	}
	return usage.Record{}, fmt.Errorf("postgres ledger: row for %q kept disappearing", userID)
}

// SweepStale deletes records that do not belong to today.
func (l *Ledger) SweepStale(ctx context.Context, today string) (int, error) {
	tag, err := l.pool.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE day <> $1`, l.table), today)
	if err != nil {
		return 0, fmt.Errorf("postgres ledger: sweep: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// Close is a no-op; the pool is owned by the caller.
func (l *Ledger) Close() error {
	return nil
}

func toUnixNano(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromUnixNano(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}

// Ensure interface compliance.
var _ ports.UsageLedger = (*Ledger)(nil)
