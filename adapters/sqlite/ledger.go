package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/artpar/chatgate/domain/usage"
	"github.com/artpar/chatgate/ports"
)

// Ledger implements ports.UsageLedger using SQLite.
// Records survive restarts; each update runs in its own IMMEDIATE transaction.
type Ledger struct {
	db *DB
}

// NewLedger creates a new SQLite usage ledger. The database must be migrated.
func NewLedger(db *DB) *Ledger {
	return &Ledger{db: db}
}

// GetOrInit returns today's record for userID, storing a fresh one if needed.
func (l *Ledger) GetOrInit(ctx context.Context, userID string, today string) (usage.Record, error) {
	return l.Update(ctx, userID, today, func(*usage.Record) error { return nil })
}

// Peek returns today's record without writing.
func (l *Ledger) Peek(ctx context.Context, userID string, today string) (usage.Record, error) {
	stored, err := getRecord(ctx, l.db, userID)
	if err != nil {
		return usage.Record{}, err
	}
	return usage.Reconcile(stored, userID, today), nil
}

// Update applies fn to today's record inside a transaction.
func (l *Ledger) Update(ctx context.Context, userID string, today string, fn func(*usage.Record) error) (usage.Record, error) {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return usage.Record{}, fmt.Errorf("begin usage update: %w", err)
	}
	defer tx.Rollback()

	stored, err := getRecord(ctx, tx, userID)
	if err != nil {
		return usage.Record{}, err
	}

	rec := usage.Reconcile(stored, userID, today)
	if err := fn(&rec); err != nil {
		return rec, err
	}

	if err := putRecord(ctx, tx, rec); err != nil {
		return usage.Record{}, err
	}
	if err := tx.Commit(); err != nil {
		return usage.Record{}, fmt.Errorf("commit usage update: %w", err)
	}
	return rec, nil
}

// SweepStale deletes records that do not belong to today.
func (l *Ledger) SweepStale(ctx context.Context, today string) (int, error) {
	result, err := l.db.ExecContext(ctx, `DELETE FROM usage_records WHERE day <> ?`, today)
	if err != nil {
		return 0, fmt.Errorf("sweep usage records: %w", err)
	}
	n, err := result.RowsAffected()
	return int(n), err
}

// Close is a no-op; the DB is owned by the caller.
func (l *Ledger) Close() error {
	return nil
}

// rowQuerier is satisfied by *sql.DB and *sql.Tx.
type rowQuerier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func getRecord(ctx context.Context, q rowQuerier, userID string) (usage.Record, error) {
	row := q.QueryRowContext(ctx, `
		SELECT user_id, day, message_count, cost, last_message_at, in_flight, in_flight_since
		FROM usage_records
		WHERE user_id = ?
	`, userID)

	var rec usage.Record
	var lastAt, inFlightSince int64
	err := row.Scan(&rec.UserID, &rec.Day, &rec.MessageCount, &rec.Cost, &lastAt, &rec.InFlight, &inFlightSince)
	if errors.Is(err, sql.ErrNoRows) {
		return usage.Record{}, nil
	}
	if err != nil {
		return usage.Record{}, fmt.Errorf("get usage record: %w", err)
	}
	rec.LastMessageAt = fromUnixNano(lastAt)
	rec.InFlightSince = fromUnixNano(inFlightSince)
	return rec, nil
}

func putRecord(ctx context.Context, tx *sql.Tx, rec usage.Record) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO usage_records (user_id, day, message_count, cost, last_message_at, in_flight, in_flight_since, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(user_id) DO UPDATE SET
			day = excluded.day,
			message_count = excluded.message_count,
			cost = excluded.cost,
			last_message_at = excluded.last_message_at,
			in_flight = excluded.in_flight,
			in_flight_since = excluded.in_flight_since,
			updated_at = CURRENT_TIMESTAMP
	`, rec.UserID, rec.Day, rec.MessageCount, rec.Cost,
		toUnixNano(rec.LastMessageAt), rec.InFlight, toUnixNano(rec.InFlightSince))
	if err != nil {
		return fmt.Errorf("put usage record: %w", err)
	}
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
