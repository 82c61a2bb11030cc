// Package memory provides in-memory implementations of storage ports.
package memory

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	"github.com/artpar/chatgate/adapters/clock"
	"github.com/artpar/chatgate/domain/usage"
	"github.com/artpar/chatgate/ports"
)

// ledgerShard is a single shard of the usage ledger.
type ledgerShard struct {
	mu      sync.Mutex
	records map[string]usage.Record
}

// Ledger is a sharded in-memory usage ledger.
// All updates for one identity hash to the same shard and are serialized by
// its mutex; identities on other shards proceed in parallel.
type Ledger struct {
	shards    []*ledgerShard
	numShards int
	clock     ports.Clock
	sweep     *time.Ticker
	done      chan struct{}
	closeOnce sync.Once
}

// LedgerConfig configures the in-memory ledger.
type LedgerConfig struct {
	NumShards     int           // Number of shards (default: 32)
	SweepInterval time.Duration // How often to drop stale records (default: 10m)
	Clock         ports.Clock   // Time source for the sweeper (default: real clock)
}

// NewLedger creates a new sharded in-memory ledger and starts its sweeper.
func NewLedger(cfg LedgerConfig) *Ledger {
	if cfg.NumShards <= 0 {
		cfg.NumShards = 32
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = 10 * time.Minute
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real{}
	}

	l := &Ledger{
		shards:    make([]*ledgerShard, cfg.NumShards),
		numShards: cfg.NumShards,
		clock:     cfg.Clock,
		done:      make(chan struct{}),
	}
	for i := range l.shards {
		l.shards[i] = &ledgerShard{records: make(map[string]usage.Record)}
	}

	l.sweep = time.NewTicker(cfg.SweepInterval)
	go l.sweepLoop()

	return l
}

// getShard returns the shard owning userID.
func (l *Ledger) getShard(userID string) *ledgerShard {
	h := fnv.New32a()
	h.Write([]byte(userID))
	return l.shards[h.Sum32()%uint32(l.numShards)]
}

// GetOrInit returns today's record, replacing a missing or stale one.
func (l *Ledger) GetOrInit(ctx context.Context, userID string, today string) (usage.Record, error) {
	shard := l.getShard(userID)
	shard.mu.Lock()
	defer shard.mu.Unlock()

	rec := usage.Reconcile(shard.records[userID], userID, today)
	shard.records[userID] = rec
	return rec, nil
}

// Peek returns today's record without storing it.
func (l *Ledger) Peek(ctx context.Context, userID string, today string) (usage.Record, error) {
	shard := l.getShard(userID)
	shard.mu.Lock()
	defer shard.mu.Unlock()

	return usage.Reconcile(shard.records[userID], userID, today), nil
}

// Update applies fn to today's record atomically with respect to the identity.
func (l *Ledger) Update(ctx context.Context, userID string, today string, fn func(*usage.Record) error) (usage.Record, error) {
	shard := l.getShard(userID)
	shard.mu.Lock()
	defer shard.mu.Unlock()

	rec := usage.Reconcile(shard.records[userID], userID, today)
	if err := fn(&rec); err != nil {
		return rec, err
	}
	shard.records[userID] = rec
	return rec, nil
}

// SweepStale drops every record that does not belong to today.
func (l *Ledger) SweepStale(ctx context.Context, today string) (int, error) {
	removed := 0
	for _, shard := range l.shards {
		shard.mu.Lock()
		for id, rec := range shard.records {
			if rec.IsStale(today) {
				delete(shard.records, id)
				removed++
			}
		}
		shard.mu.Unlock()
	}
	return removed, nil
}

// sweepLoop periodically drops stale records to bound memory.
func (l *Ledger) sweepLoop() {
	for {
		select {
		case <-l.sweep.C:
			l.SweepStale(context.Background(), usage.Day(l.clock.Now()))
		case <-l.done:
			return
		}
	}
}

// Close stops the sweeper goroutine.
func (l *Ledger) Close() error {
	l.closeOnce.Do(func() {
		close(l.done)
		l.sweep.Stop()
	})
	return nil
}

// Len returns the total number of stored records (for testing).
func (l *Ledger) Len() int {
	total := 0
	for _, shard := range l.shards {
		shard.mu.Lock()
		total += len(shard.records)
		shard.mu.Unlock()
	}
	return total
}

// Seed stores rec as-is, without reconciling (for testing).
func (l *Ledger) Seed(rec usage.Record) {
	shard := l.getShard(rec.UserID)
	shard.mu.Lock()
	shard.records[rec.UserID] = rec
	shard.mu.Unlock()
}

// Ensure interface compliance.
var _ ports.UsageLedger = (*Ledger)(nil)
