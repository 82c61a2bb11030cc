package bootstrap

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/artpar/chatgate/adapters/memory"
	"github.com/artpar/chatgate/adapters/postgres"
	"github.com/artpar/chatgate/adapters/redis"
	"github.com/artpar/chatgate/adapters/sqlite"
	"github.com/artpar/chatgate/config"
	"github.com/artpar/chatgate/ports"
)

// openedLedger is a ledger plus whatever owns its connection.
type openedLedger struct {
	ledger ports.UsageLedger
	close  func() error
	// selfSweeping ledgers drop stale records on their own.
	selfSweeping bool
}

// OpenLedger connects the configured ledger for one-off CLI use. The returned
// close func releases the backend connection.
func OpenLedger(ctx context.Context, cfg config.LedgerConfig, logger zerolog.Logger) (ports.UsageLedger, func() error, error) {
	l, err := openLedger(ctx, cfg, nil, logger)
	if err != nil {
		return nil, nil, err
	}
	return l.ledger, func() error {
		l.ledger.Close()
		return l.close()
	}, nil
}

// openLedger connects the configured usage ledger backend.
func openLedger(ctx context.Context, cfg config.LedgerConfig, clk ports.Clock, logger zerolog.Logger) (*openedLedger, error) {
	switch cfg.Driver {
	case "", "memory":
		l := memory.NewLedger(memory.LedgerConfig{
			NumShards:     cfg.Shards,
			SweepInterval: cfg.SweepInterval,
			Clock:         clk,
		})
		logger.Info().Str("driver", "memory").Msg("usage ledger initialized")
		return &openedLedger{ledger: l, close: l.Close, selfSweeping: true}, nil

	case "sqlite":
		db, err := sqlite.Open(cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		if err := db.Migrate(); err != nil {
			db.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
		logger.Info().Str("driver", "sqlite").Str("dsn", cfg.DSN).Msg("usage ledger initialized")
		return &openedLedger{ledger: sqlite.NewLedger(db), close: db.Close}, nil

	case "redis":
		opts, err := goredis.ParseURL(cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		client := goredis.NewClient(opts)
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			client.Close()
			return nil, fmt.Errorf("ping redis: %w", err)
		}
		var ropts []redis.Option
		if cfg.KeyPrefix != "" {
			ropts = append(ropts, redis.WithKeyPrefix(cfg.KeyPrefix))
		}
		logger.Info().Str("driver", "redis").Str("addr", opts.Addr).Msg("usage ledger initialized")
		return &openedLedger{ledger: redis.New(client, ropts...), close: client.Close}, nil

	case "postgres":
		pool, err := pgxpool.New(ctx, cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		var popts []postgres.Option
		if cfg.Table != "" {
			popts = append(popts, postgres.WithTable(cfg.Table))
		}
		l := postgres.New(pool, popts...)
		schemaCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		if err := l.EnsureSchema(schemaCtx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("ensure schema: %w", err)
		}
		logger.Info().Str("driver", "postgres").Msg("usage ledger initialized")
		return &openedLedger{ledger: l, close: func() error { pool.Close(); return nil }}, nil

	default:
		return nil, fmt.Errorf("unknown ledger driver %q", cfg.Driver)
	}
}
