package bootstrap

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/artpar/chatgate/adapters/metrics"
)

// staleSweeper is satisfied by app.ChatService.
type staleSweeper interface {
	SweepStale(ctx context.Context) (int, error)
}

// LedgerSweeper periodically drops usage records left over from earlier days.
type LedgerSweeper struct {
	target    staleSweeper
	interval  time.Duration
	logger    zerolog.Logger
	metrics   *metrics.Collector
	stopCh    chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewLedgerSweeper creates a sweeper and starts its loop. m may be nil.
func NewLedgerSweeper(target staleSweeper, interval time.Duration, logger zerolog.Logger, m *metrics.Collector) *LedgerSweeper {
	if interval == 0 {
		interval = 10 * time.Minute
	}

	s := &LedgerSweeper{
		target:   target,
		interval: interval,
		logger:   logger,
		metrics:  m,
		stopCh:   make(chan struct{}),
	}

	s.wg.Add(1)
	go s.sweepLoop()

	return s
}

// Sweep runs one sweep immediately.
func (s *LedgerSweeper) Sweep(ctx context.Context) (int, error) {
	n, err := s.target.SweepStale(ctx)
	if s.metrics != nil {
		if err != nil {
			s.metrics.LedgerErrors.WithLabelValues("sweep").Inc()
		} else {
			s.metrics.LedgerSweeps.Inc()
			s.metrics.LedgerSwept.Add(float64(n))
		}
	}
	if err != nil {
		s.logger.Warn().Err(err).Msg("ledger sweep failed")
	}
	return n, err
}

func (s *LedgerSweeper) sweepLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			s.Sweep(ctx)
			cancel()
		case <-s.stopCh:
			return
		}
	}
}

// Close stops the sweeper and waits for an in-progress sweep.
func (s *LedgerSweeper) Close() error {
	s.closeOnce.Do(func() {
		close(s.stopCh)
		s.wg.Wait()
	})
	return nil
}
