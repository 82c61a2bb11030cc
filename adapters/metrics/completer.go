package metrics

import (
	"context"
	"strconv"
	"time"

	"github.com/artpar/chatgate/ports"
)

// InstrumentedCompleter records latency, errors and in-flight turns for a Completer.
type InstrumentedCompleter struct {
	next ports.Completer
	m    *Collector
}

// InstrumentCompleter wraps c. A nil collector returns c unchanged.
func InstrumentCompleter(c ports.Completer, m *Collector) ports.Completer {
	if m == nil {
		return c
	}
	return &InstrumentedCompleter{next: c, m: m}
}

// Complete delegates to the wrapped completer.
func (c *InstrumentedCompleter) Complete(ctx context.Context, userID, seed, instructions string) (string, error) {
	c.m.TurnsInFlight.Inc()
	defer c.m.TurnsInFlight.Dec()

	start := time.Now()
	text, err := c.next.Complete(ctx, userID, seed, instructions)

	provider := c.next.Name()
	result := "ok"
	if err != nil {
		result = "error"
		c.m.CompletionErrors.WithLabelValues(provider, strconv.FormatBool(ports.IsRetryable(err))).Inc()
	}
	c.m.CompletionDuration.WithLabelValues(provider, result).Observe(time.Since(start).Seconds())
	return text, err
}

// Name returns the wrapped completer's name.
func (c *InstrumentedCompleter) Name() string { return c.next.Name() }

var _ ports.Completer = (*InstrumentedCompleter)(nil)
