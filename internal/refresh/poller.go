// Package refresh runs a fetch on a fixed interval until its context ends.
// Dashboards and the webhook dispatcher use it to pick up new activity.
package refresh

import (
	"context"
	"log/slog"
	"time"
)

const DefaultInterval = 30 * time.Second

type Poller struct {
	Interval time.Duration
	Fetch    func(ctx context.Context) error
	Logger   *slog.Logger
}

// Run fetches once immediately, then on every tick. Fetch errors are logged
// and the loop continues; Run returns ctx.Err() when the context ends.
func (p Poller) Run(ctx context.Context) error {
	interval := p.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if p.Fetch != nil {
			if err := p.Fetch(ctx); err != nil && ctx.Err() == nil {
				logger.Warn("refresh failed", "error", err)
			}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
