package allowlist

import (
	"context"
	"log/slog"
	"time"
)

// Poller reloads the cache periodically so changes made by other
// replicas or the CLI become visible.
type Poller struct {
	cache    *Cache
	interval time.Duration
	log      *slog.Logger
}

func NewPoller(cache *Cache, interval time.Duration, logger *slog.Logger) *Poller {
	if interval <= 0 {
		interval = time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Poller{cache: cache, interval: interval, log: logger}
}

// Start runs the reload loop until ctx is done. Failed reloads keep the
// last good snapshot.
func (p *Poller) Start(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.cache.Reload(ctx); err != nil {
				p.log.Warn("allow-list reload failed", "error", err)
			}
		}
	}
}
