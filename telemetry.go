package cacheproxy

import (
	"context"
	"fmt"
	"time"

	"github.com/always-cache/cacheproxy/cache"
)

// StartTelemetry logs cache and admission figures every interval until ctx
// is done. Counters are logged as deltas since the previous tick.
// A non-positive interval disables it.
func (p *Proxy) StartTelemetry(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	go p.telemetryLoop(ctx, interval, p.cache.Stats())
}

func (p *Proxy) telemetryLoop(ctx context.Context, interval time.Duration, prev cache.Stats) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log := p.log.With().Str("component", "telemetry").Logger()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cur := p.cache.Stats()
			d := statsDelta(prev, cur)
			prev = cur
			p.refreshCacheMetrics()

			log.Info().
				Str("interval", interval.String()).
				Int("entries", cur.Entries).
				Str("mem", fmtMem(cur.Bytes)).
				Str("capacity", fmtMem(cur.Capacity)).
				Int64("hits", d.Hits).
				Int64("misses", d.Misses).
				Int64("evictions", d.Evictions).
				Int64("rejected", d.Rejected).
				Int("activeConnections", p.pool.InUse()).
				Msg("cache")
		}
	}
}

// statsDelta returns cur with its counters replaced by their growth since prev.
func statsDelta(prev, cur cache.Stats) cache.Stats {
	d := cur
	d.Hits = cur.Hits - prev.Hits
	d.Misses = cur.Misses - prev.Misses
	d.Evictions = cur.Evictions - prev.Evictions
	d.EvictedBytes = cur.EvictedBytes - prev.EvictedBytes
	d.Rejected = cur.Rejected - prev.Rejected
	return d
}

func fmtMem(b int64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%dB", b)
	}
	div, exp := int64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f%ciB", float64(b)/float64(div), "KMGTPE"[exp])
}
