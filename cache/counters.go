package cache

import "sync/atomic"

type counters struct {
	hits         atomic.Int64
	misses       atomic.Int64
	evictions    atomic.Int64
	evictedBytes atomic.Int64
	rejected     atomic.Int64
}

func (c *counters) evicted(size int) {
	c.evictions.Add(1)
	c.evictedBytes.Add(int64(size))
}

// fill copies the counter values into s.
func (c *counters) fill(s *Stats) {
	s.Hits = c.hits.Load()
	s.Misses = c.misses.Load()
	s.Evictions = c.evictions.Load()
	s.EvictedBytes = c.evictedBytes.Load()
	s.Rejected = c.rejected.Load()
}
