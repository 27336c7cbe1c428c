package cache

import "sync/atomic"

// stats tracks process-local hit/miss counts for Health reporting. The
// Prometheus counters carry the same signal to the metrics backend; these
// atomics exist so Health works without scraping.
type stats struct {
	hits   atomic.Uint64
	misses atomic.Uint64
}

func (s *stats) hitRate() float64 {
	hits := s.hits.Load()
	total := hits + s.misses.Load()
	if total == 0 {
		return 0
	}
	return float64(hits) / float64(total)
}
