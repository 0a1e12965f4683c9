package registry

import "context"

// Registry is the recipient-registry port. The dispatcher reports addresses
// the provider declared permanently invalid so they stop receiving traffic.
type Registry interface {
	RemoveInvalidAddress(ctx context.Context, address string) error
}

// CacheStats reports the registry's invalidation-cache effectiveness. The
// delivery monitor reads it for the cache-hit-rate health threshold.
type CacheStats struct {
	Hits   uint64
	Misses uint64
}

// HitRate returns hits/(hits+misses), or 1 when the cache has seen no traffic
// so an idle process never trips the health threshold.
func (s CacheStats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 1
	}
	return float64(s.Hits) / float64(total)
}
