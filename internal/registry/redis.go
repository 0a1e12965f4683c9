package registry

import (
	"context"
	"fmt"
	"strings"
	"sync"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	activeAddressesKey      = "push:addresses:active"
	invalidatedAddressesKey = "push:addresses:invalid"
)

var _ Registry = (*RedisRegistry)(nil)

// RedisRegistry keeps the active device-address set in Redis. Invalidation is
// idempotent; a local cache of already-invalidated addresses suppresses repeat
// round-trips when the provider reports the same dead address across batches.
type RedisRegistry struct {
	client *goredis.Client
	logger *zap.Logger

	mu          sync.Mutex
	invalidated map[string]struct{}
	hits        uint64
	misses      uint64
}

func NewRedisRegistry(client *goredis.Client, logger *zap.Logger) (*RedisRegistry, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &RedisRegistry{
		client:      client,
		logger:      logger,
		invalidated: make(map[string]struct{}),
	}, nil
}

func (r *RedisRegistry) RemoveInvalidAddress(ctx context.Context, address string) error {
	if r == nil || r.client == nil {
		return fmt.Errorf("registry is not initialized")
	}

	normalized := strings.TrimSpace(address)
	if normalized == "" {
		return fmt.Errorf("address is required")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	r.mu.Lock()
	if _, seen := r.invalidated[normalized]; seen {
		r.hits++
		r.mu.Unlock()
		return nil
	}
	r.misses++
	r.mu.Unlock()

	pipe := r.client.TxPipeline()
	pipe.SRem(ctx, activeAddressesKey, normalized)
	pipe.SAdd(ctx, invalidatedAddressesKey, normalized)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to deregister address: %w", err)
	}

	r.mu.Lock()
	r.invalidated[normalized] = struct{}{}
	r.mu.Unlock()

	r.logger.Info("invalid address deregistered", zap.String("address", normalized))
	return nil
}

// Register adds an address to the active set. Used by device-registration
// callers outside the pipeline itself.
func (r *RedisRegistry) Register(ctx context.Context, address string) error {
	if r == nil || r.client == nil {
		return fmt.Errorf("registry is not initialized")
	}

	normalized := strings.TrimSpace(address)
	if normalized == "" {
		return fmt.Errorf("address is required")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	pipe := r.client.TxPipeline()
	pipe.SAdd(ctx, activeAddressesKey, normalized)
	pipe.SRem(ctx, invalidatedAddressesKey, normalized)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to register address: %w", err)
	}

	r.mu.Lock()
	delete(r.invalidated, normalized)
	r.mu.Unlock()

	return nil
}

func (r *RedisRegistry) Stats() CacheStats {
	if r == nil {
		return CacheStats{}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	return CacheStats{Hits: r.hits, Misses: r.misses}
}
