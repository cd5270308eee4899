package generation

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

var _ AssetGuard = (*RedisGuard)(nil)

// RedisGuard is the multi-instance AssetGuard. SET NX gives the atomic
// acquire; the TTL releases latches orphaned by a crashed holder.
type RedisGuard struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// NewRedisGuard creates a guard on an existing Redis client.
func NewRedisGuard(client *redis.Client, ttl time.Duration, logger *zap.Logger) *RedisGuard {
	return &RedisGuard{
		client: client,
		ttl:    ttl,
		logger: logger.Named("RedisGuard"),
	}
}

func (g *RedisGuard) guardKey(key string) string {
	return "fable:guard:" + key
}

func (g *RedisGuard) Acquire(ctx context.Context, key string) (bool, error) {
	acquired, err := g.client.SetNX(ctx, g.guardKey(key), "1", g.ttl).Result()
	if err != nil {
		g.logger.Error("Failed to acquire guard", zap.String("key", key), zap.Error(err))
		return false, fmt.Errorf("failed to acquire guard %s: %w", key, err)
	}
	return acquired, nil
}

func (g *RedisGuard) Release(ctx context.Context, key string) error {
	if err := g.client.Del(ctx, g.guardKey(key)).Err(); err != nil {
		g.logger.Error("Failed to release guard", zap.String("key", key), zap.Error(err))
		return fmt.Errorf("failed to release guard %s: %w", key, err)
	}
	return nil
}
