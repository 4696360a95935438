package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

const tokenCacheKeyPrefix = "lifesignal:tokens:"

// TokenCache Redis 设备令牌缓存
// Trims repeated token lookups within one escalation cycle; misses and
// Redis errors just fall through to the devices repository.
type TokenCache struct {
	redisClient *redis.Client
	ttl         time.Duration
	logger      *zap.Logger
}

// NewTokenCache 创建令牌缓存
func NewTokenCache(redisClient *redis.Client, ttl time.Duration, logger *zap.Logger) *TokenCache {
	return &TokenCache{
		redisClient: redisClient,
		ttl:         ttl,
		logger:      logger,
	}
}

// Get 读取用户令牌缓存；miss 或错误时 ok=false
func (c *TokenCache) Get(ctx context.Context, userID string) ([]string, bool) {
	val, err := c.redisClient.Get(ctx, tokenCacheKeyPrefix+userID).Result()
	if err != nil {
		if err != redis.Nil {
			c.logger.Warn("Failed to read token cache",
				zap.String("user_id", userID),
				zap.Error(err),
			)
		}
		return nil, false
	}

	var tokens []string
	if err := json.Unmarshal([]byte(val), &tokens); err != nil {
		c.logger.Warn("Failed to unmarshal cached tokens",
			zap.String("user_id", userID),
			zap.Error(err),
		)
		return nil, false
	}

	return tokens, true
}

// Set 写入用户令牌缓存（带 TTL）
func (c *TokenCache) Set(ctx context.Context, userID string, tokens []string) error {
	data, err := json.Marshal(tokens)
	if err != nil {
		return fmt.Errorf("failed to marshal tokens: %w", err)
	}

	if err := c.redisClient.Set(ctx, tokenCacheKeyPrefix+userID, data, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to set token cache: %w", err)
	}

	return nil
}
