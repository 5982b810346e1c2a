package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// WindowCounter increments the hit count for key within a fixed window and
// returns the new count.
type WindowCounter interface {
	Incr(ctx context.Context, key string, window time.Duration) (int64, error)
}

// RedisCounter is a fixed-window counter shared by every replica.
type RedisCounter struct {
	client *redis.Client
}

func NewRedisCounter(client *redis.Client) *RedisCounter {
	return &RedisCounter{client: client}
}

func (r *RedisCounter) Incr(ctx context.Context, key string, window time.Duration) (int64, error) {
	pipe := r.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.ExpireNX(ctx, key, window)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("rate limit incr: %w", err)
	}
	return incr.Val(), nil
}

// RateLimit allows at most limit requests per client IP per window for the
// routes it wraps. Used on the public share endpoint so it cannot be used to
// enumerate tokens quickly. If the counter is unavailable the request is let
// through: link validation itself stays authoritative.
//
// Windows are whole seconds; anything shorter than a second is rejected.
func RateLimit(counter WindowCounter, prefix string, limit int, window time.Duration, logger *zap.Logger) (gin.HandlerFunc, error) {
	if window < time.Second {
		return nil, fmt.Errorf("rate limit window %s is shorter than 1s", window)
	}
	if limit < 1 {
		return nil, fmt.Errorf("rate limit must be at least 1, got %d", limit)
	}
	seconds := int64(window / time.Second)

	return func(c *gin.Context) {
		bucket := time.Now().Unix() / seconds
		key := prefix + ":" + c.ClientIP() + ":" + strconv.FormatInt(bucket, 10)

		n, err := counter.Incr(c.Request.Context(), key, window)
		if err != nil {
			logger.Warn("rate limiter unavailable", zap.Error(err))
			c.Next()
			return
		}
		if n > int64(limit) {
			c.Header("Retry-After", strconv.FormatInt(seconds, 10))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "too many requests"})
			return
		}
		c.Next()
	}, nil
}
