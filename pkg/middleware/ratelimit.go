package middleware

import (
	"fmt"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/phonehub/phonehub/pkg/errors"
)

// RateLimiter is a fixed-window limiter keyed by operator, or by client IP
// for unauthenticated routes. Without Redis every request is allowed.
type RateLimiter struct {
	client      redis.Cmdable
	maxRequests int
	window      time.Duration
	logger      *zap.Logger
}

func NewRateLimiter(client redis.Cmdable, maxRequestsPerMinute int, logger *zap.Logger) *RateLimiter {
	return &RateLimiter{
		client:      client,
		maxRequests: maxRequestsPerMinute,
		window:      time.Minute,
		logger:      logger,
	}
}

func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if rl.client == nil || rl.maxRequests <= 0 {
			c.Next()
			return
		}

		subject := c.GetString("operator_id")
		if subject == "" {
			subject = c.ClientIP()
		}
		key := fmt.Sprintf("ratelimit:%s", subject)
		ctx := c.Request.Context()

		pipe := rl.client.TxPipeline()
		incr := pipe.Incr(ctx, key)
		pipe.ExpireNX(ctx, key, rl.window)
		if _, err := pipe.Exec(ctx); err != nil {
			// Redis trouble must not take the API down.
			rl.logger.Warn("Rate limit check failed, allowing request", zap.Error(err))
			c.Next()
			return
		}
		count := incr.Val()

		c.Header("X-RateLimit-Limit", strconv.Itoa(rl.maxRequests))
		if count > int64(rl.maxRequests) {
			c.Header("X-RateLimit-Remaining", "0")
			c.Header("Retry-After", strconv.Itoa(int(rl.window.Seconds())))
			errors.TooManyRequests(c, "rate limit exceeded")
			c.Abort()
			return
		}

		c.Header("X-RateLimit-Remaining", strconv.Itoa(rl.maxRequests-int(count)))
		c.Next()
	}
}
