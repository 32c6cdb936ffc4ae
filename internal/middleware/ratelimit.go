package middleware

import (
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"

	"github.com/coverloop/api/pkg/response"
)

type RateLimiter struct {
	redis *redis.Client
	log   *log.Logger
}

func NewRateLimiter(redisClient *redis.Client, logger *log.Logger) *RateLimiter {
	return &RateLimiter{redis: redisClient, log: logger}
}

// Limit is a fixed-window counter per user. Redis errors let the request
// through.
func (rl *RateLimiter) Limit(keyPrefix string, maxRequests int, window time.Duration) fiber.Handler {
	return func(c *fiber.Ctx) error {
		userID := GetUserID(c)
		if userID == "" || maxRequests <= 0 {
			return c.Next()
		}

		key := fmt.Sprintf("ratelimit:%s:%s", keyPrefix, userID)
		ctx := c.UserContext()

		count, err := rl.redis.Incr(ctx, key).Result()
		if err != nil {
			rl.log.Warn("rate limiter unavailable", "key", key, "err", err)
			return c.Next()
		}

		if count == 1 {
			rl.redis.Expire(ctx, key, window)
		}

		if count > int64(maxRequests) {
			ttl, _ := rl.redis.TTL(ctx, key).Result()
			c.Set("Retry-After", fmt.Sprintf("%d", int(ttl.Seconds())))
			return response.RateLimited(c)
		}

		c.Set("X-RateLimit-Limit", fmt.Sprintf("%d", maxRequests))
		c.Set("X-RateLimit-Remaining", fmt.Sprintf("%d", maxRequests-int(count)))

		return c.Next()
	}
}

// TriggerLimit limits job triggers per hour
func (rl *RateLimiter) TriggerLimit(maxPerHour int) fiber.Handler {
	return rl.Limit("trigger", maxPerHour, time.Hour)
}

// PreviewLimit limits style previews per hour
func (rl *RateLimiter) PreviewLimit(maxPerHour int) fiber.Handler {
	return rl.Limit("preview", maxPerHour, time.Hour)
}
