package middleware

import (
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/makeasinger/videogen/internal/logging"
	"github.com/makeasinger/videogen/pkg/response"
)

type RateLimiter struct {
	redis  *redis.Client
	logger zerolog.Logger
}

func NewRateLimiter(redisClient *redis.Client, logger zerolog.Logger) *RateLimiter {
	return &RateLimiter{
		redis:  redisClient,
		logger: logging.Component(logger, "ratelimit"),
	}
}

// Limit creates a rate limiting middleware. Requests are counted per user,
// or per client IP when authentication is disabled.
func (rl *RateLimiter) Limit(keyPrefix string, maxRequests int, window time.Duration) fiber.Handler {
	return func(c *fiber.Ctx) error {
		subject := GetUserID(c)
		if subject == "" {
			subject = "ip:" + c.IP()
		}

		key := fmt.Sprintf("ratelimit:%s:%s", keyPrefix, subject)
		ctx := c.UserContext()

		count, err := rl.redis.Incr(ctx, key).Result()
		if err != nil {
			// Redis being down must not take the API with it
			rl.logger.Warn().Err(err).Str("key", key).Msg("rate limit check skipped")
			return c.Next()
		}

		// Set expiration on first request
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

// CreateLimit limits how many video jobs a caller may create per hour.
func (rl *RateLimiter) CreateLimit(maxPerHour int) fiber.Handler {
	return rl.Limit("videos", maxPerHour, time.Hour)
}
