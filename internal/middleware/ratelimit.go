package middleware

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
)

// RateLimitMiddleware throttles run submissions per client IP using Redis
// counters: a short per-second window and a daily budget. Simulation runs
// are expensive, so the defaults are low.
func RateLimitMiddleware(rdb *redis.Client) fiber.Handler {
	perSecond := envInt("RATE_LIMIT_PER_SECOND", 2)
	perDay := envInt("RATE_LIMIT_PER_DAY", 500)

	return func(c *fiber.Ctx) error {
		ctx := context.Background()
		now := time.Now()
		ip := c.IP()

		if perSecond > 0 {
			key := fmt.Sprintf("rl:ip:%s:second:%d", ip, now.Unix())
			count, err := rdb.Incr(ctx, key).Result()
			if err == nil {
				rdb.Expire(ctx, key, 2*time.Second)
				if count > int64(perSecond) {
					c.Set("X-RateLimit-Limit-Second", strconv.Itoa(perSecond))
					c.Set("X-RateLimit-Remaining-Second", "0")
					c.Set("Retry-After", "1")
					return c.Status(429).JSON(fiber.Map{
						"error":       "rate_limit_exceeded",
						"message":     "Too many requests per second",
						"limit_type":  "per_second",
						"retry_after": 1,
					})
				}
			}
		}

		if perDay > 0 {
			key := fmt.Sprintf("rl:ip:%s:day:%s", ip, now.Format("2006-01-02"))
			count, err := rdb.Incr(ctx, key).Result()
			if err == nil {
				rdb.Expire(ctx, key, 25*time.Hour)
				if count > int64(perDay) {
					tomorrow := now.AddDate(0, 0, 1)
					midnight := time.Date(tomorrow.Year(), tomorrow.Month(), tomorrow.Day(), 0, 0, 0, 0, tomorrow.Location())
					retryAfter := int64(midnight.Sub(now).Seconds())

					c.Set("X-RateLimit-Limit-Day", strconv.Itoa(perDay))
					c.Set("X-RateLimit-Remaining-Day", "0")
					c.Set("Retry-After", strconv.FormatInt(retryAfter, 10))
					return c.Status(429).JSON(fiber.Map{
						"error":       "rate_limit_exceeded",
						"message":     "Daily request budget exhausted",
						"limit_type":  "per_day",
						"retry_after": retryAfter,
					})
				}
			}
		}

		return c.Next()
	}
}

func envInt(key string, defaultValue int) int {
	if raw := os.Getenv(key); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			return v
		}
	}
	return defaultValue
}
