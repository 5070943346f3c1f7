package middleware

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
)

// RateLimit caps requests per authenticated actor within a fixed window using
// Redis counters. It fails open when Redis is missing or unavailable.
func RateLimit(cache *redis.Client, name string, limit int, window time.Duration) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if cache == nil || limit <= 0 {
			return c.Next()
		}
		subject, _ := c.Locals("user_id").(string)
		if subject == "" {
			subject = c.IP()
		}
		key := fmt.Sprintf("rl:%s:%s", name, subject)

		cnt, err := cache.Incr(c.UserContext(), key).Result()
		if err != nil {
			return c.Next()
		}
		if cnt == 1 {
			cache.Expire(c.UserContext(), key, window)
		}
		if cnt > int64(limit) {
			return fiber.NewError(http.StatusTooManyRequests, "too many requests, try again later")
		}
		return c.Next()
	}
}
