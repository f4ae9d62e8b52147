package ratelimit

import (
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
)

// Middleware returns a Fiber handler enforcing the sliding window per
// client IP under the given key prefix. Counter-store errors admit the
// request (availability over strictness) but are logged.
func Middleware(limiter *Limiter, prefix string, limit, windowSeconds int) fiber.Handler {
	return func(c *fiber.Ctx) error {
		res, err := limiter.Allow(c.Context(), prefix+c.IP(), limit, windowSeconds)
		if err != nil {
			log.Errorf("[RateLimit] %s%s: %v", prefix, c.IP(), err)
			return c.Next()
		}
		if !res.Allowed {
			c.Set("Retry-After", strconv.Itoa(res.ResetInSeconds))
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error":            "rate_limited",
				"reset_in_seconds": res.ResetInSeconds,
			})
		}
		return c.Next()
	}
}

// LoginMiddleware protects login-style endpoints: 5 attempts per 15
// minutes per client IP.
func LoginMiddleware(limiter *Limiter) fiber.Handler {
	return Middleware(limiter, "login:", LoginLimit, LoginWindowSeconds)
}
