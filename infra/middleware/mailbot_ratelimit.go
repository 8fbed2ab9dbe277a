package middleware

import (
	"math"
	"strconv"

	"mailbot/pkg/ratelimit"
	"mailbot/pkg/response"

	"github.com/gofiber/fiber/v2"
)

// RateLimit refuses requests once limiter denies the caller.
// The caller is the token subject when authenticated, otherwise the client IP.
func RateLimit(limiter *ratelimit.SlidingWindowLimiter) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if limiter == nil {
			return c.Next()
		}

		key := "ip:" + c.IP()
		if sub, ok := c.Locals("subject").(string); ok && sub != "" {
			key = "sub:" + sub
		}

		ok, wait := limiter.Allow(c.UserContext(), key)
		if ok {
			return c.Next()
		}

		retryAfter := int(math.Ceil(wait.Seconds()))
		if retryAfter < 1 {
			retryAfter = 1
		}
		c.Set(fiber.HeaderRetryAfter, strconv.Itoa(retryAfter))
		return response.Error(c, fiber.StatusTooManyRequests, "RATE_LIMITED", "rate limit exceeded",
			map[string]any{"retry_after": retryAfter})
	}
}
