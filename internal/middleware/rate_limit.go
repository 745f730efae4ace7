package middleware

import (
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"

	"github.com/noah-isme/astra-go-api/internal/utils"
)

// RateLimit limits requests per caller and route target. The caller is the authenticated user,
// or the client IP for exercise service callbacks. The target is the ":id" route parameter when
// the route has one, so a student submitting to two exercises draws from two budgets.
func RateLimit(identifier string, max int, window time.Duration) fiber.Handler {
	if max <= 0 {
		max = 10
	}
	if window <= 0 {
		window = time.Second
	}

	return limiter.New(limiter.Config{
		Max:        max,
		Expiration: window,
		KeyGenerator: func(c *fiber.Ctx) string {
			caller := c.IP()
			if hasUser(c) {
				caller = fmt.Sprintf("user:%v", c.Locals("user_id"))
			}
			return fmt.Sprintf("%s:%s:%s", identifier, caller, c.Params("id"))
		},
		LimitReached: func(c *fiber.Ctx) error {
			return utils.SendError(c, fiber.StatusTooManyRequests, "too many requests, try again later")
		},
	})
}
