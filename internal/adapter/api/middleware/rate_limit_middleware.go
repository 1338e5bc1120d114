package middleware

import (
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"chatcore/internal/infrastructure/ratelimit"
	"chatcore/pkg/errors"
	"chatcore/pkg/logger"
	"chatcore/pkg/response"
)

// RateLimit keys the limiter by client IP for the given action and answers
// 429 with a Retry-After header once the bucket is empty.
func RateLimit(rl *ratelimit.RateLimiter, action string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ip := c.RealIP()
			if ok, wait := rl.Reserve(ip, action); !ok {
				logger.Warn("RATE LIMIT: blocked %s request from IP %s (retry in %v)", action, ip, wait)
				seconds := int(wait.Round(time.Second) / time.Second)
				if seconds < 1 {
					seconds = 1
				}
				c.Response().Header().Set("Retry-After", strconv.Itoa(seconds))
				return response.Error(c, errors.TooManyRequests("Rate limit exceeded"))
			}
			return next(c)
		}
	}
}
