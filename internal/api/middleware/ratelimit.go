package middleware

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"golang.org/x/time/rate"
)

// RateLimitRecorder counts rejected requests.
type RateLimitRecorder interface {
	RecordRateLimited(route string)
}

// NewRateLimiter limits requests per client IP to requestsPerMinute with the given
// burst, answering 429 when exceeded. Idle visitors are forgotten after three minutes.
func NewRateLimiter(requestsPerMinute float64, burst int, recorder RateLimitRecorder) echo.MiddlewareFunc {
	store := middleware.NewRateLimiterMemoryStoreWithConfig(middleware.RateLimiterMemoryStoreConfig{
		Rate:      rate.Limit(requestsPerMinute / 60),
		Burst:     max(burst, 1),
		ExpiresIn: 3 * time.Minute,
	})

	return middleware.RateLimiterWithConfig(middleware.RateLimiterConfig{
		Store: store,
		IdentifierExtractor: func(c echo.Context) (string, error) {
			return c.RealIP(), nil
		},
		ErrorHandler: func(c echo.Context, err error) error {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "Unable to identify client"})
		},
		DenyHandler: func(c echo.Context, identifier string, err error) error {
			if recorder != nil {
				recorder.RecordRateLimited(c.Path())
			}
			c.Response().Header().Set("Retry-After", "60")
			return c.JSON(http.StatusTooManyRequests, map[string]any{
				"error":   "Too many requests",
				"message": "AI generation is rate limited, try again later",
				"code":    http.StatusTooManyRequests,
			})
		},
	})
}
