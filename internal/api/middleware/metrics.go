package middleware

import (
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

// RequestRecorder records completed requests.
type RequestRecorder interface {
	RecordRequest(method, route string, status int, size int64, elapsed time.Duration)
}

// NewMetrics records method, route template, status, size and latency of each request.
func NewMetrics(recorder RequestRecorder) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)

			status := c.Response().Status
			var he *echo.HTTPError
			if !c.Response().Committed && errors.As(err, &he) {
				status = he.Code
			} else if !c.Response().Committed && err != nil {
				status = http.StatusInternalServerError
			}

			route := c.Path()
			if route == "" {
				route = "unmatched"
			}
			recorder.RecordRequest(c.Request().Method, route, status, c.Response().Size, time.Since(start))
			return err
		}
	}
}
