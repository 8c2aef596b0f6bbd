package api

import (
	"crypto/rand"
	"net/http"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/labstack/echo/v4"

	"github.com/aves-app/aves/internal/errors"
	"github.com/aves-app/aves/internal/jobs"
	"github.com/aves-app/aves/internal/logger"
)

// ErrorResponse is the JSON body of every failed request.
type ErrorResponse struct {
	Error         string        `json:"error"`
	Message       string        `json:"message"`
	Code          int           `json:"code"`
	CorrelationID string        `json:"correlation_id,omitempty"`
	Details       []FieldDetail `json:"details,omitempty"`
}

// generateCorrelationID creates a short random identifier for error tracking.
func generateCorrelationID() string {
	const charset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	const length = 8

	b := make([]byte, length)
	if _, err := rand.Read(b); err != nil {
		return "ERR-RAND"
	}
	for i := range b {
		b[i] = charset[int(b[i])%len(charset)]
	}
	return string(b)
}

// statusFor maps an error category to an HTTP status.
func statusFor(err error) int {
	if errors.Is(err, jobs.ErrStoreClosed) {
		return http.StatusServiceUnavailable
	}
	var he *echo.HTTPError
	if errors.As(err, &he) {
		return he.Code
	}
	switch errors.CategoryOf(err) {
	case errors.CategoryValidation:
		return http.StatusBadRequest
	case errors.CategoryAuth:
		return http.StatusUnauthorized
	case errors.CategoryForbidden:
		return http.StatusForbidden
	case errors.CategoryNotFound:
		return http.StatusNotFound
	case errors.CategoryConflict, errors.CategoryState:
		return http.StatusConflict
	case errors.CategoryLimit:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// HandleError writes the error response for err. Client errors carry the
// error text; server errors get message and a correlation id that is logged
// alongside the full error.
func (c *Controller) HandleError(ctx echo.Context, err error, message string) error {
	code := statusFor(err)
	resp := &ErrorResponse{
		Message: message,
		Code:    code,
	}

	var ve *ValidationErrors
	if errors.As(err, &ve) {
		resp.Details = ve.Details
	}

	if code >= http.StatusInternalServerError {
		resp.Error = http.StatusText(code)
		resp.CorrelationID = generateCorrelationID()
		c.log.Error("request failed",
			logger.String("correlation_id", resp.CorrelationID),
			logger.String("method", ctx.Request().Method),
			logger.String("path", ctx.Request().URL.Path),
			logger.String("ip", ctx.RealIP()),
			logger.String("message", message),
			logger.Error(err))
	} else {
		resp.Error = clientMessage(err, code)
		fields := []logger.Field{
			logger.String("path", ctx.Request().URL.Path),
			logger.Int("status", code),
			logger.Error(err),
		}
		var ee *errors.EnhancedError
		if errors.As(err, &ee) {
			fields = append(fields, logger.Any("context", ee.GetContext()))
		}
		c.log.Debug("request rejected", fields...)
	}

	return ctx.JSON(code, resp)
}

// clientMessage returns the error text for a 4xx response. Database driver errors
// never reach the client; they get a fixed message for their status.
func clientMessage(err error, code int) string {
	var he *echo.HTTPError
	if errors.As(err, &he) {
		if msg, ok := he.Message.(string); ok {
			return msg
		}
		return http.StatusText(code)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch code {
		case http.StatusConflict:
			return "Resource already exists"
		case http.StatusNotFound:
			return "Referenced resource not found"
		default:
			return "Invalid value"
		}
	}
	return err.Error()
}

// unavailable reports a feature whose backing service is not configured.
func (c *Controller) unavailable(ctx echo.Context, feature string) error {
	return c.HandleError(ctx, echo.NewHTTPError(http.StatusServiceUnavailable, feature+" is not configured"),
		feature+" unavailable")
}
