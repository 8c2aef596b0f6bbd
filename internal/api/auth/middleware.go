package auth

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/aves-app/aves/internal/errors"
	"github.com/aves-app/aves/internal/logger"
)

const userContextKey = "auth.user"

// Recorder counts token verifications.
type Recorder interface {
	RecordAuth(method string, err error)
}

// Middleware guards routes with bearer token authentication.
type Middleware struct {
	service  Service
	recorder Recorder
	log      logger.Logger
}

// NewMiddleware creates auth middleware backed by service. recorder may be nil.
func NewMiddleware(service Service, recorder Recorder) *Middleware {
	return &Middleware{
		service:  service,
		recorder: recorder,
		log:      logger.Global().Module("auth"),
	}
}

// Authenticate requires a valid bearer token and stores the caller in the context.
func (m *Middleware) Authenticate(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		token, ok := bearerToken(c.Request())
		if !ok {
			c.Response().Header().Set("WWW-Authenticate", `Bearer realm="api"`)
			return c.JSON(http.StatusUnauthorized, map[string]string{
				"error": "Missing or malformed Authorization header",
			})
		}

		user, err := m.service.Verify(c.Request().Context(), token)
		if m.recorder != nil {
			m.recorder.RecordAuth(m.service.Method(), err)
		}
		if err != nil {
			return m.reject(c, err)
		}

		c.Set(userContextKey, user)
		return next(c)
	}
}

// RequireAdmin allows only admins through. It must run after Authenticate.
func (m *Middleware) RequireAdmin(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		user, ok := UserFrom(c)
		if !ok {
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Authentication required"})
		}
		if !user.IsAdmin {
			m.log.Info("admin access denied",
				logger.String("user_id", user.ID),
				logger.String("path", c.Request().URL.Path))
			return c.JSON(http.StatusForbidden, map[string]string{"error": "Admin access required"})
		}
		return next(c)
	}
}

func (m *Middleware) reject(c echo.Context, err error) error {
	path := c.Request().URL.Path
	switch errors.CategoryOf(err) {
	case errors.CategoryAuth:
		m.log.Debug("token rejected", logger.String("path", path), logger.Error(err))
		c.Response().Header().Set("WWW-Authenticate",
			`Bearer realm="api", error="invalid_token", error_description="Invalid or expired token"`)
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Invalid or expired token"})
	case errors.CategoryConfiguration:
		m.log.Error("authentication unavailable", logger.String("path", path), logger.Error(err))
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Authentication is not configured"})
	default:
		m.log.Warn("token verification failed", logger.String("path", path), logger.Error(err))
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": "Authentication service unavailable"})
	}
}

// UserFrom returns the authenticated caller, if any.
func UserFrom(c echo.Context) (*User, bool) {
	u, ok := c.Get(userContextKey).(*User)
	return u, ok && u != nil
}

func bearerToken(r *http.Request) (string, bool) {
	parts := strings.SplitN(r.Header.Get(echo.HeaderAuthorization), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return "", false
	}
	token := strings.TrimSpace(parts[1])
	return token, token != ""
}
