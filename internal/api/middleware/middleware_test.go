package middleware

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu       sync.Mutex
	limited  []string
	requests []string
	statuses []int
}

func (r *recorder) RecordRateLimited(route string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.limited = append(r.limited, route)
}

func (r *recorder) RecordRequest(method, route string, status int, _ int64, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requests = append(r.requests, method+" "+route)
	r.statuses = append(r.statuses, status)
}

func do(e *echo.Echo, method, target, ip string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	req.RemoteAddr = ip + ":12345"
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestRateLimiterPerClient(t *testing.T) {
	t.Parallel()

	rec := &recorder{}
	e := echo.New()
	e.POST("/api/ai/annotations/generate/:imageId", func(c echo.Context) error {
		return c.NoContent(http.StatusCreated)
	}, NewRateLimiter(1, 2, rec))

	target := "/api/ai/annotations/generate/abc"
	assert.Equal(t, http.StatusCreated, do(e, http.MethodPost, target, "10.0.0.1").Code)
	assert.Equal(t, http.StatusCreated, do(e, http.MethodPost, target, "10.0.0.1").Code)

	limited := do(e, http.MethodPost, target, "10.0.0.1")
	assert.Equal(t, http.StatusTooManyRequests, limited.Code)
	assert.Equal(t, "60", limited.Header().Get("Retry-After"))

	assert.Equal(t, http.StatusCreated, do(e, http.MethodPost, target, "10.0.0.2").Code, "other clients have their own bucket")

	require.Len(t, rec.limited, 1)
	assert.Equal(t, "/api/ai/annotations/generate/:imageId", rec.limited[0])
}

func TestMetricsUsesRouteTemplate(t *testing.T) {
	t.Parallel()

	rec := &recorder{}
	e := echo.New()
	e.Use(NewMetrics(rec))
	e.GET("/api/species/:id", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"id": c.Param("id")})
	})
	e.GET("/api/boom", func(c echo.Context) error {
		return echo.NewHTTPError(http.StatusTeapot, "no")
	})

	do(e, http.MethodGet, "/api/species/123", "10.0.0.1")
	do(e, http.MethodGet, "/api/boom", "10.0.0.1")

	require.Len(t, rec.requests, 2)
	assert.Equal(t, "GET /api/species/:id", rec.requests[0])
	assert.Equal(t, http.StatusOK, rec.statuses[0])
	assert.Equal(t, http.StatusTeapot, rec.statuses[1])
}

func TestRequestIDPropagates(t *testing.T) {
	t.Parallel()

	e := echo.New()
	e.Use(NewRequestID())
	e.GET("/", func(c echo.Context) error {
		return c.NoContent(http.StatusNoContent)
	})

	rec := do(e, http.MethodGet, "/", "10.0.0.1")
	assert.NotEmpty(t, rec.Header().Get(echo.HeaderXRequestID))
}
