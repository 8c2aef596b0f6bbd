package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/patrickmn/go-cache"

	"github.com/aves-app/aves/internal/api/auth"
	mw "github.com/aves-app/aves/internal/api/middleware"
	"github.com/aves-app/aves/internal/conf"
	"github.com/aves-app/aves/internal/datastore"
	"github.com/aves-app/aves/internal/exercises"
	"github.com/aves-app/aves/internal/jobs"
	"github.com/aves-app/aves/internal/logger"
	"github.com/aves-app/aves/internal/observability"
)

// ImageCollector builds image collection jobs.
type ImageCollector interface {
	CollectJob(species []datastore.Species, count int) jobs.Func
}

// Annotator produces AI annotations for images.
type Annotator interface {
	AnnotateImage(ctx context.Context, imageID, jobID string) (*datastore.AIAnnotation, error)
	BatchJob(images []datastore.Image) jobs.Func
}

// ExerciseGenerator builds exercise sets.
type ExerciseGenerator interface {
	Generate(ctx context.Context, t exercises.Type, count int, f exercises.Filters) (*exercises.Set, error)
}

// Controller manages the API routes and handlers.
type Controller struct {
	Echo     *echo.Echo
	Group    *echo.Group
	DS       datastore.Interface
	Settings *conf.Settings
	Jobs     *jobs.Store

	collector ImageCollector
	annotator Annotator
	exercises ExerciseGenerator
	auth      *auth.Middleware
	metrics   *observability.Metrics

	// Caches species and vocabulary listings; flushed on catalog writes.
	queryCache *cache.Cache

	log       logger.Logger
	startTime time.Time
	now       func() time.Time
}

// Option is a functional option for configuring the Controller.
type Option func(*Controller)

// WithAuth sets the authentication middleware.
func WithAuth(m *auth.Middleware) Option {
	return func(c *Controller) { c.auth = m }
}

// WithCollector sets the image collector used by collection jobs.
func WithCollector(col ImageCollector) Option {
	return func(c *Controller) { c.collector = col }
}

// WithAnnotator sets the AI annotator.
func WithAnnotator(a Annotator) Option {
	return func(c *Controller) { c.annotator = a }
}

// WithExercises sets the exercise generator.
func WithExercises(g ExerciseGenerator) Option {
	return func(c *Controller) { c.exercises = g }
}

// WithMetrics enables /metrics and the rate limiter counter.
func WithMetrics(m *observability.Metrics) Option {
	return func(c *Controller) { c.metrics = m }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

// New creates the API controller and registers its routes on e under /api.
func New(e *echo.Echo, ds datastore.Interface, settings *conf.Settings, jobStore *jobs.Store, opts ...Option) (*Controller, error) {
	c := &Controller{
		Echo:      e,
		DS:        ds,
		Settings:  settings,
		Jobs:      jobStore,
		log:       logger.Global().Module("api"),
		startTime: time.Now(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}

	if ds == nil {
		return nil, fmt.Errorf("datastore is required")
	}
	if jobStore == nil {
		return nil, fmt.Errorf("job store is required")
	}
	if c.auth == nil {
		return nil, fmt.Errorf("auth middleware is required")
	}

	ttl, cleanup := settings.Cache.TTL, settings.Cache.CleanupInterval
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	if cleanup <= 0 {
		cleanup = 10 * time.Minute
	}
	c.queryCache = cache.New(ttl, cleanup)

	if e.Validator == nil {
		e.Validator = NewValidator()
	}
	c.Group = e.Group("/api")
	c.initRoutes()
	return c, nil
}

// initRoutes registers all API endpoints.
func (c *Controller) initRoutes() {
	g := c.Group
	authn := c.auth.Authenticate
	admin := []echo.MiddlewareFunc{c.auth.Authenticate, c.auth.RequireAdmin}

	aiAdmin := admin
	if cfg := ConfigFromSettings(c.Settings); cfg.RateLimitEnabled {
		var rec mw.RateLimitRecorder
		if c.metrics != nil {
			rec = c.metrics.HTTP
		}
		limiter := mw.NewRateLimiter(cfg.RequestsPerMinute, cfg.RateLimitBurst, rec)
		aiAdmin = append([]echo.MiddlewareFunc{limiter}, admin...)
	}

	if c.metrics != nil {
		c.Echo.GET("/metrics", echo.WrapHandler(c.metrics.Handler()))
	}

	// Public
	g.GET("/health", c.HealthCheck)
	g.GET("/species", c.ListSpecies)
	g.GET("/species/:id", c.GetSpecies)
	g.GET("/images", c.ListImages)
	g.GET("/images/:id", c.GetImage)
	g.GET("/annotations", c.ListAnnotations)
	g.GET("/annotations/:id", c.GetAnnotation)
	g.GET("/vocabulary/terms", c.ListTerms)
	g.GET("/exercises", c.GenerateExercises)

	// Authenticated users
	g.GET("/auth/me", c.Me, authn)
	g.POST("/vocabulary/interactions", c.RecordInteraction, authn)
	g.GET("/vocabulary/mastery", c.GetMastery, authn)
	g.GET("/srs/due", c.DueReviews, authn)
	g.POST("/srs/review", c.SubmitReview, authn)
	g.GET("/srs/stats", c.SRSStats, authn)

	// Admin catalog management
	g.POST("/species", c.CreateSpecies, admin...)
	g.PUT("/species/:id", c.UpdateSpecies, admin...)
	g.DELETE("/species/:id", c.DeleteSpecies, admin...)
	g.DELETE("/images/:id", c.DeleteImage, admin...)
	g.POST("/annotations", c.CreateAnnotation, admin...)
	g.PUT("/annotations/:id", c.UpdateAnnotation, admin...)
	g.DELETE("/annotations/:id", c.DeleteAnnotation, admin...)

	// Admin jobs and dashboard
	g.POST("/admin/images/collect", c.CollectImages, admin...)
	g.GET("/admin/jobs", c.ListJobs, admin...)
	g.GET("/admin/jobs/:id", c.GetJob, admin...)
	g.POST("/admin/jobs/:id/cancel", c.CancelJob, admin...)
	g.GET("/admin/stats", c.AdminStats, admin...)
	g.POST("/admin/exercise-cache/purge", c.PurgeExerciseCache, admin...)

	// AI annotation review
	g.POST("/ai/annotations/generate/:imageId", c.GenerateAnnotation, aiAdmin...)
	g.POST("/ai/annotations/batch", c.BatchAnnotate, aiAdmin...)
	g.GET("/ai/annotations/pending", c.ListPendingItems, admin...)
	g.GET("/ai/annotations/stats", c.AIStats, admin...)
	g.POST("/ai/annotations/items/:id/approve", c.ApproveItem, admin...)
	g.POST("/ai/annotations/items/:id/reject", c.RejectItem, admin...)
	g.POST("/ai/annotations/items/:id/edit", c.EditItem, admin...)
	g.POST("/ai/annotations/bulk-approve", c.BulkApprove, admin...)
	g.POST("/ai/positioning/retrain", c.RetrainPositioning, admin...)
	g.GET("/ai/positioning/model", c.PositioningModel, admin...)

	c.log.Debug("routes registered", logger.Int("routes", len(c.Echo.Routes())))
}

// Me returns the authenticated caller.
func (c *Controller) Me(ctx echo.Context) error {
	user, _ := auth.UserFrom(ctx)
	return ctx.JSON(http.StatusOK, user)
}

// Shutdown releases controller resources.
func (c *Controller) Shutdown() {
	c.queryCache.Flush()
	c.log.Debug("API controller shut down")
}

// currentUser returns the caller set by the auth middleware.
func currentUser(ctx echo.Context) *auth.User {
	user, ok := auth.UserFrom(ctx)
	if !ok {
		return &auth.User{}
	}
	return user
}

// cached returns the cached value for key or computes and stores it.
func (c *Controller) cached(key string, fn func() (any, error)) (any, error) {
	if v, ok := c.queryCache.Get(key); ok {
		return v, nil
	}
	v, err := fn()
	if err != nil {
		return nil, err
	}
	c.queryCache.SetDefault(key, v)
	return v, nil
}

// invalidateCache drops cached listings after a catalog write.
func (c *Controller) invalidateCache() {
	c.queryCache.Flush()
}
