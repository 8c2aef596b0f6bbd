package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"

	mw "github.com/aves-app/aves/internal/api/middleware"
	"github.com/aves-app/aves/internal/conf"
	"github.com/aves-app/aves/internal/datastore"
	"github.com/aves-app/aves/internal/jobs"
	"github.com/aves-app/aves/internal/logger"
	"github.com/aves-app/aves/internal/observability"
)

// Server is the AVES HTTP server. It owns the Echo instance, the global
// middleware chain and the API controller.
type Server struct {
	echo       *echo.Echo
	config     *Config
	settings   *conf.Settings
	controller *Controller
	metrics    *observability.Metrics
	log        logger.Logger
	startTime  time.Time
}

// NewServer builds the server and registers every route. metrics may be nil.
func NewServer(settings *conf.Settings, ds datastore.Interface, jobStore *jobs.Store,
	metrics *observability.Metrics, opts ...Option) (*Server, error) {
	config := ConfigFromSettings(settings)
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid server configuration: %w", err)
	}

	s := &Server{
		config:    config,
		settings:  settings,
		metrics:   metrics,
		log:       logger.Global().Module("server"),
		startTime: time.Now(),
	}

	s.echo = echo.New()
	s.echo.HideBanner = true
	s.echo.HidePort = true
	s.echo.Server.ReadTimeout = config.ReadTimeout
	s.echo.Server.WriteTimeout = config.WriteTimeout
	s.echo.Server.IdleTimeout = config.IdleTimeout
	s.echo.Validator = NewValidator()
	s.echo.HTTPErrorHandler = s.handleHTTPError

	s.setupMiddleware()

	if metrics != nil {
		opts = append(opts, WithMetrics(metrics))
	}
	controller, err := New(s.echo, ds, settings, jobStore, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize API controller: %w", err)
	}
	s.controller = controller

	s.log.Info("HTTP server initialized",
		logger.String("address", config.Address()),
		logger.Bool("rate_limit", config.RateLimitEnabled),
		logger.Bool("debug", config.Debug))
	return s, nil
}

// setupMiddleware configures the global middleware chain. Order matters:
// recovery first, then request id so every later log line carries it.
func (s *Server) setupMiddleware() {
	s.echo.Use(echomw.Recover())
	s.echo.Use(mw.NewRequestID())
	s.echo.Use(mw.NewRequestLoggerWithSkipper(s.log, func(c echo.Context) bool {
		return c.Path() == "/metrics" || c.Path() == "/api/health"
	}))
	if s.metrics != nil {
		s.echo.Use(mw.NewMetrics(s.metrics.HTTP))
	}

	securityConfig := mw.SecurityConfig{
		AllowedOrigins: s.config.AllowedOrigins,
		HSTSMaxAge:     mw.HSTSMaxAge,
	}
	s.echo.Use(mw.NewCORS(securityConfig))
	s.echo.Use(mw.NewBodyLimit(s.config.BodyLimit))
	s.echo.Use(mw.NewSecureHeaders(securityConfig))
}

// handleHTTPError renders errors that never reached a handler, such as
// unknown routes or oversized bodies, in the API error format.
func (s *Server) handleHTTPError(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	code := http.StatusInternalServerError
	msg := http.StatusText(code)
	var he *echo.HTTPError
	if errors.As(err, &he) {
		code = he.Code
		if m, ok := he.Message.(string); ok {
			msg = m
		} else {
			msg = http.StatusText(code)
		}
	}
	resp := ErrorResponse{Error: msg, Message: http.StatusText(code), Code: code}
	if code >= http.StatusInternalServerError {
		resp.CorrelationID = generateCorrelationID()
		s.log.Error("unhandled error",
			logger.String("correlation_id", resp.CorrelationID),
			logger.String("path", c.Request().URL.Path),
			logger.Error(err))
	}

	var writeErr error
	if c.Request().Method == http.MethodHead {
		writeErr = c.NoContent(code)
	} else {
		writeErr = c.JSON(code, resp)
	}
	if writeErr != nil {
		s.log.Debug("failed to write error response", logger.Error(writeErr))
	}
}

// Start runs the listener in the background.
func (s *Server) Start() {
	go func() {
		if err := s.startBlocking(); err != nil {
			s.log.Error("server error", logger.Error(err))
		}
	}()
}

func (s *Server) startBlocking() error {
	addr := s.config.Address()
	s.log.Info("starting HTTP server", logger.String("address", addr))
	if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// StartWithGracefulShutdown serves until SIGINT or SIGTERM, then shuts down.
func (s *Server) StartWithGracefulShutdown() error {
	errCh := make(chan error, 1)
	go func() { errCh <- s.startBlocking() }()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case err := <-errCh:
		return err
	case sig := <-quit:
		s.log.Info("shutdown signal received", logger.String("signal", sig.String()))
	}
	return s.Shutdown()
}

// Shutdown stops accepting requests and waits for in-flight ones up to the
// configured timeout.
func (s *Server) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()

	if err := s.echo.Shutdown(ctx); err != nil {
		s.log.Error("error during server shutdown", logger.Error(err))
		return fmt.Errorf("shutdown error: %w", err)
	}
	s.controller.Shutdown()

	s.log.Info("server shutdown complete", logger.Duration("uptime", time.Since(s.startTime)))
	return nil
}

// Controller returns the API controller.
func (s *Server) Controller() *Controller {
	return s.controller
}

// Echo returns the underlying Echo instance.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}
