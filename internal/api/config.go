// Package api provides the AVES HTTP server and its JSON REST controller.
package api

import (
	"fmt"
	"time"

	"github.com/aves-app/aves/internal/conf"
)

// Default constants for the HTTP server.
const (
	DefaultReadTimeout     = 30 * time.Second
	DefaultWriteTimeout    = 60 * time.Second
	DefaultIdleTimeout     = 120 * time.Second
	DefaultShutdownTimeout = 10 * time.Second
	DefaultBodyLimit       = "2M"
)

// Config holds the HTTP server configuration derived from settings.
type Config struct {
	Host string
	Port int

	AllowedOrigins []string
	BodyLimit      string

	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	// Rate limiting of AI generation endpoints, per client IP.
	RateLimitEnabled  bool
	RequestsPerMinute float64
	RateLimitBurst    int

	Debug bool
}

// DefaultConfig returns a Config with the default timeouts.
func DefaultConfig() *Config {
	return &Config{
		Port:              3001,
		AllowedOrigins:    []string{"*"},
		BodyLimit:         DefaultBodyLimit,
		ReadTimeout:       DefaultReadTimeout,
		WriteTimeout:      DefaultWriteTimeout,
		IdleTimeout:       DefaultIdleTimeout,
		ShutdownTimeout:   DefaultShutdownTimeout,
		RateLimitEnabled:  true,
		RequestsPerMinute: 10,
		RateLimitBurst:    5,
	}
}

// ConfigFromSettings bridges conf.Settings to the server config.
func ConfigFromSettings(settings *conf.Settings) *Config {
	cfg := DefaultConfig()
	s := settings.Server

	cfg.Host = s.Host
	if s.Port != 0 {
		cfg.Port = s.Port
	}
	if len(s.CORSOrigins) > 0 {
		cfg.AllowedOrigins = s.CORSOrigins
	}
	if s.BodyLimit != "" {
		cfg.BodyLimit = s.BodyLimit
	}
	if s.ShutdownTimeout > 0 {
		cfg.ShutdownTimeout = s.ShutdownTimeout
	}

	cfg.RateLimitEnabled = s.RateLimit.Enabled
	if s.RateLimit.RequestsPerMinute > 0 {
		cfg.RequestsPerMinute = s.RateLimit.RequestsPerMinute
	}
	if s.RateLimit.Burst > 0 {
		cfg.RateLimitBurst = s.RateLimit.Burst
	}

	cfg.Debug = settings.Debug
	return cfg
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("port %d out of range", c.Port)
	}
	if c.ReadTimeout <= 0 {
		return fmt.Errorf("read timeout must be positive")
	}
	if c.WriteTimeout <= 0 {
		return fmt.Errorf("write timeout must be positive")
	}
	if c.RateLimitEnabled && c.RequestsPerMinute <= 0 {
		return fmt.Errorf("rate limit requires a positive requests per minute")
	}
	return nil
}

// Address returns the host:port the server listens on.
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
