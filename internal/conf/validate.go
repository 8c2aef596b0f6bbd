package conf

import (
	"fmt"
	"strings"

	"github.com/aves-app/aves/internal/errors"
)

// ValidateSettings checks ranges and normalises list values.
func ValidateSettings(s *Settings) error {
	var errs []error

	if err := validatePort(s.Server.Port); err != nil {
		errs = append(errs, err)
	}
	if s.Server.RateLimit.Enabled && (s.Server.RateLimit.RequestsPerMinute <= 0 || s.Server.RateLimit.Burst < 1) {
		errs = append(errs, fmt.Errorf("server.ratelimit requires requestsperminute > 0 and burst >= 1"))
	}
	if s.Database.MinConns < 0 || s.Database.MaxConns < 1 || s.Database.MinConns > s.Database.MaxConns {
		errs = append(errs, fmt.Errorf("database pool sizes invalid: min %d max %d", s.Database.MinConns, s.Database.MaxConns))
	}
	if s.Unsplash.PerPage < 1 || s.Unsplash.PerPage > 30 {
		errs = append(errs, fmt.Errorf("unsplash.perpage must be between 1 and 30, got %d", s.Unsplash.PerPage))
	}
	if s.Unsplash.RequestsPerSecond <= 0 || s.Anthropic.RequestsPerSecond <= 0 {
		errs = append(errs, fmt.Errorf("outbound requestspersecond must be positive"))
	}
	if s.Anthropic.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("anthropic.maxattempts must be at least 1"))
	}
	if s.Jobs.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("jobs.timeout must be positive"))
	}
	if s.Exercises.CacheTTL <= 0 {
		errs = append(errs, fmt.Errorf("exercises.cachettl must be positive"))
	}
	if s.Positioning.MinSamples < 1 {
		errs = append(errs, fmt.Errorf("positioning.minsamples must be at least 1"))
	}

	s.Auth.AdminEmails = normalizeList(s.Auth.AdminEmails, true)
	s.Server.CORSOrigins = normalizeList(s.Server.CORSOrigins, false)
	s.Logging.DefaultLevel = strings.ToLower(s.Logging.DefaultLevel)

	if len(errs) > 0 {
		return errors.New(errors.Join(errs...)).
			Component("conf").
			Category(errors.CategoryConfiguration).
			Build()
	}
	return nil
}

// RequireDatabase returns an error when no database URL is configured.
func (s *Settings) RequireDatabase() error {
	if s.Database.URL == "" {
		return errors.Newf("database URL is required (set DATABASE_URL or database.url)").
			Component("conf").
			Category(errors.CategoryConfiguration).
			Build()
	}
	return nil
}

func validatePort(port int) error {
	if port < 1 || port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", port)
	}
	return nil
}

// normalizeList splits comma-joined entries, trims and drops empties.
func normalizeList(values []string, lower bool) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		for part := range strings.SplitSeq(v, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			if lower {
				part = strings.ToLower(part)
			}
			out = append(out, part)
		}
	}
	return out
}
