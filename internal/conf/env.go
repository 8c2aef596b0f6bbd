package conf

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/viper"

	"github.com/aves-app/aves/internal/logger"
)

// envBinding holds metadata for environment variable bindings
type envBinding struct {
	ConfigKey string             // Viper config key
	EnvVar    string             // Environment variable name
	Validate  func(string) error // Optional validation function
}

func getEnvBindings() []envBinding {
	return []envBinding{
		{"server.port", "PORT", validateEnvPort},
		{"server.corsorigins", "CORS_ORIGINS", nil},
		{"database.url", "DATABASE_URL", validateEnvPostgresURL},
		{"unsplash.accesskey", "UNSPLASH_ACCESS_KEY", nil},
		{"anthropic.apikey", "ANTHROPIC_API_KEY", nil},
		{"anthropic.model", "ANTHROPIC_MODEL", nil},
		{"auth.jwtsecret", "JWT_SECRET", nil},
		{"auth.supabaseurl", "SUPABASE_URL", validateEnvHTTPURL},
		{"auth.supabaseanonkey", "SUPABASE_ANON_KEY", nil},
		{"auth.adminemails", "ADMIN_EMAILS", nil},
		{"sentry.dsn", "SENTRY_DSN", validateEnvHTTPURL},
		{"logging.default_level", "LOG_LEVEL", validateEnvLogLevel},
	}
}

// bindEnvVars binds environment variables to config keys and validates set values.
func bindEnvVars(v *viper.Viper) error {
	var problems []string

	for _, binding := range getEnvBindings() {
		if err := v.BindEnv(binding.ConfigKey, binding.EnvVar); err != nil {
			problems = append(problems, fmt.Sprintf("failed to bind %s: %v", binding.EnvVar, err))
			continue
		}

		if binding.Validate == nil {
			continue
		}
		if value := os.Getenv(binding.EnvVar); value != "" {
			if err := binding.Validate(value); err != nil {
				problems = append(problems, fmt.Sprintf("invalid %s: %v", binding.EnvVar, err))
			}
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("environment variable issues:\n  - %s", strings.Join(problems, "\n  - "))
	}
	return nil
}

func validateEnvPort(value string) error {
	port, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("port must be a number, got %q", value)
	}
	return validatePort(port)
}

func validateEnvPostgresURL(value string) error {
	u, err := url.Parse(value)
	if err != nil {
		return fmt.Errorf("malformed URL: %w", err)
	}
	if u.Scheme != "postgres" && u.Scheme != "postgresql" {
		return fmt.Errorf("scheme must be postgres or postgresql, got %q", u.Scheme)
	}
	return nil
}

func validateEnvHTTPURL(value string) error {
	u, err := url.Parse(value)
	if err != nil {
		return fmt.Errorf("malformed URL: %w", err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("must be an absolute http(s) URL")
	}
	return nil
}

func validateEnvLogLevel(value string) error {
	if !logger.IsValidLevel(strings.ToLower(value)) {
		return fmt.Errorf("unknown log level %q", value)
	}
	return nil
}
