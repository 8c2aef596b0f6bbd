package conf

import (
	"time"

	"github.com/spf13/viper"
)

// DefaultAnthropicModel is used when ANTHROPIC_MODEL is not set.
const DefaultAnthropicModel = "claude-sonnet-4-20250514"

// setDefaultConfig sets default values for every configuration key.
func setDefaultConfig(v *viper.Viper) {
	v.SetDefault("debug", false)

	v.SetDefault("server.host", "")
	v.SetDefault("server.port", 3001)
	v.SetDefault("server.corsorigins", []string{"http://localhost:5173"})
	v.SetDefault("server.bodylimit", "2M")
	v.SetDefault("server.shutdowntimeout", 15*time.Second)
	v.SetDefault("server.ratelimit.enabled", true)
	v.SetDefault("server.ratelimit.requestsperminute", 10.0)
	v.SetDefault("server.ratelimit.burst", 5)

	v.SetDefault("database.url", "")
	v.SetDefault("database.maxconns", 10)
	v.SetDefault("database.minconns", 1)
	v.SetDefault("database.connecttimeout", 10*time.Second)

	v.SetDefault("auth.jwtsecret", "")
	v.SetDefault("auth.supabaseurl", "")
	v.SetDefault("auth.supabaseanonkey", "")
	v.SetDefault("auth.adminemails", []string{})

	v.SetDefault("unsplash.accesskey", "")
	v.SetDefault("unsplash.baseurl", "https://api.unsplash.com")
	v.SetDefault("unsplash.timeout", 15*time.Second)
	v.SetDefault("unsplash.requestspersecond", 1.0)
	v.SetDefault("unsplash.perpage", 10)

	v.SetDefault("anthropic.apikey", "")
	v.SetDefault("anthropic.model", DefaultAnthropicModel)
	v.SetDefault("anthropic.baseurl", "https://api.anthropic.com")
	v.SetDefault("anthropic.maxtokens", 2048)
	v.SetDefault("anthropic.timeout", 60*time.Second)
	v.SetDefault("anthropic.maxattempts", 3)
	v.SetDefault("anthropic.initialbackoff", time.Second)
	v.SetDefault("anthropic.requestspersecond", 0.5)

	v.SetDefault("jobs.timeout", 5*time.Minute)
	v.SetDefault("jobs.retention", time.Hour)
	v.SetDefault("jobs.janitorinterval", 5*time.Minute)

	v.SetDefault("exercises.cachettl", time.Hour)
	v.SetDefault("positioning.minsamples", 3)

	v.SetDefault("cache.ttl", 5*time.Minute)
	v.SetDefault("cache.cleanupinterval", 10*time.Minute)

	v.SetDefault("sentry.dsn", "")
	v.SetDefault("sentry.environment", "production")

	v.SetDefault("logging.default_level", "info")
	v.SetDefault("logging.timezone", "Local")
	v.SetDefault("logging.console.enabled", true)
	v.SetDefault("logging.console.level", "")
	v.SetDefault("logging.file_output.enabled", false)
	v.SetDefault("logging.file_output.path", "logs/aves.log")
	v.SetDefault("logging.file_output.level", "")
}
