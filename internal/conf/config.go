// Package conf loads AVES settings from config files, environment variables and flags.
package conf

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/spf13/viper"

	"github.com/aves-app/aves/internal/logger"
)

// Settings contains all configuration options for the AVES server.
type Settings struct {
	Debug bool `mapstructure:"debug"`

	Server      ServerSettings       `mapstructure:"server"`
	Database    DatabaseSettings     `mapstructure:"database"`
	Auth        AuthSettings         `mapstructure:"auth"`
	Unsplash    UnsplashSettings     `mapstructure:"unsplash"`
	Anthropic   AnthropicSettings    `mapstructure:"anthropic"`
	Jobs        JobSettings          `mapstructure:"jobs"`
	Exercises   ExerciseSettings     `mapstructure:"exercises"`
	Positioning PositioningSettings  `mapstructure:"positioning"`
	Cache       CacheSettings        `mapstructure:"cache"`
	Sentry      SentrySettings       `mapstructure:"sentry"`
	Logging     logger.LoggingConfig `mapstructure:"logging"`
}

// ServerSettings configures the HTTP listener.
type ServerSettings struct {
	Host            string            `mapstructure:"host"`
	Port            int               `mapstructure:"port"`
	CORSOrigins     []string          `mapstructure:"corsorigins"`
	BodyLimit       string            `mapstructure:"bodylimit"` // echo size string, e.g. "2M"
	ShutdownTimeout time.Duration     `mapstructure:"shutdowntimeout"`
	RateLimit       RateLimitSettings `mapstructure:"ratelimit"`
}

// RateLimitSettings limits AI generation endpoints per client IP.
type RateLimitSettings struct {
	Enabled           bool    `mapstructure:"enabled"`
	RequestsPerMinute float64 `mapstructure:"requestsperminute"`
	Burst             int     `mapstructure:"burst"`
}

// DatabaseSettings configures the PostgreSQL pool.
type DatabaseSettings struct {
	URL            string        `mapstructure:"url"`
	MaxConns       int32         `mapstructure:"maxconns"`
	MinConns       int32         `mapstructure:"minconns"`
	ConnectTimeout time.Duration `mapstructure:"connecttimeout"`
}

// AuthSettings configures Supabase token verification.
type AuthSettings struct {
	JWTSecret       string   `mapstructure:"jwtsecret"`
	SupabaseURL     string   `mapstructure:"supabaseurl"`
	SupabaseAnonKey string   `mapstructure:"supabaseanonkey"`
	AdminEmails     []string `mapstructure:"adminemails"`
}

// UnsplashSettings configures the image provider.
type UnsplashSettings struct {
	AccessKey         string        `mapstructure:"accesskey"`
	BaseURL           string        `mapstructure:"baseurl"`
	Timeout           time.Duration `mapstructure:"timeout"`
	RequestsPerSecond float64       `mapstructure:"requestspersecond"`
	PerPage           int           `mapstructure:"perpage"`
}

// AnthropicSettings configures the vision annotator.
type AnthropicSettings struct {
	APIKey            string        `mapstructure:"apikey"`
	Model             string        `mapstructure:"model"`
	BaseURL           string        `mapstructure:"baseurl"`
	MaxTokens         int           `mapstructure:"maxtokens"`
	Timeout           time.Duration `mapstructure:"timeout"`
	MaxAttempts       int           `mapstructure:"maxattempts"`
	InitialBackoff    time.Duration `mapstructure:"initialbackoff"`
	RequestsPerSecond float64       `mapstructure:"requestspersecond"`
}

// JobSettings configures the in-memory job store.
type JobSettings struct {
	Timeout         time.Duration `mapstructure:"timeout"`
	Retention       time.Duration `mapstructure:"retention"`
	JanitorInterval time.Duration `mapstructure:"janitorinterval"`
}

// ExerciseSettings configures exercise generation.
type ExerciseSettings struct {
	CacheTTL time.Duration `mapstructure:"cachettl"`
}

// PositioningSettings configures correction of AI bounding boxes.
type PositioningSettings struct {
	MinSamples int `mapstructure:"minsamples"`
}

// CacheSettings configures the in-process query cache.
type CacheSettings struct {
	TTL             time.Duration `mapstructure:"ttl"`
	CleanupInterval time.Duration `mapstructure:"cleanupinterval"`
}

// SentrySettings configures error telemetry.
type SentrySettings struct {
	DSN         string `mapstructure:"dsn"`
	Environment string `mapstructure:"environment"`
}

// IsSupabaseFallbackEnabled reports whether tokens are verified remotely.
func (a *AuthSettings) IsSupabaseFallbackEnabled() bool {
	return a.JWTSecret == "" && a.SupabaseURL != ""
}

// Address returns host:port for the HTTP listener.
func (s *ServerSettings) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

var (
	settingsInstance *Settings
	settingsMutex    sync.RWMutex
)

// Load reads configuration into a new Settings using the global viper instance,
// which carries any flags bound by the CLI.
func Load(configFile string) (*Settings, error) {
	settings, err := LoadFrom(viper.GetViper(), configFile)
	if err != nil {
		return nil, err
	}
	settingsMutex.Lock()
	settingsInstance = settings
	settingsMutex.Unlock()
	return settings, nil
}

// LoadFrom reads configuration with v. An explicit configFile overrides the search paths;
// a missing default config file is not an error.
func LoadFrom(v *viper.Viper, configFile string) (*Settings, error) {
	if err := initViper(v, configFile); err != nil {
		return nil, fmt.Errorf("error initializing viper: %w", err)
	}

	settings := &Settings{}
	if err := v.Unmarshal(settings); err != nil {
		return nil, fmt.Errorf("error unmarshaling config into struct: %w", err)
	}

	if err := ValidateSettings(settings); err != nil {
		return nil, fmt.Errorf("error validating settings: %w", err)
	}
	return settings, nil
}

// Setting returns the most recently loaded Settings, or nil.
func Setting() *Settings {
	settingsMutex.RLock()
	defer settingsMutex.RUnlock()
	return settingsInstance
}

func initViper(v *viper.Viper, configFile string) error {
	setDefaultConfig(v)

	if err := bindEnvVars(v); err != nil {
		return err
	}

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("error reading config file %s: %w", configFile, err)
		}
		return nil
	}

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	for _, path := range defaultConfigPaths() {
		v.AddConfigPath(path)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("fatal error reading config file: %w", err)
	}
	return nil
}

func defaultConfigPaths() []string {
	paths := []string{"."}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "aves"))
	}
	return append(paths, "/etc/aves")
}
