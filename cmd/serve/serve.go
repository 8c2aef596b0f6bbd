// Package serve runs the AVES HTTP API.
package serve

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/aves-app/aves/internal/api"
	"github.com/aves-app/aves/internal/api/auth"
	"github.com/aves-app/aves/internal/buildinfo"
	"github.com/aves-app/aves/internal/conf"
	"github.com/aves-app/aves/internal/datastore"
	"github.com/aves-app/aves/internal/errors"
	"github.com/aves-app/aves/internal/exercises"
	"github.com/aves-app/aves/internal/httpclient"
	"github.com/aves-app/aves/internal/imageprovider"
	"github.com/aves-app/aves/internal/jobs"
	"github.com/aves-app/aves/internal/logger"
	"github.com/aves-app/aves/internal/observability"
	"github.com/aves-app/aves/internal/vision"
)

const (
	serviceUnsplash  = "unsplash"
	serviceAnthropic = "anthropic"
	serviceSupabase  = "supabase"
)

// Command creates the serve command.
func Command(settings *conf.Settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the AVES API server",
		Long:  "Start the HTTP API, background job store and outbound integrations.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return Run(cmd.Context(), settings)
		},
	}

	if err := setupFlags(cmd); err != nil {
		panic(err)
	}
	return cmd
}

func setupFlags(cmd *cobra.Command) error {
	cmd.Flags().String("host", viper.GetString("server.host"), "Listen address")
	cmd.Flags().Int("port", viper.GetInt("server.port"), "Listen port")
	cmd.Flags().Bool("ratelimit", viper.GetBool("server.ratelimit.enabled"), "Rate limit AI generation endpoints")

	for key, flag := range map[string]string{
		"server.host":              "host",
		"server.port":              "port",
		"server.ratelimit.enabled": "ratelimit",
	} {
		if err := viper.BindPFlag(key, cmd.Flags().Lookup(flag)); err != nil {
			return fmt.Errorf("error binding flags: %w", err)
		}
	}
	return nil
}

// Run wires every component and serves until a shutdown signal arrives.
func Run(ctx context.Context, settings *conf.Settings) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := settings.RequireDatabase(); err != nil {
		return err
	}

	if settings.Debug {
		settings.Logging.DefaultLevel = "debug"
		if settings.Logging.Console != nil {
			settings.Logging.Console.Level = "debug"
		}
	}
	central, err := logger.NewCentralLogger(&settings.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	logger.SetGlobal(central)
	defer func() { _ = central.Close() }()
	log := central.Module("serve")

	info := buildinfo.Current()
	if err := errors.InitSentry(settings.Sentry.DSN, settings.Sentry.Environment, info.GetVersion()); err != nil {
		log.Warn("sentry disabled", logger.Error(err))
	}

	metrics, err := observability.NewMetrics()
	if err != nil {
		return fmt.Errorf("failed to initialize metrics: %w", err)
	}

	ds, err := datastore.Open(ctx, &settings.Database)
	if err != nil {
		return err
	}
	defer func() {
		if err := ds.Close(); err != nil {
			log.Warn("failed to close datastore", logger.Error(err))
		}
	}()

	jobStore := jobs.NewStore(
		jobs.WithTimeout(settings.Jobs.Timeout),
		jobs.WithRetention(settings.Jobs.Retention),
		jobs.WithRecorder(metrics.Jobs),
	)
	janitorCtx, stopJanitor := context.WithCancel(ctx)
	defer stopJanitor()
	jobStore.StartJanitor(janitorCtx, settings.Jobs.JanitorInterval)

	userAgent := "aves/" + info.GetVersion()
	opts := []api.Option{
		api.WithAuth(auth.NewMiddleware(
			auth.NewService(&settings.Auth, outboundClient(metrics, serviceSupabase, userAgent, 0)),
			metrics.HTTP)),
		api.WithExercises(exercises.NewGenerator(ds, settings.Exercises.CacheTTL)),
	}

	if settings.Unsplash.AccessKey != "" {
		unsplash := imageprovider.NewUnsplashClient(&settings.Unsplash,
			outboundClient(metrics, serviceUnsplash, userAgent, settings.Unsplash.Timeout))
		opts = append(opts, api.WithCollector(imageprovider.NewCollector(unsplash, ds,
			settings.Unsplash.RequestsPerSecond, settings.Unsplash.PerPage)))
	} else {
		log.Warn("unsplash access key not set, image collection disabled")
	}

	if settings.Anthropic.APIKey != "" {
		claude := vision.NewClaudeClient(&settings.Anthropic,
			outboundClient(metrics, serviceAnthropic, userAgent, settings.Anthropic.Timeout),
			metrics.External)
		opts = append(opts, api.WithAnnotator(vision.NewAnnotator(claude, ds,
			settings.Anthropic.RequestsPerSecond, settings.Positioning.MinSamples)))
	} else {
		log.Warn("anthropic api key not set, AI annotation disabled")
	}

	server, err := api.NewServer(settings, ds, jobStore, metrics, opts...)
	if err != nil {
		return err
	}

	log.Info("starting AVES",
		logger.String("version", info.GetVersion()),
		logger.String("commit", info.GetCommit()),
		logger.String("address", settings.Server.Address()))

	serveErr := server.StartWithGracefulShutdown()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), settings.Server.ShutdownTimeout)
	defer cancel()
	if err := jobStore.Shutdown(shutdownCtx); err != nil {
		log.Warn("jobs did not stop before timeout", logger.Error(err))
	}
	return serveErr
}

func outboundClient(metrics *observability.Metrics, service, userAgent string, timeout time.Duration) *httpclient.Client {
	client := httpclient.New(&httpclient.Config{
		DefaultTimeout: timeout,
		UserAgent:      userAgent,
	})
	metrics.External.Instrument(service, client)
	return client
}
