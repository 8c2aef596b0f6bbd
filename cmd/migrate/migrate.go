// Package migrate applies the database schema.
package migrate

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/aves-app/aves/internal/conf"
	"github.com/aves-app/aves/internal/datastore"
	"github.com/aves-app/aves/internal/logger"
)

// Command creates the migrate command.
func Command(settings *conf.Settings) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := settings.RequireDatabase(); err != nil {
				return err
			}
			start := time.Now()
			if err := datastore.Migrate(cmd.Context(), settings.Database.URL); err != nil {
				return err
			}
			logger.Global().Module("migrate").Info("migration complete",
				logger.Duration("elapsed", time.Since(start)))
			return nil
		},
	}
}
