package datastore

import (
	"context"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/aves-app/aves/internal/datastore/entities"
	"github.com/aves-app/aves/internal/errors"
	"github.com/aves-app/aves/internal/logger"
)

const slowMigrationThreshold = 2 * time.Second

// Migrate creates or updates the schema with GORM AutoMigrate.
func Migrate(ctx context.Context, dsn string) error {
	log := logger.Global().Module("datastore").Module("migrate")

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.NewGormLoggerAdapter(log, slowMigrationThreshold),
	})
	if err != nil {
		return dbError(err, "migrate_connect", errors.PriorityCritical)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return dbError(err, "migrate_connect", errors.PriorityCritical)
	}
	defer func() {
		if closeErr := sqlDB.Close(); closeErr != nil {
			log.Warn("failed to close migration connection", logger.Error(closeErr))
		}
	}()

	// gen_random_uuid is built in from PostgreSQL 13; older servers need pgcrypto.
	if err := db.WithContext(ctx).Exec(`CREATE EXTENSION IF NOT EXISTS pgcrypto`).Error; err != nil {
		log.Warn("could not ensure pgcrypto extension", logger.Error(err))
	}

	start := time.Now()
	models := entities.All()
	if err := db.WithContext(ctx).AutoMigrate(models...); err != nil {
		return dbError(err, "auto_migrate", errors.PriorityCritical)
	}

	log.Info("schema migrated",
		logger.Int("tables", len(models)),
		logger.Duration("elapsed", time.Since(start)))
	return nil
}
