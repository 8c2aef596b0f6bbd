package datastore

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/aves-app/aves/internal/errors"
	"github.com/aves-app/aves/internal/positioning"
)

const positioningColumns = `species_id, feature_type, avg_delta_x, avg_delta_y, avg_delta_width,
	avg_delta_height, sample_count, updated_at`

func scanModel(row pgx.Row) (positioning.Model, error) {
	var m positioning.Model
	err := row.Scan(&m.SpeciesID, &m.FeatureType, &m.AvgDelta.X, &m.AvgDelta.Y,
		&m.AvgDelta.Width, &m.AvgDelta.Height, &m.SampleCount, &m.UpdatedAt)
	return m, err
}

// CorrectionSamples returns every recorded box correction.
func (s *Store) CorrectionSamples(ctx context.Context) ([]positioning.Sample, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT species_id, feature_type, delta_x, delta_y, delta_width, delta_height
		FROM ai_annotation_reviews
		WHERE action = 'edit' AND delta_x IS NOT NULL AND species_id IS NOT NULL`)
	if err != nil {
		return nil, dbError(err, "correction_samples", errors.PriorityMedium)
	}
	samples, err := scanAll(rows, func(r pgx.Rows) (positioning.Sample, error) {
		var sm positioning.Sample
		err := r.Scan(&sm.SpeciesID, &sm.FeatureType, &sm.Delta.X, &sm.Delta.Y, &sm.Delta.Width, &sm.Delta.Height)
		return sm, err
	})
	if err != nil {
		return nil, dbError(err, "scan_correction_samples", errors.PriorityMedium)
	}
	return samples, nil
}

// ReplaceModels swaps the stored positioning models for models in one transaction.
func (s *Store) ReplaceModels(ctx context.Context, models []positioning.Model) error {
	return s.withTx(ctx, "replace_positioning_models", func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM positioning_model`); err != nil {
			return dbError(err, "clear_positioning_models", errors.PriorityMedium)
		}

		batch := &pgx.Batch{}
		for _, m := range models {
			batch.Queue(`
				INSERT INTO positioning_model (species_id, feature_type, avg_delta_x, avg_delta_y,
					avg_delta_width, avg_delta_height, sample_count, updated_at)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
				m.SpeciesID, m.FeatureType, m.AvgDelta.X, m.AvgDelta.Y,
				m.AvgDelta.Width, m.AvgDelta.Height, m.SampleCount, m.UpdatedAt)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return dbError(err, "insert_positioning_models", errors.PriorityMedium, "models", len(models))
		}
		return nil
	})
}

// PositioningModels returns all stored models.
func (s *Store) PositioningModels(ctx context.Context) ([]positioning.Model, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+positioningColumns+` FROM positioning_model ORDER BY species_id, feature_type`)
	if err != nil {
		return nil, dbError(err, "positioning_models", errors.PriorityMedium)
	}
	models, err := scanAll(rows, func(r pgx.Rows) (positioning.Model, error) { return scanModel(r) })
	if err != nil {
		return nil, dbError(err, "scan_positioning_models", errors.PriorityMedium)
	}
	return models, nil
}

// PositioningModelsForSpecies returns the models for one species.
func (s *Store) PositioningModelsForSpecies(ctx context.Context, speciesID string) ([]positioning.Model, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+positioningColumns+` FROM positioning_model WHERE species_id = $1 ORDER BY feature_type`, speciesID)
	if err != nil {
		return nil, dbError(err, "positioning_models_for_species", errors.PriorityMedium, "species_id", speciesID)
	}
	models, err := scanAll(rows, func(r pgx.Rows) (positioning.Model, error) { return scanModel(r) })
	if err != nil {
		return nil, dbError(err, "scan_positioning_models", errors.PriorityMedium)
	}
	return models, nil
}
