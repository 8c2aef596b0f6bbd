package datastore

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"golang.org/x/sync/errgroup"

	"github.com/aves-app/aves/internal/errors"
)

// GetCachedExercise returns the payload stored under key if it has not expired at now,
// incrementing its hit count. A miss returns nil without error.
func (s *Store) GetCachedExercise(ctx context.Context, key string, now time.Time) (*CachedExercise, error) {
	var ce CachedExercise
	err := s.pool.QueryRow(ctx, `
		UPDATE exercise_cache SET hit_count = hit_count + 1
		WHERE cache_key = $1 AND expires_at > $2
		RETURNING cache_key, exercise_type, payload, hit_count, expires_at`,
		key, now,
	).Scan(&ce.Key, &ce.ExerciseType, &ce.Payload, &ce.HitCount, &ce.ExpiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, dbError(err, "get_cached_exercise", errors.PriorityLow, "cache_key", key)
	}
	return &ce, nil
}

// PutCachedExercise stores payload under key until now plus ttl, replacing any previous entry.
func (s *Store) PutCachedExercise(ctx context.Context, key, exerciseType string, payload []byte, now time.Time, ttl time.Duration) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO exercise_cache (cache_key, exercise_type, payload, hit_count, expires_at, created_at)
		VALUES ($1, $2, $3, 0, $4, $5)
		ON CONFLICT (cache_key) DO UPDATE SET
			exercise_type = EXCLUDED.exercise_type,
			payload = EXCLUDED.payload,
			hit_count = 0,
			expires_at = EXCLUDED.expires_at,
			created_at = EXCLUDED.created_at`,
		key, exerciseType, string(payload), now.Add(ttl), now)
	if err != nil {
		return dbError(err, "put_cached_exercise", errors.PriorityLow, "cache_key", key)
	}
	return nil
}

// PurgeExpiredExercises deletes cache rows expired at now and returns how many were removed.
func (s *Store) PurgeExpiredExercises(ctx context.Context, now time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM exercise_cache WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, dbError(err, "purge_exercise_cache", errors.PriorityLow)
	}
	return tag.RowsAffected(), nil
}

// DashboardCounts runs the admin dashboard counts concurrently.
func (s *Store) DashboardCounts(ctx context.Context) (*DashboardCounts, error) {
	counts := &DashboardCounts{}
	queries := []struct {
		dst *int
		sql string
	}{
		{&counts.Species, `SELECT count(*) FROM species`},
		{&counts.Images, `SELECT count(*) FROM images`},
		{&counts.Annotations, `SELECT count(*) FROM annotations`},
		{&counts.PendingReviewItems, `SELECT count(*) FROM ai_annotation_items WHERE status = 'pending'`},
		{&counts.Users, `SELECT count(DISTINCT user_id) FROM (
			SELECT user_id FROM vocabulary_mastery UNION SELECT user_id FROM srs_progress) u`},
		{&counts.CachedExercises, `SELECT count(*) FROM exercise_cache WHERE expires_at > now()`},
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, q := range queries {
		g.Go(func() error {
			if err := s.pool.QueryRow(gctx, q.sql).Scan(q.dst); err != nil {
				return dbError(err, "dashboard_count", errors.PriorityLow)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return counts, nil
}
