package datastore

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/aves-app/aves/internal/errors"
	"github.com/aves-app/aves/internal/srs"
)

// VocabularyTerms returns a page of distinct terms from visible annotations,
// most frequent first.
func (s *Store) VocabularyTerms(ctx context.Context, annotationType string, page Page) ([]VocabularyTerm, int, error) {
	c := &conditions{}
	c.add(`a.is_visible`)
	if annotationType != "" {
		c.add(`a.annotation_type = ?`, annotationType)
	}

	var total int
	if err := s.pool.QueryRow(ctx,
		`SELECT count(DISTINCT a.spanish_term) FROM annotations a`+c.where(), c.args...).Scan(&total); err != nil {
		return nil, 0, dbError(err, "count_terms", errors.PriorityMedium)
	}

	suffix, args := c.paged(page)
	rows, err := s.pool.Query(ctx, `
		SELECT a.spanish_term, min(a.english_term), COALESCE(min(a.pronunciation), ''),
			min(a.annotation_type), min(a.difficulty_level), count(*)
		FROM annotations a`+c.where()+`
		GROUP BY a.spanish_term
		ORDER BY count(*) DESC, a.spanish_term`+suffix, args...)
	if err != nil {
		return nil, 0, dbError(err, "list_terms", errors.PriorityMedium)
	}
	terms, err := scanAll(rows, func(r pgx.Rows) (VocabularyTerm, error) {
		var t VocabularyTerm
		err := r.Scan(&t.SpanishTerm, &t.EnglishTerm, &t.Pronunciation, &t.AnnotationType,
			&t.DifficultyLevel, &t.Occurrences)
		return t, err
	})
	if err != nil {
		return nil, 0, dbError(err, "scan_terms", errors.PriorityMedium)
	}
	return terms, total, nil
}

// RecordInteraction counts one exposure of term for user and recomputes mastery.
func (s *Store) RecordInteraction(ctx context.Context, userID, term string, correct bool) (*Mastery, error) {
	var m Mastery
	err := s.withTx(ctx, "record_interaction", func(tx pgx.Tx) error {
		correctInc := 0
		if correct {
			correctInc = 1
		}
		err := tx.QueryRow(ctx, `
			INSERT INTO vocabulary_mastery (user_id, term, exposures, correct_count, mastery_level, last_seen_at)
			VALUES ($1, $2, 1, $3, 0, now())
			ON CONFLICT (user_id, term) DO UPDATE SET
				exposures = vocabulary_mastery.exposures + 1,
				correct_count = vocabulary_mastery.correct_count + EXCLUDED.correct_count,
				last_seen_at = now()
			RETURNING user_id, term, exposures, correct_count, last_seen_at`,
			userID, term, correctInc,
		).Scan(&m.UserID, &m.Term, &m.Exposures, &m.CorrectCount, &m.LastSeenAt)
		if err != nil {
			return dbError(err, "upsert_mastery", errors.PriorityMedium, "term", term)
		}

		m.MasteryLevel = srs.MasteryLevel(m.Exposures, m.CorrectCount)
		if _, err := tx.Exec(ctx,
			`UPDATE vocabulary_mastery SET mastery_level = $3 WHERE user_id = $1 AND term = $2`,
			userID, term, m.MasteryLevel); err != nil {
			return dbError(err, "update_mastery_level", errors.PriorityMedium, "term", term)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// Mastery returns all mastery rows of a user, weakest first.
func (s *Store) Mastery(ctx context.Context, userID string) ([]Mastery, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT user_id, term, exposures, correct_count, mastery_level, last_seen_at
		FROM vocabulary_mastery WHERE user_id = $1
		ORDER BY mastery_level, term`, userID)
	if err != nil {
		return nil, dbError(err, "list_mastery", errors.PriorityMedium)
	}
	list, err := scanAll(rows, func(r pgx.Rows) (Mastery, error) {
		var m Mastery
		err := r.Scan(&m.UserID, &m.Term, &m.Exposures, &m.CorrectCount, &m.MasteryLevel, &m.LastSeenAt)
		return m, err
	})
	if err != nil {
		return nil, dbError(err, "scan_mastery", errors.PriorityMedium)
	}
	return list, nil
}

const srsColumns = `user_id, term, ease_factor, interval_days, repetitions, last_quality,
	next_review_at, last_reviewed_at`

func scanProgress(row pgx.Row) (SRSProgress, error) {
	var p SRSProgress
	err := row.Scan(&p.UserID, &p.Term, &p.EaseFactor, &p.IntervalDays, &p.Repetitions,
		&p.LastQuality, &p.NextReviewAt, &p.LastReviewedAt)
	return p, err
}

// SRSProgress returns the schedule for user and term, or a not-found error.
func (s *Store) SRSProgress(ctx context.Context, userID, term string) (*SRSProgress, error) {
	p, err := scanProgress(s.pool.QueryRow(ctx,
		`SELECT `+srsColumns+` FROM srs_progress WHERE user_id = $1 AND term = $2`, userID, term))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, notFound("srs progress", term)
	}
	if err != nil {
		return nil, dbError(err, "get_srs_progress", errors.PriorityMedium, "term", term)
	}
	return &p, nil
}

// SaveSRSProgress inserts or replaces the schedule for p.UserID and p.Term.
func (s *Store) SaveSRSProgress(ctx context.Context, p *SRSProgress) error {
	return saveProgress(ctx, s.pool, p)
}

// ReviewSRS loads the schedule for user and term under a row lock, passes it to
// apply (nil when the term was never reviewed) and stores the result in the same
// transaction. Concurrent reviews of one term are applied one after another.
func (s *Store) ReviewSRS(ctx context.Context, userID, term string,
	apply func(current *SRSProgress) (*SRSProgress, error),
) (*SRSProgress, error) {
	var next *SRSProgress
	err := s.withTx(ctx, "review_srs", func(tx pgx.Tx) error {
		// A term reviewed for the first time has no row to lock yet.
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1 || ':' || $2))`,
			userID, term); err != nil {
			return dbError(err, "lock_srs_progress", errors.PriorityMedium, "term", term)
		}

		var current *SRSProgress
		p, err := scanProgress(tx.QueryRow(ctx,
			`SELECT `+srsColumns+` FROM srs_progress WHERE user_id = $1 AND term = $2 FOR UPDATE`,
			userID, term))
		switch {
		case err == nil:
			current = &p
		case !errors.Is(err, pgx.ErrNoRows):
			return dbError(err, "get_srs_progress", errors.PriorityMedium, "term", term)
		}

		next, err = apply(current)
		if err != nil {
			return err
		}
		return saveProgress(ctx, tx, next)
	})
	if err != nil {
		return nil, err
	}
	return next, nil
}

func saveProgress(ctx context.Context, q querier, p *SRSProgress) error {
	_, err := q.Exec(ctx, `
		INSERT INTO srs_progress (`+srsColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (user_id, term) DO UPDATE SET
			ease_factor = EXCLUDED.ease_factor,
			interval_days = EXCLUDED.interval_days,
			repetitions = EXCLUDED.repetitions,
			last_quality = EXCLUDED.last_quality,
			next_review_at = EXCLUDED.next_review_at,
			last_reviewed_at = EXCLUDED.last_reviewed_at`,
		p.UserID, p.Term, p.EaseFactor, p.IntervalDays, p.Repetitions, p.LastQuality,
		p.NextReviewAt, p.LastReviewedAt)
	if err != nil {
		return dbError(err, "save_srs_progress", errors.PriorityMedium, "term", p.Term)
	}
	return nil
}

// DueReviews returns up to limit terms due at now, most overdue first.
func (s *Store) DueReviews(ctx context.Context, userID string, now time.Time, limit int) ([]SRSProgress, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.pool.Query(ctx, `SELECT `+srsColumns+` FROM srs_progress
		WHERE user_id = $1 AND next_review_at <= $2
		ORDER BY next_review_at, term
		LIMIT $3`, userID, now, limit)
	if err != nil {
		return nil, dbError(err, "due_reviews", errors.PriorityMedium)
	}
	list, err := scanAll(rows, func(r pgx.Rows) (SRSProgress, error) { return scanProgress(r) })
	if err != nil {
		return nil, dbError(err, "scan_due_reviews", errors.PriorityMedium)
	}
	return list, nil
}

// matureIntervalDays is the interval from which a term counts as learned.
const matureIntervalDays = 21

// SRSStats summarises a user's schedule at now.
func (s *Store) SRSStats(ctx context.Context, userID string, now time.Time) (*SRSStats, error) {
	stats := &SRSStats{MatureInterval: matureIntervalDays}
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	err := s.pool.QueryRow(ctx, `
		SELECT count(*),
			count(*) FILTER (WHERE next_review_at <= $2),
			count(*) FILTER (WHERE interval_days < $3),
			count(*) FILTER (WHERE interval_days >= $3),
			COALESCE(avg(ease_factor), 0),
			count(*) FILTER (WHERE last_reviewed_at >= $4)
		FROM srs_progress WHERE user_id = $1`,
		userID, now, matureIntervalDays, dayStart,
	).Scan(&stats.TotalTerms, &stats.DueNow, &stats.Learning, &stats.Mature, &stats.AvgEaseFactor, &stats.ReviewedToday)
	if err != nil {
		return nil, dbError(err, "srs_stats", errors.PriorityMedium)
	}
	return stats, nil
}
