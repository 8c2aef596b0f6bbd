package datastore

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/aves-app/aves/internal/errors"
	"github.com/aves-app/aves/internal/positioning"
)

const itemColumns = `it.id, it.ai_annotation_id, it.image_id, COALESCE(it.species_id::text, ''),
	it.spanish_term, it.english_term, COALESCE(it.pronunciation, ''), it.annotation_type,
	it.bounding_box, it.original_box, it.difficulty_level, it.confidence, it.status,
	COALESCE(it.approved_annotation_id::text, ''), it.created_at, it.updated_at,
	i.url, COALESCE(s.english_name, '')`

const itemFrom = ` FROM ai_annotation_items it
	JOIN images i ON i.id = it.image_id
	LEFT JOIN species s ON s.id = it.species_id`

func scanItem(row pgx.Row) (AIAnnotationItem, error) {
	var it AIAnnotationItem
	err := row.Scan(&it.ID, &it.AIAnnotationID, &it.ImageID, &it.SpeciesID,
		&it.SpanishTerm, &it.EnglishTerm, &it.Pronunciation, &it.AnnotationType,
		&it.BoundingBox, &it.OriginalBox, &it.DifficultyLevel, &it.Confidence, &it.Status,
		&it.ApprovedAnnotationID, &it.CreatedAt, &it.UpdatedAt,
		&it.ImageURL, &it.SpeciesName)
	return it, err
}

// CreateAIAnnotation stores ann and its items in one transaction. Items inherit the
// image and its species.
func (s *Store) CreateAIAnnotation(ctx context.Context, ann *AIAnnotation) error {
	return s.withTx(ctx, "create_ai_annotation", func(tx pgx.Tx) error {
		var speciesID string
		err := tx.QueryRow(ctx, `SELECT species_id FROM images WHERE id = $1`, ann.ImageID).Scan(&speciesID)
		if errors.Is(err, pgx.ErrNoRows) {
			return notFound("image", ann.ImageID)
		}
		if err != nil {
			return dbError(err, "lookup_image_species", errors.PriorityMedium, "image_id", ann.ImageID)
		}

		if ann.Status == "" {
			ann.Status = AIStatusPending
		}
		err = tx.QueryRow(ctx, `
			INSERT INTO ai_annotations (image_id, job_id, status, model, confidence, created_at)
			VALUES ($1, NULLIF($2, ''), $3, $4, $5, now())
			RETURNING id, created_at`,
			ann.ImageID, ann.JobID, ann.Status, ann.Model, ann.Confidence,
		).Scan(&ann.ID, &ann.CreatedAt)
		if err != nil {
			return dbError(err, "insert_ai_annotation", errors.PriorityMedium, "image_id", ann.ImageID)
		}

		for i := range ann.Items {
			it := &ann.Items[i]
			it.AIAnnotationID = ann.ID
			it.ImageID = ann.ImageID
			it.SpeciesID = speciesID
			it.Status = ItemStatusPending
			err := tx.QueryRow(ctx, `
				INSERT INTO ai_annotation_items (ai_annotation_id, image_id, species_id, spanish_term,
					english_term, pronunciation, annotation_type, bounding_box, original_box,
					difficulty_level, confidence, status, created_at, updated_at)
				VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7, $8, $9, $10, $11, $12, now(), now())
				RETURNING id, created_at, updated_at`,
				it.AIAnnotationID, it.ImageID, it.SpeciesID, it.SpanishTerm, it.EnglishTerm,
				it.Pronunciation, it.AnnotationType, it.BoundingBox, it.OriginalBox,
				it.DifficultyLevel, it.Confidence, it.Status,
			).Scan(&it.ID, &it.CreatedAt, &it.UpdatedAt)
			if err != nil {
				return dbError(err, "insert_ai_annotation_item", errors.PriorityMedium, "ai_annotation_id", ann.ID)
			}
		}
		return nil
	})
}

// ListPendingItems returns a page of items awaiting review, oldest first.
func (s *Store) ListPendingItems(ctx context.Context, page Page) ([]AIAnnotationItem, int, error) {
	c := &conditions{}
	c.add(`it.status = ?`, ItemStatusPending)

	var total int
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM ai_annotation_items it`+c.where(), c.args...).Scan(&total); err != nil {
		return nil, 0, dbError(err, "count_pending_items", errors.PriorityMedium)
	}

	suffix, args := c.paged(page)
	rows, err := s.pool.Query(ctx,
		`SELECT `+itemColumns+itemFrom+c.where()+` ORDER BY it.created_at, it.id`+suffix, args...)
	if err != nil {
		return nil, 0, dbError(err, "list_pending_items", errors.PriorityMedium)
	}
	list, err := scanAll(rows, func(r pgx.Rows) (AIAnnotationItem, error) { return scanItem(r) })
	if err != nil {
		return nil, 0, dbError(err, "scan_items", errors.PriorityMedium)
	}
	return list, total, nil
}

// GetAIItem returns one AI annotation item.
func (s *Store) GetAIItem(ctx context.Context, id string) (*AIAnnotationItem, error) {
	it, err := scanItem(s.pool.QueryRow(ctx, `SELECT `+itemColumns+itemFrom+` WHERE it.id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, notFound("ai annotation item", id)
	}
	if err != nil {
		return nil, dbError(err, "get_ai_item", errors.PriorityMedium, "item_id", id)
	}
	return &it, nil
}

// lockPendingItem loads an item FOR UPDATE and requires it to be pending.
func lockPendingItem(ctx context.Context, tx pgx.Tx, id string) (*AIAnnotationItem, error) {
	it, err := scanItem(tx.QueryRow(ctx, `SELECT `+itemColumns+itemFrom+` WHERE it.id = $1 FOR UPDATE OF it`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, notFound("ai annotation item", id)
	}
	if err != nil {
		return nil, dbError(err, "lock_ai_item", errors.PriorityMedium, "item_id", id)
	}
	if it.Status != ItemStatusPending {
		return nil, conflict("ai annotation item %s is already %s", id, it.Status)
	}
	return &it, nil
}

// ApproveItem turns a pending item into an annotation.
func (s *Store) ApproveItem(ctx context.Context, itemID, reviewerID string) (*Annotation, error) {
	var created *Annotation
	err := s.withTx(ctx, "approve_ai_item", func(tx pgx.Tx) error {
		it, err := lockPendingItem(ctx, tx, itemID)
		if err != nil {
			return err
		}
		created, err = approveLocked(ctx, tx, it, reviewerID, ReviewApprove)
		return err
	})
	if err != nil {
		return nil, err
	}
	return s.GetAnnotation(ctx, created.ID)
}

// EditItem applies reviewer corrections to a pending item and approves it. A box
// correction is recorded as a delta sample for the positioning model.
func (s *Store) EditItem(ctx context.Context, itemID, reviewerID string, edit ItemEdit) (*Annotation, error) {
	var created *Annotation
	err := s.withTx(ctx, "edit_ai_item", func(tx pgx.Tx) error {
		it, err := lockPendingItem(ctx, tx, itemID)
		if err != nil {
			return err
		}

		baseline := correctionBaseline(it)
		applyEdit(it, edit)

		created, err = approveLocked(ctx, tx, it, reviewerID, ReviewEdit)
		if err != nil {
			return err
		}

		var delta *positioning.BoxDelta
		if edit.BoundingBox != nil {
			d := positioning.Delta(baseline, *edit.BoundingBox)
			delta = &d
			if _, err := tx.Exec(ctx,
				`UPDATE ai_annotation_items SET original_box = COALESCE(original_box, $2), bounding_box = $3
				WHERE id = $1`,
				it.ID, baseline, it.BoundingBox); err != nil {
				return dbError(err, "store_item_boxes", errors.PriorityMedium, "item_id", it.ID)
			}
			if it.OriginalBox == nil {
				it.OriginalBox = &baseline
			}
		}
		return insertReview(ctx, tx, it, reviewerID, ReviewEdit, Rejection{}, &baseline, delta)
	})
	if err != nil {
		return nil, err
	}
	return s.GetAnnotation(ctx, created.ID)
}

// correctionBaseline returns the raw AI box, before any positioning correction.
// Edit deltas are always measured against it.
func correctionBaseline(it *AIAnnotationItem) positioning.Box {
	if it.OriginalBox != nil {
		return *it.OriginalBox
	}
	return it.BoundingBox
}

func applyEdit(it *AIAnnotationItem, edit ItemEdit) {
	if edit.SpanishTerm != nil {
		it.SpanishTerm = *edit.SpanishTerm
	}
	if edit.EnglishTerm != nil {
		it.EnglishTerm = *edit.EnglishTerm
	}
	if edit.Pronunciation != nil {
		it.Pronunciation = *edit.Pronunciation
	}
	if edit.AnnotationType != nil {
		it.AnnotationType = *edit.AnnotationType
	}
	if edit.DifficultyLevel != nil {
		it.DifficultyLevel = *edit.DifficultyLevel
	}
	if edit.BoundingBox != nil {
		it.BoundingBox = *edit.BoundingBox
	}
}

// approveLocked inserts the annotation for a locked item and marks the item reviewed.
// Plain approvals also write their audit row here.
func approveLocked(ctx context.Context, tx pgx.Tx, it *AIAnnotationItem, reviewerID, action string) (*Annotation, error) {
	a := &Annotation{
		ImageID:         it.ImageID,
		BoundingBox:     it.BoundingBox,
		AnnotationType:  it.AnnotationType,
		SpanishTerm:     it.SpanishTerm,
		EnglishTerm:     it.EnglishTerm,
		Pronunciation:   it.Pronunciation,
		DifficultyLevel: it.DifficultyLevel,
		IsVisible:       true,
	}
	if err := insertAnnotation(ctx, tx, a); err != nil {
		return nil, err
	}

	status := ItemStatusApproved
	if action == ReviewEdit {
		status = ItemStatusEdited
	}
	if _, err := tx.Exec(ctx, `
		UPDATE ai_annotation_items SET status = $2, approved_annotation_id = $3,
			spanish_term = $4, english_term = $5, pronunciation = NULLIF($6, ''),
			annotation_type = $7, difficulty_level = $8, updated_at = now()
		WHERE id = $1`,
		it.ID, status, a.ID, it.SpanishTerm, it.EnglishTerm, it.Pronunciation,
		it.AnnotationType, it.DifficultyLevel); err != nil {
		return nil, dbError(err, "mark_item_approved", errors.PriorityMedium, "item_id", it.ID)
	}
	it.Status = status
	it.ApprovedAnnotationID = a.ID

	if action != ReviewEdit {
		if err := insertReview(ctx, tx, it, reviewerID, action, Rejection{}, nil, nil); err != nil {
			return nil, err
		}
	}
	if err := refreshParentStatus(ctx, tx, it.AIAnnotationID, reviewerID); err != nil {
		return nil, err
	}
	return a, nil
}

// RejectItem marks a pending item rejected.
func (s *Store) RejectItem(ctx context.Context, itemID, reviewerID string, rejection Rejection) error {
	return s.withTx(ctx, "reject_ai_item", func(tx pgx.Tx) error {
		it, err := lockPendingItem(ctx, tx, itemID)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(ctx,
			`UPDATE ai_annotation_items SET status = $2, updated_at = now() WHERE id = $1`,
			it.ID, ItemStatusRejected); err != nil {
			return dbError(err, "mark_item_rejected", errors.PriorityMedium, "item_id", it.ID)
		}
		if err := insertReview(ctx, tx, it, reviewerID, ReviewReject, rejection, nil, nil); err != nil {
			return err
		}
		return refreshParentStatus(ctx, tx, it.AIAnnotationID, reviewerID)
	})
}

// BulkApprove approves every pending item in ids in one transaction. Items that are
// missing or already reviewed are reported in Skipped rather than failing the batch.
func (s *Store) BulkApprove(ctx context.Context, ids []string, reviewerID string) (*BulkResult, error) {
	result := &BulkResult{Approved: []string{}, Skipped: map[string]string{}}
	err := s.withTx(ctx, "bulk_approve_ai_items", func(tx pgx.Tx) error {
		for _, id := range uniqueIDs(ids) {
			it, err := lockPendingItem(ctx, tx, id)
			switch {
			case errors.IsNotFound(err):
				result.Skipped[id] = "not found"
				continue
			case errors.IsCategory(err, errors.CategoryConflict):
				result.Skipped[id] = "already reviewed"
				continue
			case err != nil:
				return err
			}
			if _, err := approveLocked(ctx, tx, it, reviewerID, ReviewBulkApprove); err != nil {
				return err
			}
			result.Approved = append(result.Approved, id)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// uniqueIDs drops repeated ids, keeping first-seen order.
func uniqueIDs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func insertReview(ctx context.Context, tx pgx.Tx, it *AIAnnotationItem, reviewerID, action string,
	rejection Rejection, original *positioning.Box, delta *positioning.BoxDelta) error {
	var corrected *positioning.Box
	var dx, dy, dw, dh *float64
	if delta != nil {
		box := it.BoundingBox
		corrected = &box
		dx, dy, dw, dh = &delta.X, &delta.Y, &delta.Width, &delta.Height
	}

	_, err := tx.Exec(ctx, `
		INSERT INTO ai_annotation_reviews (item_id, action, reviewer_id, reason, category,
			original_box, corrected_box, delta_x, delta_y, delta_width, delta_height,
			species_id, feature_type, created_at)
		VALUES ($1, $2, $3, NULLIF($4, ''), NULLIF($5, ''), $6, $7, $8, $9, $10, $11, $12, $13, now())`,
		it.ID, action, reviewerID, rejection.Reason, rejection.Category,
		original, corrected, dx, dy, dw, dh,
		nullUUID(it.SpeciesID), positioning.FeatureKey(it.EnglishTerm))
	if err != nil {
		return dbError(err, "insert_review", errors.PriorityMedium, "item_id", it.ID, "action", action)
	}
	return nil
}

// refreshParentStatus derives the AI annotation status from its items: pending while
// any item is pending, otherwise approved, rejected or partial.
func refreshParentStatus(ctx context.Context, tx pgx.Tx, annotationID, reviewerID string) error {
	_, err := tx.Exec(ctx, `
		WITH counts AS (
			SELECT count(*) FILTER (WHERE status = 'pending') AS pending,
			       count(*) FILTER (WHERE status = 'rejected') AS rejected,
			       count(*) AS total
			FROM ai_annotation_items WHERE ai_annotation_id = $1
		)
		UPDATE ai_annotations SET
			status = CASE
				WHEN counts.pending > 0 THEN 'pending'
				WHEN counts.rejected = counts.total THEN 'rejected'
				WHEN counts.rejected = 0 THEN 'approved'
				ELSE 'partial'
			END,
			reviewed_at = CASE WHEN counts.pending = 0 THEN now() ELSE reviewed_at END,
			reviewed_by = CASE WHEN counts.pending = 0 THEN $2 ELSE reviewed_by END
		FROM counts
		WHERE id = $1`, annotationID, reviewerID)
	if err != nil {
		return dbError(err, "refresh_ai_annotation_status", errors.PriorityMedium, "ai_annotation_id", annotationID)
	}
	return nil
}

// AIStats summarises items and reviews.
func (s *Store) AIStats(ctx context.Context) (*AIStats, error) {
	stats := &AIStats{ItemsByStatus: map[string]int{}, ReviewsByAction: map[string]int{}}

	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM ai_annotations`).Scan(&stats.TotalAnnotations); err != nil {
		return nil, dbError(err, "count_ai_annotations", errors.PriorityMedium)
	}

	if err := s.countInto(ctx, stats.ItemsByStatus,
		`SELECT status, count(*) FROM ai_annotation_items GROUP BY status`); err != nil {
		return nil, err
	}
	if err := s.countInto(ctx, stats.ReviewsByAction,
		`SELECT action, count(*) FROM ai_annotation_reviews GROUP BY action`); err != nil {
		return nil, err
	}

	if err := s.pool.QueryRow(ctx,
		`SELECT COALESCE(avg(confidence), 0) FROM ai_annotation_items`).Scan(&stats.AvgConfidence); err != nil {
		return nil, dbError(err, "avg_item_confidence", errors.PriorityMedium)
	}

	accepted := stats.ItemsByStatus[ItemStatusApproved] + stats.ItemsByStatus[ItemStatusEdited]
	if reviewed := accepted + stats.ItemsByStatus[ItemStatusRejected]; reviewed > 0 {
		stats.ApprovalRate = float64(accepted) / float64(reviewed)
	}
	return stats, nil
}

func (s *Store) countInto(ctx context.Context, dst map[string]int, query string) error {
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return dbError(err, "group_count", errors.PriorityMedium)
	}
	defer rows.Close()
	for rows.Next() {
		var key string
		var n int
		if err := rows.Scan(&key, &n); err != nil {
			return dbError(err, "scan_group_count", errors.PriorityMedium)
		}
		dst[key] = n
	}
	if err := rows.Err(); err != nil {
		return dbError(err, "group_count", errors.PriorityMedium)
	}
	return nil
}

func nullUUID(id string) *string {
	if id == "" {
		return nil
	}
	return &id
}
