package datastore

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/aves-app/aves/internal/errors"
)

const annotationColumns = `a.id, a.image_id, a.bounding_box, a.annotation_type, a.spanish_term, a.english_term,
	COALESCE(a.pronunciation, ''), a.difficulty_level, a.is_visible, a.created_at, a.updated_at,
	i.url, i.species_id, s.english_name`

const annotationFrom = ` FROM annotations a
	JOIN images i ON i.id = a.image_id
	JOIN species s ON s.id = i.species_id`

func scanAnnotation(row pgx.Row) (Annotation, error) {
	var a Annotation
	img := &AnnotationImage{}
	err := row.Scan(&a.ID, &a.ImageID, &a.BoundingBox, &a.AnnotationType, &a.SpanishTerm, &a.EnglishTerm,
		&a.Pronunciation, &a.DifficultyLevel, &a.IsVisible, &a.CreatedAt, &a.UpdatedAt,
		&img.URL, &img.SpeciesID, &img.SpeciesName)
	a.Image = img
	return a, err
}

func annotationConditions(f AnnotationFilter) *conditions {
	c := &conditions{}
	if f.ImageID != "" {
		c.add(`a.image_id = ?`, f.ImageID)
	}
	if f.SpeciesID != "" {
		c.add(`i.species_id = ?`, f.SpeciesID)
	}
	if f.AnnotationType != "" {
		c.add(`a.annotation_type = ?`, f.AnnotationType)
	}
	if f.DifficultyLevel > 0 {
		c.add(`a.difficulty_level = ?`, f.DifficultyLevel)
	}
	if f.VisibleOnly {
		c.add(`a.is_visible`)
	}
	return c
}

// ListAnnotations returns a page of annotations and the total match count.
func (s *Store) ListAnnotations(ctx context.Context, filter AnnotationFilter, page Page) ([]Annotation, int, error) {
	c := annotationConditions(filter)

	var total int
	if err := s.pool.QueryRow(ctx, `SELECT count(*)`+annotationFrom+c.where(), c.args...).Scan(&total); err != nil {
		return nil, 0, dbError(err, "count_annotations", errors.PriorityMedium)
	}

	suffix, args := c.paged(page)
	rows, err := s.pool.Query(ctx,
		`SELECT `+annotationColumns+annotationFrom+c.where()+` ORDER BY a.created_at DESC, a.id`+suffix, args...)
	if err != nil {
		return nil, 0, dbError(err, "list_annotations", errors.PriorityMedium)
	}
	list, err := scanAll(rows, func(r pgx.Rows) (Annotation, error) { return scanAnnotation(r) })
	if err != nil {
		return nil, 0, dbError(err, "scan_annotations", errors.PriorityMedium)
	}
	return list, total, nil
}

// VisibleAnnotations returns every visible annotation matching filter, for exercise generation.
func (s *Store) VisibleAnnotations(ctx context.Context, filter AnnotationFilter) ([]Annotation, error) {
	filter.VisibleOnly = true
	c := annotationConditions(filter)
	rows, err := s.pool.Query(ctx, `SELECT `+annotationColumns+annotationFrom+c.where()+` ORDER BY a.id`, c.args...)
	if err != nil {
		return nil, dbError(err, "visible_annotations", errors.PriorityMedium)
	}
	list, err := scanAll(rows, func(r pgx.Rows) (Annotation, error) { return scanAnnotation(r) })
	if err != nil {
		return nil, dbError(err, "scan_annotations", errors.PriorityMedium)
	}
	return list, nil
}

// GetAnnotation returns one annotation.
func (s *Store) GetAnnotation(ctx context.Context, id string) (*Annotation, error) {
	return getAnnotation(ctx, s.pool, id)
}

func getAnnotation(ctx context.Context, q querier, id string) (*Annotation, error) {
	a, err := scanAnnotation(q.QueryRow(ctx, `SELECT `+annotationColumns+annotationFrom+` WHERE a.id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, notFound("annotation", id)
	}
	if err != nil {
		return nil, dbError(err, "get_annotation", errors.PriorityMedium, "annotation_id", id)
	}
	return &a, nil
}

// CreateAnnotation inserts a and increments the image's annotation count.
func (s *Store) CreateAnnotation(ctx context.Context, a *Annotation) error {
	return s.withTx(ctx, "create_annotation", func(tx pgx.Tx) error {
		return insertAnnotation(ctx, tx, a)
	})
}

func insertAnnotation(ctx context.Context, q querier, a *Annotation) error {
	err := q.QueryRow(ctx, `
		INSERT INTO annotations (image_id, bounding_box, annotation_type, spanish_term, english_term,
			pronunciation, difficulty_level, is_visible, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7, $8, now(), now())
		RETURNING id, created_at, updated_at`,
		a.ImageID, a.BoundingBox, a.AnnotationType, a.SpanishTerm, a.EnglishTerm,
		a.Pronunciation, a.DifficultyLevel, a.IsVisible,
	).Scan(&a.ID, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return dbError(err, "insert_annotation", errors.PriorityMedium, "image_id", a.ImageID)
	}

	if _, err := q.Exec(ctx,
		`UPDATE images SET annotation_count = annotation_count + 1 WHERE id = $1`, a.ImageID); err != nil {
		return dbError(err, "bump_annotation_count", errors.PriorityMedium, "image_id", a.ImageID)
	}
	return nil
}

// UpdateAnnotation applies patch and returns the updated annotation.
func (s *Store) UpdateAnnotation(ctx context.Context, id string, patch AnnotationPatch) (*Annotation, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE annotations SET
			bounding_box = COALESCE($2, bounding_box),
			annotation_type = COALESCE($3, annotation_type),
			spanish_term = COALESCE($4, spanish_term),
			english_term = COALESCE($5, english_term),
			pronunciation = COALESCE($6, pronunciation),
			difficulty_level = COALESCE($7, difficulty_level),
			is_visible = COALESCE($8, is_visible),
			updated_at = now()
		WHERE id = $1`,
		id, patch.BoundingBox, patch.AnnotationType, patch.SpanishTerm, patch.EnglishTerm,
		patch.Pronunciation, patch.DifficultyLevel, patch.IsVisible)
	if err != nil {
		return nil, dbError(err, "update_annotation", errors.PriorityMedium, "annotation_id", id)
	}
	if tag.RowsAffected() == 0 {
		return nil, notFound("annotation", id)
	}
	return s.GetAnnotation(ctx, id)
}

// DeleteAnnotation removes an annotation and decrements the image's annotation count.
func (s *Store) DeleteAnnotation(ctx context.Context, id string) error {
	return s.withTx(ctx, "delete_annotation", func(tx pgx.Tx) error {
		var imageID string
		err := tx.QueryRow(ctx, `DELETE FROM annotations WHERE id = $1 RETURNING image_id`, id).Scan(&imageID)
		if errors.Is(err, pgx.ErrNoRows) {
			return notFound("annotation", id)
		}
		if err != nil {
			return dbError(err, "delete_annotation", errors.PriorityMedium, "annotation_id", id)
		}

		if _, err := tx.Exec(ctx,
			`UPDATE images SET annotation_count = GREATEST(annotation_count - 1, 0) WHERE id = $1`, imageID); err != nil {
			return dbError(err, "drop_annotation_count", errors.PriorityMedium, "image_id", imageID)
		}
		return nil
	})
}
