package datastore

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/aves-app/aves/internal/errors"
)

const imageColumns = `i.id, i.species_id, i.unsplash_id, i.url, i.thumbnail_url, i.width, i.height,
	COALESCE(i.description, ''), i.photographer, i.photographer_username, i.annotation_count, i.created_at,
	s.english_name, s.scientific_name`

const imageFrom = ` FROM images i JOIN species s ON s.id = i.species_id`

func scanImage(row pgx.Row) (Image, error) {
	var img Image
	err := row.Scan(&img.ID, &img.SpeciesID, &img.UnsplashID, &img.URL, &img.ThumbnailURL,
		&img.Width, &img.Height, &img.Description, &img.Photographer, &img.PhotographerUsername,
		&img.AnnotationCount, &img.CreatedAt, &img.SpeciesName, &img.ScientificName)
	return img, err
}

// ListImages returns a page of images, newest first. An empty speciesID lists all.
func (s *Store) ListImages(ctx context.Context, speciesID string, page Page) ([]Image, int, error) {
	c := &conditions{}
	if speciesID != "" {
		c.add(`i.species_id = ?`, speciesID)
	}

	var total int
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM images i`+c.where(), c.args...).Scan(&total); err != nil {
		return nil, 0, dbError(err, "count_images", errors.PriorityMedium)
	}

	suffix, args := c.paged(page)
	rows, err := s.pool.Query(ctx,
		`SELECT `+imageColumns+imageFrom+c.where()+` ORDER BY i.created_at DESC, i.id`+suffix, args...)
	if err != nil {
		return nil, 0, dbError(err, "list_images", errors.PriorityMedium)
	}
	list, err := scanAll(rows, func(r pgx.Rows) (Image, error) { return scanImage(r) })
	if err != nil {
		return nil, 0, dbError(err, "scan_images", errors.PriorityMedium)
	}
	return list, total, nil
}

// GetImage returns one image with its species names.
func (s *Store) GetImage(ctx context.Context, id string) (*Image, error) {
	img, err := scanImage(s.pool.QueryRow(ctx, `SELECT `+imageColumns+imageFrom+` WHERE i.id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, notFound("image", id)
	}
	if err != nil {
		return nil, dbError(err, "get_image", errors.PriorityMedium, "image_id", id)
	}
	return &img, nil
}

// CreateImage inserts img unless its Unsplash id is already stored.
// It reports whether a row was inserted.
func (s *Store) CreateImage(ctx context.Context, img *Image) (bool, error) {
	err := s.pool.QueryRow(ctx, `
		INSERT INTO images (species_id, unsplash_id, url, thumbnail_url, width, height, description,
			photographer, photographer_username, annotation_count, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''), $8, $9, 0, now())
		ON CONFLICT (unsplash_id) DO NOTHING
		RETURNING id, created_at`,
		img.SpeciesID, img.UnsplashID, img.URL, img.ThumbnailURL, img.Width, img.Height,
		img.Description, img.Photographer, img.PhotographerUsername,
	).Scan(&img.ID, &img.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, dbError(err, "create_image", errors.PriorityMedium, "unsplash_id", img.UnsplashID)
	}
	return true, nil
}

// DeleteImage removes an image; its annotations cascade.
func (s *Store) DeleteImage(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM images WHERE id = $1`, id)
	if err != nil {
		return dbError(err, "delete_image", errors.PriorityMedium, "image_id", id)
	}
	if tag.RowsAffected() == 0 {
		return notFound("image", id)
	}
	return nil
}

// ExistingUnsplashIDs returns the Unsplash ids already stored for a species.
func (s *Store) ExistingUnsplashIDs(ctx context.Context, speciesID string) (map[string]struct{}, error) {
	rows, err := s.pool.Query(ctx, `SELECT unsplash_id FROM images WHERE species_id = $1`, speciesID)
	if err != nil {
		return nil, dbError(err, "existing_unsplash_ids", errors.PriorityMedium, "species_id", speciesID)
	}
	ids, err := scanAll(rows, func(r pgx.Rows) (string, error) {
		var id string
		return id, r.Scan(&id)
	})
	if err != nil {
		return nil, dbError(err, "scan_unsplash_ids", errors.PriorityMedium)
	}

	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set, nil
}

// ImagesWithoutAnnotations returns up to limit images that have neither approved
// annotations nor an AI annotation awaiting review, oldest first.
func (s *Store) ImagesWithoutAnnotations(ctx context.Context, limit int) ([]Image, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.pool.Query(ctx, `SELECT `+imageColumns+imageFrom+`
		WHERE i.annotation_count = 0
		  AND NOT EXISTS (SELECT 1 FROM ai_annotations a WHERE a.image_id = i.id AND a.status = 'pending')
		ORDER BY i.created_at, i.id
		LIMIT $1`, limit)
	if err != nil {
		return nil, dbError(err, "images_without_annotations", errors.PriorityMedium)
	}
	list, err := scanAll(rows, func(r pgx.Rows) (Image, error) { return scanImage(r) })
	if err != nil {
		return nil, dbError(err, "scan_images", errors.PriorityMedium)
	}
	return list, nil
}
