package datastore

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/aves-app/aves/internal/errors"
)

const speciesColumns = `s.id, s.scientific_name, s.english_name, s.spanish_name, s.order_name, s.family_name,
	s.habitats, COALESCE(s.size_category, ''), s.primary_colors, COALESCE(s.conservation_status, ''),
	COALESCE(s.description_spanish, ''), COALESCE(s.description_english, ''),
	(SELECT count(*) FROM images i WHERE i.species_id = s.id), s.created_at, s.updated_at`

func scanSpecies(row pgx.Row) (Species, error) {
	var sp Species
	err := row.Scan(&sp.ID, &sp.ScientificName, &sp.EnglishName, &sp.SpanishName, &sp.OrderName,
		&sp.FamilyName, &sp.Habitats, &sp.SizeCategory, &sp.PrimaryColors, &sp.ConservationStatus,
		&sp.DescriptionSpanish, &sp.DescriptionEnglish, &sp.ImageCount, &sp.CreatedAt, &sp.UpdatedAt)
	if sp.Habitats == nil {
		sp.Habitats = []string{}
	}
	if sp.PrimaryColors == nil {
		sp.PrimaryColors = []string{}
	}
	return sp, err
}

func speciesConditions(f SpeciesFilter) *conditions {
	c := &conditions{}
	if f.Search != "" {
		c.add(`(s.english_name ILIKE ? OR s.spanish_name ILIKE ? OR s.scientific_name ILIKE ?)`,
			likePattern(f.Search), likePattern(f.Search), likePattern(f.Search))
	}
	if f.OrderName != "" {
		c.add(`s.order_name = ?`, f.OrderName)
	}
	if f.FamilyName != "" {
		c.add(`s.family_name = ?`, f.FamilyName)
	}
	if f.Habitat != "" {
		c.add(`? = ANY(s.habitats)`, f.Habitat)
	}
	if f.SizeCategory != "" {
		c.add(`s.size_category = ?`, f.SizeCategory)
	}
	return c
}

// ListSpecies returns a page of species ordered by English name, and the total match count.
func (s *Store) ListSpecies(ctx context.Context, filter SpeciesFilter, page Page) ([]Species, int, error) {
	c := speciesConditions(filter)

	var total int
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM species s`+c.where(), c.args...).Scan(&total); err != nil {
		return nil, 0, dbError(err, "count_species", errors.PriorityMedium)
	}

	suffix, args := c.paged(page)
	rows, err := s.pool.Query(ctx,
		`SELECT `+speciesColumns+` FROM species s`+c.where()+` ORDER BY s.english_name, s.id`+suffix, args...)
	if err != nil {
		return nil, 0, dbError(err, "list_species", errors.PriorityMedium)
	}
	list, err := scanAll(rows, func(r pgx.Rows) (Species, error) { return scanSpecies(r) })
	if err != nil {
		return nil, 0, dbError(err, "scan_species", errors.PriorityMedium)
	}
	return list, total, nil
}

// AllSpecies returns every species, ordered by English name.
func (s *Store) AllSpecies(ctx context.Context) ([]Species, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+speciesColumns+` FROM species s ORDER BY s.english_name, s.id`)
	if err != nil {
		return nil, dbError(err, "all_species", errors.PriorityMedium)
	}
	list, err := scanAll(rows, func(r pgx.Rows) (Species, error) { return scanSpecies(r) })
	if err != nil {
		return nil, dbError(err, "scan_species", errors.PriorityMedium)
	}
	return list, nil
}

// GetSpecies returns one species.
func (s *Store) GetSpecies(ctx context.Context, id string) (*Species, error) {
	sp, err := scanSpecies(s.pool.QueryRow(ctx, `SELECT `+speciesColumns+` FROM species s WHERE s.id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, notFound("species", id)
	}
	if err != nil {
		return nil, dbError(err, "get_species", errors.PriorityMedium, "species_id", id)
	}
	return &sp, nil
}

// CreateSpecies inserts sp and fills in its id and timestamps.
func (s *Store) CreateSpecies(ctx context.Context, sp *Species) error {
	err := s.pool.QueryRow(ctx, `
		INSERT INTO species (scientific_name, english_name, spanish_name, order_name, family_name,
			habitats, size_category, primary_colors, conservation_status,
			description_spanish, description_english, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''), $8, NULLIF($9, ''), $10, $11, now(), now())
		RETURNING id, created_at, updated_at`,
		sp.ScientificName, sp.EnglishName, sp.SpanishName, sp.OrderName, sp.FamilyName,
		nonNil(sp.Habitats), sp.SizeCategory, nonNil(sp.PrimaryColors), sp.ConservationStatus,
		sp.DescriptionSpanish, sp.DescriptionEnglish,
	).Scan(&sp.ID, &sp.CreatedAt, &sp.UpdatedAt)
	if err != nil {
		return dbError(err, "create_species", errors.PriorityMedium, "scientific_name", sp.ScientificName)
	}
	return nil
}

// UpsertSpecies inserts sp or updates the row with the same scientific name.
// It reports whether a new row was created.
func (s *Store) UpsertSpecies(ctx context.Context, sp *Species) (bool, error) {
	var inserted bool
	err := s.pool.QueryRow(ctx, `
		INSERT INTO species (scientific_name, english_name, spanish_name, order_name, family_name,
			habitats, size_category, primary_colors, conservation_status,
			description_spanish, description_english, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''), $8, NULLIF($9, ''), $10, $11, now(), now())
		ON CONFLICT (scientific_name) DO UPDATE SET
			english_name = EXCLUDED.english_name,
			spanish_name = EXCLUDED.spanish_name,
			order_name = EXCLUDED.order_name,
			family_name = EXCLUDED.family_name,
			habitats = EXCLUDED.habitats,
			size_category = EXCLUDED.size_category,
			primary_colors = EXCLUDED.primary_colors,
			conservation_status = EXCLUDED.conservation_status,
			description_spanish = EXCLUDED.description_spanish,
			description_english = EXCLUDED.description_english,
			updated_at = now()
		RETURNING id, created_at, updated_at, (xmax = 0)`,
		sp.ScientificName, sp.EnglishName, sp.SpanishName, sp.OrderName, sp.FamilyName,
		nonNil(sp.Habitats), sp.SizeCategory, nonNil(sp.PrimaryColors), sp.ConservationStatus,
		sp.DescriptionSpanish, sp.DescriptionEnglish,
	).Scan(&sp.ID, &sp.CreatedAt, &sp.UpdatedAt, &inserted)
	if err != nil {
		return false, dbError(err, "upsert_species", errors.PriorityMedium, "scientific_name", sp.ScientificName)
	}
	return inserted, nil
}

// UpdateSpecies replaces the editable fields of species sp.ID.
func (s *Store) UpdateSpecies(ctx context.Context, sp *Species) error {
	err := s.pool.QueryRow(ctx, `
		UPDATE species SET scientific_name = $2, english_name = $3, spanish_name = $4,
			order_name = $5, family_name = $6, habitats = $7, size_category = NULLIF($8, ''),
			primary_colors = $9, conservation_status = NULLIF($10, ''),
			description_spanish = $11, description_english = $12, updated_at = now()
		WHERE id = $1
		RETURNING created_at, updated_at`,
		sp.ID, sp.ScientificName, sp.EnglishName, sp.SpanishName, sp.OrderName, sp.FamilyName,
		nonNil(sp.Habitats), sp.SizeCategory, nonNil(sp.PrimaryColors), sp.ConservationStatus,
		sp.DescriptionSpanish, sp.DescriptionEnglish,
	).Scan(&sp.CreatedAt, &sp.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return notFound("species", sp.ID)
	}
	if err != nil {
		return dbError(err, "update_species", errors.PriorityMedium, "species_id", sp.ID)
	}
	return nil
}

// DeleteSpecies removes a species; its images and annotations cascade.
func (s *Store) DeleteSpecies(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM species WHERE id = $1`, id)
	if err != nil {
		return dbError(err, "delete_species", errors.PriorityMedium, "species_id", id)
	}
	if tag.RowsAffected() == 0 {
		return notFound("species", id)
	}
	return nil
}

func nonNil(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}
