package imageprovider

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	"github.com/aves-app/aves/internal/datastore"
	"github.com/aves-app/aves/internal/errors"
	"github.com/aves-app/aves/internal/jobs"
	"github.com/aves-app/aves/internal/logger"
)

// maxSearchPages bounds how far a collection pages through search results.
const maxSearchPages = 3

// ImageStore is the persistence a Collector needs.
type ImageStore interface {
	ExistingUnsplashIDs(ctx context.Context, speciesID string) (map[string]struct{}, error)
	CreateImage(ctx context.Context, img *datastore.Image) (bool, error)
}

// CollectResult summarises one species collection.
type CollectResult struct {
	SpeciesID string `json:"speciesId"`
	Found     int    `json:"found"`
	Inserted  int    `json:"inserted"`
	Skipped   int    `json:"skipped"`
}

// Collector stores new Unsplash photos for species, pacing searches with a limiter.
type Collector struct {
	searcher Searcher
	store    ImageStore
	limiter  *rate.Limiter
	perPage  int
	log      logger.Logger
}

// NewCollector creates a collector allowing requestsPerSecond searches (burst 1).
// A non-positive rate disables pacing.
func NewCollector(searcher Searcher, store ImageStore, requestsPerSecond float64, perPage int) *Collector {
	limit := rate.Inf
	if requestsPerSecond > 0 {
		limit = rate.Limit(requestsPerSecond)
	}
	if perPage <= 0 {
		perPage = defaultPerPage
	}
	return &Collector{
		searcher: searcher,
		store:    store,
		limiter:  rate.NewLimiter(limit, 1),
		perPage:  min(perPage, maxPerPage),
		log:      logger.Global().Module("imageprovider").Module("collector"),
	}
}

// SearchQuery is the Unsplash query used for a species.
func SearchQuery(sp *datastore.Species) string {
	name := sp.EnglishName
	if name == "" {
		name = sp.ScientificName
	}
	return name + " bird"
}

// CollectForSpecies searches for photos of sp and stores up to count that are not
// already stored.
func (c *Collector) CollectForSpecies(ctx context.Context, sp *datastore.Species, count int) (*CollectResult, error) {
	if count <= 0 {
		return nil, errors.ValidationError("image count must be positive")
	}

	existing, err := c.store.ExistingUnsplashIDs(ctx, sp.ID)
	if err != nil {
		return nil, err
	}

	result := &CollectResult{SpeciesID: sp.ID}
	query := SearchQuery(sp)

	for page := 1; page <= maxSearchPages && result.Inserted < count; page++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return result, errors.New(err).
				Component("imageprovider").
				Category(errors.CategoryCancellation).
				Context("species_id", sp.ID).
				Build()
		}

		photos, err := c.searcher.Search(ctx, query, c.perPage, page)
		if err != nil {
			return result, err
		}
		result.Found += len(photos)

		for i := range photos {
			if result.Inserted >= count {
				break
			}
			photo := &photos[i]
			if _, ok := existing[photo.ID]; ok {
				result.Skipped++
				continue
			}

			inserted, err := c.store.CreateImage(ctx, toImage(sp.ID, photo))
			if err != nil {
				return result, err
			}
			existing[photo.ID] = struct{}{}
			if !inserted {
				result.Skipped++
				continue
			}
			result.Inserted++
		}

		if len(photos) < c.perPage {
			break
		}
	}

	c.log.Info("collected images",
		logger.String("species_id", sp.ID),
		logger.String("query", query),
		logger.Int("found", result.Found),
		logger.Int("inserted", result.Inserted),
		logger.Int("skipped", result.Skipped))
	return result, nil
}

// CollectJob returns a job function collecting count images for each species.
// Per-species failures are recorded on the job; the job itself still completes.
func (c *Collector) CollectJob(species []datastore.Species, count int) jobs.Func {
	return func(ctx context.Context, p *jobs.Progress) error {
		p.SetTotal(len(species))
		inserted := 0
		start := time.Now()

		for i := range species {
			if p.Cancelled() {
				return ctx.Err()
			}
			sp := &species[i]
			res, err := c.CollectForSpecies(ctx, sp, count)
			if res != nil {
				inserted += res.Inserted
			}
			p.Step(sp.EnglishName, err)
			if err != nil {
				c.log.Warn("image collection failed for species",
					logger.String("job_id", p.JobID()),
					logger.String("species_id", sp.ID),
					logger.Error(err))
			}
		}

		p.SetResult("imagesCollected", inserted)
		p.SetResult("elapsed", time.Since(start).Round(time.Millisecond).String())
		return nil
	}
}

func toImage(speciesID string, p *Photo) *datastore.Image {
	thumb := p.URLs.Small
	if thumb == "" {
		thumb = p.URLs.Thumb
	}
	return &datastore.Image{
		SpeciesID:            speciesID,
		UnsplashID:           p.ID,
		URL:                  p.URLs.Regular,
		ThumbnailURL:         thumb,
		Width:                p.Width,
		Height:               p.Height,
		Description:          p.Caption(),
		Photographer:         p.User.Name,
		PhotographerUsername: p.User.Username,
	}
}
