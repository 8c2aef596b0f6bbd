package vision

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	"github.com/aves-app/aves/internal/datastore"
	"github.com/aves-app/aves/internal/errors"
	"github.com/aves-app/aves/internal/jobs"
	"github.com/aves-app/aves/internal/logger"
	"github.com/aves-app/aves/internal/positioning"
)

// AnnotationStore is the persistence an Annotator needs.
type AnnotationStore interface {
	GetImage(ctx context.Context, id string) (*datastore.Image, error)
	GetSpecies(ctx context.Context, id string) (*datastore.Species, error)
	PositioningModelsForSpecies(ctx context.Context, speciesID string) ([]positioning.Model, error)
	CreateAIAnnotation(ctx context.Context, ann *datastore.AIAnnotation) error
}

// Annotator turns detected features into stored AI annotations.
type Annotator struct {
	detector   Detector
	store      AnnotationStore
	limiter    *rate.Limiter
	minSamples int
	log        logger.Logger
}

// NewAnnotator creates an annotator. Detector calls are paced to requestsPerSecond
// (burst 1); a non-positive rate disables pacing.
func NewAnnotator(detector Detector, store AnnotationStore, requestsPerSecond float64, minSamples int) *Annotator {
	limit := rate.Inf
	if requestsPerSecond > 0 {
		limit = rate.Limit(requestsPerSecond)
	}
	if minSamples < 1 {
		minSamples = positioning.DefaultMinSamples
	}
	return &Annotator{
		detector:   detector,
		store:      store,
		limiter:    rate.NewLimiter(limit, 1),
		minSamples: minSamples,
		log:        logger.Global().Module("vision").Module("annotator"),
	}
}

// AnnotateImage detects features on an image, corrects their boxes with the
// species' positioning models and stores them as a pending AI annotation.
func (a *Annotator) AnnotateImage(ctx context.Context, imageID, jobID string) (*datastore.AIAnnotation, error) {
	img, err := a.store.GetImage(ctx, imageID)
	if err != nil {
		return nil, err
	}
	species, err := a.store.GetSpecies(ctx, img.SpeciesID)
	if err != nil {
		return nil, err
	}

	if err := a.limiter.Wait(ctx); err != nil {
		return nil, errors.New(err).
			Component("vision").
			Category(errors.CategoryCancellation).
			Context("image_id", imageID).
			Build()
	}

	start := time.Now()
	features, err := a.detector.Annotate(ctx, img.URL, species)
	if err != nil {
		return nil, err
	}
	if len(features) == 0 {
		return nil, errors.Newf("no usable features detected").
			Component("vision").
			Category(errors.CategoryVision).
			Context("image_id", imageID).
			Build()
	}

	models, err := a.store.PositioningModelsForSpecies(ctx, species.ID)
	if err != nil {
		// Uncorrected boxes are still reviewable.
		a.log.Warn("positioning models unavailable",
			logger.String("species_id", species.ID),
			logger.Error(err))
		models = nil
	}

	ann := a.build(img, features, positioning.NewIndex(models), jobID)
	if err := a.store.CreateAIAnnotation(ctx, ann); err != nil {
		return nil, err
	}

	a.log.Info("image annotated",
		logger.String("image_id", imageID),
		logger.String("ai_annotation_id", ann.ID),
		logger.Int("items", len(ann.Items)),
		logger.Float64("confidence", ann.Confidence),
		logger.Duration("elapsed", time.Since(start)))
	return ann, nil
}

func (a *Annotator) build(img *datastore.Image, features []Feature, idx positioning.Index, jobID string) *datastore.AIAnnotation {
	ann := &datastore.AIAnnotation{
		ImageID: img.ID,
		JobID:   jobID,
		Status:  datastore.AIStatusPending,
		Model:   a.detector.Model(),
		Items:   make([]datastore.AIAnnotationItem, 0, len(features)),
	}

	var total float64
	for _, f := range features {
		item := datastore.AIAnnotationItem{
			SpanishTerm:     f.SpanishTerm,
			EnglishTerm:     f.EnglishTerm,
			Pronunciation:   f.Pronunciation,
			AnnotationType:  f.Type,
			BoundingBox:     f.BoundingBox,
			DifficultyLevel: f.Difficulty,
			Confidence:      f.Confidence,
		}
		if model, ok := idx.Lookup(img.SpeciesID, f.EnglishTerm); ok {
			corrected := positioning.Apply(f.BoundingBox, model, a.minSamples)
			if corrected != f.BoundingBox {
				original := f.BoundingBox
				item.OriginalBox = &original
				item.BoundingBox = corrected
			}
		}
		total += f.Confidence
		ann.Items = append(ann.Items, item)
	}
	ann.Confidence = total / float64(len(features))
	return ann
}

// BatchJob returns a job function annotating each image in turn. Per-image failures
// are recorded on the job; cancellation stops the batch.
func (a *Annotator) BatchJob(images []datastore.Image) jobs.Func {
	return func(ctx context.Context, p *jobs.Progress) error {
		p.SetTotal(len(images))
		annotated, items := 0, 0

		for i := range images {
			if p.Cancelled() {
				return ctx.Err()
			}
			img := &images[i]
			ann, err := a.AnnotateImage(ctx, img.ID, p.JobID())
			if err == nil {
				annotated++
				items += len(ann.Items)
			} else {
				a.log.Warn("batch annotation failed for image",
					logger.String("job_id", p.JobID()),
					logger.String("image_id", img.ID),
					logger.Error(err))
			}
			p.Step(img.ID, err)
		}

		p.SetResult("imagesAnnotated", annotated)
		p.SetResult("itemsCreated", items)
		return nil
	}
}
