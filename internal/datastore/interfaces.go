package datastore

import (
	"context"
	"time"

	"github.com/aves-app/aves/internal/positioning"
)

// Interface abstracts the database operations used by the HTTP layer and job runners.
type Interface interface {
	Ping(ctx context.Context) error
	Close() error

	// species
	ListSpecies(ctx context.Context, filter SpeciesFilter, page Page) ([]Species, int, error)
	AllSpecies(ctx context.Context) ([]Species, error)
	GetSpecies(ctx context.Context, id string) (*Species, error)
	CreateSpecies(ctx context.Context, sp *Species) error
	UpsertSpecies(ctx context.Context, sp *Species) (bool, error)
	UpdateSpecies(ctx context.Context, sp *Species) error
	DeleteSpecies(ctx context.Context, id string) error

	// images
	ListImages(ctx context.Context, speciesID string, page Page) ([]Image, int, error)
	GetImage(ctx context.Context, id string) (*Image, error)
	CreateImage(ctx context.Context, img *Image) (bool, error)
	DeleteImage(ctx context.Context, id string) error
	ExistingUnsplashIDs(ctx context.Context, speciesID string) (map[string]struct{}, error)
	ImagesWithoutAnnotations(ctx context.Context, limit int) ([]Image, error)

	// annotations
	ListAnnotations(ctx context.Context, filter AnnotationFilter, page Page) ([]Annotation, int, error)
	VisibleAnnotations(ctx context.Context, filter AnnotationFilter) ([]Annotation, error)
	GetAnnotation(ctx context.Context, id string) (*Annotation, error)
	CreateAnnotation(ctx context.Context, a *Annotation) error
	UpdateAnnotation(ctx context.Context, id string, patch AnnotationPatch) (*Annotation, error)
	DeleteAnnotation(ctx context.Context, id string) error

	// AI annotation review
	CreateAIAnnotation(ctx context.Context, ann *AIAnnotation) error
	ListPendingItems(ctx context.Context, page Page) ([]AIAnnotationItem, int, error)
	GetAIItem(ctx context.Context, id string) (*AIAnnotationItem, error)
	ApproveItem(ctx context.Context, itemID, reviewerID string) (*Annotation, error)
	EditItem(ctx context.Context, itemID, reviewerID string, edit ItemEdit) (*Annotation, error)
	RejectItem(ctx context.Context, itemID, reviewerID string, rejection Rejection) error
	BulkApprove(ctx context.Context, ids []string, reviewerID string) (*BulkResult, error)
	AIStats(ctx context.Context) (*AIStats, error)

	// positioning model
	CorrectionSamples(ctx context.Context) ([]positioning.Sample, error)
	ReplaceModels(ctx context.Context, models []positioning.Model) error
	PositioningModels(ctx context.Context) ([]positioning.Model, error)
	PositioningModelsForSpecies(ctx context.Context, speciesID string) ([]positioning.Model, error)

	// vocabulary and spaced repetition
	VocabularyTerms(ctx context.Context, annotationType string, page Page) ([]VocabularyTerm, int, error)
	RecordInteraction(ctx context.Context, userID, term string, correct bool) (*Mastery, error)
	Mastery(ctx context.Context, userID string) ([]Mastery, error)
	SRSProgress(ctx context.Context, userID, term string) (*SRSProgress, error)
	SaveSRSProgress(ctx context.Context, p *SRSProgress) error
	ReviewSRS(ctx context.Context, userID, term string,
		apply func(current *SRSProgress) (*SRSProgress, error)) (*SRSProgress, error)
	DueReviews(ctx context.Context, userID string, now time.Time, limit int) ([]SRSProgress, error)
	SRSStats(ctx context.Context, userID string, now time.Time) (*SRSStats, error)

	// exercise cache
	GetCachedExercise(ctx context.Context, key string, now time.Time) (*CachedExercise, error)
	PutCachedExercise(ctx context.Context, key, exerciseType string, payload []byte, now time.Time, ttl time.Duration) error
	PurgeExpiredExercises(ctx context.Context, now time.Time) (int64, error)

	DashboardCounts(ctx context.Context) (*DashboardCounts, error)
}

var _ Interface = (*Store)(nil)
