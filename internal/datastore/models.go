package datastore

import (
	"time"

	"github.com/aves-app/aves/internal/positioning"
)

// Annotation types.
const (
	AnnotationAnatomical = "anatomical"
	AnnotationBehavioral = "behavioral"
	AnnotationColor      = "color"
	AnnotationPattern    = "pattern"
)

// AnnotationTypes lists the accepted annotation types.
var AnnotationTypes = []string{AnnotationAnatomical, AnnotationBehavioral, AnnotationColor, AnnotationPattern}

// AI annotation and item review states.
const (
	AIStatusPending  = "pending"
	AIStatusApproved = "approved"
	AIStatusRejected = "rejected"
	AIStatusPartial  = "partial"

	ItemStatusPending  = "pending"
	ItemStatusApproved = "approved"
	ItemStatusRejected = "rejected"
	ItemStatusEdited   = "edited"
)

// Review actions recorded in ai_annotation_reviews.
const (
	ReviewApprove     = "approve"
	ReviewReject      = "reject"
	ReviewEdit        = "edit"
	ReviewBulkApprove = "bulk_approve"
)

// Species is a bird species.
type Species struct {
	ID                 string    `json:"id"`
	ScientificName     string    `json:"scientificName"`
	EnglishName        string    `json:"englishName"`
	SpanishName        string    `json:"spanishName"`
	OrderName          string    `json:"orderName"`
	FamilyName         string    `json:"familyName"`
	Habitats           []string  `json:"habitats"`
	SizeCategory       string    `json:"sizeCategory,omitempty"`
	PrimaryColors      []string  `json:"primaryColors"`
	ConservationStatus string    `json:"conservationStatus,omitempty"`
	DescriptionSpanish string    `json:"descriptionSpanish,omitempty"`
	DescriptionEnglish string    `json:"descriptionEnglish,omitempty"`
	ImageCount         int       `json:"imageCount"`
	CreatedAt          time.Time `json:"createdAt"`
	UpdatedAt          time.Time `json:"updatedAt"`
}

// SpeciesFilter narrows species listings.
type SpeciesFilter struct {
	Search       string
	OrderName    string
	FamilyName   string
	Habitat      string
	SizeCategory string
}

// Image is a stored Unsplash photo of a species.
type Image struct {
	ID                   string    `json:"id"`
	SpeciesID            string    `json:"speciesId"`
	UnsplashID           string    `json:"unsplashId"`
	URL                  string    `json:"url"`
	ThumbnailURL         string    `json:"thumbnailUrl"`
	Width                int       `json:"width"`
	Height               int       `json:"height"`
	Description          string    `json:"description,omitempty"`
	Photographer         string    `json:"photographer"`
	PhotographerUsername string    `json:"photographerUsername"`
	AnnotationCount      int       `json:"annotationCount"`
	CreatedAt            time.Time `json:"createdAt"`

	// Set on reads that join species.
	SpeciesName    string `json:"speciesName,omitempty"`
	ScientificName string `json:"scientificName,omitempty"`
}

// Annotation is an approved labelled region of an image.
type Annotation struct {
	ID              string           `json:"id"`
	ImageID         string           `json:"imageId"`
	BoundingBox     positioning.Box  `json:"boundingBox"`
	AnnotationType  string           `json:"type"`
	SpanishTerm     string           `json:"spanishTerm"`
	EnglishTerm     string           `json:"englishTerm"`
	Pronunciation   string           `json:"pronunciation,omitempty"`
	DifficultyLevel int              `json:"difficultyLevel"`
	IsVisible       bool             `json:"isVisible"`
	CreatedAt       time.Time        `json:"createdAt"`
	UpdatedAt       time.Time        `json:"updatedAt"`
	Image           *AnnotationImage `json:"image,omitempty"`
}

// AnnotationImage is the image context attached to annotation reads.
type AnnotationImage struct {
	URL         string `json:"url"`
	SpeciesID   string `json:"speciesId"`
	SpeciesName string `json:"speciesName"`
}

// AnnotationFilter narrows annotation listings.
type AnnotationFilter struct {
	ImageID         string
	SpeciesID       string
	AnnotationType  string
	DifficultyLevel int
	VisibleOnly     bool
}

// AnnotationPatch holds the fields of an annotation update. Nil fields are left unchanged.
type AnnotationPatch struct {
	BoundingBox     *positioning.Box
	AnnotationType  *string
	SpanishTerm     *string
	EnglishTerm     *string
	Pronunciation   *string
	DifficultyLevel *int
	IsVisible       *bool
}

// AIAnnotation groups the items produced by one vision call for an image.
type AIAnnotation struct {
	ID         string             `json:"id"`
	ImageID    string             `json:"imageId"`
	JobID      string             `json:"jobId,omitempty"`
	Status     string             `json:"status"`
	Model      string             `json:"model"`
	Confidence float64            `json:"confidence"`
	CreatedAt  time.Time          `json:"createdAt"`
	ReviewedAt *time.Time         `json:"reviewedAt,omitempty"`
	ReviewedBy string             `json:"reviewedBy,omitempty"`
	Items      []AIAnnotationItem `json:"items"`
}

// AIAnnotationItem is one AI-proposed annotation awaiting review.
type AIAnnotationItem struct {
	ID                   string           `json:"id"`
	AIAnnotationID       string           `json:"aiAnnotationId"`
	ImageID              string           `json:"imageId"`
	SpeciesID            string           `json:"speciesId"`
	SpanishTerm          string           `json:"spanishTerm"`
	EnglishTerm          string           `json:"englishTerm"`
	Pronunciation        string           `json:"pronunciation,omitempty"`
	AnnotationType       string           `json:"type"`
	BoundingBox          positioning.Box  `json:"boundingBox"`
	OriginalBox          *positioning.Box `json:"originalBox,omitempty"`
	DifficultyLevel      int              `json:"difficultyLevel"`
	Confidence           float64          `json:"confidence"`
	Status               string           `json:"status"`
	ApprovedAnnotationID string           `json:"approvedAnnotationId,omitempty"`
	CreatedAt            time.Time        `json:"createdAt"`
	UpdatedAt            time.Time        `json:"updatedAt"`

	ImageURL    string `json:"imageUrl,omitempty"`
	SpeciesName string `json:"speciesName,omitempty"`
}

// ItemEdit carries reviewer corrections applied when approving an item.
type ItemEdit struct {
	SpanishTerm     *string
	EnglishTerm     *string
	Pronunciation   *string
	AnnotationType  *string
	DifficultyLevel *int
	BoundingBox     *positioning.Box
}

// Rejection describes why an item was rejected.
type Rejection struct {
	Reason   string
	Category string
}

// AIStats summarises the review pipeline.
type AIStats struct {
	TotalAnnotations int            `json:"totalAnnotations"`
	ItemsByStatus    map[string]int `json:"itemsByStatus"`
	ReviewsByAction  map[string]int `json:"reviewsByAction"`
	AvgConfidence    float64        `json:"avgConfidence"`
	ApprovalRate     float64        `json:"approvalRate"`
}

// BulkResult reports a bulk approval.
type BulkResult struct {
	Approved []string          `json:"approved"`
	Skipped  map[string]string `json:"skipped"`
}

// VocabularyTerm is a distinct term drawn from visible annotations.
type VocabularyTerm struct {
	SpanishTerm     string `json:"spanishTerm"`
	EnglishTerm     string `json:"englishTerm"`
	Pronunciation   string `json:"pronunciation,omitempty"`
	AnnotationType  string `json:"type"`
	DifficultyLevel int    `json:"difficultyLevel"`
	Occurrences     int    `json:"occurrences"`
}

// Mastery is a user's exposure record for a term.
type Mastery struct {
	UserID       string    `json:"userId"`
	Term         string    `json:"term"`
	Exposures    int       `json:"exposures"`
	CorrectCount int       `json:"correctCount"`
	MasteryLevel int       `json:"masteryLevel"`
	LastSeenAt   time.Time `json:"lastSeenAt"`
}

// SRSProgress is a user's spaced-repetition schedule for a term.
type SRSProgress struct {
	UserID         string     `json:"userId"`
	Term           string     `json:"term"`
	EaseFactor     float64    `json:"easeFactor"`
	IntervalDays   int        `json:"intervalDays"`
	Repetitions    int        `json:"repetitions"`
	LastQuality    int        `json:"lastQuality"`
	NextReviewAt   time.Time  `json:"nextReviewAt"`
	LastReviewedAt *time.Time `json:"lastReviewedAt,omitempty"`
}

// SRSStats summarises a user's review queue.
type SRSStats struct {
	TotalTerms     int     `json:"totalTerms"`
	DueNow         int     `json:"dueNow"`
	Learning       int     `json:"learning"`
	Mature         int     `json:"mature"`
	AvgEaseFactor  float64 `json:"avgEaseFactor"`
	ReviewedToday  int     `json:"reviewedToday"`
	MatureInterval int     `json:"matureIntervalDays"`
}

// CachedExercise is a stored exercise payload.
type CachedExercise struct {
	Key          string    `json:"key"`
	ExerciseType string    `json:"exerciseType"`
	Payload      []byte    `json:"payload"`
	HitCount     int       `json:"hitCount"`
	ExpiresAt    time.Time `json:"expiresAt"`
}

// DashboardCounts feeds the admin dashboard.
type DashboardCounts struct {
	Species            int `json:"species"`
	Images             int `json:"images"`
	Annotations        int `json:"annotations"`
	PendingReviewItems int `json:"pendingReviewItems"`
	Users              int `json:"users"`
	CachedExercises    int `json:"cachedExercises"`
}
