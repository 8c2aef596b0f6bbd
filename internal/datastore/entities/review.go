package entities

import "time"

// AIAnnotationEntity maps to the 'ai_annotations' table.
type AIAnnotationEntity struct {
	ID         string      `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	ImageID    string      `gorm:"type:uuid;not null;index"`
	Image      ImageEntity `gorm:"foreignKey:ImageID;references:ID;constraint:OnDelete:CASCADE"`
	JobID      string      `gorm:"type:varchar(64);index"`
	Status     string      `gorm:"type:varchar(20);not null;default:'pending';index"`
	Model      string      `gorm:"type:varchar(100);not null"`
	Confidence float64     `gorm:"not null;default:0"`
	CreatedAt  time.Time   `gorm:"index"`
	ReviewedAt *time.Time
	ReviewedBy string `gorm:"type:varchar(255)"`
}

// TableName ensures GORM uses the expected table name.
func (AIAnnotationEntity) TableName() string {
	return "ai_annotations"
}

// AIAnnotationItemEntity maps to the 'ai_annotation_items' table.
type AIAnnotationItemEntity struct {
	ID                   string             `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	AIAnnotationID       string             `gorm:"type:uuid;not null;index"`
	AIAnnotation         AIAnnotationEntity `gorm:"foreignKey:AIAnnotationID;references:ID;constraint:OnDelete:CASCADE"`
	ImageID              string             `gorm:"type:uuid;not null;index"`
	SpeciesID            string             `gorm:"type:uuid;index"`
	SpanishTerm          string             `gorm:"type:varchar(255);not null"`
	EnglishTerm          string             `gorm:"type:varchar(255);not null"`
	Pronunciation        string             `gorm:"type:varchar(255)"`
	AnnotationType       string             `gorm:"type:varchar(20);not null"`
	BoundingBox          []byte             `gorm:"type:jsonb;not null"`
	OriginalBox          []byte             `gorm:"type:jsonb"`
	DifficultyLevel      int                `gorm:"not null;default:1"`
	Confidence           float64            `gorm:"not null;default:0"`
	Status               string             `gorm:"type:varchar(20);not null;default:'pending';index"`
	ApprovedAnnotationID *string            `gorm:"type:uuid"`
	CreatedAt            time.Time          `gorm:"index"`
	UpdatedAt            time.Time
}

// TableName ensures GORM uses the expected table name.
func (AIAnnotationItemEntity) TableName() string {
	return "ai_annotation_items"
}

// AIAnnotationReviewEntity maps to the 'ai_annotation_reviews' table.
// Edit rows carry the box delta that feeds the positioning model.
type AIAnnotationReviewEntity struct {
	ID           string                 `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	ItemID       string                 `gorm:"type:uuid;not null;index"`
	Item         AIAnnotationItemEntity `gorm:"foreignKey:ItemID;references:ID;constraint:OnDelete:CASCADE"`
	Action       string                 `gorm:"type:varchar(20);not null;index"`
	ReviewerID   string                 `gorm:"type:varchar(255)"`
	Reason       string                 `gorm:"type:text"`
	Category     string                 `gorm:"type:varchar(50)"`
	OriginalBox  []byte                 `gorm:"type:jsonb"`
	CorrectedBox []byte                 `gorm:"type:jsonb"`
	DeltaX       *float64
	DeltaY       *float64
	DeltaWidth   *float64
	DeltaHeight  *float64
	SpeciesID    string `gorm:"type:uuid;index:idx_reviews_species_feature"`
	FeatureType  string `gorm:"type:varchar(255);index:idx_reviews_species_feature"`
	CreatedAt    time.Time
}

// TableName ensures GORM uses the expected table name.
func (AIAnnotationReviewEntity) TableName() string {
	return "ai_annotation_reviews"
}

// PositioningModelEntity maps to the 'positioning_model' table.
type PositioningModelEntity struct {
	ID             string  `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	SpeciesID      string  `gorm:"type:uuid;not null;uniqueIndex:idx_positioning_species_feature"`
	FeatureType    string  `gorm:"type:varchar(255);not null;uniqueIndex:idx_positioning_species_feature"`
	AvgDeltaX      float64 `gorm:"not null;default:0"`
	AvgDeltaY      float64 `gorm:"not null;default:0"`
	AvgDeltaWidth  float64 `gorm:"not null;default:0"`
	AvgDeltaHeight float64 `gorm:"not null;default:0"`
	SampleCount    int     `gorm:"not null;default:0"`
	UpdatedAt      time.Time
}

// TableName ensures GORM uses the expected table name.
func (PositioningModelEntity) TableName() string {
	return "positioning_model"
}
