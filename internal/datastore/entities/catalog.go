// Package entities holds the GORM models that define the AVES PostgreSQL schema.
// They are used for migrations only; queries go through pgx.
package entities

import "time"

// SpeciesEntity maps to the 'species' table.
type SpeciesEntity struct {
	ID                 string   `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	ScientificName     string   `gorm:"type:varchar(255);uniqueIndex;not null"`
	EnglishName        string   `gorm:"type:varchar(255);not null;index"`
	SpanishName        string   `gorm:"type:varchar(255);not null;index"`
	OrderName          string   `gorm:"type:varchar(100);not null;default:''"`
	FamilyName         string   `gorm:"type:varchar(100);not null;default:'';index"`
	Habitats           []string `gorm:"type:text[];not null;default:'{}'"`
	SizeCategory       string   `gorm:"type:varchar(20)"` // small, medium, large
	PrimaryColors      []string `gorm:"type:text[];not null;default:'{}'"`
	ConservationStatus string   `gorm:"type:varchar(10)"`
	DescriptionSpanish string   `gorm:"type:text"`
	DescriptionEnglish string   `gorm:"type:text"`
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// TableName ensures GORM uses the expected table name.
func (SpeciesEntity) TableName() string {
	return "species"
}

// ImageEntity maps to the 'images' table.
type ImageEntity struct {
	ID                   string        `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	SpeciesID            string        `gorm:"type:uuid;not null;index"`
	Species              SpeciesEntity `gorm:"foreignKey:SpeciesID;references:ID;constraint:OnDelete:CASCADE"`
	UnsplashID           string        `gorm:"type:varchar(64);uniqueIndex;not null"`
	URL                  string        `gorm:"type:text;not null"`
	ThumbnailURL         string        `gorm:"type:text;not null;default:''"`
	Width                int           `gorm:"not null;default:0"`
	Height               int           `gorm:"not null;default:0"`
	Description          string        `gorm:"type:text"`
	Photographer         string        `gorm:"type:varchar(255);not null;default:''"`
	PhotographerUsername string        `gorm:"type:varchar(255);not null;default:''"`
	AnnotationCount      int           `gorm:"not null;default:0"`
	CreatedAt            time.Time     `gorm:"index"`
}

// TableName ensures GORM uses the expected table name.
func (ImageEntity) TableName() string {
	return "images"
}

// AnnotationEntity maps to the 'annotations' table.
type AnnotationEntity struct {
	ID              string      `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	ImageID         string      `gorm:"type:uuid;not null;index"`
	Image           ImageEntity `gorm:"foreignKey:ImageID;references:ID;constraint:OnDelete:CASCADE"`
	BoundingBox     []byte      `gorm:"type:jsonb;not null"`
	AnnotationType  string      `gorm:"type:varchar(20);not null;index"`
	SpanishTerm     string      `gorm:"type:varchar(255);not null;index"`
	EnglishTerm     string      `gorm:"type:varchar(255);not null"`
	Pronunciation   string      `gorm:"type:varchar(255)"`
	DifficultyLevel int         `gorm:"not null;default:1;check:difficulty_level BETWEEN 1 AND 5"`
	IsVisible       bool        `gorm:"not null;default:true"`
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// TableName ensures GORM uses the expected table name.
func (AnnotationEntity) TableName() string {
	return "annotations"
}
