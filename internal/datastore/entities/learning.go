package entities

import "time"

// VocabularyMasteryEntity maps to the 'vocabulary_mastery' table.
type VocabularyMasteryEntity struct {
	ID           uint   `gorm:"primaryKey"`
	UserID       string `gorm:"type:varchar(255);not null;uniqueIndex:idx_mastery_user_term"`
	Term         string `gorm:"type:varchar(255);not null;uniqueIndex:idx_mastery_user_term"`
	Exposures    int    `gorm:"not null;default:0"`
	CorrectCount int    `gorm:"not null;default:0"`
	MasteryLevel int    `gorm:"not null;default:0;check:mastery_level BETWEEN 0 AND 100"`
	LastSeenAt   time.Time
}

// TableName ensures GORM uses the expected table name.
func (VocabularyMasteryEntity) TableName() string {
	return "vocabulary_mastery"
}

// SRSProgressEntity maps to the 'srs_progress' table.
type SRSProgressEntity struct {
	ID             uint      `gorm:"primaryKey"`
	UserID         string    `gorm:"type:varchar(255);not null;uniqueIndex:idx_srs_user_term;index:idx_srs_user_due"`
	Term           string    `gorm:"type:varchar(255);not null;uniqueIndex:idx_srs_user_term"`
	EaseFactor     float64   `gorm:"not null;default:2.5"`
	IntervalDays   int       `gorm:"not null;default:0"`
	Repetitions    int       `gorm:"not null;default:0"`
	LastQuality    int       `gorm:"not null;default:0"`
	NextReviewAt   time.Time `gorm:"not null;index:idx_srs_user_due"`
	LastReviewedAt *time.Time
}

// TableName ensures GORM uses the expected table name.
func (SRSProgressEntity) TableName() string {
	return "srs_progress"
}

// ExerciseCacheEntity maps to the 'exercise_cache' table.
type ExerciseCacheEntity struct {
	ID           uint      `gorm:"primaryKey"`
	CacheKey     string    `gorm:"type:varchar(255);uniqueIndex;not null"`
	ExerciseType string    `gorm:"type:varchar(50);not null"`
	Payload      []byte    `gorm:"type:jsonb;not null"`
	HitCount     int       `gorm:"not null;default:0"`
	ExpiresAt    time.Time `gorm:"not null;index"`
	CreatedAt    time.Time
}

// TableName ensures GORM uses the expected table name.
func (ExerciseCacheEntity) TableName() string {
	return "exercise_cache"
}

// All returns every model in dependency order.
func All() []any {
	return []any{
		&SpeciesEntity{},
		&ImageEntity{},
		&AnnotationEntity{},
		&AIAnnotationEntity{},
		&AIAnnotationItemEntity{},
		&AIAnnotationReviewEntity{},
		&PositioningModelEntity{},
		&VocabularyMasteryEntity{},
		&SRSProgressEntity{},
		&ExerciseCacheEntity{},
	}
}
