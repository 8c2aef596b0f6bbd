// Package srs implements SM-2 spaced-repetition scheduling and vocabulary mastery scoring.
package srs

import (
	"math"
	"time"

	"github.com/aves-app/aves/internal/errors"
)

const (
	// InitialEaseFactor is the ease factor of a term that was never reviewed.
	InitialEaseFactor = 2.5
	// MinEaseFactor is the SM-2 floor for the ease factor.
	MinEaseFactor = 1.3

	// PassingQuality is the lowest quality that counts as a successful recall.
	PassingQuality = 3
	MaxQuality     = 5

	firstInterval  = 1
	secondInterval = 6

	// masteryRampExposures is the exposure count at which mastery is no longer damped.
	masteryRampExposures = 5

	day = 24 * time.Hour
)

// State is the per-user, per-term SM-2 state.
type State struct {
	EaseFactor     float64   `json:"easeFactor"`
	IntervalDays   int       `json:"intervalDays"`
	Repetitions    int       `json:"repetitions"`
	LastQuality    int       `json:"lastQuality"`
	NextReviewAt   time.Time `json:"nextReviewAt"`
	LastReviewedAt time.Time `json:"lastReviewedAt"`
}

// NewState returns the state of an unreviewed term.
func NewState() State {
	return State{EaseFactor: InitialEaseFactor}
}

// Review applies one SM-2 step for a recall of the given quality (0..5) at now.
func Review(state State, quality int, now time.Time) (State, error) {
	if quality < 0 || quality > MaxQuality {
		return state, errors.Newf("quality must be between 0 and %d, got %d", MaxQuality, quality).
			Component("srs").
			Category(errors.CategoryValidation).
			Context("quality", quality).
			Build()
	}
	if state.EaseFactor == 0 {
		state.EaseFactor = InitialEaseFactor
	}

	next := state
	if quality < PassingQuality {
		next.Repetitions = 0
		next.IntervalDays = firstInterval
	} else {
		switch state.Repetitions {
		case 0:
			next.IntervalDays = firstInterval
		case 1:
			next.IntervalDays = secondInterval
		default:
			next.IntervalDays = int(math.Round(float64(state.IntervalDays) * state.EaseFactor))
		}
		next.Repetitions = state.Repetitions + 1
	}

	next.EaseFactor = nextEaseFactor(state.EaseFactor, quality)
	next.LastQuality = quality
	next.LastReviewedAt = now
	next.NextReviewAt = now.Add(time.Duration(next.IntervalDays) * day)
	return next, nil
}

// nextEaseFactor is EF + 0.1 - (5-q)(0.08 + (5-q)0.02), floored at MinEaseFactor.
func nextEaseFactor(ef float64, quality int) float64 {
	d := float64(MaxQuality - quality)
	ef += 0.1 - d*(0.08+d*0.02)
	return math.Max(MinEaseFactor, ef)
}

// IsDue reports whether a term should be reviewed at now.
func (s State) IsDue(now time.Time) bool {
	return s.NextReviewAt.IsZero() || !s.NextReviewAt.After(now)
}

// MasteryLevel returns a 0..100 score: the correct ratio damped until the term
// has been seen masteryRampExposures times.
func MasteryLevel(exposures, correct int) int {
	if exposures <= 0 || correct <= 0 {
		return 0
	}
	correct = min(correct, exposures)
	ratio := float64(correct) / float64(exposures)
	confidence := math.Min(1, float64(exposures)/masteryRampExposures)
	return int(math.Round(ratio * 100 * confidence))
}

// QualityFromAnswer maps an exercise outcome to SM-2 quality:
// wrong answers score 1, correct answers 5 when fast, 4 normally, 3 when slow.
func QualityFromAnswer(correct bool, elapsed time.Duration) int {
	switch {
	case !correct:
		return 1
	case elapsed > 0 && elapsed <= 5*time.Second:
		return 5
	case elapsed > 20*time.Second:
		return 3
	default:
		return 4
	}
}
