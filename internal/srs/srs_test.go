package srs

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aves-app/aves/internal/errors"
)

var now = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func TestReviewIntervalGrowth(t *testing.T) {
	t.Parallel()

	state := NewState()
	expected := []int{1, 6, 16, 45}

	for i, want := range expected {
		var err error
		state, err = Review(state, 5, now)
		require.NoError(t, err)
		assert.Equal(t, want, state.IntervalDays, "review %d", i+1)
		assert.Equal(t, i+1, state.Repetitions)
	}
	assert.Equal(t, now.Add(45*24*time.Hour), state.NextReviewAt)
	assert.InDelta(t, 2.9, state.EaseFactor, 1e-9)
}

func TestReviewFailureResets(t *testing.T) {
	t.Parallel()

	state := State{EaseFactor: 2.5, IntervalDays: 15, Repetitions: 3}
	for _, q := range []int{0, 1, 2} {
		next, err := Review(state, q, now)
		require.NoError(t, err)
		assert.Equal(t, 1, next.IntervalDays, "quality %d", q)
		assert.Equal(t, 0, next.Repetitions, "quality %d", q)
		assert.Equal(t, now.Add(24*time.Hour), next.NextReviewAt)
		assert.Less(t, next.EaseFactor, state.EaseFactor)
	}
}

func TestEaseFactorUpdate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		quality int
		want    float64
	}{
		{5, 2.6},
		{4, 2.5},
		{3, 2.36},
		{2, 2.18},
		{1, 1.96},
		{0, 1.7},
	}
	for _, tt := range tests {
		next, err := Review(NewState(), tt.quality, now)
		require.NoError(t, err)
		assert.InDelta(t, tt.want, next.EaseFactor, 1e-9, "quality %d", tt.quality)
	}
}

func TestEaseFactorFloor(t *testing.T) {
	t.Parallel()

	state := NewState()
	for range 10 {
		var err error
		state, err = Review(state, 0, now)
		require.NoError(t, err)
	}
	assert.InDelta(t, MinEaseFactor, state.EaseFactor, 1e-9)
}

func TestReviewRejectsInvalidQuality(t *testing.T) {
	t.Parallel()

	for _, q := range []int{-1, 6} {
		_, err := Review(NewState(), q, now)
		require.Error(t, err)
		assert.True(t, errors.IsCategory(err, errors.CategoryValidation))
	}
}

func TestZeroStateUsesInitialEase(t *testing.T) {
	t.Parallel()

	next, err := Review(State{}, 4, now)
	require.NoError(t, err)
	assert.InDelta(t, InitialEaseFactor, next.EaseFactor, 1e-9)
}

func TestIsDue(t *testing.T) {
	t.Parallel()

	assert.True(t, NewState().IsDue(now))
	assert.True(t, State{NextReviewAt: now}.IsDue(now))
	assert.False(t, State{NextReviewAt: now.Add(time.Hour)}.IsDue(now))
}

func TestMasteryLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name               string
		exposures, correct int
		want               int
	}{
		{"never seen", 0, 0, 0},
		{"single lucky answer", 1, 1, 20},
		{"half right early", 2, 1, 20},
		{"all right after ramp", 5, 5, 100},
		{"mostly right", 10, 8, 80},
		{"correct clamped", 3, 7, 60},
		{"all wrong", 6, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, MasteryLevel(tt.exposures, tt.correct))
		})
	}
}

func TestQualityFromAnswer(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 1, QualityFromAnswer(false, time.Second))
	assert.Equal(t, 5, QualityFromAnswer(true, 3*time.Second))
	assert.Equal(t, 4, QualityFromAnswer(true, 10*time.Second))
	assert.Equal(t, 4, QualityFromAnswer(true, 0))
	assert.Equal(t, 3, QualityFromAnswer(true, 30*time.Second))
}
