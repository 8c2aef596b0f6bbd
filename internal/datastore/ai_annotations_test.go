package datastore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aves-app/aves/internal/positioning"
)

func TestCorrectionBaseline(t *testing.T) {
	t.Parallel()

	raw := positioning.Box{X: 0.3, Y: 0.4, Width: 0.3, Height: 0.2}
	shifted := positioning.Box{X: 0.33, Y: 0.4, Width: 0.3, Height: 0.2}

	assert.Equal(t, raw, correctionBaseline(&AIAnnotationItem{BoundingBox: raw}),
		"without a stored original the current box is the baseline")
	assert.Equal(t, raw, correctionBaseline(&AIAnnotationItem{BoundingBox: shifted, OriginalBox: &raw}),
		"a corrected item is measured from the raw box")
}

// reviewToTruth edits it to the reviewer's box and returns the recorded sample.
func reviewToTruth(it *AIAnnotationItem, truth positioning.Box) positioning.Sample {
	baseline := correctionBaseline(it)
	applyEdit(it, ItemEdit{BoundingBox: &truth})
	return positioning.Sample{
		SpeciesID:   it.SpeciesID,
		FeatureType: it.SpanishTerm,
		Delta:       positioning.Delta(baseline, it.BoundingBox),
	}
}

func TestCorrectionLoopStableAcrossRetrains(t *testing.T) {
	t.Parallel()

	const minSamples = 3
	raw := positioning.Box{X: 0.4, Y: 0.3, Width: 0.2, Height: 0.2}
	truth := positioning.Box{X: 0.5, Y: 0.3, Width: 0.2, Height: 0.2}
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	var samples []positioning.Sample
	for range minSamples {
		it := &AIAnnotationItem{SpeciesID: "sp-1", SpanishTerm: "el pico", BoundingBox: raw}
		samples = append(samples, reviewToTruth(it, truth))
	}
	models := positioning.Retrain(samples, now)
	require.Len(t, models, 1)
	assert.InDelta(t, 0.1, models[0].AvgDelta.X, 1e-9)

	// Second round: new items arrive already corrected by the model.
	for range minSamples {
		corrected := positioning.Apply(raw, models[0], minSamples)
		assert.InDelta(t, truth.X, corrected.X, 1e-9)

		rawCopy := raw
		it := &AIAnnotationItem{SpeciesID: "sp-1", SpanishTerm: "el pico", BoundingBox: corrected, OriginalBox: &rawCopy}
		s := reviewToTruth(it, truth)
		assert.InDelta(t, 0.1, s.Delta.X, 1e-9, "confirming a corrected box still records the full offset")
		assert.Equal(t, raw, *it.OriginalBox)
		samples = append(samples, s)
	}

	models = positioning.Retrain(samples, now.Add(time.Hour))
	require.Len(t, models, 1)
	assert.Equal(t, 2*minSamples, models[0].SampleCount)
	assert.InDelta(t, 0.1, models[0].AvgDelta.X, 1e-9)
	assert.InDelta(t, truth.X, positioning.Apply(raw, models[0], minSamples).X, 1e-9)
}

func TestUniqueIDs(t *testing.T) {
	t.Parallel()

	assert.Equal(t, []string{"b", "a", "c"}, uniqueIDs([]string{"b", "a", "b", "c", "a"}))
	assert.Empty(t, uniqueIDs(nil))
}
