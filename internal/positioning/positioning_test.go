package positioning

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

func TestDelta(t *testing.T) {
	t.Parallel()

	d := Delta(Box{0.1, 0.2, 0.3, 0.4}, Box{0.15, 0.1, 0.3, 0.5})
	assert.InDelta(t, 0.05, d.X, 1e-9)
	assert.InDelta(t, -0.1, d.Y, 1e-9)
	assert.InDelta(t, 0, d.Width, 1e-9)
	assert.InDelta(t, 0.1, d.Height, 1e-9)
	assert.True(t, Delta(Box{0.1, 0.1, 0.2, 0.2}, Box{0.1, 0.1, 0.2, 0.2}).IsZero())
}

func TestRetrainAveragesPerSpeciesAndFeature(t *testing.T) {
	t.Parallel()

	samples := []Sample{
		{"sp-1", "Beak", BoxDelta{X: 0.1, Y: 0.0, Width: 0.02}},
		{"sp-1", " beak ", BoxDelta{X: 0.3, Y: 0.2, Width: 0.04}},
		{"sp-1", "wing", BoxDelta{X: -0.1}},
		{"sp-2", "beak", BoxDelta{Height: 0.06}},
	}

	models := Retrain(samples, now)
	require.Len(t, models, 3)

	assert.Equal(t, "sp-1", models[0].SpeciesID)
	assert.Equal(t, "beak", models[0].FeatureType)
	assert.Equal(t, 2, models[0].SampleCount)
	assert.InDelta(t, 0.2, models[0].AvgDelta.X, 1e-9)
	assert.InDelta(t, 0.1, models[0].AvgDelta.Y, 1e-9)
	assert.InDelta(t, 0.03, models[0].AvgDelta.Width, 1e-9)
	assert.Equal(t, now, models[0].UpdatedAt)

	assert.Equal(t, "wing", models[1].FeatureType)
	assert.Equal(t, "sp-2", models[2].SpeciesID)
	assert.InDelta(t, 0.06, models[2].AvgDelta.Height, 1e-9)
}

func TestRetrainEmpty(t *testing.T) {
	t.Parallel()
	assert.Empty(t, Retrain(nil, now))
}

func TestApply(t *testing.T) {
	t.Parallel()

	box := Box{X: 0.2, Y: 0.2, Width: 0.3, Height: 0.3}
	model := Model{AvgDelta: BoxDelta{X: 0.05, Y: -0.05, Width: 0.1, Height: 0}, SampleCount: 3}

	tests := []struct {
		name       string
		box        Box
		model      Model
		minSamples int
		want       Box
	}{
		{"below threshold unchanged", box, Model{AvgDelta: model.AvgDelta, SampleCount: 2}, 3, box},
		{"shifted", box, model, 3, Box{X: 0.25, Y: 0.15, Width: 0.4, Height: 0.3}},
		{"zero min uses default", box, model, 0, Box{X: 0.25, Y: 0.15, Width: 0.4, Height: 0.3}},
		{"clamped right edge", Box{X: 0.8, Y: 0.1, Width: 0.2, Height: 0.2},
			Model{AvgDelta: BoxDelta{X: 0.1}, SampleCount: 5}, 3, Box{X: 0.8, Y: 0.1, Width: 0.2, Height: 0.2}},
		{"clamped negative origin", Box{X: 0.02, Y: 0.01, Width: 0.2, Height: 0.2},
			Model{AvgDelta: BoxDelta{X: -0.1, Y: -0.1}, SampleCount: 5}, 3, Box{X: 0, Y: 0, Width: 0.2, Height: 0.2}},
		{"size never collapses", Box{X: 0.5, Y: 0.5, Width: 0.05, Height: 0.05},
			Model{AvgDelta: BoxDelta{Width: -0.2, Height: -0.2}, SampleCount: 5}, 3, Box{X: 0.5, Y: 0.5, Width: minExtent, Height: minExtent}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Apply(tt.box, tt.model, tt.minSamples)
			assert.InDelta(t, tt.want.X, got.X, 1e-9)
			assert.InDelta(t, tt.want.Y, got.Y, 1e-9)
			assert.InDelta(t, tt.want.Width, got.Width, 1e-9)
			assert.InDelta(t, tt.want.Height, got.Height, 1e-9)
			assert.True(t, got.Valid())
		})
	}
}

func TestIndexLookup(t *testing.T) {
	t.Parallel()

	idx := NewIndex([]Model{{SpeciesID: "sp-1", FeatureType: "beak", SampleCount: 4}})
	m, ok := idx.Lookup("sp-1", "BEAK")
	require.True(t, ok)
	assert.Equal(t, 4, m.SampleCount)

	_, ok = idx.Lookup("sp-2", "beak")
	assert.False(t, ok)
}

func TestBoxValid(t *testing.T) {
	t.Parallel()

	assert.True(t, Box{0, 0, 1, 1}.Valid())
	assert.False(t, Box{0.5, 0.5, 0.6, 0.1}.Valid())
	assert.False(t, Box{-0.1, 0, 0.5, 0.5}.Valid())
	assert.False(t, Box{0.1, 0.1, 0, 0.5}.Valid())
}

func TestFeatureKey(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "tail feathers", FeatureKey("  Tail   FEATHERS "))
	assert.Equal(t, "", FeatureKey("   "))
}
