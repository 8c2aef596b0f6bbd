// Package positioning learns systematic offsets in AI-generated bounding boxes from
// reviewer corrections and applies them to new AI output.
package positioning

import (
	"cmp"
	"math"
	"slices"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// DefaultMinSamples is the number of corrections needed before a model is applied.
const DefaultMinSamples = 3

// minExtent keeps corrected boxes from collapsing to zero size.
const minExtent = 0.01

// Box is a bounding box in image-relative coordinates (0..1).
type Box struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Valid reports whether the box has positive size and lies within the image.
func (b Box) Valid() bool {
	const eps = 1e-9
	return b.X >= 0 && b.Y >= 0 &&
		b.Width > 0 && b.Height > 0 &&
		b.X+b.Width <= 1+eps && b.Y+b.Height <= 1+eps
}

// BoxDelta is the correction applied by a reviewer (corrected minus original).
type BoxDelta struct {
	X      float64 `json:"deltaX"`
	Y      float64 `json:"deltaY"`
	Width  float64 `json:"deltaWidth"`
	Height float64 `json:"deltaHeight"`
}

// Sample is one recorded correction.
type Sample struct {
	SpeciesID   string
	FeatureType string
	Delta       BoxDelta
}

// Model is the averaged correction for one species and feature.
type Model struct {
	SpeciesID   string    `json:"speciesId"`
	FeatureType string    `json:"featureType"`
	AvgDelta    BoxDelta  `json:"avgDelta"`
	SampleCount int       `json:"sampleCount"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Delta returns corrected minus original.
func Delta(original, corrected Box) BoxDelta {
	return BoxDelta{
		X:      corrected.X - original.X,
		Y:      corrected.Y - original.Y,
		Width:  corrected.Width - original.Width,
		Height: corrected.Height - original.Height,
	}
}

// IsZero reports whether the delta moves nothing.
func (d BoxDelta) IsZero() bool {
	return d == BoxDelta{}
}

type modelKey struct {
	species, feature string
}

// Retrain groups samples by species and feature key and averages their deltas.
// Results are sorted by species then feature.
func Retrain(samples []Sample, now time.Time) []Model {
	type sum struct {
		delta BoxDelta
		n     int
	}
	sums := make(map[modelKey]*sum)

	for _, s := range samples {
		k := modelKey{s.SpeciesID, FeatureKey(s.FeatureType)}
		acc, ok := sums[k]
		if !ok {
			acc = &sum{}
			sums[k] = acc
		}
		acc.delta.X += s.Delta.X
		acc.delta.Y += s.Delta.Y
		acc.delta.Width += s.Delta.Width
		acc.delta.Height += s.Delta.Height
		acc.n++
	}

	models := make([]Model, 0, len(sums))
	for k, acc := range sums {
		n := float64(acc.n)
		models = append(models, Model{
			SpeciesID:   k.species,
			FeatureType: k.feature,
			AvgDelta: BoxDelta{
				X:      acc.delta.X / n,
				Y:      acc.delta.Y / n,
				Width:  acc.delta.Width / n,
				Height: acc.delta.Height / n,
			},
			SampleCount: acc.n,
			UpdatedAt:   now,
		})
	}

	slices.SortFunc(models, func(a, b Model) int {
		return cmp.Or(cmp.Compare(a.SpeciesID, b.SpeciesID), cmp.Compare(a.FeatureType, b.FeatureType))
	})
	return models
}

// Apply shifts box by the model's average delta when the model has at least
// minSamples samples, clamping the result into the unit square.
func Apply(box Box, model Model, minSamples int) Box {
	if minSamples < 1 {
		minSamples = DefaultMinSamples
	}
	if model.SampleCount < minSamples {
		return box
	}

	w := clamp(box.Width+model.AvgDelta.Width, minExtent, 1)
	h := clamp(box.Height+model.AvgDelta.Height, minExtent, 1)
	return Box{
		X:      clamp(box.X+model.AvgDelta.X, 0, 1-w),
		Y:      clamp(box.Y+model.AvgDelta.Y, 0, 1-h),
		Width:  w,
		Height: h,
	}
}

// Index looks up models by species and feature.
type Index map[modelKey]Model

// NewIndex builds an Index from models.
func NewIndex(models []Model) Index {
	idx := make(Index, len(models))
	for _, m := range models {
		idx[modelKey{m.SpeciesID, FeatureKey(m.FeatureType)}] = m
	}
	return idx
}

// Lookup returns the model for species and feature term.
func (idx Index) Lookup(speciesID, feature string) (Model, bool) {
	m, ok := idx[modelKey{speciesID, FeatureKey(feature)}]
	return m, ok
}

// FeatureKey normalises a feature term: trimmed, inner whitespace collapsed, lower-cased.
func FeatureKey(term string) string {
	// Casers are stateful and not safe for concurrent use.
	return cases.Lower(language.Und).String(strings.Join(strings.Fields(term), " "))
}

func clamp(v, lo, hi float64) float64 {
	if hi < lo {
		hi = lo
	}
	return math.Min(hi, math.Max(lo, v))
}
