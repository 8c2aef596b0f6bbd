package exercises

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aves-app/aves/internal/datastore"
	"github.com/aves-app/aves/internal/errors"
	"github.com/aves-app/aves/internal/positioning"
)

type cacheEntry struct {
	payload []byte
	expires time.Time
	hits    int
}

type fakeStore struct {
	annotations []datastore.Annotation
	cache       map[string]*cacheEntry
	lastFilter  datastore.AnnotationFilter
	queries     int
	putErr      error
}

func newFakeStore(n int) *fakeStore {
	s := &fakeStore{cache: map[string]*cacheEntry{}}
	for i := range n {
		s.annotations = append(s.annotations, datastore.Annotation{
			ID:              fmt.Sprintf("a%d", i),
			SpanishTerm:     fmt.Sprintf("término %d", i),
			EnglishTerm:     fmt.Sprintf("term %d", i),
			AnnotationType:  "anatomical",
			DifficultyLevel: 1 + i%5,
			BoundingBox:     positioning.Box{X: 0.1, Y: 0.1, Width: 0.2, Height: 0.2},
			Image:           &datastore.AnnotationImage{URL: fmt.Sprintf("https://images.test/%d.jpg", i)},
		})
	}
	return s
}

func (s *fakeStore) VisibleAnnotations(_ context.Context, f datastore.AnnotationFilter) ([]datastore.Annotation, error) {
	s.queries++
	s.lastFilter = f
	return s.annotations, nil
}

func (s *fakeStore) GetCachedExercise(_ context.Context, key string, now time.Time) (*datastore.CachedExercise, error) {
	e, ok := s.cache[key]
	if !ok || !e.expires.After(now) {
		return nil, nil
	}
	e.hits++
	return &datastore.CachedExercise{Key: key, Payload: e.payload, HitCount: e.hits, ExpiresAt: e.expires}, nil
}

func (s *fakeStore) PutCachedExercise(_ context.Context, key, _ string, payload []byte, now time.Time, ttl time.Duration) error {
	if s.putErr != nil {
		return s.putErr
	}
	s.cache[key] = &cacheEntry{payload: payload, expires: now.Add(ttl)}
	return nil
}

type clock struct{ t time.Time }

func (c *clock) Now() time.Time { return c.t }

func newGenerator(s *fakeStore, c *clock) *Generator {
	return NewGenerator(s, time.Hour, WithClock(c.Now), WithSeed(42))
}

func TestVisualIdentification(t *testing.T) {
	t.Parallel()

	g := newGenerator(newFakeStore(6), &clock{t: time.Now()})
	set, err := g.Generate(t.Context(), TypeVisualIdentification, 3, Filters{})
	require.NoError(t, err)
	assert.False(t, set.Cached)
	require.Len(t, set.Exercises, 3)

	seen := map[string]bool{}
	for _, ex := range set.Exercises {
		assert.Equal(t, TypeVisualIdentification, ex.Type)
		assert.NotEmpty(t, ex.ImageURL)
		require.NotNil(t, ex.BoundingBox)
		require.Len(t, ex.Options, optionCount)
		assert.Contains(t, ex.Options, ex.CorrectAnswer)
		assert.ElementsMatch(t, uniq(ex.Options), ex.Options, "options are distinct")
		assert.False(t, seen[ex.AnnotationID], "annotations are not repeated")
		seen[ex.AnnotationID] = true
	}
}

func TestTranslationPromptUsesEnglish(t *testing.T) {
	t.Parallel()

	store := newFakeStore(4)
	g := newGenerator(store, &clock{t: time.Now()})
	set, err := g.Generate(t.Context(), TypeTranslation, 10, Filters{SpeciesID: "sp1", Difficulty: 2})
	require.NoError(t, err)

	assert.Len(t, set.Exercises, 4, "capped at the number of distinct terms")
	assert.Equal(t, "sp1", store.lastFilter.SpeciesID)
	assert.Equal(t, 2, store.lastFilter.DifficultyLevel)
	for _, ex := range set.Exercises {
		assert.Contains(t, ex.Prompt, "term ")
		assert.Contains(t, ex.Options, ex.CorrectAnswer)
		assert.Empty(t, ex.ImageURL)
	}
}

func TestTermMatching(t *testing.T) {
	t.Parallel()

	g := newGenerator(newFakeStore(8), &clock{t: time.Now()})
	set, err := g.Generate(t.Context(), TypeTermMatching, 5, Filters{})
	require.NoError(t, err)
	require.Len(t, set.Exercises, 1)

	ex := set.Exercises[0]
	require.Len(t, ex.Pairs, 5)
	english := make([]string, 0, len(ex.Pairs))
	for _, p := range ex.Pairs {
		english = append(english, p.EnglishTerm)
	}
	assert.ElementsMatch(t, english, ex.Shuffled)
}

func TestNotEnoughAnnotations(t *testing.T) {
	t.Parallel()

	tests := []struct {
		typ   Type
		terms int
		count int
	}{
		{TypeVisualIdentification, 3, 1},
		{TypeTranslation, 0, 1},
		{TypeTermMatching, 4, 5},
		{TypeTermMatching, 1, 1},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s/%d", tt.typ, tt.terms), func(t *testing.T) {
			t.Parallel()
			g := newGenerator(newFakeStore(tt.terms), &clock{t: time.Now()})
			_, err := g.Generate(t.Context(), tt.typ, tt.count, Filters{})
			require.Error(t, err)
			assert.True(t, errors.IsNotFound(err))
		})
	}
}

func TestDuplicateTermsCountOnce(t *testing.T) {
	t.Parallel()

	store := newFakeStore(3)
	store.annotations = append(store.annotations, datastore.Annotation{ID: "dup", SpanishTerm: "  TÉRMINO 0 ", EnglishTerm: "again"})
	g := newGenerator(store, &clock{t: time.Now()})

	_, err := g.Generate(t.Context(), TypeTranslation, 1, Filters{})
	assert.True(t, errors.IsNotFound(err))
}

func TestGenerateServesCacheUntilExpiry(t *testing.T) {
	t.Parallel()

	store := newFakeStore(6)
	c := &clock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	g := newGenerator(store, c)

	first, err := g.Generate(t.Context(), TypeTranslation, 2, Filters{})
	require.NoError(t, err)
	assert.Equal(t, 1, store.queries)

	c.t = c.t.Add(30 * time.Minute)
	second, err := g.Generate(t.Context(), TypeTranslation, 2, Filters{})
	require.NoError(t, err)
	assert.True(t, second.Cached)
	assert.Equal(t, 1, store.queries)
	assert.Equal(t, first.Exercises[0].ID, second.Exercises[0].ID)
	assert.Equal(t, 1, store.cache[CacheKey(TypeTranslation, 2, Filters{})].hits)

	_, err = g.Generate(t.Context(), TypeTranslation, 3, Filters{})
	require.NoError(t, err)
	assert.Equal(t, 2, store.queries, "different count is a different key")

	c.t = c.t.Add(time.Hour)
	third, err := g.Generate(t.Context(), TypeTranslation, 2, Filters{})
	require.NoError(t, err)
	assert.False(t, third.Cached)
	assert.Equal(t, 3, store.queries)
}

func TestCacheWriteFailureIsNotFatal(t *testing.T) {
	t.Parallel()

	store := newFakeStore(5)
	store.putErr = fmt.Errorf("disk full")
	g := newGenerator(store, &clock{t: time.Now()})

	set, err := g.Generate(t.Context(), TypeVisualIdentification, 1, Filters{})
	require.NoError(t, err)
	assert.Len(t, set.Exercises, 1)
}

func TestGenerateValidatesInput(t *testing.T) {
	t.Parallel()

	g := newGenerator(newFakeStore(5), &clock{t: time.Now()})

	_, err := g.Generate(t.Context(), Type("fill_in_blank"), 1, Filters{})
	assert.True(t, errors.IsCategory(err, errors.CategoryValidation))

	_, err = g.Generate(t.Context(), TypeTranslation, 0, Filters{})
	assert.True(t, errors.IsCategory(err, errors.CategoryValidation))

	_, err = g.Generate(t.Context(), TypeTranslation, MaxCount+1, Filters{})
	assert.True(t, errors.IsCategory(err, errors.CategoryValidation))
}

func TestCacheKey(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "translation:5:any:0", CacheKey(TypeTranslation, 5, Filters{}))
	assert.Equal(t, "term_matching:4:sp1:3", CacheKey(TypeTermMatching, 4, Filters{SpeciesID: "sp1", Difficulty: 3}))
}

func uniq(in []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}
