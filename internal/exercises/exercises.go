// Package exercises builds vocabulary exercises from approved annotations and
// caches generated sets in the database.
package exercises

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/aves-app/aves/internal/datastore"
	"github.com/aves-app/aves/internal/errors"
	"github.com/aves-app/aves/internal/logger"
	"github.com/aves-app/aves/internal/positioning"
)

// Type names an exercise kind.
type Type string

const (
	TypeVisualIdentification Type = "visual_identification"
	TypeTranslation          Type = "translation"
	TypeTermMatching         Type = "term_matching"
)

// Types lists the supported exercise kinds.
var Types = []Type{TypeVisualIdentification, TypeTranslation, TypeTermMatching}

const (
	optionCount = 4
	// MaxCount bounds exercises per set, and pairs per matching exercise.
	MaxCount = 20
	// DefaultTTL is how long a generated set is served from cache.
	DefaultTTL = time.Hour
)

// Filters narrow the annotations an exercise set draws from.
type Filters struct {
	SpeciesID  string `json:"speciesId,omitempty"`
	Difficulty int    `json:"difficulty,omitempty"`
}

// Pair is one Spanish/English match in a term matching exercise.
type Pair struct {
	AnnotationID string `json:"annotationId"`
	SpanishTerm  string `json:"spanishTerm"`
	EnglishTerm  string `json:"englishTerm"`
}

// Exercise is a single question. Fields unused by a type are omitted.
type Exercise struct {
	ID            string           `json:"id"`
	Type          Type             `json:"type"`
	Prompt        string           `json:"prompt"`
	AnnotationID  string           `json:"annotationId,omitempty"`
	ImageURL      string           `json:"imageUrl,omitempty"`
	BoundingBox   *positioning.Box `json:"boundingBox,omitempty"`
	Options       []string         `json:"options,omitempty"`
	CorrectAnswer string           `json:"correctAnswer,omitempty"`
	Pronunciation string           `json:"pronunciation,omitempty"`
	Difficulty    int              `json:"difficulty,omitempty"`
	Pairs         []Pair           `json:"pairs,omitempty"`
	Shuffled      []string         `json:"shuffledEnglish,omitempty"`
}

// Set is a generated batch of exercises.
type Set struct {
	Type        Type       `json:"type"`
	Exercises   []Exercise `json:"exercises"`
	GeneratedAt time.Time  `json:"generatedAt"`
	Cached      bool       `json:"cached"`
}

// Store is the persistence a Generator needs.
type Store interface {
	VisibleAnnotations(ctx context.Context, filter datastore.AnnotationFilter) ([]datastore.Annotation, error)
	GetCachedExercise(ctx context.Context, key string, now time.Time) (*datastore.CachedExercise, error)
	PutCachedExercise(ctx context.Context, key, exerciseType string, payload []byte, now time.Time, ttl time.Duration) error
}

// Option configures a Generator.
type Option func(*Generator)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(g *Generator) { g.now = now }
}

// WithSeed makes generation deterministic.
func WithSeed(seed uint64) Option {
	return func(g *Generator) { g.rng = rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)) }
}

// Generator produces exercise sets.
type Generator struct {
	store Store
	ttl   time.Duration
	now   func() time.Time
	log   logger.Logger

	mu  sync.Mutex
	rng *rand.Rand
}

// NewGenerator creates a generator caching sets for ttl.
func NewGenerator(store Store, ttl time.Duration, opts ...Option) *Generator {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	g := &Generator{
		store: store,
		ttl:   ttl,
		now:   time.Now,
		log:   logger.Global().Module("exercises"),
		rng:   rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// ParseType validates an exercise type name.
func ParseType(s string) (Type, error) {
	t := Type(s)
	if !slices.Contains(Types, t) {
		return "", errors.Newf("unknown exercise type %q", s).
			Component("exercises").
			Category(errors.CategoryValidation).
			Context("allowed", Types).
			Build()
	}
	return t, nil
}

// CacheKey identifies a cached set.
func CacheKey(t Type, count int, f Filters) string {
	species := f.SpeciesID
	if species == "" {
		species = "any"
	}
	return fmt.Sprintf("%s:%d:%s:%d", t, count, species, f.Difficulty)
}

// Generate returns count exercises of type t, serving a cached set when one is live.
// Cache failures are logged and generation proceeds without the cache.
func (g *Generator) Generate(ctx context.Context, t Type, count int, f Filters) (*Set, error) {
	if _, err := ParseType(string(t)); err != nil {
		return nil, err
	}
	if count < 1 || count > MaxCount {
		return nil, errors.Newf("count must be between 1 and %d", MaxCount).
			Component("exercises").
			Category(errors.CategoryValidation).
			Context("count", count).
			Build()
	}

	key := CacheKey(t, count, f)
	now := g.now()

	cached, err := g.store.GetCachedExercise(ctx, key, now)
	if err != nil {
		g.log.Warn("exercise cache read failed", logger.String("cache_key", key), logger.Error(err))
	}
	if cached != nil {
		var set Set
		if err := json.Unmarshal(cached.Payload, &set); err == nil {
			set.Cached = true
			return &set, nil
		}
		g.log.Warn("discarding unreadable cached exercise set", logger.String("cache_key", key))
	}

	annotations, err := g.store.VisibleAnnotations(ctx, datastore.AnnotationFilter{
		SpeciesID:       f.SpeciesID,
		DifficultyLevel: f.Difficulty,
	})
	if err != nil {
		return nil, err
	}

	set, err := g.build(t, count, annotations)
	if err != nil {
		return nil, err
	}
	set.GeneratedAt = now

	payload, err := json.Marshal(set)
	if err == nil {
		err = g.store.PutCachedExercise(ctx, key, string(t), payload, now, g.ttl)
	}
	if err != nil {
		g.log.Warn("exercise cache write failed", logger.String("cache_key", key), logger.Error(err))
	}

	g.log.Debug("generated exercise set",
		logger.String("type", string(t)),
		logger.Int("count", count),
		logger.Int("annotations", len(annotations)))
	return set, nil
}

func (g *Generator) build(t Type, count int, annotations []datastore.Annotation) (*Set, error) {
	terms := distinctTerms(annotations)

	g.mu.Lock()
	defer g.mu.Unlock()

	set := &Set{Type: t}
	switch t {
	case TypeTermMatching:
		if len(terms) < max(count, 2) {
			return nil, notEnough(t, max(count, 2), len(terms))
		}
		set.Exercises = []Exercise{g.matching(terms, count)}

	default:
		if len(terms) < optionCount {
			return nil, notEnough(t, optionCount, len(terms))
		}
		picks := g.sample(terms, min(count, len(terms)))
		for _, a := range picks {
			if t == TypeVisualIdentification {
				set.Exercises = append(set.Exercises, g.visual(a, terms))
			} else {
				set.Exercises = append(set.Exercises, g.translation(a, terms))
			}
		}
	}
	return set, nil
}

func (g *Generator) visual(a datastore.Annotation, pool []datastore.Annotation) Exercise {
	box := a.BoundingBox
	ex := Exercise{
		ID:            uuid.NewString(),
		Type:          TypeVisualIdentification,
		Prompt:        "¿Qué es esto?",
		AnnotationID:  a.ID,
		BoundingBox:   &box,
		Options:       g.options(a, pool),
		CorrectAnswer: a.SpanishTerm,
		Pronunciation: a.Pronunciation,
		Difficulty:    a.DifficultyLevel,
	}
	if a.Image != nil {
		ex.ImageURL = a.Image.URL
	}
	return ex
}

func (g *Generator) translation(a datastore.Annotation, pool []datastore.Annotation) Exercise {
	return Exercise{
		ID:            uuid.NewString(),
		Type:          TypeTranslation,
		Prompt:        fmt.Sprintf("How do you say %q in Spanish?", a.EnglishTerm),
		AnnotationID:  a.ID,
		Options:       g.options(a, pool),
		CorrectAnswer: a.SpanishTerm,
		Pronunciation: a.Pronunciation,
		Difficulty:    a.DifficultyLevel,
	}
}

func (g *Generator) matching(pool []datastore.Annotation, count int) Exercise {
	picks := g.sample(pool, count)
	ex := Exercise{
		ID:     uuid.NewString(),
		Type:   TypeTermMatching,
		Prompt: "Match each Spanish term with its English meaning.",
	}
	for _, a := range picks {
		ex.Pairs = append(ex.Pairs, Pair{AnnotationID: a.ID, SpanishTerm: a.SpanishTerm, EnglishTerm: a.EnglishTerm})
		ex.Shuffled = append(ex.Shuffled, a.EnglishTerm)
	}
	g.rng.Shuffle(len(ex.Shuffled), func(i, j int) { ex.Shuffled[i], ex.Shuffled[j] = ex.Shuffled[j], ex.Shuffled[i] })
	return ex
}

// options returns the correct Spanish term plus distractors, shuffled.
func (g *Generator) options(correct datastore.Annotation, pool []datastore.Annotation) []string {
	opts := []string{correct.SpanishTerm}
	for _, a := range g.sample(pool, len(pool)) {
		if len(opts) == optionCount {
			break
		}
		if positioning.FeatureKey(a.SpanishTerm) == positioning.FeatureKey(correct.SpanishTerm) {
			continue
		}
		opts = append(opts, a.SpanishTerm)
	}
	g.rng.Shuffle(len(opts), func(i, j int) { opts[i], opts[j] = opts[j], opts[i] })
	return opts
}

// sample returns n annotations in random order. Callers hold g.mu.
func (g *Generator) sample(pool []datastore.Annotation, n int) []datastore.Annotation {
	idx := g.rng.Perm(len(pool))[:n]
	out := make([]datastore.Annotation, n)
	for i, j := range idx {
		out[i] = pool[j]
	}
	return out
}

// distinctTerms keeps the first annotation for each Spanish term.
func distinctTerms(annotations []datastore.Annotation) []datastore.Annotation {
	seen := make(map[string]struct{}, len(annotations))
	out := make([]datastore.Annotation, 0, len(annotations))
	for _, a := range annotations {
		k := positioning.FeatureKey(a.SpanishTerm)
		if k == "" {
			continue
		}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, a)
	}
	return out
}

func notEnough(t Type, need, have int) error {
	return errors.Newf("not enough annotations to build %s exercises", t).
		Component("exercises").
		Category(errors.CategoryNotFound).
		Context("required_terms", need).
		Context("available_terms", have).
		Build()
}
