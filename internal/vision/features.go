package vision

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	"github.com/aves-app/aves/internal/datastore"
	"github.com/aves-app/aves/internal/errors"
	"github.com/aves-app/aves/internal/positioning"
)

const systemPrompt = `You are an ornithologist and Spanish teacher. You label visible anatomical, ` +
	`behavioral, color and pattern features of birds in photographs for Spanish learners. ` +
	`Answer with JSON only.`

// Feature is one labelled region proposed by the model.
type Feature struct {
	SpanishTerm   string          `json:"spanishTerm"`
	EnglishTerm   string          `json:"englishTerm"`
	Pronunciation string          `json:"pronunciation"`
	Type          string          `json:"type"`
	BoundingBox   positioning.Box `json:"boundingBox"`
	Difficulty    int             `json:"difficulty"`
	Confidence    float64         `json:"confidence"`
}

func buildPrompt(sp *datastore.Species) string {
	var b strings.Builder
	if sp != nil {
		fmt.Fprintf(&b, "The photo shows a %s (%s), in Spanish \"%s\".\n", sp.EnglishName, sp.ScientificName, sp.SpanishName)
	}
	b.WriteString("Identify up to 8 clearly visible features useful for learning Spanish bird vocabulary.\n")
	b.WriteString("For each feature give the Spanish term with its article, the English term, a simple ")
	b.WriteString("pronunciation guide, a type (anatomical, behavioral, color or pattern), a bounding box ")
	b.WriteString("with x, y, width and height as fractions of the image size (0 to 1, origin top-left), ")
	b.WriteString("a difficulty from 1 (beginner) to 5 (expert) and your confidence from 0 to 1.\n")
	b.WriteString("Return ONLY valid JSON of the form:\n")
	b.WriteString(`{"features": [{"spanishTerm": "el pico", "englishTerm": "beak", "pronunciation": "el PEE-koh", ` +
		`"type": "anatomical", "boundingBox": {"x": 0.45, "y": 0.3, "width": 0.08, "height": 0.06}, ` +
		`"difficulty": 1, "confidence": 0.92}]}`)
	b.WriteString("\n")
	return b.String()
}

// ParseFeatures extracts features from a model reply. Markdown code fences and
// surrounding prose are tolerated; features without terms, with an unknown type or
// with an invalid box are dropped.
func ParseFeatures(text string) ([]Feature, error) {
	cleaned := stripFences(text)

	var raw []Feature
	switch {
	case strings.HasPrefix(cleaned, "["):
		if err := json.Unmarshal([]byte(cleaned), &raw); err != nil {
			return nil, parseError(err, text)
		}
	default:
		var wrapped struct {
			Features []Feature `json:"features"`
		}
		if err := json.Unmarshal([]byte(cleaned), &wrapped); err != nil {
			return nil, parseError(err, text)
		}
		raw = wrapped.Features
	}

	features := make([]Feature, 0, len(raw))
	for _, f := range raw {
		f.SpanishTerm = strings.TrimSpace(f.SpanishTerm)
		f.EnglishTerm = strings.TrimSpace(f.EnglishTerm)
		f.Type = strings.ToLower(strings.TrimSpace(f.Type))
		if f.SpanishTerm == "" || f.EnglishTerm == "" {
			continue
		}
		if !slices.Contains(datastore.AnnotationTypes, f.Type) {
			continue
		}
		if !f.BoundingBox.Valid() {
			continue
		}
		f.Difficulty = min(max(f.Difficulty, 1), 5)
		f.Confidence = min(max(f.Confidence, 0), 1)
		features = append(features, f)
	}
	return features, nil
}

// stripFences removes a surrounding markdown code fence and any prose before the JSON.
func stripFences(text string) string {
	cleaned := strings.TrimSpace(text)
	if strings.HasPrefix(cleaned, "```") {
		if idx := strings.Index(cleaned, "\n"); idx >= 0 {
			cleaned = cleaned[idx+1:]
		}
		if idx := strings.LastIndex(cleaned, "```"); idx >= 0 {
			cleaned = cleaned[:idx]
		}
		cleaned = strings.TrimSpace(cleaned)
	}
	if idx := strings.IndexAny(cleaned, "{["); idx > 0 {
		cleaned = cleaned[idx:]
	}
	return cleaned
}

func parseError(err error, raw string) error {
	const maxRaw = 300
	if len(raw) > maxRaw {
		raw = raw[:maxRaw] + "..."
	}
	return errors.New(err).
		Component("vision").
		Category(errors.CategoryFileParsing).
		Context("operation", "parse_features").
		Context("raw", raw).
		Build()
}
