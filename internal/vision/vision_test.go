package vision

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aves-app/aves/internal/conf"
	"github.com/aves-app/aves/internal/datastore"
	"github.com/aves-app/aves/internal/errors"
	"github.com/aves-app/aves/internal/httpclient"
	"github.com/aves-app/aves/internal/jobs"
	"github.com/aves-app/aves/internal/positioning"
)

const messagesURL = "https://claude.test/v1/messages"

const featuresReply = "```json\n" + `{"features": [
	{"spanishTerm": "el pico", "englishTerm": "beak", "pronunciation": "el PEE-koh", "type": "anatomical",
	 "boundingBox": {"x": 0.4, "y": 0.3, "width": 0.1, "height": 0.1}, "difficulty": 1, "confidence": 0.9},
	{"spanishTerm": "las alas", "englishTerm": "wings", "type": "Anatomical",
	 "boundingBox": {"x": 0.2, "y": 0.4, "width": 0.5, "height": 0.3}, "difficulty": 9, "confidence": 0.7}
]}` + "\n```"

type countingRetries struct {
	mu    sync.Mutex
	count int
}

func (c *countingRetries) RecordRetry(service string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if service == serviceName {
		c.count++
	}
}

func (c *countingRetries) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.count
}

func newMockedClient(t *testing.T, key string) (*ClaudeClient, *httpmock.MockTransport, *countingRetries) {
	t.Helper()
	transport := httpmock.NewMockTransport()
	hc := httpclient.New(&httpclient.Config{DefaultTimeout: time.Second})
	hc.HTTPClient().Transport = transport
	retries := &countingRetries{}
	client := NewClaudeClient(&conf.AnthropicSettings{
		APIKey:         key,
		BaseURL:        "https://claude.test/",
		MaxAttempts:    3,
		InitialBackoff: time.Millisecond,
	}, hc, retries)
	return client, transport, retries
}

func messageResponse(text string) string {
	body, _ := json.Marshal(map[string]any{
		"content":     []map[string]string{{"type": "text", "text": text}},
		"stop_reason": "end_turn",
		"usage":       map[string]int{"input_tokens": 1200, "output_tokens": 300},
	})
	return string(body)
}

func TestAnnotateSendsImageBlock(t *testing.T) {
	t.Parallel()

	client, transport, _ := newMockedClient(t, "sk-test")
	transport.RegisterResponder(http.MethodPost, messagesURL, func(req *http.Request) (*http.Response, error) {
		assert.Equal(t, "sk-test", req.Header.Get("x-api-key"))
		assert.Equal(t, anthropicVersion, req.Header.Get("anthropic-version"))

		raw, err := io.ReadAll(req.Body)
		require.NoError(t, err)
		var sent messagesRequest
		require.NoError(t, json.Unmarshal(raw, &sent))
		assert.Equal(t, conf.DefaultAnthropicModel, sent.Model)
		require.Len(t, sent.Messages, 1)
		require.Len(t, sent.Messages[0].Content, 2)
		img := sent.Messages[0].Content[0]
		assert.Equal(t, "image", img.Type)
		require.NotNil(t, img.Source)
		assert.Equal(t, "url", img.Source.Type)
		assert.Equal(t, "https://images.test/robin.jpg", img.Source.URL)
		assert.Contains(t, sent.Messages[0].Content[1].Text, "Petirrojo")

		return httpmock.NewStringResponse(http.StatusOK, messageResponse(featuresReply)), nil
	})

	features, err := client.Annotate(t.Context(), "https://images.test/robin.jpg",
		&datastore.Species{EnglishName: "American Robin", SpanishName: "Petirrojo", ScientificName: "Turdus migratorius"})
	require.NoError(t, err)
	require.Len(t, features, 2)
	assert.Equal(t, "el pico", features[0].SpanishTerm)
	assert.Equal(t, "anatomical", features[1].Type)
	assert.Equal(t, 5, features[1].Difficulty)
	assert.Equal(t, 1, transport.GetTotalCallCount())
}

func TestAnnotateRetriesTransientFailures(t *testing.T) {
	t.Parallel()

	client, transport, retries := newMockedClient(t, "k")
	responder := httpmock.NewStringResponder(http.StatusServiceUnavailable, `{"error":"overloaded"}`).
		Then(httpmock.NewStringResponder(http.StatusTooManyRequests, `{"error":"slow down"}`)).
		Then(httpmock.NewStringResponder(http.StatusOK, messageResponse(featuresReply)))
	transport.RegisterResponder(http.MethodPost, messagesURL, responder)

	features, err := client.Annotate(t.Context(), "https://images.test/a.jpg", nil)
	require.NoError(t, err)
	assert.Len(t, features, 2)
	assert.Equal(t, 3, transport.GetTotalCallCount())
	assert.Equal(t, 2, retries.Count())
}

func TestAnnotateGivesUpAfterMaxAttempts(t *testing.T) {
	t.Parallel()

	client, transport, _ := newMockedClient(t, "k")
	transport.RegisterResponder(http.MethodPost, messagesURL, httpmock.NewErrorResponder(fmt.Errorf("connection reset")))

	_, err := client.Annotate(t.Context(), "https://images.test/a.jpg", nil)
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryRetry))
	assert.Equal(t, 3, transport.GetTotalCallCount())
}

func TestAnnotateClientErrorsAreNotRetried(t *testing.T) {
	t.Parallel()

	tests := []struct {
		status int
		want   errors.ErrorCategory
	}{
		{http.StatusBadRequest, errors.CategoryVision},
		{http.StatusUnauthorized, errors.CategoryConfiguration},
		{http.StatusNotFound, errors.CategoryVision},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			t.Parallel()
			client, transport, retries := newMockedClient(t, "k")
			transport.RegisterResponder(http.MethodPost, messagesURL,
				httpmock.NewStringResponder(tt.status, `{"type":"error"}`))

			_, err := client.Annotate(t.Context(), "https://images.test/a.jpg", nil)
			require.Error(t, err)
			assert.Equal(t, tt.want, errors.CategoryOf(err))
			assert.Equal(t, 1, transport.GetTotalCallCount())
			assert.Zero(t, retries.Count())
		})
	}
}

func TestAnnotateWithoutKey(t *testing.T) {
	t.Parallel()

	client, transport, _ := newMockedClient(t, "")
	_, err := client.Annotate(t.Context(), "https://images.test/a.jpg", nil)
	assert.True(t, errors.IsCategory(err, errors.CategoryConfiguration))
	assert.Zero(t, transport.GetTotalCallCount())
}

func TestParseFeatures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		text    string
		want    int
		wantErr bool
	}{
		{"plain object", `{"features": [{"spanishTerm": "la cola", "englishTerm": "tail", "type": "anatomical", "boundingBox": {"x": 0.1, "y": 0.1, "width": 0.2, "height": 0.2}}]}`, 1, false},
		{"bare array", `[{"spanishTerm": "rojo", "englishTerm": "red", "type": "color", "boundingBox": {"x": 0.1, "y": 0.1, "width": 0.2, "height": 0.2}}]`, 1, false},
		{"fenced", featuresReply, 2, false},
		{"leading prose", "Here are the features:\n" + `{"features": []}`, 0, false},
		{"box out of range", `{"features": [{"spanishTerm": "la cola", "englishTerm": "tail", "type": "anatomical", "boundingBox": {"x": 0.9, "y": 0.1, "width": 0.5, "height": 0.2}}]}`, 0, false},
		{"unknown type", `{"features": [{"spanishTerm": "la cola", "englishTerm": "tail", "type": "texture", "boundingBox": {"x": 0.1, "y": 0.1, "width": 0.2, "height": 0.2}}]}`, 0, false},
		{"missing term", `{"features": [{"spanishTerm": "", "englishTerm": "tail", "type": "anatomical", "boundingBox": {"x": 0.1, "y": 0.1, "width": 0.2, "height": 0.2}}]}`, 0, false},
		{"not json", "I cannot see a bird in this image.", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := ParseFeatures(tt.text)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.IsCategory(err, errors.CategoryFileParsing))
				return
			}
			require.NoError(t, err)
			assert.Len(t, got, tt.want)
		})
	}
}

type fakeDetector struct {
	features []Feature
	err      map[string]error
}

func (d *fakeDetector) Annotate(_ context.Context, imageURL string, _ *datastore.Species) ([]Feature, error) {
	if err := d.err[imageURL]; err != nil {
		return nil, err
	}
	return d.features, nil
}

func (d *fakeDetector) Model() string { return "test-model" }

type fakeStore struct {
	mu      sync.Mutex
	images  map[string]*datastore.Image
	models  []positioning.Model
	created []*datastore.AIAnnotation
}

func (s *fakeStore) GetImage(_ context.Context, id string) (*datastore.Image, error) {
	img, ok := s.images[id]
	if !ok {
		return nil, errors.NotFound("datastore", "image", id)
	}
	return img, nil
}

func (s *fakeStore) GetSpecies(_ context.Context, id string) (*datastore.Species, error) {
	return &datastore.Species{ID: id, EnglishName: "Robin", SpanishName: "Petirrojo"}, nil
}

func (s *fakeStore) PositioningModelsForSpecies(_ context.Context, _ string) ([]positioning.Model, error) {
	return s.models, nil
}

func (s *fakeStore) CreateAIAnnotation(_ context.Context, ann *datastore.AIAnnotation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ann.ID = fmt.Sprintf("ann-%d", len(s.created)+1)
	s.created = append(s.created, ann)
	return nil
}

func testFeatures() []Feature {
	return []Feature{
		{SpanishTerm: "el pico", EnglishTerm: "Beak", Type: "anatomical",
			BoundingBox: positioning.Box{X: 0.4, Y: 0.3, Width: 0.1, Height: 0.1}, Difficulty: 1, Confidence: 0.9},
		{SpanishTerm: "las alas", EnglishTerm: "wings", Type: "anatomical",
			BoundingBox: positioning.Box{X: 0.2, Y: 0.4, Width: 0.4, Height: 0.3}, Difficulty: 2, Confidence: 0.5},
	}
}

func TestAnnotateImageAppliesPositioningModels(t *testing.T) {
	t.Parallel()

	store := &fakeStore{
		images: map[string]*datastore.Image{"img1": {ID: "img1", SpeciesID: "sp1", URL: "https://images.test/1.jpg"}},
		models: []positioning.Model{
			{SpeciesID: "sp1", FeatureType: "beak", AvgDelta: positioning.BoxDelta{X: 0.05}, SampleCount: 4},
			{SpeciesID: "sp1", FeatureType: "wings", AvgDelta: positioning.BoxDelta{Y: 0.1}, SampleCount: 1},
		},
	}
	a := NewAnnotator(&fakeDetector{features: testFeatures()}, store, 0, 3)

	ann, err := a.AnnotateImage(t.Context(), "img1", "job-1")
	require.NoError(t, err)

	assert.Equal(t, "ann-1", ann.ID)
	assert.Equal(t, "job-1", ann.JobID)
	assert.Equal(t, "test-model", ann.Model)
	assert.InDelta(t, 0.7, ann.Confidence, 1e-9)
	require.Len(t, ann.Items, 2)

	beak := ann.Items[0]
	require.NotNil(t, beak.OriginalBox)
	assert.InDelta(t, 0.4, beak.OriginalBox.X, 1e-9)
	assert.InDelta(t, 0.45, beak.BoundingBox.X, 1e-9)

	wings := ann.Items[1]
	assert.Nil(t, wings.OriginalBox, "model below the sample threshold leaves the box alone")
	assert.InDelta(t, 0.4, wings.BoundingBox.Y, 1e-9)
}

func TestAnnotateImageWithoutFeatures(t *testing.T) {
	t.Parallel()

	store := &fakeStore{images: map[string]*datastore.Image{"img1": {ID: "img1", SpeciesID: "sp1"}}}
	a := NewAnnotator(&fakeDetector{}, store, 0, 3)

	_, err := a.AnnotateImage(t.Context(), "img1", "")
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryVision))
	assert.Empty(t, store.created)
}

func TestAnnotateImageUnknownImage(t *testing.T) {
	t.Parallel()

	a := NewAnnotator(&fakeDetector{features: testFeatures()}, &fakeStore{}, 0, 3)
	_, err := a.AnnotateImage(t.Context(), "missing", "")
	assert.True(t, errors.IsNotFound(err))
}

func TestBatchJobRecordsFailures(t *testing.T) {
	t.Parallel()

	store := &fakeStore{images: map[string]*datastore.Image{
		"img1": {ID: "img1", SpeciesID: "sp1", URL: "https://images.test/1.jpg"},
		"img2": {ID: "img2", SpeciesID: "sp1", URL: "https://images.test/2.jpg"},
	}}
	detector := &fakeDetector{
		features: testFeatures(),
		err:      map[string]error{"https://images.test/2.jpg": fmt.Errorf("vision unavailable")},
	}
	a := NewAnnotator(detector, store, 0, 3)

	js := jobs.NewStore()
	t.Cleanup(func() { _ = js.Shutdown(context.Background()) })

	images := []datastore.Image{*store.images["img1"], *store.images["img2"]}
	job, err := js.Submit(jobs.TypeBatchAnnotation, len(images), nil, a.BatchJob(images))
	require.NoError(t, err)

	var final jobs.Job
	require.Eventually(t, func() bool {
		final, err = js.Get(job.ID)
		return err == nil && final.Status == jobs.StatusCompleted
	}, 2*time.Second, 5*time.Millisecond)

	assert.Equal(t, 2, final.Processed)
	assert.Equal(t, 1, final.Succeeded)
	assert.Equal(t, 1, final.Failed)
	require.Len(t, final.Errors, 1)
	assert.Equal(t, "img2", final.Errors[0].Item)
	assert.Equal(t, 1, final.Result["imagesAnnotated"])
	assert.Equal(t, 2, final.Result["itemsCreated"])
	require.Len(t, store.created, 1)
	assert.Equal(t, job.ID, store.created[0].JobID)
}
