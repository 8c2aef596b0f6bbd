package datastore

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"golang.org/x/sync/errgroup"

	"github.com/aves-app/aves/internal/conf"
	"github.com/aves-app/aves/internal/errors"
	"github.com/aves-app/aves/internal/positioning"
)

// These tests start PostgreSQL in a container and are skipped with -short.

func startPostgres(t *testing.T) *Store {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:16-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "aves",
				"POSTGRES_PASSWORD": "aves",
				"POSTGRES_DB":       "aves_test",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(90 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(container); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432/tcp")
	require.NoError(t, err)

	dsn := fmt.Sprintf("postgres://aves:aves@%s:%s/aves_test?sslmode=disable", host, port.Port())
	require.NoError(t, Migrate(ctx, dsn))

	store, err := Open(ctx, &conf.DatabaseSettings{URL: dsn, MaxConns: 4})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func seedImage(t *testing.T, ctx context.Context, s *Store) (*Species, *Image) {
	t.Helper()
	sp := &Species{
		ScientificName: "Turdus migratorius",
		EnglishName:    "American Robin",
		SpanishName:    "Zorzal Petirrojo",
		OrderName:      "Passeriformes",
		FamilyName:     "Turdidae",
		Habitats:       []string{"forest", "urban"},
		PrimaryColors:  []string{"orange", "gray"},
	}
	require.NoError(t, s.CreateSpecies(ctx, sp))

	img := &Image{
		SpeciesID:    sp.ID,
		UnsplashID:   "abc123",
		URL:          "https://images.unsplash.com/photo-abc123",
		ThumbnailURL: "https://images.unsplash.com/photo-abc123?w=200",
		Width:        1200,
		Height:       800,
		Photographer: "Jane Doe",
	}
	inserted, err := s.CreateImage(ctx, img)
	require.NoError(t, err)
	require.True(t, inserted)
	return sp, img
}

func TestPostgresRoundTrip(t *testing.T) {
	s := startPostgres(t)
	ctx := context.Background()

	t.Run("species and images", func(t *testing.T) {
		sp, img := seedImage(t, ctx, s)

		got, err := s.GetSpecies(ctx, sp.ID)
		require.NoError(t, err)
		assert.Equal(t, "American Robin", got.EnglishName)
		assert.Equal(t, []string{"forest", "urban"}, got.Habitats)
		assert.Equal(t, 1, got.ImageCount)

		list, total, err := s.ListSpecies(ctx, SpeciesFilter{Search: "robin"}, Page{Limit: 10})
		require.NoError(t, err)
		assert.Equal(t, 1, total)
		require.Len(t, list, 1)

		dup := *img
		inserted, err := s.CreateImage(ctx, &dup)
		require.NoError(t, err)
		assert.False(t, inserted, "duplicate unsplash id must be skipped")

		existing, err := s.ExistingUnsplashIDs(ctx, sp.ID)
		require.NoError(t, err)
		assert.Contains(t, existing, "abc123")

		err = s.CreateSpecies(ctx, &Species{ScientificName: sp.ScientificName, EnglishName: "x", SpanishName: "y"})
		assert.True(t, errors.IsCategory(err, errors.CategoryConflict))
	})

	t.Run("ai review loop", func(t *testing.T) {
		img, _, err := s.ListImages(ctx, "", Page{Limit: 1})
		require.NoError(t, err)
		require.NotEmpty(t, img)
		imageID := img[0].ID

		ann := &AIAnnotation{
			ImageID: imageID,
			Model:   "claude-test",
			Items: []AIAnnotationItem{
				{SpanishTerm: "el pico", EnglishTerm: "beak", AnnotationType: AnnotationAnatomical,
					BoundingBox: positioning.Box{X: 0.4, Y: 0.2, Width: 0.1, Height: 0.1}, DifficultyLevel: 1, Confidence: 0.9},
				{SpanishTerm: "el ala", EnglishTerm: "wing", AnnotationType: AnnotationAnatomical,
					BoundingBox: positioning.Box{X: 0.3, Y: 0.4, Width: 0.3, Height: 0.2}, DifficultyLevel: 2, Confidence: 0.8},
				{SpanishTerm: "la cola", EnglishTerm: "tail", AnnotationType: AnnotationAnatomical,
					BoundingBox: positioning.Box{X: 0.7, Y: 0.6, Width: 0.2, Height: 0.2}, DifficultyLevel: 2, Confidence: 0.4},
			},
		}
		require.NoError(t, s.CreateAIAnnotation(ctx, ann))

		pending, total, err := s.ListPendingItems(ctx, Page{Limit: 10})
		require.NoError(t, err)
		assert.Equal(t, 3, total)
		assert.Len(t, pending, 3)

		approved, err := s.ApproveItem(ctx, ann.Items[0].ID, "reviewer-1")
		require.NoError(t, err)
		assert.Equal(t, "el pico", approved.SpanishTerm)

		_, err = s.ApproveItem(ctx, ann.Items[0].ID, "reviewer-1")
		assert.True(t, errors.IsCategory(err, errors.CategoryConflict), "reviewing twice is a conflict")

		corrected := positioning.Box{X: 0.35, Y: 0.45, Width: 0.3, Height: 0.2}
		edited, err := s.EditItem(ctx, ann.Items[1].ID, "reviewer-1", ItemEdit{BoundingBox: &corrected})
		require.NoError(t, err)
		assert.InDelta(t, 0.35, edited.BoundingBox.X, 1e-9)

		require.NoError(t, s.RejectItem(ctx, ann.Items[2].ID, "reviewer-1", Rejection{Reason: "not visible"}))

		samples, err := s.CorrectionSamples(ctx)
		require.NoError(t, err)
		require.Len(t, samples, 1)
		assert.Equal(t, "wing", samples[0].FeatureType)
		assert.InDelta(t, 0.05, samples[0].Delta.X, 1e-9)
		assert.InDelta(t, 0.05, samples[0].Delta.Y, 1e-9)

		models := positioning.Retrain(samples, time.Now().UTC())
		require.NoError(t, s.ReplaceModels(ctx, models))
		stored, err := s.PositioningModels(ctx)
		require.NoError(t, err)
		require.Len(t, stored, 1)
		assert.Equal(t, 1, stored[0].SampleCount)

		stats, err := s.AIStats(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, stats.ItemsByStatus[ItemStatusApproved])
		assert.Equal(t, 1, stats.ItemsByStatus[ItemStatusEdited])
		assert.Equal(t, 1, stats.ItemsByStatus[ItemStatusRejected])
		assert.InDelta(t, 2.0/3.0, stats.ApprovalRate, 1e-9)

		image, err := s.GetImage(ctx, imageID)
		require.NoError(t, err)
		assert.Equal(t, 2, image.AnnotationCount)

		bulk, err := s.BulkApprove(ctx, []string{ann.Items[0].ID, "00000000-0000-0000-0000-000000000000"}, "reviewer-1")
		require.NoError(t, err)
		assert.Empty(t, bulk.Approved)
		assert.Len(t, bulk.Skipped, 2)
	})

	t.Run("edit keeps the raw ai box as baseline", func(t *testing.T) {
		img, _, err := s.ListImages(ctx, "", Page{Limit: 1})
		require.NoError(t, err)
		require.NotEmpty(t, img)

		raw := positioning.Box{X: 0.3, Y: 0.4, Width: 0.3, Height: 0.2}
		shifted := positioning.Box{X: 0.33, Y: 0.4, Width: 0.3, Height: 0.2}
		ann := &AIAnnotation{
			ImageID: img[0].ID,
			Model:   "claude-test",
			Items: []AIAnnotationItem{
				{SpanishTerm: "la corona", EnglishTerm: "crown", AnnotationType: AnnotationAnatomical,
					BoundingBox: shifted, OriginalBox: &raw, DifficultyLevel: 2, Confidence: 0.7},
				{SpanishTerm: "el ojo", EnglishTerm: "eye", AnnotationType: AnnotationAnatomical,
					BoundingBox: positioning.Box{X: 0.5, Y: 0.2, Width: 0.05, Height: 0.05}, DifficultyLevel: 1, Confidence: 0.9},
			},
		}
		require.NoError(t, s.CreateAIAnnotation(ctx, ann))

		reviewed := positioning.Box{X: 0.35, Y: 0.45, Width: 0.3, Height: 0.2}
		_, err = s.EditItem(ctx, ann.Items[0].ID, "reviewer-1", ItemEdit{BoundingBox: &reviewed})
		require.NoError(t, err)

		samples, err := s.CorrectionSamples(ctx)
		require.NoError(t, err)
		var crown []positioning.Sample
		for _, sm := range samples {
			if sm.FeatureType == "crown" {
				crown = append(crown, sm)
			}
		}
		require.Len(t, crown, 1)
		assert.InDelta(t, 0.05, crown[0].Delta.X, 1e-9, "delta is measured from the raw box")
		assert.InDelta(t, 0.05, crown[0].Delta.Y, 1e-9)

		item, err := s.GetAIItem(ctx, ann.Items[0].ID)
		require.NoError(t, err)
		require.NotNil(t, item.OriginalBox)
		assert.InDelta(t, raw.X, item.OriginalBox.X, 1e-9, "original box is never overwritten")
		assert.InDelta(t, reviewed.X, item.BoundingBox.X, 1e-9)

		eye := ann.Items[1].ID
		bulk, err := s.BulkApprove(ctx, []string{eye, eye}, "reviewer-1")
		require.NoError(t, err)
		assert.Equal(t, []string{eye}, bulk.Approved)
		assert.NotContains(t, bulk.Skipped, eye, "a repeated id is approved once and not reported as skipped")
	})

	t.Run("concurrent srs reviews are serialized", func(t *testing.T) {
		const reviews = 8
		bump := func(current *SRSProgress) (*SRSProgress, error) {
			next := &SRSProgress{UserID: "user-2", Term: "la garza", EaseFactor: 2.5,
				NextReviewAt: time.Now().UTC()}
			if current != nil {
				next.Repetitions = current.Repetitions
			}
			next.Repetitions++
			return next, nil
		}

		var g errgroup.Group
		for range reviews {
			g.Go(func() error {
				_, err := s.ReviewSRS(ctx, "user-2", "la garza", bump)
				return err
			})
		}
		require.NoError(t, g.Wait())

		got, err := s.SRSProgress(ctx, "user-2", "la garza")
		require.NoError(t, err)
		assert.Equal(t, reviews, got.Repetitions, "no review is lost")
	})

	t.Run("srs and exercise cache", func(t *testing.T) {
		now := time.Now().UTC().Truncate(time.Second)

		p := &SRSProgress{UserID: "user-1", Term: "el pico", EaseFactor: 2.5, IntervalDays: 1,
			Repetitions: 1, LastQuality: 4, NextReviewAt: now.Add(-time.Hour), LastReviewedAt: &now}
		require.NoError(t, s.SaveSRSProgress(ctx, p))

		due, err := s.DueReviews(ctx, "user-1", now, 10)
		require.NoError(t, err)
		require.Len(t, due, 1)

		_, err = s.SRSProgress(ctx, "user-1", "unknown")
		assert.True(t, errors.IsNotFound(err))

		m, err := s.RecordInteraction(ctx, "user-1", "el pico", true)
		require.NoError(t, err)
		assert.Equal(t, 1, m.Exposures)

		require.NoError(t, s.PutCachedExercise(ctx, "k", "translation", []byte(`{"a":1}`), now, time.Hour))
		hit, err := s.GetCachedExercise(ctx, "k", now)
		require.NoError(t, err)
		require.NotNil(t, hit)
		assert.Equal(t, 1, hit.HitCount)
		assert.JSONEq(t, `{"a":1}`, string(hit.Payload))

		miss, err := s.GetCachedExercise(ctx, "k", now.Add(2*time.Hour))
		require.NoError(t, err)
		assert.Nil(t, miss)

		purged, err := s.PurgeExpiredExercises(ctx, now.Add(2*time.Hour))
		require.NoError(t, err)
		assert.Equal(t, int64(1), purged)

		counts, err := s.DashboardCounts(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, counts.Species)
		assert.Equal(t, 1, counts.Users)
	})
}
