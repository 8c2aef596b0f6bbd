package api

import (
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/aves-app/aves/internal/datastore"
	"github.com/aves-app/aves/internal/exercises"
	"github.com/aves-app/aves/internal/logger"
	"github.com/aves-app/aves/internal/srs"
)

const (
	defaultDueLimit = 20
	maxDueLimit     = 100
)

// InteractionRequest records one answer to a vocabulary prompt.
type InteractionRequest struct {
	Term    string `json:"term" validate:"required,max=200"`
	Correct *bool  `json:"correct" validate:"required"`
}

// ReviewRequest grades one spaced-repetition review. Quality wins over
// correct/responseTimeMs when both are sent.
type ReviewRequest struct {
	Term           string `json:"term" validate:"required,max=200"`
	Quality        *int   `json:"quality" validate:"omitempty,min=0,max=5"`
	Correct        *bool  `json:"correct" validate:"required_without=Quality"`
	ResponseTimeMs int    `json:"responseTimeMs" validate:"omitempty,min=0"`
}

func (r *ReviewRequest) quality() int {
	if r.Quality != nil {
		return *r.Quality
	}
	return srs.QualityFromAnswer(*r.Correct, time.Duration(r.ResponseTimeMs)*time.Millisecond)
}

// ListTerms handles GET /api/vocabulary/terms.
func (c *Controller) ListTerms(ctx echo.Context) error {
	p, err := parsePage(ctx)
	if err != nil {
		return c.HandleError(ctx, err, "Invalid pagination")
	}
	annotationType := ctx.QueryParam("type")
	if annotationType != "" && !slices.Contains(datastore.AnnotationTypes, annotationType) {
		return c.HandleError(ctx, invalidField("type", "oneof", "type must be one of: "+annotationTypes), "Invalid query")
	}

	key := fmt.Sprintf("terms:%s:%d:%d", annotationType, p.Page, p.Limit)
	v, err := c.cached(key, func() (any, error) {
		terms, total, err := c.DS.VocabularyTerms(ctx.Request().Context(), annotationType, p.store())
		if err != nil {
			return nil, err
		}
		return paged(terms, p, total), nil
	})
	if err != nil {
		return c.HandleError(ctx, err, "Failed to list vocabulary")
	}
	return ctx.JSON(http.StatusOK, v)
}

// RecordInteraction handles POST /api/vocabulary/interactions.
func (c *Controller) RecordInteraction(ctx echo.Context) error {
	var req InteractionRequest
	if err := bindAndValidate(ctx, &req); err != nil {
		return c.HandleError(ctx, err, "Invalid interaction")
	}
	user := currentUser(ctx)
	m, err := c.DS.RecordInteraction(ctx.Request().Context(), user.ID, strings.TrimSpace(req.Term), *req.Correct)
	if err != nil {
		return c.HandleError(ctx, err, "Failed to record interaction")
	}
	return ctx.JSON(http.StatusOK, m)
}

// GetMastery handles GET /api/vocabulary/mastery.
func (c *Controller) GetMastery(ctx echo.Context) error {
	list, err := c.DS.Mastery(ctx.Request().Context(), currentUser(ctx).ID)
	if err != nil {
		return c.HandleError(ctx, err, "Failed to load mastery")
	}
	return ctx.JSON(http.StatusOK, map[string]any{"data": list})
}

// DueReviews handles GET /api/srs/due.
func (c *Controller) DueReviews(ctx echo.Context) error {
	limit := defaultDueLimit
	if err := echo.QueryParamsBinder(ctx).Int("limit", &limit).BindError(); err != nil {
		return c.HandleError(ctx, invalidField("limit", "int", "limit must be an integer"), "Invalid query")
	}
	if limit < 1 || limit > maxDueLimit {
		return c.HandleError(ctx, invalidField("limit", "range", "limit must be between 1 and 100"), "Invalid query")
	}

	due, err := c.DS.DueReviews(ctx.Request().Context(), currentUser(ctx).ID, c.now(), limit)
	if err != nil {
		return c.HandleError(ctx, err, "Failed to load due reviews")
	}
	return ctx.JSON(http.StatusOK, map[string]any{"data": due, "count": len(due)})
}

// SubmitReview handles POST /api/srs/review, applying one SM-2 step.
func (c *Controller) SubmitReview(ctx echo.Context) error {
	var req ReviewRequest
	if err := bindAndValidate(ctx, &req); err != nil {
		return c.HandleError(ctx, err, "Invalid review")
	}
	reqCtx := ctx.Request().Context()
	user := currentUser(ctx)
	term := strings.TrimSpace(req.Term)

	progress, err := c.DS.ReviewSRS(reqCtx, user.ID, term,
		func(current *datastore.SRSProgress) (*datastore.SRSProgress, error) {
			state := srs.NewState()
			if current != nil {
				state = stateFromProgress(current)
			}
			next, err := srs.Review(state, req.quality(), c.now())
			if err != nil {
				return nil, err
			}
			return progressFromState(user.ID, term, next), nil
		})
	if err != nil {
		return c.HandleError(ctx, err, "Failed to save review progress")
	}
	return ctx.JSON(http.StatusOK, progress)
}

// SRSStats handles GET /api/srs/stats.
func (c *Controller) SRSStats(ctx echo.Context) error {
	stats, err := c.DS.SRSStats(ctx.Request().Context(), currentUser(ctx).ID, c.now())
	if err != nil {
		return c.HandleError(ctx, err, "Failed to load review stats")
	}
	return ctx.JSON(http.StatusOK, stats)
}

func stateFromProgress(p *datastore.SRSProgress) srs.State {
	s := srs.State{
		EaseFactor:   p.EaseFactor,
		IntervalDays: p.IntervalDays,
		Repetitions:  p.Repetitions,
		LastQuality:  p.LastQuality,
		NextReviewAt: p.NextReviewAt,
	}
	if p.LastReviewedAt != nil {
		s.LastReviewedAt = *p.LastReviewedAt
	}
	return s
}

func progressFromState(userID, term string, s srs.State) *datastore.SRSProgress {
	reviewed := s.LastReviewedAt
	return &datastore.SRSProgress{
		UserID:         userID,
		Term:           term,
		EaseFactor:     s.EaseFactor,
		IntervalDays:   s.IntervalDays,
		Repetitions:    s.Repetitions,
		LastQuality:    s.LastQuality,
		NextReviewAt:   s.NextReviewAt,
		LastReviewedAt: &reviewed,
	}
}

// GenerateExercises handles GET /api/exercises.
func (c *Controller) GenerateExercises(ctx echo.Context) error {
	if c.exercises == nil {
		return c.unavailable(ctx, "Exercise generation")
	}

	typeName := ctx.QueryParam("type")
	if typeName == "" {
		typeName = string(exercises.TypeVisualIdentification)
	}
	t, err := exercises.ParseType(typeName)
	if err != nil {
		return c.HandleError(ctx, err, "Invalid exercise type")
	}

	count := 5
	var f exercises.Filters
	if err := echo.QueryParamsBinder(ctx).
		Int("count", &count).
		String("speciesId", &f.SpeciesID).
		Int("difficulty", &f.Difficulty).
		BindError(); err != nil {
		return c.HandleError(ctx, invalid("count and difficulty must be integers"), "Invalid query")
	}
	if f.SpeciesID != "" {
		if _, err := uuid.Parse(f.SpeciesID); err != nil {
			return c.HandleError(ctx, invalidField("speciesId", "uuid", "speciesId must be a UUID"), "Invalid query")
		}
	}
	if f.Difficulty != 0 && (f.Difficulty < 1 || f.Difficulty > 5) {
		return c.HandleError(ctx, invalidField("difficulty", "range", "difficulty must be between 1 and 5"), "Invalid query")
	}

	set, err := c.exercises.Generate(ctx.Request().Context(), t, count, f)
	if err != nil {
		return c.HandleError(ctx, err, "Failed to generate exercises")
	}
	c.log.Debug("exercises served",
		logger.String("type", string(t)),
		logger.Int("count", len(set.Exercises)),
		logger.Bool("cached", set.Cached))
	return ctx.JSON(http.StatusOK, set)
}
