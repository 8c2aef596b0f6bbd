package api

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/aves-app/aves/internal/datastore"
	"github.com/aves-app/aves/internal/jobs"
	"github.com/aves-app/aves/internal/logger"
	"github.com/aves-app/aves/internal/positioning"
)

const (
	defaultBatchSize = 10
	maxBatchSize     = 50
)

// BatchRequest is the body of POST /api/ai/annotations/batch. Without image
// ids the next unannotated images are used.
type BatchRequest struct {
	ImageIDs []string `json:"imageIds" validate:"omitempty,max=50,dive,uuid"`
	Limit    int      `json:"limit" validate:"omitempty,min=1,max=50"`
}

// RejectRequest is the body of POST /api/ai/annotations/items/:id/reject.
type RejectRequest struct {
	Reason   string `json:"reason" validate:"omitempty,max=1000"`
	Category string `json:"category" validate:"omitempty,oneof=incorrect_term wrong_position not_visible duplicate low_quality other"`
}

// EditRequest is the body of POST /api/ai/annotations/items/:id/edit. The
// item is approved with the given corrections applied.
type EditRequest struct {
	SpanishTerm     *string     `json:"spanishTerm" validate:"omitempty,min=1,max=200"`
	EnglishTerm     *string     `json:"englishTerm" validate:"omitempty,min=1,max=200"`
	Pronunciation   *string     `json:"pronunciation" validate:"omitempty,max=200"`
	Type            *string     `json:"type" validate:"omitempty,oneof=anatomical behavioral color pattern"`
	DifficultyLevel *int        `json:"difficultyLevel" validate:"omitempty,min=1,max=5"`
	BoundingBox     *BoxRequest `json:"boundingBox" validate:"omitempty"`
}

func (r *EditRequest) edit() (datastore.ItemEdit, error) {
	e := datastore.ItemEdit{
		SpanishTerm:     trimmed(r.SpanishTerm),
		EnglishTerm:     trimmed(r.EnglishTerm),
		Pronunciation:   r.Pronunciation,
		AnnotationType:  r.Type,
		DifficultyLevel: r.DifficultyLevel,
	}
	if r.BoundingBox != nil {
		box, err := r.BoundingBox.box("boundingBox")
		if err != nil {
			return e, err
		}
		e.BoundingBox = &box
	}
	return e, nil
}

// BulkApproveRequest is the body of POST /api/ai/annotations/bulk-approve.
type BulkApproveRequest struct {
	ItemIDs []string `json:"itemIds" validate:"required,min=1,max=100,dive,uuid"`
}

// GenerateAnnotation handles POST /api/ai/annotations/generate/:imageId.
func (c *Controller) GenerateAnnotation(ctx echo.Context) error {
	if c.annotator == nil {
		return c.unavailable(ctx, "AI annotation")
	}
	imageID, err := pathID(ctx, "imageId")
	if err != nil {
		return c.HandleError(ctx, err, "Invalid image id")
	}

	ann, err := c.annotator.AnnotateImage(ctx.Request().Context(), imageID, "")
	if err != nil {
		return c.HandleError(ctx, err, "Failed to generate annotations")
	}
	c.log.Info("annotations generated",
		logger.String("image_id", imageID),
		logger.Int("items", len(ann.Items)),
		logger.String("user_id", currentUser(ctx).ID))
	return ctx.JSON(http.StatusCreated, ann)
}

// BatchAnnotate handles POST /api/ai/annotations/batch.
func (c *Controller) BatchAnnotate(ctx echo.Context) error {
	if c.annotator == nil {
		return c.unavailable(ctx, "AI annotation")
	}
	var req BatchRequest
	if err := bindAndValidate(ctx, &req); err != nil {
		return c.HandleError(ctx, err, "Invalid batch request")
	}

	reqCtx := ctx.Request().Context()
	var images []datastore.Image
	if len(req.ImageIDs) > 0 {
		for _, id := range req.ImageIDs {
			img, err := c.DS.GetImage(reqCtx, id)
			if err != nil {
				return c.HandleError(ctx, err, "Failed to load image")
			}
			images = append(images, *img)
		}
	} else {
		limit := req.Limit
		if limit == 0 {
			limit = defaultBatchSize
		}
		found, err := c.DS.ImagesWithoutAnnotations(reqCtx, min(limit, maxBatchSize))
		if err != nil {
			return c.HandleError(ctx, err, "Failed to find unannotated images")
		}
		images = found
	}
	if len(images) == 0 {
		return ctx.JSON(http.StatusOK, map[string]any{"message": "No images need annotation", "total": 0})
	}

	job, err := c.Jobs.Submit(jobs.TypeBatchAnnotation, len(images), map[string]any{
		"requestedBy": currentUser(ctx).ID,
	}, c.annotator.BatchJob(images))
	if err != nil {
		return c.HandleError(ctx, err, "Failed to start batch annotation")
	}
	c.log.Info("batch annotation started", logger.String("job_id", job.ID), logger.Int("images", len(images)))
	return ctx.JSON(http.StatusAccepted, JobAccepted{
		JobID:   job.ID,
		Status:  job.Status,
		Total:   job.Total,
		Message: "Batch annotation started",
	})
}

// ListPendingItems handles GET /api/ai/annotations/pending.
func (c *Controller) ListPendingItems(ctx echo.Context) error {
	p, err := parsePage(ctx)
	if err != nil {
		return c.HandleError(ctx, err, "Invalid pagination")
	}
	items, total, err := c.DS.ListPendingItems(ctx.Request().Context(), p.store())
	if err != nil {
		return c.HandleError(ctx, err, "Failed to list pending items")
	}
	return ctx.JSON(http.StatusOK, paged(items, p, total))
}

// AIStats handles GET /api/ai/annotations/stats.
func (c *Controller) AIStats(ctx echo.Context) error {
	stats, err := c.DS.AIStats(ctx.Request().Context())
	if err != nil {
		return c.HandleError(ctx, err, "Failed to load review stats")
	}
	return ctx.JSON(http.StatusOK, stats)
}

// ApproveItem handles POST /api/ai/annotations/items/:id/approve.
func (c *Controller) ApproveItem(ctx echo.Context) error {
	id, err := pathID(ctx, "id")
	if err != nil {
		return c.HandleError(ctx, err, "Invalid item id")
	}
	a, err := c.DS.ApproveItem(ctx.Request().Context(), id, currentUser(ctx).ID)
	if err != nil {
		return c.HandleError(ctx, err, "Failed to approve item")
	}
	c.invalidateCache()
	return ctx.JSON(http.StatusOK, map[string]any{"itemId": id, "annotation": a})
}

// RejectItem handles POST /api/ai/annotations/items/:id/reject.
func (c *Controller) RejectItem(ctx echo.Context) error {
	id, err := pathID(ctx, "id")
	if err != nil {
		return c.HandleError(ctx, err, "Invalid item id")
	}
	var req RejectRequest
	if err := bindAndValidate(ctx, &req); err != nil {
		return c.HandleError(ctx, err, "Invalid rejection")
	}
	rejection := datastore.Rejection{Reason: strings.TrimSpace(req.Reason), Category: req.Category}
	if err := c.DS.RejectItem(ctx.Request().Context(), id, currentUser(ctx).ID, rejection); err != nil {
		return c.HandleError(ctx, err, "Failed to reject item")
	}
	return ctx.JSON(http.StatusOK, map[string]any{"itemId": id, "status": datastore.ItemStatusRejected})
}

// EditItem handles POST /api/ai/annotations/items/:id/edit.
func (c *Controller) EditItem(ctx echo.Context) error {
	id, err := pathID(ctx, "id")
	if err != nil {
		return c.HandleError(ctx, err, "Invalid item id")
	}
	var req EditRequest
	if err := bindAndValidate(ctx, &req); err != nil {
		return c.HandleError(ctx, err, "Invalid edit")
	}
	edit, err := req.edit()
	if err != nil {
		return c.HandleError(ctx, err, "Invalid edit")
	}

	a, err := c.DS.EditItem(ctx.Request().Context(), id, currentUser(ctx).ID, edit)
	if err != nil {
		return c.HandleError(ctx, err, "Failed to edit item")
	}
	c.invalidateCache()
	return ctx.JSON(http.StatusOK, map[string]any{"itemId": id, "annotation": a})
}

// BulkApprove handles POST /api/ai/annotations/bulk-approve.
func (c *Controller) BulkApprove(ctx echo.Context) error {
	var req BulkApproveRequest
	if err := bindAndValidate(ctx, &req); err != nil {
		return c.HandleError(ctx, err, "Invalid bulk approval")
	}
	res, err := c.DS.BulkApprove(ctx.Request().Context(), req.ItemIDs, currentUser(ctx).ID)
	if err != nil {
		return c.HandleError(ctx, err, "Failed to approve items")
	}
	c.invalidateCache()
	return ctx.JSON(http.StatusOK, res)
}

// RetrainPositioning handles POST /api/ai/positioning/retrain, rebuilding the
// correction model from every recorded edit.
func (c *Controller) RetrainPositioning(ctx echo.Context) error {
	reqCtx := ctx.Request().Context()
	samples, err := c.DS.CorrectionSamples(reqCtx)
	if err != nil {
		return c.HandleError(ctx, err, "Failed to load correction samples")
	}
	models := positioning.Retrain(samples, c.now())
	if err := c.DS.ReplaceModels(reqCtx, models); err != nil {
		return c.HandleError(ctx, err, "Failed to save positioning model")
	}

	c.log.Info("positioning model retrained",
		logger.Int("samples", len(samples)),
		logger.Int("models", len(models)))
	return ctx.JSON(http.StatusOK, map[string]any{
		"samples": len(samples),
		"models":  len(models),
		"data":    models,
	})
}

// PositioningModel handles GET /api/ai/positioning/model.
func (c *Controller) PositioningModel(ctx echo.Context) error {
	models, err := c.DS.PositioningModels(ctx.Request().Context())
	if err != nil {
		return c.HandleError(ctx, err, "Failed to load positioning model")
	}
	minSamples := c.Settings.Positioning.MinSamples
	if minSamples <= 0 {
		minSamples = positioning.DefaultMinSamples
	}
	return ctx.JSON(http.StatusOK, map[string]any{
		"data":       models,
		"count":      len(models),
		"minSamples": minSamples,
	})
}
