package api

import (
	"net/http"
	"slices"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/aves-app/aves/internal/datastore"
	"github.com/aves-app/aves/internal/positioning"
)

const annotationTypes = "anatomical behavioral color pattern"

// BoxRequest is a normalised bounding box in a request body.
type BoxRequest struct {
	X      *float64 `json:"x" validate:"required,gte=0,lte=1"`
	Y      *float64 `json:"y" validate:"required,gte=0,lte=1"`
	Width  *float64 `json:"width" validate:"required,gt=0,lte=1"`
	Height *float64 `json:"height" validate:"required,gt=0,lte=1"`
}

// box converts the request and checks that it stays inside the image.
func (b *BoxRequest) box(field string) (positioning.Box, error) {
	box := positioning.Box{X: *b.X, Y: *b.Y, Width: *b.Width, Height: *b.Height}
	if !box.Valid() {
		return box, invalidField(field, "bounds", field+" must lie within the image")
	}
	return box, nil
}

// CreateAnnotationRequest is the body of POST /api/annotations.
type CreateAnnotationRequest struct {
	ImageID         string      `json:"imageId" validate:"required,uuid"`
	BoundingBox     *BoxRequest `json:"boundingBox" validate:"required"`
	Type            string      `json:"type" validate:"required,oneof=anatomical behavioral color pattern"`
	SpanishTerm     string      `json:"spanishTerm" validate:"required,max=200"`
	EnglishTerm     string      `json:"englishTerm" validate:"required,max=200"`
	Pronunciation   string      `json:"pronunciation" validate:"omitempty,max=200"`
	DifficultyLevel int         `json:"difficultyLevel" validate:"required,min=1,max=5"`
	IsVisible       *bool       `json:"isVisible"`
}

// UpdateAnnotationRequest is the body of PUT /api/annotations/:id. Omitted fields are kept.
type UpdateAnnotationRequest struct {
	BoundingBox     *BoxRequest `json:"boundingBox" validate:"omitempty"`
	Type            *string     `json:"type" validate:"omitempty,oneof=anatomical behavioral color pattern"`
	SpanishTerm     *string     `json:"spanishTerm" validate:"omitempty,min=1,max=200"`
	EnglishTerm     *string     `json:"englishTerm" validate:"omitempty,min=1,max=200"`
	Pronunciation   *string     `json:"pronunciation" validate:"omitempty,max=200"`
	DifficultyLevel *int        `json:"difficultyLevel" validate:"omitempty,min=1,max=5"`
	IsVisible       *bool       `json:"isVisible"`
}

func (r *UpdateAnnotationRequest) patch() (datastore.AnnotationPatch, error) {
	p := datastore.AnnotationPatch{
		AnnotationType:  r.Type,
		SpanishTerm:     trimmed(r.SpanishTerm),
		EnglishTerm:     trimmed(r.EnglishTerm),
		Pronunciation:   r.Pronunciation,
		DifficultyLevel: r.DifficultyLevel,
		IsVisible:       r.IsVisible,
	}
	if r.BoundingBox != nil {
		box, err := r.BoundingBox.box("boundingBox")
		if err != nil {
			return p, err
		}
		p.BoundingBox = &box
	}
	return p, nil
}

func trimmed(s *string) *string {
	if s == nil {
		return nil
	}
	t := strings.TrimSpace(*s)
	return &t
}

// ListAnnotations handles GET /api/annotations. Only visible annotations are listed.
func (c *Controller) ListAnnotations(ctx echo.Context) error {
	p, err := parsePage(ctx)
	if err != nil {
		return c.HandleError(ctx, err, "Invalid pagination")
	}
	filter := datastore.AnnotationFilter{VisibleOnly: true}
	if err := echo.QueryParamsBinder(ctx).
		String("imageId", &filter.ImageID).
		String("speciesId", &filter.SpeciesID).
		String("type", &filter.AnnotationType).
		Int("difficulty", &filter.DifficultyLevel).
		BindError(); err != nil {
		return c.HandleError(ctx, invalidField("difficulty", "int", "difficulty must be an integer"), "Invalid query")
	}
	if err := validateAnnotationFilter(filter); err != nil {
		return c.HandleError(ctx, err, "Invalid query")
	}

	list, total, err := c.DS.ListAnnotations(ctx.Request().Context(), filter, p.store())
	if err != nil {
		return c.HandleError(ctx, err, "Failed to list annotations")
	}
	return ctx.JSON(http.StatusOK, paged(list, p, total))
}

func validateAnnotationFilter(f datastore.AnnotationFilter) error {
	for name, id := range map[string]string{"imageId": f.ImageID, "speciesId": f.SpeciesID} {
		if id == "" {
			continue
		}
		if _, err := uuid.Parse(id); err != nil {
			return invalidField(name, "uuid", name+" must be a UUID")
		}
	}
	if f.AnnotationType != "" && !slices.Contains(datastore.AnnotationTypes, f.AnnotationType) {
		return invalidField("type", "oneof", "type must be one of: "+annotationTypes)
	}
	if f.DifficultyLevel != 0 && (f.DifficultyLevel < 1 || f.DifficultyLevel > 5) {
		return invalidField("difficulty", "range", "difficulty must be between 1 and 5")
	}
	return nil
}

// GetAnnotation handles GET /api/annotations/:id.
func (c *Controller) GetAnnotation(ctx echo.Context) error {
	id, err := pathID(ctx, "id")
	if err != nil {
		return c.HandleError(ctx, err, "Invalid annotation id")
	}
	a, err := c.DS.GetAnnotation(ctx.Request().Context(), id)
	if err != nil {
		return c.HandleError(ctx, err, "Failed to get annotation")
	}
	return ctx.JSON(http.StatusOK, a)
}

// CreateAnnotation handles POST /api/annotations.
func (c *Controller) CreateAnnotation(ctx echo.Context) error {
	var req CreateAnnotationRequest
	if err := bindAndValidate(ctx, &req); err != nil {
		return c.HandleError(ctx, err, "Invalid annotation")
	}
	box, err := req.BoundingBox.box("boundingBox")
	if err != nil {
		return c.HandleError(ctx, err, "Invalid annotation")
	}

	a := &datastore.Annotation{
		ImageID:         req.ImageID,
		BoundingBox:     box,
		AnnotationType:  req.Type,
		SpanishTerm:     strings.TrimSpace(req.SpanishTerm),
		EnglishTerm:     strings.TrimSpace(req.EnglishTerm),
		Pronunciation:   req.Pronunciation,
		DifficultyLevel: req.DifficultyLevel,
		IsVisible:       req.IsVisible == nil || *req.IsVisible,
	}
	if err := c.DS.CreateAnnotation(ctx.Request().Context(), a); err != nil {
		return c.HandleError(ctx, err, "Failed to create annotation")
	}
	c.invalidateCache()
	return ctx.JSON(http.StatusCreated, a)
}

// UpdateAnnotation handles PUT /api/annotations/:id.
func (c *Controller) UpdateAnnotation(ctx echo.Context) error {
	id, err := pathID(ctx, "id")
	if err != nil {
		return c.HandleError(ctx, err, "Invalid annotation id")
	}
	var req UpdateAnnotationRequest
	if err := bindAndValidate(ctx, &req); err != nil {
		return c.HandleError(ctx, err, "Invalid annotation")
	}
	patch, err := req.patch()
	if err != nil {
		return c.HandleError(ctx, err, "Invalid annotation")
	}

	a, err := c.DS.UpdateAnnotation(ctx.Request().Context(), id, patch)
	if err != nil {
		return c.HandleError(ctx, err, "Failed to update annotation")
	}
	c.invalidateCache()
	return ctx.JSON(http.StatusOK, a)
}

// DeleteAnnotation handles DELETE /api/annotations/:id.
func (c *Controller) DeleteAnnotation(ctx echo.Context) error {
	id, err := pathID(ctx, "id")
	if err != nil {
		return c.HandleError(ctx, err, "Invalid annotation id")
	}
	if err := c.DS.DeleteAnnotation(ctx.Request().Context(), id); err != nil {
		return c.HandleError(ctx, err, "Failed to delete annotation")
	}
	c.invalidateCache()
	return ctx.NoContent(http.StatusNoContent)
}
