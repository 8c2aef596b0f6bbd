package api

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

// ListImages handles GET /api/images with an optional speciesId filter.
func (c *Controller) ListImages(ctx echo.Context) error {
	p, err := parsePage(ctx)
	if err != nil {
		return c.HandleError(ctx, err, "Invalid pagination")
	}
	speciesID := ctx.QueryParam("speciesId")
	if speciesID != "" {
		if _, err := uuid.Parse(speciesID); err != nil {
			return c.HandleError(ctx, invalidField("speciesId", "uuid", "speciesId must be a UUID"), "Invalid query")
		}
	}

	images, total, err := c.DS.ListImages(ctx.Request().Context(), speciesID, p.store())
	if err != nil {
		return c.HandleError(ctx, err, "Failed to list images")
	}
	return ctx.JSON(http.StatusOK, paged(images, p, total))
}

// GetImage handles GET /api/images/:id.
func (c *Controller) GetImage(ctx echo.Context) error {
	id, err := pathID(ctx, "id")
	if err != nil {
		return c.HandleError(ctx, err, "Invalid image id")
	}
	img, err := c.DS.GetImage(ctx.Request().Context(), id)
	if err != nil {
		return c.HandleError(ctx, err, "Failed to get image")
	}
	return ctx.JSON(http.StatusOK, img)
}

// DeleteImage handles DELETE /api/images/:id.
func (c *Controller) DeleteImage(ctx echo.Context) error {
	id, err := pathID(ctx, "id")
	if err != nil {
		return c.HandleError(ctx, err, "Invalid image id")
	}
	if err := c.DS.DeleteImage(ctx.Request().Context(), id); err != nil {
		return c.HandleError(ctx, err, "Failed to delete image")
	}
	c.invalidateCache()
	return ctx.NoContent(http.StatusNoContent)
}
