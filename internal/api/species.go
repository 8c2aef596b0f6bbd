package api

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/aves-app/aves/internal/datastore"
)

// SpeciesRequest is the body of species create and update requests.
type SpeciesRequest struct {
	ScientificName     string   `json:"scientificName" validate:"required,max=200"`
	EnglishName        string   `json:"englishName" validate:"required,max=200"`
	SpanishName        string   `json:"spanishName" validate:"required,max=200"`
	OrderName          string   `json:"orderName" validate:"required,max=100"`
	FamilyName         string   `json:"familyName" validate:"required,max=100"`
	Habitats           []string `json:"habitats" validate:"omitempty,max=20,dive,required,max=100"`
	SizeCategory       string   `json:"sizeCategory" validate:"omitempty,oneof=small medium large"`
	PrimaryColors      []string `json:"primaryColors" validate:"omitempty,max=20,dive,required,max=50"`
	ConservationStatus string   `json:"conservationStatus" validate:"omitempty,max=50"`
	DescriptionSpanish string   `json:"descriptionSpanish" validate:"omitempty,max=5000"`
	DescriptionEnglish string   `json:"descriptionEnglish" validate:"omitempty,max=5000"`
}

func (r *SpeciesRequest) toSpecies(id string) *datastore.Species {
	return &datastore.Species{
		ID:                 id,
		ScientificName:     strings.TrimSpace(r.ScientificName),
		EnglishName:        strings.TrimSpace(r.EnglishName),
		SpanishName:        strings.TrimSpace(r.SpanishName),
		OrderName:          strings.TrimSpace(r.OrderName),
		FamilyName:         strings.TrimSpace(r.FamilyName),
		Habitats:           r.Habitats,
		SizeCategory:       r.SizeCategory,
		PrimaryColors:      r.PrimaryColors,
		ConservationStatus: r.ConservationStatus,
		DescriptionSpanish: r.DescriptionSpanish,
		DescriptionEnglish: r.DescriptionEnglish,
	}
}

type speciesQuery struct {
	Search       string `query:"search" validate:"max=100"`
	OrderName    string `query:"order" validate:"max=100"`
	FamilyName   string `query:"family" validate:"max=100"`
	Habitat      string `query:"habitat" validate:"max=100"`
	SizeCategory string `query:"size" validate:"omitempty,oneof=small medium large"`
}

// ListSpecies handles GET /api/species.
func (c *Controller) ListSpecies(ctx echo.Context) error {
	p, err := parsePage(ctx)
	if err != nil {
		return c.HandleError(ctx, err, "Invalid pagination")
	}
	var q speciesQuery
	if err := echo.QueryParamsBinder(ctx).
		String("search", &q.Search).
		String("order", &q.OrderName).
		String("family", &q.FamilyName).
		String("habitat", &q.Habitat).
		String("size", &q.SizeCategory).
		BindError(); err != nil {
		return c.HandleError(ctx, invalid("invalid query"), "Invalid query")
	}
	if err := ctx.Validate(&q); err != nil {
		return c.HandleError(ctx, err, "Invalid query")
	}

	filter := datastore.SpeciesFilter(q)
	key := fmt.Sprintf("species:%+v:%d:%d", filter, p.Page, p.Limit)
	v, err := c.cached(key, func() (any, error) {
		list, total, err := c.DS.ListSpecies(ctx.Request().Context(), filter, p.store())
		if err != nil {
			return nil, err
		}
		return paged(list, p, total), nil
	})
	if err != nil {
		return c.HandleError(ctx, err, "Failed to list species")
	}
	return ctx.JSON(http.StatusOK, v)
}

// GetSpecies handles GET /api/species/:id.
func (c *Controller) GetSpecies(ctx echo.Context) error {
	id, err := pathID(ctx, "id")
	if err != nil {
		return c.HandleError(ctx, err, "Invalid species id")
	}
	sp, err := c.DS.GetSpecies(ctx.Request().Context(), id)
	if err != nil {
		return c.HandleError(ctx, err, "Failed to get species")
	}
	return ctx.JSON(http.StatusOK, sp)
}

// CreateSpecies handles POST /api/species.
func (c *Controller) CreateSpecies(ctx echo.Context) error {
	var req SpeciesRequest
	if err := bindAndValidate(ctx, &req); err != nil {
		return c.HandleError(ctx, err, "Invalid species")
	}
	sp := req.toSpecies("")
	if err := c.DS.CreateSpecies(ctx.Request().Context(), sp); err != nil {
		return c.HandleError(ctx, err, "Failed to create species")
	}
	c.invalidateCache()
	return ctx.JSON(http.StatusCreated, sp)
}

// UpdateSpecies handles PUT /api/species/:id.
func (c *Controller) UpdateSpecies(ctx echo.Context) error {
	id, err := pathID(ctx, "id")
	if err != nil {
		return c.HandleError(ctx, err, "Invalid species id")
	}
	var req SpeciesRequest
	if err := bindAndValidate(ctx, &req); err != nil {
		return c.HandleError(ctx, err, "Invalid species")
	}
	sp := req.toSpecies(id)
	if err := c.DS.UpdateSpecies(ctx.Request().Context(), sp); err != nil {
		return c.HandleError(ctx, err, "Failed to update species")
	}
	c.invalidateCache()
	return ctx.JSON(http.StatusOK, sp)
}

// DeleteSpecies handles DELETE /api/species/:id. Images and annotations cascade.
func (c *Controller) DeleteSpecies(ctx echo.Context) error {
	id, err := pathID(ctx, "id")
	if err != nil {
		return c.HandleError(ctx, err, "Invalid species id")
	}
	if err := c.DS.DeleteSpecies(ctx.Request().Context(), id); err != nil {
		return c.HandleError(ctx, err, "Failed to delete species")
	}
	c.invalidateCache()
	return ctx.NoContent(http.StatusNoContent)
}
