package api

import (
	"github.com/labstack/echo/v4"

	"github.com/aves-app/aves/internal/datastore"
)

// Pagination limits.
const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// Pagination describes a page of a listing.
type Pagination struct {
	Page       int `json:"page"`
	Limit      int `json:"limit"`
	Total      int `json:"total"`
	TotalPages int `json:"totalPages"`
}

// PagedResponse wraps a listing with its pagination.
type PagedResponse struct {
	Data       any        `json:"data"`
	Pagination Pagination `json:"pagination"`
}

// pageParams are the query parameters shared by paginated endpoints.
type pageParams struct {
	Page  int
	Limit int
}

// parsePage reads page and limit from the query string.
func parsePage(ctx echo.Context) (pageParams, error) {
	p := pageParams{Page: 1, Limit: DefaultPageSize}
	if err := echo.QueryParamsBinder(ctx).
		Int("page", &p.Page).
		Int("limit", &p.Limit).
		BindError(); err != nil {
		return p, invalid("page and limit must be integers")
	}
	if p.Page < 1 {
		return p, invalidField("page", "min", "page must be at least 1")
	}
	if p.Limit < 1 || p.Limit > MaxPageSize {
		return p, invalidField("limit", "range", "limit must be between 1 and 100")
	}
	return p, nil
}

func (p pageParams) store() datastore.Page {
	return datastore.Page{Limit: p.Limit, Offset: (p.Page - 1) * p.Limit}
}

// NewPagination computes the page count for total rows.
func NewPagination(page, limit, total int) Pagination {
	pages := 0
	if limit > 0 {
		pages = (total + limit - 1) / limit
	}
	return Pagination{Page: page, Limit: limit, Total: total, TotalPages: pages}
}

func paged(data any, p pageParams, total int) PagedResponse {
	return PagedResponse{Data: data, Pagination: NewPagination(p.Page, p.Limit, total)}
}
