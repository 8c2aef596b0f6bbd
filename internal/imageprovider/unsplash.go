// Package imageprovider searches Unsplash for bird photos and stores new ones for a species.
package imageprovider

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/aves-app/aves/internal/conf"
	"github.com/aves-app/aves/internal/errors"
	"github.com/aves-app/aves/internal/httpclient"
	"github.com/aves-app/aves/internal/logger"
)

const (
	providerName = "unsplash"

	// DefaultBaseURL is the Unsplash API root.
	DefaultBaseURL = "https://api.unsplash.com"

	defaultPerPage = 10
	maxPerPage     = 30
)

// Photo is one Unsplash search result.
type Photo struct {
	ID          string `json:"id"`
	Width       int    `json:"width"`
	Height      int    `json:"height"`
	Description string `json:"description"`
	AltDesc     string `json:"alt_description"`
	URLs        struct {
		Regular string `json:"regular"`
		Small   string `json:"small"`
		Thumb   string `json:"thumb"`
	} `json:"urls"`
	User struct {
		Name     string `json:"name"`
		Username string `json:"username"`
	} `json:"user"`
}

// Caption returns the description, falling back to the alt text.
func (p *Photo) Caption() string {
	if p.Description != "" {
		return p.Description
	}
	return p.AltDesc
}

type searchResponse struct {
	Total      int     `json:"total"`
	TotalPages int     `json:"total_pages"`
	Results    []Photo `json:"results"`
}

// Searcher finds photos for a query.
type Searcher interface {
	Search(ctx context.Context, query string, perPage, page int) ([]Photo, error)
}

// UnsplashClient calls the Unsplash search API.
type UnsplashClient struct {
	http      *httpclient.Client
	baseURL   string
	accessKey string
	log       logger.Logger
}

// NewUnsplashClient creates a client from settings. An empty access key is allowed;
// Search then fails with a configuration error.
func NewUnsplashClient(cfg *conf.UnsplashSettings, client *httpclient.Client) *UnsplashClient {
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 15 * time.Second
		}
		client = httpclient.New(&httpclient.Config{DefaultTimeout: timeout})
	}
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &UnsplashClient{
		http:      client,
		baseURL:   baseURL,
		accessKey: cfg.AccessKey,
		log:       logger.Global().Module("imageprovider"),
	}
}

// Search returns up to perPage photos for query.
func (c *UnsplashClient) Search(ctx context.Context, query string, perPage, page int) ([]Photo, error) {
	if c.accessKey == "" {
		return nil, errors.Newf("unsplash access key is not configured").
			Component("imageprovider").
			Category(errors.CategoryConfiguration).
			Context("provider", providerName).
			Build()
	}
	if perPage <= 0 {
		perPage = defaultPerPage
	}
	perPage = min(perPage, maxPerPage)
	page = max(page, 1)

	params := url.Values{}
	params.Set("query", query)
	params.Set("per_page", strconv.Itoa(perPage))
	params.Set("page", strconv.Itoa(page))
	params.Set("orientation", "landscape")
	params.Set("content_filter", "high")
	reqURL := c.baseURL + "/search/photos?" + params.Encode()

	header := http.Header{}
	header.Set("Authorization", "Client-ID "+c.accessKey)
	header.Set("Accept-Version", "v1")

	start := time.Now()
	resp, err := c.http.Get(ctx, reqURL, header)
	if err != nil {
		return nil, errors.New(err).
			Component("imageprovider").
			Category(errors.CategoryNetwork).
			Context("provider", providerName).
			Context("query", query).
			Timing("search", time.Since(start)).
			Build()
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, statusError(resp, query)
	}

	var body searchResponse
	if err := httpclient.DecodeJSON(resp, &body); err != nil {
		return nil, errors.New(err).
			Component("imageprovider").
			Category(errors.CategoryImageProvider).
			Context("provider", providerName).
			Context("operation", "decode_search_response").
			Build()
	}

	c.log.Debug("unsplash search",
		logger.String("query", query),
		logger.Int("page", page),
		logger.Int("results", len(body.Results)),
		logger.Int("total", body.Total),
		logger.Duration("elapsed", time.Since(start)))
	return body.Results, nil
}

// statusError maps an Unsplash error status: 401/403 are configuration problems,
// 429 is a rate limit, anything else is a provider failure.
func statusError(resp *http.Response, query string) error {
	msg := httpclient.ReadErrorBody(resp)

	category := errors.CategoryImageProvider
	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		category = errors.CategoryConfiguration
	case http.StatusTooManyRequests:
		category = errors.CategoryLimit
	}

	return errors.Newf("unsplash returned status %d", resp.StatusCode).
		Component("imageprovider").
		Category(category).
		Context("provider", providerName).
		Context("status_code", resp.StatusCode).
		Context("query", query).
		Context("response_body", msg).
		Build()
}
