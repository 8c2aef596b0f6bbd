// Package vision asks Anthropic Claude to locate vocabulary features on bird photos
// and turns the answers into AI annotations awaiting review.
package vision

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/aves-app/aves/internal/conf"
	"github.com/aves-app/aves/internal/datastore"
	"github.com/aves-app/aves/internal/errors"
	"github.com/aves-app/aves/internal/httpclient"
	"github.com/aves-app/aves/internal/logger"
)

const (
	serviceName      = "anthropic"
	anthropicVersion = "2023-06-01"
	messagesPath     = "/v1/messages"

	defaultMaxTokens      = 2048
	defaultMaxAttempts    = 3
	defaultInitialBackoff = time.Second
)

// RetryRecorder counts retried calls.
type RetryRecorder interface {
	RecordRetry(service string)
}

// Detector finds vocabulary features on an image.
type Detector interface {
	Annotate(ctx context.Context, imageURL string, species *datastore.Species) ([]Feature, error)
	Model() string
}

// ClaudeClient calls the Anthropic Messages API with an image URL block.
type ClaudeClient struct {
	http           *httpclient.Client
	apiKey         string
	model          string
	endpoint       string
	maxTokens      int
	maxAttempts    int
	initialBackoff time.Duration
	retries        RetryRecorder
	log            logger.Logger
}

type messagesRequest struct {
	Model     string    `json:"model"`
	MaxTokens int       `json:"max_tokens"`
	System    string    `json:"system,omitempty"`
	Messages  []message `json:"messages"`
}

type message struct {
	Role    string         `json:"role"`
	Content []contentBlock `json:"content"`
}

type contentBlock struct {
	Type   string       `json:"type"`
	Text   string       `json:"text,omitempty"`
	Source *imageSource `json:"source,omitempty"`
}

type imageSource struct {
	Type string `json:"type"`
	URL  string `json:"url"`
}

type messagesResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// NewClaudeClient creates a client from settings. retries may be nil.
func NewClaudeClient(cfg *conf.AnthropicSettings, client *httpclient.Client, retries RetryRecorder) *ClaudeClient {
	if client == nil {
		client = httpclient.New(&httpclient.Config{DefaultTimeout: cfg.Timeout})
	}
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.anthropic.com"
	}
	model := cfg.Model
	if model == "" {
		model = conf.DefaultAnthropicModel
	}

	c := &ClaudeClient{
		http:           client,
		apiKey:         cfg.APIKey,
		model:          model,
		endpoint:       baseURL + messagesPath,
		maxTokens:      cfg.MaxTokens,
		maxAttempts:    cfg.MaxAttempts,
		initialBackoff: cfg.InitialBackoff,
		retries:        retries,
		log:            logger.Global().Module("vision"),
	}
	if c.maxTokens <= 0 {
		c.maxTokens = defaultMaxTokens
	}
	if c.maxAttempts <= 0 {
		c.maxAttempts = defaultMaxAttempts
	}
	if c.initialBackoff <= 0 {
		c.initialBackoff = defaultInitialBackoff
	}
	return c
}

// Model returns the model name sent with each request.
func (c *ClaudeClient) Model() string {
	return c.model
}

// Annotate asks Claude for the features visible on the image. Transport errors,
// 429 and 5xx responses are retried with exponential backoff; other failures are returned at once.
func (c *ClaudeClient) Annotate(ctx context.Context, imageURL string, species *datastore.Species) ([]Feature, error) {
	if c.apiKey == "" {
		return nil, errors.Newf("anthropic api key is not configured").
			Component("vision").
			Category(errors.CategoryConfiguration).
			Build()
	}

	req := messagesRequest{
		Model:     c.model,
		MaxTokens: c.maxTokens,
		System:    systemPrompt,
		Messages: []message{{
			Role: "user",
			Content: []contentBlock{
				{Type: "image", Source: &imageSource{Type: "url", URL: imageURL}},
				{Type: "text", Text: buildPrompt(species)},
			},
		}},
	}

	header := http.Header{}
	header.Set("x-api-key", c.apiKey)
	header.Set("anthropic-version", anthropicVersion)

	var lastErr error
	for attempt := range c.maxAttempts {
		if attempt > 0 {
			delay := c.initialBackoff << (attempt - 1)
			if c.retries != nil {
				c.retries.RecordRetry(serviceName)
			}
			c.log.Debug("retrying vision request",
				logger.Int("attempt", attempt+1),
				logger.Duration("delay", delay),
				logger.Error(lastErr))

			timer := time.NewTimer(delay)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return nil, errors.New(ctx.Err()).
					Component("vision").
					Category(errors.CategoryCancellation).
					Context("attempt", attempt).
					Build()
			}
		}

		text, retry, err := c.send(ctx, header, &req)
		if err == nil {
			features, perr := ParseFeatures(text)
			if perr != nil {
				return nil, perr
			}
			return features, nil
		}
		lastErr = err
		if !retry || ctx.Err() != nil {
			return nil, err
		}
	}

	return nil, errors.New(lastErr).
		Component("vision").
		Category(errors.CategoryRetry).
		Context("max_attempts", c.maxAttempts).
		Build()
}

// send performs one request and reports whether a failure is retryable.
func (c *ClaudeClient) send(ctx context.Context, header http.Header, req *messagesRequest) (string, bool, error) {
	start := time.Now()
	resp, err := c.http.PostJSON(ctx, c.endpoint, header, req)
	if err != nil {
		return "", true, errors.New(err).
			Component("vision").
			Category(errors.CategoryNetwork).
			Timing("messages", time.Since(start)).
			Build()
	}

	if resp.StatusCode != http.StatusOK {
		body := httpclient.ReadErrorBody(resp)
		retry := resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500
		category := errors.CategoryVision
		switch resp.StatusCode {
		case http.StatusUnauthorized, http.StatusForbidden:
			category = errors.CategoryConfiguration
		case http.StatusTooManyRequests:
			category = errors.CategoryLimit
		}
		return "", retry, errors.Newf("anthropic api returned status %d", resp.StatusCode).
			Component("vision").
			Category(category).
			Context("status_code", resp.StatusCode).
			Context("response_body", body).
			Build()
	}

	var out messagesResponse
	if err := httpclient.DecodeJSON(resp, &out); err != nil {
		return "", false, errors.New(err).
			Component("vision").
			Category(errors.CategoryFileParsing).
			Context("operation", "decode_messages_response").
			Build()
	}

	var text strings.Builder
	for _, block := range out.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	if text.Len() == 0 {
		return "", false, errors.Newf("anthropic response has no text content").
			Component("vision").
			Category(errors.CategoryVision).
			Context("stop_reason", out.StopReason).
			Build()
	}

	c.log.Debug("vision response",
		logger.String("model", c.model),
		logger.Int("input_tokens", out.Usage.InputTokens),
		logger.Int("output_tokens", out.Usage.OutputTokens),
		logger.Duration("elapsed", time.Since(start)))
	return text.String(), false, nil
}
