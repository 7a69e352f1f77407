// Package embedding converts text into fixed-length vectors through an
// OpenAI-compatible embeddings endpoint.
package embedding

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"
)

// ErrNotConfigured is returned when the provider triple is incomplete.
// Calling the client without a full configuration is a programming error
// and must fail fast, never silently no-op.
var ErrNotConfigured = errors.New("embedding provider not configured: api key, base URL, and model are required")

const requestTimeout = 30 * time.Second

// ProviderConfig is the immutable (api_key, base_url, model) triple for one
// embedding provider. It is captured at client construction and threaded
// through each call; it is never mutated afterwards, so concurrent runs
// with different credentials each build their own client.
type ProviderConfig struct {
	APIKey  string
	BaseURL string
	Model   string
}

// Validate reports ErrNotConfigured when any field is empty.
func (c ProviderConfig) Validate() error {
	if strings.TrimSpace(c.APIKey) == "" ||
		strings.TrimSpace(c.BaseURL) == "" ||
		strings.TrimSpace(c.Model) == "" {
		return ErrNotConfigured
	}
	return nil
}

// Embedder generates an embedding vector for a single text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Model() string
}

// Client is an OpenAI-compatible embeddings client.
type Client struct {
	cfg  ProviderConfig
	http *resty.Client
}

// NewClient validates the provider configuration and builds a client.
func NewClient(cfg ProviderConfig) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	httpClient := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(requestTimeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("Authorization", "Bearer "+cfg.APIKey)

	return &Client{cfg: cfg, http: httpClient}, nil
}

// Model returns the configured embedding model name.
func (c *Client) Model() string {
	return c.cfg.Model
}

type embeddingRequest struct {
	Input          []string `json:"input"`
	Model          string   `json:"model"`
	EncodingFormat string   `json:"encoding_format"`
}

type embeddingResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

// Embed generates an embedding for text. Transport and API failures come
// back as errors; callers must treat a missing vector as a soft failure and
// abort the enclosing operation rather than crash.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	var result embeddingResponse

	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(embeddingRequest{
			Input:          []string{text},
			Model:          c.cfg.Model,
			EncodingFormat: "float",
		}).
		SetResult(&result).
		Post("/embeddings")
	if err != nil {
		log.Error().Err(err).Str("model", c.cfg.Model).Msg("Embedding request failed")
		return nil, fmt.Errorf("embedding request: %w", err)
	}

	if resp.IsError() {
		log.Error().
			Int("status", resp.StatusCode()).
			Str("model", c.cfg.Model).
			Msg("Embedding API returned error status")
		return nil, fmt.Errorf("embedding API status %d", resp.StatusCode())
	}

	if result.Error != nil {
		log.Error().Str("apiError", result.Error.Message).Msg("Embedding API error")
		return nil, fmt.Errorf("embedding API: %s", result.Error.Message)
	}

	if len(result.Data) == 0 || len(result.Data[0].Embedding) == 0 {
		log.Error().Str("model", c.cfg.Model).Msg("Embedding API returned no vector")
		return nil, errors.New("embedding API returned no vector")
	}

	return result.Data[0].Embedding, nil
}
