// Package openai implements embedding.Provider against the OpenAI
// embeddings API, used only by the ambient HTTP/MCP surface to turn raw
// observations into vectors before they reach the clustering engine.
package openai

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/matluuk/linkscluster/pkg/embedding"
	goopenai "github.com/sashabaranov/go-openai"
)

const defaultTimeout = 30 * time.Second

// modelDimensions maps known OpenAI embedding models to their output
// dimension, used when the caller does not otherwise learn it.
var modelDimensions = map[goopenai.EmbeddingModel]int{
	goopenai.SmallEmbedding3: 1536,
	goopenai.LargeEmbedding3: 3072,
	goopenai.AdaEmbeddingV2:  1536,
}

// Config holds OpenAI client configuration.
type Config struct {
	// APIKey is the OpenAI API key (required).
	APIKey string

	// Model is the embedding model to use.
	Model string

	// BaseURL overrides the API base URL (for Azure/proxy deployments).
	BaseURL string

	// Timeout bounds a single request.
	Timeout time.Duration

	// MaxRetries bounds retry attempts on transient failures.
	MaxRetries int
}

// Client implements embedding.Provider using the OpenAI SDK.
type Client struct {
	cfg       Config
	client    *goopenai.Client
	model     goopenai.EmbeddingModel
	dimension int
}

// NewClient creates a new OpenAI embedding client.
func NewClient(cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("API key is required")
	}
	if cfg.Model == "" {
		cfg.Model = string(goopenai.SmallEmbedding3)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}

	clientCfg := goopenai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	model := goopenai.EmbeddingModel(cfg.Model)
	dimension, ok := modelDimensions[model]
	if !ok {
		dimension = 1536
	}

	return &Client{
		cfg:       cfg,
		client:    goopenai.NewClientWithConfig(clientCfg),
		model:     model,
		dimension: dimension,
	}, nil
}

// Embed converts a single text into a vector embedding.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, embedding.ErrEmptyInput
	}

	embeddings, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(embeddings) == 0 {
		return nil, fmt.Errorf("no embedding returned")
	}
	return embeddings[0], nil
}

// EmbedBatch converts multiple texts into vector embeddings, preserving
// input order and retrying transient failures with exponential backoff.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, embedding.ErrEmptyInput
	}

	validTexts := make([]string, 0, len(texts))
	validIndices := make([]int, 0, len(texts))
	for i, text := range texts {
		if text != "" {
			validTexts = append(validTexts, text)
			validIndices = append(validIndices, i)
		}
	}
	if len(validTexts) == 0 {
		return nil, embedding.ErrEmptyInput
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	req := goopenai.EmbeddingRequest{
		Input: validTexts,
		Model: c.model,
	}

	var resp goopenai.EmbeddingResponse
	var lastErr error
	backoff := 100 * time.Millisecond

	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-reqCtx.Done():
				return nil, reqCtx.Err()
			case <-time.After(backoff):
			}
			backoff = time.Duration(math.Min(float64(backoff*2), float64(5*time.Second)))
		}

		resp, lastErr = c.client.CreateEmbeddings(reqCtx, req)
		if lastErr == nil {
			break
		}
		if mapped := mapError(lastErr); mapped == embedding.ErrInvalidAPIKey || mapped == embedding.ErrContextTooLong {
			return nil, mapped
		}
	}
	if lastErr != nil {
		return nil, mapError(lastErr)
	}

	results := make([][]float32, len(texts))
	for _, data := range resp.Data {
		if data.Index < len(validIndices) {
			results[validIndices[data.Index]] = data.Embedding
		}
	}
	for i, text := range texts {
		if text == "" {
			results[i] = make([]float32, c.dimension)
		}
	}

	return results, nil
}

// Dimension returns the embedding dimension for this model.
func (c *Client) Dimension() int { return c.dimension }

// ModelName returns the model name.
func (c *Client) ModelName() string { return string(c.model) }

func mapError(err error) error {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "401") || strings.Contains(msg, "invalid_api_key"):
		return embedding.ErrInvalidAPIKey
	case strings.Contains(msg, "429") || strings.Contains(msg, "rate_limit"):
		return embedding.ErrRateLimited
	case strings.Contains(msg, "context_length_exceeded"):
		return embedding.ErrContextTooLong
	default:
		return err
	}
}
