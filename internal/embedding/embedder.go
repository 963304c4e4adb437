// Package embedding produces similarity vectors via langchaingo embedding
// providers.
package embedding

import (
	"context"
	"fmt"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
)

// Providers supported for embeddings.
const (
	ProviderOllama = "ollama"
	ProviderOpenAI = "openai"
)

const (
	// DefaultModel produces 384-dimensional vectors.
	DefaultModel = "all-minilm:l6-v2"

	// DefaultDimension must match the vector index dimension in the
	// similarity store schema.
	DefaultDimension = 384

	// maxInputChars caps embedding input; roughly 4 chars per token.
	maxInputChars = 8 * 1024
)

// Config selects the embedding provider and model.
type Config struct {
	Provider  string
	Model     string
	ServerURL string
	APIKey    string
	Dimension int
}

// Client wraps a langchaingo embedder and enforces the expected dimension.
type Client struct {
	embedder  embeddings.Embedder
	model     string
	dimension int
}

// New creates an embedding client for the configured provider.
func New(cfg Config) (*Client, error) {
	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}
	dimension := cfg.Dimension
	if dimension == 0 {
		dimension = DefaultDimension
	}

	var (
		client embeddings.EmbedderClient
		err    error
	)
	switch cfg.Provider {
	case ProviderOllama, "":
		opts := []ollama.Option{ollama.WithModel(model)}
		if cfg.ServerURL != "" {
			opts = append(opts, ollama.WithServerURL(cfg.ServerURL))
		}
		client, err = ollama.New(opts...)
		if err != nil {
			return nil, fmt.Errorf("create ollama embedder: %w", err)
		}
	case ProviderOpenAI:
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("openai api key required")
		}
		client, err = openai.New(
			openai.WithToken(cfg.APIKey),
			openai.WithEmbeddingModel(model),
		)
		if err != nil {
			return nil, fmt.Errorf("create openai embedder: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported embedding provider: %s", cfg.Provider)
	}

	embedder, err := embeddings.NewEmbedder(client)
	if err != nil {
		return nil, fmt.Errorf("create embedder: %w", err)
	}
	return &Client{embedder: embedder, model: model, dimension: dimension}, nil
}

// NewWithEmbedder wraps an existing embedder (primarily for testing).
func NewWithEmbedder(embedder embeddings.Embedder, dimension int) *Client {
	return &Client{embedder: embedder, dimension: dimension}
}

// Model returns the configured embedding model name.
func (c *Client) Model() string {
	return c.model
}

// Embed generates an embedding for the given text. Overlong input is
// truncated before the provider call.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	if len(text) > maxInputChars {
		text = text[:maxInputChars]
	}
	vec, err := c.embedder.EmbedQuery(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embed: %w", err)
	}
	if c.dimension > 0 && len(vec) != c.dimension {
		return nil, fmt.Errorf("dimension mismatch: got %d, want %d (model: %s)",
			len(vec), c.dimension, c.model)
	}
	return vec, nil
}
