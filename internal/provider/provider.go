// Package provider defines the capability interface for the external
// embedding and completion models the pipeline consumes, plus the real
// clients and a deterministic stub for tests.
//
// The pipeline never talks to a model directly: components receive a
// Provider at construction and every call goes through the retry
// controller at the call site.
package provider

import (
	"context"
	"fmt"
	"os"
)

// Provider is the capability interface for external model calls.
// Implementations must be safe for concurrent use.
type Provider interface {
	// Embed vectorizes a batch of texts. The result has one vector per
	// input, in input order.
	Embed(ctx context.Context, texts []string) ([][]float64, error)

	// Complete generates text for a prompt
	Complete(ctx context.Context, prompt string) (string, error)
}

// Config holds provider configuration
type Config struct {
	// EmbeddingURL is the base URL of an OpenAI-compatible embeddings
	// endpoint (default: https://api.openai.com/v1)
	EmbeddingURL string

	// EmbeddingModel is the embedding model name (default: text-embedding-3-small)
	EmbeddingModel string

	// EmbeddingAPIKey authenticates embedding calls (fallback: OPENAI_API_KEY)
	EmbeddingAPIKey string

	// CompletionModel is the Anthropic model for ticket drafting
	// (default: claude-3-5-haiku-20241022)
	CompletionModel string

	// CompletionAPIKey authenticates completion calls (fallback: ANTHROPIC_API_KEY)
	CompletionAPIKey string
}

// DefaultConfig returns the default provider configuration
func DefaultConfig() Config {
	return Config{
		EmbeddingURL:    "https://api.openai.com/v1",
		EmbeddingModel:  "text-embedding-3-small",
		CompletionModel: "claude-3-5-haiku-20241022",
	}
}

// ConfigFromEnv creates a Config from environment variables, falling back
// to defaults.
//
// Environment variables:
//   - PMI_EMBEDDING_URL: base URL for the embeddings endpoint
//   - PMI_EMBEDDING_MODEL: embedding model name
//   - OPENAI_API_KEY: embedding API key
//   - PMI_COMPLETION_MODEL: Anthropic model name
//   - ANTHROPIC_API_KEY: completion API key
func ConfigFromEnv() Config {
	cfg := DefaultConfig()
	if v := os.Getenv("PMI_EMBEDDING_URL"); v != "" {
		cfg.EmbeddingURL = v
	}
	if v := os.Getenv("PMI_EMBEDDING_MODEL"); v != "" {
		cfg.EmbeddingModel = v
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		cfg.EmbeddingAPIKey = v
	}
	if v := os.Getenv("PMI_COMPLETION_MODEL"); v != "" {
		cfg.CompletionModel = v
	}
	if v := os.Getenv("ANTHROPIC_API_KEY"); v != "" {
		cfg.CompletionAPIKey = v
	}
	return cfg
}

// New creates the production provider: HTTP embeddings + Anthropic
// completions
func New(cfg Config) (Provider, error) {
	embed, err := newEmbeddingClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedding client: %w", err)
	}
	complete, err := newAnthropicClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create completion client: %w", err)
	}
	return &composite{embed: embed, complete: complete}, nil
}

// composite fans the two capabilities out to their clients
type composite struct {
	embed    *embeddingClient
	complete *anthropicClient
}

func (c *composite) Embed(ctx context.Context, texts []string) ([][]float64, error) {
	return c.embed.Embed(ctx, texts)
}

func (c *composite) Complete(ctx context.Context, prompt string) (string, error) {
	return c.complete.Complete(ctx, prompt)
}
