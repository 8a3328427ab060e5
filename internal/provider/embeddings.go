package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// embeddingClient talks to an OpenAI-compatible /embeddings endpoint
type embeddingClient struct {
	client *http.Client
	apiKey string
	apiURL string
	model  string
}

func newEmbeddingClient(cfg Config) (*embeddingClient, error) {
	if cfg.EmbeddingModel == "" {
		return nil, errors.New("embedding model is required")
	}
	apiURL := strings.TrimRight(cfg.EmbeddingURL, "/")
	if apiURL == "" {
		apiURL = "https://api.openai.com/v1"
	}
	return &embeddingClient{
		// Timeout here is a transport backstop; per-attempt deadlines
		// come from the retry controller's context
		client: &http.Client{Timeout: 120 * time.Second},
		apiKey: cfg.EmbeddingAPIKey,
		apiURL: apiURL,
		model:  cfg.EmbeddingModel,
	}, nil
}

type embeddingRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embeddingResponse struct {
	Data []struct {
		Embedding []float64 `json:"embedding"`
	} `json:"data"`
}

// Embed vectorizes a batch of texts in one request
func (c *embeddingClient) Embed(ctx context.Context, texts []string) ([][]float64, error) {
	if len(texts) == 0 {
		return nil, errors.New("texts are required")
	}

	payload, err := json.Marshal(embeddingRequest{Model: c.model, Input: texts})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal embedding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL+"/embeddings", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embedding request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read embedding response: %w", err)
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		// Status code stays in the message so the retry controller can
		// classify the failure
		return nil, fmt.Errorf("embedding endpoint returned HTTP %d: %s",
			resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var parsed embeddingResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("failed to decode embedding response: %w", err)
	}
	if len(parsed.Data) != len(texts) {
		return nil, fmt.Errorf("embedding count mismatch: got %d, want %d",
			len(parsed.Data), len(texts))
	}

	vectors := make([][]float64, 0, len(parsed.Data))
	for _, entry := range parsed.Data {
		vectors = append(vectors, entry.Embedding)
	}
	return vectors, nil
}
