package provider

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// anthropicClient generates ticket-draft text via the Anthropic API
type anthropicClient struct {
	client *anthropic.Client
	model  string
}

func newAnthropicClient(cfg Config) (*anthropicClient, error) {
	apiKey := cfg.CompletionAPIKey
	if apiKey == "" {
		apiKey = os.Getenv("ANTHROPIC_API_KEY")
		if apiKey == "" {
			return nil, errors.New("ANTHROPIC_API_KEY not set")
		}
	}
	model := cfg.CompletionModel
	if model == "" {
		model = DefaultConfig().CompletionModel
	}

	client := anthropic.NewClient(option.WithAPIKey(apiKey))
	return &anthropicClient{client: &client, model: model}, nil
}

// Complete sends a single-turn prompt and returns the concatenated text
// blocks of the response
func (c *anthropicClient) Complete(ctx context.Context, prompt string) (string, error) {
	resp, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: 2048,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("completion request failed: %w", err)
	}

	var text string
	for _, block := range resp.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}
	if text == "" {
		return "", errors.New("completion response contained no text")
	}
	return text, nil
}
