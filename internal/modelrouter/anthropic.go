package modelrouter

import (
	"context"
	"errors"
	"fmt"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// MessagesClient captures the subset of the Anthropic SDK used by
// AnthropicClient, satisfied by *sdk.MessageService so callers can inject a
// mock in tests.
type MessagesClient interface {
	New(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error)
}

// AnthropicClient implements Client on top of the Anthropic Messages API.
type AnthropicClient struct {
	msg MessagesClient
}

// NewAnthropicClient wraps msg as a Client.
func NewAnthropicClient(msg MessagesClient) (*AnthropicClient, error) {
	if msg == nil {
		return nil, errors.New("modelrouter: anthropic client is required")
	}
	return &AnthropicClient{msg: msg}, nil
}

// NewAnthropicClientFromAPIKey builds an AnthropicClient using the default
// Anthropic HTTP transport, reading apiKey directly rather than the process
// environment so callers can source it from their own secret store.
func NewAnthropicClientFromAPIKey(apiKey string) (*AnthropicClient, error) {
	if apiKey == "" {
		return nil, errors.New("modelrouter: anthropic api key is required")
	}
	ac := sdk.NewClient(option.WithAPIKey(apiKey))
	return NewAnthropicClient(&ac.Messages)
}

// Generate issues a single-turn Messages.New request and returns the
// concatenated text of the response.
func (c *AnthropicClient) Generate(ctx context.Context, modelName, prompt string, opts Options) (string, error) {
	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	params := sdk.MessageNewParams{
		Model:     sdk.Model(modelName),
		MaxTokens: int64(maxTokens),
		Messages: []sdk.MessageParam{
			sdk.NewUserMessage(sdk.NewTextBlock(prompt)),
		},
	}
	if opts.Temperature > 0 {
		params.Temperature = sdk.Float(opts.Temperature)
	}
	if opts.TopP > 0 {
		params.TopP = sdk.Float(opts.TopP)
	}

	msg, err := c.msg.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("modelrouter: anthropic messages.new: %w", err)
	}
	var out string
	for _, block := range msg.Content {
		if block.Type == "text" {
			out += block.Text
		}
	}
	return out, nil
}
