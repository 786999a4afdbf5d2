package modelrouter

import (
	"context"
	"errors"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// ChatClient captures the subset of the OpenAI SDK used by OpenAIClient.
type ChatClient interface {
	New(ctx context.Context, body openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error)
}

// OpenAIClient implements Client on top of the Chat Completions API, and
// doubles as the adapter for any OpenAI-compatible endpoint (Azure OpenAI,
// self-hosted gateways) by overriding the base URL at construction time.
type OpenAIClient struct {
	chat ChatClient
}

// NewOpenAIClient wraps chat as a Client.
func NewOpenAIClient(chat ChatClient) (*OpenAIClient, error) {
	if chat == nil {
		return nil, errors.New("modelrouter: openai chat client is required")
	}
	return &OpenAIClient{chat: chat}, nil
}

// NewOpenAIClientFromAPIKey builds an OpenAIClient against the public OpenAI
// API. baseURL may be empty to use the default, or set to target an
// OpenAI-compatible endpoint such as Azure OpenAI.
func NewOpenAIClientFromAPIKey(apiKey, baseURL string) (*OpenAIClient, error) {
	if apiKey == "" {
		return nil, errors.New("modelrouter: openai api key is required")
	}
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	client := openai.NewClient(opts...)
	return NewOpenAIClient(&client.Chat.Completions)
}

// Generate issues a single-turn chat completion and returns the first
// choice's message content.
func (c *OpenAIClient) Generate(ctx context.Context, modelName, prompt string, opts Options) (string, error) {
	params := openai.ChatCompletionNewParams{
		Model: modelName,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(prompt),
		},
	}
	if opts.Temperature > 0 {
		params.Temperature = openai.Float(opts.Temperature)
	}
	if opts.MaxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(opts.MaxTokens))
	}
	if opts.TopP > 0 {
		params.TopP = openai.Float(opts.TopP)
	}

	resp, err := c.chat.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("modelrouter: openai chat.completions.new: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("modelrouter: openai returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}
