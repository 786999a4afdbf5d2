package modelrouter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// HTTPChatClient implements Client against any OpenAI-compatible
// /v1/chat/completions HTTP endpoint without an API key, covering local
// backends such as Ollama and LM Studio. No third-party SDK in the
// retrieval pack targets these local servers, so this adapter uses
// net/http directly (documented in DESIGN.md).
type HTTPChatClient struct {
	baseURL string
	client  *http.Client
}

// NewHTTPChatClient targets baseURL (e.g. "http://localhost:11434/v1").
func NewHTTPChatClient(baseURL string) *HTTPChatClient {
	return &HTTPChatClient{baseURL: baseURL, client: &http.Client{Timeout: 120 * time.Second}}
}

type httpChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type httpChatRequest struct {
	Model       string             `json:"model"`
	Messages    []httpChatMessage  `json:"messages"`
	Temperature float64            `json:"temperature,omitempty"`
	MaxTokens   int                `json:"max_tokens,omitempty"`
	TopP        float64            `json:"top_p,omitempty"`
}

type httpChatResponse struct {
	Choices []struct {
		Message httpChatMessage `json:"message"`
	} `json:"choices"`
}

// Generate posts a chat completion request and returns the first choice's
// message content.
func (c *HTTPChatClient) Generate(ctx context.Context, modelName, prompt string, opts Options) (string, error) {
	reqBody := httpChatRequest{
		Model:       modelName,
		Messages:    []httpChatMessage{{Role: "user", Content: prompt}},
		Temperature: opts.Temperature,
		MaxTokens:   opts.MaxTokens,
		TopP:        opts.TopP,
	}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("modelrouter: marshal chat request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("modelrouter: build chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("modelrouter: request %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusTooManyRequests {
		return "", ErrRateLimited
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("modelrouter: %s returned status %d", c.baseURL, resp.StatusCode)
	}

	var out httpChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("modelrouter: decode chat response: %w", err)
	}
	if len(out.Choices) == 0 {
		return "", fmt.Errorf("modelrouter: %s returned no choices", c.baseURL)
	}
	return out.Choices[0].Message.Content, nil
}
