package modelrouter

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/time/rate"
)

// ErrRateLimited is returned by backend clients when the upstream provider
// signals the request was rejected for exceeding a rate limit, letting
// RateLimitedClient distinguish it from other failures.
var ErrRateLimited = errors.New("modelrouter: rate limited by provider")

// RateLimitedClient wraps a Client with an AIMD-style adaptive
// tokens-per-minute limiter (spec §4.2): it waits for capacity before every
// call, halves its budget on ErrRateLimited, and grows it gradually on
// success, bounded by [minTPM, maxTPM].
type RateLimitedClient struct {
	next Client

	mu sync.Mutex

	limiter *rate.Limiter

	currentTPM   float64
	minTPM       float64
	maxTPM       float64
	recoveryRate float64
}

// NewRateLimitedClient wraps next with an adaptive limiter starting at
// initialTPM tokens per minute, growing toward maxTPM on sustained success.
func NewRateLimitedClient(next Client, initialTPM, maxTPM float64) *RateLimitedClient {
	if initialTPM <= 0 {
		initialTPM = 60000
	}
	if maxTPM <= 0 || maxTPM < initialTPM {
		maxTPM = initialTPM
	}
	minTPM := initialTPM * 0.1
	if minTPM < 1 {
		minTPM = 1
	}
	recoveryRate := initialTPM * 0.05
	if recoveryRate < 1 {
		recoveryRate = 1
	}
	return &RateLimitedClient{
		next:         next,
		limiter:      rate.NewLimiter(rate.Limit(initialTPM/60.0), int(initialTPM)),
		currentTPM:   initialTPM,
		minTPM:       minTPM,
		maxTPM:       maxTPM,
		recoveryRate: recoveryRate,
	}
}

// Generate waits for estimated token capacity, delegates to the wrapped
// client, and adjusts the budget based on the outcome.
func (c *RateLimitedClient) Generate(ctx context.Context, modelName, prompt string, opts Options) (string, error) {
	tokens := estimateTokens(prompt, opts.MaxTokens)
	if err := c.limiter.WaitN(ctx, tokens); err != nil {
		return "", err
	}
	text, err := c.next.Generate(ctx, modelName, prompt, opts)
	if errors.Is(err, ErrRateLimited) {
		c.backoff()
	} else if err == nil {
		c.probe()
	}
	return text, err
}

func (c *RateLimitedClient) backoff() { c.adjust(c.currentTPM * 0.5) }

func (c *RateLimitedClient) probe() { c.adjust(c.currentTPM + c.recoveryRate) }

func (c *RateLimitedClient) adjust(target float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if target < c.minTPM {
		target = c.minTPM
	}
	if target > c.maxTPM {
		target = c.maxTPM
	}
	if target == c.currentTPM {
		return
	}
	c.currentTPM = target
	c.limiter.SetLimit(rate.Limit(target / 60.0))
	c.limiter.SetBurst(int(target))
}

// estimateTokens cheaply approximates the token cost of a generation call:
// roughly 1 token per 3 characters of prompt plus completion headroom.
func estimateTokens(prompt string, maxTokens int) int {
	tokens := len(prompt)/3 + 1
	if maxTokens > 0 {
		tokens += maxTokens
	} else {
		tokens += 500
	}
	return tokens
}
