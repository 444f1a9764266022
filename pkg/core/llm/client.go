package llm

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"golang.org/x/time/rate"

	"fiscal_notes/pkg/core/faults"
)

// Client wraps a Provider with the call policy every pipeline stage shares:
// client-side pacing, a soft per-attempt timeout, a hard per-call deadline,
// and up to three attempts with exponential backoff on transport failures.
type Client struct {
	provider Provider

	limiter     *rate.Limiter
	softTimeout time.Duration
	hardTimeout time.Duration
	retryBase   time.Duration
	maxAttempts int
}

func NewClient(provider Provider) *Client {
	return &Client{
		provider:    provider,
		limiter:     rate.NewLimiter(rate.Every(2*time.Second), 1),
		softTimeout: 120 * time.Second,
		hardTimeout: 300 * time.Second,
		retryBase:   2 * time.Second,
		maxAttempts: 4, // initial try + three backoff retries
	}
}

// GenerateJSON runs one JSON-mode completion under the client's policy.
func (c *Client) GenerateJSON(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	return c.Generate(ctx, systemPrompt, userPrompt, map[string]interface{}{
		"response_format": map[string]interface{}{"type": "json_object"},
	})
}

// Generate runs one completion, retrying transport failures. Exhausted
// retries surface as LLMTransportError.
func (c *Client) Generate(ctx context.Context, systemPrompt, userPrompt string, options map[string]interface{}) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.hardTimeout)
	defer cancel()

	var lastErr error
	for attempt := 0; attempt < c.maxAttempts; attempt++ {
		if attempt > 0 {
			delay := backoffDelay(c.retryBase, attempt-1)
			fmt.Printf("⚠️  LLM call failed (%v), retrying in %s (attempt %d/%d)\n",
				lastErr, delay.Round(time.Millisecond), attempt+1, c.maxAttempts)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return "", faults.Wrap(faults.LLMTransportError, "llm.generate", ctx.Err())
			}
		}

		if err := c.limiter.Wait(ctx); err != nil {
			return "", faults.Wrap(faults.LLMTransportError, "llm.generate", err)
		}

		attemptCtx, cancelAttempt := context.WithTimeout(ctx, c.softTimeout)
		text, err := c.provider.GenerateResponse(attemptCtx, userPrompt, c.provider.AdaptInstructions(systemPrompt), options)
		cancelAttempt()
		if err == nil {
			return text, nil
		}
		lastErr = err
	}
	return "", faults.Wrap(faults.LLMTransportError, "llm.generate", lastErr)
}

// backoffDelay computes base·2^k plus up to 25% jitter.
func backoffDelay(base time.Duration, k int) time.Duration {
	d := base << uint(k)
	jitter := time.Duration(rand.Int63n(int64(d)/4 + 1))
	return d + jitter
}
