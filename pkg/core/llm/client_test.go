package llm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"fiscal_notes/pkg/core/faults"
)

// scriptedProvider fails a fixed number of times before succeeding.
type scriptedProvider struct {
	failures int
	calls    int
	lastSys  string
	lastOpts map[string]interface{}
}

func (s *scriptedProvider) GenerateResponse(ctx context.Context, prompt, systemPrompt string, options map[string]interface{}) (string, error) {
	s.calls++
	s.lastSys = systemPrompt
	s.lastOpts = options
	if s.calls <= s.failures {
		return "", errors.New("connection reset")
	}
	return `{"ok":true}`, nil
}

func (s *scriptedProvider) AdaptInstructions(raw string) string { return raw }

func fastClient(p Provider) *Client {
	c := NewClient(p)
	c.limiter = rate.NewLimiter(rate.Inf, 1)
	c.retryBase = time.Millisecond
	c.softTimeout = time.Second
	c.hardTimeout = 5 * time.Second
	return c
}

func TestGenerateRetriesTransportFailures(t *testing.T) {
	p := &scriptedProvider{failures: 2}
	c := fastClient(p)

	out, err := c.Generate(context.Background(), "sys", "user", nil)
	require.NoError(t, err)
	assert.Equal(t, `{"ok":true}`, out)
	assert.Equal(t, 3, p.calls)
}

func TestGenerateExhaustsRetries(t *testing.T) {
	p := &scriptedProvider{failures: 10}
	c := fastClient(p)

	_, err := c.Generate(context.Background(), "sys", "user", nil)
	require.Error(t, err)
	assert.Equal(t, faults.LLMTransportError, faults.KindOf(err))
	assert.Equal(t, 4, p.calls, "initial try plus three retries")
}

func TestGenerateJSONSetsResponseFormat(t *testing.T) {
	p := &scriptedProvider{}
	c := fastClient(p)

	_, err := c.GenerateJSON(context.Background(), "sys", "user")
	require.NoError(t, err)

	rf, ok := p.lastOpts["response_format"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "json_object", rf["type"])
}

func TestGenerateHonorsCancelledContext(t *testing.T) {
	p := &scriptedProvider{failures: 10}
	c := fastClient(p)
	c.retryBase = time.Minute // force the retry sleep to be the wait point

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	_, err := c.Generate(ctx, "sys", "user", nil)
	require.Error(t, err)
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.Equal(t, faults.LLMTransportError, faults.KindOf(err))
}

func TestBackoffDelayGrows(t *testing.T) {
	base := 5 * time.Second
	for k, want := range []time.Duration{5 * time.Second, 10 * time.Second, 20 * time.Second} {
		d := backoffDelay(base, k)
		assert.GreaterOrEqual(t, d, want, "k=%d", k)
		assert.Less(t, d, want+want/4+time.Millisecond, "k=%d jitter bound", k)
	}
}
