package llm

import (
	"context"
)

// Provider is the interface for all LLM providers. Transport failures come
// back as errors; schema validation of the returned text is the calling
// stage's job.
type Provider interface {
	GenerateResponse(ctx context.Context, prompt string, systemPrompt string, options map[string]interface{}) (string, error)
	// AdaptInstructions transforms raw instructions into model-specific formats
	AdaptInstructions(rawInstructions string) string
}
