package core

import "context"

// LLMProvider produces a bot reply for a prompt. The model name selects the
// backing endpoint; providers fall back to their default model when the name
// is unknown.
type LLMProvider interface {
	Generate(ctx context.Context, model string, prompt string) (string, error)
}
