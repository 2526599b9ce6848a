package llm

import (
	"context"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/markdave123-py/lawgpt/internal/core"
)

// Router sends gemini-* models to Gemini when it is configured and every
// other model to the HTTP endpoints.
type Router struct {
	endpoints core.LLMProvider
	gemini    core.LLMProvider
}

func NewRouter(endpoints, gemini core.LLMProvider) *Router {
	return &Router{endpoints: endpoints, gemini: gemini}
}

func IsGeminiModel(model string) bool {
	return strings.HasPrefix(strings.ToLower(model), "gemini")
}

func (r *Router) Generate(ctx context.Context, model, prompt string) (string, error) {
	if IsGeminiModel(model) {
		if r.gemini != nil {
			return r.gemini.Generate(ctx, model, prompt)
		}
		log.Warn().Str("model", model).Msg("gemini not configured, using fallback model")
		model = FallbackModel
	}
	return r.endpoints.Generate(ctx, model, prompt)
}

var _ core.LLMProvider = (*Router)(nil)
