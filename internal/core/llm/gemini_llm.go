package llm

import (
	"context"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"github.com/pkg/errors"
	"google.golang.org/api/option"

	"github.com/markdave123-py/lawgpt/internal/core"
)

// SystemInstruction is the persona every Gemini model answers with.
const SystemInstruction = `You are LawGPT. Respond in clear professional language using short bullet points when possible.
Use emojis to improve readability:
🧩 Concept / Idea
⚖ Law / Legal principle
🔍 Research / Case references
📄 Document / Contract
⚠ Risk / Warning
🏛 Court / Judgment
💡 Advice / Recommendation
1️⃣, 2️⃣, 3️⃣ for numbered steps`

type GeminiLLM struct {
	client *genai.Client
}

func NewGeminiLLM(ctx context.Context, apiKey string) (*GeminiLLM, error) {
	if apiKey == "" {
		return nil, errors.New("GEMINI_API_KEY not set")
	}
	cl, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, errors.Wrap(err, "gemini client")
	}
	return &GeminiLLM{client: cl}, nil
}

func (g *GeminiLLM) Close() error {
	if g.client != nil {
		return g.client.Close()
	}
	return nil
}

// Generate uses model as the Gemini model name, e.g. gemini-1.5-flash.
func (g *GeminiLLM) Generate(ctx context.Context, model, prompt string) (string, error) {
	m := g.client.GenerativeModel(model)
	m.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(SystemInstruction)},
	}

	resp, err := m.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return "", errors.Wrapf(core.ErrInference, "gemini generate: %v", err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", nil
	}

	var b strings.Builder
	for _, p := range resp.Candidates[0].Content.Parts {
		if t, ok := p.(genai.Text); ok {
			b.WriteString(string(t))
		}
	}
	return b.String(), nil
}

var _ core.LLMProvider = (*GeminiLLM)(nil)
