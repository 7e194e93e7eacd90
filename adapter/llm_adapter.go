package adapter

import (
	"context"

	"github.com/tmc/langchaingo/llms"
)

// OpenAIAdapter narrows a full llms.Model down to the three call shapes
// the orchestration nodes actually need: plain generation, generation
// with per-call tunables, and generation under a system prompt. Nodes
// that only need text out of a model take this instead of the whole
// llms.Model surface.
type OpenAIAdapter struct {
	llm llms.Model
}

// NewOpenAIAdapter wraps llm. The adapter holds no state of its own and
// is safe for concurrent use if llm is.
func NewOpenAIAdapter(llm llms.Model) *OpenAIAdapter {
	return &OpenAIAdapter{llm: llm}
}

// Generate produces a completion for a single prompt.
func (a *OpenAIAdapter) Generate(ctx context.Context, prompt string) (string, error) {
	return a.GenerateWithConfig(ctx, prompt, nil)
}

// GenerateWithConfig produces a completion honoring the recognized
// config keys ("temperature" float, "max_tokens" int). Unrecognized keys
// and wrongly typed values are ignored rather than erroring, so a config
// bag threaded from GraphState.Config can be passed through as-is.
func (a *OpenAIAdapter) GenerateWithConfig(ctx context.Context, prompt string, config map[string]any) (string, error) {
	var opts []llms.CallOption
	if t, ok := config["temperature"].(float64); ok {
		opts = append(opts, llms.WithTemperature(t))
	}
	switch mt := config["max_tokens"].(type) {
	case int:
		opts = append(opts, llms.WithMaxTokens(mt))
	case float64:
		opts = append(opts, llms.WithMaxTokens(int(mt)))
	}
	return a.llm.Call(ctx, prompt, opts...)
}

// GenerateWithSystem produces a completion with a system prompt ahead of
// the user prompt. An empty choice list yields an empty string, not an
// error, matching how callers treat a model that declined to answer.
func (a *OpenAIAdapter) GenerateWithSystem(ctx context.Context, system, prompt string) (string, error) {
	resp, err := a.llm.GenerateContent(ctx, []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, system),
		llms.TextParts(llms.ChatMessageTypeHuman, prompt),
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", nil
	}
	return resp.Choices[0].Content, nil
}
