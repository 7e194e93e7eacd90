package adapter

import (
	"context"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
	"github.com/tmc/langchaingo/llms"
)

// OpenAIClient implements llms.Model on top of github.com/sashabaranov/
// go-openai, for wiring any OpenAI-compatible endpoint (a local
// inference server, a proxy) where langchaingo's own client can't be
// pointed. cmd/capiflow-server selects it when OPENAI_BASE_URL is set.
type OpenAIClient struct {
	client *openai.Client
	model  string
}

var _ llms.Model = (*OpenAIClient)(nil)

// NewOpenAIClient builds a client for the given endpoint. baseURL empty
// means api.openai.com; model empty defaults to gpt-4o-mini.
func NewOpenAIClient(apiKey, baseURL, model string) *OpenAIClient {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	if model == "" {
		model = openai.GPT4oMini
	}
	return &OpenAIClient{client: openai.NewClientWithConfig(cfg), model: model}
}

// Call implements llms.Model.
func (c *OpenAIClient) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, c, prompt, options...)
}

// GenerateContent implements llms.Model, translating langchaingo
// messages, tools, and tool-choice into a chat-completion request and
// the response's tool calls back.
func (c *OpenAIClient) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	opts := llms.CallOptions{Model: c.model}
	for _, opt := range options {
		opt(&opts)
	}

	req := openai.ChatCompletionRequest{
		Model:    opts.Model,
		Messages: toOpenAIMessages(messages),
	}
	if opts.Temperature > 0 {
		req.Temperature = float32(opts.Temperature)
	}
	if opts.MaxTokens > 0 {
		req.MaxTokens = opts.MaxTokens
	}
	for _, t := range opts.Tools {
		if t.Function == nil {
			continue
		}
		req.Tools = append(req.Tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Function.Name,
				Description: t.Function.Description,
				Parameters:  t.Function.Parameters,
			},
		})
	}
	if tc, ok := opts.ToolChoice.(llms.ToolChoice); ok && tc.Function != nil {
		req.ToolChoice = openai.ToolChoice{
			Type:     openai.ToolTypeFunction,
			Function: openai.ToolFunction{Name: tc.Function.Name},
		}
	}

	resp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("adapter: chat completion: %w", err)
	}

	choices := make([]*llms.ContentChoice, 0, len(resp.Choices))
	for _, ch := range resp.Choices {
		choice := &llms.ContentChoice{
			Content:    ch.Message.Content,
			StopReason: string(ch.FinishReason),
		}
		for _, call := range ch.Message.ToolCalls {
			choice.ToolCalls = append(choice.ToolCalls, llms.ToolCall{
				ID:   call.ID,
				Type: string(call.Type),
				FunctionCall: &llms.FunctionCall{
					Name:      call.Function.Name,
					Arguments: call.Function.Arguments,
				},
			})
		}
		choices = append(choices, choice)
	}
	return &llms.ContentResponse{Choices: choices}, nil
}

func toOpenAIMessages(messages []llms.MessageContent) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		msg := openai.ChatCompletionMessage{Role: toOpenAIRole(m.Role)}
		for _, part := range m.Parts {
			switch p := part.(type) {
			case llms.TextContent:
				msg.Content += p.Text
			case llms.ToolCallResponse:
				msg.Role = openai.ChatMessageRoleTool
				msg.ToolCallID = p.ToolCallID
				msg.Content += p.Content
			case llms.ToolCall:
				if p.FunctionCall != nil {
					msg.ToolCalls = append(msg.ToolCalls, openai.ToolCall{
						ID:   p.ID,
						Type: openai.ToolTypeFunction,
						Function: openai.FunctionCall{
							Name:      p.FunctionCall.Name,
							Arguments: p.FunctionCall.Arguments,
						},
					})
				}
			}
		}
		out = append(out, msg)
	}
	return out
}

func toOpenAIRole(role llms.ChatMessageType) string {
	switch role {
	case llms.ChatMessageTypeSystem:
		return openai.ChatMessageRoleSystem
	case llms.ChatMessageTypeAI:
		return openai.ChatMessageRoleAssistant
	case llms.ChatMessageTypeTool:
		return openai.ChatMessageRoleTool
	case llms.ChatMessageTypeFunction:
		return openai.ChatMessageRoleFunction
	default:
		return openai.ChatMessageRoleUser
	}
}
