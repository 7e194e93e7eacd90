package adapter

import (
	"testing"

	openai "github.com/sashabaranov/go-openai"
	"github.com/tmc/langchaingo/llms"
)

func TestToOpenAIMessages_TextAndRoles(t *testing.T) {
	msgs := toOpenAIMessages([]llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, "be helpful"),
		llms.TextParts(llms.ChatMessageTypeHuman, "hola"),
		llms.TextParts(llms.ChatMessageTypeAI, "hello"),
	})

	if len(msgs) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(msgs))
	}
	if msgs[0].Role != openai.ChatMessageRoleSystem || msgs[0].Content != "be helpful" {
		t.Errorf("system message mapped wrong: %+v", msgs[0])
	}
	if msgs[1].Role != openai.ChatMessageRoleUser {
		t.Errorf("human should map to user, got %s", msgs[1].Role)
	}
	if msgs[2].Role != openai.ChatMessageRoleAssistant {
		t.Errorf("ai should map to assistant, got %s", msgs[2].Role)
	}
}

func TestToOpenAIMessages_ToolCallResponseBecomesToolRole(t *testing.T) {
	msgs := toOpenAIMessages([]llms.MessageContent{
		{
			Role: llms.ChatMessageTypeTool,
			Parts: []llms.ContentPart{
				llms.ToolCallResponse{ToolCallID: "call-1", Content: "42"},
			},
		},
	})

	if len(msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(msgs))
	}
	if msgs[0].Role != openai.ChatMessageRoleTool {
		t.Errorf("expected tool role, got %s", msgs[0].Role)
	}
	if msgs[0].ToolCallID != "call-1" || msgs[0].Content != "42" {
		t.Errorf("tool response mapped wrong: %+v", msgs[0])
	}
}

func TestToOpenAIMessages_AssistantToolCall(t *testing.T) {
	msgs := toOpenAIMessages([]llms.MessageContent{
		{
			Role: llms.ChatMessageTypeAI,
			Parts: []llms.ContentPart{
				llms.ToolCall{ID: "call-2", Type: "function", FunctionCall: &llms.FunctionCall{Name: "route", Arguments: `{"next":"capi_gus"}`}},
			},
		},
	})

	if len(msgs) != 1 || len(msgs[0].ToolCalls) != 1 {
		t.Fatalf("expected 1 message with 1 tool call, got %+v", msgs)
	}
	call := msgs[0].ToolCalls[0]
	if call.ID != "call-2" || call.Function.Name != "route" {
		t.Errorf("tool call mapped wrong: %+v", call)
	}
}

func TestNewOpenAIClient_DefaultsModel(t *testing.T) {
	c := NewOpenAIClient("test-key", "", "")
	if c.model != openai.GPT4oMini {
		t.Errorf("expected default model %s, got %s", openai.GPT4oMini, c.model)
	}
}
