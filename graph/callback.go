package graph

import (
	"context"

	"github.com/smallnest/capiflow/state"
)

// CallbackHandler carries the langchain-style lifecycle hooks
// (OnChainStart/End, OnLLMStart/End); intentionally minimal, only the
// hooks this system's nodes actually need.
type CallbackHandler interface {
	OnChainStart(ctx context.Context, node string, s *state.GraphState)
	OnChainEnd(ctx context.Context, node string, s *state.GraphState)
	OnChainError(ctx context.Context, node string, err error)
	OnLLMStart(ctx context.Context, node, prompt string)
	OnLLMEnd(ctx context.Context, node, output string)
	OnLLMError(ctx context.Context, node string, err error)
}

// GraphCallbackHandler extends CallbackHandler with a hook fired after
// every interpreter step, used by the checkpointer and event gateway.
type GraphCallbackHandler interface {
	CallbackHandler
	OnGraphStep(ctx context.Context, node string, s *state.GraphState)
}

// NoOpCallbackHandler implements GraphCallbackHandler with no-op methods;
// it is the default when no handler is supplied.
type NoOpCallbackHandler struct{}

func (NoOpCallbackHandler) OnChainStart(context.Context, string, *state.GraphState) {}
func (NoOpCallbackHandler) OnChainEnd(context.Context, string, *state.GraphState)   {}
func (NoOpCallbackHandler) OnChainError(context.Context, string, error)             {}
func (NoOpCallbackHandler) OnLLMStart(context.Context, string, string)              {}
func (NoOpCallbackHandler) OnLLMEnd(context.Context, string, string)                {}
func (NoOpCallbackHandler) OnLLMError(context.Context, string, error)               {}
func (NoOpCallbackHandler) OnGraphStep(context.Context, string, *state.GraphState)  {}

// MultiCallbackHandler fans a call out to every registered handler
// synchronously; the async stream event path is the EventSink in
// events.go.
type MultiCallbackHandler struct {
	Handlers []GraphCallbackHandler
}

func (m *MultiCallbackHandler) OnChainStart(ctx context.Context, node string, s *state.GraphState) {
	for _, h := range m.Handlers {
		h.OnChainStart(ctx, node, s)
	}
}
func (m *MultiCallbackHandler) OnChainEnd(ctx context.Context, node string, s *state.GraphState) {
	for _, h := range m.Handlers {
		h.OnChainEnd(ctx, node, s)
	}
}
func (m *MultiCallbackHandler) OnChainError(ctx context.Context, node string, err error) {
	for _, h := range m.Handlers {
		h.OnChainError(ctx, node, err)
	}
}
func (m *MultiCallbackHandler) OnLLMStart(ctx context.Context, node, prompt string) {
	for _, h := range m.Handlers {
		h.OnLLMStart(ctx, node, prompt)
	}
}
func (m *MultiCallbackHandler) OnLLMEnd(ctx context.Context, node, output string) {
	for _, h := range m.Handlers {
		h.OnLLMEnd(ctx, node, output)
	}
}
func (m *MultiCallbackHandler) OnLLMError(ctx context.Context, node string, err error) {
	for _, h := range m.Handlers {
		h.OnLLMError(ctx, node, err)
	}
}
func (m *MultiCallbackHandler) OnGraphStep(ctx context.Context, node string, s *state.GraphState) {
	for _, h := range m.Handlers {
		h.OnGraphStep(ctx, node, s)
	}
}
