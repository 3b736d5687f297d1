package agentloop

import (
	"context"

	"github.com/nexuscore/agentruntime/pkg/models"
)

// LLMProvider is the contract every backend (Anthropic, OpenAI, Bedrock,
// Gemini) implements. Wire-format fidelity to any one vendor's API is out of
// scope; this interface is intentionally the minimum the loop needs to drive
// a tool-calling conversation.
//
// Grounded on internal/agent/provider_types.go's LLMProvider shape, extended
// with Temperature (request) and FinishReason (response) per spec.md §6.
type LLMProvider interface {
	Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error)
	Name() string
	Models() []string
	SupportsTools() bool
}

// CompletionRequest is a single turn's worth of context handed to a provider.
type CompletionRequest struct {
	Model       string
	System      string
	Messages    []*models.Message
	Tools       []Descriptor
	MaxTokens   int
	Temperature float64
}

// FinishReason classifies why a provider stopped generating.
type FinishReason string

const (
	FinishStop      FinishReason = "stop"
	FinishToolCalls FinishReason = "tool_calls"
	FinishLength    FinishReason = "length"
	FinishError     FinishReason = "error"
)

// CompletionResponse is a provider's answer for one turn: either plain text
// (FinishStop) or one or more tool calls (FinishToolCalls), never both in a
// way the loop needs to reconcile — a response with ToolCalls set always
// carries FinishToolCalls.
type CompletionResponse struct {
	Content      string
	ToolCalls    []models.ToolCall
	FinishReason FinishReason
	Model        string
}
