// Package agentloop implements the Agent Loop (spec.md §4.5) and the Tool
// Registry (spec.md §4.6): per-session dispatch, the LLM-tool iteration
// loop, system prompt assembly, the asynchronous compaction trigger, and
// tool registration/execution.
//
// Grounded on internal/agent/loop.go (AgenticLoop state machine,
// LoopConfig/DefaultLoopConfig/sanitizeLoopConfig), internal/agent/tool_registry.go
// (ToolRegistry Register/Unregister/Get/Execute/AsLLMTools), and
// internal/agent/errors.go (typed error taxonomy) from the teacher
// repository.
package agentloop

import (
	"context"
	"encoding/json"
)

// ToolContext carries the per-invocation context a tool needs beyond its
// JSON arguments: which session/channel/user triggered it, so tools like
// schedule-task or spawn-subagent can act on the right session without a
// global.
type ToolContext struct {
	SessionID string
	Channel   string
	UserID    string
}

// ToolResult is what a Tool returns. IsError distinguishes a tool-level
// failure (reported back to the model as a tool message) from a Go error
// (which Registry.Execute wraps as a ToolExecutionError instead).
type ToolResult struct {
	Content string
	IsError bool
}

// Tool is a single callable the agent loop can advertise to the provider
// and invoke. Schema must return a JSON Schema object (as produced by
// SchemaFor or hand-written) describing Arguments' shape.
type Tool interface {
	Name() string
	Description() string
	Schema() map[string]any
	Execute(ctx context.Context, tc ToolContext, args json.RawMessage) (*ToolResult, error)
}

// Descriptor is the provider-facing advertisement of a tool: name,
// description, and JSON Schema parameters, with no execution capability.
type Descriptor struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}
