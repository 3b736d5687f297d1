package agentloop

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// MaxToolNameLength and MaxToolArgsSize bound resource exhaustion from a
// malformed or adversarial tool call, mirroring the limits
// internal/agent/tool_registry.go enforces.
const (
	MaxToolNameLength = 256
	MaxToolArgsSize    = 10 << 20
)

// Registry is the Tool Registry (spec.md §4.6): a thread-safe, name-indexed
// set of tools, each advertised to the provider with its JSON Schema and
// validated against that schema before execution.
type Registry struct {
	mu      sync.RWMutex
	tools   map[string]Tool
	schemas map[string]*jsonschema.Schema
	logger  *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		tools:   make(map[string]Tool),
		schemas: make(map[string]*jsonschema.Schema),
		logger:  logger.With("component", "tool-registry"),
	}
}

// Register adds a tool, compiling its JSON Schema up front so a malformed
// schema fails at registration time rather than on first call. Re-registering
// an existing name replaces it and logs a warning, matching the teacher's
// replace-on-register semantics.
func (r *Registry) Register(tool Tool) error {
	compiled, err := compileSchema(tool.Name(), tool.Schema())
	if err != nil {
		return fmt.Errorf("agentloop: register tool %q: %w", tool.Name(), err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[tool.Name()]; exists {
		r.logger.Warn("replacing already-registered tool", "tool", tool.Name())
	}
	r.tools[tool.Name()] = tool
	r.schemas[tool.Name()] = compiled
	return nil
}

func compileSchema(name string, schema map[string]any) (*jsonschema.Schema, error) {
	if schema == nil {
		schema = map[string]any{"type": "object"}
	}
	raw, err := json.Marshal(schema)
	if err != nil {
		return nil, err
	}
	compiler := jsonschema.NewCompiler()
	resourceName := "tool://" + name
	if err := compiler.AddResource(resourceName, bytes.NewReader(raw)); err != nil {
		return nil, err
	}
	return compiler.Compile(resourceName)
}

// Unregister removes a tool by name.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tools, name)
	delete(r.schemas, name)
}

// Get returns a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Execute validates args against the tool's compiled schema, then invokes
// it. A missing tool returns a *ToolNotFoundError; an oversized name or
// arguments, a schema violation, or a failed execution returns a
// *ToolExecutionError. Neither is a bare error, so callers can surface it
// to the model as a tool-role message instead of aborting the turn.
func (r *Registry) Execute(ctx context.Context, tc ToolContext, name string, args json.RawMessage) (*ToolResult, error) {
	if len(name) > MaxToolNameLength {
		return nil, &ToolExecutionError{ToolName: name, Reason: "tool name exceeds maximum length"}
	}
	if len(args) > MaxToolArgsSize {
		return nil, &ToolExecutionError{ToolName: name, Reason: "tool arguments exceed maximum size"}
	}

	r.mu.RLock()
	tool, ok := r.tools[name]
	schema := r.schemas[name]
	r.mu.RUnlock()
	if !ok {
		return nil, &ToolNotFoundError{ToolName: name}
	}

	if schema != nil {
		var decoded any
		if len(args) == 0 {
			decoded = map[string]any{}
		} else if err := json.Unmarshal(args, &decoded); err != nil {
			return nil, &ToolExecutionError{ToolName: name, Reason: "arguments are not valid JSON", Cause: err}
		}
		if err := schema.Validate(decoded); err != nil {
			return nil, &ToolExecutionError{ToolName: name, Reason: "arguments failed schema validation", Cause: err}
		}
	}

	result, err := tool.Execute(ctx, tc, args)
	if err != nil {
		return nil, &ToolExecutionError{ToolName: name, Reason: "execution failed", Cause: err}
	}
	return result, nil
}

// Descriptors returns every registered tool's provider-facing advertisement.
func (r *Registry) Descriptors() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Descriptor, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, Descriptor{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  t.Schema(),
		})
	}
	return out
}

// Names returns every registered tool name, for /tools and for building a
// restricted copy of a registry (e.g. the Subagent Manager's blacklist).
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.tools))
	for name := range r.tools {
		out = append(out, name)
	}
	return out
}
