package agentloop

import (
	"context"
	"encoding/json"
	"testing"
)

type strictTool struct{}

func (strictTool) Name() string        { return "strict" }
func (strictTool) Description() string { return "requires a name argument" }
func (strictTool) Schema() map[string]any {
	return map[string]any{
		"type":                 "object",
		"properties":           map[string]any{"name": map[string]any{"type": "string"}},
		"required":             []any{"name"},
		"additionalProperties": false,
	}
}
func (strictTool) Execute(ctx context.Context, tc ToolContext, args json.RawMessage) (*ToolResult, error) {
	return &ToolResult{Content: "ok"}, nil
}

func TestRegistryExecuteValidatesArguments(t *testing.T) {
	r := NewRegistry(nil)
	if err := r.Register(strictTool{}); err != nil {
		t.Fatalf("register: %v", err)
	}

	_, err := r.Execute(context.Background(), ToolContext{}, "strict", json.RawMessage(`{}`))
	if err == nil {
		t.Fatal("expected validation error for missing required field")
	}

	res, err := r.Execute(context.Background(), ToolContext{}, "strict", json.RawMessage(`{"name":"x"}`))
	if err != nil {
		t.Fatalf("expected valid call to succeed, got %v", err)
	}
	if res.Content != "ok" {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestRegistryExecuteUnknownToolReturnsToolNotFoundError(t *testing.T) {
	r := NewRegistry(nil)
	_, err := r.Execute(context.Background(), ToolContext{}, "nope", json.RawMessage(`{}`))
	var notFound *ToolNotFoundError
	if err == nil {
		t.Fatal("expected error")
	}
	if !asToolNotFoundError(err, &notFound) {
		t.Fatalf("expected *ToolNotFoundError, got %T: %v", err, err)
	}
}

func asToolNotFoundError(err error, target **ToolNotFoundError) bool {
	if e, ok := err.(*ToolNotFoundError); ok {
		*target = e
		return true
	}
	return false
}

func TestRegisterReplacesDuplicateName(t *testing.T) {
	r := NewRegistry(nil)
	if err := r.Register(strictTool{}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := r.Register(strictTool{}); err != nil {
		t.Fatalf("re-register: %v", err)
	}
	if len(r.Names()) != 1 {
		t.Fatalf("expected exactly one tool after re-registration, got %d", len(r.Names()))
	}
}
