package providers

import (
	"encoding/json"
	"testing"

	"github.com/nexuscore/agentruntime/internal/agentloop"
	"github.com/nexuscore/agentruntime/pkg/models"
)

func TestConvertBedrockMessagesSkipsSystemRole(t *testing.T) {
	messages := []*models.Message{
		{Role: models.RoleSystem, Content: "ignored"},
		{Role: models.RoleUser, Content: "hello"},
	}
	result, err := convertBedrockMessages(messages)
	if err != nil {
		t.Fatalf("convert: %v", err)
	}
	if len(result) != 1 {
		t.Fatalf("expected 1 message after dropping system role, got %d", len(result))
	}
}

func TestConvertBedrockMessagesRejectsInvalidToolArguments(t *testing.T) {
	messages := []*models.Message{
		{
			Role: models.RoleAssistant,
			ToolCalls: []models.ToolCall{
				{ID: "t1", Name: "lookup", Arguments: json.RawMessage(`not-json`)},
			},
		},
	}
	if _, err := convertBedrockMessages(messages); err == nil {
		t.Fatal("expected an error for malformed tool call arguments")
	}
}

func TestConvertBedrockToolsBuildsToolSpecs(t *testing.T) {
	tools := []agentloop.Descriptor{{
		Name:        "lookup",
		Description: "look things up",
		Parameters:  map[string]any{"type": "object"},
	}}
	cfg, err := convertBedrockTools(tools)
	if err != nil {
		t.Fatalf("convert tools: %v", err)
	}
	if len(cfg.Tools) != 1 {
		t.Fatalf("expected 1 tool spec, got %d", len(cfg.Tools))
	}
}
