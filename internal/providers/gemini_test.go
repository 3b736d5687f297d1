package providers

import (
	"encoding/json"
	"testing"

	"github.com/nexuscore/agentruntime/internal/agentloop"
	"github.com/nexuscore/agentruntime/pkg/models"
)

func TestConvertGeminiMessagesMapsAssistantToModelRole(t *testing.T) {
	messages := []*models.Message{
		{Role: models.RoleSystem, Content: "ignored"},
		{Role: models.RoleUser, Content: "hi"},
		{Role: models.RoleAssistant, Content: "hello"},
	}
	result, err := convertGeminiMessages(messages)
	if err != nil {
		t.Fatalf("convert: %v", err)
	}
	if len(result) != 2 {
		t.Fatalf("expected 2 contents after dropping system role, got %d", len(result))
	}
	if result[1].Role != "model" {
		t.Fatalf("expected assistant message mapped to model role, got %q", result[1].Role)
	}
}

func TestConvertGeminiMessagesRejectsInvalidToolArguments(t *testing.T) {
	messages := []*models.Message{
		{
			Role: models.RoleAssistant,
			ToolCalls: []models.ToolCall{
				{ID: "t1", Name: "lookup", Arguments: json.RawMessage(`not-json`)},
			},
		},
	}
	if _, err := convertGeminiMessages(messages); err == nil {
		t.Fatal("expected an error for malformed tool call arguments")
	}
}

func TestConvertGeminiToolsBuildsFunctionDeclarations(t *testing.T) {
	tools := []agentloop.Descriptor{{
		Name:        "lookup",
		Description: "look things up",
		Parameters:  map[string]any{"type": "object"},
	}}
	result, err := convertGeminiTools(tools)
	if err != nil {
		t.Fatalf("convert tools: %v", err)
	}
	if len(result) != 1 || len(result[0].FunctionDeclarations) != 1 {
		t.Fatalf("expected 1 tool with 1 function declaration, got %+v", result)
	}
}
