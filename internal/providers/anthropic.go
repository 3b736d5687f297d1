package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/nexuscore/agentruntime/internal/agentloop"
	"github.com/nexuscore/agentruntime/pkg/models"
)

// AnthropicConfig configures AnthropicProvider.
type AnthropicConfig struct {
	APIKey       string
	BaseURL      string
	DefaultModel string
	MaxRetries   int
	RetryDelay   time.Duration
}

// AnthropicProvider implements agentloop.LLMProvider against Claude.
//
// Grounded on internal/agent/providers/anthropic.go's AnthropicProvider/
// AnthropicConfig shape and default-filling constructor; collapsed from its
// streaming Complete (returning <-chan *CompletionChunk) to a single
// request/response round trip since agentloop.LLMProvider is non-streaming.
type AnthropicProvider struct {
	client       anthropic.Client
	defaultModel string
}

// NewAnthropicProvider creates a provider backed by the Anthropic SDK.
func NewAnthropicProvider(config AnthropicConfig) (*AnthropicProvider, error) {
	if config.APIKey == "" {
		return nil, configError("anthropic", "API key is required")
	}
	if config.DefaultModel == "" {
		config.DefaultModel = "claude-sonnet-4-20250514"
	}

	opts := []option.RequestOption{option.WithAPIKey(config.APIKey)}
	if strings.TrimSpace(config.BaseURL) != "" {
		opts = append(opts, option.WithBaseURL(config.BaseURL))
	}

	return &AnthropicProvider{
		client:       anthropic.NewClient(opts...),
		defaultModel: config.DefaultModel,
	}, nil
}

func (p *AnthropicProvider) Name() string { return "anthropic" }

func (p *AnthropicProvider) Models() []string {
	return []string{
		"claude-sonnet-4-20250514",
		"claude-opus-4-20250514",
		"claude-3-5-sonnet-20241022",
		"claude-3-haiku-20240307",
	}
}

func (p *AnthropicProvider) SupportsTools() bool { return true }

// Complete issues a single, non-streaming Messages.New call and flattens
// the response's content blocks into text and tool calls.
func (p *AnthropicProvider) Complete(ctx context.Context, req *agentloop.CompletionRequest) (*agentloop.CompletionResponse, error) {
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	messages, err := convertAnthropicMessages(req.Messages)
	if err != nil {
		return nil, fmt.Errorf("providers: anthropic: convert messages: %w", err)
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		Messages:  messages,
		MaxTokens: int64(maxTokens),
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Type: "text", Text: req.System}}
	}
	if len(req.Tools) > 0 {
		tools, err := convertAnthropicTools(req.Tools)
		if err != nil {
			return nil, fmt.Errorf("providers: anthropic: convert tools: %w", err)
		}
		params.Tools = tools
	}

	msg, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("providers: anthropic: %w", err)
	}

	return parseAnthropicMessage(msg, model)
}

func convertAnthropicMessages(messages []*models.Message) ([]anthropic.MessageParam, error) {
	var result []anthropic.MessageParam
	for _, msg := range messages {
		if msg.Role == models.RoleSystem {
			continue
		}

		var content []anthropic.ContentBlockParamUnion
		if msg.Content != "" {
			content = append(content, anthropic.NewTextBlock(msg.Content))
		}
		if msg.Role == models.RoleTool {
			content = append(content, anthropic.NewToolResultBlock(msg.ToolCallID, msg.Content, false))
		}
		for _, tc := range msg.ToolCalls {
			var input map[string]any
			if len(tc.Arguments) > 0 {
				if err := json.Unmarshal(tc.Arguments, &input); err != nil {
					return nil, fmt.Errorf("invalid tool call arguments: %w", err)
				}
			}
			content = append(content, anthropic.NewToolUseBlock(tc.ID, input, tc.Name))
		}
		if len(content) == 0 {
			continue
		}

		if msg.Role == models.RoleAssistant {
			result = append(result, anthropic.NewAssistantMessage(content...))
		} else {
			result = append(result, anthropic.NewUserMessage(content...))
		}
	}
	return result, nil
}

func convertAnthropicTools(tools []agentloop.Descriptor) ([]anthropic.ToolUnionParam, error) {
	result := make([]anthropic.ToolUnionParam, 0, len(tools))
	for _, tool := range tools {
		raw, err := json.Marshal(tool.Parameters)
		if err != nil {
			return nil, err
		}
		var schema anthropic.ToolInputSchemaParam
		if err := json.Unmarshal(raw, &schema); err != nil {
			return nil, fmt.Errorf("invalid schema for tool %s: %w", tool.Name, err)
		}
		toolParam := anthropic.ToolUnionParamOfTool(schema, tool.Name)
		if toolParam.OfTool != nil {
			toolParam.OfTool.Description = anthropic.String(tool.Description)
		}
		result = append(result, toolParam)
	}
	return result, nil
}

func parseAnthropicMessage(msg *anthropic.Message, model string) (*agentloop.CompletionResponse, error) {
	var textParts []string
	var toolCalls []models.ToolCall

	for _, block := range msg.Content {
		raw, err := json.Marshal(block)
		if err != nil {
			continue
		}
		var decoded toolInput
		if err := json.Unmarshal(raw, &decoded); err != nil {
			continue
		}
		switch decoded.Type {
		case "text":
			textParts = append(textParts, decoded.Text)
		case "tool_use":
			toolCalls = append(toolCalls, models.ToolCall{ID: decoded.ID, Name: decoded.Name, Arguments: decoded.Input})
		}
	}

	resp := &agentloop.CompletionResponse{
		Content: strings.Join(textParts, ""),
		Model:   model,
	}
	if len(toolCalls) > 0 {
		resp.ToolCalls = toolCalls
		resp.FinishReason = agentloop.FinishToolCalls
	} else if string(msg.StopReason) == "max_tokens" {
		resp.FinishReason = agentloop.FinishLength
	} else {
		resp.FinishReason = agentloop.FinishStop
	}
	return resp, nil
}
