package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"google.golang.org/genai"

	"github.com/nexuscore/agentruntime/internal/agentloop"
	"github.com/nexuscore/agentruntime/pkg/models"
)

// GeminiConfig configures GeminiProvider.
type GeminiConfig struct {
	APIKey       string
	DefaultModel string
	MaxRetries   int
	RetryDelay   time.Duration
}

// GeminiProvider implements agentloop.LLMProvider against Google's Gemini API.
//
// Grounded on internal/agent/providers/google.go's GoogleProvider shape,
// message/tool conversion (convertMessages/convertTools), and config
// defaults, collapsed from its GenerateContentStream-based Complete to a
// single GenerateContent call.
type GeminiProvider struct {
	client       *genai.Client
	defaultModel string
	maxRetries   int
	retryDelay   time.Duration
}

// NewGeminiProvider creates a provider backed by the google.golang.org/genai SDK.
func NewGeminiProvider(config GeminiConfig) (*GeminiProvider, error) {
	if config.APIKey == "" {
		return nil, configError("gemini", "API key is required")
	}
	if config.MaxRetries <= 0 {
		config.MaxRetries = 3
	}
	if config.RetryDelay <= 0 {
		config.RetryDelay = time.Second
	}
	if config.DefaultModel == "" {
		config.DefaultModel = "gemini-2.0-flash"
	}

	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey:  config.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("providers: gemini: create client: %w", err)
	}

	return &GeminiProvider{
		client:       client,
		defaultModel: config.DefaultModel,
		maxRetries:   config.MaxRetries,
		retryDelay:   config.RetryDelay,
	}, nil
}

func (p *GeminiProvider) Name() string { return "gemini" }

func (p *GeminiProvider) Models() []string {
	return []string{"gemini-2.0-flash", "gemini-1.5-pro", "gemini-1.5-flash"}
}

func (p *GeminiProvider) SupportsTools() bool { return true }

// Complete issues a single, non-streaming GenerateContent call.
func (p *GeminiProvider) Complete(ctx context.Context, req *agentloop.CompletionRequest) (*agentloop.CompletionResponse, error) {
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}

	contents, err := convertGeminiMessages(req.Messages)
	if err != nil {
		return nil, fmt.Errorf("providers: gemini: convert messages: %w", err)
	}

	config := &genai.GenerateContentConfig{}
	if req.System != "" {
		config.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: req.System}}}
	}
	if req.MaxTokens > 0 {
		config.MaxOutputTokens = int32(req.MaxTokens)
	}
	if len(req.Tools) > 0 {
		tools, err := convertGeminiTools(req.Tools)
		if err != nil {
			return nil, fmt.Errorf("providers: gemini: convert tools: %w", err)
		}
		config.Tools = tools
	}

	var lastErr error
	for attempt := 0; attempt <= p.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(p.retryDelay):
			}
		}
		resp, err := p.client.Models.GenerateContent(ctx, model, contents, config)
		if err == nil {
			return parseGeminiResponse(resp, model)
		}
		lastErr = err
	}
	return nil, fmt.Errorf("providers: gemini: %w", lastErr)
}

func convertGeminiMessages(messages []*models.Message) ([]*genai.Content, error) {
	var result []*genai.Content
	for _, msg := range messages {
		if msg.Role == models.RoleSystem {
			continue
		}

		content := &genai.Content{}
		switch msg.Role {
		case models.RoleAssistant:
			content.Role = genai.RoleModel
		default:
			content.Role = genai.RoleUser
		}

		if msg.Content != "" {
			content.Parts = append(content.Parts, &genai.Part{Text: msg.Content})
		}
		for _, tc := range msg.ToolCalls {
			var args map[string]any
			if len(tc.Arguments) > 0 {
				if err := json.Unmarshal(tc.Arguments, &args); err != nil {
					return nil, fmt.Errorf("invalid tool call arguments: %w", err)
				}
			}
			content.Parts = append(content.Parts, &genai.Part{
				FunctionCall: &genai.FunctionCall{Name: tc.Name, Args: args},
			})
		}
		if msg.Role == models.RoleTool {
			var response map[string]any
			if err := json.Unmarshal([]byte(msg.Content), &response); err != nil {
				response = map[string]any{"result": msg.Content}
			}
			content.Parts = append(content.Parts, &genai.Part{
				FunctionResponse: &genai.FunctionResponse{Name: msg.ToolCallID, Response: response},
			})
		}

		if len(content.Parts) > 0 {
			result = append(result, content)
		}
	}
	return result, nil
}

func convertGeminiTools(tools []agentloop.Descriptor) ([]*genai.Tool, error) {
	declarations := make([]*genai.FunctionDeclaration, 0, len(tools))
	for _, tool := range tools {
		raw, err := json.Marshal(tool.Parameters)
		if err != nil {
			return nil, err
		}
		var schema genai.Schema
		if err := json.Unmarshal(raw, &schema); err != nil {
			return nil, fmt.Errorf("invalid schema for tool %s: %w", tool.Name, err)
		}
		declarations = append(declarations, &genai.FunctionDeclaration{
			Name:        tool.Name,
			Description: tool.Description,
			Parameters:  &schema,
		})
	}
	return []*genai.Tool{{FunctionDeclarations: declarations}}, nil
}

func parseGeminiResponse(resp *genai.GenerateContentResponse, model string) (*agentloop.CompletionResponse, error) {
	result := &agentloop.CompletionResponse{Model: model}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		result.FinishReason = agentloop.FinishStop
		return result, nil
	}

	var textParts string
	var toolCalls []models.ToolCall
	for _, part := range resp.Candidates[0].Content.Parts {
		if part.Text != "" {
			textParts += part.Text
		}
		if part.FunctionCall != nil {
			args, err := json.Marshal(part.FunctionCall.Args)
			if err != nil {
				return nil, fmt.Errorf("providers: gemini: marshal function args: %w", err)
			}
			toolCalls = append(toolCalls, models.ToolCall{
				ID:        part.FunctionCall.Name,
				Name:      part.FunctionCall.Name,
				Arguments: args,
			})
		}
	}

	result.Content = textParts
	if len(toolCalls) > 0 {
		result.ToolCalls = toolCalls
		result.FinishReason = agentloop.FinishToolCalls
		return result, nil
	}

	switch resp.Candidates[0].FinishReason {
	case genai.FinishReasonMaxTokens:
		result.FinishReason = agentloop.FinishLength
	default:
		result.FinishReason = agentloop.FinishStop
	}
	return result, nil
}
