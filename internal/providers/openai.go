package providers

import (
	"context"
	"encoding/json"
	"fmt"

	openai "github.com/sashabaranov/go-openai"

	"github.com/nexuscore/agentruntime/internal/agentloop"
	"github.com/nexuscore/agentruntime/pkg/models"
)

// OpenAIProvider implements agentloop.LLMProvider against the Chat
// Completions API.
//
// Grounded on internal/agent/providers/openai.go's OpenAIProvider shape and
// message/tool conversion (convertToOpenAIMessages/convertToOpenAITools),
// collapsed to a single non-streaming CreateChatCompletion call.
type OpenAIProvider struct {
	client       *openai.Client
	defaultModel string
}

// NewOpenAIProvider creates a provider backed by the go-openai SDK.
func NewOpenAIProvider(apiKey, defaultModel string) (*OpenAIProvider, error) {
	if apiKey == "" {
		return nil, configError("openai", "API key is required")
	}
	if defaultModel == "" {
		defaultModel = "gpt-4o"
	}
	return &OpenAIProvider{client: openai.NewClient(apiKey), defaultModel: defaultModel}, nil
}

func (p *OpenAIProvider) Name() string { return "openai" }

func (p *OpenAIProvider) Models() []string {
	return []string{"gpt-4o", "gpt-4-turbo", "gpt-4o-mini", "o1"}
}

func (p *OpenAIProvider) SupportsTools() bool { return true }

func (p *OpenAIProvider) Complete(ctx context.Context, req *agentloop.CompletionRequest) (*agentloop.CompletionResponse, error) {
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}

	messages := convertOpenAIMessages(req.Messages, req.System)

	chatReq := openai.ChatCompletionRequest{
		Model:       model,
		Messages:    messages,
		MaxTokens:   req.MaxTokens,
		Temperature: float32(req.Temperature),
	}
	if len(req.Tools) > 0 {
		chatReq.Tools = convertOpenAITools(req.Tools)
	}

	resp, err := p.client.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		return nil, fmt.Errorf("providers: openai: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("providers: openai: empty response")
	}

	return parseOpenAIChoice(resp.Choices[0], model), nil
}

func convertOpenAIMessages(messages []*models.Message, system string) []openai.ChatCompletionMessage {
	result := make([]openai.ChatCompletionMessage, 0, len(messages)+1)
	if system != "" {
		result = append(result, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: system})
	}
	for _, msg := range messages {
		if msg.Role == models.RoleSystem {
			continue
		}

		switch msg.Role {
		case models.RoleTool:
			result = append(result, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				Content:    msg.Content,
				ToolCallID: msg.ToolCallID,
			})
		case models.RoleAssistant:
			oaiMsg := openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: msg.Content}
			if len(msg.ToolCalls) > 0 {
				oaiMsg.ToolCalls = make([]openai.ToolCall, len(msg.ToolCalls))
				for i, tc := range msg.ToolCalls {
					oaiMsg.ToolCalls[i] = openai.ToolCall{
						ID:   tc.ID,
						Type: openai.ToolTypeFunction,
						Function: openai.FunctionCall{
							Name:      tc.Name,
							Arguments: string(tc.Arguments),
						},
					}
				}
			}
			result = append(result, oaiMsg)
		default:
			result = append(result, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: msg.Content})
		}
	}
	return result
}

func convertOpenAITools(tools []agentloop.Descriptor) []openai.Tool {
	result := make([]openai.Tool, len(tools))
	for i, tool := range tools {
		result[i] = openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  tool.Parameters,
			},
		}
	}
	return result
}

func parseOpenAIChoice(choice openai.ChatCompletionChoice, model string) *agentloop.CompletionResponse {
	resp := &agentloop.CompletionResponse{
		Content: choice.Message.Content,
		Model:   model,
	}

	if len(choice.Message.ToolCalls) > 0 {
		resp.ToolCalls = make([]models.ToolCall, len(choice.Message.ToolCalls))
		for i, tc := range choice.Message.ToolCalls {
			resp.ToolCalls[i] = models.ToolCall{ID: tc.ID, Name: tc.Function.Name, Arguments: json.RawMessage(tc.Function.Arguments)}
		}
		resp.FinishReason = agentloop.FinishToolCalls
		return resp
	}

	switch choice.FinishReason {
	case openai.FinishReasonLength:
		resp.FinishReason = agentloop.FinishLength
	case openai.FinishReasonToolCalls, openai.FinishReasonFunctionCall:
		resp.FinishReason = agentloop.FinishToolCalls
	default:
		resp.FinishReason = agentloop.FinishStop
	}
	return resp
}
