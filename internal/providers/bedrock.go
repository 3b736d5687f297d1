package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/document"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"github.com/nexuscore/agentruntime/internal/agentloop"
	"github.com/nexuscore/agentruntime/pkg/models"
)

// BedrockConfig configures BedrockProvider.
type BedrockConfig struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
	DefaultModel    string
	MaxRetries      int
	RetryDelay      time.Duration
}

// BedrockProvider implements agentloop.LLMProvider against AWS Bedrock's
// Converse API.
//
// Grounded on internal/agent/providers/bedrock.go's BedrockProvider/
// BedrockConfig shape and credential-chain constructor, collapsed from its
// ConverseStream-based Complete to a single non-streaming Converse call.
type BedrockProvider struct {
	client       *bedrockruntime.Client
	defaultModel string
	maxRetries   int
	retryDelay   time.Duration
}

// NewBedrockProvider creates a provider backed by the AWS Bedrock Converse API.
// If AccessKeyID and SecretAccessKey are both set, they are used as static
// credentials; otherwise the default AWS credential chain applies.
func NewBedrockProvider(cfg BedrockConfig) (*BedrockProvider, error) {
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "anthropic.claude-3-sonnet-20240229-v1:0"
	}

	var awsCfg aws.Config
	var err error
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		awsCfg, err = config.LoadDefaultConfig(context.Background(),
			config.WithRegion(cfg.Region),
			config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
				cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken,
			)),
		)
	} else {
		awsCfg, err = config.LoadDefaultConfig(context.Background(), config.WithRegion(cfg.Region))
	}
	if err != nil {
		return nil, fmt.Errorf("providers: bedrock: load AWS config: %w", err)
	}

	return &BedrockProvider{
		client:       bedrockruntime.NewFromConfig(awsCfg),
		defaultModel: cfg.DefaultModel,
		maxRetries:   cfg.MaxRetries,
		retryDelay:   cfg.RetryDelay,
	}, nil
}

func (p *BedrockProvider) Name() string { return "bedrock" }

func (p *BedrockProvider) Models() []string {
	return []string{
		"anthropic.claude-3-sonnet-20240229-v1:0",
		"anthropic.claude-3-haiku-20240307-v1:0",
		"anthropic.claude-3-5-sonnet-20241022-v2:0",
	}
}

func (p *BedrockProvider) SupportsTools() bool { return true }

// Complete issues a single, non-streaming Converse call.
func (p *BedrockProvider) Complete(ctx context.Context, req *agentloop.CompletionRequest) (*agentloop.CompletionResponse, error) {
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}

	messages, err := convertBedrockMessages(req.Messages)
	if err != nil {
		return nil, fmt.Errorf("providers: bedrock: convert messages: %w", err)
	}

	input := &bedrockruntime.ConverseInput{
		ModelId:  aws.String(model),
		Messages: messages,
	}
	if req.System != "" {
		input.System = []types.SystemContentBlock{
			&types.SystemContentBlockMemberText{Value: req.System},
		}
	}
	if req.MaxTokens > 0 {
		input.InferenceConfig = &types.InferenceConfiguration{MaxTokens: aws.Int32(int32(req.MaxTokens))}
	}
	if len(req.Tools) > 0 {
		toolConfig, err := convertBedrockTools(req.Tools)
		if err != nil {
			return nil, fmt.Errorf("providers: bedrock: convert tools: %w", err)
		}
		input.ToolConfig = toolConfig
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
		out, err := p.client.Converse(ctx, input)
		if err == nil {
			return parseBedrockOutput(out, model)
		}
		lastErr = err
	}
	return nil, fmt.Errorf("providers: bedrock: %w", lastErr)
}

func convertBedrockMessages(messages []*models.Message) ([]types.Message, error) {
	result := make([]types.Message, 0, len(messages))
	for _, msg := range messages {
		if msg.Role == models.RoleSystem {
			continue
		}

		var content []types.ContentBlock
		if msg.Content != "" && msg.Role != models.RoleTool {
			content = append(content, &types.ContentBlockMemberText{Value: msg.Content})
		}
		if msg.Role == models.RoleTool {
			content = append(content, &types.ContentBlockMemberToolResult{
				Value: types.ToolResultBlock{
					ToolUseId: aws.String(msg.ToolCallID),
					Content: []types.ToolResultContentBlock{
						&types.ToolResultContentBlockMemberText{Value: msg.Content},
					},
				},
			})
		}
		for _, tc := range msg.ToolCalls {
			var input document.Interface
			if len(tc.Arguments) > 0 {
				var decoded map[string]any
				if err := json.Unmarshal(tc.Arguments, &decoded); err != nil {
					return nil, fmt.Errorf("invalid tool call arguments: %w", err)
				}
				input = document.NewLazyDocument(decoded)
			}
			content = append(content, &types.ContentBlockMemberToolUse{
				Value: types.ToolUseBlock{
					ToolUseId: aws.String(tc.ID),
					Name:      aws.String(tc.Name),
					Input:     input,
				},
			})
		}
		if len(content) == 0 {
			continue
		}

		role := types.ConversationRoleUser
		if msg.Role == models.RoleAssistant {
			role = types.ConversationRoleAssistant
		}
		result = append(result, types.Message{Role: role, Content: content})
	}
	return result, nil
}

func convertBedrockTools(tools []agentloop.Descriptor) (*types.ToolConfiguration, error) {
	specs := make([]types.Tool, 0, len(tools))
	for _, tool := range tools {
		raw, err := json.Marshal(tool.Parameters)
		if err != nil {
			return nil, err
		}
		var schema map[string]any
		if err := json.Unmarshal(raw, &schema); err != nil {
			return nil, fmt.Errorf("invalid schema for tool %s: %w", tool.Name, err)
		}
		specs = append(specs, &types.ToolMemberToolSpec{
			Value: types.ToolSpec{
				Name:        aws.String(tool.Name),
				Description: aws.String(tool.Description),
				InputSchema: &types.ToolInputSchemaMemberJson{Value: document.NewLazyDocument(schema)},
			},
		})
	}
	return &types.ToolConfiguration{Tools: specs}, nil
}

func parseBedrockOutput(out *bedrockruntime.ConverseOutput, model string) (*agentloop.CompletionResponse, error) {
	resp := &agentloop.CompletionResponse{Model: model}

	msgOutput, ok := out.Output.(*types.ConverseOutputMemberMessage)
	if !ok {
		resp.FinishReason = agentloop.FinishStop
		return resp, nil
	}

	var textParts []byte
	var toolCalls []models.ToolCall
	for _, block := range msgOutput.Value.Content {
		switch v := block.(type) {
		case *types.ContentBlockMemberText:
			textParts = append(textParts, []byte(v.Value)...)
		case *types.ContentBlockMemberToolUse:
			args, err := marshalBedrockDocument(v.Value.Input)
			if err != nil {
				return nil, fmt.Errorf("providers: bedrock: decode tool input: %w", err)
			}
			toolCalls = append(toolCalls, models.ToolCall{
				ID:        aws.ToString(v.Value.ToolUseId),
				Name:      aws.ToString(v.Value.Name),
				Arguments: args,
			})
		}
	}

	resp.Content = string(textParts)
	if len(toolCalls) > 0 {
		resp.ToolCalls = toolCalls
		resp.FinishReason = agentloop.FinishToolCalls
		return resp, nil
	}

	switch out.StopReason {
	case types.StopReasonMaxTokens:
		resp.FinishReason = agentloop.FinishLength
	case types.StopReasonToolUse:
		resp.FinishReason = agentloop.FinishToolCalls
	default:
		resp.FinishReason = agentloop.FinishStop
	}
	return resp, nil
}

func marshalBedrockDocument(doc document.Interface) (json.RawMessage, error) {
	if doc == nil {
		return nil, nil
	}
	var decoded any
	if err := doc.UnmarshalSmithyDocument(&decoded); err != nil {
		return nil, err
	}
	return json.Marshal(decoded)
}
