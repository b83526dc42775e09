package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	smithyhttp "github.com/aws/smithy-go/transport/http"

	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/document"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/anvilrun/anvil/internal/agent"
	"github.com/anvilrun/anvil/internal/agent/toolconv"
	"github.com/anvilrun/anvil/internal/backoff"
	"github.com/anvilrun/anvil/internal/providers/bedrock"
	"github.com/anvilrun/anvil/pkg/models"
)

// BedrockProvider implements agent.Provider over AWS Bedrock's Converse
// and ConverseStream APIs, giving access to Anthropic, Titan, Llama,
// Mistral, and Cohere models hosted on Bedrock.
type BedrockProvider struct {
	client       *bedrockruntime.Client
	defaultModel string
	policy       backoff.BackoffPolicy
	discoveryCfg bedrock.DiscoveryConfig
}

// BedrockConfig configures a BedrockProvider.
type BedrockConfig struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
	DefaultModel    string
}

// NewBedrockProvider builds a provider, loading AWS credentials from the
// given explicit keys or, if absent, the default credential chain.
func NewBedrockProvider(cfg BedrockConfig) (*BedrockProvider, error) {
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
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
		return nil, fmt.Errorf("bedrock: failed to load AWS config: %w", err)
	}

	return &BedrockProvider{
		client:       bedrockruntime.NewFromConfig(awsCfg),
		defaultModel: cfg.DefaultModel,
		policy:       backoff.RateLimitPolicy(),
		discoveryCfg: bedrock.DiscoveryConfig{
			Region:          cfg.Region,
			AccessKeyID:     cfg.AccessKeyID,
			SecretAccessKey: cfg.SecretAccessKey,
			SessionToken:    cfg.SessionToken,
		},
	}, nil
}

// DiscoverModels queries the Bedrock ListFoundationModels API for the
// account's currently available models, instead of the static catalog
// returned by Models(). Results are cached by the bedrock package for
// DiscoveryConfig.RefreshInterval.
func (p *BedrockProvider) DiscoverModels(ctx context.Context) ([]bedrock.ModelDefinition, error) {
	return bedrock.DiscoverModels(ctx, &p.discoveryCfg)
}

func (p *BedrockProvider) Name() string { return "bedrock" }

func (p *BedrockProvider) Models() []agent.Model {
	return []agent.Model{
		{ID: "anthropic.claude-3-opus-20240229-v1:0", Name: "Claude 3 Opus (Bedrock)", ContextWindow: 200000, SupportsVision: true},
		{ID: "anthropic.claude-3-sonnet-20240229-v1:0", Name: "Claude 3 Sonnet (Bedrock)", ContextWindow: 200000, SupportsVision: true},
		{ID: "anthropic.claude-3-haiku-20240307-v1:0", Name: "Claude 3 Haiku (Bedrock)", ContextWindow: 200000, SupportsVision: true},
		{ID: "amazon.titan-text-express-v1", Name: "Titan Text Express", ContextWindow: 8192, SupportsVision: false},
		{ID: "meta.llama3-70b-instruct-v1:0", Name: "Llama 3 70B (Bedrock)", ContextWindow: 8192, SupportsVision: false},
		{ID: "mistral.mixtral-8x7b-instruct-v0:1", Name: "Mixtral 8x7B (Bedrock)", ContextWindow: 32768, SupportsVision: false},
		{ID: "cohere.command-r-plus-v1:0", Name: "Command R+ (Bedrock)", ContextWindow: 128000, SupportsVision: false},
	}
}

// Generate performs a single non-streaming completion via Bedrock's
// Converse API, retrying throttling and transient failures.
func (p *BedrockProvider) Generate(ctx context.Context, req agent.CompletionRequest) (agent.CompletionResult, error) {
	if p.client == nil {
		return agent.CompletionResult{}, errors.New("bedrock: client not initialized")
	}
	model := p.getModel(req.Model)
	converseReq, err := p.buildConverseInput(req, model)
	if err != nil {
		return agent.CompletionResult{}, err
	}

	var resp *bedrockruntime.ConverseOutput
	var lastErr error
	for attempt := 1; attempt <= backoff.DefaultRateLimitAttempts; attempt++ {
		resp, lastErr = p.client.Converse(ctx, converseReq)
		if lastErr == nil {
			break
		}
		if !p.isRetryableError(lastErr) {
			return agent.CompletionResult{}, p.wrapError(lastErr, model)
		}
		delay := backoff.NextRateLimitDelay(p.policy, attempt, retryAfterBedrock(lastErr), time.Now())
		select {
		case <-ctx.Done():
			return agent.CompletionResult{}, ctx.Err()
		case <-time.After(delay):
		}
	}
	if lastErr != nil {
		return agent.CompletionResult{}, &backoff.RateLimitedError{Cause: p.wrapError(lastErr, model), Attempts: backoff.DefaultRateLimitAttempts}
	}

	result := agent.CompletionResult{}
	if resp.Usage != nil {
		result.InputTokens = int(aws.ToInt32(resp.Usage.InputTokens))
		result.OutputTokens = int(aws.ToInt32(resp.Usage.OutputTokens))
	}
	output, ok := resp.Output.(*types.ConverseOutputMemberMessage)
	if !ok {
		return result, nil
	}
	for _, block := range output.Value.Content {
		switch v := block.(type) {
		case *types.ContentBlockMemberText:
			result.Content += v.Value
		case *types.ContentBlockMemberToolUse:
			var inputJSON []byte
			if v.Value.Input != nil {
				var decoded any
				if err := v.Value.Input.UnmarshalSmithyDocument(&decoded); err == nil {
					if raw, err := json.Marshal(decoded); err == nil {
						inputJSON = raw
					}
				}
			}
			result.ToolCalls = append(result.ToolCalls, models.ToolCallRequest{
				ID:        aws.ToString(v.Value.ToolUseId),
				Name:      aws.ToString(v.Value.Name),
				Arguments: inputJSON,
			})
		}
	}
	return result, nil
}

// GenerateStream streams a completion via Bedrock's ConverseStream API.
func (p *BedrockProvider) GenerateStream(ctx context.Context, req agent.CompletionRequest) (<-chan agent.StreamChunk, error) {
	if p.client == nil {
		return nil, errors.New("bedrock: client not initialized")
	}
	model := p.getModel(req.Model)
	converseReq, err := p.buildConverseStreamInput(req, model)
	if err != nil {
		return nil, err
	}

	stream, err := p.client.ConverseStream(ctx, converseReq)
	if err != nil {
		return nil, p.wrapError(err, model)
	}

	chunks := make(chan agent.StreamChunk)
	go p.pump(ctx, stream, chunks, model)
	return chunks, nil
}

func (p *BedrockProvider) pump(ctx context.Context, stream *bedrockruntime.ConverseStreamOutput, chunks chan<- agent.StreamChunk, model string) {
	defer close(chunks)

	eventStream := stream.GetStream()
	defer eventStream.Close()

	var currentToolCall *models.ToolCallRequest
	var toolInput strings.Builder

	eventChan := eventStream.Events()
	for {
		select {
		case <-ctx.Done():
			chunks <- agent.StreamChunk{Kind: agent.ChunkDone, Err: ctx.Err()}
			return
		case event, ok := <-eventChan:
			if !ok {
				if currentToolCall != nil {
					currentToolCall.Arguments = json.RawMessage(toolInput.String())
					call := *currentToolCall
					chunks <- agent.StreamChunk{Kind: agent.ChunkToolCall, ToolCall: &call}
				}
				if err := eventStream.Err(); err != nil {
					chunks <- agent.StreamChunk{Kind: agent.ChunkDone, Err: p.wrapError(err, model)}
				} else {
					chunks <- agent.StreamChunk{Kind: agent.ChunkDone}
				}
				return
			}

			switch ev := event.(type) {
			case *types.ConverseStreamOutputMemberContentBlockStart:
				if toolUse, ok := ev.Value.Start.(*types.ContentBlockStartMemberToolUse); ok {
					currentToolCall = &models.ToolCallRequest{
						ID:   aws.ToString(toolUse.Value.ToolUseId),
						Name: aws.ToString(toolUse.Value.Name),
					}
					toolInput.Reset()
				}
			case *types.ConverseStreamOutputMemberContentBlockDelta:
				switch delta := ev.Value.Delta.(type) {
				case *types.ContentBlockDeltaMemberText:
					if delta.Value != "" {
						chunks <- agent.StreamChunk{Kind: agent.ChunkContent, Content: delta.Value}
					}
				case *types.ContentBlockDeltaMemberToolUse:
					if delta.Value.Input != nil {
						toolInput.WriteString(*delta.Value.Input)
					}
				}
			case *types.ConverseStreamOutputMemberContentBlockStop:
				if currentToolCall != nil {
					currentToolCall.Arguments = json.RawMessage(toolInput.String())
					call := *currentToolCall
					chunks <- agent.StreamChunk{Kind: agent.ChunkToolCall, ToolCall: &call}
					currentToolCall = nil
					toolInput.Reset()
				}
			case *types.ConverseStreamOutputMemberMetadata:
				if ev.Value.Usage != nil {
					chunks <- agent.StreamChunk{
						Kind:         agent.ChunkUsage,
						InputTokens:  int(aws.ToInt32(ev.Value.Usage.InputTokens)),
						OutputTokens: int(aws.ToInt32(ev.Value.Usage.OutputTokens)),
					}
				}
			case *types.ConverseStreamOutputMemberMessageStop:
				chunks <- agent.StreamChunk{Kind: agent.ChunkDone}
				return
			}
		}
	}
}

func (p *BedrockProvider) buildConverseInput(req agent.CompletionRequest, model string) (*bedrockruntime.ConverseInput, error) {
	messages, err := p.convertMessages(req.Messages)
	if err != nil {
		return nil, fmt.Errorf("bedrock: failed to convert messages: %w", err)
	}
	input := &bedrockruntime.ConverseInput{ModelId: aws.String(model), Messages: messages}
	p.applySystemAndConfig(req, func(system []types.SystemContentBlock) { input.System = system },
		func(cfg *types.InferenceConfiguration) { input.InferenceConfig = cfg },
		func(toolCfg *types.ToolConfiguration) { input.ToolConfig = toolCfg })
	return input, nil
}

func (p *BedrockProvider) buildConverseStreamInput(req agent.CompletionRequest, model string) (*bedrockruntime.ConverseStreamInput, error) {
	messages, err := p.convertMessages(req.Messages)
	if err != nil {
		return nil, fmt.Errorf("bedrock: failed to convert messages: %w", err)
	}
	input := &bedrockruntime.ConverseStreamInput{ModelId: aws.String(model), Messages: messages}
	p.applySystemAndConfig(req, func(system []types.SystemContentBlock) { input.System = system },
		func(cfg *types.InferenceConfiguration) { input.InferenceConfig = cfg },
		func(toolCfg *types.ToolConfiguration) { input.ToolConfig = toolCfg })
	return input, nil
}

func (p *BedrockProvider) applySystemAndConfig(req agent.CompletionRequest,
	setSystem func([]types.SystemContentBlock), setInference func(*types.InferenceConfiguration), setTools func(*types.ToolConfiguration)) {
	if req.SystemPrompt != "" {
		setSystem([]types.SystemContentBlock{&types.SystemContentBlockMemberText{Value: req.SystemPrompt}})
	}
	if req.MaxTokens > 0 {
		maxTokens := min(req.MaxTokens, math.MaxInt32)
		setInference(&types.InferenceConfiguration{MaxTokens: aws.Int32(int32(maxTokens))})
	}
	if len(req.Tools) > 0 {
		setTools(toolconv.ToBedrockTools(req.Tools))
	}
}

func (p *BedrockProvider) convertMessages(messages []models.ConversationMessage) ([]types.Message, error) {
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
					Content:   []types.ToolResultContentBlock{&types.ToolResultContentBlockMemberText{Value: msg.Content}},
				},
			})
		}
		for _, tc := range msg.ToolCalls {
			var inputDoc any
			if len(tc.Arguments) > 0 {
				if err := json.Unmarshal(tc.Arguments, &inputDoc); err != nil {
					return nil, fmt.Errorf("invalid tool call arguments for %s: %w", tc.Name, err)
				}
			}
			content = append(content, &types.ContentBlockMemberToolUse{
				Value: types.ToolUseBlock{
					ToolUseId: aws.String(tc.ID),
					Name:      aws.String(tc.Name),
					Input:     document.NewLazyDocument(inputDoc),
				},
			})
		}

		role := types.ConversationRoleUser
		if msg.Role == models.RoleAssistant {
			role = types.ConversationRoleAssistant
		}
		if len(content) > 0 {
			result = append(result, types.Message{Role: role, Content: content})
		}
	}
	return result, nil
}

func (p *BedrockProvider) getModel(model string) string {
	if model == "" {
		return p.defaultModel
	}
	return model
}

// retryAfterBedrock extracts the Retry-After header from the transport
// response wrapped in an AWS SDK v2 error, when the service returned one
// alongside a throttling exception.
func retryAfterBedrock(err error) string {
	var respErr *smithyhttp.ResponseError
	if errors.As(err, &respErr) && respErr.Response != nil && respErr.Response.Response != nil {
		return respErr.Response.Header.Get("Retry-After")
	}
	return ""
}

func (p *BedrockProvider) isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if providerErr, ok := GetProviderError(err); ok {
		return providerErr.Reason.IsRetryable()
	}
	msg := err.Error()
	if strings.Contains(msg, "ThrottlingException") ||
		strings.Contains(msg, "TooManyRequestsException") ||
		strings.Contains(msg, "ServiceUnavailableException") {
		return true
	}
	lower := strings.ToLower(msg)
	for _, s := range []string{"rate limit", "429", "500", "502", "503", "504", "timeout", "deadline exceeded"} {
		if strings.Contains(lower, s) {
			return true
		}
	}
	return false
}

func (p *BedrockProvider) wrapError(err error, model string) error {
	if err == nil {
		return nil
	}
	if IsProviderError(err) {
		return err
	}
	return NewProviderError("bedrock", model, err)
}

var _ agent.Provider = (*BedrockProvider)(nil)
