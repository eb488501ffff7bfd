package model

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"log/slog"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	adkmodel "google.golang.org/adk/model"
	"google.golang.org/genai"
)

// AnthropicModel implements the adkmodel.LLM interface for Anthropic Claude.
type AnthropicModel struct {
	client    anthropic.Client
	modelName string
	maxTokens int64
}

// NewAnthropicModel creates a new Anthropic model client.
func NewAnthropicModel(opts Options) (*AnthropicModel, error) {
	if opts.APIKey == "" {
		return nil, fmt.Errorf("anthropic: API key is required")
	}
	reqOpts := []option.RequestOption{option.WithAPIKey(opts.APIKey)}
	if opts.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(opts.BaseURL))
	}
	return &AnthropicModel{
		client:    anthropic.NewClient(reqOpts...),
		modelName: opts.Name,
		maxTokens: int64(opts.maxTokens()),
	}, nil
}

// Name returns the model name.
func (m *AnthropicModel) Name() string {
	return m.modelName
}

// GenerateContent implements the adkmodel.LLM interface. Responses are
// always returned whole; stream is ignored.
func (m *AnthropicModel) GenerateContent(ctx context.Context, req *adkmodel.LLMRequest, stream bool) iter.Seq2[*adkmodel.LLMResponse, error] {
	return func(yield func(*adkmodel.LLMResponse, error) bool) {
		params, err := m.convertRequest(req)
		if err != nil {
			yield(nil, fmt.Errorf("failed to convert request: %w", err))
			return
		}

		slog.Debug("anthropic request", "model", m.modelName, "messages", len(params.Messages), "tools", len(params.Tools))
		resp, err := m.client.Messages.New(ctx, params)
		if err != nil {
			yield(nil, fmt.Errorf("anthropic API error: %w", err))
			return
		}
		yield(m.convertResponse(resp), nil)
	}
}

// convertRequest converts an ADK LLMRequest to Anthropic message params.
func (m *AnthropicModel) convertRequest(req *adkmodel.LLMRequest) (anthropic.MessageNewParams, error) {
	var messages []anthropic.MessageParam
	for _, content := range req.Contents {
		if content == nil || content.Role == "system" {
			continue
		}
		msg, ok, err := m.convertContent(content)
		if err != nil {
			return anthropic.MessageNewParams{}, err
		}
		if ok {
			messages = append(messages, msg)
		}
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(m.modelName),
		Messages:  messages,
		MaxTokens: m.maxTokens,
	}

	if sys := systemText(req); sys != "" {
		params.System = []anthropic.TextBlockParam{{Text: sys}}
	}

	specs, err := collectTools(req)
	if err != nil {
		return anthropic.MessageNewParams{}, err
	}
	for _, spec := range specs {
		params.Tools = append(params.Tools, anthropic.ToolUnionParam{
			OfTool: &anthropic.ToolParam{
				Name:        spec.Name,
				Description: anthropic.String(spec.Description),
				InputSchema: anthropicSchema(spec.Schema),
			},
		})
	}

	if req.Config != nil {
		if req.Config.Temperature != nil {
			params.Temperature = anthropic.Float(float64(*req.Config.Temperature))
		}
		if req.Config.MaxOutputTokens != 0 {
			params.MaxTokens = int64(req.Config.MaxOutputTokens)
		}
		if req.Config.TopP != nil {
			params.TopP = anthropic.Float(float64(*req.Config.TopP))
		}
	}

	return params, nil
}

func anthropicSchema(schema map[string]any) anthropic.ToolInputSchemaParam {
	in := anthropic.ToolInputSchemaParam{Properties: schema["properties"]}
	if required, ok := schema["required"].([]any); ok {
		for _, r := range required {
			if s, ok := r.(string); ok {
				in.Required = append(in.Required, s)
			}
		}
	}
	return in
}

// convertContent converts a genai.Content to an Anthropic MessageParam. It
// reports false for contents with no convertible parts.
func (m *AnthropicModel) convertContent(content *genai.Content) (anthropic.MessageParam, bool, error) {
	var blocks []anthropic.ContentBlockParamUnion

	for _, part := range content.Parts {
		if part == nil {
			continue
		}
		switch {
		case part.Text != "":
			blocks = append(blocks, anthropic.NewTextBlock(part.Text))

		case part.FunctionCall != nil:
			args := part.FunctionCall.Args
			if args == nil {
				args = map[string]any{}
			}
			blocks = append(blocks, anthropic.NewToolUseBlock(part.FunctionCall.ID, args, part.FunctionCall.Name))

		case part.FunctionResponse != nil:
			result, err := functionResponseJSON(part.FunctionResponse)
			if err != nil {
				return anthropic.MessageParam{}, false, err
			}
			blocks = append(blocks, anthropic.NewToolResultBlock(part.FunctionResponse.ID, result, false))
		}
	}

	if len(blocks) == 0 {
		return anthropic.MessageParam{}, false, nil
	}
	if content.Role == "model" || content.Role == "assistant" {
		return anthropic.NewAssistantMessage(blocks...), true, nil
	}
	return anthropic.NewUserMessage(blocks...), true, nil
}

// convertResponse converts an Anthropic response to ADK LLMResponse.
func (m *AnthropicModel) convertResponse(resp *anthropic.Message) *adkmodel.LLMResponse {
	var parts []*genai.Part

	for _, block := range resp.Content {
		switch block.Type {
		case "text":
			parts = append(parts, &genai.Part{Text: block.Text})

		case "tool_use":
			args := make(map[string]any)
			if len(block.Input) > 0 {
				if err := json.Unmarshal(block.Input, &args); err != nil {
					slog.Warn("invalid tool input from model", "tool", block.Name, "err", err)
				}
			}
			parts = append(parts, &genai.Part{
				FunctionCall: &genai.FunctionCall{ID: block.ID, Name: block.Name, Args: args},
			})
		}
	}

	// A tool_use stop leaves the turn open for the tool results.
	finishReason := genai.FinishReasonStop
	turnComplete := true
	switch resp.StopReason {
	case "tool_use":
		turnComplete = false
	case "max_tokens":
		finishReason = genai.FinishReasonMaxTokens
	}

	return &adkmodel.LLMResponse{
		Content:      &genai.Content{Role: "model", Parts: parts},
		FinishReason: finishReason,
		TurnComplete: turnComplete,
		UsageMetadata: &genai.GenerateContentResponseUsageMetadata{
			PromptTokenCount:     int32(resp.Usage.InputTokens),
			CandidatesTokenCount: int32(resp.Usage.OutputTokens),
			TotalTokenCount:      int32(resp.Usage.InputTokens + resp.Usage.OutputTokens),
		},
	}
}
