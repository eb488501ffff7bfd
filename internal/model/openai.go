package model

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"log/slog"
	"strings"

	openai "github.com/sashabaranov/go-openai"
	adkmodel "google.golang.org/adk/model"
	"google.golang.org/genai"
)

// OpenAIModel implements the adkmodel.LLM interface for any endpoint speaking
// the OpenAI chat completions API, Groq included.
type OpenAIModel struct {
	client    *openai.Client
	modelName string
	maxTokens int
}

// NewOpenAIModel creates a chat completions client. An empty BaseURL uses
// the OpenAI API.
func NewOpenAIModel(opts Options) (*OpenAIModel, error) {
	if opts.APIKey == "" {
		return nil, fmt.Errorf("openai: API key is required")
	}
	if opts.Name == "" {
		return nil, fmt.Errorf("openai: model name is required")
	}
	cfg := openai.DefaultConfig(opts.APIKey)
	if opts.BaseURL != "" {
		cfg.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	}
	return &OpenAIModel{
		client:    openai.NewClientWithConfig(cfg),
		modelName: opts.Name,
		maxTokens: opts.maxTokens(),
	}, nil
}

// Name returns the model name.
func (m *OpenAIModel) Name() string {
	return m.modelName
}

// GenerateContent implements the adkmodel.LLM interface. Responses are
// always returned whole; stream is ignored.
func (m *OpenAIModel) GenerateContent(ctx context.Context, req *adkmodel.LLMRequest, stream bool) iter.Seq2[*adkmodel.LLMResponse, error] {
	return func(yield func(*adkmodel.LLMResponse, error) bool) {
		chatReq, err := m.convertRequest(req)
		if err != nil {
			yield(nil, fmt.Errorf("failed to convert request: %w", err))
			return
		}

		slog.Debug("chat completion request", "model", m.modelName, "messages", len(chatReq.Messages), "tools", len(chatReq.Tools))
		resp, err := m.client.CreateChatCompletion(ctx, chatReq)
		if err != nil {
			yield(nil, fmt.Errorf("chat completion error: %w", err))
			return
		}

		llmResp, err := convertChatResponse(resp)
		if err != nil {
			yield(nil, err)
			return
		}
		yield(llmResp, nil)
	}
}

func (m *OpenAIModel) convertRequest(req *adkmodel.LLMRequest) (openai.ChatCompletionRequest, error) {
	chatReq := openai.ChatCompletionRequest{
		Model:     m.modelName,
		MaxTokens: m.maxTokens,
	}

	if sys := systemText(req); sys != "" {
		chatReq.Messages = append(chatReq.Messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: sys,
		})
	}

	for _, content := range req.Contents {
		if content == nil || content.Role == "system" {
			continue
		}
		msgs, err := convertChatContent(content)
		if err != nil {
			return openai.ChatCompletionRequest{}, err
		}
		chatReq.Messages = append(chatReq.Messages, msgs...)
	}

	specs, err := collectTools(req)
	if err != nil {
		return openai.ChatCompletionRequest{}, err
	}
	for _, spec := range specs {
		chatReq.Tools = append(chatReq.Tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        spec.Name,
				Description: spec.Description,
				Parameters:  spec.Schema,
			},
		})
	}

	if req.Config != nil {
		if req.Config.Temperature != nil {
			chatReq.Temperature = *req.Config.Temperature
		}
		if req.Config.MaxOutputTokens != 0 {
			chatReq.MaxTokens = int(req.Config.MaxOutputTokens)
		}
		if req.Config.TopP != nil {
			chatReq.TopP = *req.Config.TopP
		}
	}

	return chatReq, nil
}

// convertChatContent maps one genai.Content to chat messages. Model turns
// become a single assistant message carrying text and tool calls; each
// function response becomes its own tool message.
func convertChatContent(content *genai.Content) ([]openai.ChatCompletionMessage, error) {
	var (
		texts     []string
		toolCalls []openai.ToolCall
		results   []openai.ChatCompletionMessage
	)

	for _, part := range content.Parts {
		if part == nil {
			continue
		}
		switch {
		case part.Text != "":
			texts = append(texts, part.Text)

		case part.FunctionCall != nil:
			args, err := json.Marshal(part.FunctionCall.Args)
			if err != nil {
				return nil, fmt.Errorf("marshal arguments of %s: %w", part.FunctionCall.Name, err)
			}
			if part.FunctionCall.Args == nil {
				args = []byte("{}")
			}
			toolCalls = append(toolCalls, openai.ToolCall{
				ID:   part.FunctionCall.ID,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      part.FunctionCall.Name,
					Arguments: string(args),
				},
			})

		case part.FunctionResponse != nil:
			result, err := functionResponseJSON(part.FunctionResponse)
			if err != nil {
				return nil, err
			}
			results = append(results, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				Content:    result,
				ToolCallID: part.FunctionResponse.ID,
				Name:       part.FunctionResponse.Name,
			})
		}
	}

	text := strings.Join(texts, "\n")
	if content.Role == "model" || content.Role == "assistant" {
		if text == "" && len(toolCalls) == 0 {
			return nil, nil
		}
		return []openai.ChatCompletionMessage{{
			Role:      openai.ChatMessageRoleAssistant,
			Content:   text,
			ToolCalls: toolCalls,
		}}, nil
	}

	msgs := results
	if text != "" {
		msgs = append(msgs, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleUser,
			Content: text,
		})
	}
	return msgs, nil
}

func convertChatResponse(resp openai.ChatCompletionResponse) (*adkmodel.LLMResponse, error) {
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("chat completion returned no choices")
	}
	choice := resp.Choices[0]

	var parts []*genai.Part
	if choice.Message.Content != "" {
		parts = append(parts, &genai.Part{Text: choice.Message.Content})
	}
	for _, tc := range choice.Message.ToolCalls {
		args := make(map[string]any)
		if raw := strings.TrimSpace(tc.Function.Arguments); raw != "" && raw != "null" {
			if err := json.Unmarshal([]byte(raw), &args); err != nil {
				slog.Warn("invalid tool arguments from model", "tool", tc.Function.Name, "err", err)
			}
		}
		parts = append(parts, &genai.Part{
			FunctionCall: &genai.FunctionCall{ID: tc.ID, Name: tc.Function.Name, Args: args},
		})
	}

	finishReason := genai.FinishReasonStop
	turnComplete := len(choice.Message.ToolCalls) == 0
	switch choice.FinishReason {
	case openai.FinishReasonLength:
		finishReason = genai.FinishReasonMaxTokens
	case openai.FinishReasonContentFilter:
		finishReason = genai.FinishReasonSafety
	}

	return &adkmodel.LLMResponse{
		Content:      &genai.Content{Role: "model", Parts: parts},
		FinishReason: finishReason,
		TurnComplete: turnComplete,
		UsageMetadata: &genai.GenerateContentResponseUsageMetadata{
			PromptTokenCount:     int32(resp.Usage.PromptTokens),
			CandidatesTokenCount: int32(resp.Usage.CompletionTokens),
			TotalTokenCount:      int32(resp.Usage.TotalTokens),
		},
	}, nil
}
