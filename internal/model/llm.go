// Package model provides the chat model backends the assistant can run on:
// OpenAI-compatible endpoints (Groq, OpenAI), Anthropic and Gemini.
package model

import (
	"context"
	"fmt"
	"strings"

	"itsupport/internal/config"

	adkmodel "google.golang.org/adk/model"
	"google.golang.org/adk/model/gemini"
	"google.golang.org/genai"
)

// GroqBaseURL is the OpenAI-compatible endpoint of Groq.
const GroqBaseURL = "https://api.groq.com/openai/v1"

const defaultMaxTokens = 2048

// Options configures a model client.
type Options struct {
	Name      string
	APIKey    string
	BaseURL   string
	MaxTokens int
}

func (o Options) maxTokens() int {
	if o.MaxTokens > 0 {
		return o.MaxTokens
	}
	return defaultMaxTokens
}

// NewLLM creates the model client for the configured vendor.
func NewLLM(ctx context.Context, cfg config.ModelConfig) (adkmodel.LLM, error) {
	opts := Options{
		Name:      cfg.Name,
		APIKey:    cfg.APIKey,
		BaseURL:   cfg.BaseURL,
		MaxTokens: cfg.MaxTokens,
	}

	switch strings.ToLower(cfg.Vendor) {
	case "groq", "":
		if opts.BaseURL == "" {
			opts.BaseURL = GroqBaseURL
		}
		return NewOpenAIModel(opts)
	case "openai":
		return NewOpenAIModel(opts)
	case "anthropic":
		return NewAnthropicModel(opts)
	case "google", "gemini":
		llm, err := gemini.NewModel(ctx, cfg.Name, &genai.ClientConfig{
			APIKey:  cfg.APIKey,
			Backend: genai.BackendGeminiAPI,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create Gemini model: %w", err)
		}
		return llm, nil
	default:
		return nil, fmt.Errorf("unknown model vendor: %q (supported: groq, openai, anthropic, gemini)", cfg.Vendor)
	}
}
