package rag

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/genai"
)

// Gemini embedding task types.
const (
	TaskRetrievalDocument = "RETRIEVAL_DOCUMENT"
	TaskRetrievalQuery    = "RETRIEVAL_QUERY"
)

// maxEmbedBatch is the most texts the Gemini API accepts in one request.
const maxEmbedBatch = 100

// GenaiEmbedder embeds text with a Gemini embedding model.
type GenaiEmbedder struct {
	client   *genai.Client
	model    string
	taskType string
}

// NewGenaiEmbedder creates an embedder for model using apiKey.
func NewGenaiEmbedder(ctx context.Context, apiKey, model string) (*GenaiEmbedder, error) {
	if apiKey == "" {
		return nil, errors.New("embedding API key is empty")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return &GenaiEmbedder{client: client, model: model}, nil
}

// WithTask returns a copy of the embedder that tags requests with taskType.
func (e *GenaiEmbedder) WithTask(taskType string) *GenaiEmbedder {
	c := *e
	c.taskType = taskType
	return &c
}

// Embed returns one vector per text, batching requests as needed.
func (e *GenaiEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += maxEmbedBatch {
		end := min(start+maxEmbedBatch, len(texts))

		contents := make([]*genai.Content, 0, end-start)
		for _, t := range texts[start:end] {
			contents = append(contents, genai.NewContentFromText(t, genai.RoleUser))
		}

		var cfg *genai.EmbedContentConfig
		if e.taskType != "" {
			cfg = &genai.EmbedContentConfig{TaskType: e.taskType}
		}
		resp, err := e.client.Models.EmbedContent(ctx, e.model, contents, cfg)
		if err != nil {
			return nil, fmt.Errorf("embed content: %w", err)
		}
		if len(resp.Embeddings) != end-start {
			return nil, fmt.Errorf("embed content: got %d embeddings for %d texts", len(resp.Embeddings), end-start)
		}
		for _, emb := range resp.Embeddings {
			out = append(out, emb.Values)
		}
	}
	return out, nil
}
