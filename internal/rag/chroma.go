package rag

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	chroma "github.com/amikos-tech/chroma-go/pkg/api/v2"
	"github.com/amikos-tech/chroma-go/pkg/embeddings"
	"github.com/amikos-tech/chroma-go/pkg/embeddings/gemini"
)

// ChromaConfig configures a ChromaIndex.
type ChromaConfig struct {
	URL             string
	Collection      string
	EmbeddingAPIKey string
	EmbeddingModel  string
}

// ChromaIndex stores chunks in a Chroma server collection. Chroma computes
// the embeddings itself with a Gemini embedding function.
type ChromaIndex struct {
	client     chroma.Client
	ef         embeddings.EmbeddingFunction
	name       string
	collection chroma.Collection
}

// OpenChromaIndex connects to Chroma and gets or creates the collection.
func OpenChromaIndex(ctx context.Context, cfg ChromaConfig) (*ChromaIndex, error) {
	if cfg.Collection == "" {
		return nil, errors.New("collection name is empty")
	}
	if cfg.EmbeddingAPIKey == "" {
		return nil, errors.New("embedding API key is required for the chroma backend")
	}

	ef, err := gemini.NewGeminiEmbeddingFunction(
		gemini.WithAPIKey(cfg.EmbeddingAPIKey),
		gemini.WithDefaultModel(embeddings.EmbeddingModel(cfg.EmbeddingModel)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini embedding function: %w", err)
	}

	client, err := chroma.NewHTTPClient(chroma.WithBaseURL(cfg.URL))
	if err != nil {
		return nil, fmt.Errorf("failed to create Chroma client: %w", err)
	}

	x := &ChromaIndex{client: client, ef: ef, name: cfg.Collection}
	if err := x.open(ctx); err != nil {
		client.Close()
		return nil, err
	}
	slog.Info("chroma collection ready", "url", cfg.URL, "collection", cfg.Collection)
	return x, nil
}

func (x *ChromaIndex) open(ctx context.Context) error {
	col, err := x.client.GetOrCreateCollection(ctx, x.name, chroma.WithEmbeddingFunctionCreate(x.ef))
	if err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}
	x.collection = col
	return nil
}

// Close releases the HTTP client.
func (x *ChromaIndex) Close() error {
	return x.client.Close()
}

// Add upserts chunks keyed by their ids.
func (x *ChromaIndex) Add(ctx context.Context, chunks []Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	ids := make([]chroma.DocumentID, 0, len(chunks))
	texts := make([]string, 0, len(chunks))
	metas := make([]chroma.DocumentMetadata, 0, len(chunks))
	for _, c := range chunks {
		id := c.ID
		if id == "" {
			id = chunkID(c.Source, c.Index)
		}
		meta, err := chroma.NewDocumentMetadataFromMap(map[string]interface{}{
			"source":      c.Source,
			"chunk_index": c.Index,
		})
		if err != nil {
			return fmt.Errorf("failed to create metadata: %w", err)
		}
		ids = append(ids, chroma.DocumentID(id))
		texts = append(texts, c.Text)
		metas = append(metas, meta)
	}

	err := x.collection.Upsert(ctx,
		chroma.WithIDs(ids...),
		chroma.WithTexts(texts...),
		chroma.WithMetadatas(metas...),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert chunks: %w", err)
	}
	return nil
}

// Count returns the number of chunks in the collection.
func (x *ChromaIndex) Count(ctx context.Context) (int, error) {
	return x.collection.Count(ctx)
}

// Reset drops and recreates the collection.
func (x *ChromaIndex) Reset(ctx context.Context) error {
	if err := x.client.DeleteCollection(ctx, x.name); err != nil {
		return fmt.Errorf("failed to delete collection: %w", err)
	}
	return x.open(ctx)
}

// Retrieve queries the collection. Chroma reports distances; Score is
// 1/(1+distance) so that higher means closer.
func (x *ChromaIndex) Retrieve(ctx context.Context, query string, k int) ([]Chunk, error) {
	if k <= 0 || strings.TrimSpace(query) == "" {
		return nil, nil
	}
	n, err := x.Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count collection: %w", err)
	}
	if n == 0 {
		return nil, nil
	}

	results, err := x.collection.Query(ctx,
		chroma.WithQueryTexts(query),
		chroma.WithNResults(min(k, n)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query collection: %w", err)
	}
	if results == nil || results.CountGroups() == 0 {
		return nil, nil
	}

	idGroups := results.GetIDGroups()
	if len(idGroups) == 0 {
		return nil, nil
	}
	ids := idGroups[0]

	var docs chroma.Documents
	if g := results.GetDocumentsGroups(); len(g) > 0 {
		docs = g[0]
	}
	var metas chroma.DocumentMetadatas
	if g := results.GetMetadatasGroups(); len(g) > 0 {
		metas = g[0]
	}
	var dists embeddings.Distances
	if g := results.GetDistancesGroups(); len(g) > 0 {
		dists = g[0]
	}

	chunks := make([]Chunk, 0, len(ids))
	for i, id := range ids {
		c := Chunk{ID: string(id)}
		if i < len(docs) && docs[i] != nil {
			c.Text = docs[i].ContentString()
		}
		if i < len(metas) && metas[i] != nil {
			if s, ok := metas[i].GetString("source"); ok {
				c.Source = s
			}
			if idx, ok := metas[i].GetInt("chunk_index"); ok {
				c.Index = int(idx)
			}
		}
		if i < len(dists) {
			c.Score = distanceScore(float64(dists[i]))
		}
		chunks = append(chunks, c)
	}
	return chunks, nil
}

func distanceScore(d float64) float64 {
	if d < 0 {
		d = 0
	}
	return 1 / (1 + d)
}
