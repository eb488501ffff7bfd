// Package rag indexes IT manuals and retrieves the passages most relevant to
// a user question.
package rag

import (
	"context"
	"fmt"
)

// Document is the extracted text of one source file.
type Document struct {
	Source string
	Text   string
}

// Chunk is a retrievable passage of a document.
type Chunk struct {
	ID     string
	Source string
	Index  int
	Text   string

	// Score is the similarity to the query; higher is closer. Only set on
	// retrieval results.
	Score float64
}

// Retriever returns up to k chunks ordered by descending similarity to query.
// An absent or empty index yields an empty result, not an error.
type Retriever interface {
	Retrieve(ctx context.Context, query string, k int) ([]Chunk, error)
}

// Index is a Retriever that chunks can be written to.
type Index interface {
	Retriever
	Add(ctx context.Context, chunks []Chunk) error
	Count(ctx context.Context) (int, error)
	Reset(ctx context.Context) error
	Close() error
}

// Embedder turns texts into vectors, one per text, in order.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// chunkID is stable for a given source and position so re-indexing a file
// overwrites its chunks.
func chunkID(source string, index int) string {
	return fmt.Sprintf("%s#%d", source, index)
}
