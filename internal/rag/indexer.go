package rag

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

const addBatchSize = 64

// Indexer loads documents, splits them and writes the chunks to an index.
type Indexer struct {
	Index    Index
	Splitter Splitter
}

// IndexStats summarises an indexing run.
type IndexStats struct {
	Files  int
	Chunks int
	Failed []string
}

// IndexFile indexes one file and returns the number of chunks written.
func (ix *Indexer) IndexFile(ctx context.Context, path string) (int, error) {
	doc, err := LoadDocument(path)
	if err != nil {
		return 0, err
	}
	texts := ix.Splitter.Split(doc.Text)
	if len(texts) == 0 {
		slog.Warn("document has no text", "path", path)
		return 0, nil
	}

	chunks := make([]Chunk, len(texts))
	for i, t := range texts {
		chunks[i] = Chunk{ID: chunkID(doc.Source, i), Source: doc.Source, Index: i, Text: t}
	}

	for start := 0; start < len(chunks); start += addBatchSize {
		end := min(start+addBatchSize, len(chunks))
		if err := ix.Index.Add(ctx, chunks[start:end]); err != nil {
			return start, fmt.Errorf("index %s: %w", path, err)
		}
	}
	return len(chunks), nil
}

// IndexSource indexes root, which may be a file or a directory. A file that
// fails is logged and skipped; the run only fails when nothing was indexed.
func (ix *Indexer) IndexSource(ctx context.Context, root string) (IndexStats, error) {
	if err := ix.Splitter.Validate(); err != nil {
		return IndexStats{}, err
	}
	paths, err := Sources(root)
	if err != nil {
		return IndexStats{}, err
	}
	if len(paths) == 0 {
		return IndexStats{}, fmt.Errorf("no .pdf, .txt or .md files under %s", root)
	}

	var stats IndexStats
	for _, p := range paths {
		start := time.Now()
		n, err := ix.IndexFile(ctx, p)
		if err != nil {
			slog.Error("indexing failed", "path", p, "err", err)
			stats.Failed = append(stats.Failed, p)
			continue
		}
		stats.Files++
		stats.Chunks += n
		slog.Info("indexed", "path", p, "chunks", n, "ms", time.Since(start).Milliseconds())
	}

	if stats.Files == 0 {
		return stats, fmt.Errorf("no file could be indexed (%d failed)", len(stats.Failed))
	}
	return stats, nil
}
