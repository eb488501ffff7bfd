package rag

import (
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"

	_ "modernc.org/sqlite"
)

// LocalConfig configures a LocalIndex.
type LocalConfig struct {
	// Path is the SQLite file holding the index.
	Path string

	// Collection namespaces chunks within the file.
	Collection string

	// Documents embeds chunks on Add. Queries embeds the query on Retrieve
	// and defaults to Documents.
	Documents Embedder
	Queries   Embedder

	// Create makes the file and its directory when missing. Without it a
	// missing file behaves as an empty index.
	Create bool
}

// LocalIndex is a vector index persisted in a single SQLite file. Retrieval
// scores every chunk of the collection by cosine similarity, which is
// adequate for manuals of a few thousand chunks.
type LocalIndex struct {
	db         *sql.DB
	collection string
	docs       Embedder
	queries    Embedder
}

const localSchema = `CREATE TABLE IF NOT EXISTS chunks (
	collection  TEXT NOT NULL,
	id          TEXT NOT NULL,
	source      TEXT NOT NULL,
	chunk_index INTEGER NOT NULL,
	text        TEXT NOT NULL,
	embedding   BLOB NOT NULL,
	PRIMARY KEY (collection, id)
)`

// OpenLocalIndex opens the index file described by cfg.
func OpenLocalIndex(cfg LocalConfig) (*LocalIndex, error) {
	if cfg.Collection == "" {
		return nil, errors.New("collection name is empty")
	}
	if cfg.Queries == nil {
		cfg.Queries = cfg.Documents
	}
	idx := &LocalIndex{collection: cfg.Collection, docs: cfg.Documents, queries: cfg.Queries}

	if _, err := os.Stat(cfg.Path); errors.Is(err, fs.ErrNotExist) {
		if !cfg.Create {
			slog.Warn("document index not found, retrieval will return no context", "path", cfg.Path)
			return idx, nil
		}
		if dir := filepath.Dir(cfg.Path); dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, fmt.Errorf("create index directory: %w", err)
			}
		}
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("open index: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(localSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create index schema: %w", err)
	}
	idx.db = db
	return idx, nil
}

// Close releases the database handle.
func (x *LocalIndex) Close() error {
	if x.db == nil {
		return nil
	}
	return x.db.Close()
}

// Add embeds and stores chunks, replacing chunks with the same id.
func (x *LocalIndex) Add(ctx context.Context, chunks []Chunk) error {
	if x.db == nil {
		return errors.New("index is not open for writing")
	}
	if len(chunks) == 0 {
		return nil
	}
	if x.docs == nil {
		return errors.New("no embedder configured")
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	vectors, err := x.docs.Embed(ctx, texts)
	if err != nil {
		return err
	}
	if len(vectors) != len(chunks) {
		return fmt.Errorf("embedder returned %d vectors for %d chunks", len(vectors), len(chunks))
	}

	tx, err := x.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `INSERT OR REPLACE INTO chunks
		(collection, id, source, chunk_index, text, embedding) VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i, c := range chunks {
		id := c.ID
		if id == "" {
			id = chunkID(c.Source, c.Index)
		}
		if _, err := stmt.ExecContext(ctx, x.collection, id, c.Source, c.Index, c.Text, floatsToBytes(vectors[i])); err != nil {
			return fmt.Errorf("insert chunk %s: %w", id, err)
		}
	}
	return tx.Commit()
}

// Count returns the number of chunks in the collection.
func (x *LocalIndex) Count(ctx context.Context) (int, error) {
	if x.db == nil {
		return 0, nil
	}
	var n int
	err := x.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chunks WHERE collection = ?`, x.collection).Scan(&n)
	return n, err
}

// Reset removes every chunk of the collection.
func (x *LocalIndex) Reset(ctx context.Context) error {
	if x.db == nil {
		return nil
	}
	_, err := x.db.ExecContext(ctx, `DELETE FROM chunks WHERE collection = ?`, x.collection)
	return err
}

// Retrieve returns the k chunks closest to query. Ties keep index order.
func (x *LocalIndex) Retrieve(ctx context.Context, query string, k int) ([]Chunk, error) {
	if x.db == nil || k <= 0 || strings.TrimSpace(query) == "" {
		return nil, nil
	}
	n, err := x.Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("count chunks: %w", err)
	}
	if n == 0 {
		return nil, nil
	}
	if x.queries == nil {
		return nil, errors.New("no embedder configured")
	}

	vecs, err := x.queries.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(vecs) != 1 {
		return nil, fmt.Errorf("embedder returned %d vectors for 1 query", len(vecs))
	}
	qvec := vecs[0]

	rows, err := x.db.QueryContext(ctx,
		`SELECT id, source, chunk_index, text, embedding FROM chunks
		WHERE collection = ? ORDER BY source, chunk_index`, x.collection)
	if err != nil {
		return nil, fmt.Errorf("query chunks: %w", err)
	}
	defer rows.Close()

	var scored []Chunk
	for rows.Next() {
		var (
			c    Chunk
			blob []byte
		)
		if err := rows.Scan(&c.ID, &c.Source, &c.Index, &c.Text, &blob); err != nil {
			return nil, fmt.Errorf("scan chunk: %w", err)
		}
		c.Score = cosine(qvec, bytesToFloats(blob))
		scored = append(scored, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.SliceStable(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
	if len(scored) > k {
		scored = scored[:k]
	}
	return scored, nil
}

// floatsToBytes encodes v as little-endian IEEE 754 values, four bytes each.
func floatsToBytes(v []float32) []byte {
	b := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(b[4*i:], math.Float32bits(f))
	}
	return b
}

// bytesToFloats decodes floatsToBytes output. A trailing partial value is
// ignored.
func bytesToFloats(b []byte) []float32 {
	out := make([]float32, len(b)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
	}
	return out
}

func cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := 0; i < len(a) && i < len(b); i++ {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
