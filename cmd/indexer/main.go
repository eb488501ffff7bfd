// Command indexer loads IT manuals into the document index used by the
// assistant and lets an operator try retrieval from the command line.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"itsupport/internal/config"
	"itsupport/internal/logging"
	"itsupport/internal/rag"
)

func main() {
	remaining := logging.InitLogging(os.Args[1:])

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	root := newRootCommand(openIndex)
	root.SetArgs(remaining)
	if err := root.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// indexOpener opens the index described by cfg. create makes a missing
// local index file.
type indexOpener func(ctx context.Context, cfg *config.Config, create bool) (rag.Index, error)

type rootOptions struct {
	path         string
	collection   string
	backend      string
	chunkSize    int
	chunkOverlap int
}

// apply overrides the loaded configuration with the flags the user set.
func (o *rootOptions) apply(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("chroma-dir") {
		cfg.RAG.Path = o.path
	}
	if flags.Changed("collection-name") {
		cfg.RAG.Collection = o.collection
	}
	if flags.Changed("backend") {
		cfg.RAG.Backend = o.backend
	}
	if flags.Changed("chunk-size") {
		cfg.RAG.ChunkSize = o.chunkSize
	}
	if flags.Changed("chunk-overlap") {
		cfg.RAG.ChunkOverlap = o.chunkOverlap
	}
}

func newRootCommand(open indexOpener) *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "indexer",
		Short:         "Build and query the IT manual index",
		Long:          `Indexer splits PDF, Markdown and text manuals into passages, embeds them and stores them in the index the support assistant retrieves from.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := cmd.PersistentFlags()
	pf.StringVar(&opts.path, "chroma-dir", "", "Path of the local index file (default from CHROMA_DIR)")
	pf.StringVar(&opts.collection, "collection-name", "", "Collection name (default from CHROMA_COLLECTION_NAME)")
	pf.StringVar(&opts.backend, "backend", "", "Vector backend: local or chroma (default from ITSUPPORT_VECTOR_BACKEND)")
	pf.IntVar(&opts.chunkSize, "chunk-size", 0, "Passage size in characters (default from CHUNK_SIZE)")
	pf.IntVar(&opts.chunkOverlap, "chunk-overlap", 0, "Overlap between passages in characters (default from CHUNK_OVERLAP)")

	cmd.AddCommand(
		newBuildCommand(opts, open),
		newQueryCommand(opts, open),
	)
	return cmd
}

func newBuildCommand(root *rootOptions, open indexOpener) *cobra.Command {
	var (
		source string
		reset  bool
	)
	cmd := &cobra.Command{
		Use:   "build",
		Short: "Index a manual file or a directory of manuals",
		Long:  `Build reads every .pdf, .md and .txt file under --source, splits it into overlapping passages and writes them to the index. Re-indexing a file replaces its passages.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, root)
			if err != nil {
				return err
			}
			idx, err := open(cmd.Context(), cfg, true)
			if err != nil {
				return err
			}
			defer idx.Close()

			if reset {
				if err := idx.Reset(cmd.Context()); err != nil {
					return fmt.Errorf("reset index: %w", err)
				}
				slog.Info("index reset", "collection", cfg.RAG.Collection)
			}

			ix := &rag.Indexer{
				Index:    idx,
				Splitter: rag.Splitter{Size: cfg.RAG.ChunkSize, Overlap: cfg.RAG.ChunkOverlap},
			}
			stats, err := ix.IndexSource(cmd.Context(), source)
			if err != nil {
				return err
			}
			total, err := idx.Count(cmd.Context())
			if err != nil {
				return fmt.Errorf("count chunks: %w", err)
			}
			printStats(cmd.OutOrStdout(), stats, total)
			return nil
		},
	}
	cmd.Flags().StringVarP(&source, "source", "s", "", "Manual file or directory to index")
	cmd.Flags().BoolVar(&reset, "reset", false, "Delete the collection's passages before indexing")
	_ = cmd.MarkFlagRequired("source")
	return cmd
}

func newQueryCommand(root *rootOptions, open indexOpener) *cobra.Command {
	var k int
	cmd := &cobra.Command{
		Use:   "query <question>",
		Short: "Show the passages retrieved for a question",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, root)
			if err != nil {
				return err
			}
			if k <= 0 {
				k = cfg.RAG.TopK
			}
			idx, err := open(cmd.Context(), cfg, false)
			if err != nil {
				return err
			}
			defer idx.Close()

			chunks, err := idx.Retrieve(cmd.Context(), strings.Join(args, " "), k)
			if err != nil {
				return fmt.Errorf("retrieve: %w", err)
			}
			printChunks(cmd.OutOrStdout(), chunks)
			return nil
		},
	}
	cmd.Flags().IntVarP(&k, "top-k", "k", 0, "Number of passages to show (default from RAG_TOP_K)")
	return cmd
}

func loadConfig(cmd *cobra.Command, root *rootOptions) (*config.Config, error) {
	cfg, err := config.Read()
	if err != nil {
		return nil, err
	}
	root.apply(cmd, cfg)
	if err := cfg.ValidateRAG(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func openIndex(ctx context.Context, cfg *config.Config, create bool) (rag.Index, error) {
	if cfg.RAG.Backend == "chroma" {
		return rag.OpenChromaIndex(ctx, rag.ChromaConfig{
			URL:             cfg.RAG.ChromaURL,
			Collection:      cfg.RAG.Collection,
			EmbeddingAPIKey: cfg.RAG.EmbeddingAPIKey,
			EmbeddingModel:  cfg.RAG.EmbeddingModel,
		})
	}
	emb, err := rag.NewGenaiEmbedder(ctx, cfg.RAG.EmbeddingAPIKey, cfg.RAG.EmbeddingModel)
	if err != nil {
		return nil, fmt.Errorf("create embedder: %w", err)
	}
	return rag.OpenLocalIndex(rag.LocalConfig{
		Path:       cfg.RAG.Path,
		Collection: cfg.RAG.Collection,
		Documents:  emb.WithTask(rag.TaskRetrievalDocument),
		Queries:    emb.WithTask(rag.TaskRetrievalQuery),
		Create:     create,
	})
}

func printStats(w io.Writer, stats rag.IndexStats, total int) {
	fmt.Fprintf(w, "Indexed %d file(s), %d passage(s). Collection now holds %d passage(s).\n", stats.Files, stats.Chunks, total)
	if len(stats.Failed) > 0 {
		fmt.Fprintf(w, "Failed: %s\n", strings.Join(stats.Failed, ", "))
	}
}

func printChunks(w io.Writer, chunks []rag.Chunk) {
	if len(chunks) == 0 {
		fmt.Fprintln(w, "No passages found.")
		return
	}
	for i, c := range chunks {
		fmt.Fprintf(w, "[%d] %s #%d (score %.3f)\n%s\n\n", i+1, c.Source, c.Index, c.Score, c.Text)
	}
}
