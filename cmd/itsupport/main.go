// Command itsupport serves the IT support chat assistant.
//
// Configuration comes from .env, an optional YAML file named by
// ITSUPPORT_CONFIG and ITSUPPORT_* environment variables. The LLM vendor
// key, the ticket database and the UI address are the usual knobs.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"itsupport/internal/agent"
	"itsupport/internal/chatui"
	"itsupport/internal/config"
	"itsupport/internal/diagnostics"
	"itsupport/internal/freescout"
	"itsupport/internal/logging"
	"itsupport/internal/metrics"
	"itsupport/internal/model"
	"itsupport/internal/rag"
	"itsupport/internal/tools"
	"itsupport/internal/trace"
)

const shutdownTimeout = 10 * time.Second

func main() {
	// InitLogging must run before flag.Parse so it can strip --log-level.
	remaining := logging.InitLogging(os.Args[1:])
	addr := flag.String("addr", "", "UI listen address (overrides ITSUPPORT_UI_ADDR)")
	flag.CommandLine.Parse(remaining) //nolint:errcheck

	cfg := config.MustLoad()
	if *addr != "" {
		cfg.UI.Addr = *addr
	}
	cfg.LogSummary()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		slog.Error("itsupport stopped", "err", err)
		os.Exit(1)
	}
	slog.Info("itsupport stopped")
}

func run(ctx context.Context, cfg *config.Config) error {
	store, err := freescout.Open(cfg.Tickets.Driver, cfg.TicketDSN(), freescout.Options{
		CustomerName:  cfg.Tickets.CustomerName,
		CustomerEmail: cfg.Tickets.CustomerEmail,
	})
	if err != nil {
		return fmt.Errorf("open ticket database: %w", err)
	}
	defer store.Close()

	// A SQLite ticket database is a local demo; give it the tables FreeScout
	// would have created.
	if cfg.Tickets.Driver == "sqlite" {
		if err := store.InitSchema(ctx, "Soporte IT", cfg.Tickets.CustomerEmail); err != nil {
			return fmt.Errorf("init ticket schema: %w", err)
		}
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	if err := store.Ping(pingCtx); err != nil {
		// Ticket tools report the failure to the user; the chat still works.
		slog.Warn("ticket database unreachable", "driver", cfg.Tickets.Driver, "err", err)
	}
	cancel()

	retriever, closeIndex, err := openRetriever(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeIndex()

	llm, err := model.NewLLM(ctx, cfg.Model)
	if err != nil {
		return fmt.Errorf("create model: %w", err)
	}

	rec, err := trace.Open(cfg.Telemetry.TraceURL, cfg.Telemetry.TraceDSN)
	if err != nil {
		return fmt.Errorf("open trace recorder: %w", err)
	}
	tracer := trace.NewTracer(rec, cfg.Model.Name)
	defer tracer.Close()

	m := metrics.NewMetrics()

	toolset := tools.New(tools.Deps{
		Tickets: store,
		Diagnostics: diagnostics.New(diagnostics.Options{
			Shell:   cfg.Diag.Shell,
			Timeout: cfg.Diag.Timeout,
		}),
		WebURL:  cfg.Tickets.WebURL,
		Tracer:  tracer,
		Metrics: m,
	})
	supportTools, err := toolset.Tools()
	if err != nil {
		return fmt.Errorf("create tools: %w", err)
	}

	orchestrator, err := agent.New(agent.Options{
		Model:            llm,
		Tools:            supportTools,
		Retriever:        retriever,
		TopK:             cfg.RAG.TopK,
		Temperature:      cfg.Model.Temperature,
		MaxTokens:        cfg.Model.MaxTokens,
		MaxIterations:    cfg.Model.MaxIterations,
		RetrievalTimeout: cfg.RAG.RetrievalTimeout,
		TurnTimeout:      cfg.Model.TurnTimeout,
		Tracer:           tracer,
		Metrics:          m,
	})
	if err != nil {
		return err
	}

	ui, err := chatui.New(chatui.Options{
		Assistant: orchestrator,
		ModelName: cfg.Model.Name,
		Knowledge: cfg.RAG.Collection,
	})
	if err != nil {
		return fmt.Errorf("create chat UI: %w", err)
	}

	servers := []*http.Server{ui.NewHTTPServer(cfg.UI.Addr)}
	if cfg.Telemetry.MetricsAddr != "" {
		servers = append(servers, m.NewServer(cfg.Telemetry.MetricsAddr))
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, srv := range servers {
		g.Go(func() error {
			slog.Info("listening", "addr", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("serve %s: %w", srv.Addr, err)
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down")
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		for _, srv := range servers {
			if err := srv.Shutdown(sctx); err != nil {
				slog.Warn("shutdown", "addr", srv.Addr, "err", err)
			}
		}
		return nil
	})
	return g.Wait()
}

// openRetriever opens the configured document index. Retrieval is optional:
// without an embedding key the assistant answers from its tools alone.
func openRetriever(ctx context.Context, cfg *config.Config) (rag.Retriever, func(), error) {
	noop := func() {}
	if !cfg.RetrievalEnabled() {
		slog.Info("retrieval disabled, no embedding API key configured")
		return nil, noop, nil
	}

	var idx rag.Index
	switch cfg.RAG.Backend {
	case "chroma":
		x, err := rag.OpenChromaIndex(ctx, rag.ChromaConfig{
			URL:             cfg.RAG.ChromaURL,
			Collection:      cfg.RAG.Collection,
			EmbeddingAPIKey: cfg.RAG.EmbeddingAPIKey,
			EmbeddingModel:  cfg.RAG.EmbeddingModel,
		})
		if err != nil {
			// A missing knowledge base degrades answers, it does not stop the chat.
			slog.Warn("chroma index unavailable, answering without manual context", "url", cfg.RAG.ChromaURL, "err", err)
			return nil, noop, nil
		}
		idx = x
	default:
		emb, err := rag.NewGenaiEmbedder(ctx, cfg.RAG.EmbeddingAPIKey, cfg.RAG.EmbeddingModel)
		if err != nil {
			return nil, noop, fmt.Errorf("create embedder: %w", err)
		}
		x, err := rag.OpenLocalIndex(rag.LocalConfig{
			Path:       cfg.RAG.Path,
			Collection: cfg.RAG.Collection,
			Documents:  emb.WithTask(rag.TaskRetrievalDocument),
			Queries:    emb.WithTask(rag.TaskRetrievalQuery),
		})
		if err != nil {
			return nil, noop, fmt.Errorf("open document index: %w", err)
		}
		idx = x
	}

	if n, err := idx.Count(ctx); err == nil {
		slog.Info("document index ready", "backend", cfg.RAG.Backend, "collection", cfg.RAG.Collection, "chunks", n)
	}
	return idx, func() { idx.Close() }, nil
}
