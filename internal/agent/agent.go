// Package agent answers user messages with an LLM agent that can read the IT
// manuals, open and look up helpdesk tickets and run system diagnostics.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	adkagent "google.golang.org/adk/agent"
	"google.golang.org/adk/agent/llmagent"
	adkmodel "google.golang.org/adk/model"
	"google.golang.org/adk/runner"
	"google.golang.org/adk/session"
	"google.golang.org/adk/tool"
	"google.golang.org/genai"

	"itsupport/internal/metrics"
	"itsupport/internal/rag"
	"itsupport/internal/trace"
	"itsupport/prompts"
)

const (
	appName = "itsupport"
	userID  = "itsupport_user"

	// historyTurns is how many earlier messages are shown to the model.
	historyTurns = 6

	fallbackAnswer   = "Lo siento, no pude procesar tu solicitud. Por favor, intenta de nuevo."
	errorAnswerFmt   = "Ocurrió un error al procesar tu solicitud: %s"
	iterationCapText = "He alcanzado el número máximo de pasos para esta consulta sin llegar a una respuesta. " +
		"Por favor, reformula la pregunta o pide que cree un ticket de soporte."
)

// Turn is one message of a conversation.
type Turn struct {
	Role    string // "user" or "assistant"
	Content string
}

// Options configures an Orchestrator. Retriever, Tracer and Metrics may be nil.
type Options struct {
	Model            adkmodel.LLM
	Tools            []tool.Tool
	Retriever        rag.Retriever
	TopK             int
	Temperature      float64
	MaxTokens        int
	MaxIterations    int
	RetrievalTimeout time.Duration
	TurnTimeout      time.Duration
	Tracer           *trace.Tracer
	Metrics          *metrics.Metrics
}

// Orchestrator runs one agent turn per user message.
type Orchestrator struct {
	opts       Options
	runner     *runner.Runner
	sessions   session.Service
	iterations *iterationCounter
}

// New builds the support agent and its runner.
func New(opts Options) (*Orchestrator, error) {
	if opts.Model == nil {
		return nil, errors.New("agent: model is required")
	}
	if opts.TopK <= 0 {
		opts.TopK = 2
	}
	if opts.MaxIterations <= 0 {
		opts.MaxIterations = 8
	}
	if opts.RetrievalTimeout <= 0 {
		opts.RetrievalTimeout = 10 * time.Second
	}
	if opts.TurnTimeout <= 0 {
		opts.TurnTimeout = 90 * time.Second
	}

	o := &Orchestrator{
		opts:       opts,
		sessions:   session.InMemoryService(),
		iterations: newIterationCounter(),
	}

	genConfig := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(float32(opts.Temperature)),
	}
	if opts.MaxTokens > 0 {
		genConfig.MaxOutputTokens = int32(opts.MaxTokens)
	}

	supportAgent, err := llmagent.New(llmagent.Config{
		Name:                  "it_support_assistant",
		Description:           "Asistente de soporte IT: manuales, tickets de FreeScout y diagnóstico de equipos Windows.",
		Instruction:           prompts.Support,
		Model:                 opts.Model,
		Tools:                 opts.Tools,
		GenerateContentConfig: genConfig,
		BeforeModelCallbacks:  []llmagent.BeforeModelCallback{o.limitIterations},
	})
	if err != nil {
		return nil, fmt.Errorf("create agent: %w", err)
	}

	o.runner, err = runner.New(runner.Config{
		AppName:        appName,
		Agent:          supportAgent,
		SessionService: o.sessions,
	})
	if err != nil {
		return nil, fmt.Errorf("create runner: %w", err)
	}
	return o, nil
}

// Query answers message given the earlier conversation. It always returns
// text for the user: failures become an apology or an error description.
func (o *Orchestrator) Query(ctx context.Context, message string, history []Turn) string {
	start := time.Now()
	message = strings.TrimSpace(message)

	chunks := o.retrieve(ctx, message)
	prompt := message
	if len(chunks) > 0 {
		texts := make([]string, len(chunks))
		for i, c := range chunks {
			texts[i] = c.Text
		}
		prompt = prompts.Augment(message, strings.Join(texts, "\n\n"))
	}
	prompt = prompts.WithHistory(recentHistory(history), prompt)

	answer, err := o.run(ctx, prompt)

	status, errMsg := trace.StatusSuccess, ""
	switch {
	case err != nil:
		status, errMsg = trace.StatusError, err.Error()
		slog.Error("agent turn failed", "ms", time.Since(start).Milliseconds(), "err", err)
		answer = fmt.Sprintf(errorAnswerFmt, describeError(err, o.opts.TurnTimeout))
	case strings.TrimSpace(answer) == "":
		status = trace.StatusFallback
		slog.Warn("agent produced no answer", "ms", time.Since(start).Milliseconds())
		answer = fallbackAnswer
	default:
		slog.Info("agent turn ok", "ms", time.Since(start).Milliseconds(), "chunks", len(chunks), "chars", len(answer))
	}

	duration := time.Since(start)
	o.opts.Metrics.RecordTurn(status, duration)
	o.opts.Tracer.RecordTurn(ctx, trace.Turn{
		UserQuery:       message,
		RetrievedChunks: len(chunks),
		AnswerLength:    len([]rune(answer)),
	}, status, errMsg, duration)

	return answer
}

// retrieve returns manual passages for message. Failures are logged and
// yield no passages.
func (o *Orchestrator) retrieve(ctx context.Context, message string) []rag.Chunk {
	if o.opts.Retriever == nil || message == "" {
		return nil
	}
	rctx, cancel := context.WithTimeout(ctx, o.opts.RetrievalTimeout)
	defer cancel()

	chunks, err := o.opts.Retriever.Retrieve(rctx, message, o.opts.TopK)
	o.opts.Metrics.RecordRetrieval(len(chunks), err)
	if err != nil {
		slog.Warn("retrieval failed, answering without manual context", "err", err)
		return nil
	}
	slog.Debug("retrieved manual context", "chunks", len(chunks))
	return chunks
}

// run executes one agent invocation in a fresh session and returns the last
// complete model text.
func (o *Orchestrator) run(ctx context.Context, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, o.opts.TurnTimeout)
	defer cancel()

	created, err := o.sessions.Create(ctx, &session.CreateRequest{AppName: appName, UserID: userID})
	if err != nil {
		return "", fmt.Errorf("create session: %w", err)
	}
	sessionID := created.Session.ID()
	defer func() {
		o.iterations.forget(sessionID)
		delErr := o.sessions.Delete(context.WithoutCancel(ctx), &session.DeleteRequest{
			AppName:   appName,
			UserID:    userID,
			SessionID: sessionID,
		})
		if delErr != nil {
			slog.Debug("failed to delete session", "session", sessionID, "err", delErr)
		}
	}()

	var answer string
	msg := genai.NewContentFromText(prompt, genai.RoleUser)
	for event, err := range o.runner.Run(ctx, userID, sessionID, msg, adkagent.RunConfig{}) {
		if err != nil {
			return "", err
		}
		if event == nil || event.Partial || event.Content == nil || event.Content.Role != "model" {
			continue
		}
		if text := contentText(event.Content); text != "" {
			answer = text
		}
	}
	if answer == "" && ctx.Err() != nil {
		return "", ctx.Err()
	}
	return answer, nil
}

// limitIterations ends the tool loop once the model has been called
// MaxIterations times for one turn.
func (o *Orchestrator) limitIterations(ctx adkagent.CallbackContext, _ *adkmodel.LLMRequest) (*adkmodel.LLMResponse, error) {
	n := o.iterations.inc(ctx.SessionID())
	if n <= o.opts.MaxIterations {
		return nil, nil
	}
	slog.Warn("iteration cap reached", "session", ctx.SessionID(), "max", o.opts.MaxIterations)
	return &adkmodel.LLMResponse{
		Content:      genai.NewContentFromText(iterationCapText, genai.RoleModel),
		TurnComplete: true,
	}, nil
}

func contentText(c *genai.Content) string {
	var parts []string
	for _, p := range c.Parts {
		if p != nil && p.Text != "" && !p.Thought {
			parts = append(parts, p.Text)
		}
	}
	return strings.TrimSpace(strings.Join(parts, ""))
}

func recentHistory(history []Turn) []prompts.HistoryTurn {
	if len(history) > historyTurns {
		history = history[len(history)-historyTurns:]
	}
	out := make([]prompts.HistoryTurn, 0, len(history))
	for _, t := range history {
		if strings.TrimSpace(t.Content) == "" {
			continue
		}
		out = append(out, prompts.HistoryTurn{Role: t.Role, Content: t.Content})
	}
	return out
}

func describeError(err error, timeout time.Duration) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Sprintf("la respuesta tardó más de %s", timeout)
	}
	return err.Error()
}

// iterationCounter counts model calls per session.
type iterationCounter struct {
	mu     sync.Mutex
	counts map[string]int
}

func newIterationCounter() *iterationCounter {
	return &iterationCounter{counts: make(map[string]int)}
}

func (c *iterationCounter) inc(id string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counts[id]++
	return c.counts[id]
}

func (c *iterationCounter) forget(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.counts, id)
}
