package agent

import (
	"context"
	"errors"
	"iter"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	adkmodel "google.golang.org/adk/model"
	"google.golang.org/genai"

	"itsupport/internal/freescout"
	"itsupport/internal/metrics"
	"itsupport/internal/rag"
	"itsupport/internal/tools"
)

// scriptedLLM answers each model call with the next step of a script. The
// last step repeats once the script is exhausted.
type scriptedLLM struct {
	mu       sync.Mutex
	steps    []func(req *adkmodel.LLMRequest) (*adkmodel.LLMResponse, error)
	requests []*adkmodel.LLMRequest
}

func (s *scriptedLLM) Name() string { return "scripted" }

func (s *scriptedLLM) GenerateContent(_ context.Context, req *adkmodel.LLMRequest, _ bool) iter.Seq2[*adkmodel.LLMResponse, error] {
	return func(yield func(*adkmodel.LLMResponse, error) bool) {
		s.mu.Lock()
		s.requests = append(s.requests, req)
		i := len(s.requests) - 1
		if i >= len(s.steps) {
			i = len(s.steps) - 1
		}
		step := s.steps[i]
		s.mu.Unlock()
		yield(step(req))
	}
}

func (s *scriptedLLM) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests)
}

// userText returns the text of the first user message of the n-th request.
func (s *scriptedLLM) userText(t *testing.T, n int) string {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	if n >= len(s.requests) {
		t.Fatalf("only %d model calls", len(s.requests))
	}
	for _, c := range s.requests[n].Contents {
		if c.Role != "user" {
			continue
		}
		for _, p := range c.Parts {
			if p.Text != "" {
				return p.Text
			}
		}
	}
	return ""
}

func textResponse(text string) func(*adkmodel.LLMRequest) (*adkmodel.LLMResponse, error) {
	return func(*adkmodel.LLMRequest) (*adkmodel.LLMResponse, error) {
		return &adkmodel.LLMResponse{
			Content:      genai.NewContentFromText(text, genai.RoleModel),
			TurnComplete: true,
		}, nil
	}
}

func callTool(id, name string, args map[string]any) func(*adkmodel.LLMRequest) (*adkmodel.LLMResponse, error) {
	return func(*adkmodel.LLMRequest) (*adkmodel.LLMResponse, error) {
		return &adkmodel.LLMResponse{
			Content: &genai.Content{Role: "model", Parts: []*genai.Part{{
				FunctionCall: &genai.FunctionCall{ID: id, Name: name, Args: args},
			}}},
		}, nil
	}
}

// echoToolResult answers with the output of the last function response.
func echoToolResult(req *adkmodel.LLMRequest) (*adkmodel.LLMResponse, error) {
	var out string
	for _, c := range req.Contents {
		for _, p := range c.Parts {
			if p.FunctionResponse != nil {
				out, _ = p.FunctionResponse.Response["output"].(string)
			}
		}
	}
	return &adkmodel.LLMResponse{
		Content:      genai.NewContentFromText("Hecho. "+out, genai.RoleModel),
		TurnComplete: true,
	}, nil
}

type fakeRetriever struct {
	chunks []rag.Chunk
	err    error
	delay  time.Duration
}

func (f fakeRetriever) Retrieve(ctx context.Context, _ string, k int) ([]rag.Chunk, error) {
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	if k < len(f.chunks) {
		return f.chunks[:k], nil
	}
	return f.chunks, nil
}

type memoryTickets struct {
	mu      sync.Mutex
	tickets []freescout.NewTicket
	lookups int
}

func (m *memoryTickets) CreateTicket(_ context.Context, nt freescout.NewTicket) (*freescout.CreateResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tickets = append(m.tickets, nt)
	n := int64(len(m.tickets))
	return &freescout.CreateResult{TicketID: 40 + n, Number: n, Subject: nt.Subject, Priority: nt.Priority, CreatedAt: time.Now()}, nil
}

func (m *memoryTickets) GetTicketByNumber(_ context.Context, number int64) (*freescout.Ticket, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lookups++
	if number < 1 || number > int64(len(m.tickets)) {
		return nil, freescout.ErrNotFound
	}
	nt := m.tickets[number-1]
	return &freescout.Ticket{ID: 40 + number, Number: number, Subject: nt.Subject, Body: nt.Body, Status: freescout.StatusActive}, nil
}

func (m *memoryTickets) GetTicket(ctx context.Context, id int64) (*freescout.Ticket, error) {
	return m.GetTicketByNumber(ctx, id-40)
}

type staticDiagnoser struct{}

func (staticDiagnoser) Performance(context.Context) string { return "CPU: 15%" }
func (staticDiagnoser) Disk(context.Context) string        { return "C: 40% usado" }
func (staticDiagnoser) Network(context.Context) string     { return "Conexión a Internet: OK" }

func newOrchestrator(t *testing.T, llm adkmodel.LLM, opts Options) (*Orchestrator, *memoryTickets) {
	t.Helper()
	store := &memoryTickets{}
	toolset := tools.New(tools.Deps{Tickets: store, Diagnostics: staticDiagnoser{}, WebURL: "http://localhost:8080"})
	ts, err := toolset.Tools()
	if err != nil {
		t.Fatalf("Tools: %v", err)
	}
	opts.Model = llm
	opts.Tools = ts
	o, err := New(opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return o, store
}

func TestQuery_CreatesTicket(t *testing.T) {
	llm := &scriptedLLM{steps: []func(*adkmodel.LLMRequest) (*adkmodel.LLMResponse, error){
		callTool("call_1", tools.NameCreateTicket, map[string]any{
			"subject":     "Impresora no imprime",
			"description": "La impresora de la planta 2 no imprime desde ayer",
			"priority":    "high",
		}),
		echoToolResult,
	}}
	o, store := newOrchestrator(t, llm, Options{})

	answer := o.Query(context.Background(), "La impresora no funciona, crea un ticket", nil)

	if len(store.tickets) != 1 {
		t.Fatalf("created %d tickets, want 1", len(store.tickets))
	}
	if store.tickets[0].Subject != "Impresora no imprime" {
		t.Errorf("subject = %q", store.tickets[0].Subject)
	}
	if !strings.Contains(answer, "NÚMERO DE TICKET: #1") {
		t.Errorf("answer = %q, want ticket number", answer)
	}
	if llm.calls() != 2 {
		t.Errorf("model called %d times, want 2", llm.calls())
	}
}

func TestQuery_TicketStatus(t *testing.T) {
	llm := &scriptedLLM{steps: []func(*adkmodel.LLMRequest) (*adkmodel.LLMResponse, error){
		callTool("call_1", tools.NameCreateTicket, map[string]any{"subject": "VPN", "description": "No conecta"}),
		echoToolResult,
		callTool("call_2", tools.NameTicketStatus, map[string]any{"ticket_number": 1}),
		echoToolResult,
	}}
	o, _ := newOrchestrator(t, llm, Options{})

	o.Query(context.Background(), "crea un ticket por la VPN", nil)
	answer := o.Query(context.Background(), "¿Cuál es el estado del ticket 1?", nil)

	if !strings.Contains(answer, "Estado del ticket #1") || !strings.Contains(answer, "Activo") {
		t.Errorf("answer = %q", answer)
	}
}

func TestQuery_TicketNumberMustBeInteger(t *testing.T) {
	var toolResponse map[string]any
	llm := &scriptedLLM{steps: []func(*adkmodel.LLMRequest) (*adkmodel.LLMResponse, error){
		callTool("call_1", tools.NameTicketStatus, map[string]any{"ticket_number": "1"}),
		func(req *adkmodel.LLMRequest) (*adkmodel.LLMResponse, error) {
			for _, c := range req.Contents {
				for _, p := range c.Parts {
					if p.FunctionResponse != nil && p.FunctionResponse.Name == tools.NameTicketStatus {
						toolResponse = p.FunctionResponse.Response
					}
				}
			}
			return textResponse("No pude consultar el ticket.")(req)
		},
	}}
	o, store := newOrchestrator(t, llm, Options{})

	o.Query(context.Background(), "¿Cuál es el estado del ticket #1?", nil)

	if store.lookups != 0 {
		t.Errorf("store queried %d times for a string ticket number", store.lookups)
	}
	if toolResponse == nil {
		t.Fatal("model never received the tool response")
	}
	msg, _ := toolResponse["error"].(string)
	if !strings.Contains(msg, "ticket_number") || !strings.Contains(msg, "integer") {
		t.Errorf("tool response = %v, want a schema error naming ticket_number", toolResponse)
	}
	if _, ok := toolResponse["output"]; ok {
		t.Errorf("tool ran despite the invalid argument: %v", toolResponse)
	}
}

func TestQuery_RetrievalContext(t *testing.T) {
	tests := []struct {
		name        string
		retriever   rag.Retriever
		wantContext bool
	}{
		{
			name: "chunks found",
			retriever: fakeRetriever{chunks: []rag.Chunk{
				{Text: "Para la VPN usa FortiClient."},
				{Text: "El servidor es vpn.empresa.com."},
				{Text: "Este no debe aparecer."},
			}},
			wantContext: true,
		},
		{name: "retrieval error", retriever: fakeRetriever{err: errors.New("index unavailable")}},
		{name: "no chunks", retriever: fakeRetriever{}},
		{name: "no retriever", retriever: nil},
		{name: "retrieval timeout", retriever: fakeRetriever{delay: time.Second, chunks: []rag.Chunk{{Text: "tarde"}}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			llm := &scriptedLLM{steps: []func(*adkmodel.LLMRequest) (*adkmodel.LLMResponse, error){textResponse("Usa FortiClient.")}}
			m := metrics.NewMetrics()
			o, _ := newOrchestrator(t, llm, Options{
				Retriever:        tt.retriever,
				RetrievalTimeout: 50 * time.Millisecond,
				Metrics:          m,
			})

			const question = "¿Cómo me conecto a la VPN?"
			if answer := o.Query(context.Background(), question, nil); answer != "Usa FortiClient." {
				t.Fatalf("answer = %q", answer)
			}

			got := llm.userText(t, 0)
			if tt.wantContext {
				for _, want := range []string{"Usuario pregunta: " + question, "Contexto del manual IT:", "FortiClient", "vpn.empresa.com"} {
					if !strings.Contains(got, want) {
						t.Errorf("prompt missing %q:\n%s", want, got)
					}
				}
				if strings.Contains(got, "Este no debe aparecer") {
					t.Error("prompt contains more than top-k chunks")
				}
			} else if got != question {
				t.Errorf("prompt = %q, want raw question", got)
			}

			if got := testutil.ToFloat64(m.TurnsTotal.WithLabelValues("success")); got != 1 {
				t.Errorf("success turns = %v", got)
			}
		})
	}
}

func TestQuery_History(t *testing.T) {
	llm := &scriptedLLM{steps: []func(*adkmodel.LLMRequest) (*adkmodel.LLMResponse, error){textResponse("Vale.")}}
	o, _ := newOrchestrator(t, llm, Options{})

	var history []Turn
	for i := 0; i < 5; i++ {
		history = append(history,
			Turn{Role: "user", Content: "pregunta " + string(rune('A'+i))},
			Turn{Role: "assistant", Content: "respuesta " + string(rune('A'+i))},
		)
	}
	o.Query(context.Background(), "crea un ticket con esto", history)

	got := llm.userText(t, 0)
	if strings.Contains(got, "pregunta B") {
		t.Errorf("prompt includes turns older than the last %d:\n%s", historyTurns, got)
	}
	for _, want := range []string{"Usuario: pregunta C", "Asistente: respuesta E", "Mensaje actual:\ncrea un ticket con esto"} {
		if !strings.Contains(got, want) {
			t.Errorf("prompt missing %q:\n%s", want, got)
		}
	}
}

func TestQuery_ModelError(t *testing.T) {
	llm := &scriptedLLM{steps: []func(*adkmodel.LLMRequest) (*adkmodel.LLMResponse, error){
		func(*adkmodel.LLMRequest) (*adkmodel.LLMResponse, error) {
			return nil, errors.New("rate limit exceeded")
		},
	}}
	m := metrics.NewMetrics()
	o, _ := newOrchestrator(t, llm, Options{Metrics: m})

	answer := o.Query(context.Background(), "hola", nil)
	if !strings.HasPrefix(answer, "Ocurrió un error al procesar tu solicitud:") || !strings.Contains(answer, "rate limit") {
		t.Errorf("answer = %q", answer)
	}
	if got := testutil.ToFloat64(m.TurnsTotal.WithLabelValues("error")); got != 1 {
		t.Errorf("error turns = %v", got)
	}
}

func TestQuery_EmptyAnswer(t *testing.T) {
	llm := &scriptedLLM{steps: []func(*adkmodel.LLMRequest) (*adkmodel.LLMResponse, error){
		func(*adkmodel.LLMRequest) (*adkmodel.LLMResponse, error) {
			return &adkmodel.LLMResponse{Content: &genai.Content{Role: "model"}, TurnComplete: true}, nil
		},
	}}
	o, _ := newOrchestrator(t, llm, Options{})

	if answer := o.Query(context.Background(), "hola", nil); answer != fallbackAnswer {
		t.Errorf("answer = %q, want fallback", answer)
	}
}

func TestQuery_IterationCap(t *testing.T) {
	llm := &scriptedLLM{steps: []func(*adkmodel.LLMRequest) (*adkmodel.LLMResponse, error){
		callTool("call_loop", tools.NameDiskSpace, nil),
	}}
	o, _ := newOrchestrator(t, llm, Options{MaxIterations: 3})

	answer := o.Query(context.Background(), "revisa el disco una y otra vez", nil)
	if answer != iterationCapText {
		t.Errorf("answer = %q, want iteration cap text", answer)
	}
	if llm.calls() != 3 {
		t.Errorf("model called %d times, want 3", llm.calls())
	}

	// The counter is per turn.
	o.Query(context.Background(), "otra vez", nil)
	if llm.calls() != 6 {
		t.Errorf("second turn: model called %d times in total, want 6", llm.calls())
	}
}

func TestNew_RequiresModel(t *testing.T) {
	if _, err := New(Options{}); err == nil {
		t.Error("expected error without model")
	}
}

func TestRecentHistory(t *testing.T) {
	history := []Turn{
		{Role: "user", Content: "uno"},
		{Role: "assistant", Content: ""},
		{Role: "user", Content: "dos"},
	}
	got := recentHistory(history)
	if len(got) != 2 || got[0].Content != "uno" || got[1].Content != "dos" {
		t.Errorf("recentHistory = %+v", got)
	}
	if got := recentHistory(nil); len(got) != 0 {
		t.Errorf("recentHistory(nil) = %+v", got)
	}
}
