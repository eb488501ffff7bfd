package trace

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(filepath.Join(t.TempDir(), "traces", "trace.db"))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestTracer_RecordsTurnAndTools(t *testing.T) {
	store := newTestStore(t)
	tracer := NewTracer(store, "llama-3.3-70b-versatile")
	ctx := WithSession(context.Background(), "sess-1")

	tracer.RecordToolCall(ctx, ToolCall{
		Name:       "create_support_ticket",
		Parameters: map[string]any{"subject": "VPN"},
		Result:     strings.Repeat("x", 800),
	}, 120*time.Millisecond)
	tracer.RecordToolCall(ctx, ToolCall{Name: "check_disk_space", Error: "timeout"}, time.Second)
	tracer.RecordTurn(ctx, Turn{UserQuery: "crea un ticket", RetrievedChunks: 2, AnswerLength: 40}, StatusSuccess, "", 2*time.Second)
	tracer.RecordTurn(WithSession(context.Background(), "sess-2"), Turn{UserQuery: "hola"}, StatusSuccess, "", time.Second)

	events, err := store.Query(context.Background(), QueryOptions{SessionID: "sess-1"})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("got %d events for sess-1, want 3", len(events))
	}

	first := events[0]
	if first.EventType != EventTypeToolCall || first.Tool == nil || first.Tool.Name != "create_support_ticket" {
		t.Fatalf("first event = %+v", first)
	}
	if n := len([]rune(first.Tool.Result)); n != 503 {
		t.Errorf("tool result length = %d, want truncated to 500 plus ellipsis", n)
	}
	if first.Outcome.Status != StatusSuccess {
		t.Errorf("status = %q, want success", first.Outcome.Status)
	}
	if events[1].Outcome.Status != StatusError || events[1].Outcome.ErrorMessage != "timeout" {
		t.Errorf("failed tool outcome = %+v", events[1].Outcome)
	}

	turn := events[2]
	if turn.EventType != EventTypeTurn || turn.Turn.RetrievedChunks != 2 {
		t.Errorf("turn event = %+v", turn)
	}
	if turn.Turn.Model != "llama-3.3-70b-versatile" {
		t.Errorf("model = %q", turn.Turn.Model)
	}
	if turn.Outcome.Duration != 2*time.Second {
		t.Errorf("duration = %v", turn.Outcome.Duration)
	}

	turns, err := store.Query(context.Background(), QueryOptions{EventType: EventTypeTurn, Limit: 10})
	if err != nil {
		t.Fatal(err)
	}
	if len(turns) != 2 {
		t.Errorf("got %d turn events, want 2", len(turns))
	}
}

func TestTracer_Disabled(t *testing.T) {
	var nilTracer *Tracer
	if nilTracer.Enabled() {
		t.Error("nil tracer reports enabled")
	}
	nilTracer.RecordTurn(context.Background(), Turn{}, StatusSuccess, "", 0)
	nilTracer.RecordToolCall(context.Background(), ToolCall{Name: "x"}, 0)
	if err := nilTracer.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}

	empty := NewTracer(nil, "m")
	if empty.Enabled() {
		t.Error("tracer without recorder reports enabled")
	}
	empty.RecordTurn(context.Background(), Turn{}, StatusSuccess, "", 0)
}

type failingRecorder struct{ calls int }

func (f *failingRecorder) Record(context.Context, *Event) error { f.calls++; return errors.New("disk full") }
func (f *failingRecorder) Close() error                         { return nil }

func TestTracer_RecordFailureIsSwallowed(t *testing.T) {
	rec := &failingRecorder{}
	tracer := NewTracer(rec, "m")
	tracer.RecordTurn(context.Background(), Turn{UserQuery: "hola"}, StatusSuccess, "", 0)
	if rec.calls != 1 {
		t.Errorf("Record called %d times, want 1", rec.calls)
	}
}

func TestTracer_RecordsAfterCancel(t *testing.T) {
	store := newTestStore(t)
	tracer := NewTracer(store, "m")

	ctx, cancel := context.WithCancel(WithSession(context.Background(), "sess-c"))
	cancel()
	tracer.RecordTurn(ctx, Turn{UserQuery: "cancelado"}, StatusError, "context canceled", 0)

	events, err := store.Query(context.Background(), QueryOptions{SessionID: "sess-c"})
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 {
		t.Errorf("got %d events, want the turn recorded despite cancellation", len(events))
	}
}

func TestRemoteStore_Record(t *testing.T) {
	var (
		mu   sync.Mutex
		got  []Event
		path string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		path = r.URL.Path
		var e Event
		if err := json.NewDecoder(r.Body).Decode(&e); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		got = append(got, e)
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	rec, err := Open(srv.URL+"/", "")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	tracer := NewTracer(rec, "m")
	tracer.RecordToolCall(WithSession(context.Background(), "s"), ToolCall{Name: "get_ticket_status"}, time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if path != "/v1/events" {
		t.Errorf("path = %q, want /v1/events", path)
	}
	if len(got) != 1 || got[0].Tool.Name != "get_ticket_status" || got[0].SessionID != "s" {
		t.Errorf("received = %+v", got)
	}
}

func TestRemoteStore_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusInternalServerError)
	}))
	defer srv.Close()

	err := NewRemoteStore(srv.URL).Record(context.Background(), &Event{EventType: EventTypeTurn})
	if err == nil || !strings.Contains(err.Error(), "500") {
		t.Errorf("err = %v, want status 500 error", err)
	}
}

func TestOpen_Disabled(t *testing.T) {
	rec, err := Open("", "")
	if err != nil || rec != nil {
		t.Errorf("Open(\"\", \"\") = %v, %v, want nil, nil", rec, err)
	}
}

func TestRebind(t *testing.T) {
	q := "INSERT INTO t (a, b) VALUES (?, ?)"
	if got := rebind(true, q); got != "INSERT INTO t (a, b) VALUES ($1, $2)" {
		t.Errorf("rebind(true) = %q", got)
	}
	if got := rebind(false, q); got != q {
		t.Errorf("rebind(false) = %q", got)
	}
}
