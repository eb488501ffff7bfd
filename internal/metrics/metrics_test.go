package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics_Record(t *testing.T) {
	m := NewMetrics()

	m.RecordTurn("success", 2*time.Second)
	m.RecordTurn("success", time.Second)
	m.RecordTurn("error", time.Second)
	m.RecordToolCall("create_support_ticket", "success", 100*time.Millisecond)
	m.RecordRetrieval(2, nil)
	m.RecordRetrieval(0, errors.New("index down"))
	m.RecordTicketCreated()

	if got := testutil.ToFloat64(m.TurnsTotal.WithLabelValues("success")); got != 2 {
		t.Errorf("success turns = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.TurnsTotal.WithLabelValues("error")); got != 1 {
		t.Errorf("error turns = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.ToolCallsTotal.WithLabelValues("create_support_ticket", "success")); got != 1 {
		t.Errorf("tool calls = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.RetrievalErrors); got != 1 {
		t.Errorf("retrieval errors = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.TicketsCreated); got != 1 {
		t.Errorf("tickets created = %v, want 1", got)
	}
}

func TestMetrics_IndependentRegistries(t *testing.T) {
	a := NewMetrics()
	b := NewMetrics()
	a.RecordTicketCreated()
	if got := testutil.ToFloat64(b.TicketsCreated); got != 0 {
		t.Errorf("second instance sees %v tickets, want 0", got)
	}
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	m.RecordTurn("success", time.Second)
	m.RecordToolCall("x", "success", time.Second)
	m.RecordRetrieval(1, nil)
	m.RecordTicketCreated()
}

func TestMetrics_Server(t *testing.T) {
	m := NewMetrics()
	m.RecordToolCall("check_disk_space", "error", time.Second)

	srv := httptest.NewServer(m.NewServer(":0").Handler)
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()

	for _, want := range []string{
		`itsupport_tool_calls_total{status="error",tool="check_disk_space"} 1`,
		"go_goroutines",
	} {
		if !strings.Contains(string(body), want) {
			t.Errorf("/metrics missing %q", want)
		}
	}

	resp, err = srv.Client().Get(srv.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != 200 {
		t.Errorf("/health status = %d", resp.StatusCode)
	}
}
