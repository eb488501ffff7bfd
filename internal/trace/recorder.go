package trace

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Recorder persists trace events.
// Implemented by Store (local database) and RemoteStore (HTTP client).
type Recorder interface {
	Record(ctx context.Context, event *Event) error
	Close() error
}

var (
	_ Recorder = (*Store)(nil)
	_ Recorder = (*RemoteStore)(nil)
)

// Open picks the recorder for the given settings: the remote service when
// url is set, otherwise the local database when dsn is set. With neither it
// returns nil and tracing is disabled.
func Open(url, dsn string) (Recorder, error) {
	switch {
	case url != "":
		return NewRemoteStore(url), nil
	case dsn != "":
		s, err := NewStore(dsn)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, nil
	}
}

// Tracer builds events and hands them to a Recorder. A nil Tracer or one
// without a Recorder does nothing.
type Tracer struct {
	rec   Recorder
	model string
}

// NewTracer returns a Tracer writing to rec. model labels turn events.
func NewTracer(rec Recorder, model string) *Tracer {
	return &Tracer{rec: rec, model: model}
}

// Enabled reports whether events are being recorded.
func (t *Tracer) Enabled() bool { return t != nil && t.rec != nil }

// RecordTurn records a finished conversation turn.
func (t *Tracer) RecordTurn(ctx context.Context, turn Turn, status, errMsg string, duration time.Duration) {
	if !t.Enabled() {
		return
	}
	turn.UserQuery = truncateString(turn.UserQuery, 2000)
	if turn.Model == "" {
		turn.Model = t.model
	}
	t.record(ctx, &Event{
		EventID:   "turn_" + uuid.New().String()[:8],
		Timestamp: time.Now().UTC(),
		EventType: EventTypeTurn,
		SessionID: SessionFrom(ctx),
		Turn:      &turn,
		Outcome: &Outcome{
			Status:       status,
			ErrorMessage: errMsg,
			Duration:     duration,
		},
	})
}

// RecordToolCall records a tool execution. Call it after the tool returned.
func (t *Tracer) RecordToolCall(ctx context.Context, call ToolCall, duration time.Duration) {
	if !t.Enabled() {
		return
	}
	call.Result = truncateString(call.Result, 500)
	t.record(ctx, &Event{
		EventID:   "tool_" + uuid.New().String()[:8],
		Timestamp: time.Now().UTC(),
		EventType: EventTypeToolCall,
		SessionID: SessionFrom(ctx),
		Tool:      &call,
		Outcome: &Outcome{
			Status:       outcomeStatus(call.Error),
			ErrorMessage: call.Error,
			Duration:     duration,
		},
	})
}

func (t *Tracer) record(ctx context.Context, event *Event) {
	// The turn's own context may already be done; recording must not be.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := t.rec.Record(ctx, event); err != nil {
		slog.Warn("failed to record trace event", "type", event.EventType, "err", err)
	}
}

// Close closes the underlying recorder.
func (t *Tracer) Close() error {
	if !t.Enabled() {
		return nil
	}
	return t.rec.Close()
}

func outcomeStatus(errMsg string) string {
	if errMsg != "" {
		return StatusError
	}
	return StatusSuccess
}
