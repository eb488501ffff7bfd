// Package trace records what the assistant did in each conversation turn:
// the question, how much manual context was found, which tools ran and how
// it ended. Recording is optional and never affects the answer.
package trace

import (
	"context"
	"time"
)

// EventType identifies the type of trace event.
type EventType string

const (
	EventTypeTurn     EventType = "turn"
	EventTypeToolCall EventType = "tool_call"
)

// Event is one trace record.
type Event struct {
	EventID   string    `json:"event_id"`
	Timestamp time.Time `json:"timestamp"`
	EventType EventType `json:"event_type"`
	SessionID string    `json:"session_id"`

	Turn    *Turn     `json:"turn,omitempty"`
	Tool    *ToolCall `json:"tool,omitempty"`
	Outcome *Outcome  `json:"outcome,omitempty"`
}

// Turn describes one user message and the assistant's answer.
type Turn struct {
	UserQuery       string `json:"user_query"`
	RetrievedChunks int    `json:"retrieved_chunks"`
	AnswerLength    int    `json:"answer_length"`
	Model           string `json:"model,omitempty"`
}

// ToolCall describes one tool invocation made by the agent.
type ToolCall struct {
	Name       string         `json:"name"`
	Parameters map[string]any `json:"parameters,omitempty"`
	Result     string         `json:"result,omitempty"`
	Error      string         `json:"error,omitempty"`
}

// Outcome is how a turn or tool call ended.
type Outcome struct {
	Status       string        `json:"status"`
	ErrorMessage string        `json:"error_message,omitempty"`
	Duration     time.Duration `json:"duration"`
}

// Outcome statuses.
const (
	StatusSuccess  = "success"
	StatusError    = "error"
	StatusFallback = "fallback"
)

type sessionKey struct{}

// WithSession attaches the chat session id to ctx so tool calls made while
// answering can be correlated with the turn.
func WithSession(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, sessionKey{}, sessionID)
}

// SessionFrom returns the chat session id attached by WithSession.
func SessionFrom(ctx context.Context) string {
	s, _ := ctx.Value(sessionKey{}).(string)
	return s
}

func truncateString(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max]) + "..."
}
