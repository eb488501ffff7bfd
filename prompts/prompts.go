// Package prompts embeds the assistant instruction files and exports them as strings.
package prompts

import (
	_ "embed"
	"strings"
	"text/template"
)

//go:embed support.txt
var Support string

//go:embed context.txt
var Context string

//go:embed history.txt
var History string

var (
	contextTmpl = template.Must(template.New("context").Parse(Context))
	historyTmpl = template.Must(template.New("history").Parse(History))
)

// HistoryTurn is one earlier message shown to the model as conversation context.
type HistoryTurn struct {
	Role    string // "user" or "assistant"
	Content string
}

// Augment wraps a question with retrieved manual excerpts.
func Augment(question, context string) string {
	var b strings.Builder
	if err := contextTmpl.Execute(&b, struct{ Question, Context string }{question, context}); err != nil {
		return question
	}
	return strings.TrimRight(b.String(), "\n")
}

// WithHistory prefixes message with earlier turns. With no turns the
// message is returned unchanged.
func WithHistory(turns []HistoryTurn, message string) string {
	if len(turns) == 0 {
		return message
	}
	var b strings.Builder
	data := struct {
		Turns   []HistoryTurn
		Message string
	}{turns, message}
	if err := historyTmpl.Execute(&b, data); err != nil {
		return message
	}
	return strings.TrimRight(b.String(), "\n")
}
