package rag

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// defaultSeparators are tried in order: paragraphs, lines, sentences, words
// and finally single characters.
var defaultSeparators = []string{"\n\n", "\n", ". ", " ", ""}

// Splitter cuts text into overlapping windows of at most Size runes,
// breaking at the coarsest boundary that makes the pieces fit.
type Splitter struct {
	Size    int
	Overlap int
}

// Validate reports an unusable window configuration.
func (s Splitter) Validate() error {
	if s.Size < 1 {
		return fmt.Errorf("chunk size must be positive, got %d", s.Size)
	}
	if s.Overlap < 0 || s.Overlap >= s.Size {
		return fmt.Errorf("chunk overlap must be within [0, %d), got %d", s.Size, s.Overlap)
	}
	return nil
}

// Split returns the chunks of text. Whitespace-only chunks are dropped.
func (s Splitter) Split(text string) []string {
	var out []string
	for _, c := range s.split(text, defaultSeparators) {
		if c = strings.TrimSpace(c); c != "" {
			out = append(out, c)
		}
	}
	return out
}

func (s Splitter) split(text string, separators []string) []string {
	if runeLen(text) <= s.Size {
		return []string{text}
	}

	sep := separators[len(separators)-1]
	var rest []string
	for i, candidate := range separators {
		if candidate == "" || strings.Contains(text, candidate) {
			sep = candidate
			rest = separators[i+1:]
			break
		}
	}

	var pieces []string
	if sep == "" {
		pieces = strings.Split(text, "")
	} else {
		pieces = strings.Split(text, sep)
	}

	var final, fitting []string
	for _, p := range pieces {
		if p == "" {
			continue
		}
		if runeLen(p) < s.Size {
			fitting = append(fitting, p)
			continue
		}
		if len(fitting) > 0 {
			final = append(final, s.merge(fitting, sep)...)
			fitting = nil
		}
		if len(rest) == 0 {
			final = append(final, p)
		} else {
			final = append(final, s.split(p, rest)...)
		}
	}
	if len(fitting) > 0 {
		final = append(final, s.merge(fitting, sep)...)
	}
	return final
}

// merge joins small pieces into windows of at most Size runes, starting each
// new window with the tail of the previous one, up to Overlap runes.
func (s Splitter) merge(pieces []string, sep string) []string {
	sepLen := runeLen(sep)

	var (
		out     []string
		current []string
		total   int
	)
	joinedLen := func(n int) int {
		if len(current) > 0 {
			return total + n + sepLen
		}
		return total + n
	}

	for _, p := range pieces {
		n := runeLen(p)
		if joinedLen(n) > s.Size && len(current) > 0 {
			out = append(out, strings.Join(current, sep))
			for total > s.Overlap || (joinedLen(n) > s.Size && total > 0) {
				total -= runeLen(current[0])
				if len(current) > 1 {
					total -= sepLen
				}
				current = current[1:]
			}
		}
		total = joinedLen(n)
		current = append(current, p)
	}
	if len(current) > 0 {
		out = append(out, strings.Join(current, sep))
	}
	return out
}

func runeLen(s string) int { return utf8.RuneCountInString(s) }
