// Package chat provides request/response value types for a chat turn and the
// pure text helpers applied around the completion call.
package chat

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// MaxMessageRunes is the longest user message forwarded to the assistant.
const MaxMessageRunes = 200

// Request represents an inbound chat turn (value type).
type Request struct {
	UserID    string
	Message   string
	RequestID string
}

// Reply is a successful chat turn (value type).
type Reply struct {
	Text       string
	Segments   []string
	Cost       float64
	CapReached bool // The daily cost cap was crossed by this turn
}

var newlineRuns = regexp.MustCompile(`\n+`)

// Truncate cuts message to at most MaxMessageRunes characters.
// This is a PURE function.
func Truncate(message string) string {
	if utf8.RuneCountInString(message) <= MaxMessageRunes {
		return message
	}
	runes := []rune(message)
	return string(runes[:MaxMessageRunes])
}

// Segments splits a reply on runs of newlines into trimmed, non-empty parts.
// Each part is rendered as its own message bubble.
// This is a PURE function.
func Segments(reply string) []string {
	reply = strings.ReplaceAll(reply, "\r\n", "\n")
	parts := newlineRuns.Split(reply, -1)
	segments := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			segments = append(segments, p)
		}
	}
	return segments
}

// WordCount counts whitespace-delimited words.
func WordCount(text string) int {
	return len(strings.Fields(text))
}
