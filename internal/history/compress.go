package history

import (
	"fmt"
	"strings"

	"github.com/theamal11z/Rex68/internal/memory"
)

const (
	maxLineChars = 100
	headSize     = 2
	tailSize     = 3
)

// FormatMessage renders one message as a transcript line.
func FormatMessage(m memory.Message) string {
	sender := "Rex"
	if m.IsFromUser {
		sender = "User"
	}
	return sender + ": " + truncate(m.Content, maxLineChars)
}

// CompressConversation renders history as a verbatim head, a summarized
// middle and a verbatim tail. Short histories are returned as plain lines.
func CompressConversation(msgs []memory.Message) string {
	if len(msgs) < tailSize {
		return strings.Join(formatAll(msgs), "\n")
	}

	head := headSize
	if head > len(msgs)-tailSize {
		head = len(msgs) - tailSize
	}
	beginning := msgs[:head]
	middle := msgs[head : len(msgs)-tailSize]
	recent := msgs[len(msgs)-tailSize:]

	var blocks []string
	if len(beginning) > 0 {
		blocks = append(blocks, "== Conversation Start ==\n"+strings.Join(formatAll(beginning), "\n"))
	}
	if len(middle) > 0 {
		summary := SummarizeConversation(middle)
		if summary == "" {
			summary = fmt.Sprintf("%d earlier messages.", len(middle))
		}
		blocks = append(blocks, fmt.Sprintf("== Summary of Previous Messages ==\n%s\n(%d messages omitted)", summary, len(middle)))
	}
	blocks = append(blocks, "== Recent Messages ==\n"+strings.Join(formatAll(recent), "\n"))
	return strings.Join(blocks, "\n\n")
}

func formatAll(msgs []memory.Message) []string {
	lines := make([]string, len(msgs))
	for i, m := range msgs {
		lines[i] = FormatMessage(m)
	}
	return lines
}

func truncate(s string, limit int) string {
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit]) + "..."
}
