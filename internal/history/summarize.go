package history

import (
	"fmt"
	"sort"
	"strings"

	"github.com/theamal11z/Rex68/internal/memory"
)

const (
	minSummaryMessages = 3
	summaryKeywords    = 5
)

// SummarizeConversation returns an extractive one-sentence summary: message
// counts plus the most frequent keywords. It needs at least three messages.
func SummarizeConversation(msgs []memory.Message) string {
	if len(msgs) < minSummaryMessages {
		return ""
	}

	fromUser := 0
	var all strings.Builder
	for _, m := range msgs {
		if m.IsFromUser {
			fromUser++
		}
		all.WriteString(m.Content)
		all.WriteByte(' ')
	}

	summary := fmt.Sprintf("This conversation has %d messages (%d from user).", len(msgs), fromUser)
	if keywords := topKeywords(all.String(), summaryKeywords); len(keywords) > 0 {
		summary += " Main topics appear to be: " + strings.Join(keywords, ", ") + "."
	}
	return summary
}

func topKeywords(text string, n int) []string {
	counts := make(map[string]int)
	var order []string
	for _, token := range memory.Tokenize(text) {
		if len(token) <= 3 || memory.IsStopWord(token) {
			continue
		}
		if counts[token] == 0 {
			order = append(order, token)
		}
		counts[token]++
	}
	sort.SliceStable(order, func(i, j int) bool {
		return counts[order[i]] > counts[order[j]]
	})
	if len(order) > n {
		order = order[:n]
	}
	return order
}
