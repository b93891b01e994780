package history

import (
	"sort"

	"github.com/theamal11z/Rex68/internal/memory"
)

// MaxContextTokens is the default token budget for selected history.
const MaxContextTokens = 4096

// Window selects a token-bounded subset of history.
type Window struct {
	MaxTokens int
}

func (w Window) budget() int {
	if w.MaxTokens <= 0 {
		return MaxContextTokens
	}
	return w.MaxTokens
}

// Select always keeps the most recent message, then greedily adds the
// highest scored remaining messages until the next one would exceed the
// budget. The result is in original order.
func (w Window) Select(msgs []memory.Message, mem *memory.StructuredMemory) []memory.Message {
	if len(msgs) == 0 {
		return []memory.Message{}
	}

	scored := ScoreMessages(msgs, mem)
	latest := scored[len(scored)-1]
	selected := []Scored{latest}
	total := latest.Tokens

	ranked := append([]Scored(nil), scored[:len(scored)-1]...)
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Score > ranked[j].Score
	})

	limit := w.budget()
	for _, s := range ranked {
		if total+s.Tokens > limit {
			break
		}
		selected = append(selected, s)
		total += s.Tokens
	}

	sort.Slice(selected, func(i, j int) bool {
		return selected[i].Index < selected[j].Index
	})
	out := make([]memory.Message, len(selected))
	for i, s := range selected {
		out[i] = s.Message
	}
	return out
}

// SelectRelevantMessages applies the default window.
func SelectRelevantMessages(msgs []memory.Message, mem *memory.StructuredMemory) []memory.Message {
	return Window{}.Select(msgs, mem)
}
