// Package relevance narrows prompt material with a text-generation model and
// falls back to deterministic local behavior whenever the model call fails.
package relevance

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/theamal11z/Rex68/internal/llm"
)

// DefaultKeep is the number of items kept by FilterItems when keep <= 0.
const DefaultKeep = 11

// Filter runs the enrichment passes. None of its methods return errors.
type Filter struct {
	completer llm.Completer
}

// New returns a Filter backed by c. A nil completer always takes the
// fallback path.
func New(c llm.Completer) *Filter {
	return &Filter{completer: c}
}

func (f *Filter) complete(ctx context.Context, pass, prompt string) (string, bool) {
	if f == nil || f.completer == nil {
		return "", false
	}
	out, err := f.completer.Complete(ctx, prompt)
	if err != nil {
		log.Printf("[relevance] %s fallback: %v", pass, err)
		return "", false
	}
	out = strings.TrimSpace(out)
	if out == "" {
		log.Printf("[relevance] %s fallback: empty output", pass)
		return "", false
	}
	return out, true
}

// FilterItems asks the model for the keep items most relevant to
// userMessage. On failure it returns the first keep items as "TYPE: item".
func (f *Filter) FilterItems(ctx context.Context, items []string, userMessage, itemType string, keep int) []string {
	if keep <= 0 {
		keep = DefaultKeep
	}
	if itemType == "" {
		itemType = "content"
	}
	if len(items) == 0 {
		return []string{}
	}

	if out, ok := f.complete(ctx, "filter "+itemType, filterPrompt(items, userMessage, itemType, keep)); ok {
		if lines := splitLines(out); len(lines) > 0 {
			return capped(lines, keep)
		}
	}
	return fallbackItems(items, itemType, keep)
}

func filterPrompt(items []string, userMessage, itemType string, keep int) string {
	var list strings.Builder
	for i, item := range items {
		if i > 0 {
			list.WriteByte('\n')
		}
		fmt.Fprintf(&list, "#%d: %s", i+1, item)
	}
	return fmt.Sprintf("Here is a list of %s items. For the user message below, select only the %d most relevant items for answering it. Output a bullet list of the selected items (quote or summarize each, and reference the #number).\n\n%s List:\n%s\n\nUser message: %s",
		itemType, keep, capitalize(itemType), list.String(), userMessage)
}

func fallbackItems(items []string, itemType string, keep int) []string {
	label := strings.ToUpper(itemType)
	out := make([]string, 0, keep)
	for _, item := range capped(items, keep) {
		out = append(out, label+": "+item)
	}
	return out
}

func splitLines(s string) []string {
	var out []string
	for _, line := range strings.Split(strings.ReplaceAll(s, "\r\n", "\n"), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			out = append(out, line)
		}
	}
	return out
}

func capped(items []string, n int) []string {
	if len(items) > n {
		return items[:n]
	}
	return items
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
