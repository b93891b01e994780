package relevance

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"github.com/theamal11z/Rex68/internal/memory"
)

const (
	summaryFallbackChars = 300
	maxToneWords         = 3
)

var regeneratedPattern = regexp.MustCompile(`(?s)Regenerated Response:(.*)$`)

// Summarize returns an abstractive summary of text, or its leading
// sentences when the model is unavailable.
func (f *Filter) Summarize(ctx context.Context, text string) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return ""
	}
	prompt := "Summarize the following text in two or three sentences. Keep names, feelings and concrete details; do not add anything that is not in the text.\n\nText:\n" + text
	if out, ok := f.complete(ctx, "summarize", prompt); ok {
		return out
	}
	return leadingSentences(text, summaryFallbackChars)
}

// ArrangeGuidelines orders guidelines into a checklist for userMessage. The
// fallback keeps the given order as "- guideline" lines.
func (f *Filter) ArrangeGuidelines(ctx context.Context, guidelines []string, userMessage string) []string {
	var cleaned []string
	for _, g := range guidelines {
		cleaned = append(cleaned, splitLines(g)...)
	}
	if len(cleaned) == 0 {
		return []string{}
	}

	prompt := fmt.Sprintf("Here is a list of guidelines and rules for responding. Please organize them by priority and relevance for the following user message. Output a checklist or ordered list.\n\nGuidelines:\n%s\n\nUser message: %s",
		strings.Join(cleaned, "\n"), userMessage)
	if out, ok := f.complete(ctx, "arrange guidelines", prompt); ok {
		if lines := splitLines(out); len(lines) > 0 {
			return lines
		}
	}

	out := make([]string, len(cleaned))
	for i, g := range cleaned {
		out[i] = "- " + strings.TrimLeft(g, "-* ")
	}
	return out
}

// Enforcement is the outcome of checking a draft against a checklist.
type Enforcement struct {
	Compliant   bool
	Corrections string
	Improved    string
}

// EnforceGuidelines checks draft against checklist and returns a regenerated
// response. The fallback treats the draft as compliant.
func (f *Filter) EnforceGuidelines(ctx context.Context, checklist []string, draft string) Enforcement {
	fallback := Enforcement{Compliant: true, Improved: draft}
	if len(checklist) == 0 {
		return fallback
	}

	prompt := fmt.Sprintf("Here is a draft response and the organized guideline checklist. Check if the response follows all guidelines. If not, list which guidelines are violated and suggest corrections. Then, regenerate a new response that fully follows the checklist.\n\nChecklist:\n%s\n\nDraft response:\n%s",
		strings.Join(checklist, "\n"), draft)
	out, ok := f.complete(ctx, "enforce guidelines", prompt)
	if !ok {
		return fallback
	}
	return parseEnforcement(out)
}

func parseEnforcement(out string) Enforcement {
	improved := strings.TrimSpace(out)
	corrections := improved
	if m := regeneratedPattern.FindStringSubmatchIndex(out); m != nil {
		improved = strings.TrimSpace(out[m[2]:m[3]])
		corrections = strings.TrimSpace(out[:m[0]] + out[m[1]:])
	}
	return Enforcement{
		Compliant:   !strings.Contains(strings.ToLower(corrections), "violate"),
		Corrections: corrections,
		Improved:    improved,
	}
}

// AnalyzeTone labels the emotional tone of message with one lower-case word.
func (f *Filter) AnalyzeTone(ctx context.Context, message string) string {
	if strings.TrimSpace(message) == "" {
		return memory.NeutralSentiment
	}
	prompt := "Analyze the emotional tone of this message. Respond ONLY with a single emotion word like 'happy', 'sad', 'excited', 'anxious', 'calm', 'frustrated', 'hopeful', 'confused', etc. Don't include any explanation or additional text.\n\nMessage: " + message
	out, ok := f.complete(ctx, "analyze tone", prompt)
	if !ok {
		return memory.NeutralSentiment
	}
	return normalizeTone(out)
}

func normalizeTone(out string) string {
	words := strings.FieldsFunc(strings.ToLower(out), func(r rune) bool {
		return !unicode.IsLetter(r) && r != '-'
	})
	if len(words) == 0 || len(words) > maxToneWords {
		return memory.NeutralSentiment
	}
	return words[0]
}

func leadingSentences(text string, limit int) string {
	r := []rune(text)
	if len(r) <= limit {
		return text
	}
	cut := string(r[:limit])
	if i := strings.LastIndexAny(cut, ".!?"); i > 0 {
		return cut[:i+1]
	}
	return cut + "..."
}
