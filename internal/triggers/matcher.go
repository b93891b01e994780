// Package triggers detects trigger phrases in user messages and loads
// trigger bundles from disk.
package triggers

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/coregx/ahocorasick"

	"github.com/theamal11z/Rex68/internal/memory"
)

// Matcher finds active trigger phrases inside messages. Matching is
// case-insensitive and only counts whole words.
type Matcher struct {
	ac      *ahocorasick.Automaton
	phrases []memory.TriggerPhrase
	byName  map[string]int
}

// NewMatcher compiles the active phrases. Inactive and blank phrases are
// ignored; of duplicate phrases the first one wins.
func NewMatcher(phrases []memory.TriggerPhrase) (*Matcher, error) {
	m := &Matcher{byName: make(map[string]int)}
	var patterns []string
	for _, p := range phrases {
		key := normalize(p.Phrase)
		if !p.Active || key == "" {
			continue
		}
		if _, dup := m.byName[key]; dup {
			continue
		}
		m.byName[key] = len(m.phrases)
		m.phrases = append(m.phrases, p)
		patterns = append(patterns, key)
	}
	if len(patterns) == 0 {
		return m, nil
	}

	ac, err := ahocorasick.NewBuilder().
		AddStrings(patterns).
		SetMatchKind(ahocorasick.LeftmostLongest).
		Build()
	if err != nil {
		return nil, fmt.Errorf("build trigger matcher: %w", err)
	}
	m.ac = ac
	return m, nil
}

// Len reports the number of active phrases.
func (m *Matcher) Len() int {
	if m == nil {
		return 0
	}
	return len(m.phrases)
}

// Match returns the phrase found in text. When several match, the earliest
// wins and ties go to the longest. Runs of whitespace in text count as one
// space, the same way phrases are normalized.
func (m *Matcher) Match(text string) (memory.TriggerPhrase, bool) {
	if m == nil || m.ac == nil {
		return memory.TriggerPhrase{}, false
	}
	haystack := normalize(text)

	best, bestStart, bestLen := -1, 0, 0
	for _, hit := range m.ac.FindAllOverlapping([]byte(haystack)) {
		if hit.Start < 0 || hit.End > len(haystack) || hit.Start >= hit.End {
			continue
		}
		if !wordBoundary(haystack, hit.Start, hit.End) {
			continue
		}
		n := hit.End - hit.Start
		if best == -1 || hit.Start < bestStart || (hit.Start == bestStart && n > bestLen) {
			best, bestStart, bestLen = hit.PatternID, hit.Start, n
		}
	}
	if best < 0 || best >= len(m.phrases) {
		return memory.TriggerPhrase{}, false
	}
	return m.phrases[best], true
}

// Lookup finds an active phrase by exact name, ignoring case.
func (m *Matcher) Lookup(name string) (memory.TriggerPhrase, bool) {
	if m == nil {
		return memory.TriggerPhrase{}, false
	}
	idx, ok := m.byName[normalize(name)]
	if !ok {
		return memory.TriggerPhrase{}, false
	}
	return m.phrases[idx], true
}

func normalize(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

func wordBoundary(s string, start, end int) bool {
	if start > 0 {
		r, _ := utf8.DecodeLastRuneInString(s[:start])
		if isWordRune(r) {
			return false
		}
	}
	if end < len(s) {
		r, _ := utf8.DecodeRuneInString(s[end:])
		if isWordRune(r) {
			return false
		}
	}
	return true
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_'
}
