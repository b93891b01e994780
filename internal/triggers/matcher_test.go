package triggers

import (
	"testing"

	"github.com/theamal11z/Rex68/internal/memory"
)

func testPhrases() []memory.TriggerPhrase {
	return []memory.TriggerPhrase{
		{ID: 1, Phrase: "coach", Guidelines: "short", Active: true},
		{ID: 2, Phrase: "Coach Mode", Guidelines: "long", Active: true},
		{ID: 3, Phrase: "art", Active: true},
		{ID: 4, Phrase: "poet", Active: false},
		{ID: 5, Phrase: "  ", Active: true},
	}
}

func TestMatcher_Match(t *testing.T) {
	t.Parallel()

	m, err := NewMatcher(testPhrases())
	if err != nil {
		t.Fatalf("NewMatcher error: %v", err)
	}
	if m.Len() != 3 {
		t.Fatalf("Len = %d, want 3", m.Len())
	}

	tests := []struct {
		name   string
		text   string
		wantID int64
		wantOK bool
	}{
		{"longest wins", "Let's enter COACH MODE please", 2, true},
		{"short phrase", "be my coach today", 1, true},
		{"inside word", "I keep coaching my team", 0, false},
		{"boundary after inner miss", "my heart loves art.", 3, true},
		{"inactive", "write like a poet", 0, false},
		{"empty", "", 0, false},
		{"punctuation", "coach!", 1, true},
		{"double space", "enter coach  mode now", 2, true},
		{"tab and newline", "enter Coach\t\nMode", 2, true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, ok := m.Match(tt.text)
			if ok != tt.wantOK {
				t.Fatalf("Match(%q) ok = %v, want %v", tt.text, ok, tt.wantOK)
			}
			if ok && got.ID != tt.wantID {
				t.Fatalf("Match(%q) id = %d, want %d", tt.text, got.ID, tt.wantID)
			}
		})
	}
}

func TestMatcher_EarliestWins(t *testing.T) {
	t.Parallel()

	m, err := NewMatcher(testPhrases())
	if err != nil {
		t.Fatalf("NewMatcher error: %v", err)
	}
	got, ok := m.Match("art first, then coach")
	if !ok || got.ID != 3 {
		t.Fatalf("Match = %+v, %v, want id 3", got, ok)
	}
}

func TestMatcher_Lookup(t *testing.T) {
	t.Parallel()

	m, err := NewMatcher(testPhrases())
	if err != nil {
		t.Fatalf("NewMatcher error: %v", err)
	}
	got, ok := m.Lookup("coach   mode")
	if !ok || got.ID != 2 {
		t.Fatalf("Lookup = %+v, %v, want id 2", got, ok)
	}
	if _, ok := m.Lookup("poet"); ok {
		t.Fatal("inactive phrase should not be found")
	}
}

func TestMatcher_Empty(t *testing.T) {
	t.Parallel()

	m, err := NewMatcher(nil)
	if err != nil {
		t.Fatalf("NewMatcher error: %v", err)
	}
	if _, ok := m.Match("coach"); ok {
		t.Fatal("empty matcher should never match")
	}

	var nilMatcher *Matcher
	if _, ok := nilMatcher.Match("coach"); ok {
		t.Fatal("nil matcher should never match")
	}
}

func TestMatcher_DuplicateFirstWins(t *testing.T) {
	t.Parallel()

	m, err := NewMatcher([]memory.TriggerPhrase{
		{ID: 1, Phrase: "vent", Active: true},
		{ID: 2, Phrase: "VENT", Active: true},
	})
	if err != nil {
		t.Fatalf("NewMatcher error: %v", err)
	}
	got, ok := m.Match("I need to vent")
	if !ok || got.ID != 1 {
		t.Fatalf("Match = %+v, %v, want id 1", got, ok)
	}
}
