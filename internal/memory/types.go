package memory

import "time"

const (
	// StructureVersion is the version stamped on every StructuredMemory.
	StructureVersion = 1

	NeutralSentiment = "neutral"
	MaxInteractions  = 10
)

// Message is one turn of a conversation. ID is zero until persisted.
type Message struct {
	ID         int64     `json:"id,omitempty"`
	UserID     string    `json:"userId"`
	Content    string    `json:"content"`
	IsFromUser bool      `json:"isFromUser"`
	Timestamp  time.Time `json:"timestamp"`
}

// Preference is a learned user preference.
type Preference struct {
	Value       string    `json:"value"`
	Confidence  float64   `json:"confidence"`
	LastUpdated time.Time `json:"lastUpdated"`
	Source      string    `json:"source"`
}

// Topic is a frequency-derived keyword with decaying relevance.
type Topic struct {
	Name          string    `json:"name"`
	Relevance     float64   `json:"relevance"`
	LastDiscussed time.Time `json:"lastDiscussed"`
	Sentiment     string    `json:"sentiment"`
	Mentions      int       `json:"mentions"`
}

// Emotion is an observed emotional pattern.
type Emotion struct {
	Type         string    `json:"type"`
	Intensity    float64   `json:"intensity"`
	Triggers     []string  `json:"triggers"`
	LastObserved time.Time `json:"lastObserved"`
	Frequency    int       `json:"frequency"`
}

// Interaction summarizes one exchange.
type Interaction struct {
	Timestamp  time.Time `json:"timestamp"`
	Type       string    `json:"type"`
	Summary    string    `json:"summary"`
	Sentiment  string    `json:"sentiment"`
	Importance float64   `json:"importance"`
}

// StructuredMemory is the per-user memory record.
type StructuredMemory struct {
	Version         int                   `json:"version"`
	UserID          string                `json:"userId"`
	Preferences     map[string]Preference `json:"preferences"`
	Topics          map[string]Topic      `json:"topics"`
	Emotions        map[string]Emotion    `json:"emotions"`
	Interactions    []Interaction         `json:"interactions"`
	SentimentMap    map[string]string     `json:"sentimentMap"`
	LastInteraction time.Time             `json:"lastInteraction"`
	Sentiment       string                `json:"sentiment"`
	Notes           string                `json:"notes"`
	LegacyData      map[string]any        `json:"legacyData,omitempty"`
}

// Record is a stored memory row.
type Record struct {
	UserID      string
	Context     MemoryContext
	LastUpdated time.Time
}

// Setting is a named behavioral setting.
type Setting struct {
	ID    int64  `json:"id,omitempty"`
	Key   string `json:"key"`
	Value string `json:"value"`
}

// ContentItem is an entry of the content library.
type ContentItem struct {
	ID        int64     `json:"id,omitempty"`
	Type      string    `json:"type"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// TriggerPhrase is a persona override bundle activated by a phrase.
type TriggerPhrase struct {
	ID          int64  `json:"id,omitempty"`
	Phrase      string `json:"phrase"`
	Guidelines  string `json:"guidelines"`
	Personality string `json:"personality,omitempty"`
	Examples    string `json:"examples,omitempty"`
	Identity    string `json:"identity,omitempty"`
	Purpose     string `json:"purpose,omitempty"`
	Audience    string `json:"audience,omitempty"`
	Task        string `json:"task,omitempty"`
	Active      bool   `json:"active"`
}

// ConversationInfo describes one stored conversation.
type ConversationInfo struct {
	UserID       string
	MessageCount int
	LastMessage  time.Time
}

// Stats holds aggregate store counters.
type Stats struct {
	Messages int
	Users    int
	Memories int
	Settings int
	Contents int
	Triggers int
}
