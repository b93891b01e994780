package memory

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	newTopicRelevance    = 0.5
	topicRelevanceBoost  = 0.1
	emotionalImportance  = 0.8
	neutralImportance    = 0.5
	interactionTypeMsg   = "message"
	defaultInitialNotes  = "New user"
	generalTopicsSummary = "general topics"
)

// ErrNotFound is returned by a Store when a record does not exist.
var ErrNotFound = errors.New("not found")

// Store is the persistence collaborator for memory records.
type Store interface {
	GetMemory(ctx context.Context, userID string) (*Record, error)
	PutMemory(ctx context.Context, userID string, mem MemoryContext) (*Record, error)
}

// Manager resolves and updates per-user memory against a Store.
type Manager struct {
	store     Store
	decayRate float64
	now       func() time.Time
}

func NewManager(store Store, decayRate float64) *Manager {
	if decayRate <= 0 || decayRate > 1 {
		decayRate = DefaultDecayRate
	}
	return &Manager{store: store, decayRate: decayRate, now: time.Now}
}

// SetClock overrides the time source.
func (m *Manager) SetClock(now func() time.Time) {
	if now != nil {
		m.now = now
	}
}

func (m *Manager) DecayRate() float64 { return m.decayRate }

// Load returns the user's memory migrated to the structured shape, or a fresh
// unsaved memory when none is stored.
func (m *Manager) Load(ctx context.Context, userID string) (*StructuredMemory, error) {
	rec, err := m.store.GetMemory(ctx, userID)
	if errors.Is(err, ErrNotFound) {
		return CreateInitialMemory(userID, m.now()), nil
	}
	if err != nil {
		return nil, fmt.Errorf("load memory %s: %w", userID, err)
	}
	return MigrateMemory(rec.Context, userID, m.now()), nil
}

// UpdateFromMessage folds a message into the user's memory, decays topics
// and persists the result. existing may be nil. The returned error means the
// memory was not updated for this turn; callers continue without it.
func (m *Manager) UpdateFromMessage(ctx context.Context, userID string, msg Message, tone string, existing MemoryContext) (*StructuredMemory, error) {
	now := m.now()

	var mem *StructuredMemory
	if existing == nil {
		mem = CreateInitialMemory(userID, now)
	} else {
		mem = MigrateMemory(existing, userID, now).Clone()
	}

	ApplyMessage(mem, msg, tone, now)
	ApplyDecay(mem, now, m.decayRate)

	rec, err := m.store.PutMemory(ctx, userID, mem)
	if err != nil {
		return nil, fmt.Errorf("persist memory %s: %w", userID, err)
	}
	if saved, ok := rec.Context.(*StructuredMemory); ok {
		return saved, nil
	}
	return mem, nil
}

// CreateInitialMemory returns the zero-state memory for a user.
func CreateInitialMemory(userID string, now time.Time) *StructuredMemory {
	return &StructuredMemory{
		Version:         StructureVersion,
		UserID:          userID,
		Preferences:     make(map[string]Preference),
		Topics:          make(map[string]Topic),
		Emotions:        make(map[string]Emotion),
		Interactions:    make([]Interaction, 0),
		SentimentMap:    make(map[string]string),
		LastInteraction: now,
		Sentiment:       NeutralSentiment,
		Notes:           defaultInitialNotes,
	}
}

// MigrateMemory resolves a stored context to the structured shape. Structured
// input is returned as is; legacy input is wrapped without being modified.
func MigrateMemory(ctx MemoryContext, userID string, now time.Time) *StructuredMemory {
	switch c := ctx.(type) {
	case *StructuredMemory:
		return c
	case LegacyMemory:
		if id := c.UserID(); id != "" {
			userID = id
		}
		mem := CreateInitialMemory(userID, now)
		if last, ok := c.LastInteraction(); ok {
			mem.LastInteraction = last
		}
		mem.Notes = c.Notes()
		mem.Sentiment = c.Sentiment()
		if mem.Sentiment == "" {
			mem.Sentiment = NeutralSentiment
		}
		mem.LegacyData = copyFields(c.Fields)
		return mem
	default:
		return CreateInitialMemory(userID, now)
	}
}

// ApplyMessage records sentiment, topics and an interaction for msg.
func ApplyMessage(mem *StructuredMemory, msg Message, tone string, now time.Time) {
	mem.ensureMaps()
	tone = normalizeTone(tone)

	if msg.ID != 0 {
		mem.SentimentMap[strconv.FormatInt(msg.ID, 10)] = tone
	}
	mem.LastInteraction = now

	// Override, not a weighted blend: a non-neutral tone always wins.
	if mem.Sentiment == "" || mem.Sentiment == NeutralSentiment || tone != NeutralSentiment {
		mem.Sentiment = tone
	}

	topics := ExtractTopics(msg.Content)
	for _, name := range topics {
		topic, ok := mem.Topics[name]
		if !ok {
			mem.Topics[name] = Topic{
				Name:          name,
				Relevance:     newTopicRelevance,
				LastDiscussed: now,
				Sentiment:     tone,
				Mentions:      1,
			}
			continue
		}
		topic.Mentions++
		topic.LastDiscussed = now
		topic.Relevance = clamp01(topic.Relevance + topicRelevanceBoost)
		if tone != NeutralSentiment {
			topic.Sentiment = tone
		}
		mem.Topics[name] = topic
	}

	summary := generalTopicsSummary
	if len(topics) > 0 {
		summary = strings.Join(topics, ", ")
	}
	importance := neutralImportance
	if tone != NeutralSentiment {
		importance = emotionalImportance
	}
	mem.Interactions = append(mem.Interactions, Interaction{
		Timestamp:  now,
		Type:       interactionTypeMsg,
		Summary:    "User discussed: " + summary,
		Sentiment:  tone,
		Importance: importance,
	})
	if len(mem.Interactions) > MaxInteractions {
		mem.Interactions = append([]Interaction(nil), mem.Interactions[len(mem.Interactions)-MaxInteractions:]...)
	}
}

// Clone returns a deep copy.
func (m *StructuredMemory) Clone() *StructuredMemory {
	if m == nil {
		return nil
	}
	out := *m
	out.Preferences = make(map[string]Preference, len(m.Preferences))
	for k, v := range m.Preferences {
		out.Preferences[k] = v
	}
	out.Topics = make(map[string]Topic, len(m.Topics))
	for k, v := range m.Topics {
		out.Topics[k] = v
	}
	out.Emotions = make(map[string]Emotion, len(m.Emotions))
	for k, v := range m.Emotions {
		v.Triggers = append([]string(nil), v.Triggers...)
		out.Emotions[k] = v
	}
	out.Interactions = append([]Interaction(nil), m.Interactions...)
	out.SentimentMap = make(map[string]string, len(m.SentimentMap))
	for k, v := range m.SentimentMap {
		out.SentimentMap[k] = v
	}
	out.LegacyData = copyFields(m.LegacyData)
	return &out
}

func (m *StructuredMemory) ensureMaps() {
	if m.Preferences == nil {
		m.Preferences = make(map[string]Preference)
	}
	if m.Topics == nil {
		m.Topics = make(map[string]Topic)
	}
	if m.Emotions == nil {
		m.Emotions = make(map[string]Emotion)
	}
	if m.SentimentMap == nil {
		m.SentimentMap = make(map[string]string)
	}
	if m.Version == 0 {
		m.Version = StructureVersion
	}
}

func normalizeTone(tone string) string {
	tone = strings.ToLower(strings.TrimSpace(tone))
	if tone == "" {
		return NeutralSentiment
	}
	return tone
}

func copyFields(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
