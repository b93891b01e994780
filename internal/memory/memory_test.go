package memory

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"testing"
	"time"
)

type fakeStore struct {
	records map[string]MemoryContext
	putErr  error
	puts    int
}

func newFakeStore() *fakeStore {
	return &fakeStore{records: make(map[string]MemoryContext)}
}

func (s *fakeStore) GetMemory(_ context.Context, userID string) (*Record, error) {
	mc, ok := s.records[userID]
	if !ok {
		return nil, ErrNotFound
	}
	return &Record{UserID: userID, Context: mc}, nil
}

func (s *fakeStore) PutMemory(_ context.Context, userID string, mem MemoryContext) (*Record, error) {
	if s.putErr != nil {
		return nil, s.putErr
	}
	s.puts++
	s.records[userID] = mem
	return &Record{UserID: userID, Context: mem}, nil
}

var testNow = time.Date(2025, 3, 14, 12, 0, 0, 0, time.UTC)

func newTestManager(store Store) *Manager {
	m := NewManager(store, DefaultDecayRate)
	m.SetClock(func() time.Time { return testNow })
	return m
}

func TestCreateInitialMemory(t *testing.T) {
	mem := CreateInitialMemory("u1", testNow)
	if mem.Version != StructureVersion {
		t.Fatalf("version = %d, want %d", mem.Version, StructureVersion)
	}
	if mem.Sentiment != NeutralSentiment {
		t.Fatalf("sentiment = %q", mem.Sentiment)
	}
	if !mem.LastInteraction.Equal(testNow) {
		t.Fatalf("lastInteraction = %v", mem.LastInteraction)
	}
	if len(mem.Topics) != 0 || len(mem.Interactions) != 0 || len(mem.SentimentMap) != 0 {
		t.Fatalf("expected empty collections: %+v", mem)
	}
}

func TestUpdateFromMessage_NewUser(t *testing.T) {
	store := newFakeStore()
	m := newTestManager(store)

	msg := Message{ID: 7, UserID: "u1", Content: "I love hiking and climbing mountains, hiking is great", IsFromUser: true}
	mem, err := m.UpdateFromMessage(context.Background(), "u1", msg, "happy", nil)
	if err != nil {
		t.Fatalf("UpdateFromMessage error: %v", err)
	}

	hiking, ok := mem.Topics["hiking"]
	if !ok {
		t.Fatalf("missing hiking topic: %+v", mem.Topics)
	}
	if hiking.Mentions != 1 || hiking.Relevance != 0.5 || hiking.Sentiment != "happy" {
		t.Fatalf("unexpected hiking topic: %+v", hiking)
	}
	if mem.Sentiment != "happy" {
		t.Fatalf("sentiment = %q, want happy", mem.Sentiment)
	}
	if len(mem.Interactions) != 1 {
		t.Fatalf("interactions = %d, want 1", len(mem.Interactions))
	}
	in := mem.Interactions[0]
	if !strings.HasPrefix(in.Summary, "User discussed: hiking") || in.Importance != 0.8 || in.Type != "message" {
		t.Fatalf("unexpected interaction: %+v", in)
	}
	if mem.SentimentMap["7"] != "happy" {
		t.Fatalf("sentimentMap = %v", mem.SentimentMap)
	}
	if store.puts != 1 {
		t.Fatalf("puts = %d, want 1", store.puts)
	}
}

func TestUpdateFromMessage_BumpsExistingTopic(t *testing.T) {
	m := newTestManager(newFakeStore())
	existing := CreateInitialMemory("u1", testNow)
	existing.Topics["guitar"] = Topic{Name: "guitar", Relevance: 0.5, LastDiscussed: testNow, Sentiment: "calm", Mentions: 3}

	mem, err := m.UpdateFromMessage(context.Background(), "u1", Message{Content: "practicing guitar"}, NeutralSentiment, existing)
	if err != nil {
		t.Fatalf("UpdateFromMessage error: %v", err)
	}
	got := mem.Topics["guitar"]
	if got.Mentions != 4 {
		t.Fatalf("mentions = %d, want 4", got.Mentions)
	}
	if got.Relevance < 0.599 || got.Relevance > 0.601 {
		t.Fatalf("relevance = %f, want 0.6", got.Relevance)
	}
	if got.Sentiment != "calm" {
		t.Fatalf("neutral tone must not overwrite topic sentiment, got %q", got.Sentiment)
	}
	if mem.Interactions[0].Importance != 0.5 {
		t.Fatalf("importance = %f, want 0.5", mem.Interactions[0].Importance)
	}
	if existing.Topics["guitar"].Mentions != 3 {
		t.Fatal("existing memory must not be mutated")
	}
}

func TestUpdateFromMessage_RelevanceClamped(t *testing.T) {
	m := newTestManager(newFakeStore())
	existing := CreateInitialMemory("u1", testNow)
	existing.Topics["guitar"] = Topic{Name: "guitar", Relevance: 0.95, LastDiscussed: testNow, Mentions: 1}

	mem, err := m.UpdateFromMessage(context.Background(), "u1", Message{Content: "guitar"}, "excited", existing)
	if err != nil {
		t.Fatalf("UpdateFromMessage error: %v", err)
	}
	if r := mem.Topics["guitar"].Relevance; r != 1 {
		t.Fatalf("relevance = %f, want 1", r)
	}
}

func TestUpdateFromMessage_InteractionCap(t *testing.T) {
	store := newFakeStore()
	m := newTestManager(store)

	var current MemoryContext
	for i := 0; i < 25; i++ {
		mem, err := m.UpdateFromMessage(context.Background(), "u1", Message{Content: fmt.Sprintf("message number %d", i)}, NeutralSentiment, current)
		if err != nil {
			t.Fatalf("update %d error: %v", i, err)
		}
		if len(mem.Interactions) > MaxInteractions {
			t.Fatalf("update %d: interactions = %d", i, len(mem.Interactions))
		}
		current = mem
	}
	if got := len(current.(*StructuredMemory).Interactions); got != MaxInteractions {
		t.Fatalf("interactions = %d, want %d", got, MaxInteractions)
	}
}

func TestUpdateFromMessage_SentimentOverride(t *testing.T) {
	cases := []struct {
		current, tone, want string
	}{
		{NeutralSentiment, NeutralSentiment, NeutralSentiment},
		{NeutralSentiment, "sad", "sad"},
		{"happy", NeutralSentiment, "happy"},
		{"happy", "anxious", "anxious"},
	}

	for _, tc := range cases {
		mem := CreateInitialMemory("u1", testNow)
		mem.Sentiment = tc.current
		ApplyMessage(mem, Message{Content: "hello"}, tc.tone, testNow)
		if mem.Sentiment != tc.want {
			t.Errorf("current=%q tone=%q: sentiment = %q, want %q", tc.current, tc.tone, mem.Sentiment, tc.want)
		}
	}
}

func TestUpdateFromMessage_GeneralTopics(t *testing.T) {
	mem := CreateInitialMemory("u1", testNow)
	ApplyMessage(mem, Message{Content: "ok"}, NeutralSentiment, testNow)
	if got := mem.Interactions[0].Summary; got != "User discussed: general topics" {
		t.Fatalf("summary = %q", got)
	}
}

func TestUpdateFromMessage_StoreFailure(t *testing.T) {
	store := newFakeStore()
	store.putErr = errors.New("disk full")
	m := newTestManager(store)

	mem, err := m.UpdateFromMessage(context.Background(), "u1", Message{Content: "hello there"}, "happy", nil)
	if err == nil {
		t.Fatal("expected error")
	}
	if mem != nil {
		t.Fatalf("expected nil memory on failure, got %+v", mem)
	}
}

func TestManagerLoad(t *testing.T) {
	store := newFakeStore()
	m := newTestManager(store)

	mem, err := m.Load(context.Background(), "fresh")
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if mem.UserID != "fresh" || mem.Notes != "New user" {
		t.Fatalf("unexpected fresh memory: %+v", mem)
	}

	store.records["old"] = LegacyMemory{Fields: map[string]any{"notes": "likes tea"}}
	mem, err = m.Load(context.Background(), "old")
	if err != nil {
		t.Fatalf("Load legacy error: %v", err)
	}
	if mem.Notes != "likes tea" || mem.LegacyData["notes"] != "likes tea" {
		t.Fatalf("unexpected migrated memory: %+v", mem)
	}
}

func TestMigrateMemory_Legacy(t *testing.T) {
	legacy := LegacyMemory{Fields: map[string]any{
		"lastInteraction":  "2024-01-02T03:04:05Z",
		"notes":            "prefers mornings",
		"interactionCount": float64(12),
	}}

	mem := MigrateMemory(legacy, "u1", testNow)
	if mem.Version != StructureVersion {
		t.Fatalf("version = %d", mem.Version)
	}
	if mem.Notes != "prefers mornings" || mem.Sentiment != NeutralSentiment {
		t.Fatalf("unexpected seeded fields: %+v", mem)
	}
	want := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	if !mem.LastInteraction.Equal(want) {
		t.Fatalf("lastInteraction = %v, want %v", mem.LastInteraction, want)
	}
	if mem.LegacyData["interactionCount"] != float64(12) {
		t.Fatalf("legacyData = %v", mem.LegacyData)
	}
	if len(legacy.Fields) != 3 {
		t.Fatal("legacy input must not be modified")
	}
}

func TestMigrateMemory_Idempotent(t *testing.T) {
	inputs := []MemoryContext{
		LegacyMemory{Fields: map[string]any{"notes": "n", "sentiment": "sad"}},
		LegacyMemory{Fields: map[string]any{}},
		CreateInitialMemory("u1", testNow),
	}

	for i, in := range inputs {
		once := MigrateMemory(in, "u1", testNow)
		twice := MigrateMemory(once, "u1", testNow)
		if !reflect.DeepEqual(once, twice) {
			t.Fatalf("input %d: migrate not idempotent:\n%+v\n%+v", i, once, twice)
		}
	}
}

func TestDecodeContext(t *testing.T) {
	mc, err := DecodeContext([]byte(`{"notes":"old","sentiment":"calm"}`))
	if err != nil {
		t.Fatalf("DecodeContext legacy error: %v", err)
	}
	if _, ok := mc.(LegacyMemory); !ok {
		t.Fatalf("expected LegacyMemory, got %T", mc)
	}

	mc, err = DecodeContext([]byte(`{"version":1,"userId":"u1","sentiment":"happy","topics":{"tea":{"name":"tea","relevance":0.4,"mentions":2}}}`))
	if err != nil {
		t.Fatalf("DecodeContext structured error: %v", err)
	}
	mem, ok := mc.(*StructuredMemory)
	if !ok {
		t.Fatalf("expected *StructuredMemory, got %T", mc)
	}
	if mem.Topics["tea"].Mentions != 2 {
		t.Fatalf("unexpected topics: %+v", mem.Topics)
	}

	if _, err := DecodeContext([]byte(`[1,2]`)); err == nil {
		t.Fatal("expected error for non-object context")
	}
}
