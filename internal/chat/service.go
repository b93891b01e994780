// Package chat runs one conversational turn: tone analysis, persistence,
// memory update, prompt assembly and reply generation.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/theamal11z/Rex68/internal/conversation"
	"github.com/theamal11z/Rex68/internal/memory"
	"github.com/theamal11z/Rex68/internal/prompt"
	"github.com/theamal11z/Rex68/internal/relevance"
	"github.com/theamal11z/Rex68/internal/triggers"
)

const DefaultHistoryLimit = 50

var (
	ErrEmptyMessage   = errors.New("empty message")
	ErrUnknownTrigger = errors.New("unknown trigger")
)

// Store is everything a turn reads from or writes to. *memory.Engine
// satisfies it.
type Store interface {
	memory.Store
	AddMessage(ctx context.Context, msg memory.Message) (memory.Message, error)
	GetMessages(ctx context.Context, userID string, limit int) ([]memory.Message, error)
	ListSettings(ctx context.Context) ([]memory.Setting, error)
	ListContents(ctx context.Context, contentType string) ([]memory.ContentItem, error)
	ListTriggerPhrases(ctx context.Context, activeOnly bool) ([]memory.TriggerPhrase, error)
}

// Reply is the outcome of one turn.
type Reply struct {
	UserMessage memory.Message
	Message     memory.Message
	Tone        string
	Trigger     string
	Fallback    bool
	Memory      *memory.StructuredMemory
}

type Options struct {
	HistoryLimit int
}

type Service struct {
	store     Store
	memory    *memory.Manager
	assembler *prompt.Assembler
	filter    *relevance.Filter
	opts      Options
	now       func() time.Time

	mu        sync.Mutex
	timelines map[string]*conversation.Timeline
}

func NewService(store Store, mgr *memory.Manager, asm *prompt.Assembler, filter *relevance.Filter, opts Options) *Service {
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = DefaultHistoryLimit
	}
	if filter == nil {
		filter = relevance.New(nil)
	}
	return &Service{
		store:     store,
		memory:    mgr,
		assembler: asm,
		filter:    filter,
		opts:      opts,
		now:       time.Now,
		timelines: make(map[string]*conversation.Timeline),
	}
}

// SetClock overrides the time source used for new messages.
func (s *Service) SetClock(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// HandleMessage runs a turn, entering trigger mode when the message contains
// an active trigger phrase.
func (s *Service) HandleMessage(ctx context.Context, userID, content string) (Reply, error) {
	return s.handle(ctx, userID, content, "")
}

// HandleTrigger runs a turn in the named trigger's mode.
func (s *Service) HandleTrigger(ctx context.Context, userID, triggerName, content string) (Reply, error) {
	if strings.TrimSpace(triggerName) == "" {
		return Reply{}, ErrUnknownTrigger
	}
	return s.handle(ctx, userID, content, triggerName)
}

func (s *Service) handle(ctx context.Context, userID, content, triggerName string) (Reply, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return Reply{}, ErrEmptyMessage
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return Reply{}, fmt.Errorf("handle message: empty user id")
	}

	phrases, err := s.store.ListTriggerPhrases(ctx, true)
	if err != nil {
		log.Printf("[chat] list triggers: %v", err)
	}
	matcher, err := triggers.NewMatcher(phrases)
	if err != nil {
		log.Printf("[chat] build trigger matcher: %v", err)
	}
	var trigger *memory.TriggerPhrase
	if triggerName != "" {
		t, ok := matcher.Lookup(triggerName)
		if !ok {
			return Reply{}, fmt.Errorf("%w: %s", ErrUnknownTrigger, triggerName)
		}
		trigger = &t
	} else if t, ok := matcher.Match(content); ok {
		trigger = &t
	}

	tl := s.Timeline(ctx, userID)
	pending := conversation.NewPending(content, true, s.now())
	tl.Apply(pending)

	tone := memory.NeutralSentiment
	if trigger == nil {
		tone = s.filter.AnalyzeTone(ctx, content)
	}

	userMsg, err := s.store.AddMessage(ctx, memory.Message{
		UserID:     userID,
		Content:    content,
		IsFromUser: true,
		Timestamp:  pending.CreatedAt,
	})
	if err != nil {
		tl.Apply(conversation.Failed{LocalID: pending.LocalID})
		return Reply{}, fmt.Errorf("save user message: %w", err)
	}
	tl.Apply(conversation.Confirmed{Message: userMsg})

	mem := s.updateMemory(ctx, userID, userMsg, tone, nil)

	msgs, err := s.store.GetMessages(ctx, userID, s.opts.HistoryLimit)
	if err != nil {
		log.Printf("[chat] load history for %s: %v", userID, err)
		msgs = []memory.Message{userMsg}
	}

	in := prompt.Input{
		CurrentMessage:   content,
		EmotionalTone:    tone,
		Memory:           mem,
		PreviousMessages: msgs,
		Settings:         s.settings(ctx),
		Content:          s.contents(ctx),
		Trigger:          trigger,
	}

	reply := Reply{UserMessage: userMsg, Tone: tone, Memory: mem}
	if trigger != nil {
		reply.Trigger = trigger.Phrase
	}

	text, err := s.assembler.Respond(ctx, in)
	if err != nil {
		log.Printf("[chat] generate reply for %s: %v", userID, err)
		text = prompt.FallbackReply
		if trigger != nil {
			text = prompt.TriggerFallbackReply
		}
		reply.Fallback = true
	}

	rexPending := conversation.NewPending(text, false, s.now())
	tl.Apply(rexPending)
	rexMsg := memory.Message{UserID: userID, Content: text, Timestamp: rexPending.CreatedAt}
	saved, err := s.store.AddMessage(ctx, rexMsg)
	if err != nil {
		log.Printf("[chat] save reply for %s: %v", userID, err)
		tl.Apply(conversation.Failed{LocalID: rexPending.LocalID})
		reply.Message = rexMsg
		return reply, nil
	}
	tl.Apply(conversation.Confirmed{Message: saved})
	reply.Message = saved
	reply.Memory = s.updateMemory(ctx, userID, saved, memory.NeutralSentiment, mem)
	return reply, nil
}

// CheckIn has Rex open the conversation unprompted. note steers the opener
// and is never stored; only Rex's message is persisted. Unlike a reply, a
// failed generation is returned as an error rather than a fallback.
func (s *Service) CheckIn(ctx context.Context, userID, note string) (Reply, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return Reply{}, fmt.Errorf("check in: empty user id")
	}

	mem, err := s.memory.Load(ctx, userID)
	if err != nil {
		log.Printf("[chat] load memory for check-in %s: %v", userID, err)
		mem = memory.CreateInitialMemory(userID, s.now())
	}
	msgs, err := s.store.GetMessages(ctx, userID, s.opts.HistoryLimit)
	if err != nil {
		log.Printf("[chat] load history for check-in %s: %v", userID, err)
		msgs = nil
	}

	tone := mem.Sentiment
	if tone == "" {
		tone = memory.NeutralSentiment
	}
	text, err := s.assembler.Respond(ctx, prompt.Input{
		CurrentMessage:   checkInMessage(note),
		EmotionalTone:    tone,
		Memory:           mem,
		PreviousMessages: msgs,
		Settings:         s.settings(ctx),
		Content:          s.contents(ctx),
	})
	if err != nil {
		return Reply{}, fmt.Errorf("check in %s: %w", userID, err)
	}

	tl := s.Timeline(ctx, userID)
	pending := conversation.NewPending(text, false, s.now())
	tl.Apply(pending)
	saved, err := s.store.AddMessage(ctx, memory.Message{UserID: userID, Content: text, Timestamp: pending.CreatedAt})
	if err != nil {
		tl.Apply(conversation.Failed{LocalID: pending.LocalID})
		return Reply{}, fmt.Errorf("save check-in for %s: %w", userID, err)
	}
	tl.Apply(conversation.Confirmed{Message: saved})
	mem = s.updateMemory(ctx, userID, saved, memory.NeutralSentiment, mem)
	return Reply{Message: saved, Tone: tone, Memory: mem}, nil
}

func checkInMessage(note string) string {
	msg := "(No new message. Rex is reaching out on its own to check in on the user. Open gently, referring to what you remember, and keep it short.)"
	if note = strings.TrimSpace(note); note != "" {
		msg += "\n(Focus: " + note + ")"
	}
	return msg
}

// updateMemory folds a persisted message from either side into memory. A
// failed update returns prev when set, otherwise whatever could be loaded.
func (s *Service) updateMemory(ctx context.Context, userID string, msg memory.Message, tone string, prev *memory.StructuredMemory) *memory.StructuredMemory {
	var existing memory.MemoryContext
	rec, err := s.store.GetMemory(ctx, userID)
	switch {
	case err == nil:
		existing = rec.Context
	case errors.Is(err, memory.ErrNotFound):
	default:
		log.Printf("[chat] load memory for %s: %v", userID, err)
	}

	mem, err := s.memory.UpdateFromMessage(ctx, userID, msg, tone, existing)
	if err == nil {
		return mem
	}
	log.Printf("[memory] update for %s failed, continuing without it: %v", userID, err)
	if prev != nil {
		return prev
	}
	if existing != nil {
		return memory.MigrateMemory(existing, userID, s.now())
	}
	return memory.CreateInitialMemory(userID, s.now())
}

func (s *Service) settings(ctx context.Context) prompt.Settings {
	list, err := s.store.ListSettings(ctx)
	if err != nil {
		log.Printf("[chat] load settings: %v", err)
		return nil
	}
	return prompt.SettingsFrom(list)
}

func (s *Service) contents(ctx context.Context) []memory.ContentItem {
	items, err := s.store.ListContents(ctx, "")
	if err != nil {
		log.Printf("[chat] load contents: %v", err)
		return nil
	}
	return items
}

// Timeline returns the user's timeline, seeding it from the store on first
// use. It holds at most HistoryLimit confirmed messages.
func (s *Service) Timeline(ctx context.Context, userID string) *conversation.Timeline {
	s.mu.Lock()
	tl, ok := s.timelines[userID]
	if !ok {
		tl = conversation.NewTimeline(userID, s.opts.HistoryLimit)
		s.timelines[userID] = tl
	}
	s.mu.Unlock()

	if !ok {
		msgs, err := s.store.GetMessages(ctx, userID, s.opts.HistoryLimit)
		if err != nil {
			log.Printf("[chat] seed timeline for %s: %v", userID, err)
		} else {
			tl.Seed(msgs)
		}
	}
	return tl
}

// Forget drops the cached timeline for userID. Call it after the user's
// stored conversation is deleted.
func (s *Service) Forget(userID string) {
	s.mu.Lock()
	delete(s.timelines, userID)
	s.mu.Unlock()
}
