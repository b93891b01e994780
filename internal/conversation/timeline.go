// Package conversation tracks a user's visible conversation, merging
// messages that are still in flight with messages the store has confirmed.
package conversation

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/theamal11z/Rex68/internal/memory"
)

type State int

const (
	StatePending State = iota
	StateConfirmed
	StateFailed
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateConfirmed:
		return "confirmed"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

// Event is one change applied to a Timeline.
type Event interface {
	apply(t *Timeline)
}

// Pending is a message shown before the store has accepted it.
type Pending struct {
	LocalID    string
	Content    string
	IsFromUser bool
	CreatedAt  time.Time
}

// NewPending returns a Pending event with a fresh local id.
func NewPending(content string, isFromUser bool, now time.Time) Pending {
	return Pending{LocalID: uuid.NewString(), Content: content, IsFromUser: isFromUser, CreatedAt: now}
}

// Confirmed carries a stored message. It replaces the first pending entry
// with the same content and role.
type Confirmed struct {
	Message memory.Message
}

// Failed marks a pending entry as failed.
type Failed struct {
	LocalID string
}

// Entry is one visible item of the timeline.
type Entry struct {
	LocalID string
	State   State
	Message memory.Message
}

// Timeline is safe for concurrent use.
type Timeline struct {
	mu        sync.Mutex
	userID    string
	limit     int
	confirmed []memory.Message
	seen      map[int64]struct{}
	pending   []Entry
}

// NewTimeline keeps at most limit confirmed messages, dropping the oldest.
// Failed entries are capped the same way. limit <= 0 keeps everything.
func NewTimeline(userID string, limit int) *Timeline {
	return &Timeline{userID: userID, limit: limit, seen: make(map[int64]struct{})}
}

// Seed loads already stored messages.
func (t *Timeline) Seed(msgs []memory.Message) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, m := range msgs {
		t.addConfirmed(m)
	}
	t.trim()
}

func (t *Timeline) Apply(events ...Event) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, ev := range events {
		ev.apply(t)
	}
	t.trim()
}

// Messages returns confirmed messages oldest first, then pending and failed
// entries in the order they were added.
func (t *Timeline) Messages() []Entry {
	t.mu.Lock()
	defer t.mu.Unlock()

	confirmed := append([]memory.Message(nil), t.confirmed...)
	sortChronological(confirmed)

	out := make([]Entry, 0, len(confirmed)+len(t.pending))
	for _, m := range confirmed {
		out = append(out, Entry{State: StateConfirmed, Message: m})
	}
	return append(out, t.pending...)
}

// PendingCount reports entries that are still in flight.
func (t *Timeline) PendingCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, e := range t.pending {
		if e.State == StatePending {
			n++
		}
	}
	return n
}

func sortChronological(msgs []memory.Message) {
	sort.SliceStable(msgs, func(i, j int) bool {
		if !msgs[i].Timestamp.Equal(msgs[j].Timestamp) {
			return msgs[i].Timestamp.Before(msgs[j].Timestamp)
		}
		return msgs[i].ID < msgs[j].ID
	})
}

// trim enforces the limit. Dropped ids leave seen so it stays bounded too.
func (t *Timeline) trim() {
	if t.limit <= 0 {
		return
	}
	if extra := len(t.confirmed) - t.limit; extra > 0 {
		sortChronological(t.confirmed)
		for _, m := range t.confirmed[:extra] {
			delete(t.seen, m.ID)
		}
		t.confirmed = append([]memory.Message(nil), t.confirmed[extra:]...)
	}

	failed := 0
	for _, e := range t.pending {
		if e.State == StateFailed {
			failed++
		}
	}
	if failed <= t.limit {
		return
	}
	drop := failed - t.limit
	kept := t.pending[:0]
	for _, e := range t.pending {
		if e.State == StateFailed && drop > 0 {
			drop--
			continue
		}
		kept = append(kept, e)
	}
	t.pending = kept
}

func (t *Timeline) addConfirmed(m memory.Message) {
	if m.ID != 0 {
		if _, dup := t.seen[m.ID]; dup {
			return
		}
		t.seen[m.ID] = struct{}{}
	}
	t.confirmed = append(t.confirmed, m)
}

func (p Pending) apply(t *Timeline) {
	id := p.LocalID
	if id == "" {
		id = uuid.NewString()
	}
	t.pending = append(t.pending, Entry{
		LocalID: id,
		State:   StatePending,
		Message: memory.Message{
			UserID:     t.userID,
			Content:    p.Content,
			IsFromUser: p.IsFromUser,
			Timestamp:  p.CreatedAt,
		},
	})
}

func (c Confirmed) apply(t *Timeline) {
	for i, e := range t.pending {
		if e.State == StateFailed {
			continue
		}
		if e.Message.Content == c.Message.Content && e.Message.IsFromUser == c.Message.IsFromUser {
			t.pending = append(t.pending[:i], t.pending[i+1:]...)
			break
		}
	}
	t.addConfirmed(c.Message)
}

func (f Failed) apply(t *Timeline) {
	for i := range t.pending {
		if t.pending[i].LocalID == f.LocalID {
			t.pending[i].State = StateFailed
			return
		}
	}
}
