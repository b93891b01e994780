package conversation

import (
	"testing"
	"time"

	"github.com/theamal11z/Rex68/internal/memory"
)

var t0 = time.Date(2025, 3, 14, 12, 0, 0, 0, time.UTC)

func TestTimeline_PendingThenConfirmed(t *testing.T) {
	tl := NewTimeline("u1", 0)
	p := NewPending("hello", true, t0)
	tl.Apply(p)

	entries := tl.Messages()
	if len(entries) != 1 || entries[0].State != StatePending || entries[0].LocalID != p.LocalID {
		t.Fatalf("entries = %+v, want one pending", entries)
	}
	if entries[0].Message.UserID != "u1" {
		t.Fatalf("user id = %q, want u1", entries[0].Message.UserID)
	}

	tl.Apply(Confirmed{Message: memory.Message{ID: 7, UserID: "u1", Content: "hello", IsFromUser: true, Timestamp: t0}})
	entries = tl.Messages()
	if len(entries) != 1 || entries[0].State != StateConfirmed || entries[0].Message.ID != 7 {
		t.Fatalf("entries = %+v, want one confirmed", entries)
	}
	if tl.PendingCount() != 0 {
		t.Fatalf("PendingCount = %d, want 0", tl.PendingCount())
	}
}

func TestTimeline_ReconcileMatchesRole(t *testing.T) {
	tl := NewTimeline("u1", 0)
	tl.Apply(NewPending("same", true, t0), NewPending("same", false, t0))

	tl.Apply(Confirmed{Message: memory.Message{ID: 1, Content: "same", IsFromUser: false, Timestamp: t0}})
	entries := tl.Messages()
	if len(entries) != 2 {
		t.Fatalf("entries = %d, want 2", len(entries))
	}
	if entries[1].State != StatePending || !entries[1].Message.IsFromUser {
		t.Fatalf("remaining pending = %+v, want the user message", entries[1])
	}
}

func TestTimeline_ConfirmedOrdering(t *testing.T) {
	tl := NewTimeline("u1", 0)
	tl.Seed([]memory.Message{
		{ID: 2, Content: "b", Timestamp: t0.Add(time.Minute)},
		{ID: 1, Content: "a", Timestamp: t0},
	})
	tl.Apply(NewPending("c", true, t0.Add(-time.Hour)))

	entries := tl.Messages()
	if len(entries) != 3 {
		t.Fatalf("entries = %d, want 3", len(entries))
	}
	if entries[0].Message.ID != 1 || entries[1].Message.ID != 2 {
		t.Fatalf("confirmed order = %d,%d, want 1,2", entries[0].Message.ID, entries[1].Message.ID)
	}
	if entries[2].State != StatePending {
		t.Fatalf("last entry state = %v, want pending", entries[2].State)
	}
}

func TestTimeline_DuplicateConfirmedIgnored(t *testing.T) {
	tl := NewTimeline("u1", 0)
	m := memory.Message{ID: 3, Content: "x", Timestamp: t0}
	tl.Seed([]memory.Message{m})
	tl.Apply(Confirmed{Message: m})

	if n := len(tl.Messages()); n != 1 {
		t.Fatalf("entries = %d, want 1", n)
	}
}

func TestTimeline_Failed(t *testing.T) {
	tl := NewTimeline("u1", 0)
	p := NewPending("lost", true, t0)
	tl.Apply(p, Failed{LocalID: p.LocalID})

	entries := tl.Messages()
	if len(entries) != 1 || entries[0].State != StateFailed {
		t.Fatalf("entries = %+v, want one failed", entries)
	}
	if tl.PendingCount() != 0 {
		t.Fatalf("PendingCount = %d, want 0", tl.PendingCount())
	}

	// a failed entry is not reconciled by a later confirmation
	tl.Apply(Confirmed{Message: memory.Message{ID: 9, Content: "lost", IsFromUser: true, Timestamp: t0}})
	entries = tl.Messages()
	if len(entries) != 2 || entries[1].State != StateFailed {
		t.Fatalf("entries = %+v, want confirmed then failed", entries)
	}
}

func TestTimeline_LimitDropsOldest(t *testing.T) {
	tl := NewTimeline("u1", 50)
	var id int64
	for turn := 0; turn < 200; turn++ {
		at := t0.Add(time.Duration(turn) * time.Minute)
		for _, fromUser := range []bool{true, false} {
			p := NewPending("msg", fromUser, at)
			id++
			tl.Apply(p, Confirmed{Message: memory.Message{ID: id, Content: "msg", IsFromUser: fromUser, Timestamp: at}})
		}
	}

	entries := tl.Messages()
	if len(entries) != 50 {
		t.Fatalf("entries = %d, want 50", len(entries))
	}
	if entries[0].Message.ID != 351 || entries[49].Message.ID != 400 {
		t.Fatalf("kept ids %d..%d, want 351..400", entries[0].Message.ID, entries[49].Message.ID)
	}
	if len(tl.seen) != 50 {
		t.Fatalf("seen = %d, want 50", len(tl.seen))
	}
}

func TestTimeline_LimitCapsFailed(t *testing.T) {
	tl := NewTimeline("u1", 2)
	var last Pending
	for i := 0; i < 5; i++ {
		last = NewPending("lost", true, t0.Add(time.Duration(i)*time.Second))
		tl.Apply(last, Failed{LocalID: last.LocalID})
	}
	live := NewPending("still sending", true, t0)
	tl.Apply(live)

	entries := tl.Messages()
	if len(entries) != 3 {
		t.Fatalf("entries = %d, want 2 failed and 1 pending", len(entries))
	}
	if entries[1].LocalID != last.LocalID || entries[2].LocalID != live.LocalID {
		t.Fatalf("entries = %+v, want newest failed kept before the pending one", entries)
	}
	if tl.PendingCount() != 1 {
		t.Fatalf("PendingCount = %d, want 1", tl.PendingCount())
	}
}

func TestState_String(t *testing.T) {
	tests := map[State]string{
		StatePending:   "pending",
		StateConfirmed: "confirmed",
		StateFailed:    "failed",
		State(42):      "unknown",
	}
	for s, want := range tests {
		if got := s.String(); got != want {
			t.Fatalf("State(%d).String() = %q, want %q", s, got, want)
		}
	}
}
