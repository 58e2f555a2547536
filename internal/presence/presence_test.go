package presence

import (
	"context"
	"testing"
	"time"
)

func TestTypingExpiry(t *testing.T) {
	tr := NewMemoryTracker()
	now := time.Date(2026, 7, 1, 12, 0, 0, 0, time.UTC)
	tr.SetClock(func() time.Time { return now })
	ctx := context.Background()

	if err := tr.SetTyping(ctx, "c1", "alice", true); err != nil {
		t.Fatalf("set typing: %v", err)
	}

	got, _ := tr.GetTyping(ctx, "c1")
	if len(got) != 1 || got[0] != "alice" {
		t.Fatalf("expected alice typing, got %v", got)
	}

	// 6s later the 5s window has passed; no stop signal ever arrived
	now = now.Add(6 * time.Second)
	got, _ = tr.GetTyping(ctx, "c1")
	if len(got) != 0 {
		t.Fatalf("expired entry still reported: %v", got)
	}
}

func TestTypingRefreshAndStop(t *testing.T) {
	tr := NewMemoryTracker()
	now := time.Date(2026, 7, 1, 12, 0, 0, 0, time.UTC)
	tr.SetClock(func() time.Time { return now })
	ctx := context.Background()

	_ = tr.SetTyping(ctx, "c1", "alice", true)
	now = now.Add(4 * time.Second)
	// refresh extends the window
	_ = tr.SetTyping(ctx, "c1", "alice", true)
	now = now.Add(4 * time.Second)
	got, _ := tr.GetTyping(ctx, "c1")
	if len(got) != 1 {
		t.Fatalf("refreshed entry expired early: %v", got)
	}

	_ = tr.SetTyping(ctx, "c1", "alice", false)
	got, _ = tr.GetTyping(ctx, "c1")
	if len(got) != 0 {
		t.Fatalf("explicit stop ignored: %v", got)
	}
}

func TestTypingSortedMultipleUsers(t *testing.T) {
	tr := NewMemoryTracker()
	ctx := context.Background()
	_ = tr.SetTyping(ctx, "c1", "zoe", true)
	_ = tr.SetTyping(ctx, "c1", "alice", true)
	_ = tr.SetTyping(ctx, "c2", "bob", true)

	got, _ := tr.GetTyping(ctx, "c1")
	if len(got) != 2 || got[0] != "alice" || got[1] != "zoe" {
		t.Fatalf("unexpected typing set: %v", got)
	}
}
