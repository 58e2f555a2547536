package store

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/fathima-sithara/sync-service/internal/models"
	apperrors "github.com/fathima-sithara/sync-service/pkg/errors"
)

func textMsg(conv, localID, text string) *models.Message {
	return &models.Message{
		LocalID:        localID,
		ConversationID: conv,
		SenderID:       "alice",
		SenderName:     "Alice",
		Kind:           models.KindText,
		Content:        models.Content{Text: text},
	}
}

func TestPutMessageIdempotent(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()

	first, err := s.PutMessage(ctx, textMsg("c1", "l1", "hello"))
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if first.ID == "" || first.CreatedAt.IsZero() {
		t.Fatalf("identity not assigned: %+v", first)
	}

	// same local id again, different provisional timestamp
	again := textMsg("c1", "l1", "hello")
	again.CreatedAt = time.Now().Add(time.Hour)
	second, err := s.PutMessage(ctx, again)
	if err != nil {
		t.Fatalf("re-put: %v", err)
	}
	if second.ID != first.ID || !second.CreatedAt.Equal(first.CreatedAt) {
		t.Fatalf("identity mutated on re-write: %+v vs %+v", second, first)
	}

	page, _ := s.QueryMessages(ctx, "c1", 0, time.Time{})
	if len(page) != 1 {
		t.Fatalf("duplicate stored: %d messages", len(page))
	}
}

func TestPutMessageEditPassthrough(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()
	orig, _ := s.PutMessage(ctx, textMsg("c1", "l1", "v1"))

	later := time.Now().UTC().Add(time.Minute)
	edit := textMsg("c1", "l1", "v2")
	edit.EditedAt = &later
	got, err := s.PutMessage(ctx, edit)
	if err != nil {
		t.Fatalf("edit put: %v", err)
	}
	if got.Content.Text != "v2" || got.EditedAt == nil {
		t.Fatalf("edit not applied: %+v", got)
	}
	if !got.CreatedAt.Equal(orig.CreatedAt) {
		t.Fatalf("edit moved the server timestamp")
	}

	// stale edit loses
	earlier := later.Add(-time.Hour)
	stale := textMsg("c1", "l1", "old")
	stale.EditedAt = &earlier
	got, _ = s.PutMessage(ctx, stale)
	if got.Content.Text != "v2" {
		t.Fatalf("stale edit overwrote newer content: %q", got.Content.Text)
	}
}

func TestQueryMessagesPagination(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	tick := 0
	s.SetClock(func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	})

	for _, id := range []string{"l1", "l2", "l3"} {
		if _, err := s.PutMessage(ctx, textMsg("c1", id, id)); err != nil {
			t.Fatalf("put %s: %v", id, err)
		}
	}

	page, err := s.QueryMessages(ctx, "c1", 2, time.Time{})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(page) != 2 || page[0].LocalID != "l3" || page[1].LocalID != "l2" {
		t.Fatalf("newest page wrong: %+v", page)
	}

	older, err := s.QueryMessages(ctx, "c1", 2, page[1].CreatedAt)
	if err != nil {
		t.Fatalf("older query: %v", err)
	}
	if len(older) != 1 || older[0].LocalID != "l1" {
		t.Fatalf("older page wrong: %+v", older)
	}
}

func TestSubscribeMessages(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()

	feed, cancel, err := s.SubscribeMessages(ctx, "c1")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer cancel()

	put, _ := s.PutMessage(ctx, textMsg("c1", "l1", "hi"))
	ev := <-feed
	if ev.Type != EventInserted || ev.Message.ID != put.ID {
		t.Fatalf("unexpected event: %+v", ev)
	}

	// re-write surfaces as an update
	later := time.Now().UTC().Add(time.Minute)
	edit := textMsg("c1", "l1", "hi!")
	edit.EditedAt = &later
	if _, err := s.PutMessage(ctx, edit); err != nil {
		t.Fatalf("edit: %v", err)
	}
	ev = <-feed
	if ev.Type != EventUpdated || ev.Message.Content.Text != "hi!" {
		t.Fatalf("unexpected update event: %+v", ev)
	}

	// other conversations stay silent
	if _, err := s.PutMessage(ctx, textMsg("c2", "l1", "elsewhere")); err != nil {
		t.Fatalf("put: %v", err)
	}
	select {
	case ev := <-feed:
		t.Fatalf("leaked event from another conversation: %+v", ev)
	case <-time.After(20 * time.Millisecond):
	}

	cancel()
	if _, ok := <-feed; ok {
		t.Fatalf("feed not closed after cancel")
	}
}

func TestSubscribeOverflowDropsFeedNotWriter(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()

	feed, cancel, err := s.SubscribeMessages(ctx, "c1")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer cancel()

	// nobody drains the feed; writes must still complete past the buffer
	for i := 0; i < 300; i++ {
		if _, err := s.PutMessage(ctx, textMsg("c1", fmt.Sprintf("l%d", i), "x")); err != nil {
			t.Fatalf("put %d: %v", i, err)
		}
	}

	// the overflowing feed is closed so the subscriber reconnects
	n := 0
	for range feed {
		n++
	}
	if n == 0 || n > 256 {
		t.Fatalf("buffered events = %d", n)
	}

	page, err := s.QueryMessages(ctx, "c1", 0, time.Time{})
	if err != nil || len(page) != 300 {
		t.Fatalf("writes lost: %d messages, %v", len(page), err)
	}
}

func TestCreateConversationDirectKeyUnique(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()
	key := models.DirectKeyFor("alice", "bob")

	first, err := s.CreateConversation(ctx, &models.Conversation{
		Members: []string{"alice", "bob"}, DirectKey: key, CreatedBy: "alice",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	_, err = s.CreateConversation(ctx, &models.Conversation{
		Members: []string{"bob", "alice"}, DirectKey: key, CreatedBy: "bob",
	})
	if !errors.Is(err, apperrors.ErrDuplicateKey) {
		t.Fatalf("expected ErrDuplicateKey, got %v", err)
	}

	found, err := s.FindDirect(ctx, key)
	if err != nil || found.ID != first.ID {
		t.Fatalf("FindDirect = %+v, %v; want winner %s", found, err, first.ID)
	}
}

func TestUpdateSummaryNeverRegresses(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()
	conv, _ := s.CreateConversation(ctx, &models.Conversation{
		Members: []string{"alice", "bob"}, IsGroup: true, Name: "g", CreatedBy: "alice",
	})

	newer := &models.MessageSummary{MessageID: "m2", SenderID: "bob", Kind: models.KindText, Preview: "new", CreatedAt: time.Now().UTC()}
	older := &models.MessageSummary{MessageID: "m1", SenderID: "alice", Kind: models.KindText, Preview: "old", CreatedAt: newer.CreatedAt.Add(-time.Hour)}

	if err := s.UpdateSummary(ctx, conv.ID, newer); err != nil {
		t.Fatalf("update: %v", err)
	}
	if err := s.UpdateSummary(ctx, conv.ID, older); err != nil {
		t.Fatalf("stale update: %v", err)
	}

	got, _ := s.GetConversation(ctx, conv.ID)
	if got.LastMessage == nil || got.LastMessage.MessageID != "m2" {
		t.Fatalf("summary regressed: %+v", got.LastMessage)
	}
}

func TestListConversationsAndMembers(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()
	g, _ := s.CreateConversation(ctx, &models.Conversation{
		Members: []string{"alice", "bob"}, IsGroup: true, Name: "g", CreatedBy: "alice",
	})
	s.CreateConversation(ctx, &models.Conversation{
		Members: []string{"bob", "carol"}, IsGroup: true, Name: "other", CreatedBy: "bob",
	})

	mine, err := s.ListConversations(ctx, "alice")
	if err != nil || len(mine) != 1 {
		t.Fatalf("ListConversations = %d, %v; want 1", len(mine), err)
	}

	if err := s.AddMember(ctx, g.ID, "carol"); err != nil {
		t.Fatalf("add member: %v", err)
	}
	if err := s.AddMember(ctx, g.ID, "carol"); err != nil {
		t.Fatalf("repeat add member: %v", err)
	}
	got, _ := s.GetConversation(ctx, g.ID)
	if len(got.Members) != 3 {
		t.Fatalf("members = %v", got.Members)
	}
}

func TestClosedStore(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()
	if err := s.Close(ctx); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, err := s.PutMessage(ctx, textMsg("c1", "l1", "x")); !errors.Is(err, apperrors.ErrClosed) {
		t.Fatalf("expected ErrClosed on put, got %v", err)
	}
	if _, _, err := s.SubscribeMessages(ctx, "c1"); !errors.Is(err, apperrors.ErrClosed) {
		t.Fatalf("expected ErrClosed on subscribe, got %v", err)
	}
}
