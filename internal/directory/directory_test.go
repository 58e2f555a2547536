package directory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/fathima-sithara/sync-service/internal/models"
	"github.com/fathima-sithara/sync-service/internal/store"
	apperrors "github.com/fathima-sithara/sync-service/pkg/errors"
)

func newDirectory() (*Directory, *store.Memory) {
	mem := store.NewMemory()
	return New(mem, nil, zap.NewNop().Sugar()), mem
}

func TestGetOrCreateDirectDedup(t *testing.T) {
	d, _ := newDirectory()
	ctx := context.Background()

	c1, err := d.GetOrCreateDirect(ctx, "alice", "bob")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	// opposite argument order must land on the same conversation
	c2, err := d.GetOrCreateDirect(ctx, "bob", "alice")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if c1.ID != c2.ID {
		t.Fatalf("direct conversation duplicated: %q vs %q", c1.ID, c2.ID)
	}
}

func TestGetOrCreateDirectConcurrent(t *testing.T) {
	d, _ := newDirectory()
	ctx := context.Background()

	const n = 16
	ids := make([]string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			a, b := "alice", "bob"
			if i%2 == 1 {
				a, b = b, a
			}
			c, err := d.GetOrCreateDirect(ctx, a, b)
			if err != nil {
				t.Errorf("goroutine %d: %v", i, err)
				return
			}
			ids[i] = c.ID
		}(i)
	}
	wg.Wait()

	for i := 1; i < n; i++ {
		if ids[i] != ids[0] {
			t.Fatalf("sessions diverged: %q vs %q", ids[i], ids[0])
		}
	}
}

func TestGetOrCreateDirectRejectsSelf(t *testing.T) {
	d, _ := newDirectory()
	if _, err := d.GetOrCreateDirect(context.Background(), "alice", "alice"); !errors.Is(err, apperrors.ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
}

func TestCreateGroupValidation(t *testing.T) {
	d, _ := newDirectory()
	ctx := context.Background()

	if _, err := d.CreateGroup(ctx, "alice", nil, "solo"); !errors.Is(err, apperrors.ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument for empty members, got %v", err)
	}
	// creator duplicated in the member list still counts once
	if _, err := d.CreateGroup(ctx, "alice", []string{"alice", "alice"}, "dup"); !errors.Is(err, apperrors.ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument for all-duplicate members, got %v", err)
	}

	c, err := d.CreateGroup(ctx, "alice", []string{"bob", "carol"}, "Trio")
	if err != nil {
		t.Fatalf("create group: %v", err)
	}
	if !c.IsGroup || len(c.Members) != 3 || !c.HasMember("alice") {
		t.Fatalf("unexpected group: %+v", c)
	}
}

func TestAddParticipant(t *testing.T) {
	d, _ := newDirectory()
	ctx := context.Background()

	g, err := d.CreateGroup(ctx, "alice", []string{"bob"}, "pair")
	if err != nil {
		t.Fatalf("create group: %v", err)
	}
	if err := d.AddParticipant(ctx, g.ID, "carol"); err != nil {
		t.Fatalf("add participant: %v", err)
	}

	dc, err := d.GetOrCreateDirect(ctx, "alice", "bob")
	if err != nil {
		t.Fatalf("create direct: %v", err)
	}
	if err := d.AddParticipant(ctx, dc.ID, "carol"); !errors.Is(err, apperrors.ErrInvalidArgument) {
		t.Fatalf("direct conversation accepted a new member: %v", err)
	}
}

func TestListOrdering(t *testing.T) {
	d, _ := newDirectory()
	ctx := context.Background()

	c1, _ := d.GetOrCreateDirect(ctx, "alice", "bob")
	c2, _ := d.GetOrCreateDirect(ctx, "alice", "carol")

	base := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	mustSummary(t, d, c1.ID, "m1", base.Add(time.Minute))
	mustSummary(t, d, c2.ID, "m2", base.Add(2*time.Minute))

	got, err := d.List(ctx, "alice")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 2 || got[0].ID != c2.ID || got[1].ID != c1.ID {
		t.Fatalf("wrong order: %+v", got)
	}
}

func TestUpdateSummaryIdempotent(t *testing.T) {
	d, mem := newDirectory()
	ctx := context.Background()

	c, _ := d.GetOrCreateDirect(ctx, "alice", "bob")
	base := time.Date(2026, 6, 2, 0, 0, 0, 0, time.UTC)
	mustSummary(t, d, c.ID, "newer", base.Add(time.Hour))
	// an older message must not regress the summary
	mustSummary(t, d, c.ID, "older", base)

	got, err := mem.GetConversation(ctx, c.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.LastMessage == nil || got.LastMessage.MessageID != "newer" {
		t.Fatalf("summary regressed: %+v", got.LastMessage)
	}

	// provisional messages never touch the summary
	prov := &models.Message{
		LocalID:        "lp",
		ConversationID: c.ID,
		SenderID:       "alice",
		Kind:           models.KindText,
		Content:        models.Content{Text: "pending"},
		CreatedAt:      base.Add(2 * time.Hour),
	}
	if err := d.UpdateSummary(ctx, c.ID, prov); err != nil {
		t.Fatalf("provisional summary: %v", err)
	}
	got, _ = mem.GetConversation(ctx, c.ID)
	if got.LastMessage.MessageID != "newer" {
		t.Fatalf("provisional message updated summary: %+v", got.LastMessage)
	}
}

func mustSummary(t *testing.T, d *Directory, convID, msgID string, at time.Time) {
	t.Helper()
	m := &models.Message{
		ID:             msgID,
		LocalID:        "l-" + msgID,
		ConversationID: convID,
		SenderID:       "alice",
		Kind:           models.KindText,
		Content:        models.Content{Text: msgID},
		CreatedAt:      at,
	}
	if err := d.UpdateSummary(context.Background(), convID, m); err != nil {
		t.Fatalf("update summary %s: %v", msgID, err)
	}
}
