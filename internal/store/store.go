// Package store is the durable-store boundary of the sync core. Everything
// above it treats the store as the only shared mutable resource: writes are
// idempotent (messages are keyed by local_id, direct conversations by their
// sorted-pair key) or conditional (summary updates), never read-then-blind-write.
package store

import (
	"context"
	"time"

	"github.com/fathima-sithara/sync-service/internal/models"
)

type EventType string

const (
	EventInserted EventType = "inserted"
	EventUpdated  EventType = "updated"
	EventRemoved  EventType = "removed"
)

// Event is one change-feed notification for a subscribed conversation.
type Event struct {
	Type    EventType
	Message *models.Message
}

type Store interface {
	// PutMessage durably writes m, keyed by (conversation_id, local_id).
	// The first write for a local id assigns the canonical id and the server
	// timestamp; repeated writes with the same local id are safe no-ops that
	// return the already-stored document, except that content and edited_at
	// may be updated by the sender. The returned message is the confirmed one.
	PutMessage(ctx context.Context, m *models.Message) (*models.Message, error)

	// QueryMessages returns up to limit messages of the conversation older
	// than before (all of them when before is zero), newest first.
	QueryMessages(ctx context.Context, conversationID string, limit int, before time.Time) ([]*models.Message, error)

	// SubscribeMessages opens the change feed for one conversation. Delivery
	// is at-least-once. The channel closes when the feed drops or cancel is
	// called; reconnection is the caller's job.
	SubscribeMessages(ctx context.Context, conversationID string) (<-chan Event, func(), error)

	// CreateConversation inserts c. For direct conversations the DirectKey
	// uniqueness constraint applies and the loser of a creation race gets
	// ErrDuplicateKey.
	CreateConversation(ctx context.Context, c *models.Conversation) (*models.Conversation, error)

	GetConversation(ctx context.Context, id string) (*models.Conversation, error)

	// FindDirect looks a direct conversation up by its canonical key.
	FindDirect(ctx context.Context, directKey string) (*models.Conversation, error)

	ListConversations(ctx context.Context, userID string) ([]*models.Conversation, error)

	// UpdateSummary sets the conversation's last-message pointer, but only if
	// the incoming summary is at least as new as the stored one. The
	// condition is evaluated at the store layer so concurrent sessions
	// cannot regress the summary.
	UpdateSummary(ctx context.Context, conversationID string, s *models.MessageSummary) error

	// AddMember grows a group conversation's member set. Idempotent.
	AddMember(ctx context.Context, conversationID, userID string) error

	Close(ctx context.Context) error
}
