package models

import (
	"fmt"
	"time"
	"unicode/utf8"

	apperrors "github.com/fathima-sithara/sync-service/pkg/errors"
)

type MessageKind string

const (
	KindText   MessageKind = "text"
	KindImage  MessageKind = "image"
	KindFile   MessageKind = "file"
	KindSystem MessageKind = "system"
)

// MessageStatus is client-local delivery state. It is never written to the
// canonical log; the bson tag keeps it out of persisted documents.
type MessageStatus string

const (
	StatusPending MessageStatus = "pending"
	StatusSent    MessageStatus = "sent"
	StatusFailed  MessageStatus = "failed"
)

// Content holds the kind-specific payload. Which fields are meaningful is
// decided by Message.Kind; Validate enforces the pairing.
type Content struct {
	Text      string `bson:"text,omitempty" json:"text,omitempty"`
	MediaURL  string `bson:"media_url,omitempty" json:"media_url,omitempty"`
	MediaName string `bson:"media_name,omitempty" json:"media_name,omitempty"`
	MediaSize int64  `bson:"media_size,omitempty" json:"media_size,omitempty"`
}

type Message struct {
	// ID is assigned by the durable store on confirmation. Empty while the
	// message is provisional.
	ID string `bson:"_id,omitempty" json:"id,omitempty"`
	// LocalID is assigned by the sending client and is the dedup key linking
	// a provisional entry to its confirmed counterpart.
	LocalID        string        `bson:"local_id" json:"local_id"`
	ConversationID string        `bson:"conversation_id" json:"conversation_id"`
	SenderID       string        `bson:"sender_id" json:"sender_id"`
	SenderName     string        `bson:"sender_name" json:"sender_name"`
	Kind           MessageKind   `bson:"kind" json:"kind"`
	Content        Content       `bson:"content" json:"content"`
	CreatedAt      time.Time     `bson:"created_at" json:"created_at"`
	EditedAt       *time.Time    `bson:"edited_at,omitempty" json:"edited_at,omitempty"`
	Status         MessageStatus `bson:"-" json:"status,omitempty"`
}

// Confirmed reports whether the store has acknowledged the message.
func (m *Message) Confirmed() bool { return m.ID != "" }

// SortID is the ordering tiebreaker: the canonical id once assigned, the
// local id before that.
func (m *Message) SortID() string {
	if m.ID != "" {
		return m.ID
	}
	return m.LocalID
}

// Less defines the total order within a conversation: (createdAt, id), with
// the id tiebreak making the order deterministic across clients even for
// equal timestamps.
func Less(a, b *Message) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.SortID() < b.SortID()
}

func (m *Message) Validate() error {
	if m.LocalID == "" {
		return fmt.Errorf("%w: missing local_id", apperrors.ErrInvalidArgument)
	}
	if m.ConversationID == "" {
		return fmt.Errorf("%w: missing conversation_id", apperrors.ErrInvalidArgument)
	}
	switch m.Kind {
	case KindText, KindSystem:
		if m.Content.Text == "" {
			return fmt.Errorf("%w: %s message requires text", apperrors.ErrInvalidArgument, m.Kind)
		}
		if m.Content.MediaURL != "" {
			return fmt.Errorf("%w: %s message cannot carry media", apperrors.ErrInvalidArgument, m.Kind)
		}
	case KindImage, KindFile:
		if m.Content.MediaURL == "" {
			return fmt.Errorf("%w: %s message requires media_url", apperrors.ErrInvalidArgument, m.Kind)
		}
	default:
		return fmt.Errorf("%w: unknown message kind %q", apperrors.ErrInvalidArgument, m.Kind)
	}
	return nil
}

// Preview returns the short text used in conversation summaries.
func (m *Message) Preview() string {
	const max = 80
	var s string
	switch m.Kind {
	case KindImage:
		s = "[image] " + m.Content.MediaName
	case KindFile:
		s = "[file] " + m.Content.MediaName
	default:
		s = m.Content.Text
	}
	if len(s) > max {
		cut := max
		for cut > 0 && !utf8.RuneStart(s[cut]) {
			cut--
		}
		s = s[:cut]
	}
	return s
}

// Clone returns a shallow-safe copy; EditedAt is duplicated so callers cannot
// mutate stored state through the pointer.
func (m *Message) Clone() *Message {
	c := *m
	if m.EditedAt != nil {
		t := *m.EditedAt
		c.EditedAt = &t
	}
	return &c
}
