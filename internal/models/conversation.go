package models

import (
	"sort"
	"strings"
	"time"
)

// MessageSummary is the denormalized last-message pointer kept on a
// conversation for list rendering.
type MessageSummary struct {
	MessageID string      `bson:"message_id" json:"message_id"`
	SenderID  string      `bson:"sender_id" json:"sender_id"`
	Kind      MessageKind `bson:"kind" json:"kind"`
	Preview   string      `bson:"preview" json:"preview"`
	CreatedAt time.Time   `bson:"created_at" json:"created_at"`
}

type Conversation struct {
	ID      string   `bson:"_id,omitempty" json:"id"`
	Members []string `bson:"members" json:"members"`
	IsGroup bool     `bson:"is_group" json:"is_group"`
	// Name is set for groups only; direct conversations derive their display
	// name from the other participant's identity at render time.
	Name string `bson:"name,omitempty" json:"name,omitempty"`
	// DirectKey is the deterministic uniqueness key for direct conversations:
	// the two member ids sorted and joined. Empty for groups.
	DirectKey   string          `bson:"direct_key,omitempty" json:"-"`
	LastMessage *MessageSummary `bson:"last_message,omitempty" json:"last_message,omitempty"`
	CreatedAt   time.Time       `bson:"created_at" json:"created_at"`
	CreatedBy   string          `bson:"created_by" json:"created_by"`
}

// DirectKeyFor builds the canonical key for a direct conversation between two
// users. Both participants compute the same key regardless of argument order,
// which is what lets the storage layer enforce at-most-one conversation per
// pair.
func DirectKeyFor(a, b string) string {
	pair := []string{a, b}
	sort.Strings(pair)
	return strings.Join(pair, "|")
}

// DisplayNameFor resolves the name shown to a viewer: the stored name for
// groups, the other participant's id for direct conversations. Never stored.
func (c *Conversation) DisplayNameFor(viewerID string) string {
	if c.IsGroup {
		return c.Name
	}
	for _, m := range c.Members {
		if m != viewerID {
			return m
		}
	}
	return viewerID
}

func (c *Conversation) HasMember(userID string) bool {
	for _, m := range c.Members {
		if m == userID {
			return true
		}
	}
	return false
}

// Summarize builds the summary entry for a confirmed message.
func Summarize(m *Message) *MessageSummary {
	return &MessageSummary{
		MessageID: m.ID,
		SenderID:  m.SenderID,
		Kind:      m.Kind,
		Preview:   m.Preview(),
		CreatedAt: m.CreatedAt,
	}
}

// Clone copies the conversation so store internals cannot be mutated by
// callers.
func (c *Conversation) Clone() *Conversation {
	out := *c
	out.Members = append([]string(nil), c.Members...)
	if c.LastMessage != nil {
		s := *c.LastMessage
		out.LastMessage = &s
	}
	return &out
}
