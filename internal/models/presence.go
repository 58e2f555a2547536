package models

import "time"

// PresenceEntry is an ephemeral typing marker. An entry past ExpiresAt must
// be treated as not typing even if no explicit stop signal ever arrived.
type PresenceEntry struct {
	ConversationID string    `json:"conversation_id"`
	UserID         string    `json:"user_id"`
	IsTyping       bool      `json:"is_typing"`
	ExpiresAt      time.Time `json:"expires_at"`
}

func (p *PresenceEntry) Expired(now time.Time) bool {
	return now.After(p.ExpiresAt)
}
