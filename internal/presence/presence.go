// Package presence tracks ephemeral typing state. Entries expire on their
// own: a client that disconnects mid-type stops showing as typing once its
// TTL window passes, with no stop signal and no sweeper required.
package presence

import (
	"context"
	"sort"
	"sync"
	"time"
)

// TypingTTL is the window a typing signal stays valid without a refresh.
const TypingTTL = 5 * time.Second

type Tracker interface {
	// SetTyping refreshes (isTyping) or clears (!isTyping) the user's typing
	// entry for the conversation.
	SetTyping(ctx context.Context, conversationID, userID string, isTyping bool) error
	// GetTyping returns the users with a non-expired typing entry. Expiry is
	// evaluated at read time.
	GetTyping(ctx context.Context, conversationID string) ([]string, error)
}

// MemoryTracker keeps typing expiries in process memory.
type MemoryTracker struct {
	mu      sync.Mutex
	expires map[string]map[string]time.Time // conversationID -> userID -> expiry
	ttl     time.Duration
	now     func() time.Time
}

func NewMemoryTracker() *MemoryTracker {
	return &MemoryTracker{
		expires: make(map[string]map[string]time.Time),
		ttl:     TypingTTL,
		now:     time.Now,
	}
}

// SetClock overrides the clock. Test hook.
func (t *MemoryTracker) SetClock(now func() time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.now = now
}

func (t *MemoryTracker) SetTyping(ctx context.Context, conversationID, userID string, isTyping bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !isTyping {
		delete(t.expires[conversationID], userID)
		return nil
	}
	if t.expires[conversationID] == nil {
		t.expires[conversationID] = make(map[string]time.Time)
	}
	t.expires[conversationID][userID] = t.now().Add(t.ttl)
	return nil
}

func (t *MemoryTracker) GetTyping(ctx context.Context, conversationID string) ([]string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	var out []string
	for userID, exp := range t.expires[conversationID] {
		if now.After(exp) {
			// lazily drop expired entries while we are here
			delete(t.expires[conversationID], userID)
			continue
		}
		out = append(out, userID)
	}
	sort.Strings(out)
	return out, nil
}
