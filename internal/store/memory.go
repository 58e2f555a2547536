package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/fathima-sithara/sync-service/internal/models"
	apperrors "github.com/fathima-sithara/sync-service/pkg/errors"
)

// Memory is a map-backed Store used by tests and local development. It
// implements the same contracts as the Mongo store: idempotent message
// writes, a unique direct-conversation key, conditional summary updates and
// a per-conversation change feed.
type Memory struct {
	mu      sync.Mutex
	msgs    map[string]map[string]*models.Message // conversationID -> localID -> message
	convs   map[string]*models.Conversation
	direct  map[string]string // directKey -> conversationID
	subs    map[string]map[int]*memSub
	nextSub int
	nextID  int64
	closed  bool

	// now is swappable so tests can control server timestamps.
	now func() time.Time
}

// memSub guards the feed channel so an emit racing a cancel never sends on a
// closed channel.
type memSub struct {
	mu     sync.Mutex
	ch     chan Event
	closed bool
}

func (s *memSub) emit(e Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.ch <- e:
	default:
		// subscriber stopped draining; drop the feed so it reconnects and
		// re-primes instead of blocking the writer
		s.closed = true
		close(s.ch)
	}
}

func (s *memSub) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}

func NewMemory() *Memory {
	return &Memory{
		msgs:   make(map[string]map[string]*models.Message),
		convs:  make(map[string]*models.Conversation),
		direct: make(map[string]string),
		subs:   make(map[string]map[int]*memSub),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// SetClock overrides the server clock. Test hook.
func (s *Memory) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (s *Memory) PutMessage(ctx context.Context, m *models.Message) (*models.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrTransient, err)
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, apperrors.ErrClosed
	}
	conv := s.msgs[m.ConversationID]
	if conv == nil {
		conv = make(map[string]*models.Message)
		s.msgs[m.ConversationID] = conv
	}

	var (
		stored *models.Message
		evt    EventType
	)
	if existing, ok := conv[m.LocalID]; ok {
		// Idempotent re-write: identity and server timestamp are immutable,
		// only sender edits pass through.
		if m.EditedAt != nil && (existing.EditedAt == nil || !m.EditedAt.Before(*existing.EditedAt)) {
			existing.Content = m.Content
			t := *m.EditedAt
			existing.EditedAt = &t
		}
		stored = existing
		evt = EventUpdated
	} else {
		s.nextID++
		stored = m.Clone()
		stored.ID = fmt.Sprintf("m%06d", s.nextID)
		stored.CreatedAt = s.now()
		stored.Status = ""
		conv[m.LocalID] = stored
		evt = EventInserted
	}
	out := stored.Clone()
	targets := s.feedTargets(m.ConversationID)
	s.mu.Unlock()

	for _, sub := range targets {
		sub.emit(Event{Type: evt, Message: out.Clone()})
	}
	return out, nil
}

// feedTargets snapshots subscribers under the lock.
func (s *Memory) feedTargets(conversationID string) []*memSub {
	var out []*memSub
	for _, sub := range s.subs[conversationID] {
		out = append(out, sub)
	}
	return out
}

func (s *Memory) QueryMessages(ctx context.Context, conversationID string, limit int, before time.Time) ([]*models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Message
	for _, m := range s.msgs[conversationID] {
		if !before.IsZero() && !m.CreatedAt.Before(before) {
			continue
		}
		out = append(out, m.Clone())
	}
	// newest first
	for i := 0; i < len(out); i++ {
		for j := i + 1; j < len(out); j++ {
			if models.Less(out[i], out[j]) {
				out[i], out[j] = out[j], out[i]
			}
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Memory) SubscribeMessages(ctx context.Context, conversationID string) (<-chan Event, func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, nil, apperrors.ErrClosed
	}
	s.nextSub++
	id := s.nextSub
	sub := &memSub{ch: make(chan Event, 256)}
	if s.subs[conversationID] == nil {
		s.subs[conversationID] = make(map[int]*memSub)
	}
	s.subs[conversationID][id] = sub

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs[conversationID], id)
			s.mu.Unlock()
			sub.close()
		})
	}
	go func() {
		<-ctx.Done()
		cancel()
	}()
	return sub.ch, cancel, nil
}

func (s *Memory) CreateConversation(ctx context.Context, c *models.Conversation) (*models.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, apperrors.ErrClosed
	}
	if c.DirectKey != "" {
		if _, ok := s.direct[c.DirectKey]; ok {
			return nil, apperrors.ErrDuplicateKey
		}
	}
	s.nextID++
	stored := c.Clone()
	stored.ID = fmt.Sprintf("c%06d", s.nextID)
	stored.CreatedAt = s.now()
	s.convs[stored.ID] = stored
	if stored.DirectKey != "" {
		s.direct[stored.DirectKey] = stored.ID
	}
	return stored.Clone(), nil
}

func (s *Memory) GetConversation(ctx context.Context, id string) (*models.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.convs[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	return c.Clone(), nil
}

func (s *Memory) FindDirect(ctx context.Context, directKey string) (*models.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.direct[directKey]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	return s.convs[id].Clone(), nil
}

func (s *Memory) ListConversations(ctx context.Context, userID string) ([]*models.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Conversation
	for _, c := range s.convs {
		if c.HasMember(userID) {
			out = append(out, c.Clone())
		}
	}
	return out, nil
}

func (s *Memory) UpdateSummary(ctx context.Context, conversationID string, sum *models.MessageSummary) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.convs[conversationID]
	if !ok {
		return apperrors.ErrNotFound
	}
	// Conditional write: never regress to an older summary.
	if c.LastMessage != nil && c.LastMessage.CreatedAt.After(sum.CreatedAt) {
		return nil
	}
	cp := *sum
	c.LastMessage = &cp
	return nil
}

func (s *Memory) AddMember(ctx context.Context, conversationID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.convs[conversationID]
	if !ok {
		return apperrors.ErrNotFound
	}
	if c.HasMember(userID) {
		return nil
	}
	c.Members = append(c.Members, userID)
	return nil
}

func (s *Memory) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
