// Package msgstore owns the canonical, deduplicated, ordered message
// sequence per conversation. Provisional local sends and confirmed remote
// writes both land here through Append, which merges entries sharing a
// local_id so exactly one message per local_id ever exists.
package msgstore

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fathima-sithara/sync-service/internal/models"
	apperrors "github.com/fathima-sithara/sync-service/pkg/errors"
)

type ChangeKind int

const (
	Appended ChangeKind = iota
	Merged
	Removed
)

// Change is one mutation notification delivered to subscribers. Delivery is
// at-least-once; a listener must tolerate repeats.
type Change struct {
	Kind    ChangeKind
	Message *models.Message
}

type Listener func(Change)

// Cursor addresses a position in the (createdAt, id) total order for
// pagination.
type Cursor struct {
	CreatedAt time.Time
	ID        string
}

// AppendHook runs after a confirmed message becomes the newest entry of its
// conversation. The sync engine points it at the conversation directory's
// summary update, which keeps exactly one writer for last-message summaries.
type AppendHook func(conversationID string, newest *models.Message)

type Store struct {
	mu      sync.Mutex
	logs    map[string][]*models.Message          // ascending (createdAt, id) order
	byLocal map[string]map[string]*models.Message // conversationID -> localID
	subs    map[string]map[int]*subscriber
	nextSub int
	hook    AppendHook
	logger  *zap.SugaredLogger
}

// subscriber serializes dispatch against close: the mutex is held for the
// duration of every listener call, so close returns only once no dispatch is
// in flight and no later one can start.
type subscriber struct {
	mu     sync.Mutex
	fn     Listener
	closed bool
}

func (s *subscriber) dispatch(c Change) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.fn(c)
}

func (s *subscriber) close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}

func New(logger *zap.SugaredLogger) *Store {
	return &Store{
		logs:    make(map[string][]*models.Message),
		byLocal: make(map[string]map[string]*models.Message),
		subs:    make(map[string]map[int]*subscriber),
		logger:  logger,
	}
}

// SetAppendHook registers the append-completion hook. Must be called before
// traffic starts.
func (s *Store) SetAppendHook(h AppendHook) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hook = h
}

// Track marks a conversation as locally known. Query on an untracked
// conversation fails with ErrNotFound so callers prime metadata first.
func (s *Store) Track(conversationID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.track(conversationID)
}

func (s *Store) track(conversationID string) {
	if _, ok := s.byLocal[conversationID]; !ok {
		s.byLocal[conversationID] = make(map[string]*models.Message)
		s.logs[conversationID] = nil
	}
}

// Append inserts a new message or merges with the entry sharing its
// local_id. A confirmed message with no provisional counterpart (sent from
// another device, or an evicted provisional) is inserted as new. Returns the
// stored message.
func (s *Store) Append(m *models.Message) (*models.Message, error) {
	if m.LocalID == "" || m.ConversationID == "" {
		return nil, fmt.Errorf("%w: message requires local_id and conversation_id", apperrors.ErrInvalidArgument)
	}

	s.mu.Lock()
	s.track(m.ConversationID)
	byLocal := s.byLocal[m.ConversationID]

	var (
		stored *models.Message
		kind   ChangeKind
	)
	if existing, ok := byLocal[m.LocalID]; ok {
		s.merge(existing, m)
		stored = existing
		kind = Merged
	} else {
		stored = m.Clone()
		byLocal[m.LocalID] = stored
		s.insertSorted(m.ConversationID, stored)
		kind = Appended
	}

	log := s.logs[m.ConversationID]
	newest := len(log) > 0 && log[len(log)-1] == stored
	hook := s.hook
	out := stored.Clone()
	targets := s.listeners(m.ConversationID)
	s.mu.Unlock()

	if newest && stored.Confirmed() && hook != nil {
		hook(m.ConversationID, out.Clone())
	}
	notify(targets, Change{Kind: kind, Message: out.Clone()})
	return out, nil
}

// merge folds an incoming write into the stored entry. Confirmed fields win:
// the server timestamp overwrites the provisional one, never blends with it.
func (s *Store) merge(existing, in *models.Message) {
	if in.Confirmed() {
		existing.ID = in.ID
		existing.CreatedAt = in.CreatedAt
		existing.Content = in.Content
		existing.Status = ""
		// confirmed position may differ from the provisional guess
		s.resort(existing.ConversationID)
	} else if in.Status != "" {
		existing.Status = in.Status
	}
	if in.EditedAt != nil && (existing.EditedAt == nil || !in.EditedAt.Before(*existing.EditedAt)) {
		t := *in.EditedAt
		existing.EditedAt = &t
		existing.Content = in.Content
	}
}

// SetStatus flips the client-local delivery status of a provisional entry.
func (s *Store) SetStatus(conversationID, localID string, status models.MessageStatus) error {
	s.mu.Lock()
	existing, ok := s.byLocal[conversationID][localID]
	if !ok {
		s.mu.Unlock()
		return apperrors.ErrNotFound
	}
	existing.Status = status
	out := existing.Clone()
	targets := s.listeners(conversationID)
	s.mu.Unlock()

	notify(targets, Change{Kind: Merged, Message: out})
	return nil
}

// Get returns the stored entry for a local id.
func (s *Store) Get(conversationID, localID string) (*models.Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.byLocal[conversationID][localID]
	if !ok {
		return nil, false
	}
	return m.Clone(), true
}

// Remove drops an entry, keyed by canonical or local id.
func (s *Store) Remove(conversationID, id string) {
	s.mu.Lock()
	log := s.logs[conversationID]
	var removed *models.Message
	for i, m := range log {
		if m.ID == id || m.LocalID == id {
			removed = m
			s.logs[conversationID] = append(log[:i], log[i+1:]...)
			delete(s.byLocal[conversationID], m.LocalID)
			break
		}
	}
	var targets []*subscriber
	if removed != nil {
		targets = s.listeners(conversationID)
	}
	s.mu.Unlock()

	if removed != nil {
		notify(targets, Change{Kind: Removed, Message: removed.Clone()})
	}
}

// Query returns the most recent limit messages older than before (or the
// newest page when before is nil), newest first. Never blocks.
func (s *Store) Query(conversationID string, limit int, before *Cursor) ([]*models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	log, ok := s.logs[conversationID]
	if _, tracked := s.byLocal[conversationID]; !tracked || !ok {
		return nil, fmt.Errorf("%w: conversation %s not tracked", apperrors.ErrNotFound, conversationID)
	}

	var out []*models.Message
	for i := len(log) - 1; i >= 0; i-- {
		m := log[i]
		if before != nil && !olderThan(m, before) {
			continue
		}
		out = append(out, m.Clone())
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func olderThan(m *models.Message, c *Cursor) bool {
	if !m.CreatedAt.Equal(c.CreatedAt) {
		return m.CreatedAt.Before(c.CreatedAt)
	}
	return m.SortID() < c.ID
}

// Subscribe registers a listener for every append/merge/removal in the
// conversation. The returned cancel stops delivery synchronously: it waits
// out any in-flight dispatch, and after it returns the listener is never
// invoked again. A listener must not call its own cancel from inside the
// callback.
func (s *Store) Subscribe(conversationID string, fn Listener) (cancel func()) {
	s.mu.Lock()
	s.track(conversationID)
	s.nextSub++
	id := s.nextSub
	sub := &subscriber{fn: fn}
	if s.subs[conversationID] == nil {
		s.subs[conversationID] = make(map[int]*subscriber)
	}
	s.subs[conversationID][id] = sub
	s.mu.Unlock()

	return func() {
		sub.close()
		s.mu.Lock()
		delete(s.subs[conversationID], id)
		s.mu.Unlock()
	}
}

func (s *Store) listeners(conversationID string) []*subscriber {
	var out []*subscriber
	for _, sub := range s.subs[conversationID] {
		out = append(out, sub)
	}
	return out
}

func notify(subs []*subscriber, c Change) {
	for _, sub := range subs {
		sub.dispatch(c)
	}
}

func (s *Store) insertSorted(conversationID string, m *models.Message) {
	log := s.logs[conversationID]
	i := sort.Search(len(log), func(i int) bool { return models.Less(m, log[i]) })
	log = append(log, nil)
	copy(log[i+1:], log[i:])
	log[i] = m
	s.logs[conversationID] = log
}

func (s *Store) resort(conversationID string) {
	log := s.logs[conversationID]
	sort.SliceStable(log, func(i, j int) bool { return models.Less(log[i], log[j]) })
}
