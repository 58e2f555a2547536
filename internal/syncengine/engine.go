// Package syncengine binds a client session's live view of a conversation
// to the union of optimistic local state and the canonical remote log. One
// reference-counted subscription per conversation primes from the store,
// then follows the change feed, reconnecting forever with capped backoff
// while anyone still holds the conversation open.
package syncengine

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/fathima-sithara/sync-service/internal/directory"
	"github.com/fathima-sithara/sync-service/internal/models"
	"github.com/fathima-sithara/sync-service/internal/msgstore"
	"github.com/fathima-sithara/sync-service/internal/store"
)

type State int32

const (
	StateIdle State = iota
	StateSubscribing
	StateLive
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateSubscribing:
		return "subscribing"
	case StateLive:
		return "live"
	case StateClosed:
		return "closed"
	default:
		return "idle"
	}
}

type Options struct {
	// PrimePageSize is the initial bulk fetch size.
	PrimePageSize int
	// BackoffBase/BackoffMax bound the reconnect delay.
	BackoffBase time.Duration
	BackoffMax  time.Duration
}

func (o *Options) defaults() {
	if o.PrimePageSize <= 0 {
		o.PrimePageSize = 100
	}
	if o.BackoffBase <= 0 {
		o.BackoffBase = 200 * time.Millisecond
	}
	if o.BackoffMax <= 0 {
		o.BackoffMax = 5 * time.Second
	}
}

type subscription struct {
	conversationID string
	refs           int
	state          atomic.Int32
	// interested gates every dispatch and feed-forward. Cleared
	// synchronously on close so no notification outlives CloseConversation,
	// even while the transport teardown is still in flight.
	interested atomic.Bool
	cancel     context.CancelFunc
	done       chan struct{}
}

type Engine struct {
	store  store.Store
	msgs   *msgstore.Store
	dir    *directory.Directory
	logger *zap.SugaredLogger
	opts   Options

	mu   sync.Mutex
	subs map[string]*subscription
}

func New(st store.Store, msgs *msgstore.Store, dir *directory.Directory, logger *zap.SugaredLogger, opts Options) *Engine {
	opts.defaults()
	e := &Engine{
		store:  st,
		msgs:   msgs,
		dir:    dir,
		logger: logger,
		opts:   opts,
		subs:   make(map[string]*subscription),
	}
	// sole call site for summary updates (directory is the sole writer)
	msgs.SetAppendHook(e.onNewest)
	return e
}

func (e *Engine) onNewest(conversationID string, m *models.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := e.dir.UpdateSummary(ctx, conversationID, m); err != nil {
		e.logger.Warnw("update summary", "conversation", conversationID, "err", err)
	}
}

// OpenConversation starts (or joins) the live subscription for a
// conversation. Idempotent: repeat opens share one underlying subscription
// via reference counting.
func (e *Engine) OpenConversation(conversationID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if sub, ok := e.subs[conversationID]; ok {
		sub.refs++
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	sub := &subscription{
		conversationID: conversationID,
		refs:           1,
		cancel:         cancel,
		done:           make(chan struct{}),
	}
	sub.interested.Store(true)
	sub.state.Store(int32(StateSubscribing))
	e.subs[conversationID] = sub
	go e.run(ctx, sub)
}

// CloseConversation drops one reference. The underlying subscription tears
// down only when the count reaches zero; delivery stops before this returns.
func (e *Engine) CloseConversation(conversationID string) {
	e.mu.Lock()
	sub, ok := e.subs[conversationID]
	if !ok {
		e.mu.Unlock()
		return
	}
	sub.refs--
	if sub.refs > 0 {
		e.mu.Unlock()
		return
	}
	delete(e.subs, conversationID)
	e.mu.Unlock()

	sub.interested.Store(false)
	sub.state.Store(int32(StateClosed))
	sub.cancel()
}

// Status reports the subscription state; Idle when the conversation is not
// open.
func (e *Engine) Status(conversationID string) State {
	e.mu.Lock()
	sub, ok := e.subs[conversationID]
	e.mu.Unlock()
	if !ok {
		return StateIdle
	}
	return State(sub.state.Load())
}

// Listen exposes the reconciled per-conversation stream. The cancel handle
// stops delivery synchronously.
func (e *Engine) Listen(conversationID string, fn msgstore.Listener) (cancel func()) {
	return e.msgs.Subscribe(conversationID, fn)
}

// Query reads the reconciled local log. Non-blocking.
func (e *Engine) Query(conversationID string, limit int, before *msgstore.Cursor) ([]*models.Message, error) {
	return e.msgs.Query(conversationID, limit, before)
}

func (e *Engine) run(ctx context.Context, sub *subscription) {
	defer close(sub.done)
	backoff := e.opts.BackoffBase

	for sub.interested.Load() && ctx.Err() == nil {
		sub.state.Store(int32(StateSubscribing))

		// subscribe before priming so nothing slips between the bulk fetch
		// and the first feed event; idempotent appends absorb the overlap
		feed, stop, err := e.store.SubscribeMessages(ctx, sub.conversationID)
		if err != nil {
			e.logger.Warnw("subscribe failed, reconnecting",
				"conversation", sub.conversationID, "err", err)
			backoff = e.sleep(ctx, backoff)
			continue
		}

		e.msgs.Track(sub.conversationID)
		page, err := e.store.QueryMessages(ctx, sub.conversationID, e.opts.PrimePageSize, time.Time{})
		if err != nil {
			stop()
			e.logger.Warnw("prime failed, reconnecting",
				"conversation", sub.conversationID, "err", err)
			backoff = e.sleep(ctx, backoff)
			continue
		}
		for _, m := range page {
			if !sub.interested.Load() {
				break
			}
			e.forward(sub.conversationID, store.Event{Type: store.EventInserted, Message: m})
		}

		sub.state.Store(int32(StateLive))
		backoff = e.opts.BackoffBase

		for ev := range feed {
			if !sub.interested.Load() {
				break
			}
			e.forward(sub.conversationID, ev)
		}
		stop()

		if sub.interested.Load() && ctx.Err() == nil {
			e.logger.Infow("change feed dropped, reconnecting",
				"conversation", sub.conversationID)
			backoff = e.sleep(ctx, backoff)
		}
	}
	sub.state.Store(int32(StateClosed))
}

// forward applies one canonical event to the local log. Reconciliation is
// keyed by local_id/id inside the message store, so arrival order does not
// matter.
func (e *Engine) forward(conversationID string, ev store.Event) {
	switch ev.Type {
	case store.EventRemoved:
		e.msgs.Remove(conversationID, ev.Message.SortID())
	default:
		if _, err := e.msgs.Append(ev.Message); err != nil {
			e.logger.Warnw("apply feed event", "conversation", conversationID, "err", err)
		}
	}
}

// sleep waits out the current backoff and returns the next one, doubled and
// capped.
func (e *Engine) sleep(ctx context.Context, backoff time.Duration) time.Duration {
	t := time.NewTimer(backoff)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
	next := backoff * 2
	if next > e.opts.BackoffMax {
		next = e.opts.BackoffMax
	}
	return next
}

// Shutdown closes every open subscription and waits for their loops.
func (e *Engine) Shutdown() {
	e.mu.Lock()
	subs := make([]*subscription, 0, len(e.subs))
	for id, sub := range e.subs {
		subs = append(subs, sub)
		delete(e.subs, id)
	}
	e.mu.Unlock()

	for _, sub := range subs {
		sub.interested.Store(false)
		sub.cancel()
	}
	for _, sub := range subs {
		<-sub.done
	}
}
