// Package delivery owns the send path: optimistic local insertion, the
// durable write, and failure/retry bookkeeping. The local id doubles as the
// store-level idempotency key, so a retry after an ambiguous timeout can
// never produce a duplicate canonical message.
package delivery

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/fathima-sithara/sync-service/internal/events"
	"github.com/fathima-sithara/sync-service/internal/identity"
	"github.com/fathima-sithara/sync-service/internal/models"
	"github.com/fathima-sithara/sync-service/internal/msgstore"
	"github.com/fathima-sithara/sync-service/internal/store"
	apperrors "github.com/fathima-sithara/sync-service/pkg/errors"
)

type Options struct {
	// WriteTimeout bounds one durable write attempt. Past it the attempt is
	// an ambiguous failure.
	WriteTimeout time.Duration
	// MaxAutoRetries is how many extra attempts run without user action.
	MaxAutoRetries int
	// RetryDelay sits between automatic attempts.
	RetryDelay time.Duration
}

func (o *Options) defaults() {
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 10 * time.Second
	}
	if o.MaxAutoRetries < 0 {
		o.MaxAutoRetries = 0
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = 500 * time.Millisecond
	}
}

type outbound struct {
	msg      *models.Message
	attempts int
	inFlight bool
}

type Coordinator struct {
	store    store.Store
	msgs     *msgstore.Store
	producer *events.Producer
	breaker  *gobreaker.CircuitBreaker
	logger   *zap.SugaredLogger
	opts     Options

	mu     sync.Mutex
	outbox map[string]*outbound // localID -> pending/failed sends
	wg     sync.WaitGroup
}

func New(st store.Store, msgs *msgstore.Store, producer *events.Producer, logger *zap.SugaredLogger, opts Options) *Coordinator {
	opts.defaults()
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "durable-writes",
		Timeout: 15 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})
	return &Coordinator{
		store:    st,
		msgs:     msgs,
		producer: producer,
		breaker:  cb,
		logger:   logger,
		opts:     opts,
		outbox:   make(map[string]*outbound),
	}
}

// Send creates a provisional message, appends it locally for optimistic UI,
// and starts the durable write in the background. Returns the provisional
// entry immediately with status pending.
func (c *Coordinator) Send(ctx context.Context, sender *identity.User, conversationID string, kind models.MessageKind, content models.Content) (*models.Message, error) {
	m := &models.Message{
		LocalID:        uuid.NewString(),
		ConversationID: conversationID,
		SenderID:       sender.ID,
		SenderName:     sender.DisplayName,
		Kind:           kind,
		Content:        content,
		// provisional client timestamp; the server value replaces it on
		// confirmation
		CreatedAt: time.Now().UTC(),
		Status:    models.StatusPending,
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}

	stored, err := c.msgs.Append(m)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.outbox[m.LocalID] = &outbound{msg: m.Clone(), inFlight: true}
	c.mu.Unlock()

	c.wg.Add(1)
	go c.deliver(m.LocalID)
	return stored, nil
}

// Retry re-attempts a failed send under the same local id. No new identity
// is generated, so the durable write stays idempotent.
func (c *Coordinator) Retry(ctx context.Context, localID string) error {
	c.mu.Lock()
	o, ok := c.outbox[localID]
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("%w: no pending send %s", apperrors.ErrNotFound, localID)
	}
	if o.inFlight {
		c.mu.Unlock()
		return nil
	}
	o.attempts = 0
	o.inFlight = true
	conversationID := o.msg.ConversationID
	c.mu.Unlock()

	_ = c.msgs.SetStatus(conversationID, localID, models.StatusPending)
	c.wg.Add(1)
	go c.deliver(localID)
	return nil
}

// EditMessage rewrites a sent message's content. Sender-only; the edit
// timestamp is monotonic and rides the same idempotent write path.
func (c *Coordinator) EditMessage(ctx context.Context, sender *identity.User, conversationID, localID string, content models.Content) (*models.Message, error) {
	current, ok := c.msgs.Get(conversationID, localID)
	if !ok {
		return nil, fmt.Errorf("%w: message %s", apperrors.ErrNotFound, localID)
	}
	if current.SenderID != sender.ID {
		return nil, fmt.Errorf("%w: only the sender can edit", apperrors.ErrUnauthorized)
	}
	if !current.Confirmed() {
		// an upsert on an undelivered local id would create the document,
		// turning the edit into a send outside the outbox
		return nil, fmt.Errorf("%w: message %s is not confirmed yet", apperrors.ErrInvalidArgument, localID)
	}
	now := time.Now().UTC()
	if current.EditedAt != nil && now.Before(*current.EditedAt) {
		now = *current.EditedAt
	}
	edit := current.Clone()
	edit.Content = content
	edit.EditedAt = &now
	if err := edit.Validate(); err != nil {
		return nil, err
	}

	stored, err := c.msgs.Append(edit)
	if err != nil {
		return nil, err
	}
	writeCtx, cancel := context.WithTimeout(context.Background(), c.opts.WriteTimeout)
	defer cancel()
	if _, err := c.put(writeCtx, edit); err != nil {
		return nil, err
	}
	return stored, nil
}

func (c *Coordinator) deliver(localID string) {
	defer c.wg.Done()
	for {
		c.mu.Lock()
		o, ok := c.outbox[localID]
		if !ok {
			c.mu.Unlock()
			return
		}
		o.attempts++
		attempts := o.attempts
		msg := o.msg.Clone()
		c.mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), c.opts.WriteTimeout)
		confirmed, err := c.put(ctx, msg)
		cancel()

		if err == nil {
			c.mu.Lock()
			delete(c.outbox, localID)
			c.mu.Unlock()
			// the change feed merges the confirmed message back; status
			// clears when it lands
			pubCtx, pubCancel := context.WithTimeout(context.Background(), 5*time.Second)
			c.producer.MessageSent(pubCtx, confirmed)
			pubCancel()
			return
		}

		if apperrors.IsTransient(err) && attempts <= c.opts.MaxAutoRetries {
			c.logger.Warnw("durable write failed, retrying",
				"local_id", localID, "attempt", attempts, "err", err)
			time.Sleep(c.opts.RetryDelay)
			continue
		}

		c.logger.Warnw("send failed", "local_id", localID, "attempts", attempts, "err", err)
		c.mu.Lock()
		o.inFlight = false
		c.mu.Unlock()
		_ = c.msgs.SetStatus(msg.ConversationID, localID, models.StatusFailed)
		return
	}
}

func (c *Coordinator) put(ctx context.Context, m *models.Message) (*models.Message, error) {
	out, err := c.breaker.Execute(func() (any, error) {
		return c.store.PutMessage(ctx, m)
	})
	if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
		return nil, fmt.Errorf("%w: circuit open", apperrors.ErrTransient)
	}
	if err != nil {
		return nil, err
	}
	return out.(*models.Message), nil
}

// Flush waits for in-flight deliveries. Shutdown hook.
func (c *Coordinator) Flush() {
	c.wg.Wait()
}
