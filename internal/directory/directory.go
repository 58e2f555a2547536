// Package directory maintains each user's conversation list: direct
// conversation dedup, group creation and the denormalized last-message
// summaries. It is the only writer of summaries.
package directory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/fathima-sithara/sync-service/internal/events"
	"github.com/fathima-sithara/sync-service/internal/models"
	"github.com/fathima-sithara/sync-service/internal/store"
	apperrors "github.com/fathima-sithara/sync-service/pkg/errors"
)

type Directory struct {
	store  store.Store
	pub    *events.Publisher
	logger *zap.SugaredLogger
}

func New(st store.Store, pub *events.Publisher, logger *zap.SugaredLogger) *Directory {
	return &Directory{store: st, pub: pub, logger: logger}
}

// GetOrCreateDirect returns the direct conversation between the two users,
// creating it if absent. Two sessions racing to create the same pair
// converge on one conversation: both compute the same DirectKey, the store's
// uniqueness constraint picks a winner, and the loser looks the winner up
// instead of erroring.
func (d *Directory) GetOrCreateDirect(ctx context.Context, userID, otherID string) (*models.Conversation, error) {
	if userID == "" || otherID == "" || userID == otherID {
		return nil, fmt.Errorf("%w: direct conversation requires two distinct users", apperrors.ErrInvalidArgument)
	}
	key := models.DirectKeyFor(userID, otherID)

	if c, err := d.store.FindDirect(ctx, key); err == nil {
		return c, nil
	} else if !errors.Is(err, apperrors.ErrNotFound) {
		return nil, err
	}

	c := &models.Conversation{
		Members:   []string{userID, otherID},
		IsGroup:   false,
		DirectKey: key,
		CreatedBy: userID,
	}
	created, err := d.store.CreateConversation(ctx, c)
	if err == nil {
		d.pub.ConversationCreated(created)
		return created, nil
	}
	if errors.Is(err, apperrors.ErrDuplicateKey) {
		// lost the race; the winner's conversation is the answer
		return d.store.FindDirect(ctx, key)
	}
	return nil, err
}

// CreateGroup creates a group conversation. The creator is always a member;
// fewer than 2 unique members after dedup fails with ErrInvalidArgument.
func (d *Directory) CreateGroup(ctx context.Context, creatorID string, memberIDs []string, name string) (*models.Conversation, error) {
	seen := map[string]bool{creatorID: true}
	members := []string{creatorID}
	for _, id := range memberIDs {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		members = append(members, id)
	}
	if len(members) < 2 {
		return nil, fmt.Errorf("%w: group requires at least 2 unique members", apperrors.ErrInvalidArgument)
	}

	c := &models.Conversation{
		Members:   members,
		IsGroup:   true,
		Name:      name,
		CreatedBy: creatorID,
	}
	created, err := d.store.CreateConversation(ctx, c)
	if err != nil {
		return nil, err
	}
	d.pub.ConversationCreated(created)
	return created, nil
}

// AddParticipant grows a group. Direct conversations are immutable.
func (d *Directory) AddParticipant(ctx context.Context, conversationID, userID string) error {
	c, err := d.store.GetConversation(ctx, conversationID)
	if err != nil {
		return err
	}
	if !c.IsGroup {
		return fmt.Errorf("%w: direct conversations cannot gain members", apperrors.ErrInvalidArgument)
	}
	return d.store.AddMember(ctx, conversationID, userID)
}

// List returns the user's conversations, most recently active first.
func (d *Directory) List(ctx context.Context, userID string) ([]*models.Conversation, error) {
	convs, err := d.store.ListConversations(ctx, userID)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(convs, func(i, j int) bool {
		return activity(convs[i]).After(activity(convs[j]))
	})
	return convs, nil
}

func activity(c *models.Conversation) time.Time {
	if c.LastMessage != nil {
		return c.LastMessage.CreatedAt
	}
	return c.CreatedAt
}

// UpdateSummary records m as the conversation's newest message. Idempotent:
// the store-level condition discards older-or-equal updates, so repeated or
// out-of-order calls from multiple sessions cannot regress the summary.
func (d *Directory) UpdateSummary(ctx context.Context, conversationID string, m *models.Message) error {
	if !m.Confirmed() {
		// provisional entries have no stable identity to point at
		return nil
	}
	return d.store.UpdateSummary(ctx, conversationID, models.Summarize(m))
}
