package events

import (
	"encoding/json"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/fathima-sithara/sync-service/internal/models"
)

const subjectConversationCreated = "conversation.created"

type ConversationCreatedEvent struct {
	ConversationID string   `json:"conversation_id"`
	Members        []string `json:"members"`
	Name           string   `json:"name,omitempty"`
	IsGroup        bool     `json:"is_group"`
	CreatedBy      string   `json:"created_by"`
}

// Publisher emits conversation lifecycle events over NATS. Best-effort: a
// nil Publisher or a failed publish never fails the caller.
type Publisher struct {
	nc     *nats.Conn
	logger *zap.SugaredLogger
}

func NewPublisher(url string, logger *zap.SugaredLogger) (*Publisher, error) {
	nc, err := nats.Connect(url)
	if err != nil {
		return nil, err
	}
	return &Publisher{nc: nc, logger: logger}, nil
}

func (p *Publisher) ConversationCreated(c *models.Conversation) {
	if p == nil || p.nc == nil {
		return
	}
	ev := ConversationCreatedEvent{
		ConversationID: c.ID,
		Members:        c.Members,
		Name:           c.Name,
		IsGroup:        c.IsGroup,
		CreatedBy:      c.CreatedBy,
	}
	b, _ := json.Marshal(ev)
	if err := p.nc.Publish(subjectConversationCreated, b); err != nil {
		p.logger.Warnw("publish conversation.created", "err", err)
	}
}

func (p *Publisher) Close() {
	if p != nil && p.nc != nil {
		p.nc.Close()
	}
}
