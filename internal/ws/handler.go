package ws

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/fathima-sithara/sync-service/internal/identity"
	"github.com/fathima-sithara/sync-service/internal/msgstore"
	"github.com/fathima-sithara/sync-service/internal/presence"
	"github.com/fathima-sithara/sync-service/internal/syncengine"
)

type typingPayload struct {
	UserID   string `json:"user_id,omitempty"`
	IsTyping bool   `json:"is_typing"`
}

type statusPayload struct {
	State string `json:"state"`
}

type Handler struct {
	hub     *Hub
	engine  *syncengine.Engine
	tracker presence.Tracker
	ident   identity.Provider
	logger  *zap.SugaredLogger

	pingInterval  time.Duration
	writeDeadline time.Duration
	readDeadline  time.Duration
	maxMsgSize    int64
}

func NewHandler(hub *Hub, engine *syncengine.Engine, tracker presence.Tracker, ident identity.Provider, logger *zap.SugaredLogger) *Handler {
	return &Handler{
		hub:           hub,
		engine:        engine,
		tracker:       tracker,
		ident:         ident,
		logger:        logger,
		pingInterval:  30 * time.Second,
		writeDeadline: 10 * time.Second,
		readDeadline:  60 * time.Second,
		maxMsgSize:    64 * 1024,
	}
}

// Serve handles one upgraded connection: /ws?token=<jwt>&conversation_id=<id>.
func (h *Handler) Serve(conn *websocket.Conn) {
	token := conn.Query("token")
	conversationID := conn.Query("conversation_id")
	if token == "" || conversationID == "" {
		_ = conn.WriteJSON(envelope("error", "missing token or conversation_id"))
		_ = conn.Close()
		return
	}
	user, err := h.ident.FromToken(token)
	if err != nil {
		_ = conn.WriteJSON(envelope("error", "invalid token"))
		_ = conn.Close()
		return
	}

	client := NewClient(conn, user, conversationID)
	h.hub.Join(conversationID, client)
	h.engine.OpenConversation(conversationID)

	// forward the reconciled stream to this client
	cancelListen := h.engine.Listen(conversationID, func(c msgstore.Change) {
		switch c.Kind {
		case msgstore.Removed:
			client.EnqueueJSON(envelope("message_removed", c.Message))
		default:
			client.EnqueueJSON(envelope("message", c.Message))
		}
	})

	client.EnqueueJSON(envelope("status", statusPayload{State: h.engine.Status(conversationID).String()}))

	go client.writePump(h.pingInterval, h.writeDeadline)
	h.readPump(client)

	cancelListen()
	h.engine.CloseConversation(conversationID)
	h.hub.Leave(conversationID, client)
	close(client.send)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := h.tracker.SetTyping(ctx, conversationID, user.ID, false); err != nil {
		h.logger.Debugw("clear typing on disconnect", "err", err)
	}
}

func (h *Handler) readPump(c *Client) {
	c.conn.SetReadLimit(h.maxMsgSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(h.readDeadline))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(h.readDeadline))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		if !c.limiter.Allow() {
			c.EnqueueJSON(envelope("error", "rate limited"))
			continue
		}
		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			continue
		}
		h.handleInbound(c, env)
	}
}

func (h *Handler) handleInbound(c *Client, env Envelope) {
	switch env.Type {
	case "typing":
		var p typingPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := h.tracker.SetTyping(ctx, c.conversationID, c.user.ID, p.IsTyping); err != nil {
			h.logger.Debugw("set typing", "err", err)
			return
		}
		h.hub.Broadcast(c.conversationID, c, envelope("typing", typingPayload{
			UserID:   c.user.ID,
			IsTyping: p.IsTyping,
		}))
	default:
		// messages go through the REST send path, not the socket
	}
}
