package ws

import (
	"encoding/json"
	"time"

	"github.com/gofiber/websocket/v2"
	"golang.org/x/time/rate"

	"github.com/fathima-sithara/sync-service/internal/identity"
)

// Envelope is the JSON frame exchanged with the UI.
type Envelope struct {
	Type    string          `json:"type"` // "message", "typing", "status", "error"
	Payload json.RawMessage `json:"payload,omitempty"`
}

func envelope(typ string, payload any) Envelope {
	b, _ := json.Marshal(payload)
	return Envelope{Type: typ, Payload: b}
}

type Client struct {
	user           *identity.User
	conversationID string
	conn           *websocket.Conn
	send           chan []byte
	// limiter bounds inbound frames per client
	limiter *rate.Limiter
}

func NewClient(conn *websocket.Conn, user *identity.User, conversationID string) *Client {
	return &Client{
		user:           user,
		conversationID: conversationID,
		conn:           conn,
		send:           make(chan []byte, 256),
		limiter:        rate.NewLimiter(rate.Limit(20), 40),
	}
}

// Enqueue hands a frame to the write pump; drops when the client is too far
// behind rather than blocking the broadcaster.
func (c *Client) Enqueue(b []byte) {
	select {
	case c.send <- b:
	default:
	}
}

func (c *Client) EnqueueJSON(env Envelope) {
	b, err := json.Marshal(env)
	if err != nil {
		return
	}
	c.Enqueue(b)
}

func (c *Client) writePump(pingInterval, writeDeadline time.Duration) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case b, ok := <-c.send:
			if !ok {
				_ = c.conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
					time.Now().Add(time.Second))
				return
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := c.conn.WriteMessage(websocket.TextMessage, b); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(time.Second)); err != nil {
				return
			}
		}
	}
}
