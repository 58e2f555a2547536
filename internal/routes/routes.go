package routes

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"

	"github.com/fathima-sithara/sync-service/internal/handlers"
	"github.com/fathima-sithara/sync-service/internal/ws"
)

func Register(app *fiber.App, h *handlers.Handler, wsh *ws.Handler) {
	app.Get("/health", h.Health)

	api := app.Group("/api", h.Authenticate)

	api.Post("/conversations/direct", h.CreateDirect)
	api.Post("/conversations/group", h.CreateGroup)
	api.Get("/conversations", h.ListConversations)
	api.Post("/conversations/:id/participants", h.AddParticipant)

	api.Post("/conversations/:id/open", h.OpenConversation)
	api.Post("/conversations/:id/close", h.CloseConversation)

	api.Get("/conversations/:id/messages", h.GetMessages)
	api.Post("/conversations/:id/messages", h.SendMessage)
	api.Put("/conversations/:id/messages/:localId", h.EditMessage)
	api.Post("/conversations/:id/messages/:localId/retry", h.RetryMessage)

	api.Post("/conversations/:id/typing", h.SetTyping)
	api.Get("/conversations/:id/typing", h.GetTyping)

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws", websocket.New(wsh.Serve))
}
