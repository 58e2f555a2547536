package handlers

import (
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/fathima-sithara/sync-service/internal/delivery"
	"github.com/fathima-sithara/sync-service/internal/directory"
	"github.com/fathima-sithara/sync-service/internal/identity"
	"github.com/fathima-sithara/sync-service/internal/models"
	"github.com/fathima-sithara/sync-service/internal/msgstore"
	"github.com/fathima-sithara/sync-service/internal/presence"
	"github.com/fathima-sithara/sync-service/internal/syncengine"
	apperrors "github.com/fathima-sithara/sync-service/pkg/errors"
)

const localUser = "user"

type Handler struct {
	dir     *directory.Directory
	engine  *syncengine.Engine
	coord   *delivery.Coordinator
	tracker presence.Tracker
	ident   identity.Provider
	logger  *zap.SugaredLogger
}

func New(dir *directory.Directory, engine *syncengine.Engine, coord *delivery.Coordinator, tracker presence.Tracker, ident identity.Provider, logger *zap.SugaredLogger) *Handler {
	return &Handler{dir: dir, engine: engine, coord: coord, tracker: tracker, ident: ident, logger: logger}
}

// Authenticate resolves the caller through the identity provider and stashes
// the user in locals.
func (h *Handler) Authenticate(c *fiber.Ctx) error {
	token := strings.TrimPrefix(c.Get("Authorization"), "Bearer ")
	if token == "" {
		token = c.Query("token")
	}
	if token == "" {
		return fail(c, apperrors.ErrUnauthorized)
	}
	user, err := h.ident.FromToken(token)
	if err != nil {
		return fail(c, err)
	}
	c.Locals(localUser, user)
	return c.Next()
}

func currentUser(c *fiber.Ctx) *identity.User {
	u, _ := c.Locals(localUser).(*identity.User)
	return u
}

func fail(c *fiber.Ctx, err error) error {
	return c.Status(apperrors.HTTPStatusFromError(err)).JSON(fiber.Map{"error": err.Error()})
}

type directReq struct {
	OtherUserID string `json:"other_user_id"`
}

func (h *Handler) CreateDirect(c *fiber.Ctx) error {
	var req directReq
	if err := c.BodyParser(&req); err != nil {
		return fail(c, apperrors.ErrInvalidArgument)
	}
	conv, err := h.dir.GetOrCreateDirect(c.Context(), currentUser(c).ID, req.OtherUserID)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(conv)
}

type groupReq struct {
	Name      string   `json:"name"`
	MemberIDs []string `json:"member_ids"`
}

func (h *Handler) CreateGroup(c *fiber.Ctx) error {
	var req groupReq
	if err := c.BodyParser(&req); err != nil {
		return fail(c, apperrors.ErrInvalidArgument)
	}
	conv, err := h.dir.CreateGroup(c.Context(), currentUser(c).ID, req.MemberIDs, req.Name)
	if err != nil {
		return fail(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(conv)
}

type participantReq struct {
	UserID string `json:"user_id"`
}

func (h *Handler) AddParticipant(c *fiber.Ctx) error {
	var req participantReq
	if err := c.BodyParser(&req); err != nil || req.UserID == "" {
		return fail(c, apperrors.ErrInvalidArgument)
	}
	if err := h.dir.AddParticipant(c.Context(), c.Params("id"), req.UserID); err != nil {
		return fail(c, err)
	}
	return c.JSON(fiber.Map{"ok": true})
}

type conversationView struct {
	*models.Conversation
	DisplayName string `json:"display_name"`
}

func (h *Handler) ListConversations(c *fiber.Ctx) error {
	user := currentUser(c)
	convs, err := h.dir.List(c.Context(), user.ID)
	if err != nil {
		return fail(c, err)
	}
	views := make([]conversationView, 0, len(convs))
	for _, conv := range convs {
		views = append(views, conversationView{Conversation: conv, DisplayName: conv.DisplayNameFor(user.ID)})
	}
	return c.JSON(fiber.Map{"conversations": views})
}

func (h *Handler) OpenConversation(c *fiber.Ctx) error {
	h.engine.OpenConversation(c.Params("id"))
	return c.JSON(fiber.Map{"state": h.engine.Status(c.Params("id")).String()})
}

func (h *Handler) CloseConversation(c *fiber.Ctx) error {
	h.engine.CloseConversation(c.Params("id"))
	return c.JSON(fiber.Map{"state": h.engine.Status(c.Params("id")).String()})
}

func (h *Handler) GetMessages(c *fiber.Ctx) error {
	limit, _ := strconv.Atoi(c.Query("limit", "50"))
	var before *msgstore.Cursor
	if ts := c.Query("before_ts"); ts != "" {
		t, err := time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return fail(c, apperrors.ErrInvalidArgument)
		}
		before = &msgstore.Cursor{CreatedAt: t, ID: c.Query("before_id")}
	}
	msgs, err := h.engine.Query(c.Params("id"), limit, before)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(fiber.Map{"messages": msgs})
}

type sendReq struct {
	Kind      models.MessageKind `json:"kind"`
	Text      string             `json:"text"`
	MediaURL  string             `json:"media_url"`
	MediaName string             `json:"media_name"`
	MediaSize int64              `json:"media_size"`
}

func (req *sendReq) content() models.Content {
	return models.Content{
		Text:      req.Text,
		MediaURL:  req.MediaURL,
		MediaName: req.MediaName,
		MediaSize: req.MediaSize,
	}
}

func (h *Handler) SendMessage(c *fiber.Ctx) error {
	var req sendReq
	if err := c.BodyParser(&req); err != nil {
		return fail(c, apperrors.ErrInvalidArgument)
	}
	if req.Kind == "" {
		req.Kind = models.KindText
	}
	msg, err := h.coord.Send(c.Context(), currentUser(c), c.Params("id"), req.Kind, req.content())
	if err != nil {
		return fail(c, err)
	}
	return c.Status(fiber.StatusAccepted).JSON(msg)
}

func (h *Handler) RetryMessage(c *fiber.Ctx) error {
	if err := h.coord.Retry(c.Context(), c.Params("localId")); err != nil {
		return fail(c, err)
	}
	return c.JSON(fiber.Map{"ok": true})
}

func (h *Handler) EditMessage(c *fiber.Ctx) error {
	var req sendReq
	if err := c.BodyParser(&req); err != nil {
		return fail(c, apperrors.ErrInvalidArgument)
	}
	msg, err := h.coord.EditMessage(c.Context(), currentUser(c), c.Params("id"), c.Params("localId"), req.content())
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(msg)
}

type typingReq struct {
	IsTyping bool `json:"is_typing"`
}

func (h *Handler) SetTyping(c *fiber.Ctx) error {
	var req typingReq
	if err := c.BodyParser(&req); err != nil {
		return fail(c, apperrors.ErrInvalidArgument)
	}
	if err := h.tracker.SetTyping(c.Context(), c.Params("id"), currentUser(c).ID, req.IsTyping); err != nil {
		return fail(c, err)
	}
	return c.JSON(fiber.Map{"ok": true})
}

func (h *Handler) GetTyping(c *fiber.Ctx) error {
	users, err := h.tracker.GetTyping(c.Context(), c.Params("id"))
	if err != nil {
		return fail(c, err)
	}
	if users == nil {
		users = []string{}
	}
	return c.JSON(fiber.Map{"typing": users})
}

func (h *Handler) Health(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "ok"})
}
