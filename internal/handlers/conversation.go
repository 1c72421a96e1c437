package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/utils"

	"bookhaven/server/internal/chat"
	"bookhaven/server/internal/middleware"
)

// ConversationHandler serves the conversation and message endpoints.
type ConversationHandler struct {
	svc *chat.Service
}

func NewConversationHandler(svc *chat.Service) *ConversationHandler {
	return &ConversationHandler{svc: svc}
}

// conversationID copies the :id param out of the request buffer, which
// fasthttp reuses once the handler returns.
func conversationID(c *fiber.Ctx) string {
	return utils.CopyString(c.Params("id"))
}

// List returns the caller's conversations, most recent first.
func (h *ConversationHandler) List(c *fiber.Ctx) error {
	views, err := h.svc.GetConversations(c.UserContext(), middleware.GetUserID(c))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"conversations": views})
}

// Create starts a conversation. An existing direct conversation with the
// same participant is returned with 200 instead of 201.
func (h *ConversationHandler) Create(c *fiber.Ctx) error {
	var req chat.CreateConversationRequest
	if err := c.BodyParser(&req); err != nil {
		return badBody(c)
	}

	view, created, err := h.svc.CreateConversation(c.UserContext(), middleware.GetUserID(c), req)
	if err != nil {
		return respondError(c, err)
	}

	status := fiber.StatusOK
	if created {
		status = fiber.StatusCreated
	}
	return c.Status(status).JSON(view)
}

// Messages returns one page of a conversation, oldest first.
func (h *ConversationHandler) Messages(c *fiber.Ctx) error {
	page, err := h.svc.ListMessages(
		c.UserContext(),
		middleware.GetUserID(c),
		conversationID(c),
		c.QueryInt("page", 1),
		c.QueryInt("limit", 0),
	)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(page)
}

// Send stores a message in the conversation.
func (h *ConversationHandler) Send(c *fiber.Ctx) error {
	var req chat.SendMessageRequest
	if err := c.BodyParser(&req); err != nil {
		return badBody(c)
	}

	msg, err := h.svc.SendMessage(c.UserContext(), middleware.GetUserID(c), conversationID(c), req)
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(msg)
}

// MarkRead moves the caller's read marker to now.
func (h *ConversationHandler) MarkRead(c *fiber.Ctx) error {
	id := conversationID(c)
	at, err := h.svc.MarkRead(c.UserContext(), middleware.GetUserID(c), id)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{
		"conversationId": id,
		"lastReadAt":     at,
	})
}
