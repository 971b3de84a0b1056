package handlers

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"strings"

	"sugarconnect/internal/middleware"
	"sugarconnect/internal/services"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
	"github.com/valyala/fasthttp"
)

// MessageHandler handles HTTP requests for conversations and messages.
type MessageHandler struct {
	messages      *services.MessageService
	conversations *services.ConversationService
	validate      *validator.Validate
	log           logrus.FieldLogger
}

// NewMessageHandler creates a new MessageHandler.
func NewMessageHandler(messages *services.MessageService, conversations *services.ConversationService, log logrus.FieldLogger) *MessageHandler {
	return &MessageHandler{
		messages:      messages,
		conversations: conversations,
		validate:      validator.New(),
		log:           log,
	}
}

// RegisterRoutes registers the messaging routes. auth runs before every route.
func (h *MessageHandler) RegisterRoutes(router fiber.Router, auth fiber.Handler) {
	router.Get("/conversations", auth, h.HandleListConversations)
	router.Get("/messages/:counterpartId", auth, h.HandleGetMessages)
	router.Post("/messages/:counterpartId", auth, h.HandleSendMessage)
}

// HandleListConversations returns the caller's inbox.
func (h *MessageHandler) HandleListConversations(c *fiber.Ctx) error {
	session, _ := middleware.SessionFrom(c)
	list, err := h.conversations.ListConversations(c.UserContext(), session)
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(list)
}

// HandleGetMessages returns the messages exchanged with the counterpart.
func (h *MessageHandler) HandleGetMessages(c *fiber.Ctx) error {
	session, _ := middleware.SessionFrom(c)
	msgs, err := h.messages.GetMessages(c.UserContext(), session, c.Params("counterpartId"))
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(msgs)
}

// HandleSendMessage appends a message from the caller to the counterpart.
// It accepts multipart or url-encoded forms with senderId, text and image.
func (h *MessageHandler) HandleSendMessage(c *fiber.Ctx) error {
	session, _ := middleware.SessionFrom(c)

	if senderID := c.FormValue("senderId"); senderID != "" && senderID != session.UserID {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
			"message": "senderId does not match the authenticated user",
		})
	}

	cmd := services.SendMessageCommand{
		SenderID:    session.UserID,
		RecipientID: c.Params("counterpartId"),
		Text:        strings.TrimSpace(c.FormValue("text")),
	}

	image, err := formImage(c, "image")
	if err != nil {
		return badRequest(c, err)
	}
	cmd.Image = image

	if err := h.validate.Struct(cmd); err != nil {
		return respondValidation(c, err)
	}

	msg, err := h.messages.SendMessage(c.UserContext(), cmd)
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.Status(fiber.StatusCreated).JSON(msg)
}

// formImage reads an optional uploaded file. A missing field is not an error.
func formImage(c *fiber.Ctx, field string) (*services.ImagePayload, error) {
	if !strings.HasPrefix(c.Get(fiber.HeaderContentType), fiber.MIMEMultipartForm) {
		return nil, nil
	}
	fh, err := c.FormFile(field)
	if err != nil {
		if errors.Is(err, fasthttp.ErrMissingFile) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read %s: %w", field, err)
	}
	data, err := readFormFile(fh)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, nil
	}

	contentType := fh.Header.Get(fiber.HeaderContentType)
	if contentType == "" || contentType == fiber.MIMEOctetStream {
		contentType = mimetype.Detect(data).String()
	}
	return &services.ImagePayload{Data: data, ContentType: contentType}, nil
}

func readFormFile(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open upload %s: %w", fh.Filename, err)
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read upload %s: %w", fh.Filename, err)
	}
	return data, nil
}
