package inbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"sugarconnect/internal/apperr"
	"sugarconnect/internal/models"
	"sugarconnect/internal/services"

	"github.com/gofiber/fiber/v2"
)

const defaultTimeout = 15 * time.Second

// APIError is a non-2xx response. It unwraps to the matching apperr kind.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server responded %d", e.Status)
	}
	return fmt.Sprintf("server responded %d: %s", e.Status, e.Message)
}

func (e *APIError) Unwrap() error {
	switch e.Status {
	case fiber.StatusBadRequest:
		return apperr.ErrValidation
	case fiber.StatusUnauthorized:
		return apperr.ErrUnauthorized
	case fiber.StatusPaymentRequired:
		return apperr.ErrInsufficientCredits
	case fiber.StatusForbidden:
		return apperr.ErrForbidden
	case fiber.StatusNotFound:
		return apperr.ErrNotFound
	case fiber.StatusConflict:
		return apperr.ErrConflict
	case fiber.StatusServiceUnavailable, fiber.StatusBadGateway, fiber.StatusGatewayTimeout:
		return apperr.ErrUnavailable
	}
	return nil
}

// HTTPAPI implements API against a running server with the fiber client.
type HTTPAPI struct {
	baseURL string
	token   string
	timeout time.Duration
}

// NewHTTPAPI creates a client for baseURL authenticating with a session token.
func NewHTTPAPI(baseURL, token string) *HTTPAPI {
	return &HTTPAPI{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		timeout: defaultTimeout,
	}
}

// Login exchanges credentials for a session token and the account it belongs to.
func Login(ctx context.Context, baseURL, email, password string) (string, models.User, error) {
	h := NewHTTPAPI(baseURL, "")
	a := fiber.Post(h.baseURL + "/api/v1/auth/login").JSON(fiber.Map{"email": email, "password": password})

	var out struct {
		Token string      `json:"token"`
		User  models.User `json:"user"`
	}
	if err := h.do(ctx, a, fiber.StatusOK, &out); err != nil {
		return "", models.User{}, err
	}
	return out.Token, out.User, nil
}

func (h *HTTPAPI) ListConversations(ctx context.Context) ([]services.ConversationSummary, error) {
	var out []services.ConversationSummary
	if err := h.do(ctx, fiber.Get(h.baseURL+"/conversations"), fiber.StatusOK, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (h *HTTPAPI) GetMessages(ctx context.Context, counterpartID string) ([]models.Message, error) {
	var out []models.Message
	a := fiber.Get(h.baseURL + "/messages/" + url.PathEscape(counterpartID))
	if err := h.do(ctx, a, fiber.StatusOK, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (h *HTTPAPI) SendMessage(ctx context.Context, senderID, counterpartID string, draft Draft) (models.Message, error) {
	a := fiber.Post(h.baseURL + "/messages/" + url.PathEscape(counterpartID))

	args := fiber.AcquireArgs()
	defer fiber.ReleaseArgs(args)
	args.Set("senderId", senderID)
	args.Set("text", draft.Text)
	if draft.Image != nil && len(draft.Image.Data) > 0 {
		name := draft.Image.Name
		if name == "" {
			name = "image"
		}
		a.FileData(&fiber.FormFile{Fieldname: "image", Name: name, Content: draft.Image.Data})
	}
	a.MultipartForm(args)

	var msg models.Message
	if err := h.do(ctx, a, fiber.StatusCreated, &msg); err != nil {
		return models.Message{}, err
	}
	return msg, nil
}

// do sends the request built on a and decodes a response with status want into out.
func (h *HTTPAPI) do(ctx context.Context, a *fiber.Agent, want int, out interface{}) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	timeout := h.timeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}
	a.Timeout(timeout)
	if h.token != "" {
		a.Set(fiber.HeaderAuthorization, "Bearer "+h.token)
	}
	if err := a.Parse(); err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}

	code, body, errs := a.Bytes()
	if len(errs) > 0 {
		return fmt.Errorf("request failed: %w: %w", errors.Join(errs...), apperr.ErrUnavailable)
	}
	if code != want {
		var payload struct {
			Message string `json:"message"`
		}
		_ = json.Unmarshal(body, &payload)
		return &APIError{Status: code, Message: payload.Message}
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
