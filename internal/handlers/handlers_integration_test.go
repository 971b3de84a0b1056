package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"
	"time"

	"sugarconnect/internal/handlers"
	"sugarconnect/internal/logging"
	"sugarconnect/internal/middleware"
	"sugarconnect/internal/models"
	"sugarconnect/internal/notify"
	"sugarconnect/internal/repositories"
	"sugarconnect/internal/services"
	"sugarconnect/pkg/blobstore"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testPassword = "password123"

type testEnv struct {
	app         *fiber.App
	authService *services.AuthService
	store       blobstore.Store
}

// setupApp sets up a Fiber app for testing with an in-memory SQLite blob store and all handlers/services.
func setupApp(t *testing.T) *testEnv {
	t.Helper()
	log := logging.Discard()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	store, err := blobstore.Open(context.Background(), blobstore.Config{Backend: "sqlite", DSN: dsn})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	// Initialize Repositories
	userRepo := repositories.NewBlobUserRepository(store, log)
	messageRepo := repositories.NewBlobMessageRepository(store)
	imageRepo := repositories.NewBlobImageRepository(store)

	// Initialize Services
	policy := services.NewPolicy(services.DefaultCounterparts, []string{"patron"})
	authService := services.NewAuthService(userRepo, policy, "test_jwt_secret", time.Hour, 0, log)
	userService := services.NewUserService(userRepo, imageRepo, policy, 3, log)
	messageService := services.NewMessageService(userRepo, messageRepo, imageRepo, notify.NewLogNotifier(log), policy,
		services.MessageOptions{MaxAttempts: 3}, log)
	conversationService := services.NewConversationService(userRepo, messageRepo, policy)

	// Initialize Handlers
	authHandler := handlers.NewAuthHandler(authService, log)
	userHandler := handlers.NewUserHandler(userService, log)
	messageHandler := handlers.NewMessageHandler(messageService, conversationService, log)
	imageHandler := handlers.NewImageHandler(imageRepo, log)

	app := fiber.New()
	auth := middleware.AuthRequired(authService, log)

	imageHandler.RegisterRoutes(app)
	messageHandler.RegisterRoutes(app, auth)

	apiV1 := app.Group("/api/v1")
	authHandler.RegisterRoutes(apiV1)
	protectedRoutes := apiV1.Group("", auth)
	userHandler.RegisterRoutes(protectedRoutes)

	return &testEnv{app: app, authService: authService, store: store}
}

func (e *testEnv) do(t *testing.T, req *http.Request, token string) *http.Response {
	t.Helper()
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := e.app.Test(req, -1)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (e *testEnv) doJSON(t *testing.T, method, path, token string, body interface{}) *http.Response {
	t.Helper()
	var reader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(jsonBody)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	return e.do(t, req, token)
}

type formFile struct {
	field       string
	name        string
	contentType string
	data        []byte
}

func (e *testEnv) doMultipart(t *testing.T, method, path, token string, fields map[string]string, file *formFile) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, w.WriteField(k, v))
	}
	if file != nil {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, file.field, file.name))
		if file.contentType != "" {
			h.Set("Content-Type", file.contentType)
		}
		part, err := w.CreatePart(h)
		require.NoError(t, err)
		_, err = part.Write(file.data)
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return e.do(t, req, token)
}

func decode(t *testing.T, resp *http.Response, v interface{}) {
	t.Helper()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

// register creates a member and returns its id and a session token.
func (e *testEnv) register(t *testing.T, name string, role models.Role) (string, string) {
	t.Helper()
	email := name + "@example.com"
	resp := e.doJSON(t, http.MethodPost, "/api/v1/auth/register", "", map[string]interface{}{
		"email":    email,
		"password": testPassword,
		"name":     name,
		"role":     string(role),
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var registerResp struct {
		User models.User `json:"user"`
	}
	decode(t, resp, &registerResp)
	require.NotEmpty(t, registerResp.User.ID)

	return registerResp.User.ID, e.login(t, email)
}

func (e *testEnv) login(t *testing.T, email string) string {
	t.Helper()
	resp := e.doJSON(t, http.MethodPost, "/api/v1/auth/login", "", map[string]string{
		"email":    email,
		"password": testPassword,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var loginResp map[string]interface{}
	decode(t, resp, &loginResp)
	token, _ := loginResp["token"].(string)
	require.NotEmpty(t, token)
	return token
}

func TestAuthRegisterAndLogin(t *testing.T) {
	env := setupApp(t)

	userToRegister := map[string]interface{}{
		"email":    "test@example.com",
		"password": testPassword,
		"name":     "Tess",
		"role":     "patron",
	}
	resp := env.doJSON(t, http.MethodPost, "/api/v1/auth/register", "", userToRegister)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	var registerResp map[string]interface{}
	decode(t, resp, &registerResp)
	assert.Equal(t, "User registered successfully", registerResp["message"])
	user := registerResp["user"].(map[string]interface{})
	assert.NotContains(t, user, "password_hash")

	// Duplicate registration
	resp = env.doJSON(t, http.MethodPost, "/api/v1/auth/register", "", userToRegister)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	// Validation failure
	resp = env.doJSON(t, http.MethodPost, "/api/v1/auth/register", "", map[string]interface{}{
		"email": "not-an-email", "password": "x", "name": "T", "role": "admin",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	var validationResp struct {
		Message string            `json:"message"`
		Errors  map[string]string `json:"errors"`
	}
	decode(t, resp, &validationResp)
	assert.Equal(t, "Validation failed", validationResp.Message)
	assert.Contains(t, validationResp.Errors, "Email")
	assert.Contains(t, validationResp.Errors, "Role")

	token := env.login(t, "TEST@example.com")
	session, err := env.authService.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, models.RolePatron, session.Role)
	assert.Equal(t, "test@example.com", session.Email)

	resp = env.doJSON(t, http.MethodPost, "/api/v1/auth/login", "", map[string]string{
		"email": "test@example.com", "password": "wrongpassword",
	})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestMessagingEndpointsWithoutAuth(t *testing.T) {
	env := setupApp(t)

	for _, path := range []string{"/conversations", "/messages/someone", "/api/v1/users/me"} {
		resp := env.doJSON(t, http.MethodGet, path, "", nil)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode, path)
	}
	resp := env.doMultipart(t, http.MethodPost, "/messages/someone", "", map[string]string{"text": "hi"}, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestSendAndReadMessages(t *testing.T) {
	env := setupApp(t)

	u1, u1Token := env.register(t, "u1", models.RoleSeeker)
	u2, u2Token := env.register(t, "u2", models.RolePatron)

	// A seeker messages a patron.
	resp := env.doMultipart(t, http.MethodPost, "/messages/"+u2, u1Token, map[string]string{"senderId": u1, "text": "hi"}, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var sent models.Message
	decode(t, resp, &sent)
	assert.Equal(t, services.ConversationID(u1, u2), sent.ConversationID)
	assert.Equal(t, u1, sent.SenderID)
	assert.Equal(t, "hi", sent.Text)

	// The patron reads it back.
	resp = env.doJSON(t, http.MethodGet, "/messages/"+u1, u2Token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var msgs []models.Message
	decode(t, resp, &msgs)
	require.Len(t, msgs, 1)
	assert.Equal(t, sent.ID, msgs[0].ID)
	assert.True(t, sent.Timestamp.Equal(msgs[0].Timestamp.Time))

	// And sees the conversation in the inbox.
	resp = env.doJSON(t, http.MethodGet, "/conversations", u2Token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var inbox []services.ConversationSummary
	decode(t, resp, &inbox)
	require.Len(t, inbox, 1)
	assert.Equal(t, u1, inbox[0].User.ID)
	require.Len(t, inbox[0].Messages, 1)
	assert.Equal(t, "hi", inbox[0].Messages[0].Text)

	// Raw JSON uses the wire names.
	resp = env.doJSON(t, http.MethodGet, "/messages/"+u2, u1Token, nil)
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"conversationId"`)
	assert.Contains(t, string(raw), `"senderId"`)
}

func TestSendMessageErrors(t *testing.T) {
	env := setupApp(t)

	u1, u1Token := env.register(t, "u1", models.RoleSeeker)
	u2, _ := env.register(t, "u2", models.RoleSeeker)
	u3, u3Token := env.register(t, "u3", models.RolePatron)

	tests := []struct {
		name   string
		path   string
		token  string
		fields map[string]string
		status int
	}{
		{"patron without credits", "/messages/" + u1, u3Token, map[string]string{"text": "hello"}, http.StatusPaymentRequired},
		{"empty message", "/messages/" + u3, u1Token, map[string]string{"text": ""}, http.StatusBadRequest},
		{"blank message", "/messages/" + u3, u1Token, map[string]string{"text": "   "}, http.StatusBadRequest},
		{"self send", "/messages/" + u1, u1Token, map[string]string{"text": "me"}, http.StatusBadRequest},
		{"spoofed sender", "/messages/" + u3, u1Token, map[string]string{"senderId": u3, "text": "hi"}, http.StatusForbidden},
		{"ineligible pair", "/messages/" + u2, u1Token, map[string]string{"text": "hi"}, http.StatusForbidden},
		{"unknown recipient", "/messages/nobody", u1Token, map[string]string{"text": "hi"}, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := env.doMultipart(t, http.MethodPost, tt.path, tt.token, tt.fields, nil)
			assert.Equal(t, tt.status, resp.StatusCode)
			var body map[string]interface{}
			decode(t, resp, &body)
			assert.NotEmpty(t, body["message"])
		})
	}

	// The rejected patron message left nothing behind.
	resp := env.doJSON(t, http.MethodGet, "/messages/"+u1, u3Token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var msgs []models.Message
	decode(t, resp, &msgs)
	assert.Empty(t, msgs)

	resp = env.doJSON(t, http.MethodGet, "/messages/nobody", u1Token, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestSendImageMessage(t *testing.T) {
	env := setupApp(t)

	u1, u1Token := env.register(t, "u1", models.RoleSeeker)
	u2, _ := env.register(t, "u2", models.RolePatron)

	png := []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n', 0, 0, 0, 0x0d, 'I', 'H', 'D', 'R'}
	resp := env.doMultipart(t, http.MethodPost, "/messages/"+u2, u1Token, nil, &formFile{
		field: "image", name: "pic.png", contentType: "application/octet-stream", data: png,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var sent models.Message
	decode(t, resp, &sent)
	assert.Empty(t, sent.Text)
	assert.True(t, strings.HasPrefix(sent.Image, "/images/"+services.ConversationID(u1, u2)+"/"))
	assert.Contains(t, sent.Image, "?t=")

	// Images are served without a session.
	resp = env.doJSON(t, http.MethodGet, sent.Image, "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/png", resp.Header.Get("Content-Type"))
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, png, body)

	resp = env.doJSON(t, http.MethodGet, "/images/missing/key", "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	// Non-image uploads are rejected.
	resp = env.doMultipart(t, http.MethodPost, "/messages/"+u2, u1Token, nil, &formFile{
		field: "image", name: "notes.txt", contentType: "text/plain", data: []byte("plain text"),
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestProfileAndAdminEndpoints(t *testing.T) {
	env := setupApp(t)
	require.NoError(t, env.authService.EnsureAdmin(context.Background(), "support@example.com", testPassword))
	adminToken := env.login(t, "support@example.com")

	seeker, seekerToken := env.register(t, "sam", models.RoleSeeker)
	patron, patronToken := env.register(t, "pat", models.RolePatron)

	// Profile edit.
	resp := env.doJSON(t, http.MethodPut, "/api/v1/users/me", seekerToken, map[string]interface{}{
		"bio": "likes hiking", "age": 27,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var me models.User
	decode(t, resp, &me)
	assert.Equal(t, "likes hiking", me.Bio)
	assert.Equal(t, 27, me.Age)

	resp = env.doJSON(t, http.MethodPut, "/api/v1/users/me", seekerToken, map[string]interface{}{"age": 12})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// Browsing follows the role pairing.
	resp = env.doJSON(t, http.MethodGet, "/api/v1/users?role=seeker", patronToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var browse []models.User
	decode(t, resp, &browse)
	require.Len(t, browse, 1)
	assert.Equal(t, seeker, browse[0].ID)

	resp = env.doJSON(t, http.MethodGet, "/api/v1/users/"+seeker, patronToken, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// Admin routes are closed to members.
	resp = env.doJSON(t, http.MethodGet, "/api/v1/admin/users", patronToken, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = env.doJSON(t, http.MethodGet, "/api/v1/admin/users", adminToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var all []models.User
	decode(t, resp, &all)
	assert.Len(t, all, 3)

	// Granting credits unlocks sending for the patron.
	resp = env.doMultipart(t, http.MethodPost, "/messages/"+seeker, patronToken, map[string]string{"text": "hello"}, nil)
	assert.Equal(t, http.StatusPaymentRequired, resp.StatusCode)

	resp = env.doJSON(t, http.MethodPost, "/api/v1/admin/users/"+patron+"/credits", adminToken, map[string]int{"amount": 2})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var granted models.User
	decode(t, resp, &granted)
	assert.Equal(t, 2, granted.CreditBalance())

	resp = env.doMultipart(t, http.MethodPost, "/messages/"+seeker, patronToken, map[string]string{"text": "hello"}, nil)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = env.doJSON(t, http.MethodGet, "/api/v1/users/me", patronToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	decode(t, resp, &me)
	assert.Equal(t, 1, me.CreditBalance())

	// The admin sees every eligible member, empty conversations included.
	resp = env.doJSON(t, http.MethodGet, "/conversations", adminToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var inbox []services.ConversationSummary
	decode(t, resp, &inbox)
	assert.Len(t, inbox, 2)

	// Deleting a member.
	resp = env.doJSON(t, http.MethodDelete, "/api/v1/admin/users/"+seeker, adminToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp = env.doJSON(t, http.MethodGet, "/api/v1/users/"+seeker, patronToken, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
