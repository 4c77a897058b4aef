package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/sakif/ecoloop/internal/assistant"
	"github.com/sakif/ecoloop/internal/auth"
	"github.com/sakif/ecoloop/internal/handler"
	"github.com/sakif/ecoloop/internal/mailer"
	"github.com/sakif/ecoloop/internal/repository/sqlite"
	"github.com/sakif/ecoloop/internal/service"
)

// testEnv wires the real services over an in-memory SQLite store and mounts
// the handlers on a chi router with the same paths and auth as production.
// Only the collaborators that would leave the process are faked.
type testEnv struct {
	db     *sqlite.DB
	tokens *auth.TokenService
	pub    *recordingPublisher
	mail   *recordingMailer
	router chi.Router
}

type envOptions struct {
	github    handler.GitHubAuth
	uploads   handler.UploadSigner
	assistant assistant.Assistant
}

func newTestEnv(t *testing.T, opts envOptions) *testEnv {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	db, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	tokens, err := auth.NewTokenService("handler-test-secret-0123456789", time.Hour)
	require.NoError(t, err)

	if opts.assistant == nil {
		opts.assistant = assistant.Fallback{}
	}

	env := &testEnv{db: db, tokens: tokens, pub: &recordingPublisher{}, mail: &recordingMailer{}}

	authSvc := service.NewAuthService(db, db, tokens, auth.NewPasswordServiceForTest(4), env.mail, "http://frontend.test", logger)
	authH := handler.NewAuthHandler(authSvc, opts.github, tokens.TTL(), "http://frontend.test", logger)
	itemH := handler.NewItemHandler(service.NewItemService(db, db, logger), logger)
	msgH := handler.NewMessageHandler(service.NewMessageService(db, db, db, env.pub, logger), logger)
	lbH := handler.NewLeaderboardHandler(service.NewLeaderboardService(db))
	favH := handler.NewFavoriteHandler(service.NewFavoriteService(db))
	adminH := handler.NewAdminHandler(service.NewAdminService(db, db, logger))
	chatH := handler.NewChatHandler(service.NewChatService(opts.assistant, logger))
	uploadH := handler.NewUploadHandler(opts.uploads)
	healthH := handler.NewHealthHandler(db, logger)

	requireAuth := auth.RequireAuth(tokens)

	r := chi.NewRouter()
	r.Route("/api", func(r chi.Router) {
		r.Get("/health", healthH.HandleHealth)

		r.Post("/auth/register", authH.HandleRegister)
		r.Post("/auth/login", authH.HandleLogin)
		r.Post("/auth/logout", authH.HandleLogout)
		r.Post("/auth/forgot-password", authH.HandleForgotPassword)
		r.Post("/auth/reset-password", authH.HandleResetPassword)
		r.Get("/auth/github/login", authH.HandleGitHubLogin)
		r.Get("/auth/github/callback", authH.HandleGitHubCallback)
		r.With(requireAuth).Get("/auth/profile", authH.HandleProfile)
		r.With(requireAuth).Put("/auth/profile", authH.HandleUpdateProfile)

		r.Get("/items", itemH.HandleList)
		r.Get("/items/towns", itemH.HandleTowns)
		r.Get("/items/{id}", itemH.HandleGet)
		r.With(requireAuth).Get("/items/mine", itemH.HandleMine)
		r.With(requireAuth).Get("/items/recommendations", itemH.HandleRecommendations)
		r.With(requireAuth).Post("/items", itemH.HandleCreate)
		r.With(requireAuth).Put("/items/{id}", itemH.HandleUpdate)
		r.With(requireAuth).Patch("/items/{id}/status", itemH.HandleUpdateStatus)
		r.With(requireAuth).Delete("/items/{id}", itemH.HandleDelete)

		r.Group(func(r chi.Router) {
			r.Use(requireAuth)
			r.Post("/messages", msgH.HandleSend)
			r.Get("/messages", msgH.HandleUnreadCount)
			r.Get("/messages/conversations", msgH.HandleConversations)
			r.Post("/messages/read", msgH.HandleMarkAllRead)
			r.Post("/messages/read/{otherUserId}", msgH.HandleMarkConversationRead)
			r.Get("/messages/{userId}", msgH.HandleListForUser)

			r.Get("/favorites", favH.HandleList)
			r.Get("/favorites/check/{itemId}", favH.HandleCheck)
			r.Post("/favorites/{itemId}", favH.HandleAdd)
			r.Delete("/favorites/{itemId}", favH.HandleRemove)

			r.Post("/chatbot/chat", chatH.HandleChat)
			r.Post("/uploads/signature", uploadH.HandleSign)
		})

		r.With(auth.OptionalAuth(tokens)).Get("/leaderboard", lbH.HandleLeaderboard)
		r.Get("/ecopoints/preview", lbH.HandlePreview)

		r.Group(func(r chi.Router) {
			r.Use(requireAuth, auth.RequireAdmin(db))
			r.Get("/admin/stats", adminH.HandleStats)
			r.Get("/admin/users", adminH.HandleUsers)
			r.Patch("/admin/users/{id}/suspend", adminH.HandleSuspend)
			r.Patch("/admin/users/{id}/role", adminH.HandleRole)
		})
	})
	env.router = r
	return env
}

// do sends a request through the router. body may be nil, a string (sent
// verbatim) or any value (JSON encoded). token may be empty.
func (e *testEnv) do(t *testing.T, method, path string, body any, token string) *httptest.ResponseRecorder {
	t.Helper()

	var rdr io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		rdr = bytes.NewBufferString(b)
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		rdr = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, rdr)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	e.router.ServeHTTP(rr, req)
	return rr
}

type signedInUser struct {
	ID    string
	Token string
}

// register creates an account through the API and returns its id and token.
func (e *testEnv) register(t *testing.T, name, email string) signedInUser {
	t.Helper()
	rr := e.do(t, http.MethodPost, "/api/auth/register", map[string]any{
		"name": name, "email": email, "password": "Passw0rd!",
	}, "")
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	var res struct {
		Token string `json:"token"`
		User  struct {
			ID string `json:"id"`
		} `json:"user"`
	}
	decode(t, rr, &res)
	return signedInUser{ID: res.User.ID, Token: res.Token}
}

// createItem lists an item through the API and returns its id.
func (e *testEnv) createItem(t *testing.T, owner signedInUser, fields map[string]any) string {
	t.Helper()
	body := map[string]any{
		"title":     "Oak table",
		"category":  "Furniture",
		"priceType": "Free",
		"town":      "Nairobi",
	}
	for k, v := range fields {
		body[k] = v
	}
	rr := e.do(t, http.MethodPost, "/api/items", body, owner.Token)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	var item struct {
		ID string `json:"id"`
	}
	decode(t, rr, &item)
	return item.ID
}

func decode(t *testing.T, rr *httptest.ResponseRecorder, dst any) {
	t.Helper()
	require.NoError(t, json.NewDecoder(rr.Body).Decode(dst), "body: %s", rr.Body.String())
}

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Field   string `json:"field"`
}

func decodeError(t *testing.T, rr *httptest.ResponseRecorder) errorBody {
	t.Helper()
	var e errorBody
	decode(t, rr, &e)
	return e
}

type published struct {
	Room    string
	Event   string
	Payload any
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []published
}

func (p *recordingPublisher) Publish(_ context.Context, room, event string, payload any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, published{Room: room, Event: event, Payload: payload})
	return nil
}

func (p *recordingPublisher) all() []published {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]published(nil), p.events...)
}

type recordingMailer struct {
	mu   sync.Mutex
	sent []mailer.Message
}

func (m *recordingMailer) Send(_ context.Context, msg mailer.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, msg)
	return nil
}

func (m *recordingMailer) last() (mailer.Message, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sent) == 0 {
		return mailer.Message{}, false
	}
	return m.sent[len(m.sent)-1], true
}
