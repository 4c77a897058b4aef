package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/sakif/ecoloop/internal/auth"
	"github.com/sakif/ecoloop/internal/mailer"
	"github.com/sakif/ecoloop/internal/model"
	"github.com/sakif/ecoloop/internal/repository/sqlite"
)

// =========================================================================
// SHARED FIXTURES
// =========================================================================
//
// Services run against a real in-memory SQLite store. It is fast enough for
// unit tests and keeps the award and read-marking rules honest, since those
// live in the store's guarded updates. The fakes below stand in for the
// collaborators that would leave the process: the realtime publisher and
// the mailer.

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestStore(t *testing.T) *sqlite.DB {
	t.Helper()
	db, err := sqlite.New(":memory:")
	if err != nil {
		t.Fatalf("sqlite.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func newTestTokens(t *testing.T) *auth.TokenService {
	t.Helper()
	ts, err := auth.NewTokenService("test-secret-at-least-16-chars!!", time.Hour)
	if err != nil {
		t.Fatalf("NewTokenService: %v", err)
	}
	return ts
}

// createUser inserts a user directly through the store.
func createUser(t *testing.T, db *sqlite.DB, name, email string) *model.User {
	t.Helper()
	u := &model.User{Name: name, Email: email, PasswordHash: "x"}
	if err := db.CreateUser(context.Background(), u); err != nil {
		t.Fatalf("CreateUser(%s): %v", email, err)
	}
	return u
}

func pointsOf(t *testing.T, db *sqlite.DB, userID string) int {
	t.Helper()
	u, err := db.GetUserByID(context.Background(), userID)
	if err != nil {
		t.Fatalf("GetUserByID(%s): %v", userID, err)
	}
	return u.EcoPoints
}

func ptr[T any](v T) *T { return &v }

type published struct {
	Room    string
	Event   string
	Payload any
}

// recordingPublisher implements realtime.Publisher and remembers every call.
type recordingPublisher struct {
	mu     sync.Mutex
	events []published
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, room, event string, payload any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, published{Room: room, Event: event, Payload: payload})
	return p.err
}

func (p *recordingPublisher) all() []published {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]published(nil), p.events...)
}

// recordingMailer implements mailer.Mailer.
type recordingMailer struct {
	sent []mailer.Message
	err  error
}

func (m *recordingMailer) Send(_ context.Context, msg mailer.Message) error {
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, msg)
	return nil
}

var errBoom = errors.New("boom")
