package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/sakif/ecoloop/internal/model"
)

func sendTestMessage(t *testing.T, db *DB, from, to *model.User, content string) *model.Message {
	t.Helper()
	m := &model.Message{SenderID: from.ID, ReceiverID: to.ID, Content: content}
	if err := db.CreateMessage(context.Background(), m); err != nil {
		t.Fatalf("CreateMessage() error = %v", err)
	}
	return m
}

func TestListMessagesForUser_NewestFirst(t *testing.T) {
	db := newTestDB(t)
	a := createTestUser(t, db, "A", "a@example.com")
	b := createTestUser(t, db, "B", "b@example.com")
	c := createTestUser(t, db, "C", "c@example.com")

	sendTestMessage(t, db, a, b, "one")
	sendTestMessage(t, db, b, a, "two")
	sendTestMessage(t, db, c, b, "not for a")
	sendTestMessage(t, db, a, c, "three")

	msgs, err := db.ListMessagesForUser(context.Background(), a.ID)
	if err != nil {
		t.Fatalf("ListMessagesForUser() error = %v", err)
	}
	want := []string{"three", "two", "one"}
	if len(msgs) != len(want) {
		t.Fatalf("got %d messages, want %d", len(msgs), len(want))
	}
	for i, m := range msgs {
		if m.Content != want[i] {
			t.Errorf("msgs[%d] = %q, want %q", i, m.Content, want[i])
		}
		if m.Read || m.ReadAt != nil {
			t.Errorf("new message %q is already read", m.Content)
		}
	}
}

// Three unread messages from B to A, A marks the conversation read.
func TestMarkConversationRead(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	a := createTestUser(t, db, "A", "a@example.com")
	b := createTestUser(t, db, "B", "b@example.com")
	c := createTestUser(t, db, "C", "c@example.com")

	for i := 0; i < 3; i++ {
		sendTestMessage(t, db, b, a, "hi")
	}
	sendTestMessage(t, db, c, a, "from c")
	sendTestMessage(t, db, a, b, "outbound")

	if n, _ := db.CountUnread(ctx, a.ID); n != 4 {
		t.Fatalf("CountUnread() before = %d, want 4", n)
	}

	at := time.Now()
	n, err := db.MarkConversationRead(ctx, a.ID, b.ID, at)
	if err != nil {
		t.Fatalf("MarkConversationRead() error = %v", err)
	}
	if n != 3 {
		t.Errorf("marked %d, want 3", n)
	}
	if got, _ := db.CountUnread(ctx, a.ID); got != 1 {
		t.Errorf("CountUnread() after = %d, want 1 (the message from C)", got)
	}
	if got, _ := db.CountUnread(ctx, b.ID); got != 1 {
		t.Errorf("B's unread changed to %d; A's outbound must stay unread", got)
	}

	again, err := db.MarkConversationRead(ctx, a.ID, b.ID, at.Add(time.Hour))
	if err != nil || again != 0 {
		t.Errorf("second MarkConversationRead() = %d, %v; want 0, nil", again, err)
	}

	msgs, _ := db.ListMessagesForUser(ctx, a.ID)
	for _, m := range msgs {
		if m.Read != (m.ReadAt != nil) {
			t.Errorf("message %s: read=%v readAt=%v", m.ID, m.Read, m.ReadAt)
		}
		if m.SenderID == b.ID && m.ReadAt != nil && m.ReadAt.After(at.Add(time.Minute)) {
			t.Errorf("readAt was overwritten by the idempotent second call")
		}
	}
}

func TestMarkAllRead_Idempotent(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	a := createTestUser(t, db, "A", "a@example.com")
	b := createTestUser(t, db, "B", "b@example.com")

	sendTestMessage(t, db, b, a, "1")
	sendTestMessage(t, db, b, a, "2")

	n, err := db.MarkAllRead(ctx, a.ID, time.Now())
	if err != nil || n != 2 {
		t.Fatalf("MarkAllRead() = %d, %v; want 2", n, err)
	}
	n, err = db.MarkAllRead(ctx, a.ID, time.Now())
	if err != nil || n != 0 {
		t.Fatalf("second MarkAllRead() = %d, %v; want 0", n, err)
	}
	if got, _ := db.CountUnread(ctx, a.ID); got != 0 {
		t.Errorf("CountUnread() = %d, want 0", got)
	}
}

func TestReadInvariantEnforcedBySchema(t *testing.T) {
	db := newTestDB(t)
	a := createTestUser(t, db, "A", "a@example.com")
	m := sendTestMessage(t, db, a, a, "self")

	_, err := db.conn.Exec(`UPDATE messages SET read = 1 WHERE id = ?`, m.ID)
	if err == nil {
		t.Error("setting read without read_at should violate the CHECK constraint")
	}
}
