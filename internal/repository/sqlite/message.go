package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/xid"

	"github.com/sakif/ecoloop/internal/apperror"
	"github.com/sakif/ecoloop/internal/model"
	"github.com/sakif/ecoloop/internal/repository"
)

var _ repository.MessageRepository = (*DB)(nil)

// CreateMessage stores a new unread message.
func (db *DB) CreateMessage(ctx context.Context, msg *model.Message) error {
	msg.ID = xid.New().String()
	msg.CreatedAt = time.Now().UTC()
	msg.Read = false
	msg.ReadAt = nil

	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO messages (id, sender_id, receiver_id, item_id, content, read, read_at, created_at)
		 VALUES (?, ?, ?, ?, ?, 0, NULL, ?)`,
		msg.ID, msg.SenderID, msg.ReceiverID, nullString(msg.ItemID), msg.Content, msg.CreatedAt,
	)
	if err != nil {
		if isForeignKeyViolation(err) {
			return apperror.NotFound("user", msg.ReceiverID)
		}
		return fmt.Errorf("sqlite: creating message: %w", err)
	}
	return nil
}

func (db *DB) ListMessagesForUser(ctx context.Context, userID string) ([]model.Message, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT id, sender_id, receiver_id, item_id, content, read, read_at, created_at
		 FROM messages
		 WHERE sender_id = ? OR receiver_id = ?
		 ORDER BY created_at DESC, id DESC`,
		userID, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing messages for %s: %w", userID, err)
	}
	defer rows.Close()

	msgs := make([]model.Message, 0)
	for rows.Next() {
		var (
			m      model.Message
			itemID sql.NullString
			read   int
			readAt sql.NullTime
		)
		if err := rows.Scan(&m.ID, &m.SenderID, &m.ReceiverID, &itemID, &m.Content,
			&read, &readAt, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("sqlite: scanning message row: %w", err)
		}
		m.ItemID = itemID.String
		m.Read = read == 1
		if readAt.Valid {
			t := readAt.Time
			m.ReadAt = &t
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating messages: %w", err)
	}
	return msgs, nil
}

func (db *DB) CountUnread(ctx context.Context, userID string) (int, error) {
	var n int
	if err := db.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM messages WHERE receiver_id = ? AND read = 0`, userID,
	).Scan(&n); err != nil {
		return 0, fmt.Errorf("sqlite: counting unread for %s: %w", userID, err)
	}
	return n, nil
}

// MarkConversationRead marks what otherUserID sent to userID. Already-read
// messages are excluded so their read_at is preserved.
func (db *DB) MarkConversationRead(ctx context.Context, userID, otherUserID string, at time.Time) (int64, error) {
	res, err := db.conn.ExecContext(ctx,
		`UPDATE messages SET read = 1, read_at = ?
		 WHERE receiver_id = ? AND sender_id = ? AND read = 0`,
		at.UTC(), userID, otherUserID,
	)
	if err != nil {
		return 0, fmt.Errorf("sqlite: marking conversation read: %w", err)
	}
	return res.RowsAffected()
}

func (db *DB) MarkAllRead(ctx context.Context, userID string, at time.Time) (int64, error) {
	res, err := db.conn.ExecContext(ctx,
		`UPDATE messages SET read = 1, read_at = ? WHERE receiver_id = ? AND read = 0`,
		at.UTC(), userID,
	)
	if err != nil {
		return 0, fmt.Errorf("sqlite: marking all read: %w", err)
	}
	return res.RowsAffected()
}
