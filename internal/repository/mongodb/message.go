package mongodb

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/xid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/sakif/ecoloop/internal/apperror"
	"github.com/sakif/ecoloop/internal/model"
	"github.com/sakif/ecoloop/internal/repository"
)

var _ repository.MessageRepository = (*Store)(nil)

func (s *Store) CreateMessage(ctx context.Context, msg *model.Message) error {
	for _, id := range []string{msg.SenderID, msg.ReceiverID} {
		ok, err := exists(ctx, s.users, id)
		if err != nil {
			return err
		}
		if !ok {
			return apperror.NotFound("user", id)
		}
	}

	msg.ID = xid.New().String()
	msg.CreatedAt = time.Now().UTC()
	msg.Read = false
	msg.ReadAt = nil

	if _, err := s.messages.InsertOne(ctx, msg); err != nil {
		return fmt.Errorf("mongo: creating message: %w", err)
	}
	return nil
}

func (s *Store) ListMessagesForUser(ctx context.Context, userID string) ([]model.Message, error) {
	filter := bson.M{"$or": bson.A{
		bson.M{"senderId": userID},
		bson.M{"receiverId": userID},
	}}
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}, {Key: "_id", Value: -1}})

	cur, err := s.messages.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("mongo: listing messages for %s: %w", userID, err)
	}
	defer cur.Close(ctx)

	msgs := make([]model.Message, 0)
	if err := cur.All(ctx, &msgs); err != nil {
		return nil, fmt.Errorf("mongo: decoding messages: %w", err)
	}
	return msgs, nil
}

func (s *Store) CountUnread(ctx context.Context, userID string) (int, error) {
	n, err := s.messages.CountDocuments(ctx, bson.M{"receiverId": userID, "read": false})
	if err != nil {
		return 0, fmt.Errorf("mongo: counting unread for %s: %w", userID, err)
	}
	return int(n), nil
}

// MarkConversationRead only touches unread messages, so an earlier readAt
// is never overwritten.
func (s *Store) MarkConversationRead(ctx context.Context, userID, otherUserID string, at time.Time) (int64, error) {
	return s.markRead(ctx, bson.M{"receiverId": userID, "senderId": otherUserID, "read": false}, at)
}

func (s *Store) MarkAllRead(ctx context.Context, userID string, at time.Time) (int64, error) {
	return s.markRead(ctx, bson.M{"receiverId": userID, "read": false}, at)
}

func (s *Store) markRead(ctx context.Context, filter bson.M, at time.Time) (int64, error) {
	res, err := s.messages.UpdateMany(ctx, filter,
		bson.M{"$set": bson.M{"read": true, "readAt": at.UTC()}})
	if err != nil {
		return 0, fmt.Errorf("mongo: marking messages read: %w", err)
	}
	return res.ModifiedCount, nil
}
