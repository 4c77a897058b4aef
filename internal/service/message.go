package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"
	"unicode/utf8"

	"github.com/sakif/ecoloop/internal/apperror"
	"github.com/sakif/ecoloop/internal/model"
	"github.com/sakif/ecoloop/internal/realtime"
	"github.com/sakif/ecoloop/internal/repository"
)

// MaxMessageLength is the longest message body accepted, in characters.
const MaxMessageLength = 2000

// MessageService stores direct messages and pushes them to the receiver.
//
// The stored message is the source of truth: once CreateMessage succeeds the
// send has succeeded, and the realtime push is best effort. A receiver who
// is offline (or on an instance the push never reaches) sees the message on
// their next fetch.
type MessageService struct {
	messages repository.MessageRepository
	users    repository.UserRepository
	items    repository.ItemRepository
	pub      realtime.Publisher
	logger   *slog.Logger
}

func NewMessageService(
	messages repository.MessageRepository,
	users repository.UserRepository,
	items repository.ItemRepository,
	pub realtime.Publisher,
	logger *slog.Logger,
) *MessageService {
	return &MessageService{messages: messages, users: users, items: items, pub: pub, logger: logger}
}

// Send validates everything before writing, stores the message, then pushes
// a MessageView to the receiver's room.
func (s *MessageService) Send(ctx context.Context, senderID, receiverID, itemID, content string) (*model.Message, error) {
	if receiverID == "" {
		return nil, apperror.ValidationFailed("receiverId", "receiverId is required")
	}
	content, err := requireText("content", content, 1, 0)
	if err != nil {
		return nil, err
	}
	if utf8.RuneCountInString(content) > MaxMessageLength {
		return nil, apperror.ValidationFailed("content",
			fmt.Sprintf("message must be %d characters or fewer", MaxMessageLength))
	}
	if receiverID == senderID {
		return nil, apperror.ValidationFailed("receiverId", "you cannot message yourself")
	}

	sender, err := s.users.GetUserByID(ctx, senderID)
	if err != nil {
		return nil, err
	}
	receiver, err := s.users.GetUserByID(ctx, receiverID)
	if err != nil {
		return nil, err
	}
	var item *model.Item
	if itemID != "" {
		if item, err = s.items.GetItemByID(ctx, itemID); err != nil {
			return nil, err
		}
	}

	msg := &model.Message{
		SenderID:   senderID,
		ReceiverID: receiverID,
		ItemID:     itemID,
		Content:    content,
	}
	if err := s.messages.CreateMessage(ctx, msg); err != nil {
		return nil, err
	}

	view := s.view(msg, sender, receiver, item)
	if err := s.pub.Publish(ctx, receiverID, realtime.EventPrivateMessage, view); err != nil {
		s.logger.Warn("realtime push failed",
			slog.String("messageID", msg.ID),
			slog.String("receiverID", receiverID),
			slog.String("error", err.Error()),
		)
	}
	return msg, nil
}

func (s *MessageService) view(msg *model.Message, sender, receiver *model.User, item *model.Item) model.MessageView {
	v := model.MessageView{
		ID:        msg.ID,
		Sender:    model.Participant{ID: sender.ID, Name: sender.Name},
		Receiver:  model.Participant{ID: receiver.ID, Name: receiver.Name},
		Content:   msg.Content,
		Read:      msg.Read,
		ReadAt:    msg.ReadAt,
		CreatedAt: msg.CreatedAt,
	}
	if item != nil {
		v.Item = &model.ItemRef{ID: item.ID, Title: item.Title}
	}
	return v
}

// ListForUser returns every message userID sent or received, newest first.
// Only the user themself may read it.
func (s *MessageService) ListForUser(ctx context.Context, callerID, userID string) ([]model.Message, error) {
	if callerID != userID {
		return nil, apperror.Forbidden("you can only read your own messages")
	}
	msgs, err := s.messages.ListMessagesForUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("service/message: listing for %s: %w", userID, err)
	}
	return msgs, nil
}

func (s *MessageService) UnreadCount(ctx context.Context, userID string) (int, error) {
	n, err := s.messages.CountUnread(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("service/message: counting unread for %s: %w", userID, err)
	}
	return n, nil
}

// MarkConversationRead marks the unread messages otherUserID sent to userID.
// It returns how many changed; repeating it returns 0.
func (s *MessageService) MarkConversationRead(ctx context.Context, userID, otherUserID string) (int64, error) {
	if otherUserID == "" {
		return 0, apperror.ValidationFailed("otherUserId", "otherUserId is required")
	}
	return s.messages.MarkConversationRead(ctx, userID, otherUserID, time.Now())
}

func (s *MessageService) MarkAllRead(ctx context.Context, userID string) (int64, error) {
	return s.messages.MarkAllRead(ctx, userID, time.Now())
}

// Conversations groups the user's messages by the other participant and
// resolves display names.
func (s *MessageService) Conversations(ctx context.Context, userID string) ([]model.Conversation, error) {
	msgs, err := s.messages.ListMessagesForUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("service/message: listing for %s: %w", userID, err)
	}
	convs := GroupConversations(userID, msgs)

	for i := range convs {
		u, err := s.users.GetUserByID(ctx, convs[i].OtherUserID)
		switch {
		case err == nil:
			convs[i].OtherUser = &model.Participant{ID: u.ID, Name: u.Name}
		case errors.Is(err, apperror.ErrNotFound):
		default:
			return nil, fmt.Errorf("service/message: resolving %s: %w", convs[i].OtherUserID, err)
		}
	}
	return convs, nil
}

// GroupConversations builds one Conversation per other participant. The
// last message is the one with the greatest CreatedAt; unread counts only
// messages received by userID. The result is sorted by last message,
// newest first.
func GroupConversations(userID string, msgs []model.Message) []model.Conversation {
	byUser := make(map[string]*model.Conversation)
	for _, m := range msgs {
		other := m.OtherParty(userID)
		c, ok := byUser[other]
		if !ok {
			c = &model.Conversation{OtherUserID: other, LastMessage: m}
			byUser[other] = c
		} else if m.CreatedAt.After(c.LastMessage.CreatedAt) {
			c.LastMessage = m
		}
		if m.ReceiverID == userID && !m.Read {
			c.UnreadCount++
		}
	}

	out := make([]model.Conversation, 0, len(byUser))
	for _, c := range byUser {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].LastMessage, out[j].LastMessage
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return out[i].OtherUserID < out[j].OtherUserID
	})
	return out
}
