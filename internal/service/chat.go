package service

import (
	"context"
	"log/slog"
	"unicode/utf8"

	"github.com/sakif/ecoloop/internal/apperror"
	"github.com/sakif/ecoloop/internal/assistant"
)

// ChatService fronts the EcoBot assistant.
type ChatService struct {
	bot    assistant.Assistant
	logger *slog.Logger
}

func NewChatService(bot assistant.Assistant, logger *slog.Logger) *ChatService {
	return &ChatService{bot: bot, logger: logger}
}

// ErrAssistantUnavailable wraps upstream failures. Its message is the
// friendly reply shown in the chat window.
var ErrAssistantUnavailable = apperror.Unavailable(assistant.ErrorReply)

func (s *ChatService) Chat(ctx context.Context, userID, message string) (string, error) {
	message, err := requireText("message", message, 1, 0)
	if err != nil {
		return "", err
	}
	if utf8.RuneCountInString(message) > assistant.MaxMessageLen {
		return "", apperror.ValidationFailed("message", "message is too long")
	}

	reply, err := s.bot.Reply(ctx, message)
	if err != nil {
		s.logger.Error("assistant reply failed",
			slog.String("userID", userID),
			slog.String("error", err.Error()),
		)
		return "", ErrAssistantUnavailable
	}
	return reply, nil
}
