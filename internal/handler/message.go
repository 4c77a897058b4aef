package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sakif/ecoloop/internal/service"
)

// MessageHandler serves direct messaging. New messages are also pushed to
// the receiver over the realtime channel by the service.
type MessageHandler struct {
	svc    *service.MessageService
	logger *slog.Logger
}

func NewMessageHandler(svc *service.MessageService, logger *slog.Logger) *MessageHandler {
	return &MessageHandler{svc: svc, logger: logger}
}

// HandleSend stores a message and pushes it to the receiver.
//
// HTTP: POST /api/messages
// REQUEST BODY: {"receiverId": "...", "itemId": "...", "content": "..."}
func (h *MessageHandler) HandleSend(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ReceiverID string `json:"receiverId"`
		ItemID     string `json:"itemId"`
		Content    string `json:"content"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	msg, err := h.svc.Send(r.Context(), callerID(r), req.ReceiverID, req.ItemID, req.Content)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

// HandleUnreadCount answers {"count": n}.
//
// HTTP: GET /api/messages
func (h *MessageHandler) HandleUnreadCount(w http.ResponseWriter, r *http.Request) {
	n, err := h.svc.UnreadCount(r.Context(), callerID(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"count": n})
}

// HTTP: GET /api/messages/conversations
func (h *MessageHandler) HandleConversations(w http.ResponseWriter, r *http.Request) {
	convs, err := h.svc.Conversations(r.Context(), callerID(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, convs)
}

// HandleListForUser returns a user's full message history. Callers may only
// read their own.
//
// HTTP: GET /api/messages/{userId}
func (h *MessageHandler) HandleListForUser(w http.ResponseWriter, r *http.Request) {
	msgs, err := h.svc.ListForUser(r.Context(), callerID(r), chi.URLParam(r, "userId"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, msgs)
}

type markedResponse struct {
	Marked int64 `json:"marked"`
}

// HTTP: POST /api/messages/read/{otherUserId}
func (h *MessageHandler) HandleMarkConversationRead(w http.ResponseWriter, r *http.Request) {
	n, err := h.svc.MarkConversationRead(r.Context(), callerID(r), chi.URLParam(r, "otherUserId"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, markedResponse{Marked: n})
}

// HTTP: POST /api/messages/read
func (h *MessageHandler) HandleMarkAllRead(w http.ResponseWriter, r *http.Request) {
	n, err := h.svc.MarkAllRead(r.Context(), callerID(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, markedResponse{Marked: n})
}
