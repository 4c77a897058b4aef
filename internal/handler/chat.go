package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/sakif/ecoloop/internal/apperror"
	"github.com/sakif/ecoloop/internal/service"
	"github.com/sakif/ecoloop/internal/upload"
)

// ChatHandler serves the EcoBot assistant.
type ChatHandler struct {
	svc *service.ChatService
}

func NewChatHandler(svc *service.ChatService) *ChatHandler {
	return &ChatHandler{svc: svc}
}

type chatResponse struct {
	Reply string `json:"reply"`
}

// HandleChat answers {"reply": "..."}. When the model is unreachable the
// status is 503 but the body still carries a reply the widget can show.
//
// HTTP: POST /api/chatbot/chat
func (h *ChatHandler) HandleChat(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Message string `json:"message"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	reply, err := h.svc.Chat(r.Context(), callerID(r), req.Message)
	if err != nil {
		var appErr *apperror.AppError
		if errors.Is(err, apperror.ErrUnavailable) && errors.As(err, &appErr) {
			writeJSON(w, http.StatusServiceUnavailable, struct {
				ErrorResponse
				Reply string `json:"reply"`
			}{
				ErrorResponse: ErrorResponse{Error: "unavailable", Message: "Failed to generate response"},
				Reply:         appErr.Message,
			})
			return
		}
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, chatResponse{Reply: reply})
}

// UploadSigner issues presigned image uploads. *upload.Signer implements it.
type UploadSigner interface {
	Sign(ctx context.Context, userID, contentType string) (*upload.Signature, error)
}

// UploadHandler hands out presigned PUT URLs for item photos.
type UploadHandler struct {
	signer UploadSigner // nil when object storage is not configured
}

func NewUploadHandler(signer UploadSigner) *UploadHandler {
	return &UploadHandler{signer: signer}
}

// HTTP: POST /api/uploads/signature
// REQUEST BODY: {"contentType": "image/jpeg"}
func (h *UploadHandler) HandleSign(w http.ResponseWriter, r *http.Request) {
	if h.signer == nil {
		writeError(w, apperror.Unavailable("image uploads are not configured"))
		return
	}
	var req struct {
		ContentType string `json:"contentType"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	sig, err := h.signer.Sign(r.Context(), callerID(r), req.ContentType)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sig)
}
