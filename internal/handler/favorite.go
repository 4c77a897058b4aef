package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sakif/ecoloop/internal/service"
)

type FavoriteHandler struct {
	svc *service.FavoriteService
}

func NewFavoriteHandler(svc *service.FavoriteService) *FavoriteHandler {
	return &FavoriteHandler{svc: svc}
}

// HTTP: GET /api/favorites
func (h *FavoriteHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	items, err := h.svc.List(r.Context(), callerID(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

// HTTP: POST /api/favorites/{itemId}
func (h *FavoriteHandler) HandleAdd(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Add(r.Context(), callerID(r), chi.URLParam(r, "itemId")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, MessageResponse{Message: "Added to favorites"})
}

// HTTP: DELETE /api/favorites/{itemId}
func (h *FavoriteHandler) HandleRemove(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Remove(r.Context(), callerID(r), chi.URLParam(r, "itemId")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, MessageResponse{Message: "Removed from favorites"})
}

// HTTP: GET /api/favorites/check/{itemId}
func (h *FavoriteHandler) HandleCheck(w http.ResponseWriter, r *http.Request) {
	ok, err := h.svc.IsFavorite(r.Context(), callerID(r), chi.URLParam(r, "itemId"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"isFavorite": ok})
}
