package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sakif/ecoloop/internal/apperror"
	"github.com/sakif/ecoloop/internal/service"
)

// AdminHandler serves the dashboard. Routes are mounted behind
// auth.RequireAdmin.
type AdminHandler struct {
	svc *service.AdminService
}

func NewAdminHandler(svc *service.AdminService) *AdminHandler {
	return &AdminHandler{svc: svc}
}

// HTTP: GET /api/admin/stats
func (h *AdminHandler) HandleStats(w http.ResponseWriter, r *http.Request) {
	st, err := h.svc.Stats(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// HTTP: GET /api/admin/users
func (h *AdminHandler) HandleUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.svc.ListUsers(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, users)
}

// HTTP: PATCH /api/admin/users/{id}/suspend
// REQUEST BODY: {"suspended": true}
func (h *AdminHandler) HandleSuspend(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Suspended *bool `json:"suspended"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.Suspended == nil {
		writeError(w, apperror.ValidationFailed("suspended", "suspended is required"))
		return
	}
	u, err := h.svc.SetSuspended(r.Context(), callerID(r), chi.URLParam(r, "id"), *req.Suspended)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

// HTTP: PATCH /api/admin/users/{id}/role
// REQUEST BODY: {"role": "admin"}
func (h *AdminHandler) HandleRole(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Role string `json:"role"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	u, err := h.svc.SetRole(r.Context(), callerID(r), chi.URLParam(r, "id"), req.Role)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}
