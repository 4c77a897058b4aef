package handler

import (
	"net/http"
	"strings"

	"github.com/sakif/ecoloop/internal/ecopoints"
	"github.com/sakif/ecoloop/internal/service"
)

// LeaderboardHandler serves the ranking and the eco-points preview.
type LeaderboardHandler struct {
	svc *service.LeaderboardService
}

func NewLeaderboardHandler(svc *service.LeaderboardService) *LeaderboardHandler {
	return &LeaderboardHandler{svc: svc}
}

// HandleLeaderboard returns the top users; a signed-in caller outside the
// top also gets their own rank.
//
// HTTP: GET /api/leaderboard (optional auth)
func (h *LeaderboardHandler) HandleLeaderboard(w http.ResponseWriter, r *http.Request) {
	lb, err := h.svc.Get(r.Context(), callerID(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, lb)
}

// HandlePreview shows what listing and completing an item of a category is
// worth, so the client never carries its own copy of the table. Without a
// category it returns every known category.
//
// HTTP: GET /api/ecopoints/preview?category=Furniture
func (h *LeaderboardHandler) HandlePreview(w http.ResponseWriter, r *http.Request) {
	if category := strings.TrimSpace(r.URL.Query().Get("category")); category != "" {
		writeJSON(w, http.StatusOK, ecopoints.PreviewFor(category))
		return
	}

	cats := ecopoints.Categories()
	out := make([]ecopoints.Preview, 0, len(cats))
	for _, c := range cats {
		out = append(out, ecopoints.PreviewFor(c))
	}
	writeJSON(w, http.StatusOK, out)
}
