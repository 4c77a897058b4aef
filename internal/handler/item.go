package handler

import (
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/sakif/ecoloop/internal/apperror"
	"github.com/sakif/ecoloop/internal/service"
)

// ItemHandler serves the marketplace listing endpoints.
type ItemHandler struct {
	svc    *service.ItemService
	logger *slog.Logger
}

func NewItemHandler(svc *service.ItemService, logger *slog.Logger) *ItemHandler {
	return &ItemHandler{svc: svc, logger: logger}
}

// queryFloat parses an optional numeric query parameter.
func queryFloat(q url.Values, name string) (*float64, error) {
	raw := q.Get(name)
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return nil, apperror.ValidationFailed(name, name+" must be a number")
	}
	return &v, nil
}

func listParams(q url.Values) (service.ListParams, error) {
	p := service.ListParams{
		Category:  q.Get("category"),
		PriceType: q.Get("priceType"),
		Condition: q.Get("condition"),
		Status:    q.Get("status"),
		Town:      q.Get("town"),
		Sort:      q.Get("sort"),
	}

	var err error
	floats := []struct {
		name string
		dst  **float64
	}{
		{"minPrice", &p.MinPrice},
		{"maxPrice", &p.MaxPrice},
		{"lat", &p.Lat},
		{"lng", &p.Lng},
		{"radiusKm", &p.RadiusKm},
	}
	for _, f := range floats {
		if *f.dst, err = queryFloat(q, f.name); err != nil {
			return p, err
		}
	}

	if raw := q.Get("limit"); raw != "" {
		if p.Limit, err = strconv.Atoi(raw); err != nil {
			return p, apperror.ValidationFailed("limit", "limit must be an integer")
		}
	}
	return p, nil
}

// HandleList returns a filtered listing.
//
// HTTP: GET /api/items?category=&priceType=&condition=&status=&town=
//
//	&minPrice=&maxPrice=&lat=&lng=&radiusKm=&sort=&limit=
func (h *ItemHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	p, err := listParams(r.URL.Query())
	if err != nil {
		writeError(w, err)
		return
	}
	items, err := h.svc.List(r.Context(), p)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

// HTTP: GET /api/items/towns
func (h *ItemHandler) HandleTowns(w http.ResponseWriter, r *http.Request) {
	towns, err := h.svc.Towns(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, towns)
}

// HTTP: GET /api/items/mine
func (h *ItemHandler) HandleMine(w http.ResponseWriter, r *http.Request) {
	items, err := h.svc.ListByOwner(r.Context(), callerID(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

// HTTP: GET /api/items/recommendations
func (h *ItemHandler) HandleRecommendations(w http.ResponseWriter, r *http.Request) {
	items, err := h.svc.Recommendations(r.Context(), callerID(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

// HTTP: GET /api/items/{id}
func (h *ItemHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	item, err := h.svc.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

type itemRequest struct {
	Title       *string  `json:"title"`
	Description *string  `json:"description"`
	ImageURL    *string  `json:"imageUrl"`
	Category    *string  `json:"category"`
	Condition   *string  `json:"condition"`
	PriceType   *string  `json:"priceType"`
	Price       *float64 `json:"price"`
	Town        *string  `json:"town"`
	locationFields
}

func (req itemRequest) input() service.ItemInput {
	return service.ItemInput{
		Title:       req.Title,
		Description: req.Description,
		ImageURL:    req.ImageURL,
		Category:    req.Category,
		Condition:   req.Condition,
		PriceType:   req.PriceType,
		Price:       req.Price,
		Town:        req.Town,
		Location:    req.point(),
	}
}

// HandleCreate lists an item and credits the owner's eco-points.
//
// HTTP: POST /api/items
func (h *ItemHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var req itemRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	item, err := h.svc.Create(r.Context(), callerID(r), req.input())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, item)
}

// HTTP: PUT /api/items/{id}
func (h *ItemHandler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	var req itemRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	item, err := h.svc.Update(r.Context(), callerID(r), chi.URLParam(r, "id"), req.input())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

// HandleUpdateStatus moves an item to available, sold or exchanged.
//
// HTTP: PATCH /api/items/{id}/status
// REQUEST BODY: {"status": "sold", "recipientEmail": "buyer@example.com"}
func (h *ItemHandler) HandleUpdateStatus(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Status         string `json:"status"`
		RecipientID    string `json:"recipientId"`
		RecipientEmail string `json:"recipientEmail"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	res, err := h.svc.UpdateStatus(r.Context(), callerID(r), chi.URLParam(r, "id"), service.StatusInput{
		Status:         req.Status,
		RecipientID:    req.RecipientID,
		RecipientEmail: req.RecipientEmail,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// HTTP: DELETE /api/items/{id}
func (h *ItemHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Delete(r.Context(), callerID(r), chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, MessageResponse{Message: "Item deleted successfully"})
}
