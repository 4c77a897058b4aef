package handler_test

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type itemBody struct {
	ID          string  `json:"id"`
	Title       string  `json:"title"`
	Category    string  `json:"category"`
	PriceType   string  `json:"priceType"`
	Price       float64 `json:"price"`
	Status      string  `json:"status"`
	OwnerID     string  `json:"ownerId"`
	OwnerName   string  `json:"ownerName"`
	RecipientID string  `json:"recipientId"`
	Town        string  `json:"town"`
}

func TestItemHandler_CreateAndGet(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	owner := env.register(t, "Amina", "amina@example.com")

	t.Run("requires auth", func(t *testing.T) {
		rr := env.do(t, http.MethodPost, "/api/items", map[string]any{"title": "x"}, "")
		assert.Equal(t, http.StatusUnauthorized, rr.Code)
	})

	rr := env.do(t, http.MethodPost, "/api/items", map[string]any{
		"title":     "Laptop",
		"category":  "Electronics",
		"priceType": "Sell",
		"price":     12000,
		"condition": "Good",
		"town":      "Nairobi",
		"lat":       -1.2921,
		"lng":       36.8219,
	}, owner.Token)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	var created itemBody
	decode(t, rr, &created)
	assert.Equal(t, "available", created.Status)
	assert.Equal(t, owner.ID, created.OwnerID)

	u, err := env.db.GetUserByID(context.Background(), owner.ID)
	require.NoError(t, err)
	assert.Equal(t, 25, u.EcoPoints, "Electronics listing is worth 25")

	t.Run("get", func(t *testing.T) {
		rr := env.do(t, http.MethodGet, "/api/items/"+created.ID, nil, "")
		require.Equal(t, http.StatusOK, rr.Code)
		var got itemBody
		decode(t, rr, &got)
		assert.Equal(t, "Laptop", got.Title)
		assert.Equal(t, "Amina", got.OwnerName)
	})

	t.Run("get unknown", func(t *testing.T) {
		rr := env.do(t, http.MethodGet, "/api/items/does-not-exist", nil, "")
		assert.Equal(t, http.StatusNotFound, rr.Code)
		assert.Equal(t, "not_found", decodeError(t, rr).Error)
	})

	t.Run("sell without a price", func(t *testing.T) {
		rr := env.do(t, http.MethodPost, "/api/items", map[string]any{
			"title": "Sofa", "category": "Furniture", "priceType": "Sell", "town": "Nairobi",
		}, owner.Token)
		assert.Equal(t, http.StatusBadRequest, rr.Code)
		assert.Equal(t, "price", decodeError(t, rr).Field)
	})

	t.Run("mine", func(t *testing.T) {
		rr := env.do(t, http.MethodGet, "/api/items/mine", nil, owner.Token)
		require.Equal(t, http.StatusOK, rr.Code)
		var items []itemBody
		decode(t, rr, &items)
		require.Len(t, items, 1)
		assert.Equal(t, created.ID, items[0].ID)
	})
}

func TestItemHandler_List(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	owner := env.register(t, "Amina", "amina@example.com")

	env.createItem(t, owner, map[string]any{"title": "Chair", "town": "Nairobi", "lat": -1.2921, "lng": 36.8219})
	env.createItem(t, owner, map[string]any{"title": "Novel", "category": "Books", "town": "Mombasa", "lat": -4.0435, "lng": 39.6682})
	env.createItem(t, owner, map[string]any{"title": "Bike", "category": "Sports", "priceType": "Sell", "price": 5000, "town": "Nakuru"})

	list := func(t *testing.T, query string) []itemBody {
		t.Helper()
		rr := env.do(t, http.MethodGet, "/api/items"+query, nil, "")
		require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
		var items []itemBody
		decode(t, rr, &items)
		return items
	}

	titles := func(items []itemBody) []string {
		out := make([]string, len(items))
		for i, it := range items {
			out[i] = it.Title
		}
		return out
	}

	tests := []struct {
		name  string
		query string
		want  []string
	}{
		{"all, newest first", "", []string{"Bike", "Novel", "Chair"}},
		{"category", "?category=Books", []string{"Novel"}},
		{"town is case-insensitive", "?town=nairobi", []string{"Chair"}},
		{"price type", "?priceType=Sell", []string{"Bike"}},
		{"price range", "?minPrice=1000&maxPrice=6000", []string{"Bike"}},
		{"within 50 km of Nairobi", "?lat=-1.28&lng=36.82&radiusKm=50", []string{"Chair"}},
		{"limit", "?limit=1", []string{"Bike"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, titles(list(t, tt.query)))
		})
	}

	t.Run("bad number names the parameter", func(t *testing.T) {
		rr := env.do(t, http.MethodGet, "/api/items?minPrice=cheap", nil, "")
		assert.Equal(t, http.StatusBadRequest, rr.Code)
		assert.Equal(t, "minPrice", decodeError(t, rr).Field)
	})

	t.Run("non-finite numbers are rejected", func(t *testing.T) {
		for _, q := range []string{"minPrice=NaN", "maxPrice=Inf", "lat=-1.28&lng=36.82&radiusKm=NaN", "lat=-Infinity&lng=36.82&radiusKm=5"} {
			rr := env.do(t, http.MethodGet, "/api/items?"+q, nil, "")
			assert.Equal(t, http.StatusBadRequest, rr.Code, q)
		}
	})

	t.Run("radius out of range", func(t *testing.T) {
		rr := env.do(t, http.MethodGet, "/api/items?lat=-1.28&lng=36.82&radiusKm=501", nil, "")
		assert.Equal(t, http.StatusBadRequest, rr.Code)
		assert.Equal(t, "radiusKm", decodeError(t, rr).Field)
	})

	t.Run("radius without a center is ignored", func(t *testing.T) {
		assert.Len(t, list(t, "?radiusKm=10"), 3)
	})

	t.Run("towns", func(t *testing.T) {
		rr := env.do(t, http.MethodGet, "/api/items/towns", nil, "")
		require.Equal(t, http.StatusOK, rr.Code)
		var towns []string
		decode(t, rr, &towns)
		assert.Contains(t, towns, "Nakuru")
		assert.IsNonDecreasing(t, towns)
	})
}

func TestItemHandler_OwnerOnly(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	owner := env.register(t, "Amina", "amina@example.com")
	other := env.register(t, "Baraka", "baraka@example.com")
	id := env.createItem(t, owner, nil)

	t.Run("update by another user", func(t *testing.T) {
		rr := env.do(t, http.MethodPut, "/api/items/"+id, map[string]any{"title": "Mine now"}, other.Token)
		assert.Equal(t, http.StatusForbidden, rr.Code)
	})

	t.Run("status by another user", func(t *testing.T) {
		rr := env.do(t, http.MethodPatch, "/api/items/"+id+"/status", map[string]any{"status": "sold"}, other.Token)
		assert.Equal(t, http.StatusForbidden, rr.Code)
	})

	t.Run("status by another user reveals nothing about the recipient", func(t *testing.T) {
		for _, email := range []string{"amina@example.com", "ghost@example.com"} {
			rr := env.do(t, http.MethodPatch, "/api/items/"+id+"/status", map[string]any{
				"status": "sold", "recipientEmail": email,
			}, other.Token)
			assert.Equal(t, http.StatusForbidden, rr.Code, email)
			assert.Equal(t, "only the owner can change the status", decodeError(t, rr).Message, email)
		}
	})

	t.Run("delete by another user", func(t *testing.T) {
		rr := env.do(t, http.MethodDelete, "/api/items/"+id, nil, other.Token)
		assert.Equal(t, http.StatusForbidden, rr.Code)
	})

	t.Run("update by owner", func(t *testing.T) {
		rr := env.do(t, http.MethodPut, "/api/items/"+id, map[string]any{"title": "Oak table, seats six"}, owner.Token)
		require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
		var got itemBody
		decode(t, rr, &got)
		assert.Equal(t, "Oak table, seats six", got.Title)
	})

	t.Run("delete by owner", func(t *testing.T) {
		rr := env.do(t, http.MethodDelete, "/api/items/"+id, nil, owner.Token)
		require.Equal(t, http.StatusOK, rr.Code)
		var body struct {
			Message string `json:"message"`
		}
		decode(t, rr, &body)
		assert.Equal(t, "Item deleted successfully", body.Message)

		rr = env.do(t, http.MethodGet, "/api/items/"+id, nil, "")
		assert.Equal(t, http.StatusNotFound, rr.Code)
	})
}

func TestItemHandler_UpdateStatus(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	owner := env.register(t, "Amina", "amina@example.com")
	buyer := env.register(t, "Baraka", "baraka@example.com")
	id := env.createItem(t, owner, nil) // Furniture: 15 on create, 30 on completion

	points := func(userID string) int {
		u, err := env.db.GetUserByID(context.Background(), userID)
		require.NoError(t, err)
		return u.EcoPoints
	}

	rr := env.do(t, http.MethodPatch, "/api/items/"+id+"/status", map[string]any{
		"status": "exchanged", "recipientEmail": "BARAKA@example.com",
	}, owner.Token)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var res struct {
		Item    itemBody `json:"item"`
		Awarded bool     `json:"awarded"`
	}
	decode(t, rr, &res)
	assert.True(t, res.Awarded)
	assert.Equal(t, "exchanged", res.Item.Status)
	assert.Equal(t, buyer.ID, res.Item.RecipientID)
	assert.Equal(t, 45, points(owner.ID))
	assert.Equal(t, 30, points(buyer.ID))

	t.Run("completing again pays nothing", func(t *testing.T) {
		rr := env.do(t, http.MethodPatch, "/api/items/"+id+"/status", map[string]any{"status": "available"}, owner.Token)
		require.Equal(t, http.StatusOK, rr.Code)
		rr = env.do(t, http.MethodPatch, "/api/items/"+id+"/status", map[string]any{"status": "sold"}, owner.Token)
		require.Equal(t, http.StatusOK, rr.Code)

		decode(t, rr, &res)
		assert.False(t, res.Awarded)
		assert.Equal(t, 45, points(owner.ID))
		assert.Equal(t, 30, points(buyer.ID))
	})

	t.Run("unknown status", func(t *testing.T) {
		rr := env.do(t, http.MethodPatch, "/api/items/"+id+"/status", map[string]any{"status": "gone"}, owner.Token)
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("owner cannot be the recipient", func(t *testing.T) {
		id := env.createItem(t, owner, nil)
		rr := env.do(t, http.MethodPatch, "/api/items/"+id+"/status", map[string]any{
			"status": "sold", "recipientEmail": "amina@example.com",
		}, owner.Token)
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})
}

func TestItemHandler_Recommendations(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	seller := env.register(t, "Amina", "amina@example.com")
	reader := env.register(t, "Baraka", "baraka@example.com")

	env.createItem(t, seller, map[string]any{"title": "Novel", "category": "Books"})
	env.createItem(t, reader, map[string]any{"title": "Old textbook", "category": "Books"})

	rr := env.do(t, http.MethodGet, "/api/items/recommendations", nil, reader.Token)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var items []itemBody
	decode(t, rr, &items)
	require.NotEmpty(t, items)
	for _, it := range items {
		assert.NotEqual(t, reader.ID, it.OwnerID, "own listings are never recommended")
	}
	assert.Equal(t, "Novel", items[0].Title)
}
