package handler_test

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/ecoloop/internal/model"
	"github.com/sakif/ecoloop/internal/realtime"
)

func TestMessageHandler(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	amina := env.register(t, "Amina", "amina@example.com")
	baraka := env.register(t, "Baraka", "baraka@example.com")
	itemID := env.createItem(t, amina, nil)

	send := func(t *testing.T, from signedInUser, to, content string) {
		t.Helper()
		rr := env.do(t, http.MethodPost, "/api/messages", map[string]string{
			"receiverId": to, "itemId": itemID, "content": content,
		}, from.Token)
		require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	}

	send(t, baraka, amina.ID, "Is the table still available?")
	send(t, baraka, amina.ID, "I can pick it up today.")

	t.Run("receiver is notified", func(t *testing.T) {
		events := env.pub.all()
		require.Len(t, events, 2)
		assert.Equal(t, amina.ID, events[0].Room)
		assert.Equal(t, realtime.EventPrivateMessage, events[0].Event)

		view, ok := events[0].Payload.(model.MessageView)
		require.True(t, ok, "payload is %T", events[0].Payload)
		assert.Equal(t, "Baraka", view.Sender.Name)
		require.NotNil(t, view.Item)
		assert.Equal(t, itemID, view.Item.ID)
	})

	t.Run("unread count", func(t *testing.T) {
		rr := env.do(t, http.MethodGet, "/api/messages", nil, amina.Token)
		require.Equal(t, http.StatusOK, rr.Code)
		var body struct {
			Count int `json:"count"`
		}
		decode(t, rr, &body)
		assert.Equal(t, 2, body.Count)
	})

	t.Run("conversations", func(t *testing.T) {
		rr := env.do(t, http.MethodGet, "/api/messages/conversations", nil, amina.Token)
		require.Equal(t, http.StatusOK, rr.Code)
		var convs []struct {
			OtherUserID string `json:"otherUserId"`
			OtherUser   struct {
				Name string `json:"name"`
			} `json:"otherUser"`
			LastMessage struct {
				Content string `json:"content"`
			} `json:"lastMessage"`
			UnreadCount int `json:"unreadCount"`
		}
		decode(t, rr, &convs)
		require.Len(t, convs, 1)
		assert.Equal(t, baraka.ID, convs[0].OtherUserID)
		assert.Equal(t, "Baraka", convs[0].OtherUser.Name)
		assert.Equal(t, "I can pick it up today.", convs[0].LastMessage.Content)
		assert.Equal(t, 2, convs[0].UnreadCount)
	})

	t.Run("history is private", func(t *testing.T) {
		rr := env.do(t, http.MethodGet, "/api/messages/"+amina.ID, nil, baraka.Token)
		assert.Equal(t, http.StatusForbidden, rr.Code)

		rr = env.do(t, http.MethodGet, "/api/messages/"+amina.ID, nil, amina.Token)
		require.Equal(t, http.StatusOK, rr.Code)
		var msgs []struct {
			Content string `json:"content"`
		}
		decode(t, rr, &msgs)
		assert.Len(t, msgs, 2)
	})

	t.Run("mark conversation read", func(t *testing.T) {
		rr := env.do(t, http.MethodPost, "/api/messages/read/"+baraka.ID, nil, amina.Token)
		require.Equal(t, http.StatusOK, rr.Code)
		var body struct {
			Marked int64 `json:"marked"`
		}
		decode(t, rr, &body)
		assert.EqualValues(t, 2, body.Marked)

		rr = env.do(t, http.MethodPost, "/api/messages/read", nil, amina.Token)
		require.Equal(t, http.StatusOK, rr.Code)
		decode(t, rr, &body)
		assert.Zero(t, body.Marked, "second pass marks nothing")
	})

	t.Run("validation", func(t *testing.T) {
		tests := []struct {
			name string
			body map[string]string
			code int
		}{
			{"empty content", map[string]string{"receiverId": amina.ID, "content": "   "}, http.StatusBadRequest},
			{"to self", map[string]string{"receiverId": baraka.ID, "content": "hi me"}, http.StatusBadRequest},
			{"unknown receiver", map[string]string{"receiverId": "nobody", "content": "hello"}, http.StatusNotFound},
			{"unknown item", map[string]string{"receiverId": amina.ID, "itemId": "missing", "content": "hello"}, http.StatusNotFound},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				rr := env.do(t, http.MethodPost, "/api/messages", tt.body, baraka.Token)
				assert.Equal(t, tt.code, rr.Code, rr.Body.String())
			})
		}
		assert.Len(t, env.pub.all(), 2, "rejected messages are never pushed")
	})
}
