package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sakif/ecoloop/internal/auth"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 9 / 10
	maxMessageSize = 4096
)

// typingData is the client payload of typing and stop_typing.
type typingData struct {
	RecipientID string `json:"recipientId"`
}

// TypingNotice is what the recipient of a typing event receives. UserID is
// always the authenticated sender, whatever the client claimed.
type TypingNotice struct {
	UserID      string `json:"userId"`
	RecipientID string `json:"recipientId"`
}

type joinData struct {
	UserID string `json:"userId"`
}

type errorData struct {
	Message string `json:"message"`
}

// Server is the http.Handler for GET /ws.
//
// CONNECTION LIFECYCLE:
//  1. Authenticate (bearer header, cookie, or ?token=) before upgrading, so
//     a bad token gets a plain 401 instead of a socket.
//  2. Upgrade, join the caller's own room.
//  3. One goroutine writes (queued frames and pings); the handler goroutine
//     reads client frames. gorilla/websocket allows one concurrent reader
//     and one concurrent writer, and this split keeps to that.
//  4. When either side fails the session leaves all rooms.
type Server struct {
	hub      *Hub
	pub      Publisher
	tokens   *auth.TokenService
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// NewServer relays typing events through pub so they reach the recipient
// on any instance. allowedOrigins of ["*"] accepts every origin.
func NewServer(hub *Hub, pub Publisher, tokens *auth.TokenService, allowedOrigins []string, logger *slog.Logger) *Server {
	s := &Server{hub: hub, pub: pub, tokens: tokens, logger: logger}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(allowedOrigins),
	}
	return s
}

func originChecker(allowed []string) func(*http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, a := range allowed {
			if a == "*" || strings.EqualFold(a, origin) {
				return true
			}
		}
		return false
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	tok := auth.TokenFromRequest(r)
	if tok == "" {
		tok = r.URL.Query().Get("token")
	}
	userID, err := s.tokens.Validate(tok)
	if err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":"unauthorized","message":"valid authentication required"}`))
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the error response.
		s.logger.Debug("realtime: upgrade failed", slog.String("error", err.Error()))
		return
	}

	sess := NewSession(userID, DefaultSendBuffer)
	s.hub.Join(userID, sess)
	s.logger.Debug("realtime: connected",
		slog.String("user_id", userID),
		slog.String("session", sess.ID),
	)

	go s.writePump(conn, sess)
	s.readPump(conn, sess)

	s.hub.LeaveAll(sess)
	sess.Close()
	s.logger.Debug("realtime: disconnected",
		slog.String("user_id", userID),
		slog.String("session", sess.ID),
	)
}

func (s *Server) writePump(conn *websocket.Conn, sess *Session) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case frame := <-sess.Outbound():
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				sess.Close()
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				sess.Close()
				return
			}
		case <-sess.Done():
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			return
		}
	}
}

func (s *Server) readPump(conn *websocket.Conn, sess *Session) {
	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Debug("realtime: read error", slog.String("error", err.Error()))
			}
			return
		}

		var f Frame
		if err := json.Unmarshal(raw, &f); err != nil {
			s.sendError(sess, "malformed frame")
			continue
		}
		s.handleFrame(sess, f)
	}
}

func (s *Server) handleFrame(sess *Session, f Frame) {
	switch f.Event {
	case EventJoin:
		var d joinData
		if err := json.Unmarshal(f.Data, &d); err != nil || d.UserID == "" {
			s.sendError(sess, "join requires userId")
			return
		}
		if d.UserID != sess.UserID {
			s.sendError(sess, "you can only join your own room")
			return
		}
		s.hub.Join(sess.UserID, sess)

	case EventTyping, EventStopTyping:
		var d typingData
		if err := json.Unmarshal(f.Data, &d); err != nil || d.RecipientID == "" {
			s.sendError(sess, f.Event+" requires recipientId")
			return
		}
		// Relay failures only lose a typing indicator.
		ctx, cancel := context.WithTimeout(context.Background(), writeWait)
		defer cancel()
		if err := s.pub.Publish(ctx, d.RecipientID, f.Event, TypingNotice{UserID: sess.UserID, RecipientID: d.RecipientID}); err != nil {
			s.logger.Warn("realtime: relaying typing event", slog.String("error", err.Error()))
		}

	default:
		s.sendError(sess, "unknown event "+f.Event)
	}
}

func (s *Server) sendError(sess *Session, msg string) {
	frame, err := encodeFrame(EventError, errorData{Message: msg})
	if err != nil {
		return
	}
	sess.enqueue(frame)
}
