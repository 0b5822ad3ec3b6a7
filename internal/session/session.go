// ABOUTME: Per-connection session: identity, ordered send queue, writer pump
// ABOUTME: The session owns the WebSocket write side; rooms only enqueue
package session

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	blog "github.com/beatsync/beatsync-go/internal/log"
)

const (
	sendBuffer    = 256
	writeDeadline = 10 * time.Second
	pingInterval  = 30 * time.Second
)

// Conn is the subset of *websocket.Conn the session writes through. Tests
// inject a fake instead of a live socket.
type Conn interface {
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// Session is one connected client. All outbound traffic goes through the
// buffered send queue and a single writer goroutine, so writes never
// interleave and a slow client never blocks a room handler.
type Session struct {
	ClientID string
	Username string
	RoomID   string

	conn      Conn
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
	log       zerolog.Logger
}

// New creates a session for an upgraded connection.
func New(conn Conn, roomID, clientID, username string) *Session {
	return &Session{
		ClientID: clientID,
		Username: username,
		RoomID:   roomID,
		conn:     conn,
		send:     make(chan []byte, sendBuffer),
		done:     make(chan struct{}),
		log: blog.WithComponent("session").With().
			Str("room_id", roomID).
			Str("client_id", clientID).
			Logger(),
	}
}

// Send marshals v and enqueues it. A full queue means the client stopped
// draining; the frame is dropped rather than blocking the caller.
func (s *Session) Send(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal outbound frame: %w", err)
	}
	select {
	case <-s.done:
		return fmt.Errorf("session closed")
	case s.send <- data:
		return nil
	default:
		s.log.Warn().Msg("send queue full, dropping frame")
		return fmt.Errorf("send queue full")
	}
}

// WritePump drains the send queue onto the socket and keeps the connection
// alive with pings. Returns when the session closes or a write fails.
func (s *Session) WritePump() {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case data := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				s.log.Debug().Err(err).Msg("write failed")
				s.Close(websocket.CloseAbnormalClosure, "write failed")
				return
			}
		case <-ticker.C:
			if err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeDeadline)); err != nil {
				s.Close(websocket.CloseAbnormalClosure, "ping failed")
				return
			}
		}
	}
}

// Close sends a close frame with the given code and reason, then tears the
// connection down. Safe to call from any goroutine, any number of times.
func (s *Session) Close(code int, reason string) {
	s.closeOnce.Do(func() {
		msg := websocket.FormatCloseMessage(code, reason)
		_ = s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		close(s.done)
		_ = s.conn.Close()
		s.log.Debug().Int("code", code).Str("reason", reason).Msg("session closed")
	})
}

// Done is closed when the session has been torn down.
func (s *Session) Done() <-chan struct{} {
	return s.done
}
