// ABOUTME: WebSocket endpoint: join validation, upgrade, and the read loop
package httpapi

import (
	"net/http"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/beatsync/beatsync-go/internal/metrics"
	"github.com/beatsync/beatsync-go/internal/room"
	"github.com/beatsync/beatsync-go/internal/session"
)

const maxFrameBytes = 64 << 10

// handleWebSocket validates the join parameters, upgrades, and runs the read
// loop until the connection dies.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	roomID := q.Get("roomId")
	clientID := strings.TrimSpace(q.Get("clientId"))
	username := strings.TrimSpace(q.Get("username"))

	if !room.ValidRoomID(roomID) {
		writeError(w, http.StatusBadRequest, "roomId must be 6 digits")
		return
	}
	if clientID == "" || username == "" {
		writeError(w, http.StatusBadRequest, "clientId and username are required")
		return
	}

	rm, err := s.rooms.GetOrCreate(roomID)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debug().Err(err).Msg("upgrade failed")
		return
	}
	conn.SetReadLimit(maxFrameBytes)

	sess := session.New(conn, roomID, clientID, username)
	go sess.WritePump()
	if !rm.AddClient(sess) {
		// The room tore itself down between resolve and join; the registry
		// hands out a fresh replacement.
		rm, err = s.rooms.GetOrCreate(roomID)
		if err != nil || !rm.AddClient(sess) {
			sess.Close(websocket.CloseTryAgainLater, "room closing, retry")
			return
		}
	}
	metrics.ConnectedClients.Inc()
	defer func() {
		rm.RemoveClient(sess)
		sess.Close(websocket.CloseNormalClosure, "")
		metrics.ConnectedClients.Dec()
	}()

	for {
		_, data, err := conn.ReadMessage()
		// Stamp the receive time before any parsing so NTP T1 is honest.
		receivedAt := s.clk.NowMs()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.log.Debug().Err(err).Str("client_id", clientID).Msg("read failed")
			}
			return
		}
		s.dispatcher.Dispatch(sess, data, receivedAt)
	}
}
