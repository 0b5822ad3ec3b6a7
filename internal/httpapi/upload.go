// ABOUTME: Audio upload flow: presign, token-guarded PUT, completion
package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/beatsync/beatsync-go/internal/room"
)

type presignRequest struct {
	RoomID   string `json:"roomId"`
	FileName string `json:"fileName"`
}

// handlePresignUpload mints a one-time upload URL for a room-scoped object.
func (s *Server) handlePresignUpload(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusServiceUnavailable, "uploads disabled")
		return
	}
	var req presignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	if !room.ValidRoomID(req.RoomID) {
		writeError(w, http.StatusBadRequest, "roomId must be 6 digits")
		return
	}
	target, err := s.store.PresignUpload(req.RoomID, req.FileName)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"uploadUrl": target.UploadURL,
		"publicUrl": target.PublicURL,
	})
}

// handleDirectUpload receives the audio bytes for a previously minted token.
func (s *Server) handleDirectUpload(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusServiceUnavailable, "uploads disabled")
		return
	}
	token := chi.URLParam(r, "token")
	body := http.MaxBytesReader(w, r.Body, maxUploadBytes)
	publicURL, err := s.store.Put(r.Context(), token, body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"publicUrl": publicURL})
}

type uploadCompleteRequest struct {
	RoomID    string `json:"roomId"`
	PublicURL string `json:"publicUrl"`
}

// handleUploadComplete queues an uploaded track in its room. Only URLs the
// store actually owns for that room are accepted.
func (s *Server) handleUploadComplete(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusServiceUnavailable, "uploads disabled")
		return
	}
	var req uploadCompleteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	if !s.store.Owns(req.RoomID, req.PublicURL) {
		writeError(w, http.StatusBadRequest, "url does not belong to this room")
		return
	}
	rm, err := s.rooms.GetOrCreate(req.RoomID)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	rm.AddAudioSources(req.PublicURL)
	writeJSON(w, http.StatusOK, map[string]string{"status": "queued"})
}
