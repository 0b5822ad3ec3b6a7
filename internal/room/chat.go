// ABOUTME: Rolling room chat with monotonic ids and full sync on join
package room

import (
	"github.com/beatsync/beatsync-go/internal/protocol"
	"github.com/beatsync/beatsync-go/internal/session"
)

// SendChat appends a message and broadcasts the delta.
func (r *Room) SendChat(clientID, text string) {
	r.mu.Lock()
	rec, ok := r.clients[clientID]
	if !ok {
		r.mu.Unlock()
		return
	}
	msg := protocol.ChatMessage{
		ID:        r.nextChatID,
		ClientID:  clientID,
		Username:  rec.data.Username,
		Text:      text,
		Timestamp: r.clk.NowMs(),
	}
	if rec.data.Location != nil {
		msg.CountryCode = rec.data.Location.CountryCode
	}
	r.nextChatID++
	r.chat = append(r.chat, msg)
	if overflow := len(r.chat) - protocol.ChatHistoryCap; overflow > 0 {
		r.chat = append(r.chat[:0], r.chat[overflow:]...)
	}

	ev, err := protocol.NewRoomEvent(protocol.ChatUpdateEvent{
		Type:       protocol.EventChatUpdate,
		Messages:   []protocol.ChatMessage{msg},
		IsFullSync: false,
		NewestID:   msg.ID,
	})
	var out []outMsg
	if err == nil {
		out = append(out, outMsg{typ: protocol.EventChatUpdate, payload: ev, to: r.recipientsLocked()})
	}
	r.mu.Unlock()
	r.flush(out)
}

// chatFullSyncLocked hands the whole buffer to a fresh connection.
func (r *Room) chatFullSyncLocked(sess *session.Session) outMsg {
	var newest uint64
	if n := len(r.chat); n > 0 {
		newest = r.chat[n-1].ID
	}
	ev, _ := protocol.NewRoomEvent(protocol.ChatUpdateEvent{
		Type:       protocol.EventChatUpdate,
		Messages:   append([]protocol.ChatMessage(nil), r.chat...),
		IsFullSync: true,
		NewestID:   newest,
	})
	return outMsg{typ: protocol.EventChatUpdate, payload: ev, to: []*session.Session{sess}}
}
