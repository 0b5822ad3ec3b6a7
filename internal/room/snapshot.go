// ABOUTME: Room state snapshot/restore used by the periodic backup
package room

import "github.com/beatsync/beatsync-go/internal/protocol"

// Snapshot is the persisted view of one room. Sessions are never persisted;
// restored rooms start empty and clients reconnect into their old records.
type Snapshot struct {
	ClientDatas   []protocol.ClientData  `json:"clientDatas"`
	AudioSources  []protocol.AudioSource `json:"audioSources"`
	GlobalVolume  float64                `json:"globalVolume"`
	PlaybackState protocol.PlaybackState `json:"playbackState"`
	Chat          *ChatSnapshot          `json:"chat,omitempty"`
}

// ChatSnapshot preserves the buffer and the id counter so restored rooms keep
// handing out increasing message ids.
type ChatSnapshot struct {
	Messages      []protocol.ChatMessage `json:"messages"`
	NextMessageID uint64                 `json:"nextMessageId"`
}

// Snapshot captures the room's persistable state.
func (r *Room) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	datas := make([]protocol.ClientData, 0, len(r.clients))
	for _, rec := range r.clients {
		datas = append(datas, rec.data)
	}
	snap := Snapshot{
		ClientDatas:   datas,
		AudioSources:  append([]protocol.AudioSource(nil), r.sources...),
		GlobalVolume:  r.globalVolume,
		PlaybackState: r.playback,
	}
	if len(r.chat) > 0 || r.nextChatID > 1 {
		snap.Chat = &ChatSnapshot{
			Messages:      append([]protocol.ChatMessage(nil), r.chat...),
			NextMessageID: r.nextChatID,
		}
	}
	return snap
}

// Restore applies a snapshot to a freshly created room. Restored playback is
// forced to paused: no clients are connected, so nothing is actually playing.
func (r *Room) Restore(snap Snapshot) {
	r.mu.Lock()
	for _, data := range snap.ClientDatas {
		r.clients[data.ClientID] = &clientRecord{data: data}
	}
	r.sources = append([]protocol.AudioSource(nil), snap.AudioSources...)
	r.globalVolume = snap.GlobalVolume
	r.playback = snap.PlaybackState
	r.playback.Type = protocol.PlaybackPaused
	if snap.Chat != nil {
		r.chat = append([]protocol.ChatMessage(nil), snap.Chat.Messages...)
		r.nextChatID = snap.Chat.NextMessageID
		if r.nextChatID == 0 {
			r.nextChatID = 1
		}
	}
	r.mu.Unlock()
}
