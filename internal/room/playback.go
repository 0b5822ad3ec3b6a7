// ABOUTME: Playback scheduling: load barrier, play/pause, late-joiner sync
// ABOUTME: Queue mutations and global volume live here too
package room

import (
	"context"
	"time"

	"github.com/beatsync/beatsync-go/internal/clock"
	"github.com/beatsync/beatsync-go/internal/metrics"
	"github.com/beatsync/beatsync-go/internal/protocol"
	"github.com/beatsync/beatsync-go/internal/session"
)

// loadBarrier tracks which connected clients have decoded the pending track.
// Commit fires when every connected client reported in, or the timer expires.
type loadBarrier struct {
	play      protocol.PlayRequest
	initiator string
	loaded    map[string]struct{}
	timer     *time.Timer
}

// HandlePlay runs the load barrier: tell everyone to decode the track, then
// commit the scheduled PLAY once all connected clients confirmed (or the
// barrier times out). The initiator counts as already loaded.
func (r *Room) HandlePlay(initiatorID string, req protocol.PlayRequest) {
	r.mu.Lock()
	if !r.hasSourceLocked(req.AudioSource) {
		r.mu.Unlock()
		r.log.Warn().Str("url", req.AudioSource).Msg("play for track not in queue")
		return
	}
	if r.barrier != nil {
		r.barrier.timer.Stop()
	}
	b := &loadBarrier{
		play:      req,
		initiator: initiatorID,
		loaded:    map[string]struct{}{initiatorID: {}},
	}
	b.timer = time.AfterFunc(r.cfg.BarrierTimeout, func() { r.commitBarrier(b) })
	r.barrier = b

	var out []outMsg
	if ev, err := protocol.NewRoomEvent(protocol.LoadAudioSourceEvent{
		Type:              protocol.EventLoadAudioSource,
		AudioSourceToPlay: req.AudioSource,
	}); err == nil {
		out = append(out, outMsg{typ: protocol.EventLoadAudioSource, payload: ev, to: r.recipientsLocked()})
	}
	if r.barrierCompleteLocked(b) {
		out = append(out, r.commitBarrierLocked(b)...)
	}
	r.mu.Unlock()
	r.flush(out)
}

// HandleAudioLoaded records one client's decode confirmation.
func (r *Room) HandleAudioLoaded(clientID, url string) {
	r.mu.Lock()
	b := r.barrier
	if b == nil || b.play.AudioSource != url {
		r.mu.Unlock()
		return
	}
	if _, connected := r.sessions[clientID]; connected {
		b.loaded[clientID] = struct{}{}
	}
	var out []outMsg
	if r.barrierCompleteLocked(b) {
		out = r.commitBarrierLocked(b)
	}
	r.mu.Unlock()
	r.flush(out)
}

func (r *Room) barrierCompleteLocked(b *loadBarrier) bool {
	for id := range r.sessions {
		if _, ok := b.loaded[id]; !ok {
			return false
		}
	}
	return true
}

// commitBarrier is the timer path into the locked commit.
func (r *Room) commitBarrier(b *loadBarrier) {
	r.mu.Lock()
	out := r.commitBarrierLocked(b)
	r.mu.Unlock()
	r.flush(out)
}

// commitBarrierLocked fires the scheduled PLAY, once per barrier. Re-validates
// the queue since tracks can be deleted while the barrier is open.
func (r *Room) commitBarrierLocked(b *loadBarrier) []outMsg {
	if r.barrier != b {
		return nil
	}
	r.barrier = nil
	b.timer.Stop()

	if !r.hasSourceLocked(b.play.AudioSource) {
		r.log.Warn().Str("url", b.play.AudioSource).Msg("barrier track deleted, aborting play")
		return nil
	}

	executeAt := r.clk.ScheduledExecutionTime(r.maxRTTLocked(), 0)
	r.playback = protocol.PlaybackState{
		Type:                 protocol.PlaybackPlaying,
		AudioSource:          b.play.AudioSource,
		ServerTimeToExecute:  executeAt,
		TrackPositionSeconds: b.play.TrackTimeSeconds,
	}
	metrics.ScheduleLeadMs.Observe(float64(executeAt - r.clk.NowMs()))

	msg, err := protocol.NewScheduledAction(executeAt, protocol.PlayAction{
		Type:             protocol.ActionPlay,
		AudioSource:      b.play.AudioSource,
		TrackTimeSeconds: b.play.TrackTimeSeconds,
	})
	if err != nil {
		return nil
	}
	return []outMsg{{typ: protocol.ActionPlay, payload: msg, to: r.recipientsLocked()}}
}

// HandlePause schedules a synchronized pause. The request's audioSource may be
// empty when the client paused a track that was deleted under it.
func (r *Room) HandlePause(req protocol.PauseRequest) {
	r.mu.Lock()
	if r.barrier != nil {
		r.barrier.timer.Stop()
		r.barrier = nil
	}
	executeAt := r.clk.ScheduledExecutionTime(r.maxRTTLocked(), 0)
	r.playback = protocol.PlaybackState{
		Type:                 protocol.PlaybackPaused,
		AudioSource:          req.AudioSource,
		ServerTimeToExecute:  executeAt,
		TrackPositionSeconds: req.TrackTimeSeconds,
	}
	metrics.ScheduleLeadMs.Observe(float64(executeAt - r.clk.NowMs()))

	var out []outMsg
	if msg, err := protocol.NewScheduledAction(executeAt, protocol.PauseAction{
		Type:             protocol.ActionPause,
		AudioSource:      req.AudioSource,
		TrackTimeSeconds: req.TrackTimeSeconds,
	}); err == nil {
		out = append(out, outMsg{typ: protocol.ActionPause, payload: msg, to: r.recipientsLocked()})
	}
	r.mu.Unlock()
	r.flush(out)
}

// HandleSync unicasts a resume point to one client. The extra delay gives the
// late joiner time to fetch and decode the track before the deadline.
func (r *Room) HandleSync(sess *session.Session) {
	r.mu.Lock()
	if r.playback.Type != protocol.PlaybackPlaying {
		r.mu.Unlock()
		return
	}
	executeAt := r.clk.ScheduledExecutionTime(r.maxRTTLocked(), clock.SyncExtraDelay)
	resumeAt := r.playback.TrackPositionSeconds +
		float64(executeAt-r.playback.ServerTimeToExecute)/1000
	var out []outMsg
	if msg, err := protocol.NewScheduledAction(executeAt, protocol.PlayAction{
		Type:             protocol.ActionPlay,
		AudioSource:      r.playback.AudioSource,
		TrackTimeSeconds: resumeAt,
	}); err == nil {
		out = append(out, outMsg{typ: protocol.ActionPlay, payload: msg, to: []*session.Session{sess}})
	}
	r.mu.Unlock()
	r.flush(out)
}

func (r *Room) hasSourceLocked(url string) bool {
	for _, s := range r.sources {
		if s.URL == url {
			return true
		}
	}
	return false
}

// AddAudioSources appends new tracks to the queue, skipping duplicates, and
// broadcasts the updated queue.
func (r *Room) AddAudioSources(urls ...string) {
	r.mu.Lock()
	added := false
	for _, u := range urls {
		if u == "" || r.hasSourceLocked(u) {
			continue
		}
		r.sources = append(r.sources, protocol.AudioSource{URL: u})
		added = true
	}
	var out []outMsg
	if added {
		out = append(out, r.setAudioSourcesLocked())
	}
	r.mu.Unlock()
	r.flush(out)
}

// SetAudioSources replaces the queue wholesale (deduplicated, order kept) and
// broadcasts it. If the current track is no longer present, playback resets.
func (r *Room) SetAudioSources(urls []string) {
	r.mu.Lock()
	seen := make(map[string]struct{}, len(urls))
	next := make([]protocol.AudioSource, 0, len(urls))
	for _, u := range urls {
		if u == "" {
			continue
		}
		if _, dup := seen[u]; dup {
			continue
		}
		seen[u] = struct{}{}
		next = append(next, protocol.AudioSource{URL: u})
	}
	r.sources = next
	if cur := r.playback.AudioSource; cur != "" && !r.hasSourceLocked(cur) {
		r.playback = protocol.InitialPlaybackState()
	}
	out := []outMsg{r.setAudioSourcesLocked()}
	r.mu.Unlock()
	r.flush(out)
}

// DeleteAudioSources removes tracks from the queue. Room-owned blobs are
// deleted from the store first; a track whose blob delete fails stays queued.
// If the current track goes away, playback resets to the initial paused state.
func (r *Room) DeleteAudioSources(ctx context.Context, urls []string) {
	removable := make(map[string]struct{}, len(urls))
	for _, u := range urls {
		if r.store != nil && r.store.Owns(r.ID, u) {
			if err := r.store.Delete(ctx, u); err != nil {
				r.log.Error().Err(err).Str("url", u).Msg("blob delete failed, keeping track")
				continue
			}
		}
		removable[u] = struct{}{}
	}

	r.mu.Lock()
	kept := r.sources[:0]
	removed := false
	for _, s := range r.sources {
		if _, gone := removable[s.URL]; gone {
			removed = true
			continue
		}
		kept = append(kept, s)
	}
	r.sources = kept

	var out []outMsg
	if removed {
		if cur := r.playback.AudioSource; cur != "" && !r.hasSourceLocked(cur) {
			r.playback = protocol.InitialPlaybackState()
		}
		out = append(out, r.setAudioSourcesLocked())
	}
	r.mu.Unlock()
	r.flush(out)
}

// setAudioSourcesLocked builds the queue broadcast.
func (r *Room) setAudioSourcesLocked() outMsg {
	ev, _ := protocol.NewRoomEvent(protocol.SetAudioSourcesEvent{
		Type:               protocol.EventSetAudioSources,
		Sources:            append([]protocol.AudioSource(nil), r.sources...),
		CurrentAudioSource: r.playback.AudioSource,
	})
	return outMsg{typ: protocol.EventSetAudioSources, payload: ev, to: r.recipientsLocked()}
}

// globalVolumeRampTime is shorter than the spatial ramp since volume changes
// are user-visible immediately.
const globalVolumeRampTime = 0.1

// SetGlobalVolume clamps and applies the room-wide volume. Executes at "now":
// volume is not a synchronization-critical action.
func (r *Room) SetGlobalVolume(volume float64) {
	if volume < 0 {
		volume = 0
	}
	if volume > 1 {
		volume = 1
	}
	r.mu.Lock()
	r.globalVolume = volume
	var out []outMsg
	if msg, err := protocol.NewScheduledAction(r.clk.NowMs(), protocol.GlobalVolumeAction{
		Type:     protocol.ActionGlobalVolumeConfig,
		Volume:   volume,
		RampTime: globalVolumeRampTime,
	}); err == nil {
		out = append(out, outMsg{typ: protocol.ActionGlobalVolumeConfig, payload: msg, to: r.recipientsLocked()})
	}
	r.mu.Unlock()
	r.flush(out)
}
