// ABOUTME: Room state machine: membership, admin model, heartbeats, cleanup
// ABOUTME: All room state is mutated under one lock; sends happen after unlock
package room

import (
	"context"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/beatsync/beatsync-go/internal/clock"
	blog "github.com/beatsync/beatsync-go/internal/log"
	"github.com/beatsync/beatsync-go/internal/metrics"
	"github.com/beatsync/beatsync-go/internal/protocol"
	"github.com/beatsync/beatsync-go/internal/session"
	"github.com/beatsync/beatsync-go/internal/spatial"
	"github.com/beatsync/beatsync-go/internal/storage"
)

// Config carries the room timing knobs. Tests shrink them.
type Config struct {
	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration
	BarrierTimeout    time.Duration
	CleanupGrace      time.Duration
	SpatialTick       time.Duration
}

// DefaultConfig returns production timings.
func DefaultConfig() Config {
	return Config{
		HeartbeatInterval: 5 * time.Second,
		HeartbeatTimeout:  10 * time.Second,
		BarrierTimeout:    3 * time.Second,
		CleanupGrace:      30 * time.Second,
		SpatialTick:       100 * time.Millisecond,
	}
}

// rttSmoothing is the EMA weight for new RTT samples.
const rttSmoothing = 0.2

// clientRecord survives disconnects so admin status, joinedAt, and location
// come back on reconnect. Only records with a live session count as present.
type clientRecord struct {
	data          protocol.ClientData
	lastHeartbeat int64 // server epoch ms
}

// Room owns everything scoped to one 6-digit room id.
type Room struct {
	ID string

	cfg       Config
	clk       *clock.Clock
	store     storage.Store
	onCleanup func(*Room)
	log       zerolog.Logger

	mu           sync.Mutex
	clients      map[string]*clientRecord
	sessions     map[string]*session.Session
	order        []string // connected client ids, circle layout order
	sources      []protocol.AudioSource
	playback     protocol.PlaybackState
	listening    protocol.Position
	permissions  protocol.Permissions
	globalVolume float64
	chat         []protocol.ChatMessage
	nextChatID   uint64
	barrier      *loadBarrier
	spatialOn    bool
	spatialStop  chan struct{}
	spatialTickN int
	hbStop       chan struct{}
	cleanupTimer *time.Timer
	activeJobs   int
	closed       bool
}

// New creates an empty room. onCleanup is invoked (outside the lock) after the
// room tears itself down, so the registry can drop its reference. It receives
// the room itself so the registry never forgets a replacement under the same id.
func New(id string, cfg Config, clk *clock.Clock, store storage.Store, onCleanup func(*Room)) *Room {
	return &Room{
		ID:           id,
		cfg:          cfg,
		clk:          clk,
		store:        store,
		onCleanup:    onCleanup,
		log:          blog.WithComponent("room").With().Str("room_id", id).Logger(),
		clients:      make(map[string]*clientRecord),
		sessions:     make(map[string]*session.Session),
		playback:     protocol.InitialPlaybackState(),
		listening:    protocol.Position{X: protocol.GridOriginX, Y: protocol.GridOriginY},
		permissions:  protocol.PermissionsEveryone,
		globalVolume: 1.0,
		nextChatID:   1,
	}
}

// outMsg is a deferred send: recipients are resolved under the lock, the
// actual writes happen after unlock so a session's queue can never deadlock
// against the room.
type outMsg struct {
	typ     string
	payload any
	to      []*session.Session
}

func (r *Room) flush(out []outMsg) {
	for _, m := range out {
		metrics.BroadcastsTotal.WithLabelValues(m.typ).Inc()
		for _, sess := range m.to {
			if err := sess.Send(m.payload); err != nil {
				r.log.Debug().Err(err).Str("client_id", sess.ClientID).Str("type", m.typ).Msg("send failed")
			}
		}
	}
}

// recipientsLocked snapshots every connected session.
func (r *Room) recipientsLocked() []*session.Session {
	out := make([]*session.Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}

// AddClient enrolls a connected session. A returning clientId gets its old
// record back (admin status, joinedAt, location survive reconnects); the very
// first client in an empty room becomes admin. Returns false if the room has
// already been torn down; callers must resolve a fresh room via the registry.
func (r *Room) AddClient(sess *session.Session) bool {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return false
	}
	if r.cleanupTimer != nil {
		r.cleanupTimer.Stop()
		r.cleanupTimer = nil
	}

	now := r.clk.NowMs()
	rec, known := r.clients[sess.ClientID]
	if !known {
		rec = &clientRecord{data: protocol.ClientData{
			ClientID: sess.ClientID,
			Username: sess.Username,
			IsAdmin:  len(r.sessions) == 0,
			JoinedAt: now,
			Position: protocol.Position{X: protocol.GridOriginX, Y: protocol.GridOriginY - spatial.CircleRadius},
		}}
		r.clients[sess.ClientID] = rec
	}
	rec.lastHeartbeat = now

	if old, ok := r.sessions[sess.ClientID]; ok && old != sess {
		// Same clientId reconnected before the old socket died.
		defer old.Close(1000, "Replaced by new connection")
	} else if !ok {
		r.order = append(r.order, sess.ClientID)
	}
	r.sessions[sess.ClientID] = sess

	// A non-admin record rejoining an otherwise empty room would leave the
	// room without a connected admin.
	r.promoteAdminLocked()
	r.repositionLocked()
	r.startHeartbeatLocked()
	if len(r.sessions) == 1 {
		metrics.ActiveRooms.Inc()
	}

	out := []outMsg{r.clientChangeLocked()}
	out = append(out, r.joinStateLocked(sess)...)
	r.mu.Unlock()

	r.log.Info().Str("client_id", sess.ClientID).Str("username", sess.Username).Msg("client joined")
	r.flush(out)
	return true
}

// joinStateLocked builds the unicast state dump a fresh connection needs.
func (r *Room) joinStateLocked(sess *session.Session) []outMsg {
	var out []outMsg
	if ev, err := protocol.NewRoomEvent(protocol.SetAudioSourcesEvent{
		Type:               protocol.EventSetAudioSources,
		Sources:            append([]protocol.AudioSource(nil), r.sources...),
		CurrentAudioSource: r.playback.AudioSource,
	}); err == nil {
		out = append(out, outMsg{typ: protocol.EventSetAudioSources, payload: ev, to: []*session.Session{sess}})
	}
	if ev, err := protocol.NewRoomEvent(protocol.SetPlaybackControlsEvent{
		Type:        protocol.EventSetPlaybackControls,
		Permissions: r.permissions,
	}); err == nil {
		out = append(out, outMsg{typ: protocol.EventSetPlaybackControls, payload: ev, to: []*session.Session{sess}})
	}
	out = append(out, r.chatFullSyncLocked(sess))
	return out
}

// RemoveClient drops a connected session but keeps the client record around
// for reconnection. Promotes a new admin if the last one left. A stale session
// (already replaced by a reconnect under the same clientId) is a no-op.
func (r *Room) RemoveClient(sess *session.Session) {
	clientID := sess.ClientID
	r.mu.Lock()
	if cur, ok := r.sessions[clientID]; !ok || cur != sess {
		r.mu.Unlock()
		return
	}
	delete(r.sessions, clientID)
	for i, id := range r.order {
		if id == clientID {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}

	var out []outMsg
	if b := r.barrier; b != nil {
		delete(b.loaded, clientID)
		if r.barrierCompleteLocked(b) {
			out = append(out, r.commitBarrierLocked(b)...)
		}
	}

	r.promoteAdminLocked()
	r.repositionLocked()
	out = append(out, r.clientChangeLocked())

	if len(r.sessions) == 0 {
		metrics.ActiveRooms.Dec()
		r.stopHeartbeatLocked()
		r.scheduleCleanupLocked()
	}
	r.mu.Unlock()

	r.log.Info().Str("client_id", clientID).Msg("client left")
	r.flush(out)
}

// promoteAdminLocked keeps at least one admin among connected clients.
func (r *Room) promoteAdminLocked() {
	if len(r.sessions) == 0 {
		return
	}
	for id := range r.sessions {
		if r.clients[id].data.IsAdmin {
			return
		}
	}
	pick := r.order[rand.IntN(len(r.order))]
	r.clients[pick].data.IsAdmin = true
	r.log.Info().Str("client_id", pick).Msg("promoted to admin")
}

// repositionLocked lays connected clients out on the default circle.
func (r *Room) repositionLocked() {
	positions := spatial.CirclePositions(len(r.order))
	for i, id := range r.order {
		r.clients[id].data.Position = positions[i]
	}
}

// CanMutate implements the room permission gate.
func (r *Room) CanMutate(clientID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.permissions == protocol.PermissionsEveryone {
		return true
	}
	rec, ok := r.clients[clientID]
	return ok && rec.data.IsAdmin
}

// IsAdmin reports whether clientID currently holds admin.
func (r *Room) IsAdmin(clientID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.clients[clientID]
	return ok && rec.data.IsAdmin
}

// RecordNTP refreshes the client's heartbeat and folds an RTT sample into the
// EMA (first sample replaces directly).
func (r *Room) RecordNTP(clientID string, rttSample float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.clients[clientID]
	if !ok {
		return
	}
	now := r.clk.NowMs()
	rec.lastHeartbeat = now
	rec.data.LastNTPResponse = now
	if rttSample > 0 {
		if rec.data.RTT == 0 {
			rec.data.RTT = rttSample
		} else {
			rec.data.RTT = rttSmoothing*rttSample + (1-rttSmoothing)*rec.data.RTT
		}
	}
}

// SetLocation stores the geo location a client reported via SEND_IP.
func (r *Room) SetLocation(clientID string, loc protocol.Location) {
	r.mu.Lock()
	rec, ok := r.clients[clientID]
	if !ok {
		r.mu.Unlock()
		return
	}
	if cc := strings.ToLower(loc.CountryCode); cc != "" {
		loc.FlagSvgURL = "https://flagcdn.com/" + cc + ".svg"
	}
	rec.data.Location = &loc
	out := []outMsg{r.clientChangeLocked()}
	r.mu.Unlock()
	r.flush(out)
}

// SetAdmin grants or revokes admin. Revoking the only connected admin is
// refused to keep the room governable.
func (r *Room) SetAdmin(targetID string, isAdmin bool) {
	r.mu.Lock()
	rec, ok := r.clients[targetID]
	if !ok {
		r.mu.Unlock()
		r.log.Warn().Str("client_id", targetID).Msg("set admin on unknown client")
		return
	}
	if !isAdmin && rec.data.IsAdmin && r.connectedAdminCountLocked() == 1 {
		r.mu.Unlock()
		r.log.Warn().Str("client_id", targetID).Msg("refusing to demote last admin")
		return
	}
	rec.data.IsAdmin = isAdmin
	out := []outMsg{r.clientChangeLocked()}
	r.mu.Unlock()
	r.flush(out)
}

func (r *Room) connectedAdminCountLocked() int {
	n := 0
	for id := range r.sessions {
		if r.clients[id].data.IsAdmin {
			n++
		}
	}
	return n
}

// SetPlaybackControls switches between EVERYONE and ADMIN_ONLY.
func (r *Room) SetPlaybackControls(p protocol.Permissions) {
	r.mu.Lock()
	r.permissions = p
	ev, err := protocol.NewRoomEvent(protocol.SetPlaybackControlsEvent{
		Type:        protocol.EventSetPlaybackControls,
		Permissions: p,
	})
	var out []outMsg
	if err == nil {
		out = append(out, outMsg{typ: protocol.EventSetPlaybackControls, payload: ev, to: r.recipientsLocked()})
	}
	r.mu.Unlock()
	r.flush(out)
}

// clientChangeLocked builds the presence broadcast. Only connected clients
// appear, in layout order.
func (r *Room) clientChangeLocked() outMsg {
	list := make([]protocol.ClientData, 0, len(r.order))
	for _, id := range r.order {
		list = append(list, r.clients[id].data)
	}
	ev, _ := protocol.NewRoomEvent(protocol.ClientChangeEvent{
		Type:    protocol.EventClientChange,
		Clients: list,
	})
	return outMsg{typ: protocol.EventClientChange, payload: ev, to: r.recipientsLocked()}
}

// maxRTTLocked returns the worst RTT among connected clients, for scheduling.
func (r *Room) maxRTTLocked() float64 {
	max := 0.0
	for id := range r.sessions {
		if rtt := r.clients[id].data.RTT; rtt > max {
			max = rtt
		}
	}
	return max
}

// startHeartbeatLocked launches the sweeper that evicts silent clients.
func (r *Room) startHeartbeatLocked() {
	if r.hbStop != nil {
		return
	}
	stop := make(chan struct{})
	r.hbStop = stop
	go r.heartbeatLoop(stop)
}

func (r *Room) stopHeartbeatLocked() {
	if r.hbStop != nil {
		close(r.hbStop)
		r.hbStop = nil
	}
}

func (r *Room) heartbeatLoop(stop chan struct{}) {
	ticker := time.NewTicker(r.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			r.sweepHeartbeats()
		}
	}
}

// sweepHeartbeats closes sessions that stopped sending NTP probes. The close
// unwinds through the read loop, which calls RemoveClient.
func (r *Room) sweepHeartbeats() {
	now := r.clk.NowMs()
	cutoff := r.cfg.HeartbeatTimeout.Milliseconds()

	r.mu.Lock()
	var expired []*session.Session
	for id, sess := range r.sessions {
		if now-r.clients[id].lastHeartbeat > cutoff {
			expired = append(expired, sess)
		}
	}
	r.mu.Unlock()

	for _, sess := range expired {
		r.log.Warn().Str("client_id", sess.ClientID).Msg("heartbeat timeout, disconnecting")
		sess.Close(1000, "Connection timeout")
	}
}

// scheduleCleanupLocked arms the grace timer after the last disconnect.
func (r *Room) scheduleCleanupLocked() {
	if r.cleanupTimer != nil {
		r.cleanupTimer.Stop()
	}
	r.cleanupTimer = time.AfterFunc(r.cfg.CleanupGrace, r.Cleanup)
}

// ScheduleCleanup arms the grace timer; used for restored rooms nobody joins.
func (r *Room) ScheduleCleanup() {
	r.mu.Lock()
	if len(r.sessions) == 0 {
		r.scheduleCleanupLocked()
	}
	r.mu.Unlock()
}

// Cleanup tears the room down if it is still empty: stops timers, deletes the
// room's blobs, and tells the registry to forget it.
func (r *Room) Cleanup() {
	r.mu.Lock()
	if len(r.sessions) > 0 || r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	r.stopHeartbeatLocked()
	r.stopSpatialLocked()
	if r.barrier != nil {
		r.barrier.timer.Stop()
		r.barrier = nil
	}
	if r.cleanupTimer != nil {
		r.cleanupTimer.Stop()
		r.cleanupTimer = nil
	}
	r.mu.Unlock()

	if r.store != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := r.store.DeletePrefix(ctx, "room-"+r.ID); err != nil {
			r.log.Error().Err(err).Msg("blob cleanup failed")
		}
	}
	r.log.Info().Msg("room cleaned up")
	if r.onCleanup != nil {
		r.onCleanup(r)
	}
}

// Closed reports whether the room has been torn down.
func (r *Room) Closed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

// ConnectedCount returns the number of live sessions.
func (r *Room) ConnectedCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// QueueLen returns the number of queued tracks.
func (r *Room) QueueLen() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sources)
}

// Playing reports whether the room is in the playing state.
func (r *Room) Playing() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.playback.Type == protocol.PlaybackPlaying
}
