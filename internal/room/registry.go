// ABOUTME: Registry of live rooms, keyed by 6-digit room id
package room

import (
	"fmt"
	"regexp"
	"sync"

	"github.com/rs/zerolog"

	"github.com/beatsync/beatsync-go/internal/clock"
	blog "github.com/beatsync/beatsync-go/internal/log"
	"github.com/beatsync/beatsync-go/internal/storage"
)

var roomIDPattern = regexp.MustCompile(`^\d{6}$`)

// ValidRoomID reports whether id is a well-formed room id.
func ValidRoomID(id string) bool {
	return roomIDPattern.MatchString(id)
}

// Registry creates rooms on first join and forgets them after cleanup.
type Registry struct {
	cfg   Config
	clk   *clock.Clock
	store storage.Store
	log   zerolog.Logger

	mu    sync.RWMutex
	rooms map[string]*Room
}

// NewRegistry wires the shared room dependencies. store may be nil (no blob
// persistence, e.g. in tests).
func NewRegistry(cfg Config, clk *clock.Clock, store storage.Store) *Registry {
	return &Registry{
		cfg:   cfg,
		clk:   clk,
		store: store,
		log:   blog.WithComponent("registry"),
		rooms: make(map[string]*Room),
	}
}

// GetOrCreate returns the room for id, creating it if needed. A room that has
// torn itself down but not yet been forgotten is replaced, so joins racing the
// cleanup timer always land in a live room.
func (g *Registry) GetOrCreate(id string) (*Room, error) {
	if !ValidRoomID(id) {
		return nil, fmt.Errorf("invalid room id %q", id)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if r, ok := g.rooms[id]; ok && !r.Closed() {
		return r, nil
	}
	r := New(id, g.cfg, g.clk, g.store, g.forget)
	g.rooms[id] = r
	g.log.Info().Str("room_id", id).Msg("room created")
	return r, nil
}

// Get returns an existing room or nil.
func (g *Registry) Get(id string) *Room {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.rooms[id]
}

// Rooms snapshots the current room set.
func (g *Registry) Rooms() []*Room {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]*Room, 0, len(g.rooms))
	for _, r := range g.rooms {
		out = append(out, r)
	}
	return out
}

// forget drops the registry reference, but only if it still points at the
// room that cleaned itself up; a replacement under the same id stays.
func (g *Registry) forget(r *Room) {
	g.mu.Lock()
	if cur, ok := g.rooms[r.ID]; ok && cur == r {
		delete(g.rooms, r.ID)
	}
	g.mu.Unlock()
	g.log.Info().Str("room_id", r.ID).Msg("room removed")
}

// Summary is the per-room view exposed on the stats endpoints.
type Summary struct {
	RoomID      string `json:"roomId"`
	ClientCount int    `json:"clientCount"`
	QueueLength int    `json:"queueLength"`
	Playing     bool   `json:"playing"`
}

// Summaries lists rooms that currently have connected clients.
func (g *Registry) Summaries() []Summary {
	rooms := g.Rooms()
	out := make([]Summary, 0, len(rooms))
	for _, r := range rooms {
		n := r.ConnectedCount()
		if n == 0 {
			continue
		}
		out = append(out, Summary{
			RoomID:      r.ID,
			ClientCount: n,
			QueueLength: r.QueueLen(),
			Playing:     r.Playing(),
		})
	}
	return out
}

// SnapshotAll captures every room for the periodic backup.
func (g *Registry) SnapshotAll() map[string]Snapshot {
	rooms := g.Rooms()
	out := make(map[string]Snapshot, len(rooms))
	for _, r := range rooms {
		out[r.ID] = r.Snapshot()
	}
	return out
}

// RestoreAll rebuilds rooms from a backup taken before a restart. Restored
// rooms have no sessions, so each gets the cleanup grace timer armed; rooms
// nobody rejoins disappear the usual way.
func (g *Registry) RestoreAll(snaps map[string]Snapshot) {
	for id, snap := range snaps {
		r, err := g.GetOrCreate(id)
		if err != nil {
			g.log.Warn().Str("room_id", id).Err(err).Msg("skipping restore of invalid room")
			continue
		}
		r.Restore(snap)
		r.ScheduleCleanup()
	}
}
