// ABOUTME: Periodic room-state backup so a restart does not lose rooms
// ABOUTME: Snapshots every room on a timer and once more on shutdown
package backup

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	blog "github.com/beatsync/beatsync-go/internal/log"
	"github.com/beatsync/beatsync-go/internal/metrics"
	"github.com/beatsync/beatsync-go/internal/room"
)

// DefaultInterval is how often room state is flushed to the store.
const DefaultInterval = 60 * time.Second

// Backup is the persisted document.
type Backup struct {
	Timestamp int64      `json:"timestamp"`
	Data      BackupData `json:"data"`
}

// BackupData wraps the room map so the schema can grow without breaking
// existing backup files.
type BackupData struct {
	Rooms map[string]room.Snapshot `json:"rooms"`
}

// Store persists backups. Implementations must write atomically: a crashed
// write may lose the newest backup but never corrupt the previous one.
type Store interface {
	Save(ctx context.Context, b Backup) error
	// LoadLatest returns ok=false when no backup exists yet.
	LoadLatest(ctx context.Context) (Backup, bool, error)
}

// Manager drives the backup loop against a room registry.
type Manager struct {
	rooms    *room.Registry
	store    Store
	interval time.Duration
	log      zerolog.Logger
}

// NewManager uses DefaultInterval when interval is zero.
func NewManager(rooms *room.Registry, store Store, interval time.Duration) *Manager {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Manager{
		rooms:    rooms,
		store:    store,
		interval: interval,
		log:      blog.WithComponent("backup"),
	}
}

// Run flushes on every tick until ctx is canceled, then flushes one final
// time so shutdown never loses more than in-flight mutations.
func (m *Manager) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			m.Flush(context.Background())
			return
		case <-ticker.C:
			m.Flush(ctx)
		}
	}
}

// Flush snapshots every room and saves the document.
func (m *Manager) Flush(ctx context.Context) {
	b := Backup{
		Timestamp: time.Now().UnixMilli(),
		Data:      BackupData{Rooms: m.rooms.SnapshotAll()},
	}
	err := m.store.Save(ctx, b)
	metrics.IncBackup(err == nil)
	if err != nil {
		m.log.Error().Err(err).Msg("backup save failed")
		return
	}
	m.log.Debug().Int("rooms", len(b.Data.Rooms)).Msg("backup saved")
}

// Restore loads the latest backup, if any, into the registry. Startup only.
func (m *Manager) Restore(ctx context.Context) error {
	b, ok, err := m.store.LoadLatest(ctx)
	if err != nil {
		return err
	}
	if !ok {
		m.log.Info().Msg("no backup to restore")
		return nil
	}
	m.rooms.RestoreAll(b.Data.Rooms)
	m.log.Info().
		Int("rooms", len(b.Data.Rooms)).
		Time("taken_at", time.UnixMilli(b.Timestamp)).
		Msg("rooms restored from backup")
	return nil
}
