// ABOUTME: Backup manager and disk store tests
package backup

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/beatsync/beatsync-go/internal/clock"
	"github.com/beatsync/beatsync-go/internal/protocol"
	"github.com/beatsync/beatsync-go/internal/room"
)

func testRegistry() *room.Registry {
	cfg := room.DefaultConfig()
	cfg.CleanupGrace = time.Hour // keep restored rooms alive for the test
	return room.NewRegistry(cfg, clock.New(), nil)
}

func TestDiskStoreRoundTrip(t *testing.T) {
	dir := t.TempDir()
	s, err := NewDiskStore(dir)
	require.NoError(t, err)

	_, ok, err := s.LoadLatest(context.Background())
	require.NoError(t, err)
	assert.False(t, ok, "empty store")

	b := Backup{
		Timestamp: 1234,
		Data: BackupData{Rooms: map[string]room.Snapshot{
			"123456": {
				AudioSources: []protocol.AudioSource{{URL: "https://cdn.example.com/a.mp3"}},
				GlobalVolume: 0.7,
			},
		}},
	}
	require.NoError(t, s.Save(context.Background(), b))

	loaded, ok, err := s.LoadLatest(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(1234), loaded.Timestamp)
	require.Len(t, loaded.Data.Rooms["123456"].AudioSources, 1)
	assert.Equal(t, 0.7, loaded.Data.Rooms["123456"].GlobalVolume)
}

func TestDiskStoreCorruptFile(t *testing.T) {
	dir := t.TempDir()
	s, err := NewDiskStore(dir)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, backupFileName), []byte("{broken"), 0o644))

	_, _, err = s.LoadLatest(context.Background())
	assert.Error(t, err)
}

func TestManagerFlushAndRestore(t *testing.T) {
	dir := t.TempDir()
	store, err := NewDiskStore(dir)
	require.NoError(t, err)

	src := testRegistry()
	r, err := src.GetOrCreate("123456")
	require.NoError(t, err)
	r.AddAudioSources("https://cdn.example.com/a.mp3")
	r.SetGlobalVolume(0.4)

	m := NewManager(src, store, time.Hour)
	m.Flush(context.Background())

	dst := testRegistry()
	require.NoError(t, NewManager(dst, store, time.Hour).Restore(context.Background()))

	restored := dst.Get("123456")
	require.NotNil(t, restored)
	assert.Equal(t, 1, restored.QueueLen())
	assert.False(t, restored.Playing())
}

func TestManagerRunFlushesOnShutdown(t *testing.T) {
	dir := t.TempDir()
	store, err := NewDiskStore(dir)
	require.NoError(t, err)

	src := testRegistry()
	_, err = src.GetOrCreate("123456")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	m := NewManager(src, store, time.Hour) // tick never fires; only the final flush
	go func() {
		m.Run(ctx)
		close(done)
	}()
	cancel()
	<-done

	_, ok, err := store.LoadLatest(context.Background())
	require.NoError(t, err)
	assert.True(t, ok, "final flush wrote a backup")
}
