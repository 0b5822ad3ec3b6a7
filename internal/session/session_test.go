// ABOUTME: Session tests using a fake connection instead of a live socket
package session

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeConn records written frames.
type fakeConn struct {
	mu       sync.Mutex
	frames   [][]byte
	controls []int
	closed   bool
}

func (f *fakeConn) WriteMessage(_ int, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := make([]byte, len(data))
	copy(cp, data)
	f.frames = append(f.frames, cp)
	return nil
}

func (f *fakeConn) WriteControl(messageType int, _ []byte, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.controls = append(f.controls, messageType)
	return nil
}

func (f *fakeConn) SetWriteDeadline(time.Time) error { return nil }

func (f *fakeConn) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeConn) frameCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.frames)
}

func TestSendPreservesOrder(t *testing.T) {
	conn := &fakeConn{}
	s := New(conn, "123456", "client-a", "alice")
	go s.WritePump()
	defer s.Close(websocket.CloseNormalClosure, "done")

	for i := 0; i < 5; i++ {
		require.NoError(t, s.Send(map[string]int{"seq": i}))
	}

	require.Eventually(t, func() bool { return conn.frameCount() == 5 }, time.Second, 5*time.Millisecond)

	conn.mu.Lock()
	defer conn.mu.Unlock()
	for i, frame := range conn.frames {
		var m map[string]int
		require.NoError(t, json.Unmarshal(frame, &m))
		assert.Equal(t, i, m["seq"])
	}
}

func TestSendAfterCloseFails(t *testing.T) {
	conn := &fakeConn{}
	s := New(conn, "123456", "client-a", "alice")
	s.Close(websocket.CloseNormalClosure, "bye")

	assert.Error(t, s.Send("nope"))
	assert.True(t, conn.closed)

	select {
	case <-s.Done():
	default:
		t.Fatal("done channel should be closed")
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	conn := &fakeConn{}
	s := New(conn, "123456", "client-a", "alice")
	s.Close(websocket.CloseNormalClosure, "first")
	s.Close(websocket.CloseNormalClosure, "second")

	conn.mu.Lock()
	defer conn.mu.Unlock()
	// Exactly one close control frame.
	closes := 0
	for _, c := range conn.controls {
		if c == websocket.CloseMessage {
			closes++
		}
	}
	assert.Equal(t, 1, closes)
}
