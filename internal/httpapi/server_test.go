// ABOUTME: HTTP and WebSocket endpoint tests against httptest servers
package httpapi

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/beatsync/beatsync-go/internal/clock"
	"github.com/beatsync/beatsync-go/internal/config"
	"github.com/beatsync/beatsync-go/internal/dispatch"
	"github.com/beatsync/beatsync-go/internal/protocol"
	"github.com/beatsync/beatsync-go/internal/room"
	"github.com/beatsync/beatsync-go/internal/storage"
)

type fixture struct {
	srv   *httptest.Server
	rooms *room.Registry
	store *storage.DiskStore
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clk := clock.New()
	cfg := config.Config{
		Port:          8080,
		DataDir:       t.TempDir(),
		DefaultTracks: []string{"https://cdn.example.com/default.mp3"},
	}
	store, err := storage.NewDiskStore(cfg.DataDir)
	require.NoError(t, err)

	roomCfg := room.DefaultConfig()
	roomCfg.CleanupGrace = time.Hour
	rooms := room.NewRegistry(roomCfg, clk, store)
	d := dispatch.New(clk, rooms, nil, cfg.DefaultTracks)

	s := New(cfg, clk, rooms, d, store)
	srv := httptest.NewServer(s.Router())
	t.Cleanup(srv.Close)
	return &fixture{srv: srv, rooms: rooms, store: store}
}

func (f *fixture) wsURL(query string) string {
	return "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/ws?" + query
}

func getJSON(t *testing.T, url string, dst any) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.NewDecoder(resp.Body).Decode(dst))
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	return resp
}

func TestRootAndDiscover(t *testing.T) {
	f := newFixture(t)

	var root map[string]string
	getJSON(t, f.srv.URL+"/", &root)
	assert.Equal(t, "ok", root["status"])

	var disc map[string]any
	getJSON(t, f.srv.URL+"/discover", &disc)
	assert.Equal(t, "beatsync", disc["service"])
	assert.Equal(t, "/ws", disc["wsPath"])

	var active map[string]int
	getJSON(t, f.srv.URL+"/active-rooms", &active)
	assert.Equal(t, 0, active["count"])
}

func TestDefaultTracksEndpoint(t *testing.T) {
	f := newFixture(t)
	var payload struct {
		Tracks []string `json:"tracks"`
	}
	getJSON(t, f.srv.URL+"/default", &payload)
	require.Len(t, payload.Tracks, 1)
}

func TestCORSPreflight(t *testing.T) {
	f := newFixture(t)
	req, err := http.NewRequest(http.MethodOptions, f.srv.URL+"/stats", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestWebSocketRejectsBadJoin(t *testing.T) {
	f := newFixture(t)
	for _, query := range []string{
		"roomId=12345&clientId=c1&username=u1",  // 5 digits
		"roomId=abcdef&clientId=c1&username=u1", // not digits
		"roomId=123456&username=u1",             // no clientId
		"roomId=123456&clientId=c1",             // no username
	} {
		_, resp, err := websocket.DefaultDialer.Dial(f.wsURL(query), nil)
		require.Error(t, err, query)
		require.NotNil(t, resp)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, query)
	}
}

func TestWebSocketJoinAndNTP(t *testing.T) {
	f := newFixture(t)
	conn, _, err := websocket.DefaultDialer.Dial(f.wsURL("roomId=123456&clientId=c1&username=alice"), nil)
	require.NoError(t, err)
	defer conn.Close()

	// Join state arrives unsolicited; scan until the NTP reply shows up.
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"NTP_REQUEST","t0":42}`)))

	deadline := time.Now().Add(2 * time.Second)
	for {
		require.NoError(t, conn.SetReadDeadline(deadline))
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)
		var head struct {
			Type string `json:"type"`
		}
		require.NoError(t, json.Unmarshal(data, &head))
		if head.Type != protocol.TypeNTPResponse {
			continue
		}
		var resp protocol.NTPResponse
		require.NoError(t, json.Unmarshal(data, &resp))
		assert.Equal(t, int64(42), resp.T0)
		assert.LessOrEqual(t, resp.T1, resp.T2)
		break
	}

	require.NotNil(t, f.rooms.Get("123456"))
	assert.Equal(t, 1, f.rooms.Get("123456").ConnectedCount())
}

func TestWebSocketDisconnectRemovesClient(t *testing.T) {
	f := newFixture(t)
	conn, _, err := websocket.DefaultDialer.Dial(f.wsURL("roomId=123456&clientId=c1&username=alice"), nil)
	require.NoError(t, err)
	conn.Close()

	require.Eventually(t, func() bool {
		r := f.rooms.Get("123456")
		return r != nil && r.ConnectedCount() == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestStatsCountsRooms(t *testing.T) {
	f := newFixture(t)
	conn, _, err := websocket.DefaultDialer.Dial(f.wsURL("roomId=123456&clientId=c1&username=alice"), nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool {
		resp, err := http.Get(f.srv.URL + "/stats")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		var stats struct {
			RoomCount   int `json:"roomCount"`
			ClientCount int `json:"clientCount"`
		}
		if json.NewDecoder(resp.Body).Decode(&stats) != nil {
			return false
		}
		return stats.RoomCount == 1 && stats.ClientCount == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestUploadFlow(t *testing.T) {
	f := newFixture(t)

	resp := postJSON(t, f.srv.URL+"/upload/get-presigned-url", map[string]string{
		"roomId":   "123456",
		"fileName": "song.mp3",
	})
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var presign struct {
		UploadURL string `json:"uploadUrl"`
		PublicURL string `json:"publicUrl"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&presign))

	req, err := http.NewRequest(http.MethodPut, f.srv.URL+presign.UploadURL, strings.NewReader("mp3-bytes"))
	require.NoError(t, err)
	putResp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	putResp.Body.Close()
	require.Equal(t, http.StatusOK, putResp.StatusCode)

	done := postJSON(t, f.srv.URL+"/upload/complete", map[string]string{
		"roomId":    "123456",
		"publicUrl": presign.PublicURL,
	})
	done.Body.Close()
	require.Equal(t, http.StatusOK, done.StatusCode)
	assert.Equal(t, 1, f.rooms.Get("123456").QueueLen())

	// The stored object is served back at its public URL.
	served, err := http.Get(f.srv.URL + presign.PublicURL)
	require.NoError(t, err)
	defer served.Body.Close()
	require.Equal(t, http.StatusOK, served.StatusCode)
	body, err := io.ReadAll(served.Body)
	require.NoError(t, err)
	assert.Equal(t, "mp3-bytes", string(body))
}

func TestUploadCompleteRejectsForeignURL(t *testing.T) {
	f := newFixture(t)
	resp := postJSON(t, f.srv.URL+"/upload/complete", map[string]string{
		"roomId":    "123456",
		"publicUrl": "https://cdn.example.com/not-ours.mp3",
	})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestUploadPutRejectsBadToken(t *testing.T) {
	f := newFixture(t)
	req, err := http.NewRequest(http.MethodPut, f.srv.URL+storage.UploadPathPrefix+"bogus", strings.NewReader("x"))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t)
	resp, err := http.Get(f.srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "beatsync_")
}
