// ABOUTME: HTTP surface: health, stats, uploads, static audio, metrics
// ABOUTME: chi router with allow-all CORS; the WS endpoint lives in ws.go
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"runtime"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/beatsync/beatsync-go/internal/clock"
	"github.com/beatsync/beatsync-go/internal/config"
	"github.com/beatsync/beatsync-go/internal/dispatch"
	blog "github.com/beatsync/beatsync-go/internal/log"
	"github.com/beatsync/beatsync-go/internal/room"
	"github.com/beatsync/beatsync-go/internal/storage"
)

const maxUploadBytes = 100 << 20 // 100 MiB per audio file

// Server is the HTTP+WebSocket front of the coordinator.
type Server struct {
	cfg        config.Config
	clk        *clock.Clock
	rooms      *room.Registry
	dispatcher *dispatch.Dispatcher
	store      *storage.DiskStore
	log        zerolog.Logger
	upgrader   websocket.Upgrader
	httpServer *http.Server
	startedAt  time.Time
}

// New wires the server. store may be nil (uploads disabled).
func New(cfg config.Config, clk *clock.Clock, rooms *room.Registry, d *dispatch.Dispatcher, store *storage.DiskStore) *Server {
	s := &Server{
		cfg:        cfg,
		clk:        clk,
		rooms:      rooms,
		dispatcher: d,
		store:      store,
		log:        blog.WithComponent("httpapi"),
		startedAt:  time.Now(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Browser clients connect from arbitrary origins.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
	s.httpServer = &http.Server{
		Addr:              cfg.Addr(),
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Router builds the full route table; exposed for httptest.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.requestLog)
	r.Use(corsAllowAll)

	r.Get("/", s.handleRoot)
	r.Get("/stats", s.handleStats)
	r.Get("/active-rooms", s.handleActiveRooms)
	r.Get("/discover", s.handleDiscover)
	r.Get("/default", s.handleDefaultTracks)
	r.Get("/ws", s.handleWebSocket)
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(httprate.LimitByIP(30, time.Minute))
		r.Post("/upload/get-presigned-url", s.handlePresignUpload)
		r.Post("/upload/complete", s.handleUploadComplete)
		r.Put(storage.UploadPathPrefix+"{token}", s.handleDirectUpload)
	})

	if s.store != nil {
		fileServer := http.StripPrefix(storage.PublicPathPrefix, http.FileServer(http.Dir(s.store.Root())))
		r.Get(storage.PublicPathPrefix+"*", fileServer.ServeHTTP)
		r.Head(storage.PublicPathPrefix+"*", fileServer.ServeHTTP)
	}
	return r
}

// Start blocks serving HTTP until Shutdown or a listener error.
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.httpServer.Addr).Msg("listening")
	if err := s.httpServer.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown stops accepting connections and drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// requestLog logs non-WS requests at debug; /ws is logged by the read loop.
func (s *Server) requestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/ws" {
			next.ServeHTTP(w, r)
			return
		}
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Msg("request")
	})
}

func corsAllowAll(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) handleRoot(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"service": "beatsync",
		"status":  "ok",
	})
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	summaries := s.rooms.Summaries()
	clients := 0
	for _, sum := range summaries {
		clients += sum.ClientCount
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"uptimeSeconds": int64(time.Since(s.startedAt).Seconds()),
		"goroutines":    runtime.NumGoroutine(),
		"roomCount":     len(summaries),
		"clientCount":   clients,
		"rooms":         summaries,
	})
}

// handleActiveRooms returns just the count of rooms with connected clients.
func (s *Server) handleActiveRooms(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]int{"count": len(s.rooms.Summaries())})
}

// handleDiscover lists joinable rooms for clients browsing for a session.
func (s *Server) handleDiscover(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"service": "beatsync",
		"wsPath":  "/ws",
		"rooms":   s.rooms.Summaries(),
	})
}

func (s *Server) handleDefaultTracks(w http.ResponseWriter, _ *http.Request) {
	tracks := s.cfg.DefaultTracks
	if tracks == nil {
		tracks = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"tracks": tracks})
}
