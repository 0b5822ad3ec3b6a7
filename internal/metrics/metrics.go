// ABOUTME: Prometheus metrics for rooms, sessions, and wire traffic
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ActiveRooms tracks rooms with at least one connected client.
	ActiveRooms = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "beatsync_active_rooms",
		Help: "Rooms with at least one connected client",
	})

	// ConnectedClients tracks open WebSocket sessions across all rooms.
	ConnectedClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "beatsync_connected_clients",
		Help: "Open WebSocket sessions",
	})

	// FramesTotal counts inbound frames by request type.
	FramesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "beatsync_frames_total",
		Help: "Inbound WebSocket frames by type",
	}, []string{"type"})

	// InvalidFramesTotal counts frames rejected by validation.
	InvalidFramesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "beatsync_invalid_frames_total",
		Help: "Inbound frames rejected by schema validation",
	})

	// BroadcastsTotal counts outbound broadcasts by message type.
	BroadcastsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "beatsync_broadcasts_total",
		Help: "Outbound broadcasts by type",
	}, []string{"type"})

	// ScheduleLeadMs observes how far ahead of now scheduled actions land.
	ScheduleLeadMs = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "beatsync_schedule_lead_ms",
		Help:    "Lead time of scheduled actions in milliseconds",
		Buckets: []float64{400, 600, 800, 1000, 1500, 2000, 3000, 4500},
	})

	// StreamJobsActive tracks in-flight provider stream jobs.
	StreamJobsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "beatsync_stream_jobs_active",
		Help: "In-flight provider stream jobs",
	})

	// BackupsTotal counts snapshot writes by result.
	BackupsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "beatsync_backups_total",
		Help: "Snapshot writes by result",
	}, []string{"result"})
)

// IncBackup records one snapshot attempt.
func IncBackup(ok bool) {
	result := "failure"
	if ok {
		result = "success"
	}
	BackupsTotal.WithLabelValues(result).Inc()
}
