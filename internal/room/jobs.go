// ABOUTME: In-flight provider stream job counter, broadcast to the room
package room

import (
	"github.com/beatsync/beatsync-go/internal/metrics"
	"github.com/beatsync/beatsync-go/internal/protocol"
)

// StreamJobStarted bumps the job counter and notifies the room.
func (r *Room) StreamJobStarted() {
	r.adjustStreamJobs(1)
	metrics.StreamJobsActive.Inc()
}

// StreamJobFinished drops the counter; called on success and failure alike.
func (r *Room) StreamJobFinished() {
	r.adjustStreamJobs(-1)
	metrics.StreamJobsActive.Dec()
}

func (r *Room) adjustStreamJobs(delta int) {
	r.mu.Lock()
	r.activeJobs += delta
	if r.activeJobs < 0 {
		r.activeJobs = 0
	}
	out := []outMsg{{
		typ: protocol.TypeStreamJobUpdate,
		payload: protocol.StreamJobUpdate{
			Type:           protocol.TypeStreamJobUpdate,
			ActiveJobCount: r.activeJobs,
		},
		to: r.recipientsLocked(),
	}}
	r.mu.Unlock()
	r.flush(out)
}
