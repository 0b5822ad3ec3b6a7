// ABOUTME: Spatial audio loop and grid interactions (move, reorder, listener)
package room

import (
	"time"

	"github.com/beatsync/beatsync-go/internal/protocol"
	"github.com/beatsync/beatsync-go/internal/spatial"
)

// StartSpatial launches the 10 Hz orbit loop. Idempotent.
func (r *Room) StartSpatial() {
	r.mu.Lock()
	if r.spatialOn {
		r.mu.Unlock()
		return
	}
	r.spatialOn = true
	r.spatialTickN = 0
	stop := make(chan struct{})
	r.spatialStop = stop
	r.mu.Unlock()

	r.log.Info().Msg("spatial audio started")
	go r.spatialLoop(stop)
}

// StopSpatial halts the loop and tells clients to drop back to global volume.
func (r *Room) StopSpatial() {
	r.mu.Lock()
	if !r.spatialOn {
		r.mu.Unlock()
		return
	}
	r.stopSpatialLocked()
	executeAt := r.clk.ScheduledExecutionTime(r.maxRTTLocked(), 0)
	var out []outMsg
	if msg, err := protocol.NewScheduledAction(executeAt, protocol.StopSpatialAction{
		Type: protocol.ActionStopSpatialAudio,
	}); err == nil {
		out = append(out, outMsg{typ: protocol.ActionStopSpatialAudio, payload: msg, to: r.recipientsLocked()})
	}
	r.mu.Unlock()

	r.log.Info().Msg("spatial audio stopped")
	r.flush(out)
}

func (r *Room) stopSpatialLocked() {
	if r.spatialStop != nil {
		close(r.spatialStop)
		r.spatialStop = nil
	}
	r.spatialOn = false
}

func (r *Room) spatialLoop(stop chan struct{}) {
	ticker := time.NewTicker(r.cfg.SpatialTick)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			r.spatialTick()
		}
	}
}

// spatialTick advances the listener along its orbit and broadcasts gains.
func (r *Room) spatialTick() {
	r.mu.Lock()
	if !r.spatialOn {
		r.mu.Unlock()
		return
	}
	r.spatialTickN++
	r.listening = spatial.OrbitPosition(r.spatialTickN)
	out := r.spatialConfigLocked()
	r.mu.Unlock()
	r.flush(out)
}

// spatialConfigLocked builds a SPATIAL_CONFIG broadcast from current state.
func (r *Room) spatialConfigLocked() []outMsg {
	gains := make(map[string]protocol.GainConfig, len(r.order))
	for _, id := range r.order {
		gains[id] = protocol.GainConfig{
			Gain:     spatial.Gain(r.clients[id].data.Position, r.listening),
			RampTime: spatial.RampTime,
		}
	}
	executeAt := r.clk.ScheduledExecutionTime(r.maxRTTLocked(), 0)
	msg, err := protocol.NewScheduledAction(executeAt, protocol.SpatialConfigAction{
		Type:            protocol.ActionSpatialConfig,
		ListeningSource: r.listening,
		Gains:           gains,
	})
	if err != nil {
		return nil
	}
	return []outMsg{{typ: protocol.ActionSpatialConfig, payload: msg, to: r.recipientsLocked()}}
}

// MoveClient repositions one client on the grid and recomputes gains once so
// the move is audible even when the orbit loop is off.
func (r *Room) MoveClient(clientID string, pos protocol.Position) {
	r.mu.Lock()
	rec, ok := r.clients[clientID]
	if !ok {
		r.mu.Unlock()
		return
	}
	rec.data.Position = pos
	out := []outMsg{r.clientChangeLocked()}
	out = append(out, r.spatialConfigLocked()...)
	r.mu.Unlock()
	r.flush(out)
}

// SetListeningSource pins the virtual listener to a fixed point.
func (r *Room) SetListeningSource(pos protocol.Position) {
	r.mu.Lock()
	r.listening = pos
	out := r.spatialConfigLocked()
	r.mu.Unlock()
	r.flush(out)
}

// ReorderClient moves a client to the front of the ordering and lays everyone
// back out on the circle.
func (r *Room) ReorderClient(clientID string) {
	r.mu.Lock()
	if _, connected := r.sessions[clientID]; !connected {
		r.mu.Unlock()
		return
	}
	for i, id := range r.order {
		if id == clientID {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	r.order = append([]string{clientID}, r.order...)
	r.repositionLocked()
	out := []outMsg{r.clientChangeLocked()}
	out = append(out, r.spatialConfigLocked()...)
	r.mu.Unlock()
	r.flush(out)
}
