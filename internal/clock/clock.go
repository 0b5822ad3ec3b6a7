// ABOUTME: Server clock and scheduled-action timing
// ABOUTME: Epoch milliseconds derived from a monotonic base captured at startup
package clock

import "time"

// Scheduling constants. The 1.5x factor buffers RTT jitter and the fixed
// 200ms absorbs handler/processing lag before the broadcast reaches clients.
const (
	MinScheduleDelay = 400 * time.Millisecond
	MaxScheduleDelay = 3 * time.Second
	SyncExtraDelay   = 1500 * time.Millisecond

	rttFactor     = 1.5
	processingPad = 200 * time.Millisecond
)

// Clock produces server timestamps as UNIX epoch milliseconds. Readings are
// anchored to a monotonic base so wall-clock steps never move scheduled
// actions backwards.
type Clock struct {
	base   time.Time
	baseMs int64
}

// New captures the monotonic base.
func New() *Clock {
	now := time.Now()
	return &Clock{base: now, baseMs: now.UnixMilli()}
}

// NowMs returns the current server time in epoch milliseconds.
func (c *Clock) NowMs() int64 {
	return c.baseMs + time.Since(c.base).Milliseconds()
}

// ScheduledExecutionTime returns the epoch-ms instant at which every client in
// a room must execute an action, given the worst observed client RTT in
// milliseconds. extra shifts the instant further out (late-joiner resync).
func (c *Clock) ScheduledExecutionTime(maxRTTMs float64, extra time.Duration) int64 {
	delay := time.Duration(rttFactor*maxRTTMs*float64(time.Millisecond)) + processingPad
	if delay < MinScheduleDelay {
		delay = MinScheduleDelay
	}
	if delay > MaxScheduleDelay {
		delay = MaxScheduleDelay
	}
	return c.NowMs() + delay.Milliseconds() + extra.Milliseconds()
}
