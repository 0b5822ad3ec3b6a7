// ABOUTME: Spatial audio geometry: gain falloff, listener orbit, circle layout
// ABOUTME: Pure math over the room grid; the room loop drives it at 10 Hz
package spatial

import (
	"math"

	"github.com/beatsync/beatsync-go/internal/protocol"
)

const (
	// GainHigh is applied at or inside NearRadius; GainLow is the floor at or
	// beyond FarRadius. The linear ramp between them avoids audible pops, and
	// the nonzero floor keeps distant speakers from sounding broken.
	GainHigh   = 1.0
	GainLow    = 0.15
	NearRadius = 10.0
	FarRadius  = 60.0

	// CircleRadius is used both for client layout and the listener orbit.
	CircleRadius = 25.0

	// RampTime is the gain ramp clients apply, in seconds.
	RampTime = 0.25
)

// Gain returns the playback gain for a client at pos relative to the
// listening source. Monotone nonincreasing in distance.
func Gain(pos, source protocol.Position) float64 {
	d := distance(pos, source)
	switch {
	case d <= NearRadius:
		return GainHigh
	case d >= FarRadius:
		return GainLow
	default:
		t := (d - NearRadius) / (FarRadius - NearRadius)
		return GainHigh + t*(GainLow-GainHigh)
	}
}

// OrbitPosition returns the listening source position for a given tick of the
// spatial loop: a slow circle around the grid origin.
func OrbitPosition(tick int) protocol.Position {
	angle := float64(tick) * math.Pi / 30
	return protocol.Position{
		X: protocol.GridOriginX + CircleRadius*math.Cos(angle),
		Y: protocol.GridOriginY + CircleRadius*math.Sin(angle),
	}
}

// CirclePositions lays out n clients around the grid origin. A single client
// sits at the center; otherwise clients are spread evenly on the circle
// starting from the top.
func CirclePositions(n int) []protocol.Position {
	if n <= 0 {
		return nil
	}
	if n == 1 {
		return []protocol.Position{{X: protocol.GridOriginX, Y: protocol.GridOriginY}}
	}
	out := make([]protocol.Position, n)
	for i := range out {
		angle := 2*math.Pi*float64(i)/float64(n) - math.Pi/2
		out[i] = protocol.Position{
			X: clampGrid(protocol.GridOriginX + CircleRadius*math.Cos(angle)),
			Y: clampGrid(protocol.GridOriginY + CircleRadius*math.Sin(angle)),
		}
	}
	return out
}

func distance(a, b protocol.Position) float64 {
	return math.Hypot(a.X-b.X, a.Y-b.Y)
}

func clampGrid(v float64) float64 {
	return math.Max(0, math.Min(protocol.GridSize, v))
}
