package netplay

import "math"

const (
	minSpeed = 0.8
	// speedScale converts frames ahead into the argument of the quadratic slowdown.
	speedScale = 0.2
)

// Speed returns the playback multiplier for a peer running framesAhead
// frames in front of the slowest peer: 1 when it is not ahead, otherwise a
// quadratic slowdown floored at 0.8.
func Speed(framesAhead int) float32 {
	if framesAhead <= 0 {
		return 1
	}
	x := speedScale * float64(framesAhead)
	return float32(math.Max(minSpeed, 1-0.1*x*x))
}
