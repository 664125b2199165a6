package netplay

import (
	"context"
	"time"

	"netplay-engine/internal/config"
	"netplay-engine/internal/logging"
	"netplay-engine/internal/stats"
)

// InputSource produces the inputs of both machine players for a frame.
// Only the first one is sent while a session runs.
type InputSource interface {
	Inputs(frame uint32) [2]byte
}

// InputFunc adapts a function to InputSource.
type InputFunc func(frame uint32) [2]byte

func (f InputFunc) Inputs(frame uint32) [2]byte { return f(frame) }

// Runner ticks a client at its frame rate, scaled by the pacing hint.
type Runner struct {
	Netplay *Netplay
	Inputs  InputSource
	FPS     int
	// Samples receives the network statistics of running sessions.
	Samples stats.Writer
	History *stats.History
	// OnTick is called after every tick, for example to present outputs.
	OnTick func(TickResult)
}

// Run ticks until ctx is done.
func (r *Runner) Run(ctx context.Context) error {
	log := logging.FromContext(ctx)
	fps := r.FPS
	if fps <= 0 {
		fps = config.DefaultFPS
	}
	base := time.Second / time.Duration(fps)
	interval := base
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	log.Info("starting netplay loop", "fps", fps)

	for {
		select {
		case <-ctx.Done():
			log.Info("stopping netplay loop")
			return ctx.Err()
		case <-ticker.C:
		}
		var in [2]byte
		if r.Inputs != nil {
			in = r.Inputs.Inputs(r.Netplay.Frame())
		}
		res := r.Netplay.Tick(in)
		if res.Sample != nil {
			if r.History != nil {
				r.History.Write(*res.Sample)
			}
			if r.Samples != nil {
				if err := r.Samples.Write(*res.Sample); err != nil {
					log.Warn("write sample", "err", err)
				}
			}
		}
		if r.OnTick != nil {
			r.OnTick(res)
		}
		if next := pacedInterval(base, res.Speed); next != interval {
			interval = next
			ticker.Reset(interval)
		}
	}
}

// pacedInterval stretches the frame interval when the client runs slower.
func pacedInterval(base time.Duration, speed float32) time.Duration {
	if speed <= 0 || speed >= 1 {
		return base
	}
	return time.Duration(float64(base) / float64(speed))
}
