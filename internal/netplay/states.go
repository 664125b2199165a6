package netplay

import (
	"time"

	"netplay-engine/internal/negotiate"
	"netplay-engine/internal/snapshot"
)

// State is one of Disconnected, Connecting, Connected, Resuming or Failed.
// Each variant owns exactly the data it needs; a transition replaces the
// variant.
type State interface {
	Name() string
	isState()
}

// Disconnected is local play. The input mapping is unassigned.
type Disconnected struct{}

// Connecting waits on a negotiation, or holds the handle a resume won.
type Connecting struct {
	attempt *negotiate.Attempt
	handle  *negotiate.Handle
	method  negotiate.Method
}

// Connected runs a rollback driver.
type Connected struct {
	driver *Driver
	method negotiate.Method
}

// Resuming races one negotiation per confirmed snapshot, newest first.
type Resuming struct {
	attempts []*negotiate.Attempt
	fallback snapshot.Snapshot
	method   negotiate.Method
	started  time.Time
	// readyAt is when an older candidate finished while a newer one was
	// still running.
	readyAt time.Time
}

// Failed holds the reason of a failed negotiation.
type Failed struct {
	Reason string
	method negotiate.Method
}

func (Disconnected) Name() string { return "disconnected" }
func (*Connecting) Name() string  { return "connecting" }
func (*Connected) Name() string   { return "connected" }
func (*Resuming) Name() string    { return "resuming" }
func (*Failed) Name() string      { return "failed" }

func (Disconnected) isState() {}
func (*Connecting) isState()  {}
func (*Connected) isState()   {}
func (*Resuming) isState()    {}
func (*Failed) isState()      {}

// Method returns the start method being negotiated.
func (c *Connecting) Method() negotiate.Method { return c.method }

// Phase is the negotiation progress, Connected once a handle is held.
func (c *Connecting) Phase() negotiate.Phase {
	if c.attempt == nil {
		return negotiate.Connected
	}
	return c.attempt.Phase().Load()
}

// UnlockURL returns the recovery hint of a slow negotiation.
func (c *Connecting) UnlockURL() string {
	if c.attempt == nil {
		return ""
	}
	return c.attempt.UnlockURL()
}

// Driver returns the running driver.
func (c *Connected) Driver() *Driver { return c.driver }

// Candidates returns the frames being resumed from.
func (r *Resuming) Candidates() []int32 {
	out := make([]int32, 0, len(r.attempts))
	for _, a := range r.attempts {
		if a != nil {
			out = append(out, a.Method().Snapshot.Frame)
		}
	}
	return out
}
