// Package netplay is the client lifecycle: local play, negotiating a session,
// running it under rollback and recovering from a lost peer by resuming from
// a confirmed snapshot.
package netplay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"netplay-engine/internal/logging"
	"netplay-engine/internal/negotiate"
	"netplay-engine/internal/snapshot"
	"netplay-engine/internal/stats"
)

const (
	// DefaultResumeGrace is how long an older resume candidate that finished
	// first waits for the newer one.
	DefaultResumeGrace = 250 * time.Millisecond
	// DefaultResumeTimeout bounds Resuming before falling back to local play.
	DefaultResumeTimeout = 30 * time.Second
)

// Options configure a Netplay client.
type Options struct {
	Negotiator    *negotiate.Negotiator
	Machine       Machine
	Log           *slog.Logger
	Transitions   stats.TransitionWriter
	ResumeGrace   time.Duration
	ResumeTimeout time.Duration
	Now           func() time.Time
}

// Netplay owns the machine and the current State. Commands and Tick may be
// called from different goroutines.
type Netplay struct {
	n           *negotiate.Negotiator
	m           Machine
	log         *slog.Logger
	transitions stats.TransitionWriter
	grace       time.Duration
	timeout     time.Duration
	now         func() time.Time

	ctx    context.Context
	cancel context.CancelFunc

	mu    sync.Mutex
	state State
	// last is the most recent failure or fallback reason shown to the user.
	last string
}

// New returns a client in Disconnected with a freshly started machine.
func New(opts Options) *Netplay {
	log := opts.Log
	if log == nil {
		log = slog.Default()
	}
	np := &Netplay{
		n:           opts.Negotiator,
		m:           opts.Machine,
		log:         log,
		transitions: opts.Transitions,
		grace:       opts.ResumeGrace,
		timeout:     opts.ResumeTimeout,
		now:         opts.Now,
		state:       Disconnected{},
	}
	if np.grace <= 0 {
		np.grace = DefaultResumeGrace
	}
	if np.timeout <= 0 {
		np.timeout = DefaultResumeTimeout
	}
	if np.now == nil {
		np.now = time.Now
	}
	np.ctx, np.cancel = context.WithCancel(logging.NewContext(context.Background(), log))
	np.m.Reset()
	return np
}

// State returns the current state. Its data must not be mutated.
func (np *Netplay) State() State {
	np.mu.Lock()
	defer np.mu.Unlock()
	return np.state
}

// Mapping is the input mapping of the running session, Unassigned otherwise.
func (np *Netplay) Mapping() snapshot.Mapping {
	np.mu.Lock()
	defer np.mu.Unlock()
	if c, ok := np.state.(*Connected); ok {
		return c.driver.Mapping()
	}
	return snapshot.Unassigned
}

// Frame is the machine's frame counter.
func (np *Netplay) Frame() uint32 {
	np.mu.Lock()
	defer np.mu.Unlock()
	return np.m.Frame()
}

// SaveSRAM returns the machine's persistent memory.
func (np *Netplay) SaveSRAM() []byte {
	np.mu.Lock()
	defer np.mu.Unlock()
	return np.m.SaveSRAM()
}

// Tick runs one frame. In Disconnected both inputs drive the machine
// directly; while negotiating the machine is paused.
func (np *Netplay) Tick(inputs [2]byte) TickResult {
	np.mu.Lock()
	defer np.mu.Unlock()

	switch s := np.state.(type) {
	case Disconnected:
		frame := int32(np.m.Frame())
		audio, video := np.m.Advance(inputs)
		return TickResult{Speed: 1, Outputs: []Output{{Frame: frame, Audio: audio, Video: video}}}
	case *Connecting:
		np.tickConnecting(s)
	case *Connected:
		res, err := s.driver.Tick(inputs)
		if errors.Is(err, ErrLostPeer) {
			np.log.Warn("peer lost", "frame", s.driver.Frame())
			np.resume(s, "lost peer")
		}
		return res
	case *Resuming:
		np.tickResuming(s)
	}
	return TickResult{Speed: 1}
}

func (np *Netplay) tickConnecting(c *Connecting) {
	h := c.handle
	if h == nil {
		var done bool
		var err error
		h, done, err = c.attempt.Poll()
		if !done {
			return
		}
		if err != nil {
			np.fail(c.method, err)
			return
		}
	}
	d, err := NewDriver(h, np.m, np.log)
	if err != nil {
		h.Close()
		np.fail(c.method, fmt.Errorf("start from snapshot: %w", err))
		return
	}
	np.transition(&Connected{driver: d, method: c.method}, h.Room)
}

// resume replaces a Connected state by one attempt per distinct confirmed
// snapshot.
func (np *Netplay) resume(c *Connected, reason string) {
	cands := c.driver.Candidates()
	conf := c.driver.Handle().Conf
	c.driver.Close()

	r := &Resuming{fallback: cands[1], method: c.method, started: np.now()}
	r.attempts = append(r.attempts, np.n.Start(np.ctx, negotiate.Resume(&conf, cands[1])))
	if cands[0].Frame != cands[1].Frame {
		r.attempts = append(r.attempts, np.n.Start(np.ctx, negotiate.Resume(&conf, cands[0])))
	}
	np.transition(r, fmt.Sprintf("%s, candidates %v", reason, r.Candidates()))
}

// tickResuming adopts the newest candidate that negotiated. An older one
// that finished first is adopted once the grace period has passed.
func (np *Netplay) tickResuming(r *Resuming) {
	now := np.now()
	live := 0
	for i, a := range r.attempts {
		if a == nil {
			continue
		}
		if err := a.Err(); err != nil {
			np.log.Info("resume candidate failed", "candidate", a.Method().String(), "err", err)
			r.attempts[i] = nil
			continue
		}
		live++
	}
	if live == 0 {
		np.fallback(r, "no resume candidate could reconnect")
		return
	}
	if now.Sub(r.started) > np.timeout {
		np.fallback(r, "resume timed out")
		return
	}

	winner := -1
	newest := true
	for i, a := range r.attempts {
		if a == nil {
			continue
		}
		select {
		case <-a.Done():
		default:
			newest = false
			continue
		}
		if newest {
			winner = i
		} else {
			if r.readyAt.IsZero() {
				r.readyAt = now
			}
			if now.Sub(r.readyAt) >= np.grace {
				winner = i
			}
		}
		break
	}
	if winner < 0 {
		return
	}

	h, _, err := r.attempts[winner].Poll()
	if err != nil || h == nil {
		r.attempts[winner] = nil
		return
	}
	for i, a := range r.attempts {
		if a != nil && i != winner {
			a.Cancel()
		}
	}
	np.transition(&Connecting{handle: h, method: r.method}, fmt.Sprintf("resumed at frame %d", h.Snapshot.Frame))
}

// fallback abandons every resume attempt and continues alone from the
// newest confirmed snapshot.
func (np *Netplay) fallback(r *Resuming, reason string) {
	for _, a := range r.attempts {
		if a != nil {
			a.Cancel()
		}
	}
	if err := np.m.Load(r.fallback.State); err != nil {
		np.log.Error("load fallback snapshot", "frame", r.fallback.Frame, "err", err)
		np.m.Reset()
	}
	np.last = reason
	np.transition(Disconnected{}, reason)
}

func (np *Netplay) fail(m negotiate.Method, err error) {
	reason := err.Error()
	np.last = reason
	np.transition(&Failed{Reason: reason, method: m}, reason)
}

// transition must be called with mu held.
func (np *Netplay) transition(to State, detail string) {
	from := np.state
	np.state = to
	np.log.Info("netplay state", "from", from.Name(), "to", to.Name(), "detail", detail)
	if np.transitions == nil {
		return
	}
	err := np.transitions.WriteTransition(stats.Transition{
		Timestamp: np.now(),
		From:      from.Name(),
		To:        to.Name(),
		Detail:    detail,
	})
	if err != nil {
		np.log.Warn("write transition", "err", err)
	}
}

// LastReason is the reason of the last failure or fallback to local play.
func (np *Netplay) LastReason() string {
	np.mu.Lock()
	defer np.mu.Unlock()
	return np.last
}

// Close leaves any session and stops background attempts.
func (np *Netplay) Close() {
	np.Disconnect()
	np.cancel()
}
