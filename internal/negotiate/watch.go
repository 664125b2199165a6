package negotiate

import "sync"

// Phase is the progress of a negotiation.
type Phase int

const (
	LoadingConfig Phase = iota
	PeeringUp
	Synchronizing
	Connected
)

func (p Phase) String() string {
	switch p {
	case LoadingConfig:
		return "loading config"
	case PeeringUp:
		return "peering up"
	case Synchronizing:
		return "synchronizing"
	}
	return "connected"
}

// Watch holds the latest Phase. Observers read it with Load and wait on
// Changed; intermediate values may be skipped.
type Watch struct {
	mu      sync.Mutex
	phase   Phase
	changed chan struct{}
	closed  bool
}

func newWatch() *Watch {
	return &Watch{changed: make(chan struct{})}
}

// Load returns the current phase.
func (w *Watch) Load() Phase {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.phase
}

// Changed returns a channel closed on the next phase change.
func (w *Watch) Changed() <-chan struct{} {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.changed
}

func (w *Watch) set(p Phase) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed || p == w.phase {
		return
	}
	w.phase = p
	close(w.changed)
	w.changed = make(chan struct{})
}

// close freezes the watch; later sets are dropped.
func (w *Watch) close() {
	w.mu.Lock()
	w.closed = true
	w.mu.Unlock()
}
