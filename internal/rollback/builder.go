package rollback

import (
	"fmt"
	"log/slog"
	"time"

	"netplay-engine/internal/transport"
)

const (
	DefaultMaxPrediction = 8
	DefaultFPS           = 60
)

// Builder configures a Session. Every player slot must be filled before Start.
type Builder struct {
	numPlayers      int
	maxPrediction   int
	inputDelay      int
	fps             int
	notifyAfter     time.Duration
	disconnectAfter time.Duration
	now             func() time.Time
	log             *slog.Logger
	players         map[PlayerHandle]Player
}

// NewBuilder starts a session configuration for numPlayers slots.
func NewBuilder(numPlayers int) *Builder {
	return &Builder{
		numPlayers:      numPlayers,
		maxPrediction:   DefaultMaxPrediction,
		fps:             DefaultFPS,
		notifyAfter:     DefaultDisconnectNotify,
		disconnectAfter: DefaultDisconnectAfter,
		now:             time.Now,
		log:             slog.Default(),
		players:         make(map[PlayerHandle]Player),
	}
}

func (b *Builder) WithMaxPrediction(frames int) *Builder { b.maxPrediction = frames; return b }
func (b *Builder) WithInputDelay(frames int) *Builder    { b.inputDelay = frames; return b }
func (b *Builder) WithFPS(fps int) *Builder              { b.fps = fps; return b }
func (b *Builder) WithLogger(l *slog.Logger) *Builder    { b.log = l; return b }

// WithDisconnectTimeout sets how long a silent peer is tolerated before it is
// dropped.
func (b *Builder) WithDisconnectTimeout(d time.Duration) *Builder { b.disconnectAfter = d; return b }

// WithDisconnectNotifyStart sets when EventNetworkInterrupted fires.
func (b *Builder) WithDisconnectNotifyStart(d time.Duration) *Builder { b.notifyAfter = d; return b }

// WithClock replaces time.Now, for tests.
func (b *Builder) WithClock(now func() time.Time) *Builder { b.now = now; return b }

// AddPlayer assigns p to slot handle.
func (b *Builder) AddPlayer(p Player, handle PlayerHandle) error {
	if handle < 0 || handle >= b.numPlayers {
		return fmt.Errorf("%w: %d out of range", ErrInvalidHandle, handle)
	}
	if _, ok := b.players[handle]; ok {
		return fmt.Errorf("%w: %d already assigned", ErrInvalidHandle, handle)
	}
	b.players[handle] = p
	return nil
}

// Start builds the session on t and begins the sync handshake with every
// remote player.
func (b *Builder) Start(t transport.Transport) (*Session, error) {
	if b.numPlayers < 2 {
		return nil, fmt.Errorf("need at least 2 players, got %d", b.numPlayers)
	}
	if b.maxPrediction < 1 {
		return nil, fmt.Errorf("max prediction must be positive, got %d", b.maxPrediction)
	}
	if b.inputDelay < 0 || b.inputDelay >= queueLen/2 {
		return nil, fmt.Errorf("input delay %d out of range", b.inputDelay)
	}
	if b.fps <= 0 {
		return nil, fmt.Errorf("fps must be positive, got %d", b.fps)
	}

	s := &Session{
		t:             t,
		log:           b.log,
		now:           b.now,
		numPlayers:    b.numPlayers,
		maxPrediction: b.maxPrediction,
		inputDelay:    b.inputDelay,
		fps:           b.fps,
		players:       make([]Player, b.numPlayers),
		localHandle:   -1,
		byPeer:        make(map[transport.PeerID]*endpoint),
		sync:          newSyncLayer(b.numPlayers, b.maxPrediction),
		status:        make([]ConnectStatus, b.numPlayers),
		lastWaitRecAt: NullFrame,
	}
	for h := 0; h < b.numPlayers; h++ {
		p, ok := b.players[h]
		if !ok {
			return nil, fmt.Errorf("%w: slot %d not assigned", ErrInvalidHandle, h)
		}
		s.players[h] = p
		s.status[h].LastFrame = NullFrame
		switch p.Type {
		case Local:
			if s.localHandle >= 0 {
				return nil, fmt.Errorf("%w: more than one local player", ErrInvalidHandle)
			}
			s.localHandle = h
		case Remote:
			if _, dup := s.byPeer[p.Peer]; dup {
				return nil, fmt.Errorf("%w: peer %s in two slots", ErrInvalidHandle, p.Peer)
			}
			ep := newEndpoint(p.Peer, h, b.numPlayers, t, b.now, b.log.With("peer", string(p.Peer)))
			ep.fps = b.fps
			ep.notifyAfter = b.notifyAfter
			ep.disconnectAfter = b.disconnectAfter
			s.endpoints = append(s.endpoints, ep)
			s.byPeer[p.Peer] = ep
		}
	}
	if s.localHandle < 0 {
		return nil, fmt.Errorf("%w: no local player", ErrInvalidHandle)
	}

	// Frames before the input delay are played with empty input.
	local := s.sync.queues[s.localHandle]
	for f := Frame(0); f < Frame(b.inputDelay); f++ {
		local.add(f, 0)
	}
	s.status[s.localHandle].LastFrame = local.lastAdded

	for _, ep := range s.endpoints {
		ep.synchronize()
	}
	s.log.Debug("session started", "players", b.numPlayers, "local", s.localHandle,
		"max_prediction", b.maxPrediction, "input_delay", b.inputDelay)
	return s, nil
}
