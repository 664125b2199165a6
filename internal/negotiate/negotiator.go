package negotiate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"netplay-engine/internal/config"
	"netplay-engine/internal/logging"
	"netplay-engine/internal/rollback"
	"netplay-engine/internal/snapshot"
	"netplay-engine/internal/transport"
)

const (
	DefaultPeerPoll    = 100 * time.Millisecond
	DefaultSyncPoll    = 16 * time.Millisecond
	DefaultUnlockAfter = 5 * time.Second
)

// ErrPeerLost is returned when a peer leaves during the sync handshake.
var ErrPeerLost = errors.New("peer lost during synchronization")

// Negotiator starts attempts. Its fields are read once per attempt.
type Negotiator struct {
	Server  config.Server
	Fetcher *config.Fetcher
	Dialer  transport.Dialer
	// NewDialer, when set, picks the dialer for the resolved configuration's
	// signaling server instead of Dialer.
	NewDialer   func(conf *config.Static) transport.Dialer
	ContentHash string
	Players     int
	FPS         int

	PeerPoll    time.Duration
	SyncPoll    time.Duration
	UnlockAfter time.Duration
	// DisconnectTimeout overrides the session's silent-peer timeout when set.
	DisconnectTimeout time.Duration
}

// Handle is the result of a successful attempt. The owner must Close it.
type Handle struct {
	Method  Method
	Room    string
	Socket  transport.Socket
	Session *rollback.Session
	Conf    config.Static
	// Snapshot is the state to start from when resuming.
	Snapshot *snapshot.Snapshot
}

// Close leaves the signaling room.
func (h *Handle) Close() error {
	if h == nil || h.Socket == nil {
		return nil
	}
	return h.Socket.Close()
}

// Attempt is one negotiation running in the background.
type Attempt struct {
	method Method
	phase  *Watch
	cancel context.CancelFunc
	done   chan struct{}
	now    func() time.Time

	unlockAfter time.Duration

	mu           sync.Mutex
	handle       *Handle
	err          error
	taken        bool
	peeringSince time.Time
	unlockURL    string
}

// Start launches an attempt for m. The attempt stops when ctx is cancelled
// or Cancel is called.
func (n *Negotiator) Start(ctx context.Context, m Method) *Attempt {
	ctx, cancel := context.WithCancel(ctx)
	a := &Attempt{
		method:      m,
		phase:       newWatch(),
		cancel:      cancel,
		done:        make(chan struct{}),
		now:         time.Now,
		unlockAfter: n.UnlockAfter,
	}
	if a.unlockAfter <= 0 {
		a.unlockAfter = DefaultUnlockAfter
	}
	go func() {
		defer close(a.done)
		defer a.phase.close()
		h, err := n.run(ctx, a)
		a.mu.Lock()
		a.handle, a.err = h, err
		a.mu.Unlock()
	}()
	return a
}

// Method returns the start method of the attempt.
func (a *Attempt) Method() Method { return a.method }

// Phase returns the progress watch.
func (a *Attempt) Phase() *Watch { return a.phase }

// Done is closed once the attempt has finished.
func (a *Attempt) Done() <-chan struct{} { return a.done }

// Poll reports whether the attempt has finished and with what result. The
// first Poll to see a Handle takes ownership of it.
func (a *Attempt) Poll() (*Handle, bool, error) {
	select {
	case <-a.done:
	default:
		return nil, false, nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.err != nil {
		return nil, true, a.err
	}
	if a.taken {
		return nil, true, fmt.Errorf("attempt %s already adopted", a.method)
	}
	a.taken = true
	return a.handle, true, nil
}

// Err returns the failure of a finished attempt without taking its handle.
// It is nil while the attempt runs or when it succeeded.
func (a *Attempt) Err() error {
	select {
	case <-a.done:
	default:
		return nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.err
}

// Cancel stops the attempt and waits for its goroutine to exit. A completed
// handle nobody took is closed.
func (a *Attempt) Cancel() {
	a.cancel()
	<-a.done
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.handle != nil && !a.taken {
		a.handle.Close()
		a.taken = true
	}
}

// UnlockURL returns a recovery hint once peering has taken longer than
// expected and the configuration offers one.
func (a *Attempt) UnlockURL() string {
	if a.phase.Load() != PeeringUp {
		return ""
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.peeringSince.IsZero() || a.now().Sub(a.peeringSince) <= a.unlockAfter {
		return ""
	}
	return a.unlockURL
}

func (n *Negotiator) run(ctx context.Context, a *Attempt) (*Handle, error) {
	log := logging.FromContext(ctx).With("method", a.method.String())
	players := n.Players
	if players <= 0 {
		players = config.DefaultPlayers
	}

	a.phase.set(LoadingConfig)
	var conf *config.Static
	if a.method.Kind == KindResume {
		if a.method.Conf == nil {
			return nil, fmt.Errorf("resume needs a configuration")
		}
		conf = a.method.Conf.Clone()
	} else {
		var err error
		conf, err = config.Resolve(ctx, n.Server, n.Fetcher)
		if err != nil {
			return nil, fmt.Errorf("load netplay configuration: %w", err)
		}
	}
	if err := conf.Check(); err != nil {
		return nil, err
	}

	room := RoomName(a.method, n.ContentHash, players)
	log = log.With("room", room)
	a.mu.Lock()
	a.unlockURL = conf.UnlockURL
	a.peeringSince = a.now()
	a.mu.Unlock()
	a.phase.set(PeeringUp)
	log.Info("peering up")

	dialer := n.Dialer
	if n.NewDialer != nil {
		dialer = n.NewDialer(conf)
	}
	sock, err := dialer.Dial(ctx, room)
	if err != nil {
		return nil, fmt.Errorf("open signaling room: %w", err)
	}
	h, err := n.connect(ctx, log, a, sock, conf, players)
	if err != nil {
		sock.Close()
		return nil, err
	}
	h.Room = room
	a.phase.set(Connected)
	log.Info("connected", "local", h.Session.LocalHandle(), "frame", h.Session.CurrentFrame())
	return h, nil
}

func (n *Negotiator) connect(ctx context.Context, log *slog.Logger, a *Attempt, sock transport.Socket, conf *config.Static, players int) (*Handle, error) {
	peers, err := n.waitForPeers(ctx, sock, players-1)
	if err != nil {
		return nil, err
	}

	a.phase.set(Synchronizing)
	order := transport.SortPeers(append(peers, sock.ID()))
	fps := n.FPS
	if fps <= 0 {
		fps = config.DefaultFPS
	}
	b := rollback.NewBuilder(players).
		WithMaxPrediction(conf.Rollback.MaxPrediction).
		WithInputDelay(conf.Rollback.InputDelay).
		WithFPS(fps).
		WithLogger(log)
	if n.DisconnectTimeout > 0 {
		b.WithDisconnectTimeout(n.DisconnectTimeout)
	}
	for h, id := range order {
		p := rollback.RemotePlayer(id)
		if id == sock.ID() {
			p = rollback.LocalPlayer()
		}
		if err := b.AddPlayer(p, h); err != nil {
			return nil, err
		}
	}
	sess, err := b.Start(sock)
	if err != nil {
		return nil, fmt.Errorf("start session: %w", err)
	}
	log.Info("synchronizing", "players", order)

	if err := n.waitForSync(ctx, sock, sess); err != nil {
		return nil, err
	}

	h := &Handle{Method: a.method, Socket: sock, Session: sess, Conf: *conf}
	if a.method.Kind == KindResume {
		snap := a.method.Snapshot.Clone()
		h.Snapshot = &snap
	}
	return h, nil
}

// waitForPeers polls the room until want other peers are present. More than
// want means the room was created for a larger session.
func (n *Negotiator) waitForPeers(ctx context.Context, sock transport.Socket, want int) ([]transport.PeerID, error) {
	interval := n.PeerPoll
	if interval <= 0 {
		interval = DefaultPeerPoll
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		peers := sock.ConnectedPeers()
		if len(peers) > want {
			return nil, fmt.Errorf("%d peers in room, want %d: %w", len(peers), want, transport.ErrRoomFull)
		}
		if len(peers) == want {
			return peers, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-sock.Done():
			return nil, signalingError(sock.Err())
		case <-ticker.C:
		}
	}
}

func (n *Negotiator) waitForSync(ctx context.Context, sock transport.Socket, sess *rollback.Session) error {
	interval := n.SyncPoll
	if interval <= 0 {
		interval = DefaultSyncPoll
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if sess.Poll() {
			return ErrPeerLost
		}
		if sess.State() == rollback.Running {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-sock.Done():
			return signalingError(sock.Err())
		case <-ticker.C:
		}
	}
}

func signalingError(err error) error {
	if errors.Is(err, transport.ErrRoomFull) {
		return err
	}
	if err == nil {
		err = transport.ErrClosed
	}
	return fmt.Errorf("signaling ended: %w", err)
}
