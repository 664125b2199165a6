package netplay

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"netplay-engine/internal/config"
	"netplay-engine/internal/logging"
	"netplay-engine/internal/machine"
	"netplay-engine/internal/negotiate"
	"netplay-engine/internal/snapshot"
	"netplay-engine/internal/stats"
	"netplay-engine/internal/transport"
)

type transitionLog struct {
	mu  sync.Mutex
	all []stats.Transition
}

func (l *transitionLog) WriteTransition(t stats.Transition) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.all = append(l.all, t)
	return nil
}

func (l *transitionLog) states() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, 0, len(l.all))
	for _, t := range l.all {
		out = append(out, t.To)
	}
	return out
}

type client struct {
	np    *Netplay
	m     *machine.Machine
	log   *transitionLog
	input byte
	outs  []Output
}

func newClient(n *negotiate.Negotiator, input byte, opts ...func(*Options)) *client {
	c := &client{m: machine.New(testContent), log: &transitionLog{}, input: input}
	o := Options{Negotiator: n, Machine: c.m, Log: logging.Discard(), Transitions: c.log}
	for _, f := range opts {
		f(&o)
	}
	c.np = New(o)
	return c
}

func (c *client) tick() {
	res := c.np.Tick([2]byte{c.input})
	c.outs = append(c.outs, res.Outputs...)
}

func (c *client) driver() *Driver {
	if s, ok := c.np.State().(*Connected); ok {
		return s.Driver()
	}
	return nil
}

// tickUntil ticks every client until cond holds.
func tickUntil(t *testing.T, what string, cond func() bool, clients ...*client) {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			for _, c := range clients {
				t.Logf("transitions: %v", c.log.states())
			}
			t.Fatalf("timed out waiting for %s", what)
		}
		for _, c := range clients {
			c.tick()
		}
		time.Sleep(time.Millisecond)
	}
}

func connected(clients ...*client) func() bool {
	return func() bool {
		for _, c := range clients {
			if c.driver() == nil {
				return false
			}
		}
		return true
	}
}

func playedTo(c *client, frame int32) func() bool {
	return func() bool {
		d := c.driver()
		return d != nil && d.Frame() >= frame
	}
}

func TestDisconnectedPlaysLocally(t *testing.T) {
	c := newClient(testNegotiator(transport.NewHub(), 7, 2), machine.ButtonUp)
	c.tick()
	c.tick()
	if len(c.outs) != 2 || c.outs[0].Frame != 0 || c.outs[1].Frame != 1 {
		t.Fatalf("outputs = %+v", c.outs)
	}
	st := c.np.Status()
	if st.State != "disconnected" || st.Frame != 2 || st.Mapping != "unassigned" || st.Speed != 1 {
		t.Fatalf("status = %+v", st)
	}
}

func TestCommandsRejectedInWrongState(t *testing.T) {
	c := newClient(testNegotiator(transport.NewHub(), 7, 2), 0)
	for _, cmd := range []CommandKind{CmdCancel, CmdRetry, CmdAcknowledge, CmdResume} {
		if _, err := c.np.Do(Command{Kind: cmd}); !errors.Is(err, ErrInvalidCommand) {
			t.Fatalf("%s from disconnected: err = %v", cmd, err)
		}
	}
	if _, err := c.np.Do(Command{Kind: "launch"}); err == nil {
		t.Fatalf("unknown command accepted")
	}
	if err := c.np.JoinGame(""); err == nil {
		t.Fatalf("empty room accepted")
	}
	if err := c.np.Disconnect(); err != nil {
		t.Fatalf("disconnect while disconnected: %v", err)
	}
}

func TestFailedThenAcknowledge(t *testing.T) {
	n := testNegotiator(transport.NewHub(), 7, 2)
	n.Server = config.Server{}
	c := newClient(n, machine.ButtonUp)
	for i := 0; i < 5; i++ {
		c.tick()
	}
	if err := c.np.JoinGame("ab12"); err != nil {
		t.Fatalf("JoinGame: %v", err)
	}
	if err := c.np.FindGame(); !errors.Is(err, ErrInvalidCommand) {
		t.Fatalf("second start while connecting: err = %v", err)
	}
	tickUntil(t, "failed", func() bool { _, ok := c.np.State().(*Failed); return ok }, c)
	if st := c.np.Status(); !strings.Contains(st.Reason, "static or turn_on") || st.Method != "join ab12" {
		t.Fatalf("status = %+v", st)
	}

	if err := c.np.RetryConnect(); err != nil {
		t.Fatalf("RetryConnect: %v", err)
	}
	tickUntil(t, "failed again", func() bool { _, ok := c.np.State().(*Failed); return ok }, c)
	if err := c.np.Acknowledge(); err != nil {
		t.Fatalf("Acknowledge: %v", err)
	}
	if c.np.Frame() != 0 {
		t.Fatalf("acknowledge should restart the machine, frame = %d", c.np.Frame())
	}
	want := []string{"connecting", "failed", "connecting", "failed", "disconnected"}
	if got := c.log.states(); strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("transitions = %v, want %v", got, want)
	}
}

func TestHostGameAndCancel(t *testing.T) {
	hub := transport.NewHub()
	n := testNegotiator(hub, 7, 2)
	c := newClient(n, 0)
	code, err := c.np.HostGame("")
	if err != nil {
		t.Fatalf("HostGame: %v", err)
	}
	if !regexp.MustCompile(`^[0-9A-F]{4}$`).MatchString(code) {
		t.Fatalf("room code %q", code)
	}
	room := negotiate.RoomName(negotiate.Host(code), n.ContentHash, 2)
	tickUntil(t, "peering", func() bool { return hub.Members(room) == 1 }, c)
	if st := c.np.Status(); st.State != "connecting" || st.Phase != negotiate.PeeringUp.String() {
		t.Fatalf("status = %+v", st)
	}
	if err := c.np.CancelConnect(); err != nil {
		t.Fatalf("CancelConnect: %v", err)
	}
	if hub.Members(room) != 0 {
		t.Fatalf("cancelled attempt is still in the room")
	}
	if _, ok := c.np.State().(Disconnected); !ok {
		t.Fatalf("state = %s", c.np.State().Name())
	}
}

func TestConnectedAssignsAndClearsMapping(t *testing.T) {
	hub := transport.NewHub()
	n := testNegotiator(hub, 7, 2)
	a, b := newClient(n, machine.ButtonUp), newClient(n, machine.ButtonDown)
	if _, err := a.np.HostGame("MAP2"); err != nil {
		t.Fatalf("HostGame: %v", err)
	}
	if err := b.np.JoinGame("map2"); err != nil {
		t.Fatalf("JoinGame: %v", err)
	}
	tickUntil(t, "connected", connected(a, b), a, b)
	tickUntil(t, "a few frames", playedTo(a, 5), a, b)

	if a.np.Mapping() == snapshot.Unassigned || a.np.Mapping() == b.np.Mapping() {
		t.Fatalf("mappings %s and %s", a.np.Mapping(), b.np.Mapping())
	}
	if err := a.np.Disconnect(); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}
	if a.np.Mapping() != snapshot.Unassigned {
		t.Fatalf("mapping kept after disconnect")
	}
}

func TestEndToEndResumeAfterPeerDrop(t *testing.T) {
	hub := transport.NewHub()
	n := testNegotiator(hub, 7, 2)
	a, b := newClient(n, machine.ButtonUp), newClient(n, machine.ButtonDown)
	if err := a.np.JoinGame("AB12"); err != nil {
		t.Fatalf("JoinGame: %v", err)
	}
	if err := b.np.JoinGame("AB12"); err != nil {
		t.Fatalf("JoinGame: %v", err)
	}
	tickUntil(t, "connected", connected(a, b), a, b)
	if room := a.driver().Handle().Room; room != "join_ab12_"+n.ContentHash+"?next=2" {
		t.Fatalf("room = %q", room)
	}
	tickUntil(t, "frame 40", playedTo(a, 40), a, b)

	da, db := a.driver(), b.driver()
	cands := da.Candidates()
	hub.Sever(da.Handle().Socket.ID(), db.Handle().Socket.ID())

	resumed := func() bool {
		ra, rb := a.driver(), b.driver()
		return ra != nil && rb != nil && ra != da && rb != db && ra.Handle().Room == rb.Handle().Room
	}
	tickUntil(t, "resumed session", resumed, a, b)

	want := []string{"connecting", "connected", "resuming", "connecting", "connected"}
	if got := a.log.states(); strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("transitions = %v, want %v", got, want)
	}
	ra := a.driver()
	from := ra.Handle().Snapshot.Frame
	if from != cands[0].Frame && from != cands[1].Frame {
		t.Fatalf("resumed from %d, candidates %d and %d", from, cands[0].Frame, cands[1].Frame)
	}
	if ra.Mapping() != da.Mapping() {
		t.Fatalf("mapping changed across resume: %s -> %s", da.Mapping(), ra.Mapping())
	}
	tickUntil(t, "play after resume", playedTo(a, from+10), a, b)
}

func TestResumeAdoptsOneCandidate(t *testing.T) {
	hub := transport.NewHub()
	n := testNegotiator(hub, 7, 2)
	a, b := newClient(n, machine.ButtonUp), newClient(n, machine.ButtonDown)
	a.np.JoinGame("RACE")
	b.np.JoinGame("RACE")
	tickUntil(t, "connected", connected(a, b), a, b)
	tickUntil(t, "two rotations", playedTo(a, 20), a, b)

	da, db := a.driver(), b.driver()
	if err := a.np.DebugResume(); err != nil {
		t.Fatalf("DebugResume: %v", err)
	}
	r, ok := a.np.State().(*Resuming)
	if !ok {
		t.Fatalf("state = %s", a.np.State().Name())
	}
	frames := r.Candidates()
	if len(frames) != 2 || frames[0] <= frames[1] {
		t.Fatalf("candidates = %v, want two, newest first", frames)
	}
	var rooms []string
	for _, f := range frames {
		rooms = append(rooms, negotiate.RoomName(negotiate.Resume(&da.Handle().Conf, snapshot.Snapshot{Frame: f}), n.ContentHash, 2))
	}

	resumed := func() bool {
		ra, rb := a.driver(), b.driver()
		return ra != nil && rb != nil && ra != da && rb != db && ra.Handle().Room == rb.Handle().Room
	}
	tickUntil(t, "resumed session", resumed, a, b)

	adopted := a.driver().Handle().Room
	for _, room := range rooms {
		want := 0
		if room == adopted {
			want = 2
		}
		if got := hub.Members(room); got != want {
			t.Fatalf("room %s has %d members, want %d", room, got, want)
		}
	}
}

func TestResumeFallsBackToLocalPlay(t *testing.T) {
	hub := transport.NewHub()
	n := testNegotiator(hub, 7, 2)
	short := func(o *Options) { o.ResumeTimeout = 200 * time.Millisecond }
	a, b := newClient(n, machine.ButtonUp, short), newClient(n, machine.ButtonDown)
	a.np.JoinGame("SOLO")
	b.np.JoinGame("SOLO")
	tickUntil(t, "connected", connected(a, b), a, b)
	tickUntil(t, "frame 20", playedTo(a, 20), a, b)

	newest := a.driver().Candidates()[1]
	b.np.Disconnect()
	tickUntil(t, "resuming", func() bool { _, ok := a.np.State().(*Resuming); return ok }, a)

	for {
		if _, ok := a.np.State().(Disconnected); ok {
			break
		}
		if s := a.np.State().Name(); s != "resuming" {
			t.Fatalf("state = %s", s)
		}
		a.tick()
		time.Sleep(5 * time.Millisecond)
	}
	if a.np.Frame() != uint32(newest.Frame) {
		t.Fatalf("local play resumed at %d, want %d", a.np.Frame(), newest.Frame)
	}
	if a.np.LastReason() != "resume timed out" {
		t.Fatalf("reason = %q", a.np.LastReason())
	}
	for _, s := range a.log.states() {
		if s == "failed" {
			t.Fatalf("lost peer surfaced as failure: %v", a.log.states())
		}
	}
}

func TestRunner(t *testing.T) {
	c := newClient(testNegotiator(transport.NewHub(), 7, 2), 0)
	var mu sync.Mutex
	ticks := 0
	r := &Runner{
		Netplay: c.np,
		FPS:     200,
		Inputs:  InputFunc(func(uint32) [2]byte { return [2]byte{machine.ButtonUp, 0} }),
		OnTick: func(TickResult) {
			mu.Lock()
			ticks++
			mu.Unlock()
		},
	}
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	if err := r.Run(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Run: %v", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if ticks == 0 || c.np.Frame() != uint32(ticks) {
		t.Fatalf("%d ticks, frame %d", ticks, c.np.Frame())
	}
}

func TestPacedInterval(t *testing.T) {
	base := 10 * time.Millisecond
	if got := pacedInterval(base, 1); got != base {
		t.Fatalf("full speed interval = %v", got)
	}
	if got := pacedInterval(base, 0.8); got != 12500*time.Microsecond {
		t.Fatalf("slowed interval = %v", got)
	}
}
