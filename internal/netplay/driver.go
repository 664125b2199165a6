package netplay

import (
	"errors"
	"log/slog"
	"time"

	"netplay-engine/internal/negotiate"
	"netplay-engine/internal/rollback"
	"netplay-engine/internal/snapshot"
	"netplay-engine/internal/stats"
)

// ErrLostPeer is returned by Driver.Tick once a remote player is gone.
var ErrLostPeer = errors.New("lost peer")

// Driver runs one rollback session against the machine: it turns session
// requests into loads, saves and steps, hides replayed frames, keeps the
// confirmed pair and computes the pacing hint.
type Driver struct {
	handle *negotiate.Handle
	sess   *rollback.Session
	m      Machine
	log    *slog.Logger
	now    func() time.Time

	window int
	// base is the absolute frame of session frame 0.
	base       int32
	frame      rollback.Frame
	lastOutput rollback.Frame
	mapping    snapshot.Mapping
	pair       *snapshot.ConfirmedPair
	speed      float32

	steps, replays, rollbacks int
	nextSample                rollback.Frame
}

// NewDriver takes ownership of h and starts from its snapshot, or from a
// reset machine when h carries none.
func NewDriver(h *negotiate.Handle, m Machine, log *slog.Logger) (*Driver, error) {
	if log == nil {
		log = slog.Default()
	}
	d := &Driver{
		handle:     h,
		sess:       h.Session,
		m:          m,
		log:        log.With("room", h.Room),
		now:        time.Now,
		window:     h.Session.MaxPrediction(),
		lastOutput: rollback.NullFrame,
		speed:      1,
	}
	if h.Snapshot != nil {
		if err := m.Load(h.Snapshot.State); err != nil {
			return nil, err
		}
		d.base = h.Snapshot.Frame
		d.mapping = h.Snapshot.Mapping
	} else {
		m.Reset()
	}
	d.pair = snapshot.NewConfirmedPair(d.live())
	return d, nil
}

func (d *Driver) live() snapshot.Snapshot {
	return snapshot.Snapshot{Frame: d.base + d.frame, State: d.m.Save(), Mapping: d.mapping}
}

// Tick polls the session, submits the local player's input (inputs[0]) and
// fulfils the requests of one AdvanceFrame. A frame the session cannot
// advance yet is not an error; only ErrLostPeer is returned.
func (d *Driver) Tick(inputs [2]byte) (TickResult, error) {
	res := TickResult{Speed: d.speed}
	lost := d.sess.Poll()
	d.logEvents()
	if lost {
		return res, ErrLostPeer
	}
	local := d.sess.LocalHandle()
	if d.mapping == snapshot.Unassigned {
		d.mapping = snapshot.ForLocalSlot(local)
		d.pair.AssignMapping(d.mapping)
		d.log.Info("input mapping assigned", "mapping", d.mapping, "slot", local)
	}

	if err := d.sess.AddLocalInput(local, inputs[0]); err != nil {
		d.log.Debug("local input rejected", "err", err)
		return res, nil
	}
	reqs, err := d.sess.AdvanceFrame()
	if err != nil {
		if errors.Is(err, rollback.ErrPredictionThreshold) || errors.Is(err, rollback.ErrNotSynchronized) {
			d.log.Debug("frame skipped", "frame", d.frame, "err", err)
		} else {
			d.log.Warn("advance failed", "frame", d.frame, "err", err)
		}
		return res, nil
	}

	for _, r := range reqs {
		switch r.Kind {
		case rollback.LoadRequest:
			d.load(r)
		case rollback.SaveRequest:
			if r.Frame != d.frame {
				d.log.Error("save requested for another frame", "requested", r.Frame, "live", d.frame)
			}
			snap := d.live()
			r.Cell.Save(r.Frame, snap, snap.Checksum())
		case rollback.AdvanceRequest:
			if out, shown := d.step(r); shown {
				res.Outputs = append(res.Outputs, out)
			}
		}
	}

	d.speed = Speed(d.sess.FramesAhead())
	d.m.SetSpeed(d.speed)
	res.Speed = d.speed
	if d.lastOutput >= d.nextSample {
		d.nextSample = d.lastOutput + stats.SampleEvery
		if s, ok := d.sample(); ok {
			res.Sample = &s
		}
	}
	return res, nil
}

// logEvents drains the session's event queue.
func (d *Driver) logEvents() {
	for _, ev := range d.sess.Events() {
		switch ev.Kind {
		case rollback.EventNetworkInterrupted:
			d.log.Info("network interrupted", "peer", ev.Peer, "disconnect_in", ev.DisconnectTimeout)
		case rollback.EventNetworkResumed:
			d.log.Info("network resumed", "peer", ev.Peer)
		case rollback.EventDisconnected:
			d.log.Info("peer disconnected", "peer", ev.Peer)
		case rollback.EventWaitRecommendation:
			d.log.Debug("wait recommended", "skip_frames", ev.SkipFrames)
		default:
			d.log.Debug("session event", "kind", ev.Kind, "peer", ev.Peer)
		}
	}
}

func (d *Driver) load(r rollback.Request) {
	snap, ok := r.Cell.Load().(snapshot.Snapshot)
	if !ok {
		d.log.Error("load of an empty cell", "frame", r.Frame)
		return
	}
	if err := d.m.Load(snap.State); err != nil {
		d.log.Error("load failed", "frame", r.Frame, "err", err)
		return
	}
	d.frame = r.Frame
	d.rollbacks++
}

func (d *Driver) step(r rollback.Request) (Output, bool) {
	if r.Frame != d.frame {
		d.log.Error("step requested for another frame", "requested", r.Frame, "live", d.frame)
	}
	var slots [2]byte
	for i := 0; i < len(slots) && i < len(r.Inputs); i++ {
		if r.Inputs[i].Status != rollback.Disconnected {
			slots[i] = r.Inputs[i].Input
		}
	}
	replay := r.Frame <= d.lastOutput
	audio, video := d.m.Advance(d.mapping.Map(slots, d.sess.LocalHandle()))
	d.frame = r.Frame + 1
	d.steps++
	if replay {
		d.replays++
		return Output{}, false
	}
	d.lastOutput = r.Frame
	if int(r.Frame)%(d.window+1) == 0 {
		d.pair.Rotate(d.live())
	}
	return Output{Frame: d.base + r.Frame, Audio: audio, Video: video}, true
}

func (d *Driver) sample() (stats.Sample, bool) {
	remote := 1 - d.sess.LocalHandle()
	ns, err := d.sess.NetworkStats(remote)
	if err != nil {
		return stats.Sample{}, false
	}
	peer := ""
	if players := d.sess.Players(); remote < len(players) {
		peer = string(players[remote].Peer)
	}
	return stats.Sample{
		Timestamp:          d.now(),
		Room:               d.handle.Room,
		Peer:               peer,
		Frame:              d.base + d.lastOutput,
		PingMS:             ns.Ping.Milliseconds(),
		SendQueue:          ns.SendQueueLen,
		KbpsSent:           ns.KbpsSent,
		LocalFramesBehind:  ns.LocalFramesBehind,
		RemoteFramesBehind: ns.RemoteFramesBehind,
		FramesAhead:        d.sess.FramesAhead(),
		Speed:              d.speed,
		Rollbacks:          d.rollbacks,
	}, true
}

// Frame is the absolute frame of the live state.
func (d *Driver) Frame() int32 { return d.base + d.frame }

// Mapping is the input mapping in use.
func (d *Driver) Mapping() snapshot.Mapping { return d.mapping }

// Candidates returns the confirmed pair, older first.
func (d *Driver) Candidates() [2]snapshot.Snapshot { return d.pair.Candidates() }

// Rotations counts confirmed pair rotations.
func (d *Driver) Rotations() int { return d.pair.Rotations() }

// Steps, Replays and Rollbacks count processed steps, replayed steps and
// loads since the driver started.
func (d *Driver) Steps() int     { return d.steps }
func (d *Driver) Replays() int   { return d.replays }
func (d *Driver) Rollbacks() int { return d.rollbacks }

// Speed is the last pacing hint.
func (d *Driver) Speed() float32 { return d.speed }

// Handle returns the transport handle the driver owns.
func (d *Driver) Handle() *negotiate.Handle { return d.handle }

// Close leaves the session's signaling room.
func (d *Driver) Close() error { return d.handle.Close() }
