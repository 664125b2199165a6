package rollback

import (
	"fmt"
	"log/slog"
	"math"
	"time"

	"netplay-engine/internal/transport"
)

// recommendationInterval is the minimum number of frames between two
// EventWaitRecommendation events.
const recommendationInterval = 60

// Session is a running peer-to-peer rollback session. It is not safe for
// concurrent use; the owner polls and advances it from one goroutine.
type Session struct {
	t   transport.Transport
	log *slog.Logger
	now func() time.Time

	numPlayers    int
	maxPrediction int
	inputDelay    int
	fps           int

	players     []Player
	localHandle PlayerHandle
	endpoints   []*endpoint
	byPeer      map[transport.PeerID]*endpoint

	sync   *syncLayer
	status []ConnectStatus
	state  State

	pending        *byte
	framesAhead    int
	lastWaitRecAt  Frame
	events         []Event
	disconnectSeen bool
}

// State reports whether every peer has finished the sync handshake.
func (s *Session) State() State { return s.state }

// LocalHandle is the slot of the local player.
func (s *Session) LocalHandle() PlayerHandle { return s.localHandle }

// NumPlayers is the number of slots in the session.
func (s *Session) NumPlayers() int { return s.numPlayers }

// MaxPrediction is the rollback window W.
func (s *Session) MaxPrediction() int { return s.maxPrediction }

// InputDelay is the local input delay in frames.
func (s *Session) InputDelay() int { return s.inputDelay }

// CurrentFrame is the frame the next Advance request will step.
func (s *Session) CurrentFrame() Frame { return s.sync.currentFrame }

// ConfirmedFrame is the newest frame for which every connected player's input
// is known.
func (s *Session) ConfirmedFrame() Frame { return s.sync.lastConfirmed }

// FramesAhead is the time-sync estimate of how many frames this peer runs
// ahead of the others.
func (s *Session) FramesAhead() int { return s.framesAhead }

// Events drains the events produced since the last call.
func (s *Session) Events() []Event {
	out := s.events
	s.events = nil
	return out
}

// Players returns the slot assignment.
func (s *Session) Players() []Player { return append([]Player(nil), s.players...) }

// Poll exchanges pending network traffic and runs the protocol timers. It
// reports whether any remote player has been disconnected.
func (s *Session) Poll() bool {
	for _, p := range s.t.ReceiveAll() {
		ep, ok := s.byPeer[p.From]
		if !ok {
			s.log.Debug("packet from unknown peer", "peer", p.From)
			continue
		}
		m, err := decodeMessage(p.Payload)
		if err != nil {
			s.log.Debug("bad packet", "peer", p.From, "err", err)
			continue
		}
		ep.receive(m, s.sync.queues[ep.handle])
	}

	connected := make(map[transport.PeerID]bool)
	for _, id := range s.t.ConnectedPeers() {
		connected[id] = true
	}
	local := s.sync.queues[s.localHandle]
	lost := false
	for _, ep := range s.endpoints {
		if !connected[ep.peer] {
			ep.disconnect()
		}
		ep.poll(local, s.status)
		if ep.state == epDisconnected {
			s.status[ep.handle].Disconnected = true
			lost = true
		} else {
			s.status[ep.handle].LastFrame = s.sync.queues[ep.handle].lastAdded
		}
		s.events = append(s.events, ep.drainEvents()...)
	}

	if s.state == Synchronizing && !lost && s.allRunning() {
		s.state = Running
		s.log.Info("session synchronized", "players", s.numPlayers, "local", s.localHandle)
	}
	if lost && !s.disconnectSeen {
		s.disconnectSeen = true
		s.log.Warn("remote player disconnected", "frame", s.sync.currentFrame)
	}
	return lost
}

func (s *Session) allRunning() bool {
	for _, ep := range s.endpoints {
		if ep.state != epRunning {
			return false
		}
	}
	return true
}

// AddLocalInput queues the local player's input for the next AdvanceFrame.
func (s *Session) AddLocalInput(handle PlayerHandle, input byte) error {
	if handle != s.localHandle {
		return fmt.Errorf("%w: %d is not local", ErrInvalidHandle, handle)
	}
	if s.state != Running {
		return ErrNotSynchronized
	}
	s.pending = &input
	return nil
}

// AdvanceFrame steps the session by one frame. The returned requests must be
// fulfilled in order: a rollback (Load, then Save and Advance pairs) when a
// prediction turned out wrong, followed by Save and Advance for the new frame.
// ErrPredictionThreshold means the local peer is too far ahead of the
// confirmed inputs; the pending local input is dropped and nothing advances.
func (s *Session) AdvanceFrame() ([]Request, error) {
	s.Poll()
	if s.state != Running {
		return nil, ErrNotSynchronized
	}
	if s.pending == nil {
		return nil, ErrMissingLocalInput
	}
	input := *s.pending
	s.pending = nil

	s.sync.setLastConfirmed(s.confirmedFrame())
	s.updateFramesAhead()

	if s.sync.currentFrame-s.sync.lastConfirmed >= Frame(s.maxPrediction) {
		return nil, ErrPredictionThreshold
	}

	local := s.sync.queues[s.localHandle]
	target := s.sync.currentFrame + Frame(s.inputDelay)
	if target != local.lastAdded+1 {
		return nil, fmt.Errorf("local input for frame %d out of order, last was %d", target, local.lastAdded)
	}

	var reqs []Request
	if first := s.sync.firstIncorrect(); first != NullFrame {
		rb, err := s.rollback(first)
		if err != nil {
			return nil, err
		}
		reqs = rb
	}

	reqs = append(reqs, s.sync.saveCurrent())
	local.add(target, input)
	s.status[s.localHandle].LastFrame = local.lastAdded
	for _, ep := range s.endpoints {
		ep.sendInput(local, s.status)
	}

	reqs = append(reqs, Request{Kind: AdvanceRequest, Frame: s.sync.currentFrame, Inputs: s.sync.inputs(s.status)})
	s.sync.advance()
	return reqs, nil
}

// rollback rewinds to first and replays up to the current frame.
func (s *Session) rollback(first Frame) ([]Request, error) {
	target := s.sync.currentFrame
	load, err := s.sync.loadFrame(first)
	if err != nil {
		return nil, fmt.Errorf("rollback: %w", err)
	}
	s.sync.resetPrediction()
	reqs := []Request{load}
	for s.sync.currentFrame < target {
		if s.sync.currentFrame != first {
			reqs = append(reqs, s.sync.saveCurrent())
		}
		reqs = append(reqs, Request{Kind: AdvanceRequest, Frame: s.sync.currentFrame, Inputs: s.sync.inputs(s.status)})
		s.sync.advance()
	}
	s.log.Debug("rolled back", "from", target, "to", first, "frames", target-first)
	return reqs, nil
}

// confirmedFrame is the oldest last-received frame over connected players.
func (s *Session) confirmedFrame() Frame {
	confirmed := Frame(math.MaxInt32)
	for _, st := range s.status {
		if st.Disconnected {
			continue
		}
		if st.LastFrame < confirmed {
			confirmed = st.LastFrame
		}
	}
	return confirmed
}

func (s *Session) updateFramesAhead() {
	ahead := 0
	for _, ep := range s.endpoints {
		if ep.state != epRunning {
			continue
		}
		ep.updateFrameAdvantage(s.sync.currentFrame)
		if a := ep.ts.framesAhead(); a > ahead {
			ahead = a
		}
	}
	s.framesAhead = ahead
	if ahead >= 3 && s.sync.currentFrame-s.lastWaitRecAt > recommendationInterval {
		s.lastWaitRecAt = s.sync.currentFrame
		s.events = append(s.events, Event{Kind: EventWaitRecommendation, SkipFrames: ahead})
	}
}

// NetworkStats reports link quality to the remote player in slot handle.
func (s *Session) NetworkStats(handle PlayerHandle) (NetworkStats, error) {
	if handle < 0 || handle >= s.numPlayers || s.players[handle].Type != Remote {
		return NetworkStats{}, fmt.Errorf("%w: %d is not remote", ErrInvalidHandle, handle)
	}
	if s.state != Running {
		return NetworkStats{}, ErrNotSynchronized
	}
	ep := s.byPeer[s.players[handle].Peer]
	return ep.stats(s.sync.queues[s.localHandle]), nil
}
