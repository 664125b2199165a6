// Package rollback implements a peer-to-peer rollback session. Each call to
// AdvanceFrame yields an ordered list of Load, Save and Advance requests the
// caller must honour in order.
package rollback

import (
	"errors"
	"fmt"
	"time"

	"netplay-engine/internal/transport"
)

// Frame is a logical tick number. NullFrame marks "no frame".
type Frame = int32

const NullFrame Frame = -1

// PlayerHandle is a player's slot in the session, 0 based.
type PlayerHandle = int

var (
	ErrNotSynchronized     = errors.New("session not synchronized")
	ErrPredictionThreshold = errors.New("prediction threshold reached")
	ErrMissingLocalInput   = errors.New("local input missing for this frame")
	ErrInvalidHandle       = errors.New("invalid player handle")
)

// PlayerType is Local or Remote.
type PlayerType int

const (
	Local PlayerType = iota
	Remote
)

// Player is a slot assignment: the local player, or a remote peer.
type Player struct {
	Type PlayerType
	Peer transport.PeerID
}

// LocalPlayer is the player driven by this process.
func LocalPlayer() Player { return Player{Type: Local} }

// RemotePlayer is the player driven by peer.
func RemotePlayer(peer transport.PeerID) Player { return Player{Type: Remote, Peer: peer} }

// State of a session.
type State int

const (
	Synchronizing State = iota
	Running
)

func (s State) String() string {
	if s == Running {
		return "running"
	}
	return "synchronizing"
}

// InputStatus tells whether an input is final.
type InputStatus int

const (
	Confirmed InputStatus = iota
	Predicted
	Disconnected
)

// PlayerInput is one player's input for the frame being advanced.
type PlayerInput struct {
	Input  byte
	Status InputStatus
}

// RequestKind enumerates the three request types.
type RequestKind int

const (
	LoadRequest RequestKind = iota
	SaveRequest
	AdvanceRequest
)

func (k RequestKind) String() string {
	switch k {
	case LoadRequest:
		return "load"
	case SaveRequest:
		return "save"
	}
	return "advance"
}

// Request is one step of the protocol returned by AdvanceFrame. Load and Save
// carry a Cell and the Frame it belongs to; Advance carries Inputs in slot order.
type Request struct {
	Kind   RequestKind
	Frame  Frame
	Cell   *Cell
	Inputs []PlayerInput
}

func (r Request) String() string {
	if r.Kind == AdvanceRequest {
		return fmt.Sprintf("advance(%v)", r.Inputs)
	}
	return fmt.Sprintf("%s(frame=%d)", r.Kind, r.Frame)
}

// Cell stores a caller-owned state for a frame.
type Cell struct {
	frame    Frame
	state    any
	checksum uint32
}

// Save stores state for frame.
func (c *Cell) Save(frame Frame, state any, checksum uint32) {
	c.frame = frame
	c.state = state
	c.checksum = checksum
}

// Load returns the stored state.
func (c *Cell) Load() any { return c.state }

// Frame returns the frame of the stored state, NullFrame when empty.
func (c *Cell) Frame() Frame { return c.frame }

// Checksum returns the checksum passed to Save.
func (c *Cell) Checksum() uint32 { return c.checksum }

// EventKind enumerates session events.
type EventKind int

const (
	EventSynchronizing EventKind = iota
	EventSynchronized
	EventNetworkInterrupted
	EventNetworkResumed
	EventDisconnected
	EventWaitRecommendation
)

func (k EventKind) String() string {
	switch k {
	case EventSynchronizing:
		return "synchronizing"
	case EventSynchronized:
		return "synchronized"
	case EventNetworkInterrupted:
		return "network_interrupted"
	case EventNetworkResumed:
		return "network_resumed"
	case EventDisconnected:
		return "disconnected"
	}
	return "wait_recommendation"
}

// Event is something the caller may want to surface.
type Event struct {
	Kind  EventKind
	Peer  transport.PeerID
	Count int
	Total int
	// DisconnectTimeout is set on EventNetworkInterrupted.
	DisconnectTimeout time.Duration
	// SkipFrames is set on EventWaitRecommendation.
	SkipFrames int
}

// ConnectStatus is one player's progress as seen by a peer.
type ConnectStatus struct {
	Disconnected bool  `json:"disconnected"`
	LastFrame    Frame `json:"last_frame"`
}

// NetworkStats describes the link to one remote player.
type NetworkStats struct {
	Ping               time.Duration
	SendQueueLen       int
	KbpsSent           int
	LocalFramesBehind  int
	RemoteFramesBehind int
}
