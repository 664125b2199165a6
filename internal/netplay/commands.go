package netplay

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"netplay-engine/internal/negotiate"
)

// ErrInvalidCommand is returned for a command the current state does not accept.
var ErrInvalidCommand = errors.New("command not valid in this state")

// CommandKind names a user command.
type CommandKind string

const (
	CmdJoin        CommandKind = "join"
	CmdFind        CommandKind = "find"
	CmdHost        CommandKind = "host"
	CmdCancel      CommandKind = "cancel"
	CmdRetry       CommandKind = "retry"
	CmdDisconnect  CommandKind = "disconnect"
	CmdAcknowledge CommandKind = "acknowledge"
	CmdResume      CommandKind = "resume"
)

// Command is a user command in serializable form.
type Command struct {
	Kind CommandKind `json:"kind" yaml:"kind"`
	Room string      `json:"room,omitempty" yaml:"room,omitempty"`
}

// Do runs c. Host returns the room code to share.
func (np *Netplay) Do(c Command) (string, error) {
	switch c.Kind {
	case CmdJoin:
		return c.Room, np.JoinGame(c.Room)
	case CmdFind:
		return "", np.FindGame()
	case CmdHost:
		return np.HostGame(c.Room)
	case CmdCancel:
		return "", np.CancelConnect()
	case CmdRetry:
		return "", np.RetryConnect()
	case CmdDisconnect:
		return "", np.Disconnect()
	case CmdAcknowledge:
		return "", np.Acknowledge()
	case CmdResume:
		return "", np.DebugResume()
	}
	return "", fmt.Errorf("unknown command %q", c.Kind)
}

// NewRoomCode returns a four character code to share with another player.
func NewRoomCode() string {
	return strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:4])
}

// JoinGame negotiates a session in the room with the given code.
func (np *Netplay) JoinGame(room string) error {
	if room == "" {
		return fmt.Errorf("join: empty room code")
	}
	return np.start(negotiate.Join(room))
}

// FindGame negotiates a session with any player looking for the same game.
func (np *Netplay) FindGame() error {
	return np.start(negotiate.MatchWithRandom())
}

// HostGame opens a room and returns its code. An empty room gets a new code.
func (np *Netplay) HostGame(room string) (string, error) {
	if room == "" {
		room = NewRoomCode()
	}
	return room, np.start(negotiate.Host(room))
}

func (np *Netplay) start(m negotiate.Method) error {
	np.mu.Lock()
	defer np.mu.Unlock()
	if _, ok := np.state.(Disconnected); !ok {
		return fmt.Errorf("%s from %s: %w", m, np.state.Name(), ErrInvalidCommand)
	}
	np.connect(m)
	return nil
}

func (np *Netplay) connect(m negotiate.Method) {
	np.transition(&Connecting{attempt: np.n.Start(np.ctx, m), method: m}, m.String())
}

// CancelConnect abandons Connecting or Resuming and returns to local play.
func (np *Netplay) CancelConnect() error {
	np.mu.Lock()
	defer np.mu.Unlock()
	switch s := np.state.(type) {
	case *Connecting:
		np.abandon(s)
		np.transition(Disconnected{}, "cancelled")
	case *Resuming:
		np.fallback(s, "cancelled")
	default:
		return fmt.Errorf("cancel from %s: %w", np.state.Name(), ErrInvalidCommand)
	}
	return nil
}

func (np *Netplay) abandon(c *Connecting) {
	if c.attempt != nil {
		c.attempt.Cancel()
	}
	if c.handle != nil {
		c.handle.Close()
	}
}

// RetryConnect starts the failed negotiation again.
func (np *Netplay) RetryConnect() error {
	np.mu.Lock()
	defer np.mu.Unlock()
	f, ok := np.state.(*Failed)
	if !ok {
		return fmt.Errorf("retry from %s: %w", np.state.Name(), ErrInvalidCommand)
	}
	np.connect(f.method)
	return nil
}

// Acknowledge dismisses a failure and restarts local play from the beginning.
func (np *Netplay) Acknowledge() error {
	np.mu.Lock()
	defer np.mu.Unlock()
	if _, ok := np.state.(*Failed); !ok {
		return fmt.Errorf("acknowledge from %s: %w", np.state.Name(), ErrInvalidCommand)
	}
	np.m.Reset()
	np.transition(Disconnected{}, "acknowledged")
	return nil
}

// Disconnect leaves any session. Local play continues from the live state.
func (np *Netplay) Disconnect() error {
	np.mu.Lock()
	defer np.mu.Unlock()
	switch s := np.state.(type) {
	case *Connected:
		s.driver.Close()
	case *Connecting:
		np.abandon(s)
	case *Resuming:
		for _, a := range s.attempts {
			if a != nil {
				a.Cancel()
			}
		}
	case Disconnected:
		return nil
	default:
		return fmt.Errorf("disconnect from %s: %w", np.state.Name(), ErrInvalidCommand)
	}
	np.transition(Disconnected{}, "disconnected")
	return nil
}

// DebugResume drops the running session as if the peer was lost.
func (np *Netplay) DebugResume() error {
	np.mu.Lock()
	defer np.mu.Unlock()
	c, ok := np.state.(*Connected)
	if !ok {
		return fmt.Errorf("resume from %s: %w", np.state.Name(), ErrInvalidCommand)
	}
	np.resume(c, "debug resume")
	return nil
}
