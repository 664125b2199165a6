// Package negotiate turns a start method into a peered, synchronized rollback
// session: it resolves the server configuration, joins a signaling room,
// waits for the other players and runs the sync handshake.
package negotiate

import (
	"fmt"
	"strings"

	"netplay-engine/internal/config"
	"netplay-engine/internal/snapshot"
)

// Kind is the way a session is started.
type Kind int

const (
	KindJoin Kind = iota
	KindRandom
	KindResume
)

func (k Kind) String() string {
	switch k {
	case KindJoin:
		return "join"
	case KindRandom:
		return "random"
	}
	return "resume"
}

// Method describes how to find the other players.
type Method struct {
	Kind Kind
	// Room is the code shared out of band for KindJoin.
	Room string
	// Host marks the player who created Room. It only changes presentation.
	Host bool
	// Conf and Snapshot are set for KindResume.
	Conf     *config.Static
	Snapshot snapshot.Snapshot
}

// Join enters the room with the given code.
func Join(room string) Method { return Method{Kind: KindJoin, Room: room} }

// Host creates the room with the given code.
func Host(room string) Method { return Method{Kind: KindJoin, Room: room, Host: true} }

// MatchWithRandom pairs with whoever else is looking for the same game.
func MatchWithRandom() Method { return Method{Kind: KindRandom} }

// Resume reconnects from snap with an already resolved configuration.
func Resume(conf *config.Static, snap snapshot.Snapshot) Method {
	return Method{Kind: KindResume, Conf: conf.Clone(), Snapshot: snap.Clone()}
}

func (m Method) String() string {
	switch m.Kind {
	case KindJoin:
		if m.Host {
			return "host " + m.Room
		}
		return "join " + m.Room
	case KindRandom:
		return "random"
	}
	return fmt.Sprintf("resume@%d", m.Snapshot.Frame)
}

// RoomName derives the signaling room for m. Peers that want the same
// session compute the same name; names are lower case.
func RoomName(m Method, contentHash string, players int) string {
	var name string
	switch m.Kind {
	case KindJoin:
		name = fmt.Sprintf("join_%s_%s", m.Room, contentHash)
	case KindRandom:
		name = fmt.Sprintf("random_%s", contentHash)
	default:
		name = fmt.Sprintf("resume_%s_%d", contentHash, m.Snapshot.Frame)
	}
	return fmt.Sprintf("%s?next=%d", strings.ToLower(name), players)
}
