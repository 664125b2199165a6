// Package transport defines the peer-addressed message socket a rollback
// session runs on, plus an in-process implementation.
package transport

import (
	"context"
	"errors"
	"net/url"
	"sort"
	"strconv"
	"strings"
)

// PeerID identifies a peer for the lifetime of one signaling room.
type PeerID string

// Packet is one message received from a peer.
type Packet struct {
	From    PeerID
	Payload []byte
}

// Transport is a non-blocking socket addressed by peer. Per-peer order is
// preserved; nothing is promised across peers.
type Transport interface {
	Send(to PeerID, payload []byte) error
	ReceiveAll() []Packet
	ConnectedPeers() []PeerID
}

// Socket is a Transport attached to a signaling room.
type Socket interface {
	Transport
	ID() PeerID
	// Done is closed when the signaling loop ends; Err then reports why.
	Done() <-chan struct{}
	Err() error
	Close() error
}

// Dialer opens a Socket in the named room.
type Dialer interface {
	Dial(ctx context.Context, room string) (Socket, error)
}

var (
	ErrRoomFull = errors.New("room is full")
	ErrClosed   = errors.New("signaling socket closed")
)

// DefaultCapacity applies when a room name carries no next parameter.
const DefaultCapacity = 2

// ParseRoom splits "name?next=N" into the room name and its capacity.
func ParseRoom(room string) (string, int) {
	name, query, found := strings.Cut(room, "?")
	if !found {
		return name, DefaultCapacity
	}
	values, err := url.ParseQuery(query)
	if err != nil {
		return name, DefaultCapacity
	}
	n, err := strconv.Atoi(values.Get("next"))
	if err != nil || n < 1 {
		return name, DefaultCapacity
	}
	return name, n
}

// SortPeers returns ids in ascending order. Every member of a room derives the
// same order from the same set.
func SortPeers(ids []PeerID) []PeerID {
	out := append([]PeerID(nil), ids...)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
