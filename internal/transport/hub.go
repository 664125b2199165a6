package transport

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Hub is an in-process signaling server and network. Sockets dialed into the
// same room see each other as soon as they join.
type Hub struct {
	// Latency delays delivery of every packet.
	Latency time.Duration

	mu     sync.Mutex
	now    func() time.Time
	rooms  map[string]*hubRoom
	nextID int
}

type hubRoom struct {
	name     string
	capacity int
	members  map[PeerID]*hubSocket
}

type queued struct {
	Packet
	at time.Time
}

// NewHub returns an empty Hub.
func NewHub() *Hub {
	return &Hub{now: time.Now, rooms: make(map[string]*hubRoom)}
}

// SetClock replaces the clock used to schedule delayed delivery.
func (h *Hub) SetClock(now func() time.Time) {
	h.mu.Lock()
	h.now = now
	h.mu.Unlock()
}

// Dial joins room. A room already holding capacity members yields a socket
// that is immediately done with ErrRoomFull.
func (h *Hub) Dial(ctx context.Context, room string) (Socket, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	name, capacity := ParseRoom(room)

	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextID++
	s := &hubSocket{
		hub:   h,
		id:    PeerID(fmt.Sprintf("peer-%04d", h.nextID)),
		peers: make(map[PeerID]bool),
		done:  make(chan struct{}),
	}
	r, ok := h.rooms[name]
	if !ok {
		r = &hubRoom{name: name, capacity: capacity, members: make(map[PeerID]*hubSocket)}
		h.rooms[name] = r
	}
	if len(r.members) >= r.capacity {
		s.finish(ErrRoomFull)
		return s, nil
	}
	s.room = r
	for id, other := range r.members {
		other.peers[s.id] = true
		s.peers[id] = true
	}
	r.members[s.id] = s
	return s, nil
}

// Sever cuts the link between two sockets without closing either, as if the
// network between them failed.
func (h *Hub) Sever(a, b PeerID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, r := range h.rooms {
		sa, okA := r.members[a]
		sb, okB := r.members[b]
		if okA && okB {
			delete(sa.peers, b)
			delete(sb.peers, a)
		}
	}
}

// Members returns the number of sockets currently in room.
func (h *Hub) Members(room string) int {
	name, _ := ParseRoom(room)
	h.mu.Lock()
	defer h.mu.Unlock()
	if r, ok := h.rooms[name]; ok {
		return len(r.members)
	}
	return 0
}

type hubSocket struct {
	hub   *Hub
	room  *hubRoom
	id    PeerID
	inbox []queued
	peers map[PeerID]bool

	done chan struct{}
	err  error
}

func (s *hubSocket) ID() PeerID { return s.id }

func (s *hubSocket) Done() <-chan struct{} { return s.done }

func (s *hubSocket) Err() error {
	s.hub.mu.Lock()
	defer s.hub.mu.Unlock()
	return s.err
}

// finish must be called with hub.mu held.
func (s *hubSocket) finish(err error) {
	if s.err != nil {
		return
	}
	s.err = err
	close(s.done)
}

func (s *hubSocket) Send(to PeerID, payload []byte) error {
	h := s.hub
	h.mu.Lock()
	defer h.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	if !s.peers[to] {
		return fmt.Errorf("peer %s not connected", to)
	}
	dst := s.room.members[to]
	msg := make([]byte, len(payload))
	copy(msg, payload)
	dst.inbox = append(dst.inbox, queued{Packet: Packet{From: s.id, Payload: msg}, at: h.now().Add(h.Latency)})
	return nil
}

func (s *hubSocket) ReceiveAll() []Packet {
	h := s.hub
	h.mu.Lock()
	defer h.mu.Unlock()
	now := h.now()
	var out []Packet
	n := 0
	for _, q := range s.inbox {
		if !s.peers[q.From] {
			continue
		}
		if q.at.After(now) {
			s.inbox[n] = q
			n++
			continue
		}
		out = append(out, q.Packet)
	}
	s.inbox = s.inbox[:n]
	return out
}

func (s *hubSocket) ConnectedPeers() []PeerID {
	s.hub.mu.Lock()
	defer s.hub.mu.Unlock()
	out := make([]PeerID, 0, len(s.peers))
	for id := range s.peers {
		out = append(out, id)
	}
	return SortPeers(out)
}

func (s *hubSocket) Close() error {
	h := s.hub
	h.mu.Lock()
	defer h.mu.Unlock()
	if s.room != nil {
		delete(s.room.members, s.id)
		for _, other := range s.room.members {
			delete(other.peers, s.id)
		}
		if len(s.room.members) == 0 {
			delete(h.rooms, s.room.name)
		}
	}
	s.peers = map[PeerID]bool{}
	s.inbox = nil
	s.finish(ErrClosed)
	return nil
}
