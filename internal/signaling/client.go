package signaling

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"netplay-engine/internal/logging"
	"netplay-engine/internal/transport"
)

// Dialer opens sockets on a signaling server such as ws://host:3536.
type Dialer struct {
	URL    string
	Dialer *websocket.Dialer
}

// NewDialer returns a Dialer for the server at url.
func NewDialer(url string) *Dialer {
	return &Dialer{URL: url, Dialer: websocket.DefaultDialer}
}

// Dial joins room, "name?next=N". It returns once the server has assigned
// an id; a full room yields a socket that is already done with
// transport.ErrRoomFull.
func (d *Dialer) Dial(ctx context.Context, room string) (transport.Socket, error) {
	ws := d.Dialer
	if ws == nil {
		ws = websocket.DefaultDialer
	}
	url := strings.TrimRight(d.URL, "/") + "/" + room
	conn, resp, err := ws.DialContext(ctx, url, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}

	s := &socket{
		conn:  conn,
		log:   logging.FromContext(ctx).With("room", room),
		peers: make(map[transport.PeerID]bool),
		done:  make(chan struct{}),
	}
	var first envelope
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetReadDeadline(deadline)
	}
	// Closing the connection is the only way to interrupt the read.
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	err = conn.ReadJSON(&first)
	if !stop() {
		conn.Close()
		return nil, fmt.Errorf("read id: %w", ctx.Err())
	}
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("read id: %w", err)
	}
	conn.SetReadDeadline(time.Time{})
	switch first.Type {
	case typeIDAssigned:
		s.id = transport.PeerID(first.ID)
	case typeRoomFull:
		conn.Close()
		s.finish(transport.ErrRoomFull)
		return s, nil
	default:
		conn.Close()
		return nil, fmt.Errorf("unexpected first message %q", first.Type)
	}
	go s.readLoop()
	return s, nil
}

type socket struct {
	conn *websocket.Conn
	log  *slog.Logger
	id   transport.PeerID
	wmu  sync.Mutex

	mu    sync.Mutex
	peers map[transport.PeerID]bool
	inbox []transport.Packet
	err   error
	done  chan struct{}
}

func (s *socket) readLoop() {
	for {
		var e envelope
		if err := s.conn.ReadJSON(&e); err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				err = transport.ErrClosed
			}
			s.finish(err)
			return
		}
		s.mu.Lock()
		switch e.Type {
		case typePeers:
			for _, id := range e.Peers {
				s.peers[transport.PeerID(id)] = true
			}
		case typeNewPeer:
			s.peers[transport.PeerID(e.ID)] = true
		case typePeerLeft:
			delete(s.peers, transport.PeerID(e.ID))
		case typeData:
			if s.peers[transport.PeerID(e.From)] {
				s.inbox = append(s.inbox, transport.Packet{From: transport.PeerID(e.From), Payload: e.Payload})
			}
		default:
			s.log.Debug("unexpected message", "type", e.Type)
		}
		s.mu.Unlock()
	}
}

func (s *socket) finish(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return
	}
	s.err = err
	s.peers = map[transport.PeerID]bool{}
	close(s.done)
}

func (s *socket) ID() transport.PeerID { return s.id }

func (s *socket) Done() <-chan struct{} { return s.done }

func (s *socket) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *socket) Send(to transport.PeerID, payload []byte) error {
	s.mu.Lock()
	err, known := s.err, s.peers[to]
	s.mu.Unlock()
	if err != nil {
		return err
	}
	if !known {
		return fmt.Errorf("peer %s not connected", to)
	}
	s.wmu.Lock()
	defer s.wmu.Unlock()
	s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteJSON(envelope{Type: typeData, To: string(to), Payload: payload})
}

func (s *socket) ReceiveAll() []transport.Packet {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.inbox
	s.inbox = nil
	return out
}

func (s *socket) ConnectedPeers() []transport.PeerID {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]transport.PeerID, 0, len(s.peers))
	for id := range s.peers {
		out = append(out, id)
	}
	return transport.SortPeers(out)
}

// Close leaves the room.
func (s *socket) Close() error {
	select {
	case <-s.done:
		s.conn.Close()
		return nil
	default:
	}
	s.wmu.Lock()
	s.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
	s.wmu.Unlock()
	s.finish(transport.ErrClosed)
	err := s.conn.Close()
	if errors.Is(err, websocket.ErrCloseSent) {
		return nil
	}
	return err
}
