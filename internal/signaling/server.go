package signaling

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"netplay-engine/internal/config"
	"netplay-engine/internal/transport"
)

const writeWait = 5 * time.Second

// Server keeps rooms of connected peers and relays data between them.
type Server struct {
	log      *slog.Logger
	upgrader websocket.Upgrader

	mu     sync.Mutex
	rooms  map[string]*room
	turnOn *config.TurnOnResponse
}

type room struct {
	name     string
	capacity int
	members  map[string]*member
	order    []string
}

type member struct {
	id   string
	conn *websocket.Conn
	wmu  sync.Mutex
}

func (m *member) write(e envelope) error {
	m.wmu.Lock()
	defer m.wmu.Unlock()
	return m.writeLocked(e)
}

// writeLocked writes e. The caller holds wmu.
func (m *member) writeLocked(e envelope) error {
	m.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return m.conn.WriteJSON(e)
}

// NewServer returns a server with no rooms.
func NewServer(log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		log: log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		rooms: make(map[string]*room),
	}
}

// ServeTurnOn makes GET /conf/{netplay_id} answer with resp.
func (s *Server) ServeTurnOn(resp config.TurnOnResponse) {
	s.mu.Lock()
	s.turnOn = &resp
	s.mu.Unlock()
}

// Handler routes /conf/ to the configuration endpoint and everything else
// to room websockets.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/conf/", s.handleConf)
	mux.HandleFunc("/", s.handleRoom)
	return mux
}

// Rooms returns the member count of every open room.
func (s *Server) Rooms() map[string]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]int, len(s.rooms))
	for name, r := range s.rooms {
		out[name] = len(r.members)
	}
	return out
}

func (s *Server) handleConf(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	resp := s.turnOn
	s.mu.Unlock()
	if resp == nil || strings.TrimPrefix(r.URL.Path, "/conf/") == "" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func (s *Server) handleRoom(w http.ResponseWriter, r *http.Request) {
	name := strings.ToLower(strings.Trim(r.URL.Path, "/"))
	if name == "" {
		http.Error(w, "missing room", http.StatusBadRequest)
		return
	}
	_, capacity := transport.ParseRoom("x?" + r.URL.RawQuery)

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", "room", name, "err", err)
		return
	}
	m := &member{id: uuid.NewString(), conn: conn}
	log := s.log.With("room", name, "peer", m.id)

	// Other members may write to m as soon as it joins. Holding wmu until
	// the greeting is out keeps id_assigned the first message m receives.
	m.wmu.Lock()
	peers, ok := s.join(name, capacity, m)
	if !ok {
		m.wmu.Unlock()
		log.Info("room full", "capacity", capacity)
		m.write(envelope{Type: typeRoomFull})
		conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "room full"), time.Now().Add(writeWait))
		conn.Close()
		return
	}
	log.Info("peer joined", "peers", len(peers))
	defer func() {
		s.leave(name, m)
		conn.Close()
		log.Info("peer left")
	}()

	err = m.writeLocked(envelope{Type: typeIDAssigned, ID: m.id})
	if err == nil {
		err = m.writeLocked(envelope{Type: typePeers, Peers: peers})
	}
	m.wmu.Unlock()
	if err != nil {
		return
	}
	for _, other := range s.others(name, m.id) {
		other.write(envelope{Type: typeNewPeer, ID: m.id})
	}

	for {
		var e envelope
		if err := conn.ReadJSON(&e); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Debug("read failed", "err", err)
			}
			return
		}
		if e.Type != typeData {
			log.Debug("discarding message", "type", e.Type)
			continue
		}
		s.relay(name, m.id, e)
	}
}

// join adds m to the room and returns the ids already in it.
func (s *Server) join(name string, capacity int, m *member) ([]string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rooms[name]
	if !ok {
		r = &room{name: name, capacity: capacity, members: make(map[string]*member)}
		s.rooms[name] = r
	}
	if len(r.members) >= r.capacity {
		return nil, false
	}
	peers := append([]string(nil), r.order...)
	r.members[m.id] = m
	r.order = append(r.order, m.id)
	return peers, true
}

func (s *Server) leave(name string, m *member) {
	s.mu.Lock()
	r, ok := s.rooms[name]
	if !ok {
		s.mu.Unlock()
		return
	}
	delete(r.members, m.id)
	for i, id := range r.order {
		if id == m.id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	var others []*member
	for _, o := range r.members {
		others = append(others, o)
	}
	if len(r.members) == 0 {
		delete(s.rooms, name)
	}
	s.mu.Unlock()

	for _, o := range others {
		o.write(envelope{Type: typePeerLeft, ID: m.id})
	}
}

func (s *Server) others(name, self string) []*member {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*member
	if r, ok := s.rooms[name]; ok {
		for id, m := range r.members {
			if id != self {
				out = append(out, m)
			}
		}
	}
	return out
}

func (s *Server) relay(name, from string, e envelope) {
	s.mu.Lock()
	var to *member
	if r, ok := s.rooms[name]; ok {
		to = r.members[e.To]
	}
	s.mu.Unlock()
	if to == nil {
		return
	}
	if err := to.write(envelope{Type: typeData, From: from, Payload: e.Payload}); err != nil {
		s.log.Debug("relay failed", "room", name, "to", e.To, "err", err)
	}
}
