// Package signaling is a websocket room server and the matching client
// socket. Peers that dial the same room learn about each other and exchange
// session packets through the server.
package signaling

// Message types exchanged over the websocket.
const (
	typeIDAssigned = "id_assigned"
	typePeers      = "peers"
	typeNewPeer    = "new_peer"
	typePeerLeft   = "peer_left"
	typeRoomFull   = "room_full"
	typeData       = "data"
)

// envelope is every message on the wire. Payload is base64 encoded by
// encoding/json.
type envelope struct {
	Type    string   `json:"type"`
	ID      string   `json:"id,omitempty"`
	Peers   []string `json:"peers,omitempty"`
	From    string   `json:"from,omitempty"`
	To      string   `json:"to,omitempty"`
	Payload []byte   `json:"payload,omitempty"`
}
