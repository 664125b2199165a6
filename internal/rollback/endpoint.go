package rollback

import (
	"log/slog"
	"math/rand/v2"
	"time"

	"netplay-engine/internal/transport"
)

const (
	numSyncPackets          = 5
	syncRetryInterval       = 200 * time.Millisecond
	runningRetryInterval    = 200 * time.Millisecond
	keepAliveInterval       = 200 * time.Millisecond
	qualityReportInterval   = 200 * time.Millisecond
	DefaultDisconnectNotify = 500 * time.Millisecond
	DefaultDisconnectAfter  = 2000 * time.Millisecond
)

type endpointState int

const (
	epSyncing endpointState = iota
	epRunning
	epDisconnected
)

// endpoint speaks the session protocol with one remote peer.
type endpoint struct {
	peer   transport.PeerID
	handle PlayerHandle
	t      transport.Transport
	now    func() time.Time
	log    *slog.Logger
	fps    int

	state       endpointState
	magic       uint16
	remoteMagic uint16
	nextSeq     uint16

	syncRandom    uint32
	syncRemaining int
	lastSyncSent  time.Time

	lastSendTime      time.Time
	lastRecvTime      time.Time
	lastInputSent     time.Time
	lastQualityReport time.Time

	lastAckedFrame Frame
	lastRecvFrame  Frame
	peerStatus     []ConnectStatus

	rtt       time.Duration
	localAdv  int
	remoteAdv int
	ts        timeSync

	notifyAfter       time.Duration
	disconnectAfter   time.Duration
	interruptNotified bool

	bytesSent  int
	statsStart time.Time

	events []Event
}

func newEndpoint(peer transport.PeerID, handle PlayerHandle, numPlayers int, t transport.Transport, now func() time.Time, log *slog.Logger) *endpoint {
	ep := &endpoint{
		peer:            peer,
		handle:          handle,
		t:               t,
		now:             now,
		log:             log,
		fps:             60,
		lastAckedFrame:  NullFrame,
		lastRecvFrame:   NullFrame,
		peerStatus:      make([]ConnectStatus, numPlayers),
		notifyAfter:     DefaultDisconnectNotify,
		disconnectAfter: DefaultDisconnectAfter,
	}
	for ep.magic == 0 {
		ep.magic = uint16(rand.Uint32())
	}
	for i := range ep.peerStatus {
		ep.peerStatus[i].LastFrame = NullFrame
	}
	return ep
}

func (ep *endpoint) synchronize() {
	ep.state = epSyncing
	ep.syncRemaining = numSyncPackets
	ep.statsStart = ep.now()
	ep.sendSyncRequest()
}

func (ep *endpoint) sendSyncRequest() {
	ep.syncRandom = rand.Uint32()
	ep.lastSyncSent = ep.now()
	ep.send(&message{Hdr: header{Type: msgSyncRequest}, SyncRequest: &syncRequest{Random: ep.syncRandom}})
}

func (ep *endpoint) send(m *message) {
	m.Hdr.Magic = ep.magic
	m.Hdr.Seq = ep.nextSeq
	ep.nextSeq++
	b, err := encodeMessage(m)
	if err != nil {
		ep.log.Error("encode message", "type", m.Hdr.Type, "err", err)
		return
	}
	if err := ep.t.Send(ep.peer, b); err != nil {
		ep.log.Debug("send failed", "peer", ep.peer, "type", m.Hdr.Type, "err", err)
		return
	}
	ep.lastSendTime = ep.now()
	ep.bytesSent += len(b)
}

func (ep *endpoint) emit(e Event) {
	e.Peer = ep.peer
	ep.events = append(ep.events, e)
}

func (ep *endpoint) drainEvents() []Event {
	out := ep.events
	ep.events = nil
	return out
}

// receive processes one message; remote is the queue of the peer's player.
func (ep *endpoint) receive(m *message, remote *inputQueue) {
	if ep.state == epDisconnected {
		return
	}
	isSync := m.Hdr.Type == msgSyncRequest || m.Hdr.Type == msgSyncReply
	if !isSync && (ep.remoteMagic == 0 || m.Hdr.Magic != ep.remoteMagic) {
		ep.log.Debug("dropping message from unknown session", "peer", ep.peer, "type", m.Hdr.Type)
		return
	}

	switch m.Hdr.Type {
	case msgSyncRequest:
		ep.send(&message{Hdr: header{Type: msgSyncReply}, SyncReply: &syncReply{Random: m.SyncRequest.Random}})
	case msgSyncReply:
		if !ep.onSyncReply(m) {
			return
		}
	case msgInput:
		ep.onInput(m.Input, remote)
	case msgInputAck:
		if m.InputAck.AckFrame > ep.lastAckedFrame {
			ep.lastAckedFrame = m.InputAck.AckFrame
		}
	case msgQualityReport:
		ep.remoteAdv = m.QualityReport.FrameAdvantage
		ep.send(&message{Hdr: header{Type: msgQualityReply}, QualityReply: &qualityReply{Pong: m.QualityReport.Ping}})
	case msgQualityReply:
		ep.rtt = ep.now().Sub(time.UnixMilli(m.QualityReply.Pong))
	case msgKeepAlive:
	}

	ep.lastRecvTime = ep.now()
	if ep.interruptNotified && ep.state == epRunning {
		ep.interruptNotified = false
		ep.emit(Event{Kind: EventNetworkResumed})
	}
}

func (ep *endpoint) onSyncReply(m *message) bool {
	if ep.state != epSyncing {
		return true
	}
	if m.SyncReply.Random != ep.syncRandom {
		ep.log.Debug("sync reply does not match request", "peer", ep.peer)
		return false
	}
	ep.remoteMagic = m.Hdr.Magic
	ep.syncRemaining--
	if ep.syncRemaining > 0 {
		ep.emit(Event{Kind: EventSynchronizing, Count: numSyncPackets - ep.syncRemaining, Total: numSyncPackets})
		ep.sendSyncRequest()
		return true
	}
	ep.log.Debug("endpoint synchronized", "peer", ep.peer)
	ep.state = epRunning
	ep.lastRecvTime = ep.now()
	ep.emit(Event{Kind: EventSynchronized})
	return true
}

func (ep *endpoint) onInput(in *inputMsg, remote *inputQueue) {
	if in.DisconnectRequested {
		ep.disconnect()
		return
	}
	for i, st := range in.ConnectStatus {
		if i >= len(ep.peerStatus) {
			break
		}
		ep.peerStatus[i].Disconnected = ep.peerStatus[i].Disconnected || st.Disconnected
		if st.LastFrame > ep.peerStatus[i].LastFrame {
			ep.peerStatus[i].LastFrame = st.LastFrame
		}
	}
	for i, b := range in.Inputs {
		frame := in.StartFrame + Frame(i)
		if frame <= remote.lastAdded {
			continue
		}
		if !remote.add(frame, b) {
			break
		}
	}
	ep.lastRecvFrame = remote.lastAdded
	if in.AckFrame > ep.lastAckedFrame {
		ep.lastAckedFrame = in.AckFrame
	}
	ep.send(&message{Hdr: header{Type: msgInputAck}, InputAck: &inputAck{AckFrame: remote.lastAdded}})
}

// sendInput sends every local input the peer has not acknowledged yet.
func (ep *endpoint) sendInput(local *inputQueue, status []ConnectStatus) {
	if ep.state != epRunning {
		return
	}
	start := ep.lastAckedFrame + 1
	end := local.lastAdded
	if end < start {
		return
	}
	if end-start >= queueLen-1 {
		start = end - (queueLen - 2)
	}
	inputs := make([]byte, 0, end-start+1)
	for f := start; f <= end; f++ {
		b, _ := local.confirmedInput(f)
		inputs = append(inputs, b)
	}
	ep.lastInputSent = ep.now()
	ep.send(&message{Hdr: header{Type: msgInput}, Input: &inputMsg{
		StartFrame:    start,
		AckFrame:      ep.lastRecvFrame,
		Inputs:        inputs,
		ConnectStatus: append([]ConnectStatus(nil), status...),
	}})
}

// poll runs the timers: sync retries, input resends, quality reports,
// keep-alives and disconnect detection.
func (ep *endpoint) poll(local *inputQueue, status []ConnectStatus) {
	now := ep.now()
	switch ep.state {
	case epSyncing:
		if now.Sub(ep.lastSyncSent) > syncRetryInterval {
			ep.sendSyncRequest()
		}
	case epRunning:
		if now.Sub(ep.lastInputSent) > runningRetryInterval {
			ep.sendInput(local, status)
		}
		if now.Sub(ep.lastQualityReport) > qualityReportInterval {
			ep.lastQualityReport = now
			ep.send(&message{Hdr: header{Type: msgQualityReport}, QualityReport: &qualityReport{
				FrameAdvantage: ep.localAdv,
				Ping:           now.UnixMilli(),
			}})
		}
		if now.Sub(ep.lastSendTime) > keepAliveInterval {
			ep.send(&message{Hdr: header{Type: msgKeepAlive}})
		}
		silence := now.Sub(ep.lastRecvTime)
		if !ep.interruptNotified && silence > ep.notifyAfter {
			ep.interruptNotified = true
			ep.emit(Event{Kind: EventNetworkInterrupted, DisconnectTimeout: ep.disconnectAfter - ep.notifyAfter})
		}
		if silence > ep.disconnectAfter {
			ep.log.Warn("peer timed out", "peer", ep.peer, "silence", silence)
			ep.disconnect()
		}
	}
}

func (ep *endpoint) disconnect() {
	if ep.state == epDisconnected {
		return
	}
	ep.state = epDisconnected
	ep.emit(Event{Kind: EventDisconnected})
}

// updateFrameAdvantage estimates how far the peer is ahead of localFrame
// and records it for time sync.
func (ep *endpoint) updateFrameAdvantage(localFrame Frame) {
	if ep.lastRecvFrame == NullFrame {
		return
	}
	pingFrames := int(ep.rtt.Milliseconds()) * ep.fps / 1000
	remoteFrame := int(ep.lastRecvFrame) + pingFrames/2
	ep.localAdv = remoteFrame - int(localFrame)
	ep.ts.advanceFrame(localFrame, ep.localAdv, ep.remoteAdv)
}

func (ep *endpoint) stats(local *inputQueue) NetworkStats {
	kbps := 0
	if secs := ep.now().Sub(ep.statsStart).Seconds(); secs > 0 {
		kbps = int(float64(ep.bytesSent*8) / 1000 / secs)
	}
	return NetworkStats{
		Ping:               ep.rtt,
		SendQueueLen:       int(local.lastAdded - ep.lastAckedFrame),
		KbpsSent:           kbps,
		LocalFramesBehind:  ep.localAdv,
		RemoteFramesBehind: ep.remoteAdv,
	}
}
