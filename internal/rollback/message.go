package rollback

import (
	"encoding/json"
	"fmt"
)

type msgType uint8

const (
	msgSyncRequest msgType = iota + 1
	msgSyncReply
	msgInput
	msgInputAck
	msgQualityReport
	msgQualityReply
	msgKeepAlive
)

func (t msgType) String() string {
	switch t {
	case msgSyncRequest:
		return "sync_request"
	case msgSyncReply:
		return "sync_reply"
	case msgInput:
		return "input"
	case msgInputAck:
		return "input_ack"
	case msgQualityReport:
		return "quality_report"
	case msgQualityReply:
		return "quality_reply"
	case msgKeepAlive:
		return "keep_alive"
	}
	return fmt.Sprintf("msg(%d)", uint8(t))
}

type header struct {
	Magic uint16  `json:"magic"`
	Seq   uint16  `json:"seq"`
	Type  msgType `json:"type"`
}

type syncRequest struct {
	Random uint32 `json:"random"`
}

type syncReply struct {
	Random uint32 `json:"random"`
}

type inputMsg struct {
	StartFrame          Frame           `json:"start_frame"`
	AckFrame            Frame           `json:"ack_frame"`
	Inputs              []byte          `json:"inputs"`
	ConnectStatus       []ConnectStatus `json:"connect_status"`
	DisconnectRequested bool            `json:"disconnect_requested,omitempty"`
}

type inputAck struct {
	AckFrame Frame `json:"ack_frame"`
}

type qualityReport struct {
	FrameAdvantage int   `json:"frame_advantage"`
	Ping           int64 `json:"ping"`
}

type qualityReply struct {
	Pong int64 `json:"pong"`
}

// message is the envelope exchanged between endpoints. Exactly one body
// field matching Hdr.Type is set.
type message struct {
	Hdr           header         `json:"hdr"`
	SyncRequest   *syncRequest   `json:"sync_request,omitempty"`
	SyncReply     *syncReply     `json:"sync_reply,omitempty"`
	Input         *inputMsg      `json:"input,omitempty"`
	InputAck      *inputAck      `json:"input_ack,omitempty"`
	QualityReport *qualityReport `json:"quality_report,omitempty"`
	QualityReply  *qualityReply  `json:"quality_reply,omitempty"`
}

func encodeMessage(m *message) ([]byte, error) {
	return json.Marshal(m)
}

func decodeMessage(b []byte) (*message, error) {
	var m message
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("decode message: %w", err)
	}
	ok := false
	switch m.Hdr.Type {
	case msgSyncRequest:
		ok = m.SyncRequest != nil
	case msgSyncReply:
		ok = m.SyncReply != nil
	case msgInput:
		ok = m.Input != nil
	case msgInputAck:
		ok = m.InputAck != nil
	case msgQualityReport:
		ok = m.QualityReport != nil
	case msgQualityReply:
		ok = m.QualityReply != nil
	case msgKeepAlive:
		ok = true
	}
	if !ok {
		return nil, fmt.Errorf("decode message: malformed %s", m.Hdr.Type)
	}
	return &m, nil
}
