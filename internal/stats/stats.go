// Package stats records network statistics and state transitions of a
// netplay client and exports them to files, stdout and GreptimeDB.
package stats

import (
	"sync"
	"time"
)

// HistoryLen is the number of samples kept in memory.
const HistoryLen = 100

// SampleEvery is the number of frames between two samples.
const SampleEvery = 30

// Sample is one measurement of the link to a remote peer.
type Sample struct {
	Timestamp          time.Time `json:"ts"`
	Room               string    `json:"room"`
	Peer               string    `json:"peer"`
	Frame              int32     `json:"frame"`
	PingMS             int64     `json:"ping_ms"`
	SendQueue          int       `json:"send_queue"`
	KbpsSent           int       `json:"kbps_sent"`
	LocalFramesBehind  int       `json:"local_frames_behind"`
	RemoteFramesBehind int       `json:"remote_frames_behind"`
	FramesAhead        int       `json:"frames_ahead"`
	Speed              float32   `json:"speed"`
	Rollbacks          int       `json:"rollbacks"`
}

// Transition records a change of the client's connection state.
type Transition struct {
	Timestamp time.Time `json:"ts"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	Detail    string    `json:"detail,omitempty"`
}

// Writer handles samples.
type Writer interface {
	Write(Sample) error
}

// Optional: writers may support batch mode.
type batchWriter interface {
	WriteBatch([]Sample) error
}

// TransitionWriter handles state transitions.
type TransitionWriter interface {
	WriteTransition(Transition) error
}

// History keeps the most recent samples in a ring. It is safe for
// concurrent use so status endpoints can read it while the client runs.
type History struct {
	mu      sync.Mutex
	samples [HistoryLen]Sample
	next    int
	full    bool
}

// Write appends s, evicting the oldest sample when full.
func (h *History) Write(s Sample) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.samples[h.next] = s
	h.next = (h.next + 1) % HistoryLen
	if h.next == 0 {
		h.full = true
	}
	return nil
}

// Samples returns the stored samples, oldest first.
func (h *History) Samples() []Sample {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.full {
		return append([]Sample(nil), h.samples[:h.next]...)
	}
	out := make([]Sample, 0, HistoryLen)
	out = append(out, h.samples[h.next:]...)
	return append(out, h.samples[:h.next]...)
}

// Latest returns the newest sample.
func (h *History) Latest() (Sample, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.full && h.next == 0 {
		return Sample{}, false
	}
	return h.samples[(h.next+HistoryLen-1)%HistoryLen], true
}

// Reset drops every sample.
func (h *History) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.next = 0
	h.full = false
}
