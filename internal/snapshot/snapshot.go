// Package snapshot holds simulation snapshots and the confirmed pair kept for
// resuming a session after a peer is lost.
package snapshot

import (
	"fmt"
	"hash/crc32"
)

// Mapping decides which machine player each session slot drives. It is fixed
// the first time a session reports its local slot and survives resumes.
type Mapping int

const (
	Unassigned Mapping = iota
	P1
	P2
)

func (m Mapping) String() string {
	switch m {
	case P1:
		return "P1"
	case P2:
		return "P2"
	}
	return "unassigned"
}

// ForLocalSlot returns the mapping chosen when the local player owns slot.
func ForLocalSlot(slot int) Mapping {
	if slot == 0 {
		return P1
	}
	return P2
}

// Map reorders two slot-ordered inputs into machine player order. The local
// player keeps driving the same machine player when its slot changes.
func (m Mapping) Map(inputs [2]byte, localSlot int) [2]byte {
	swap := false
	switch m {
	case P1:
		swap = localSlot != 0
	case P2:
		swap = localSlot == 0
	}
	if swap {
		return [2]byte{inputs[1], inputs[0]}
	}
	return inputs
}

// Snapshot is a machine state tagged with the rollback frame it was taken at.
type Snapshot struct {
	Frame   int32
	State   []byte
	Mapping Mapping
}

// Clone returns a copy that shares no memory with s.
func (s Snapshot) Clone() Snapshot {
	out := s
	out.State = append([]byte(nil), s.State...)
	return out
}

// Checksum is a CRC32 of the machine state.
func (s Snapshot) Checksum() uint32 {
	return crc32.ChecksumIEEE(s.State)
}

func (s Snapshot) String() string {
	return fmt.Sprintf("frame=%d mapping=%s crc=%08x", s.Frame, s.Mapping, s.Checksum())
}

// ConfirmedPair keeps the two most recent confirmed snapshots. Rotating drops
// the older one; the pair is never overwritten in place.
type ConfirmedPair struct {
	older     Snapshot
	newer     Snapshot
	rotations int
}

// NewConfirmedPair seeds both slots with the session's starting snapshot.
func NewConfirmedPair(initial Snapshot) *ConfirmedPair {
	return &ConfirmedPair{older: initial.Clone(), newer: initial.Clone()}
}

// Rotate moves the newer snapshot into the older slot and stores s as newer.
func (p *ConfirmedPair) Rotate(s Snapshot) {
	p.older = p.newer
	p.newer = s.Clone()
	p.rotations++
}

// Candidates returns copies of both snapshots, older first.
func (p *ConfirmedPair) Candidates() [2]Snapshot {
	return [2]Snapshot{p.older.Clone(), p.newer.Clone()}
}

// Newest returns a copy of the most recent snapshot.
func (p *ConfirmedPair) Newest() Snapshot { return p.newer.Clone() }

// Rotations counts Rotate calls since the pair was created.
func (p *ConfirmedPair) Rotations() int { return p.rotations }

// AssignMapping sets m on every held snapshot whose mapping is still
// unassigned.
func (p *ConfirmedPair) AssignMapping(m Mapping) {
	if p.older.Mapping == Unassigned {
		p.older.Mapping = m
	}
	if p.newer.Mapping == Unassigned {
		p.newer.Mapping = m
	}
}
