package netplay

import (
	"netplay-engine/internal/machine"
	"netplay-engine/internal/stats"
)

// Machine is the deterministic simulation the client drives. Equal saves fed
// equal inputs must produce equal saves.
type Machine interface {
	Save() []byte
	Load([]byte) error
	Advance(inputs [2]byte) (machine.Audio, machine.Video)
	SetSpeed(float32)
	Frame() uint32
	Reset()
	SaveSRAM() []byte
	ContentHash() string
}

// Output is what one presented frame produced.
type Output struct {
	Frame int32
	Audio machine.Audio
	Video machine.Video
}

// TickResult is returned by every tick of the client.
type TickResult struct {
	// Outputs holds one entry per frame shown for the first time.
	Outputs []Output
	// Speed is the pacing hint for the presentation layer.
	Speed float32
	// Sample is set on ticks where network statistics were taken.
	Sample *stats.Sample
}
