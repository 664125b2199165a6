// Package machine is a small deterministic two player game used as the
// simulation behind netplay sessions.
package machine

import (
	"bytes"
	"crypto/md5"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"hash/crc32"
)

// Button bits of an input packet.
const (
	ButtonUp byte = 1 << iota
	ButtonDown
	ButtonLeft
	ButtonRight
	ButtonA
	ButtonB
	ButtonStart
	ButtonSelect
)

const (
	Width      = 64
	Height     = 48
	SampleRate = 44100
	FPS        = 60

	SamplesPerFrame = SampleRate / FPS

	paddleHeight = 8
	beepFrames   = 4
)

// Audio is one frame of mono samples.
type Audio []int16

// Video is one frame of 8-bit grey pixels, row major.
type Video []byte

type paddle struct {
	Y     int16
	Boost uint8
}

type ball struct {
	X, Y   int16
	VX, VY int16
}

// state is everything Save captures. Fields are exported for encoding/binary.
type state struct {
	Frame   uint32
	Rng     uint32
	Paddles [2]paddle
	Ball    ball
	Score   [2]uint16
	Beep    uint8
	Paused  uint8
}

// Machine advances the game one frame at a time. Equal content and equal
// input sequences always produce equal saves.
type Machine struct {
	content []byte
	st      state
	speed   float32
	best    [2]uint16
}

// New boots a machine for the given content.
func New(content []byte) *Machine {
	m := &Machine{content: append([]byte(nil), content...), speed: 1}
	m.Reset()
	return m
}

// Reset returns the machine to its power-on state. SRAM survives.
func (m *Machine) Reset() {
	seed := crc32.ChecksumIEEE(m.content)
	if seed == 0 {
		seed = 0x9e3779b9
	}
	m.st = state{Rng: seed}
	m.st.Paddles[0].Y = (Height - paddleHeight) / 2
	m.st.Paddles[1].Y = (Height - paddleHeight) / 2
	m.serve(0)
}

// ContentHash is the hex md5 of the loaded content.
func (m *Machine) ContentHash() string {
	sum := md5.Sum(m.content)
	return hex.EncodeToString(sum[:])
}

// Frame returns the number of frames advanced since power-on or the last load.
func (m *Machine) Frame() uint32 { return m.st.Frame }

// SetSpeed records the pacing multiplier requested by the netplay driver.
func (m *Machine) SetSpeed(speed float32) { m.speed = speed }

// Speed returns the last multiplier passed to SetSpeed.
func (m *Machine) Speed() float32 { return m.speed }

// Save serialises the full machine state.
func (m *Machine) Save() []byte {
	var buf bytes.Buffer
	binary.Write(&buf, binary.LittleEndian, m.st)
	return buf.Bytes()
}

// Load replaces the machine state with a previous Save.
func (m *Machine) Load(data []byte) error {
	var st state
	if err := binary.Read(bytes.NewReader(data), binary.LittleEndian, &st); err != nil {
		return fmt.Errorf("load state: %w", err)
	}
	m.st = st
	return nil
}

// Checksum is a CRC32 of Save.
func (m *Machine) Checksum() uint32 { return crc32.ChecksumIEEE(m.Save()) }

// SaveSRAM returns the battery backed best scores.
func (m *Machine) SaveSRAM() []byte {
	out := make([]byte, 4)
	binary.LittleEndian.PutUint16(out[0:], m.best[0])
	binary.LittleEndian.PutUint16(out[2:], m.best[1])
	return out
}

// LoadSRAM restores data from SaveSRAM.
func (m *Machine) LoadSRAM(data []byte) error {
	if len(data) != 4 {
		return fmt.Errorf("sram size %d, want 4", len(data))
	}
	m.best[0] = binary.LittleEndian.Uint16(data[0:])
	m.best[1] = binary.LittleEndian.Uint16(data[2:])
	return nil
}

// Advance runs one frame with inputs in machine player order.
func (m *Machine) Advance(inputs [2]byte) (Audio, Video) {
	m.step(inputs)
	return m.audio(), m.video()
}

func (m *Machine) step(inputs [2]byte) {
	st := &m.st
	st.Frame++
	if inputs[0]&ButtonStart != 0 && inputs[1]&ButtonStart != 0 {
		st.Paused ^= 1
	}
	if st.Paused == 1 {
		return
	}

	for i := range st.Paddles {
		p := &st.Paddles[i]
		step := int16(1)
		if inputs[i]&ButtonA != 0 {
			step = 2
		}
		if inputs[i]&ButtonUp != 0 {
			p.Y -= step
		}
		if inputs[i]&ButtonDown != 0 {
			p.Y += step
		}
		p.Y = clamp(p.Y, 0, Height-paddleHeight)
		if inputs[i]&ButtonB != 0 && p.Boost == 0 {
			p.Boost = 30
		}
		if p.Boost > 0 {
			p.Boost--
		}
	}

	if st.Beep > 0 {
		st.Beep--
	}

	b := &st.Ball
	b.X += b.VX
	b.Y += b.VY
	if b.Y <= 0 || b.Y >= Height-1 {
		b.VY = -b.VY
		b.Y = clamp(b.Y, 0, Height-1)
	}

	switch {
	case b.X <= 2:
		if m.hits(0) {
			b.X = 3
			b.VX = m.returnSpeed(0)
			st.Beep = beepFrames
		} else {
			m.point(1)
		}
	case b.X >= Width-3:
		if m.hits(1) {
			b.X = Width - 4
			b.VX = -m.returnSpeed(1)
			st.Beep = beepFrames
		} else {
			m.point(0)
		}
	}
}

func (m *Machine) hits(player int) bool {
	y := m.st.Ball.Y
	p := m.st.Paddles[player].Y
	return y >= p && y < p+paddleHeight
}

func (m *Machine) returnSpeed(player int) int16 {
	if m.st.Paddles[player].Boost > 0 {
		return 2
	}
	return 1
}

func (m *Machine) point(player int) {
	m.st.Score[player]++
	if m.st.Score[player] > m.best[player] {
		m.best[player] = m.st.Score[player]
	}
	m.serve(1 - player)
}

func (m *Machine) serve(toward int) {
	m.st.Ball = ball{X: Width / 2, Y: int16(m.next()%(Height-2)) + 1}
	if toward == 0 {
		m.st.Ball.VX = -1
	} else {
		m.st.Ball.VX = 1
	}
	if m.next()&1 == 0 {
		m.st.Ball.VY = 1
	} else {
		m.st.Ball.VY = -1
	}
}

// next is a xorshift32 step over the saved generator state.
func (m *Machine) next() uint32 {
	x := m.st.Rng
	x ^= x << 13
	x ^= x >> 17
	x ^= x << 5
	m.st.Rng = x
	return x
}

func (m *Machine) audio() Audio {
	out := make(Audio, SamplesPerFrame)
	if m.st.Beep == 0 {
		return out
	}
	const period = SampleRate / 880
	for i := range out {
		if (i/(period/2))%2 == 0 {
			out[i] = 4000
		} else {
			out[i] = -4000
		}
	}
	return out
}

func (m *Machine) video() Video {
	out := make(Video, Width*Height)
	for i := range m.st.Paddles {
		x := 1
		if i == 1 {
			x = Width - 2
		}
		for y := m.st.Paddles[i].Y; y < m.st.Paddles[i].Y+paddleHeight; y++ {
			out[int(y)*Width+x] = 0xff
		}
	}
	b := m.st.Ball
	if b.X >= 0 && b.X < Width && b.Y >= 0 && b.Y < Height {
		out[int(b.Y)*Width+int(b.X)] = 0xc0
	}
	for i, s := range m.st.Score {
		for k := 0; k < int(s) && k < Width/2-2; k++ {
			x := k + 1
			if i == 1 {
				x = Width - 2 - k
			}
			out[x] = 0x80
		}
	}
	return out
}

func clamp(v, lo, hi int16) int16 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
