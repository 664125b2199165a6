package scenario

import (
	"sync"

	"netplay-engine/internal/netplay"
)

// Player walks a scenario while a client runs. It is a netplay.InputSource;
// Observe is called after each tick with the client's state.
type Player struct {
	s *Scenario

	mu      sync.Mutex
	current Phase
	input   byte
	elapsed int
	entered bool
	done    bool
}

// NewPlayer starts s at its first phase. s must have passed Check.
func NewPlayer(s *Scenario) *Player {
	p := &Player{s: s}
	p.enter(s.Phases[0])
	return p
}

func (p *Player) enter(ph Phase) {
	p.current = ph
	p.input, _ = ParseButtons(ph.Buttons)
	p.elapsed = 0
	p.entered = true
}

// Phase is the name of the current phase.
func (p *Player) Phase() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current.Name
}

// Done reports whether the current phase has no way out.
func (p *Player) Done() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.done
}

// Inputs holds the phase's buttons for the local player.
func (p *Player) Inputs(uint32) [2]byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return [2]byte{p.input}
}

// Observe advances the scenario by one tick. It returns the command of a
// phase entered since the last call.
func (p *Player) Observe(state string) (netplay.Command, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.elapsed++
	for _, ev := range []Event{{Type: "state", State: state}, {Type: "frames", Value: p.elapsed}} {
		if next, ok := p.s.NextPhase(p.current.Name, ev); ok {
			if ph, ok := p.s.phase(next); ok {
				p.enter(ph)
			}
			break
		}
	}
	p.done = len(p.current.Triggers) == 0
	if !p.entered {
		return netplay.Command{}, false
	}
	p.entered = false
	if p.current.Command == nil {
		return netplay.Command{}, false
	}
	return *p.current.Command, true
}
