// Package scenario scripts a headless client: which buttons it holds and
// which netplay commands it issues, phase by phase.
package scenario

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"netplay-engine/internal/machine"
	"netplay-engine/internal/netplay"
)

// Scenario is an ordered list of phases. The first phase is entered at start.
type Scenario struct {
	Name        string  `yaml:"name,omitempty"`
	Description string  `yaml:"description,omitempty"`
	Phases      []Phase `yaml:"phases"`
}

// Phase holds buttons down and may issue one command when entered.
type Phase struct {
	Name        string           `yaml:"name"`
	Description string           `yaml:"description,omitempty"`
	Buttons     []string         `yaml:"buttons,omitempty"`
	Command     *netplay.Command `yaml:"command,omitempty"`
	Triggers    []Trigger        `yaml:"triggers,omitempty"`
}

// Trigger moves the scenario to another phase. Event is "frames", fired once
// Value ticks were spent in the phase, or "state", fired when the client
// enters State.
type Trigger struct {
	Event string `yaml:"event"`
	Value int    `yaml:"value,omitempty"`
	State string `yaml:"state,omitempty"`
	Next  string `yaml:"next"`
}

// Event is what happened during one tick.
type Event struct {
	Type  string
	Value int
	State string
}

var buttonBits = map[string]byte{
	"up":     machine.ButtonUp,
	"down":   machine.ButtonDown,
	"left":   machine.ButtonLeft,
	"right":  machine.ButtonRight,
	"a":      machine.ButtonA,
	"b":      machine.ButtonB,
	"start":  machine.ButtonStart,
	"select": machine.ButtonSelect,
}

// ParseButtons turns button names into an input packet.
func ParseButtons(names []string) (byte, error) {
	var in byte
	for _, n := range names {
		bit, ok := buttonBits[n]
		if !ok {
			return 0, fmt.Errorf("unknown button %q", n)
		}
		in |= bit
	}
	return in, nil
}

// Load reads a YAML scenario definition from disk.
func Load(path string) (*Scenario, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario: %w", err)
	}
	var s Scenario
	if err := yaml.Unmarshal(b, &s); err != nil {
		return nil, fmt.Errorf("parse scenario: %w", err)
	}
	if err := s.Check(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Check reports unknown buttons and triggers pointing at missing phases.
func (s *Scenario) Check() error {
	if len(s.Phases) == 0 {
		return fmt.Errorf("scenario %q has no phases", s.Name)
	}
	names := make(map[string]bool, len(s.Phases))
	for _, p := range s.Phases {
		names[p.Name] = true
	}
	for _, p := range s.Phases {
		if _, err := ParseButtons(p.Buttons); err != nil {
			return fmt.Errorf("phase %s: %w", p.Name, err)
		}
		for _, tr := range p.Triggers {
			if !names[tr.Next] {
				return fmt.Errorf("phase %s: trigger to unknown phase %q", p.Name, tr.Next)
			}
		}
	}
	return nil
}

// NextPhase returns the name of the next phase given the current phase and event.
// If no trigger matches, ok will be false.
func (s *Scenario) NextPhase(current string, ev Event) (next string, ok bool) {
	for _, p := range s.Phases {
		if p.Name != current {
			continue
		}
		for _, tr := range p.Triggers {
			if tr.Event != ev.Type {
				continue
			}
			switch ev.Type {
			case "frames":
				if ev.Value >= tr.Value {
					return tr.Next, true
				}
			case "state":
				if ev.State == tr.State {
					return tr.Next, true
				}
			}
		}
	}
	return "", false
}

func (s *Scenario) phase(name string) (Phase, bool) {
	for _, p := range s.Phases {
		if p.Name == name {
			return p, true
		}
	}
	return Phase{}, false
}
