// Package tui is the interactive terminal front end of a netplay client.
package tui

import (
	"fmt"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"netplay-engine/internal/machine"
	"netplay-engine/internal/netplay"
	"netplay-engine/internal/stats"
)

// teaProgram abstracts bubbletea.Program for testing.
type teaProgram interface {
	Send(tea.Msg)
}

// Controller is the part of the client the UI drives.
type Controller interface {
	Do(netplay.Command) (string, error)
	Status() netplay.Status
}

type statusMsg struct{ netplay.Status }
type sampleMsg struct{ stats.Sample }
type transitionMsg struct{ stats.Transition }
type logMsg struct{ line string }

// holdFor is how long a key press keeps its button down. Terminals report
// presses, not releases.
const holdFor = 150 * time.Millisecond

// keys holds the buttons pressed recently.
type keys struct {
	mu    sync.Mutex
	now   func() time.Time
	since map[byte]time.Time
}

func newKeys() *keys {
	return &keys{now: time.Now, since: make(map[byte]time.Time)}
}

func (k *keys) press(bit byte) {
	k.mu.Lock()
	k.since[bit] = k.now()
	k.mu.Unlock()
}

func (k *keys) held() byte {
	k.mu.Lock()
	defer k.mu.Unlock()
	now := k.now()
	var in byte
	for bit, at := range k.since {
		if now.Sub(at) < holdFor {
			in |= bit
		}
	}
	return in
}

var keyButtons = map[string]byte{
	"up":    machine.ButtonUp,
	"w":     machine.ButtonUp,
	"down":  machine.ButtonDown,
	"s":     machine.ButtonDown,
	"left":  machine.ButtonLeft,
	"right": machine.ButtonRight,
	" ":     machine.ButtonA,
	"enter": machine.ButtonStart,
}

// UI renders client status and forwards key presses as commands and inputs.
// Messages sent before Start are dropped.
type UI struct {
	title   string
	program teaProgram
	keys    *keys
	done    chan struct{}
}

// New prepares a UI. Start shows it.
func New(title string) *UI {
	return &UI{title: title, keys: newKeys(), done: make(chan struct{})}
}

// Start runs a bubbletea program on the alternate screen driving ctrl.
// It must be called once, before the UI is written to from other goroutines.
func (u *UI) Start(ctrl Controller) {
	p := tea.NewProgram(newModel(ctrl, u.keys, u.title), tea.WithAltScreen())
	u.program = p
	go func() {
		_, _ = p.Run()
		close(u.done)
	}()
}

func (u *UI) send(msg tea.Msg) {
	if u.program != nil {
		u.program.Send(msg)
	}
}

// Inputs implements netplay.InputSource with the keys held down.
func (u *UI) Inputs(uint32) [2]byte { return [2]byte{u.keys.held()} }

// Write implements stats.Writer.
func (u *UI) Write(s stats.Sample) error {
	u.send(sampleMsg{s})
	return nil
}

// WriteTransition implements stats.TransitionWriter.
func (u *UI) WriteTransition(t stats.Transition) error {
	u.send(transitionMsg{t})
	return nil
}

// SetStatus refreshes the status panel.
func (u *UI) SetStatus(st netplay.Status) {
	u.send(statusMsg{st})
}

// Logf appends a line to the event log.
func (u *UI) Logf(format string, args ...any) {
	u.send(logMsg{line: fmt.Sprintf(format, args...)})
}

// Done is closed when the user quits.
func (u *UI) Done() <-chan struct{} { return u.done }

// Close stops the program and waits for it to restore the terminal.
func (u *UI) Close() error {
	if u.program == nil {
		return nil
	}
	u.program.Send(tea.Quit())
	<-u.done
	return nil
}
