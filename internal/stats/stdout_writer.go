package stats

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/lipgloss"
)

var (
	pingGood = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	pingWarn = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
	pingBad  = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
	dim      = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

// StdoutWriter prints samples and transitions, either as JSON lines or as
// colored human-readable lines.
type StdoutWriter struct {
	out      io.Writer
	colorize bool
}

// NewStdoutWriter writes to os.Stdout.
func NewStdoutWriter(colorize bool) *StdoutWriter {
	return &StdoutWriter{out: os.Stdout, colorize: colorize}
}

// Write prints a single sample.
func (w *StdoutWriter) Write(s Sample) error {
	if !w.colorize {
		return json.NewEncoder(w.out).Encode(s)
	}
	_, err := fmt.Fprintf(w.out, "%s frame %-6d %s  queue %-3d ahead %-3d speed %.2f rollbacks %d\n",
		dim.Render(s.Timestamp.Format("15:04:05")), s.Frame, pingStyle(s.PingMS).Render(fmt.Sprintf("%4dms", s.PingMS)),
		s.SendQueue, s.FramesAhead, s.Speed, s.Rollbacks)
	return err
}

// WriteBatch prints multiple samples.
func (w *StdoutWriter) WriteBatch(rows []Sample) error {
	for _, r := range rows {
		if err := w.Write(r); err != nil {
			return err
		}
	}
	return nil
}

// WriteTransition prints a state transition.
func (w *StdoutWriter) WriteTransition(t Transition) error {
	if !w.colorize {
		return json.NewEncoder(w.out).Encode(t)
	}
	line := fmt.Sprintf("%s %s -> %s", dim.Render(t.Timestamp.Format("15:04:05")), t.From, lipgloss.NewStyle().Bold(true).Render(t.To))
	if t.Detail != "" {
		line += " " + dim.Render("("+t.Detail+")")
	}
	_, err := fmt.Fprintln(w.out, line)
	return err
}

func pingStyle(ms int64) lipgloss.Style {
	switch {
	case ms < 60:
		return pingGood
	case ms < 150:
		return pingWarn
	}
	return pingBad
}
