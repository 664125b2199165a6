package main

import (
	"log/slog"
	"os"

	"golang.org/x/term"

	"netplay-engine/internal/config"
	"netplay-engine/internal/stats"
)

// newWriters sets up sample and transition writers from the stats config.
// Without a GreptimeDB endpoint, or with printOnly, rows go to STDOUT unless
// quiet is set because something else owns the terminal. extra writers are
// appended. The cleanup function closes any opened files.
func newWriters(cfg *config.Config, printOnly, quiet bool, log *slog.Logger, extra ...any) (stats.Writer, stats.TransitionWriter, func(), error) {
	cleanup := func() {}

	var ws []stats.Writer
	var tws []stats.TransitionWriter
	add := func(w any) {
		if sw, ok := w.(stats.Writer); ok {
			ws = append(ws, sw)
		}
		if tw, ok := w.(stats.TransitionWriter); ok {
			tws = append(tws, tw)
		}
	}

	base, err := baseWriter(cfg, printOnly, quiet, log)
	if err != nil {
		return nil, nil, nil, err
	}
	if base != nil {
		add(base)
	}
	if cfg.Stats.File != "" {
		fw, err := stats.NewFileWriter(cfg.Stats.File, cfg.Stats.File+stats.TransitionSuffix)
		if err != nil {
			return nil, nil, nil, err
		}
		cleanup = func() { fw.Close() }
		add(fw)
	}
	for _, w := range extra {
		add(w)
	}

	if len(ws) == 1 && len(tws) == 1 && any(ws[0]) == any(tws[0]) {
		return ws[0], tws[0], cleanup, nil
	}
	mw := stats.NewMultiWriter(ws, tws)
	return mw, mw, cleanup, nil
}

// baseWriter chooses GreptimeDB or STDOUT.
func baseWriter(cfg *config.Config, printOnly, quiet bool, log *slog.Logger) (any, error) {
	if printOnly || cfg.Stats.GreptimeEndpoint == "" {
		if quiet {
			return nil, nil
		}
		return stats.NewStdoutWriter(term.IsTerminal(int(os.Stdout.Fd()))), nil
	}
	return stats.NewGreptimeDBWriter(cfg.Stats.GreptimeEndpoint, cfg.Stats.Database, log)
}
