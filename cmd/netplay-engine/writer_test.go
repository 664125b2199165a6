package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"netplay-engine/internal/config"
	"netplay-engine/internal/logging"
	"netplay-engine/internal/stats"
)

type recorder struct {
	samples     []stats.Sample
	transitions []stats.Transition
}

func (r *recorder) Write(s stats.Sample) error {
	r.samples = append(r.samples, s)
	return nil
}

func (r *recorder) WriteTransition(t stats.Transition) error {
	r.transitions = append(r.transitions, t)
	return nil
}

func TestNewWritersPrintOnly(t *testing.T) {
	w, tw, cleanup, err := newWriters(config.Fallback(), true, false, logging.Discard())
	if err != nil {
		t.Fatalf("newWriters returned error: %v", err)
	}
	cleanup()
	if _, ok := w.(*stats.StdoutWriter); !ok {
		t.Fatalf("expected *stats.StdoutWriter, got %T", w)
	}
	if _, ok := tw.(*stats.StdoutWriter); !ok {
		t.Fatalf("expected *stats.StdoutWriter, got %T", tw)
	}
}

func TestNewWritersGreptimeFallback(t *testing.T) {
	cfg := config.Fallback()
	cfg.Stats.GreptimeEndpoint = ""
	w, _, cleanup, err := newWriters(cfg, false, false, logging.Discard())
	if err != nil {
		t.Fatalf("newWriters returned error: %v", err)
	}
	cleanup()
	if _, ok := w.(*stats.StdoutWriter); !ok {
		t.Fatalf("expected *stats.StdoutWriter, got %T", w)
	}
}

func TestNewWritersQuietWithExtra(t *testing.T) {
	rec := &recorder{}
	w, tw, cleanup, err := newWriters(config.Fallback(), true, true, logging.Discard(), rec)
	if err != nil {
		t.Fatalf("newWriters returned error: %v", err)
	}
	defer cleanup()
	if w != rec || tw != rec {
		t.Fatalf("expected the only writer to be used directly, got %T %T", w, tw)
	}
	w.Write(stats.Sample{Frame: 1})
	tw.WriteTransition(stats.Transition{To: "connecting"})
	if len(rec.samples) != 1 || len(rec.transitions) != 1 {
		t.Fatalf("extra writer got %d samples %d transitions", len(rec.samples), len(rec.transitions))
	}
}

func TestNewWritersLogFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stats.jsonl")
	cfg := config.Fallback()
	cfg.Stats.File = path
	w, tw, cleanup, err := newWriters(cfg, true, true, logging.Discard())
	if err != nil {
		t.Fatalf("newWriters returned error: %v", err)
	}
	if _, ok := w.(*stats.FileWriter); !ok {
		t.Fatalf("expected *stats.FileWriter, got %T", w)
	}
	if err := w.Write(stats.Sample{Room: "r", Frame: 30, Timestamp: time.Now()}); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	if err := tw.WriteTransition(stats.Transition{From: "disconnected", To: "connecting", Timestamp: time.Now()}); err != nil {
		t.Fatalf("write transition failed: %v", err)
	}
	cleanup()
	for _, p := range []string{path, path + ".transitions"} {
		info, err := os.Stat(p)
		if err != nil {
			t.Fatalf("stat failed: %v", err)
		}
		if info.Size() == 0 {
			t.Fatalf("expected %s to be non-empty", p)
		}
	}
}

func TestTurnOnResponse(t *testing.T) {
	path := filepath.Join("..", "..", "internal", "config", "testdata", "static.yaml")
	resp, err := turnOnResponse(path, "", "")
	if err != nil {
		t.Fatalf("turnOnResponse: %v", err)
	}
	if resp.Full == nil || resp.Full.Rollback.MaxPrediction != 7 {
		t.Fatalf("unexpected full response %+v", resp)
	}
	resp, err = turnOnResponse(path, "", "https://example.org/unlock")
	if err != nil {
		t.Fatalf("turnOnResponse: %v", err)
	}
	if resp.Basic == nil || resp.Basic.UnlockURL != "https://example.org/unlock" {
		t.Fatalf("unexpected basic response %+v", resp)
	}
	if _, err := turnOnResponse(filepath.Join("..", "..", "internal", "config", "testdata", "turn_on.yaml"), "", ""); err == nil ||
		!strings.Contains(err.Error(), "server.static") {
		t.Fatalf("expected static required error, got %v", err)
	}
}

func TestFindScenario(t *testing.T) {
	sc, err := findScenario("join-and-play", "AB12")
	if err != nil {
		t.Fatalf("findScenario: %v", err)
	}
	if sc.Phases[0].Command == nil || sc.Phases[0].Command.Room != "AB12" {
		t.Fatalf("room not applied: %+v", sc.Phases[0])
	}
	if _, err := findScenario(filepath.Join(t.TempDir(), "missing.yaml"), ""); err == nil {
		t.Fatalf("expected error for missing file")
	}
}
