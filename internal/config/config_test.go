package config

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"
)

func TestLoadConfig_Static(t *testing.T) {
	cfg, err := Load("testdata/static.yaml", "")
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}
	s := cfg.Server.Static
	if s == nil {
		t.Fatalf("expected static server configuration")
	}
	if s.Signaling.Server != "ws://localhost:3536" {
		t.Errorf("signaling server = %q", s.Signaling.Server)
	}
	if s.Rollback.MaxPrediction != 7 || s.Rollback.InputDelay != 2 {
		t.Errorf("unexpected rollback config %+v", s.Rollback)
	}
	if s.Signaling.ICE.Credentials == nil || s.Signaling.ICE.Credentials.Username != "player" {
		t.Errorf("expected ICE credentials, got %+v", s.Signaling.ICE.Credentials)
	}
	if cfg.FPS != 60 || cfg.Players != DefaultPlayers {
		t.Errorf("unexpected defaults fps=%d players=%d", cfg.FPS, cfg.Players)
	}
	if cfg.Stats.Interval != 2*time.Second {
		t.Errorf("stats interval = %v, want 2s", cfg.Stats.Interval)
	}
}

func TestLoadConfig_TurnOn(t *testing.T) {
	cfg, err := Load("testdata/turn_on.yaml", "")
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}
	if cfg.Server.TurnOn == nil || cfg.Server.TurnOn.NetplayID != "client-42" {
		t.Fatalf("unexpected turn_on config %+v", cfg.Server.TurnOn)
	}
}

func TestLoadConfig_Invalid(t *testing.T) {
	if _, err := Load("testdata/invalid.yaml", ""); err == nil {
		t.Fatalf("expected schema validation error")
	}
}

func TestLoadConfig_CustomSchema(t *testing.T) {
	dir := t.TempDir()
	schema := filepath.Join(dir, "strict.cue")
	if err := os.WriteFile(schema, []byte(builtinSchema+"\n#Config: fps: 30\n"), 0o644); err != nil {
		t.Fatalf("write schema: %v", err)
	}
	if _, err := Load("testdata/static.yaml", schema); err == nil {
		t.Fatalf("expected fps 60 to violate the custom schema")
	}
}

func TestParse_GeneratesNetplayID(t *testing.T) {
	cfg, err := Parse([]byte("server:\n  turn_on:\n    url: https://x.example\n"))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Server.TurnOn.NetplayID == "" {
		t.Fatalf("expected a generated netplay id")
	}
}

func TestParse_MissingServer(t *testing.T) {
	if _, err := Parse([]byte("fps: 60\n")); err == nil {
		t.Fatalf("expected error for missing server")
	}
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("NETPLAY_SIGNALING_URL", "ws://override:1")
	t.Setenv("GREPTIMEDB_ENDPOINT", "greptime:4001")
	cfg, err := Load("testdata/static.yaml", "")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Static.Signaling.Server != "ws://override:1" {
		t.Errorf("signaling server = %q", cfg.Server.Static.Signaling.Server)
	}
	if cfg.Stats.GreptimeEndpoint != "greptime:4001" {
		t.Errorf("greptime endpoint = %q", cfg.Stats.GreptimeEndpoint)
	}
}

func TestFallback(t *testing.T) {
	cfg := Fallback()
	s := cfg.Server.Static
	if err := s.Check(); err != nil {
		t.Fatalf("fallback should be valid: %v", err)
	}
	if s.Signaling.Server != "ws://localhost:3536" {
		t.Errorf("fallback signaling server = %q, want the local relay", s.Signaling.Server)
	}
	if s.Rollback.MaxPrediction != 12 || s.Rollback.InputDelay != 2 {
		t.Errorf("unexpected fallback rollback %+v", s.Rollback)
	}
	if len(s.Signaling.ICE.URLs) != 2 {
		t.Errorf("expected two STUN servers, got %v", s.Signaling.ICE.URLs)
	}
}

func TestStaticClone(t *testing.T) {
	s := FallbackStatic()
	s.Signaling.ICE.Credentials = &Credentials{Username: "u", Password: "p"}
	c := s.Clone()
	c.Signaling.ICE.URLs[0] = "changed"
	c.Signaling.ICE.Credentials.Username = "changed"
	if s.Signaling.ICE.URLs[0] == "changed" || s.Signaling.ICE.Credentials.Username == "changed" {
		t.Fatalf("clone shares memory with the original")
	}
}

func fastFetcher() *Fetcher {
	return &Fetcher{Client: http.DefaultClient, Attempts: 3, Cooldown: 10 * time.Millisecond}
}

func TestFetch_Basic(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/conf/client-1" {
			http.NotFound(w, r)
			return
		}
		json.NewEncoder(w).Encode(TurnOnResponse{Basic: &BasicResponse{
			UnlockURL: "https://unlock.example",
			Conf:      *FallbackStatic(),
		}})
	}))
	defer srv.Close()

	s, err := fastFetcher().Fetch(context.Background(), TurnOn{URL: srv.URL + "/conf", NetplayID: "client-1"})
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if s.UnlockURL != "https://unlock.example" {
		t.Errorf("unlock url = %q", s.UnlockURL)
	}
	if s.Signaling.Server != "ws://localhost:3536" {
		t.Errorf("fallback signaling server = %q, want the local relay", s.Signaling.Server)
	}
	if s.Rollback.MaxPrediction != 12 {
		t.Errorf("max prediction = %d", s.Rollback.MaxPrediction)
	}
}

func TestFetch_FullAfterRetry(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		full := FallbackStatic()
		full.Rollback.MaxPrediction = 8
		json.NewEncoder(w).Encode(TurnOnResponse{Full: full})
	}))
	defer srv.Close()

	s, err := fastFetcher().Fetch(context.Background(), TurnOn{URL: srv.URL, NetplayID: "id"})
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if s.Rollback.MaxPrediction != 8 {
		t.Errorf("max prediction = %d, want 8", s.Rollback.MaxPrediction)
	}
	if got := calls.Load(); got != 3 {
		t.Errorf("calls = %d, want 3", got)
	}
}

func TestFetch_Exhausted(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "down", http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := fastFetcher().Fetch(context.Background(), TurnOn{URL: srv.URL, NetplayID: "id"})
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
	if got := calls.Load(); got != 3 {
		t.Errorf("calls = %d, want 3", got)
	}
}

func TestFetch_Cancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusInternalServerError)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	f := &Fetcher{Client: http.DefaultClient, Attempts: 3, Cooldown: time.Hour}
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()
	if _, err := f.Fetch(ctx, TurnOn{URL: srv.URL, NetplayID: "id"}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestResolve_Static(t *testing.T) {
	in := FallbackStatic()
	out, err := Resolve(context.Background(), Server{Static: in}, nil)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if out == in {
		t.Fatalf("Resolve should return a copy")
	}
}
