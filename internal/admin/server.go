// Package admin serves a small HTTP control panel for a running client.
package admin

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"html/template"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"time"

	"netplay-engine/internal/netplay"
	"netplay-engine/internal/stats"
)

// Controller is the part of the client the panel drives.
type Controller interface {
	Do(netplay.Command) (string, error)
	Status() netplay.Status
}

type Server struct {
	Client  Controller
	History *stats.History
	log     *slog.Logger
	tpl     *template.Template
	srv     *http.Server
}

//go:embed templates/index.html
var content embed.FS

func NewServer(client Controller, history *stats.History, log *slog.Logger) *Server {
	tpl := template.Must(template.New("index.html").ParseFS(content, "templates/index.html"))
	if history == nil {
		history = &stats.History{}
	}
	return &Server{Client: client, History: history, log: log, tpl: tpl}
}

// Handler returns the panel's routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleIndex)
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/command", s.handleCommand)
	mux.HandleFunc("/stats", s.handleStats)
	return mux
}

// Start serves until ctx is done.
func (s *Server) Start(ctx context.Context, addr string) error {
	s.srv = &http.Server{Addr: addr, Handler: s.Handler(), ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdown, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = s.srv.Shutdown(shutdown)
	}()
	s.log.Info("admin panel listening", "addr", addr)
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	samples := s.History.Samples()
	slices.Reverse(samples)
	data := struct {
		Status  netplay.Status
		Samples []stats.Sample
	}{
		Status:  s.Client.Status(),
		Samples: samples,
	}
	if err := s.tpl.Execute(w, data); err != nil {
		s.log.Warn("render index", "err", err)
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Client.Status())
}

// handleCommand accepts a JSON command or a form post from the index page.
func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var c netplay.Command
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		if err := json.NewDecoder(r.Body).Decode(&c); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
			return
		}
	} else {
		c = netplay.Command{Kind: netplay.CommandKind(r.FormValue("kind")), Room: r.FormValue("room")}
	}
	room, err := s.Client.Do(c)
	if err != nil {
		code := http.StatusBadRequest
		if errors.Is(err, netplay.ErrInvalidCommand) {
			code = http.StatusConflict
		}
		writeJSON(w, code, map[string]any{"error": err.Error()})
		return
	}
	s.log.Info("admin command", "kind", c.Kind, "room", room)
	if r.Header.Get("Content-Type") == "application/x-www-form-urlencoded" {
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"room": room, "status": s.Client.Status()})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.History.Samples())
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
