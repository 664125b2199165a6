package admin

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"netplay-engine/internal/logging"
	"netplay-engine/internal/netplay"
	"netplay-engine/internal/stats"
)

type fakeClient struct {
	cmds   []netplay.Command
	status netplay.Status
}

func (f *fakeClient) Do(c netplay.Command) (string, error) {
	switch c.Kind {
	case netplay.CmdHost:
		f.cmds = append(f.cmds, c)
		f.status.State = "connecting"
		return "C0DE", nil
	case netplay.CmdRetry:
		return "", fmt.Errorf("retry from %s: %w", f.status.State, netplay.ErrInvalidCommand)
	case netplay.CmdJoin:
		f.cmds = append(f.cmds, c)
		return c.Room, nil
	}
	return "", fmt.Errorf("unknown command %q", c.Kind)
}

func (f *fakeClient) Status() netplay.Status { return f.status }

func newTestServer() (*Server, *fakeClient) {
	c := &fakeClient{status: netplay.Status{State: "disconnected", Mapping: "unassigned", Speed: 1}}
	h := &stats.History{}
	h.Write(stats.Sample{Frame: 30, PingMS: 12})
	h.Write(stats.Sample{Frame: 60, PingMS: 80})
	return NewServer(c, h, logging.Discard()), c
}

func TestHandleStatus(t *testing.T) {
	server, _ := newTestServer()
	w := httptest.NewRecorder()
	server.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/status", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected status OK, got %v", w.Code)
	}
	var st netplay.Status
	if err := json.NewDecoder(w.Body).Decode(&st); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if st.State != "disconnected" || st.Mapping != "unassigned" {
		t.Fatalf("unexpected status %+v", st)
	}
}

func TestHandleCommandJSON(t *testing.T) {
	server, client := newTestServer()
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/command", strings.NewReader(`{"kind":"host"}`))
	req.Header.Set("Content-Type", "application/json")
	server.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status OK, got %v: %s", w.Code, w.Body)
	}
	var resp struct {
		Room   string         `json:"room"`
		Status netplay.Status `json:"status"`
	}
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if resp.Room != "C0DE" || resp.Status.State != "connecting" {
		t.Fatalf("unexpected response %+v", resp)
	}
	if len(client.cmds) != 1 || client.cmds[0].Kind != netplay.CmdHost {
		t.Fatalf("commands = %+v", client.cmds)
	}
}

func TestHandleCommandErrors(t *testing.T) {
	tests := []struct {
		body string
		code int
	}{
		{`{"kind":"retry"}`, http.StatusConflict},
		{`{"kind":"teleport"}`, http.StatusBadRequest},
		{`not json`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		server, _ := newTestServer()
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/command", strings.NewReader(tt.body))
		req.Header.Set("Content-Type", "application/json")
		server.Handler().ServeHTTP(w, req)
		if w.Code != tt.code {
			t.Fatalf("%s: expected %d, got %d", tt.body, tt.code, w.Code)
		}
		if !strings.Contains(w.Body.String(), "error") {
			t.Fatalf("%s: missing error body", tt.body)
		}
	}
}

func TestHandleCommandRejectsGet(t *testing.T) {
	server, _ := newTestServer()
	w := httptest.NewRecorder()
	server.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/command", nil))
	if w.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", w.Code)
	}
}

func TestHandleCommandForm(t *testing.T) {
	server, client := newTestServer()
	form := url.Values{"kind": {"join"}, "room": {"ab12"}}
	req := httptest.NewRequest(http.MethodPost, "/command", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	server.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusSeeOther {
		t.Fatalf("expected redirect, got %d", w.Code)
	}
	if len(client.cmds) != 1 || client.cmds[0].Room != "ab12" {
		t.Fatalf("commands = %+v", client.cmds)
	}
}

func TestHandleStats(t *testing.T) {
	server, _ := newTestServer()
	w := httptest.NewRecorder()
	server.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/stats", nil))
	var samples []stats.Sample
	if err := json.NewDecoder(w.Body).Decode(&samples); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if len(samples) != 2 || samples[1].PingMS != 80 {
		t.Fatalf("unexpected samples %+v", samples)
	}
}

func TestHandleIndex(t *testing.T) {
	server, _ := newTestServer()
	w := httptest.NewRecorder()
	server.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected status OK, got %v", w.Code)
	}
	body := w.Body.String()
	for _, want := range []string{"disconnected", "80ms", `value="host"`} {
		if !strings.Contains(body, want) {
			t.Fatalf("index missing %q", want)
		}
	}
	if strings.Index(body, "80ms") > strings.Index(body, "12ms") {
		t.Fatalf("newest sample should come first")
	}

	w = httptest.NewRecorder()
	server.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/nope", nil))
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}
