package stats

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	gpb "github.com/GreptimeTeam/greptime-proto/go/greptime/v1"
	"github.com/GreptimeTeam/greptimedb-ingester-go/table"

	"netplay-engine/internal/logging"
)

type collectWriter struct {
	rows        []Sample
	batches     int
	transitions []Transition
}

func (c *collectWriter) Write(s Sample) error {
	c.rows = append(c.rows, s)
	return nil
}

func (c *collectWriter) WriteTransition(t Transition) error {
	c.transitions = append(c.transitions, t)
	return nil
}

type batchCollector struct{ collectWriter }

func (b *batchCollector) WriteBatch(rows []Sample) error {
	b.batches++
	b.rows = append(b.rows, rows...)
	return nil
}

type failWriter struct{}

func (failWriter) Write(Sample) error { return errors.New("boom") }

func TestHistoryRing(t *testing.T) {
	var h History
	if _, ok := h.Latest(); ok {
		t.Fatalf("empty history has no latest sample")
	}
	for i := 0; i < HistoryLen+5; i++ {
		h.Write(Sample{Frame: int32(i)})
	}
	got := h.Samples()
	if len(got) != HistoryLen {
		t.Fatalf("len = %d, want %d", len(got), HistoryLen)
	}
	if got[0].Frame != 5 || got[HistoryLen-1].Frame != HistoryLen+4 {
		t.Fatalf("window = [%d, %d]", got[0].Frame, got[HistoryLen-1].Frame)
	}
	if latest, _ := h.Latest(); latest.Frame != HistoryLen+4 {
		t.Fatalf("Latest = %d", latest.Frame)
	}
	h.Reset()
	if len(h.Samples()) != 0 {
		t.Fatalf("Reset should drop samples")
	}
}

func TestFileWriter(t *testing.T) {
	dir := t.TempDir()
	samples := filepath.Join(dir, "stats.jsonl")
	transitions := filepath.Join(dir, "transitions.jsonl")
	fw, err := NewFileWriter(samples, transitions)
	if err != nil {
		t.Fatalf("NewFileWriter: %v", err)
	}
	ts := time.Unix(0, 0).UTC()
	if err := fw.WriteBatch([]Sample{{Frame: 30, PingMS: 12, Timestamp: ts}, {Frame: 60, Timestamp: ts}}); err != nil {
		t.Fatalf("WriteBatch: %v", err)
	}
	if err := fw.WriteTransition(Transition{From: "connecting", To: "connected", Timestamp: ts}); err != nil {
		t.Fatalf("WriteTransition: %v", err)
	}
	if err := fw.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	f, err := os.Open(samples)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	var frames []int32
	for sc.Scan() {
		var s Sample
		if err := json.Unmarshal(sc.Bytes(), &s); err != nil {
			t.Fatalf("decode sample: %v", err)
		}
		frames = append(frames, s.Frame)
	}
	if len(frames) != 2 || frames[0] != 30 || frames[1] != 60 {
		t.Fatalf("frames = %v", frames)
	}

	b, err := os.ReadFile(transitions)
	if err != nil {
		t.Fatalf("read transitions: %v", err)
	}
	var tr Transition
	if err := json.Unmarshal(b, &tr); err != nil || tr.To != "connected" {
		t.Fatalf("transition = %+v, %v", tr, err)
	}
}

func TestFileWriterWithoutTransitions(t *testing.T) {
	fw, err := NewFileWriter(filepath.Join(t.TempDir(), "s.jsonl"), "")
	if err != nil {
		t.Fatalf("NewFileWriter: %v", err)
	}
	defer fw.Close()
	if err := fw.WriteTransition(Transition{To: "failed"}); err != nil {
		t.Fatalf("disabled transition log should be a no-op: %v", err)
	}
}

func TestMultiWriter(t *testing.T) {
	plain := &collectWriter{}
	batch := &batchCollector{}
	mw := NewMultiWriter([]Writer{plain, batch}, []TransitionWriter{plain})

	if err := mw.WriteBatch([]Sample{{Frame: 1}, {Frame: 2}}); err != nil {
		t.Fatalf("WriteBatch: %v", err)
	}
	if len(plain.rows) != 2 || len(batch.rows) != 2 || batch.batches != 1 {
		t.Fatalf("plain %d rows, batch %d rows in %d batches", len(plain.rows), len(batch.rows), batch.batches)
	}
	if err := mw.WriteTransition(Transition{To: "resuming"}); err != nil {
		t.Fatalf("WriteTransition: %v", err)
	}
	if len(plain.transitions) != 1 {
		t.Fatalf("transition not forwarded")
	}

	mw = NewMultiWriter([]Writer{failWriter{}, plain}, nil)
	if err := mw.Write(Sample{}); err == nil {
		t.Fatalf("expected error from failing writer")
	}
}

func TestStdoutWriter(t *testing.T) {
	buf := &bytes.Buffer{}
	w := &StdoutWriter{out: buf}
	if err := w.Write(Sample{Frame: 90, PingMS: 20}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if !strings.HasPrefix(buf.String(), "{") {
		t.Fatalf("expected JSON output, got %q", buf.String())
	}

	buf.Reset()
	w.colorize = true
	w.Write(Sample{Frame: 90, PingMS: 200, Speed: 0.9})
	w.WriteTransition(Transition{From: "connected", To: "resuming", Detail: "lost peer"})
	out := buf.String()
	if !strings.Contains(out, "frame 90") || !strings.Contains(out, "resuming") || !strings.Contains(out, "lost peer") {
		t.Fatalf("unexpected output %q", out)
	}
}

type mockGreptimeClient struct {
	tables []*table.Table
}

func (m *mockGreptimeClient) Write(ctx context.Context, tables ...*table.Table) (*gpb.GreptimeResponse, error) {
	m.tables = append(m.tables, tables...)
	return &gpb.GreptimeResponse{}, nil
}

func TestGreptimeWriterSamples(t *testing.T) {
	m := &mockGreptimeClient{}
	w := &GreptimeDBWriter{client: m, sampleTable: DefaultSampleTable, transitionTable: DefaultTransitionTable, log: logging.Discard()}
	ts := time.Unix(10, 0).UTC()
	rows := []Sample{
		{Room: "join_ab12_f00d", Peer: "peer-0002", Frame: 30, PingMS: 42, Speed: 0.96, Timestamp: ts},
		{Room: "join_ab12_f00d", Peer: "peer-0002", Frame: 60, PingMS: 40, Speed: 1, Timestamp: ts.Add(time.Second)},
	}
	if err := w.WriteBatch(rows); err != nil {
		t.Fatalf("WriteBatch: %v", err)
	}
	if len(m.tables) != 1 {
		t.Fatalf("expected one table write, got %d", len(m.tables))
	}
	got := m.tables[0].GetRows()
	if len(got.Rows) != 2 {
		t.Fatalf("rows = %d, want 2", len(got.Rows))
	}
	if room := got.Rows[0].Values[0].GetStringValue(); room != "join_ab12_f00d" {
		t.Fatalf("room = %q", room)
	}
	if ping := got.Rows[0].Values[3].GetI64Value(); ping != 42 {
		t.Fatalf("ping_ms = %d, want 42", ping)
	}
	if got.Schema[9].Datatype != gpb.ColumnDataType_FLOAT64 {
		t.Fatalf("speed column type = %v", got.Schema[9].Datatype)
	}
	if err := w.WriteBatch(nil); err != nil || len(m.tables) != 1 {
		t.Fatalf("empty batch should not write")
	}
}

func TestGreptimeWriterTransition(t *testing.T) {
	m := &mockGreptimeClient{}
	w := &GreptimeDBWriter{client: m, sampleTable: DefaultSampleTable, transitionTable: DefaultTransitionTable, log: logging.Discard()}
	if err := w.WriteTransition(Transition{From: "connected", To: "resuming", Timestamp: time.Unix(0, 0)}); err != nil {
		t.Fatalf("WriteTransition: %v", err)
	}
	row := m.tables[0].GetRows().Rows[0]
	if row.Values[0].GetStringValue() != "resuming" || row.Values[1].GetStringValue() != "connected" {
		t.Fatalf("unexpected row %v", row)
	}
}

func TestReplayLog(t *testing.T) {
	rows := []Sample{
		{Peer: "a", Frame: 30, Timestamp: time.Unix(0, 0)},
		{Peer: "a", Frame: 60, Timestamp: time.Unix(1, 0)},
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, r := range rows {
		if err := enc.Encode(r); err != nil {
			t.Fatalf("encode: %v", err)
		}
	}
	cw := &collectWriter{}
	if err := ReplayLog(&buf, cw, cw, 0); err != nil {
		t.Fatalf("ReplayLog: %v", err)
	}
	if len(cw.rows) != 2 || cw.rows[1].Frame != 60 {
		t.Fatalf("replayed %+v", cw.rows)
	}
}

func TestReplayLogMixed(t *testing.T) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.Encode(Transition{From: "disconnected", To: "connecting", Timestamp: time.Unix(0, 0)})
	enc.Encode(Sample{Peer: "a", Frame: 30, Timestamp: time.Unix(1, 0)})
	enc.Encode(Transition{From: "connecting", To: "connected", Detail: "join_ab12_f00d", Timestamp: time.Unix(2, 0)})

	cw := &collectWriter{}
	if err := ReplayLog(&buf, cw, cw, 0); err != nil {
		t.Fatalf("ReplayLog: %v", err)
	}
	if len(cw.rows) != 1 || cw.rows[0].Frame != 30 {
		t.Fatalf("samples %+v", cw.rows)
	}
	if len(cw.transitions) != 2 || cw.transitions[1].To != "connected" || cw.transitions[1].Detail != "join_ab12_f00d" {
		t.Fatalf("transitions %+v", cw.transitions)
	}
}

// orderWriter records the kind of every entry it receives.
type orderWriter struct{ seen []string }

func (o *orderWriter) Write(s Sample) error {
	o.seen = append(o.seen, "sample")
	return nil
}

func (o *orderWriter) WriteTransition(t Transition) error {
	o.seen = append(o.seen, t.To)
	return nil
}

func TestReplayLogFileMergesTransitions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stats.jsonl")
	fw, err := NewFileWriter(path, path+TransitionSuffix)
	if err != nil {
		t.Fatalf("NewFileWriter: %v", err)
	}
	fw.WriteTransition(Transition{From: "disconnected", To: "connecting", Timestamp: time.Unix(0, 0)})
	fw.Write(Sample{Frame: 30, Timestamp: time.Unix(1, 0)})
	fw.WriteTransition(Transition{From: "connecting", To: "connected", Timestamp: time.Unix(2, 0)})
	fw.Write(Sample{Frame: 60, Timestamp: time.Unix(3, 0)})
	if err := fw.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	o := &orderWriter{}
	if err := ReplayLogFile(path, o, o, 0); err != nil {
		t.Fatalf("ReplayLogFile: %v", err)
	}
	want := []string{"connecting", "sample", "connected", "sample"}
	if strings.Join(o.seen, ",") != strings.Join(want, ",") {
		t.Fatalf("order = %v, want %v", o.seen, want)
	}

	// Without a transition writer only samples are replayed.
	cw := &collectWriter{}
	if err := ReplayLogFile(path, cw, nil, 0); err != nil {
		t.Fatalf("ReplayLogFile: %v", err)
	}
	if len(cw.rows) != 2 || len(cw.transitions) != 0 {
		t.Fatalf("rows %d transitions %d", len(cw.rows), len(cw.transitions))
	}
}

func TestReplayLogFileWithoutTransitions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stats.jsonl")
	fw, err := NewFileWriter(path, "")
	if err != nil {
		t.Fatalf("NewFileWriter: %v", err)
	}
	fw.Write(Sample{Frame: 30})
	fw.Close()

	cw := &collectWriter{}
	if err := ReplayLogFile(path, cw, cw, 0); err != nil {
		t.Fatalf("ReplayLogFile: %v", err)
	}
	if len(cw.rows) != 1 {
		t.Fatalf("rows %d", len(cw.rows))
	}
}
