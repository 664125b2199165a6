package stats

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strconv"

	gpb "github.com/GreptimeTeam/greptime-proto/go/greptime/v1"
	greptime "github.com/GreptimeTeam/greptimedb-ingester-go"
	"github.com/GreptimeTeam/greptimedb-ingester-go/table"
	"github.com/GreptimeTeam/greptimedb-ingester-go/table/types"
)

const (
	DefaultSampleTable     = "netplay_stats"
	DefaultTransitionTable = "netplay_transitions"
	defaultGreptimePort    = 4001
)

type greptimeClient interface {
	Write(ctx context.Context, tables ...*table.Table) (*gpb.GreptimeResponse, error)
}

// GreptimeDBWriter writes samples and transitions to GreptimeDB via the
// ingester client. Tables are created on first write.
type GreptimeDBWriter struct {
	client          greptimeClient
	sampleTable     string
	transitionTable string
	log             *slog.Logger
}

// NewGreptimeDBWriter connects to endpoint ("host" or "host:port").
func NewGreptimeDBWriter(endpoint, database string, log *slog.Logger) (*GreptimeDBWriter, error) {
	host, port := endpoint, defaultGreptimePort
	if h, p, err := net.SplitHostPort(endpoint); err == nil {
		n, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("greptime port %q: %w", p, err)
		}
		host, port = h, n
	}
	cfg := greptime.NewConfig(host).WithPort(port).WithDatabase(database)
	client, err := greptime.NewClient(cfg)
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = slog.Default()
	}
	return &GreptimeDBWriter{
		client:          client,
		sampleTable:     DefaultSampleTable,
		transitionTable: DefaultTransitionTable,
		log:             log,
	}, nil
}

// Write inserts a single sample.
func (w *GreptimeDBWriter) Write(s Sample) error {
	return w.WriteBatch([]Sample{s})
}

// WriteBatch inserts multiple samples.
func (w *GreptimeDBWriter) WriteBatch(rows []Sample) error {
	if len(rows) == 0 {
		return nil
	}
	tbl, err := table.New(w.sampleTable)
	if err != nil {
		return err
	}
	cols := []struct {
		name string
		typ  types.ColumnType
		tag  bool
	}{
		{"room", types.STRING, true},
		{"peer", types.STRING, true},
		{"frame", types.INT64, false},
		{"ping_ms", types.INT64, false},
		{"send_queue", types.INT64, false},
		{"kbps_sent", types.INT64, false},
		{"local_frames_behind", types.INT64, false},
		{"remote_frames_behind", types.INT64, false},
		{"frames_ahead", types.INT64, false},
		{"speed", types.FLOAT64, false},
		{"rollbacks", types.INT64, false},
	}
	for _, c := range cols {
		if c.tag {
			err = tbl.AddTagColumn(c.name, c.typ)
		} else {
			err = tbl.AddFieldColumn(c.name, c.typ)
		}
		if err != nil {
			return err
		}
	}
	if err := tbl.AddTimestampColumn("ts", types.TIMESTAMP_MILLISECOND); err != nil {
		return err
	}

	for _, r := range rows {
		err := tbl.AddRow(r.Room, r.Peer, int64(r.Frame), r.PingMS, int64(r.SendQueue), int64(r.KbpsSent),
			int64(r.LocalFramesBehind), int64(r.RemoteFramesBehind), int64(r.FramesAhead),
			float64(r.Speed), int64(r.Rollbacks), r.Timestamp)
		if err != nil {
			return err
		}
	}
	return w.write(tbl, len(rows))
}

// WriteTransition inserts a state transition.
func (w *GreptimeDBWriter) WriteTransition(t Transition) error {
	tbl, err := table.New(w.transitionTable)
	if err != nil {
		return err
	}
	if err := tbl.AddTagColumn("to_state", types.STRING); err != nil {
		return err
	}
	if err := tbl.AddFieldColumn("from_state", types.STRING); err != nil {
		return err
	}
	if err := tbl.AddFieldColumn("detail", types.STRING); err != nil {
		return err
	}
	if err := tbl.AddTimestampColumn("ts", types.TIMESTAMP_MILLISECOND); err != nil {
		return err
	}
	if err := tbl.AddRow(t.To, t.From, t.Detail, t.Timestamp); err != nil {
		return err
	}
	return w.write(tbl, 1)
}

func (w *GreptimeDBWriter) write(tbl *table.Table, n int) error {
	if _, err := w.client.Write(context.Background(), tbl); err != nil {
		w.log.Error("greptime write failed", "rows", n, "err", err)
		return err
	}
	w.log.Debug("greptime write", "rows", n)
	return nil
}
