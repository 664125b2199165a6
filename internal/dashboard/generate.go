// Package dashboard renders Grafana dashboards over the tables written by
// the GreptimeDB stats writer.
package dashboard

import (
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/template"

	"netplay-engine/internal/stats"
)

//go:embed templates/*.tmpl
var templates embed.FS

// Panel is one graph or table of the dashboard.
type Panel struct {
	Title string
	Type  string
	Unit  string
	SQL   string
}

// Dashboard is the data a template renders.
type Dashboard struct {
	Title           string
	SampleTable     string
	TransitionTable string
	Panels          []Panel
}

// Default returns the dashboard for the default table names.
func Default() Dashboard {
	return New(stats.DefaultSampleTable, stats.DefaultTransitionTable)
}

// New builds the panels for the given sample and transition tables.
func New(sampleTable, transitionTable string) Dashboard {
	series := func(col string) string {
		return fmt.Sprintf("SELECT ts AS time, room, %s FROM %s WHERE room IN ($room) AND $__timeFilter(ts) ORDER BY ts", col, sampleTable)
	}
	return Dashboard{
		Title:           "Netplay sessions",
		SampleTable:     sampleTable,
		TransitionTable: transitionTable,
		Panels: []Panel{
			{Title: "Ping", Type: "timeseries", Unit: "ms", SQL: series("ping_ms")},
			{Title: "Frames ahead", Type: "timeseries", Unit: "none", SQL: series("frames_ahead")},
			{Title: "Speed", Type: "timeseries", Unit: "percentunit", SQL: series("speed")},
			{Title: "Rollbacks", Type: "timeseries", Unit: "none", SQL: series("rollbacks")},
			{Title: "Bandwidth", Type: "timeseries", Unit: "Kbits", SQL: series("kbps_sent")},
			{Title: "Send queue", Type: "timeseries", Unit: "none", SQL: series("send_queue")},
			{
				Title: "State transitions",
				Type:  "table",
				Unit:  "none",
				SQL:   fmt.Sprintf("SELECT ts, from_state, to_state, detail FROM %s WHERE $__timeFilter(ts) ORDER BY ts DESC LIMIT 100", transitionTable),
			},
		},
	}
}

var funcMap = template.FuncMap{
	"env": func(key string) (string, error) {
		v := os.Getenv(key)
		if v == "" {
			return "", fmt.Errorf("environment variable %s not set", key)
		}
		return v, nil
	},
	"add": func(a, b int) int { return a + b },
	"mul": func(a, b int) int { return a * b },
	"div": func(a, b int) int { return a / b },
	"mod": func(a, b int) int { return a % b },
}

// Render writes every dashboard template, rendered with d, to outDir.
func Render(outDir string, d Dashboard) error {
	t, err := template.New("").Funcs(funcMap).ParseFS(templates, "templates/*.tmpl")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return err
	}
	for _, tpl := range t.Templates() {
		name := tpl.Name()
		if !strings.HasSuffix(name, ".tmpl") {
			continue
		}
		outPath := filepath.Join(outDir, strings.TrimSuffix(name, ".tmpl"))
		f, err := os.Create(outPath)
		if err != nil {
			return err
		}
		if err := tpl.Execute(f, d); err != nil {
			f.Close()
			return err
		}
		if err := f.Close(); err != nil {
			return err
		}
	}
	return nil
}
