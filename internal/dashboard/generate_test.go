package dashboard

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestRenderMissingEnv(t *testing.T) {
	t.Setenv("GREPTIMEDB_DATASOURCE_UID", "")
	if err := Render(t.TempDir(), Default()); err == nil {
		t.Fatalf("expected error for missing env vars")
	}
}

func TestRenderSuccess(t *testing.T) {
	t.Setenv("GREPTIMEDB_DATASOURCE_UID", "uid1")

	dir := t.TempDir()
	if err := Render(dir, New("lab_stats", "lab_transitions")); err != nil {
		t.Fatalf("render failed: %v", err)
	}

	b, err := os.ReadFile(filepath.Join(dir, "grafana-dashboard.json"))
	if err != nil {
		t.Fatalf("read dashboard: %v", err)
	}
	if !strings.Contains(string(b), "uid1") {
		t.Fatalf("greptime uid not rendered")
	}
	var doc struct {
		Panels []struct {
			ID      int `json:"id"`
			GridPos struct {
				X int `json:"x"`
				Y int `json:"y"`
			} `json:"gridPos"`
			Targets []struct {
				RawSQL string `json:"rawSql"`
			} `json:"targets"`
		} `json:"panels"`
	}
	if err := json.Unmarshal(b, &doc); err != nil {
		t.Fatalf("dashboard is not valid JSON: %v", err)
	}
	if len(doc.Panels) != len(Default().Panels) {
		t.Fatalf("expected %d panels, got %d", len(Default().Panels), len(doc.Panels))
	}
	last := doc.Panels[len(doc.Panels)-1]
	if last.ID != len(doc.Panels) || last.GridPos.X != 0 || last.GridPos.Y != 24 {
		t.Fatalf("unexpected layout of last panel: %+v", last)
	}
	if !strings.Contains(last.Targets[0].RawSQL, "lab_transitions") {
		t.Fatalf("transition table not used: %s", last.Targets[0].RawSQL)
	}
	if !strings.Contains(doc.Panels[0].Targets[0].RawSQL, "FROM lab_stats") {
		t.Fatalf("sample table not used: %s", doc.Panels[0].Targets[0].RawSQL)
	}
}
