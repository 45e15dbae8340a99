package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadClientDefaults(t *testing.T) {
	cfg, err := LoadClient()
	if err != nil {
		t.Fatalf("LoadClient failed: %v", err)
	}
	if cfg.ServerHost != "localhost" || cfg.ServerPort != 8765 {
		t.Errorf("unexpected server defaults: %s:%d", cfg.ServerHost, cfg.ServerPort)
	}
	if cfg.FrameSkip != 5 {
		t.Errorf("expected default frame skip 5, got %d", cfg.FrameSkip)
	}
	if cfg.MinElevatedSizeRatio != 0.3 {
		t.Errorf("expected default size ratio 0.3, got %v", cfg.MinElevatedSizeRatio)
	}
	if cfg.ElevatedRule != ElevatedRuleZoneAndSize {
		t.Errorf("expected canonical elevated rule, got %s", cfg.ElevatedRule)
	}
	if cfg.AlertCooldown != 30*time.Second {
		t.Errorf("expected default cooldown 30s, got %v", cfg.AlertCooldown)
	}
	if cfg.PingInterval != 30*time.Second {
		t.Errorf("expected default ping interval 30s, got %v", cfg.PingInterval)
	}
	if cfg.ServerURL() != "ws://localhost:8765/ws" {
		t.Errorf("unexpected server URL %s", cfg.ServerURL())
	}
}

func TestLoadClientOverrides(t *testing.T) {
	t.Setenv("SERVER_HOST", "detector.local")
	t.Setenv("SERVER_PORT", "9000")
	t.Setenv("FRAME_SKIP", "2")
	t.Setenv("ELEVATED_RULE", "size_only")
	t.Setenv("ALERT_COOLDOWN", "45s")
	t.Setenv("SNAPSHOT_ENABLED", "false")

	cfg, err := LoadClient()
	if err != nil {
		t.Fatalf("LoadClient failed: %v", err)
	}
	if cfg.ServerURL() != "ws://detector.local:9000/ws" {
		t.Errorf("unexpected server URL %s", cfg.ServerURL())
	}
	if cfg.FrameSkip != 2 {
		t.Errorf("expected frame skip 2, got %d", cfg.FrameSkip)
	}
	if cfg.ElevatedRule != ElevatedRuleSizeOnly {
		t.Errorf("expected size_only rule, got %s", cfg.ElevatedRule)
	}
	if cfg.AlertCooldown != 45*time.Second {
		t.Errorf("expected cooldown 45s, got %v", cfg.AlertCooldown)
	}
	if cfg.Snapshot.Enabled {
		t.Error("expected snapshots disabled")
	}
}

func TestLoadClientValidation(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"frame skip zero", "FRAME_SKIP", "0"},
		{"unknown rule", "ELEVATED_RULE", "vibes"},
		{"ratio above one", "MIN_ELEVATED_SIZE_RATIO", "1.5"},
		{"ratio negative", "MIN_ELEVATED_SIZE_RATIO", "-0.1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			if _, err := LoadClient(); err == nil {
				t.Errorf("expected validation error for %s=%s", tt.key, tt.value)
			}
		})
	}
}

func TestLoadServerDefaults(t *testing.T) {
	cfg, err := LoadServer()
	if err != nil {
		t.Fatalf("LoadServer failed: %v", err)
	}
	if cfg.Addr() != "0.0.0.0:8765" {
		t.Errorf("unexpected addr %s", cfg.Addr())
	}
	if cfg.ClassName != "dog" || cfg.ConfidenceThreshold != 0.5 {
		t.Errorf("unexpected detection defaults: %s %v", cfg.ClassName, cfg.ConfidenceThreshold)
	}
}

func TestLoadServerValidation(t *testing.T) {
	t.Setenv("CONFIDENCE_THRESHOLD", "2")
	if _, err := LoadServer(); err == nil {
		t.Error("expected validation error for out-of-range threshold")
	}
}

func TestLoadZones(t *testing.T) {
	path := filepath.Join(t.TempDir(), "zones.json")
	content := `{
  "table": {"name": "Dining Table", "enabled": false, "polygon": [[400,100],[600,100],[600,300],[400,300]]},
  "counter": {"name": "Kitchen Counter", "enabled": true, "polygon": [[100,100],[300,100],[300,300],[100,300]]}
}`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing zones file: %v", err)
	}

	zs, err := LoadZones(path)
	if err != nil {
		t.Fatalf("LoadZones failed: %v", err)
	}
	if len(zs) != 2 {
		t.Fatalf("expected 2 zones, got %d", len(zs))
	}
	// Sorted by id for stable iteration.
	if zs[0].ID != "counter" || zs[1].ID != "table" {
		t.Errorf("zones not sorted by id: %s, %s", zs[0].ID, zs[1].ID)
	}
	if zs[0].Name != "Kitchen Counter" || !zs[0].Enabled {
		t.Errorf("counter fields mismatch: %+v", zs[0])
	}
	if zs[1].Enabled {
		t.Error("table should be disabled")
	}
	if len(zs[0].Polygon) != 4 || zs[0].Polygon[0].X != 100 {
		t.Errorf("polygon not parsed: %+v", zs[0].Polygon)
	}
}

func TestLoadZonesErrors(t *testing.T) {
	if _, err := LoadZones(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Error("expected error for missing file")
	}

	path := filepath.Join(t.TempDir(), "zones.json")
	os.WriteFile(path, []byte(`{"bad": {"name": "x", "enabled": true, "polygon": [[0,0],[1,1]]}}`), 0o644)
	if _, err := LoadZones(path); err == nil {
		t.Error("expected validation error for two-point polygon")
	}

	os.WriteFile(path, []byte(`not json`), 0o644)
	if _, err := LoadZones(path); err == nil {
		t.Error("expected parse error for invalid JSON")
	}
}
