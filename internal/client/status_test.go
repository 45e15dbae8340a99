package client

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"
)

func TestStatusRoutes(t *testing.T) {
	stats := NewStats()
	stats.FramesSent.Add(12)
	stats.AlertsFired.Add(3)

	s := NewStatusServer(stats, zap.NewNop())
	srv := httptest.NewServer(s.echo)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("/health returned %d", resp.StatusCode)
	}

	resp, err = http.Get(srv.URL + "/api/stats")
	if err != nil {
		t.Fatalf("GET /api/stats: %v", err)
	}
	defer resp.Body.Close()

	var snap Snapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		t.Fatalf("decoding stats: %v", err)
	}
	if snap.FramesSent != 12 || snap.AlertsFired != 3 {
		t.Errorf("stats payload mismatch: %+v", snap)
	}
}
