package client

import (
	"sync"
	"sync/atomic"
	"time"
)

// latencyWindow bounds the rolling latency sample kept for reporting.
const latencyWindow = 100

// Stats is the explicit session state object: all counters live here, owned
// by the session, queried through Snapshot. Nothing is shared through
// globals.
type Stats struct {
	FramesCaptured     atomic.Uint64
	FramesSent         atomic.Uint64
	DetectionsReceived atomic.Uint64
	ElevatedCount      atomic.Uint64
	AlertsFired        atomic.Uint64
	CaptureErrors      atomic.Uint64
	DecodeErrors       atomic.Uint64
	ServerErrors       atomic.Uint64
	InflightEvicted    atomic.Uint64
	PongsReceived      atomic.Uint64

	mu        sync.Mutex
	latencies []time.Duration
	start     time.Time
}

// NewStats creates a stats object with the uptime clock started.
func NewStats() *Stats {
	return &Stats{start: time.Now()}
}

// ObserveLatency records one round-trip latency sample, keeping only the
// most recent window.
func (s *Stats) ObserveLatency(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.latencies = append(s.latencies, d)
	if len(s.latencies) > latencyWindow {
		s.latencies = s.latencies[len(s.latencies)-latencyWindow:]
	}
}

// LastLatency returns the most recent latency sample.
func (s *Stats) LastLatency() (time.Duration, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.latencies) == 0 {
		return 0, false
	}
	return s.latencies[len(s.latencies)-1], true
}

// Snapshot is the JSON-facing view of the session state.
type Snapshot struct {
	FramesCaptured     uint64  `json:"frames_captured"`
	FramesSent         uint64  `json:"frames_sent"`
	DetectionsReceived uint64  `json:"detections_received"`
	ElevatedCount      uint64  `json:"elevated_count"`
	AlertsFired        uint64  `json:"alerts_fired"`
	CaptureErrors      uint64  `json:"capture_errors"`
	DecodeErrors       uint64  `json:"decode_errors"`
	ServerErrors       uint64  `json:"server_errors"`
	InflightEvicted    uint64  `json:"inflight_evicted"`
	PongsReceived      uint64  `json:"pongs_received"`
	AvgLatencyMs       float64 `json:"avg_latency_ms"`
	MinLatencyMs       float64 `json:"min_latency_ms"`
	MaxLatencyMs       float64 `json:"max_latency_ms"`
	UptimeSeconds      float64 `json:"uptime_seconds"`
}

// Snapshot returns a point-in-time copy of all counters.
func (s *Stats) Snapshot() Snapshot {
	snap := Snapshot{
		FramesCaptured:     s.FramesCaptured.Load(),
		FramesSent:         s.FramesSent.Load(),
		DetectionsReceived: s.DetectionsReceived.Load(),
		ElevatedCount:      s.ElevatedCount.Load(),
		AlertsFired:        s.AlertsFired.Load(),
		CaptureErrors:      s.CaptureErrors.Load(),
		DecodeErrors:       s.DecodeErrors.Load(),
		ServerErrors:       s.ServerErrors.Load(),
		InflightEvicted:    s.InflightEvicted.Load(),
		PongsReceived:      s.PongsReceived.Load(),
		UptimeSeconds:      time.Since(s.start).Seconds(),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.latencies) == 0 {
		return snap
	}

	min, max := s.latencies[0], s.latencies[0]
	var total time.Duration
	for _, d := range s.latencies {
		total += d
		if d < min {
			min = d
		}
		if d > max {
			max = d
		}
	}
	snap.AvgLatencyMs = float64(total.Microseconds()) / float64(len(s.latencies)) / 1000
	snap.MinLatencyMs = float64(min.Microseconds()) / 1000
	snap.MaxLatencyMs = float64(max.Microseconds()) / 1000
	return snap
}
