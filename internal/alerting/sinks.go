package alerting

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/counterwatch/counterwatch/internal/protocol"
)

// Alert is the payload handed to every sink when an alert fires.
type Alert struct {
	FrameID   uint64         `json:"frame_id"`
	Time      time.Time      `json:"time"`
	ZoneIDs   []string       `json:"zone_ids"`
	ZoneNames []string       `json:"zone_names"`
	Boxes     []protocol.Box `json:"boxes"`

	// FrameJPEG is a copy of the triggering frame's compressed bytes.
	FrameJPEG   []byte `json:"-"`
	FrameWidth  int    `json:"frame_width"`
	FrameHeight int    `json:"frame_height"`
}

// Sink delivers a fired alert to one destination. Sinks are independent:
// one sink failing must not block the others.
type Sink interface {
	Name() string
	Fire(alert Alert) error
}

// SnapshotSink writes the triggering frame and a JSON metadata sidecar to a
// directory, pruning the oldest snapshots beyond the retention cap.
type SnapshotSink struct {
	dir       string
	retention int
}

// NewSnapshotSink creates the snapshot directory if needed.
func NewSnapshotSink(dir string, retention int) (*SnapshotSink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create snapshot dir %s: %w", dir, err)
	}
	return &SnapshotSink{dir: dir, retention: retention}, nil
}

func (s *SnapshotSink) Name() string { return "snapshot" }

func (s *SnapshotSink) Fire(alert Alert) error {
	if len(alert.FrameJPEG) == 0 {
		return fmt.Errorf("no frame available for snapshot of frame %d", alert.FrameID)
	}

	zonesPart := strings.Join(alert.ZoneIDs, "_")
	if zonesPart == "" {
		zonesPart = "unzoned"
	}
	base := fmt.Sprintf("%s_%s_%s",
		alert.Time.Format("20060102_150405.000"),
		zonesPart,
		uuid.New().String()[:8],
	)

	imagePath := filepath.Join(s.dir, base+".jpg")
	if err := os.WriteFile(imagePath, alert.FrameJPEG, 0o644); err != nil {
		return fmt.Errorf("write snapshot %s: %w", imagePath, err)
	}

	meta, err := json.MarshalIndent(alert, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal snapshot metadata: %w", err)
	}
	if err := os.WriteFile(filepath.Join(s.dir, base+".json"), meta, 0o644); err != nil {
		return fmt.Errorf("write snapshot metadata: %w", err)
	}

	return s.prune()
}

// prune removes the oldest snapshots beyond the retention cap, metadata
// sidecars included.
func (s *SnapshotSink) prune() error {
	if s.retention <= 0 {
		return nil
	}
	snapshots, err := filepath.Glob(filepath.Join(s.dir, "*.jpg"))
	if err != nil {
		return err
	}
	if len(snapshots) <= s.retention {
		return nil
	}
	sort.Strings(snapshots)
	for _, path := range snapshots[:len(snapshots)-s.retention] {
		os.Remove(path)
		os.Remove(strings.TrimSuffix(path, ".jpg") + ".json")
	}
	return nil
}

// LogSink records fired alerts through the structured logger.
type LogSink struct {
	logger *zap.Logger
}

func NewLogSink(logger *zap.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) Name() string { return "log" }

func (s *LogSink) Fire(alert Alert) error {
	s.logger.Info("alert fired",
		zap.Uint64("frame_id", alert.FrameID),
		zap.Strings("zones", alert.ZoneNames),
		zap.Int("detections", len(alert.Boxes)),
		zap.Time("time", alert.Time))
	return nil
}

// NotificationSink delivers alerts as push notifications through a
// Pushover-compatible HTTP endpoint.
type NotificationSink struct {
	endpoint string
	userKey  string
	apiToken string
	client   *http.Client
}

// DefaultNotificationEndpoint is the Pushover message API.
const DefaultNotificationEndpoint = "https://api.pushover.net/1/messages.json"

func NewNotificationSink(endpoint, userKey, apiToken string) *NotificationSink {
	if endpoint == "" {
		endpoint = DefaultNotificationEndpoint
	}
	return &NotificationSink{
		endpoint: endpoint,
		userKey:  userKey,
		apiToken: apiToken,
		client:   &http.Client{Timeout: 10 * time.Second},
	}
}

func (s *NotificationSink) Name() string { return "notification" }

func (s *NotificationSink) Fire(alert Alert) error {
	if s.userKey == "" || s.apiToken == "" {
		return fmt.Errorf("notification credentials not configured")
	}

	message := fmt.Sprintf("Detection alert: %s", strings.Join(alert.ZoneNames, ", "))
	resp, err := s.client.PostForm(s.endpoint, url.Values{
		"token":    {s.apiToken},
		"user":     {s.userKey},
		"message":  {message},
		"priority": {"1"},
	})
	if err != nil {
		return fmt.Errorf("send notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("notification endpoint returned %d", resp.StatusCode)
	}
	return nil
}

// HardwareSink forwards fired alerts to an injected trigger, typically a
// GPIO buzzer actuation owned by an external collaborator.
type HardwareSink struct {
	trigger func() error
}

func NewHardwareSink(trigger func() error) *HardwareSink {
	return &HardwareSink{trigger: trigger}
}

func (s *HardwareSink) Name() string { return "hardware" }

func (s *HardwareSink) Fire(Alert) error {
	if s.trigger == nil {
		return fmt.Errorf("no hardware trigger attached")
	}
	return s.trigger()
}

// Dispatcher fans a fired alert out to every configured sink. Each sink is
// attempted; failures are logged and do not stop delivery to the rest.
type Dispatcher struct {
	sinks  []Sink
	logger *zap.Logger
}

func NewDispatcher(logger *zap.Logger, sinks ...Sink) *Dispatcher {
	return &Dispatcher{sinks: sinks, logger: logger}
}

// Dispatch delivers the alert to all sinks and returns the number of sinks
// that succeeded.
func (d *Dispatcher) Dispatch(alert Alert) int {
	delivered := 0
	for _, sink := range d.sinks {
		if err := sink.Fire(alert); err != nil {
			d.logger.Error("alert sink failed",
				zap.String("sink", sink.Name()),
				zap.Uint64("frame_id", alert.FrameID),
				zap.Error(err))
			continue
		}
		delivered++
	}
	return delivered
}

// Sinks returns the configured sinks.
func (d *Dispatcher) Sinks() []Sink { return d.sinks }
