// Package config loads runtime configuration from the environment (after an
// optional .env file) and zone definitions from a JSON file.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/counterwatch/counterwatch/internal/zones"
)

// ElevatedRule selects how the client derives the elevated verdict from a
// detection box.
type ElevatedRule string

const (
	// ElevatedRuleZoneAndSize is the canonical rule: a box is elevated only
	// when it hits an enabled zone AND its height ratio exceeds the minimum.
	ElevatedRuleZoneAndSize ElevatedRule = "zone_and_size"
	// ElevatedRuleSizeOnly is the explicit simplified variant: size ratio
	// alone decides, zone hits are still reported for attribution.
	ElevatedRuleSizeOnly ElevatedRule = "size_only"
)

// SnapshotConfig configures the snapshot alert sink.
type SnapshotConfig struct {
	Enabled   bool
	Dir       string
	Retention int
}

// NotificationConfig configures the push-notification alert sink.
type NotificationConfig struct {
	Enabled  bool
	Endpoint string
	UserKey  string
	APIToken string
}

// ClientConfig is the edge client's configuration surface.
type ClientConfig struct {
	ServerHost string
	ServerPort int

	CameraIndex  int
	CameraWidth  int
	CameraHeight int

	FrameSkip   int
	JPEGQuality int

	MinElevatedSizeRatio float64
	ElevatedRule         ElevatedRule
	ZonesFile            string

	AlertCooldown   time.Duration
	InflightTimeout time.Duration

	// PingInterval paces application-level pings; non-positive disables them.
	PingInterval time.Duration

	StatusAddr string

	Snapshot     SnapshotConfig
	Notification NotificationConfig
	LogAlerts    bool
}

// ServerURL returns the websocket endpoint for the detection server.
func (c ClientConfig) ServerURL() string {
	return fmt.Sprintf("ws://%s:%d/ws", c.ServerHost, c.ServerPort)
}

// ServerConfig is the detection server's configuration surface.
type ServerConfig struct {
	Host string
	Port int

	ModelPreference     string
	ConfidenceThreshold float64
	ClassName           string

	MetricsEnabled bool
}

// Addr returns the listen address.
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// LoadClient reads the client configuration from the environment. A .env
// file in the working directory is loaded first when present.
func LoadClient() (ClientConfig, error) {
	godotenv.Load()

	cfg := ClientConfig{
		ServerHost:           envString("SERVER_HOST", "localhost"),
		ServerPort:           envInt("SERVER_PORT", 8765),
		CameraIndex:          envInt("CAMERA_INDEX", 0),
		CameraWidth:          envInt("CAMERA_WIDTH", 640),
		CameraHeight:         envInt("CAMERA_HEIGHT", 480),
		FrameSkip:            envInt("FRAME_SKIP", 5),
		JPEGQuality:          envInt("JPEG_QUALITY", 70),
		MinElevatedSizeRatio: envFloat("MIN_ELEVATED_SIZE_RATIO", 0.3),
		ElevatedRule:         ElevatedRule(envString("ELEVATED_RULE", string(ElevatedRuleZoneAndSize))),
		ZonesFile:            envString("ZONES_FILE", "zones.json"),
		AlertCooldown:        envDuration("ALERT_COOLDOWN", 30*time.Second),
		InflightTimeout:      envDuration("INFLIGHT_TIMEOUT", 30*time.Second),
		PingInterval:         envDuration("PING_INTERVAL", 30*time.Second),
		StatusAddr:           envString("STATUS_ADDR", ":5000"),
		Snapshot: SnapshotConfig{
			Enabled:   envBool("SNAPSHOT_ENABLED", true),
			Dir:       envString("SNAPSHOT_DIR", "snapshots"),
			Retention: envInt("SNAPSHOT_RETENTION", 1000),
		},
		Notification: NotificationConfig{
			Enabled:  envBool("NOTIFICATION_ENABLED", false),
			Endpoint: envString("NOTIFICATION_ENDPOINT", ""),
			UserKey:  envString("NOTIFICATION_USER_KEY", ""),
			APIToken: envString("NOTIFICATION_API_TOKEN", ""),
		},
		LogAlerts: envBool("LOG_ALERTS", true),
	}

	if cfg.FrameSkip < 1 {
		return cfg, fmt.Errorf("FRAME_SKIP must be at least 1, got %d", cfg.FrameSkip)
	}
	if cfg.ElevatedRule != ElevatedRuleZoneAndSize && cfg.ElevatedRule != ElevatedRuleSizeOnly {
		return cfg, fmt.Errorf("unknown ELEVATED_RULE %q", cfg.ElevatedRule)
	}
	if cfg.MinElevatedSizeRatio < 0 || cfg.MinElevatedSizeRatio > 1 {
		return cfg, fmt.Errorf("MIN_ELEVATED_SIZE_RATIO must be in [0,1], got %v", cfg.MinElevatedSizeRatio)
	}
	return cfg, nil
}

// LoadServer reads the server configuration from the environment.
func LoadServer() (ServerConfig, error) {
	godotenv.Load()

	cfg := ServerConfig{
		Host:                envString("HOST", "0.0.0.0"),
		Port:                envInt("PORT", 8765),
		ModelPreference:     envString("MODEL_PREFERENCE", "auto"),
		ConfidenceThreshold: envFloat("CONFIDENCE_THRESHOLD", 0.5),
		ClassName:           envString("CLASS_NAME", "dog"),
		MetricsEnabled:      envBool("METRICS_ENABLED", true),
	}

	if cfg.ConfidenceThreshold < 0 || cfg.ConfidenceThreshold > 1 {
		return cfg, fmt.Errorf("CONFIDENCE_THRESHOLD must be in [0,1], got %v", cfg.ConfidenceThreshold)
	}
	return cfg, nil
}

// LoadZones reads zone definitions from a JSON file shaped as
// {"zone_id": {"name": ..., "enabled": ..., "polygon": [[x,y], ...]}, ...}
// and validates each zone. Zones are returned sorted by id for stable
// iteration order.
func LoadZones(path string) ([]zones.Zone, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read zones file: %w", err)
	}

	var raw map[string]zones.Zone
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse zones file %s: %w", path, err)
	}

	out := make([]zones.Zone, 0, len(raw))
	for id, zone := range raw {
		zone.ID = id
		if err := zone.Validate(); err != nil {
			return nil, fmt.Errorf("zones file %s: %w", path, err)
		}
		out = append(out, zone)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func envString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
