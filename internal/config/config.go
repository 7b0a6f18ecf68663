package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// GateConfig holds the knobs for the license-plate gate monitor.
type GateConfig struct {
	SkipFrames       int           // process every Nth frame
	DedupWindow      time.Duration // suppress repeat plates within this window
	MaxTrackedPlates int           // hard cap on the dedup table
	CleanupInterval  int           // purge stale entries every N processed frames
}

// LotConfig holds the knobs for the parking-lot capacity monitor.
type LotConfig struct {
	SkipFrames        int
	CapacityThreshold float64       // alert when occupancy rate reaches this (0-1)
	MaxCapacity       int           // 0 means no hard capacity limit
	AlertCooldown     time.Duration // minimum time between alerts
}

// InferenceConfig points at the remote inference services consumed by the
// vision adapters. An empty URL leaves that adapter unconfigured; calls
// against it surface as reported per-frame errors, not startup failures.
type InferenceConfig struct {
	PlateDetectorURL string
	PlateOCRURL      string
	SlotDetectorURL  string
}

// MQTTConfig configures the optional event publisher. Publishing is
// disabled when BrokerURL is empty.
type MQTTConfig struct {
	BrokerURL   string
	ClientID    string
	TopicPrefix string
}

// Config is the full environment-derived configuration.
type Config struct {
	Gate      GateConfig
	Lot       LotConfig
	Inference InferenceConfig
	MQTT      MQTTConfig
}

// Load reads configuration from the environment, loading a .env file first
// when one exists in the working directory.
func Load() (Config, error) {
	// Missing .env is fine; explicit env vars still apply.
	_ = godotenv.Load()

	cfg := Config{
		Gate: GateConfig{
			SkipFrames:       5,
			DedupWindow:      10 * time.Second,
			MaxTrackedPlates: 100,
			CleanupInterval:  50,
		},
		Lot: LotConfig{
			SkipFrames:        10,
			CapacityThreshold: 0.9,
			AlertCooldown:     30 * time.Second,
		},
		Inference: InferenceConfig{
			PlateDetectorURL: os.Getenv("PLATE_DETECTOR_URL"),
			PlateOCRURL:      os.Getenv("PLATE_OCR_URL"),
			SlotDetectorURL:  os.Getenv("SLOT_DETECTOR_URL"),
		},
		MQTT: MQTTConfig{
			BrokerURL:   os.Getenv("MQTT_BROKER_URL"),
			ClientID:    envOr("MQTT_CLIENT_ID", "parkstream"),
			TopicPrefix: envOr("MQTT_TOPIC_PREFIX", "parkstream"),
		},
	}

	var err error
	if cfg.Gate.SkipFrames, err = envInt("GATE_FRAME_SKIP", cfg.Gate.SkipFrames); err != nil {
		return Config{}, err
	}
	if cfg.Gate.DedupWindow, err = envSeconds("GATE_DEDUP_WINDOW", cfg.Gate.DedupWindow); err != nil {
		return Config{}, err
	}
	if cfg.Gate.MaxTrackedPlates, err = envInt("GATE_MAX_TRACKED_PLATES", cfg.Gate.MaxTrackedPlates); err != nil {
		return Config{}, err
	}
	if cfg.Gate.CleanupInterval, err = envInt("GATE_CLEANUP_INTERVAL", cfg.Gate.CleanupInterval); err != nil {
		return Config{}, err
	}
	if cfg.Lot.SkipFrames, err = envInt("LOT_FRAME_SKIP", cfg.Lot.SkipFrames); err != nil {
		return Config{}, err
	}
	if cfg.Lot.CapacityThreshold, err = envFloat("LOT_CAPACITY_ALERT", cfg.Lot.CapacityThreshold); err != nil {
		return Config{}, err
	}
	if cfg.Lot.MaxCapacity, err = envInt("LOT_MAX_CAPACITY", cfg.Lot.MaxCapacity); err != nil {
		return Config{}, err
	}
	if cfg.Lot.AlertCooldown, err = envSeconds("LOT_ALERT_COOLDOWN", cfg.Lot.AlertCooldown); err != nil {
		return Config{}, err
	}

	if cfg.Gate.SkipFrames < 1 || cfg.Lot.SkipFrames < 1 {
		return Config{}, fmt.Errorf("frame skip must be >= 1")
	}
	if cfg.Lot.CapacityThreshold < 0 || cfg.Lot.CapacityThreshold > 1 {
		return Config{}, fmt.Errorf("LOT_CAPACITY_ALERT must be within 0-1, got %v", cfg.Lot.CapacityThreshold)
	}

	return cfg, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func envFloat(key string, fallback float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return f, nil
}

func envSeconds(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	secs, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return time.Duration(secs) * time.Second, nil
}
