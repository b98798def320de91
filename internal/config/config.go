// Package config loads and validates the recognized configuration keys
// documented in spec.md §6 / SPEC_FULL.md §3.2. It understands only JSON;
// translating YAML or any other external format into this shape is the
// caller's job (config loading is an external collaborator, spec.md §1).
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"

	"github.com/adiibanez/sensocto/pkg/log"
)

type AttentionConfig struct {
	BatteryCapLow        string `json:"battery_cap_low"`
	BatteryCapCritical   string `json:"battery_cap_critical"`
	FocusBoostMs         int64  `json:"focus_boost_ms"`
	HoverBoostMs         int64  `json:"hover_boost_ms"`
	StaleSweepIntervalMs int64  `json:"stale_sweep_interval_ms"`
	StaleAfterMs         int64  `json:"stale_after_ms"`
}

type SensorConfig struct {
	HibernateAfterMs    int64 `json:"hibernate_after_ms"`
	IdleCheckIntervalMs int64 `json:"idle_check_interval_ms"`
}

type LoadConfig struct {
	SampleIntervalMs int64 `json:"sample_interval_ms"`
}

type NatsConfig struct {
	Address       string `json:"address"`
	Username      string `json:"username"`
	Password      string `json:"password"`
	CredsFilePath string `json:"creds_file_path"`
}

// SimulatorConfig tunes the demo sample generator (internal/simulator).
// Not part of spec.md proper; it exists only to drive cmd/sensocto's demo
// wiring end-to-end (see SPEC_FULL.md §5, "Demo wiring").
type SimulatorConfig struct {
	Enabled           bool     `json:"enabled"`
	SensorCount       int      `json:"sensor_count"`
	Attributes        []string `json:"attributes"`
	BaseDelayMs       int64    `json:"base_delay_ms"`
	BaseBatchWindowMs int64    `json:"base_batch_window_ms"`
	BatchSize         int      `json:"batch_size"`
}

// Config holds every recognized key, following the teacher's Keys
// singleton pattern (internal/config.Keys, internal/memorystore.Keys).
type Config struct {
	LogLevel    string `json:"log_level"`
	LogDateTime bool   `json:"log_date_time"`

	AttributeStoreHotLimit  int `json:"attribute_store_hot_limit"`
	AttributeStoreWarmLimit int `json:"attribute_store_warm_limit"`

	Attention AttentionConfig `json:"attention"`
	Sensor    SensorConfig    `json:"sensor"`
	Load      LoadConfig      `json:"load"`

	ReplicatorPoolSize       int `json:"replicator_pool_size"`
	ReplicatorBatchSize      int `json:"replicator_batch_size"`
	ReplicatorBatchTimeoutMs int `json:"replicator_batch_timeout_ms"`

	PriorityAttributes []string `json:"priority_attributes"`

	Nats      *NatsConfig     `json:"nats"`
	Simulator SimulatorConfig `json:"simulator"`
}

// Default returns a fresh Config populated with spec.md's defaults.
func Default() *Config {
	return &Config{
		LogLevel:    "info",
		LogDateTime: false,

		AttributeStoreHotLimit:  1000,
		AttributeStoreWarmLimit: 60000,

		Attention: AttentionConfig{
			BatteryCapLow:        "medium",
			BatteryCapCritical:   "low",
			FocusBoostMs:         5000,
			HoverBoostMs:         2000,
			StaleSweepIntervalMs: 30000,
			StaleAfterMs:         60000,
		},
		Sensor: SensorConfig{
			HibernateAfterMs:    5 * 60 * 1000,
			IdleCheckIntervalMs: 60 * 1000,
		},
		Load: LoadConfig{
			SampleIntervalMs: 1000,
		},

		ReplicatorPoolSize:       8,
		ReplicatorBatchSize:      100,
		ReplicatorBatchTimeoutMs: 1000,

		PriorityAttributes: []string{"button", "buttons"},

		Simulator: SimulatorConfig{
			Enabled:           false,
			SensorCount:       3,
			Attributes:        []string{"heart_rate", "step_counter", "button"},
			BaseDelayMs:       200,
			BaseBatchWindowMs: 500,
			BatchSize:         20,
		},
	}
}

// Keys is the package-level singleton.
var Keys = Default()

// Init reads and validates flagConfigFile, decoding it over the defaults
// already in Keys. A missing file is not an error (same as the teacher's
// Init): the defaults stand alone.
func Init(flagConfigFile string) error {
	if flagConfigFile == "" {
		return nil
	}

	raw, err := os.ReadFile(flagConfigFile)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("config: read %s: %w", flagConfigFile, err)
	}

	if err := Validate(configSchema, raw); err != nil {
		return err
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	if err := dec.Decode(Keys); err != nil {
		return fmt.Errorf("config: decode %s: %w", flagConfigFile, err)
	}

	log.Infof("config: loaded %s", flagConfigFile)
	return nil
}
