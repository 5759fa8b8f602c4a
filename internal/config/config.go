// Package config is the YAML configuration layer for the demo CLI
// (cmd/dispatchctl) and the optional observers, following the same
// load-then-validate shape as config.go/validator.go: Load reads a file
// off disk, unmarshals it with yaml.v3, then calls Validate before
// handing back a usable Config.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the on-disk shape of a dispatchctl run: which worker kind
// to drive, which devices to pin workers to, and the observer settings
// that feed internal/mqttobserver and internal/healthhttp.
type Config struct {
	WorkerKind       string         `yaml:"worker_kind"`
	DeviceIDs        []int          `yaml:"device_ids"`
	QueueSize        int            `yaml:"queue_size"`
	BaseSeed         int64          `yaml:"base_seed"`
	TaskTimeoutS     float64        `yaml:"task_timeout_s"`
	ShutdownGraceS   float64        `yaml:"shutdown_grace_s"`
	WorkerConfig     map[string]any `yaml:"worker_config"`
	MQTT             MQTTConfig     `yaml:"mqtt"`
	HealthServerPort int            `yaml:"health_server_port"`
}

// MQTTConfig configures the optional observer in internal/mqttobserver.
// Broker left empty disables the observer entirely.
type MQTTConfig struct {
	Broker       string `yaml:"broker"`
	ClientID     string `yaml:"client_id"`
	OutcomeTopic string `yaml:"outcome_topic"`
	HealthTopic  string `yaml:"health_topic"`
	QoS          byte   `yaml:"qos"`
}

// TaskTimeout returns TaskTimeoutS as a time.Duration; zero means no
// per-task timeout, per spec.md §4.2.
func (c *Config) TaskTimeout() time.Duration {
	return time.Duration(c.TaskTimeoutS * float64(time.Second))
}

// ShutdownGrace returns ShutdownGraceS as a time.Duration, falling back
// to the engine package's own default (3s) when unset.
func (c *Config) ShutdownGrace() time.Duration {
	if c.ShutdownGraceS <= 0 {
		return 0
	}
	return time.Duration(c.ShutdownGraceS * float64(time.Second))
}

// Load reads path, parses it as YAML, and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}
