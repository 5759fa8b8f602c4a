package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "dispatchctl.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write temp config: %v", err)
	}
	return path
}

func TestLoadValidConfigFillsDefaults(t *testing.T) {
	path := writeTempConfig(t, `
worker_kind: demo-square
device_ids: [0, 1]
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.QueueSize != 1024 {
		t.Fatalf("expected default queue_size 1024, got %d", cfg.QueueSize)
	}
	if cfg.HealthServerPort != 8080 {
		t.Fatalf("expected default health_server_port 8080, got %d", cfg.HealthServerPort)
	}
}

func TestLoadRejectsEmptyWorkerKind(t *testing.T) {
	path := writeTempConfig(t, `
device_ids: [0]
`)

	if _, err := Load(path); err == nil {
		t.Fatal("expected error for missing worker_kind")
	}
}

func TestLoadRejectsEmptyDeviceIDs(t *testing.T) {
	path := writeTempConfig(t, `
worker_kind: demo-square
device_ids: []
`)

	if _, err := Load(path); err == nil {
		t.Fatal("expected error for empty device_ids")
	}
}

func TestLoadRejectsDuplicateDeviceIDs(t *testing.T) {
	path := writeTempConfig(t, `
worker_kind: demo-square
device_ids: [0, 0]
`)

	if _, err := Load(path); err == nil {
		t.Fatal("expected error for duplicate device_ids")
	}
}

func TestLoadDefaultsMQTTTopicsWhenBrokerSet(t *testing.T) {
	path := writeTempConfig(t, `
worker_kind: demo-square
device_ids: [0]
mqtt:
  broker: "tcp://localhost:1883"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.MQTT.OutcomeTopic == "" || cfg.MQTT.HealthTopic == "" || cfg.MQTT.ClientID == "" {
		t.Fatalf("expected mqtt defaults to be filled in, got %+v", cfg.MQTT)
	}
}

func TestTaskTimeoutConversion(t *testing.T) {
	cfg := &Config{TaskTimeoutS: 2.5}
	if got, want := cfg.TaskTimeout().Seconds(), 2.5; got != want {
		t.Fatalf("TaskTimeout() = %v, want %v", got, want)
	}
}
