package config

import "fmt"

// Validate checks structural requirements and fills in defaults the way
// validator.go's Validate does for Orion's config: reject what cannot be
// defaulted, quietly default what can.
func Validate(cfg *Config) error {
	if cfg.WorkerKind == "" {
		return fmt.Errorf("worker_kind is required")
	}
	if len(cfg.DeviceIDs) == 0 {
		return fmt.Errorf("device_ids cannot be empty")
	}

	seen := make(map[int]bool, len(cfg.DeviceIDs))
	for _, id := range cfg.DeviceIDs {
		if seen[id] {
			return fmt.Errorf("device_ids contains duplicate device %d", id)
		}
		seen[id] = true
	}

	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1024
	}
	if cfg.TaskTimeoutS < 0 {
		return fmt.Errorf("task_timeout_s cannot be negative")
	}
	if cfg.HealthServerPort <= 0 {
		cfg.HealthServerPort = 8080
	}

	if cfg.MQTT.Broker != "" {
		if cfg.MQTT.ClientID == "" {
			cfg.MQTT.ClientID = fmt.Sprintf("dispatchctl-%s", cfg.WorkerKind)
		}
		if cfg.MQTT.OutcomeTopic == "" {
			cfg.MQTT.OutcomeTopic = fmt.Sprintf("gpu-dispatch/%s/outcomes", cfg.WorkerKind)
		}
		if cfg.MQTT.HealthTopic == "" {
			cfg.MQTT.HealthTopic = fmt.Sprintf("gpu-dispatch/%s/health", cfg.WorkerKind)
		}
	}

	return nil
}
