// Package mqttobserver is a pure observer of a dispatch run: it never
// influences dispatch decisions, it only mirrors outcomes and a
// periodic health snapshot onto MQTT topics, playing the same "wraps
// the core, never drives it" role the out-of-scope terminal dashboard
// plays in spec.md's Non-goals. Grounded on emitter/mqtt.go's
// Connect/Publish/Disconnect shape.
package mqttobserver

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	dispatch "github.com/hesic73/gpu-dispatch"
	"github.com/hesic73/gpu-dispatch/internal/config"
)

// Observer mirrors Dispatcher outcomes onto MQTT. A disconnected
// Observer is safe to call methods on (publishes are skipped); methods
// are not safe on a nil *Observer. Failures are logged, not
// propagated, because an observer must never be able to disrupt the
// dispatch it is only watching.
type Observer struct {
	cfg    config.MQTTConfig
	client mqtt.Client
	log    *slog.Logger

	mu        sync.Mutex
	connected bool

	started   atomic.Uint64
	succeeded atomic.Uint64
	failed    atomic.Uint64
	timedOut  atomic.Uint64
}

// New constructs an Observer from cfg. Connect must be called before
// use; cfg.Broker == "" callers should simply not construct one.
func New(cfg config.MQTTConfig) *Observer {
	return &Observer{cfg: cfg, log: slog.With("component", "mqttobserver")}
}

// Connect dials the broker with auto-reconnect enabled, mirroring
// MQTTEmitter.Connect.
func (o *Observer) Connect(ctx context.Context) error {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(o.cfg.Broker)
	opts.SetClientID(o.cfg.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)

	opts.OnConnect = func(c mqtt.Client) {
		o.mu.Lock()
		o.connected = true
		o.mu.Unlock()
		o.log.Info("mqtt connection established", "broker", o.cfg.Broker)
	}
	opts.OnConnectionLost = func(c mqtt.Client, err error) {
		o.mu.Lock()
		o.connected = false
		o.mu.Unlock()
		o.log.Warn("mqtt connection lost, will auto-reconnect", "error", err)
	}

	o.client = mqtt.NewClient(opts)

	token := o.client.Connect()
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("mqtt connection timeout")
	}
	return token.Error()
}

// Disconnect closes the MQTT connection.
func (o *Observer) Disconnect() {
	if o.client != nil && o.client.IsConnected() {
		o.client.Disconnect(250)
	}
}

// Wrap returns dispatch.Callbacks that wrap an existing set of user
// callbacks with MQTT mirroring, so the caller composes its own
// callbacks with the observer's instead of the Dispatcher knowing MQTT
// exists at all.
func (o *Observer) Wrap(inner dispatch.Callbacks) dispatch.Callbacks {
	return dispatch.Callbacks{
		OnTaskStart: func(taskID uint64, workerID int) {
			o.started.Add(1)
			o.publishOutcome("task_started", taskID, workerID, nil)
			if inner.OnTaskStart != nil {
				inner.OnTaskStart(taskID, workerID)
			}
		},
		OnSuccess: func(taskID uint64, result any, workerID int) {
			o.succeeded.Add(1)
			o.publishOutcome("task_success", taskID, workerID, nil)
			if inner.OnSuccess != nil {
				inner.OnSuccess(taskID, result, workerID)
			}
		},
		OnError: func(taskID uint64, errText string, workerID int) {
			o.failed.Add(1)
			o.publishOutcome("task_error", taskID, workerID, errText)
			if inner.OnError != nil {
				inner.OnError(taskID, errText, workerID)
			}
		},
		OnTimeout: func(taskID uint64, timeoutSeconds float64, workerID int) {
			o.timedOut.Add(1)
			o.publishOutcome("task_timeout", taskID, workerID, nil)
			if inner.OnTimeout != nil {
				inner.OnTimeout(taskID, timeoutSeconds, workerID)
			}
		},
		OnSetupFail: func(deviceID int, errText string) {
			o.publishOutcome("setup_failed", 0, deviceID, errText)
			if inner.OnSetupFail != nil {
				inner.OnSetupFail(deviceID, errText)
			}
		},
		OnExit: inner.OnExit,
	}
}

func (o *Observer) publishOutcome(kind string, taskID uint64, workerID int, errText any) {
	if o.client == nil || !o.client.IsConnected() {
		return
	}

	payload, err := json.Marshal(map[string]any{
		"kind":      kind,
		"task_id":   taskID,
		"worker_id": workerID,
		"error":     errText,
	})
	if err != nil {
		o.log.Error("failed to marshal outcome for mqtt", "error", err)
		return
	}

	token := o.client.Publish(o.cfg.OutcomeTopic, o.cfg.QoS, false, payload)
	if !token.WaitTimeout(2 * time.Second) {
		o.log.Warn("mqtt outcome publish timed out")
	}
}

// StartHealthPublisher publishes a periodic snapshot of outcome counts
// to cfg.HealthTopic until ctx is cancelled, the observer's analogue of
// Orion's StartStatsLogger.
func (o *Observer) StartHealthPublisher(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.publishHealth()
		}
	}
}

func (o *Observer) publishHealth() {
	if o.client == nil || !o.client.IsConnected() {
		return
	}

	payload, err := json.Marshal(map[string]any{
		"started":   o.started.Load(),
		"succeeded": o.succeeded.Load(),
		"failed":    o.failed.Load(),
		"timed_out": o.timedOut.Load(),
	})
	if err != nil {
		o.log.Error("failed to marshal health snapshot", "error", err)
		return
	}

	token := o.client.Publish(o.cfg.HealthTopic, o.cfg.QoS, false, payload)
	token.WaitTimeout(2 * time.Second)
}
