package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/yarin-zhang/ha-cleveroom-home/internal/infrastructure/influxdb"
	"github.com/yarin-zhang/ha-cleveroom-home/internal/infrastructure/mqtt"
	"github.com/yarin-zhang/ha-cleveroom-home/internal/klw"
)

// Publisher is the MQTT surface the bridge needs. *mqtt.Client satisfies it.
type Publisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
	IsConnected() bool
}

// Gateway is the KLW session surface the bridge needs. *klw.Client
// satisfies it.
type Gateway interface {
	Subscribe(t klw.EventType, fn klw.Handler) (unsubscribe func())
	Control(action klw.Action, items []klw.Item) int
	Devices() []klw.Record
	Stats() klw.Stats
	IsConnected() bool
	Address() string
}

// Recorder stores device history. *influxdb.Client satisfies it.
type Recorder interface {
	WriteDevice(p influxdb.DevicePoint)
	WriteGatewayStats(gateway string, fields map[string]any)
}

// Logger is satisfied by *logging.Logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

// Options holds configuration for creating a bridge.
type Options struct {
	// GatewayID is the {gateway} topic segment.
	GatewayID string

	Topics  mqtt.Topics
	QoS     byte
	Version string

	// HealthInterval defaults to 30s.
	HealthInterval time.Duration

	MQTT    Publisher
	Gateway Gateway

	// Recorder is optional.
	Recorder Recorder

	// Logger is optional.
	Logger Logger
}

// Bridge publishes a gateway session to MQTT and executes MQTT commands
// on it.
//
// Thread Safety: All methods are safe for concurrent use.
type Bridge struct {
	gatewayID string
	topics    mqtt.Topics
	qos       byte
	mqtt      Publisher
	gateway   Gateway
	recorder  Recorder
	health    *HealthReporter
	logger    Logger

	unsubscribe []func()
	mu          sync.Mutex
	started     bool
	stopOnce    sync.Once
}

// New creates a bridge. Call Start to begin operation.
func New(opts Options) (*Bridge, error) {
	if opts.MQTT == nil {
		return nil, fmt.Errorf("%w: MQTT client is required", ErrMissingDependency)
	}
	if opts.Gateway == nil {
		return nil, fmt.Errorf("%w: gateway session is required", ErrMissingDependency)
	}
	if opts.GatewayID == "" {
		return nil, fmt.Errorf("%w: gateway id is required", ErrMissingDependency)
	}

	logger := opts.Logger
	if logger == nil {
		logger = nopLogger{}
	}
	qos := opts.QoS
	if qos > 2 {
		qos = 1
	}

	b := &Bridge{
		gatewayID: opts.GatewayID,
		topics:    opts.Topics,
		qos:       qos,
		mqtt:      opts.MQTT,
		gateway:   opts.Gateway,
		recorder:  opts.Recorder,
		logger:    logger,
	}
	b.health = NewHealthReporter(HealthReporterConfig{
		Gateway:   opts.GatewayID,
		Version:   opts.Version,
		Topics:    opts.Topics,
		Interval:  opts.HealthInterval,
		Publisher: opts.MQTT,
		Session:   opts.Gateway,
		Recorder:  opts.Recorder,
		Logger:    logger,
	})
	return b, nil
}

// Start subscribes to the session's events and the command topic,
// publishes the state of every known device and starts health reporting.
func (b *Bridge) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.started {
		return nil
	}

	if err := b.health.PublishStarting(); err != nil {
		b.logger.Warn("failed to publish starting status", "error", err)
	}

	commandTopic := b.topics.Command(b.gatewayID)
	if err := b.mqtt.Subscribe(commandTopic, b.qos, b.handleCommand); err != nil {
		return fmt.Errorf("subscribe to commands: %w", err)
	}
	b.logger.Info("subscribed to commands", "topic", commandTopic)

	b.unsubscribe = append(b.unsubscribe,
		b.gateway.Subscribe(klw.EventDeviceChanged, b.handleDeviceChanged),
		b.gateway.Subscribe(klw.EventLoginSuccess, b.handleLifecycle),
		b.gateway.Subscribe(klw.EventLoginFailure, b.handleLifecycle),
		b.gateway.Subscribe(klw.EventConnectionState, b.handleLifecycle),
	)

	devices := b.gateway.Devices()
	for _, rec := range devices {
		b.publishState(rec)
	}

	b.health.Start(ctx)
	if err := b.health.PublishNow(); err != nil {
		b.logger.Warn("failed to publish health", "error", err)
	}

	b.started = true
	b.logger.Info("bridge started", "gateway", b.gatewayID, "devices", len(devices))
	return nil
}

// Stop detaches from the session and the command topic and publishes a
// final "stopping" health status.
func (b *Bridge) Stop() {
	b.stopOnce.Do(func() {
		b.mu.Lock()
		unsubscribe := b.unsubscribe
		b.unsubscribe = nil
		started := b.started
		b.mu.Unlock()

		for _, fn := range unsubscribe {
			fn()
		}
		if started {
			if err := b.mqtt.Unsubscribe(b.topics.Command(b.gatewayID)); err != nil {
				b.logger.Debug("command unsubscribe failed", "error", err)
			}
		}
		b.health.Stop()
		b.logger.Info("bridge stopped", "gateway", b.gatewayID)
	})
}

// PublishAll republishes the retained state of every known device, e.g.
// after the broker connection came back.
func (b *Bridge) PublishAll() int {
	devices := b.gateway.Devices()
	for _, rec := range devices {
		b.publishState(rec)
	}
	return len(devices)
}

func (b *Bridge) handleDeviceChanged(ev klw.Event) {
	b.publishState(ev.Record)
	if b.recorder != nil {
		b.recorder.WriteDevice(devicePoint(b.gatewayID, ev.Record))
	}
}

func (b *Bridge) handleLifecycle(ev klw.Event) {
	msg := NewEventMessage(b.gatewayID, ev)
	if err := b.publishJSON(b.topics.Event(b.gatewayID, eventSegment(ev.Type)), msg, false); err != nil {
		b.logger.Warn("failed to publish event", "type", ev.Type, "error", err)
	}

	if ev.Type == klw.EventConnectionState {
		if err := b.health.PublishNow(); err != nil {
			b.logger.Debug("failed to publish health", "error", err)
		}
	}
}

func (b *Bridge) publishState(rec klw.Record) {
	if rec.OID == "" {
		return
	}
	if err := b.publishJSON(b.topics.DeviceState(b.gatewayID, rec.OID), NewStateMessage(rec), true); err != nil {
		b.logger.Warn("failed to publish device state", "oid", rec.OID, "error", err)
	}
}

// handleCommand runs one command message and always answers with an ack,
// except for payloads that are not JSON at all.
func (b *Bridge) handleCommand(_ string, payload []byte) error {
	var cmd CommandMessage
	if err := json.Unmarshal(payload, &cmd); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidCommand, err)
	}
	cmd.ensureID()

	b.logger.Info("received command",
		"command_id", cmd.ID,
		"action", cmd.Action,
		"items", len(cmd.Items),
		"source", cmd.Source)

	switch {
	case cmd.Action == "" || len(cmd.Items) == 0:
		return b.publishAck(NewAckError(b.gatewayID, cmd, ErrCodeInvalidCommand, "action and items are required"))
	case !b.gateway.IsConnected():
		return b.publishAck(NewAckError(b.gatewayID, cmd, ErrCodeGatewayOffline, "gateway session is not authenticated"))
	}

	queued := b.gateway.Control(cmd.Action, cmd.Items)
	if queued == 0 {
		return b.publishAck(NewAckError(b.gatewayID, cmd, ErrCodeNothingQueued,
			"no instruction queued: unknown action, unknown devices or unusable values"))
	}
	return b.publishAck(NewAckMessage(b.gatewayID, cmd, queued))
}

func (b *Bridge) publishAck(ack AckMessage) error {
	return b.publishJSON(b.topics.Ack(b.gatewayID), ack, false)
}

func (b *Bridge) publishJSON(topic string, v any, retained bool) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", topic, err)
	}
	return b.mqtt.Publish(topic, payload, b.qos, retained)
}

// eventSegment turns "login-success" into the topic segment "login_success".
func eventSegment(t klw.EventType) string {
	return strings.ReplaceAll(string(t), "-", "_")
}
