package bridge

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/yarin-zhang/ha-cleveroom-home/internal/infrastructure/mqtt"
)

const defaultHealthInterval = 30 * time.Second

// HealthReporter publishes the gateway health on a fixed interval.
type HealthReporter struct {
	gateway   string
	version   string
	topics    mqtt.Topics
	startTime time.Time
	interval  time.Duration
	publisher Publisher
	session   Gateway
	recorder  Recorder
	logger    Logger

	// Shutdown coordination (stopOnce prevents double-close panics)
	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// HealthReporterConfig holds configuration for the health reporter.
type HealthReporterConfig struct {
	Gateway  string
	Version  string
	Topics   mqtt.Topics
	Interval time.Duration // default 30s

	Publisher Publisher
	Session   Gateway
	Recorder  Recorder // optional
	Logger    Logger   // optional
}

// NewHealthReporter creates a reporter. Call Start to begin reporting.
func NewHealthReporter(cfg HealthReporterConfig) *HealthReporter {
	interval := cfg.Interval
	if interval <= 0 {
		interval = defaultHealthInterval
	}
	logger := cfg.Logger
	if logger == nil {
		logger = nopLogger{}
	}

	return &HealthReporter{
		gateway:   cfg.Gateway,
		version:   cfg.Version,
		topics:    cfg.Topics,
		startTime: time.Now(),
		interval:  interval,
		publisher: cfg.Publisher,
		session:   cfg.Session,
		recorder:  cfg.Recorder,
		logger:    logger,
		done:      make(chan struct{}),
	}
}

// Start begins periodic reporting until ctx is cancelled or Stop is called.
func (h *HealthReporter) Start(ctx context.Context) {
	h.wg.Add(1)
	go h.reportLoop(ctx)
}

// Stop ends reporting and publishes a final "stopping" status.
// Safe to call multiple times.
func (h *HealthReporter) Stop() {
	h.stopOnce.Do(func() {
		close(h.done)
		h.wg.Wait()

		if err := h.publishStatus(HealthStopping, "bridge stopping"); err != nil {
			h.logger.Debug("final health not published", "error", err)
		}
	})
}

// PublishStarting publishes a "starting" status.
func (h *HealthReporter) PublishStarting() error {
	return h.publishStatus(HealthStarting, "bridge starting")
}

// PublishNow publishes the current health immediately and records the
// session counters.
func (h *HealthReporter) PublishNow() error {
	status, reason := h.determineStatus()
	return h.publishStatus(status, reason)
}

func (h *HealthReporter) reportLoop(ctx context.Context) {
	defer h.wg.Done()

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-h.done:
			return
		case <-ticker.C:
			if err := h.PublishNow(); err != nil {
				h.logger.Error("failed to publish health", "error", err)
			}
		}
	}
}

func (h *HealthReporter) determineStatus() (HealthStatus, string) {
	if h.publisher == nil || !h.publisher.IsConnected() {
		return HealthDegraded, "MQTT disconnected"
	}
	if h.session == nil || !h.session.IsConnected() {
		return HealthDegraded, "gateway disconnected"
	}
	return HealthHealthy, ""
}

func (h *HealthReporter) publishStatus(status HealthStatus, reason string) error {
	if h.publisher == nil {
		return nil
	}

	msg := h.snapshot(status)
	msg.Reason = reason

	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return h.publisher.Publish(h.topics.Health(h.gateway), payload, 1, true)
}

// snapshot builds the health message and, with a recorder, writes the
// same counters as a gateway point.
func (h *HealthReporter) snapshot(status HealthStatus) HealthMessage {
	if h.session == nil {
		return HealthMessage{
			Gateway:       h.gateway,
			Timestamp:     time.Now().UTC(),
			Status:        status,
			Version:       h.version,
			UptimeSeconds: int64(time.Since(h.startTime).Seconds()),
		}
	}

	stats := h.session.Stats()
	devices := len(h.session.Devices())
	if h.recorder != nil && status != HealthStarting && status != HealthStopping {
		h.recorder.WriteGatewayStats(h.gateway, statsFields(stats, devices))
	}
	return NewHealthMessage(h.gateway, h.version, h.session.Address(), status, stats, devices, h.startTime)
}
