package zwaveme

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

// defaultHealthInterval is how often health is published.
const defaultHealthInterval = 30 * time.Second

// HealthReporter manages periodic health status reporting.
// It publishes health messages to MQTT at regular intervals.
type HealthReporter struct {
	bridgeID  string
	version   string
	hubURL    string
	startTime time.Time
	interval  time.Duration
	publisher HealthPublisher
	hub       HubStatus

	// Shutdown coordination (stopOnce prevents double-close panics)
	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once

	// Logger (optional)
	logger   Logger
	loggerMu sync.RWMutex
}

// HealthPublisher is the interface for publishing health messages.
// This is typically implemented by an MQTT client.
type HealthPublisher interface {
	// PublishRetained sends a retained message at the client's default QoS.
	PublishRetained(topic string, payload []byte) error

	// IsConnected returns true if the publisher is connected.
	IsConnected() bool
}

// HubStatus provides hub connection state. Manager satisfies it.
type HubStatus interface {
	IsConnected() bool
	Stats() ManagerStats
	UUID() string
}

// HealthReporterConfig holds configuration for the health reporter.
type HealthReporterConfig struct {
	// BridgeID is the bridge identifier for health messages.
	BridgeID string

	// Version is the bridge software version.
	Version string

	// HubURL is reported as the connection address.
	HubURL string

	// Interval is how often to publish health status.
	// Default: 30 seconds.
	Interval time.Duration

	// Publisher is the MQTT client for publishing messages.
	Publisher HealthPublisher

	// Hub provides connection statistics.
	Hub HubStatus
}

// NewHealthReporter creates a new health reporter.
//
// Parameters:
//   - cfg: Bridge identity, publish interval, publisher and hub status source
//
// Returns:
//   - *HealthReporter: Reporter ready to Start; nothing is published before that
func NewHealthReporter(cfg HealthReporterConfig) *HealthReporter {
	interval := cfg.Interval
	if interval <= 0 {
		interval = defaultHealthInterval
	}
	bridgeID := cfg.BridgeID
	if bridgeID == "" {
		bridgeID = Protocol
	}

	return &HealthReporter{
		bridgeID:  bridgeID,
		version:   cfg.Version,
		hubURL:    cfg.HubURL,
		startTime: time.Now(),
		interval:  interval,
		publisher: cfg.Publisher,
		hub:       cfg.Hub,
		done:      make(chan struct{}),
	}
}

// Start begins periodic health reporting. Call Stop to shut down.
func (h *HealthReporter) Start(ctx context.Context) {
	h.wg.Add(1)
	go h.reportLoop(ctx)
}

// Stop gracefully stops health reporting.
// Publishes a final "stopping" status before returning.
// Safe to call multiple times (uses sync.Once).
func (h *HealthReporter) Stop() {
	h.stopOnce.Do(func() {
		close(h.done)
		h.wg.Wait()

		//nolint:errcheck // Best-effort during shutdown, nothing we can do if it fails
		h.publishStatus(HealthStopping, "")
	})
}

// SetLogger sets the logger for this reporter.
func (h *HealthReporter) SetLogger(logger Logger) {
	h.loggerMu.Lock()
	h.logger = logger
	h.loggerMu.Unlock()
}

// PublishStarting publishes a "starting" status.
func (h *HealthReporter) PublishStarting() error {
	return h.publishStatus(HealthStarting, "bridge starting")
}

// PublishNow publishes the current health status immediately.
func (h *HealthReporter) PublishNow() error {
	status, reason := h.determineStatus()
	return h.publishStatus(status, reason)
}

// GetLWTPayload returns the Last Will and Testament message payload.
func (h *HealthReporter) GetLWTPayload() ([]byte, error) {
	return json.Marshal(NewLWTMessage(h.bridgeID))
}

// GetLWTTopic returns the topic for the Last Will and Testament.
func (h *HealthReporter) GetLWTTopic() string {
	return HealthTopic()
}

// reportLoop runs the periodic health reporting.
func (h *HealthReporter) reportLoop(ctx context.Context) {
	defer h.wg.Done()

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	if err := h.PublishNow(); err != nil {
		h.logError("failed to publish initial health", err)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-h.done:
			return
		case <-ticker.C:
			if err := h.PublishNow(); err != nil {
				h.logError("failed to publish health", err)
			}
		}
	}
}

// determineStatus evaluates the current bridge status.
func (h *HealthReporter) determineStatus() (HealthStatus, string) {
	if h.publisher == nil || !h.publisher.IsConnected() {
		return HealthDegraded, "MQTT disconnected"
	}
	if h.hub == nil || !h.hub.IsConnected() {
		return HealthDegraded, "hub disconnected"
	}
	return HealthHealthy, ""
}

// publishStatus publishes a health status message.
func (h *HealthReporter) publishStatus(status HealthStatus, reason string) error {
	if h.publisher == nil {
		return nil // No publisher configured
	}

	var (
		stats   ManagerStats
		hubUUID string
	)
	if h.hub != nil {
		stats = h.hub.Stats()
		hubUUID = h.hub.UUID()
	}

	msg := NewHealthMessage(h.bridgeID, h.version, status, stats, h.startTime)
	msg.HubUUID = hubUUID
	msg.Connection.Address = h.hubURL
	if reason != "" {
		msg.Reason = reason
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	return h.publisher.PublishRetained(HealthTopic(), payload)
}

// logError logs an error if logger is set.
func (h *HealthReporter) logError(msg string, err error) {
	h.loggerMu.RLock()
	logger := h.logger
	h.loggerMu.RUnlock()

	if logger != nil {
		logger.Error(msg, "error", err)
	}
}
