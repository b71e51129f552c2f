package zwaveme

import (
	"encoding/json"
	"sync"
)

// Metric names written by the Recorder.
const (
	MetricLevel    = "level"
	MetricIsFailed = "is_failed"
)

// MetricWriter writes a single device measurement.
// Satisfied by *influxdb.Client.
type MetricWriter interface {
	WriteDeviceMetric(deviceID, node, deviceType, metric string, value float64)
}

// Recorder writes numeric device telemetry for every state it sees.
// Series are keyed on the hub device id; the node identifier is an extra tag.
//
// Levels without a numeric reading (e.g. toggle buttons) only record
// is_failed. Writes are expected to be non-blocking (batched by the writer).
//
// Thread Safety: All methods are safe for concurrent use.
type Recorder struct {
	writer MetricWriter

	logger   Logger
	loggerMu sync.RWMutex
}

var _ EventSink = (*Recorder)(nil)

// NewRecorder creates a recorder backed by writer.
func NewRecorder(writer MetricWriter) *Recorder {
	return &Recorder{writer: writer}
}

// SetLogger sets the logger for this recorder.
func (r *Recorder) SetLogger(logger Logger) {
	r.loggerMu.Lock()
	r.logger = logger
	r.loggerMu.Unlock()
}

// OnDeviceCreate implements EventSink.
func (r *Recorder) OnDeviceCreate(devices []Device) {
	for _, d := range devices {
		r.record(d)
	}
}

// OnDeviceUpdate implements EventSink.
func (r *Recorder) OnDeviceUpdate(device Device) {
	r.record(device)
}

// OnNewDevice implements EventSink.
func (r *Recorder) OnNewDevice(device Device) {
	r.record(device)
}

// OnDeviceRemove implements EventSink. Removals carry no telemetry.
func (r *Recorder) OnDeviceRemove(json.RawMessage) {}

// OnDeviceDestroy implements EventSink.
func (r *Recorder) OnDeviceDestroy(json.RawMessage) {}

func (r *Recorder) record(d Device) {
	if r.writer == nil {
		return
	}

	if v, ok := LevelValue(d.Level); ok {
		r.writer.WriteDeviceMetric(d.ID, d.DeviceIdentifier, d.DeviceType, MetricLevel, v)
	} else {
		r.logDebug("level has no numeric reading", "device_id", d.ID, "level", d.Level)
	}

	failed := 0.0
	if d.IsFailed {
		failed = 1
	}
	r.writer.WriteDeviceMetric(d.ID, d.DeviceIdentifier, d.DeviceType, MetricIsFailed, failed)
}

func (r *Recorder) logDebug(msg string, keysAndValues ...any) {
	r.loggerMu.RLock()
	logger := r.logger
	r.loggerMu.RUnlock()

	if logger != nil {
		logger.Debug(msg, keysAndValues...)
	}
}
