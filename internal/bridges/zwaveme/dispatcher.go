package zwaveme

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
)

// Logger interface for optional logging.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// DeviceInfoRequester issues get_device_info requests for lazily discovered
// devices. Manager satisfies it.
type DeviceInfoRequester interface {
	GetDeviceInfo(deviceID string) error
}

// DispatcherOptions holds configuration for creating a dispatcher.
type DispatcherOptions struct {
	// Platforms is the allow-list of raw deviceTypes accepted from a
	// snapshot. Empty accepts all.
	Platforms []string

	// Store receives snapshot, discovery and removal updates.
	// Required.
	Store *DeviceStore

	// Sink receives events. Nil means events are dropped.
	Sink EventSink

	// Requester issues get_device_info for devices seen in a namespace
	// update but absent from the store.
	Requester DeviceInfoRequester

	// OnUUID is called with the hub uuid from a get_info reply.
	OnUUID func(uuid string)
}

// Dispatcher decodes inbound frames and routes them by envelope type.
//
// HandleFrame is meant to be called from a single goroutine. A failing frame
// returns an error and leaves the dispatcher ready for the next one.
type Dispatcher struct {
	platforms map[string]struct{}
	store     *DeviceStore
	requester DeviceInfoRequester
	onUUID    func(string)

	sink   EventSink
	sinkMu sync.RWMutex
}

// NewDispatcher creates a dispatcher.
func NewDispatcher(opts DispatcherOptions) *Dispatcher {
	store := opts.Store
	if store == nil {
		store = NewDeviceStore()
	}

	var platforms map[string]struct{}
	if len(opts.Platforms) > 0 {
		platforms = make(map[string]struct{}, len(opts.Platforms))
		for _, p := range opts.Platforms {
			platforms[p] = struct{}{}
		}
	}

	return &Dispatcher{
		platforms: platforms,
		store:     store,
		requester: opts.Requester,
		onUUID:    opts.OnUUID,
		sink:      opts.Sink,
	}
}

// SetSink replaces the event sink.
func (d *Dispatcher) SetSink(sink EventSink) {
	d.sinkMu.Lock()
	d.sink = sink
	d.sinkMu.Unlock()
}

// getSink returns the current sink, never nil.
func (d *Dispatcher) getSink() EventSink {
	d.sinkMu.RLock()
	defer d.sinkMu.RUnlock()
	if d.sink == nil {
		return NopSink{}
	}
	return d.sink
}

// Store returns the device store the dispatcher writes to.
func (d *Dispatcher) Store() *DeviceStore {
	return d.store
}

// HandleFrame processes one inbound text frame.
//
// Empty frames and frames without a type are ignored. Decode failures,
// unmet preconditions that indicate corruption, and panics in handlers or
// sinks are returned as errors.
func (d *Dispatcher) HandleFrame(frame []byte) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrHandlerPanic, r)
		}
	}()

	if len(bytes.TrimSpace(frame)) == 0 {
		return nil
	}

	env, err := decodeEnvelope(frame)
	if err != nil {
		return err
	}

	switch env.Type {
	case EventGetDevices:
		err = d.handleGetDevices(env.Data)
	case EventGetDeviceInfo:
		err = d.handleGetDeviceInfo(env.Data)
	case EventDeviceLevel:
		err = d.handleDeviceLevel(env.Data)
	case EventNamespacesUpdate:
		err = d.handleNamespacesUpdate(env.Data)
	case EventGetInfo:
		err = d.handleGetInfo(env.Data)
	case EventDeviceRemove:
		d.handleRemove(env.Data, d.getSink().OnDeviceRemove)
	case EventDeviceWipe:
		d.handleRemove(env.Data, d.getSink().OnDeviceDestroy)
	default:
		return nil
	}

	// A reply without a body carries nothing to act on.
	if errors.Is(err, ErrMissingBody) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("%s: %w", env.Type, err)
	}
	return nil
}

// handleGetDevices replaces the device set from a snapshot.
func (d *Dispatcher) handleGetDevices(data json.RawMessage) error {
	var body devicesBody
	if err := decodeBody(data, &body); err != nil {
		return err
	}
	if body.Data.Devices == nil {
		return nil
	}

	var (
		ids     []string
		visible []Device
		errs    []error
	)
	for _, rawJSON := range *body.Data.Devices {
		raw, err := decodeRawDevice(rawJSON)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		// Excluded and hidden ids are remembered so namespace updates do
		// not request them again.
		ids = append(ids, string(raw.ID))
		if !d.allowed(string(raw.DeviceType)) || raw.Hidden() {
			continue
		}
		visible = append(visible, Normalize(raw))
	}

	d.store.Replace(ids, visible)
	if visible == nil {
		visible = []Device{}
	}
	d.getSink().OnDeviceCreate(visible)

	return errors.Join(errs...)
}

// handleGetDeviceInfo adds a single lazily discovered device.
func (d *Dispatcher) handleGetDeviceInfo(data json.RawMessage) error {
	var body deviceInfoBody
	if err := decodeBody(data, &body); err != nil {
		return err
	}
	if isNull(body.Data) {
		return nil
	}

	var probe struct {
		ID *looseString `json:"id"`
	}
	if err := json.Unmarshal(body.Data, &probe); err != nil {
		return fmt.Errorf("%w: device info: %w", ErrInvalidFrame, err)
	}
	if probe.ID == nil {
		return nil
	}

	raw, err := decodeRawDevice(body.Data)
	if err != nil {
		return err
	}
	if !d.allowed(string(raw.DeviceType)) || raw.Hidden() {
		d.store.Remember(string(raw.ID))
		return nil
	}

	device := Normalize(raw)
	d.store.Put(device)
	d.getSink().OnNewDevice(device)
	return nil
}

// handleDeviceLevel turns a level notification into an update event.
func (d *Dispatcher) handleDeviceLevel(data json.RawMessage) error {
	if isNull(data) {
		return fmt.Errorf("%w: level notification without data", ErrInvalidFrame)
	}

	raw, err := decodeRawDevice(data)
	if err != nil {
		return err
	}
	if raw.Hidden() {
		return nil
	}

	device := Normalize(raw)
	if device.DeviceType == TypeSensorMultilevel {
		level, err := sensorLevel(raw.Metrics.Level)
		if err != nil {
			return err
		}
		device.Level = level
	}

	d.store.Update(device)
	d.getSink().OnDeviceUpdate(device)
	return nil
}

// handleNamespacesUpdate requests info for device ids the store has not seen.
func (d *Dispatcher) handleNamespacesUpdate(data json.RawMessage) error {
	var entries []namespaceEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return fmt.Errorf("%w: namespaces: %w", ErrInvalidFrame, err)
	}

	var ids []string
	for _, entry := range entries {
		if entry.ID != namespaceDevicesAll {
			continue
		}
		for _, p := range entry.Params {
			ids = append(ids, string(p.DeviceID))
		}
	}

	missing := d.store.Unknown(ids)
	if len(missing) == 0 || d.requester == nil {
		return nil
	}

	var errs []error
	for _, id := range missing {
		if err := d.requester.GetDeviceInfo(id); err != nil {
			errs = append(errs, fmt.Errorf("request %s: %w", id, err))
		}
	}
	return errors.Join(errs...)
}

// handleGetInfo stores the hub uuid.
func (d *Dispatcher) handleGetInfo(data json.RawMessage) error {
	var body infoBody
	if err := decodeBody(data, &body); err != nil {
		return err
	}
	if uuid := string(body.Data.UUID); uuid != "" && d.onUUID != nil {
		d.onUUID(uuid)
	}
	return nil
}

// handleRemove forwards a removal payload and drops the id from the store.
func (d *Dispatcher) handleRemove(data json.RawMessage, emit func(json.RawMessage)) {
	if id := payloadDeviceID(data); id != "" {
		d.store.Remove(id)
	}
	emit(data)
}

// allowed applies the platform allow-list.
func (d *Dispatcher) allowed(deviceType string) bool {
	if d.platforms == nil {
		return true
	}
	_, ok := d.platforms[deviceType]
	return ok
}
