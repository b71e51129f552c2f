package zwaveme

import "encoding/json"

// EventSink receives dispatcher events.
//
// Methods are called synchronously on the dispatch goroutine, in frame order.
// A slow sink stalls the hub stream, so implementations must not block.
type EventSink interface {
	// OnDeviceCreate receives the full visible device list of a snapshot.
	OnDeviceCreate(devices []Device)

	// OnDeviceUpdate receives a device whose level changed.
	OnDeviceUpdate(device Device)

	// OnNewDevice receives a device discovered after the last snapshot.
	OnNewDevice(device Device)

	// OnDeviceRemove receives the raw payload of a remove notification.
	OnDeviceRemove(payload json.RawMessage)

	// OnDeviceDestroy receives the raw payload of a wipe notification.
	OnDeviceDestroy(payload json.RawMessage)
}

// SinkFuncs adapts optional callbacks to EventSink. Nil fields are no-ops.
type SinkFuncs struct {
	DeviceCreate  func(devices []Device)
	DeviceUpdate  func(device Device)
	NewDevice     func(device Device)
	DeviceRemove  func(payload json.RawMessage)
	DeviceDestroy func(payload json.RawMessage)
}

var _ EventSink = SinkFuncs{}

// OnDeviceCreate implements EventSink.
func (f SinkFuncs) OnDeviceCreate(devices []Device) {
	if f.DeviceCreate != nil {
		f.DeviceCreate(devices)
	}
}

// OnDeviceUpdate implements EventSink.
func (f SinkFuncs) OnDeviceUpdate(device Device) {
	if f.DeviceUpdate != nil {
		f.DeviceUpdate(device)
	}
}

// OnNewDevice implements EventSink.
func (f SinkFuncs) OnNewDevice(device Device) {
	if f.NewDevice != nil {
		f.NewDevice(device)
	}
}

// OnDeviceRemove implements EventSink.
func (f SinkFuncs) OnDeviceRemove(payload json.RawMessage) {
	if f.DeviceRemove != nil {
		f.DeviceRemove(payload)
	}
}

// OnDeviceDestroy implements EventSink.
func (f SinkFuncs) OnDeviceDestroy(payload json.RawMessage) {
	if f.DeviceDestroy != nil {
		f.DeviceDestroy(payload)
	}
}

// MultiSink fans every event out to each sink in order.
type MultiSink []EventSink

var _ EventSink = MultiSink(nil)

// OnDeviceCreate implements EventSink.
func (m MultiSink) OnDeviceCreate(devices []Device) {
	for _, s := range m {
		s.OnDeviceCreate(devices)
	}
}

// OnDeviceUpdate implements EventSink.
func (m MultiSink) OnDeviceUpdate(device Device) {
	for _, s := range m {
		s.OnDeviceUpdate(device)
	}
}

// OnNewDevice implements EventSink.
func (m MultiSink) OnNewDevice(device Device) {
	for _, s := range m {
		s.OnNewDevice(device)
	}
}

// OnDeviceRemove implements EventSink.
func (m MultiSink) OnDeviceRemove(payload json.RawMessage) {
	for _, s := range m {
		s.OnDeviceRemove(payload)
	}
}

// OnDeviceDestroy implements EventSink.
func (m MultiSink) OnDeviceDestroy(payload json.RawMessage) {
	for _, s := range m {
		s.OnDeviceDestroy(payload)
	}
}

// NopSink discards every event.
type NopSink struct{}

var _ EventSink = NopSink{}

func (NopSink) OnDeviceCreate([]Device) {}
func (NopSink) OnDeviceUpdate(Device) {}
func (NopSink) OnNewDevice(Device) {}
func (NopSink) OnDeviceRemove(json.RawMessage) {}
func (NopSink) OnDeviceDestroy(json.RawMessage) {}
