// Package zwaveme implements the Gray Logic bridge for Z-Wave.Me hubs.
//
// The hub speaks a pseudo-HTTP protocol over a single websocket: requests are
// "httpEncapsulatedRequest" events, and replies and push notifications arrive
// as JSON envelopes with a type discriminator. This package owns that socket
// and turns what arrives on it into canonical device records.
//
// # Architecture
//
//	Z-Wave.Me hub ↔ Transport ↔ Manager ─┬─ Dispatcher → Normalize → EventSink
//	                                     └─ DeviceStore
//
//   - Manager supervises one Transport at a time, reconnecting after a fixed
//     delay for as long as it is not closed.
//   - Dispatcher routes each frame by type and reports per-frame errors to the
//     Manager, which logs them and moves on.
//   - Normalize maps the hub's inconsistent probeType/tags/level fields onto a
//     canonical device type and level encoding.
//   - EventSink is the consumer contract. Publisher (MQTT) and Recorder
//     (InfluxDB) are the sinks shipped with the bridge.
//
// # Thread Safety
//
// Frames are dispatched serially on the transport goroutine. Sinks are called
// synchronously on that goroutine and must not block. DeviceStore and Manager
// are safe for concurrent use.
//
// # Usage
//
//	m := zwaveme.NewManager(zwaveme.ManagerOptions{
//	    URL:   "ws://192.168.1.20:8083",
//	    Token: token,
//	    Sink:  zwaveme.MultiSink{publisher, recorder},
//	})
//	if err := m.Connect(ctx); err != nil {
//	    log.Warn("hub not reachable yet", "error", err)
//	}
//	defer m.Close()
package zwaveme
