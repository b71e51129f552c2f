// Package api implements the HTTP status API for the Z-Wave.Me bridge.
//
// This package provides:
//   - REST endpoints to inspect the normalized device set and the hub session
//   - Command and refresh endpoints that forward to the hub connection
//   - A WebSocket stream of device events for live dashboards
//   - Middleware stack (request ID, logging, recovery, body limit)
//
// # Architecture
//
// The server reads from the hub connection manager and never keeps its own
// device state. Device events reach WebSocket clients through EventHub, which
// is registered as one of the manager's event sinks.
//
// # Graceful Degradation
//
// The server operates without MQTT and while the hub is unreachable: reads
// return the last known devices, while commands and refreshes fail with 503.
package api
