package zwaveme

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// MQTT message types exchanged between Gray Logic Core and the Z-Wave.Me bridge.

// Protocol is the protocol identifier used in topics and messages.
const Protocol = "zwaveme"

// CommandMessage is sent from Core to Bridge to actuate a device.
// Topic: graylogic/command/zwaveme/{device_id}
type CommandMessage struct {
	// ID uniquely identifies this command for correlation with acknowledgments.
	ID string `json:"id"`

	// Timestamp is when the command was issued (UTC, ISO8601).
	Timestamp time.Time `json:"timestamp"`

	// DeviceID is the hub device id (e.g. "ZWayVDev_zway_5-0-37").
	DeviceID string `json:"device_id"`

	// Command is the command name (e.g., "on", "off", "dim", "open", "stop").
	// Anything not translated is passed to the hub as-is.
	Command string `json:"command"`

	// Parameters contains command-specific values.
	// Examples:
	//   {"level": 50} for dim
	//   {"red": 255, "green": 0, "blue": 0} for color
	Parameters map[string]any `json:"parameters,omitempty"`

	// Source indicates where the command originated.
	Source string `json:"source"`
}

// AckStatus represents the acknowledgment status of a command.
type AckStatus string

const (
	// AckAccepted indicates the command was written to the hub socket.
	AckAccepted AckStatus = "accepted"

	// AckFailed indicates the command could not be sent.
	AckFailed AckStatus = "failed"
)

// AckMessage is sent from Bridge to Core to acknowledge a command.
// Topic: graylogic/ack/zwaveme/{device_id}
type AckMessage struct {
	CommandID string    `json:"command_id"`
	Timestamp time.Time `json:"timestamp"`
	DeviceID  string    `json:"device_id"`
	Status    AckStatus `json:"status"`
	Protocol  string    `json:"protocol"`
	HubPath   string    `json:"hub_path,omitempty"`
	Error     *AckError `json:"error,omitempty"`
}

// AckError contains error details for failed commands.
type AckError struct {
	// Code is the error code (e.g., "NOT_CONNECTED", "INVALID_COMMAND").
	Code string `json:"code"`

	// Message is a human-readable error description.
	Message string `json:"message"`
}

// Error codes for command failures.
const (
	ErrCodeNotConnected      = "NOT_CONNECTED"
	ErrCodeInvalidCommand    = "INVALID_COMMAND"
	ErrCodeInvalidParameters = "INVALID_PARAMETERS"
	ErrCodeBridgeError       = "BRIDGE_ERROR"
)

// StateMessage is sent from Bridge to Core when device state changes.
// Topic: graylogic/state/zwaveme/{device_id}
// QoS: 1, Retained: Yes
type StateMessage struct {
	// DeviceID is the hub device id.
	DeviceID string `json:"device_id"`

	// Timestamp is when the state was observed (UTC, ISO8601).
	Timestamp time.Time `json:"timestamp"`

	// Device is the canonical device record.
	Device Device `json:"device"`

	// Protocol is the protocol identifier ("zwaveme").
	Protocol string `json:"protocol"`

	// Address is the device identifier (creatorId_nodeId or id). Every
	// channel of one Z-Wave node shares it.
	Address string `json:"address"`
}

// DiscoveryMessage announces devices reported by the hub.
// Topic: graylogic/discovery/zwaveme
type DiscoveryMessage struct {
	Timestamp time.Time          `json:"timestamp"`
	Bridge    string             `json:"bridge"`
	Snapshot  bool               `json:"snapshot"` // true for a full device list
	Devices   []DiscoveredDevice `json:"devices"`
}

// DiscoveredDevice represents a device found on the hub.
type DiscoveredDevice struct {
	Protocol      string   `json:"protocol"`
	Address       string   `json:"address"`
	DeviceID      string   `json:"device_id"`
	Type          string   `json:"type"`
	ProbeType     string   `json:"probe_type,omitempty"`
	Tags          []string `json:"tags,omitempty"`
	Manufacturer  string   `json:"manufacturer,omitempty"`
	Location      string   `json:"location,omitempty"`
	SuggestedName string   `json:"suggested_name,omitempty"`
}

// Event kinds published on the event topic.
const (
	EventKindRemoved   = "removed"
	EventKindDestroyed = "destroyed"
)

// EventMessage forwards a hub notification that has no canonical form.
// Topic: graylogic/event/zwaveme/{kind}
type EventMessage struct {
	Timestamp time.Time       `json:"timestamp"`
	Kind      string          `json:"kind"`
	DeviceID  string          `json:"device_id,omitempty"`
	Payload   json.RawMessage `json:"payload"`
}

// HealthStatus represents the operational status of the bridge.
type HealthStatus string

const (
	// HealthHealthy indicates the bridge is operating normally.
	HealthHealthy HealthStatus = "healthy"

	// HealthDegraded indicates the bridge is operating with issues.
	HealthDegraded HealthStatus = "degraded"

	// HealthOffline indicates the bridge is not connected (from LWT).
	HealthOffline HealthStatus = "offline"

	// HealthStarting indicates the bridge is starting up.
	HealthStarting HealthStatus = "starting"

	// HealthStopping indicates the bridge is shutting down.
	HealthStopping HealthStatus = "stopping"
)

// HealthMessage is sent from Bridge to Core to report operational status.
// Topic: graylogic/health/zwaveme
// QoS: 1, Retained: Yes
type HealthMessage struct {
	Bridge         string            `json:"bridge"`
	Timestamp      time.Time         `json:"timestamp"`
	Status         HealthStatus      `json:"status"`
	Version        string            `json:"version"`
	UptimeSeconds  int64             `json:"uptime_seconds"`
	HubUUID        string            `json:"hub_uuid,omitempty"`
	Connection     *ConnectionStatus `json:"connection,omitempty"`
	Statistics     *BridgeStatistics `json:"statistics,omitempty"`
	DevicesManaged int               `json:"devices_managed"`
	Reason         string            `json:"reason,omitempty"`
}

// ConnectionStatus describes the hub connection state.
type ConnectionStatus struct {
	// Status is the manager state ("connected", "connecting", ...).
	Status string `json:"status"`

	// Address is the hub websocket URL.
	Address string `json:"address"`

	// ConnectedSince is when the current session opened.
	ConnectedSince *time.Time `json:"connected_since,omitempty"`
}

// BridgeStatistics contains operational metrics.
type BridgeStatistics struct {
	FramesReceived uint64 `json:"frames_received"`
	FramesDropped  uint64 `json:"frames_dropped"`
	RequestsSent   uint64 `json:"requests_sent"`
	Reconnects     uint64 `json:"reconnects"`
}

// MarshalJSON marshals a CommandMessage to JSON.
func (m *CommandMessage) MarshalJSON() ([]byte, error) {
	type Alias CommandMessage
	return json.Marshal(&struct {
		*Alias
		Timestamp string `json:"timestamp"`
	}{
		Alias:     (*Alias)(m),
		Timestamp: m.Timestamp.UTC().Format(time.RFC3339),
	})
}

// UnmarshalJSON unmarshals a CommandMessage from JSON.
// A missing timestamp is allowed.
func (m *CommandMessage) UnmarshalJSON(data []byte) error {
	type Alias CommandMessage
	aux := &struct {
		*Alias
		Timestamp string `json:"timestamp"`
	}{
		Alias: (*Alias)(m),
	}
	if err := json.Unmarshal(data, aux); err != nil {
		return fmt.Errorf("unmarshal command message: %w", err)
	}
	if aux.Timestamp != "" {
		t, err := time.Parse(time.RFC3339, aux.Timestamp)
		if err != nil {
			return fmt.Errorf("parse timestamp: %w", err)
		}
		m.Timestamp = t
	}
	return nil
}

// NewAckMessage creates an acknowledgment message for a command.
func NewAckMessage(cmd CommandMessage, status AckStatus, hubPath string) AckMessage {
	return AckMessage{
		CommandID: cmd.ID,
		Timestamp: time.Now().UTC(),
		DeviceID:  cmd.DeviceID,
		Status:    status,
		Protocol:  Protocol,
		HubPath:   hubPath,
	}
}

// NewAckError creates a failed acknowledgment with error details.
func NewAckError(cmd CommandMessage, code, message string) AckMessage {
	ack := NewAckMessage(cmd, AckFailed, "")
	ack.Error = &AckError{Code: code, Message: message}
	return ack
}

// NewStateMessage creates a state message for a device.
func NewStateMessage(d Device) StateMessage {
	return StateMessage{
		DeviceID:  d.ID,
		Timestamp: time.Now().UTC(),
		Device:    d,
		Protocol:  Protocol,
		Address:   d.DeviceIdentifier,
	}
}

// NewDiscoveryMessage creates a discovery message for devices.
func NewDiscoveryMessage(bridgeID string, snapshot bool, devices []Device) DiscoveryMessage {
	found := make([]DiscoveredDevice, 0, len(devices))
	for _, d := range devices {
		found = append(found, DiscoveredDevice{
			Protocol:      Protocol,
			Address:       d.DeviceIdentifier,
			DeviceID:      d.ID,
			Type:          d.DeviceType,
			ProbeType:     d.ProbeType,
			Tags:          d.Tags,
			Manufacturer:  d.Manufacturer,
			Location:      d.LocationName,
			SuggestedName: d.Title,
		})
	}
	return DiscoveryMessage{
		Timestamp: time.Now().UTC(),
		Bridge:    bridgeID,
		Snapshot:  snapshot,
		Devices:   found,
	}
}

// NewEventMessage wraps a raw hub notification payload.
func NewEventMessage(kind string, payload json.RawMessage) EventMessage {
	if len(payload) == 0 {
		payload = json.RawMessage("null")
	}
	return EventMessage{
		Timestamp: time.Now().UTC(),
		Kind:      kind,
		DeviceID:  payloadDeviceID(payload),
		Payload:   payload,
	}
}

// NewHealthMessage creates a health status message.
func NewHealthMessage(bridgeID, version string, status HealthStatus, stats ManagerStats, startTime time.Time) HealthMessage {
	msg := HealthMessage{
		Bridge:         bridgeID,
		Timestamp:      time.Now().UTC(),
		Status:         status,
		Version:        version,
		UptimeSeconds:  int64(time.Since(startTime).Seconds()),
		DevicesManaged: stats.Devices,
		Connection: &ConnectionStatus{
			Status: stats.State,
		},
		Statistics: &BridgeStatistics{
			FramesReceived: stats.FramesRx,
			FramesDropped:  stats.FramesDropped,
			RequestsSent:   stats.RequestsTx,
			Reconnects:     stats.ReconnectsTotal,
		},
	}

	if stats.Connected && !stats.ConnectedSince.IsZero() {
		since := stats.ConnectedSince.UTC()
		msg.Connection.ConnectedSince = &since
	}
	return msg
}

// NewLWTMessage creates a Last Will and Testament message for MQTT.
// The broker publishes it if the bridge disconnects unexpectedly.
func NewLWTMessage(bridgeID string) HealthMessage {
	return HealthMessage{
		Bridge:    bridgeID,
		Timestamp: time.Now().UTC(),
		Status:    HealthOffline,
		Reason:    "unexpected_disconnect",
	}
}

// Topic helpers

// TopicPrefix is the base topic for all Gray Logic messages.
const TopicPrefix = "graylogic"

// StateTopic returns the MQTT topic for device state, keyed like the command
// and ack topics on the hub device id.
// Example: graylogic/state/zwaveme/ZWayVDev_zway_5-0-37
func StateTopic(deviceID string) string {
	return fmt.Sprintf("%s/state/%s/%s", TopicPrefix, Protocol, EncodeTopicSegment(deviceID))
}

// CommandTopic returns the MQTT topic for commands to a device.
// Example: graylogic/command/zwaveme/ZWayVDev_zway_5-0-37
func CommandTopic(deviceID string) string {
	return fmt.Sprintf("%s/command/%s/%s", TopicPrefix, Protocol, EncodeTopicSegment(deviceID))
}

// CommandSubscribeTopic returns the subscription pattern for all commands.
func CommandSubscribeTopic() string {
	return fmt.Sprintf("%s/command/%s/+", TopicPrefix, Protocol)
}

// AckTopic returns the MQTT topic for command acknowledgments.
func AckTopic(deviceID string) string {
	return fmt.Sprintf("%s/ack/%s/%s", TopicPrefix, Protocol, EncodeTopicSegment(deviceID))
}

// HealthTopic returns the MQTT topic for health status.
// Example: graylogic/health/zwaveme
func HealthTopic() string {
	return fmt.Sprintf("%s/health/%s", TopicPrefix, Protocol)
}

// DiscoveryTopic returns the MQTT topic for device discovery.
func DiscoveryTopic() string {
	return fmt.Sprintf("%s/discovery/%s", TopicPrefix, Protocol)
}

// EventTopic returns the MQTT topic for forwarded hub notifications.
// Example: graylogic/event/zwaveme/removed
func EventTopic(kind string) string {
	return fmt.Sprintf("%s/event/%s/%s", TopicPrefix, Protocol, kind)
}

// topicEscapes encodes characters with special meaning in MQTT topics.
// '%' comes first so decoding is unambiguous.
var topicEscapes = strings.NewReplacer(
	"%", "%25",
	"/", "%2F",
	"+", "%2B",
	"#", "%23",
)

var topicUnescapes = strings.NewReplacer(
	"%2F", "/",
	"%2B", "+",
	"%23", "#",
	"%25", "%",
)

// EncodeTopicSegment escapes an id for use as a single topic level.
// Example: "a/b" → "a%2Fb"
func EncodeTopicSegment(s string) string {
	return topicEscapes.Replace(s)
}

// DecodeTopicSegment reverses EncodeTopicSegment.
func DecodeTopicSegment(s string) string {
	return topicUnescapes.Replace(s)
}
