package zwaveme

import (
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
)

// MockMQTTClient implements MQTTClient for testing.
type MockMQTTClient struct {
	mu           sync.Mutex
	published    []mockPublish
	subscribed   []string
	unsubscribed []string
	connected    bool
	publishErr   error
	handlers     map[string]func(topic string, payload []byte)
}

type mockPublish struct {
	Topic    string
	Payload  []byte
	QoS      byte
	Retained bool
}

func NewMockMQTTClient() *MockMQTTClient {
	return &MockMQTTClient{
		connected: true,
		handlers:  make(map[string]func(topic string, payload []byte)),
	}
}

func (m *MockMQTTClient) Publish(topic string, payload []byte, qos byte, retained bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.publishErr != nil {
		return m.publishErr
	}
	m.published = append(m.published, mockPublish{
		Topic:    topic,
		Payload:  payload,
		QoS:      qos,
		Retained: retained,
	})
	return nil
}

func (m *MockMQTTClient) Subscribe(topic string, _ byte, handler func(topic string, payload []byte)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscribed = append(m.subscribed, topic)
	m.handlers[topic] = handler
	return nil
}

func (m *MockMQTTClient) Unsubscribe(topic string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unsubscribed = append(m.unsubscribed, topic)
	delete(m.handlers, topic)
	return nil
}

// PublishRetained publishes at QoS 1, the configured default.
func (m *MockMQTTClient) PublishRetained(topic string, payload []byte) error {
	return m.Publish(topic, payload, 1, true)
}

func (m *MockMQTTClient) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

func (m *MockMQTTClient) SetConnected(connected bool) {
	m.mu.Lock()
	m.connected = connected
	m.mu.Unlock()
}

func (m *MockMQTTClient) GetPublished() []mockPublish {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]mockPublish(nil), m.published...)
}

// PublishedTo returns messages published on topic.
func (m *MockMQTTClient) PublishedTo(topic string) []mockPublish {
	var out []mockPublish
	for _, p := range m.GetPublished() {
		if p.Topic == topic {
			out = append(out, p)
		}
	}
	return out
}

// SimulateMessage delivers a message to the handler subscribed on pattern.
func (m *MockMQTTClient) SimulateMessage(pattern, topic string, payload []byte) {
	m.mu.Lock()
	handler, ok := m.handlers[pattern]
	m.mu.Unlock()
	if ok {
		handler(topic, payload)
	}
}

// fakeCommander records commands sent to the hub.
type fakeCommander struct {
	mu       sync.Mutex
	commands []string
	err      error
}

func (c *fakeCommander) SendCommand(deviceID, command string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.commands = append(c.commands, deviceID+" "+command)
	return nil
}

func (c *fakeCommander) Commands() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.commands...)
}

func newTestPublisher(t *testing.T) (*Publisher, *MockMQTTClient, *fakeCommander) {
	t.Helper()
	mqtt := NewMockMQTTClient()
	cmd := &fakeCommander{}
	p, err := NewPublisher(PublisherOptions{MQTT: mqtt, Commander: cmd, BridgeID: "zwaveme-test"})
	if err != nil {
		t.Fatalf("NewPublisher() error = %v", err)
	}
	if err := p.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(p.Stop)
	return p, mqtt, cmd
}

func TestNewPublisher_RequiresMQTT(t *testing.T) {
	if _, err := NewPublisher(PublisherOptions{}); err == nil {
		t.Error("NewPublisher() without MQTT should fail")
	}
}

func TestPublisher_SubscribesToCommands(t *testing.T) {
	_, mqtt, _ := newTestPublisher(t)

	mqtt.mu.Lock()
	defer mqtt.mu.Unlock()
	if len(mqtt.subscribed) != 1 || mqtt.subscribed[0] != "graylogic/command/zwaveme/+" {
		t.Errorf("subscribed = %v", mqtt.subscribed)
	}
}

func TestPublisher_SnapshotPublishesStateAndDiscovery(t *testing.T) {
	p, mqtt, _ := newTestPublisher(t)

	devices := []Device{
		{ID: "ZWayVDev_zway_2-0-37", DeviceIdentifier: "1_2", DeviceType: TypeSwitchBinary, Level: LevelOn, Title: "Plug"},
		{ID: "ZWayVDev_zway_3-0-49-1", DeviceIdentifier: "1_3", DeviceType: TypeSensorMultilevel, Level: "21.4"},
	}
	p.OnDeviceCreate(devices)
	p.Stop()

	state := mqtt.PublishedTo("graylogic/state/zwaveme/ZWayVDev_zway_2-0-37")
	if len(state) != 1 {
		t.Fatalf("state messages = %d, want 1", len(state))
	}
	if !state[0].Retained || state[0].QoS != 1 {
		t.Errorf("state retained=%v qos=%d, want retained QoS 1", state[0].Retained, state[0].QoS)
	}

	var msg StateMessage
	if err := json.Unmarshal(state[0].Payload, &msg); err != nil {
		t.Fatalf("unmarshal state: %v", err)
	}
	if msg.DeviceID != "ZWayVDev_zway_2-0-37" || msg.Address != "1_2" || msg.Device.Level != LevelOn || msg.Protocol != Protocol {
		t.Errorf("state message = %+v", msg)
	}

	discovery := mqtt.PublishedTo(DiscoveryTopic())
	if len(discovery) != 1 {
		t.Fatalf("discovery messages = %d, want 1", len(discovery))
	}
	var disc DiscoveryMessage
	if err := json.Unmarshal(discovery[0].Payload, &disc); err != nil {
		t.Fatalf("unmarshal discovery: %v", err)
	}
	if !disc.Snapshot || disc.Bridge != "zwaveme-test" || len(disc.Devices) != 2 || disc.Devices[0].SuggestedName != "Plug" {
		t.Errorf("discovery = %+v", disc)
	}

	// State precedes discovery.
	all := mqtt.GetPublished()
	if all[len(all)-1].Topic != DiscoveryTopic() {
		t.Errorf("last topic = %s, want discovery", all[len(all)-1].Topic)
	}
}

func TestPublisher_ChannelsOfOneNodeKeepSeparateState(t *testing.T) {
	p, mqtt, _ := newTestPublisher(t)

	p.OnDeviceCreate([]Device{
		{ID: "ZWayVDev_zway_5-0-37", DeviceIdentifier: "1_5", DeviceType: TypeSwitchBinary, Level: LevelOn},
		{ID: "ZWayVDev_zway_5-0-49-1", DeviceIdentifier: "1_5", DeviceType: TypeSensorMultilevel, Level: "21.4"},
	})
	p.Stop()

	if got := len(mqtt.PublishedTo("graylogic/state/zwaveme/1_5")); got != 0 {
		t.Errorf("state messages on node topic = %d, want 0", got)
	}
	for _, id := range []string{"ZWayVDev_zway_5-0-37", "ZWayVDev_zway_5-0-49-1"} {
		state := mqtt.PublishedTo(StateTopic(id))
		if len(state) != 1 {
			t.Fatalf("state messages for %s = %d, want 1", id, len(state))
		}
		var msg StateMessage
		if err := json.Unmarshal(state[0].Payload, &msg); err != nil {
			t.Fatalf("unmarshal state: %v", err)
		}
		if msg.DeviceID != id || msg.Address != "1_5" {
			t.Errorf("state for %s = device_id %q address %q", id, msg.DeviceID, msg.Address)
		}
	}
}

func TestPublisher_UpdateNewAndRemovals(t *testing.T) {
	p, mqtt, _ := newTestPublisher(t)

	p.OnDeviceUpdate(Device{ID: "a", DeviceIdentifier: "a", Level: LevelOff})
	p.OnNewDevice(Device{ID: "b", DeviceIdentifier: "1_9"})
	p.OnDeviceRemove(json.RawMessage(`"a"`))
	p.OnDeviceDestroy(json.RawMessage(`{"id":"b"}`))
	p.Stop()

	if len(mqtt.PublishedTo(StateTopic("a"))) != 1 || len(mqtt.PublishedTo(StateTopic("b"))) != 1 {
		t.Error("missing state messages for update or new device")
	}

	var disc DiscoveryMessage
	json.Unmarshal(mqtt.PublishedTo(DiscoveryTopic())[0].Payload, &disc)
	if disc.Snapshot || len(disc.Devices) != 1 || disc.Devices[0].DeviceID != "b" {
		t.Errorf("new device discovery = %+v", disc)
	}

	removed := mqtt.PublishedTo("graylogic/event/zwaveme/removed")
	destroyed := mqtt.PublishedTo("graylogic/event/zwaveme/destroyed")
	if len(removed) != 1 || len(destroyed) != 1 {
		t.Fatalf("removed=%d destroyed=%d, want 1/1", len(removed), len(destroyed))
	}
	var ev EventMessage
	json.Unmarshal(destroyed[0].Payload, &ev)
	if ev.Kind != EventKindDestroyed || ev.DeviceID != "b" || string(ev.Payload) != `{"id":"b"}` {
		t.Errorf("destroy event = %+v payload=%s", ev, ev.Payload)
	}
	if removed[0].Retained {
		t.Error("events must not be retained")
	}
}

func TestPublisher_StopUnsubscribesCommands(t *testing.T) {
	p, mqtt, cmd := newTestPublisher(t)
	mqtt.mu.Lock()
	handler := mqtt.handlers[CommandSubscribeTopic()]
	mqtt.mu.Unlock()

	p.Stop()
	p.Stop()

	mqtt.mu.Lock()
	unsubscribed := append([]string(nil), mqtt.unsubscribed...)
	mqtt.mu.Unlock()
	if len(unsubscribed) != 1 || unsubscribed[0] != CommandSubscribeTopic() {
		t.Errorf("unsubscribed = %v, want [%s]", unsubscribed, CommandSubscribeTopic())
	}

	sendCommand(mqtt, "plug", `{"command":"on"}`)
	// A delivery already in flight when Stop ran.
	handler(CommandTopic("plug"), []byte(`{"command":"on"}`))

	if got := cmd.Commands(); len(got) != 0 {
		t.Errorf("commands after Stop = %v, want none", got)
	}
	if len(mqtt.PublishedTo(AckTopic("plug"))) != 0 {
		t.Error("commands after Stop should not be acked")
	}
	if err := p.Start(); !errors.Is(err, ErrClosed) {
		t.Errorf("Start() after Stop = %v, want ErrClosed", err)
	}
}

func TestPublisher_OutboxFullDrops(t *testing.T) {
	mqtt := NewMockMQTTClient()
	p, err := NewPublisher(PublisherOptions{MQTT: mqtt, OutboxSize: 2})
	if err != nil {
		t.Fatalf("NewPublisher() error = %v", err)
	}

	// Not started: nothing drains the outbox.
	for i := 0; i < 5; i++ {
		p.OnDeviceUpdate(Device{ID: "a", DeviceIdentifier: "a"})
	}
	if got := p.Stats().Dropped; got != 3 {
		t.Errorf("Dropped = %d, want 3", got)
	}
}

func TestPublisher_PublishErrorsCounted(t *testing.T) {
	p, mqtt, _ := newTestPublisher(t)
	mqtt.mu.Lock()
	mqtt.publishErr = errors.New("broker down")
	mqtt.mu.Unlock()

	p.OnDeviceUpdate(Device{ID: "a", DeviceIdentifier: "a"})
	p.Stop()

	if got := p.Stats().PublishErrors; got != 1 {
		t.Errorf("PublishErrors = %d, want 1", got)
	}
}

func sendCommand(mqtt *MockMQTTClient, deviceID, payload string) {
	mqtt.SimulateMessage(CommandSubscribeTopic(), CommandTopic(deviceID), []byte(payload))
}

func lastAck(t *testing.T, mqtt *MockMQTTClient, deviceID string) AckMessage {
	t.Helper()
	acks := mqtt.PublishedTo(AckTopic(deviceID))
	if len(acks) == 0 {
		t.Fatalf("no ack published for %s", deviceID)
	}
	var ack AckMessage
	if err := json.Unmarshal(acks[len(acks)-1].Payload, &ack); err != nil {
		t.Fatalf("unmarshal ack: %v", err)
	}
	return ack
}

func TestPublisher_CommandForwarded(t *testing.T) {
	_, mqtt, cmd := newTestPublisher(t)

	sendCommand(mqtt, "dimmer1", `{"id":"cmd-1","timestamp":"2026-01-15T10:00:00Z","device_id":"dimmer1","command":"dim","parameters":{"level":150},"source":"api"}`)

	if got := cmd.Commands(); len(got) != 1 || got[0] != "dimmer1 exact?level=99" {
		t.Errorf("commands = %v, want clamped exact?level=99", got)
	}
	ack := lastAck(t, mqtt, "dimmer1")
	if ack.CommandID != "cmd-1" || ack.Status != AckAccepted || ack.HubPath != CommandPath("dimmer1", "exact?level=99") {
		t.Errorf("ack = %+v", ack)
	}
}

func TestPublisher_CommandDeviceFromTopicAndGeneratedID(t *testing.T) {
	_, mqtt, cmd := newTestPublisher(t)

	sendCommand(mqtt, "plug", `{"command":"on"}`)

	if got := cmd.Commands(); len(got) != 1 || got[0] != "plug on" {
		t.Errorf("commands = %v", got)
	}
	ack := lastAck(t, mqtt, "plug")
	if ack.CommandID == "" {
		t.Error("a command without an id should get a generated one")
	}
}

func TestPublisher_CommandErrors(t *testing.T) {
	tests := []struct {
		name     string
		payload  string
		sendErr  error
		wantCode string
	}{
		{"bad json", `{`, nil, ""},
		{"empty command", `{"command":""}`, nil, ErrCodeInvalidCommand},
		{"path injection", `{"command":"on/../../x"}`, nil, ErrCodeInvalidCommand},
		{"device id differs from topic", `{"device_id":"../other","command":"on"}`, nil, ErrCodeInvalidCommand},
		{"dim without level", `{"command":"dim"}`, nil, ErrCodeInvalidParameters},
		{"level not a number", `{"command":"dim","parameters":{"level":"bright"}}`, nil, ErrCodeInvalidParameters},
		{"hub disconnected", `{"command":"on"}`, ErrNotConnected, ErrCodeNotConnected},
		{"manager closed", `{"command":"on"}`, ErrClosed, ErrCodeNotConnected},
		{"other failure", `{"command":"on"}`, errors.New("boom"), ErrCodeBridgeError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, mqtt, cmd := newTestPublisher(t)
			cmd.err = tt.sendErr

			sendCommand(mqtt, "dev", tt.payload)

			if got := p.Stats().CommandErrors; got != 1 {
				t.Errorf("CommandErrors = %d, want 1", got)
			}
			if tt.wantCode == "" {
				if len(mqtt.PublishedTo(AckTopic("dev"))) != 0 {
					t.Error("unparseable command should not be acked")
				}
				return
			}
			ack := lastAck(t, mqtt, "dev")
			if ack.Status != AckFailed || ack.Error == nil || ack.Error.Code != tt.wantCode {
				t.Errorf("ack = %+v, want failed %s", ack, tt.wantCode)
			}
		})
	}
}

func TestPublisher_CommandDeviceIDRejected(t *testing.T) {
	for _, id := range []string{"a/b", "..", "dev?x=1", "dev#1", "dev&x", "dev%2F"} {
		t.Run(id, func(t *testing.T) {
			_, mqtt, cmd := newTestPublisher(t)

			sendCommand(mqtt, id, `{"command":"on"}`)

			if got := cmd.Commands(); len(got) != 0 {
				t.Errorf("commands = %v, want none", got)
			}
			ack := lastAck(t, mqtt, id)
			if ack.Status != AckFailed || ack.Error == nil || ack.Error.Code != ErrCodeInvalidCommand {
				t.Errorf("ack = %+v, want failed %s", ack, ErrCodeInvalidCommand)
			}
		})
	}
}

func TestTranslateCommand(t *testing.T) {
	tests := []struct {
		command string
		params  map[string]any
		want    string
		wantErr bool
	}{
		{"on", nil, "on", false},
		{" off ", nil, "off", false},
		{"open", nil, "open", false},
		{"stop", map[string]any{"ignored": 1}, "stop", false},
		{"dim", map[string]any{"level": 42.0}, "exact?level=42", false},
		{"dim", map[string]any{"level": 42.6}, "exact?level=43", false},
		{"set_level", map[string]any{"level": "17"}, "exact?level=17", false},
		{"exact", map[string]any{"level": -5}, "exact?level=0", false},
		{"exact", nil, "exact", false},
		{"color", map[string]any{"red": 255.0, "green": 10, "blue": "0"}, "exact?red=255&green=10&blue=0", false},
		{"color", map[string]any{"red": 300.0, "green": 0.0, "blue": 0.0}, "exact?red=255&green=0&blue=0", false},
		{"color", map[string]any{"red": 1.0}, "", true},
		{"dim", nil, "", true},
		{"", nil, "", true},
		{"a/b", nil, "", true},
		{"on?x=1", nil, "", true},
	}

	for _, tt := range tests {
		got, err := TranslateCommand(tt.command, tt.params)
		if (err != nil) != tt.wantErr {
			t.Errorf("TranslateCommand(%q, %v) error = %v, wantErr %v", tt.command, tt.params, err, tt.wantErr)
			continue
		}
		if err != nil && !errors.Is(err, ErrInvalidCommand) {
			t.Errorf("TranslateCommand(%q) error = %v, want ErrInvalidCommand", tt.command, err)
		}
		if got != tt.want {
			t.Errorf("TranslateCommand(%q, %v) = %q, want %q", tt.command, tt.params, got, tt.want)
		}
	}
}

func TestTopics(t *testing.T) {
	tests := []struct {
		got  string
		want string
	}{
		{StateTopic("ZWayVDev_zway_5-0-37"), "graylogic/state/zwaveme/ZWayVDev_zway_5-0-37"},
		{CommandTopic("ZWayVDev_zway_5-0-37"), "graylogic/command/zwaveme/ZWayVDev_zway_5-0-37"},
		{AckTopic("a/b"), "graylogic/ack/zwaveme/a%2Fb"},
		{HealthTopic(), "graylogic/health/zwaveme"},
		{DiscoveryTopic(), "graylogic/discovery/zwaveme"},
		{EventTopic(EventKindRemoved), "graylogic/event/zwaveme/removed"},
		{CommandSubscribeTopic(), "graylogic/command/zwaveme/+"},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("topic = %q, want %q", tt.got, tt.want)
		}
	}
}

func TestTopicSegmentRoundTrip(t *testing.T) {
	for _, id := range []string{"plain", "a/b", "x+y#z", "100%", "%2F"} {
		enc := EncodeTopicSegment(id)
		if strings.ContainsAny(enc, "/+#") {
			t.Errorf("EncodeTopicSegment(%q) = %q still has topic metacharacters", id, enc)
		}
		if dec := DecodeTopicSegment(enc); dec != id {
			t.Errorf("DecodeTopicSegment(EncodeTopicSegment(%q)) = %q", id, dec)
		}
	}
}

func TestCommandMessage_Timestamp(t *testing.T) {
	var cmd CommandMessage
	if err := json.Unmarshal([]byte(`{"id":"1","timestamp":"2026-01-15T10:00:00Z","command":"on"}`), &cmd); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if !cmd.Timestamp.Equal(time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)) {
		t.Errorf("Timestamp = %v", cmd.Timestamp)
	}

	if err := json.Unmarshal([]byte(`{"id":"1","timestamp":"yesterday"}`), &cmd); err == nil {
		t.Error("Unmarshal() should reject a malformed timestamp")
	}
}
