package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-zwaveme/internal/infrastructure/config"
)

// testConfig returns a valid MQTT configuration for testing.
func testConfig() config.MQTTConfig {
	return config.MQTTConfig{
		Broker: config.MQTTBrokerConfig{
			Host:     "127.0.0.1",
			Port:     1883,
			ClientID: "zwaveme-test",
		},
		QoS: 1,
		Reconnect: config.MQTTReconnectConfig{
			InitialDelay: 1,
			MaxDelay:     5,
		},
	}
}

// requireBroker skips the test unless a broker listens on 127.0.0.1:1883.
func requireBroker(t *testing.T) {
	t.Helper()
	conn, err := net.DialTimeout("tcp", "127.0.0.1:1883", 500*time.Millisecond)
	if err != nil {
		t.Skip("MQTT broker not available at 127.0.0.1:1883")
	}
	conn.Close()
}

// connectTest connects with a per-test client ID and closes on cleanup.
func connectTest(t *testing.T, suffix string) *Client {
	t.Helper()
	requireBroker(t)
	cfg := testConfig()
	cfg.Broker.ClientID = "zwaveme-test-" + suffix
	client, err := Connect(cfg, nil)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return client
}

// mockLogger records log calls.
type mockLogger struct {
	mu     sync.Mutex
	errors []string
	warns  []string
}

func (l *mockLogger) Error(msg string, _ ...any) {
	l.mu.Lock()
	l.errors = append(l.errors, msg)
	l.mu.Unlock()
}

func (l *mockLogger) Warn(msg string, _ ...any) {
	l.mu.Lock()
	l.warns = append(l.warns, msg)
	l.mu.Unlock()
}

// newOfflineClient returns a client that was never connected.
func newOfflineClient() *Client {
	return &Client{subscriptions: make(map[string]subscription)}
}

// =============================================================================
// Option Tests
// =============================================================================

func TestBuildClientOptions(t *testing.T) {
	cfg := testConfig()
	cfg.Auth = config.MQTTAuthConfig{Username: "bridge", Password: "pw"}

	opts := buildClientOptions(cfg)

	if len(opts.Servers) != 1 || opts.Servers[0].String() != "tcp://127.0.0.1:1883" {
		t.Errorf("Servers = %v, want tcp://127.0.0.1:1883", opts.Servers)
	}
	if opts.ClientID != "zwaveme-test" {
		t.Errorf("ClientID = %q", opts.ClientID)
	}
	if opts.Username != "bridge" || opts.Password != "pw" {
		t.Errorf("credentials = %q/%q", opts.Username, opts.Password)
	}
	if !opts.CleanSession || !opts.AutoReconnect || !opts.ConnectRetry {
		t.Error("expected clean session with auto-reconnect and connect retry")
	}
	if opts.ConnectRetryInterval != time.Second || opts.MaxReconnectInterval != 5*time.Second {
		t.Errorf("backoff = %v..%v, want 1s..5s", opts.ConnectRetryInterval, opts.MaxReconnectInterval)
	}
	if opts.TLSConfig != nil {
		t.Error("TLSConfig set without TLS enabled")
	}
}

func TestBuildClientOptions_TLS(t *testing.T) {
	cfg := testConfig()
	cfg.Broker.TLS = true
	cfg.Broker.Port = 8883

	opts := buildClientOptions(cfg)

	if opts.Servers[0].String() != "ssl://127.0.0.1:8883" {
		t.Errorf("Servers[0] = %v, want ssl://127.0.0.1:8883", opts.Servers[0])
	}
	if opts.TLSConfig == nil || opts.TLSConfig.MinVersion != tlsMinVersion {
		t.Errorf("TLSConfig = %+v, want MinVersion TLS 1.2", opts.TLSConfig)
	}
}

func TestWill(t *testing.T) {
	opts := buildClientOptions(testConfig())
	will := &Will{Topic: "graylogic/health/zwaveme", Payload: []byte(`{"status":"offline"}`), QoS: 1, Retained: true}
	will.apply(opts)

	if !opts.WillEnabled || opts.WillTopic != will.Topic || string(opts.WillPayload) != string(will.Payload) {
		t.Errorf("will = %v %q %q", opts.WillEnabled, opts.WillTopic, opts.WillPayload)
	}
	if opts.WillQos != 1 || !opts.WillRetained {
		t.Errorf("will qos=%d retained=%v", opts.WillQos, opts.WillRetained)
	}
}

func TestDefaultWill(t *testing.T) {
	will := defaultWill("bridge-1")

	if will.Topic != "graylogic/system/status" || !will.Retained {
		t.Errorf("default will = %+v", will)
	}
	var payload map[string]string
	if err := json.Unmarshal(will.Payload, &payload); err != nil {
		t.Fatalf("default will payload is not JSON: %v", err)
	}
	if payload["status"] != "offline" || payload["client_id"] != "bridge-1" || payload["reason"] != "unexpected_disconnect" {
		t.Errorf("default will payload = %v", payload)
	}
}

func TestStatusPayloads(t *testing.T) {
	tests := []struct {
		name       string
		payload    string
		wantStatus string
	}{
		{"online", buildOnlinePayload("c1"), "online"},
		{"offline", buildOfflinePayload("c1"), "offline"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var m map[string]string
			if err := json.Unmarshal([]byte(tt.payload), &m); err != nil {
				t.Fatalf("payload is not JSON: %v", err)
			}
			if m["status"] != tt.wantStatus || m["client_id"] != "c1" {
				t.Errorf("payload = %v", m)
			}
			if _, err := time.Parse(time.RFC3339, m["timestamp"]); err != nil {
				t.Errorf("timestamp %q: %v", m["timestamp"], err)
			}
		})
	}
}

func TestTopics(t *testing.T) {
	if got := (Topics{}).SystemStatus(); got != "graylogic/system/status" {
		t.Errorf("SystemStatus() = %q", got)
	}
}

// =============================================================================
// Offline Client Tests
// =============================================================================

func TestCloseNil(t *testing.T) {
	client := &Client{}
	if err := client.Close(); err != nil {
		t.Errorf("Close() on unconnected client error = %v, want nil", err)
	}
}

func TestIsConnected_InitialState(t *testing.T) {
	if (&Client{}).IsConnected() {
		t.Error("IsConnected() should be false for uninitialised client")
	}
}

func TestHealthCheck_Offline(t *testing.T) {
	client := newOfflineClient()

	if err := client.HealthCheck(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("HealthCheck() error = %v, want ErrNotConnected", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := client.HealthCheck(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("HealthCheck(cancelled) error = %v, want context.Canceled", err)
	}
}

func TestPublish_Validation(t *testing.T) {
	client := newOfflineClient()

	tests := []struct {
		name    string
		topic   string
		payload []byte
		qos     byte
		wantErr error
	}{
		{"empty topic", "", nil, 1, ErrInvalidTopic},
		{"invalid qos", "graylogic/test", nil, 3, ErrInvalidQoS},
		{"payload too large", "graylogic/test", make([]byte, maxPayloadSize+1), 1, ErrPublishFailed},
		{"not connected", "graylogic/test", []byte("x"), 1, ErrNotConnected},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := client.Publish(tt.topic, tt.payload, tt.qos, false)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Publish() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestSubscribe_Validation(t *testing.T) {
	client := newOfflineClient()
	handler := func(string, []byte) error { return nil }

	tests := []struct {
		name    string
		topic   string
		qos     byte
		handler MessageHandler
		wantErr error
	}{
		{"empty topic", "", 1, handler, ErrInvalidTopic},
		{"invalid qos", "graylogic/#", 3, handler, ErrInvalidQoS},
		{"nil handler", "graylogic/#", 1, nil, ErrSubscribeFailed},
		{"not connected", "graylogic/#", 1, handler, ErrNotConnected},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := client.Subscribe(tt.topic, tt.qos, tt.handler)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Subscribe() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
	if client.SubscriptionCount() != 0 {
		t.Errorf("SubscriptionCount() = %d after failed subscribes, want 0", client.SubscriptionCount())
	}

	if err := client.Unsubscribe(""); !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("Unsubscribe(\"\") error = %v, want ErrInvalidTopic", err)
	}
	if err := client.Unsubscribe("graylogic/#"); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Unsubscribe() error = %v, want ErrNotConnected", err)
	}
}

func TestDispatch_RecoversPanic(t *testing.T) {
	client := newOfflineClient()
	logger := &mockLogger{}
	client.SetLogger(logger)

	client.dispatch(func(string, []byte) error { panic("boom") }, "t", nil)
	client.dispatch(func(string, []byte) error { return errors.New("bad payload") }, "t", nil)
	client.dispatch(func(string, []byte) error { return nil }, "t", nil)

	logger.mu.Lock()
	defer logger.mu.Unlock()
	if len(logger.errors) != 1 || len(logger.warns) != 1 {
		t.Errorf("errors=%v warns=%v, want one of each", logger.errors, logger.warns)
	}
}

func TestConnectionCallbacks(t *testing.T) {
	client := newOfflineClient()

	var lost error
	client.SetOnDisconnect(func(err error) { lost = err })
	client.handleDisconnect(errors.New("network down"))

	if lost == nil || lost.Error() != "network down" {
		t.Errorf("OnDisconnect err = %v", lost)
	}
	if client.IsConnected() {
		t.Error("IsConnected() after disconnect = true")
	}
}

// =============================================================================
// Broker Tests (skipped without a local broker)
// =============================================================================

func TestConnect_BrokerRefused(t *testing.T) {
	cfg := testConfig()
	cfg.Broker.Port = 19998

	if _, err := Connect(cfg, nil); !errors.Is(err, ErrConnectionFailed) {
		t.Errorf("Connect() error = %v, want ErrConnectionFailed", err)
	}
}

func TestConnect(t *testing.T) {
	client := connectTest(t, "connect")

	if !client.IsConnected() {
		t.Error("IsConnected() = false, want true")
	}
	if err := client.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}

	if err := client.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if client.IsConnected() {
		t.Error("IsConnected() = true after Close()")
	}
}

func TestPublishSubscribeRoundtrip(t *testing.T) {
	pub := connectTest(t, "pub")
	sub := connectTest(t, "sub")

	pattern := "graylogic/test/zwaveme/+"
	received := make(chan string, 3)
	err := sub.Subscribe(pattern, 1, func(topic string, payload []byte) error {
		received <- fmt.Sprintf("%s=%s", topic, payload)
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	if sub.SubscriptionCount() != 1 {
		t.Error("subscription not tracked")
	}

	time.Sleep(100 * time.Millisecond)

	if err := pub.Publish("graylogic/test/zwaveme/1_5", []byte("on"), 1, false); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	select {
	case got := <-received:
		if got != "graylogic/test/zwaveme/1_5=on" {
			t.Errorf("received %q", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("message not received")
	}

	if err := sub.Unsubscribe(pattern); err != nil {
		t.Errorf("Unsubscribe() error = %v", err)
	}
	if sub.SubscriptionCount() != 0 {
		t.Error("subscription still tracked after Unsubscribe")
	}
}

func TestPublishRetained(t *testing.T) {
	client := connectTest(t, "retained")

	if err := client.PublishRetained("graylogic/test/zwaveme/retained", []byte("{}")); err != nil {
		t.Errorf("PublishRetained() error = %v", err)
	}
	// Clear the retained message.
	if err := client.Publish("graylogic/test/zwaveme/retained", nil, 1, true); err != nil {
		t.Errorf("Publish() clear error = %v", err)
	}
}
