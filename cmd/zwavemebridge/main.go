// Gray Logic Z-Wave.Me Bridge
//
// This is the main entry point for the Z-Wave.Me bridge. It keeps a single
// websocket session to a Z-Wave.Me hub, normalizes the hub's devices and
// republishes them over MQTT, with optional InfluxDB telemetry and an HTTP
// status API.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/nerrad567/gray-logic-zwaveme/internal/api"
	"github.com/nerrad567/gray-logic-zwaveme/internal/bridges/zwaveme"
	"github.com/nerrad567/gray-logic-zwaveme/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-zwaveme/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-zwaveme/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-zwaveme/internal/infrastructure/mqtt"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
// It returns nil on clean shutdown.
func run(ctx context.Context) error { //nolint:gocognit,gocyclo // startup sequence: linear wiring of every component
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting Z-Wave.Me bridge",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	manager := zwaveme.NewManager(zwaveme.ManagerOptions{
		URL:            cfg.Hub.URL,
		Token:          cfg.Hub.Token,
		Platforms:      cfg.Hub.Platforms,
		ReconnectDelay: cfg.GetReconnectDelay(),
		ConnectTimeout: cfg.GetConnectTimeout(),
		UUIDTimeout:    cfg.GetUUIDTimeout(),
		PingInterval:   cfg.GetPingInterval(),
		PongTimeout:    cfg.GetPongTimeout(),
		Logger:         log.Component("zwaveme"),
	})

	// The broker publishes the offline health message if the bridge dies.
	lwt, err := json.Marshal(zwaveme.NewLWTMessage(cfg.Health.BridgeID))
	if err != nil {
		return fmt.Errorf("building LWT payload: %w", err)
	}

	mqttClient, err := mqtt.Connect(cfg.MQTT, &mqtt.Will{
		Topic:    zwaveme.HealthTopic(),
		Payload:  lwt,
		QoS:      1,
		Retained: true,
	})
	if err != nil {
		return fmt.Errorf("connecting to MQTT: %w", err)
	}
	defer func() {
		log.Info("disconnecting from MQTT")
		if closeErr := mqttClient.Close(); closeErr != nil {
			log.Error("error closing MQTT", "error", closeErr)
		}
	}()
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
	)

	mqttClient.SetLogger(log.Component("mqtt"))
	mqttClient.SetOnConnect(func() {
		log.Info("MQTT reconnected")
	})
	mqttClient.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})

	mqttAdapter := &mqttBridgeAdapter{client: mqttClient}

	sinks := zwaveme.MultiSink{}

	publisher, err := zwaveme.NewPublisher(zwaveme.PublisherOptions{
		MQTT:      mqttAdapter,
		Commander: manager,
		BridgeID:  cfg.Health.BridgeID,
		Logger:    log.Component("publisher"),
	})
	if err != nil {
		return fmt.Errorf("creating publisher: %w", err)
	}
	sinks = append(sinks, publisher)

	// Connect to InfluxDB (optional)
	if cfg.InfluxDB.Enabled {
		influxClient, influxErr := influxdb.Connect(ctx, cfg.InfluxDB)
		if influxErr != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", influxErr)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)

		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})

		recorder := zwaveme.NewRecorder(influxClient)
		recorder.SetLogger(log.Component("recorder"))
		sinks = append(sinks, recorder)
	} else {
		log.Info("InfluxDB disabled")
	}

	var apiServer *api.Server
	if cfg.API.Enabled {
		apiServer, err = api.New(api.Deps{
			Config:      cfg.API,
			Logger:      log.Component("api"),
			Hub:         manager,
			MQTT:        mqttClient,
			UUIDTimeout: cfg.GetUUIDTimeout(),
			Version:     version,
		})
		if err != nil {
			return fmt.Errorf("creating API server: %w", err)
		}
		sinks = append(sinks, apiServer.Events())
	} else {
		log.Info("API server disabled")
	}

	manager.SetSink(sinks)

	if err := publisher.Start(); err != nil {
		return fmt.Errorf("starting publisher: %w", err)
	}
	defer func() {
		log.Info("stopping publisher")
		publisher.Stop()
	}()

	// Closed before the publisher so no events arrive after it stops.
	defer func() {
		log.Info("closing hub connection")
		if closeErr := manager.Close(); closeErr != nil {
			log.Error("error closing hub connection", "error", closeErr)
		}
	}()

	health := zwaveme.NewHealthReporter(zwaveme.HealthReporterConfig{
		BridgeID:  cfg.Health.BridgeID,
		Version:   version,
		HubURL:    cfg.Hub.URL,
		Interval:  cfg.GetHealthInterval(),
		Publisher: mqttAdapter,
		Hub:       manager,
	})
	health.SetLogger(log.Component("health"))
	if err := health.PublishStarting(); err != nil {
		log.Warn("failed to publish starting status", "error", err)
	}

	// The manager keeps retrying on its own; a slow hub does not block startup.
	if err := manager.Connect(ctx); err != nil {
		log.Warn("hub not reachable yet, retrying in background",
			"url", cfg.Hub.URL,
			"error", err,
		)
	} else {
		log.Info("hub connected", "url", cfg.Hub.URL)
	}

	health.Start(ctx)
	defer func() {
		log.Info("stopping health reporter")
		health.Stop()
	}()

	if apiServer != nil {
		if err := apiServer.Start(ctx); err != nil {
			return fmt.Errorf("starting API server: %w", err)
		}
		defer func() {
			if closeErr := apiServer.Close(); closeErr != nil {
				log.Error("error closing API server", "error", closeErr)
			}
		}()
	}

	log.Info("initialisation complete, waiting for shutdown signal")

	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Deferred calls run in reverse order:
	// API, health (publishes stopping), hub, publisher, InfluxDB, MQTT.

	log.Info("Z-Wave.Me bridge stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses ZWAVEME_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("ZWAVEME_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// mqttBridgeAdapter adapts the infrastructure MQTT client to the bridge's
// MQTTClient interface. The difference is the Subscribe handler signature:
// - Infrastructure mqtt: func(topic, payload []byte) error
// - Bridge expects: func(topic, payload []byte)
type mqttBridgeAdapter struct {
	client *mqtt.Client
}

var (
	_ zwaveme.MQTTClient      = (*mqttBridgeAdapter)(nil)
	_ zwaveme.HealthPublisher = (*mqttBridgeAdapter)(nil)
)

// Publish implements zwaveme.MQTTClient.
func (a *mqttBridgeAdapter) Publish(topic string, payload []byte, qos byte, retained bool) error {
	return a.client.Publish(topic, payload, qos, retained)
}

// Subscribe implements zwaveme.MQTTClient.
func (a *mqttBridgeAdapter) Subscribe(topic string, qos byte, handler func(topic string, payload []byte)) error {
	return a.client.Subscribe(topic, qos, func(t string, p []byte) error {
		handler(t, p)
		return nil
	})
}

// Unsubscribe implements zwaveme.MQTTClient.
func (a *mqttBridgeAdapter) Unsubscribe(topic string) error {
	return a.client.Unsubscribe(topic)
}

// PublishRetained implements zwaveme.HealthPublisher.
func (a *mqttBridgeAdapter) PublishRetained(topic string, payload []byte) error {
	return a.client.PublishRetained(topic, payload)
}

// IsConnected implements zwaveme.MQTTClient.
func (a *mqttBridgeAdapter) IsConnected() bool {
	return a.client.IsConnected()
}
