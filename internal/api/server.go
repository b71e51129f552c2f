// Package api provides the HTTP status API for the Z-Wave.Me bridge.
//
// The server follows the same lifecycle pattern as other infrastructure components:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
//
// Thread Safety: All methods are safe for concurrent use from multiple goroutines.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/nerrad567/gray-logic-zwaveme/internal/bridges/zwaveme"
	"github.com/nerrad567/gray-logic-zwaveme/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-zwaveme/internal/infrastructure/logging"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// HubClient is the subset of the hub connection manager the API uses.
// *zwaveme.Manager satisfies it.
type HubClient interface {
	Devices() []zwaveme.Device
	Device(id string) (zwaveme.Device, bool)
	SendCommand(deviceID, command string) error
	GetDevices() error
	AwaitUUID(timeout time.Duration) (string, bool)
	UUID() string
	IsConnected() bool
	Stats() zwaveme.ManagerStats
	HealthCheck(ctx context.Context) error
}

var _ HubClient = (*zwaveme.Manager)(nil)

// HealthChecker is implemented by optional dependencies reported on /health.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// SubscriptionCounter is optionally implemented by the MQTT dependency.
// The count is reported with its health.
type SubscriptionCounter interface {
	SubscriptionCount() int
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config config.APIConfig
	Logger *logging.Logger
	Hub    HubClient
	MQTT   HealthChecker // optional
	Events *EventHub     // If set, the server uses this hub instead of creating its own
	// UUIDTimeout bounds the hub uuid lookup on /hub. Zero uses the manager default.
	UUIDTimeout time.Duration
	Version     string
}

// Server is the HTTP API server for the bridge.
//
// It manages the HTTP listener, routes, middleware, and the event stream hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg            config.APIConfig
	logger         *logging.Logger
	hub            HubClient
	mqtt           HealthChecker
	uuidTimeout    time.Duration
	version        string
	server         *http.Server
	events         *EventHub
	externalEvents bool               // true if the event hub was injected
	cancel         context.CancelFunc // cancels background goroutines on Close()
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
//
// Parameters:
//   - deps: Config, logger and hub client are required; MQTT and Events are optional
//
// Returns:
//   - *Server: Server ready to Start
//   - error: If a required dependency is missing
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Hub == nil {
		return nil, fmt.Errorf("hub client is required")
	}

	s := &Server{
		cfg:         deps.Config,
		logger:      deps.Logger,
		hub:         deps.Hub,
		mqtt:        deps.MQTT,
		uuidTimeout: deps.UUIDTimeout,
		version:     deps.Version,
	}

	if deps.Events != nil {
		s.events = deps.Events
		s.externalEvents = true
	} else {
		s.events = NewEventHub(deps.Config.WebSocket, deps.Logger)
	}

	return s, nil
}

// Events returns the event stream hub so it can be registered as a device
// event sink.
func (s *Server) Events() *EventHub {
	return s.events
}

// Start begins listening for HTTP connections.
//
// It builds the router, runs the event hub unless it was injected, and
// launches the listener in a background goroutine.
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	if !s.externalEvents {
		go s.events.Run(srvCtx)
	}

	router := s.buildRouter()

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           router,
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		s.logger.Info("API server starting", "address", s.server.Addr)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	if s.cancel != nil {
		s.cancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server is running.
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	if s.server == nil {
		return fmt.Errorf("api server not started")
	}

	return nil
}
