package zwaveme

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// closeOnce wraps a channel with sync.Once to prevent double-close panics.
type closeOnce struct {
	ch   chan struct{}
	once sync.Once
}

func newCloseOnce() *closeOnce {
	return &closeOnce{ch: make(chan struct{})}
}

func (c *closeOnce) Close() {
	c.once.Do(func() { close(c.ch) })
}

func (c *closeOnce) Done() <-chan struct{} {
	return c.ch
}

// Default manager timings.
const (
	// DefaultReconnectDelay is the fixed pause between connection attempts.
	// There is no backoff growth and no retry ceiling.
	DefaultReconnectDelay = 5 * time.Second

	// DefaultConnectTimeout bounds Connect's wait for the socket to open.
	DefaultConnectTimeout = 10 * time.Second

	// DefaultUUIDTimeout bounds the wait for the hub uuid.
	DefaultUUIDTimeout = 5 * time.Second
)

// ConnectionState is the manager's lifecycle state.
type ConnectionState int32

// Connection states. Closed is terminal.
const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
	StateClosed
)

// String returns the state name.
func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// ManagerStats holds operational statistics.
type ManagerStats struct {
	State           string
	Connected       bool
	FramesRx        uint64
	FramesDropped   uint64 // Frames that failed to decode or dispatch
	RequestsTx      uint64
	ReconnectsTotal uint64 // Connection attempts after the first
	Devices         int
	ConnectedSince  time.Time
	LastActivity    time.Time
}

// ManagerOptions holds configuration for creating a manager.
type ManagerOptions struct {
	// URL is the hub websocket URL. Required.
	URL string

	// Token is sent as "Authorization: Bearer <token>". Required.
	Token string

	// Platforms is the snapshot allow-list of raw deviceTypes. Empty accepts all.
	Platforms []string

	// Sink receives normalized device events. May be set later with SetSink.
	Sink EventSink

	// Transport builds a transport per attempt.
	// Default: WSTransportFactory with PingInterval.
	Transport TransportFactory

	// ReconnectDelay is the pause between attempts. Default: 5s.
	ReconnectDelay time.Duration

	// ConnectTimeout bounds Connect. Default: 10s.
	ConnectTimeout time.Duration

	// UUIDTimeout is the default wait used by UUID lookups. Default: 5s.
	UUIDTimeout time.Duration

	// PingInterval configures the default websocket transport. Default: 5s.
	PingInterval time.Duration

	// PongTimeout configures the default websocket transport. Default: 10s.
	PongTimeout time.Duration

	// Logger is optional.
	Logger Logger
}

// Manager owns the hub connection.
//
// A single supervisor goroutine builds a transport, runs it until it returns,
// closes it, waits ReconnectDelay and starts over, until Close is called.
// Frames are dispatched on the transport goroutine.
//
// Thread Safety: All methods are safe for concurrent use.
type Manager struct {
	url            string
	token          string
	factory        TransportFactory
	reconnectDelay time.Duration
	connectTimeout time.Duration
	uuidTimeout    time.Duration

	dispatcher *Dispatcher
	store      *DeviceStore

	// mu guards the live transport, readiness and uuid.
	mu        sync.Mutex
	transport Transport
	connected bool
	ready     chan struct{} // closed while connected, replaced on disconnect
	uuid      string
	uuidReady chan struct{} // closed once a uuid is known
	started   bool

	state atomic.Int32

	// Shutdown coordination (closeOnce prevents double-close panics)
	ctx    context.Context
	cancel context.CancelFunc
	done   *closeOnce
	wg     sync.WaitGroup

	// Statistics (atomic for performance)
	framesRx        atomic.Uint64
	framesDropped   atomic.Uint64
	requestsTx      atomic.Uint64
	reconnectsTotal atomic.Uint64
	connectedSince  atomic.Int64 // Unix nanoseconds, stamped on open
	lastActivity    atomic.Int64 // Unix nanoseconds

	// Logger (optional)
	logger   Logger
	loggerMu sync.RWMutex
}

// NewManager creates a manager. Call Start or Connect to begin connecting.
//
// Parameters:
//   - opts: Hub address, credentials, timeouts and optional sink/logger.
//     Zero durations take the package defaults.
//
// Returns:
//   - *Manager: Idle manager; no socket is opened until Start or Connect
func NewManager(opts ManagerOptions) *Manager {
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = DefaultReconnectDelay
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = DefaultConnectTimeout
	}
	if opts.UUIDTimeout <= 0 {
		opts.UUIDTimeout = DefaultUUIDTimeout
	}
	if opts.Transport == nil {
		opts.Transport = WSTransportFactory(WSTransportConfig{
			PingInterval: opts.PingInterval,
			PongTimeout:  opts.PongTimeout,
		})
	}

	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		url:            opts.URL,
		token:          opts.Token,
		factory:        opts.Transport,
		reconnectDelay: opts.ReconnectDelay,
		connectTimeout: opts.ConnectTimeout,
		uuidTimeout:    opts.UUIDTimeout,
		store:          NewDeviceStore(),
		ready:          make(chan struct{}),
		uuidReady:      make(chan struct{}),
		ctx:            ctx,
		cancel:         cancel,
		done:           newCloseOnce(),
		logger:         opts.Logger,
	}
	m.dispatcher = NewDispatcher(DispatcherOptions{
		Platforms: opts.Platforms,
		Store:     m.store,
		Sink:      opts.Sink,
		Requester: m,
		OnUUID:    m.setUUID,
	})
	return m
}

// SetSink replaces the event sink. Call before Start to see the first snapshot.
func (m *Manager) SetSink(sink EventSink) {
	m.dispatcher.SetSink(sink)
}

// SetLogger sets the logger for this manager.
func (m *Manager) SetLogger(logger Logger) {
	m.loggerMu.Lock()
	m.logger = logger
	m.loggerMu.Unlock()
}

// Start launches the supervisor goroutine. Calls after the first are no-ops.
func (m *Manager) Start() {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return
	}
	m.started = true
	m.mu.Unlock()

	m.wg.Add(1)
	go m.supervise()
}

// Connect starts the manager and waits up to ConnectTimeout for the socket
// to open. On timeout the manager keeps retrying in the background.
//
// Parameters:
//   - ctx: Cancels the wait, not the connection attempts
//
// Returns:
//   - error: nil once the socket is open; ErrConnectTimeout, ErrClosed or
//     the context error otherwise
func (m *Manager) Connect(ctx context.Context) error {
	m.Start()

	timer := time.NewTimer(m.connectTimeout)
	defer timer.Stop()

	select {
	case <-m.readyCh():
		return nil
	case <-m.done.Done():
		return ErrClosed
	case <-ctx.Done():
		return fmt.Errorf("waiting for hub: %w", ctx.Err())
	case <-timer.C:
		return fmt.Errorf("%w: after %v", ErrConnectTimeout, m.connectTimeout)
	}
}

// AwaitConnected blocks until the socket is open, the manager is closed, or
// timeout elapses. It reports whether the socket is open.
func (m *Manager) AwaitConnected(timeout time.Duration) bool {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-m.readyCh():
		return true
	case <-m.done.Done():
		return false
	case <-timer.C:
		return false
	}
}

// AwaitUUID issues get_info and waits up to timeout for the hub uuid.
//
// Parameters:
//   - timeout: How long to wait; zero uses UUIDTimeout
//
// Returns:
//   - uuid: The hub uuid, "" when not received
//   - ok: false on timeout or close
func (m *Manager) AwaitUUID(timeout time.Duration) (uuid string, ok bool) {
	if timeout <= 0 {
		timeout = m.uuidTimeout
	}

	if err := m.GetInfo(); err != nil {
		m.logDebug("get_info not sent", "error", err)
	}

	m.mu.Lock()
	uuidReady := m.uuidReady
	m.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-uuidReady:
		return m.UUID(), true
	case <-m.done.Done():
		return "", false
	case <-timer.C:
		return "", false
	}
}

// Close stops the supervisor, closes the live transport and waits for the
// supervisor to exit. No reconnect happens afterwards.
func (m *Manager) Close() error {
	m.done.Close()
	m.cancel()

	m.mu.Lock()
	t := m.transport
	m.mu.Unlock()

	if t != nil {
		if err := t.Close(); err != nil {
			m.logDebug("closing transport", "error", err)
		}
	}

	m.wg.Wait()
	m.markDisconnected()
	m.state.Store(int32(StateClosed))
	return nil
}

// supervise is the reconnect loop.
func (m *Manager) supervise() {
	defer m.wg.Done()

	for attempt := 0; ; attempt++ {
		if m.isClosed() {
			return
		}
		if attempt > 0 {
			m.reconnectsTotal.Add(1)
		}

		m.state.Store(int32(StateConnecting))
		t := m.factory(m.url, m.token, TransportHandlers{
			OnOpen:    m.handleOpen,
			OnMessage: m.handleFrame,
			OnClose:   m.handleClose,
		})
		if !m.setTransport(t) {
			//nolint:errcheck // Never ran
			t.Close()
			return
		}

		m.runTransport(t)

		m.clearTransport(t)
		m.markDisconnected()
		if m.isClosed() {
			return
		}
		m.state.Store(int32(StateDisconnected))

		timer := time.NewTimer(m.reconnectDelay)
		select {
		case <-m.done.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// runTransport runs one session and always closes the transport.
func (m *Manager) runTransport(t Transport) {
	defer func() {
		if r := recover(); r != nil {
			m.logError("hub transport panic recovered", fmt.Errorf("%w: %v", ErrHandlerPanic, r))
		}
		if err := t.Close(); err != nil {
			m.logDebug("closing transport", "error", err)
		}
	}()

	if err := t.Run(m.ctx); err != nil && !m.isClosed() {
		m.logWarn("hub connection ended", "error", err, "retry_in", m.reconnectDelay)
		return
	}
	if !m.isClosed() {
		m.logInfo("hub connection closed", "retry_in", m.reconnectDelay)
	}
}

// handleOpen bootstraps a fresh session: snapshot first, then readiness.
func (m *Manager) handleOpen() {
	if err := m.GetDevices(); err != nil {
		m.logError("failed to request device snapshot", err)
	}

	now := time.Now().UnixNano()
	m.connectedSince.Store(now)
	m.lastActivity.Store(now)
	m.markConnected()
	m.state.Store(int32(StateConnected))
	m.logInfo("hub connected", "url", m.url)
}

// handleFrame dispatches one inbound frame, logging and counting failures.
func (m *Manager) handleFrame(frame []byte) {
	m.framesRx.Add(1)
	m.lastActivity.Store(time.Now().UnixNano())

	if err := m.dispatcher.HandleFrame(frame); err != nil {
		m.framesDropped.Add(1)
		m.logWarn("hub frame dropped", "error", err)
	}
}

// handleClose marks the session as no longer connected.
func (m *Manager) handleClose(_ error) {
	m.markDisconnected()
}

// setTransport installs t as the live transport unless the manager is closed.
func (m *Manager) setTransport(t Transport) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	select {
	case <-m.done.Done():
		return false
	default:
	}
	m.transport = t
	return true
}

// clearTransport removes t if it is still the live transport.
func (m *Manager) clearTransport(t Transport) {
	m.mu.Lock()
	if m.transport == t {
		m.transport = nil
	}
	m.mu.Unlock()
}

// markConnected releases AwaitConnected waiters.
func (m *Manager) markConnected() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.connected {
		m.connected = true
		close(m.ready)
	}
}

// markDisconnected re-arms the readiness signal.
func (m *Manager) markDisconnected() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.connected {
		m.connected = false
		m.ready = make(chan struct{})
	}
}

// readyCh returns the current readiness channel.
func (m *Manager) readyCh() <-chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ready
}

// setUUID stores the hub uuid and releases AwaitUUID waiters.
func (m *Manager) setUUID(uuid string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	first := m.uuid == ""
	m.uuid = uuid
	if first {
		close(m.uuidReady)
	}
}

// isClosed reports whether Close has been called.
func (m *Manager) isClosed() bool {
	select {
	case <-m.done.Done():
		return true
	default:
		return false
	}
}

// send marshals and writes a request on the live transport.
func (m *Manager) send(req Request) error {
	if m.isClosed() {
		return ErrClosed
	}

	m.mu.Lock()
	t := m.transport
	m.mu.Unlock()
	if t == nil {
		return ErrNotConnected
	}

	payload, err := req.Marshal()
	if err != nil {
		return err
	}
	if err := t.Send(payload); err != nil {
		return err
	}
	m.requestsTx.Add(1)
	return nil
}

// GetDevices requests a full device snapshot.
func (m *Manager) GetDevices() error {
	return m.send(GetDevicesRequest())
}

// GetDeviceInfo requests a single device record.
func (m *Manager) GetDeviceInfo(deviceID string) error {
	return m.send(GetDeviceInfoRequest(deviceID))
}

// GetInfo requests the hub info. The uuid arrives asynchronously.
func (m *Manager) GetInfo() error {
	return m.send(GetInfoRequest())
}

// SendCommand actuates a device. It is fire-and-forget: the hub reports the
// resulting level through a later level notification.
//
// Parameters:
//   - deviceID: Hub device id, e.g. "ZWayVDev_zway_5-0-37"
//   - command: Command path segment, e.g. "on" or "exact?level=50"
//
// Returns:
//   - error: ErrInvalidCommand for a bad id or empty command,
//     ErrNotConnected or ErrClosed when there is no live socket
func (m *Manager) SendCommand(deviceID, command string) error {
	if err := ValidateDeviceID(deviceID); err != nil {
		return err
	}
	if command == "" {
		return fmt.Errorf("%w: command is required", ErrInvalidCommand)
	}
	return m.send(CommandRequest(deviceID, command))
}

// UUID returns the hub uuid, or "" if not yet known.
func (m *Manager) UUID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.uuid
}

// IsConnected reports whether the hub socket is open.
func (m *Manager) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

// State returns the lifecycle state.
func (m *Manager) State() ConnectionState {
	return ConnectionState(m.state.Load())
}

// LastUpdate returns when the current session opened. Zero before the first.
func (m *Manager) LastUpdate() time.Time {
	return unixNano(m.connectedSince.Load())
}

// Devices returns the visible devices sorted by id.
func (m *Manager) Devices() []Device {
	return m.store.List()
}

// Device returns a visible device by id.
func (m *Manager) Device(id string) (Device, bool) {
	return m.store.Get(id)
}

// Stats returns a snapshot of operational statistics.
func (m *Manager) Stats() ManagerStats {
	connected := m.IsConnected()
	stats := ManagerStats{
		State:           m.State().String(),
		Connected:       connected,
		FramesRx:        m.framesRx.Load(),
		FramesDropped:   m.framesDropped.Load(),
		RequestsTx:      m.requestsTx.Load(),
		ReconnectsTotal: m.reconnectsTotal.Load(),
		Devices:         m.store.Len(),
		LastActivity:    unixNano(m.lastActivity.Load()),
	}
	if connected {
		stats.ConnectedSince = unixNano(m.connectedSince.Load())
	}
	return stats
}

// HealthCheck reports whether the hub connection is usable.
func (m *Manager) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("zwaveme health check: %w", ctx.Err())
	default:
	}

	if m.isClosed() {
		return ErrClosed
	}
	if !m.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

func unixNano(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

func (m *Manager) getLogger() Logger {
	m.loggerMu.RLock()
	defer m.loggerMu.RUnlock()
	return m.logger
}

func (m *Manager) logDebug(msg string, keysAndValues ...any) {
	if logger := m.getLogger(); logger != nil {
		logger.Debug(msg, keysAndValues...)
	}
}

func (m *Manager) logInfo(msg string, keysAndValues ...any) {
	if logger := m.getLogger(); logger != nil {
		logger.Info(msg, keysAndValues...)
	}
}

func (m *Manager) logWarn(msg string, keysAndValues ...any) {
	if logger := m.getLogger(); logger != nil {
		logger.Warn(msg, keysAndValues...)
	}
}

func (m *Manager) logError(msg string, err error) {
	if logger := m.getLogger(); logger != nil {
		logger.Error(msg, "error", err)
	}
}
