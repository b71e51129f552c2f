package zwaveme

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Default websocket timings.
const (
	// DefaultPingInterval is how often a ping is written to the hub.
	DefaultPingInterval = 5 * time.Second

	// defaultPongTimeout is how long past a ping the socket may stay silent.
	defaultPongTimeout = 10 * time.Second

	// defaultHandshakeTimeout bounds the websocket upgrade.
	defaultHandshakeTimeout = 10 * time.Second

	// defaultWriteTimeout bounds a single frame write.
	defaultWriteTimeout = 5 * time.Second

	// maxFrameSize caps inbound frames. Full snapshots of large networks
	// run to a few megabytes.
	maxFrameSize = 16 << 20
)

// Transport is one websocket session with the hub.
//
// Run dials, reports OnOpen, delivers frames through OnMessage and blocks
// until the socket closes, then reports OnClose. A Transport is used for one
// session only; the Manager builds a fresh one per attempt.
type Transport interface {
	// Run connects and reads until the socket closes or ctx is cancelled.
	Run(ctx context.Context) error

	// Send writes one text frame. Safe for concurrent use.
	Send(payload []byte) error

	// Close closes the socket and unblocks Run. Safe to call more than once,
	// and before Run.
	Close() error
}

// TransportHandlers are the callbacks a Transport invokes from Run.
type TransportHandlers struct {
	OnOpen    func()
	OnMessage func(frame []byte)
	OnClose   func(err error)
}

// TransportFactory builds a transport for one connection attempt.
type TransportFactory func(url, token string, handlers TransportHandlers) Transport

// WSTransportConfig holds websocket transport settings.
type WSTransportConfig struct {
	// PingInterval is the keepalive ping period. Default: 5s.
	PingInterval time.Duration

	// PongTimeout is added to PingInterval to form the read deadline.
	// Default: 10s.
	PongTimeout time.Duration

	// HandshakeTimeout bounds the upgrade. Default: 10s.
	HandshakeTimeout time.Duration
}

// WSTransport is the gorilla/websocket Transport.
type WSTransport struct {
	url      string
	token    string
	cfg      WSTransportConfig
	handlers TransportHandlers
	dialer   *websocket.Dialer

	// conn is set once the upgrade succeeds.
	conn   *websocket.Conn
	closed bool
	mu     sync.Mutex

	// writeMu serialises frame writes; gorilla allows one concurrent writer.
	writeMu sync.Mutex
}

var _ Transport = (*WSTransport)(nil)

// NewWSTransport creates a websocket transport for one session.
//
// Parameters:
//   - url: Hub websocket URL, e.g. "ws://192.168.1.20:8083"
//   - token: Bearer token sent in the Authorization header
//   - cfg: Dial, ping and pong timings; zero values take defaults
//   - handlers: Callbacks run on the read goroutine
//
// Returns:
//   - *WSTransport: Unconnected transport; Run dials and reads until closed
func NewWSTransport(url, token string, cfg WSTransportConfig, handlers TransportHandlers) *WSTransport {
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = DefaultPingInterval
	}
	if cfg.PongTimeout <= 0 {
		cfg.PongTimeout = defaultPongTimeout
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = defaultHandshakeTimeout
	}

	return &WSTransport{
		url:      url,
		token:    token,
		cfg:      cfg,
		handlers: handlers,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: cfg.HandshakeTimeout,
		},
	}
}

// WSTransportFactory returns a TransportFactory producing WSTransports.
func WSTransportFactory(cfg WSTransportConfig) TransportFactory {
	return func(url, token string, handlers TransportHandlers) Transport {
		return NewWSTransport(url, token, cfg, handlers)
	}
}

// Run implements Transport.
func (t *WSTransport) Run(ctx context.Context) error {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+t.token)

	conn, resp, err := t.dialer.DialContext(ctx, t.url, header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		if resp != nil {
			return fmt.Errorf("%w: %s: %w", ErrConnectionFailed, resp.Status, err)
		}
		return fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		conn.Close()
		return ErrClosed
	}
	t.conn = conn
	t.mu.Unlock()

	conn.SetReadLimit(maxFrameSize)
	readWait := t.cfg.PingInterval + t.cfg.PongTimeout
	//nolint:errcheck // Best-effort deadline on connection setup
	conn.SetReadDeadline(time.Now().Add(readWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readWait))
	})

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		t.keepalive(ctx, stop)
	}()

	if t.handlers.OnOpen != nil {
		t.handlers.OnOpen()
	}

	err = t.readLoop(conn, readWait)

	close(stop)
	wg.Wait()

	if t.handlers.OnClose != nil {
		t.handlers.OnClose(err)
	}
	return err
}

// readLoop delivers frames until the socket fails.
// A normal close, or any failure after Close, returns nil.
func (t *WSTransport) readLoop(conn *websocket.Conn, readWait time.Duration) error {
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if t.isClosed() || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return fmt.Errorf("%w: %w", ErrConnectionLost, err)
		}

		// Any frame proves the hub is alive.
		//nolint:errcheck // Best-effort deadline reset
		conn.SetReadDeadline(time.Now().Add(readWait))

		if msgType != websocket.TextMessage && msgType != websocket.BinaryMessage {
			continue
		}
		if t.handlers.OnMessage != nil {
			t.handlers.OnMessage(data)
		}
	}
}

// keepalive pings the hub and closes the socket when ctx ends.
func (t *WSTransport) keepalive(ctx context.Context, stop <-chan struct{}) {
	ticker := time.NewTicker(t.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			//nolint:errcheck // Close error is irrelevant once cancelled
			t.Close()
			return
		case <-ticker.C:
			if err := t.ping(); err != nil {
				// The read loop sees the broken socket and returns.
				return
			}
		}
	}
}

// ping writes a ping control frame.
func (t *WSTransport) ping() error {
	conn := t.currentConn()
	if conn == nil {
		return ErrNotConnected
	}
	return conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(defaultWriteTimeout))
}

// Send implements Transport.
func (t *WSTransport) Send(payload []byte) error {
	conn := t.currentConn()
	if conn == nil {
		return ErrNotConnected
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	//nolint:errcheck // Best-effort deadline; write error caught below
	conn.SetWriteDeadline(time.Now().Add(defaultWriteTimeout))
	if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		return fmt.Errorf("%w: write: %w", ErrConnectionLost, err)
	}
	return nil
}

// Close implements Transport.
func (t *WSTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	conn := t.conn
	t.conn = nil
	t.mu.Unlock()

	if conn == nil {
		return nil
	}

	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	//nolint:errcheck // Best-effort close handshake
	conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))

	if err := conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		return fmt.Errorf("closing hub socket: %w", err)
	}
	return nil
}

// currentConn returns the open connection or nil.
func (t *WSTransport) currentConn() *websocket.Conn {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	return t.conn
}

// isClosed reports whether Close has been called.
func (t *WSTransport) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}
