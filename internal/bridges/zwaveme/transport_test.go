package zwaveme

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

const testToken = "secret-token"

// fakeHub is a websocket server standing in for the Z-Wave.Me hub.
type fakeHub struct {
	server   *httptest.Server
	upgrader websocket.Upgrader

	mu       sync.Mutex
	conns    []*websocket.Conn
	received []string
	authErrs int
	accepted chan *websocket.Conn
	pings    chan struct{}

	// onMessage, if set, is called for every frame the client sends.
	onMessage func(conn *websocket.Conn, msg []byte)
}

func newFakeHub(t *testing.T) *fakeHub {
	t.Helper()
	h := &fakeHub{
		accepted: make(chan *websocket.Conn, 8),
		pings:    make(chan struct{}, 1),
	}
	h.server = httptest.NewServer(http.HandlerFunc(h.serve))
	t.Cleanup(h.Close)
	return h
}

func (h *fakeHub) URL() string {
	return "ws" + strings.TrimPrefix(h.server.URL, "http")
}

func (h *fakeHub) serve(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("Authorization") != "Bearer "+testToken {
		h.mu.Lock()
		h.authErrs++
		h.mu.Unlock()
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	conn.SetPingHandler(func(data string) error {
		select {
		case h.pings <- struct{}{}:
		default:
		}
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(time.Second))
	})

	h.mu.Lock()
	h.conns = append(h.conns, conn)
	onMessage := h.onMessage
	h.mu.Unlock()
	h.accepted <- conn

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		h.mu.Lock()
		h.received = append(h.received, string(msg))
		h.mu.Unlock()
		if onMessage != nil {
			onMessage(conn, msg)
		}
	}
}

// SetOnMessage installs a handler for frames sent by the client.
func (h *fakeHub) SetOnMessage(fn func(conn *websocket.Conn, msg []byte)) {
	h.mu.Lock()
	h.onMessage = fn
	h.mu.Unlock()
}

func (h *fakeHub) Received() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.received...)
}

func (h *fakeHub) AuthErrors() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.authErrs
}

// DropAll closes every server-side connection abruptly.
func (h *fakeHub) DropAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, c := range h.conns {
		c.Close()
	}
	h.conns = nil
}

func (h *fakeHub) Close() {
	h.DropAll()
	h.server.Close()
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return cond()
}

func TestWSTransport_SendsBearerAndDeliversFrames(t *testing.T) {
	hub := newFakeHub(t)

	opened := make(chan struct{})
	frames := make(chan string, 4)
	closed := make(chan error, 1)

	tr := NewWSTransport(hub.URL(), testToken, WSTransportConfig{}, TransportHandlers{
		OnOpen:    func() { close(opened) },
		OnMessage: func(frame []byte) { frames <- string(frame) },
		OnClose:   func(err error) { closed <- err },
	})

	runErr := make(chan error, 1)
	go func() { runErr <- tr.Run(context.Background()) }()

	select {
	case <-opened:
	case <-time.After(2 * time.Second):
		t.Fatal("OnOpen not called")
	}

	conn := <-hub.accepted
	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"get_info"}`)); err != nil {
		t.Fatalf("server write: %v", err)
	}
	select {
	case f := <-frames:
		if f != `{"type":"get_info"}` {
			t.Errorf("frame = %q", f)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("frame not delivered")
	}

	if err := tr.Send([]byte(`{"event":"x"}`)); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if !waitFor(t, 2*time.Second, func() bool { return len(hub.Received()) == 1 }) {
		t.Fatal("hub did not receive the frame")
	}

	if err := tr.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	select {
	case err := <-runErr:
		if err != nil {
			t.Errorf("Run() after Close = %v, want nil", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after Close")
	}
	if err := <-closed; err != nil {
		t.Errorf("OnClose err = %v, want nil", err)
	}

	// Close is idempotent and Send fails afterwards.
	if err := tr.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
	if err := tr.Send([]byte("x")); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Send() after Close = %v, want ErrNotConnected", err)
	}
}

func TestWSTransport_Unauthorized(t *testing.T) {
	hub := newFakeHub(t)

	var opened bool
	tr := NewWSTransport(hub.URL(), "wrong", WSTransportConfig{}, TransportHandlers{
		OnOpen: func() { opened = true },
	})

	err := tr.Run(context.Background())
	if !errors.Is(err, ErrConnectionFailed) {
		t.Fatalf("Run() error = %v, want ErrConnectionFailed", err)
	}
	if opened {
		t.Error("OnOpen called for a rejected handshake")
	}
	if hub.AuthErrors() != 1 {
		t.Errorf("auth errors = %d, want 1", hub.AuthErrors())
	}
}

func TestWSTransport_ServerDrop(t *testing.T) {
	hub := newFakeHub(t)

	closed := make(chan error, 1)
	tr := NewWSTransport(hub.URL(), testToken, WSTransportConfig{}, TransportHandlers{
		OnClose: func(err error) { closed <- err },
	})

	runErr := make(chan error, 1)
	go func() { runErr <- tr.Run(context.Background()) }()

	<-hub.accepted
	hub.DropAll()

	select {
	case err := <-runErr:
		if !errors.Is(err, ErrConnectionLost) {
			t.Errorf("Run() error = %v, want ErrConnectionLost", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after the server dropped")
	}
	if err := <-closed; !errors.Is(err, ErrConnectionLost) {
		t.Errorf("OnClose err = %v, want ErrConnectionLost", err)
	}
}

func TestWSTransport_ContextCancel(t *testing.T) {
	hub := newFakeHub(t)

	ctx, cancel := context.WithCancel(context.Background())
	tr := NewWSTransport(hub.URL(), testToken, WSTransportConfig{}, TransportHandlers{})

	runErr := make(chan error, 1)
	go func() { runErr <- tr.Run(ctx) }()

	<-hub.accepted
	cancel()

	select {
	case err := <-runErr:
		if err != nil {
			t.Errorf("Run() after cancel = %v, want nil", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestWSTransport_CloseBeforeRun(t *testing.T) {
	hub := newFakeHub(t)

	tr := NewWSTransport(hub.URL(), testToken, WSTransportConfig{}, TransportHandlers{})
	if err := tr.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := tr.Run(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("Run() after Close = %v, want ErrClosed", err)
	}
}

func TestWSTransport_Pings(t *testing.T) {
	hub := newFakeHub(t)

	tr := NewWSTransport(hub.URL(), testToken, WSTransportConfig{PingInterval: 20 * time.Millisecond}, TransportHandlers{})
	go tr.Run(context.Background())
	defer tr.Close()

	<-hub.accepted
	select {
	case <-hub.pings:
	case <-time.After(2 * time.Second):
		t.Fatal("no ping received")
	}
}
