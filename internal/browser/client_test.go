package browser

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// fakeSocket is an in-memory Socket.
type fakeSocket struct {
	inbound chan []byte
	closed  chan struct{}
	once    sync.Once

	mu      sync.Mutex
	written [][]byte
}

func newFakeSocket() *fakeSocket {
	return &fakeSocket{inbound: make(chan []byte, 8), closed: make(chan struct{})}
}

func (f *fakeSocket) ReadMessage() (int, []byte, error) {
	select {
	case data := <-f.inbound:
		return websocket.TextMessage, data, nil
	case <-f.closed:
		return 0, nil, errors.New("use of closed connection")
	}
}

func (f *fakeSocket) WriteMessage(messageType int, data []byte) error {
	if messageType != websocket.TextMessage {
		return nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.written = append(f.written, data)
	return nil
}

func (f *fakeSocket) SetReadLimit(int64)                {}
func (f *fakeSocket) SetReadDeadline(time.Time) error   { return nil }
func (f *fakeSocket) SetWriteDeadline(time.Time) error  { return nil }
func (f *fakeSocket) SetPongHandler(func(string) error) {}

func (f *fakeSocket) Close() error {
	f.once.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeSocket) messages() []Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Message, 0, len(f.written))
	for _, data := range f.written {
		var msg Message
		if err := json.Unmarshal(data, &msg); err == nil {
			out = append(out, msg)
		}
	}
	return out
}

func waitForMessages(t *testing.T, s *fakeSocket, n int) []Message {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if msgs := s.messages(); len(msgs) >= n {
			return msgs
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d messages, have %d", n, len(s.messages()))
	return nil
}

func TestClient_Run(t *testing.T) {
	sock := newFakeSocket()
	c := NewClient(11, sock, ClientConfig{PingInterval: time.Hour, PongTimeout: time.Second}, nil)

	handled := make(chan Inbound, 1)
	closed := make(chan struct{})
	go c.Run(
		func(_ *Client, msg Inbound) { handled <- msg },
		func(*Client) { close(closed) },
	)

	sock.inbound <- []byte(`{"type":"ping","id":"p1"}`)
	msgs := waitForMessages(t, sock, 1)
	if msgs[0].Type != TypePong || msgs[0].ID != "p1" {
		t.Errorf("reply = %+v, want pong p1", msgs[0])
	}

	sock.inbound <- []byte(`not json`)
	msgs = waitForMessages(t, sock, 2)
	if msgs[1].Type != TypeError {
		t.Errorf("reply = %+v, want error", msgs[1])
	}

	sock.inbound <- []byte(`{"type":"device-command","id":"c1","payload":{"route":"/led"}}`)
	select {
	case msg := <-handled:
		if msg.Type != TypeDeviceCommand || msg.ID != "c1" || len(msg.Payload) == 0 {
			t.Errorf("handled = %+v", msg)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("handler not called")
	}

	sock.Close()
	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("onClose not called")
	}

	// Sending after close is dropped, never panics.
	if c.trySend([]byte("x")) {
		t.Error("trySend() after close = true")
	}
}

func TestNewClient_Defaults(t *testing.T) {
	a := NewClient(1, nil, ClientConfig{}, nil)
	b := NewClient(1, nil, ClientConfig{}, nil)

	if a.ID() == "" || a.ID() == b.ID() {
		t.Errorf("socket ids = %q, %q, want distinct non-empty", a.ID(), b.ID())
	}
	if a.cfg.PingInterval != defaultPingInterval || a.cfg.PongTimeout != defaultPongTimeout {
		t.Errorf("cfg = %+v, want defaults", a.cfg)
	}
	if a.User() != 1 {
		t.Errorf("User() = %d, want 1", a.User())
	}
}
