package session

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/pip-core/internal/audit"
	"github.com/nerrad567/pip-core/internal/browser"
	"github.com/nerrad567/pip-core/internal/device"
	"github.com/nerrad567/pip-core/internal/dispatch"
	"github.com/nerrad567/pip-core/internal/firmware"
	"github.com/nerrad567/pip-core/internal/protocol"
)

const ab12x device.ID = "AB12X"

// deviceSocket is an in-memory device.Transport.
type deviceSocket struct {
	closed chan struct{}
	once   sync.Once

	mu     sync.Mutex
	frames [][]byte
}

func newDeviceSocket() *deviceSocket {
	return &deviceSocket{closed: make(chan struct{})}
}

func (s *deviceSocket) ReadMessage() (int, []byte, error) {
	<-s.closed
	return 0, nil, errors.New("use of closed connection")
}

func (s *deviceSocket) WriteMessage(_ int, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames = append(s.frames, data)
	return nil
}

func (s *deviceSocket) WriteControl(int, []byte, time.Time) error { return nil }
func (s *deviceSocket) SetWriteDeadline(time.Time) error         { return nil }
func (s *deviceSocket) SetPongHandler(func(string) error)        {}

func (s *deviceSocket) Close() error {
	s.once.Do(func() { close(s.closed) })
	return nil
}

func (s *deviceSocket) frameTypes(t *testing.T) []string {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	types := make([]string, 0, len(s.frames))
	for _, data := range s.frames {
		f, err := protocol.Decode(data)
		if err != nil {
			t.Fatalf("protocol.Decode() error = %v", err)
		}
		types = append(types, f.Type)
	}
	return types
}

// browserSocket is an in-memory browser.Socket.
type browserSocket struct {
	inbound chan []byte
	closed  chan struct{}
	once    sync.Once

	mu      sync.Mutex
	written []browser.Message
}

func (s *browserSocket) ReadMessage() (int, []byte, error) {
	select {
	case data := <-s.inbound:
		return websocket.TextMessage, data, nil
	case <-s.closed:
		return 0, nil, errors.New("use of closed connection")
	}
}

func (s *browserSocket) WriteMessage(messageType int, data []byte) error {
	if messageType != websocket.TextMessage {
		return nil
	}
	var msg browser.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.written = append(s.written, msg)
	return nil
}

func (s *browserSocket) SetReadLimit(int64)                {}
func (s *browserSocket) SetReadDeadline(time.Time) error   { return nil }
func (s *browserSocket) SetWriteDeadline(time.Time) error  { return nil }
func (s *browserSocket) SetPongHandler(func(string) error) {}

func (s *browserSocket) Close() error {
	s.once.Do(func() { close(s.closed) })
	return nil
}

func (s *browserSocket) messages() []browser.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]browser.Message(nil), s.written...)
}

// statusEvents returns the connection status payloads received so far.
func (s *browserSocket) statusEvents() []map[string]any {
	var out []map[string]any
	for _, msg := range s.messages() {
		if msg.EventType != browser.EventConnectionStatus {
			continue
		}
		if payload, ok := msg.Payload.(map[string]any); ok {
			out = append(out, payload)
		}
	}
	return out
}

type fakeRecorder struct {
	mu      sync.Mutex
	actions []string
}

func (r *fakeRecorder) Create(_ context.Context, e *audit.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.actions = append(r.actions, e.Action)
	return nil
}

func (r *fakeRecorder) has(action string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range r.actions {
		if a == action {
			return true
		}
	}
	return false
}

type fakePublisher struct {
	mu       sync.Mutex
	last     map[string]Presence
	retained bool
}

func (p *fakePublisher) PublishJSON(topic string, v any, retained bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.last == nil {
		p.last = make(map[string]Presence)
	}
	p.last[topic] = v.(Presence)
	p.retained = retained
	return nil
}

func (p *fakePublisher) presence(topic string) (Presence, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	pr, ok := p.last[topic]
	return pr, ok
}

type fakeTelemetry struct {
	mu     sync.Mutex
	points map[string]map[string]float64
}

func (f *fakeTelemetry) WriteTelemetry(_, route string, fields map[string]float64, _ time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.points == nil {
		f.points = make(map[string]map[string]float64)
	}
	f.points[route] = fields
}

func (f *fakeTelemetry) WriteSessionEvent(string, string, int64, time.Time) {}

type fakeFirmware struct{ rel firmware.Release }

func (f fakeFirmware) Get(context.Context) (firmware.Release, error) {
	if f.rel.Version == 0 {
		return firmware.Release{}, firmware.ErrNoFirmware
	}
	return f.rel, nil
}

type harness struct {
	coord     *Coordinator
	recorder  *fakeRecorder
	publisher *fakePublisher
	telemetry *fakeTelemetry
}

func newHarness(t *testing.T, fw dispatch.Firmware) *harness {
	t.Helper()
	browsers := browser.NewRegistry()
	devices := device.NewRegistry(browsers, device.DefaultReconnectWindow)
	dispatcher := dispatch.New(devices, browsers, fw, dispatch.Options{ChunkSize: 4})

	h := &harness{
		recorder:  &fakeRecorder{},
		publisher: &fakePublisher{},
		telemetry: &fakeTelemetry{},
	}
	h.coord = New(devices, browsers, dispatcher, Options{
		PingInterval: time.Hour,
		Publisher:    h.publisher,
		Recorder:     h.recorder,
		Telemetry:    h.telemetry,
	})
	t.Cleanup(h.coord.Close)
	return h
}

func (h *harness) connectDevice(id device.ID) *deviceSocket {
	sock := newDeviceSocket()
	h.coord.AcceptDevice(id, sock)
	return sock
}

func (h *harness) openBrowser(t *testing.T, user device.UserID) *browserSocket {
	t.Helper()
	sock := &browserSocket{inbound: make(chan []byte, 8), closed: make(chan struct{})}
	client := browser.NewClient(user, sock, browser.ClientConfig{PingInterval: time.Hour, PongTimeout: time.Second}, nil)
	h.coord.BrowserConnected(client)
	go client.Run(h.coord.HandleBrowserMessage, h.coord.BrowserDisconnected)
	t.Cleanup(func() { sock.Close() })
	return sock
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func hasStatus(events []map[string]any, status, reason string) bool {
	for _, e := range events {
		if e["status"] == status && (reason == "" || e["reason"] == reason) {
			return true
		}
	}
	return false
}
