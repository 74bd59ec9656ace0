package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/pip-core/internal/browser"
	"github.com/nerrad567/pip-core/internal/device"
	"github.com/nerrad567/pip-core/internal/protocol"
)

// dialBrowser opens a browser socket authenticated by query.
func dialBrowser(t *testing.T, ts *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(wsURL(ts, "/ws/browser?"+query), nil)
	if err != nil {
		t.Fatalf("Dial(browser) error = %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func handshakeStatus(t *testing.T, ts *httptest.Server, path string) int {
	t.Helper()
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL(ts, path), nil)
	if err == nil {
		conn.Close()
		t.Fatalf("Dial(%s) succeeded, want handshake failure", path)
	}
	if !errors.Is(err, websocket.ErrBadHandshake) || resp == nil {
		t.Fatalf("Dial(%s) error = %v, want ErrBadHandshake", path, err)
	}
	return resp.StatusCode
}

func TestDeviceSocket_RejectsInvalidID(t *testing.T) {
	env := testServer(t)
	ts := env.startHTTP(t)

	for _, path := range []string{"/ws/device", "/ws/device?id=AB1", "/ws/device?id=AB-2X"} {
		if code := handshakeStatus(t, ts, path); code != http.StatusBadRequest {
			t.Errorf("%s status = %d, want %d", path, code, http.StatusBadRequest)
		}
	}
}

func TestBrowserSocket_RequiresAuth(t *testing.T) {
	env := testServer(t)
	ts := env.startHTTP(t)

	for _, path := range []string{"/ws/browser", "/ws/browser?ticket=unknown", "/ws/browser?token=garbage"} {
		if code := handshakeStatus(t, ts, path); code != http.StatusUnauthorized {
			t.Errorf("%s status = %d, want %d", path, code, http.StatusUnauthorized)
		}
	}
}

func TestBrowserSocket_TicketIsSingleUse(t *testing.T) {
	env := testServer(t)
	ts := env.startHTTP(t)

	ticket := env.srv.tickets.issue(7)
	dialBrowser(t, ts, "ticket="+ticket)
	waitFor(t, "browser registered", func() bool { return env.sessions.Browsers().HasActiveSocket(7) })

	if code := handshakeStatus(t, ts, "/ws/browser?ticket="+ticket); code != http.StatusUnauthorized {
		t.Errorf("reused ticket status = %d, want %d", code, http.StatusUnauthorized)
	}
}

func TestBrowserSocket_PingPong(t *testing.T) {
	env := testServer(t)
	ts := env.startHTTP(t)
	conn := dialBrowser(t, ts, "token="+tokenFor(t, 7))

	if err := conn.WriteJSON(map[string]string{"type": browser.TypePing, "id": "p1"}); err != nil {
		t.Fatalf("WriteJSON() error = %v", err)
	}

	//nolint:errcheck // test deadline
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg browser.Message
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("ReadJSON() error = %v", err)
	}
	if msg.Type != browser.TypePong || msg.ID != "p1" {
		t.Errorf("reply = %+v, want pong p1", msg)
	}
}

func TestSessionFlow_OverSockets(t *testing.T) {
	env := testServer(t)
	ts := env.startHTTP(t)
	pip := dialPip(t, env, ts, ab12x)

	ticket := env.srv.tickets.issue(7)
	page := dialBrowser(t, ts, "ticket="+ticket)
	waitFor(t, "browser registered", func() bool { return env.sessions.Browsers().HasActiveSocket(7) })

	if w := env.do(t, 7, http.MethodPost, "/api/v1/pips/AB12X/connect", ""); w.Code != http.StatusOK {
		t.Fatalf("connect status = %d", w.Code)
	}
	pip.expectFrame(t, protocol.FrameUserConnected)

	status := readEvent(t, page, browser.EventConnectionStatus)
	payload, _ := status.Payload.(map[string]any)
	if payload["pip_id"] != string(ab12x) || payload["status"] != browser.StatusConnected {
		t.Errorf("connection status payload = %v, want AB12X connected", status.Payload)
	}

	// Telemetry from the device reaches the owner's page.
	sensor := `{"route":"/sensor-data","payload":{"temperature":21.5}}`
	if err := pip.conn.WriteMessage(websocket.TextMessage, []byte(sensor)); err != nil {
		t.Fatalf("device WriteMessage() error = %v", err)
	}
	event := readEvent(t, page, browser.EventSensorData)
	data, _ := event.Payload.(map[string]any)
	if data["pip_id"] != string(ab12x) {
		t.Errorf("sensor event payload = %v, want pip_id AB12X", event.Payload)
	}

	// Malformed frames are ignored without closing the device socket.
	if err := pip.conn.WriteMessage(websocket.TextMessage, []byte("not json")); err != nil {
		t.Fatalf("device WriteMessage() error = %v", err)
	}

	// A command typed in the page is forwarded to the device.
	command, err := json.Marshal(map[string]any{
		"type":    browser.TypeDeviceCommand,
		"id":      "c1",
		"payload": map[string]any{"data": []byte{0x0a, 0x0b}},
	})
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	if err := page.WriteMessage(websocket.TextMessage, command); err != nil {
		t.Fatalf("page WriteMessage() error = %v", err)
	}
	if f := pip.expectFrame(t, protocol.FrameCommand); string(f.Data) != "\x0a\x0b" {
		t.Errorf("command data = %x, want 0a0b", f.Data)
	}

	// The device powers off: the page is told and the session goes offline.
	if err := pip.conn.WriteMessage(websocket.TextMessage, []byte(`{"route":"/pip-turning-off"}`)); err != nil {
		t.Fatalf("device WriteMessage() error = %v", err)
	}
	offline := readEvent(t, page, browser.EventConnectionStatus)
	payload, _ = offline.Payload.(map[string]any)
	if payload["status"] != browser.StatusOffline {
		t.Errorf("connection status payload = %v, want offline", offline.Payload)
	}
	waitFor(t, "device offline", func() bool {
		st, ok := env.sessions.Status(ab12x)
		return ok && !st.Online
	})
}

func TestDeviceSocket_ReconnectRebindsLastOwner(t *testing.T) {
	env := testServer(t)
	ts := env.startHTTP(t)
	pip := dialPip(t, env, ts, ab12x)

	page := dialBrowser(t, ts, "token="+tokenFor(t, 7))
	waitFor(t, "browser registered", func() bool { return env.sessions.Browsers().HasActiveSocket(7) })
	if w := env.do(t, 7, http.MethodPost, "/api/v1/pips/AB12X/connect", ""); w.Code != http.StatusOK {
		t.Fatalf("connect status = %d", w.Code)
	}
	pip.expectFrame(t, protocol.FrameUserConnected)
	readEvent(t, page, browser.EventConnectionStatus)

	// Transport drop without a shutdown frame.
	pip.conn.Close()
	offline := readEvent(t, page, browser.EventConnectionStatus)
	payload, _ := offline.Payload.(map[string]any)
	if payload["status"] != browser.StatusOffline {
		t.Fatalf("status after drop = %v, want offline", offline.Payload)
	}

	again := dialPip(t, env, ts, ab12x)
	if f := again.expectFrame(t, protocol.FrameUserConnected); f.User != 7 {
		t.Errorf("user-connected frame user = %d, want 7", f.User)
	}
	if st, _ := env.sessions.Status(ab12x); st.OnlineOwner != device.UserID(7) {
		t.Errorf("online owner after reconnect = %d, want 7", st.OnlineOwner)
	}
}
