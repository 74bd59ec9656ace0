package browser

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/nerrad567/pip-core/internal/device"
)

// newTestClient returns a client whose pumps are not running, so queued
// frames can be read straight from the send channel.
func newTestClient(user device.UserID) *Client {
	return NewClient(user, nil, ClientConfig{}, nil)
}

func drain(c *Client) []Message {
	var out []Message
	for {
		select {
		case data := <-c.send:
			var msg Message
			if err := json.Unmarshal(data, &msg); err == nil {
				out = append(out, msg)
			}
		default:
			return out
		}
	}
}

func TestRegistry_AddRemoveLastSocket(t *testing.T) {
	r := NewRegistry()
	tab1 := newTestClient(7)
	tab2 := newTestClient(7)

	r.AddConnection(tab1)
	r.AddConnection(tab2)
	r.Bind(7, "AB12X")

	if !r.HasActiveSocket(7) {
		t.Fatal("HasActiveSocket() = false with two sockets")
	}
	if got := r.SocketCount(); got != 2 {
		t.Errorf("SocketCount() = %d, want 2", got)
	}

	bound, last := r.RemoveConnection(tab1)
	if last || bound != "" {
		t.Errorf("RemoveConnection(first) = (%q, %v), want (\"\", false)", bound, last)
	}
	if !r.HasActiveSocket(7) {
		t.Error("HasActiveSocket() = false while one tab remains")
	}

	bound, last = r.RemoveConnection(tab2)
	if !last || bound != "AB12X" {
		t.Errorf("RemoveConnection(last) = (%q, %v), want (AB12X, true)", bound, last)
	}
	if r.HasActiveSocket(7) {
		t.Error("HasActiveSocket() = true after last socket closed")
	}
	if got := r.UserCount(); got != 0 {
		t.Errorf("UserCount() = %d, want 0", got)
	}

	// Removing again is harmless.
	if _, last := r.RemoveConnection(tab2); last {
		t.Error("RemoveConnection(twice) reported last = true")
	}
}

func TestRegistry_Binding(t *testing.T) {
	r := NewRegistry()

	// Binding a user with no socket does nothing.
	r.Bind(1, "AB12X")
	if _, ok := r.BoundDevice(1); ok {
		t.Error("BoundDevice() ok for user without sockets")
	}

	r.AddConnection(newTestClient(1))
	r.Bind(1, "AB12X")
	if id, ok := r.BoundDevice(1); !ok || id != "AB12X" {
		t.Fatalf("BoundDevice() = (%q, %v), want (AB12X, true)", id, ok)
	}

	r.UnbindDevice(1, "ZZ99Z")
	if _, ok := r.BoundDevice(1); !ok {
		t.Error("UnbindDevice(other device) cleared the binding")
	}

	r.UnbindDevice(1, "AB12X")
	if _, ok := r.BoundDevice(1); ok {
		t.Error("UnbindDevice(bound device) left the binding")
	}

	r.Bind(1, "CD34Y")
	r.Unbind(1)
	if _, ok := r.BoundDevice(1); ok {
		t.Error("Unbind() left the binding")
	}
}

func TestRegistry_EmitToUserFansOut(t *testing.T) {
	r := NewRegistry()
	tab1 := newTestClient(3)
	tab2 := newTestClient(3)
	other := newTestClient(4)
	r.AddConnection(tab1)
	r.AddConnection(tab2)
	r.AddConnection(other)

	status := ConnectionStatus{DeviceID: "AB12X", Status: StatusOffline, Reason: ReasonDisplaced}
	if n := r.EmitToUser(3, EventConnectionStatus, status); n != 2 {
		t.Fatalf("EmitToUser() = %d, want 2", n)
	}

	for _, c := range []*Client{tab1, tab2} {
		msgs := drain(c)
		if len(msgs) != 1 {
			t.Fatalf("socket %s got %d messages, want 1", c.ID(), len(msgs))
		}
		if msgs[0].Type != TypeEvent || msgs[0].EventType != EventConnectionStatus {
			t.Errorf("message = %+v", msgs[0])
		}
		payload, _ := msgs[0].Payload.(map[string]any)
		if payload["pip_id"] != "AB12X" || payload["status"] != "offline" || payload["reason"] != "displaced" {
			t.Errorf("payload = %v", payload)
		}
	}
	if msgs := drain(other); len(msgs) != 0 {
		t.Errorf("other user got %d messages, want 0", len(msgs))
	}
}

func TestRegistry_EmitToUserEdgeCases(t *testing.T) {
	r := NewRegistry()

	if n := r.EmitToUser(device.NoUser, EventSensorData, nil); n != 0 {
		t.Errorf("EmitToUser(NoUser) = %d, want 0", n)
	}
	if n := r.EmitToUser(99, EventSensorData, nil); n != 0 {
		t.Errorf("EmitToUser(unknown) = %d, want 0", n)
	}

	c := newTestClient(5)
	r.AddConnection(c)
	for range sendBufferSize {
		r.EmitToUser(5, EventSensorData, map[string]int{"v": 1})
	}
	if n := r.EmitToUser(5, EventSensorData, nil); n != 0 {
		t.Errorf("EmitToUser(full buffer) = %d, want 0", n)
	}

	c.close()
	drain(c)
	if n := r.EmitToUser(5, EventSensorData, nil); n != 0 {
		t.Errorf("EmitToUser(closed client) = %d, want 0", n)
	}
}

func TestRegistry_ConnectedUsers(t *testing.T) {
	r := NewRegistry()
	for _, u := range []device.UserID{9, 2, 5, 2} {
		r.AddConnection(newTestClient(u))
	}

	got := r.ConnectedUsers()
	want := []device.UserID{2, 5, 9}
	if len(got) != len(want) {
		t.Fatalf("ConnectedUsers() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("ConnectedUsers()[%d] = %d, want %d", i, got[i], want[i])
		}
	}
}

func TestRegistry_Touch(t *testing.T) {
	r := NewRegistry()
	if _, ok := r.LastActivity(1); ok {
		t.Error("LastActivity() ok for unknown user")
	}

	r.AddConnection(newTestClient(1))
	before, _ := r.LastActivity(1)
	r.Touch(1)
	after, ok := r.LastActivity(1)
	if !ok || after.Before(before) {
		t.Errorf("LastActivity() = (%v, %v), want >= %v", after, ok, before)
	}
}

func TestRegistry_ConcurrentAccess(t *testing.T) {
	r := NewRegistry()
	var wg sync.WaitGroup

	for i := range 20 {
		wg.Add(1)
		go func(user device.UserID) {
			defer wg.Done()
			c := newTestClient(user)
			r.AddConnection(c)
			r.Bind(user, "AB12X")
			r.EmitToUser(user, EventSensorData, nil)
			r.HasActiveSocket(user)
			r.RemoveConnection(c)
		}(device.UserID(i%5 + 1))
	}
	wg.Wait()

	if got := r.SocketCount(); got != 0 {
		t.Errorf("SocketCount() = %d after all sockets closed, want 0", got)
	}
}
