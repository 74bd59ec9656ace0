package session

import (
	"context"
	"testing"

	"github.com/nerrad567/pip-core/internal/audit"
	"github.com/nerrad567/pip-core/internal/browser"
	"github.com/nerrad567/pip-core/internal/device"
	"github.com/nerrad567/pip-core/internal/firmware"
	"github.com/nerrad567/pip-core/internal/protocol"
)

func TestAcceptDevice_RegistersAndPublishes(t *testing.T) {
	h := newHarness(t, nil)
	h.connectDevice(ab12x)

	if !h.coord.Devices().IsOnline(ab12x) {
		t.Fatal("device not online after AcceptDevice")
	}
	if ids := h.coord.OnlineDevices(); len(ids) != 1 || ids[0] != ab12x {
		t.Errorf("OnlineDevices() = %v, want [AB12X]", ids)
	}
	if !h.recorder.has(audit.ActionDeviceConnected) {
		t.Error("device_connected not recorded")
	}
	if pr, ok := h.publisher.presence("pip/devices/AB12X/presence"); !ok || !pr.Online {
		t.Errorf("presence = %+v (found %v), want online", pr, ok)
	}
}

func TestDeviceDrop_NotifiesOwnerAndAutoRebinds(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	first := h.connectDevice(ab12x)
	tab := h.openBrowser(t, 7)

	if err := h.coord.ClaimOnline(ctx, ab12x, 7); err != nil {
		t.Fatalf("ClaimOnline() error = %v", err)
	}

	// Peer goes away without our Dispose.
	first.Close()
	waitFor(t, "device offline", func() bool { return !h.coord.Devices().IsOnline(ab12x) })
	waitFor(t, "offline event", func() bool {
		return hasStatus(tab.statusEvents(), browser.StatusOffline, browser.ReasonDeviceDisconnected)
	})
	if _, ok := h.coord.Browsers().BoundDevice(7); ok {
		t.Error("user still bound to an offline device")
	}

	second := h.connectDevice(ab12x)
	if got := h.coord.Devices().OnlineOwner(ab12x); got != 7 {
		t.Fatalf("OnlineOwner after reconnect = %d, want 7", got)
	}
	if id, ok := h.coord.Browsers().BoundDevice(7); !ok || id != ab12x {
		t.Errorf("BoundDevice(7) = (%q, %v), want (AB12X, true)", id, ok)
	}
	if types := second.frameTypes(t); len(types) != 1 || types[0] != protocol.FrameUserConnected {
		t.Errorf("reconnected device frames = %v, want one user-connected", types)
	}
	if !h.recorder.has(audit.ActionAutoRebound) {
		t.Error("auto_rebound not recorded")
	}
}

func TestDeviceReplacedDoesNotReportStaleClose(t *testing.T) {
	h := newHarness(t, nil)
	first := h.connectDevice(ab12x)
	h.connectDevice(ab12x)

	waitFor(t, "old transport closed", func() bool {
		select {
		case <-first.closed:
			return true
		default:
			return false
		}
	})
	if !h.coord.Devices().IsOnline(ab12x) {
		t.Error("replacing the connection took the device offline")
	}
}

func TestTurningOffClearsBothChannels(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	h.connectDevice(ab12x)
	tab3 := h.openBrowser(t, 3)
	h.coord.ClaimSerial(ctx, ab12x, 3)

	h.coord.HandleDeviceMessage(ab12x, []byte(`{"route":"/pip-turning-off"}`))

	st, _ := h.coord.Status(ab12x)
	if st.Online || st.SerialOwner != device.NoUser || st.OnlineOwner != device.NoUser {
		t.Errorf("status after shutdown = %+v, want offline and unowned", st)
	}
	waitFor(t, "shutdown event", func() bool {
		return hasStatus(tab3.statusEvents(), browser.StatusOffline, browser.ReasonDeviceShutdown)
	})
	if _, ok := h.coord.Browsers().BoundDevice(3); ok {
		t.Error("serial owner still bound after shutdown")
	}
	if !h.recorder.has(audit.ActionDeviceShutdown) {
		t.Error("device_shutdown not recorded")
	}
}

func TestTransientDropKeepsSerialOwnerBound(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	sock := h.connectDevice(ab12x)
	h.openBrowser(t, 3)
	h.coord.ClaimSerial(ctx, ab12x, 3)

	sock.Close()
	waitFor(t, "device offline", func() bool { return !h.coord.Devices().IsOnline(ab12x) })

	st, _ := h.coord.Status(ab12x)
	if st.SerialOwner != 3 {
		t.Errorf("SerialOwner = %d, want 3", st.SerialOwner)
	}
	if id, ok := h.coord.Browsers().BoundDevice(3); !ok || id != ab12x {
		t.Errorf("BoundDevice(3) = (%q, %v), want (AB12X, true)", id, ok)
	}
}

func TestHandleDeviceMessage_ForwardsToOwner(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	h.connectDevice(ab12x)
	tab := h.openBrowser(t, 7)
	if err := h.coord.ClaimOnline(ctx, ab12x, 7); err != nil {
		t.Fatalf("ClaimOnline() error = %v", err)
	}

	h.coord.HandleDeviceMessage(ab12x, []byte(`not json`))
	h.coord.HandleDeviceMessage(ab12x, []byte(`{"route":"/unknown"}`))
	h.coord.HandleDeviceMessage(ab12x, []byte(`{"route":"/battery-monitor-data-full","payload":{"voltage":3.9,"isCharging":false}}`))
	h.coord.HandleDeviceMessage(ab12x, []byte(`{"route":"/dino-score","payload":{"score":42}}`))

	waitFor(t, "forwarded events", func() bool {
		var battery, dino bool
		for _, msg := range tab.messages() {
			battery = battery || msg.EventType == browser.EventBatteryMonitor
			dino = dino || msg.EventType == browser.EventDinoScore
		}
		return battery && dino
	})

	h.telemetry.mu.Lock()
	fields := h.telemetry.points[protocol.RouteBatteryFull]
	_, dinoWritten := h.telemetry.points[protocol.RouteDinoScore]
	h.telemetry.mu.Unlock()
	if fields["voltage"] != 3.9 || fields["isCharging"] != 0 {
		t.Errorf("battery telemetry = %v", fields)
	}
	if dinoWritten {
		t.Error("dino score written as telemetry")
	}
	if !h.coord.Devices().IsOnline(ab12x) {
		t.Error("malformed frames took the device offline")
	}
}

func TestInitialDataTriggersFirmwareUpdate(t *testing.T) {
	h := newHarness(t, fakeFirmware{rel: firmware.Release{Version: 4, Image: []byte("firmware")}})
	dev := h.connectDevice(ab12x)

	h.coord.HandleDeviceMessage(ab12x, []byte(`{"pipId":"AB12X","firmwareVersion":3}`))
	h.coord.Close()

	types := dev.frameTypes(t)
	if len(types) != 2 {
		t.Fatalf("device frames = %v, want 2 firmware chunks", types)
	}
	for _, typ := range types {
		if typ != protocol.FrameFirmwareChunk {
			t.Errorf("frame type = %s, want %s", typ, protocol.FrameFirmwareChunk)
		}
	}
}

func TestInitialDataUpToDateSendsNothing(t *testing.T) {
	h := newHarness(t, fakeFirmware{rel: firmware.Release{Version: 4, Image: []byte("firmware")}})
	dev := h.connectDevice(ab12x)

	h.coord.HandleDeviceMessage(ab12x, []byte(`{"route":"/device-initial-data","payload":{"pipId":"AB12X","firmwareVersion":4}}`))
	h.coord.Close()

	if types := dev.frameTypes(t); len(types) != 0 {
		t.Errorf("device frames = %v, want none", types)
	}
}
