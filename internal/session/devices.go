package session

import (
	"context"
	"errors"

	"github.com/nerrad567/pip-core/internal/audit"
	"github.com/nerrad567/pip-core/internal/browser"
	"github.com/nerrad567/pip-core/internal/device"
	"github.com/nerrad567/pip-core/internal/firmware"
	"github.com/nerrad567/pip-core/internal/protocol"
)

// forwardedEvents maps device routes to the browser event they produce.
var forwardedEvents = map[string]string{
	protocol.RouteSensorData:   browser.EventSensorData,
	protocol.RouteSensorDataMZ: browser.EventSensorDataMZ,
	protocol.RouteBatteryFull:  browser.EventBatteryMonitor,
	protocol.RouteDinoScore:    browser.EventDinoScore,
	protocol.RouteInitialData:  browser.EventDeviceInitialData,
}

// telemetryRoutes are written to the time-series store.
var telemetryRoutes = map[string]bool{
	protocol.RouteSensorData:   true,
	protocol.RouteSensorDataMZ: true,
	protocol.RouteBatteryFull:  true,
}

// AcceptDevice wraps a freshly upgraded device socket, registers it and
// starts its pumps. An existing connection for id is disposed first.
func (c *Coordinator) AcceptDevice(id device.ID, transport device.Transport) *device.Conn {
	conn := device.NewConn(id, transport, device.ConnOptions{
		PingInterval: c.pingInterval,
		WriteTimeout: c.writeTimeout,
		OnMessage: func(_ int, data []byte) {
			c.HandleDeviceMessage(id, data)
		},
		OnClose: c.handleDeviceClosed,
		Logger:  c.logger,
	})

	result := c.devices.RegisterConnection(id, conn)
	conn.Start()

	c.record(audit.ActionDeviceConnected, id, result.Owner, map[string]any{
		"created":  result.Created,
		"replaced": result.Replaced,
		"outcome":  string(result.Outcome),
	})

	switch result.Outcome {
	case device.OutcomeAutoRebound:
		ctx, cancel := c.notifyContext()
		c.bindOwner(ctx, id, result.Owner)
		cancel()
		c.record(audit.ActionAutoRebound, id, result.Owner, nil)
	case device.OutcomeSerialAbsorbed:
		c.logger.Debug("serial owner absorbed as online owner", "device_id", id, "user_id", result.Owner)
	}

	c.publishPresence(id)
	return conn
}

// handleDeviceClosed runs when a device socket dies on its own.
func (c *Coordinator) handleDeviceClosed(conn *device.Conn, reason error) {
	result, current := c.devices.HandleConnectionClosed(conn.ID(), conn)
	if !current {
		return
	}
	c.logger.Info("device socket closed", "device_id", conn.ID(), "reason", reason)
	c.afterDisconnect(conn.ID(), result, false)
}

// DeviceShutdown handles a device announcing it is powering off.
func (c *Coordinator) DeviceShutdown(id device.ID) {
	result := c.devices.HandleDisconnection(id, true)
	if !result.Known {
		return
	}
	c.afterDisconnect(id, result, true)
}

func (c *Coordinator) afterDisconnect(id device.ID, result device.DisconnectResult, shutdown bool) {
	reason := browser.ReasonDeviceDisconnected
	action := audit.ActionDeviceDisconnected
	if shutdown {
		reason = browser.ReasonDeviceShutdown
		action = audit.ActionDeviceShutdown
	}

	// A serial owner that survives the drop stays bound to the device.
	prev := result.PreviousOnlineOwner
	switch {
	case prev == device.NoUser:
	case prev == result.SerialOwner:
		c.emitStatus(prev, id, browser.StatusOffline, reason)
	default:
		c.evict(prev, id, reason)
	}
	if result.ClearedSerialOwner != prev {
		c.evict(result.ClearedSerialOwner, id, reason)
	}
	if result.SerialOwner != device.NoUser && result.SerialOwner != prev {
		c.emitStatus(result.SerialOwner, id, browser.StatusOffline, reason)
	}

	c.record(action, id, result.PreviousOnlineOwner, map[string]any{
		"serial_owner":         int64(result.SerialOwner),
		"cleared_serial_owner": int64(result.ClearedSerialOwner),
	})
	c.publishPresence(id)
}

// HandleDeviceMessage routes one inbound device frame. Malformed frames
// are logged and dropped; they never close the socket.
func (c *Coordinator) HandleDeviceMessage(id device.ID, data []byte) {
	in, err := protocol.DecodeInbound(data)
	if err != nil {
		c.logger.Warn("ignoring device message", "device_id", id, "error", err)
		return
	}

	switch in.Route {
	case protocol.RouteTurningOff:
		c.DeviceShutdown(id)
		return
	case protocol.RouteInitialData:
		var info protocol.InitialData
		if err := in.Decode(&info); err != nil {
			c.logger.Warn("ignoring device message", "device_id", id, "error", err)
			return
		}
		c.logger.Info("device reported firmware", "device_id", id, "version", info.FirmwareVersion, "legacy", in.Legacy)
		c.updateFirmware(id, info.FirmwareVersion)
	case protocol.RouteDinoScore:
		var score protocol.DinoScore
		if err := in.Decode(&score); err != nil {
			c.logger.Warn("ignoring device message", "device_id", id, "error", err)
			return
		}
	}

	if telemetryRoutes[in.Route] && c.telemetry != nil {
		c.telemetry.WriteTelemetry(string(id), in.Route, protocol.NumericFields(in.Payload), c.now())
	}

	owner := c.devices.Owner(id)
	if owner == device.NoUser {
		return
	}
	c.browsers.EmitToUser(owner, forwardedEvents[in.Route], browser.DeviceData{DeviceID: id, Data: in.Payload})
}

// updateFirmware pushes the cached image in the background so the read
// pump keeps answering liveness probes.
func (c *Coordinator) updateFirmware(id device.ID, reported int) {
	c.background.Add(1)
	go func() {
		defer c.background.Done()

		ctx, cancel := context.WithTimeout(context.Background(), firmwareTimeout)
		defer cancel()

		sent, err := c.dispatcher.SendFirmwareIfOutdated(ctx, id, reported)
		switch {
		case errors.Is(err, firmware.ErrNoFirmware):
			c.logger.Debug("no firmware cached, skipping update check", "device_id", id)
		case err != nil:
			c.logger.Warn("firmware update failed", "device_id", id, "error", err)
		case sent:
			c.logger.Info("firmware update sent", "device_id", id, "from", reported)
		}
	}()
}
