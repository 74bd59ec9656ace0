package session

import (
	"context"
	"fmt"

	"github.com/nerrad567/pip-core/internal/audit"
	"github.com/nerrad567/pip-core/internal/browser"
	"github.com/nerrad567/pip-core/internal/device"
	"github.com/nerrad567/pip-core/internal/dispatch"
)

// ClaimOnline gives user the online channel of id.
//
// It fails with device.ErrSessionNotFound for a device never seen,
// dispatch.ErrNoActiveConnection when the device is offline and
// device.ErrSerialConflict while someone else holds the serial channel.
// A displaced online owner is unbound and told why.
func (c *Coordinator) ClaimOnline(ctx context.Context, id device.ID, user device.UserID) error {
	st, ok := c.devices.Snapshot(id)
	if !ok {
		return device.ErrSessionNotFound
	}
	if !st.Online {
		return fmt.Errorf("%w: %s", dispatch.ErrNoActiveConnection, id)
	}

	previous, hadPrevious := c.browsers.BoundDevice(user)
	displaced, err := c.devices.SetOnlineUserConnected(id, user)
	if err != nil {
		return err
	}

	// A user controls one device at a time.
	if hadPrevious && previous != id {
		c.leaveDevice(ctx, previous, user)
	}

	if displaced != device.NoUser {
		c.evict(displaced, id, browser.ReasonDisplaced)
		c.record(audit.ActionUserDisplaced, id, displaced, map[string]any{"by": int64(user)})
	}
	c.bindOwner(ctx, id, user)
	c.record(audit.ActionOnlineClaimed, id, user, nil)
	c.publishPresence(id)
	return nil
}

// ReleaseOnline gives up user's online channel on id. With
// preventAutoReconnect the device forgets the user so it is not handed back
// to them later.
func (c *Coordinator) ReleaseOnline(ctx context.Context, id device.ID, user device.UserID, preventAutoReconnect bool) error {
	if err := c.devices.ReleaseOnline(id, user, preventAutoReconnect); err != nil {
		return err
	}

	c.browsers.UnbindDevice(user, id)
	if err := c.dispatcher.NotifyUserDisconnected(ctx, id); err != nil {
		c.logger.Debug("notifying device of release", "device_id", id, "error", err)
	}
	c.emitStatus(user, id, browser.StatusOffline, browser.ReasonReleased)
	c.record(audit.ActionOnlineReleased, id, user, map[string]any{
		"prevent_auto_reconnect": preventAutoReconnect,
	})
	c.publishPresence(id)
	return nil
}

// ClaimSerial gives user the serial channel of id. It never fails; the
// online owner it displaced, if any, is returned after being unbound.
func (c *Coordinator) ClaimSerial(ctx context.Context, id device.ID, user device.UserID) device.UserID {
	previous, hadPrevious := c.browsers.BoundDevice(user)
	displaced := c.devices.HandleSerialConnect(id, user)
	if hadPrevious && previous != id {
		c.leaveDevice(ctx, previous, user)
	}
	if displaced != device.NoUser {
		if err := c.dispatcher.NotifyUserDisconnected(ctx, id); err != nil {
			c.logger.Debug("notifying device of serial takeover", "device_id", id, "error", err)
		}
	}
	if displaced != device.NoUser && displaced != user {
		c.evict(displaced, id, browser.ReasonSerialTakeover)
		c.record(audit.ActionUserDisplaced, id, displaced, map[string]any{"by": int64(user), "serial": true})
	}

	c.browsers.Bind(user, id)
	c.record(audit.ActionSerialClaimed, id, user, nil)
	c.publishPresence(id)
	return displaced
}

// ReleaseSerial gives up user's serial channel on id and hands the device
// back to its last online owner when possible.
func (c *Coordinator) ReleaseSerial(ctx context.Context, id device.ID, user device.UserID) error {
	if err := c.devices.ReleaseSerial(id, user); err != nil {
		return err
	}

	// A serial owner absorbed on reconnect still holds the online channel.
	if c.devices.OnlineOwner(id) != user {
		c.browsers.UnbindDevice(user, id)
	}
	c.record(audit.ActionSerialReleased, id, user, nil)
	c.reconnectLastOwner(ctx, id)
	c.publishPresence(id)
	return nil
}

// SendCommand forwards an opaque command from user to id. Only the online
// owner may drive a device through the server.
func (c *Coordinator) SendCommand(ctx context.Context, id device.ID, user device.UserID, command []byte) error {
	st, ok := c.devices.Snapshot(id)
	if !ok {
		return device.ErrSessionNotFound
	}
	if st.OnlineOwner != user {
		if st.SerialOwner != device.NoUser && st.SerialOwner != user {
			return device.ErrSerialConflict
		}
		return device.ErrNotOwner
	}
	return c.dispatcher.SendCommand(ctx, id, command)
}

// ResumeLastOwned rebinds user to the device they last controlled, for a
// reloaded page. It reports the device and whether control was resumed.
func (c *Coordinator) ResumeLastOwned(ctx context.Context, user device.UserID) (device.ID, bool) {
	id, ok := c.devices.LastOwnedDevice(user)
	if !ok {
		return "", false
	}
	if err := c.ClaimOnline(ctx, id, user); err != nil {
		c.logger.Info("resuming last owned device failed", "device_id", id, "user_id", user, "error", err)
		return "", false
	}
	return id, true
}

// leaveDevice drops every channel user holds on id before they move to
// another device. The device forgets them so it is not handed straight back.
func (c *Coordinator) leaveDevice(ctx context.Context, id device.ID, user device.UserID) {
	result := device.ReleaseResult{
		ReleasedOnline: c.devices.ReleaseOnline(id, user, true) == nil,
		ReleasedSerial: c.devices.ReleaseSerial(id, user) == nil,
	}
	c.browsers.UnbindDevice(user, id)
	c.afterRelease(ctx, id, user, result)
}

// afterRelease notifies and records a ReleaseUser result, then tries to
// hand the device back to its last owner.
func (c *Coordinator) afterRelease(ctx context.Context, id device.ID, user device.UserID, result device.ReleaseResult) {
	if result.ReleasedOnline {
		if err := c.dispatcher.NotifyUserDisconnected(ctx, id); err != nil {
			c.logger.Debug("notifying device of release", "device_id", id, "error", err)
		}
		c.record(audit.ActionOnlineReleased, id, user, nil)
	}
	if result.ReleasedSerial {
		c.record(audit.ActionSerialReleased, id, user, nil)
	}
	if !result.ReleasedOnline && !result.ReleasedSerial {
		return
	}
	c.reconnectLastOwner(ctx, id)
	c.publishPresence(id)
}
