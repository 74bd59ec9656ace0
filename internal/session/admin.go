package session

import (
	"context"
	"fmt"

	"github.com/nerrad567/pip-core/internal/audit"
	"github.com/nerrad567/pip-core/internal/browser"
	"github.com/nerrad567/pip-core/internal/device"
	"github.com/nerrad567/pip-core/internal/protocol"
)

// Broadcast sends an opaque command to every online device regardless of
// ownership. It returns how many devices accepted the frame and how many
// were online when the fan-out started.
func (c *Coordinator) Broadcast(ctx context.Context, command []byte) (sent, online int, err error) {
	frame, err := protocol.Command(command)
	if err != nil {
		return 0, 0, fmt.Errorf("encoding broadcast: %w", err)
	}

	online = len(c.devices.AllOnlineDeviceIDs())
	sent = c.dispatcher.SendToAll(ctx, frame)
	c.logger.Info("broadcast command sent", "sent", sent, "online", online, "bytes", len(command))
	return sent, online, nil
}

// ForceRelease clears both channels of id whoever holds them. The device
// forgets its last online owner so nobody is handed it back.
func (c *Coordinator) ForceRelease(ctx context.Context, id device.ID) error {
	st, ok := c.devices.Snapshot(id)
	if !ok {
		return device.ErrSessionNotFound
	}

	if err := c.devices.SetOnlineUserDisconnected(id, true); err != nil {
		return err
	}
	serialReleased := c.devices.HandleSerialDisconnect(id)

	forced := map[string]any{"forced": true}
	if st.OnlineOwner != device.NoUser {
		if err := c.dispatcher.NotifyUserDisconnected(ctx, id); err != nil {
			c.logger.Debug("notifying device of forced release", "device_id", id, "error", err)
		}
		c.evict(st.OnlineOwner, id, browser.ReasonReleased)
		c.record(audit.ActionOnlineReleased, id, st.OnlineOwner, forced)
	}
	if serialReleased {
		if st.SerialOwner != st.OnlineOwner {
			c.evict(st.SerialOwner, id, browser.ReasonReleased)
		}
		c.record(audit.ActionSerialReleased, id, st.SerialOwner, forced)
	}

	c.logger.Info("device force released",
		"device_id", id,
		"online_owner", st.OnlineOwner,
		"serial_owner", st.SerialOwner,
	)
	c.publishPresence(id)
	return nil
}
