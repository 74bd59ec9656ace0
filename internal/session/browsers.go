package session

import (
	"encoding/json"
	"errors"

	"github.com/nerrad567/pip-core/internal/browser"
	"github.com/nerrad567/pip-core/internal/device"
	"github.com/nerrad567/pip-core/internal/dispatch"
)

// Error codes sent to browsers.
const (
	CodeControlUnavailable = "control_unavailable"
	CodeDeviceUnreachable  = "device_unreachable"
	CodeNotBound           = "not_bound"
	CodeBadRequest         = "bad_request"
)

// deviceCommand is the payload of a device-command message. Data is
// base64 in JSON.
type deviceCommand struct {
	Data []byte `json:"data"`
}

// BrowserConnected records a new browser socket.
func (c *Coordinator) BrowserConnected(client *browser.Client) {
	c.browsers.AddConnection(client)
}

// BrowserDisconnected drops a browser socket. When it was the user's last
// one, every channel they held on their bound device is released and the
// device is offered back to its last online owner.
func (c *Coordinator) BrowserDisconnected(client *browser.Client) {
	bound, last := c.browsers.RemoveConnection(client)
	if !last || bound == "" {
		return
	}

	ctx, cancel := c.notifyContext()
	defer cancel()

	result := c.devices.ReleaseUser(bound, client.User())
	c.afterRelease(ctx, bound, client.User(), result)
}

// HandleBrowserMessage processes one inbound browser frame.
func (c *Coordinator) HandleBrowserMessage(client *browser.Client, msg browser.Inbound) {
	switch msg.Type {
	case browser.TypeDeviceCommand:
		c.handleDeviceCommand(client, msg)
	default:
		client.SendError(msg.ID, ErrUnknownMessage.Error())
	}
}

func (c *Coordinator) handleDeviceCommand(client *browser.Client, msg browser.Inbound) {
	var cmd deviceCommand
	if err := json.Unmarshal(msg.Payload, &cmd); err != nil || len(cmd.Data) == 0 {
		client.SendError(msg.ID, CodeBadRequest)
		return
	}

	id, ok := c.browsers.BoundDevice(client.User())
	if !ok {
		client.SendError(msg.ID, CodeNotBound)
		return
	}
	c.browsers.Touch(client.User())

	ctx, cancel := c.notifyContext()
	defer cancel()

	err := c.SendCommand(ctx, id, client.User(), cmd.Data)
	switch {
	case err == nil:
		client.SendResponse(msg.ID, browser.TypeResponse, map[string]any{"pip_id": id, "status": "sent"})
	case errors.Is(err, dispatch.ErrNoActiveConnection):
		client.SendError(msg.ID, CodeDeviceUnreachable)
	case errors.Is(err, device.ErrSerialConflict), errors.Is(err, device.ErrNotOwner):
		client.SendError(msg.ID, CodeControlUnavailable)
	default:
		c.logger.Warn("browser command failed", "device_id", id, "user_id", client.User(), "error", err)
		client.SendError(msg.ID, CodeDeviceUnreachable)
	}
}
