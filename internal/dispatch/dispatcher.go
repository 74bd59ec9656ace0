package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/nerrad567/pip-core/internal/device"
	"github.com/nerrad567/pip-core/internal/firmware"
	"github.com/nerrad567/pip-core/internal/protocol"
)

// Defaults.
const (
	DefaultBroadcastConcurrency = 16
	DefaultChunkSize            = 4096
)

// ErrNoActiveConnection is returned when the device is not online.
var ErrNoActiveConnection = errors.New("dispatch: no active connection")

// Devices is the part of device.Registry the dispatcher needs.
type Devices interface {
	Connection(id device.ID) device.Connection
	TouchActivity(id device.ID) device.UserID
	AllOnlineDeviceIDs() []device.ID
}

// Sessions is the part of browser.Registry the dispatcher needs.
type Sessions interface {
	Touch(user device.UserID)
}

// Firmware is the part of firmware.Cache the dispatcher needs.
type Firmware interface {
	Get(ctx context.Context) (firmware.Release, error)
}

// Logger defines the logging interface used by this package.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}

// Options configures a Dispatcher.
type Options struct {
	BroadcastConcurrency int
	ChunkSize            int
	Logger               Logger
}

// Dispatcher resolves device ids to connections and writes frames.
type Dispatcher struct {
	devices     Devices
	sessions    Sessions
	firmware    Firmware
	concurrency int
	chunkSize   int
	logger      Logger
}

// New creates a dispatcher. firmware may be nil when updates are disabled.
func New(devices Devices, sessions Sessions, fw Firmware, opts Options) *Dispatcher {
	if opts.BroadcastConcurrency <= 0 {
		opts.BroadcastConcurrency = DefaultBroadcastConcurrency
	}
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = DefaultChunkSize
	}
	if opts.Logger == nil {
		opts.Logger = noopLogger{}
	}
	return &Dispatcher{
		devices:     devices,
		sessions:    sessions,
		firmware:    fw,
		concurrency: opts.BroadcastConcurrency,
		chunkSize:   opts.ChunkSize,
		logger:      opts.Logger,
	}
}

// Send writes payload to device id and, on success, refreshes the online
// owner's activity.
func (d *Dispatcher) Send(ctx context.Context, id device.ID, payload []byte) error {
	if err := d.write(ctx, id, payload); err != nil {
		return err
	}

	// The owner may have left while the write was in flight.
	if owner := d.devices.TouchActivity(id); owner != device.NoUser && d.sessions != nil {
		d.sessions.Touch(owner)
	}
	return nil
}

// SendCommand wraps an opaque command buffer in a command frame and sends it.
func (d *Dispatcher) SendCommand(ctx context.Context, id device.ID, command []byte) error {
	frame, err := protocol.Command(command)
	if err != nil {
		return err
	}
	return d.Send(ctx, id, frame)
}

// SendToAll writes payload to every online device, continuing past
// per-device failures. It returns the number of successful sends.
func (d *Dispatcher) SendToAll(ctx context.Context, payload []byte) int {
	ids := d.devices.AllOnlineDeviceIDs()

	var (
		g    errgroup.Group
		sent atomic.Int32
	)
	g.SetLimit(d.concurrency)
	for _, id := range ids {
		g.Go(func() error {
			if err := d.Send(ctx, id, payload); err != nil {
				d.logger.Warn("broadcast send failed", "device_id", id, "error", err)
				return nil
			}
			sent.Add(1)
			return nil
		})
	}
	//nolint:errcheck // workers never return an error
	g.Wait()

	return int(sent.Load())
}

// NotifyUserConnected tells device id that user now controls it.
func (d *Dispatcher) NotifyUserConnected(ctx context.Context, id device.ID, user device.UserID) error {
	frame, err := protocol.UserConnected(int64(user))
	if err != nil {
		return err
	}
	return d.write(ctx, id, frame)
}

// NotifyUserDisconnected tells device id it no longer has an online user.
func (d *Dispatcher) NotifyUserDisconnected(ctx context.Context, id device.ID) error {
	frame, err := protocol.UserDisconnected()
	if err != nil {
		return err
	}
	return d.write(ctx, id, frame)
}

// SendFirmwareIfOutdated streams the cached image to device id when the
// device reports an older version. It returns whether an update was sent.
func (d *Dispatcher) SendFirmwareIfOutdated(ctx context.Context, id device.ID, reported int) (bool, error) {
	if d.firmware == nil {
		return false, nil
	}

	rel, err := d.firmware.Get(ctx)
	if err != nil {
		return false, fmt.Errorf("loading firmware: %w", err)
	}
	if reported >= rel.Version {
		return false, nil
	}

	frames, err := protocol.ChunkFirmware(rel.Version, rel.Image, d.chunkSize)
	if err != nil {
		return false, fmt.Errorf("chunking firmware %d: %w", rel.Version, err)
	}

	d.logger.Info("sending firmware update",
		"device_id", id, "from", reported, "to", rel.Version, "chunks", len(frames))
	for i, frame := range frames {
		if err := d.write(ctx, id, frame); err != nil {
			return false, fmt.Errorf("firmware chunk %d/%d: %w", i+1, len(frames), err)
		}
	}
	return true, nil
}

// write sends one frame without touching activity.
func (d *Dispatcher) write(ctx context.Context, id device.ID, payload []byte) error {
	conn := d.devices.Connection(id)
	if conn == nil {
		return fmt.Errorf("%w: %s", ErrNoActiveConnection, id)
	}
	if err := conn.Send(ctx, payload); err != nil {
		return fmt.Errorf("sending to %s: %w", id, err)
	}
	return nil
}
