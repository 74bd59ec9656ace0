package session

import (
	"context"
	"sync"
	"time"

	"github.com/nerrad567/pip-core/internal/audit"
	"github.com/nerrad567/pip-core/internal/browser"
	"github.com/nerrad567/pip-core/internal/device"
	"github.com/nerrad567/pip-core/internal/dispatch"
	"github.com/nerrad567/pip-core/internal/infrastructure/mqtt"
)

// Timeouts for work done outside a request context.
const (
	notifyTimeout   = 10 * time.Second
	recordTimeout   = 2 * time.Second
	firmwareTimeout = 5 * time.Minute
)

// Publisher publishes retained presence state. *mqtt.Client satisfies it.
type Publisher interface {
	PublishJSON(topic string, v any, retained bool) error
}

// Recorder stores audit events. *audit.SQLiteRepository satisfies it.
type Recorder interface {
	Create(ctx context.Context, event *audit.Event) error
}

// Telemetry writes time-series points. *influxdb.Client satisfies it.
type Telemetry interface {
	WriteTelemetry(deviceID, route string, fields map[string]float64, at time.Time)
	WriteSessionEvent(deviceID, action string, userID int64, at time.Time)
}

// Logger defines the logging interface used by this package.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Options configures a Coordinator. Every field is optional.
type Options struct {
	// PingInterval is the liveness probe period for device sockets.
	PingInterval time.Duration

	// WriteTimeout bounds a device frame write.
	WriteTimeout time.Duration

	Publisher Publisher
	Recorder  Recorder
	Telemetry Telemetry
	Logger    Logger
}

// Presence is the retained MQTT state for one device.
type Presence struct {
	DeviceID    device.ID     `json:"device_id"`
	Online      bool          `json:"online"`
	Owner       device.UserID `json:"owner,omitempty"`
	SerialOwner device.UserID `json:"serial_owner,omitempty"`
	Timestamp   string        `json:"timestamp"`
}

// Coordinator is the orchestration layer between sockets, controllers and
// the registries.
type Coordinator struct {
	devices    *device.Registry
	browsers   *browser.Registry
	dispatcher *dispatch.Dispatcher

	pingInterval time.Duration
	writeTimeout time.Duration

	publisher Publisher
	recorder  Recorder
	telemetry Telemetry
	logger    Logger
	topics    mqtt.Topics
	now       func() time.Time

	// background tracks firmware pushes started from device callbacks.
	background sync.WaitGroup
}

// New creates a Coordinator over the given registries.
func New(devices *device.Registry, browsers *browser.Registry, dispatcher *dispatch.Dispatcher, opts Options) *Coordinator {
	if opts.Logger == nil {
		opts.Logger = noopLogger{}
	}
	return &Coordinator{
		devices:      devices,
		browsers:     browsers,
		dispatcher:   dispatcher,
		pingInterval: opts.PingInterval,
		writeTimeout: opts.WriteTimeout,
		publisher:    opts.Publisher,
		recorder:     opts.Recorder,
		telemetry:    opts.Telemetry,
		logger:       opts.Logger,
		now:          time.Now,
	}
}

// Devices returns the device registry.
func (c *Coordinator) Devices() *device.Registry {
	return c.devices
}

// Browsers returns the browser registry.
func (c *Coordinator) Browsers() *browser.Registry {
	return c.browsers
}

// Close waits for in-flight firmware pushes.
func (c *Coordinator) Close() {
	c.background.Wait()
}

// Status returns the session for id.
func (c *Coordinator) Status(id device.ID) (device.Status, bool) {
	return c.devices.Snapshot(id)
}

// OnlineDevices returns every online device id.
func (c *Coordinator) OnlineDevices() []device.ID {
	return c.devices.AllOnlineDeviceIDs()
}

func (c *Coordinator) notifyContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), notifyTimeout)
}

// bindOwner binds user to id, tells the device and emits a connected event.
func (c *Coordinator) bindOwner(ctx context.Context, id device.ID, user device.UserID) {
	c.browsers.Bind(user, id)
	if err := c.dispatcher.NotifyUserConnected(ctx, id, user); err != nil {
		c.logger.Warn("notifying device of owner", "device_id", id, "user_id", user, "error", err)
	}
	c.emitStatus(user, id, browser.StatusConnected, "")
}

// evict unbinds user from id and tells them the device is gone.
func (c *Coordinator) evict(user device.UserID, id device.ID, reason string) {
	if user == device.NoUser {
		return
	}
	c.browsers.UnbindDevice(user, id)
	c.emitStatus(user, id, browser.StatusOffline, reason)
}

func (c *Coordinator) emitStatus(user device.UserID, id device.ID, status, reason string) {
	c.browsers.EmitToUser(user, browser.EventConnectionStatus, browser.ConnectionStatus{
		DeviceID: id,
		Status:   status,
		Reason:   reason,
	})
}

// reconnectLastOwner hands an ownerless device back to its last owner.
func (c *Coordinator) reconnectLastOwner(ctx context.Context, id device.ID) {
	owner, ok := c.devices.ReconnectLastOwner(id)
	if !ok {
		return
	}
	c.bindOwner(ctx, id, owner)
	c.record(audit.ActionAutoRebound, id, owner, nil)
	c.publishPresence(id)
}

// record writes an audit event and a session telemetry point.
func (c *Coordinator) record(action string, id device.ID, user device.UserID, details map[string]any) {
	at := c.now()
	if c.telemetry != nil {
		c.telemetry.WriteSessionEvent(string(id), action, int64(user), at)
	}
	if c.recorder == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
	defer cancel()
	event := &audit.Event{
		Action:    action,
		DeviceID:  string(id),
		UserID:    int64(user),
		Details:   details,
		CreatedAt: at,
	}
	if err := c.recorder.Create(ctx, event); err != nil {
		c.logger.Warn("recording audit event", "action", action, "device_id", id, "error", err)
	}
}

// publishPresence publishes the retained presence state of id.
func (c *Coordinator) publishPresence(id device.ID) {
	if c.publisher == nil {
		return
	}
	st, _ := c.devices.Snapshot(id)
	p := Presence{
		DeviceID:    id,
		Online:      st.Online,
		Owner:       st.OnlineOwner,
		SerialOwner: st.SerialOwner,
		Timestamp:   c.now().UTC().Format(time.RFC3339),
	}
	if err := c.publisher.PublishJSON(c.topics.DevicePresence(string(id)), p, true); err != nil {
		c.logger.Debug("publishing presence", "device_id", id, "error", err)
	}
}
