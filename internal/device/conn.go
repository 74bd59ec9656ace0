package device

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// defaultWriteTimeout bounds a single frame write.
const defaultWriteTimeout = 10 * time.Second

// Transport is the socket a Conn drives. *websocket.Conn satisfies it.
type Transport interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
	Close() error
}

// MessageFunc receives every inbound frame.
type MessageFunc func(messageType int, data []byte)

// CloseFunc is told once that the transport died (read error or missed
// liveness probe). It is never called after Dispose.
type CloseFunc func(c *Conn, reason error)

// ConnOptions configures a Conn.
type ConnOptions struct {
	// PingInterval is the liveness probe period. Defaults to DefaultPingInterval.
	PingInterval time.Duration

	// WriteTimeout bounds every frame write; an earlier context deadline wins.
	WriteTimeout time.Duration

	OnMessage MessageFunc
	OnClose   CloseFunc
	Logger    Logger
}

// Conn owns one device socket.
//
// It runs a read pump and a liveness loop. On each probe tick the loop
// checks whether a pong or any inbound frame arrived since the previous
// tick; if not, the connection is dead, OnClose fires and the transport is
// closed. Otherwise a new ping goes out.
//
// Thread Safety:
//   - Send may be called from any goroutine; writes are serialized.
//   - Dispose is idempotent.
type Conn struct {
	id           ID
	transport    Transport
	pingInterval time.Duration
	writeTimeout time.Duration
	logger       Logger
	connectedAt  time.Time

	cbMu      sync.Mutex
	onMessage MessageFunc
	onClose   CloseFunc

	alive    atomic.Bool
	disposed atomic.Bool
	writeMu  sync.Mutex

	done      chan struct{}
	stopOnce  sync.Once
	closeOnce sync.Once
	startOnce sync.Once
}

// NewConn wraps transport for device id. Call Start to begin reading.
func NewConn(id ID, transport Transport, opts ConnOptions) *Conn {
	if opts.PingInterval <= 0 {
		opts.PingInterval = DefaultPingInterval
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = defaultWriteTimeout
	}
	if opts.Logger == nil {
		opts.Logger = noopLogger{}
	}

	c := &Conn{
		id:           id,
		transport:    transport,
		pingInterval: opts.PingInterval,
		writeTimeout: opts.WriteTimeout,
		logger:       opts.Logger,
		connectedAt:  time.Now(),
		onMessage:    opts.OnMessage,
		onClose:      opts.OnClose,
		done:         make(chan struct{}),
	}
	c.alive.Store(true)

	transport.SetPongHandler(func(string) error {
		c.alive.Store(true)
		return nil
	})

	return c
}

// ID returns the device identifier.
func (c *Conn) ID() ID {
	return c.id
}

// ConnectedAt returns when the connection was accepted.
func (c *Conn) ConnectedAt() time.Time {
	return c.connectedAt
}

// Start launches the read pump and liveness loop. Subsequent calls are no-ops.
func (c *Conn) Start() {
	c.startOnce.Do(func() {
		go c.readPump()
		go c.livenessLoop()
	})
}

// Send writes payload as one binary frame.
func (c *Conn) Send(ctx context.Context, payload []byte) error {
	if c.disposed.Load() {
		return ErrConnectionClosed
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrSendFailed, err)
	}

	deadline := time.Now().Add(c.writeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.disposed.Load() {
		return ErrConnectionClosed
	}
	//nolint:errcheck // Best-effort deadline; write error caught below
	c.transport.SetWriteDeadline(deadline)
	if err := c.transport.WriteMessage(websocket.BinaryMessage, payload); err != nil {
		return fmt.Errorf("%w: %w", ErrSendFailed, err)
	}
	return nil
}

// Dispose stops the liveness loop, drops both callbacks and closes the
// transport. With graceful set, a normal-closure frame is sent first.
// Calling it more than once has no further effect.
func (c *Conn) Dispose(graceful bool) {
	c.cbMu.Lock()
	if c.disposed.Load() {
		c.cbMu.Unlock()
		return
	}
	c.disposed.Store(true)
	c.onMessage = nil
	c.onClose = nil
	c.cbMu.Unlock()

	c.stop()

	if graceful {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		//nolint:errcheck // Best-effort close frame
		c.transport.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	}
	if err := c.transport.Close(); err != nil {
		c.logger.Debug("closing device transport", "device_id", c.id, "error", err)
	}
}

// Disposed reports whether Dispose has been called.
func (c *Conn) Disposed() bool {
	return c.disposed.Load()
}

func (c *Conn) stop() {
	c.stopOnce.Do(func() { close(c.done) })
}

func (c *Conn) readPump() {
	for {
		messageType, data, err := c.transport.ReadMessage()
		if err != nil {
			c.fail(fmt.Errorf("read: %w", err))
			return
		}
		c.alive.Store(true)

		c.cbMu.Lock()
		cb := c.onMessage
		c.cbMu.Unlock()
		if cb != nil {
			cb(messageType, data)
		}
	}
}

func (c *Conn) livenessLoop() {
	ticker := time.NewTicker(c.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			if !c.alive.Swap(false) {
				c.fail(ErrLivenessTimeout)
				return
			}
			if err := c.transport.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.writeTimeout)); err != nil {
				c.fail(fmt.Errorf("ping: %w", err))
				return
			}
		}
	}
}

// fail reports the first transport death to OnClose and terminates the transport.
func (c *Conn) fail(reason error) {
	c.closeOnce.Do(func() {
		c.stop()

		c.cbMu.Lock()
		cb := c.onClose
		c.cbMu.Unlock()

		if cb != nil {
			c.logger.Info("device connection lost", "device_id", c.id, "reason", reason)
			cb(c, reason)
		}
		//nolint:errcheck // transport may already be closed by Dispose
		c.transport.Close()
	})
}
