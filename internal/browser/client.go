package browser

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/nerrad567/pip-core/internal/device"
)

// Socket defaults.
const (
	sendBufferSize      = 256
	defaultPingInterval = 30 * time.Second
	defaultPongTimeout  = 10 * time.Second
)

// Socket is the browser transport. *websocket.Conn satisfies it.
type Socket interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	SetReadLimit(limit int64)
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
	Close() error
}

// ClientConfig holds socket timings.
type ClientConfig struct {
	MaxMessageSize int64
	PingInterval   time.Duration
	PongTimeout    time.Duration
}

// Handler processes one inbound browser frame.
type Handler func(c *Client, msg Inbound)

// Client is one browser socket belonging to a user.
type Client struct {
	id     string
	user   device.UserID
	socket Socket
	cfg    ClientConfig
	logger Logger

	send      chan []byte
	closeOnce sync.Once
}

// NewClient wraps socket for user. Call Run to start the pumps.
func NewClient(user device.UserID, socket Socket, cfg ClientConfig, logger Logger) *Client {
	if logger == nil {
		logger = noopLogger{}
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = defaultPingInterval
	}
	if cfg.PongTimeout <= 0 {
		cfg.PongTimeout = defaultPongTimeout
	}
	return &Client{
		id:     uuid.NewString(),
		user:   user,
		socket: socket,
		cfg:    cfg,
		logger: logger,
		send:   make(chan []byte, sendBufferSize),
	}
}

// ID returns the socket id.
func (c *Client) ID() string {
	return c.id
}

// User returns the authenticated user.
func (c *Client) User() device.UserID {
	return c.user
}

// Run starts the write pump and blocks in the read pump until the socket
// closes. onClose runs once after the read pump exits and the send queue
// is closed.
func (c *Client) Run(handle Handler, onClose func(*Client)) {
	go c.writePump()
	c.readPump(handle)
	c.close()
	if onClose != nil {
		onClose(c)
	}
}

func (c *Client) readPump(handle Handler) {
	defer c.socket.Close()

	if c.cfg.MaxMessageSize > 0 {
		c.socket.SetReadLimit(c.cfg.MaxMessageSize)
	}
	wait := c.cfg.PingInterval + c.cfg.PongTimeout
	//nolint:errcheck // Best-effort deadline on connection setup
	c.socket.SetReadDeadline(time.Now().Add(wait))
	c.socket.SetPongHandler(func(string) error {
		return c.socket.SetReadDeadline(time.Now().Add(wait))
	})

	for {
		_, data, err := c.socket.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Warn("browser socket read error", "user_id", c.user, "error", err)
			}
			return
		}
		// Any frame counts as liveness, not just pongs.
		//nolint:errcheck // Best-effort deadline reset
		c.socket.SetReadDeadline(time.Now().Add(wait))

		var msg Inbound
		if err := json.Unmarshal(data, &msg); err != nil {
			c.SendError("", "invalid JSON message")
			continue
		}
		if msg.Type == TypePing {
			c.SendResponse(msg.ID, TypePong, nil)
			continue
		}
		if handle != nil {
			handle(c, msg)
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		c.socket.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			if !ok {
				//nolint:errcheck // Best-effort close message
				c.socket.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			//nolint:errcheck // Best-effort deadline; write error caught below
			c.socket.SetWriteDeadline(time.Now().Add(c.cfg.PongTimeout))
			if err := c.socket.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			//nolint:errcheck // Best-effort deadline; ping error caught below
			c.socket.SetWriteDeadline(time.Now().Add(c.cfg.PongTimeout))
			if err := c.socket.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// close stops the write pump. Safe to call more than once.
func (c *Client) close() {
	c.closeOnce.Do(func() { close(c.send) })
}

// trySend queues data, dropping it when the buffer is full or the client
// has already gone.
func (c *Client) trySend(data []byte) (sent bool) {
	defer func() {
		if recover() != nil { // send on closed channel
			sent = false
		}
	}()

	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// SendResponse queues a typed reply to request id.
func (c *Client) SendResponse(id, msgType string, payload any) {
	data, err := json.Marshal(Message{
		Type:      msgType,
		ID:        id,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Payload:   payload,
	})
	if err != nil {
		return
	}
	c.trySend(data)
}

// SendError queues an error reply.
func (c *Client) SendError(id, message string) {
	c.SendResponse(id, TypeError, map[string]string{"message": message})
}
