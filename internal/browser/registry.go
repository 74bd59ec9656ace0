package browser

import (
	"sort"
	"sync"
	"time"

	"github.com/samber/lo"

	"github.com/nerrad567/pip-core/internal/device"
)

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

// userSession is every open socket of one user plus their bound device.
type userSession struct {
	sockets      map[string]*Client
	boundDevice  device.ID
	lastActivity time.Time
}

// Registry tracks browser sockets per user.
//
// Thread Safety: all methods are safe for concurrent use.
type Registry struct {
	mu     sync.RWMutex
	users  map[device.UserID]*userSession
	logger Logger
	now    func() time.Time
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		users:  make(map[device.UserID]*userSession),
		logger: noopLogger{},
		now:    time.Now,
	}
}

// SetLogger sets the logger.
func (r *Registry) SetLogger(logger Logger) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.logger = logger
}

// AddConnection records c under its user, creating the user session on the
// first socket.
func (r *Registry) AddConnection(c *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()

	us, ok := r.users[c.User()]
	if !ok {
		us = &userSession{sockets: make(map[string]*Client)}
		r.users[c.User()] = us
	}
	us.sockets[c.ID()] = c
	us.lastActivity = r.now()

	r.logger.Debug("browser socket added", "user_id", c.User(), "socket_id", c.ID(), "sockets", len(us.sockets))
}

// RemoveConnection drops c. When it was the user's last socket the user
// session is removed, last is true and bound holds the device the user was
// bound to (empty if none).
func (r *Registry) RemoveConnection(c *Client) (bound device.ID, last bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	us, ok := r.users[c.User()]
	if !ok {
		return "", false
	}
	if _, ok := us.sockets[c.ID()]; !ok {
		return "", false
	}
	delete(us.sockets, c.ID())
	if len(us.sockets) > 0 {
		return "", false
	}

	delete(r.users, c.User())
	r.logger.Debug("browser user session closed", "user_id", c.User(), "bound_device", us.boundDevice)
	return us.boundDevice, true
}

// Bind records that user now controls id. It is a no-op for a user with no
// open socket.
func (r *Registry) Bind(user device.UserID, id device.ID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if us, ok := r.users[user]; ok {
		us.boundDevice = id
		us.lastActivity = r.now()
	}
}

// Unbind clears whatever device user is bound to.
func (r *Registry) Unbind(user device.UserID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if us, ok := r.users[user]; ok {
		us.boundDevice = ""
	}
}

// UnbindDevice clears the binding only when user is bound to id.
func (r *Registry) UnbindDevice(user device.UserID, id device.ID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if us, ok := r.users[user]; ok && us.boundDevice == id {
		us.boundDevice = ""
	}
}

// BoundDevice returns the device user is bound to.
func (r *Registry) BoundDevice(user device.UserID) (device.ID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	us, ok := r.users[user]
	if !ok || us.boundDevice == "" {
		return "", false
	}
	return us.boundDevice, true
}

// HasActiveSocket reports whether user has at least one open socket.
func (r *Registry) HasActiveSocket(user device.UserID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	us, ok := r.users[user]
	return ok && len(us.sockets) > 0
}

// Touch records activity for user.
func (r *Registry) Touch(user device.UserID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if us, ok := r.users[user]; ok {
		us.lastActivity = r.now()
	}
}

// LastActivity returns when user was last active.
func (r *Registry) LastActivity(user device.UserID) (time.Time, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	us, ok := r.users[user]
	if !ok {
		return time.Time{}, false
	}
	return us.lastActivity, true
}

// EmitToUser sends an event to every socket of user and returns how many
// sockets accepted it. Slow sockets drop the event.
func (r *Registry) EmitToUser(user device.UserID, eventType string, payload any) int {
	if user == device.NoUser {
		return 0
	}

	r.mu.RLock()
	us, ok := r.users[user]
	var clients []*Client
	if ok {
		clients = lo.Values(us.sockets)
	}
	logger := r.logger
	at := r.now()
	r.mu.RUnlock()

	if len(clients) == 0 {
		return 0
	}

	data, err := encodeEvent(eventType, payload, at)
	if err != nil {
		logger.Error("encoding browser event", "event_type", eventType, "error", err)
		return 0
	}

	delivered := lo.CountBy(clients, func(c *Client) bool { return c.trySend(data) })
	if delivered < len(clients) {
		logger.Warn("browser event dropped for slow sockets",
			"user_id", user, "event_type", eventType, "dropped", len(clients)-delivered)
	}
	return delivered
}

// UserCount returns the number of users with an open socket.
func (r *Registry) UserCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.users)
}

// SocketCount returns the total number of open sockets.
func (r *Registry) SocketCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return lo.SumBy(lo.Values(r.users), func(us *userSession) int { return len(us.sockets) })
}

// ConnectedUsers returns the ids of users with an open socket, ascending.
func (r *Registry) ConnectedUsers() []device.UserID {
	r.mu.RLock()
	users := lo.Keys(r.users)
	r.mu.RUnlock()

	sort.Slice(users, func(i, j int) bool { return users[i] < users[j] })
	return users
}
