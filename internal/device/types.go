package device

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Default timings.
const (
	// DefaultPingInterval is the liveness probe period for device sockets.
	DefaultPingInterval = 30 * time.Second

	// DefaultReconnectWindow is how long a device remembers its last online
	// owner after their last activity.
	DefaultReconnectWindow = 90 * time.Minute

	// idLength is the fixed length of a device identifier.
	idLength = 5
)

// ID identifies a Pip, e.g. "AB12X".
type ID string

// ParseID normalises s to upper case and validates it.
func ParseID(s string) (ID, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	if len(s) != idLength {
		return "", fmt.Errorf("%w: %q must be %d characters", ErrInvalidID, s, idLength)
	}
	for _, r := range s {
		if (r < 'A' || r > 'Z') && (r < '0' || r > '9') {
			return "", fmt.Errorf("%w: %q contains %q", ErrInvalidID, s, r)
		}
	}
	return ID(s), nil
}

// UserID identifies a user. NoUser means no owner.
type UserID int64

// NoUser is the zero UserID.
const NoUser UserID = 0

// State is the coarse ownership state derived from a session.
type State string

// Session states.
const (
	StateOffline             State = "offline"
	StateOnlineUnowned       State = "online_unowned"
	StateOnlineOwnedBySerial State = "online_owned_by_serial"
	StateOnlineOwnedByUser   State = "online_owned_by_user"
)

// LastOwner is the most recent online owner of a device.
type LastOwner struct {
	UserID         UserID    `json:"user_id"`
	LastActivityAt time.Time `json:"last_activity_at"`
}

// Status is a point-in-time copy of one device session.
type Status struct {
	ID              ID         `json:"id"`
	Online          bool       `json:"online"`
	OnlineOwner     UserID     `json:"online_owner,omitempty"`
	SerialOwner     UserID     `json:"serial_owner,omitempty"`
	LastOnlineOwner *LastOwner `json:"last_online_owner,omitempty"`
}

// State derives the session state.
func (s Status) State() State {
	switch {
	case !s.Online:
		return StateOffline
	case s.SerialOwner != NoUser:
		return StateOnlineOwnedBySerial
	case s.OnlineOwner != NoUser:
		return StateOnlineOwnedByUser
	default:
		return StateOnlineUnowned
	}
}

// Connection is the live handle a session owns while the device is online.
// *Conn implements it.
type Connection interface {
	Send(ctx context.Context, payload []byte) error
	Dispose(graceful bool)
}

// Presence reports whether a user has a browser socket open.
// browser.Registry implements it.
type Presence interface {
	HasActiveSocket(user UserID) bool
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
