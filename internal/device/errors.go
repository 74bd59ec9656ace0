package device

import "errors"

// Domain errors for the device package.
//
//	if errors.Is(err, device.ErrSerialConflict) {
//	    // tell the user control is unavailable
//	}
var (
	// ErrSessionNotFound is returned when an operation needs a session that
	// has never been created for the device.
	ErrSessionNotFound = errors.New("device: session not found")

	// ErrSerialConflict is returned when an online claim is made while
	// another user holds the serial channel.
	ErrSerialConflict = errors.New("device: serial channel held by another user")

	// ErrNotOwner is returned when a user releases a channel they do not hold.
	ErrNotOwner = errors.New("device: user does not own the device")

	// ErrInvalidID is returned for identifiers that are not five upper-case
	// letters or digits.
	ErrInvalidID = errors.New("device: invalid id")

	// ErrConnectionClosed is returned by Send after the connection was disposed.
	ErrConnectionClosed = errors.New("device: connection closed")

	// ErrLivenessTimeout is reported to OnClose when neither a pong nor any
	// inbound frame arrived within one probe interval.
	ErrLivenessTimeout = errors.New("device: liveness probe timed out")

	// ErrSendFailed wraps transport write errors.
	ErrSendFailed = errors.New("device: send failed")
)
