package audit

import "errors"

// ErrInvalidEvent is returned by Create for events missing an action or device.
var ErrInvalidEvent = errors.New("audit: event requires action and device id")
