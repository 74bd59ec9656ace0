package session

import "errors"

// ErrUnknownMessage is reported to browsers sending an unsupported type.
var ErrUnknownMessage = errors.New("session: unknown browser message")
