package protocol

import "errors"

// Domain errors.
var (
	ErrMalformedFrame   = errors.New("protocol: malformed frame")
	ErrUnknownRoute     = errors.New("protocol: unknown route")
	ErrInvalidChunkSize = errors.New("protocol: chunk size must be positive")
	ErrEmptyImage       = errors.New("protocol: firmware image is empty")
)
