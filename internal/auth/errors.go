package auth

import "errors"

// Sentinel errors for token verification.
var (
	// ErrTokenInvalid is returned for malformed, wrongly signed or expired tokens.
	ErrTokenInvalid = errors.New("auth: invalid token")

	// ErrInvalidSubject is returned when the subject is not a positive user id.
	ErrInvalidSubject = errors.New("auth: subject is not a user id")
)
