// Package auth verifies the JWT access tokens presented by browsers and
// REST clients.
//
// Tokens are HS256-signed by the platform's account service with the
// shared secret from security.jwt.secret. The subject is the numeric user
// id that the device registry records as an owner.
package auth
