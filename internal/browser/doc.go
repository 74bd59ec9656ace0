// Package browser tracks the browser sockets of signed-in users and the
// device each user is currently bound to.
//
// A user may have several tabs open; the registry keeps every socket and
// fans events out to all of them. The user session is removed when the last
// socket closes, and the caller is told which device the user was bound to
// so it can release their control.
//
// The registry never calls back into the device registry.
package browser
