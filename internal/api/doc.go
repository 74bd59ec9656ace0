// Package api implements the HTTP controllers and WebSocket endpoints of
// pip-core.
//
// This package provides:
//   - The device socket endpoint that Pips connect to
//   - The browser socket endpoint for real-time session events
//   - REST controllers for online and serial claims, commands and status
//   - The firmware publish webhook
//   - Operator endpoints for broadcasts and forced releases
//   - Middleware stack (request ID, logging, recovery, CORS, JWT bearer auth)
//
// # Architecture
//
// Handlers only parse requests and map errors to status codes. Every session
// change goes through session.Coordinator, which owns the ordering between
// the device registry, browser registry and device frames.
//
// # Security
//
// Access tokens are issued by the platform account service and verified here
// with the shared HS256 secret. Browser sockets authenticate with either the
// token itself or a single-use ticket obtained with it. Device sockets are
// identified by their Pip id only. Operator endpoints require the admin
// secret and are disabled when none is configured.
package api
