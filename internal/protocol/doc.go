// Package protocol defines the frames exchanged with Pip devices.
//
// Devices send JSON text frames routed by a "route" discriminator. The
// server sends binary frames: a CBOR envelope encoded with Core Deterministic
// Encoding (RFC 8949 §4.2) so identical frames always produce identical
// bytes on the wire.
//
//	{"route": "/sensor-data", "payload": {...}}   device → server (text)
//	Frame{type, version, data, seq, total}       server → device (CBOR)
//
// Older firmware announces itself with a single route-less registration
// frame {"pipId": "...", "firmwareVersion": n}; DecodeInbound presents it as
// RouteInitialData so callers see one shape.
package protocol
