// Package session coordinates device and browser sessions.
//
// The device and browser registries are pure state machines: each
// transition returns a small result describing who was displaced, released
// or rebound. The Coordinator acts on those results. It binds and unbinds
// browsers, tells devices about owner changes, emits browser events, and
// records the transition in the audit trail, telemetry and MQTT presence.
//
//	device socket ──► AcceptDevice ──► device.Registry ──► RegisterResult
//	                                                        │
//	browser / HTTP ──► Claim*/Release* ─────────────────────┤
//	                                                        ▼
//	                           browser.Registry, dispatch, audit, mqtt, influx
//
// Audit, telemetry and presence are best effort: their failures are logged
// and never change the outcome of a session transition.
package session
