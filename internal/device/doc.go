// Package device tracks Pip devices and who controls them.
//
// A Pip is reachable over one network socket at a time and can be driven
// through two channels: the serial channel (a USB tether held by a student
// at the bench) and the online channel (a browser session). The serial
// channel always wins.
//
// # Architecture
//
//	┌──────────────────────────────────────────────────────────────┐
//	│                        Device Registry                        │
//	│                                                               │
//	│  ┌────────────────────┐         ┌──────────────────────────┐  │
//	│  │      Registry      │ owns    │           Conn            │  │
//	│  │   (registry.go)    │────────▶│         (conn.go)         │  │
//	│  │                    │         │                           │  │
//	│  │ • session map      │         │ • read pump               │  │
//	│  │ • ownership rules  │         │ • ping/pong liveness      │  │
//	│  │ • reconnect window │         │ • serialized writes       │  │
//	│  └────────────────────┘         └──────────────────────────┘  │
//	│           │ HasActiveSocket                                   │
//	└───────────│───────────────────────────────────────────────────┘
//	            ▼
//	    browser.Registry
//
// Every Registry method is a single critical section. Transitions return a
// result value describing who was displaced or rebound; the session
// coordinator turns those results into device frames and browser events.
//
// # Reconnect window
//
// When a device drops, its last online owner is remembered for
// DefaultReconnectWindow. If the device comes back within the window and
// that user still has a browser open, control is handed back silently.
// Expiry is evaluated at read time; there is no sweeper.
package device
