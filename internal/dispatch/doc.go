// Package dispatch sends binary frames to live devices.
//
// Every send resolves the device's current connection through the device
// registry at call time; nothing caches connections. A successful
// user-driven send refreshes the online owner's activity in both
// registries so the reconnect window follows use, not connect time.
// Activity updates are best effort and never fail a send.
package dispatch
