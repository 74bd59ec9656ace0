// Package migrations embeds the SQL schema for pip-core's persistent data:
// firmware releases and the device ownership audit trail.
//
// Live session state is deliberately absent; it is rebuilt from socket
// connections after every restart.
package migrations

import "embed"

// FS holds every *.up.sql file in this directory.
//
//go:embed *.sql
var FS embed.FS
