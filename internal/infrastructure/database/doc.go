// Package database provides SQLite connectivity for pip-core.
//
// This package manages:
//   - Database connection with optional WAL mode
//   - Forward-only schema migrations read from an fs.FS
//   - Connection lifecycle and health checks
//
// Only durable data lives here: published firmware images and the
// ownership audit trail. Device sessions are in-memory and are rebuilt
// from socket connections after a restart.
//
// Usage:
//
//	db, err := database.Open(ctx, database.Config{Path: cfg.Database.Path})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx, migrations.FS); err != nil {
//	    return err
//	}
package database
