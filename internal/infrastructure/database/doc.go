// Package database provides the SQLite store behind habitat-core.
//
// The store runs in WAL mode so history and alert reads proceed while a
// snapshot commit or command claim is writing. The pool holds exactly one
// connection; correctness of the command claim relies on a single
// UPDATE ... RETURNING statement, not on connection-level locking.
//
// Schema changes live in the top-level migrations package as embedded
// YYYYMMDD_HHMMSS_name.up.sql / .down.sql pairs, registered through
// RegisterMigrations and applied by (*DB).Migrate.
//
//	db, err := database.Open(database.Config{Path: cfg.Database.Path, WALMode: true, BusyTimeout: 5})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//	if err := db.Migrate(ctx); err != nil {
//	    return err
//	}
//
// Timestamps are stored as fixed-width UTC strings (see FormatTime) so that
// ORDER BY and range comparisons on TEXT columns are chronological.
package database
