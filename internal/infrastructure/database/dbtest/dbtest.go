// Package dbtest opens migrated in-memory databases for tests.
package dbtest

import (
	"context"
	"testing"

	"github.com/smartcat/habitat-core/internal/infrastructure/database"
	_ "github.com/smartcat/habitat-core/migrations" // registers the schema
)

// Open returns an in-memory database with every migration applied.
// It is closed automatically when the test finishes.
func Open(tb testing.TB) *database.DB {
	tb.Helper()

	db, err := database.Open(database.Config{Path: database.MemoryPath, BusyTimeout: 5})
	if err != nil {
		tb.Fatalf("dbtest: open: %v", err)
	}
	tb.Cleanup(func() { db.Close() }) //nolint:errcheck // Test cleanup

	if err := db.Migrate(context.Background()); err != nil {
		tb.Fatalf("dbtest: migrate: %v", err)
	}
	return db
}
