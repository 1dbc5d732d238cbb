package database

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"path"
	"slices"
	"strings"
	"time"
)

// Migration is one versioned schema change.
//
// Files are named YYYYMMDD_HHMMSS_description.up.sql with an optional
// matching .down.sql. The timestamp pair is the version.
type Migration struct {
	Version string
	Name    string
	UpSQL   string
	DownSQL string
}

// MigrationRecord is an applied version and when it was applied.
type MigrationRecord struct {
	Version   string
	AppliedAt time.Time
}

const ledgerDDL = `CREATE TABLE IF NOT EXISTS schema_migrations (
	version    TEXT PRIMARY KEY,
	applied_at TEXT NOT NULL
)`

var (
	migrationFS  fs.FS
	migrationDir = "."
)

// RegisterMigrations sets the filesystem migrations are read from.
// The migrations package calls it from init with its embedded files.
func RegisterMigrations(fsys fs.FS, dir string) {
	if dir == "" {
		dir = "."
	}
	migrationFS, migrationDir = fsys, dir
}

// Migrate applies all pending migrations in version order.
//
// Each migration commits on its own. If migration N fails, earlier ones
// stay applied and the next call resumes at N.
func (db *DB) Migrate(ctx context.Context) error {
	_, pending, err := db.GetMigrationStatus(ctx)
	if err != nil {
		return err
	}
	for _, m := range pending {
		m := m
		err := db.inTx(ctx, func(tx *sql.Tx) error {
			if _, err := tx.ExecContext(ctx, m.UpSQL); err != nil {
				return err
			}
			_, err := tx.ExecContext(ctx,
				`INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)`,
				m.Version, FormatTime(time.Now()))
			return err
		})
		if err != nil {
			return fmt.Errorf("migration %s (%s) up: %w", m.Version, m.Name, err)
		}
	}
	return nil
}

// MigrateDown reverts the newest applied migration. With nothing applied
// it does nothing.
func (db *DB) MigrateDown(ctx context.Context) error {
	applied, _, err := db.GetMigrationStatus(ctx)
	if err != nil {
		return err
	}
	if len(applied) == 0 {
		return nil
	}
	version := applied[len(applied)-1].Version

	all, err := loadMigrations()
	if err != nil {
		return err
	}
	i := slices.IndexFunc(all, func(m Migration) bool { return m.Version == version })
	if i < 0 {
		return fmt.Errorf("applied migration %s has no source file", version)
	}
	m := all[i]
	if strings.TrimSpace(m.DownSQL) == "" {
		return fmt.Errorf("migration %s cannot be reverted: no down SQL", version)
	}

	err = db.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, m.DownSQL); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `DELETE FROM schema_migrations WHERE version = ?`, version)
		return err
	})
	if err != nil {
		return fmt.Errorf("migration %s (%s) down: %w", m.Version, m.Name, err)
	}
	return nil
}

// GetMigrationStatus lists applied versions, oldest first, and the known
// migrations not yet applied.
func (db *DB) GetMigrationStatus(ctx context.Context) (applied []MigrationRecord, pending []Migration, err error) {
	if _, err = db.ExecContext(ctx, ledgerDDL); err != nil {
		return nil, nil, fmt.Errorf("ensuring schema_migrations: %w", err)
	}
	if applied, err = db.appliedMigrations(ctx); err != nil {
		return nil, nil, err
	}
	all, err := loadMigrations()
	if err != nil {
		return nil, nil, err
	}

	done := make(map[string]bool, len(applied))
	for _, r := range applied {
		done[r.Version] = true
	}
	for _, m := range all {
		if !done[m.Version] {
			pending = append(pending, m)
		}
	}
	return applied, pending, nil
}

func (db *DB) appliedMigrations(ctx context.Context) ([]MigrationRecord, error) {
	rows, err := db.QueryContext(ctx, `SELECT version, applied_at FROM schema_migrations ORDER BY version`)
	if err != nil {
		return nil, fmt.Errorf("reading schema_migrations: %w", err)
	}
	defer rows.Close()

	var out []MigrationRecord
	for rows.Next() {
		var (
			rec MigrationRecord
			at  string
		)
		if err := rows.Scan(&rec.Version, &at); err != nil {
			return nil, fmt.Errorf("reading schema_migrations: %w", err)
		}
		rec.AppliedAt, _ = ParseTime(at) //nolint:errcheck // always written by Migrate
		out = append(out, rec)
	}
	return out, rows.Err()
}

// inTx runs fn in a transaction, committing only if fn succeeds.
func (db *DB) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// loadMigrations pairs up and down files by version, oldest first.
// An unregistered source yields no migrations so status-only tools work.
func loadMigrations() ([]Migration, error) {
	if migrationFS == nil {
		return nil, nil
	}
	entries, err := fs.ReadDir(migrationFS, migrationDir)
	if err != nil {
		return nil, fmt.Errorf("reading migration dir %q: %w", migrationDir, err)
	}

	byVersion := make(map[string]*Migration)
	for _, e := range entries {
		version, isUp, ok := parseMigrationFilename(e.Name())
		if e.IsDir() || !ok {
			continue
		}
		body, err := fs.ReadFile(migrationFS, path.Join(migrationDir, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", e.Name(), err)
		}

		m := byVersion[version]
		if m == nil {
			m = &Migration{Version: version}
			byVersion[version] = m
		}
		if isUp {
			m.Name, m.UpSQL = extractMigrationName(e.Name()), string(body)
		} else {
			m.DownSQL = string(body)
		}
	}

	out := make([]Migration, 0, len(byVersion))
	for _, m := range byVersion {
		if m.UpSQL == "" {
			return nil, fmt.Errorf("migration %s: down file without up file", m.Version)
		}
		out = append(out, *m)
	}
	slices.SortFunc(out, func(a, b Migration) int { return strings.Compare(a.Version, b.Version) })
	return out, nil
}

// parseMigrationFilename reports the version of a migration file and
// whether it is the up half. ok is false for anything else.
func parseMigrationFilename(name string) (version string, isUp bool, ok bool) {
	stem, direction, ok := splitMigrationFile(name)
	if !ok || direction == "" {
		return "", false, false
	}
	parts := strings.SplitN(stem, "_", 3)
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return "", false, false
	}
	return parts[0] + "_" + parts[1], direction == "up", true
}

// extractMigrationName returns the description after the version, or the
// whole stem when there is none:
//
//	20260118_120000_initial_schema.up.sql -> initial_schema
func extractMigrationName(filename string) string {
	stem, _, _ := splitMigrationFile(filename)
	if stem == "" {
		stem = strings.TrimSuffix(filename, ".sql")
	}
	if parts := strings.SplitN(stem, "_", 3); len(parts) == 3 {
		return parts[2]
	}
	return stem
}

// splitMigrationFile splits "stem.up.sql" into stem and "up" (or "down").
func splitMigrationFile(name string) (stem, direction string, ok bool) {
	base, found := strings.CutSuffix(name, ".sql")
	if !found {
		return "", "", false
	}
	for _, dir := range []string{"up", "down"} {
		if s, cut := strings.CutSuffix(base, "."+dir); cut {
			return s, dir, true
		}
	}
	return "", "", false
}
