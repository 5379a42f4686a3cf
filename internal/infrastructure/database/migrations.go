package database

import (
	"context"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
	"time"
)

// migrationSource and migrationDir locate the .sql files. Nil until a
// binary opts in to schema management via UseMigrations.
var (
	migrationSource fs.FS
	migrationDir    string
)

// UseMigrations registers the filesystem and directory that Migrate
// reads its .sql files from. The migrations package calls this from an
// init, so a blank import is all a binary needs:
//
//	import _ "github.com/sloanware/latchline-core/migrations"
func UseMigrations(fsys fs.FS, dir string) {
	migrationSource = fsys
	migrationDir = dir
}

// Migration filename layout: YYYYMMDD_HHMMSS_description.up.sql, with
// an optional .down.sql partner carrying the rollback.
//
// migrationNameFields bounds the underscore split: two version
// segments plus the free-form description.
const migrationNameFields = 3

// Migration is one schema change parsed from the embedded files.
type Migration struct {
	Version string // YYYYMMDD_HHMMSS, orders application
	Name    string // description segment of the filename
	UpSQL   string
	DownSQL string // empty when no .down.sql file exists
}

// AppliedMigration is one row of the schema_migrations bookkeeping
// table.
type AppliedMigration struct {
	Version   string
	AppliedAt time.Time
}

// Migrate brings the schema up to date, applying pending migrations in
// version order.
//
// Each migration commits in its own transaction. A failure rolls back
// that one migration and stops; everything applied before it stays
// applied, and rerunning Migrate after fixing the file resumes from
// the failed version. The bookkeeping row is written inside the same
// transaction as the DDL, so a migration is recorded exactly when its
// statements took effect.
func (db *DB) Migrate(ctx context.Context) error {
	if err := db.ensureMigrationsTable(ctx); err != nil {
		return fmt.Errorf("creating schema_migrations: %w", err)
	}

	all, err := loadMigrations()
	if err != nil {
		return fmt.Errorf("loading migrations: %w", err)
	}
	if len(all) == 0 {
		return nil
	}

	applied, err := db.appliedMigrations(ctx)
	if err != nil {
		return err
	}
	done := make(map[string]bool, len(applied))
	for _, a := range applied {
		done[a.Version] = true
	}

	for _, m := range all {
		if done[m.Version] {
			continue
		}
		if err := db.applyUp(ctx, m); err != nil {
			return fmt.Errorf("migration %s (%s): %w", m.Version, m.Name, err)
		}
	}

	return nil
}

// MigrateDown rolls back the newest applied migration. Development and
// test tooling; the daemons only ever migrate forward.
func (db *DB) MigrateDown(ctx context.Context) error {
	if err := db.ensureMigrationsTable(ctx); err != nil {
		return fmt.Errorf("creating schema_migrations: %w", err)
	}

	applied, err := db.appliedMigrations(ctx)
	if err != nil {
		return err
	}
	if len(applied) == 0 {
		return nil
	}
	latest := applied[len(applied)-1].Version

	all, err := loadMigrations()
	if err != nil {
		return fmt.Errorf("loading migrations: %w", err)
	}

	var down string
	found := false
	for _, m := range all {
		if m.Version == latest {
			down = m.DownSQL
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("migration %s is applied but missing from the embedded set", latest)
	}
	if down == "" {
		return fmt.Errorf("migration %s has no down file", latest)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if _, err := tx.ExecContext(ctx, down); err != nil {
		return fmt.Errorf("rolling back %s: %w", latest, err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM schema_migrations WHERE version = ?`, latest,
	); err != nil {
		return fmt.Errorf("unrecording %s: %w", latest, err)
	}

	return tx.Commit()
}

// MigrationStatus reports applied and pending migrations, oldest
// first. Startup logging and debugging aid.
func (db *DB) MigrationStatus(ctx context.Context) (applied []AppliedMigration, pending []Migration, err error) {
	if err := db.ensureMigrationsTable(ctx); err != nil {
		return nil, nil, fmt.Errorf("creating schema_migrations: %w", err)
	}

	applied, err = db.appliedMigrations(ctx)
	if err != nil {
		return nil, nil, err
	}

	all, err := loadMigrations()
	if err != nil {
		return nil, nil, err
	}

	done := make(map[string]bool, len(applied))
	for _, a := range applied {
		done[a.Version] = true
	}
	for _, m := range all {
		if !done[m.Version] {
			pending = append(pending, m)
		}
	}

	return applied, pending, nil
}

// ensureMigrationsTable creates the bookkeeping table on first run.
func (db *DB) ensureMigrationsTable(ctx context.Context) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version    TEXT PRIMARY KEY,
			applied_at TEXT NOT NULL
		)
	`)
	return err
}

// appliedMigrations returns the bookkeeping rows in version order.
func (db *DB) appliedMigrations(ctx context.Context) ([]AppliedMigration, error) {
	rows, err := db.DB.QueryContext(ctx,
		`SELECT version, applied_at FROM schema_migrations ORDER BY version`,
	)
	if err != nil {
		return nil, fmt.Errorf("querying schema_migrations: %w", err)
	}
	defer rows.Close()

	var applied []AppliedMigration
	for rows.Next() {
		var a AppliedMigration
		var stamp string
		if err := rows.Scan(&a.Version, &stamp); err != nil {
			return nil, fmt.Errorf("scanning schema_migrations: %w", err)
		}
		// We wrote the stamp ourselves; a parse failure just leaves the
		// zero time.
		a.AppliedAt, _ = time.Parse(time.RFC3339, stamp) //nolint:errcheck // own format
		applied = append(applied, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating schema_migrations: %w", err)
	}

	return applied, nil
}

// applyUp runs one migration's DDL and records its version, both in a
// single transaction.
func (db *DB) applyUp(ctx context.Context, m Migration) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if _, err := tx.ExecContext(ctx, m.UpSQL); err != nil {
		return fmt.Errorf("executing up SQL: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)`,
		m.Version, time.Now().UTC().Format(time.RFC3339),
	); err != nil {
		return fmt.Errorf("recording version: %w", err)
	}

	return tx.Commit()
}

// loadMigrations parses the registered directory into a sorted
// migration list. An unset filesystem or missing directory yields an
// empty list, not an error: a binary without the blank import simply
// has no schema to manage.
func loadMigrations() ([]Migration, error) {
	if migrationSource == nil {
		return nil, nil
	}

	entries, err := fs.ReadDir(migrationSource, migrationDir)
	if err != nil {
		return nil, nil
	}

	byVersion := make(map[string]*Migration)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		version, name, up, ok := splitMigrationName(entry.Name())
		if !ok {
			continue
		}

		sqlText, err := fs.ReadFile(migrationSource, path.Join(migrationDir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", entry.Name(), err)
		}

		m := byVersion[version]
		if m == nil {
			m = &Migration{Version: version, Name: name}
			byVersion[version] = m
		}
		if up {
			m.UpSQL = string(sqlText)
		} else {
			m.DownSQL = string(sqlText)
		}
	}

	migrations := make([]Migration, 0, len(byVersion))
	for _, m := range byVersion {
		// A .down.sql without its .up.sql partner is not a migration.
		if m.UpSQL == "" {
			continue
		}
		migrations = append(migrations, *m)
	}
	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].Version < migrations[j].Version
	})

	return migrations, nil
}

// splitMigrationName parses "20260301_100000_access_schema.up.sql"
// into version "20260301_100000", name "access_schema", direction up.
// ok is false for files that are not migrations.
func splitMigrationName(filename string) (version, name string, up, ok bool) {
	base, isSQL := strings.CutSuffix(filename, ".sql")
	if !isSQL {
		return "", "", false, false
	}

	switch {
	case strings.HasSuffix(base, ".up"):
		up = true
		base = strings.TrimSuffix(base, ".up")
	case strings.HasSuffix(base, ".down"):
		base = strings.TrimSuffix(base, ".down")
	default:
		return "", "", false, false
	}

	parts := strings.SplitN(base, "_", migrationNameFields)
	if len(parts) < migrationNameFields {
		return "", "", false, false
	}

	return parts[0] + "_" + parts[1], parts[2], up, true
}
