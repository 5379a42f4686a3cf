package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"github.com/sloanware/latchline-core/internal/infrastructure/config"
)

const (
	// dbDirMode keeps the state directory owner-accessible, group-readable.
	dbDirMode = 0750

	// dbFileMode restricts the database file to the service user. It
	// holds credential hashes and the access trail.
	dbFileMode = 0600

	// openPingTimeout bounds the connectivity check inside Open.
	openPingTimeout = 5 * time.Second

	// idleRecycle is how long an idle connection may sit before the
	// pool drops it.
	idleRecycle = 30 * time.Minute
)

// DB wraps a sql.DB for the Latchline system of record.
//
// The credential, token, rate-window and event repositories all share one
// DB; SQLite's single-writer model plus per-key conditional updates give
// the serialization the token lifecycle needs without a global lock.
type DB struct {
	*sql.DB
}

// Open connects to the SQLite file named by cfg, creating the file and
// its parent directory on first run. The connection is pinged before
// returning, so a bad path or a locked file fails here rather than on
// the first query.
//
// Parameters:
//   - cfg: Database section of config.yaml
//
// Returns:
//   - *DB: Verified connection
//   - error: If the directory, file, or ping fails
func Open(cfg config.DatabaseConfig) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.Path), dbDirMode); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	sqlDB, err := sql.Open("sqlite3", dsn(cfg))
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// One writer is all SQLite gives us; a pool of one keeps
	// database/sql from queueing writers behind a busy reader.
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	sqlDB.SetConnMaxLifetime(time.Hour)
	sqlDB.SetConnMaxIdleTime(idleRecycle)

	db := &DB{DB: sqlDB}

	ctx, cancel := context.WithTimeout(context.Background(), openPingTimeout)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		sqlDB.Close() //nolint:errcheck // already on the error path
		return nil, fmt.Errorf("verifying database connection: %w", err)
	}

	// The file may not exist until the first write; tightening the mode
	// is retried implicitly on the next Open.
	_ = os.Chmod(cfg.Path, dbFileMode) //nolint:errcheck // see above

	return db, nil
}

// dsn builds the go-sqlite3 connection string. Foreign keys are always
// on; WAL and relaxed fsync are opt-in via config.
// Pragma reference: https://github.com/mattn/go-sqlite3#connection-string
func dsn(cfg config.DatabaseConfig) string {
	busyMs := cfg.BusyTimeout * int(time.Second/time.Millisecond)
	s := fmt.Sprintf("file:%s?_busy_timeout=%d&_foreign_keys=on", cfg.Path, busyMs)
	if cfg.WALMode {
		s += "&_journal_mode=WAL&_synchronous=NORMAL"
	}
	return s
}

// Close releases the connection pool. Safe to call on a DB whose inner
// handle is already gone.
func (db *DB) Close() error {
	if db.DB == nil {
		return nil
	}
	if err := db.DB.Close(); err != nil {
		return fmt.Errorf("closing database: %w", err)
	}
	return nil
}

// HealthCheck runs a trivial query to prove the connection is alive.
// Wired into the health endpoint next to the MQTT and InfluxDB checks.
func (db *DB) HealthCheck(ctx context.Context) error {
	var one int
	if err := db.QueryRowContext(ctx, "SELECT 1").Scan(&one); err != nil {
		return fmt.Errorf("database health check failed: %w", err)
	}
	return nil
}

// ExecContext wraps the embedded ExecContext with a wrapped error so
// callers can %w a single failure chain.
func (db *DB) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	result, err := db.DB.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("executing query: %w", err)
	}
	return result, nil
}

// QueryRowContext executes a single-row query. Scan on the returned
// row surfaces any execution error.
func (db *DB) QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row {
	return db.DB.QueryRowContext(ctx, query, args...)
}

// BeginTx starts a transaction. Callers pair it with a deferred
// Rollback, which is a no-op once the transaction commits:
//
//	tx, err := db.BeginTx(ctx, nil)
//	if err != nil {
//	    return err
//	}
//	defer tx.Rollback()
//
//	// ... statements on tx ...
//
//	return tx.Commit()
func (db *DB) BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error) {
	tx, err := db.DB.BeginTx(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("starting transaction: %w", err)
	}
	return tx, nil
}
