package access

import (
	"context"
	"database/sql"
	"os"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// testDB creates a temporary SQLite database with the access schema applied.
// The database file is cleaned up when the test completes.
func testDB(t *testing.T) *sql.DB {
	t.Helper()

	// Use a temp file so WAL mode works (in-memory doesn't support it)
	f, err := os.CreateTemp("", "access-test-*.db")
	if err != nil {
		t.Fatalf("creating temp db: %v", err)
	}
	dbPath := f.Name()
	f.Close()
	t.Cleanup(func() { os.Remove(dbPath) })

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=ON")
	if err != nil {
		t.Fatalf("opening test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	// Apply the access migrations
	migrationSQL := `
		CREATE TABLE credentials (
			credential  TEXT PRIMARY KEY,
			permissions TEXT NOT NULL,
			created_at  INTEGER NOT NULL,
			expires_at  INTEGER NOT NULL
		);

		CREATE TABLE credential_identities (
			identity   TEXT PRIMARY KEY,
			credential TEXT NOT NULL
		);

		CREATE INDEX idx_credential_identities_credential
			ON credential_identities(credential);

		CREATE TABLE access_tokens (
			token      TEXT PRIMARY KEY,
			credential TEXT NOT NULL,
			issued_at  INTEGER NOT NULL,
			expires_at INTEGER NOT NULL,
			state      TEXT NOT NULL DEFAULT 'pending'
				CHECK (state IN ('pending', 'granted', 'denied'))
		);

		CREATE INDEX idx_access_tokens_expires_at ON access_tokens(expires_at);
		CREATE INDEX idx_access_tokens_credential ON access_tokens(credential);

		CREATE TABLE rate_windows (
			credential      TEXT PRIMARY KEY,
			timestamps      TEXT NOT NULL DEFAULT '',
			suspended_until INTEGER
		);

		CREATE TABLE access_events (
			id                TEXT PRIMARY KEY,
			token_prefix      TEXT,
			credential_prefix TEXT,
			door_id           TEXT NOT NULL,
			decision          TEXT NOT NULL CHECK (decision IN ('granted', 'denied')),
			reason            TEXT,
			rssi_dbm          INTEGER,
			distance_cm       INTEGER,
			latency_ms        INTEGER NOT NULL DEFAULT 0,
			created_at        INTEGER NOT NULL
		);

		CREATE INDEX idx_access_events_created_at ON access_events(created_at);
		CREATE INDEX idx_access_events_door_id ON access_events(door_id);
	`
	if _, err := db.Exec(migrationSQL); err != nil {
		t.Fatalf("applying access migration: %v", err)
	}

	return db
}

// seedEnrollment enrolls a credential under an identity and returns it.
func seedEnrollment(t *testing.T, db *sql.DB, credential, identity string, permissions []string, expiresAt time.Time) *Credential {
	t.Helper()

	repo := NewCredentialRepository(db)
	cred := &Credential{
		Credential:  credential,
		Permissions: permissions,
		CreatedAt:   time.Now().UTC(),
		ExpiresAt:   expiresAt.UTC(),
	}
	if err := repo.Enroll(testContext(t), cred, identity); err != nil {
		t.Fatalf("enrolling %s: %v", identity, err)
	}
	return cred
}

// seedToken inserts a token row directly so tests control every field,
// backdated expiries included.
func seedToken(t *testing.T, db *sql.DB, token, credential string, state TokenState, expiresAt time.Time) {
	t.Helper()

	_, err := db.Exec(
		`INSERT INTO access_tokens (token, credential, issued_at, expires_at, state) VALUES (?, ?, ?, ?, ?)`,
		token, credential, time.Now().UTC().Unix(), expiresAt.Unix(), string(state),
	)
	if err != nil {
		t.Fatalf("seeding token %s: %v", token, err)
	}
}

// newTestService wires a service over real SQLite repositories with the
// default thresholds, a 30-second token TTL, and a 5-per-minute limiter.
func newTestService(t *testing.T, db *sql.DB) *Service {
	t.Helper()

	return NewService(
		NewCredentialRepository(db),
		NewTokenRepository(db),
		NewEventRepository(db),
		NewRateLimiter(db, 5, time.Minute),
		DefaultThresholds(),
		30*time.Second,
		nil,
	)
}

// intPtr returns a pointer to v for optional reading fields.
func intPtr(v int) *int {
	return &v
}

// testContext mirrors (*testing.T).Context, which is unavailable before
// Go 1.24: the returned context is canceled when the test ends.
func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return ctx
}
