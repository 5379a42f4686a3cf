package access

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// CredentialRepository defines the interface for enrollment persistence.
type CredentialRepository interface {
	Enroll(ctx context.Context, cred *Credential, identity string) error
	GetByCredential(ctx context.Context, credential string) (*Credential, error)
	Revoke(ctx context.Context, identity string) error
	ListEnrollments(ctx context.Context) ([]Enrollment, error)
	DeleteExpired(ctx context.Context) (int64, error)
}

// SQLiteCredentialRepository implements CredentialRepository using SQLite.
type SQLiteCredentialRepository struct {
	db *sql.DB
}

// NewCredentialRepository creates a new SQLite-backed credential repository.
func NewCredentialRepository(db *sql.DB) *SQLiteCredentialRepository {
	return &SQLiteCredentialRepository{db: db}
}

// Enroll inserts a credential and its identity mapping in one transaction.
// Partial enrollment (one row without the other) is never observable: if
// either insert fails, both roll back. A duplicate credential or identity
// returns ErrDuplicateCredential.
func (r *SQLiteCredentialRepository) Enroll(ctx context.Context, cred *Credential, identity string) error {
	if cred.CreatedAt.IsZero() {
		cred.CreatedAt = time.Now().UTC()
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning enrollment transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback is no-op after commit

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO credentials (credential, permissions, created_at, expires_at)
		 VALUES (?, ?, ?, ?)`,
		cred.Credential, EncodePermissions(cred.Permissions),
		cred.CreatedAt.Unix(), cred.ExpiresAt.Unix(),
	); err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateCredential
		}
		return fmt.Errorf("inserting credential: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO credential_identities (identity, credential) VALUES (?, ?)`,
		identity, cred.Credential,
	); err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateCredential
		}
		return fmt.Errorf("inserting identity mapping: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing enrollment: %w", err)
	}
	return nil
}

// GetByCredential retrieves a credential by its opaque string.
// Returns ErrCredentialNotFound if no such credential exists; expiry is
// the caller's check, a stored-but-expired credential is still returned.
func (r *SQLiteCredentialRepository) GetByCredential(ctx context.Context, credential string) (*Credential, error) {
	var c Credential
	var permissions string
	var createdAt, expiresAt int64

	err := r.db.QueryRowContext(ctx,
		`SELECT credential, permissions, created_at, expires_at
		 FROM credentials WHERE credential = ?`, credential,
	).Scan(&c.Credential, &permissions, &createdAt, &expiresAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrCredentialNotFound
		}
		return nil, fmt.Errorf("getting credential: %w", err)
	}

	c.Permissions = DecodePermissions(permissions)
	c.CreatedAt = time.Unix(createdAt, 0).UTC()
	c.ExpiresAt = time.Unix(expiresAt, 0).UTC()

	return &c, nil
}

// Revoke deletes the credential and its identity mapping in one
// transaction, keyed by the identity the admin enrolled it under.
// Short tokens already issued from the credential are not touched: they
// die at validation time when the credential lookup fails.
func (r *SQLiteCredentialRepository) Revoke(ctx context.Context, identity string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning revocation transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback is no-op after commit

	var credential string
	err = tx.QueryRowContext(ctx,
		"SELECT credential FROM credential_identities WHERE identity = ?", identity,
	).Scan(&credential)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrIdentityNotFound
		}
		return fmt.Errorf("resolving identity: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		"DELETE FROM credential_identities WHERE identity = ?", identity); err != nil {
		return fmt.Errorf("deleting identity mapping: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		"DELETE FROM credentials WHERE credential = ?", credential); err != nil {
		return fmt.Errorf("deleting credential: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing revocation: %w", err)
	}
	return nil
}

// ListEnrollments returns the administrative view of all enrollments,
// newest first. Raw credential strings never leave the store.
func (r *SQLiteCredentialRepository) ListEnrollments(ctx context.Context) ([]Enrollment, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT ci.identity, c.permissions, c.created_at, c.expires_at
		 FROM credential_identities ci
		 JOIN credentials c ON c.credential = ci.credential
		 ORDER BY c.created_at DESC, ci.identity`)
	if err != nil {
		return nil, fmt.Errorf("listing enrollments: %w", err)
	}
	defer rows.Close()

	now := time.Now().UTC()

	var enrollments []Enrollment
	for rows.Next() {
		var e Enrollment
		var permissions string
		var createdAt, expiresAt int64

		if err := rows.Scan(&e.Identity, &permissions, &createdAt, &expiresAt); err != nil {
			return nil, fmt.Errorf("scanning enrollment: %w", err)
		}

		e.Permissions = DecodePermissions(permissions)
		e.CreatedAt = time.Unix(createdAt, 0).UTC()
		e.ExpiresAt = time.Unix(expiresAt, 0).UTC()
		e.Expired = !e.ExpiresAt.After(now)

		enrollments = append(enrollments, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating enrollments: %w", err)
	}

	if enrollments == nil {
		enrollments = []Enrollment{}
	}
	return enrollments, nil
}

// DeleteExpired removes credentials past their expiry along with their
// identity mappings. Idempotent: sweeping an already-swept credential is
// a no-op. Returns the number of deleted credentials.
func (r *SQLiteCredentialRepository) DeleteExpired(ctx context.Context) (int64, error) {
	now := time.Now().UTC().Unix()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("beginning sweep transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback is no-op after commit

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM credential_identities WHERE credential IN
		 (SELECT credential FROM credentials WHERE expires_at <= ?)`, now); err != nil {
		return 0, fmt.Errorf("sweeping identity mappings: %w", err)
	}

	result, err := tx.ExecContext(ctx,
		"DELETE FROM credentials WHERE expires_at <= ?", now)
	if err != nil {
		return 0, fmt.Errorf("sweeping credentials: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing sweep: %w", err)
	}

	count, _ := result.RowsAffected() //nolint:errcheck // always succeeds on SQLite
	return count, nil
}

// isUniqueViolation checks if a SQLite error is a UNIQUE constraint violation.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
