package access

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"time"
)

const (
	// tokenBytes is the entropy of a short token. 32 bytes keeps guessing
	// infeasible many orders of magnitude beyond the token's TTL.
	tokenBytes = 32

	// TokenLength is the length of an encoded token string. Requests
	// carrying a token of any other length are malformed and rejected
	// before touching the store.
	TokenLength = tokenBytes * 2
)

// GenerateToken creates a cryptographically secure random access token.
func GenerateToken() (string, error) {
	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating access token: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// TokenRepository defines the interface for short token persistence.
type TokenRepository interface {
	Create(ctx context.Context, token *AccessToken) error
	Get(ctx context.Context, token string) (*AccessToken, error)
	Consume(ctx context.Context, token string, to TokenState) (bool, error)
	Delete(ctx context.Context, token string) error
	DeleteExpired(ctx context.Context) (int64, error)
}

// SQLiteTokenRepository implements TokenRepository using SQLite.
type SQLiteTokenRepository struct {
	db *sql.DB
}

// NewTokenRepository creates a new SQLite-backed token repository.
func NewTokenRepository(db *sql.DB) *SQLiteTokenRepository {
	return &SQLiteTokenRepository{db: db}
}

// Create inserts a freshly issued token in the pending state.
func (r *SQLiteTokenRepository) Create(ctx context.Context, token *AccessToken) error {
	if token.State == "" {
		token.State = TokenPending
	}
	if token.IssuedAt.IsZero() {
		token.IssuedAt = time.Now().UTC()
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO access_tokens (token, credential, issued_at, expires_at, state)
		 VALUES (?, ?, ?, ?, ?)`,
		token.Token, token.Credential,
		token.IssuedAt.Unix(), token.ExpiresAt.Unix(), string(token.State),
	)
	if err != nil {
		return fmt.Errorf("creating access token: %w", err)
	}
	return nil
}

// Get retrieves a token by its string. Returns ErrTokenNotFound if the
// token does not exist; expiry is the caller's check.
func (r *SQLiteTokenRepository) Get(ctx context.Context, token string) (*AccessToken, error) {
	var t AccessToken
	var state string
	var issuedAt, expiresAt int64

	err := r.db.QueryRowContext(ctx,
		`SELECT token, credential, issued_at, expires_at, state
		 FROM access_tokens WHERE token = ?`, token,
	).Scan(&t.Token, &t.Credential, &issuedAt, &expiresAt, &state)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrTokenNotFound
		}
		return nil, fmt.Errorf("getting access token: %w", err)
	}

	t.IssuedAt = time.Unix(issuedAt, 0).UTC()
	t.ExpiresAt = time.Unix(expiresAt, 0).UTC()
	t.State = TokenState(state)

	return &t, nil
}

// Consume performs the atomic pending-to-terminal transition. The UPDATE
// is conditional on the current state still being pending, which is what
// makes a grant at-most-once: of two racing validations, exactly one sees
// a row updated and the other reports false.
//
// Returns true if this call performed the transition, false if the token
// was already terminal (or absent).
func (r *SQLiteTokenRepository) Consume(ctx context.Context, token string, to TokenState) (bool, error) {
	if to != TokenGranted && to != TokenDenied {
		return false, fmt.Errorf("invalid terminal state %q", to)
	}

	result, err := r.db.ExecContext(ctx,
		`UPDATE access_tokens SET state = ? WHERE token = ? AND state = ?`,
		string(to), token, string(TokenPending),
	)
	if err != nil {
		return false, fmt.Errorf("consuming access token: %w", err)
	}

	affected, _ := result.RowsAffected() //nolint:errcheck // always succeeds on SQLite
	return affected == 1, nil
}

// Delete removes a token row. Deleting an absent token is a no-op: the
// eager purge on expired reads and the background sweep may race, and
// both must win quietly.
func (r *SQLiteTokenRepository) Delete(ctx context.Context, token string) error {
	_, err := r.db.ExecContext(ctx,
		"DELETE FROM access_tokens WHERE token = ?", token)
	if err != nil {
		return fmt.Errorf("deleting access token: %w", err)
	}
	return nil
}

// DeleteExpired removes tokens past their TTL regardless of state.
// Returns the number of deleted rows.
func (r *SQLiteTokenRepository) DeleteExpired(ctx context.Context) (int64, error) {
	now := time.Now().UTC().Unix()

	result, err := r.db.ExecContext(ctx,
		"DELETE FROM access_tokens WHERE expires_at <= ?", now)
	if err != nil {
		return 0, fmt.Errorf("deleting expired tokens: %w", err)
	}

	count, _ := result.RowsAffected() //nolint:errcheck // always succeeds on SQLite
	return count, nil
}
