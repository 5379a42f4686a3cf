package access

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Admission is the outcome of one rate-limit check.
type Admission struct {
	// Allowed reports whether issuance may proceed.
	Allowed bool

	// SuspendedUntil is set when denied: the instant the cooldown ends.
	SuspendedUntil time.Time
}

// RateLimiter gates short-token issuance per credential.
type RateLimiter interface {
	Admit(ctx context.Context, credential string) (Admission, error)
}

// SQLiteRateLimiter implements a fixed-window-with-cooldown policy over
// the rate_windows table.
//
// The policy is deliberately not a sliding log with partial decay:
// exceeding the limit clears the window and imposes one full cooldown,
// after which the credential starts from an empty window. Callers must
// preserve this all-or-nothing shape; it is what makes the limiter's
// behaviour predictable to the person standing at the door.
type SQLiteRateLimiter struct {
	db     *sql.DB
	max    int
	window time.Duration
}

// NewRateLimiter creates a rate limiter allowing max requests per window,
// with a suspension of one window length on breach.
func NewRateLimiter(db *sql.DB, max int, window time.Duration) *SQLiteRateLimiter {
	return &SQLiteRateLimiter{db: db, max: max, window: window}
}

// Admit checks and updates the credential's window in one transaction.
//
// Order of evaluation:
//  1. An active suspension denies without touching the window at all.
//  2. Timestamps older than the window are pruned lazily.
//  3. A full window starts a suspension, clears the timestamps, denies.
//  4. Otherwise the current instant is appended, any stale suspension
//     marker is cleared, and the request is allowed.
func (l *SQLiteRateLimiter) Admit(ctx context.Context, credential string) (Admission, error) {
	now := time.Now().UTC()

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return Admission{}, fmt.Errorf("beginning admission transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback is no-op after commit

	var rawTimestamps string
	var suspendedUntil sql.NullInt64

	err = tx.QueryRowContext(ctx,
		"SELECT timestamps, suspended_until FROM rate_windows WHERE credential = ?",
		credential,
	).Scan(&rawTimestamps, &suspendedUntil)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return Admission{}, fmt.Errorf("reading rate window: %w", err)
	}

	// Active suspension: deny, mutate nothing.
	if suspendedUntil.Valid {
		until := time.Unix(suspendedUntil.Int64, 0).UTC()
		if now.Before(until) {
			return Admission{Allowed: false, SuspendedUntil: until}, nil
		}
	}

	// Prune entries older than the trailing window.
	cutoff := now.Add(-l.window).Unix()
	var kept []int64
	for _, ts := range decodeTimestamps(rawTimestamps) {
		if ts > cutoff {
			kept = append(kept, ts)
		}
	}

	if len(kept) >= l.max {
		// Window full: suspend for one full window and clear the list.
		until := now.Add(l.window)
		if err := l.writeWindow(ctx, tx, credential, nil, &until); err != nil {
			return Admission{}, err
		}
		if err := tx.Commit(); err != nil {
			return Admission{}, fmt.Errorf("committing suspension: %w", err)
		}
		return Admission{Allowed: false, SuspendedUntil: until}, nil
	}

	// Admit: append this request, clear any stale suspension marker.
	kept = append(kept, now.Unix())
	if err := l.writeWindow(ctx, tx, credential, kept, nil); err != nil {
		return Admission{}, err
	}
	if err := tx.Commit(); err != nil {
		return Admission{}, fmt.Errorf("committing admission: %w", err)
	}
	return Admission{Allowed: true}, nil
}

// writeWindow upserts the credential's window row inside the transaction.
func (l *SQLiteRateLimiter) writeWindow(ctx context.Context, tx *sql.Tx, credential string, timestamps []int64, suspendedUntil *time.Time) error {
	var until any
	if suspendedUntil != nil {
		until = suspendedUntil.Unix()
	}

	_, err := tx.ExecContext(ctx, `
		INSERT INTO rate_windows (credential, timestamps, suspended_until)
		VALUES (?, ?, ?)
		ON CONFLICT(credential) DO UPDATE SET
			timestamps = excluded.timestamps,
			suspended_until = excluded.suspended_until`,
		credential, encodeTimestamps(timestamps), until,
	)
	if err != nil {
		return fmt.Errorf("writing rate window: %w", err)
	}
	return nil
}

// encodeTimestamps joins unix seconds for storage.
func encodeTimestamps(ts []int64) string {
	if len(ts) == 0 {
		return ""
	}
	parts := make([]string, len(ts))
	for i, t := range ts {
		parts[i] = strconv.FormatInt(t, 10)
	}
	return strings.Join(parts, ",")
}

// decodeTimestamps splits a stored timestamp list, dropping anything
// unparseable rather than failing the admission check.
func decodeTimestamps(raw string) []int64 {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]int64, 0, len(parts))
	for _, p := range parts {
		if v, err := strconv.ParseInt(strings.TrimSpace(p), 10, 64); err == nil {
			out = append(out, v)
		}
	}
	return out
}
