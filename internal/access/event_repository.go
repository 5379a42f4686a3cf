package access

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// EventFilter controls which access events to return.
type EventFilter struct {
	DoorID   string // optional: filter by door
	Decision string // optional: "granted" or "denied"
	Reason   string // optional: filter by denial reason
	Since    int64  // optional: unix seconds lower bound
	Limit    int    // default 50, max 200
	Offset   int    // pagination offset
}

// EventListResult contains paginated access event results.
type EventListResult struct {
	Events []AccessEvent `json:"events"`
	Total  int           `json:"total"`
	Limit  int           `json:"limit"`
	Offset int           `json:"offset"`
}

// EventRepository defines the interface for the decision audit trail.
type EventRepository interface {
	Record(ctx context.Context, event *AccessEvent) error
	List(ctx context.Context, filter EventFilter) (*EventListResult, error)
}

// SQLiteEventRepository stores access events in SQLite.
type SQLiteEventRepository struct {
	db *sql.DB
}

// NewEventRepository creates a new access event repository.
func NewEventRepository(db *sql.DB) *SQLiteEventRepository {
	return &SQLiteEventRepository{db: db}
}

// Record inserts one decision event. The ID and CreatedAt are generated
// if empty. Callers treat failures as log-and-continue: the audit trail
// never gates the decision it records.
func (r *SQLiteEventRepository) Record(ctx context.Context, event *AccessEvent) error {
	if event.ID == "" {
		event.ID = "evt-" + uuid.NewString()[:8]
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO access_events
		 (id, token_prefix, credential_prefix, door_id, decision, reason, rssi_dbm, distance_cm, latency_ms, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		event.ID,
		nullableString(event.TokenPrefix), nullableString(event.CredentialPrefix),
		event.DoorID, event.Decision, nullableString(string(event.Reason)),
		nullableInt(event.RSSIDbm), nullableInt(event.DistanceCm),
		event.LatencyMs, event.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("inserting access event: %w", err)
	}

	return nil
}

// nullableString returns nil for empty strings, or the string otherwise.
// Used for nullable TEXT columns in SQLite.
func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// nullableInt returns nil for nil pointers, or the value otherwise.
func nullableInt(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}

// List returns access events matching the filter, most recent first.
func (r *SQLiteEventRepository) List(ctx context.Context, filter EventFilter) (*EventListResult, error) {
	// Clamp limit.
	if filter.Limit <= 0 {
		filter.Limit = 50
	}
	if filter.Limit > 200 { //nolint:mnd // max page size for event queries
		filter.Limit = 200
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}

	// Build WHERE clause dynamically.
	var conditions []string
	var args []any

	if filter.DoorID != "" {
		conditions = append(conditions, "door_id = ?")
		args = append(args, filter.DoorID)
	}
	if filter.Decision != "" {
		conditions = append(conditions, "decision = ?")
		args = append(args, filter.Decision)
	}
	if filter.Reason != "" {
		conditions = append(conditions, "reason = ?")
		args = append(args, filter.Reason)
	}
	if filter.Since > 0 {
		conditions = append(conditions, "created_at >= ?")
		args = append(args, filter.Since)
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	// Get total count.
	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM access_events %s", where) //nolint:gosec // WHERE built from parameterised conditions, not user input
	var total int
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("counting access events: %w", err)
	}

	// Get paginated results.
	query := fmt.Sprintf( //nolint:gosec // WHERE built from parameterised conditions, not user input
		`SELECT id, token_prefix, credential_prefix, door_id, decision, reason, rssi_dbm, distance_cm, latency_ms, created_at
		 FROM access_events %s ORDER BY created_at DESC, id LIMIT ? OFFSET ?`,
		where,
	)
	args = append(args, filter.Limit, filter.Offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying access events: %w", err)
	}
	defer rows.Close()

	var events []AccessEvent
	for rows.Next() {
		var e AccessEvent
		var tokenPrefix, credentialPrefix, reason sql.NullString
		var rssi, distance sql.NullInt64
		var createdAt int64

		if err := rows.Scan(&e.ID, &tokenPrefix, &credentialPrefix, &e.DoorID,
			&e.Decision, &reason, &rssi, &distance, &e.LatencyMs, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning access event: %w", err)
		}

		if tokenPrefix.Valid {
			e.TokenPrefix = tokenPrefix.String
		}
		if credentialPrefix.Valid {
			e.CredentialPrefix = credentialPrefix.String
		}
		if reason.Valid {
			e.Reason = Reason(reason.String)
		}
		if rssi.Valid {
			v := int(rssi.Int64)
			e.RSSIDbm = &v
		}
		if distance.Valid {
			v := int(distance.Int64)
			e.DistanceCm = &v
		}
		e.CreatedAt = time.Unix(createdAt, 0).UTC()

		events = append(events, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating access events: %w", err)
	}

	if events == nil {
		events = []AccessEvent{}
	}

	return &EventListResult{
		Events: events,
		Total:  total,
		Limit:  filter.Limit,
		Offset: filter.Offset,
	}, nil
}
