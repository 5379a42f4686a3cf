package api

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/sloanware/latchline-core/internal/access"
)

const (
	// maxQueryParamLen limits query parameter length to prevent DoS via oversized URL params.
	maxQueryParamLen = 100

	// maxEventLimit caps the audit trail page size.
	maxEventLimit = 200
)

// handleListEvents returns a filtered page of the decision audit trail.
//
// Query parameters:
//   - door_id: filter by door
//   - decision: filter by outcome, "granted" or "denied"
//   - reason: filter by denial reason
//   - since: lower bound, RFC3339 or unix seconds
//   - limit: page size (default 50, max 200)
//   - offset: pagination offset
func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	filter, err := parseEventFilter(r)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	result, err := s.access.ListEvents(r.Context(), filter)
	if err != nil {
		s.logger.Error("listing access events failed", "error", err)
		writeInternalError(w, "failed to list events")
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// parseEventFilter builds an event filter from query parameters.
func parseEventFilter(r *http.Request) (access.EventFilter, error) {
	q := r.URL.Query()

	filter := access.EventFilter{
		DoorID:   q.Get("door_id"),
		Decision: q.Get("decision"),
		Reason:   q.Get("reason"),
	}
	for _, v := range []string{filter.DoorID, filter.Decision, filter.Reason} {
		if len(v) > maxQueryParamLen {
			return access.EventFilter{}, fmt.Errorf("query parameter exceeds maximum length")
		}
	}
	if filter.Decision != "" && filter.Decision != "granted" && filter.Decision != "denied" {
		return access.EventFilter{}, fmt.Errorf("decision must be granted or denied")
	}

	since, err := parseSinceParam(q.Get("since"))
	if err != nil {
		return access.EventFilter{}, err
	}
	filter.Since = since

	limit, err := parseListLimit(q.Get("limit"))
	if err != nil {
		return access.EventFilter{}, err
	}
	filter.Limit = limit

	if raw := q.Get("offset"); raw != "" {
		offset, err := strconv.Atoi(raw)
		if err != nil || offset < 0 {
			return access.EventFilter{}, fmt.Errorf("invalid offset")
		}
		filter.Offset = offset
	}

	return filter, nil
}

// parseSinceParam accepts RFC3339 or unix seconds and returns unix
// seconds, zero when absent.
func parseSinceParam(raw string) (int64, error) {
	if raw == "" {
		return 0, nil
	}

	if parsed, err := time.Parse(time.RFC3339, raw); err == nil {
		return parsed.Unix(), nil
	}

	value, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || value < 0 {
		return 0, fmt.Errorf("invalid since timestamp")
	}
	return value, nil
}

// parseListLimit parses the limit query parameter with bounds
// enforcement. Zero means the store default.
func parseListLimit(raw string) (int, error) {
	if raw == "" {
		return 0, nil
	}

	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		return 0, fmt.Errorf("invalid limit")
	}
	if limit > maxEventLimit {
		return 0, fmt.Errorf("limit exceeds maximum")
	}

	return limit, nil
}
