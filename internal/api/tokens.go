package api

import (
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/sloanware/latchline-core/internal/access"
)

// issueRequest is the request body for POST /tokens.
type issueRequest struct {
	Credential string `json:"credential"`
}

// handleIssueToken mints a single-use access token for an enrolled
// credential. The response carries the only full copy of the token the
// service ever emits.
func (s *Server) handleIssueToken(w http.ResponseWriter, r *http.Request) {
	var req issueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Credential == "" {
		writeBadRequest(w, "credential is required")
		return
	}

	issued, err := s.access.IssueToken(r.Context(), req.Credential)
	if err != nil {
		s.writeIssueError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, issued)
}

// writeIssueError maps issuance failures onto the requester wire
// contract. Requester devices switch on the error string, so these
// three shapes are load-bearing.
func (s *Server) writeIssueError(w http.ResponseWriter, err error) {
	var rateLimited *access.RateLimitedError

	switch {
	case errors.Is(err, access.ErrCredentialNotFound):
		writeJSON(w, http.StatusUnauthorized, map[string]any{
			"error": "unknown_credential",
		})
	case errors.Is(err, access.ErrEnrollmentExpired):
		writeJSON(w, http.StatusForbidden, map[string]any{
			"error": access.ReasonEnrollmentExpired,
		})
	case errors.As(err, &rateLimited):
		writeJSON(w, http.StatusTooManyRequests, map[string]any{
			"error":       access.ReasonRateLimited,
			"retry_after": retryAfterSeconds(rateLimited.Until),
		})
	default:
		s.logger.Error("token issuance failed", "error", err)
		writeInternalError(w, "failed to issue token")
	}
}

// retryAfterSeconds converts a suspension deadline into whole seconds,
// rounded up so a client that sleeps the advertised interval lands past
// the deadline.
func retryAfterSeconds(until time.Time) int {
	secs := int(math.Ceil(time.Until(until).Seconds()))
	if secs < 1 {
		secs = 1
	}
	return secs
}

// handleTokenStatus reports the lifecycle state of a token. Unknown
// tokens answer "expired" rather than 404: a requester polling a token
// that was swept should see the same terminal answer as one polling a
// token that aged out a moment ago.
func (s *Server) handleTokenStatus(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")

	status, err := s.access.Status(r.Context(), token)
	if err != nil {
		s.logger.Error("token status lookup failed",
			"token_prefix", access.Prefix(token), "error", err)
		writeInternalError(w, "failed to resolve token status")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"status": status})
}
