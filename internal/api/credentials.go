package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/sloanware/latchline-core/internal/access"
)

// enrollRequest is the request body for POST /admin/credentials.
type enrollRequest struct {
	Credential  string    `json:"credential"`
	Identity    string    `json:"identity"`
	Permissions []string  `json:"permissions"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// handleEnrollCredential registers a credential under an identity with
// a permission set and an expiry.
func (s *Server) handleEnrollCredential(w http.ResponseWriter, r *http.Request) {
	var req enrollRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Credential == "" {
		writeBadRequest(w, "credential is required")
		return
	}
	if req.Identity == "" {
		writeBadRequest(w, "identity is required")
		return
	}
	if len(req.Permissions) == 0 {
		writeBadRequest(w, "at least one permission is required")
		return
	}
	if req.ExpiresAt.IsZero() {
		writeBadRequest(w, "expires_at is required")
		return
	}

	err := s.access.Enroll(r.Context(), req.Credential, req.Identity, req.Permissions, req.ExpiresAt)
	if err != nil {
		if errors.Is(err, access.ErrDuplicateCredential) {
			writeConflict(w, "credential already enrolled")
			return
		}
		s.logger.Error("enrollment failed", "identity", req.Identity, "error", err)
		writeInternalError(w, "failed to enroll credential")
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"identity":    req.Identity,
		"permissions": req.Permissions,
		"expires_at":  req.ExpiresAt.UTC(),
	})
}

// handleListCredentials returns all enrollments, newest first. Raw
// credential strings never appear in the listing.
func (s *Server) handleListCredentials(w http.ResponseWriter, r *http.Request) {
	enrollments, err := s.access.ListEnrollments(r.Context())
	if err != nil {
		s.logger.Error("listing enrollments failed", "error", err)
		writeInternalError(w, "failed to list enrollments")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"enrollments": enrollments,
		"count":       len(enrollments),
	})
}

// handleRevokeCredential deletes the enrollment behind an identity.
// Outstanding tokens are left alone; they die at validation time with
// an access_revoked denial.
func (s *Server) handleRevokeCredential(w http.ResponseWriter, r *http.Request) {
	identity := chi.URLParam(r, "identity")

	if err := s.access.Revoke(r.Context(), identity); err != nil {
		if errors.Is(err, access.ErrIdentityNotFound) {
			writeNotFound(w, "identity not found")
			return
		}
		s.logger.Error("revocation failed", "identity", identity, "error", err)
		writeInternalError(w, "failed to revoke enrollment")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
