package api

import (
	"encoding/json"
	"net/http"

	"github.com/sloanware/latchline-core/internal/access"
)

// handleValidate decides one relayed access attempt. Every decided
// outcome, grant or deny, travels as HTTP 200 with the decision in the
// body; a non-200 status means the service could not decide and the
// token was not consumed. Controllers treat those as a local
// server_error denial.
func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	var req access.ValidationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Token == "" {
		writeBadRequest(w, "token is required")
		return
	}
	if req.DoorID == "" {
		writeBadRequest(w, "door_id is required")
		return
	}

	decision, err := s.access.Validate(r.Context(), req)
	if err != nil {
		s.logger.Error("validation unavailable",
			"door_id", req.DoorID,
			"token_prefix", access.Prefix(req.Token),
			"error", err)
		writeError(w, http.StatusInternalServerError, ErrCodeServerError, "validation unavailable")
		return
	}

	writeJSON(w, http.StatusOK, decision)
}
