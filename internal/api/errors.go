package api

import (
	"encoding/json"
	"net/http"
)

// Error is the JSON envelope every non-2xx response carries.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Machine-readable error codes. Clients branch on these, not on the
// human-readable message.
const (
	ErrCodeBadRequest   = "bad_request"
	ErrCodeNotFound     = "not_found"
	ErrCodeUnauthorized = "unauthorised"
	ErrCodeConflict     = "conflict"
	ErrCodeInternal     = "internal_error"
	ErrCodeServerError  = "server_error"
)

// writeJSON encodes v with the given status. Encode errors are
// swallowed; the connection is usually gone by then anyway.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		//nolint:errcheck
		json.NewEncoder(w).Encode(v)
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, Error{Status: status, Code: code, Message: message})
}

// failWith binds a status and code so the per-status shorthands below
// stay one line each.
func failWith(status int, code string) func(http.ResponseWriter, string) {
	return func(w http.ResponseWriter, message string) {
		writeError(w, status, code, message)
	}
}

var (
	writeBadRequest    = failWith(http.StatusBadRequest, ErrCodeBadRequest)
	writeNotFound      = failWith(http.StatusNotFound, ErrCodeNotFound)
	writeUnauthorized  = failWith(http.StatusUnauthorized, ErrCodeUnauthorized)
	writeConflict      = failWith(http.StatusConflict, ErrCodeConflict)
	writeInternalError = failWith(http.StatusInternalServerError, ErrCodeInternal)
)
