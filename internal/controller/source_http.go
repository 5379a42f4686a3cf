package controller

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// HTTP source constants.
const (
	// maxRequestBytes caps the accepted request body.
	maxRequestBytes = 4 << 10 // 4KB

	// httpSourceTimeout bounds reads and writes on the listener. The
	// payload is one small JSON object; anything slow is not a phone.
	httpSourceTimeout = 5 * time.Second

	// httpShutdownTimeout is the graceful shutdown window.
	httpShutdownTimeout = 5 * time.Second
)

// HTTPSourceOptions holds configuration for creating an HTTPSource.
type HTTPSourceOptions struct {
	// Host and Port for the listener.
	Host string
	Port int

	// DoorID guards against misrouted pushes. Required.
	DoorID string

	// Submitter receives parsed requests. Required.
	Submitter Submitter

	// Logger is optional structured logging.
	Logger Logger
}

// HTTPSource accepts direct access request pushes on a small chi
// listener. Deployments without a broker point requesters straight at
// the controller.
type HTTPSource struct {
	server *http.Server
	doorID string
	submit Submitter
	logger Logger

	stopOnce sync.Once
}

var _ RequestSource = (*HTTPSource)(nil)

// NewHTTPSource creates an HTTP request source. Call Start to listen.
func NewHTTPSource(opts HTTPSourceOptions) (*HTTPSource, error) {
	if opts.DoorID == "" {
		return nil, fmt.Errorf("door ID is required")
	}
	if opts.Submitter == nil {
		return nil, fmt.Errorf("submitter is required")
	}
	if opts.Port < 1 || opts.Port > 65535 {
		return nil, fmt.Errorf("invalid listener port %d", opts.Port)
	}

	logger := opts.Logger
	if logger == nil {
		logger = noopLogger{}
	}

	s := &HTTPSource{
		doorID: opts.DoorID,
		submit: opts.Submitter,
		logger: logger,
	}

	router := chi.NewRouter()
	router.Use(middleware.Recoverer)
	router.Post("/access", s.handleAccess)

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", opts.Host, opts.Port),
		Handler:           router,
		ReadTimeout:       httpSourceTimeout,
		ReadHeaderTimeout: httpSourceTimeout,
		WriteTimeout:      httpSourceTimeout,
		IdleTimeout:       30 * time.Second,
	}

	return s, nil
}

// Start launches the listener in a background goroutine.
func (s *HTTPSource) Start(_ context.Context) error {
	go func() {
		err := s.server.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http request source error", "error", err)
		}
	}()

	s.logger.Info("http request source started", "address", s.server.Addr)
	return nil
}

// Stop gracefully shuts the listener down.
func (s *HTTPSource) Stop() {
	s.stopOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), httpShutdownTimeout)
		defer cancel()

		if err := s.server.Shutdown(ctx); err != nil {
			s.logger.Warn("http request source shutdown", "error", err)
		}
		s.logger.Info("http request source stopped", "door_id", s.doorID)
	})
}

// handleAccess accepts one pushed access request. The requester gets an
// immediate accepted/rejected answer and polls the validation service
// for the outcome; the controller never holds the connection open
// through actuation.
func (s *HTTPSource) handleAccess(w http.ResponseWriter, r *http.Request) {
	var req AccessRequest
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes))
	if err := decoder.Decode(&req); err != nil || req.Token == "" {
		s.writeJSON(w, http.StatusBadRequest, map[string]any{
			"accepted": false,
			"error":    "missing or malformed token",
		})
		return
	}

	if req.DoorID != "" && req.DoorID != s.doorID {
		s.writeJSON(w, http.StatusNotFound, map[string]any{
			"accepted": false,
			"error":    "unknown door",
		})
		return
	}

	if !s.submit.Submit(req) {
		// One attempt at a time. The requester backs off and retries.
		s.writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"accepted": false,
			"error":    "attempt in progress",
		})
		return
	}

	s.writeJSON(w, http.StatusAccepted, map[string]any{
		"accepted": true,
		"door_id":  s.doorID,
	})
}

// writeJSON writes a JSON response with the given status.
func (s *HTTPSource) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Error("failed to encode response", "error", err)
	}
}
