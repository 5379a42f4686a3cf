package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/sloanware/latchline-core/internal/access"
	"github.com/sloanware/latchline-core/internal/infrastructure/config"
	"github.com/sloanware/latchline-core/internal/infrastructure/logging"
)

// drainTimeout caps how long Close waits for in-flight requests before
// dropping their connections.
const drainTimeout = 10 * time.Second

// HealthChecker reports whether an infrastructure component is serving.
// The database, MQTT client, and InfluxDB client all satisfy it.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Deps holds everything the API server needs. Logger, Access and Admin
// are mandatory; the rest may be zero values.
type Deps struct {
	Config config.APIConfig
	WS     config.WebSocketConfig
	Logger *logging.Logger
	Access *access.Service
	Admin  *access.AdminAuth

	// Health maps component names to their health checks for the
	// aggregated /system/health endpoint. Optional entries may be nil.
	Health map[string]HealthChecker

	Version string
}

func (d Deps) validate() error {
	switch {
	case d.Logger == nil:
		return errors.New("logger is required")
	case d.Access == nil:
		return errors.New("access service is required")
	case d.Admin == nil:
		return errors.New("admin auth is required")
	}
	return nil
}

// Server carries the HTTP listener, the chi router behind it, and the
// event feed hub. Build one with New, run it with Start, stop it with
// Close.
type Server struct {
	cfg     config.APIConfig
	wsCfg   config.WebSocketConfig
	logger  *logging.Logger
	access  *access.Service
	admin   *access.AdminAuth
	health  map[string]HealthChecker
	version string

	server  *http.Server
	hub     *FeedHub
	tickets *ticketStore
	cancel  context.CancelFunc // stops hub and ticket sweeper on Close
}

// New wires a server from deps. Nothing listens until Start.
func New(deps Deps) (*Server, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}

	return &Server{
		cfg:     deps.Config,
		wsCfg:   deps.WS,
		logger:  deps.Logger,
		access:  deps.Access,
		admin:   deps.Admin,
		health:  deps.Health,
		version: deps.Version,
		tickets: newTicketStore(),
	}, nil
}

// Start launches the listener and the background goroutines (feed hub,
// ticket sweeper) and returns immediately. Failures after the socket
// opens surface in the log, not here; Close tears everything down.
func (s *Server) Start(ctx context.Context) error {
	// Background work hangs off our own context so Close can stop it
	// without waiting on the parent.
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	s.hub = NewFeedHub(s.wsCfg, s.logger)
	go s.hub.Run(srvCtx)
	go s.tickets.cleanLoop(srvCtx)

	t := s.cfg.Timeouts
	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(t.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(t.Read) * time.Second,
		WriteTimeout:      time.Duration(t.Write) * time.Second,
		IdleTimeout:       time.Duration(t.Idle) * time.Second,
	}

	go s.serve()
	return nil
}

// serve runs the listener until Close. ErrServerClosed is the normal
// end of life and stays out of the log.
func (s *Server) serve() {
	var err error
	if s.cfg.TLS.Enabled {
		s.logger.Info("API server starting with TLS",
			"address", s.server.Addr,
			"cert", s.cfg.TLS.CertFile,
		)
		err = s.server.ListenAndServeTLS(s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
	} else {
		s.logger.Info("API server starting", "address", s.server.Addr)
		err = s.server.ListenAndServe()
	}
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		s.logger.Error("API server error", "error", err)
	}
}

// Close drains in-flight requests for up to drainTimeout and stops the
// background goroutines. A server that never started closes cleanly.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	if s.cancel != nil {
		s.cancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck reports whether the listener has been started.
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	if s.server == nil {
		return errors.New("api server not started")
	}
	return nil
}

var _ access.DecisionSink = (*Server)(nil)

// DecisionRecorded broadcasts a finalized decision to feed subscribers.
// It satisfies the access package's sink interface; the service calls
// it for every validation after the event row is written.
func (s *Server) DecisionRecorded(event access.AccessEvent) {
	if s.hub == nil {
		return
	}
	s.hub.Broadcast(feedChannelDecisions, event)
}
