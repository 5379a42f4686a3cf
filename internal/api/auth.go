package api

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"maps"
	"net/http"
	"sync"
	"time"

	"github.com/sloanware/latchline-core/internal/access"
)

const (
	// ticketTTL bounds the window between requesting a feed ticket
	// and opening the WebSocket with it.
	ticketTTL = 60 * time.Second

	ticketBytes = 32
)

type loginRequest struct {
	Secret string `json:"secret"`
}

type loginResponse struct {
	SessionToken string    `json:"session_token"`
	TokenType    string    `json:"token_type"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// handleAdminLogin exchanges the site secret for a short-lived session
// token. Dashboards hold the session token instead of keeping the raw
// secret in memory for their whole lifetime.
func (s *Server) handleAdminLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Secret == "" {
		writeBadRequest(w, "secret is required")
		return
	}

	token, expiresAt, err := s.admin.Login(req.Secret)
	switch {
	case errors.Is(err, access.ErrInvalidSecret):
		s.logger.Warn("admin login rejected", "remote_addr", r.RemoteAddr)
		writeUnauthorized(w, "invalid admin secret")
		return
	case err != nil:
		s.logger.Error("admin login failed", "error", err)
		writeInternalError(w, "failed to create session")
		return
	}

	writeJSON(w, http.StatusOK, loginResponse{
		SessionToken: token,
		TokenType:    "Bearer",
		ExpiresAt:    expiresAt,
	})
}

// handleFeedTicket mints a single-use WebSocket ticket. The client
// puts the ticket in the feed URL's query string, keeping the session
// token out of URLs entirely.
func (s *Server) handleFeedTicket(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ticket":     s.tickets.issue(),
		"expires_in": int(ticketTTL.Seconds()),
	})
}

// ticketStore tracks outstanding feed tickets. Each ticket is burned
// on first use and lapses after ticketTTL regardless.
type ticketStore struct {
	tickets map[string]time.Time
	mu      sync.Mutex
}

func newTicketStore() *ticketStore {
	return &ticketStore{tickets: make(map[string]time.Time)}
}

func (ts *ticketStore) issue() string {
	b := make([]byte, ticketBytes)
	//nolint:errcheck // crypto/rand.Read cannot fail on supported platforms
	rand.Read(b)
	ticket := hex.EncodeToString(b)

	ts.mu.Lock()
	ts.tickets[ticket] = time.Now().Add(ticketTTL)
	ts.mu.Unlock()

	return ticket
}

// consume burns the ticket whether or not it is still live, so a
// replayed ticket fails even inside the TTL window.
func (ts *ticketStore) consume(ticket string) bool {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	expiresAt, ok := ts.tickets[ticket]
	if !ok {
		return false
	}
	delete(ts.tickets, ticket)

	return time.Now().Before(expiresAt)
}

// clean drops lapsed tickets that were never presented.
func (ts *ticketStore) clean() {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	now := time.Now()
	maps.DeleteFunc(ts.tickets, func(_ string, expiresAt time.Time) bool {
		return now.After(expiresAt)
	})
}

func (ts *ticketStore) cleanLoop(ctx context.Context) {
	ticker := time.NewTicker(ticketTTL)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ts.clean()
		}
	}
}
