package api

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/sloanware/latchline-core/internal/access"
)

// postValidate sends one validation request and decodes the decision.
func postValidate(t *testing.T, router http.Handler, body string) (int, map[string]any) {
	t.Helper()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/access/validate", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	var resp map[string]any
	if len(w.Body.Bytes()) > 0 {
		if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
			t.Fatalf("unmarshal (body: %s): %v", w.Body.String(), err)
		}
	}
	return w.Code, resp
}

// seedExpiredToken inserts a token row whose TTL already elapsed.
func seedExpiredToken(t *testing.T, db *sql.DB, token, credential string) {
	t.Helper()

	_, err := db.Exec(
		`INSERT INTO access_tokens (token, credential, issued_at, expires_at, state) VALUES (?, ?, ?, ?, 'pending')`,
		token, credential, time.Now().Add(-time.Minute).Unix(), time.Now().Add(-30*time.Second).Unix(),
	)
	if err != nil {
		t.Fatalf("seeding expired token: %v", err)
	}
}

// ─── Validation Tests ──────────────────────────────────────────────

func TestValidate_Grant(t *testing.T) {
	srv, _ := testServer(t)
	router := srv.buildRouter()

	enrollCredential(t, srv, "cred-grant-0001", "alice", []string{"front-door"}, time.Now().Add(24*time.Hour))
	token := issueToken(t, srv, "cred-grant-0001")

	body := fmt.Sprintf(`{"token":%q,"door_id":"front-door","rssi":-60,"distance":50}`, token)
	code, resp := postValidate(t, router, body)

	if code != http.StatusOK {
		t.Fatalf("status = %d, want %d (resp: %v)", code, http.StatusOK, resp)
	}
	if resp["granted"] != true {
		t.Errorf("granted = %v, want true (resp: %v)", resp["granted"], resp)
	}
	if _, present := resp["reason"]; present {
		t.Errorf("grant carries a reason: %v", resp["reason"])
	}
}

func TestValidate_GrantWithoutReadings(t *testing.T) {
	srv, _ := testServer(t)
	router := srv.buildRouter()

	enrollCredential(t, srv, "cred-noread-0001", "alice", []string{"front-door"}, time.Now().Add(24*time.Hour))
	token := issueToken(t, srv, "cred-noread-0001")

	// Absent readings skip the threshold checks rather than failing them
	body := fmt.Sprintf(`{"token":%q,"door_id":"front-door"}`, token)
	code, resp := postValidate(t, router, body)

	if code != http.StatusOK {
		t.Fatalf("status = %d, want %d", code, http.StatusOK)
	}
	if resp["granted"] != true {
		t.Errorf("granted = %v, want true (resp: %v)", resp["granted"], resp)
	}
}

func TestValidate_ReplayDenied(t *testing.T) {
	srv, _ := testServer(t)
	router := srv.buildRouter()

	enrollCredential(t, srv, "cred-replay-0001", "alice", []string{"front-door"}, time.Now().Add(24*time.Hour))
	token := issueToken(t, srv, "cred-replay-0001")

	body := fmt.Sprintf(`{"token":%q,"door_id":"front-door","rssi":-60,"distance":50}`, token)

	code, resp := postValidate(t, router, body)
	if code != http.StatusOK || resp["granted"] != true {
		t.Fatalf("first validation = %d %v, want 200 granted", code, resp)
	}

	// Same token again: consumed, never re-granted
	code, resp = postValidate(t, router, body)
	if code != http.StatusOK {
		t.Fatalf("replay status = %d, want %d", code, http.StatusOK)
	}
	if resp["granted"] != false {
		t.Errorf("replay granted = %v, want false", resp["granted"])
	}
	if resp["reason"] != string(access.ReasonAlreadyUsed) {
		t.Errorf("replay reason = %v, want %s", resp["reason"], access.ReasonAlreadyUsed)
	}
}

func TestValidate_DenialReasons(t *testing.T) {
	srv, db := testServer(t)
	router := srv.buildRouter()

	enrollCredential(t, srv, "cred-deny-0001", "alice", []string{"front-door"}, time.Now().Add(24*time.Hour))

	tests := []struct {
		name string
		body func(t *testing.T) string
		want access.Reason
	}{
		{
			name: "door outside permission set",
			body: func(t *testing.T) string {
				t.Helper()
				token := issueToken(t, srv, "cred-deny-0001")
				return fmt.Sprintf(`{"token":%q,"door_id":"server-room","rssi":-60,"distance":50}`, token)
			},
			want: access.ReasonInsufficientPermissions,
		},
		{
			name: "signal below floor",
			body: func(t *testing.T) string {
				t.Helper()
				token := issueToken(t, srv, "cred-deny-0001")
				return fmt.Sprintf(`{"token":%q,"door_id":"front-door","rssi":-80,"distance":50}`, token)
			},
			want: access.ReasonRSSITooWeak,
		},
		{
			name: "distance beyond ceiling",
			body: func(t *testing.T) string {
				t.Helper()
				token := issueToken(t, srv, "cred-deny-0001")
				return fmt.Sprintf(`{"token":%q,"door_id":"front-door","rssi":-60,"distance":120}`, token)
			},
			want: access.ReasonDistanceTooFar,
		},
		{
			name: "rangefinder no-reading sentinel",
			body: func(t *testing.T) string {
				t.Helper()
				token := issueToken(t, srv, "cred-deny-0001")
				return fmt.Sprintf(`{"token":%q,"door_id":"front-door","rssi":-60,"distance":-1}`, token)
			},
			want: access.ReasonDistanceTooFar,
		},
		{
			name: "unknown token",
			body: func(t *testing.T) string {
				t.Helper()
				return `{"token":"tok-never-issued","door_id":"front-door","rssi":-60,"distance":50}`
			},
			want: access.ReasonUnknownOrExpired,
		},
		{
			name: "token past its TTL",
			body: func(t *testing.T) string {
				t.Helper()
				seedExpiredToken(t, db, "tok-stale-0001", "cred-deny-0001")
				return `{"token":"tok-stale-0001","door_id":"front-door","rssi":-60,"distance":50}`
			},
			want: access.ReasonExpired,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, resp := postValidate(t, router, tt.body(t))

			if code != http.StatusOK {
				t.Fatalf("status = %d, want %d (resp: %v)", code, http.StatusOK, resp)
			}
			if resp["granted"] != false {
				t.Errorf("granted = %v, want false", resp["granted"])
			}
			if resp["reason"] != string(tt.want) {
				t.Errorf("reason = %v, want %s", resp["reason"], tt.want)
			}
		})
	}
}

func TestValidate_RevokedCredential(t *testing.T) {
	srv, _ := testServer(t)
	router := srv.buildRouter()

	enrollCredential(t, srv, "cred-revoked-0001", "mallory", []string{"front-door"}, time.Now().Add(24*time.Hour))
	token := issueToken(t, srv, "cred-revoked-0001")

	// Revocation lands between issuance and the door
	if err := srv.access.Revoke(testContext(t), "mallory"); err != nil {
		t.Fatalf("Revoke: %v", err)
	}

	body := fmt.Sprintf(`{"token":%q,"door_id":"front-door","rssi":-60,"distance":50}`, token)
	code, resp := postValidate(t, router, body)

	if code != http.StatusOK {
		t.Fatalf("status = %d, want %d", code, http.StatusOK)
	}
	if resp["granted"] != false {
		t.Errorf("granted = %v, want false", resp["granted"])
	}
	if resp["reason"] != string(access.ReasonAccessRevoked) {
		t.Errorf("reason = %v, want %s", resp["reason"], access.ReasonAccessRevoked)
	}
}

func TestValidate_BadRequest(t *testing.T) {
	srv, _ := testServer(t)
	router := srv.buildRouter()

	tests := []struct {
		name string
		body string
	}{
		{"invalid JSON", `{not json`},
		{"missing token", `{"door_id":"front-door"}`},
		{"missing door_id", `{"token":"tok-something"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, _ := postValidate(t, router, tt.body)
			if code != http.StatusBadRequest {
				t.Errorf("status = %d, want %d", code, http.StatusBadRequest)
			}
		})
	}
}

func TestValidate_InfrastructureFailure(t *testing.T) {
	srv, db := testServer(t)
	router := srv.buildRouter()

	enrollCredential(t, srv, "cred-infra-0001", "alice", []string{"front-door"}, time.Now().Add(24*time.Hour))
	token := issueToken(t, srv, "cred-infra-0001")

	// Kill the store under the handler: the outcome must be a 500, not
	// a decided denial, and the token must survive for a retry.
	db.Close()

	body := fmt.Sprintf(`{"token":%q,"door_id":"front-door","rssi":-60,"distance":50}`, token)
	code, resp := postValidate(t, router, body)

	if code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want %d (resp: %v)", code, http.StatusInternalServerError, resp)
	}
	if resp["code"] != ErrCodeServerError {
		t.Errorf("code = %v, want %s", resp["code"], ErrCodeServerError)
	}
}
