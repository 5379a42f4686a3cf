// Package api implements the HTTP REST API and WebSocket event feed for
// the Latchline validation service.
//
// This package provides:
//   - Requester endpoints for token issuance and status polling
//   - The door controller's validation endpoint
//   - Admin endpoints for enrollment, revocation, and the event log
//   - WebSocket hub broadcasting finalized access decisions
//   - Middleware stack (request ID, logging, recovery, CORS, body limits)
//   - TLS support for production deployments
//
// # Architecture
//
// The server sits between three callers with different trust levels:
// requester apps (anonymous, rate-limited at the service layer), door
// controllers (trusted network peers calling validate), and admins
// (Bearer site secret or a session token from /admin/login). Routes
// are grouped accordingly; the admin group is the only one behind
// authentication middleware.
//
// # Security
//
// Admin auth accepts the raw site secret (verified against an Argon2id
// hash, constant-time) or a short-lived HS256 session token minted by
// /admin/login. The WebSocket feed uses single-use tickets so session
// tokens never appear in URLs. Full access tokens never appear in
// responses other than issuance, and never in logs.
package api
