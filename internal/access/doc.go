// Package access implements the token lifecycle and proximity-gated
// authorization decision for Latchline.
//
// # Responsibilities
//
//   - Enrollment credentials: durable, anonymous proof of enrolled
//     status with a permission set and expiry (credential_repository.go)
//   - Short-lived access tokens: single-use capabilities derived from a
//     credential for one door-access attempt (token_repository.go)
//   - Rate limiting: per-credential fixed-window-with-cooldown admission
//     control on token issuance (ratelimit.go)
//   - The validation decision: the ordered check sequence that turns a
//     token plus sensor readings into grant or deny (service.go,
//     validator.go)
//   - Access events: best-effort audit trail of every decision
//     (event_repository.go)
//   - Background sweeps of expired rows (sweeper.go)
//   - Admin authentication: shared-secret verification and short-lived
//     session tokens for the administrative surface (admin.go)
//
// # Decision ordering
//
// Validate evaluates conditions in a fixed order: token liveness, prior
// consumption, credential existence, door permission, signal strength,
// distance. The order is part of the contract - callers and tests rely
// on the first failing condition naming the reason.
//
// # Concurrency
//
// At most one validation of a token can ever grant. The pending state is
// consumed with a conditional UPDATE keyed by the token string, so two
// racing validations serialize at the row, not behind a global lock.
// Requests touching different tokens or credentials never block each
// other beyond SQLite's single-writer window.
//
// # Fail-closed
//
// Missing or unreliable sensor data is treated as "too far", never as a
// pass. A lost network response downstream becomes a deny. No error path
// in this package leaves a token grantable twice.
package access
