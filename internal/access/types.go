package access

import (
	"errors"
	"strings"
	"time"
)

// PermissionAll is the universal permission marker: a credential carrying
// it may open every door at the site.
const PermissionAll = "ALL"

// prefixLen is how many characters of a token or credential survive into
// logs and audit rows. Long enough to correlate, too short to replay.
const prefixLen = 8

// Prefix returns the loggable prefix of a bearer secret.
func Prefix(secret string) string {
	if len(secret) <= prefixLen {
		return secret
	}
	return secret[:prefixLen]
}

// Credential represents one enrolled identity's standing authorization.
// The credential string itself is an opaque bearer secret.
type Credential struct {
	Credential  string    `json:"-"` // never serialised
	Permissions []string  `json:"permissions"`
	CreatedAt   time.Time `json:"created_at"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// Expired reports whether the credential grants nothing at the given
// instant. An expired credential is dead even before the sweep purges it.
func (c *Credential) Expired(now time.Time) bool {
	return !c.ExpiresAt.After(now)
}

// PermitsDoor reports whether the credential's permission set covers the
// door: either the universal marker or explicit membership.
func (c *Credential) PermitsDoor(doorID string) bool {
	for _, p := range c.Permissions {
		if p == PermissionAll || p == doorID {
			return true
		}
	}
	return false
}

// EncodePermissions joins a permission set for storage.
func EncodePermissions(perms []string) string {
	return strings.Join(perms, ",")
}

// DecodePermissions splits a stored permission set.
func DecodePermissions(raw string) []string {
	if raw == "" {
		return []string{}
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Enrollment is the administrative view of a credential: the identity it
// was enrolled under joined with its permissions and lifetime. The raw
// credential string is deliberately absent.
type Enrollment struct {
	Identity    string    `json:"identity"`
	Permissions []string  `json:"permissions"`
	CreatedAt   time.Time `json:"created_at"`
	ExpiresAt   time.Time `json:"expires_at"`
	Expired     bool      `json:"expired"`
}

// TokenState is the lifecycle state of a short-lived access token.
// Transitions are pending to granted or pending to denied, never back.
type TokenState string

const (
	// TokenPending means the token has been issued and not yet consulted.
	TokenPending TokenState = "pending"

	// TokenGranted means the token was consumed by a successful validation.
	TokenGranted TokenState = "granted"

	// TokenDenied means the token was consumed by a failed validation.
	TokenDenied TokenState = "denied"
)

// AccessToken is a single-use, anonymous capability derived from one
// credential. The credential reference is weak: revocation of the
// credential does not delete the token, it is caught at validation time.
type AccessToken struct {
	Token      string     `json:"-"` // never serialised
	Credential string     `json:"-"` // never serialised
	IssuedAt   time.Time  `json:"issued_at"`
	ExpiresAt  time.Time  `json:"expires_at"`
	State      TokenState `json:"state"`
}

// ExpiredAt reports whether the token is past its TTL at the given instant.
func (t *AccessToken) ExpiredAt(now time.Time) bool {
	return !t.ExpiresAt.After(now)
}

// Reason is a machine-readable explanation attached to every denial.
// Reasons drive client messaging and the audit trail; a denial is never
// reported as a generic failure.
type Reason string

const (
	// ReasonUnknownOrExpired: the token does not exist, or existed and
	// aged out before this validation (the caller cannot tell which).
	ReasonUnknownOrExpired Reason = "unknown_or_expired"

	// ReasonExpired: the token existed but its TTL elapsed. The row is
	// purged eagerly when this is reported.
	ReasonExpired Reason = "expired"

	// ReasonAlreadyUsed: the token was already consumed by a grant.
	ReasonAlreadyUsed Reason = "already_used"

	// ReasonAlreadyDenied: the token was already consumed by a denial.
	ReasonAlreadyDenied Reason = "already_denied"

	// ReasonAccessRevoked: the owning credential no longer exists.
	ReasonAccessRevoked Reason = "access_revoked"

	// ReasonInsufficientPermissions: the door is outside the
	// credential's permission set.
	ReasonInsufficientPermissions Reason = "insufficient_permissions"

	// ReasonRSSITooWeak: the sampled signal strength is below the floor.
	ReasonRSSITooWeak Reason = "rssi_too_weak"

	// ReasonDistanceTooFar: the measured distance exceeds the ceiling,
	// or the rangefinder produced no reliable reading (fail closed).
	ReasonDistanceTooFar Reason = "distance_too_far"

	// ReasonEnrollmentExpired: issuance refused because the credential
	// itself has expired. No token is created.
	ReasonEnrollmentExpired Reason = "enrollment_expired"

	// ReasonRateLimited: issuance refused by admission control.
	ReasonRateLimited Reason = "rate_limited"

	// ReasonServerError: transient infrastructure failure surfaced as a
	// denial. Retry is a fresh user-initiated attempt, never automatic.
	ReasonServerError Reason = "server_error"
)

// ValidationRequest carries one relayed access attempt from a door
// controller. RSSI and Distance are optional: a nil reading skips the
// corresponding threshold check.
type ValidationRequest struct {
	Token  string `json:"token"`
	DoorID string `json:"door_id"`

	// RSSI in dBm as sampled door-side. Nil when the controller could
	// not sample.
	RSSI *int `json:"rssi,omitempty"`

	// Distance in cm from the rangefinder. DistanceNoReading marks the
	// "no reliable reading" sentinel and is treated as too far.
	Distance *int `json:"distance,omitempty"`
}

// Decision is the outcome of one validation: granted, or denied with a
// specific reason.
type Decision struct {
	Granted bool   `json:"granted"`
	Reason  Reason `json:"reason,omitempty"`
}

// TokenStatus is the answer to a status poll, one of pending, granted,
// denied, or expired.
type TokenStatus string

const (
	StatusPending TokenStatus = "pending"
	StatusGranted TokenStatus = "granted"
	StatusDenied  TokenStatus = "denied"
	StatusExpired TokenStatus = "expired"
)

// AccessEvent is one audit row: a validation decision with the readings
// that produced it. Token and credential are stored as prefixes only.
type AccessEvent struct {
	ID               string    `json:"id"`
	TokenPrefix      string    `json:"token_prefix,omitempty"`
	CredentialPrefix string    `json:"credential_prefix,omitempty"`
	DoorID           string    `json:"door_id"`
	Decision         string    `json:"decision"`
	Reason           Reason    `json:"reason,omitempty"`
	RSSIDbm          *int      `json:"rssi_dbm,omitempty"`
	DistanceCm       *int      `json:"distance_cm,omitempty"`
	LatencyMs        int64     `json:"latency_ms"`
	CreatedAt        time.Time `json:"created_at"`
}

// Sentinel errors for access operations.
var (
	ErrDuplicateCredential = errors.New("credential already enrolled")
	ErrCredentialNotFound  = errors.New("credential not found")
	ErrIdentityNotFound    = errors.New("identity not found")
	ErrTokenNotFound       = errors.New("token not found")
	ErrEnrollmentExpired   = errors.New("enrollment expired")
	ErrInvalidSecret       = errors.New("invalid admin secret")
	ErrSessionInvalid      = errors.New("invalid admin session")
)
