package access

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/argon2"
)

// Argon2id cost settings, per the OWASP password storage guidance
// current as of 2025. Raising them only affects new hashes; existing
// PHC strings verify with the parameters they embed.
const (
	argonTime    = 3
	argonMemory  = 64 * 1024 // KiB, so 64 MiB
	argonThreads = 1
	argonKeyLen  = 32
	argonSaltLen = 16
)

// HashSecret hashes the site admin secret using Argon2id and returns it
// in PHC string format for the config file:
// $argon2id$v=19$m=65536,t=3,p=1$<salt>$<hash>
func HashSecret(secret string) (string, error) {
	salt := make([]byte, argonSaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generating salt: %w", err)
	}

	hash := argon2.IDKey([]byte(secret), salt, argonTime, argonMemory, argonThreads, argonKeyLen)

	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version,
		argonMemory, argonTime, argonThreads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(hash),
	), nil
}

// VerifySecret checks a plaintext secret against an Argon2id PHC hash.
// The hash carries its own parameters, so hashes minted with older cost
// settings keep verifying.
func VerifySecret(secret, encodedHash string) (bool, error) {
	parts := strings.Split(encodedHash, "$")
	if len(parts) != 6 { //nolint:mnd // PHC format has exactly 6 $-delimited parts
		return false, fmt.Errorf("invalid PHC hash format")
	}
	if parts[1] != "argon2id" {
		return false, fmt.Errorf("unsupported algorithm: %s", parts[1])
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil {
		return false, fmt.Errorf("parsing version: %w", err)
	}

	var memory, iterations uint32
	var threads uint8
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &memory, &iterations, &threads); err != nil {
		return false, fmt.Errorf("parsing parameters: %w", err)
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return false, fmt.Errorf("decoding salt: %w", err)
	}
	hash, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return false, fmt.Errorf("decoding hash: %w", err)
	}

	candidate := argon2.IDKey([]byte(secret), salt, iterations, memory, threads, uint32(len(hash))) //nolint:gosec // G115: hash length always fits uint32

	return subtle.ConstantTimeCompare(hash, candidate) == 1, nil
}

// SessionClaims are the JWT claims behind an admin session.
type SessionClaims struct {
	jwt.RegisteredClaims
	SessionID string `json:"sid"`
}

// adminSubject is the fixed subject of every session token. There is one
// administrative principal: whoever holds the site secret.
const adminSubject = "admin"

// AdminAuth guards the administrative surface. The site secret is
// verified against an Argon2id hash from config and exchanged for a
// short-lived HS256 session token; admin endpoints check the token by
// signature only, no storage involved.
type AdminAuth struct {
	secretHash string
	jwtSecret  []byte
	sessionTTL time.Duration
}

// NewAdminAuth builds the authenticator from the Argon2id PHC hash of
// the site secret and the HMAC key for session tokens. A non-positive
// sessionTTL falls back to 15 minutes.
func NewAdminAuth(secretHash, jwtSecret string, sessionTTL time.Duration) *AdminAuth {
	if sessionTTL <= 0 {
		sessionTTL = 15 * time.Minute
	}
	return &AdminAuth{
		secretHash: secretHash,
		jwtSecret:  []byte(jwtSecret),
		sessionTTL: sessionTTL,
	}
}

// Login verifies the site secret and mints a session token.
// Returns ErrInvalidSecret when the secret does not match; hash parse
// failures surface as errors so a broken config is not mistaken for a
// bad password.
func (a *AdminAuth) Login(secret string) (string, time.Time, error) {
	ok, err := VerifySecret(secret, a.secretHash)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("verifying admin secret: %w", err)
	}
	if !ok {
		return "", time.Time{}, ErrInvalidSecret
	}

	now := time.Now()
	expiresAt := now.Add(a.sessionTTL)
	claims := SessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   adminSubject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			ID:        uuid.NewString(),
		},
		SessionID: uuid.NewString(),
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.jwtSecret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("signing session token: %w", err)
	}
	return signed, expiresAt, nil
}

// Authenticate accepts a bearer value that is either a live session
// token or the raw site secret. The session check runs first; a JWT
// parse is cheap next to an Argon2id derivation.
func (a *AdminAuth) Authenticate(bearer string) error {
	if _, err := a.VerifySession(bearer); err == nil {
		return nil
	}

	ok, err := VerifySecret(bearer, a.secretHash)
	if err != nil {
		return fmt.Errorf("verifying admin secret: %w", err)
	}
	if !ok {
		return ErrInvalidSecret
	}
	return nil
}

// VerifySession validates a session token: signature, expiry, subject.
// Anything unacceptable maps to ErrSessionInvalid.
func (a *AdminAuth) VerifySession(tokenString string) (*SessionClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &SessionClaims{}, func(_ *jwt.Token) (any, error) {
		return a.jwtSecret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSessionInvalid, err)
	}

	claims, ok := token.Claims.(*SessionClaims)
	if !ok || !token.Valid {
		return nil, ErrSessionInvalid
	}
	if claims.Subject != adminSubject {
		return nil, fmt.Errorf("%w: unexpected subject", ErrSessionInvalid)
	}
	return claims, nil
}
