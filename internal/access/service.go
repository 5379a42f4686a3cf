package access

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Logger defines the logging interface used by the Service. It matches
// the slog call shape so the infrastructure logger plugs in directly.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// DecisionSink receives every finalized validation decision for fan-out
// to live feeds and metrics. Implementations must not block: the door
// is waiting on the response that carries this decision.
type DecisionSink interface {
	DecisionRecorded(event AccessEvent)
}

// IssuedToken is the product of a successful issuance call. Token is
// the full secret and appears nowhere else in full.
type IssuedToken struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// RateLimitedError reports a refused issuance and when the credential
// may try again.
type RateLimitedError struct {
	Until time.Time
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("token issuance suspended until %s", e.Until.UTC().Format(time.RFC3339))
}

// Service orchestrates enrollment, token issuance, and validation.
//
// Validation applies its checks in a fixed order so the same inputs
// always produce the same denial reason: token existence and TTL,
// prior consumption, credential revocation, door permission, signal
// strength, distance. The first failing check wins; sensor readings
// cannot mask a revocation.
//
// Thread Safety: all methods are safe for concurrent use. Concurrent
// validations of one token are serialized by the token store's
// conditional state transition, never by locks held here.
type Service struct {
	credentials CredentialRepository
	tokens      TokenRepository
	events      EventRepository
	limiter     RateLimiter
	thresholds  Thresholds
	tokenTTL    time.Duration
	sinks       []DecisionSink
	logger      Logger
}

// NewService creates the access service.
//
// Parameters:
//   - credentials: enrollment store
//   - tokens: short-token store
//   - events: audit event store
//   - limiter: per-credential issuance admission control
//   - thresholds: proximity policy applied in validation
//   - tokenTTL: lifetime of issued tokens
//   - logger: Logger instance (may be nil)
func NewService(credentials CredentialRepository, tokens TokenRepository, events EventRepository, limiter RateLimiter, thresholds Thresholds, tokenTTL time.Duration, logger Logger) *Service {
	if logger == nil {
		logger = noopLogger{}
	}
	if tokenTTL <= 0 {
		tokenTTL = 30 * time.Second
	}
	return &Service{
		credentials: credentials,
		tokens:      tokens,
		events:      events,
		limiter:     limiter,
		thresholds:  thresholds,
		tokenTTL:    tokenTTL,
		logger:      logger,
	}
}

// AddSink registers a decision sink. Register sinks during startup;
// the slice is not guarded once validations are flowing.
func (s *Service) AddSink(sink DecisionSink) {
	if sink != nil {
		s.sinks = append(s.sinks, sink)
	}
}

// Enroll registers a credential under an identity with a permission set
// and an expiry. The credential and its identity mapping are written
// atomically; a re-used credential value fails with
// ErrDuplicateCredential and changes nothing.
func (s *Service) Enroll(ctx context.Context, credential, identity string, permissions []string, expiresAt time.Time) error {
	if credential == "" {
		return errors.New("credential is required")
	}
	if identity == "" {
		return errors.New("identity is required")
	}
	if len(permissions) == 0 {
		return errors.New("at least one permission is required")
	}

	cred := &Credential{
		Credential:  credential,
		Permissions: permissions,
		CreatedAt:   time.Now().UTC(),
		ExpiresAt:   expiresAt.UTC(),
	}
	if err := s.credentials.Enroll(ctx, cred, identity); err != nil {
		return err
	}

	s.logger.Info("credential enrolled",
		"identity", identity,
		"credential_prefix", Prefix(credential),
		"permissions", len(permissions))
	return nil
}

// Revoke removes the enrollment behind an identity. Tokens already
// issued from the credential are not touched: they die at validation
// time with an access_revoked denial.
func (s *Service) Revoke(ctx context.Context, identity string) error {
	if err := s.credentials.Revoke(ctx, identity); err != nil {
		return err
	}
	s.logger.Info("enrollment revoked", "identity", identity)
	return nil
}

// ListEnrollments returns all current enrollments, newest first.
func (s *Service) ListEnrollments(ctx context.Context) ([]Enrollment, error) {
	return s.credentials.ListEnrollments(ctx)
}

// ListEvents returns a filtered page of the audit trail.
func (s *Service) ListEvents(ctx context.Context, filter EventFilter) (*EventListResult, error) {
	return s.events.List(ctx, filter)
}

// IssueToken mints a single-use short-lived token for an enrolled
// credential.
//
// The enrollment is checked before the rate limiter so unknown
// credentials never grow the window table, and the limiter is consulted
// before any token row is written: a suspended credential creates
// nothing.
//
// Returns:
//   - ErrCredentialNotFound if the credential is not enrolled
//   - ErrEnrollmentExpired if the credential's own expiry has passed
//   - *RateLimitedError if admission control refused the request
func (s *Service) IssueToken(ctx context.Context, credential string) (*IssuedToken, error) {
	cred, err := s.credentials.GetByCredential(ctx, credential)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	if cred.Expired(now) {
		return nil, ErrEnrollmentExpired
	}

	adm, err := s.limiter.Admit(ctx, credential)
	if err != nil {
		return nil, fmt.Errorf("admitting issuance: %w", err)
	}
	if !adm.Allowed {
		s.logger.Warn("token issuance rate limited",
			"credential_prefix", Prefix(credential),
			"suspended_until", adm.SuspendedUntil.UTC().Format(time.RFC3339))
		return nil, &RateLimitedError{Until: adm.SuspendedUntil}
	}

	value, err := GenerateToken()
	if err != nil {
		return nil, fmt.Errorf("generating token: %w", err)
	}
	token := &AccessToken{
		Token:      value,
		Credential: credential,
		IssuedAt:   now,
		ExpiresAt:  now.Add(s.tokenTTL),
		State:      TokenPending,
	}
	if err := s.tokens.Create(ctx, token); err != nil {
		return nil, err
	}

	s.logger.Debug("token issued",
		"token_prefix", Prefix(value),
		"credential_prefix", Prefix(credential),
		"ttl_seconds", int(s.tokenTTL.Seconds()))
	return &IssuedToken{Token: value, ExpiresAt: token.ExpiresAt}, nil
}

// Validate decides one access attempt. The checks run in a fixed order
// and the first failure ends the attempt:
//
//  1. token unknown, or known but past its TTL (expired rows are purged
//     here and never reach a terminal state)
//  2. token already consumed by a grant
//  3. token already consumed by a denial
//  4. owning credential revoked
//  5. door outside the credential's permission set
//  6. signal strength below the floor
//  7. distance beyond the ceiling, or no reliable reading
//  8. grant, committed with a conditional state transition
//
// Checks 4 through 7 commit the token to its denied state before
// answering; earlier checks leave stored state untouched. Of two
// validations racing on one pending token, the conditional transition
// lets exactly one commit; the loser reports the terminal state it
// collided with.
//
// Infrastructure failures return an error and no Decision; the API
// layer answers those with a server_error denial without consuming
// the token.
func (s *Service) Validate(ctx context.Context, req ValidationRequest) (Decision, error) { //nolint:gocyclo // fixed decision ladder: each branch is one ordered check
	now := time.Now().UTC()

	tok, err := s.tokens.Get(ctx, req.Token)
	if errors.Is(err, ErrTokenNotFound) {
		return s.finish(ctx, req, "", Decision{Reason: ReasonUnknownOrExpired}, now), nil
	}
	if err != nil {
		return Decision{}, err
	}

	if tok.ExpiredAt(now) {
		// Purge eagerly so later status polls resolve without scanning a
		// dead row. The token never reaches a terminal state.
		if derr := s.tokens.Delete(ctx, req.Token); derr != nil {
			s.logger.Warn("purging expired token", "token_prefix", Prefix(req.Token), "error", derr)
		}
		return s.finish(ctx, req, tok.Credential, Decision{Reason: ReasonExpired}, now), nil
	}

	switch tok.State {
	case TokenGranted:
		return s.finish(ctx, req, tok.Credential, Decision{Reason: ReasonAlreadyUsed}, now), nil
	case TokenDenied:
		return s.finish(ctx, req, tok.Credential, Decision{Reason: ReasonAlreadyDenied}, now), nil
	}

	cred, err := s.credentials.GetByCredential(ctx, tok.Credential)
	if errors.Is(err, ErrCredentialNotFound) {
		return s.denyCommitted(ctx, req, tok, ReasonAccessRevoked, now), nil
	}
	if err != nil {
		return Decision{}, err
	}

	if !cred.PermitsDoor(req.DoorID) {
		return s.denyCommitted(ctx, req, tok, ReasonInsufficientPermissions, now), nil
	}
	if s.thresholds.RSSITooWeak(req.RSSI) {
		return s.denyCommitted(ctx, req, tok, ReasonRSSITooWeak, now), nil
	}
	if s.thresholds.DistanceTooFar(req.Distance) {
		return s.denyCommitted(ctx, req, tok, ReasonDistanceTooFar, now), nil
	}

	won, err := s.tokens.Consume(ctx, req.Token, TokenGranted)
	if err != nil {
		return Decision{}, err
	}
	if !won {
		return s.finish(ctx, req, tok.Credential, Decision{Reason: s.lostRaceReason(ctx, req.Token)}, now), nil
	}
	return s.finish(ctx, req, tok.Credential, Decision{Granted: true}, now), nil
}

// denyCommitted moves a pending token to its denied terminal state and
// reports the computed reason. Losing the transition race does not
// change the response: this validation still answers with the reason it
// derived, and the winner owns the stored state.
func (s *Service) denyCommitted(ctx context.Context, req ValidationRequest, tok *AccessToken, reason Reason, started time.Time) Decision {
	won, err := s.tokens.Consume(ctx, req.Token, TokenDenied)
	if err != nil {
		s.logger.Error("committing denial",
			"token_prefix", Prefix(req.Token),
			"reason", string(reason),
			"error", err)
	} else if !won {
		s.logger.Debug("denial lost transition race",
			"token_prefix", Prefix(req.Token),
			"reason", string(reason))
	}
	return s.finish(ctx, req, tok.Credential, Decision{Reason: reason}, started)
}

// lostRaceReason resolves which terminal state beat a grant attempt.
func (s *Service) lostRaceReason(ctx context.Context, token string) Reason {
	tok, err := s.tokens.Get(ctx, token)
	if err == nil && tok.State == TokenDenied {
		return ReasonAlreadyDenied
	}
	return ReasonAlreadyUsed
}

// finish records the decision as an audit event, fans it out to sinks,
// and hands it back to the caller. The decision is already made when we
// get here: losing the audit row must not flip an answer the door is
// waiting on, so recording failures are logged and swallowed.
func (s *Service) finish(ctx context.Context, req ValidationRequest, credential string, dec Decision, started time.Time) Decision {
	event := &AccessEvent{
		TokenPrefix:      Prefix(req.Token),
		CredentialPrefix: Prefix(credential),
		DoorID:           req.DoorID,
		Decision:         "denied",
		Reason:           dec.Reason,
		RSSIDbm:          req.RSSI,
		DistanceCm:       req.Distance,
		LatencyMs:        time.Since(started).Milliseconds(),
		CreatedAt:        time.Now().UTC(),
	}
	if dec.Granted {
		event.Decision = "granted"
		event.Reason = ""
	}

	if err := s.events.Record(ctx, event); err != nil {
		s.logger.Error("recording access event",
			"door_id", req.DoorID,
			"token_prefix", event.TokenPrefix,
			"error", err)
	}
	for _, sink := range s.sinks {
		sink.DecisionRecorded(*event)
	}

	if dec.Granted {
		s.logger.Info("access granted",
			"door_id", req.DoorID,
			"token_prefix", event.TokenPrefix)
	} else {
		s.logger.Info("access denied",
			"door_id", req.DoorID,
			"token_prefix", event.TokenPrefix,
			"reason", string(dec.Reason))
	}
	return dec
}

// Status reports where a token stands without consuming it. Expiry wins
// over stored state: a row past its TTL is purged on read and reported
// as expired, the same answer a poll gets after the sweeper has been
// through.
func (s *Service) Status(ctx context.Context, token string) (TokenStatus, error) {
	tok, err := s.tokens.Get(ctx, token)
	if errors.Is(err, ErrTokenNotFound) {
		return StatusExpired, nil
	}
	if err != nil {
		return "", err
	}

	if tok.ExpiredAt(time.Now().UTC()) {
		if derr := s.tokens.Delete(ctx, token); derr != nil {
			s.logger.Warn("purging expired token", "token_prefix", Prefix(token), "error", derr)
		}
		return StatusExpired, nil
	}

	switch tok.State {
	case TokenGranted:
		return StatusGranted, nil
	case TokenDenied:
		return StatusDenied, nil
	default:
		return StatusPending, nil
	}
}

// SweepExpiredTokens deletes token rows whose TTL has lapsed and
// returns how many went. Terminal rows go too; the event log is the
// durable record of their outcome.
func (s *Service) SweepExpiredTokens(ctx context.Context) (int64, error) {
	n, err := s.tokens.DeleteExpired(ctx)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.logger.Debug("swept expired tokens", "count", n)
	}
	return n, nil
}

// SweepExpiredCredentials deletes enrollments whose own expiry has
// passed, identity mappings included, and returns how many went.
func (s *Service) SweepExpiredCredentials(ctx context.Context) (int64, error) {
	n, err := s.credentials.DeleteExpired(ctx)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.logger.Info("swept expired enrollments", "count", n)
	}
	return n, nil
}
