package controller

import (
	"context"
	"time"
)

// State identifies where the controller is in the attempt lifecycle.
type State int

// Controller states. A controller in any state other than StateIdle
// drops incoming requests.
const (
	StateIdle State = iota
	StateReadingSensor
	StateAwaitingDecision
	StateActuatingGrant
	StateActuatingDeny
)

// String returns the state name for logs and health reporting.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateReadingSensor:
		return "reading_sensor"
	case StateAwaitingDecision:
		return "awaiting_decision"
	case StateActuatingGrant:
		return "actuating_grant"
	case StateActuatingDeny:
		return "actuating_deny"
	default:
		return "unknown"
	}
}

// ReasonServerError is the deny reason the controller substitutes when
// the validation call fails in transit. It mirrors the service-side
// taxonomy but is owned here: the controller must be able to produce it
// without a response to copy it from.
const ReasonServerError = "server_error"

// AccessRequest is a token-bearing attempt delivered by a RequestSource.
// DoorID records where the requester addressed the attempt; validation
// always uses the controller's own configured door.
type AccessRequest struct {
	Token  string `json:"token"`
	DoorID string `json:"door_id,omitempty"`
}

// ValidationRequest is the wire request relayed to the validation
// service. Distance is always present (the sensor sentinel included);
// RSSI is omitted when the deployment has no sampler.
type ValidationRequest struct {
	Token    string `json:"token"`
	DoorID   string `json:"door_id"`
	RSSI     *int   `json:"rssi,omitempty"`
	Distance *int   `json:"distance,omitempty"`
}

// DecisionResponse is the wire response from the validation service.
// Reason is empty on a grant and one of the machine-readable taxonomy
// strings on a deny.
type DecisionResponse struct {
	Granted bool   `json:"granted"`
	Reason  string `json:"reason,omitempty"`
}

// DistanceReader supplies one distance reading per attempt.
// Implemented by rangefinder.Reader; the sentinel -1 means no plausible
// reading inside the budget.
type DistanceReader interface {
	ReadDistance() int
}

// RSSISampler reports the requester's signal strength in dBm.
// ok=false means no sample is available and the reading is omitted from
// the validation request.
type RSSISampler interface {
	SampleRSSI() (dbm int, ok bool)
}

// SamplerFunc adapts a plain function to RSSISampler.
type SamplerFunc func() (int, bool)

// SampleRSSI calls f.
func (f SamplerFunc) SampleRSSI() (int, bool) { return f() }

// Actuator drives the physical lock hardware.
type Actuator interface {
	// Unlock opens the lock and holds it for the dwell, then secures it
	// again. It blocks for the full dwell; the controller treats the
	// call duration as the ActuatingGrant state.
	Unlock(dwell time.Duration) error

	// SignalDeny gives local feedback for a refused attempt (LED, tone).
	// It must not block; the controller enforces the cooldown itself.
	SignalDeny(reason string)
}

// DecisionClient relays an attempt to the validation service.
// A transport or protocol error means no decision was obtained; the
// controller converts it to a server_error deny.
type DecisionClient interface {
	Validate(ctx context.Context, req ValidationRequest) (DecisionResponse, error)
}

// RequestSource delivers token-bearing requests into a controller.
// Implementations own their transport lifecycle.
type RequestSource interface {
	Start(ctx context.Context) error
	Stop()
}

// Submitter accepts attempts from a RequestSource. Satisfied by
// *Controller. Submit reports false when the attempt was dropped
// because one is already in flight.
type Submitter interface {
	Submit(req AccessRequest) bool
}

// Logger is the minimal logging interface used across this package.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger discards all log output. Used when no logger is provided.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}
