package controller

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Actuation timing defaults, overridable via Options.
const (
	// defaultUnlockDwell is how long the lock stays open on a grant.
	defaultUnlockDwell = 4 * time.Second

	// defaultDenyCooldown is the dwell after a deny before the
	// controller accepts another attempt.
	defaultDenyCooldown = 2 * time.Second
)

// prefixLength bounds how much of a token appears in log output.
const prefixLength = 8

// Options holds configuration for creating a Controller.
type Options struct {
	// DoorID identifies the door this controller guards. Required.
	DoorID string

	// Sensor supplies one distance reading per attempt. Required.
	Sensor DistanceReader

	// Sampler reports requester signal strength. Optional; when nil the
	// RSSI reading is omitted from validation requests.
	Sampler RSSISampler

	// Client relays attempts to the validation service. Required.
	Client DecisionClient

	// Actuator drives the lock hardware. Required.
	Actuator Actuator

	// UnlockDwell overrides the grant dwell. Zero means default (4s).
	UnlockDwell time.Duration

	// DenyCooldown overrides the deny cooldown. Zero means default (2s).
	DenyCooldown time.Duration

	// OnDecision is invoked after actuation with the original request
	// and the outcome. Optional; used by the MQTT source to publish the
	// decision topic.
	OnDecision func(req AccessRequest, resp DecisionResponse)

	// Logger is optional structured logging.
	Logger Logger
}

// Controller runs the attempt lifecycle for one door.
//
// It is a single in-flight actor: Submit hands a request to the run
// loop only when the controller is listening; otherwise the attempt is
// dropped. All methods are safe for concurrent use.
type Controller struct {
	doorID   string
	sensor   DistanceReader
	sampler  RSSISampler
	client   DecisionClient
	actuator Actuator

	unlockDwell  time.Duration
	denyCooldown time.Duration
	onDecision   func(req AccessRequest, resp DecisionResponse)

	// requests is unbuffered so a send succeeds only while the run loop
	// is in its select. That is the whole single-in-flight mechanism.
	requests chan AccessRequest

	state   State
	stateMu sync.RWMutex

	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once

	logger Logger
}

var _ Submitter = (*Controller)(nil)

// New creates a controller. Call Start to begin accepting requests.
func New(opts Options) (*Controller, error) {
	if opts.DoorID == "" {
		return nil, fmt.Errorf("door ID is required")
	}
	if opts.Sensor == nil {
		return nil, fmt.Errorf("distance reader is required")
	}
	if opts.Client == nil {
		return nil, fmt.Errorf("decision client is required")
	}
	if opts.Actuator == nil {
		return nil, fmt.Errorf("actuator is required")
	}

	unlockDwell := opts.UnlockDwell
	if unlockDwell <= 0 {
		unlockDwell = defaultUnlockDwell
	}
	denyCooldown := opts.DenyCooldown
	if denyCooldown <= 0 {
		denyCooldown = defaultDenyCooldown
	}
	logger := opts.Logger
	if logger == nil {
		logger = noopLogger{}
	}

	return &Controller{
		doorID:       opts.DoorID,
		sensor:       opts.Sensor,
		sampler:      opts.Sampler,
		client:       opts.Client,
		actuator:     opts.Actuator,
		unlockDwell:  unlockDwell,
		denyCooldown: denyCooldown,
		onDecision:   opts.OnDecision,
		requests:     make(chan AccessRequest),
		state:        StateIdle,
		done:         make(chan struct{}),
		logger:       logger,
	}, nil
}

// Start launches the run loop.
func (c *Controller) Start(ctx context.Context) error {
	c.wg.Add(1)
	go c.run(ctx)

	c.logger.Info("door controller started",
		"door_id", c.doorID,
		"unlock_dwell", c.unlockDwell.String(),
		"deny_cooldown", c.denyCooldown.String())

	return nil
}

// Stop shuts the controller down. It waits for an in-flight attempt to
// finish actuating; the lock is never abandoned mid-dwell.
func (c *Controller) Stop() {
	c.stopOnce.Do(func() {
		close(c.done)
		c.wg.Wait()
		c.logger.Info("door controller stopped", "door_id", c.doorID)
	})
}

// State returns the current lifecycle state.
func (c *Controller) State() State {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.state
}

// Submit offers an attempt to the controller. It returns false when the
// controller is mid-attempt (or stopped) and the request was dropped.
// Sources are responsible for payload validation before submitting.
func (c *Controller) Submit(req AccessRequest) bool {
	select {
	case c.requests <- req:
		return true
	default:
		c.logger.Info("attempt dropped, controller busy",
			"door_id", c.doorID,
			"token_prefix", tokenPrefix(req.Token))
		return false
	}
}

// run is the single-attempt loop.
func (c *Controller) run(ctx context.Context) {
	defer c.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		case req := <-c.requests:
			c.handle(ctx, req)
		}
	}
}

// handle drives one attempt through the state machine and always
// returns the controller to Idle.
func (c *Controller) handle(ctx context.Context, req AccessRequest) {
	start := time.Now()

	c.setState(StateReadingSensor)
	distance := c.sensor.ReadDistance()

	var rssi *int
	if c.sampler != nil {
		if v, ok := c.sampler.SampleRSSI(); ok {
			rssi = &v
		}
	}

	c.setState(StateAwaitingDecision)
	resp, err := c.client.Validate(ctx, ValidationRequest{
		Token:    req.Token,
		DoorID:   c.doorID,
		RSSI:     rssi,
		Distance: &distance,
	})
	if err != nil {
		// No decision obtained. Fail closed: the requester retries, the
		// lock stays shut.
		c.logger.Warn("validation call failed, denying",
			"door_id", c.doorID,
			"token_prefix", tokenPrefix(req.Token),
			"error", err)
		resp = DecisionResponse{Granted: false, Reason: ReasonServerError}
	}

	if resp.Granted {
		c.setState(StateActuatingGrant)
		if err := c.actuator.Unlock(c.unlockDwell); err != nil {
			c.logger.Error("unlock failed",
				"door_id", c.doorID,
				"error", err)
		}
	} else {
		c.setState(StateActuatingDeny)
		c.actuator.SignalDeny(resp.Reason)
		c.pause(ctx, c.denyCooldown)
	}

	c.logAttempt(req, resp, distance, rssi, time.Since(start))

	if c.onDecision != nil {
		c.onDecision(req, resp)
	}

	c.setState(StateIdle)
}

// logAttempt emits the one structured line each attempt produces.
func (c *Controller) logAttempt(req AccessRequest, resp DecisionResponse, distance int, rssi *int, elapsed time.Duration) {
	args := []any{
		"door_id", c.doorID,
		"token_prefix", tokenPrefix(req.Token),
		"granted", resp.Granted,
		"distance_cm", distance,
		"elapsed_ms", elapsed.Milliseconds(),
	}
	if rssi != nil {
		args = append(args, "rssi_dbm", *rssi)
	}

	if resp.Granted {
		c.logger.Info("access granted", args...)
		return
	}
	args = append(args, "reason", resp.Reason)
	c.logger.Info("access denied", args...)
}

// pause sleeps for d but wakes early on shutdown.
func (c *Controller) pause(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
	case <-c.done:
	case <-timer.C:
	}
}

// setState records a lifecycle transition.
func (c *Controller) setState(s State) {
	c.stateMu.Lock()
	prev := c.state
	c.state = s
	c.stateMu.Unlock()

	if prev != s {
		c.logger.Debug("state transition",
			"door_id", c.doorID,
			"from", prev.String(),
			"to", s.String())
	}
}

// tokenPrefix truncates a token for log output. Full tokens never
// appear in logs.
func tokenPrefix(token string) string {
	if len(token) <= prefixLength {
		return token
	}
	return token[:prefixLength]
}
