package access

import (
	"context"
	"sync"
	"time"
)

// Sweeper runs the periodic expiry sweeps: a fast loop for short
// tokens and a slow one for enrollments. Expired rows are already inert
// at validation time; the sweeps keep the tables small so the hot
// lookups stay cheap.
type Sweeper struct {
	service            *Service
	tokenInterval      time.Duration
	credentialInterval time.Duration

	// Shutdown coordination (stopOnce prevents double-close panics)
	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once

	logger Logger
}

// SweeperConfig holds configuration for the sweeper.
type SweeperConfig struct {
	// TokenInterval is how often expired tokens are purged.
	// Default: 60 seconds.
	TokenInterval time.Duration

	// CredentialInterval is how often expired enrollments are purged.
	// Default: 1 hour.
	CredentialInterval time.Duration

	// Logger instance (may be nil).
	Logger Logger
}

// NewSweeper creates a sweeper over the access service.
//
// Returns:
//   - *Sweeper: ready to start (call Start to begin sweeping)
func NewSweeper(service *Service, cfg SweeperConfig) *Sweeper {
	tokenInterval := cfg.TokenInterval
	if tokenInterval <= 0 {
		tokenInterval = 60 * time.Second
	}
	credentialInterval := cfg.CredentialInterval
	if credentialInterval <= 0 {
		credentialInterval = time.Hour
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noopLogger{}
	}

	return &Sweeper{
		service:            service,
		tokenInterval:      tokenInterval,
		credentialInterval: credentialInterval,
		done:               make(chan struct{}),
		logger:             logger,
	}
}

// Start begins both sweep loops. Each loop sweeps once immediately to
// clear any backlog from downtime, then on its interval. Call Stop to
// shut down.
func (s *Sweeper) Start(ctx context.Context) {
	s.wg.Add(2)
	go s.loop(ctx, s.tokenInterval, "tokens", s.service.SweepExpiredTokens)
	go s.loop(ctx, s.credentialInterval, "credentials", s.service.SweepExpiredCredentials)
}

// Stop waits for in-flight sweeps to finish.
// Safe to call multiple times (uses sync.Once).
func (s *Sweeper) Stop() {
	s.stopOnce.Do(func() {
		close(s.done)
		s.wg.Wait()
	})
}

func (s *Sweeper) loop(ctx context.Context, interval time.Duration, what string, sweep func(context.Context) (int64, error)) {
	defer s.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	if _, err := sweep(ctx); err != nil {
		s.logger.Error("initial sweep failed", "what", what, "error", err)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		case <-ticker.C:
			if _, err := sweep(ctx); err != nil {
				s.logger.Error("sweep failed", "what", what, "error", err)
			}
		}
	}
}
