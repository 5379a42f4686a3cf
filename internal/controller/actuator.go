package controller

import (
	"fmt"
	"os"
	"time"
)

// GPIOActuator drives a lock relay through a GPIO value file
// (/sys/class/gpio/gpioN/value or a gpiod-mapped path). The pin must be
// exported and set to output direction before the daemon starts; udev
// or a systemd unit owns that, the same way the serial line is
// configured raw externally.
type GPIOActuator struct {
	valuePath string
	activeLow bool
	logger    Logger
}

var _ Actuator = (*GPIOActuator)(nil)

// NewGPIOActuator creates an actuator writing to the given value file.
// activeLow inverts the written levels for relays that energize on 0.
func NewGPIOActuator(valuePath string, activeLow bool, logger Logger) *GPIOActuator {
	if logger == nil {
		logger = noopLogger{}
	}
	return &GPIOActuator{valuePath: valuePath, activeLow: activeLow, logger: logger}
}

// Unlock energizes the relay, holds for the dwell, then secures the
// lock. The securing write runs even when the opening write failed, so
// a transient fault cannot leave the relay energized.
func (a *GPIOActuator) Unlock(dwell time.Duration) error {
	openErr := a.write(true)
	if openErr == nil {
		a.logger.Info("lock open", "dwell", dwell.String())
		time.Sleep(dwell)
	}

	if err := a.write(false); err != nil {
		if openErr != nil {
			return fmt.Errorf("open: %w; secure: %w", openErr, err)
		}
		return fmt.Errorf("secure lock: %w", err)
	}

	if openErr != nil {
		return fmt.Errorf("open lock: %w", openErr)
	}
	a.logger.Info("lock secured")
	return nil
}

// SignalDeny logs the refusal. Feedback hardware (buzzer, LED) varies
// per site and hangs off its own tooling; the relay pin stays untouched.
func (a *GPIOActuator) SignalDeny(reason string) {
	a.logger.Info("deny feedback", "reason", reason)
}

// write sets the pin level, honoring active-low wiring.
func (a *GPIOActuator) write(energize bool) error {
	level := "1"
	if energize == a.activeLow {
		level = "0"
	}

	if err := os.WriteFile(a.valuePath, []byte(level), 0o644); err != nil {
		return fmt.Errorf("write gpio %s: %w", a.valuePath, err)
	}
	return nil
}

// LogActuator is a bench stand-in for deployments without wired
// hardware. It honors the dwell so timing behaves like the real thing.
type LogActuator struct {
	logger Logger
}

var _ Actuator = (*LogActuator)(nil)

// NewLogActuator creates a logging actuator.
func NewLogActuator(logger Logger) *LogActuator {
	if logger == nil {
		logger = noopLogger{}
	}
	return &LogActuator{logger: logger}
}

// Unlock logs the open/secure pair around the dwell.
func (a *LogActuator) Unlock(dwell time.Duration) error {
	a.logger.Info("lock open (simulated)", "dwell", dwell.String())
	time.Sleep(dwell)
	a.logger.Info("lock secured (simulated)")
	return nil
}

// SignalDeny logs the refusal.
func (a *LogActuator) SignalDeny(reason string) {
	a.logger.Info("deny feedback (simulated)", "reason", reason)
}
