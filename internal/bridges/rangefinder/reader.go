package rangefinder

import (
	"errors"
	"fmt"
	"os"
	"time"
)

// Logger defines the logging interface used by the reader.
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

// Link is the byte stream carrying frames from the sensor. It is
// deliberately narrow so tests can feed scripted streams and the
// physical device stays swappable.
type Link interface {
	// Read fills p with available bytes, blocking until at least one
	// byte arrives or the read deadline passes.
	Read(p []byte) (int, error)

	// SetReadDeadline bounds all subsequent reads.
	SetReadDeadline(t time.Time) error

	// Flush discards bytes the sensor pushed before this instant.
	Flush() error

	Close() error
}

// Default acquisition tuning.
const (
	// defaultSettle gives a frame that begins mid-attempt time to land
	// whole. The sensor pushes a frame every few milliseconds; one
	// settle interval guarantees at least one fresh frame in flight.
	defaultSettle = 60 * time.Millisecond

	// defaultBudget is the hard ceiling for one acquisition. Generous
	// relative to the frame rate so scheduler jitter from concurrent
	// network activity does not starve the scan.
	defaultBudget = 500 * time.Millisecond

	// readChunkSize is the per-read buffer. A few frames' worth.
	readChunkSize = 64
)

// ReaderConfig holds acquisition tuning for a Reader.
type ReaderConfig struct {
	// Settle is the post-flush wait before scanning.
	// Default: 60ms.
	Settle time.Duration

	// Budget is the ceiling for one acquisition, settle included.
	// Default: 500ms.
	Budget time.Duration

	// Logger instance (may be nil).
	Logger Logger
}

// Reader acquires distance readings from a Link, one bounded attempt at
// a time. It keeps no state between attempts: every acquisition starts
// from a flushed stream, so a reading can never describe a person who
// already walked away.
type Reader struct {
	link   Link
	settle time.Duration
	budget time.Duration
	logger Logger
}

// NewReader creates a reader over the given link.
func NewReader(link Link, cfg ReaderConfig) *Reader {
	settle := cfg.Settle
	if settle <= 0 {
		settle = defaultSettle
	}
	budget := cfg.Budget
	if budget <= 0 {
		budget = defaultBudget
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noopLogger{}
	}
	return &Reader{link: link, settle: settle, budget: budget, logger: logger}
}

// ReadDistance runs one acquisition: flush stale bytes, wait the settle
// interval, then scan the stream for a checksum-valid frame carrying a
// plausible distance. Corrupt frames are skipped and the scan continues.
//
// Returns the distance in centimeters, or DistanceNoReading once the
// budget is spent or the link fails. The sentinel means "assume too
// far"; callers must never read it as success.
func (r *Reader) ReadDistance() int {
	deadline := time.Now().Add(r.budget)

	if err := r.link.Flush(); err != nil {
		r.logger.Warn("flushing sensor link", "error", err)
	}
	time.Sleep(r.settle)

	if err := r.link.SetReadDeadline(deadline); err != nil {
		r.logger.Warn("setting sensor read deadline", "error", err)
		return DistanceNoReading
	}

	var buf []byte
	chunk := make([]byte, readChunkSize)
	for {
		n, err := r.link.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)

			var distance int
			var ok bool
			buf, distance, ok = r.scanFrames(buf)
			if ok {
				return distance
			}
		}
		if err != nil {
			if !errors.Is(err, os.ErrDeadlineExceeded) {
				r.logger.Warn("sensor link read failed", "error", err)
			}
			return DistanceNoReading
		}
		if !time.Now().Before(deadline) {
			return DistanceNoReading
		}
	}
}

// scanFrames consumes buffered bytes looking for a valid frame with a
// plausible distance. It returns the unconsumed remainder and, when
// found, the distance.
func (r *Reader) scanFrames(buf []byte) (rest []byte, distance int, ok bool) {
	for {
		i := syncIndex(buf)
		if i < 0 {
			// Keep one trailing byte: it may be the first half of a
			// sync pair split across reads.
			if len(buf) > 1 {
				buf = buf[len(buf)-1:]
			}
			return buf, 0, false
		}
		buf = buf[i:]
		if len(buf) < FrameSize {
			return buf, 0, false
		}

		frame, err := ParseFrame(buf[:FrameSize])
		if err != nil {
			// Resync from the next byte, not a full frame ahead: the
			// pair may have been payload bytes of a misaligned frame.
			r.logger.Debug("discarding corrupt frame", "error", err)
			buf = buf[1:]
			continue
		}
		if !frame.PlausibleDistance() {
			r.logger.Debug("discarding implausible reading", "distance_cm", frame.DistanceCm)
			buf = buf[FrameSize:]
			continue
		}
		return buf[FrameSize:], frame.DistanceCm, true
	}
}

// syncIndex finds the first sync pair in buf, or -1.
func syncIndex(buf []byte) int {
	for i := 0; i+1 < len(buf); i++ {
		if buf[i] == SyncByte && buf[i+1] == SyncByte {
			return i
		}
	}
	return -1
}

// SerialLink is a Link over the sensor's serial device file. The port
// must already be configured raw at the expected line rate (an OS init
// step, stty or a systemd unit, not this process); the link treats the
// device as a plain byte stream.
type SerialLink struct {
	f    *os.File
	baud int
}

// Ensure SerialLink implements Link.
var _ Link = (*SerialLink)(nil)

// OpenSerialLink opens the sensor device read-only.
func OpenSerialLink(device string, baud int) (*SerialLink, error) {
	f, err := os.OpenFile(device, os.O_RDONLY, 0)
	if err != nil {
		return nil, fmt.Errorf("opening sensor device %s: %w", device, err)
	}
	return &SerialLink{f: f, baud: baud}, nil
}

// Baud reports the expected line rate of the port. Informational only;
// the link does not program the port.
func (l *SerialLink) Baud() int { return l.baud }

func (l *SerialLink) Read(p []byte) (int, error) {
	return l.f.Read(p)
}

func (l *SerialLink) SetReadDeadline(t time.Time) error {
	return l.f.SetReadDeadline(t)
}

// Flush drains whatever accumulated while nobody was reading. It reads
// with a short per-iteration deadline and stops at the first quiet gap,
// which on a sensor pushing every few milliseconds means "drained".
func (l *SerialLink) Flush() error {
	buf := make([]byte, 256) //nolint:mnd // larger than any realistic tty backlog chunk
	for {
		if err := l.f.SetReadDeadline(time.Now().Add(time.Millisecond)); err != nil {
			return fmt.Errorf("setting flush deadline: %w", err)
		}
		n, err := l.f.Read(buf)
		if err != nil || n == 0 {
			return nil
		}
	}
}

func (l *SerialLink) Close() error {
	return l.f.Close()
}
