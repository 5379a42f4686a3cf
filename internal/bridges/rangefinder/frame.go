package rangefinder

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Wire framing constants.
const (
	// FrameSize is the fixed length of one frame on the wire.
	FrameSize = 9

	// SyncByte opens every frame, twice in a row. A lone 0x59 occurs
	// freely inside payload bytes; only the consecutive pair marks a
	// frame boundary.
	SyncByte = 0x59
)

// Distance plausibility bounds in centimeters. Zero means the sensor is
// blinded or the target sits on the lens; past the upper bound the
// sensor is outside its rated field and reports noise.
const (
	MinPlausibleCm = 1
	MaxPlausibleCm = 800
)

// DistanceNoReading is the sentinel for "no valid frame inside the read
// budget". Callers must treat it as worst case, too far, never as a
// silent success.
const DistanceNoReading = -1

// ErrInvalidFrame reports a structurally broken frame.
var ErrInvalidFrame = errors.New("invalid rangefinder frame")

// Frame is one decoded measurement frame.
type Frame struct {
	// DistanceCm is the measured distance in centimeters.
	DistanceCm int

	// Strength is the raw return-signal strength. Weak returns tend to
	// accompany junk distances, but the plausibility band on the
	// distance itself is the acceptance gate, not this field.
	Strength int

	// TempRaw is the sensor's internal temperature in raw units.
	TempRaw int
}

// TempCelsius converts the raw internal temperature reading.
func (f Frame) TempCelsius() float64 {
	return float64(f.TempRaw)/8 - 256
}

// PlausibleDistance reports whether the decoded distance lies inside
// the physically believable band.
func (f Frame) PlausibleDistance() bool {
	return f.DistanceCm >= MinPlausibleCm && f.DistanceCm <= MaxPlausibleCm
}

// Checksum computes the wire checksum over data: the low byte of the
// additive sum.
func Checksum(data []byte) byte {
	var sum int
	for _, b := range data {
		sum += int(b)
	}
	return byte(sum) //nolint:gosec // G115: low byte is the point
}

// ParseFrame decodes one complete frame.
//
// Layout:
//
//	Byte 0-1: sync (0x59 0x59)
//	Byte 2-3: distance in cm (little-endian)
//	Byte 4-5: signal strength (little-endian)
//	Byte 6-7: internal temperature, raw (little-endian)
//	Byte 8:   checksum, low byte of the sum of bytes 0-7
//
// Returns ErrInvalidFrame (wrapped with the specific failure) for wrong
// length, missing sync pair, or checksum mismatch.
func ParseFrame(data []byte) (Frame, error) {
	if len(data) != FrameSize {
		return Frame{}, fmt.Errorf("%w: %d bytes, need %d", ErrInvalidFrame, len(data), FrameSize)
	}
	if data[0] != SyncByte || data[1] != SyncByte {
		return Frame{}, fmt.Errorf("%w: bad sync %#02x %#02x", ErrInvalidFrame, data[0], data[1])
	}
	if got := Checksum(data[:FrameSize-1]); got != data[FrameSize-1] {
		return Frame{}, fmt.Errorf("%w: checksum %#02x, want %#02x", ErrInvalidFrame, data[FrameSize-1], got)
	}

	return Frame{
		DistanceCm: int(binary.LittleEndian.Uint16(data[2:4])),
		Strength:   int(binary.LittleEndian.Uint16(data[4:6])),
		TempRaw:    int(binary.LittleEndian.Uint16(data[6:8])),
	}, nil
}

// Encode renders the frame to wire format with a valid checksum.
func (f Frame) Encode() []byte {
	buf := make([]byte, FrameSize)
	buf[0] = SyncByte
	buf[1] = SyncByte
	binary.LittleEndian.PutUint16(buf[2:4], uint16(f.DistanceCm)) //nolint:gosec // G115: fields bounded by the 16-bit wire format
	binary.LittleEndian.PutUint16(buf[4:6], uint16(f.Strength))   //nolint:gosec // G115: as above
	binary.LittleEndian.PutUint16(buf[6:8], uint16(f.TempRaw))    //nolint:gosec // G115: as above
	buf[FrameSize-1] = Checksum(buf[:FrameSize-1])
	return buf
}

// String returns a human-readable representation of the frame.
func (f Frame) String() string {
	return fmt.Sprintf("Frame{Dist:%dcm, Strength:%d}", f.DistanceCm, f.Strength)
}
