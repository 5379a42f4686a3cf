package rangefinder

import (
	"errors"
	"testing"
)

func TestParseFrame_KnownVector(t *testing.T) {
	// distance 300cm, strength 1000, temp raw 2360; checksum is the low
	// byte of the sum of the first eight bytes.
	data := []byte{0x59, 0x59, 0x2C, 0x01, 0xE8, 0x03, 0x38, 0x09, 0x0B}

	frame, err := ParseFrame(data)
	if err != nil {
		t.Fatalf("ParseFrame() error = %v", err)
	}
	if frame.DistanceCm != 300 {
		t.Errorf("DistanceCm = %d, want 300", frame.DistanceCm)
	}
	if frame.Strength != 1000 {
		t.Errorf("Strength = %d, want 1000", frame.Strength)
	}
	if got := frame.TempCelsius(); got != 39.0 {
		t.Errorf("TempCelsius() = %v, want 39", got)
	}
}

func TestParseFrame_RoundTrip(t *testing.T) {
	orig := Frame{DistanceCm: 87, Strength: 1542, TempRaw: 2200}

	decoded, err := ParseFrame(orig.Encode())
	if err != nil {
		t.Fatalf("ParseFrame() error = %v", err)
	}
	if decoded != orig {
		t.Errorf("round trip = %+v, want %+v", decoded, orig)
	}
}

func TestParseFrame_Rejects(t *testing.T) {
	valid := Frame{DistanceCm: 50, Strength: 900, TempRaw: 2300}.Encode()

	corrupted := append([]byte(nil), valid...)
	corrupted[FrameSize-1] ^= 0xFF

	badSync := append([]byte(nil), valid...)
	badSync[1] = 0x00

	tests := []struct {
		name string
		data []byte
	}{
		{"too short", valid[:5]},
		{"too long", append(append([]byte(nil), valid...), 0x00)},
		{"missing sync", badSync},
		{"corrupted checksum", corrupted},
		{"empty", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseFrame(tt.data); !errors.Is(err, ErrInvalidFrame) {
				t.Errorf("ParseFrame() error = %v, want ErrInvalidFrame", err)
			}
		})
	}
}

func TestChecksum(t *testing.T) {
	// 89+89+44+1+232+3+56+9 = 523; low byte 0x0B.
	data := []byte{0x59, 0x59, 0x2C, 0x01, 0xE8, 0x03, 0x38, 0x09}
	if got := Checksum(data); got != 0x0B {
		t.Errorf("Checksum() = %#02x, want 0x0b", got)
	}
}

func TestFrame_PlausibleDistance(t *testing.T) {
	tests := []struct {
		distance int
		want     bool
	}{
		{0, false},
		{1, true},
		{90, true},
		{800, true},
		{801, false},
		{65535, false},
	}

	for _, tt := range tests {
		f := Frame{DistanceCm: tt.distance}
		if got := f.PlausibleDistance(); got != tt.want {
			t.Errorf("PlausibleDistance(%d) = %v, want %v", tt.distance, got, tt.want)
		}
	}
}
