package access

// DistanceNoReading is the wire sentinel for "no reliable reading within
// the read window". Controllers send it verbatim so the too-far
// translation happens in exactly one place: the distance check below.
const DistanceNoReading = -1

// Default proximity thresholds. Chosen for a reader mounted at the door:
// -70 dBm is roughly arm's-length for the radios in use, 90 cm keeps the
// requester inside the door swing.
const (
	DefaultRSSIFloorDBm      = -70
	DefaultDistanceCeilingCm = 90
)

// Thresholds is the proximity decision policy: a signal-strength floor
// and a distance ceiling. It is deliberately free of token bookkeeping
// so the policy can be tested as a pure decision surface.
type Thresholds struct {
	// RSSIFloorDBm is the weakest acceptable signal strength.
	RSSIFloorDBm int

	// DistanceCeilingCm is the farthest acceptable laser distance.
	DistanceCeilingCm int
}

// DefaultThresholds returns the production proximity policy.
func DefaultThresholds() Thresholds {
	return Thresholds{
		RSSIFloorDBm:      DefaultRSSIFloorDBm,
		DistanceCeilingCm: DefaultDistanceCeilingCm,
	}
}

// RSSITooWeak reports whether a supplied reading fails the signal floor.
// A nil reading means the controller did not sample; the check is
// skipped, not failed, because radio sampling is optional equipment.
func (t Thresholds) RSSITooWeak(rssi *int) bool {
	if rssi == nil {
		return false
	}
	return *rssi < t.RSSIFloorDBm
}

// DistanceTooFar reports whether a supplied reading fails the distance
// ceiling. The no-reading sentinel (and any other non-positive value)
// counts as too far: an absent or faulted measurement must never pass
// someone through.
func (t Thresholds) DistanceTooFar(distance *int) bool {
	if distance == nil {
		return false
	}
	if *distance <= 0 {
		return true
	}
	return *distance > t.DistanceCeilingCm
}
