// Package control defines the wire message types exchanged during the
// control protocol handshake: greetings, the client/server message
// exchange, and the closedown report. See internal/control for the state
// machine that drives these messages over the ssh pipe.
package control

import "fmt"

// CompatibilityLevel is the u16 identifier each side advertises in its
// greeting. 0 means "not yet known"; unknown values higher than anything we
// recognise are treated as Newer (the peer is ahead of us).
type CompatibilityLevel uint16

const (
	LevelUnknown CompatibilityLevel = 0
	LevelV1      CompatibilityLevel = 1
	// LevelNewer is not a real wire value; FromWire returns it for any
	// advertised level higher than the newest one this build knows about.
	LevelNewer CompatibilityLevel = 65535

	// newestKnown is the highest compatibility level this build
	// understands the union variants of.
	newestKnown = LevelV1
)

// FromWire converts a raw advertised level into a CompatibilityLevel,
// collapsing anything above what we understand to LevelNewer.
func FromWire(v uint16) CompatibilityLevel {
	if v > uint16(newestKnown) && v != 0 {
		return LevelNewer
	}
	return CompatibilityLevel(v)
}

// Select returns the minimum of two compatibility levels, with LevelNewer
// treated as larger than any known level.
func Select(ours, theirs CompatibilityLevel) CompatibilityLevel {
	if ours == LevelNewer {
		return theirs
	}
	if theirs == LevelNewer {
		return ours
	}
	if ours < theirs {
		return ours
	}
	return theirs
}

// ConnectionType is the address family used for the QUIC data channel.
type ConnectionType uint8

const (
	ConnectionTypeIPv4 ConnectionType = 0x04
	ConnectionTypeIPv6 ConnectionType = 0x06
)

func (c ConnectionType) String() string {
	switch c {
	case ConnectionTypeIPv4:
		return "ipv4"
	case ConnectionTypeIPv6:
		return "ipv6"
	default:
		return fmt.Sprintf("unknown connection type %d", uint8(c))
	}
}

// CongestionController selects the QUIC congestion control algorithm.
type CongestionController uint8

const (
	CongestionCubic CongestionController = 0
	CongestionBbr   CongestionController = 1
)

func (c CongestionController) String() string {
	switch c {
	case CongestionCubic:
		return "cubic"
	case CongestionBbr:
		return "bbr"
	default:
		return fmt.Sprintf("unknown congestion controller %d", uint8(c))
	}
}

// PortRange is an inclusive [Begin, End] pair. (0, 0) is the sentinel
// meaning "no preference / any port".
type PortRange struct {
	Begin uint16
	End   uint16
}

// IsAny reports whether r is the (0,0) "any port" sentinel.
func (r PortRange) IsAny() bool { return r.Begin == 0 && r.End == 0 }

func (r PortRange) String() string {
	if r.IsAny() {
		return "any"
	}
	return fmt.Sprintf("%d-%d", r.Begin, r.End)
}

// Combine intersects two port ranges: (0,0) on either side
// yields the other side; otherwise the intersection, or an error if the
// ranges are disjoint.
func Combine(a, b PortRange) (PortRange, error) {
	if a.IsAny() {
		return b, nil
	}
	if b.IsAny() {
		return a, nil
	}
	begin := a.Begin
	if b.Begin > begin {
		begin = b.Begin
	}
	end := a.End
	if b.End < end {
		end = b.End
	}
	if begin > end {
		return PortRange{}, fmt.Errorf("port ranges %s and %s do not overlap", a, b)
	}
	return PortRange{Begin: begin, End: end}, nil
}
