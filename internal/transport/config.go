// Package transport implements the Configuration data model, the
// client/server negotiation algorithm, and the parameter computation that
// feeds QUIC endpoint construction. See internal/endpoint for where the
// computed values are applied to an actual QUIC listener/dialer.
package transport

import (
	"fmt"
	"math"

	"github.com/qcp-project/qcp/internal/protocol/control"
)

// AddressFamily selects which DNS records qcp prefers when resolving a
// remote hostname.
type AddressFamily uint8

const (
	AddressFamilyAny AddressFamily = iota
	AddressFamilyV4
	AddressFamilyV6
)

// ThroughputMode tells the endpoint builder which half (or both) of the
// transport window sizing applies.
type ThroughputMode uint8

const (
	ThroughputTx ThroughputMode = iota
	ThroughputRx
	ThroughputBoth
)

// Minimum supported bandwidth, in bytes/sec.
const MinBandwidth = 150

// Default values for a Configuration no file or flag has touched.
const (
	DefaultRx      uint64 = 12_500_000 // 12.5 MB/s
	DefaultTx      uint64 = 0          // 0 => mirror Rx
	DefaultRTT     uint16 = 300
	DefaultTimeout uint16 = 5
)

// Configuration is the fully-resolved set of parameters exchanged between
// peers. Every field must be populated before use; partial
// ("optional") forms live only transiently during merge/negotiation in
// internal/protocol/control's Option-typed message fields.
type Configuration struct {
	Rx                      uint64
	Tx                      uint64
	RTT                     uint16
	Congestion              control.CongestionController
	InitialCongestionWindow uint64
	Port                    control.PortRange
	RemotePort              control.PortRange
	Timeout                 uint16
	AddressFamily           AddressFamily
	Ssh                     string
	SshOptions              []string
	SshConfig               []string
}

// Default returns the system-default Configuration, used as the starting
// point before any file or wire-negotiated overrides are applied.
func Default() Configuration {
	return Configuration{
		Rx:            DefaultRx,
		Tx:            DefaultTx,
		RTT:           DefaultRTT,
		Congestion:    control.CongestionCubic,
		Port:          control.PortRange{},
		RemotePort:    control.PortRange{},
		Timeout:       DefaultTimeout,
		AddressFamily: AddressFamilyAny,
		Ssh:           "ssh",
	}
}

// EffectiveTx returns the effective send bandwidth: Rx when Tx is 0, else
// Tx.
func (c Configuration) EffectiveTx() uint64 {
	if c.Tx == 0 {
		return c.Rx
	}
	return c.Tx
}

// Validate checks the configuration invariants: bandwidth floors and
// bandwidth-delay-product overflow.
func (c Configuration) Validate() error {
	if c.Rx < MinBandwidth {
		return fmt.Errorf("transport: rx %d is below the minimum supported bandwidth %d", c.Rx, MinBandwidth)
	}
	if c.Tx != 0 && c.Tx < MinBandwidth {
		return fmt.Errorf("transport: tx %d is below the minimum supported bandwidth %d", c.Tx, MinBandwidth)
	}
	if _, err := BandwidthDelayProduct(c.Rx, c.RTT); err != nil {
		return fmt.Errorf("transport: rx*rtt overflow: %w", err)
	}
	if _, err := BandwidthDelayProduct(c.EffectiveTx(), c.RTT); err != nil {
		return fmt.Errorf("transport: tx*rtt overflow: %w", err)
	}
	return nil
}

// BandwidthDelayProduct computes bytesPerSec * rttMillis / 1000, the
// in-flight capacity of the path, failing on uint64 overflow.
func BandwidthDelayProduct(bytesPerSec uint64, rttMillis uint16) (uint64, error) {
	if bytesPerSec == 0 {
		return 0, nil
	}
	// bytesPerSec * rttMillis could overflow before the /1000 division;
	// check using float64 headroom first since both operands are bounded
	// well under 2^53 in any realistic configuration.
	product := float64(bytesPerSec) * float64(rttMillis)
	if product > math.MaxUint64 {
		return 0, fmt.Errorf("%d bytes/sec * %dms rtt overflows u64", bytesPerSec, rttMillis)
	}
	return bytesPerSec * uint64(rttMillis) / 1000, nil
}
