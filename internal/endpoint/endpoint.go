// Package endpoint builds the QUIC listener/dialer for both sides of a qcp
// session: a bound, buffer-tuned UDP socket, a TLS config
// pinned to a single peer certificate, and a QUIC transport configuration
// computed from the negotiated bandwidth and rtt parameters.
package endpoint

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"time"

	"github.com/pkg/errors"
	"github.com/quic-go/quic-go"

	"github.com/qcp-project/qcp/internal/protocol/control"
	"github.com/qcp-project/qcp/internal/transport"
)

// socketBufferSize is the 2 MiB floor applied to both send and receive
// UDP socket buffers.
const socketBufferSize = 2 << 20

// keepAliveInterval is the fixed connection keep-alive.
const keepAliveInterval = 5 * time.Second

// datagramBufferSize is the 2 MiB floor applied to the flow-control
// windows BuildQUICConfig computes, independent of negotiated bandwidth.
const datagramBufferSize = 2 << 20

// BindResult carries the bound socket plus any non-fatal warning (e.g. the
// kernel refused the requested buffer size) that the server relays to the
// client in ServerMessage.warning.
type BindResult struct {
	Conn    *net.UDPConn
	Warning string
}

// BindSocket binds a UDP socket for family within portRange ((0,0) means
// "any free port"), then attempts to raise its send/receive buffers to the
// 2 MiB floor, surfacing a warning (never an error) if the kernel refuses.
func BindSocket(family control.ConnectionType, portRange control.PortRange) (*BindResult, error) {
	network := "udp4"
	addr := "0.0.0.0:0"
	if family == control.ConnectionTypeIPv6 {
		network = "udp6"
		addr = "[::]:0"
	}

	conn, err := bindInRange(network, addr, portRange)
	if err != nil {
		return nil, errors.Wrap(err, "endpoint: binding UDP socket")
	}

	var warnings []string
	if err := conn.SetReadBuffer(socketBufferSize); err != nil {
		warnings = append(warnings, fmt.Sprintf("could not raise UDP receive buffer to %d bytes: %v", socketBufferSize, err))
	}
	if err := conn.SetWriteBuffer(socketBufferSize); err != nil {
		warnings = append(warnings, fmt.Sprintf("could not raise UDP send buffer to %d bytes: %v", socketBufferSize, err))
	}

	warning := ""
	if len(warnings) > 0 {
		warning = warnings[0]
	}
	return &BindResult{Conn: conn, Warning: warning}, nil
}

func bindInRange(network, addr string, portRange control.PortRange) (*net.UDPConn, error) {
	if portRange.IsAny() {
		laddr, err := net.ResolveUDPAddr(network, addr)
		if err != nil {
			return nil, err
		}
		return net.ListenUDP(network, laddr)
	}

	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, err
	}
	var lastErr error
	for port := portRange.Begin; ; port++ {
		laddr, err := net.ResolveUDPAddr(network, fmt.Sprintf("%s:%d", host, port))
		if err != nil {
			return nil, err
		}
		conn, err := net.ListenUDP(network, laddr)
		if err == nil {
			return conn, nil
		}
		lastErr = err
		if port == portRange.End {
			break
		}
	}
	return nil, errors.Wrapf(lastErr, "no free port in range %s", portRange)
}

// BuildQUICConfig assembles a *quic.Config from a negotiated Configuration
// and the throughput mode of this endpoint:
//
//   - max_concurrent_bidi_streams = 1, max_concurrent_uni_streams = 0
//   - keep_alive_interval = 5s (no spin bit setting is made)
//   - Tx/Both: send window = 2 * BDP(tx)
//   - Rx/Both: receive window = BDP(rx)
//
// Each window is raised to datagramBufferSize (2 MiB) when the BDP-derived
// value is smaller, so neither is ever below 2 MiB.
//
// quic-go does not expose a pluggable per-connection congestion-controller
// interface the way some QUIC stacks do; cfg.Congestion and
// cfg.InitialCongestionWindow are therefore not mapped
// onto *quic.Config fields here. The server still surfaces both unchanged
// through ServerMessageV1 so the two sides agree on what was negotiated
// even though only the window sizing below takes effect locally. See
// DESIGN.md.
func BuildQUICConfig(cfg transport.Configuration, mode transport.ThroughputMode) (*quic.Config, error) {
	qcfg := &quic.Config{
		MaxIncomingStreams: 1,
		// In quic-go, 0 means "library default"; a negative count is what
		// disallows unidirectional streams entirely.
		MaxIncomingUniStreams: -1,
		KeepAlivePeriod:       keepAliveInterval,
		Allow0RTT:             false,
	}

	if mode == transport.ThroughputTx || mode == transport.ThroughputBoth {
		bdpTx, err := transport.BandwidthDelayProduct(cfg.EffectiveTx(), cfg.RTT)
		if err != nil {
			return nil, errors.Wrap(err, "endpoint: computing tx bandwidth-delay product")
		}
		// quic-go has no send-window knob; inflating the connection-level
		// *receive* window is the closest analogue, since it's what lets
		// the peer's flow control keep up with how much we intend to send.
		sendWindow := bdpTx * 2
		qcfg.InitialConnectionReceiveWindow = uint64Cap(sendWindow)
		qcfg.MaxConnectionReceiveWindow = uint64Cap(sendWindow)
	}

	if mode == transport.ThroughputRx || mode == transport.ThroughputBoth {
		bdpRx, err := transport.BandwidthDelayProduct(cfg.Rx, cfg.RTT)
		if err != nil {
			return nil, errors.Wrap(err, "endpoint: computing rx bandwidth-delay product")
		}
		qcfg.InitialStreamReceiveWindow = uint64Cap(bdpRx)
		qcfg.MaxStreamReceiveWindow = uint64Cap(bdpRx)
	}

	return qcfg, nil
}

func uint64Cap(v uint64) uint64 {
	if v < datagramBufferSize {
		return datagramBufferSize
	}
	return v
}

// DialClient opens the client-side QUIC connection using a pre-bound
// socket (so the client's own port-range preference, if any, is honored)
// and the negotiated transport parameters. The handshake is bounded by
// cfg.Timeout.
func DialClient(ctx context.Context, conn *net.UDPConn, remoteAddr *net.UDPAddr, tlsConf *tls.Config, cfg transport.Configuration, mode transport.ThroughputMode) (quic.Connection, error) {
	qcfg, err := BuildQUICConfig(cfg, mode)
	if err != nil {
		return nil, err
	}
	dialCtx, cancel := context.WithTimeout(ctx, time.Duration(cfg.Timeout)*time.Second)
	defer cancel()
	qconn, err := quic.Dial(dialCtx, conn, remoteAddr, tlsConf, qcfg)
	if err != nil {
		return nil, errors.Wrap(err, "endpoint: QUIC handshake")
	}
	return qconn, nil
}

// ListenServer constructs the server-side QUIC listener over a pre-bound
// socket.
func ListenServer(conn *net.UDPConn, tlsConf *tls.Config, cfg transport.Configuration, mode transport.ThroughputMode) (*quic.Listener, error) {
	qcfg, err := BuildQUICConfig(cfg, mode)
	if err != nil {
		return nil, err
	}
	listener, err := quic.Listen(conn, tlsConf, qcfg)
	if err != nil {
		return nil, errors.Wrap(err, "endpoint: constructing QUIC listener")
	}
	return listener, nil
}
