// Package client drives the client-side task tree for a single qcp
// invocation: spawn ssh for the control channel, run the control
// handshake, negotiate transport parameters, open the QUIC data channel,
// and run one GET/PUT per requested file concurrently.
package client

import (
	"context"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/pkg/errors"
	"github.com/quic-go/quic-go"

	"github.com/qcp-project/qcp/internal/control"
	"github.com/qcp-project/qcp/internal/credentials"
	"github.com/qcp-project/qcp/internal/endpoint"
	ctlproto "github.com/qcp-project/qcp/internal/protocol/control"
	"github.com/qcp-project/qcp/internal/session"
	"github.com/qcp-project/qcp/internal/transport"
)

// Transfer describes one file to GET or PUT within a single session.
type Transfer struct {
	Put    bool
	Source string
	Dest   string
}

// SSHOptions configures the ssh subprocess used for the control channel.
type SSHOptions struct {
	Binary  string
	Options []string
}

// Options configures a client run end to end.
type Options struct {
	Host          string
	Local         transport.Configuration
	AddressFamily transport.AddressFamily
	ShowConfig    bool
	Compress      bool
	Debug         bool
	Quiet         bool
	SSH           SSHOptions
	Transfers     []Transfer
}

// Result summarizes a finished client run.
type Result struct {
	Closedown  *ctlproto.ClosedownReportV1
	Warning    string
	Negotiated transport.Configuration
}

// Run drives one full client session: ssh spawn, control handshake,
// negotiation, QUIC dial, file transfers, and closedown.
func Run(ctx context.Context, opts Options) (*Result, error) {
	creds, err := credentials.Generate()
	if err != nil {
		return nil, err
	}

	sshFamily, connType := addressFamilyArgs(opts.AddressFamily)

	proc, err := control.SpawnSSH(control.SpawnSSHOptions{
		SSHBinary:     opts.SSH.Binary,
		SSHOptions:    opts.SSH.Options,
		Hostname:      opts.Host,
		AddressFamily: sshFamily,
		Quiet:         opts.Quiet,
	})
	if err != nil {
		return nil, errors.Wrap(err, "client: spawning ssh")
	}
	defer proc.Close()

	if err := control.ReadBanner(proc.Channel.R); err != nil {
		return nil, err
	}

	if _, err := proc.Channel.ClientGreet(opts.Debug); err != nil {
		return nil, err
	}

	clientMsg := buildClientMessage(creds, connType, opts)
	if err := proc.Channel.Send(&ctlproto.ClientMessage{V1: clientMsg}); err != nil {
		return nil, errors.Wrap(err, "client: sending client message")
	}

	var serverMsg ctlproto.ServerMessage
	if err := proc.Channel.Recv(&serverMsg); err != nil {
		return nil, errors.Wrap(err, "client: reading server message")
	}
	if serverMsg.Failure != nil {
		return nil, errors.New(serverMsg.Failure.Error())
	}
	if serverMsg.V1 == nil {
		return nil, fmt.Errorf("client: server sent an unusable message")
	}
	sm := serverMsg.V1

	finalCfg := opts.Local
	finalCfg.Rx = sm.BandwidthToClient
	finalCfg.Tx = sm.BandwidthToServer
	finalCfg.RTT = sm.RTT
	finalCfg.Congestion = sm.Congestion
	finalCfg.InitialCongestionWindow = sm.InitialCongestionWindow
	finalCfg.Timeout = sm.Timeout
	if err := finalCfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "client: negotiated configuration invalid")
	}

	bind, err := endpoint.BindSocket(connType, opts.Local.Port)
	if err != nil {
		return nil, errors.Wrap(err, "client: binding local UDP socket")
	}
	defer bind.Conn.Close()

	tlsConf, err := credentials.ClientTLSConfig(creds, sm.Cert, sm.Name, []string{"qcp"})
	if err != nil {
		return nil, err
	}

	remoteIP, err := resolveHostIP(opts.Host, opts.AddressFamily)
	if err != nil {
		return nil, errors.Wrap(err, "client: resolving remote host")
	}
	remoteAddr := &net.UDPAddr{IP: remoteIP, Port: int(sm.Port)}

	qconn, err := endpoint.DialClient(ctx, bind.Conn, remoteAddr, tlsConf, finalCfg, transport.ThroughputBoth)
	if err != nil {
		return nil, err
	}

	transferErr := runTransfers(ctx, qconn, opts.Transfers, opts.Compress)
	if transferErr != nil {
		_ = qconn.CloseWithError(1, "transfer failed")
	} else {
		_ = qconn.CloseWithError(1, "finished")
	}

	var closedown ctlproto.ClosedownReport
	if err := proc.Channel.Recv(&closedown); err != nil {
		if transferErr != nil {
			return nil, transferErr
		}
		return nil, errors.Wrap(err, "client: reading closedown report")
	}

	if transferErr != nil {
		return nil, transferErr
	}

	return &Result{Closedown: closedown.V1, Warning: sm.Warning, Negotiated: finalCfg}, nil
}

func addressFamilyArgs(af transport.AddressFamily) (sshFlag string, connType ctlproto.ConnectionType) {
	switch af {
	case transport.AddressFamilyV6:
		return "6", ctlproto.ConnectionTypeIPv6
	case transport.AddressFamilyV4:
		return "4", ctlproto.ConnectionTypeIPv4
	default:
		return "", ctlproto.ConnectionTypeIPv4
	}
}

func buildClientMessage(creds *credentials.Credentials, connType ctlproto.ConnectionType, opts Options) *ctlproto.ClientMessageV1 {
	m := ctlproto.NewClientMessageV1(creds.CertDER, connType, opts.Local.Tx, opts.Local.Rx)
	m.ShowConfig = opts.ShowConfig
	m.Compress = opts.Compress
	if !opts.Local.RemotePort.IsAny() {
		rp := opts.Local.RemotePort
		m.RemotePort = &rp
	}
	if opts.Local.RTT != 0 && opts.Local.RTT != transport.DefaultRTT {
		rtt := opts.Local.RTT
		m.RTT = &rtt
	}
	if opts.Local.Congestion != transport.Default().Congestion {
		cc := opts.Local.Congestion
		m.Congestion = &cc
	}
	if opts.Local.InitialCongestionWindow != 0 {
		icw := opts.Local.InitialCongestionWindow
		m.InitialCongestionWindow = &icw
	}
	if opts.Local.Timeout != 0 && opts.Local.Timeout != transport.DefaultTimeout {
		t := opts.Local.Timeout
		m.Timeout = &t
	}
	return m
}

// resolveHostIP picks one IP address for host honoring the requested
// address family preference.
func resolveHostIP(host string, af transport.AddressFamily) (net.IP, error) {
	network := "ip"
	switch af {
	case transport.AddressFamilyV4:
		network = "ip4"
	case transport.AddressFamilyV6:
		network = "ip6"
	}
	addrs, err := net.DefaultResolver.LookupIP(context.Background(), network, host)
	if err != nil {
		return nil, err
	}
	if len(addrs) == 0 {
		return nil, fmt.Errorf("client: no addresses found for host %q", host)
	}
	return addrs[0], nil
}

// runTransfers opens one QUIC stream per transfer and runs them
// concurrently, one goroutine per file. It returns the
// first error encountered, if any, after all transfers have finished. When
// compress is set, every stream is wrapped in transparent snappy
// compression to match the server's symmetric choice (see buildClientMessage's
// ClientMessageV1.Compress, which is what tells the server to do the same).
func runTransfers(ctx context.Context, qconn quic.Connection, transfers []Transfer, compress bool) error {
	var wg sync.WaitGroup
	errCh := make(chan error, len(transfers))

	for _, t := range transfers {
		t := t
		wg.Add(1)
		go func() {
			defer wg.Done()
			stream, err := qconn.OpenStreamSync(ctx)
			if err != nil {
				errCh <- errors.Wrap(err, "client: opening data stream")
				return
			}
			rwc := io.ReadWriteCloser(stream)
			if compress {
				rwc = session.NewCompStream(stream)
			}
			if t.Put {
				errCh <- session.ClientPut(rwc, t.Source, t.Dest)
			} else {
				errCh <- session.ClientGet(rwc, t.Source, t.Dest)
			}
		}()
	}

	wg.Wait()
	close(errCh)

	var first error
	for err := range errCh {
		if err != nil && first == nil {
			first = err
		}
	}
	return first
}
