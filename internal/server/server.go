// Package server drives the server-side task tree for a single qcp
// invocation: the control handshake over the inherited ssh pipe,
// negotiation, QUIC endpoint construction, accepting exactly one QUIC
// connection, serving one GET/PUT per accepted stream, and the closedown
// report.
package server

import (
	"context"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/quic-go/quic-go"

	"github.com/qcp-project/qcp/internal/control"
	"github.com/qcp-project/qcp/internal/credentials"
	"github.com/qcp-project/qcp/internal/endpoint"
	ctlproto "github.com/qcp-project/qcp/internal/protocol/control"
	"github.com/qcp-project/qcp/internal/session"
	"github.com/qcp-project/qcp/internal/transport"
)

// Options configures a server run; R/W are the inherited ssh pipe's
// stdin/stdout (the server always reads from what ssh calls stdin and
// writes to what ssh calls stdout).
type Options struct {
	R     io.Reader
	W     io.Writer
	Local transport.Configuration
	Debug bool
}

// Run drives one full server session: banner, greeting, negotiation, QUIC
// listener, accept loop, and closedown reporting. It runs until the client
// closes the QUIC connection or ctx is cancelled.
func Run(ctx context.Context, opts Options) error {
	if err := control.WriteBanner(opts.W); err != nil {
		return err
	}

	ch := control.NewChannel(opts.R, opts.W)
	if _, _, err := ch.ServerGreet(); err != nil {
		return err
	}

	var clientMsg ctlproto.ClientMessage
	if err := ch.Recv(&clientMsg); err != nil {
		return errors.Wrap(err, "server: reading client message")
	}
	if clientMsg.V1 == nil {
		return reportFailure(ch, ctlproto.ServerFailure{Kind: ctlproto.FailureMalformed}, fmt.Errorf("server: client sent a malformed ClientMessage"))
	}
	cm := clientMsg.V1

	negotiated, err := transport.Negotiate(opts.Local, cm)
	if err != nil {
		return reportFailure(ch, ctlproto.ServerFailure{Kind: ctlproto.FailureNegotiationFailed, Msg: err.Error()}, err)
	}
	if err := negotiated.Validate(); err != nil {
		return reportFailure(ch, ctlproto.ServerFailure{Kind: ctlproto.FailureNegotiationFailed, Msg: err.Error()}, err)
	}

	creds, err := credentials.Generate()
	if err != nil {
		return err
	}

	bind, err := endpoint.BindSocket(cm.ConnectionType, negotiated.Port)
	if err != nil {
		return reportFailure(ch, ctlproto.ServerFailure{Kind: ctlproto.FailureEndpointFailed, Msg: err.Error()}, err)
	}
	defer bind.Conn.Close()

	tlsConf, err := credentials.ServerTLSConfig(creds, cm.Cert, []string{"qcp"})
	if err != nil {
		return reportFailure(ch, ctlproto.ServerFailure{Kind: ctlproto.FailureEndpointFailed, Msg: err.Error()}, err)
	}

	listener, err := endpoint.ListenServer(bind.Conn, tlsConf, negotiated, transport.ThroughputBoth)
	if err != nil {
		return reportFailure(ch, ctlproto.ServerFailure{Kind: ctlproto.FailureEndpointFailed, Msg: err.Error()}, err)
	}
	defer listener.Close()

	port := uint16(bind.Conn.LocalAddr().(*net.UDPAddr).Port)

	serverMsg := &ctlproto.ServerMessageV1{
		Port:                    port,
		Cert:                    creds.CertDER,
		Name:                    creds.CommonName,
		BandwidthToServer:       negotiated.Rx,
		BandwidthToClient:       negotiated.EffectiveTx(),
		RTT:                     negotiated.RTT,
		Congestion:              negotiated.Congestion,
		InitialCongestionWindow: negotiated.InitialCongestionWindow,
		Timeout:                 negotiated.Timeout,
		Warning:                 bind.Warning,
	}
	if err := ch.Send(&ctlproto.ServerMessage{V1: serverMsg}); err != nil {
		return errors.Wrap(err, "server: sending server message")
	}

	acceptCtx, cancel := context.WithTimeout(ctx, time.Duration(negotiated.Timeout)*time.Second)
	qconn, err := listener.Accept(acceptCtx)
	cancel()
	if err != nil {
		return errors.Wrap(err, "server: accepting QUIC connection")
	}

	stats := serveConnection(ctx, qconn, cm.Compress)

	// quic-go exposes no public per-connection congestion telemetry (no
	// Cwnd/SentPackets/LostPackets counters on its connection API), so
	// only the byte counters this package tracks itself are populated;
	// the rest ride as zero values. See DESIGN.md.
	report := &ctlproto.ClosedownReportV1{
		SentBytes: stats.sentBytes,
	}
	if err := ch.Send(&ctlproto.ClosedownReport{V1: report}); err != nil {
		return errors.Wrap(err, "server: sending closedown report")
	}

	return nil
}

// reportFailure sends a ServerFailure to the client and then returns cause
// (the underlying Go error), or the send error if the failure message
// could not be written, so Run's caller sees the session as failed either
// way.
func reportFailure(ch *control.Channel, f ctlproto.ServerFailure, cause error) error {
	if sendErr := ch.SendFailure(f); sendErr != nil {
		return errors.Wrap(sendErr, "server: reporting failure to client")
	}
	return cause
}

type connStats struct {
	sentBytes uint64
}

// serveConnection accepts streams until the client closes the QUIC
// connection or ctx is cancelled, spawning one goroutine per stream. When compress is set (the client's ClientMessageV1.Compress
// preference), every accepted stream is wrapped in transparent snappy
// compression to match the client's symmetric choice.
func serveConnection(ctx context.Context, qconn quic.Connection, compress bool) connStats {
	var wg sync.WaitGroup
	var sentBytes atomic.Uint64
	for {
		stream, err := qconn.AcceptStream(ctx)
		if err != nil {
			break
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			var rwc io.ReadWriteCloser = stream
			if compress {
				rwc = session.NewCompStream(stream)
			}
			sent, _ := session.ServeStream(rwc)
			sentBytes.Add(sent)
		}()
	}
	wg.Wait()
	return connStats{sentBytes: sentBytes.Load()}
}
