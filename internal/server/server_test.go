package server

import (
	"context"
	"io"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/qcp-project/qcp/internal/control"
	"github.com/qcp-project/qcp/internal/credentials"
	"github.com/qcp-project/qcp/internal/endpoint"
	ctlproto "github.com/qcp-project/qcp/internal/protocol/control"
	sessionproto "github.com/qcp-project/qcp/internal/protocol/session"
	"github.com/qcp-project/qcp/internal/transport"
	"github.com/qcp-project/qcp/internal/wire"
)

// newControlPipes wires two io.Pipe pairs into a full-duplex connection
// standing in for the ssh subprocess's stdin/stdout, one end per side.
func newControlPipes() (clientR io.Reader, clientW io.Writer, serverR io.Reader, serverW io.Writer) {
	serverToClient, writeToClient := io.Pipe()
	clientToServer, writeToServer := io.Pipe()
	return serverToClient, writeToServer, clientToServer, writeToClient
}

func TestServerNegotiationFailureReportsToClient(t *testing.T) {
	clientR, clientW, serverR, serverW := newControlPipes()

	serverLocal := transport.Default()
	serverLocal.Congestion = ctlproto.CongestionCubic

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- Run(context.Background(), Options{R: serverR, W: serverW, Local: serverLocal})
	}()

	if err := control.ReadBanner(clientR); err != nil {
		t.Fatalf("ReadBanner: %v", err)
	}

	ch := control.NewChannel(clientR, clientW)
	if _, err := ch.ClientGreet(false); err != nil {
		t.Fatalf("ClientGreet: %v", err)
	}

	mismatched := ctlproto.CongestionBbr
	v1 := ctlproto.NewClientMessageV1([]byte("not-a-real-cert"), ctlproto.ConnectionTypeIPv4, 0, 0)
	v1.Congestion = &mismatched
	if err := ch.Send(&ctlproto.ClientMessage{V1: v1}); err != nil {
		t.Fatalf("sending client message: %v", err)
	}

	var serverMsg ctlproto.ServerMessage
	if err := ch.Recv(&serverMsg); err != nil {
		t.Fatalf("reading server message: %v", err)
	}
	if serverMsg.Failure == nil {
		t.Fatalf("expected a ServerMessage::Failure for mismatched congestion controller, got %+v", serverMsg)
	}

	select {
	case err := <-serverErr:
		if err == nil {
			t.Fatalf("expected Run to report the failure it sent, got nil")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for server Run to return")
	}
}

// TestClientServerEndToEnd drives a full session by hand: the control
// handshake over in-process pipes (standing in for the ssh pipe) followed
// by a real QUIC dial/accept over loopback UDP, then one GET transfer
// through internal/session, exercising the same code server.Run uses
// internally.
func TestClientServerEndToEnd(t *testing.T) {
	srcDir := t.TempDir()
	srcFile := filepath.Join(srcDir, "payload")
	if err := os.WriteFile(srcFile, []byte("end to end content"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	dstDir := t.TempDir()
	dstFile := filepath.Join(dstDir, "payload")

	clientR, clientW, serverR, serverW := newControlPipes()

	serverLocal := transport.Default()
	serverLocal.Rx = 10_000_000
	serverLocal.Tx = 10_000_000

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- Run(context.Background(), Options{R: serverR, W: serverW, Local: serverLocal})
	}()

	if err := control.ReadBanner(clientR); err != nil {
		t.Fatalf("ReadBanner: %v", err)
	}

	ch := control.NewChannel(clientR, clientW)
	if _, err := ch.ClientGreet(false); err != nil {
		t.Fatalf("ClientGreet: %v", err)
	}

	clientCreds, err := credentials.Generate()
	if err != nil {
		t.Fatalf("credentials.Generate: %v", err)
	}

	clientMsgV1 := ctlproto.NewClientMessageV1(clientCreds.CertDER, ctlproto.ConnectionTypeIPv4, 0, 0)
	if err := ch.Send(&ctlproto.ClientMessage{V1: clientMsgV1}); err != nil {
		t.Fatalf("sending client message: %v", err)
	}

	var serverMsg ctlproto.ServerMessage
	if err := ch.Recv(&serverMsg); err != nil {
		t.Fatalf("reading server message: %v", err)
	}
	if serverMsg.Failure != nil {
		t.Fatalf("server reported failure: %v", serverMsg.Failure)
	}
	if serverMsg.V1 == nil {
		t.Fatalf("expected a ServerMessageV1")
	}
	sm := serverMsg.V1

	clientBind, err := endpoint.BindSocket(ctlproto.ConnectionTypeIPv4, ctlproto.PortRange{})
	if err != nil {
		t.Fatalf("BindSocket: %v", err)
	}
	defer clientBind.Conn.Close()

	clientTLS, err := credentials.ClientTLSConfig(clientCreds, sm.Cert, sm.Name, []string{"qcp"})
	if err != nil {
		t.Fatalf("ClientTLSConfig: %v", err)
	}

	cfg := transport.Default()
	cfg.Rx = sm.BandwidthToClient
	cfg.Tx = sm.BandwidthToServer
	cfg.RTT = sm.RTT

	remoteAddr := &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: int(sm.Port)}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	qconn, err := endpoint.DialClient(ctx, clientBind.Conn, remoteAddr, clientTLS, cfg, transport.ThroughputBoth)
	if err != nil {
		t.Fatalf("DialClient: %v", err)
	}

	stream, err := qconn.OpenStreamSync(ctx)
	if err != nil {
		t.Fatalf("OpenStreamSync: %v", err)
	}

	if err := wire.WriteMessage(stream, sessionproto.NewGetCommand(srcFile)); err != nil {
		t.Fatalf("sending get command: %v", err)
	}
	var resp sessionproto.Response
	if err := wire.ReadMessage(stream, wire.DefaultMaxFrameSize, &resp); err != nil {
		t.Fatalf("reading get response: %v", err)
	}
	if err := resp.IntoError(); err != nil {
		t.Fatalf("get response was a failure: %v", err)
	}
	var header sessionproto.FileHeader
	if err := wire.ReadMessage(stream, wire.DefaultMaxFrameSize, &header); err != nil {
		t.Fatalf("reading file header: %v", err)
	}
	body := make([]byte, header.Size)
	if _, err := io.ReadFull(stream, body); err != nil {
		t.Fatalf("reading file body: %v", err)
	}
	var trailer sessionproto.FileTrailer
	if err := wire.ReadMessage(stream, wire.DefaultMaxFrameSize, &trailer); err != nil {
		t.Fatalf("reading file trailer: %v", err)
	}
	if err := os.WriteFile(dstFile, body, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	stream.Close()

	if err := qconn.CloseWithError(0, "done"); err != nil {
		t.Logf("CloseWithError: %v", err)
	}

	var closedown ctlproto.ClosedownReport
	if err := ch.Recv(&closedown); err != nil {
		t.Fatalf("reading closedown report: %v", err)
	}
	if closedown.V1 == nil {
		t.Fatalf("expected a ClosedownReportV1")
	}

	if err := <-serverErr; err != nil {
		t.Fatalf("server Run: %v", err)
	}

	got, err := os.ReadFile(dstFile)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(got) != "end to end content" {
		t.Fatalf("got %q", got)
	}
}
