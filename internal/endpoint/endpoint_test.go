package endpoint

import (
	"context"
	"fmt"
	"io"
	"net"
	"testing"
	"time"

	"github.com/qcp-project/qcp/internal/credentials"
	"github.com/qcp-project/qcp/internal/protocol/control"
	"github.com/qcp-project/qcp/internal/transport"
)

func TestBindSocketAny(t *testing.T) {
	res, err := BindSocket(control.ConnectionTypeIPv4, control.PortRange{})
	if err != nil {
		t.Fatalf("BindSocket: %v", err)
	}
	defer res.Conn.Close()
	if res.Conn.LocalAddr() == nil {
		t.Fatalf("expected a bound local address")
	}
}

func TestBuildQUICConfigWindowSizing(t *testing.T) {
	cfg := transport.Default()
	cfg.Rx = 1_000_000
	cfg.Tx = 500_000
	cfg.RTT = 200

	qcfg, err := BuildQUICConfig(cfg, transport.ThroughputBoth)
	if err != nil {
		t.Fatalf("BuildQUICConfig: %v", err)
	}
	if qcfg.MaxIncomingStreams != 1 {
		t.Fatalf("MaxIncomingStreams = %d, want 1", qcfg.MaxIncomingStreams)
	}
	if qcfg.MaxIncomingUniStreams >= 0 {
		t.Fatalf("MaxIncomingUniStreams = %d, want negative (no uni streams)", qcfg.MaxIncomingUniStreams)
	}
	if qcfg.KeepAlivePeriod != keepAliveInterval {
		t.Fatalf("KeepAlivePeriod = %v, want %v", qcfg.KeepAlivePeriod, keepAliveInterval)
	}
	if qcfg.InitialStreamReceiveWindow == 0 {
		t.Fatalf("expected a non-zero receive window")
	}
}

// TestClientServerHandshake exercises the full endpoint construction path
// end to end over loopback: two self-signed identities trusting only each
// other, a QUIC listener and a dialer, and five bytes written by the client
// and read by the server over the resulting stream.
func TestClientServerHandshake(t *testing.T) {
	serverCreds, err := credentials.Generate()
	if err != nil {
		t.Fatalf("server credentials: %v", err)
	}
	clientCreds, err := credentials.Generate()
	if err != nil {
		t.Fatalf("client credentials: %v", err)
	}

	serverBind, err := BindSocket(control.ConnectionTypeIPv4, control.PortRange{})
	if err != nil {
		t.Fatalf("server BindSocket: %v", err)
	}
	defer serverBind.Conn.Close()

	cfg := transport.Default()
	cfg.Rx = 1_000_000
	cfg.Tx = 1_000_000

	serverTLS, err := credentials.ServerTLSConfig(serverCreds, clientCreds.CertDER, []string{"qcp/1"})
	if err != nil {
		t.Fatalf("ServerTLSConfig: %v", err)
	}
	listener, err := ListenServer(serverBind.Conn, serverTLS, cfg, transport.ThroughputBoth)
	if err != nil {
		t.Fatalf("ListenServer: %v", err)
	}
	defer listener.Close()

	serverAddr := listener.Addr()

	clientBind, err := BindSocket(control.ConnectionTypeIPv4, control.PortRange{})
	if err != nil {
		t.Fatalf("client BindSocket: %v", err)
	}
	defer clientBind.Conn.Close()

	clientTLS, err := credentials.ClientTLSConfig(clientCreds, serverCreds.CertDER, serverCreds.CommonName, []string{"qcp/1"})
	if err != nil {
		t.Fatalf("ClientTLSConfig: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	serverDone := make(chan error, 1)
	go func() {
		conn, err := listener.Accept(ctx)
		if err != nil {
			serverDone <- err
			return
		}
		stream, err := conn.AcceptStream(ctx)
		if err != nil {
			serverDone <- err
			return
		}
		buf := make([]byte, 5)
		if _, err := io.ReadFull(stream, buf); err != nil {
			serverDone <- err
			return
		}
		if string(buf) != "hello" {
			serverDone <- fmt.Errorf("got %q, want hello", string(buf))
			return
		}
		serverDone <- nil
	}()

	resolved, err := net.ResolveUDPAddr("udp4", serverAddr.String())
	if err != nil {
		t.Fatalf("resolving server addr: %v", err)
	}

	qconn, err := DialClient(ctx, clientBind.Conn, resolved, clientTLS, cfg, transport.ThroughputBoth)
	if err != nil {
		t.Fatalf("DialClient: %v", err)
	}
	defer qconn.CloseWithError(0, "test done")

	stream, err := qconn.OpenStreamSync(ctx)
	if err != nil {
		t.Fatalf("OpenStreamSync: %v", err)
	}
	if _, err := stream.Write([]byte("hello")); err != nil {
		t.Fatalf("stream write: %v", err)
	}

	select {
	case err := <-serverDone:
		if err != nil {
			t.Fatalf("server side: %v", err)
		}
	case <-ctx.Done():
		t.Fatalf("timed out waiting for server")
	}
}
