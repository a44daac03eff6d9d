package client

import (
	"testing"

	"github.com/qcp-project/qcp/internal/credentials"
	ctlproto "github.com/qcp-project/qcp/internal/protocol/control"
	"github.com/qcp-project/qcp/internal/transport"
)

func testCredentials(t *testing.T) *credentials.Credentials {
	t.Helper()
	creds, err := credentials.Generate()
	if err != nil {
		t.Fatalf("credentials.Generate: %v", err)
	}
	return creds
}

func TestAddressFamilyArgs(t *testing.T) {
	cases := []struct {
		in       transport.AddressFamily
		wantFlag string
		wantType ctlproto.ConnectionType
	}{
		{transport.AddressFamilyAny, "", ctlproto.ConnectionTypeIPv4},
		{transport.AddressFamilyV4, "4", ctlproto.ConnectionTypeIPv4},
		{transport.AddressFamilyV6, "6", ctlproto.ConnectionTypeIPv6},
	}
	for _, c := range cases {
		flag, ct := addressFamilyArgs(c.in)
		if flag != c.wantFlag || ct != c.wantType {
			t.Fatalf("addressFamilyArgs(%v) = (%q, %v), want (%q, %v)", c.in, flag, ct, c.wantFlag, c.wantType)
		}
	}
}

func TestBuildClientMessageOmitsDefaults(t *testing.T) {
	creds := testCredentials(t)
	opts := Options{Local: transport.Default()}

	m := buildClientMessage(creds, ctlproto.ConnectionTypeIPv4, opts)

	if m.RTT != nil {
		t.Fatalf("expected no RTT preference for default configuration, got %v", *m.RTT)
	}
	if m.Congestion != nil {
		t.Fatalf("expected no congestion preference for default configuration, got %v", *m.Congestion)
	}
	if m.Timeout != nil {
		t.Fatalf("expected no timeout preference for default configuration, got %v", *m.Timeout)
	}
	if m.RemotePort != nil {
		t.Fatalf("expected no remote port preference for default configuration")
	}
}

func TestBuildClientMessageCarriesCompress(t *testing.T) {
	creds := testCredentials(t)
	opts := Options{Local: transport.Default(), Compress: true}

	m := buildClientMessage(creds, ctlproto.ConnectionTypeIPv4, opts)

	if !m.Compress {
		t.Fatalf("expected Compress to be carried through to the client message")
	}
}

func TestBuildClientMessageCarriesOverrides(t *testing.T) {
	creds := testCredentials(t)
	local := transport.Default()
	local.RTT = 500
	local.RemotePort = ctlproto.PortRange{Begin: 60000, End: 60100}
	opts := Options{Local: local}

	m := buildClientMessage(creds, ctlproto.ConnectionTypeIPv4, opts)

	if m.RTT == nil || *m.RTT != 500 {
		t.Fatalf("expected RTT override to be carried, got %+v", m.RTT)
	}
	if m.RemotePort == nil || *m.RemotePort != local.RemotePort {
		t.Fatalf("expected remote port preference to be carried, got %+v", m.RemotePort)
	}
}
