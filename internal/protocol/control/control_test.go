package control

import (
	"bytes"
	"testing"

	"github.com/qcp-project/qcp/internal/wire"
)

func TestCompatibilityLevelOrdering(t *testing.T) {
	if FromWire(0) != LevelUnknown {
		t.Fatalf("0 should decode to Unknown")
	}
	if FromWire(1) != LevelV1 {
		t.Fatalf("1 should decode to V1")
	}
	if FromWire(12345) != LevelNewer {
		t.Fatalf("12345 should decode to Newer")
	}
	if !(LevelUnknown < LevelV1 && LevelV1 < LevelNewer) {
		t.Fatalf("expected Unknown < V1 < Newer")
	}
}

func TestCompatibilityLevelSelect(t *testing.T) {
	cases := []struct {
		a, b, want CompatibilityLevel
	}{
		{LevelV1, LevelV1, LevelV1},
		{LevelV1, LevelNewer, LevelV1},
		{LevelNewer, LevelV1, LevelV1},
	}
	for _, c := range cases {
		if got := Select(c.a, c.b); got != c.want {
			t.Fatalf("Select(%v,%v) = %v, want %v", c.a, c.b, got, c.want)
		}
	}
}

func TestConnectionTypeString(t *testing.T) {
	if ConnectionTypeIPv4.String() != "ipv4" {
		t.Fatalf("unexpected IPv4 string: %s", ConnectionTypeIPv4)
	}
	if ConnectionTypeIPv6.String() != "ipv6" {
		t.Fatalf("unexpected IPv6 string: %s", ConnectionTypeIPv6)
	}
}

func TestPortRangeCombine(t *testing.T) {
	any := PortRange{}
	x := PortRange{Begin: 100, End: 200}
	if got, _ := Combine(any, x); got != x {
		t.Fatalf("combine(any,x) = %v, want %v", got, x)
	}
	if got, _ := Combine(x, any); got != x {
		t.Fatalf("combine(x,any) = %v, want %v", got, x)
	}
	y := PortRange{Begin: 150, End: 300}
	want := PortRange{Begin: 150, End: 200}
	if got, err := Combine(x, y); err != nil || got != want {
		t.Fatalf("combine(x,y) = %v, %v, want %v", got, err, want)
	}
	disjoint := PortRange{Begin: 11111, End: 11111}
	other := PortRange{Begin: 22222, End: 22222}
	if _, err := Combine(disjoint, other); err == nil {
		t.Fatalf("expected error for disjoint ranges")
	}
}

func TestServerFailureDisplay(t *testing.T) {
	cases := []struct {
		f    ServerFailure
		want string
	}{
		{ServerFailure{Kind: FailureMalformed}, "Malformed"},
		{ServerFailure{Kind: FailureNegotiationFailed, Msg: "nope"}, "Negotiation Failed: nope"},
		{ServerFailure{Kind: FailureEndpointFailed, Msg: "bind failed"}, "Endpoint Failed: bind failed"},
		{ServerFailure{Kind: FailureUnknown, Msg: "???"}, "Unknown error: ???"},
	}
	for _, c := range cases {
		if got := c.f.Error(); got != c.want {
			t.Fatalf("Error() = %q, want %q", got, c.want)
		}
	}
}

func TestSerializeClientGreeting(t *testing.T) {
	var buf bytes.Buffer
	g := &ClientGreeting{Compatibility: uint16(LevelV1), Debug: true}
	if err := wire.WriteMessage(&buf, g); err != nil {
		t.Fatalf("WriteMessage: %v", err)
	}
	var got ClientGreeting
	if err := wire.ReadMessage(&buf, wire.DefaultMaxFrameSize, &got); err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	if got != *g {
		t.Fatalf("got %+v, want %+v", got, *g)
	}
}

func TestSerializeServerGreeting(t *testing.T) {
	var buf bytes.Buffer
	g := &ServerGreeting{Compatibility: uint16(LevelV1)}
	if err := wire.WriteMessage(&buf, g); err != nil {
		t.Fatalf("WriteMessage: %v", err)
	}
	var got ServerGreeting
	if err := wire.ReadMessage(&buf, wire.DefaultMaxFrameSize, &got); err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	if got != *g {
		t.Fatalf("got %+v, want %+v", got, *g)
	}
}

func TestConstructClientMessageNoPreferences(t *testing.T) {
	m := NewClientMessageV1([]byte("cert"), ConnectionTypeIPv4, 0, 0)
	if m.BandwidthToServer != nil || m.BandwidthToClient != nil {
		t.Fatalf("expected no bandwidth preference when tx=rx=0, got %+v", m)
	}
}

func TestSerializeClientMessageRoundTrip(t *testing.T) {
	port := PortRange{Begin: 123, End: 456}
	rtt := uint16(250)
	cc := CongestionBbr
	icw := uint64(1000)
	timeout := uint16(10)
	tx := uint64(5000)
	rx := uint64(6000)
	msg := &ClientMessage{V1: &ClientMessageV1{
		Cert:                    []byte{1, 2, 3},
		ConnectionType:          ConnectionTypeIPv6,
		RemotePort:              &port,
		ShowConfig:              true,
		Compress:                true,
		BandwidthToServer:       &tx,
		BandwidthToClient:       &rx,
		RTT:                     &rtt,
		Congestion:              &cc,
		InitialCongestionWindow: &icw,
		Timeout:                 &timeout,
	}}
	var buf bytes.Buffer
	if err := wire.WriteMessage(&buf, msg); err != nil {
		t.Fatalf("WriteMessage: %v", err)
	}
	var got ClientMessage
	if err := wire.ReadMessage(&buf, wire.DefaultMaxFrameSize, &got); err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	if got.V1 == nil {
		t.Fatalf("expected V1 variant")
	}
	if got.V1.ConnectionType != ConnectionTypeIPv6 {
		t.Fatalf("ConnectionType = %v", got.V1.ConnectionType)
	}
	if *got.V1.RemotePort != port {
		t.Fatalf("RemotePort = %v, want %v", *got.V1.RemotePort, port)
	}
	if *got.V1.BandwidthToServer != tx || *got.V1.BandwidthToClient != rx {
		t.Fatalf("bandwidth fields mismatch: %+v", got.V1)
	}
	if *got.V1.Congestion != CongestionBbr {
		t.Fatalf("Congestion = %v", *got.V1.Congestion)
	}
	if !got.V1.Compress {
		t.Fatalf("expected Compress to round-trip as true")
	}
}

func TestServerMessageProviderMerge(t *testing.T) {
	// ServerMessageV1.BandwidthToServer/BandwidthToClient are written from
	// the server's point of view; the client merges them back into its own
	// rx/tx (rx = bandwidth_to_client, tx = bandwidth_to_server).
	sm := &ServerMessage{V1: &ServerMessageV1{
		Port:              4433,
		Cert:              []byte("servercert"),
		Name:              "qcp-ephemeral",
		BandwidthToServer: 7000,
		BandwidthToClient: 8000,
		RTT:               300,
		Congestion:        CongestionCubic,
	}}
	var buf bytes.Buffer
	if err := wire.WriteMessage(&buf, sm); err != nil {
		t.Fatalf("WriteMessage: %v", err)
	}
	var got ServerMessage
	if err := wire.ReadMessage(&buf, wire.DefaultMaxFrameSize, &got); err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	if got.V1 == nil {
		t.Fatalf("expected V1 variant")
	}
	clientTx := got.V1.BandwidthToServer
	clientRx := got.V1.BandwidthToClient
	if clientTx != 7000 || clientRx != 8000 {
		t.Fatalf("merged tx/rx = %d/%d, want 7000/8000", clientTx, clientRx)
	}
}

func TestServerMessageFailureRoundTrip(t *testing.T) {
	sm := &ServerMessage{Failure: &ServerFailure{Kind: FailureNegotiationFailed, Msg: "incompatible congestion"}}
	var buf bytes.Buffer
	if err := wire.WriteMessage(&buf, sm); err != nil {
		t.Fatalf("WriteMessage: %v", err)
	}
	var got ServerMessage
	if err := wire.ReadMessage(&buf, wire.DefaultMaxFrameSize, &got); err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	if got.Failure == nil || got.Failure.Kind != FailureNegotiationFailed {
		t.Fatalf("got %+v", got)
	}
}

func TestServerMessageToFollowCannotSerialize(t *testing.T) {
	sm := &ServerMessage{ToFollow: true}
	var buf bytes.Buffer
	if err := wire.WriteMessage(&buf, sm); err == nil {
		t.Fatalf("expected error serializing ToFollow variant")
	}
}

func TestSerializeClosedownReport(t *testing.T) {
	report := &ClosedownReport{V1: &ClosedownReportV1{
		Cwnd:             131072,
		SentPackets:      1000,
		LostPackets:      3,
		LostBytes:        4096,
		CongestionEvents: 1,
		BlackHoles:       0,
		SentBytes:        10_000_000,
	}}
	var buf bytes.Buffer
	if err := wire.WriteMessage(&buf, report); err != nil {
		t.Fatalf("WriteMessage: %v", err)
	}
	var got ClosedownReport
	if err := wire.ReadMessage(&buf, wire.DefaultMaxFrameSize, &got); err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	if got.V1 == nil || *got.V1 != *report.V1 {
		t.Fatalf("got %+v, want %+v", got.V1, report.V1)
	}
}
