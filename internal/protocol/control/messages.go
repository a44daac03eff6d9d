package control

import (
	"fmt"

	"github.com/qcp-project/qcp/internal/wire"
)

// ClientGreeting is the first framed message the client sends, immediately
// after the banner exchange.
type ClientGreeting struct {
	Compatibility uint16
	Debug         bool
	Extension     uint8
}

func (g *ClientGreeting) MarshalWire(w *wire.Writer) error {
	if err := w.WriteUint16(g.Compatibility); err != nil {
		return err
	}
	if err := w.WriteBool(g.Debug); err != nil {
		return err
	}
	return w.WriteUint8(g.Extension)
}

func (g *ClientGreeting) UnmarshalWire(r *wire.Reader) error {
	var err error
	if g.Compatibility, err = r.ReadUint16(); err != nil {
		return err
	}
	if g.Debug, err = r.ReadBool(); err != nil {
		return err
	}
	g.Extension, err = r.ReadUint8()
	return err
}

// ServerGreeting is the first framed message the server sends.
type ServerGreeting struct {
	Compatibility uint16
	Extension     uint8
}

func (g *ServerGreeting) MarshalWire(w *wire.Writer) error {
	if err := w.WriteUint16(g.Compatibility); err != nil {
		return err
	}
	return w.WriteUint8(g.Extension)
}

func (g *ServerGreeting) UnmarshalWire(r *wire.Reader) error {
	var err error
	if g.Compatibility, err = r.ReadUint16(); err != nil {
		return err
	}
	g.Extension, err = r.ReadUint8()
	return err
}

// Tag values for the ClientMessage tagged union.
const (
	clientMessageTagToFollow uint8 = 0
	clientMessageTagV1       uint8 = 1
)

// ClientMessage is the tagged union the client sends after the greeting
// exchange. ToFollow never appears on the wire (it cannot be serialized);
// it exists only as the zero value before a real variant is chosen.
type ClientMessage struct {
	ToFollow bool
	V1       *ClientMessageV1
}

// ClientMessageV1 carries every client-side negotiation preference. Option
// fields use nil to mean "no client preference".
type ClientMessageV1 struct {
	Cert                     []byte
	ConnectionType           ConnectionType
	RemotePort               *PortRange
	ShowConfig               bool
	Compress                 bool
	BandwidthToServer        *uint64
	BandwidthToClient        *uint64
	RTT                      *uint16
	Congestion               *CongestionController
	InitialCongestionWindow  *uint64
	Timeout                  *uint16
	Extension                uint8
}

// NewClientMessageV1 builds a ClientMessageV1 from local bandwidth settings,
// mapping tx/rx (our point of view) onto bandwidth_to_server/
// bandwidth_to_client (the server's point of view), with 0 meaning "no
// preference".
func NewClientMessageV1(cert []byte, ct ConnectionType, tx, rx uint64) *ClientMessageV1 {
	m := &ClientMessageV1{Cert: cert, ConnectionType: ct}
	if tx != 0 {
		m.BandwidthToServer = &tx
	}
	if rx != 0 {
		m.BandwidthToClient = &rx
	}
	return m
}

func (m *ClientMessage) MarshalWire(w *wire.Writer) error {
	if m.V1 == nil {
		return fmt.Errorf("control: ClientMessage has no variant set, cannot serialize")
	}
	if err := w.WriteUint8(clientMessageTagV1); err != nil {
		return err
	}
	return m.V1.marshal(w)
}

func (m *ClientMessage) UnmarshalWire(r *wire.Reader) error {
	tag, err := r.ReadUint8()
	if err != nil {
		return err
	}
	switch tag {
	case clientMessageTagToFollow:
		m.ToFollow = true
		return nil
	case clientMessageTagV1:
		v1 := &ClientMessageV1{}
		if err := v1.unmarshal(r); err != nil {
			return err
		}
		m.V1 = v1
		return nil
	default:
		return fmt.Errorf("control: unknown ClientMessage variant tag %d", tag)
	}
}

func (m *ClientMessageV1) marshal(w *wire.Writer) error {
	if err := w.WriteBytes(m.Cert); err != nil {
		return err
	}
	if err := w.WriteUint8(uint8(m.ConnectionType)); err != nil {
		return err
	}
	if err := writeOptionalPortRange(w, m.RemotePort); err != nil {
		return err
	}
	if err := w.WriteBool(m.ShowConfig); err != nil {
		return err
	}
	if err := w.WriteBool(m.Compress); err != nil {
		return err
	}
	if err := writeOptionalUint64(w, m.BandwidthToServer); err != nil {
		return err
	}
	if err := writeOptionalUint64(w, m.BandwidthToClient); err != nil {
		return err
	}
	if err := writeOptionalUint16(w, m.RTT); err != nil {
		return err
	}
	if err := writeOptionalCongestion(w, m.Congestion); err != nil {
		return err
	}
	if err := writeOptionalUint64(w, m.InitialCongestionWindow); err != nil {
		return err
	}
	if err := writeOptionalUint16(w, m.Timeout); err != nil {
		return err
	}
	return w.WriteUint8(m.Extension)
}

func (m *ClientMessageV1) unmarshal(r *wire.Reader) error {
	var err error
	if m.Cert, err = r.ReadBytes(); err != nil {
		return err
	}
	ct, err := r.ReadUint8()
	if err != nil {
		return err
	}
	m.ConnectionType = ConnectionType(ct)
	if m.RemotePort, err = readOptionalPortRange(r); err != nil {
		return err
	}
	if m.ShowConfig, err = r.ReadBool(); err != nil {
		return err
	}
	if m.Compress, err = r.ReadBool(); err != nil {
		return err
	}
	if m.BandwidthToServer, err = readOptionalUint64(r); err != nil {
		return err
	}
	if m.BandwidthToClient, err = readOptionalUint64(r); err != nil {
		return err
	}
	if m.RTT, err = readOptionalUint16(r); err != nil {
		return err
	}
	if m.Congestion, err = readOptionalCongestion(r); err != nil {
		return err
	}
	if m.InitialCongestionWindow, err = readOptionalUint64(r); err != nil {
		return err
	}
	if m.Timeout, err = readOptionalUint16(r); err != nil {
		return err
	}
	m.Extension, err = r.ReadUint8()
	return err
}

// ServerFailure is the tagged union of negotiation/setup failures the
// server may report instead of a successful ServerMessageV1.
type ServerFailure struct {
	Kind ServerFailureKind
	Msg  string
}

type ServerFailureKind uint8

const (
	FailureMalformed ServerFailureKind = iota
	FailureNegotiationFailed
	FailureEndpointFailed
	FailureUnknown
)

// Error renders the exact diagnostic strings clients display verbatim.
func (f ServerFailure) Error() string {
	switch f.Kind {
	case FailureMalformed:
		return "Malformed"
	case FailureNegotiationFailed:
		return fmt.Sprintf("Negotiation Failed: %s", f.Msg)
	case FailureEndpointFailed:
		return fmt.Sprintf("Endpoint Failed: %s", f.Msg)
	default:
		return fmt.Sprintf("Unknown error: %s", f.Msg)
	}
}

func (f *ServerFailure) marshal(w *wire.Writer) error {
	if err := w.WriteUint8(uint8(f.Kind)); err != nil {
		return err
	}
	switch f.Kind {
	case FailureMalformed:
		return nil
	default:
		return w.WriteString(f.Msg)
	}
}

func (f *ServerFailure) unmarshal(r *wire.Reader) error {
	kind, err := r.ReadUint8()
	if err != nil {
		return err
	}
	f.Kind = ServerFailureKind(kind)
	if f.Kind == FailureMalformed {
		return nil
	}
	f.Msg, err = r.ReadString()
	return err
}

// Tag values for the ServerMessage tagged union.
const (
	serverMessageTagToFollow uint8 = 0
	serverMessageTagV1       uint8 = 1
	serverMessageTagFailure  uint8 = 2
)

// ServerMessage is the tagged union the server sends after negotiation.
type ServerMessage struct {
	ToFollow bool
	V1       *ServerMessageV1
	Failure  *ServerFailure
}

// ServerMessageV1 carries the final negotiated configuration and the
// server's ephemeral credential material.
type ServerMessageV1 struct {
	Port                    uint16
	Cert                    []byte
	Name                    string
	BandwidthToServer       uint64
	BandwidthToClient       uint64
	RTT                     uint16
	Congestion              CongestionController
	InitialCongestionWindow uint64
	Timeout                 uint16
	Warning                 string
	Extension               uint8
}

func (m *ServerMessage) MarshalWire(w *wire.Writer) error {
	switch {
	case m.Failure != nil:
		if err := w.WriteUint8(serverMessageTagFailure); err != nil {
			return err
		}
		return m.Failure.marshal(w)
	case m.V1 != nil:
		if err := w.WriteUint8(serverMessageTagV1); err != nil {
			return err
		}
		return m.V1.marshal(w)
	default:
		return fmt.Errorf("control: ServerMessage has no variant set, cannot serialize")
	}
}

func (m *ServerMessage) UnmarshalWire(r *wire.Reader) error {
	tag, err := r.ReadUint8()
	if err != nil {
		return err
	}
	switch tag {
	case serverMessageTagToFollow:
		m.ToFollow = true
		return nil
	case serverMessageTagV1:
		v1 := &ServerMessageV1{}
		if err := v1.unmarshal(r); err != nil {
			return err
		}
		m.V1 = v1
		return nil
	case serverMessageTagFailure:
		f := &ServerFailure{}
		if err := f.unmarshal(r); err != nil {
			return err
		}
		m.Failure = f
		return nil
	default:
		return fmt.Errorf("control: unknown ServerMessage variant tag %d", tag)
	}
}

func (m *ServerMessageV1) marshal(w *wire.Writer) error {
	if err := w.WriteUint16(m.Port); err != nil {
		return err
	}
	if err := w.WriteBytes(m.Cert); err != nil {
		return err
	}
	if err := w.WriteString(m.Name); err != nil {
		return err
	}
	if err := w.WriteUint64(m.BandwidthToServer); err != nil {
		return err
	}
	if err := w.WriteUint64(m.BandwidthToClient); err != nil {
		return err
	}
	if err := w.WriteUint16(m.RTT); err != nil {
		return err
	}
	if err := w.WriteUint8(uint8(m.Congestion)); err != nil {
		return err
	}
	if err := w.WriteUint64(m.InitialCongestionWindow); err != nil {
		return err
	}
	if err := w.WriteUint16(m.Timeout); err != nil {
		return err
	}
	if err := w.WriteString(m.Warning); err != nil {
		return err
	}
	return w.WriteUint8(m.Extension)
}

func (m *ServerMessageV1) unmarshal(r *wire.Reader) error {
	var err error
	if m.Port, err = r.ReadUint16(); err != nil {
		return err
	}
	if m.Cert, err = r.ReadBytes(); err != nil {
		return err
	}
	if m.Name, err = r.ReadString(); err != nil {
		return err
	}
	if m.BandwidthToServer, err = r.ReadUint64(); err != nil {
		return err
	}
	if m.BandwidthToClient, err = r.ReadUint64(); err != nil {
		return err
	}
	if m.RTT, err = r.ReadUint16(); err != nil {
		return err
	}
	cc, err := r.ReadUint8()
	if err != nil {
		return err
	}
	m.Congestion = CongestionController(cc)
	if m.InitialCongestionWindow, err = r.ReadUint64(); err != nil {
		return err
	}
	if m.Timeout, err = r.ReadUint16(); err != nil {
		return err
	}
	if m.Warning, err = r.ReadString(); err != nil {
		return err
	}
	m.Extension, err = r.ReadUint8()
	return err
}

// Tag values for the ClosedownReport tagged union.
const (
	closedownTagToFollow uint8 = 0
	closedownTagV1       uint8 = 1
)

// ClosedownReport is sent by the server on the control channel after the
// QUIC connection closes, carrying final transport statistics.
type ClosedownReport struct {
	ToFollow bool
	V1       *ClosedownReportV1
}

// ClosedownReportV1 carries the connection's final transport statistics.
type ClosedownReportV1 struct {
	Cwnd             uint64
	SentPackets      uint64
	LostPackets      uint64
	LostBytes        uint64
	CongestionEvents uint64
	BlackHoles       uint64
	SentBytes        uint64
	Extension        uint8
}

func (c *ClosedownReport) MarshalWire(w *wire.Writer) error {
	if c.V1 == nil {
		return fmt.Errorf("control: ClosedownReport has no variant set, cannot serialize")
	}
	if err := w.WriteUint8(closedownTagV1); err != nil {
		return err
	}
	return c.V1.marshal(w)
}

func (c *ClosedownReport) UnmarshalWire(r *wire.Reader) error {
	tag, err := r.ReadUint8()
	if err != nil {
		return err
	}
	switch tag {
	case closedownTagToFollow:
		c.ToFollow = true
		return nil
	case closedownTagV1:
		v1 := &ClosedownReportV1{}
		if err := v1.unmarshal(r); err != nil {
			return err
		}
		c.V1 = v1
		return nil
	default:
		return fmt.Errorf("control: unknown ClosedownReport variant tag %d", tag)
	}
}

func (c *ClosedownReportV1) marshal(w *wire.Writer) error {
	for _, v := range []uint64{c.Cwnd, c.SentPackets, c.LostPackets, c.LostBytes, c.CongestionEvents, c.BlackHoles, c.SentBytes} {
		if err := w.WriteUint64(v); err != nil {
			return err
		}
	}
	return w.WriteUint8(c.Extension)
}

func (c *ClosedownReportV1) unmarshal(r *wire.Reader) error {
	fields := []*uint64{&c.Cwnd, &c.SentPackets, &c.LostPackets, &c.LostBytes, &c.CongestionEvents, &c.BlackHoles, &c.SentBytes}
	for _, f := range fields {
		v, err := r.ReadUint64()
		if err != nil {
			return err
		}
		*f = v
	}
	var err error
	c.Extension, err = r.ReadUint8()
	return err
}

// --- Option<T> helpers -------------------------------------------------

func writeOptionalUint64(w *wire.Writer, v *uint64) error {
	if err := w.WriteOptionPresent(v != nil); err != nil {
		return err
	}
	if v != nil {
		return w.WriteUint64(*v)
	}
	return nil
}

func readOptionalUint64(r *wire.Reader) (*uint64, error) {
	present, err := r.ReadOptionPresent()
	if err != nil || !present {
		return nil, err
	}
	v, err := r.ReadUint64()
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func writeOptionalUint16(w *wire.Writer, v *uint16) error {
	if err := w.WriteOptionPresent(v != nil); err != nil {
		return err
	}
	if v != nil {
		return w.WriteUint16(*v)
	}
	return nil
}

func readOptionalUint16(r *wire.Reader) (*uint16, error) {
	present, err := r.ReadOptionPresent()
	if err != nil || !present {
		return nil, err
	}
	v, err := r.ReadUint16()
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func writeOptionalCongestion(w *wire.Writer, v *CongestionController) error {
	if err := w.WriteOptionPresent(v != nil); err != nil {
		return err
	}
	if v != nil {
		return w.WriteUint8(uint8(*v))
	}
	return nil
}

func readOptionalCongestion(r *wire.Reader) (*CongestionController, error) {
	present, err := r.ReadOptionPresent()
	if err != nil || !present {
		return nil, err
	}
	v, err := r.ReadUint8()
	if err != nil {
		return nil, err
	}
	cc := CongestionController(v)
	return &cc, nil
}

func writeOptionalPortRange(w *wire.Writer, v *PortRange) error {
	if err := w.WriteOptionPresent(v != nil); err != nil {
		return err
	}
	if v != nil {
		if err := w.WriteUint16(v.Begin); err != nil {
			return err
		}
		return w.WriteUint16(v.End)
	}
	return nil
}

func readOptionalPortRange(r *wire.Reader) (*PortRange, error) {
	present, err := r.ReadOptionPresent()
	if err != nil || !present {
		return nil, err
	}
	begin, err := r.ReadUint16()
	if err != nil {
		return nil, err
	}
	end, err := r.ReadUint16()
	if err != nil {
		return nil, err
	}
	return &PortRange{Begin: begin, End: end}, nil
}
