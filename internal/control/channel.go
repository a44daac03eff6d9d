// Package control drives the control protocol state machine over the two
// unidirectional byte streams layered on the ssh pipe: banner
// exchange, compatibility-level greeting, and the ClientMessage/
// ServerMessage exchange. See internal/protocol/control for the wire
// message types themselves.
package control

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/pkg/errors"

	ctlproto "github.com/qcp-project/qcp/internal/protocol/control"
	"github.com/qcp-project/qcp/internal/wire"
)

// Banner is the fixed string the server writes to stdout immediately at
// startup, before reading anything from the client.
const Banner = "qcp-server-2\n"

// OldBanner identifies a pre-QUIC-transport server version, detected so the
// client can give a clear upgrade message instead of a decode error.
const OldBanner = "qcp-server-1\n"

// bannerReadTimeout bounds only the bytes *after* the first one: ssh may
// prompt for a password or passphrase on the user's tty before any banner
// byte arrives, so there is deliberately no deadline on that first byte.
const bannerReadTimeout = 1 * time.Second

// WriteBanner writes the current banner and flushes (the caller's writer is
// expected to be unbuffered or flushed by the transport itself, matching
// ssh's stdio pipe semantics).
func WriteBanner(w io.Writer) error {
	_, err := io.WriteString(w, Banner)
	return errors.Wrap(err, "control: writing banner")
}

// ReadBanner implements the banner timing rule: no timeout until the
// first byte arrives, then a hard 1-second bound on the rest.
func ReadBanner(r io.Reader) error {
	first := make([]byte, 1)
	n, err := io.ReadFull(r, first)
	if err != nil {
		return errors.Wrap(err, "failed to connect control channel")
	}
	if n != 1 {
		return fmt.Errorf("control channel closed unexpectedly")
	}

	rest := make([]byte, len(Banner)-1)
	type readResult struct {
		n   int
		err error
	}
	done := make(chan readResult, 1)
	go func() {
		n, err := io.ReadFull(r, rest)
		done <- readResult{n, err}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			return errors.Wrap(res.err, "error reading control channel")
		}
	case <-time.After(bannerReadTimeout):
		return fmt.Errorf("timed out reading server banner")
	}

	full := string(first) + string(rest)
	switch full {
	case Banner:
		return nil
	case OldBanner:
		return fmt.Errorf("unsupported protocol version (upgrade server to qcp 0.3.0 or later)")
	default:
		trimmed := strings.TrimSuffix(full, "\n")
		return fmt.Errorf("unsupported protocol version (unrecognised server banner `%s'; may be too new for me?)", trimmed)
	}
}

// Channel wraps the two unidirectional byte streams making up the control
// connection and the compatibility level selected during the greeting.
type Channel struct {
	R      io.Reader
	W      io.Writer
	Compat ctlproto.CompatibilityLevel
}

// NewChannel wraps r/w as a control Channel.
func NewChannel(r io.Reader, w io.Writer) *Channel {
	return &Channel{R: r, W: w}
}

// Send frames and writes one message.
func (c *Channel) Send(m wire.Marshaler) error {
	return wire.WriteMessage(c.W, m)
}

// Recv reads and decodes one framed message.
func (c *Channel) Recv(m wire.Unmarshaler) error {
	return wire.ReadMessage(c.R, wire.DefaultMaxFrameSize, m)
}

// SendFailure wraps and sends a ServerMessage::Failure.
func (c *Channel) SendFailure(f ctlproto.ServerFailure) error {
	return c.Send(&ctlproto.ServerMessage{Failure: &f})
}

// MinimumSupportedLevel is the lowest compatibility level this build will
// negotiate to; selecting anything lower is a fatal mismatch.
const MinimumSupportedLevel = ctlproto.LevelV1

// OurLevel is the highest compatibility level this build advertises.
const OurLevel = uint16(ctlproto.LevelV1)

// ClientGreet sends the client's greeting and reads the server's,
// selecting and recording the negotiated compatibility level.
func (c *Channel) ClientGreet(debug bool) (ctlproto.CompatibilityLevel, error) {
	if err := c.Send(&ctlproto.ClientGreeting{Compatibility: OurLevel, Debug: debug}); err != nil {
		return 0, errors.Wrap(err, "control: sending client greeting")
	}
	var serverGreeting ctlproto.ServerGreeting
	if err := c.Recv(&serverGreeting); err != nil {
		return 0, errors.Wrap(err, "control: reading server greeting")
	}
	selected := ctlproto.Select(ctlproto.FromWire(OurLevel), ctlproto.FromWire(serverGreeting.Compatibility))
	if selected < MinimumSupportedLevel {
		return 0, fmt.Errorf("control: server's compatibility level %d is not supported", serverGreeting.Compatibility)
	}
	c.Compat = selected
	return selected, nil
}

// ServerGreet sends the server's greeting concurrently with reading the
// client's (neither side blocks on the other during this step), then
// selects the negotiated level.
func (c *Channel) ServerGreet() (level ctlproto.CompatibilityLevel, clientDebug bool, err error) {
	sent := make(chan error, 1)
	go func() {
		sent <- c.Send(&ctlproto.ServerGreeting{Compatibility: OurLevel})
	}()
	var clientGreeting ctlproto.ClientGreeting
	if err := c.Recv(&clientGreeting); err != nil {
		return 0, false, errors.Wrap(err, "control: reading client greeting")
	}
	if err := <-sent; err != nil {
		return 0, false, errors.Wrap(err, "control: sending server greeting")
	}
	selected := ctlproto.Select(ctlproto.FromWire(OurLevel), ctlproto.FromWire(clientGreeting.Compatibility))
	if selected < MinimumSupportedLevel {
		return 0, false, fmt.Errorf("control: client's compatibility level %d is not supported", clientGreeting.Compatibility)
	}
	c.Compat = selected
	return selected, clientGreeting.Debug, nil
}
