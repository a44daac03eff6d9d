package session

import (
	"io"

	"github.com/golang/snappy"
	"github.com/pkg/errors"
)

// CompStream wraps a QUIC stream in transparent snappy compression.
// Because it sits below the Command/Response/Header/data framing, the
// FileHeader.Size "exactly N bytes" invariant still refers to logical
// (uncompressed) bytes on both sides; compression is invisible to the
// framing layer above it. Off by default.
type CompStream struct {
	stream io.ReadWriteCloser
	w      *snappy.Writer
	r      *snappy.Reader
}

// NewCompStream wraps stream with a snappy writer/reader pair.
func NewCompStream(stream io.ReadWriteCloser) *CompStream {
	return &CompStream{
		stream: stream,
		w:      snappy.NewBufferedWriter(stream),
		r:      snappy.NewReader(stream),
	}
}

func (c *CompStream) Read(p []byte) (int, error) {
	return c.r.Read(p)
}

func (c *CompStream) Write(p []byte) (int, error) {
	if _, err := c.w.Write(p); err != nil {
		return 0, errors.WithStack(err)
	}
	if err := c.w.Flush(); err != nil {
		return 0, errors.WithStack(err)
	}
	return len(p), nil
}

func (c *CompStream) Close() error {
	return c.stream.Close()
}
