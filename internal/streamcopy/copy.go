// Package streamcopy provides a memory-conscious bounded copy used for
// moving file bytes between a QUIC stream and the local filesystem.
package streamcopy

import "io"

const bufSize = 32 * 1024

// CopyN copies exactly n bytes from src to dst, the way io.CopyN does,
// but takes dst's ReaderFrom fast path (e.g. *os.File, which can use
// copy_file_range) when available instead of always routing through an
// intermediate buffer. Unlike a bare WriterTo fast path, bounding the
// source first keeps this safe to use when src has more than n bytes
// left to give.
func CopyN(dst io.Writer, src io.Reader, n int64) (written int64, err error) {
	bounded := io.LimitReader(src, n)

	if rt, ok := dst.(io.ReaderFrom); ok {
		written, err = rt.ReadFrom(bounded)
	} else {
		buf := make([]byte, bufSize)
		written, err = io.CopyBuffer(dst, bounded, buf)
	}

	if err == nil && written < n {
		err = io.EOF
	}
	return written, err
}
