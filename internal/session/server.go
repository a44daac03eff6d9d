// Package session implements the GET/PUT request protocol operated over
// each QUIC bidirectional stream, destination-path resolution, and the
// optional whole-stream compression wrapper.
package session

import (
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"

	sessionproto "github.com/qcp-project/qcp/internal/protocol/session"
	"github.com/qcp-project/qcp/internal/streamcopy"
	"github.com/qcp-project/qcp/internal/wire"
)

// maxFilenameFrame bounds Command/FileHeader filename frames; generous
// since filenames are just path strings, not file contents.
const maxFilenameFrame = 64 << 10

// ServeStream reads one Command from stream and dispatches to the GET or
// PUT handler. It always closes stream before returning. The returned byte count is how many
// file-content bytes the server sent back to the client on this stream
// (nonzero for GET, always zero for PUT, since a PUT's file bytes flow the
// other way) — it feeds the closedown report's sent-bytes counter.
func ServeStream(stream io.ReadWriteCloser) (uint64, error) {
	defer stream.Close()

	var cmd sessionproto.Command
	if err := wire.ReadMessage(stream, maxFilenameFrame, &cmd); err != nil {
		return 0, errors.Wrap(err, "session: reading command")
	}

	if cmd.IsPut {
		return 0, serverHandlePut(stream, cmd.Filename)
	}
	return serverHandleGet(stream, cmd.Filename)
}

func sendResponse(w io.Writer, resp sessionproto.Response) error {
	return wire.WriteMessage(w, resp)
}

// serverHandleGet serves one GET (open, Response, FileHeader, file bytes,
// FileTrailer), returning the number of file-content bytes written to
// stream.
func serverHandleGet(stream io.ReadWriteCloser, filename string) (uint64, error) {
	f, err := os.Open(filename)
	if err != nil {
		status, msg := statusForOpenError(err)
		return 0, sendResponse(stream, sessionproto.Failure(status, msg))
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return 0, sendResponse(stream, sessionproto.Failure(sessionproto.StatusIoError, err.Error()))
	}
	if info.IsDir() {
		return 0, sendResponse(stream, sessionproto.Failure(sessionproto.StatusItIsADirectory, "source is a directory"))
	}

	if err := sendResponse(stream, sessionproto.OK()); err != nil {
		return 0, err
	}

	header := sessionproto.NewFileHeader(uint64(info.Size()), filepath.Base(filename))
	if err := wire.WriteMessage(stream, header); err != nil {
		return 0, errors.Wrap(err, "session: writing file header")
	}

	sent, err := streamcopy.CopyN(stream, f, info.Size())
	if err != nil {
		// A transfer error just ends the stream; the counterparty sees a
		// short read and treats the file as failed.
		return uint64(sent), errors.Wrap(err, "session: copying file data")
	}

	return uint64(sent), wire.WriteMessage(stream, sessionproto.FileTrailer{})
}

// serverHandlePut serves one PUT, sending its first Response (Ok, or the
// failure from resolving the destination) concurrently with reading the
// client's FileHeader so a pipelining client is never stalled on the
// response.
func serverHandlePut(stream io.ReadWriteCloser, destPath string) error {
	resolution := ResolveDestination(destPath)
	first := sessionproto.OK()
	if resolution.Status != sessionproto.StatusOk {
		first = sessionproto.Failure(resolution.Status, resolution.Message)
	}

	var (
		header  sessionproto.FileHeader
		sendErr error
		readErr error
	)
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		sendErr = sendResponse(stream, first)
	}()
	go func() {
		defer wg.Done()
		readErr = wire.ReadMessage(stream, maxFilenameFrame, &header)
	}()
	wg.Wait()
	if resolution.Status != sessionproto.StatusOk {
		return sendErr
	}
	if sendErr != nil {
		return errors.Wrap(sendErr, "session: sending put response")
	}
	if readErr != nil {
		return errors.Wrap(readErr, "session: reading file header")
	}

	finalPath := resolution.FinalPath(header.Filename)
	file, err := os.Create(finalPath)
	if err != nil {
		status, msg := statusForOpenError(err)
		return sendResponse(stream, sessionproto.Failure(status, msg))
	}
	defer file.Close()

	// Pre-extend the destination file as a performance hint; failure here
	// is not fatal.
	_ = file.Truncate(int64(header.Size))

	if _, err := streamcopy.CopyN(file, stream, int64(header.Size)); err != nil {
		return errors.Wrap(err, "session: writing file data")
	}

	var trailer sessionproto.FileTrailer
	if err := wire.ReadMessage(stream, maxFilenameFrame, &trailer); err != nil {
		return errors.Wrap(err, "session: reading file trailer")
	}

	if err := file.Sync(); err != nil {
		return sendResponse(stream, sessionproto.Failure(sessionproto.StatusIoError, err.Error()))
	}

	return sendResponse(stream, sessionproto.OK())
}

func statusForOpenError(err error) (sessionproto.Status, string) {
	switch {
	case os.IsNotExist(err):
		return sessionproto.StatusFileNotFound, err.Error()
	case os.IsPermission(err):
		return sessionproto.StatusIncorrectPermissions, err.Error()
	default:
		return sessionproto.StatusIoError, err.Error()
	}
}
