package session

import (
	"io"
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	sessionproto "github.com/qcp-project/qcp/internal/protocol/session"
	"github.com/qcp-project/qcp/internal/streamcopy"
	"github.com/qcp-project/qcp/internal/wire"
)

// ClientGet runs the GET side of a transfer stream: it requests
// remoteFilename and writes the result to localDestPath.
func ClientGet(stream io.ReadWriteCloser, remoteFilename, localDestPath string) error {
	defer stream.Close()

	if err := wire.WriteMessage(stream, sessionproto.NewGetCommand(remoteFilename)); err != nil {
		return errors.Wrap(err, "session: sending get command")
	}

	var resp sessionproto.Response
	if err := wire.ReadMessage(stream, maxFilenameFrame, &resp); err != nil {
		return errors.Wrap(err, "session: reading get response")
	}
	if err := resp.IntoError(); err != nil {
		return err
	}

	var header sessionproto.FileHeader
	if err := wire.ReadMessage(stream, maxFilenameFrame, &header); err != nil {
		return errors.Wrap(err, "session: reading file header")
	}

	resolution := ResolveDestination(localDestPath)
	if resolution.Status != sessionproto.StatusOk {
		return errors.New(resolution.Message)
	}
	finalPath := resolution.FinalPath(header.Filename)

	file, err := os.Create(finalPath)
	if err != nil {
		return errors.Wrap(err, "session: creating destination file")
	}
	defer file.Close()

	if _, err := streamcopy.CopyN(file, stream, int64(header.Size)); err != nil {
		return errors.Wrap(err, "session: receiving file data")
	}

	var trailer sessionproto.FileTrailer
	if err := wire.ReadMessage(stream, maxFilenameFrame, &trailer); err != nil {
		return errors.Wrap(err, "session: reading file trailer")
	}

	return file.Sync()
}

// ClientPut runs the PUT side of a transfer stream: it sends
// localSrcPath's contents to remoteDestPath, following the current wire
// ordering (Command, Header, then Response from server, then payload).
func ClientPut(stream io.ReadWriteCloser, localSrcPath, remoteDestPath string) error {
	defer stream.Close()

	file, err := os.Open(localSrcPath)
	if err != nil {
		return errors.Wrap(err, "session: opening source file")
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return errors.Wrap(err, "session: statting source file")
	}
	if info.IsDir() {
		return errors.Errorf("session: %s is a directory", localSrcPath)
	}

	if err := wire.WriteMessage(stream, sessionproto.NewPutCommand(remoteDestPath)); err != nil {
		return errors.Wrap(err, "session: sending put command")
	}
	header := sessionproto.NewFileHeader(uint64(info.Size()), filepath.Base(localSrcPath))
	if err := wire.WriteMessage(stream, header); err != nil {
		return errors.Wrap(err, "session: sending file header")
	}

	var resp sessionproto.Response
	if err := wire.ReadMessage(stream, maxFilenameFrame, &resp); err != nil {
		return errors.Wrap(err, "session: reading put response")
	}
	if err := resp.IntoError(); err != nil {
		return err
	}

	if _, err := streamcopy.CopyN(stream, file, info.Size()); err != nil {
		return errors.Wrap(err, "session: sending file data")
	}
	if err := wire.WriteMessage(stream, sessionproto.FileTrailer{}); err != nil {
		return errors.Wrap(err, "session: sending file trailer")
	}

	var final sessionproto.Response
	if err := wire.ReadMessage(stream, maxFilenameFrame, &final); err != nil {
		return errors.Wrap(err, "session: reading final put response")
	}
	return final.IntoError()
}
