// Package session defines the wire message types exchanged on each QUIC
// bidirectional stream: Command, Response, FileHeader and FileTrailer. See
// internal/session for the GET/PUT handlers that drive these messages.
package session

import (
	"fmt"

	"github.com/qcp-project/qcp/internal/wire"
)

// Status is the outcome reported in a Response. New values may appear in
// later protocol revisions; receivers must tolerate unknown values.
type Status uint64

const (
	StatusOk                    Status = 0
	StatusFileNotFound          Status = 1
	StatusIncorrectPermissions  Status = 2
	StatusDirectoryDoesNotExist Status = 3
	StatusIoError               Status = 4
	StatusDiskFull              Status = 5
	StatusNotYetImplemented     Status = 6
	StatusItIsADirectory        Status = 7
)

// String renders known statuses by name and falls back to "Unknown status
// code N" for anything this build doesn't recognise.
func (s Status) String() string {
	switch s {
	case StatusOk:
		return "Ok"
	case StatusFileNotFound:
		return "FileNotFound"
	case StatusIncorrectPermissions:
		return "IncorrectPermissions"
	case StatusDirectoryDoesNotExist:
		return "DirectoryDoesNotExist"
	case StatusIoError:
		return "IoError"
	case StatusDiskFull:
		return "DiskFull"
	case StatusNotYetImplemented:
		return "NotYetImplemented"
	case StatusItIsADirectory:
		return "ItIsADirectory"
	default:
		return fmt.Sprintf("Unknown status code %d", uint64(s))
	}
}

// Command tag values.
const (
	commandTagGet uint8 = 0
	commandTagPut uint8 = 1
)

// Command is the tagged union a client sends to open a transfer: Get or Put
// of filename.
type Command struct {
	IsPut    bool
	Filename string
}

// NewGetCommand builds a Get command.
func NewGetCommand(filename string) Command { return Command{IsPut: false, Filename: filename} }

// NewPutCommand builds a Put command.
func NewPutCommand(filename string) Command { return Command{IsPut: true, Filename: filename} }

func (c Command) MarshalWire(w *wire.Writer) error {
	tag := commandTagGet
	if c.IsPut {
		tag = commandTagPut
	}
	if err := w.WriteUint8(tag); err != nil {
		return err
	}
	return w.WriteString(c.Filename)
}

func (c *Command) UnmarshalWire(r *wire.Reader) error {
	tag, err := r.ReadUint8()
	if err != nil {
		return err
	}
	switch tag {
	case commandTagGet:
		c.IsPut = false
	case commandTagPut:
		c.IsPut = true
	default:
		return fmt.Errorf("session: unknown Command variant tag %d", tag)
	}
	c.Filename, err = r.ReadString()
	return err
}

// Response tag (only V1 currently exists).
const responseTagV1 uint8 = 0

// Response is the tagged union a server sends reporting a Command's
// outcome.
type Response struct {
	Status  Status
	Message *string
}

// OK is a convenience constructor for the success response.
func OK() Response { return Response{Status: StatusOk} }

// Failure builds a non-OK response carrying a human-readable message.
func Failure(status Status, message string) Response {
	return Response{Status: status, Message: &message}
}

// IntoError returns nil when the response is Ok, else an error rendering
// the status and optional message.
func (r Response) IntoError() error {
	if r.Status == StatusOk {
		return nil
	}
	if r.Message != nil {
		return fmt.Errorf("%s: %s", r.Status, *r.Message)
	}
	return fmt.Errorf("%s", r.Status)
}

func (r Response) String() string {
	if r.Message != nil {
		return fmt.Sprintf("%s with message %s", r.Status, *r.Message)
	}
	return r.Status.String()
}

func (r Response) MarshalWire(w *wire.Writer) error {
	if err := w.WriteUint8(responseTagV1); err != nil {
		return err
	}
	if err := w.WriteUint64(uint64(r.Status)); err != nil {
		return err
	}
	if err := w.WriteOptionPresent(r.Message != nil); err != nil {
		return err
	}
	if r.Message != nil {
		return w.WriteString(*r.Message)
	}
	return nil
}

func (r *Response) UnmarshalWire(rd *wire.Reader) error {
	tag, err := rd.ReadUint8()
	if err != nil {
		return err
	}
	if tag != responseTagV1 {
		return fmt.Errorf("session: unknown Response variant tag %d", tag)
	}
	status, err := rd.ReadUint64()
	if err != nil {
		return err
	}
	r.Status = Status(status)
	present, err := rd.ReadOptionPresent()
	if err != nil {
		return err
	}
	if present {
		msg, err := rd.ReadString()
		if err != nil {
			return err
		}
		r.Message = &msg
	} else {
		r.Message = nil
	}
	return nil
}

// FileHeader tag (only V1 currently exists).
const fileHeaderTagV1 uint8 = 0

// FileHeader precedes the raw file bytes on a stream.
type FileHeader struct {
	Size     uint64
	Filename string
}

// NewFileHeader builds the V1 header preceding a file's bytes.
func NewFileHeader(size uint64, filename string) FileHeader {
	return FileHeader{Size: size, Filename: filename}
}

func (h FileHeader) MarshalWire(w *wire.Writer) error {
	if err := w.WriteUint8(fileHeaderTagV1); err != nil {
		return err
	}
	if err := w.WriteUint64(h.Size); err != nil {
		return err
	}
	return w.WriteString(h.Filename)
}

func (h *FileHeader) UnmarshalWire(r *wire.Reader) error {
	tag, err := r.ReadUint8()
	if err != nil {
		return err
	}
	if tag != fileHeaderTagV1 {
		return fmt.Errorf("session: unknown FileHeader variant tag %d", tag)
	}
	if h.Size, err = r.ReadUint64(); err != nil {
		return err
	}
	h.Filename, err = r.ReadString()
	return err
}

// FileTrailer tag (only V1 currently exists, with no fields — reserved for
// a future checksum).
const fileTrailerTagV1 uint8 = 0

// FileTrailer closes a file transfer.
type FileTrailer struct{}

func (FileTrailer) MarshalWire(w *wire.Writer) error {
	return w.WriteUint8(fileTrailerTagV1)
}

func (*FileTrailer) UnmarshalWire(r *wire.Reader) error {
	tag, err := r.ReadUint8()
	if err != nil {
		return err
	}
	if tag != fileTrailerTagV1 {
		return fmt.Errorf("session: unknown FileTrailer variant tag %d", tag)
	}
	return nil
}
