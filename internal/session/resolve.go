package session

import (
	"os"
	"path/filepath"

	sessionproto "github.com/qcp-project/qcp/internal/protocol/session"
)

// Resolution is the outcome of resolving a PUT destination path. When
// Status is not Ok, the caller must respond with {Status, Message} and go
// no further.
type Resolution struct {
	// Path is the destination directory (if AppendFilename) or the final
	// file path (if not).
	Path           string
	AppendFilename bool
	Status         sessionproto.Status
	Message        string
}

// ResolveDestination decides where an incoming file lands:
//
//   - p empty => "."
//   - p is an existing directory => append the header's basename
//   - p is an existing regular file => use p directly (overwrite)
//   - p does not exist, parent exists and is writable => use p directly
//   - otherwise => DirectoryDoesNotExist / IncorrectPermissions
//
// Writability is tested via FS metadata permission bits, never by trial
// write.
func ResolveDestination(p string) Resolution {
	if p == "" {
		p = "."
	}

	info, err := os.Stat(p)
	if err == nil {
		if info.IsDir() {
			if !isWritable(p, info) {
				return Resolution{Status: sessionproto.StatusIncorrectPermissions, Message: "cannot write to destination"}
			}
			return Resolution{Path: p, AppendFilename: true, Status: sessionproto.StatusOk}
		}
		// Existing regular file: overwrite, after a permission check.
		if !isWritable(p, info) {
			return Resolution{Status: sessionproto.StatusIncorrectPermissions, Message: "cannot write to destination"}
		}
		return Resolution{Path: p, AppendFilename: false, Status: sessionproto.StatusOk}
	}

	q := filepath.Dir(p)
	if q == "" {
		q = "."
	}
	parentInfo, parentErr := os.Stat(q)
	if parentErr == nil && parentInfo.IsDir() {
		if !isWritable(q, parentInfo) {
			return Resolution{Status: sessionproto.StatusIncorrectPermissions, Message: "cannot write to destination"}
		}
		return Resolution{Path: p, AppendFilename: false, Status: sessionproto.StatusOk}
	}

	return Resolution{Status: sessionproto.StatusDirectoryDoesNotExist, Message: "destination directory does not exist"}
}

// FinalPath computes the concrete file path to create/overwrite, given the
// basename carried in the FileHeader when the resolution targeted a
// directory.
func (r Resolution) FinalPath(headerFilename string) string {
	if r.AppendFilename {
		return filepath.Join(r.Path, filepath.Base(headerFilename))
	}
	return r.Path
}
