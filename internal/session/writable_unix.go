//go:build linux || darwin

package session

import (
	"os"
	"syscall"
)

// isWritable inspects FS metadata permission bits against the process's
// effective uid/gid rather than attempting a trial write.
func isWritable(path string, info os.FileInfo) bool {
	stat, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return true
	}
	mode := info.Mode().Perm()
	uid := uint32(syscall.Geteuid())
	gid := uint32(syscall.Getegid())

	switch {
	case uid == stat.Uid:
		return mode&0o200 != 0
	case gid == stat.Gid:
		return mode&0o020 != 0
	default:
		return mode&0o002 != 0
	}
}
