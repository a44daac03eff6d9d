//go:build !linux && !darwin

package session

import "os"

// isWritable falls back to the FS's own writable-bit check on platforms
// without a uid/gid permission model.
func isWritable(_ string, info os.FileInfo) bool {
	return info.Mode().Perm()&0o200 != 0
}
