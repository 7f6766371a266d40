//go:build unix

package export

import (
	"os"

	"golang.org/x/sys/unix"
)

// createNoFollow creates or truncates path for writing without following a
// symlink in the final path component.
func createNoFollow(path string) (*os.File, error) {
	return os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC|unix.O_NOFOLLOW, 0o600)
}
