//go:build !unix

package export

import "os"

// createNoFollow is plain create where O_NOFOLLOW is unavailable.
func createNoFollow(path string) (*os.File, error) {
	return os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
}
