//go:build !unix

package sys

import "time"

// LockShared is a no-op on platforms without flock.
func LockShared(f FileHandle, timeout time.Duration) (func() error, error) {
	return func() error { return nil }, nil
}
