//go:build unix

package sys

import (
	"errors"
	"time"

	"golang.org/x/sys/unix"
)

// LockShared takes a shared advisory lock on f, retrying while another
// process holds an exclusive lock, until timeout elapses. Handles without a
// descriptor are not locked. The returned function releases the lock.
func LockShared(f FileHandle, timeout time.Duration) (func() error, error) {
	fdh, ok := f.(interface{ Fd() uintptr })
	if !ok {
		return func() error { return nil }, nil
	}
	fd := int(fdh.Fd())
	deadline := time.Now().Add(timeout)
	for {
		err := unix.Flock(fd, unix.LOCK_SH|unix.LOCK_NB)
		if err == nil {
			return func() error { return unix.Flock(fd, unix.LOCK_UN) }, nil
		}
		if !errors.Is(err, unix.EWOULDBLOCK) || time.Now().After(deadline) {
			return nil, err
		}
		time.Sleep(25 * time.Millisecond)
	}
}
