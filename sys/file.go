// Package sys wraps the few file-system calls the store makes so tests can
// substitute them.
package sys

import (
	"io"
	"os"
	"time"
)

// FileHandle is the read-only view of an open store file.
type FileHandle interface {
	io.ReadCloser
	io.ReaderAt
	io.Seeker

	Stat() (os.FileInfo, error)
	Name() string
}

// OpenHandler opens a file for reading.
type OpenHandler func(name string) (FileHandle, error)

// StatHandler returns file information without opening the file.
type StatHandler func(name string) (os.FileInfo, error)

// Open opens store files. Tests replace it to inject faults and restore it
// with the returned value of SetOpen.
var Open OpenHandler = ROpen

// Stat stats store files.
var Stat StatHandler = os.Stat

// SetOpen installs h as the package Open handler and returns a function
// restoring the previous one.
func SetOpen(h OpenHandler) (restore func()) {
	prev := Open
	Open = h
	return func() { Open = prev }
}

// DefaultLockTimeout bounds how long LockShared waits for a conflicting
// exclusive lock to go away.
const DefaultLockTimeout = 2 * time.Second
