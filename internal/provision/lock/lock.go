// Package lock serializes mutating operations across processes with an
// advisory flock on a well-known file. Read-only operations never take it.
package lock

import (
	"os"

	"golang.org/x/sys/unix"

	sharedErrors "github.com/arvelin/wg-provision/internal/shared/errors"
)

// FileLock is an exclusive advisory lock backed by a lock file. The lock is
// tied to the open file descriptor, so a crashed holder releases it
// automatically.
type FileLock struct {
	path string
	file *os.File
}

// New creates a lock on the given path. Nothing is acquired yet.
func New(path string) *FileLock {
	return &FileLock{path: path}
}

// Acquire takes the lock without blocking. When another process holds it,
// Acquire fails immediately with ErrLockHeld rather than queueing mutations.
func (l *FileLock) Acquire() error {
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return sharedErrors.NewSystemError(sharedErrors.ErrCodeFileOperation,
			"failed to open lock file", false, err).WithMetadata("path", l.path)
	}

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		if err == unix.EWOULDBLOCK {
			return sharedErrors.NewSystemError(sharedErrors.ErrCodeLockHeld,
				"another provisioning operation is in progress", true,
				sharedErrors.ErrLockHeld).WithMetadata("path", l.path)
		}
		return sharedErrors.NewSystemError(sharedErrors.ErrCodeFileOperation,
			"failed to acquire lock", false, err).WithMetadata("path", l.path)
	}

	l.file = f
	return nil
}

// Release drops the lock. Safe to call when nothing is held.
func (l *FileLock) Release() error {
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	if err != nil {
		return sharedErrors.NewSystemError(sharedErrors.ErrCodeFileOperation,
			"failed to release lock", false, err).WithMetadata("path", l.path)
	}
	return nil
}
