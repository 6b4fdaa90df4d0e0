// OS-level file locking for cross-process coordination.
//
// fileLock wraps flock(2) / LockFileEx with a mutex that guards the file
// handle's lifetime. The mutex is held for the entire duration of the flock
// syscall so that Fd() cannot race with Close() on the same *os.File.
//
// Callers use setFile(nil) before closing the underlying file. This blocks
// until any in-flight flock completes, then makes subsequent Lock/Unlock
// calls no-ops. After reopening, setFile(f) restores normal operation.
//
// Manager uses a single exclusive fileLock over a LOCK file at the
// database directory's root as the single-writer-per-process guard spec
// §6 requires: Initialize fails with ErrConflict if another process
// already holds it, rather than silently running two writers against
// the same WAL and page store.
package mediadb

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// LockMode selects shared (read) or exclusive (write) locking.
type LockMode int

const (
	LockShared LockMode = iota
	LockExclusive
)

// fileLock coordinates OS-level file locks with safe handle teardown.
// The mu field serialises flock syscalls against setFile so that a
// concurrent Close cannot invalidate the fd mid-syscall.
type fileLock struct {
	mu sync.Mutex
	f  *os.File
}

// Lock acquires a shared or exclusive flock. Returns nil immediately
// if the handle has been cleared via setFile(nil).
func (l *fileLock) Lock(mode LockMode) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.f == nil {
		return nil
	}
	return l.lock(mode)
}

// Unlock releases the flock. Returns nil immediately if the handle
// has been cleared via setFile(nil).
func (l *fileLock) Unlock() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.f == nil {
		return nil
	}
	return l.unlock()
}

// setFile swaps the underlying file handle. Passing nil drains any
// in-flight flock (blocks until the mutex is available) and disables
// further locking. Used by Close before closing the fd.
func (l *fileLock) setFile(f *os.File) {
	l.mu.Lock()
	l.f = f
	l.mu.Unlock()
}

const dirLockFileName = "LOCK"

// directoryLock is an exclusive, non-blocking advisory lock over one
// database directory, acquired once by Initialize and released by Close.
type directoryLock struct {
	f    *os.File
	lock fileLock
}

// acquireDirectoryLock takes the exclusive lock for dir's database, or
// returns ErrConflict if another process already holds it.
func acquireDirectoryLock(dir string) (*directoryLock, error) {
	path := filepath.Join(dir, dirLockFileName)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("%w: open lock file: %v", ErrIo, err)
	}

	dl := &directoryLock{f: f}
	dl.lock.setFile(f)
	if err := dl.tryLock(); err != nil {
		f.Close()
		return nil, err
	}
	return dl, nil
}

// release unlocks and closes the lock file.
func (dl *directoryLock) release() error {
	err := dl.lock.Unlock()
	dl.lock.setFile(nil)
	if closeErr := dl.f.Close(); err == nil {
		err = closeErr
	}
	return err
}
