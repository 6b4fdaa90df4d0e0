// Package mediadb is a zero-copy embedded media-metadata store.
//
// It indexes MediaFile records supplied by a caller (a directory walker, a
// tag extractor, a UPnP server — none of which live in this package) and
// keeps them durably in a binary record format behind a write-ahead log,
// a page store, and a set of in-memory secondary indices. The public
// surface is Manager.
package mediadb

import (
	"errors"
	"fmt"
	"log/slog"
)

// Sentinel error kinds returned by Manager operations. Callers should
// match with errors.Is; operations wrap these with context via
// fmt.Errorf("%w", ...).
var (
	// ErrNotFound is returned when an id or canonical path has no live record.
	ErrNotFound = errors.New("mediadb: not found")

	// ErrCorruption is returned on CRC mismatch, a truncated frame beyond
	// the last commit, or a decode failure on a record believed live.
	ErrCorruption = errors.New("mediadb: corruption detected")

	// ErrConflict is returned when a database directory is already locked
	// by another process, and by Insert when its canonical path already
	// has a live record (spec §4.B BATCH_INSERT, §7 Conflict).
	ErrConflict = errors.New("mediadb: conflict")

	// ErrIo is returned for underlying storage errors (disk full, permission
	// denied, unexpected EOF outside of WAL replay tolerance, etc).
	ErrIo = errors.New("mediadb: storage i/o error")

	// ErrClosed is returned when the manager is shutting down, has not been
	// initialized, or has transitioned to the closed state after an
	// unrecoverable error.
	ErrClosed = errors.New("mediadb: manager is closed")

	// errInvariantViolated marks an internal consistency failure that must
	// never happen in a released build. It is always logged and never
	// returned verbatim to a caller — callers see it wrapped as ErrIo so
	// the manager's public error taxonomy stays exactly the five kinds
	// above.
	errInvariantViolated = errors.New("mediadb: internal invariant violated")
)

// invariantViolation logs the detail that triggered an invariant
// violation and returns it wrapped as both ErrIo and errInvariantViolated.
func invariantViolation(detail string) error {
	slog.Error("internal invariant violated", "detail", detail)
	return fmt.Errorf("%w: %w: %s", ErrIo, errInvariantViolated, detail)
}
