// Manager is the facade every caller uses: Open wires together the
// directory lock, manifest, WAL replay, page store, indices, and Batch
// Writer into one running database; every other method is a thin
// pass-through to the Batch Writer or Query Engine. This mirrors the
// teacher's db.go, which is the only exported entry point wrapping
// header/write/read/compact/lock internals behind one handle.
package mediadb

import (
	"context"
	"encoding/binary"
	"fmt"
	"iter"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

// DatabaseManager is the facade surface SPEC_FULL.md §4.H describes:
// every mutation and query operation a caller needs, independent of
// Manager's own lifecycle (Open/Close) and internal wiring. It exists
// so callers can depend on an interface instead of *Manager directly.
type DatabaseManager interface {
	Store(ctx context.Context, file *MediaFile) (uint64, error)
	Insert(ctx context.Context, file *MediaFile) (uint64, error)
	BulkStore(ctx context.Context, files []*MediaFile) ([]uint64, error)
	Flush(ctx context.Context) error
	Delete(ctx context.Context, path string) error
	GetByID(id uint64) (*MediaFile, error)
	GetByPath(path string) (*MediaFile, error)
	GetFilesWithPathPrefix(prefix string) ([]*MediaFile, error)
	StreamAllMediaFiles() iter.Seq2[*MediaFile, error]
	CollectAllMediaFiles() ([]*MediaFile, error)
	GetStats() Stats
	Cleanup(ctx context.Context, present map[string]struct{}) (int, error)
	Close() error
}

var _ DatabaseManager = (*Manager)(nil)

// Manager is a single open media database. The zero value is not usable;
// construct one with Open.
type Manager struct {
	dir    string
	logger *slog.Logger

	dlock *directoryLock
	bw    *batchWriter

	closeOnce sync.Once
}

// Open initializes (or resumes) the database rooted at cfg.Path: it
// takes the directory lock, loads the manifest, replays the WAL forward
// from the last checkpoint, and starts the Batch Writer.
func Open(cfg Config) (*Manager, error) {
	cfg = defaultConfig(cfg)
	logger := cfg.Logger

	if err := os.MkdirAll(cfg.Path, 0o755); err != nil {
		return nil, fmt.Errorf("%w: create database directory: %v", ErrIo, err)
	}

	dlock, err := acquireDirectoryLock(cfg.Path)
	if err != nil {
		return nil, err
	}

	man, err := loadOrCreateManifest(cfg.Path)
	if err != nil {
		dlock.release()
		return nil, err
	}

	storeDir := filepath.Join(cfg.Path, "store")
	store, err := openPageStore(storeDir, man.StoreSegment)
	if err != nil {
		dlock.release()
		return nil, err
	}

	index := newIndexSet()

	walDir := filepath.Join(cfg.Path, "wal")
	maxLSN := man.CheckpointLSN
	maxID := man.NextID
	var replayErr error
	replayedSegment, err := replayWAL(walDir, man.WALSegmentReplayFrom, man.CheckpointLSN, func(lsn uint64, kind walOpKind, payload []byte) error {
		switch kind {
		case walOpPut:
			rec, err := decodeRecord(payload)
			if err != nil {
				return err
			}
			if _, err := store.append(rec); err != nil {
				return err
			}
			index.replace(rec.ID, rec)
			if rec.ID > maxID {
				maxID = rec.ID
			}
		case walOpDelete:
			id := decodeWalDeletePayload(payload)
			store.delete(id)
			index.remove(id)
		default:
			return invariantViolation("unknown wal op kind during replay")
		}
		if lsn > maxLSN {
			maxLSN = lsn
		}
		return nil
	})
	if err != nil {
		replayErr = err
	}
	if replayErr != nil {
		store.close()
		dlock.release()
		return nil, replayErr
	}

	man.NextID = maxID
	logger.Info("database opened", "path", cfg.Path, "replayed_through_lsn", maxLSN, "next_id", man.NextID)

	walSegment := replayedSegment
	if walSegment < man.WALSegment {
		walSegment = man.WALSegment
	}
	w, err := openWAL(walDir, walSegment, maxLSN+1)
	if err != nil {
		store.close()
		dlock.release()
		return nil, err
	}

	profile := resolveProfile(cfg)
	bw := newBatchWriter(cfg.Path, man, w, store, index, profile, cfg.WALCheckpointBytes, cfg.WALCheckpointBatches, logger)

	return &Manager{dir: cfg.Path, logger: logger, dlock: dlock, bw: bw}, nil
}

func decodeWalDeletePayload(payload []byte) uint64 {
	return binary.LittleEndian.Uint64(payload)
}

// Store upserts file by its canonical path: if a live record already
// exists at that path its id is reused, otherwise a new id is minted.
// It returns the assigned id.
func (m *Manager) Store(ctx context.Context, file *MediaFile) (uint64, error) {
	return m.bw.submit(ctx, &opRequest{kind: opUpsert, record: file})
}

// Insert mints a new record at file's canonical path and fails with
// ErrConflict if a live record already exists there (spec §4.B
// BATCH_INSERT, §7 Conflict). Unlike Store, it never reuses an id.
func (m *Manager) Insert(ctx context.Context, file *MediaFile) (uint64, error) {
	return m.bw.submit(ctx, &opRequest{kind: opInsert, record: file})
}

// BulkStore upserts every file concurrently, letting the Batch Writer's
// own triggers decide how many land in a single WAL fsync, and returns
// each assigned id in input order.
func (m *Manager) BulkStore(ctx context.Context, files []*MediaFile) ([]uint64, error) {
	ids := make([]uint64, len(files))
	errs := make([]error, len(files))

	var wg sync.WaitGroup
	wg.Add(len(files))
	for i, f := range files {
		go func(i int, f *MediaFile) {
			defer wg.Done()
			id, err := m.bw.submit(ctx, &opRequest{kind: opUpsert, record: f})
			ids[i] = id
			errs[i] = err
		}(i, f)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return ids, err
		}
	}
	return ids, nil
}

// Flush forces any batch currently accumulating to commit immediately,
// rather than waiting for the record/byte/delay trigger (spec §4.E). It
// blocks until that commit (and everything already pending ahead of it)
// has durably landed.
func (m *Manager) Flush(ctx context.Context) error {
	_, err := m.bw.submit(ctx, &opRequest{kind: opFlush})
	return err
}

// Delete removes the record at canonical path, or returns ErrNotFound.
func (m *Manager) Delete(ctx context.Context, path string) error {
	_, err := m.bw.submit(ctx, &opRequest{kind: opDelete, path: path})
	return err
}

// GetByID returns the record for id, or ErrNotFound.
func (m *Manager) GetByID(id uint64) (*MediaFile, error) {
	return m.bw.getByID(id)
}

// GetByPath returns the record at path (normalized internally), or ErrNotFound.
func (m *Manager) GetByPath(path string) (*MediaFile, error) {
	return m.bw.getByPath(path)
}

// GetFilesWithPathPrefix returns every record under prefix, ordered by path.
func (m *Manager) GetFilesWithPathPrefix(prefix string) ([]*MediaFile, error) {
	return m.bw.getFilesWithPathPrefix(prefix)
}

// StreamAllMediaFiles iterates every live record in ascending id order.
func (m *Manager) StreamAllMediaFiles() iter.Seq2[*MediaFile, error] {
	return m.bw.streamAllMediaFiles()
}

// CollectAllMediaFiles materializes StreamAllMediaFiles into a slice.
func (m *Manager) CollectAllMediaFiles() ([]*MediaFile, error) {
	return m.bw.collectAllMediaFiles()
}

// GetStats returns the current record count, total byte size, id
// high-water mark, and checkpoint watermark.
func (m *Manager) GetStats() Stats {
	return m.bw.getStats()
}

// Cleanup removes every stored record whose canonical path is not in
// present, and returns the number removed (spec §4.G).
func (m *Manager) Cleanup(ctx context.Context, present map[string]struct{}) (int, error) {
	return m.bw.reconcile(ctx, present)
}

// Close flushes and stops the Batch Writer, then releases the directory
// lock. It is safe to call more than once.
func (m *Manager) Close() error {
	var err error
	m.closeOnce.Do(func() {
		if bwErr := m.bw.close(); bwErr != nil {
			err = bwErr
		}
		m.bw.mMu.Lock()
		saveErr := m.bw.man.save(m.dir)
		m.bw.mMu.Unlock()
		if saveErr != nil && err == nil {
			err = saveErr
		}
		if lockErr := m.dlock.release(); lockErr != nil && err == nil {
			err = lockErr
		}
	})
	return err
}
