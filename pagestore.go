// Durable record storage: append-only segment files plus an in-memory
// offset map (spec §4.C, option 1). get is O(1) via the map; append is
// amortized O(1) (an unbuffered write to the open segment's tail). Delete
// removes the offset map entry (tombstone); physical space is reclaimed
// by compact, which the WAL checkpoint path drives.
//
// Grounded on the teacher's repair.go compaction pass: scan all entries,
// sort, rewrite into a fresh file, swap the handle. Here the "entries"
// are the offset map itself (already an index of exactly the live
// records) rather than a from-scratch scan of a JSONL file, since the
// offset map is always kept current; the whole rewrite and the swap run
// under the store's exclusive lock.
package mediadb

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/google/btree"
)

// idItem is the btree.Item stored in idTree: a live record's id, ordered
// numerically so streamIDs can walk them ascending without a full
// upfront copy (spec §8 scenario 3's O(1)-additional-memory bound).
type idItem uint64

func (a idItem) Less(than btree.Item) bool {
	return a < than.(idItem)
}

// maxSegmentBytes bounds a single segment file before the store rotates
// to a new one, the same ceiling-driven rotation the WAL uses for its
// own segments (see walMaxSegmentBytes in wal.go).
const maxSegmentBytes = 256 * 1024 * 1024

type pageLoc struct {
	segment uint32
	offset  int64
	length  uint32
}

// pageStore is the durable record store for one database directory.
type pageStore struct {
	dir string

	mu          sync.RWMutex
	offsets     map[uint64]pageLoc
	idTree      *btree.BTree // idItem, ordered ascending, mirrors offsets' key set
	readers     map[uint32]*os.File // lazily opened read handles, one per segment
	current     uint32
	currentFile *os.File
	tail        int64

	totalFiles uint64
	totalSize  uint64
}

func segmentPath(dir string, segment uint32) string {
	return filepath.Join(dir, fmt.Sprintf("%06d.seg", segment))
}

// openPageStore opens (creating if necessary) the page store rooted at
// dir, with currentSegment as the active append target.
func openPageStore(dir string, currentSegment uint32) (*pageStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: page store mkdir: %v", ErrIo, err)
	}

	f, err := os.OpenFile(segmentPath(dir, currentSegment), os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("%w: open active segment: %v", ErrIo, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: stat active segment: %v", ErrIo, err)
	}

	return &pageStore{
		dir:         dir,
		offsets:     make(map[uint64]pageLoc),
		idTree:      btree.New(btreeDegree),
		readers:     make(map[uint32]*os.File),
		current:     currentSegment,
		currentFile: f,
		tail:        info.Size(),
	}, nil
}

func (ps *pageStore) readerFor(segment uint32) (*os.File, error) {
	if segment == ps.current {
		return ps.currentFile, nil
	}
	if f, ok := ps.readers[segment]; ok {
		return f, nil
	}
	f, err := os.Open(segmentPath(ps.dir, segment))
	if err != nil {
		return nil, fmt.Errorf("%w: open segment %d: %v", ErrIo, segment, err)
	}
	ps.readers[segment] = f
	return f, nil
}

// append writes m's encoded record to the tail of the active segment,
// rotating to a new segment first if it would exceed maxSegmentBytes.
// It does not fsync: WAL fsync is the durability boundary (spec §4.B);
// a page store write that does not reach disk before a crash is
// reproduced by WAL replay on the next open.
func (ps *pageStore) append(m *MediaFile) (pageLoc, error) {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	buf := encodeRecord(m)
	if ps.tail > 0 && ps.tail+int64(len(buf)) > maxSegmentBytes {
		if err := ps.rotateLocked(); err != nil {
			return pageLoc{}, err
		}
	}

	off := ps.tail
	n, err := ps.currentFile.Write(buf)
	if err != nil {
		return pageLoc{}, fmt.Errorf("%w: page store append: %v", ErrIo, err)
	}
	ps.tail += int64(n)

	loc := pageLoc{segment: ps.current, offset: off, length: uint32(len(buf))}
	ps.applyLiveLocked(m.ID, loc, m.Size)
	return loc, nil
}

// applyLiveLocked records id as live at loc, adjusting stats counters.
// Called with ps.mu held.
func (ps *pageStore) applyLiveLocked(id uint64, loc pageLoc, size uint64) {
	if old, existed := ps.offsets[id]; existed {
		oldRec, err := ps.readAtLocked(old)
		if err == nil {
			ps.totalSize -= oldRec.Size
		}
	} else {
		ps.totalFiles++
		ps.idTree.ReplaceOrInsert(idItem(id))
	}
	ps.offsets[id] = loc
	ps.totalSize += size
}

func (ps *pageStore) rotateLocked() error {
	if err := ps.currentFile.Sync(); err != nil {
		return fmt.Errorf("%w: sync before rotate: %v", ErrIo, err)
	}
	ps.readers[ps.current] = ps.currentFile
	ps.current++
	f, err := os.OpenFile(segmentPath(ps.dir, ps.current), os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("%w: open rotated segment: %v", ErrIo, err)
	}
	ps.currentFile = f
	ps.tail = 0
	return nil
}

// get returns the live record for id, or ErrNotFound.
func (ps *pageStore) get(id uint64) (*MediaFile, error) {
	ps.mu.RLock()
	defer ps.mu.RUnlock()

	loc, ok := ps.offsets[id]
	if !ok {
		return nil, ErrNotFound
	}
	return ps.readAtLocked(loc)
}

func (ps *pageStore) readAtLocked(loc pageLoc) (*MediaFile, error) {
	f, err := ps.readerFor(loc.segment)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, loc.length)
	if _, err := f.ReadAt(buf, loc.offset); err != nil {
		return nil, fmt.Errorf("%w: read record: %v", ErrIo, err)
	}
	return decodeRecord(buf)
}

// delete tombstones id: the offset map entry is removed so subsequent
// get calls return ErrNotFound; disk space is reclaimed at the next
// compact. Returns false if id was not live.
func (ps *pageStore) delete(id uint64) bool {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	loc, ok := ps.offsets[id]
	if !ok {
		return false
	}
	if rec, err := ps.readAtLocked(loc); err == nil {
		ps.totalSize -= rec.Size
	}
	delete(ps.offsets, id)
	ps.idTree.Delete(idItem(id))
	ps.totalFiles--
	return true
}

// stats returns the O(1) maintained counters (spec §4.F get_stats).
func (ps *pageStore) stats() (files, size uint64) {
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	return ps.totalFiles, ps.totalSize
}

// ids returns every live id in ascending order, the iteration order
// spec §4.F requires for stream_all_media_files.
func (ps *pageStore) ids() []uint64 {
	ps.mu.RLock()
	defer ps.mu.RUnlock()

	ids := make([]uint64, 0, len(ps.offsets))
	for id := range ps.offsets {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// nextLiveID returns the smallest live id greater than after (or, when
// first is true, the smallest live id overall), and whether one exists.
// Used by streamIDs to walk the id tree one entry at a time instead of
// materializing every live id up front.
func (ps *pageStore) nextLiveID(after uint64, first bool) (uint64, bool) {
	ps.mu.RLock()
	defer ps.mu.RUnlock()

	var floor btree.Item
	if first {
		floor = idItem(0)
	} else {
		if after == math.MaxUint64 {
			return 0, false
		}
		floor = idItem(after + 1)
	}

	var found uint64
	var ok bool
	ps.idTree.AscendGreaterOrEqual(floor, func(item btree.Item) bool {
		found = uint64(item.(idItem))
		ok = true
		return false
	})
	return found, ok
}

// streamIDs walks every live id in ascending order, calling yield once
// per id, without ever materializing more than one id at a time — the
// O(1)-additional-memory bound spec §8 scenario 3 requires for
// stream_all_media_files. It stops early if yield returns false.
func (ps *pageStore) streamIDs(yield func(id uint64) bool) {
	id, ok := ps.nextLiveID(0, true)
	for ok {
		if !yield(id) {
			return
		}
		id, ok = ps.nextLiveID(id, false)
	}
}

// compact rewrites every live record into a single fresh segment,
// replacing the offset map and deleting the old segment files. It is
// driven by the WAL checkpoint path (spec §4.B "flush Page Store" /
// §4.C "physical reclamation happens at checkpoint").
func (ps *pageStore) compact() error {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	ids := make([]uint64, 0, len(ps.offsets))
	for id := range ps.offsets {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	newSegment := ps.current + 1
	tmpPath := segmentPath(ps.dir, newSegment) + ".tmp"
	tmp, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("%w: create compaction segment: %v", ErrIo, err)
	}

	newOffsets := make(map[uint64]pageLoc, len(ids))
	var off int64
	for _, id := range ids {
		loc := ps.offsets[id]
		rec, err := ps.readAtLocked(loc)
		if err != nil {
			tmp.Close()
			os.Remove(tmpPath)
			return err
		}
		buf := encodeRecord(rec)
		if _, err := tmp.WriteAt(buf, off); err != nil {
			tmp.Close()
			os.Remove(tmpPath)
			return fmt.Errorf("%w: compaction write: %v", ErrIo, err)
		}
		newOffsets[id] = pageLoc{segment: newSegment, offset: off, length: uint32(len(buf))}
		off += int64(len(buf))
	}

	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("%w: sync compaction segment: %v", ErrIo, err)
	}
	tmp.Close()

	finalPath := segmentPath(ps.dir, newSegment)
	if err := os.Rename(tmpPath, finalPath); err != nil {
		return fmt.Errorf("%w: rename compaction segment: %v", ErrIo, err)
	}

	// Close and remove old segments.
	oldSegments := make([]uint32, 0, len(ps.readers)+1)
	for seg := range ps.readers {
		oldSegments = append(oldSegments, seg)
	}
	oldSegments = append(oldSegments, ps.current)
	ps.currentFile.Close()
	for seg, f := range ps.readers {
		f.Close()
		delete(ps.readers, seg)
	}
	for _, seg := range oldSegments {
		if seg == newSegment {
			continue
		}
		os.Remove(segmentPath(ps.dir, seg))
	}

	f, err := os.OpenFile(finalPath, os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("%w: reopen compacted segment: %v", ErrIo, err)
	}
	ps.currentFile = f
	ps.current = newSegment
	ps.tail = off
	ps.offsets = newOffsets
	return nil
}

// close releases all open segment file handles.
func (ps *pageStore) close() error {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	var firstErr error
	if err := ps.currentFile.Close(); err != nil {
		firstErr = err
	}
	for _, f := range ps.readers {
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
