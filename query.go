// Query Engine: every read-only path exposed through Manager. All of it
// goes through batchWriter.ixMu (RLock) plus the page store's own
// RWMutex, so reads never block on each other and only ever block the
// in-progress commit's brief critical section — the same low-contention
// split the teacher's read.go gets from only ever taking an RLock.
package mediadb

import "iter"

// getByID returns the record for id.
func (bw *batchWriter) getByID(id uint64) (*MediaFile, error) {
	bw.ixMu.RLock()
	defer bw.ixMu.RUnlock()
	return bw.store.get(id)
}

// getByPath returns the record at canonical path p, or ErrNotFound.
func (bw *batchWriter) getByPath(p string) (*MediaFile, error) {
	bw.ixMu.RLock()
	id, ok := bw.index.lookupPath(canonicalPath(p))
	bw.ixMu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return bw.store.get(id)
}

// getFilesWithPathPrefix returns every record whose canonical path has
// the given prefix, ordered by path (spec §4.F / §9 Open Question 1: an
// empty prefix matches every record).
func (bw *batchWriter) getFilesWithPathPrefix(prefix string) ([]*MediaFile, error) {
	cp := canonicalPath(prefix)
	bw.ixMu.RLock()
	ids := prefixIDs(bw.index, cp)
	bw.ixMu.RUnlock()

	out := make([]*MediaFile, 0, len(ids))
	for _, id := range ids {
		rec, err := bw.store.get(id)
		if err != nil {
			if err == ErrNotFound {
				continue // concurrently deleted between the index read and this get
			}
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// streamAllMediaFiles yields every live record in ascending id order
// without materializing them all at once, the iter.Seq2 shape spec
// §4.F's stream_all_media_files calls for. It walks the page store's id
// tree one id at a time (store.streamIDs) rather than pre-collecting a
// full id slice, keeping peak additional memory to a single in-flight
// record (spec §8 scenario 3).
func (bw *batchWriter) streamAllMediaFiles() iter.Seq2[*MediaFile, error] {
	return func(yield func(*MediaFile, error) bool) {
		bw.store.streamIDs(func(id uint64) bool {
			rec, err := bw.getByID(id)
			if err != nil {
				if err == ErrNotFound {
					return true // concurrently deleted between id and get
				}
				return yield(nil, err)
			}
			return yield(rec, nil)
		})
	}
}

// collectAllMediaFiles materializes streamAllMediaFiles into a slice.
func (bw *batchWriter) collectAllMediaFiles() ([]*MediaFile, error) {
	files, _, _, _ := bw.stats()
	out := make([]*MediaFile, 0, files)
	for rec, err := range bw.streamAllMediaFiles() {
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// Stats is the snapshot returned by GetStats (spec §4.F).
type Stats struct {
	TotalFiles    uint64
	TotalSize     uint64
	NextID        uint64
	CheckpointLSN uint64
}

func (bw *batchWriter) getStats() Stats {
	files, size, nextID, checkpointLSN := bw.stats()
	return Stats{TotalFiles: files, TotalSize: size, NextID: nextID, CheckpointLSN: checkpointLSN}
}
