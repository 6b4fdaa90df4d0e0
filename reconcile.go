// Reconciler: reconciles the database against a caller-supplied set of
// canonical paths known to still exist on disk, removing every record
// whose path is not in that set (spec §4.G, the database_native_cleanup
// operation the original DatabaseManager exposes). The diff itself is a
// plain set difference over the path index; the whole stale set is then
// submitted as one opBulkDelete, so cleanup commits as a single WAL
// batch and is atomic with respect to readers — nobody observes a
// partially-completed cleanup mid-way through.
package mediadb

import "context"

// reconcile removes every stored record whose canonical path is not in
// present as one atomic batch, and returns the number of records removed.
func (bw *batchWriter) reconcile(ctx context.Context, present map[string]struct{}) (int, error) {
	stale := bw.staleIDs(present)
	if len(stale) == 0 {
		return 0, nil
	}

	res, err := bw.submitResult(ctx, &opRequest{kind: opBulkDelete, ids: stale})
	if err != nil {
		return 0, err
	}
	return res.count, nil
}

// staleIDs computes the set difference under a single read lock: every
// indexed id whose canonical path is absent from present.
func (bw *batchWriter) staleIDs(present map[string]struct{}) []uint64 {
	bw.ixMu.RLock()
	defer bw.ixMu.RUnlock()

	var stale []uint64
	for id, path := range bw.index.pathByID {
		if _, ok := present[path]; !ok {
			stale = append(stale, id)
		}
	}
	return stale
}
