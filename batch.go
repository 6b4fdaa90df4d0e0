// Batch Writer: the single-writer critical section every mutation
// passes through. Callers never touch the WAL, page store, or indices
// directly; they submit an op and wait on a future, the same
// message-passing shape spec §9's design note prescribes in place of a
// callback/future API leaking across goroutines.
//
// A batch commits in seven steps (spec §4.E):
//  1. take the write lock
//  2. assign ids: opInsert mints a new id and fails with ErrConflict if
//     the canonical path is already live (BATCH_INSERT, spec §4.B/§7);
//     opUpsert reuses the existing id for an already-indexed canonical
//     path and mints a new one otherwise. Both resolve path collisions
//     against the other requests already placed earlier in this same
//     batch, not just against the index as of batch start, so two
//     requests for the same path landing in one batch never mint two
//     ids for it (spec invariants 1 and 3).
//  3. encode every record and fsync the WAL once for the whole batch
//  4. write records to the page store
//  5. update the in-memory indices
//  6. resolve every caller's future
//  7. release the lock (ixMu, held for the whole commit)
//
// There is no separate visible-LSN counter: every read takes ixMu
// (query.go), so a batch becomes visible as a whole when step 7 releases
// it.
//
// Batches are cut by whichever trigger fires first: accumulated record
// count, accumulated byte estimate, time since the oldest pending op (the
// three PerformanceProfile thresholds, config.go), or an explicit Flush
// request, which forces its batch to commit the moment it arrives.
package mediadb

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

type opKind int

const (
	opInsert opKind = iota
	opUpsert
	opDelete
	opBulkDelete
	opFlush
)

// opRequest is one caller's pending mutation, submitted to the batch
// writer's queue and resolved exactly once via result.
type opRequest struct {
	kind   opKind
	record *MediaFile // set for opInsert/opUpsert
	id     uint64     // set for opDelete by id
	path   string      // set for opDelete by path when id is unknown
	ids    []uint64    // set for opBulkDelete

	ctx    context.Context
	result chan opResult
}

type opResult struct {
	id    uint64
	count int // set for opBulkDelete: number of ids actually removed
	err   error
}

// batchWriter owns the WAL, page store, and indices for one database
// and serializes every mutation through a single background goroutine.
type batchWriter struct {
	dir      string
	wal      *wal
	store    *pageStore
	profile  PerformanceProfile
	checkpointBytes   int64
	checkpointBatches int
	logger   *slog.Logger

	ixMu  sync.RWMutex // guards index, read by query.go, written only during commit
	index *indexSet

	mMu      sync.Mutex // guards manifest fields mutated outside commit's own goroutine
	man      *manifest

	queue   chan *opRequest
	stopCh  chan struct{}
	doneCh  chan struct{}
}

func newBatchWriter(dir string, man *manifest, w *wal, store *pageStore, index *indexSet, profile PerformanceProfile, checkpointBytes int64, checkpointBatches int, logger *slog.Logger) *batchWriter {
	bw := &batchWriter{
		dir:               dir,
		wal:               w,
		store:             store,
		index:             index,
		profile:           profile,
		checkpointBytes:   checkpointBytes,
		checkpointBatches: checkpointBatches,
		logger:            logger,
		man:               man,
		queue:             make(chan *opRequest, 1024),
		stopCh:            make(chan struct{}),
		doneCh:            make(chan struct{}),
	}
	go bw.run()
	return bw
}

// submit enqueues req and blocks until it is committed (or its context
// is cancelled). A caller whose context is cancelled before the batch
// that contains its op begins committing is withdrawn from that batch
// entirely — nothing about it reaches the WAL.
func (bw *batchWriter) submit(ctx context.Context, req *opRequest) (uint64, error) {
	res, err := bw.submitResult(ctx, req)
	return res.id, err
}

// submitResult is submit's underlying form, returning the full opResult
// for callers that need more than an assigned id — reconcile uses
// it to read back the number of records an opBulkDelete actually removed.
func (bw *batchWriter) submitResult(ctx context.Context, req *opRequest) (opResult, error) {
	req.ctx = ctx
	req.result = make(chan opResult, 1)

	select {
	case bw.queue <- req:
	case <-ctx.Done():
		return opResult{}, ctx.Err()
	case <-bw.stopCh:
		return opResult{}, ErrClosed
	}

	select {
	case res := <-req.result:
		return res, res.err
	case <-ctx.Done():
		return opResult{}, ctx.Err()
	}
}

func (bw *batchWriter) run() {
	defer close(bw.doneCh)

	pending := make([]*opRequest, 0, bw.profile.MaxBatchRecords)
	var pendingBytes int64
	var timer *time.Timer
	var timerC <-chan time.Time

	resetTimer := func() {
		if timer != nil {
			timer.Stop()
		}
		timer = time.NewTimer(bw.profile.MaxBatchDelay)
		timerC = timer.C
	}

	flush := func() {
		if len(pending) == 0 {
			return
		}
		bw.commit(pending)
		pending = pending[:0]
		pendingBytes = 0
		if timer != nil {
			timer.Stop()
			timerC = nil
		}
	}

	for {
		select {
		case req := <-bw.queue:
			pending = append(pending, req)
			pendingBytes += estimateOpBytes(req)
			if len(pending) == 1 {
				resetTimer()
			}
			if req.kind == opFlush || len(pending) >= bw.profile.MaxBatchRecords || pendingBytes >= bw.profile.MaxBatchBytes {
				flush()
			}
		case <-timerC:
			flush()
		case <-bw.stopCh:
			// Drain whatever is already queued before exiting.
			for {
				select {
				case req := <-bw.queue:
					pending = append(pending, req)
				default:
					flush()
					return
				}
			}
		}
	}
}

func estimateOpBytes(req *opRequest) int64 {
	switch req.kind {
	case opInsert, opUpsert:
		if req.record != nil {
			return int64(len(encodeRecord(req.record)))
		}
		return 16
	case opBulkDelete:
		return int64(len(req.ids)) * 16
	case opFlush:
		return 0
	default:
		return 16
	}
}

// commit runs the seven-step protocol over a batch of requests.
func (bw *batchWriter) commit(pending []*opRequest) {
	// Withdraw any request whose context is already done; nothing about
	// it is written to the WAL.
	live := pending[:0]
	for _, req := range pending {
		select {
		case <-req.ctx.Done():
			req.result <- opResult{err: req.ctx.Err()}
		default:
			live = append(live, req)
		}
	}
	if len(live) == 0 {
		return
	}

	bw.ixMu.Lock()
	defer bw.ixMu.Unlock()

	bw.mMu.Lock()
	man := bw.man
	bw.mMu.Unlock()

	ops := make([]walOp, 0, len(live))
	assignedIDs := make([]uint64, len(live))
	assignedCounts := make([]int, len(live))

	// pathIDs tracks canonical-path -> id assignments already made
	// earlier in this batch, so two insert/upsert requests for the same
	// path landing in one batch (the ordinary case for BulkStore, which
	// fires one goroutine per file into the shared queue) resolve to a
	// single id instead of each minting its own — spec invariant 1 ("at
	// most one live record with path = p") and invariant 3 ("at most one
	// entry in each ... index per distinct key value").
	pathIDs := make(map[string]uint64, len(live))

	for i, req := range live {
		switch req.kind {
		case opInsert:
			cp := canonicalPath(req.record.Path)
			if _, takenThisBatch := pathIDs[cp]; takenThisBatch {
				req.result <- opResult{err: ErrConflict}
				continue
			}
			if _, existed := bw.index.lookupPath(cp); existed {
				req.result <- opResult{err: ErrConflict}
				continue
			}
			man.NextID++
			id := man.NextID
			pathIDs[cp] = id
			req.record.ID = id
			assignedIDs[i] = id
			ops = append(ops, walOp{kind: walOpPut, id: id, record: req.record})

		case opUpsert:
			cp := canonicalPath(req.record.Path)
			id, assignedThisBatch := pathIDs[cp]
			if !assignedThisBatch {
				if existingID, existed := bw.index.lookupPath(cp); existed {
					id = existingID
				} else {
					man.NextID++
					id = man.NextID
				}
				pathIDs[cp] = id
			}
			req.record.ID = id
			assignedIDs[i] = id
			ops = append(ops, walOp{kind: walOpPut, id: id, record: req.record})

		case opDelete:
			id := req.id
			if id == 0 && req.path != "" {
				resolved, ok := bw.index.lookupPath(canonicalPath(req.path))
				if !ok {
					req.result <- opResult{err: ErrNotFound}
					continue
				}
				id = resolved
			}
			assignedIDs[i] = id
			ops = append(ops, walOp{kind: walOpDelete, id: id})

		case opBulkDelete:
			count := 0
			for _, id := range req.ids {
				if _, isLive := bw.index.pathByID[id]; isLive {
					ops = append(ops, walOp{kind: walOpDelete, id: id})
					count++
				}
			}
			assignedCounts[i] = count

		case opFlush:
			// No WAL op of its own: simply arriving in this batch (and
			// forcing it to commit, see run()'s trigger check) is
			// flush's entire effect. The result send below resolves it.
		}
	}

	startLSN, endLSN, err := bw.wal.appendBatch(ops)
	if err != nil {
		bw.failAll(live, err)
		return
	}
	_ = startLSN

	for _, op := range ops {
		switch op.kind {
		case walOpPut:
			if _, err := bw.store.append(op.record); err != nil {
				bw.logger.Error("page store append failed after wal commit", "error", err, "id", op.id)
				bw.failAll(live, err)
				return
			}
			bw.index.replace(op.id, op.record)
		case walOpDelete:
			bw.store.delete(op.id)
			bw.index.remove(op.id)
		}
	}

	for i, req := range live {
		if req.result == nil {
			continue
		}
		res := opResult{id: assignedIDs[i]}
		if req.kind == opBulkDelete {
			res = opResult{count: assignedCounts[i]}
		}
		select {
		case req.result <- res:
		default:
		}
	}

	bw.mMu.Lock()
	man.BatchesSinceCheckpoint++
	shouldCheckpoint := man.BatchesSinceCheckpoint >= bw.checkpointBatches
	bw.mMu.Unlock()

	if shouldCheckpoint || bw.walOverCheckpointSize() {
		if err := bw.checkpoint(endLSN); err != nil {
			bw.logger.Error("checkpoint failed", "error", err)
		}
	}
}

func (bw *batchWriter) failAll(reqs []*opRequest, err error) {
	for _, req := range reqs {
		select {
		case req.result <- opResult{err: err}:
		default:
		}
	}
}

func (bw *batchWriter) walOverCheckpointSize() bool {
	return int64(bw.wal.tail) >= bw.checkpointBytes
}

// checkpoint compacts the page store, rotates the WAL, and publishes a
// manifest recording the new watermark — the recovery boundary that
// lets replay skip everything at or before checkpointLSN.
func (bw *batchWriter) checkpoint(checkpointLSN uint64) error {
	if err := bw.store.compact(); err != nil {
		return err
	}

	bw.wal.mu.Lock()
	if err := bw.wal.rotateLocked(); err != nil {
		bw.wal.mu.Unlock()
		return err
	}
	newWalSegment := bw.wal.segment
	bw.wal.mu.Unlock()

	bw.mMu.Lock()
	bw.man.CheckpointLSN = checkpointLSN
	bw.man.WALSegment = newWalSegment
	bw.man.WALSegmentReplayFrom = newWalSegment
	bw.man.StoreSegment = bw.store.current
	bw.man.BatchesSinceCheckpoint = 0
	err := bw.man.save(bw.dir)
	bw.mMu.Unlock()
	return err
}

// stats returns the page store's maintained counters plus the current
// manifest watermark, used by query.go's GetStats.
func (bw *batchWriter) stats() (files, size, nextID, checkpointLSN uint64) {
	files, size = bw.store.stats()
	bw.mMu.Lock()
	nextID = bw.man.NextID
	checkpointLSN = bw.man.CheckpointLSN
	bw.mMu.Unlock()
	return
}

// close stops accepting new ops, flushes anything queued, and blocks
// until the writer goroutine has exited.
func (bw *batchWriter) close() error {
	close(bw.stopCh)
	<-bw.doneCh
	if err := bw.wal.close(); err != nil {
		return err
	}
	return bw.store.close()
}
