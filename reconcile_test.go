// Reconciler tests exercising batchWriter.reconcile directly.
package mediadb

import (
	"context"
	"testing"
)

func TestReconcileRemovesEverythingWhenPresentIsEmpty(t *testing.T) {
	bw := openTestBatchWriter(t, fastProfile(), 1<<30, 1<<30)
	ctx := context.Background()

	bw.submit(ctx, &opRequest{kind: opUpsert, record: &MediaFile{Path: "/a.mp3"}})
	bw.submit(ctx, &opRequest{kind: opUpsert, record: &MediaFile{Path: "/b.mp3"}})

	removed, err := bw.reconcile(ctx, map[string]struct{}{})
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if removed != 2 {
		t.Errorf("reconcile removed = %d, want 2", removed)
	}

	files, _ := bw.store.stats()
	if files != 0 {
		t.Errorf("store has %d live files after full reconcile, want 0", files)
	}
}

// TestReconcileCommitsAsOneBatch verifies stale records are removed as a
// single WAL batch rather than one commit per id: BatchesSinceCheckpoint
// must advance by exactly 1 for a reconcile removing several records,
// proving the whole stale set went through one opBulkDelete.
func TestReconcileCommitsAsOneBatch(t *testing.T) {
	bw := openTestBatchWriter(t, fastProfile(), 1<<30, 1<<30)
	ctx := context.Background()

	bw.submit(ctx, &opRequest{kind: opUpsert, record: &MediaFile{Path: "/a.mp3"}})
	bw.submit(ctx, &opRequest{kind: opUpsert, record: &MediaFile{Path: "/b.mp3"}})
	bw.submit(ctx, &opRequest{kind: opUpsert, record: &MediaFile{Path: "/c.mp3"}})

	bw.mMu.Lock()
	before := bw.man.BatchesSinceCheckpoint
	bw.mMu.Unlock()

	removed, err := bw.reconcile(ctx, map[string]struct{}{})
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if removed != 3 {
		t.Errorf("reconcile removed = %d, want 3", removed)
	}

	bw.mMu.Lock()
	after := bw.man.BatchesSinceCheckpoint
	bw.mMu.Unlock()
	if after != before+1 {
		t.Errorf("BatchesSinceCheckpoint advanced by %d, want 1 (reconcile must commit as a single batch)", after-before)
	}
}

func TestReconcileNoopWhenNothingStale(t *testing.T) {
	bw := openTestBatchWriter(t, fastProfile(), 1<<30, 1<<30)
	ctx := context.Background()

	bw.submit(ctx, &opRequest{kind: opUpsert, record: &MediaFile{Path: "/a.mp3"}})

	removed, err := bw.reconcile(ctx, map[string]struct{}{canonicalPath("/a.mp3"): {}})
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if removed != 0 {
		t.Errorf("reconcile removed = %d, want 0", removed)
	}
}
