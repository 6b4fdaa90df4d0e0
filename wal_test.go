// Write-ahead log tests.
//
// appendBatch/replayWAL are the durability boundary: every invariant
// here (frame checksums, LSN ordering, torn-tail tolerance) is what
// makes crash recovery possible without a corrupt page store.
package mediadb

import (
	"os"
	"path/filepath"
	"testing"
)

func openTestWAL(t *testing.T) *wal {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "wal")
	w, err := openWAL(dir, 0, 1)
	if err != nil {
		t.Fatalf("openWAL: %v", err)
	}
	t.Cleanup(func() { w.close() })
	return w
}

func TestWALAppendBatchAssignsConsecutiveLSNs(t *testing.T) {
	w := openTestWAL(t)

	start, end, err := w.appendBatch([]walOp{
		{kind: walOpPut, id: 1, record: &MediaFile{ID: 1, Path: "/a"}},
		{kind: walOpPut, id: 2, record: &MediaFile{ID: 2, Path: "/b"}},
		{kind: walOpDelete, id: 3},
	})
	if err != nil {
		t.Fatalf("appendBatch: %v", err)
	}
	if start != 1 || end != 3 {
		t.Errorf("appendBatch lsn range = [%d, %d], want [1, 3]", start, end)
	}
}

func TestWALReplayAppliesEachOp(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "wal")
	w, err := openWAL(dir, 0, 1)
	if err != nil {
		t.Fatalf("openWAL: %v", err)
	}

	w.appendBatch([]walOp{
		{kind: walOpPut, id: 1, record: &MediaFile{ID: 1, Path: "/a"}},
		{kind: walOpDelete, id: 2},
	})
	w.close()

	var applied []walOpKind
	_, err = replayWAL(dir, 0, 0, func(lsn uint64, kind walOpKind, payload []byte) error {
		applied = append(applied, kind)
		return nil
	})
	if err != nil {
		t.Fatalf("replayWAL: %v", err)
	}
	if len(applied) != 2 || applied[0] != walOpPut || applied[1] != walOpDelete {
		t.Errorf("replay applied = %v, want [put delete]", applied)
	}
}

func TestWALReplaySkipsFramesAtOrBelowCheckpoint(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "wal")
	w, err := openWAL(dir, 0, 1)
	if err != nil {
		t.Fatalf("openWAL: %v", err)
	}
	w.appendBatch([]walOp{{kind: walOpPut, id: 1, record: &MediaFile{ID: 1, Path: "/a"}}})
	w.appendBatch([]walOp{{kind: walOpPut, id: 2, record: &MediaFile{ID: 2, Path: "/b"}}})
	w.close()

	var seen []uint64
	_, err = replayWAL(dir, 0, 1, func(lsn uint64, kind walOpKind, payload []byte) error {
		seen = append(seen, lsn)
		return nil
	})
	if err != nil {
		t.Fatalf("replayWAL: %v", err)
	}
	if len(seen) != 1 || seen[0] != 2 {
		t.Errorf("replay after checkpoint lsn 1 = %v, want [2]", seen)
	}
}

func TestWALReplayTruncatedTailIsNotAnError(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "wal")
	w, err := openWAL(dir, 0, 1)
	if err != nil {
		t.Fatalf("openWAL: %v", err)
	}
	w.appendBatch([]walOp{{kind: walOpPut, id: 1, record: &MediaFile{ID: 1, Path: "/a"}}})
	w.close()

	path := walSegmentPath(dir, 0)
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if err := os.Truncate(path, info.Size()-2); err != nil {
		t.Fatalf("truncate: %v", err)
	}

	_, err = replayWAL(dir, 0, 0, func(lsn uint64, kind walOpKind, payload []byte) error {
		return nil
	})
	if err != nil {
		t.Errorf("replayWAL over a torn tail should not error, got %v", err)
	}
}

func TestWALReplayDetectsChecksumCorruption(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "wal")
	w, err := openWAL(dir, 0, 1)
	if err != nil {
		t.Fatalf("openWAL: %v", err)
	}
	w.appendBatch([]walOp{{kind: walOpPut, id: 1, record: &MediaFile{ID: 1, Path: "/a"}}})
	w.close()

	path := walSegmentPath(dir, 0)
	buf, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	// Flip a byte inside the payload region, after the length+crc header.
	buf[12] ^= 0xFF
	if err := os.WriteFile(path, buf, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	_, err = replayWAL(dir, 0, 0, func(lsn uint64, kind walOpKind, payload []byte) error {
		return nil
	})
	if err == nil {
		t.Fatal("expected checksum mismatch to surface as an error")
	}
}
