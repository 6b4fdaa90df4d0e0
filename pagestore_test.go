// Page Store tests.
//
// append/get/delete/compact are the only operations that touch segment
// files directly; every test here works against a page store opened in
// a temporary directory, the same isolation the teacher's tests get
// from t.TempDir().
package mediadb

import (
	"path/filepath"
	"testing"
)

func openTestPageStore(t *testing.T) *pageStore {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "store")
	ps, err := openPageStore(dir, 0)
	if err != nil {
		t.Fatalf("openPageStore: %v", err)
	}
	t.Cleanup(func() { ps.close() })
	return ps
}

func TestPageStoreAppendGet(t *testing.T) {
	ps := openTestPageStore(t)

	m := &MediaFile{ID: 1, Path: "/a.mp3", Filename: "a.mp3", Size: 10}
	if _, err := ps.append(m); err != nil {
		t.Fatalf("append: %v", err)
	}

	got, err := ps.get(1)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Path != m.Path || got.Size != m.Size {
		t.Errorf("get = %+v, want %+v", got, m)
	}
}

func TestPageStoreGetMissing(t *testing.T) {
	ps := openTestPageStore(t)
	if _, err := ps.get(999); err != ErrNotFound {
		t.Errorf("get(missing) = %v, want ErrNotFound", err)
	}
}

func TestPageStoreAppendOverwritesStats(t *testing.T) {
	ps := openTestPageStore(t)

	ps.append(&MediaFile{ID: 1, Path: "/a.mp3", Size: 100})
	ps.append(&MediaFile{ID: 1, Path: "/a.mp3", Size: 200})

	files, size := ps.stats()
	if files != 1 {
		t.Errorf("totalFiles = %d, want 1 (re-append of same id is an update)", files)
	}
	if size != 200 {
		t.Errorf("totalSize = %d, want 200 (latest write wins)", size)
	}
}

func TestPageStoreDelete(t *testing.T) {
	ps := openTestPageStore(t)
	ps.append(&MediaFile{ID: 1, Path: "/a.mp3", Size: 10})

	if ok := ps.delete(1); !ok {
		t.Fatal("delete should report true for a live id")
	}
	if _, err := ps.get(1); err != ErrNotFound {
		t.Errorf("get after delete = %v, want ErrNotFound", err)
	}
	if ok := ps.delete(1); ok {
		t.Error("delete should report false for an already-deleted id")
	}
}

func TestPageStoreIDsAscending(t *testing.T) {
	ps := openTestPageStore(t)
	ps.append(&MediaFile{ID: 3, Path: "/c"})
	ps.append(&MediaFile{ID: 1, Path: "/a"})
	ps.append(&MediaFile{ID: 2, Path: "/b"})

	ids := ps.ids()
	if len(ids) != 3 || ids[0] != 1 || ids[1] != 2 || ids[2] != 3 {
		t.Errorf("ids() = %v, want [1 2 3]", ids)
	}
}

func TestPageStoreStreamIDsAscending(t *testing.T) {
	ps := openTestPageStore(t)
	ps.append(&MediaFile{ID: 3, Path: "/c"})
	ps.append(&MediaFile{ID: 1, Path: "/a"})
	ps.append(&MediaFile{ID: 2, Path: "/b"})
	ps.delete(2)

	var got []uint64
	ps.streamIDs(func(id uint64) bool {
		got = append(got, id)
		return true
	})
	if len(got) != 2 || got[0] != 1 || got[1] != 3 {
		t.Errorf("streamIDs = %v, want [1 3]", got)
	}
}

func TestPageStoreStreamIDsStopsEarly(t *testing.T) {
	ps := openTestPageStore(t)
	ps.append(&MediaFile{ID: 1, Path: "/a"})
	ps.append(&MediaFile{ID: 2, Path: "/b"})
	ps.append(&MediaFile{ID: 3, Path: "/c"})

	var got []uint64
	ps.streamIDs(func(id uint64) bool {
		got = append(got, id)
		return id < 2
	})
	if len(got) != 2 || got[0] != 1 || got[1] != 2 {
		t.Errorf("streamIDs with early stop = %v, want [1 2]", got)
	}
}

func TestPageStoreCompactPreservesLiveRecords(t *testing.T) {
	ps := openTestPageStore(t)
	ps.append(&MediaFile{ID: 1, Path: "/a", Size: 1})
	ps.append(&MediaFile{ID: 2, Path: "/b", Size: 2})
	ps.delete(1)

	if err := ps.compact(); err != nil {
		t.Fatalf("compact: %v", err)
	}

	if _, err := ps.get(1); err != ErrNotFound {
		t.Error("deleted record should stay absent after compact")
	}
	got, err := ps.get(2)
	if err != nil {
		t.Fatalf("get(2) after compact: %v", err)
	}
	if got.Size != 2 {
		t.Errorf("get(2).Size = %d, want 2", got.Size)
	}

	files, size := ps.stats()
	if files != 1 || size != 2 {
		t.Errorf("stats after compact = (%d, %d), want (1, 2)", files, size)
	}
}

func TestPageStoreReopenResumesAtTail(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "store")
	ps1, err := openPageStore(dir, 0)
	if err != nil {
		t.Fatalf("openPageStore: %v", err)
	}
	ps1.append(&MediaFile{ID: 1, Path: "/a", Size: 1})
	ps1.close()

	ps2, err := openPageStore(dir, 0)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer ps2.close()

	if ps2.tail == 0 {
		t.Error("reopened page store should resume at the prior tail, not zero")
	}
}
