// Index Layer tests.
//
// indexSet performs no locking of its own — every test here calls its
// methods directly and single-threaded, the same contract the Batch
// Writer's critical section relies on.
package mediadb

import "testing"

func TestIndexInsertLookupPath(t *testing.T) {
	ix := newIndexSet()
	ix.insert(&MediaFile{ID: 1, Path: "/Music/A.mp3", Artist: "Foo"})

	id, ok := ix.lookupPath(canonicalPath("/music/a.mp3"))
	if !ok || id != 1 {
		t.Fatalf("lookupPath = (%d, %v), want (1, true)", id, ok)
	}
}

func TestIndexRemoveClearsAllEntries(t *testing.T) {
	ix := newIndexSet()
	m := &MediaFile{ID: 1, Path: "/music/a.mp3", Artist: "Foo", Album: "Bar", Genre: "Rock"}
	ix.insert(m)
	ix.remove(1)

	if _, ok := ix.lookupPath("/music/a.mp3"); ok {
		t.Error("path_index entry should be gone after remove")
	}
	if _, ok := ix.pathByID[1]; ok {
		t.Error("pathByID entry should be gone after remove")
	}
	if ids := ix.artistIndex["foo"]; len(ids) != 0 {
		t.Errorf("artist_index bucket should be empty after remove, got %v", ids)
	}
}

func TestIndexReplaceMovesCanonicalPath(t *testing.T) {
	ix := newIndexSet()
	ix.insert(&MediaFile{ID: 1, Path: "/music/old.mp3"})
	ix.replace(1, &MediaFile{ID: 1, Path: "/music/new.mp3"})

	if _, ok := ix.lookupPath(canonicalPath("/music/old.mp3")); ok {
		t.Error("old path should no longer resolve after replace")
	}
	id, ok := ix.lookupPath(canonicalPath("/music/new.mp3"))
	if !ok || id != 1 {
		t.Fatalf("lookupPath(new path) = (%d, %v), want (1, true)", id, ok)
	}
}

func TestPrefixIDsOrderedByPath(t *testing.T) {
	ix := newIndexSet()
	ix.insert(&MediaFile{ID: 1, Path: "/music/b.mp3"})
	ix.insert(&MediaFile{ID: 2, Path: "/music/a.mp3"})
	ix.insert(&MediaFile{ID: 3, Path: "/video/c.mp4"})

	ids := prefixIDs(ix, "/music/")
	if len(ids) != 2 || ids[0] != 2 || ids[1] != 1 {
		t.Errorf("prefixIDs(/music/) = %v, want [2 1] (ordered by path)", ids)
	}
}

func TestPrefixIDsEmptyPrefixMatchesAll(t *testing.T) {
	ix := newIndexSet()
	ix.insert(&MediaFile{ID: 1, Path: "/a"})
	ix.insert(&MediaFile{ID: 2, Path: "/b"})

	ids := prefixIDs(ix, "")
	if len(ids) != 2 {
		t.Errorf("prefixIDs(\"\") = %v, want both records", ids)
	}
}

func TestCategoricalIndexGroupsByNormalizedTag(t *testing.T) {
	ix := newIndexSet()
	ix.insert(&MediaFile{ID: 1, Path: "/a.mp3", Artist: "  Radiohead "})
	ix.insert(&MediaFile{ID: 2, Path: "/b.mp3", Artist: "radiohead"})

	ids := ix.artistIndex["radiohead"]
	if len(ids) != 2 {
		t.Errorf("artist_index[radiohead] = %v, want both ids grouped together", ids)
	}
}
