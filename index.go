// In-memory secondary indices, kept consistent with the Page Store.
//
// path_index is the sorted-key structure spec §4.D requires for prefix
// range scans; it is backed by github.com/google/btree, the ecosystem's
// answer to the ordered-map need the teacher gets for free from its
// sorted on-disk region (scan.go's binary search over a sorted file
// range). directory_index/artist_index/album_index/genre_index are
// plain maps of insertion-ordered id slices — unordered categorical
// lookups have no prefix-scan requirement, so a hash map suffices.
//
// Every mutation here happens inside the Batch Writer's single critical
// section (spec §4.D: "indices are updated in the same critical section
// as the Page Store write for a batch"); indexSet itself holds no lock.
package mediadb

import (
	"strings"

	"github.com/google/btree"
)

// pathEntry is the btree.Item stored in path_index: canonical path to id.
type pathEntry struct {
	path string
	id   uint64
}

func (a pathEntry) Less(than btree.Item) bool {
	return a.path < than.(pathEntry).path
}

// indexSet holds all secondary indices for one database. All of its
// methods assume the caller already holds the writer's critical section
// (for mutation) or a reader snapshot (for lookup); it performs no
// locking of its own.
type indexSet struct {
	pathIndex *btree.BTree // pathEntry, ordered by canonical path
	pathBloom *bloom       // fast negative-lookup accelerator over pathIndex

	directoryIndex map[string][]uint64
	artistIndex    map[string][]uint64
	albumIndex     map[string][]uint64
	genreIndex     map[string][]uint64

	// pathByID supports removing stale directory/categorical index
	// entries on update/delete without re-deriving the canonical path
	// from a possibly-stale record.
	pathByID map[uint64]string
	tagsByID map[uint64]categoricalTags
}

type categoricalTags struct {
	artist string
	album  string
	genre  string
}

const btreeDegree = 32

func newIndexSet() *indexSet {
	return &indexSet{
		pathIndex:      btree.New(btreeDegree),
		pathBloom:      newBloom(),
		directoryIndex: make(map[string][]uint64),
		artistIndex:    make(map[string][]uint64),
		albumIndex:     make(map[string][]uint64),
		genreIndex:     make(map[string][]uint64),
		pathByID:       make(map[uint64]string),
		tagsByID:       make(map[uint64]categoricalTags),
	}
}

// insert adds a new live record's index entries. Callers must ensure no
// live record already holds m's canonical path (spec invariant 1);
// replace is used instead when replacing an existing record's value in place.
func (ix *indexSet) insert(m *MediaFile) {
	cp := canonicalPath(m.Path)
	ix.pathIndex.ReplaceOrInsert(pathEntry{cp, m.ID})
	ix.pathBloom.Add(cp)
	ix.pathByID[m.ID] = cp

	dir := parentDir(cp)
	ix.directoryIndex[dir] = append(ix.directoryIndex[dir], m.ID)

	tags := categoricalTags{
		artist: normalizeTag(m.Artist),
		album:  normalizeTag(m.Album),
		genre:  normalizeTag(m.Genre),
	}
	ix.tagsByID[m.ID] = tags
	addToCategorical(ix.artistIndex, tags.artist, m.ID)
	addToCategorical(ix.albumIndex, tags.album, m.ID)
	addToCategorical(ix.genreIndex, tags.genre, m.ID)
}

// remove deletes all index entries for id (used by delete/update/cleanup).
func (ix *indexSet) remove(id uint64) {
	cp, ok := ix.pathByID[id]
	if !ok {
		return
	}
	ix.pathIndex.Delete(pathEntry{cp, id})
	delete(ix.pathByID, id)

	dir := parentDir(cp)
	ix.directoryIndex[dir] = removeID(ix.directoryIndex[dir], id)
	if len(ix.directoryIndex[dir]) == 0 {
		delete(ix.directoryIndex, dir)
	}

	tags, ok := ix.tagsByID[id]
	if ok {
		removeFromCategorical(ix.artistIndex, tags.artist, id)
		removeFromCategorical(ix.albumIndex, tags.album, id)
		removeFromCategorical(ix.genreIndex, tags.genre, id)
		delete(ix.tagsByID, id)
	}
}

// replace atomically removes id's old index entries and inserts m's new
// ones, used for update/upsert of an existing canonical path.
func (ix *indexSet) replace(id uint64, m *MediaFile) {
	ix.remove(id)
	ix.insert(m)
}

// lookupPath returns the id for a canonical path, or (0, false). The
// bloom filter short-circuits the common miss case without a btree
// descent; a bloom hit still falls through to the authoritative lookup.
func (ix *indexSet) lookupPath(cp string) (uint64, bool) {
	if !ix.pathBloom.MaybeContains(cp) {
		return 0, false
	}
	item := ix.pathIndex.Get(pathEntry{path: cp})
	if item == nil {
		return 0, false
	}
	return item.(pathEntry).id, true
}

// prefixIDs returns ids whose canonical path has the given (already
// normalized) prefix, sorted by path, per spec §4.F / §9 Open Question 1
// (an empty prefix matches every record).
func prefixIDs(ix *indexSet, prefix string) []uint64 {
	upper := prefixUpperBound(prefix)
	var ids []uint64
	ix.pathIndex.AscendRange(pathEntry{path: prefix}, pathEntry{path: upper}, func(item btree.Item) bool {
		ids = append(ids, item.(pathEntry).id)
		return true
	})
	return ids
}

func normalizeTag(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func addToCategorical(idx map[string][]uint64, key string, id uint64) {
	if key == "" {
		return
	}
	idx[key] = append(idx[key], id)
}

func removeFromCategorical(idx map[string][]uint64, key string, id uint64) {
	if key == "" {
		return
	}
	idx[key] = removeID(idx[key], id)
	if len(idx[key]) == 0 {
		delete(idx, key)
	}
}

func removeID(ids []uint64, id uint64) []uint64 {
	for i, v := range ids {
		if v == id {
			return append(ids[:i], ids[i+1:]...)
		}
	}
	return ids
}
