// On-disk manifest: the small root file that tells Initialize where
// everything else is. Encoded with goccy/go-json (the teacher's codec
// of choice for everything except the hot record path, which is now
// binary — see record.go) and written with a temp-file-plus-rename so a
// crash mid-write never leaves a torn manifest (the same atomic-publish
// pattern the teacher's header.go uses for the JSONL file header).
package mediadb

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/goccy/go-json"
)

const manifestFileName = "manifest"

// manifest is the root metadata record for one database directory.
type manifest struct {
	SchemaVersion uint16 `json:"schema_version"`

	WALSegment uint32 `json:"wal_segment"`
	WALSegmentReplayFrom uint32 `json:"wal_segment_replay_from"`

	StoreSegment uint32 `json:"store_segment"`

	// CheckpointLSN is the watermark: WAL frames with lsn <= this value
	// are already reflected in the page store and must not be replayed.
	CheckpointLSN uint64 `json:"checkpoint_lsn"`

	// NextID is the id high-water mark; the next assigned id is NextID+1.
	NextID uint64 `json:"next_id"`

	// BatchesSinceCheckpoint counts committed batches since the last
	// checkpoint, one of the two checkpoint triggers (spec §4.B).
	BatchesSinceCheckpoint int `json:"batches_since_checkpoint"`
}

func manifestPath(dir string) string {
	return filepath.Join(dir, manifestFileName)
}

// loadOrCreateManifest reads the manifest at dir, or creates and
// persists a fresh one if the directory is new.
func loadOrCreateManifest(dir string) (*manifest, error) {
	path := manifestPath(dir)
	buf, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: read manifest: %v", ErrIo, err)
		}
		m := &manifest{
			SchemaVersion: schemaVersion,
			WALSegment:    0,
			StoreSegment:  0,
			CheckpointLSN: 0,
			NextID:        0,
		}
		if err := m.save(dir); err != nil {
			return nil, err
		}
		return m, nil
	}

	var m manifest
	if err := json.Unmarshal(buf, &m); err != nil {
		return nil, fmt.Errorf("%w: decode manifest: %v", ErrCorruption, err)
	}
	if m.SchemaVersion > schemaVersion {
		return nil, fmt.Errorf("%w: manifest schema version %d newer than supported %d", ErrCorruption, m.SchemaVersion, schemaVersion)
	}
	return &m, nil
}

// save atomically publishes m: encode to a temp file in the same
// directory, fsync, then rename over the previous manifest.
func (m *manifest) save(dir string) error {
	buf, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("%w: encode manifest: %v", ErrCorruption, err)
	}

	tmp := manifestPath(dir) + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("%w: create manifest tmp: %v", ErrIo, err)
	}
	if _, err := f.Write(buf); err != nil {
		f.Close()
		return fmt.Errorf("%w: write manifest tmp: %v", ErrIo, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("%w: sync manifest tmp: %v", ErrIo, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("%w: close manifest tmp: %v", ErrIo, err)
	}
	if err := os.Rename(tmp, manifestPath(dir)); err != nil {
		return fmt.Errorf("%w: publish manifest: %v", ErrIo, err)
	}
	return nil
}
