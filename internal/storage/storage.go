// Package storage persists collection snapshots outside the process so a
// restarted server or worker can restore its graph and document registry.
package storage

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/OFFIS-RIT/quill/pkg/indexer"
)

const snapshotExt = ".json"

var unsafeKey = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// snapshotName maps a collection to a file or object name.
func snapshotName(collection string) string {
	name := unsafeKey.ReplaceAllString(strings.TrimSpace(collection), "_")
	name = strings.Trim(name, ".")
	if name == "" {
		name = "_"
	}
	return name + snapshotExt
}

func encode(snap *indexer.Snapshot) ([]byte, error) {
	data, err := json.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("encode snapshot %s: %w", snap.Collection, err)
	}
	return data, nil
}

func decode(data []byte, collection string) (*indexer.Snapshot, error) {
	var snap indexer.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("decode snapshot %s: %w", collection, err)
	}
	if snap.Collection != "" && snap.Collection != collection {
		return nil, fmt.Errorf("snapshot belongs to collection %q, not %q", snap.Collection, collection)
	}
	return &snap, nil
}
