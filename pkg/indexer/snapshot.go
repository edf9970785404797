package indexer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/OFFIS-RIT/quill/pkg/common"
	"github.com/OFFIS-RIT/quill/pkg/logger"
)

const SnapshotVersion = 1

// Snapshot is the persisted state of one collection.
type Snapshot struct {
	Version    int              `json:"version"`
	Collection string           `json:"collection"`
	CreatedAt  time.Time        `json:"created_at"`
	Graph      common.GraphData `json:"graph"`
	Documents  []DocumentInfo   `json:"documents"`
	Chunks     []common.Chunk   `json:"chunks,omitempty"`
}

// Sink receives snapshots, e.g. an object store or a graph database mirror.
type Sink interface {
	Save(ctx context.Context, snap *Snapshot) error
}

// Source loads the latest snapshot of a collection. It returns nil and no
// error when there is none.
type Source interface {
	Load(ctx context.Context, collection string) (*Snapshot, error)
}

// chunkStore is implemented by indexes that keep their chunks in process
// and therefore need them in the snapshot.
type chunkStore interface {
	Snapshot() []common.Chunk
	Restore(ctx context.Context, chunks []common.Chunk) error
}

// Snapshot captures the graph, the document registry and, for in-process
// indexes, the chunks.
func (i *Indexer) Snapshot() *Snapshot {
	snap := &Snapshot{
		Version:    SnapshotVersion,
		Collection: i.collection,
		CreatedAt:  time.Now().UTC(),
		Graph:      i.graph.Export(),
		Documents:  i.Documents(),
	}
	if cs, ok := i.index.(chunkStore); ok {
		snap.Chunks = cs.Snapshot()
	}
	return snap
}

// Restore replaces the collection state with snap.
func (i *Indexer) Restore(ctx context.Context, snap *Snapshot) error {
	if snap == nil {
		return nil
	}
	if snap.Version != SnapshotVersion {
		return fmt.Errorf("unsupported snapshot version %d", snap.Version)
	}

	if cs, ok := i.index.(chunkStore); ok && len(snap.Chunks) > 0 {
		if err := cs.Restore(ctx, snap.Chunks); err != nil {
			return fmt.Errorf("restore chunks: %w", err)
		}
	}
	i.graph.Import(snap.Graph)
	i.applyAliases()

	i.mu.Lock()
	i.docs = make(map[string]*DocumentInfo, len(snap.Documents))
	for _, d := range snap.Documents {
		i.docs[d.DocID] = &d
	}
	i.mu.Unlock()

	logger.Info("[Indexer] Restored snapshot", "collection", i.collection, "documents", len(snap.Documents), "nodes", len(snap.Graph.Nodes))
	return nil
}

// Persist writes a snapshot to every configured sink. All sinks are tried;
// their errors are joined.
func (i *Indexer) Persist(ctx context.Context) error {
	if len(i.sinks) == 0 {
		return nil
	}
	snap := i.Snapshot()
	var errs []error
	for _, s := range i.sinks {
		if err := s.Save(ctx, snap); err != nil {
			logger.Error("[Indexer] Failed to persist snapshot", "collection", i.collection, "err", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
