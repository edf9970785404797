package vector

import (
	"cmp"
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"

	"github.com/OFFIS-RIT/quill/pkg/common"
	"github.com/OFFIS-RIT/quill/pkg/logger"
)

const DefaultResults = 5

// MemoryIndex is an exhaustive cosine-similarity index held in memory.
// It is safe for concurrent use; writers replace a document's chunk set in
// one step so readers never observe a partial document.
type MemoryIndex struct {
	embedder Embedder

	mu   sync.RWMutex
	docs map[string][]common.Chunk // ordered by position
	byID map[string]common.Chunk
}

func NewMemoryIndex(embedder Embedder) *MemoryIndex {
	return &MemoryIndex{
		embedder: embedder,
		docs:     make(map[string][]common.Chunk),
		byID:     make(map[string]common.Chunk),
	}
}

// AddDocument embeds chunks and then swaps them in for docID. If embedding
// fails the previously stored chunks stay untouched.
func (m *MemoryIndex) AddDocument(ctx context.Context, docID string, chunks []common.Chunk, metadata map[string]any) ([]string, error) {
	if strings.TrimSpace(docID) == "" {
		return nil, common.InvalidInput("doc_id is required")
	}

	prepared := make([]common.Chunk, len(chunks))
	texts := make([]string, len(chunks))
	for i, ch := range chunks {
		ch.DocID = docID
		md := make(map[string]any, len(ch.Metadata)+len(metadata))
		maps.Copy(md, metadata)
		maps.Copy(md, ch.Metadata)
		ch.Metadata = md
		prepared[i] = ch
		texts[i] = ch.Text
	}

	if len(texts) > 0 {
		vecs, err := m.embedder.Embed(ctx, texts)
		if err != nil {
			return nil, fmt.Errorf("embed %d chunks: %w", len(texts), err)
		}
		if len(vecs) != len(texts) {
			return nil, fmt.Errorf("embedder returned %d vectors for %d chunks", len(vecs), len(texts))
		}
		for i := range prepared {
			prepared[i].Embedding = vecs[i]
		}
	}
	slices.SortStableFunc(prepared, func(a, b common.Chunk) int { return cmp.Compare(a.Position, b.Position) })

	ids := make([]string, len(prepared))
	for i, ch := range prepared {
		ids[i] = ch.ID
	}

	m.mu.Lock()
	m.removeLocked(docID)
	if len(prepared) > 0 {
		m.docs[docID] = prepared
		for _, ch := range prepared {
			m.byID[ch.ID] = ch
		}
	}
	m.mu.Unlock()

	logger.Debug("[Vector] stored document", "doc_id", docID, "chunks", len(prepared))
	return ids, nil
}

func (m *MemoryIndex) removeLocked(docID string) {
	for _, ch := range m.docs[docID] {
		delete(m.byID, ch.ID)
	}
	delete(m.docs, docID)
}

func (m *MemoryIndex) DeleteDocument(_ context.Context, docID string) error {
	m.mu.Lock()
	m.removeLocked(docID)
	m.mu.Unlock()
	return nil
}

// Search ranks stored chunks by cosine similarity to the query. Ties are
// broken by position, then doc_id, then chunk id.
func (m *MemoryIndex) Search(ctx context.Context, query string, n int, filter Filter) ([]common.SearchHit, error) {
	if strings.TrimSpace(query) == "" {
		return nil, nil
	}
	if n <= 0 {
		n = DefaultResults
	}

	vecs, err := m.embedder.Embed(ctx, []string{query})
	if err != nil || len(vecs) != 1 {
		if err == nil {
			err = fmt.Errorf("embedder returned %d vectors for 1 query", len(vecs))
		}
		logger.Warn("[Vector] query embedding failed", "err", err)
		return []common.SearchHit{}, &common.SearchUnavailableError{Err: err}
	}
	q := vecs[0]

	m.mu.RLock()
	var hits []common.SearchHit
	for docID, chunks := range m.docs {
		if filter.DocID != "" && filter.DocID != docID {
			continue
		}
		for _, ch := range chunks {
			if !MatchesMetadata(ch.Metadata, filter.Metadata) {
				continue
			}
			hits = append(hits, common.SearchHit{
				ID:       ch.ID,
				DocID:    ch.DocID,
				Text:     ch.Text,
				Score:    CosineSimilarity(q, ch.Embedding),
				Position: ch.Position,
				Metadata: ch.Metadata,
			})
		}
	}
	m.mu.RUnlock()

	SortHits(hits)
	if len(hits) > n {
		hits = hits[:n]
	}
	return hits, nil
}

// SortHits orders hits by score descending with deterministic tie-breaking.
func SortHits(hits []common.SearchHit) {
	slices.SortFunc(hits, func(a, b common.SearchHit) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		if c := cmp.Compare(a.Position, b.Position); c != 0 {
			return c
		}
		if c := cmp.Compare(a.DocID, b.DocID); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
}

// GetContextWindow returns the chunks within window positions of chunkID in
// the same document, ordered by position and including the target.
func (m *MemoryIndex) GetContextWindow(_ context.Context, chunkID string, window int) ([]common.Chunk, error) {
	if window < 0 {
		window = 0
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	target, ok := m.byID[chunkID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrChunkNotFound, chunkID)
	}
	var out []common.Chunk
	for _, ch := range m.docs[target.DocID] {
		if ch.Position >= target.Position-window && ch.Position <= target.Position+window {
			out = append(out, ch)
		}
	}
	return out, nil
}

func (m *MemoryIndex) DocumentChunks(_ context.Context, docID string) ([]common.Chunk, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.docs[docID]), nil
}

func (m *MemoryIndex) Stats(context.Context) (Stats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Stats{Documents: len(m.docs), Chunks: len(m.byID)}, nil
}

// Snapshot returns every stored chunk including embeddings, ordered by
// doc_id and position.
func (m *MemoryIndex) Snapshot() []common.Chunk {
	m.mu.RLock()
	defer m.mu.RUnlock()
	docIDs := slices.Sorted(maps.Keys(m.docs))
	var out []common.Chunk
	for _, id := range docIDs {
		out = append(out, m.docs[id]...)
	}
	return out
}

// Restore replaces the whole index with chunks taken from Snapshot.
// Chunks without an embedding are re-embedded.
func (m *MemoryIndex) Restore(ctx context.Context, chunks []common.Chunk) error {
	var missing []int
	var texts []string
	restored := slices.Clone(chunks)
	for i, ch := range restored {
		if len(ch.Embedding) == 0 {
			missing = append(missing, i)
			texts = append(texts, ch.Text)
		}
	}
	if len(texts) > 0 {
		vecs, err := m.embedder.Embed(ctx, texts)
		if err != nil {
			return fmt.Errorf("re-embed restored chunks: %w", err)
		}
		if len(vecs) != len(texts) {
			return fmt.Errorf("embedder returned %d vectors for %d restored chunks", len(vecs), len(texts))
		}
		for j, i := range missing {
			restored[i].Embedding = vecs[j]
		}
	}

	docs := make(map[string][]common.Chunk)
	byID := make(map[string]common.Chunk, len(restored))
	for _, ch := range restored {
		docs[ch.DocID] = append(docs[ch.DocID], ch)
		byID[ch.ID] = ch
	}
	for id := range docs {
		slices.SortStableFunc(docs[id], func(a, b common.Chunk) int { return cmp.Compare(a.Position, b.Position) })
	}

	m.mu.Lock()
	m.docs = docs
	m.byID = byID
	m.mu.Unlock()
	return nil
}
