package pgx

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"strings"

	pgxv5 "github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pgvector/pgvector-go"

	"github.com/OFFIS-RIT/quill/internal/util"
	"github.com/OFFIS-RIT/quill/pkg/common"
	"github.com/OFFIS-RIT/quill/pkg/logger"
	"github.com/OFFIS-RIT/quill/pkg/vector"
)

const insertBatchSize = 500

type pgxIConn interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, optionsAndArgs ...any) (pgxv5.Rows, error)
	QueryRow(ctx context.Context, sql string, optionsAndArgs ...any) pgxv5.Row
	Begin(ctx context.Context) (pgxv5.Tx, error)
}

// ChunkIndex is a vector.Index on PostgreSQL with pgvector. Every collection
// shares the chunks table; rows are scoped by the collection column.
//
// The pool must have the pgvector types registered (pgxvec.RegisterTypes in
// AfterConnect).
type ChunkIndex struct {
	conn       pgxIConn
	collection string
	embedder   vector.Embedder
}

var _ vector.Index = (*ChunkIndex)(nil)

func NewChunkIndex(conn pgxIConn, collection string, embedder vector.Embedder) *ChunkIndex {
	return &ChunkIndex{conn: conn, collection: collection, embedder: embedder}
}

// AddDocument embeds chunks first and then replaces the stored chunks of
// docID in one transaction, so a failed embedding keeps the old version.
func (s *ChunkIndex) AddDocument(ctx context.Context, docID string, chunks []common.Chunk, metadata map[string]any) ([]string, error) {
	if strings.TrimSpace(docID) == "" {
		return nil, common.InvalidInput("doc_id is required")
	}

	texts := make([]string, len(chunks))
	for i, ch := range chunks {
		texts[i] = ch.Text
	}
	var vecs [][]float32
	if len(texts) > 0 {
		var err error
		vecs, err = s.embedder.Embed(ctx, texts)
		if err != nil {
			return nil, fmt.Errorf("embed %d chunks: %w", len(texts), err)
		}
		if len(vecs) != len(texts) {
			return nil, fmt.Errorf("embedder returned %d vectors for %d chunks", len(vecs), len(texts))
		}
	}

	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, deleteDocumentSQL, s.collection, docID); err != nil {
		return nil, fmt.Errorf("delete previous chunks: %w", err)
	}

	ids := make([]string, len(chunks))
	err = chunkRange(len(chunks), insertBatchSize, func(start, end int) error {
		batch := &pgxv5.Batch{}
		for i := start; i < end; i++ {
			ch := chunks[i]
			md, err := chunkMetadata(metadata, ch.Metadata)
			if err != nil {
				return err
			}
			batch.Queue(insertChunkSQL,
				s.collection, ch.ID, docID, ch.Position,
				util.SanitizePostgresText(ch.Text), md, pgvector.NewVector(vecs[i]),
			)
			ids[i] = ch.ID
		}
		return tx.SendBatch(ctx, batch).Close()
	})
	if err != nil {
		return nil, fmt.Errorf("insert chunks: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	logger.Debug("[Store] Stored document chunks", "collection", s.collection, "doc_id", docID, "chunks", len(ids))
	return ids, nil
}

func (s *ChunkIndex) DeleteDocument(ctx context.Context, docID string) error {
	_, err := s.conn.Exec(ctx, deleteDocumentSQL, s.collection, docID)
	return err
}

// Search ranks chunks by cosine similarity. An embedding failure is
// reported as *common.SearchUnavailableError with no hits.
func (s *ChunkIndex) Search(ctx context.Context, query string, n int, filter vector.Filter) ([]common.SearchHit, error) {
	if strings.TrimSpace(query) == "" {
		return nil, nil
	}
	if n <= 0 {
		n = vector.DefaultResults
	}

	vecs, err := s.embedder.Embed(ctx, []string{query})
	if err != nil || len(vecs) != 1 {
		if err == nil {
			err = fmt.Errorf("embedder returned %d vectors for 1 query", len(vecs))
		}
		logger.Warn("[Store] Query embedding failed", "collection", s.collection, "err", err)
		return []common.SearchHit{}, &common.SearchUnavailableError{Err: err}
	}

	filterJSON, err := metadataFilter(filter.Metadata)
	if err != nil {
		return nil, common.InvalidInput("metadata filter: %v", err)
	}

	rows, err := s.conn.Query(ctx, searchSQL, s.collection, pgvector.NewVector(vecs[0]), filter.DocID, filterJSON, n)
	if err != nil {
		return []common.SearchHit{}, &common.SearchUnavailableError{Err: err}
	}
	defer rows.Close()

	hits := []common.SearchHit{}
	for rows.Next() {
		var h common.SearchHit
		var md []byte
		if err := rows.Scan(&h.ID, &h.DocID, &h.Position, &h.Text, &md, &h.Score); err != nil {
			return nil, err
		}
		if h.Metadata, err = decodeMetadata(md); err != nil {
			return nil, err
		}
		hits = append(hits, h)
	}
	if err := rows.Err(); err != nil {
		return []common.SearchHit{}, &common.SearchUnavailableError{Err: err}
	}
	return hits, nil
}

func (s *ChunkIndex) GetContextWindow(ctx context.Context, chunkID string, window int) ([]common.Chunk, error) {
	window = max(window, 0)
	chunks, err := s.queryChunks(ctx, contextWindowSQL, s.collection, chunkID, window)
	if err != nil {
		return nil, err
	}
	if len(chunks) == 0 {
		return nil, fmt.Errorf("%w: %s", vector.ErrChunkNotFound, chunkID)
	}
	return chunks, nil
}

func (s *ChunkIndex) DocumentChunks(ctx context.Context, docID string) ([]common.Chunk, error) {
	return s.queryChunks(ctx, documentChunksSQL, s.collection, docID)
}

func (s *ChunkIndex) Stats(ctx context.Context) (vector.Stats, error) {
	var st vector.Stats
	err := s.conn.QueryRow(ctx, statsSQL, s.collection).Scan(&st.Documents, &st.Chunks)
	return st, err
}

func (s *ChunkIndex) queryChunks(ctx context.Context, sql string, args ...any) ([]common.Chunk, error) {
	rows, err := s.conn.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []common.Chunk
	for rows.Next() {
		var ch common.Chunk
		var md []byte
		if err := rows.Scan(&ch.ID, &ch.DocID, &ch.Position, &ch.Text, &md); err != nil {
			return nil, err
		}
		if ch.Metadata, err = decodeMetadata(md); err != nil {
			return nil, err
		}
		out = append(out, ch)
	}
	return out, rows.Err()
}

// chunkMetadata merges document and chunk metadata into the jsonb value
// stored with a chunk.
func chunkMetadata(doc, chunk map[string]any) ([]byte, error) {
	md := make(map[string]any, len(doc)+len(chunk))
	maps.Copy(md, doc)
	maps.Copy(md, chunk)
	return json.Marshal(md)
}

// metadataFilter encodes the filter for jsonb containment. Unlike the
// in-memory index values must match in JSON type, not only in print.
func metadataFilter(want map[string]any) ([]byte, error) {
	if len(want) == 0 {
		return []byte("{}"), nil
	}
	return json.Marshal(want)
}

func decodeMetadata(raw []byte) (map[string]any, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var md map[string]any
	if err := json.Unmarshal(raw, &md); err != nil {
		return nil, fmt.Errorf("decode chunk metadata: %w", err)
	}
	return md, nil
}

func chunkRange(total, size int, fn func(start, end int) error) error {
	if total <= 0 {
		return nil
	}
	if size <= 0 {
		size = total
	}
	for start := 0; start < total; start += size {
		if err := fn(start, min(start+size, total)); err != nil {
			return err
		}
	}
	return nil
}

const deleteDocumentSQL = `
DELETE FROM chunks WHERE collection = $1 AND doc_id = $2;
`

const insertChunkSQL = `
INSERT INTO chunks (collection, id, doc_id, position, text, metadata, embedding)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (collection, id) DO UPDATE
SET doc_id    = EXCLUDED.doc_id,
    position  = EXCLUDED.position,
    text      = EXCLUDED.text,
    metadata  = EXCLUDED.metadata,
    embedding = EXCLUDED.embedding;
`

const searchSQL = `
SELECT id, doc_id, position, text, metadata, 1 - (embedding <=> $2) AS score
FROM chunks
WHERE collection = $1
  AND ($3 = '' OR doc_id = $3)
  AND metadata @> $4::jsonb
ORDER BY score DESC, position, doc_id, id
LIMIT $5;
`

const contextWindowSQL = `
SELECT c.id, c.doc_id, c.position, c.text, c.metadata
FROM chunks t
JOIN chunks c ON c.collection = t.collection AND c.doc_id = t.doc_id
WHERE t.collection = $1 AND t.id = $2
  AND c.position BETWEEN t.position - $3 AND t.position + $3
ORDER BY c.position;
`

const documentChunksSQL = `
SELECT id, doc_id, position, text, metadata
FROM chunks
WHERE collection = $1 AND doc_id = $2
ORDER BY position;
`

const statsSQL = `
SELECT count(DISTINCT doc_id), count(*) FROM chunks WHERE collection = $1;
`
