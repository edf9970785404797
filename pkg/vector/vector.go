package vector

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/OFFIS-RIT/quill/pkg/common"
)

// ErrChunkNotFound is returned by GetContextWindow for unknown chunk IDs.
var ErrChunkNotFound = errors.New("chunk not found")

// Filter narrows a search. Empty fields match everything; Metadata entries
// must all match exactly.
type Filter struct {
	DocID    string
	Metadata map[string]any
}

type Stats struct {
	Documents int `json:"documents"`
	Chunks    int `json:"chunks"`
}

// Index stores embedded chunks for one collection.
//
// AddDocument replaces every chunk previously stored for docID. Search
// returns an empty list and a *common.SearchUnavailableError when the query
// cannot be embedded; callers are expected to degrade rather than fail.
type Index interface {
	AddDocument(ctx context.Context, docID string, chunks []common.Chunk, metadata map[string]any) ([]string, error)
	Search(ctx context.Context, query string, n int, filter Filter) ([]common.SearchHit, error)
	GetContextWindow(ctx context.Context, chunkID string, window int) ([]common.Chunk, error)
	DocumentChunks(ctx context.Context, docID string) ([]common.Chunk, error)
	DeleteDocument(ctx context.Context, docID string) error
	Stats(ctx context.Context) (Stats, error)
}

// CosineSimilarity returns the cosine of the angle between a and b, or 0 for
// mismatched or zero vectors.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// MatchesMetadata reports whether every key in want is present in have with
// an equal value. Values are compared by their printed form so that JSON
// numbers match Go integers.
func MatchesMetadata(have, want map[string]any) bool {
	for k, v := range want {
		got, ok := have[k]
		if !ok || fmt.Sprint(got) != fmt.Sprint(v) {
			return false
		}
	}
	return true
}
