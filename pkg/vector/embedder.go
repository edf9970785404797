package vector

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"strings"
	"unicode"

	"github.com/OFFIS-RIT/quill/pkg/ai"
)

// Embedder turns texts into vectors, one per input, in input order.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// AIEmbedder adapts an ai.GraphAIClient to Embedder.
type AIEmbedder struct {
	Client ai.GraphAIClient
}

func (e AIEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	inputs := make([][]byte, len(texts))
	for i, t := range texts {
		inputs[i] = []byte(t)
	}
	out, err := ai.GenerateEmbeddings(ctx, e.Client, inputs)
	if err != nil {
		return nil, err
	}
	if len(out) != len(texts) {
		return nil, fmt.Errorf("embedding count mismatch: got %d want %d", len(out), len(texts))
	}
	return out, nil
}

// HashEmbedder is a deterministic bag-of-words embedder. Each lowercased word
// is hashed into one of Dims buckets with a hash-derived sign and the result
// is L2-normalised. It needs no model and is used for offline runs and tests.
type HashEmbedder struct {
	Dims int
}

func (h HashEmbedder) dims() int {
	if h.Dims <= 0 {
		return 256
	}
	return h.Dims
}

func (h HashEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[i] = h.embed(t)
	}
	return out, nil
}

func (h HashEmbedder) embed(text string) []float32 {
	n := h.dims()
	vec := make([]float32, n)
	for _, w := range Terms(text) {
		f := fnv.New64a()
		_, _ = f.Write([]byte(w))
		sum := f.Sum64()
		sign := float32(1)
		if sum&1 == 1 {
			sign = -1
		}
		vec[(sum>>1)%uint64(n)] += sign
	}
	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		return vec
	}
	scale := float32(1 / math.Sqrt(norm))
	for i := range vec {
		vec[i] *= scale
	}
	return vec
}

var stopwords = map[string]struct{}{
	"a": {}, "an": {}, "the": {}, "and": {}, "or": {}, "of": {}, "to": {}, "in": {}, "on": {}, "at": {},
	"is": {}, "was": {}, "were": {}, "be": {}, "it": {}, "he": {}, "she": {}, "they": {}, "his": {},
	"her": {}, "their": {}, "with": {}, "for": {}, "as": {}, "by": {}, "that": {}, "this": {}, "had": {},
}

// Terms lowercases text and returns its content words in order, without
// punctuation and common function words.
func Terms(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\''
	})
	out := fields[:0]
	for _, f := range fields {
		f = strings.Trim(f, "'")
		f = strings.TrimSuffix(f, "'s")
		if f == "" {
			continue
		}
		if _, stop := stopwords[f]; stop {
			continue
		}
		out = append(out, f)
	}
	return out
}
