package ollama

import (
	"context"
	"fmt"
	"strings"

	"github.com/OFFIS-RIT/quill/pkg/ai"

	"github.com/ollama/ollama/api"
)

// GenerateEmbedding embeds a single input. Blank input yields a zero vector.
func (c *GraphOllamaClient) GenerateEmbedding(ctx context.Context, input []byte) ([]float32, error) {
	res, err := c.GenerateEmbeddings(ctx, [][]byte{input})
	if err != nil {
		return nil, err
	}
	return res[0], nil
}

// GenerateEmbeddings embeds all non-blank inputs with one /api/embed call.
func (c *GraphOllamaClient) GenerateEmbeddings(ctx context.Context, inputs [][]byte) ([][]float32, error) {
	out := make([][]float32, len(inputs))
	idx := make([]int, 0, len(inputs))
	texts := make([]string, 0, len(inputs))
	for i, in := range inputs {
		if strings.TrimSpace(string(in)) == "" {
			continue
		}
		idx = append(idx, i)
		texts = append(texts, string(in))
	}

	if len(texts) > 0 {
		rCtx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()

		if err := c.reqLock.Acquire(rCtx, 1); err != nil {
			return nil, err
		}
		defer c.reqLock.Release(1)

		res, err := c.Client.Embed(rCtx, &api.EmbedRequest{
			Model: c.embeddingModel,
			Input: texts,
		})
		if err != nil {
			return nil, err
		}
		c.Record(ai.ModelMetrics{
			InputTokens: res.PromptEvalCount,
			TotalTokens: res.PromptEvalCount,
			DurationMs:  res.TotalDuration.Milliseconds(),
		})
		if len(res.Embeddings) != len(texts) {
			return nil, fmt.Errorf("embedding response size mismatch: got %d want %d", len(res.Embeddings), len(texts))
		}
		for j, emb := range res.Embeddings {
			out[idx[j]] = c.fit(emb)
		}
	}

	dim := c.embeddingDim
	for _, v := range out {
		if v != nil && dim == 0 {
			dim = len(v)
		}
	}
	for i := range out {
		if out[i] == nil {
			out[i] = make([]float32, dim)
		}
	}
	return out, nil
}

func (c *GraphOllamaClient) fit(vals []float32) []float32 {
	if c.embeddingDim <= 0 || len(vals) == c.embeddingDim {
		return vals
	}
	vec := make([]float32, c.embeddingDim)
	copy(vec, vals)
	return vec
}
