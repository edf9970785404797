package indexer

import (
	"cmp"
	"context"
	"slices"
	"strings"

	"github.com/OFFIS-RIT/quill/pkg/common"
	"github.com/OFFIS-RIT/quill/pkg/vector"
)

const (
	SearchVector = "vector"
	SearchGraph  = "graph"
	SearchHybrid = "hybrid"

	KindChunk = "chunk"
	KindPath  = "path"
)

type SearchRequest struct {
	Query      string         `json:"query" validate:"required"`
	SearchType string         `json:"search_type"`
	Limit      int            `json:"limit"`
	DocID      string         `json:"doc_id"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// SearchResult is one entry of the unified ranking. ID identifies the
// underlying object: "chunk:<chunk id>" or "entity:<canonical key>" for the
// node a path leads to.
type SearchResult struct {
	ID       string                `json:"id"`
	Kind     string                `json:"kind"`
	Score    float64               `json:"score"`
	RawScore float64               `json:"raw_score"`
	Text     string                `json:"text"`
	DocID    string                `json:"doc_id,omitempty"`
	Position int                   `json:"position_index,omitempty"`
	Metadata map[string]any        `json:"metadata,omitempty"`
	Path     *common.NarrativePath `json:"path,omitempty"`
}

type SearchResponse struct {
	SearchType string         `json:"search_type"`
	Results    []SearchResult `json:"results"`
	// Error is set when one of the sources was unavailable; Results then
	// holds whatever the other source produced.
	Error    bool     `json:"error"`
	Warnings []string `json:"warnings,omitempty"`
}

// Search ranks chunks, narrative paths or both for query.
//
// Vector scores are cosine similarities clamped to [0,1]; path scores are
// divided by the best path score. Hybrid search merges both lists by that
// normalised score and keeps only the best result per underlying chunk or
// entity. Ties are broken by kind, then ID.
func (i *Indexer) Search(ctx context.Context, req SearchRequest) (SearchResponse, error) {
	if strings.TrimSpace(req.Query) == "" {
		return SearchResponse{}, common.InvalidInput("query is required")
	}
	searchType := strings.ToLower(strings.TrimSpace(req.SearchType))
	if searchType == "" {
		searchType = SearchHybrid
	}
	if searchType != SearchVector && searchType != SearchGraph && searchType != SearchHybrid {
		return SearchResponse{}, common.InvalidInput("unknown search_type %q", req.SearchType)
	}
	limit := req.Limit
	if limit <= 0 {
		limit = DefaultSearchResults
	}

	resp := SearchResponse{SearchType: searchType}
	var results []SearchResult

	if searchType != SearchGraph {
		hits, warning := i.search(ctx, req.Query, limit, vector.Filter{DocID: req.DocID, Metadata: req.Metadata})
		if warning != "" {
			resp.Error = true
			resp.Warnings = append(resp.Warnings, warning)
		}
		for _, h := range hits {
			results = append(results, SearchResult{
				ID:       "chunk:" + h.ID,
				Kind:     KindChunk,
				Score:    min(max(h.Score, 0), 1),
				RawScore: h.Score,
				Text:     h.Text,
				DocID:    h.DocID,
				Position: h.Position,
				Metadata: h.Metadata,
			})
		}
	}

	if searchType != SearchVector {
		paths, err := i.retriever.Retrieve(ctx, req.Query)
		if err != nil {
			if ctx.Err() != nil {
				return SearchResponse{}, err
			}
			resp.Error = true
			resp.Warnings = append(resp.Warnings, "graph search unavailable: "+err.Error())
		}
		top := 0.0
		for _, p := range paths {
			top = max(top, p.Score)
		}
		for _, p := range paths {
			score := 0.0
			if top > 0 {
				score = p.Score / top
			}
			results = append(results, SearchResult{
				ID:       "entity:" + p.End(),
				Kind:     KindPath,
				Score:    score,
				RawScore: p.Score,
				Text:     p.Narrative,
				Path:     &p,
			})
		}
	}

	resp.Results = rankResults(results, limit)
	return resp, nil
}

// rankResults orders results and drops every result whose ID already
// appeared with a higher score.
func rankResults(results []SearchResult, limit int) []SearchResult {
	slices.SortStableFunc(results, func(a, b SearchResult) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		if c := cmp.Compare(a.Kind, b.Kind); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})

	seen := make(map[string]struct{}, len(results))
	out := make([]SearchResult, 0, min(len(results), limit))
	for _, r := range results {
		if _, dup := seen[r.ID]; dup {
			continue
		}
		seen[r.ID] = struct{}{}
		out = append(out, r)
		if len(out) == limit {
			break
		}
	}
	return out
}
