package query

import (
	"cmp"
	"context"
	"slices"
	"strings"

	"github.com/OFFIS-RIT/quill/pkg/common"
	"github.com/OFFIS-RIT/quill/pkg/graph"
)

const (
	DefaultMaxDepth = 2
	DefaultTopK     = 5

	// maxCandidates bounds the paths collected per query on dense graphs.
	maxCandidates = 4096
)

// Options configures a Retriever. Zero values select the defaults.
type Options struct {
	MaxDepth int
	TopK     int
	Tracer   Tracer
}

// Retriever finds narrative paths around the entities a text mentions.
type Retriever struct {
	graph    *graph.NarrativeGraph
	maxDepth int
	topK     int
	tracer   Tracer
}

func NewRetriever(g *graph.NarrativeGraph, opts Options) *Retriever {
	if opts.MaxDepth <= 0 {
		opts.MaxDepth = DefaultMaxDepth
	}
	if opts.TopK <= 0 {
		opts.TopK = DefaultTopK
	}
	return &Retriever{graph: g, maxDepth: opts.MaxDepth, topK: opts.TopK, tracer: opts.Tracer}
}

type partial struct {
	nodes   []string
	steps   []common.PathStep
	seqs    []int64
	docs    []string
	weight  float64
	product float64
}

// Retrieve returns the top paths for text, best first. Seeds are the nodes
// whose labels appear in text; paths follow edges in either direction up to
// the depth bound and are rendered in the edges' true direction. A text that
// mentions no known entity yields an empty result.
//
// A path scores seed weight × product of edge confidences × mean recency,
// where recency is 0.9 + 0.1·seq/maxSeq of the edge's latest document.
func (r *Retriever) Retrieve(ctx context.Context, text string, tracers ...Tracer) ([]common.NarrativePath, error) {
	tracer := MultiTracer(append([]Tracer{r.tracer}, tracers...))

	seeds := r.graph.FindMentions(text)
	if len(seeds) == 0 {
		return []common.NarrativePath{}, nil
	}
	seedKeys := make([]string, 0, len(seeds))
	for _, s := range seeds {
		seedKeys = append(seedKeys, s.Key)
	}
	RecordSeedNodes(tracer, seedKeys...)

	maxSeq := r.graph.MaxSeq()
	adjacency := make(map[string][]graph.Adjacency)
	adjacent := func(key string) []graph.Adjacency {
		adj, ok := adjacency[key]
		if !ok {
			adj = r.graph.Adjacent(key)
			adjacency[key] = adj
		}
		return adj
	}

	best := make(map[string]common.NarrativePath)
	docsByNarrative := make(map[string][]string)
	candidates := 0

	for _, seed := range seeds {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		frontier := []partial{{nodes: []string{seed.Key}, weight: seed.Weight, product: 1}}
		for depth := 0; depth < r.maxDepth && len(frontier) > 0 && candidates < maxCandidates; depth++ {
			var next []partial
			for _, p := range frontier {
				cur := p.nodes[len(p.nodes)-1]
				for _, adj := range adjacent(cur) {
					if slices.Contains(p.nodes, adj.Other) {
						continue
					}
					ext := extend(p, adj)
					path := render(ext, maxSeq)
					if prev, ok := best[path.Narrative]; !ok || path.Score > prev.Score {
						best[path.Narrative] = path
						docsByNarrative[path.Narrative] = ext.docs
					}
					next = append(next, ext)
					candidates++
					if candidates >= maxCandidates {
						break
					}
				}
				if candidates >= maxCandidates {
					break
				}
			}
			frontier = next
		}
	}

	out := make([]common.NarrativePath, 0, len(best))
	for _, p := range best {
		out = append(out, p)
	}
	slices.SortFunc(out, func(a, b common.NarrativePath) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		return cmp.Compare(a.Narrative, b.Narrative)
	})
	if len(out) > r.topK {
		out = out[:r.topK]
	}

	var visited, docs []string
	for _, p := range out {
		visited = append(visited, p.Nodes...)
		docs = append(docs, docsByNarrative[p.Narrative]...)
	}
	RecordVisitedNodes(tracer, visited...)
	RecordSourceDocs(tracer, docs...)

	return out, nil
}

func extend(p partial, adj graph.Adjacency) partial {
	e := adj.Edge
	step := common.PathStep{
		Source:     e.SourceName,
		Relation:   e.Relation,
		Target:     e.TargetName,
		Confidence: e.Confidence,
	}
	return partial{
		nodes:   append(slices.Clip(p.nodes), adj.Other),
		steps:   append(slices.Clip(p.steps), step),
		seqs:    append(slices.Clip(p.seqs), e.Seq),
		docs:    append(slices.Clip(p.docs), e.Docs...),
		weight:  p.weight,
		product: p.product * e.Confidence,
	}
}

func render(p partial, maxSeq int64) common.NarrativePath {
	var recency float64
	for _, s := range p.seqs {
		recency += Recency(s, maxSeq)
	}
	recency /= float64(len(p.seqs))

	return common.NarrativePath{
		Steps:     p.steps,
		Nodes:     p.nodes,
		Score:     p.weight * p.product * recency,
		Narrative: Narrate(p.steps),
	}
}

// Recency maps an ingestion sequence onto [0.9, 1] so edges from newer
// documents score slightly higher.
func Recency(seq, maxSeq int64) float64 {
	if maxSeq <= 0 {
		return 1
	}
	return 0.9 + 0.1*float64(seq)/float64(maxSeq)
}

// Narrate renders steps as "Emma interacts_with Marcus; Marcus located_in Temple".
func Narrate(steps []common.PathStep) string {
	parts := make([]string, 0, len(steps))
	for _, s := range steps {
		parts = append(parts, s.Source+" "+s.Relation.Verb()+" "+s.Target)
	}
	return strings.Join(parts, "; ")
}
