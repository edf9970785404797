package indexer

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/OFFIS-RIT/quill/pkg/ai"
	"github.com/OFFIS-RIT/quill/pkg/chunker"
	"github.com/OFFIS-RIT/quill/pkg/common"
	"github.com/OFFIS-RIT/quill/pkg/graph"
	"github.com/OFFIS-RIT/quill/pkg/logger"
	"github.com/OFFIS-RIT/quill/pkg/query"
	"github.com/OFFIS-RIT/quill/pkg/vector"
)

const (
	DefaultParallelDocs        = 4
	DefaultParallelExtractions = 4
	DefaultSearchResults       = 10
)

// DocumentState is the ingestion state of one document.
type DocumentState string

const (
	StateUnindexed  DocumentState = "UNINDEXED"
	StateChunking   DocumentState = "CHUNKING"
	StateEmbedding  DocumentState = "EMBEDDING"
	StateExtracting DocumentState = "EXTRACTING"
	StateMerging    DocumentState = "MERGING"
	StateIndexed    DocumentState = "INDEXED"
	StateVectorOnly DocumentState = "INDEXED_VECTOR_ONLY"
	StateFailed     DocumentState = "FAILED"
)

// Extractor pulls entities and relationships out of a text span. Failures
// come back as an empty extraction plus an error.
type Extractor interface {
	Extract(ctx context.Context, docID string, text string) (common.Extraction, error)
}

// Config wires an Indexer. Index is required; everything else has a
// default or is optional.
type Config struct {
	Collection string
	Chunker    *chunker.Chunker
	Index      vector.Index
	Graph      *graph.NarrativeGraph
	Extractor  Extractor
	// AI enables the optional model-assisted steps: alias dedupe after
	// folder indexing, consistency classification and writing suggestions.
	AI     ai.GraphAIClient
	Locker DocLocker
	Sinks  []Sink

	// Aliases maps an alias to its canonical name. They are registered on
	// the graph at start and after every rebuild.
	Aliases map[string]string

	ParallelDocs        int
	ParallelExtractions int
	PathDepth           int
	PathTopK            int

	LLMConsistency bool
	LLMSuggestions bool
}

// Indexer owns the vector index and the narrative graph of one collection
// and serves every ingestion and query operation on them.
//
// An Indexer should be created using New.
type Indexer struct {
	collection string
	chunker    *chunker.Chunker
	index      vector.Index
	graph      *graph.NarrativeGraph
	extractor  Extractor
	retriever  *query.Retriever
	ai         ai.GraphAIClient
	locker     DocLocker
	sinks      []Sink
	aliases    map[string]string

	parallelDocs        int
	parallelExtractions int
	llmConsistency      bool
	llmSuggestions      bool

	mu   sync.RWMutex
	docs map[string]*DocumentInfo
}

// DocumentInfo is what the indexer remembers about an ingested document.
type DocumentInfo struct {
	DocID         string         `json:"doc_id"`
	State         DocumentState  `json:"state"`
	Chunks        int            `json:"chunks"`
	Entities      int            `json:"entities"`
	Relationships int            `json:"relationships"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// Title returns the document's "title" metadata, or its ID.
func (d DocumentInfo) Title() string {
	if t, ok := d.Metadata["title"].(string); ok && strings.TrimSpace(t) != "" {
		return t
	}
	return d.DocID
}

// IndexResult is returned by IndexDocument.
type IndexResult struct {
	DocID              string        `json:"doc_id"`
	State              DocumentState `json:"state"`
	EntitiesExtracted  int           `json:"entities_extracted"`
	RelationshipsFound int           `json:"relationships_found"`
	ChunksIndexed      int           `json:"chunks_indexed"`
	Warnings           []string      `json:"warnings,omitempty"`
}

func New(cfg Config) (*Indexer, error) {
	if cfg.Index == nil {
		return nil, errors.New("indexer: vector index is required")
	}
	if cfg.Chunker == nil {
		cfg.Chunker = chunker.New(chunker.Options{})
	}
	if cfg.Graph == nil {
		cfg.Graph = graph.New()
	}
	if cfg.Locker == nil {
		cfg.Locker = NewMemoryLocker()
	}
	if cfg.ParallelDocs <= 0 {
		cfg.ParallelDocs = DefaultParallelDocs
	}
	if cfg.ParallelExtractions <= 0 {
		cfg.ParallelExtractions = DefaultParallelExtractions
	}

	idx := &Indexer{
		collection:          cfg.Collection,
		chunker:             cfg.Chunker,
		index:               cfg.Index,
		graph:               cfg.Graph,
		extractor:           cfg.Extractor,
		retriever:           query.NewRetriever(cfg.Graph, query.Options{MaxDepth: cfg.PathDepth, TopK: cfg.PathTopK}),
		ai:                  cfg.AI,
		locker:              cfg.Locker,
		sinks:               cfg.Sinks,
		aliases:             maps.Clone(cfg.Aliases),
		parallelDocs:        cfg.ParallelDocs,
		parallelExtractions: cfg.ParallelExtractions,
		llmConsistency:      cfg.LLMConsistency,
		llmSuggestions:      cfg.LLMSuggestions,
		docs:                make(map[string]*DocumentInfo),
	}
	idx.applyAliases()
	return idx, nil
}

func (i *Indexer) applyAliases() {
	for _, alias := range slices.Sorted(maps.Keys(i.aliases)) {
		i.graph.AddAlias(alias, i.aliases[alias])
	}
}

func (i *Indexer) Collection() string           { return i.collection }
func (i *Indexer) Graph() *graph.NarrativeGraph { return i.graph }
func (i *Indexer) Index() vector.Index          { return i.index }

// DocumentState reports where docID is in the ingestion pipeline.
func (i *Indexer) DocumentState(docID string) DocumentState {
	i.mu.RLock()
	defer i.mu.RUnlock()
	if d, ok := i.docs[docID]; ok {
		return d.State
	}
	return StateUnindexed
}

// Documents lists every known document ordered by ID.
func (i *Indexer) Documents() []DocumentInfo {
	i.mu.RLock()
	defer i.mu.RUnlock()
	out := make([]DocumentInfo, 0, len(i.docs))
	for _, k := range slices.Sorted(maps.Keys(i.docs)) {
		out = append(out, *i.docs[k])
	}
	return out
}

func (i *Indexer) document(docID string) (DocumentInfo, bool) {
	i.mu.RLock()
	defer i.mu.RUnlock()
	if d, ok := i.docs[docID]; ok {
		return *d, true
	}
	return DocumentInfo{}, false
}

func (i *Indexer) setState(docID string, state DocumentState, update func(*DocumentInfo)) {
	i.mu.Lock()
	defer i.mu.Unlock()
	d, ok := i.docs[docID]
	if !ok {
		d = &DocumentInfo{DocID: docID}
		i.docs[docID] = d
	}
	d.State = state
	d.UpdatedAt = time.Now().UTC()
	if update != nil {
		update(d)
	}
}

// IndexDocument chunks, embeds and extracts one document, replacing any
// chunks previously stored for its ID.
//
// Chunking and embedding failures are fatal for the document and returned
// as *common.IngestionError. Extraction failures are not: the document ends
// INDEXED_VECTOR_ONLY and the failure is reported in Warnings.
func (i *Indexer) IndexDocument(ctx context.Context, doc common.Document) (IndexResult, error) {
	if strings.TrimSpace(doc.DocID) == "" {
		return IndexResult{}, common.InvalidInput("doc_id is required")
	}
	docID := doc.DocID
	res := IndexResult{DocID: docID}

	unlock, err := i.locker.Lock(ctx, i.collection+"/"+docID)
	if err != nil {
		return res, fmt.Errorf("lock document %q: %w", docID, err)
	}
	defer unlock()

	start := time.Now()
	metadata := maps.Clone(doc.Metadata)

	i.setState(docID, StateChunking, func(d *DocumentInfo) { d.Metadata = metadata })
	chunks, err := i.chunker.Split(docID, doc.Text, metadata)
	if err != nil {
		i.setState(docID, StateFailed, nil)
		return res, &common.IngestionError{DocID: docID, Phase: common.PhaseChunking, Err: err}
	}

	i.setState(docID, StateEmbedding, nil)
	ids, err := i.index.AddDocument(ctx, docID, chunks, metadata)
	if err != nil {
		i.setState(docID, StateFailed, nil)
		return res, &common.IngestionError{DocID: docID, Phase: common.PhaseEmbedding, Err: err}
	}
	res.ChunksIndexed = len(ids)

	if len(chunks) == 0 {
		res.State = StateIndexed
		res.Warnings = append(res.Warnings, "document has no text")
		i.setState(docID, StateIndexed, func(d *DocumentInfo) { d.Chunks, d.Entities, d.Relationships = 0, 0, 0 })
		return res, nil
	}

	i.setState(docID, StateExtracting, nil)
	ext, failures := i.extractChunks(ctx, docID, chunks)
	if failures > 0 {
		res.Warnings = append(res.Warnings, fmt.Sprintf("extraction failed for %d of %d chunks", failures, len(chunks)))
	}
	if i.extractor == nil || failures == len(chunks) {
		res.State = StateVectorOnly
		if i.extractor == nil {
			res.Warnings = append(res.Warnings, "no extractor configured")
		}
		i.setState(docID, StateVectorOnly, func(d *DocumentInfo) { d.Chunks, d.Entities, d.Relationships = len(ids), 0, 0 })
		logger.Warn("[Indexer] Document indexed without graph data", "collection", i.collection, "doc_id", docID, "chunks", len(ids))
		return res, nil
	}

	i.setState(docID, StateMerging, nil)
	report := i.graph.Merge(ext, docID)
	for _, skipped := range report.Skipped {
		res.Warnings = append(res.Warnings, skipped.Error())
	}

	res.State = StateIndexed
	res.EntitiesExtracted = len(ext.Entities)
	res.RelationshipsFound = len(ext.Relationships)
	i.setState(docID, StateIndexed, func(d *DocumentInfo) {
		d.Chunks, d.Entities, d.Relationships = len(ids), res.EntitiesExtracted, res.RelationshipsFound
	})

	logger.Info("[Indexer] Indexed document",
		"collection", i.collection,
		"doc_id", docID,
		"chunks", res.ChunksIndexed,
		"entities", res.EntitiesExtracted,
		"relationships", res.RelationshipsFound,
		"duration", time.Since(start),
	)
	return res, nil
}

// extractChunks runs the extractor over every chunk concurrently and
// concatenates the results in chunk order.
func (i *Indexer) extractChunks(ctx context.Context, docID string, chunks []common.Chunk) (common.Extraction, int) {
	if i.extractor == nil {
		return common.Extraction{}, 0
	}

	results := make([]common.Extraction, len(chunks))
	errs := make([]error, len(chunks))

	var g errgroup.Group
	g.SetLimit(i.parallelExtractions)
	for n, ch := range chunks {
		g.Go(func() error {
			results[n], errs[n] = i.extractor.Extract(ctx, docID, ch.Text)
			return nil
		})
	}
	_ = g.Wait()

	var out common.Extraction
	failures := 0
	for n := range chunks {
		if errs[n] != nil {
			failures++
			logger.Debug("[Indexer] Chunk extraction failed", "doc_id", docID, "position", chunks[n].Position, "err", errs[n])
			continue
		}
		for _, e := range results[n].Entities {
			e.SourceDocID = docID
			out.Entities = append(out.Entities, e)
		}
		for _, r := range results[n].Relationships {
			r.SourceDocID = docID
			out.Relationships = append(out.Relationships, r)
		}
	}
	return out, failures
}

// FailedDocument names a document that could not be indexed.
type FailedDocument struct {
	DocID string `json:"doc_id"`
	Phase string `json:"phase,omitempty"`
	Error string `json:"error"`
}

// FolderOptions tunes IndexFolder.
//
// Rebuild resets the graph first; this is the only way edges are ever
// removed. Dedupe asks the language model for duplicate entities after the
// rule-based consolidation.
type FolderOptions struct {
	Rebuild bool `json:"rebuild"`
	Dedupe  bool `json:"dedupe"`
}

// FolderResult aggregates IndexFolder.
type FolderResult struct {
	Documents          []IndexResult    `json:"documents"`
	DocumentsIndexed   int              `json:"documents_indexed"`
	EntitiesExtracted  int              `json:"entities_extracted"`
	RelationshipsFound int              `json:"relationships_found"`
	ChunksIndexed      int              `json:"chunks_indexed"`
	NodesConsolidated  int              `json:"nodes_consolidated"`
	Failed             []FailedDocument `json:"failed,omitempty"`
	Skipped            []string         `json:"skipped,omitempty"`
	Warnings           []string         `json:"warnings,omitempty"`
}

// IndexFolder indexes docs with bounded concurrency and then consolidates
// the graph so mentions from different documents share nodes.
//
// A failing document never aborts the batch. When ctx is cancelled no new
// documents are started, the ones not started are listed in Skipped and the
// context error is returned together with the partial result.
func (i *Indexer) IndexFolder(ctx context.Context, docs []common.Document, opts FolderOptions) (FolderResult, error) {
	for _, d := range docs {
		if strings.TrimSpace(d.DocID) == "" {
			return FolderResult{}, common.InvalidInput("every document needs a doc_id")
		}
	}

	if opts.Rebuild {
		logger.Info("[Indexer] Rebuilding graph", "collection", i.collection)
		i.graph.Reset()
		i.applyAliases()
	}

	results := make([]*IndexResult, len(docs))
	failures := make([]error, len(docs))
	started := make([]bool, len(docs))

	var g errgroup.Group
	g.SetLimit(i.parallelDocs)
	for n, doc := range docs {
		if ctx.Err() != nil {
			break
		}
		started[n] = true
		g.Go(func() error {
			res, err := i.IndexDocument(ctx, doc)
			if err != nil {
				failures[n] = err
				return nil
			}
			results[n] = &res
			return nil
		})
	}
	_ = g.Wait()

	var out FolderResult
	for n, doc := range docs {
		switch {
		case !started[n]:
			out.Skipped = append(out.Skipped, doc.DocID)
		case failures[n] != nil:
			fd := FailedDocument{DocID: doc.DocID, Error: failures[n].Error()}
			var ingestErr *common.IngestionError
			if errors.As(failures[n], &ingestErr) {
				fd.Phase = ingestErr.Phase
			}
			out.Failed = append(out.Failed, fd)
			out.Warnings = append(out.Warnings, fd.Error)
		default:
			res := *results[n]
			out.Documents = append(out.Documents, res)
			out.DocumentsIndexed++
			out.EntitiesExtracted += res.EntitiesExtracted
			out.RelationshipsFound += res.RelationshipsFound
			out.ChunksIndexed += res.ChunksIndexed
			for _, w := range res.Warnings {
				out.Warnings = append(out.Warnings, doc.DocID+": "+w)
			}
		}
	}

	out.NodesConsolidated = i.graph.Consolidate()
	if opts.Dedupe && ctx.Err() == nil {
		folded, err := i.dedupe(ctx)
		if err != nil {
			out.Warnings = append(out.Warnings, "dedupe: "+err.Error())
		}
		out.NodesConsolidated += folded
	}

	logger.Info("[Indexer] Indexed folder",
		"collection", i.collection,
		"documents", out.DocumentsIndexed,
		"failed", len(out.Failed),
		"skipped", len(out.Skipped),
		"consolidated", out.NodesConsolidated,
	)
	if err := ctx.Err(); err != nil {
		return out, err
	}
	return out, nil
}

// dedupe asks the model for duplicate groups per entity type and folds them.
func (i *Indexer) dedupe(ctx context.Context) (int, error) {
	if i.ai == nil {
		return 0, errors.New("no language model configured")
	}

	byType := make(map[common.EntityType][]ai.DedupeCandidate)
	for _, n := range i.graph.Export().Nodes {
		byType[n.Type] = append(byType[n.Type], ai.DedupeCandidate{Name: n.Name, Type: string(n.Type)})
	}

	folded := 0
	var errs []error
	for _, typ := range common.EntityTypes {
		candidates := byType[typ]
		for start := 0; start < len(candidates); start += ai.DedupeBatchSize {
			batch := candidates[start:min(start+ai.DedupeBatchSize, len(candidates))]
			res, err := ai.CallDedupeAI(ctx, batch, i.ai, 2)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", typ, err))
				continue
			}
			for _, group := range res.Duplicates {
				folded += i.graph.FoldNodes(group.Name, group.Entities)
			}
		}
	}
	return folded, errors.Join(errs...)
}

// Health is the operational status of a collection.
type Health struct {
	Status              string `json:"status"`
	Collection          string `json:"collection"`
	IndexedDocuments    int    `json:"indexed_documents"`
	VectorOnlyDocuments int    `json:"vector_only_documents"`
	Chunks              int    `json:"chunks"`
	GraphNodes          int    `json:"graph_nodes"`
	GraphEdges          int    `json:"graph_edges"`
}

func (i *Indexer) Health(ctx context.Context) Health {
	h := Health{Status: "ok", Collection: i.collection}
	h.GraphNodes, h.GraphEdges = i.graph.Stats()

	i.mu.RLock()
	for _, d := range i.docs {
		switch d.State {
		case StateIndexed:
			h.IndexedDocuments++
		case StateVectorOnly:
			h.IndexedDocuments++
			h.VectorOnlyDocuments++
		}
	}
	i.mu.RUnlock()

	stats, err := i.index.Stats(ctx)
	if err != nil {
		logger.Warn("[Indexer] Vector stats unavailable", "collection", i.collection, "err", err)
		h.Status = "degraded"
		return h
	}
	h.Chunks = stats.Chunks
	return h
}
