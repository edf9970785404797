package query

import (
	"slices"
	"sync"
)

type TraceEventKind string

const (
	TraceEventSeedNodes    TraceEventKind = "seed_nodes"
	TraceEventVisitedNodes TraceEventKind = "visited_nodes"
	TraceEventSourceDocs   TraceEventKind = "source_docs"
	TraceEventChunkHits    TraceEventKind = "chunk_hits"
)

// TraceEvent is an extensible event envelope for query tracing.
// Additive changes to this struct are backward compatible for implementers.
type TraceEvent struct {
	Kind TraceEventKind

	NodeKeys []string
	DocIDs   []string
	ChunkIDs []string
}

// Tracer is a sink for query tracing events.
//
// Implementers can forward events to logs or collect them to explain which
// parts of the collection a result was built from.
type Tracer interface {
	Record(event TraceEvent)
}

// MultiTracer fan-outs trace events to multiple tracers.
type MultiTracer []Tracer

func (m MultiTracer) Record(event TraceEvent) {
	for _, t := range m {
		if t == nil {
			continue
		}
		t.Record(event)
	}
}

func RecordSeedNodes(t Tracer, keys ...string) {
	if t == nil {
		return
	}
	t.Record(TraceEvent{Kind: TraceEventSeedNodes, NodeKeys: keys})
}

func RecordVisitedNodes(t Tracer, keys ...string) {
	if t == nil {
		return
	}
	t.Record(TraceEvent{Kind: TraceEventVisitedNodes, NodeKeys: keys})
}

func RecordSourceDocs(t Tracer, ids ...string) {
	if t == nil {
		return
	}
	t.Record(TraceEvent{Kind: TraceEventSourceDocs, DocIDs: ids})
}

func RecordChunkHits(t Tracer, ids ...string) {
	if t == nil {
		return
	}
	t.Record(TraceEvent{Kind: TraceEventChunkHits, ChunkIDs: ids})
}

// QueryTrace collects which nodes, documents and chunks a query touched.
//
// QueryTrace is safe for concurrent use.
type QueryTrace struct {
	mu sync.Mutex

	seeds   map[string]struct{}
	visited map[string]struct{}
	docs    map[string]struct{}
	chunks  map[string]struct{}
}

type QueryTraceSnapshot struct {
	SeedNodes    []string `json:"seed_nodes"`
	VisitedNodes []string `json:"visited_nodes"`
	SourceDocs   []string `json:"source_docs"`
	ChunkHits    []string `json:"chunk_hits"`
}

func NewQueryTrace() *QueryTrace {
	return &QueryTrace{
		seeds:   make(map[string]struct{}),
		visited: make(map[string]struct{}),
		docs:    make(map[string]struct{}),
		chunks:  make(map[string]struct{}),
	}
}

func (t *QueryTrace) Record(event TraceEvent) {
	if t == nil {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	switch event.Kind {
	case TraceEventSeedNodes:
		addAll(t.seeds, event.NodeKeys)
	case TraceEventVisitedNodes:
		addAll(t.visited, event.NodeKeys)
	case TraceEventSourceDocs:
		addAll(t.docs, event.DocIDs)
	case TraceEventChunkHits:
		addAll(t.chunks, event.ChunkIDs)
	}
}

func addAll(set map[string]struct{}, ids []string) {
	for _, id := range ids {
		if id == "" {
			continue
		}
		set[id] = struct{}{}
	}
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}

func (t *QueryTrace) Snapshot() QueryTraceSnapshot {
	if t == nil {
		return QueryTraceSnapshot{}
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	return QueryTraceSnapshot{
		SeedNodes:    sortedKeys(t.seeds),
		VisitedNodes: sortedKeys(t.visited),
		SourceDocs:   sortedKeys(t.docs),
		ChunkHits:    sortedKeys(t.chunks),
	}
}
