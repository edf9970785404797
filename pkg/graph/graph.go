package graph

import (
	"cmp"
	"maps"
	"slices"
	"sync"

	"github.com/OFFIS-RIT/quill/pkg/common"
)

const maxSnippets = 5

type node struct {
	key        string
	name       string
	typ        common.EntityType
	typeConf   float64
	confidence float64
	mentions   int
	firstDoc   string
	lastDoc    string
	firstSeq   int64
	lastSeq    int64
	order      int64
	aliases    map[string]struct{}
	docs       map[string]struct{}
	facts      []common.Fact
}

type edgeKey struct {
	Source   string
	Relation common.RelationType
	Target   string
}

type edge struct {
	key        edgeKey
	confidence float64
	snippets   []string
	docs       map[string]struct{}
	seq        int64
}

// NarrativeGraph is the in-memory graph of canonical entities and typed,
// directed relationships for one collection. All access goes through its
// methods; writers take the write lock only for the in-memory upsert.
//
// Nodes are keyed by canonical key (see Normalize) and edges by
// (source, relation, target). Merging never removes edges; only Reset and
// Import replace the graph wholesale.
type NarrativeGraph struct {
	mu sync.RWMutex

	nodes map[string]*node
	edges map[edgeKey]*edge
	out   map[string]map[edgeKey]struct{}
	in    map[string]map[edgeKey]struct{}

	// alias maps a normalized surface form to the key it was folded into.
	alias map[string]string

	docSeq map[string]int64
	seq    int64
	order  int64
}

func New() *NarrativeGraph {
	g := &NarrativeGraph{}
	g.resetLocked()
	return g
}

func (g *NarrativeGraph) resetLocked() {
	g.nodes = make(map[string]*node)
	g.edges = make(map[edgeKey]*edge)
	g.out = make(map[string]map[edgeKey]struct{})
	g.in = make(map[string]map[edgeKey]struct{})
	g.alias = make(map[string]string)
	g.docSeq = make(map[string]int64)
	g.seq = 0
	g.order = 0
}

// Reset drops every node, edge and alias. It is the explicit full re-index
// path; configured aliases must be added again afterwards.
func (g *NarrativeGraph) Reset() {
	g.mu.Lock()
	g.resetLocked()
	g.mu.Unlock()
}

// resolveLocked follows the alias table from a normalized key. Alias chains
// are bounded so a corrupt table cannot loop.
func (g *NarrativeGraph) resolveLocked(key string) string {
	for i := 0; i < 8; i++ {
		next, ok := g.alias[key]
		if !ok || next == key {
			return key
		}
		key = next
	}
	return key
}

// Resolve returns the canonical key name resolves to, whether or not a node
// exists for it yet.
func (g *NarrativeGraph) Resolve(name string) string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.resolveLocked(Normalize(name))
}

// AddAlias makes alias resolve to the same node as canonical. If both names
// already have nodes they are folded into canonical's node.
func (g *NarrativeGraph) AddAlias(alias string, canonical string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	from := g.resolveLocked(Normalize(alias))
	to := g.resolveLocked(Normalize(canonical))
	if from == "" || to == "" || from == to {
		return
	}
	if _, ok := g.nodes[from]; ok {
		if _, ok := g.nodes[to]; ok {
			g.foldLocked(from, to)
			return
		}
	}
	g.alias[from] = to
}

// Stats returns the node and edge counts.
func (g *NarrativeGraph) Stats() (nodes int, edges int) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.nodes), len(g.edges)
}

// HasDocument reports whether docID has been merged since the last reset.
func (g *NarrativeGraph) HasDocument(docID string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, ok := g.docSeq[docID]
	return ok
}

// MaxSeq is the ingestion sequence of the most recently merged document.
func (g *NarrativeGraph) MaxSeq() int64 {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.seq
}

func (g *NarrativeGraph) Node(key string) (common.GraphNode, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	n, ok := g.nodes[key]
	if !ok {
		return common.GraphNode{}, false
	}
	return n.export(), true
}

// Lookup resolves name and returns its node.
func (g *NarrativeGraph) Lookup(name string) (common.GraphNode, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	key := g.resolveLocked(Normalize(name))
	if n, ok := g.nodes[key]; ok {
		return n.export(), true
	}
	return common.GraphNode{}, false
}

func (n *node) export() common.GraphNode {
	return common.GraphNode{
		Key:          n.key,
		Name:         n.name,
		Type:         n.typ,
		Confidence:   n.confidence,
		Mentions:     n.mentions,
		FirstSeenDoc: n.firstDoc,
		LastSeenDoc:  n.lastDoc,
		FirstSeq:     n.firstSeq,
		LastSeq:      n.lastSeq,
		Aliases:      slices.Sorted(maps.Keys(n.aliases)),
		Docs:         slices.Sorted(maps.Keys(n.docs)),
		Facts:        slices.Clone(n.facts),
	}
}

func (g *NarrativeGraph) exportEdgeLocked(e *edge) common.GraphEdge {
	ge := common.GraphEdge{
		Source:     e.key.Source,
		Target:     e.key.Target,
		Relation:   e.key.Relation,
		Confidence: e.confidence,
		Snippets:   slices.Clone(e.snippets),
		Docs:       slices.Sorted(maps.Keys(e.docs)),
		Seq:        e.seq,
	}
	if n, ok := g.nodes[e.key.Source]; ok {
		ge.SourceName = n.name
	}
	if n, ok := g.nodes[e.key.Target]; ok {
		ge.TargetName = n.name
	}
	return ge
}

func compareEdgeKeys(a, b edgeKey) int {
	if c := cmp.Compare(a.Source, b.Source); c != 0 {
		return c
	}
	if c := cmp.Compare(a.Relation, b.Relation); c != 0 {
		return c
	}
	return cmp.Compare(a.Target, b.Target)
}

// Adjacency is one edge seen from a node: Other is the node at the far end
// and Outgoing tells whether the edge leaves the node.
type Adjacency struct {
	Edge     common.GraphEdge
	Other    string
	Outgoing bool
}

// Adjacent lists the edges touching key in deterministic order.
func (g *NarrativeGraph) Adjacent(key string) []Adjacency {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.adjacentLocked(key)
}

func (g *NarrativeGraph) adjacentLocked(key string) []Adjacency {
	var out []Adjacency
	for _, k := range slices.SortedFunc(maps.Keys(g.out[key]), compareEdgeKeys) {
		out = append(out, Adjacency{Edge: g.exportEdgeLocked(g.edges[k]), Other: k.Target, Outgoing: true})
	}
	for _, k := range slices.SortedFunc(maps.Keys(g.in[key]), compareEdgeKeys) {
		out = append(out, Adjacency{Edge: g.exportEdgeLocked(g.edges[k]), Other: k.Source, Outgoing: false})
	}
	return out
}

// Export returns a serialisable snapshot sorted by key.
func (g *NarrativeGraph) Export() common.GraphData {
	g.mu.RLock()
	defer g.mu.RUnlock()

	data := common.GraphData{
		Nodes: make([]common.GraphNode, 0, len(g.nodes)),
		Edges: make([]common.GraphEdge, 0, len(g.edges)),
	}
	for _, k := range slices.Sorted(maps.Keys(g.nodes)) {
		data.Nodes = append(data.Nodes, g.nodes[k].export())
	}
	for _, k := range slices.SortedFunc(maps.Keys(g.edges), compareEdgeKeys) {
		data.Edges = append(data.Edges, g.exportEdgeLocked(g.edges[k]))
	}
	return data
}

// Import replaces the graph with data previously produced by Export.
// Aliases recorded on nodes are registered again.
func (g *NarrativeGraph) Import(data common.GraphData) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.resetLocked()

	for _, gn := range data.Nodes {
		if gn.Key == "" {
			continue
		}
		g.order++
		n := &node{
			key:        gn.Key,
			name:       gn.Name,
			typ:        gn.Type,
			typeConf:   gn.Confidence,
			confidence: gn.Confidence,
			mentions:   gn.Mentions,
			firstDoc:   gn.FirstSeenDoc,
			lastDoc:    gn.LastSeenDoc,
			firstSeq:   gn.FirstSeq,
			lastSeq:    gn.LastSeq,
			order:      g.order,
			aliases:    make(map[string]struct{}),
			docs:       make(map[string]struct{}),
			facts:      slices.Clone(gn.Facts),
		}
		for _, a := range gn.Aliases {
			n.aliases[a] = struct{}{}
			if ak := Normalize(a); ak != "" && ak != gn.Key {
				g.alias[ak] = gn.Key
			}
		}
		for _, d := range gn.Docs {
			n.docs[d] = struct{}{}
			if _, ok := g.docSeq[d]; !ok {
				g.docSeq[d] = n.lastSeq
			}
		}
		g.nodes[n.key] = n
		g.seq = max(g.seq, n.lastSeq)
	}
	for _, ge := range data.Edges {
		if _, ok := g.nodes[ge.Source]; !ok {
			continue
		}
		if _, ok := g.nodes[ge.Target]; !ok {
			continue
		}
		e := &edge{
			key:        edgeKey{Source: ge.Source, Relation: ge.Relation, Target: ge.Target},
			confidence: ge.Confidence,
			snippets:   slices.Clone(ge.Snippets),
			docs:       make(map[string]struct{}),
			seq:        ge.Seq,
		}
		for _, d := range ge.Docs {
			e.docs[d] = struct{}{}
		}
		g.addEdgeLocked(e)
		g.seq = max(g.seq, e.seq)
	}
}

func (g *NarrativeGraph) addEdgeLocked(e *edge) {
	g.edges[e.key] = e
	if g.out[e.key.Source] == nil {
		g.out[e.key.Source] = make(map[edgeKey]struct{})
	}
	if g.in[e.key.Target] == nil {
		g.in[e.key.Target] = make(map[edgeKey]struct{})
	}
	g.out[e.key.Source][e.key] = struct{}{}
	g.in[e.key.Target][e.key] = struct{}{}
}

func (g *NarrativeGraph) removeEdgeLocked(k edgeKey) {
	delete(g.edges, k)
	delete(g.out[k.Source], k)
	delete(g.in[k.Target], k)
}
