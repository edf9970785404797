package graph

import (
	"maps"
	"slices"
)

// Consolidate folds nodes that were created before another node claimed
// their name as an alias, e.g. "Marcus" from chapter one and "Marcus Vale"
// (aliases: Marcus) from chapter two. A node is folded only when exactly one
// node of the same type claims it. It returns the number of folded nodes.
func (g *NarrativeGraph) Consolidate() int {
	g.mu.Lock()
	defer g.mu.Unlock()

	folded := 0
	for _, key := range slices.Sorted(maps.Keys(g.nodes)) {
		n, ok := g.nodes[key]
		if !ok {
			continue
		}
		if to := g.resolveLocked(key); to != key {
			if _, exists := g.nodes[to]; exists {
				g.foldLocked(key, to)
				folded++
				continue
			}
		}

		var claimers []string
		for _, other := range slices.Sorted(maps.Keys(g.nodes)) {
			if other == key || g.nodes[other].typ != n.typ {
				continue
			}
			for alias := range g.nodes[other].aliases {
				if Normalize(alias) == key {
					claimers = append(claimers, other)
					break
				}
			}
		}
		if len(claimers) == 1 {
			g.foldLocked(key, claimers[0])
			folded++
		}
	}
	return folded
}

// FoldNodes merges the nodes named by names into the node named canonical.
// Names that do not resolve to a node, or whose node has a different type,
// are left alone. It returns the number of folded nodes.
func (g *NarrativeGraph) FoldNodes(canonical string, names []string) int {
	g.mu.Lock()
	defer g.mu.Unlock()

	to := g.resolveLocked(Normalize(canonical))
	target, ok := g.nodes[to]
	if !ok {
		return 0
	}
	folded := 0
	for _, name := range names {
		from := g.resolveLocked(Normalize(name))
		n, ok := g.nodes[from]
		if !ok || from == to || n.typ != target.typ {
			continue
		}
		g.foldLocked(from, to)
		folded++
	}
	if betterDisplay(target.name, canonical) && Normalize(canonical) == to {
		target.aliases[target.name] = struct{}{}
		target.name = canonical
		delete(target.aliases, canonical)
	}
	return folded
}

// foldLocked moves everything known about from onto to and deletes from.
// Edges are re-pointed; an edge between the two folded nodes would become a
// self loop and is dropped.
func (g *NarrativeGraph) foldLocked(from, to string) {
	src, ok := g.nodes[from]
	if !ok {
		return
	}
	dst := g.nodes[to]

	dst.mentions += src.mentions
	dst.confidence = max(dst.confidence, src.confidence)
	if src.typeConf > dst.typeConf {
		dst.typ = src.typ
		dst.typeConf = src.typeConf
	}
	if src.firstSeq < dst.firstSeq || (src.firstSeq == dst.firstSeq && src.order < dst.order) {
		dst.firstSeq = src.firstSeq
		dst.firstDoc = src.firstDoc
	}
	if src.lastSeq > dst.lastSeq {
		dst.lastSeq = src.lastSeq
		dst.lastDoc = src.lastDoc
	}
	dst.order = min(dst.order, src.order)
	dst.aliases[src.name] = struct{}{}
	for a := range src.aliases {
		dst.aliases[a] = struct{}{}
	}
	if betterDisplay(dst.name, src.name) {
		dst.aliases[dst.name] = struct{}{}
		dst.name = src.name
	}
	delete(dst.aliases, dst.name)
	for d := range src.docs {
		dst.docs[d] = struct{}{}
	}
	for _, f := range src.facts {
		if !slices.Contains(dst.facts, f) {
			dst.facts = append(dst.facts, f)
		}
	}

	for _, k := range slices.SortedFunc(maps.Keys(g.out[from]), compareEdgeKeys) {
		g.repointLocked(k, from, to)
	}
	for _, k := range slices.SortedFunc(maps.Keys(g.in[from]), compareEdgeKeys) {
		g.repointLocked(k, from, to)
	}
	delete(g.out, from)
	delete(g.in, from)
	delete(g.nodes, from)

	g.alias[from] = to
	for a, target := range g.alias {
		if target == from {
			g.alias[a] = to
		}
	}
}

func (g *NarrativeGraph) repointLocked(k edgeKey, from, to string) {
	e, ok := g.edges[k]
	if !ok {
		return
	}
	g.removeEdgeLocked(k)

	nk := k
	if nk.Source == from {
		nk.Source = to
	}
	if nk.Target == from {
		nk.Target = to
	}
	if nk.Source == nk.Target {
		return
	}
	g.upsertEdgeLocked(nk, e.confidence, e.snippets, slices.Collect(maps.Keys(e.docs)), e.seq)
}
