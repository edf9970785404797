package graph

import (
	"maps"
	"slices"

	"github.com/OFFIS-RIT/quill/pkg/common"
)

// Centrality holds the importance scores of one node.
type Centrality struct {
	Name        string            `json:"name"`
	Type        common.EntityType `json:"type"`
	Degree      float64           `json:"degree_centrality"`
	Betweenness float64           `json:"betweenness_centrality"`
}

// CentralityMetrics computes degree and betweenness centrality over the
// current snapshot, keyed by canonical key.
//
// Degree is the number of distinct neighbours in either direction divided by
// n-1. Betweenness follows Brandes' algorithm on the directed, unweighted
// graph, normalised by (n-1)(n-2).
func (g *NarrativeGraph) CentralityMetrics() map[string]Centrality {
	g.mu.RLock()
	defer g.mu.RUnlock()

	keys := slices.Sorted(maps.Keys(g.nodes))
	n := len(keys)
	index := make(map[string]int, n)
	for i, k := range keys {
		index[k] = i
	}

	succ := make([][]int, n)
	neighbours := make([]map[int]struct{}, n)
	for i := range neighbours {
		neighbours[i] = make(map[int]struct{})
	}
	for _, k := range slices.SortedFunc(maps.Keys(g.edges), compareEdgeKeys) {
		s, t := index[k.Source], index[k.Target]
		if s == t {
			continue
		}
		if !slices.Contains(succ[s], t) {
			succ[s] = append(succ[s], t)
		}
		neighbours[s][t] = struct{}{}
		neighbours[t][s] = struct{}{}
	}

	between := brandes(succ)

	out := make(map[string]Centrality, n)
	for i, k := range keys {
		c := Centrality{Name: g.nodes[k].name, Type: g.nodes[k].typ}
		if n > 1 {
			c.Degree = float64(len(neighbours[i])) / float64(n-1)
		}
		if n > 2 {
			c.Betweenness = between[i] / float64((n-1)*(n-2))
		}
		out[k] = c
	}
	return out
}

// brandes returns unnormalised betweenness for a directed graph given as
// successor lists.
func brandes(succ [][]int) []float64 {
	n := len(succ)
	cb := make([]float64, n)
	sigma := make([]float64, n)
	dist := make([]int, n)
	delta := make([]float64, n)
	pred := make([][]int, n)

	for s := 0; s < n; s++ {
		for i := 0; i < n; i++ {
			sigma[i] = 0
			dist[i] = -1
			delta[i] = 0
			pred[i] = pred[i][:0]
		}
		sigma[s] = 1
		dist[s] = 0

		stack := make([]int, 0, n)
		queue := []int{s}
		for len(queue) > 0 {
			v := queue[0]
			queue = queue[1:]
			stack = append(stack, v)
			for _, w := range succ[v] {
				if dist[w] < 0 {
					dist[w] = dist[v] + 1
					queue = append(queue, w)
				}
				if dist[w] == dist[v]+1 {
					sigma[w] += sigma[v]
					pred[w] = append(pred[w], v)
				}
			}
		}

		for i := len(stack) - 1; i >= 0; i-- {
			w := stack[i]
			for _, v := range pred[w] {
				delta[v] += sigma[v] / sigma[w] * (1 + delta[w])
			}
			if w != s {
				cb[w] += delta[w]
			}
		}
	}
	return cb
}
