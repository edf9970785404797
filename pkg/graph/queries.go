package graph

import (
	"cmp"
	"maps"
	"slices"
	"strings"

	"github.com/OFFIS-RIT/quill/pkg/common"
	"github.com/OFFIS-RIT/quill/pkg/vector"
)

// LocationRef is a location connected to a character.
type LocationRef struct {
	Key        string                `json:"key"`
	Name       string                `json:"name"`
	Relations  []common.RelationType `json:"relation_types"`
	Confidence float64               `json:"confidence"`
	Snippets   []string              `json:"context_snippets,omitempty"`
}

// PlotEvent is an EVENT node with the characters taking part in it.
type PlotEvent struct {
	Key          string   `json:"key"`
	Name         string   `json:"name"`
	Confidence   float64  `json:"confidence"`
	FirstSeenDoc string   `json:"first_seen_doc"`
	Seq          int64    `json:"seq"`
	Participants []string `json:"participants"`
	Snippets     []string `json:"context_snippets,omitempty"`
}

// Mention is a node whose label was found in a piece of text. Weight is 1.0
// for an exact match, 0.9 for a case-insensitive match and 0.6 for a
// substring match.
type Mention struct {
	Key    string            `json:"key"`
	Name   string            `json:"name"`
	Type   common.EntityType `json:"type"`
	Weight float64           `json:"weight"`
}

const (
	WeightExact     = 1.0
	WeightFolded    = 0.9
	WeightSubstring = 0.6

	minSubstringLen = 4
)

func (g *NarrativeGraph) characterLocked(name string) (*node, bool) {
	n, ok := g.nodes[g.resolveLocked(Normalize(name))]
	if !ok || n.typ != common.EntityCharacter {
		return nil, false
	}
	return n, true
}

// CharacterInteractions returns the edges between character and other
// characters in either direction, strongest first. Unknown names and
// non-character nodes yield nil.
func (g *NarrativeGraph) CharacterInteractions(character string) []common.GraphEdge {
	g.mu.RLock()
	defer g.mu.RUnlock()

	n, ok := g.characterLocked(character)
	if !ok {
		return nil
	}
	var out []common.GraphEdge
	for _, adj := range g.adjacentLocked(n.key) {
		other := g.nodes[adj.Other]
		if other == nil || other.typ != common.EntityCharacter {
			continue
		}
		out = append(out, adj.Edge)
	}
	slices.SortStableFunc(out, func(a, b common.GraphEdge) int {
		return cmp.Compare(b.Confidence, a.Confidence)
	})
	return out
}

// CharacterLocations returns the locations linked to character, strongest
// first.
func (g *NarrativeGraph) CharacterLocations(character string) []LocationRef {
	g.mu.RLock()
	defer g.mu.RUnlock()

	n, ok := g.characterLocked(character)
	if !ok {
		return nil
	}
	byKey := make(map[string]*LocationRef)
	for _, adj := range g.adjacentLocked(n.key) {
		other := g.nodes[adj.Other]
		if other == nil || other.typ != common.EntityLocation {
			continue
		}
		ref, ok := byKey[other.key]
		if !ok {
			ref = &LocationRef{Key: other.key, Name: other.name}
			byKey[other.key] = ref
		}
		if !slices.Contains(ref.Relations, adj.Edge.Relation) {
			ref.Relations = append(ref.Relations, adj.Edge.Relation)
		}
		ref.Confidence = max(ref.Confidence, adj.Edge.Confidence)
		for _, s := range adj.Edge.Snippets {
			if len(ref.Snippets) < maxSnippets && !slices.Contains(ref.Snippets, s) {
				ref.Snippets = append(ref.Snippets, s)
			}
		}
	}

	out := make([]LocationRef, 0, len(byKey))
	for _, k := range slices.Sorted(maps.Keys(byKey)) {
		out = append(out, *byKey[k])
	}
	slices.SortStableFunc(out, func(a, b LocationRef) int {
		return cmp.Compare(b.Confidence, a.Confidence)
	})
	return out
}

// PlotEvents returns every EVENT node in story order: by the ingestion
// sequence of the document that introduced it, then by creation order.
func (g *NarrativeGraph) PlotEvents() []PlotEvent {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var events []*node
	for _, n := range g.nodes {
		if n.typ == common.EntityEvent {
			events = append(events, n)
		}
	}
	slices.SortFunc(events, func(a, b *node) int {
		if c := cmp.Compare(a.firstSeq, b.firstSeq); c != 0 {
			return c
		}
		return cmp.Compare(a.order, b.order)
	})

	out := make([]PlotEvent, 0, len(events))
	for _, n := range events {
		ev := PlotEvent{
			Key:          n.key,
			Name:         n.name,
			Confidence:   n.confidence,
			FirstSeenDoc: n.firstDoc,
			Seq:          n.firstSeq,
			Participants: []string{},
		}
		for _, adj := range g.adjacentLocked(n.key) {
			other := g.nodes[adj.Other]
			if other != nil && other.typ == common.EntityCharacter && !slices.Contains(ev.Participants, other.name) {
				ev.Participants = append(ev.Participants, other.name)
			}
			for _, s := range adj.Edge.Snippets {
				if len(ev.Snippets) < maxSnippets && !slices.Contains(ev.Snippets, s) {
					ev.Snippets = append(ev.Snippets, s)
				}
			}
		}
		slices.Sort(ev.Participants)
		out = append(out, ev)
	}
	return out
}

// FindMentions matches text against node names and aliases. Each node is
// reported once with its best tier, strongest first.
func (g *NarrativeGraph) FindMentions(text string) []Mention {
	tokens := words(text)
	if len(tokens) == 0 {
		return nil
	}
	var terms []string
	for _, t := range vector.Terms(text) {
		if len([]rune(t)) >= minSubstringLen {
			terms = append(terms, t)
		}
	}

	g.mu.RLock()
	defer g.mu.RUnlock()

	var out []Mention
	for _, n := range g.nodes {
		best := 0.0
		labels := append([]string{n.name, n.key}, slices.Collect(maps.Keys(n.aliases))...)
		for _, label := range labels {
			best = max(best, matchLabel(tokens, terms, label))
			if best == WeightExact {
				break
			}
		}
		if best > 0 {
			out = append(out, Mention{Key: n.key, Name: n.name, Type: n.typ, Weight: best})
		}
	}
	slices.SortFunc(out, func(a, b Mention) int {
		if c := cmp.Compare(b.Weight, a.Weight); c != 0 {
			return c
		}
		return cmp.Compare(a.Key, b.Key)
	})
	return out
}

func matchLabel(tokens, terms []string, label string) float64 {
	lw := words(label)
	if len(lw) == 0 {
		return 0
	}
	if containsPhrase(tokens, lw, false) {
		return WeightExact
	}
	if containsPhrase(tokens, lw, true) {
		return WeightFolded
	}
	lower := strings.ToLower(strings.Join(lw, " "))
	for _, t := range terms {
		if strings.Contains(lower, t) {
			return WeightSubstring
		}
		if len([]rune(lower)) >= minSubstringLen && strings.Contains(t, lower) {
			return WeightSubstring
		}
	}
	return 0
}
