package graph

import (
	"maps"
	"slices"
	"strings"

	"github.com/OFFIS-RIT/quill/pkg/common"
	"github.com/OFFIS-RIT/quill/pkg/logger"
)

// MergeReport summarises one Merge call.
type MergeReport struct {
	EntitiesMerged      int     `json:"entities_merged"`
	NodesCreated        int     `json:"nodes_created"`
	RelationshipsMerged int     `json:"relationships_merged"`
	EdgesCreated        int     `json:"edges_created"`
	Skipped             []error `json:"-"`
}

// Merge upserts the extraction of one document. Entities and relationships
// that cannot be merged are skipped and reported as *common.GraphMergeError;
// everything else is still applied. Existing edges are never removed.
//
// The whole merge happens under the write lock, so callers should run the
// extraction beforehand.
func (g *NarrativeGraph) Merge(ext common.Extraction, docID string) MergeReport {
	g.mu.Lock()
	defer g.mu.Unlock()

	var report MergeReport
	g.seq++
	seq := g.seq
	g.docSeq[docID] = seq
	g.dropFactsLocked(docID)

	for _, ent := range ext.Entities {
		created, err := g.mergeEntityLocked(ent, docID, seq)
		if err != nil {
			report.Skipped = append(report.Skipped, err)
			continue
		}
		report.EntitiesMerged++
		if created {
			report.NodesCreated++
		}
	}

	for _, rel := range ext.Relationships {
		created, err := g.mergeRelationshipLocked(rel, docID, seq)
		if err != nil {
			report.Skipped = append(report.Skipped, err)
			continue
		}
		report.RelationshipsMerged++
		if created {
			report.EdgesCreated++
		}
	}

	if len(report.Skipped) > 0 {
		logger.Debug("[Graph] Merge skipped items", "doc_id", docID, "skipped", len(report.Skipped))
	}
	return report
}

// dropFactsLocked forgets the facts a document stated last time it was
// merged. Edges and mentions are kept.
func (g *NarrativeGraph) dropFactsLocked(docID string) {
	for _, n := range g.nodes {
		n.facts = slices.DeleteFunc(n.facts, func(f common.Fact) bool { return f.DocID == docID })
	}
}

func entityName(ent common.Entity) string {
	if name := strings.TrimSpace(ent.CanonicalName); name != "" {
		return name
	}
	return strings.TrimSpace(ent.Text)
}

func (g *NarrativeGraph) mergeEntityLocked(ent common.Entity, docID string, seq int64) (bool, error) {
	name := entityName(ent)
	key := g.resolveLocked(Normalize(name))
	if key == "" {
		return false, &common.GraphMergeError{Entity: name, Reason: "name has no canonical form"}
	}
	typ := ent.Type
	if !slices.Contains(common.EntityTypes, typ) {
		typ, _ = common.ParseEntityType(string(typ))
	}
	conf := min(max(ent.Confidence, 0), 1)

	n, ok := g.nodes[key]
	if !ok {
		g.order++
		n = &node{
			key:      key,
			name:     name,
			typ:      typ,
			typeConf: conf,
			firstDoc: docID,
			firstSeq: seq,
			order:    g.order,
			aliases:  make(map[string]struct{}),
			docs:     make(map[string]struct{}),
		}
		g.nodes[key] = n
	} else if conf > n.typeConf {
		n.typ = typ
		n.typeConf = conf
	}

	n.mentions++
	n.confidence = max(n.confidence, conf)
	n.lastDoc = docID
	n.lastSeq = seq
	n.docs[docID] = struct{}{}
	if betterDisplay(n.name, name) {
		n.aliases[n.name] = struct{}{}
		n.name = name
	}

	surfaces := append([]string{name, ent.Text}, ent.Aliases...)
	for _, s := range surfaces {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if s != n.name {
			n.aliases[s] = struct{}{}
		}
		ak := Normalize(s)
		if ak == "" || ak == key {
			continue
		}
		if _, bound := g.alias[ak]; bound {
			continue
		}
		if _, exists := g.nodes[ak]; exists {
			continue
		}
		g.alias[ak] = key
	}
	delete(n.aliases, n.name)

	for _, attr := range slices.Sorted(maps.Keys(ent.Attributes)) {
		value := strings.TrimSpace(ent.Attributes[attr])
		if value == "" {
			continue
		}
		f := common.Fact{Attribute: attr, Value: value, DocID: docID}
		if !slices.Contains(n.facts, f) {
			n.facts = append(n.facts, f)
		}
	}
	return !ok, nil
}

func (g *NarrativeGraph) mergeRelationshipLocked(rel common.Relationship, docID string, seq int64) (bool, error) {
	src := g.resolveLocked(Normalize(rel.Source))
	dst := g.resolveLocked(Normalize(rel.Target))
	label := rel.Source + " -> " + rel.Target
	if _, ok := g.nodes[src]; !ok || src == "" {
		return false, &common.GraphMergeError{Entity: rel.Source, Reason: "unknown relationship source in " + label}
	}
	if _, ok := g.nodes[dst]; !ok || dst == "" {
		return false, &common.GraphMergeError{Entity: rel.Target, Reason: "unknown relationship target in " + label}
	}
	if src == dst {
		return false, &common.GraphMergeError{Entity: rel.Source, Reason: "self relationship"}
	}
	relType := rel.RelationType
	if !slices.Contains(common.RelationTypes, relType) {
		relType, _ = common.ParseRelationType(string(relType))
	}

	k := edgeKey{Source: src, Relation: relType, Target: dst}
	var snippets []string
	if s := strings.TrimSpace(rel.ContextSnippet); s != "" {
		snippets = []string{s}
	}
	return g.upsertEdgeLocked(k, min(max(rel.Confidence, 0), 1), snippets, []string{docID}, seq), nil
}

// upsertEdgeLocked adds or merges an edge and reports whether it was new.
func (g *NarrativeGraph) upsertEdgeLocked(k edgeKey, conf float64, snippets, docs []string, seq int64) bool {
	e, ok := g.edges[k]
	if !ok {
		e = &edge{key: k, docs: make(map[string]struct{})}
		g.addEdgeLocked(e)
	}
	e.confidence = max(e.confidence, conf)
	e.seq = max(e.seq, seq)
	for _, d := range docs {
		e.docs[d] = struct{}{}
	}
	for _, s := range snippets {
		if len(e.snippets) >= maxSnippets {
			break
		}
		if !slices.Contains(e.snippets, s) {
			e.snippets = append(e.snippets, s)
		}
	}
	return !ok
}
