package graph

import (
	"errors"
	"math"
	"reflect"
	"testing"

	"github.com/OFFIS-RIT/quill/pkg/common"
)

func ent(name string, typ common.EntityType, conf float64) common.Entity {
	return common.Entity{Text: name, CanonicalName: name, Type: typ, Confidence: conf}
}

func rel(src, dst string, typ common.RelationType, conf float64) common.Relationship {
	return common.Relationship{Source: src, Target: dst, RelationType: typ, Confidence: conf}
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{in: "Emma", want: "emma"},
		{in: "  EMMA's ", want: "emma"},
		{in: "Emma’s", want: "emma"},
		{in: "The Temple.", want: "temple"},
		{in: "an  old   crystal", want: "old crystal"},
		{in: "the", want: "the"},
		{in: "\"Marcus\"", want: "marcus"},
		{in: "   ", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := Normalize(tt.in); got != tt.want {
				t.Fatalf("Normalize(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestMergeFoldsCaseVariants(t *testing.T) {
	g := New()
	for i, name := range []string{"emma", "Emma", "EMMA"} {
		g.Merge(common.Extraction{Entities: []common.Entity{ent(name, common.EntityCharacter, 0.5+float64(i)/10)}}, "doc-"+name)
	}

	nodes, _ := g.Stats()
	if nodes != 1 {
		t.Fatalf("expected one node, got %d", nodes)
	}
	n, ok := g.Node("emma")
	if !ok {
		t.Fatalf("node emma missing")
	}
	if n.Name != "Emma" {
		t.Fatalf("expected mixed-case display name, got %q", n.Name)
	}
	if n.Mentions != 3 {
		t.Fatalf("expected 3 mentions, got %d", n.Mentions)
	}
	if math.Abs(n.Confidence-0.7) > 1e-9 {
		t.Fatalf("expected running max confidence 0.7, got %v", n.Confidence)
	}
	if n.FirstSeenDoc != "doc-emma" || n.LastSeenDoc != "doc-EMMA" {
		t.Fatalf("unexpected first/last doc: %q %q", n.FirstSeenDoc, n.LastSeenDoc)
	}
}

func TestMergeKeepsEdgesFromEarlierDocuments(t *testing.T) {
	g := New()
	g.Merge(common.Extraction{
		Entities:      []common.Entity{ent("Emma", common.EntityCharacter, 0.9), ent("Marcus", common.EntityCharacter, 0.9)},
		Relationships: []common.Relationship{rel("Emma", "Marcus", common.RelInteractsWith, 0.8)},
	}, "ch1")
	g.Merge(common.Extraction{
		Entities:      []common.Entity{ent("Emma", common.EntityCharacter, 0.9), ent("Temple", common.EntityLocation, 0.9)},
		Relationships: []common.Relationship{rel("Emma", "Temple", common.RelLocatedIn, 0.7)},
	}, "ch2")
	g.Merge(common.Extraction{Entities: []common.Entity{ent("Emma", common.EntityCharacter, 0.4)}}, "ch1")

	data := g.Export()
	if len(data.Edges) != 2 {
		t.Fatalf("expected 2 edges, got %d", len(data.Edges))
	}
	got := map[common.RelationType]bool{}
	for _, e := range data.Edges {
		got[e.Relation] = true
	}
	if !got[common.RelInteractsWith] || !got[common.RelLocatedIn] {
		t.Fatalf("edges lost: %+v", data.Edges)
	}
}

func TestMergeParallelRelationTypes(t *testing.T) {
	g := New()
	report := g.Merge(common.Extraction{
		Entities: []common.Entity{ent("Emma", common.EntityCharacter, 0.9), ent("Marcus", common.EntityCharacter, 0.9)},
		Relationships: []common.Relationship{
			rel("Emma", "Marcus", common.RelInteractsWith, 0.5),
			rel("Emma", "Marcus", common.RelLoves, 0.6),
			rel("emma", "MARCUS", common.RelInteractsWith, 0.9),
		},
	}, "ch1")

	if report.EdgesCreated != 2 || report.RelationshipsMerged != 3 {
		t.Fatalf("unexpected report: %+v", report)
	}
	edges := g.CharacterInteractions("Emma")
	if len(edges) != 2 {
		t.Fatalf("expected 2 interaction edges, got %d", len(edges))
	}
	if edges[0].Relation != common.RelInteractsWith || edges[0].Confidence != 0.9 {
		t.Fatalf("expected strongest edge first, got %+v", edges[0])
	}
}

func TestMergeSkipsInvalidItems(t *testing.T) {
	g := New()
	report := g.Merge(common.Extraction{
		Entities: []common.Entity{ent("Emma", common.EntityCharacter, 0.9), ent("...", common.EntityObject, 0.5)},
		Relationships: []common.Relationship{
			rel("Emma", "Nobody", common.RelInteractsWith, 0.5),
			rel("Emma", "emma", common.RelLoves, 0.5),
		},
	}, "ch1")

	if report.EntitiesMerged != 1 {
		t.Fatalf("expected 1 merged entity, got %d", report.EntitiesMerged)
	}
	if len(report.Skipped) != 3 {
		t.Fatalf("expected 3 skipped items, got %d: %v", len(report.Skipped), report.Skipped)
	}
	for _, err := range report.Skipped {
		var mergeErr *common.GraphMergeError
		if !errors.As(err, &mergeErr) {
			t.Fatalf("expected GraphMergeError, got %T", err)
		}
	}
	if _, edges := g.Stats(); edges != 0 {
		t.Fatalf("expected no edges, got %d", edges)
	}
}

func TestMergeTypeFollowsMostConfidentMention(t *testing.T) {
	g := New()
	g.Merge(common.Extraction{Entities: []common.Entity{ent("Crystal", common.EntityCharacter, 0.3)}}, "a")
	g.Merge(common.Extraction{Entities: []common.Entity{ent("crystal", common.EntityObject, 0.8)}}, "b")
	g.Merge(common.Extraction{Entities: []common.Entity{ent("Crystal", common.EntityTheme, 0.5)}}, "c")

	n, _ := g.Node("crystal")
	if n.Type != common.EntityObject {
		t.Fatalf("expected OBJECT, got %s", n.Type)
	}
}

func TestAliasesResolveToOneNode(t *testing.T) {
	g := New()
	g.AddAlias("Em", "Emma")
	g.Merge(common.Extraction{Entities: []common.Entity{
		{Text: "Emma Stone", CanonicalName: "Emma", Type: common.EntityCharacter, Confidence: 0.9, Aliases: []string{"Miss Stone"}},
	}}, "ch1")
	g.Merge(common.Extraction{
		Entities: []common.Entity{ent("Em", common.EntityCharacter, 0.6), ent("Miss Stone", common.EntityCharacter, 0.6), ent("Marcus", common.EntityCharacter, 0.6)},
		Relationships: []common.Relationship{
			rel("Miss Stone", "Marcus", common.RelInteractsWith, 0.7),
		},
	}, "ch2")

	nodes, edges := g.Stats()
	if nodes != 2 || edges != 1 {
		t.Fatalf("expected 2 nodes and 1 edge, got %d and %d", nodes, edges)
	}
	for _, name := range []string{"Em", "EMMA", "emma stone", "Miss Stone"} {
		if got := g.Resolve(name); got != "emma" {
			t.Fatalf("Resolve(%q) = %q, want emma", name, got)
		}
	}
	n, _ := g.Node("emma")
	if n.Mentions != 3 {
		t.Fatalf("expected 3 mentions, got %d", n.Mentions)
	}
}

func TestAddAliasFoldsExistingNodes(t *testing.T) {
	g := New()
	g.Merge(common.Extraction{
		Entities:      []common.Entity{ent("Em", common.EntityCharacter, 0.6), ent("Emma", common.EntityCharacter, 0.9), ent("Temple", common.EntityLocation, 0.8)},
		Relationships: []common.Relationship{rel("Em", "Temple", common.RelLocatedIn, 0.6)},
	}, "ch1")

	g.AddAlias("Em", "Emma")

	if _, ok := g.Node("em"); ok {
		t.Fatalf("alias node should have been folded")
	}
	locs := g.CharacterLocations("Emma")
	if len(locs) != 1 || locs[0].Name != "Temple" {
		t.Fatalf("expected folded edge to Temple, got %+v", locs)
	}
}

func TestConsolidateFoldsClaimedNames(t *testing.T) {
	g := New()
	g.Merge(common.Extraction{
		Entities:      []common.Entity{ent("Marcus", common.EntityCharacter, 0.7), ent("Temple", common.EntityLocation, 0.8)},
		Relationships: []common.Relationship{rel("Marcus", "Temple", common.RelTravelsTo, 0.6)},
	}, "ch1")
	g.Merge(common.Extraction{
		Entities: []common.Entity{
			{Text: "Marcus Vale", CanonicalName: "Marcus Vale", Type: common.EntityCharacter, Confidence: 0.9, Aliases: []string{"Marcus"}},
			ent("Sarah", common.EntityCharacter, 0.9),
		},
		Relationships: []common.Relationship{rel("Sarah", "Marcus Vale", common.RelInteractsWith, 0.8)},
	}, "ch2")

	if got := g.Consolidate(); got != 1 {
		t.Fatalf("expected one fold, got %d", got)
	}
	nodes, edges := g.Stats()
	if nodes != 3 || edges != 2 {
		t.Fatalf("expected 3 nodes and 2 edges, got %d and %d", nodes, edges)
	}
	n, _ := g.Node("marcus vale")
	if n.FirstSeenDoc != "ch1" || n.LastSeenDoc != "ch2" {
		t.Fatalf("unexpected first/last doc %q %q", n.FirstSeenDoc, n.LastSeenDoc)
	}
	if g.Resolve("Marcus") != "marcus vale" {
		t.Fatalf("Marcus should resolve to the folded node")
	}
	if locs := g.CharacterLocations("Marcus"); len(locs) != 1 {
		t.Fatalf("expected re-pointed location edge, got %+v", locs)
	}
}

func TestFoldNodesRequiresSameType(t *testing.T) {
	g := New()
	g.Merge(common.Extraction{Entities: []common.Entity{
		ent("Sarah", common.EntityCharacter, 0.9),
		ent("Sara", common.EntityCharacter, 0.6),
		ent("Sarah's Rest", common.EntityLocation, 0.6),
	}}, "ch1")

	if got := g.FoldNodes("Sarah", []string{"Sara", "Sarah's Rest", "Unknown"}); got != 1 {
		t.Fatalf("expected one fold, got %d", got)
	}
	if nodes, _ := g.Stats(); nodes != 2 {
		t.Fatalf("expected 2 nodes, got %d", nodes)
	}
}

func TestPlotEventsOrder(t *testing.T) {
	g := New()
	g.Merge(common.Extraction{
		Entities: []common.Entity{
			ent("The Meeting", common.EntityEvent, 0.8),
			ent("The Storm", common.EntityEvent, 0.7),
			ent("Sarah", common.EntityCharacter, 0.9),
		},
		Relationships: []common.Relationship{rel("Sarah", "The Meeting", common.RelParticipatesIn, 0.8)},
	}, "ch1")
	g.Merge(common.Extraction{Entities: []common.Entity{
		ent("The Escape", common.EntityEvent, 0.8),
		ent("The Meeting", common.EntityEvent, 0.9),
	}}, "ch2")

	events := g.PlotEvents()
	var names []string
	for _, e := range events {
		names = append(names, e.Name)
	}
	want := []string{"The Meeting", "The Storm", "The Escape"}
	if !reflect.DeepEqual(names, want) {
		t.Fatalf("unexpected order: %v", names)
	}
	if !reflect.DeepEqual(events[0].Participants, []string{"Sarah"}) {
		t.Fatalf("unexpected participants: %v", events[0].Participants)
	}
}

func TestCentralityMetrics(t *testing.T) {
	g := New()
	g.Merge(common.Extraction{
		Entities: []common.Entity{
			ent("Ann", common.EntityCharacter, 0.9),
			ent("Ben", common.EntityCharacter, 0.9),
			ent("Cal", common.EntityCharacter, 0.9),
		},
		Relationships: []common.Relationship{
			rel("Ann", "Ben", common.RelInteractsWith, 0.9),
			rel("Ann", "Ben", common.RelLoves, 0.9),
			rel("Ben", "Cal", common.RelInteractsWith, 0.9),
		},
	}, "ch1")

	got := g.CentralityMetrics()
	want := map[string][2]float64{
		"ann": {0.5, 0},
		"ben": {1, 0.5},
		"cal": {0.5, 0},
	}
	for key, w := range want {
		c, ok := got[key]
		if !ok {
			t.Fatalf("missing centrality for %s", key)
		}
		if math.Abs(c.Degree-w[0]) > 1e-9 || math.Abs(c.Betweenness-w[1]) > 1e-9 {
			t.Fatalf("%s: got degree=%v betweenness=%v, want %v", key, c.Degree, c.Betweenness, w)
		}
	}
}

func TestCentralityEmptyAndSingle(t *testing.T) {
	g := New()
	if got := g.CentralityMetrics(); len(got) != 0 {
		t.Fatalf("expected empty metrics, got %v", got)
	}
	g.Merge(common.Extraction{Entities: []common.Entity{ent("Ann", common.EntityCharacter, 0.9)}}, "ch1")
	if c := g.CentralityMetrics()["ann"]; c.Degree != 0 || c.Betweenness != 0 {
		t.Fatalf("expected zero centrality, got %+v", c)
	}
}

func TestFindMentionsTiers(t *testing.T) {
	g := New()
	g.Merge(common.Extraction{Entities: []common.Entity{
		ent("Sarah", common.EntityCharacter, 0.9),
		ent("crystal", common.EntityObject, 0.8),
		ent("Marcus Vale", common.EntityCharacter, 0.8),
		ent("Temple", common.EntityLocation, 0.8),
	}}, "ch1")

	got := g.FindMentions("Sarah clutched the CRYSTAL while Marcus waited")
	weights := map[string]float64{}
	for _, m := range got {
		weights[m.Key] = m.Weight
	}
	want := map[string]float64{
		"sarah":       WeightExact,
		"crystal":     WeightFolded,
		"marcus vale": WeightSubstring,
	}
	if !reflect.DeepEqual(weights, want) {
		t.Fatalf("unexpected mentions: %v", weights)
	}
	if got[0].Key != "sarah" {
		t.Fatalf("expected exact match first, got %+v", got[0])
	}
	if m := g.FindMentions("   "); m != nil {
		t.Fatalf("expected no mentions, got %v", m)
	}
}

func TestMergeReplacesDocumentFacts(t *testing.T) {
	g := New()
	aged := func(age string) common.Entity {
		e := ent("Emma", common.EntityCharacter, 0.9)
		e.Attributes = map[string]string{"age": age}
		return e
	}
	g.Merge(common.Extraction{Entities: []common.Entity{aged("19")}}, "ch1")
	g.Merge(common.Extraction{Entities: []common.Entity{aged("20")}}, "ch2")
	g.Merge(common.Extraction{Entities: []common.Entity{aged("21")}}, "ch1")

	n, ok := g.Node("emma")
	if !ok {
		t.Fatalf("emma missing")
	}
	want := []common.Fact{{Attribute: "age", Value: "20", DocID: "ch2"}, {Attribute: "age", Value: "21", DocID: "ch1"}}
	if !reflect.DeepEqual(n.Facts, want) {
		t.Fatalf("facts = %+v, want %+v", n.Facts, want)
	}
}

func TestExportImportRoundTrip(t *testing.T) {
	g := New()
	g.Merge(common.Extraction{
		Entities: []common.Entity{
			{Text: "Emma", CanonicalName: "Emma", Type: common.EntityCharacter, Confidence: 0.9, Aliases: []string{"Em"}, Attributes: map[string]string{"age": "19"}},
			ent("Temple", common.EntityLocation, 0.8),
		},
		Relationships: []common.Relationship{{Source: "Emma", Target: "Temple", RelationType: common.RelLocatedIn, Confidence: 0.7, ContextSnippet: "Emma waited in the temple."}},
	}, "ch1")

	data := g.Export()
	restored := New()
	restored.Import(data)

	if !reflect.DeepEqual(restored.Export(), data) {
		t.Fatalf("round trip mismatch:\n%+v\n%+v", restored.Export(), data)
	}
	if restored.Resolve("Em") != "emma" {
		t.Fatalf("alias lost on import")
	}
	if restored.MaxSeq() != g.MaxSeq() {
		t.Fatalf("sequence lost on import: %d != %d", restored.MaxSeq(), g.MaxSeq())
	}

	restored.Reset()
	if nodes, edges := restored.Stats(); nodes != 0 || edges != 0 {
		t.Fatalf("reset left %d nodes and %d edges", nodes, edges)
	}
}
