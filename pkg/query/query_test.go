package query

import (
	"context"
	"errors"
	"math"
	"reflect"
	"testing"

	"github.com/OFFIS-RIT/quill/pkg/common"
	"github.com/OFFIS-RIT/quill/pkg/graph"
)

func storyGraph() *graph.NarrativeGraph {
	g := graph.New()
	g.Merge(common.Extraction{
		Entities: []common.Entity{
			{CanonicalName: "Emma", Type: common.EntityCharacter, Confidence: 0.9},
			{CanonicalName: "Marcus", Type: common.EntityCharacter, Confidence: 0.9},
		},
		Relationships: []common.Relationship{
			{Source: "Emma", Target: "Marcus", RelationType: common.RelInteractsWith, Confidence: 0.8},
		},
	}, "ch1")
	g.Merge(common.Extraction{
		Entities: []common.Entity{
			{CanonicalName: "Marcus", Type: common.EntityCharacter, Confidence: 0.9},
			{CanonicalName: "Temple", Type: common.EntityLocation, Confidence: 0.8},
		},
		Relationships: []common.Relationship{
			{Source: "Marcus", Target: "Temple", RelationType: common.RelLocatedIn, Confidence: 0.5},
		},
	}, "ch2")
	return g
}

func narratives(paths []common.NarrativePath) []string {
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		out = append(out, p.Narrative)
	}
	return out
}

func TestRetrieveScoresAndOrdersPaths(t *testing.T) {
	r := NewRetriever(storyGraph(), Options{})

	paths, err := r.Retrieve(context.Background(), "Emma was tired")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []string{
		"Emma interacts_with Marcus",
		"Emma interacts_with Marcus; Marcus located_in Temple",
	}
	if got := narratives(paths); !reflect.DeepEqual(got, want) {
		t.Fatalf("unexpected paths: %v", got)
	}
	if math.Abs(paths[0].Score-0.8*0.95) > 1e-9 {
		t.Fatalf("unexpected score %v", paths[0].Score)
	}
	if math.Abs(paths[1].Score-0.8*0.5*0.975) > 1e-9 {
		t.Fatalf("unexpected score %v", paths[1].Score)
	}
	if !reflect.DeepEqual(paths[1].Nodes, []string{"emma", "marcus", "temple"}) || paths[1].End() != "temple" {
		t.Fatalf("unexpected nodes %v", paths[1].Nodes)
	}
}

func TestRetrieveKeepsEdgeDirection(t *testing.T) {
	r := NewRetriever(storyGraph(), Options{})

	paths, err := r.Retrieve(context.Background(), "The temple was silent")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(paths) == 0 || paths[0].Narrative != "Marcus located_in Temple" {
		t.Fatalf("unexpected paths: %v", narratives(paths))
	}
	if paths[0].Steps[0].Source != "Marcus" || paths[0].Steps[0].Target != "Temple" {
		t.Fatalf("step rendered against edge direction: %+v", paths[0].Steps[0])
	}
}

func TestRetrieveBounds(t *testing.T) {
	tests := []struct {
		name string
		opts Options
		want int
	}{
		{name: "defaults", opts: Options{}, want: 2},
		{name: "depth one", opts: Options{MaxDepth: 1}, want: 1},
		{name: "top one", opts: Options{TopK: 1}, want: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			paths, err := NewRetriever(storyGraph(), tt.opts).Retrieve(context.Background(), "Emma")
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(paths) != tt.want {
				t.Fatalf("expected %d paths, got %v", tt.want, narratives(paths))
			}
		})
	}
}

func TestRetrieveWithoutSeeds(t *testing.T) {
	paths, err := NewRetriever(storyGraph(), Options{}).Retrieve(context.Background(), "nothing relevant here")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if paths == nil || len(paths) != 0 {
		t.Fatalf("expected empty, non-nil result, got %v", paths)
	}
}

func TestRetrieveHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewRetriever(storyGraph(), Options{}).Retrieve(ctx, "Emma")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestRetrieveRecordsTrace(t *testing.T) {
	trace := NewQueryTrace()
	r := NewRetriever(storyGraph(), Options{MaxDepth: 1})

	if _, err := r.Retrieve(context.Background(), "Emma", trace); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	snap := trace.Snapshot()
	want := QueryTraceSnapshot{
		SeedNodes:    []string{"emma"},
		VisitedNodes: []string{"emma", "marcus"},
		SourceDocs:   []string{"ch1"},
		ChunkHits:    []string{},
	}
	if !reflect.DeepEqual(snap, want) {
		t.Fatalf("unexpected trace: %+v", snap)
	}
}

func TestRecency(t *testing.T) {
	tests := []struct {
		seq, max int64
		want     float64
	}{
		{seq: 0, max: 0, want: 1},
		{seq: 1, max: 2, want: 0.95},
		{seq: 2, max: 2, want: 1},
	}
	for _, tt := range tests {
		if got := Recency(tt.seq, tt.max); math.Abs(got-tt.want) > 1e-9 {
			t.Fatalf("Recency(%d, %d) = %v, want %v", tt.seq, tt.max, got, tt.want)
		}
	}
}
