package indexer

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/OFFIS-RIT/quill/internal/util"
	"github.com/OFFIS-RIT/quill/pkg/common"
	"github.com/OFFIS-RIT/quill/pkg/logger"
	"github.com/OFFIS-RIT/quill/pkg/query"
	"github.com/OFFIS-RIT/quill/pkg/vector"
)

const (
	feedbackPassages  = 5
	maxSuggestions    = 10
	SuggestionGeneral = "general"
)

// Suggestion is one piece of actionable advice and the fact it rests on.
type Suggestion struct {
	Type       string `json:"type"`
	Suggestion string `json:"suggestion"`
	BasedOn    string `json:"based_on"`
}

// MentionedEntity is a known entity found in the text under review.
type MentionedEntity struct {
	Key          string            `json:"key"`
	Name         string            `json:"name"`
	Type         common.EntityType `json:"type"`
	Match        float64           `json:"match"`
	Confidence   float64           `json:"confidence"`
	Mentions     int               `json:"mentions"`
	FirstSeenDoc string            `json:"first_seen_doc"`
	LastSeenDoc  string            `json:"last_seen_doc"`
	Facts        []common.Fact     `json:"facts,omitempty"`
}

type FeedbackRequest struct {
	HighlightedText string `json:"highlighted_text" validate:"required"`
	DocID           string `json:"doc_id"`
	ContextWindow   int    `json:"context_window"`
	// Trace adds the nodes, documents and chunks the lookup touched.
	Trace bool `json:"trace"`
}

type Feedback struct {
	EntitiesMentioned []MentionedEntity         `json:"entities_mentioned"`
	NarrativePaths    []common.NarrativePath    `json:"narrative_paths"`
	RelatedPassages   []common.SearchHit        `json:"related_passages"`
	Context           []common.Chunk            `json:"context,omitempty"`
	Suggestions       []Suggestion              `json:"suggestions"`
	Warnings          []string                  `json:"warnings,omitempty"`
	Trace             *query.QueryTraceSnapshot `json:"trace,omitempty"`
}

func (i *Indexer) mentionedEntities(text string) []MentionedEntity {
	var out []MentionedEntity
	for _, m := range i.graph.FindMentions(text) {
		n, ok := i.graph.Node(m.Key)
		if !ok {
			continue
		}
		out = append(out, MentionedEntity{
			Key:          n.Key,
			Name:         n.Name,
			Type:         n.Type,
			Match:        m.Weight,
			Confidence:   n.Confidence,
			Mentions:     n.Mentions,
			FirstSeenDoc: n.FirstSeenDoc,
			LastSeenDoc:  n.LastSeenDoc,
			Facts:        n.Facts,
		})
	}
	return out
}

// search wraps the vector search and turns an unavailable backend into a
// warning.
func (i *Indexer) search(ctx context.Context, text string, n int, filter vector.Filter) ([]common.SearchHit, string) {
	hits, err := i.index.Search(ctx, text, n, filter)
	if err != nil {
		logger.Warn("[Indexer] Vector search degraded", "collection", i.collection, "err", err)
		return []common.SearchHit{}, "vector search unavailable: " + err.Error()
	}
	if hits == nil {
		hits = []common.SearchHit{}
	}
	return hits, ""
}

// ContextualFeedback explains what the collection already knows about a
// highlighted passage: the entities it mentions, the narrative paths around
// them, semantically related passages and suggestions built from both.
// Sub-results that fail are left empty and reported in Warnings.
func (i *Indexer) ContextualFeedback(ctx context.Context, req FeedbackRequest) (Feedback, error) {
	if strings.TrimSpace(req.HighlightedText) == "" {
		return Feedback{}, common.InvalidInput("highlighted_text is required")
	}

	fb := Feedback{
		EntitiesMentioned: i.mentionedEntities(req.HighlightedText),
		Suggestions:       []Suggestion{},
	}
	if fb.EntitiesMentioned == nil {
		fb.EntitiesMentioned = []MentionedEntity{}
	}

	var tracers []query.Tracer
	var trace *query.QueryTrace
	if req.Trace {
		trace = query.NewQueryTrace()
		tracers = append(tracers, trace)
	}

	paths, err := i.retriever.Retrieve(ctx, req.HighlightedText, tracers...)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return Feedback{}, err
		}
		fb.Warnings = append(fb.Warnings, "path retrieval: "+err.Error())
	}
	fb.NarrativePaths = paths
	if fb.NarrativePaths == nil {
		fb.NarrativePaths = []common.NarrativePath{}
	}

	hits, warning := i.search(ctx, req.HighlightedText, feedbackPassages, vector.Filter{})
	if warning != "" {
		fb.Warnings = append(fb.Warnings, warning)
	}
	fb.RelatedPassages = hits
	if trace != nil {
		for _, h := range hits {
			query.RecordChunkHits(trace, h.ID)
			query.RecordSourceDocs(trace, h.DocID)
		}
	}

	if req.ContextWindow > 0 && len(hits) > 0 {
		window, err := i.index.GetContextWindow(ctx, hits[0].ID, req.ContextWindow)
		if err != nil {
			fb.Warnings = append(fb.Warnings, "context window: "+err.Error())
		} else {
			fb.Context = window
		}
	}

	fb.Suggestions = i.feedbackSuggestions(req.DocID, fb)
	if trace != nil {
		snap := trace.Snapshot()
		fb.Trace = &snap
	}
	return fb, nil
}

func (i *Indexer) feedbackSuggestions(docID string, fb Feedback) []Suggestion {
	out := []Suggestion{}
	add := func(s Suggestion) {
		if len(out) < maxSuggestions {
			out = append(out, s)
		}
	}

	for _, m := range fb.EntitiesMentioned {
		if m.Type != common.EntityCharacter {
			continue
		}
		if f, ok := latestFact(m.Facts); ok {
			add(Suggestion{
				Type:       "continuity",
				Suggestion: fmt.Sprintf("%s was last described with %s %s; consider consistency with that.", m.Name, f.Attribute, f.Value),
				BasedOn:    i.sourceLabel(f.DocID),
			})
		}
		if locs := i.graph.CharacterLocations(m.Name); len(locs) > 0 {
			add(Suggestion{
				Type:       "setting",
				Suggestion: fmt.Sprintf("%s was last placed at %s; keep the setting consistent or show the move.", m.Name, locs[0].Name),
				BasedOn:    firstOr(locs[0].Snippets, m.Name+" "+locs[0].Relations[0].Verb()+" "+locs[0].Name),
			})
		}
		if m.Mentions <= 1 && m.FirstSeenDoc == docID && docID != "" {
			add(Suggestion{
				Type:       "introduction",
				Suggestion: fmt.Sprintf("%s appears for the first time here; consider a short introduction.", m.Name),
				BasedOn:    i.sourceLabel(docID),
			})
		}
	}

	for _, p := range fb.NarrativePaths {
		if len(p.Steps) != 1 {
			continue
		}
		add(Suggestion{
			Type:       "relationship",
			Suggestion: fmt.Sprintf("Keep in mind: %s.", p.Narrative),
			BasedOn:    p.Narrative,
		})
		break
	}

	if len(fb.EntitiesMentioned) == 0 && len(fb.RelatedPassages) > 0 {
		hit := fb.RelatedPassages[0]
		add(Suggestion{
			Type:       "continuity",
			Suggestion: fmt.Sprintf("A related passage exists in %s; check that this scene agrees with it.", i.sourceLabel(hit.DocID)),
			BasedOn:    util.Truncate(strings.Join(strings.Fields(hit.Text), " "), 160),
		})
	}
	return out
}

func latestFact(facts []common.Fact) (common.Fact, bool) {
	if len(facts) == 0 {
		return common.Fact{}, false
	}
	return facts[len(facts)-1], true
}

func firstOr(vals []string, fallback string) string {
	if len(vals) > 0 {
		return vals[0]
	}
	return fallback
}

// sourceLabel names a document for humans: its title when known.
func (i *Indexer) sourceLabel(docID string) string {
	if d, ok := i.document(docID); ok {
		return d.Title()
	}
	return docID
}
