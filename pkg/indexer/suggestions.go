package indexer

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/OFFIS-RIT/quill/internal/util"
	"github.com/OFFIS-RIT/quill/pkg/ai"
	"github.com/OFFIS-RIT/quill/pkg/common"
	"github.com/OFFIS-RIT/quill/pkg/graph"
	"github.com/OFFIS-RIT/quill/pkg/vector"
)

const (
	SuggestionCharacter = "character"
	SuggestionPlot      = "plot"
	SuggestionSetting   = "setting"

	suggestionPassages = 3
)

type SuggestionRequest struct {
	Context        string `json:"context" validate:"required"`
	SuggestionType string `json:"suggestion_type"`
}

type SuggestionResult struct {
	SuggestionType string       `json:"suggestion_type"`
	Suggestions    []Suggestion `json:"suggestions"`
	Warnings       []string     `json:"warnings,omitempty"`
}

func suggestionKinds(t string) ([]string, error) {
	switch t = strings.ToLower(strings.TrimSpace(t)); t {
	case "":
		return []string{SuggestionGeneral, SuggestionCharacter, SuggestionPlot, SuggestionSetting}, nil
	case SuggestionGeneral, SuggestionCharacter, SuggestionPlot, SuggestionSetting:
		return []string{t}, nil
	default:
		return nil, common.InvalidInput("unknown suggestion_type %q", t)
	}
}

// WritingSuggestions surfaces character, plot and setting state relevant to
// context. Suggestions are built from graph paths and related passages and,
// when enabled, from the language model grounded in the same state.
func (i *Indexer) WritingSuggestions(ctx context.Context, req SuggestionRequest) (SuggestionResult, error) {
	if strings.TrimSpace(req.Context) == "" {
		return SuggestionResult{}, common.InvalidInput("context is required")
	}
	kinds, err := suggestionKinds(req.SuggestionType)
	if err != nil {
		return SuggestionResult{}, err
	}

	res := SuggestionResult{SuggestionType: strings.ToLower(strings.TrimSpace(req.SuggestionType)), Suggestions: []Suggestion{}}
	if res.SuggestionType == "" {
		res.SuggestionType = SuggestionGeneral
	}
	add := func(s Suggestion) {
		if len(res.Suggestions) >= maxSuggestions {
			return
		}
		if slices.ContainsFunc(res.Suggestions, func(o Suggestion) bool { return o.Suggestion == s.Suggestion }) {
			return
		}
		res.Suggestions = append(res.Suggestions, s)
	}

	mentions := i.mentionedEntities(req.Context)
	var characters []MentionedEntity
	for _, m := range mentions {
		if m.Type == common.EntityCharacter {
			characters = append(characters, m)
		}
	}

	paths, err := i.retriever.Retrieve(ctx, req.Context)
	if err != nil {
		if ctx.Err() != nil {
			return SuggestionResult{}, err
		}
		res.Warnings = append(res.Warnings, "path retrieval: "+err.Error())
	}
	hits, warning := i.search(ctx, req.Context, suggestionPassages, vector.Filter{})
	if warning != "" {
		res.Warnings = append(res.Warnings, warning)
	}

	for _, kind := range kinds {
		switch kind {
		case SuggestionGeneral:
			for _, p := range paths[:min(len(paths), 2)] {
				add(Suggestion{Type: SuggestionGeneral, Suggestion: "Build on the established thread: " + p.Narrative + ".", BasedOn: p.Narrative})
			}
			if len(hits) > 0 {
				add(Suggestion{
					Type:       SuggestionGeneral,
					Suggestion: fmt.Sprintf("Revisit the related passage in %s before continuing.", i.sourceLabel(hits[0].DocID)),
					BasedOn:    util.Truncate(strings.Join(strings.Fields(hits[0].Text), " "), 160),
				})
			}
		case SuggestionCharacter:
			for _, c := range characters {
				for _, f := range c.Facts {
					add(Suggestion{
						Type:       SuggestionCharacter,
						Suggestion: fmt.Sprintf("Remember that %s's %s is %s.", c.Name, f.Attribute, f.Value),
						BasedOn:    i.sourceLabel(f.DocID),
					})
				}
				interactions := i.graph.CharacterInteractions(c.Name)
				if len(interactions) == 0 {
					add(Suggestion{
						Type:       SuggestionCharacter,
						Suggestion: fmt.Sprintf("%s has not interacted with other characters yet; consider introducing a relationship.", c.Name),
						BasedOn:    c.Name,
					})
					continue
				}
				e := interactions[0]
				other := e.TargetName
				if e.Target == c.Key {
					other = e.SourceName
				}
				add(Suggestion{
					Type:       SuggestionCharacter,
					Suggestion: fmt.Sprintf("%s and %s share a %s thread; consider how it develops here.", c.Name, other, e.Relation.Verb()),
					BasedOn:    firstOr(e.Snippets, e.SourceName+" "+e.Relation.Verb()+" "+e.TargetName),
				})
			}
		case SuggestionPlot:
			events := i.graph.PlotEvents()
			if len(events) == 0 {
				add(Suggestion{Type: SuggestionPlot, Suggestion: "No plot events are recorded yet; consider anchoring this scene to a concrete event.", BasedOn: i.collection})
				break
			}
			last := events[len(events)-1]
			text := fmt.Sprintf("The most recent plot event is %s; consider its consequences.", last.Name)
			if len(last.Participants) > 0 {
				text = fmt.Sprintf("The most recent plot event is %s involving %s; consider its consequences.", last.Name, strings.Join(last.Participants, ", "))
			}
			add(Suggestion{Type: SuggestionPlot, Suggestion: text, BasedOn: i.sourceLabel(last.FirstSeenDoc)})
			for _, p := range paths {
				if slices.ContainsFunc(events, func(ev graph.PlotEvent) bool { return ev.Key == p.End() }) {
					add(Suggestion{Type: SuggestionPlot, Suggestion: "Connect this passage to: " + p.Narrative + ".", BasedOn: p.Narrative})
					break
				}
			}
		case SuggestionSetting:
			for _, c := range characters {
				locs := i.graph.CharacterLocations(c.Name)
				if len(locs) == 0 {
					add(Suggestion{
						Type:       SuggestionSetting,
						Suggestion: fmt.Sprintf("No setting is established for %s yet; consider grounding the scene in a place.", c.Name),
						BasedOn:    c.Name,
					})
					continue
				}
				add(Suggestion{
					Type:       SuggestionSetting,
					Suggestion: fmt.Sprintf("%s was last placed at %s; keep the setting consistent or show the move.", c.Name, locs[0].Name),
					BasedOn:    firstOr(locs[0].Snippets, c.Name+" "+locs[0].Relations[0].Verb()+" "+locs[0].Name),
				})
			}
		}
	}

	if i.llmSuggestions && i.ai != nil {
		if err := i.modelSuggestions(ctx, req.Context, res.SuggestionType, mentions, paths, add); err != nil {
			res.Warnings = append(res.Warnings, "model suggestions: "+err.Error())
		}
	}
	return res, nil
}

func (i *Indexer) modelSuggestions(
	ctx context.Context,
	passage string,
	kind string,
	mentions []MentionedEntity,
	paths []common.NarrativePath,
	add func(Suggestion),
) error {
	var state strings.Builder
	for _, m := range mentions {
		fmt.Fprintf(&state, "- %s (%s)", m.Name, m.Type)
		for _, f := range m.Facts {
			fmt.Fprintf(&state, "; %s: %s", f.Attribute, f.Value)
		}
		state.WriteString("\n")
	}
	for _, p := range paths {
		fmt.Fprintf(&state, "- %s\n", p.Narrative)
	}
	if state.Len() == 0 {
		return nil
	}

	var out struct {
		Suggestions []Suggestion `json:"suggestions"`
	}
	prompt := fmt.Sprintf(ai.SuggestionPrompt, kind, passage, state.String())
	if err := i.ai.GenerateCompletionWithFormat(ctx, "writing_suggestions", "Suggest grounded next steps for a passage.", prompt, &out, ai.WithTemperature(0.4)); err != nil {
		return err
	}
	for _, s := range out.Suggestions {
		if strings.TrimSpace(s.Suggestion) == "" {
			continue
		}
		if s.Type == "" {
			s.Type = kind
		}
		add(s)
	}
	return nil
}
