package indexer

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/OFFIS-RIT/quill/pkg/ai"
	"github.com/OFFIS-RIT/quill/pkg/common"
	"github.com/OFFIS-RIT/quill/pkg/graph"
	"github.com/OFFIS-RIT/quill/pkg/logger"
	"github.com/OFFIS-RIT/quill/pkg/vector"
)

const (
	consistencyPassages = 5
	maxFactDocs         = 20

	ModeGraph  = "graph"
	ModeText   = "text"
	ModeVector = "vector"

	NoConflicts = "no conflicts found"
)

type ConsistencyRequest struct {
	Statement string `json:"statement" validate:"required"`
	DocID     string `json:"doc_id"`
	CheckType string `json:"check_type"`
}

// Finding is a conflict or confirmation between the statement and one
// established fact.
type Finding struct {
	Entity           string `json:"entity"`
	Category         string `json:"category"`
	Attribute        string `json:"attribute"`
	StatementValue   string `json:"statement_value"`
	EstablishedValue string `json:"established_value"`
	SourceDocID      string `json:"source_doc_id,omitempty"`
	Source           string `json:"source,omitempty"`
	Evidence         string `json:"evidence,omitempty"`
	Origin           string `json:"origin"`
}

type ConsistencyResult struct {
	IsConsistent    bool      `json:"is_consistent"`
	Conflicts       []Finding `json:"conflicts"`
	Confirmations   []Finding `json:"confirmations"`
	Recommendation  string    `json:"recommendation"`
	EntitiesChecked []string  `json:"entities_checked"`
	Mode            string    `json:"mode"`
	Warnings        []string  `json:"warnings,omitempty"`
}

// checkCategories maps a check_type onto the categories it covers.
func checkCategories(checkType string) ([]string, error) {
	switch t := strings.ToLower(strings.TrimSpace(checkType)); t {
	case "", "all", "character":
		return Categories, nil
	case CategoryAge, CategoryLocation, CategoryAppearance, CategoryRelationship:
		return []string{t}, nil
	default:
		return nil, common.InvalidInput("unknown check_type %q", checkType)
	}
}

// CheckConsistency compares the attribute claims of statement (age,
// location, hair and eye colour, relationships) with what earlier documents
// and the graph establish about the same entities.
//
// Entities are identified by matching known graph labels; failing that by
// capitalised names. If no entity can be identified at all the comparison
// falls back to claims in semantically similar passages.
func (i *Indexer) CheckConsistency(ctx context.Context, req ConsistencyRequest) (ConsistencyResult, error) {
	if strings.TrimSpace(req.Statement) == "" {
		return ConsistencyResult{}, common.InvalidInput("statement is required")
	}
	categories, err := checkCategories(req.CheckType)
	if err != nil {
		return ConsistencyResult{}, err
	}

	res := ConsistencyResult{Conflicts: []Finding{}, Confirmations: []Finding{}, EntitiesChecked: []string{}}

	subjects, mode := i.statementSubjects(req.Statement)
	res.Mode = mode
	if mode == ModeVector {
		cerr := &common.ConsistencyCheckError{Err: errors.New("no entity identified in statement")}
		logger.Debug("[Indexer] Consistency check falls back to vector comparison", "collection", i.collection, "err", cerr)
		res.Warnings = append(res.Warnings, cerr.Error())
	}
	for _, s := range subjects {
		res.EntitiesChecked = append(res.EntitiesChecked, s.name)
	}

	names := make(map[string]string, len(subjects))
	for _, s := range subjects {
		names[s.key] = s.name
	}

	statementX := claimExtractor{subjects: subjects, single: true, anonymous: mode == ModeVector}
	stated := filterCategories(statementX.extract(req.Statement, req.DocID), categories)

	established, warnings := i.establishedClaims(ctx, req.Statement, subjects, mode)
	res.Warnings = append(res.Warnings, warnings...)
	established = filterCategories(established, categories)

	seen := make(map[string]struct{})
	for _, s := range stated {
		for _, e := range established {
			if e.subject != s.subject || e.attribute != s.attribute {
				continue
			}
			f := Finding{
				Entity:           names[s.subject],
				Category:         s.category,
				Attribute:        s.attribute,
				StatementValue:   s.value,
				EstablishedValue: e.value,
				SourceDocID:      e.docID,
				Source:           i.sourceLabel(e.docID),
				Evidence:         e.evidence,
				Origin:           "rule",
			}
			key := findingKey(f)
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			if e.value == s.value {
				res.Confirmations = append(res.Confirmations, f)
			} else {
				res.Conflicts = append(res.Conflicts, f)
			}
		}
	}

	if i.llmConsistency && i.ai != nil && len(established) > 0 {
		if err := i.classifyWithModel(ctx, req.Statement, established, names, categories, seen, &res); err != nil {
			res.Warnings = append(res.Warnings, "model classification: "+err.Error())
		}
	}

	res.IsConsistent = len(res.Conflicts) == 0
	res.Recommendation = recommendation(res.Conflicts)
	return res, nil
}

func findingKey(f Finding) string {
	return strings.ToLower(strings.Join([]string{f.Entity, f.Attribute, f.StatementValue, f.EstablishedValue, f.SourceDocID}, "\x00"))
}

func filterCategories(claims []claim, categories []string) []claim {
	out := claims[:0]
	for _, c := range claims {
		if slices.Contains(categories, c.category) {
			out = append(out, c)
		}
	}
	return out
}

func recommendation(conflicts []Finding) string {
	if len(conflicts) == 0 {
		return NoConflicts
	}
	var parts []string
	for _, c := range conflicts {
		part := c.Category + " mismatch with " + c.Source
		if c.Source == "" {
			part = c.Category + " mismatch"
		}
		if !slices.Contains(parts, part) {
			parts = append(parts, part)
		}
	}
	return "review: " + strings.Join(parts, "; ")
}

// statementSubjects identifies the entities a statement talks about.
func (i *Indexer) statementSubjects(statement string) ([]subject, string) {
	var subjects []subject
	for _, m := range i.graph.FindMentions(statement) {
		n, ok := i.graph.Node(m.Key)
		if !ok {
			continue
		}
		subjects = append(subjects, subject{key: n.Key, name: n.Name, labels: nodeLabels(n)})
	}
	if len(subjects) > 0 {
		return subjects, ModeGraph
	}

	for _, name := range capitalisedNames(statement) {
		key := i.graph.Resolve(name)
		if key == "" || slices.ContainsFunc(subjects, func(s subject) bool { return s.key == key }) {
			continue
		}
		subjects = append(subjects, subject{key: key, name: name, labels: []string{name}})
	}
	if len(subjects) > 0 {
		return subjects, ModeText
	}
	return nil, ModeVector
}

func nodeLabels(n common.GraphNode) []string {
	labels := append([]string{n.Name, n.Key}, n.Aliases...)
	slices.Sort(labels)
	return slices.Compact(labels)
}

// capitalisedNames returns runs of capitalised words that are not stopwords,
// e.g. "Emma" and "Marcus Vale" in "Emma met Marcus Vale in the hall".
func capitalisedNames(text string) []string {
	var out, run []string
	flush := func() {
		if len(run) > 0 {
			out = append(out, strings.Join(run, " "))
			run = nil
		}
	}
	for _, w := range strings.Fields(text) {
		trimmed := strings.TrimRight(w, ".,;:!?\"')")
		trimmed = strings.TrimLeft(trimmed, "\"'(")
		trimmed = strings.TrimSuffix(strings.TrimSuffix(trimmed, "'s"), "’s")
		if trimmed == "" || !isCapitalised(trimmed) || len(vector.Terms(trimmed)) == 0 {
			flush()
			continue
		}
		run = append(run, trimmed)
		if strings.ContainsAny(w, ".,;:!?") {
			flush()
		}
	}
	flush()
	return out
}

func isCapitalised(w string) bool {
	r, _ := utf8.DecodeRuneInString(w)
	return unicode.IsUpper(r)
}

// establishedClaims gathers prior claims about subjects from graph facts,
// the documents the subjects appear in and semantically similar passages.
func (i *Indexer) establishedClaims(ctx context.Context, statement string, subjects []subject, mode string) ([]claim, []string) {
	var (
		out      []claim
		warnings []string
	)

	x := claimExtractor{subjects: subjects, anonymous: mode == ModeVector}
	if mode != ModeVector {
		x.blockers = i.blockers(subjects)
	}

	seenChunks := make(map[string]struct{})
	scan := func(ch common.Chunk) {
		if _, ok := seenChunks[ch.ID]; ok {
			return
		}
		seenChunks[ch.ID] = struct{}{}
		out = append(out, x.extract(ch.Text, ch.DocID)...)
	}

	if mode == ModeGraph {
		for _, s := range subjects {
			n, ok := i.graph.Node(s.key)
			if !ok {
				continue
			}
			out = append(out, factClaims(n)...)
			for _, docID := range n.Docs[:min(len(n.Docs), maxFactDocs)] {
				chunks, err := i.index.DocumentChunks(ctx, docID)
				if err != nil {
					warnings = append(warnings, fmt.Sprintf("chunks of %s: %v", docID, err))
					continue
				}
				for _, ch := range chunks {
					scan(ch)
				}
			}
		}
	}

	hits, warning := i.search(ctx, statement, consistencyPassages, vector.Filter{})
	if warning != "" {
		warnings = append(warnings, warning)
	}
	for _, h := range hits {
		scan(common.Chunk{ID: h.ID, DocID: h.DocID, Text: h.Text})
	}
	return dedupeClaims(out), warnings
}

// blockers lists known characters other than subjects so claims about them
// are not attributed to a subject mentioned earlier in the same sentence.
func (i *Indexer) blockers(subjects []subject) []subject {
	var out []subject
	for _, n := range i.graph.Export().Nodes {
		if n.Type != common.EntityCharacter {
			continue
		}
		if slices.ContainsFunc(subjects, func(s subject) bool { return s.key == n.Key }) {
			continue
		}
		out = append(out, subject{key: n.Key, name: n.Name, labels: nodeLabels(n)})
	}
	return out
}

// factClaims turns extracted node attributes into claims.
func factClaims(n common.GraphNode) []claim {
	var out []claim
	for _, f := range n.Facts {
		c := claim{subject: n.Key, docID: f.DocID, evidence: f.Attribute + ": " + f.Value}
		attr := strings.ReplaceAll(strings.ToLower(f.Attribute), " ", "_")
		switch attr {
		case "age":
			fields := strings.Fields(f.Value)
			if len(fields) == 0 {
				continue
			}
			age, ok := parseAge(fields[0])
			if !ok {
				continue
			}
			c.category, c.attribute, c.value = CategoryAge, CategoryAge, strconv.Itoa(age)
		case "location", "home", "residence", "lives_in":
			c.category, c.attribute, c.value = CategoryLocation, CategoryLocation, graph.Normalize(f.Value)
		case "hair", "hair_color", "hair_colour":
			c.category, c.attribute, c.value = CategoryAppearance, "hair", normalizeColor(strings.TrimSuffix(strings.ToLower(f.Value), " hair"))
		case "eyes", "eye_color", "eye_colour":
			c.category, c.attribute, c.value = CategoryAppearance, "eyes", normalizeColor(strings.TrimSuffix(strings.ToLower(f.Value), " eyes"))
		default:
			continue
		}
		if c.value != "" {
			out = append(out, c)
		}
	}
	return out
}

type modelFinding struct {
	Entity           string `json:"entity" jsonschema_description:"Name of the entity the fact is about."`
	Category         string `json:"category" jsonschema_description:"One of the attribute categories."`
	StatementValue   string `json:"statement_value" jsonschema_description:"Value given by the new statement."`
	EstablishedValue string `json:"established_value" jsonschema_description:"Value established earlier."`
	Source           string `json:"source" jsonschema_description:"Source of the established fact."`
}

type modelVerdict struct {
	Conflicts     []modelFinding `json:"conflicts"`
	Confirmations []modelFinding `json:"confirmations"`
}

// classifyWithModel asks the language model to compare the statement with
// the established claims and adds findings the rules did not produce.
func (i *Indexer) classifyWithModel(
	ctx context.Context,
	statement string,
	established []claim,
	names map[string]string,
	categories []string,
	seen map[string]struct{},
	res *ConsistencyResult,
) error {
	var facts strings.Builder
	sources := make(map[string]string)
	for _, c := range established {
		entity := names[c.subject]
		source := i.sourceLabel(c.docID)
		sources[strings.ToLower(source)] = c.docID
		fmt.Fprintf(&facts, "- %s %s: %s (%s)\n", entity, c.attribute, c.value, source)
	}
	prompt := fmt.Sprintf(ai.ConsistencyPrompt, statement, facts.String(), strings.Join(categories, ", "))

	var verdict modelVerdict
	err := i.ai.GenerateCompletionWithFormat(
		ctx, "consistency_check", "Compare a statement with established story facts.", prompt, &verdict,
		ai.WithTemperature(0.1),
	)
	if err != nil {
		return err
	}

	convert := func(m modelFinding) (Finding, bool) {
		category := strings.ToLower(strings.TrimSpace(m.Category))
		if !slices.Contains(categories, category) {
			return Finding{}, false
		}
		f := Finding{
			Entity:           m.Entity,
			Category:         category,
			Attribute:        category,
			StatementValue:   m.StatementValue,
			EstablishedValue: m.EstablishedValue,
			SourceDocID:      sources[strings.ToLower(m.Source)],
			Source:           m.Source,
			Origin:           "model",
		}
		key := findingKey(f)
		if _, dup := seen[key]; dup {
			return Finding{}, false
		}
		seen[key] = struct{}{}
		return f, true
	}
	for _, m := range verdict.Conflicts {
		if f, ok := convert(m); ok {
			res.Conflicts = append(res.Conflicts, f)
		}
	}
	for _, m := range verdict.Confirmations {
		if f, ok := convert(m); ok {
			res.Confirmations = append(res.Confirmations, f)
		}
	}
	return nil
}
