package common

import "strings"

// EntityType is the closed set of narrative entity kinds a graph node can have.
type EntityType string

const (
	EntityCharacter EntityType = "CHARACTER"
	EntityLocation  EntityType = "LOCATION"
	EntityEvent     EntityType = "EVENT"
	EntityTheme     EntityType = "THEME"
	EntityObject    EntityType = "OBJECT"
)

// EntityTypes lists every valid entity type in prompt order.
var EntityTypes = []EntityType{EntityCharacter, EntityLocation, EntityEvent, EntityTheme, EntityObject}

var entityTypeAliases = map[string]EntityType{
	"CHARACTER":    EntityCharacter,
	"PERSON":       EntityCharacter,
	"PEOPLE":       EntityCharacter,
	"PROTAGONIST":  EntityCharacter,
	"ANTAGONIST":   EntityCharacter,
	"CREATURE":     EntityCharacter,
	"LOCATION":     EntityLocation,
	"PLACE":        EntityLocation,
	"SETTING":      EntityLocation,
	"BUILDING":     EntityLocation,
	"EVENT":        EntityEvent,
	"SCENE":        EntityEvent,
	"INCIDENT":     EntityEvent,
	"PLOT_EVENT":   EntityEvent,
	"THEME":        EntityTheme,
	"CONCEPT":      EntityTheme,
	"MOTIF":        EntityTheme,
	"IDEA":         EntityTheme,
	"OBJECT":       EntityObject,
	"ARTIFACT":     EntityObject,
	"ITEM":         EntityObject,
	"WEAPON":       EntityObject,
	"ORGANIZATION": EntityObject,
}

// ParseEntityType folds a free-form type label onto the closed set.
// Unrecognised labels map to EntityObject and ok reports false.
func ParseEntityType(s string) (t EntityType, ok bool) {
	key := strings.ToUpper(strings.TrimSpace(s))
	key = strings.ReplaceAll(key, " ", "_")
	if t, ok := entityTypeAliases[key]; ok {
		return t, true
	}
	return EntityObject, false
}

// RelationType is the closed set of directed narrative relationships.
type RelationType string

const (
	RelInteractsWith  RelationType = "INTERACTS_WITH"
	RelLocatedIn      RelationType = "LOCATED_IN"
	RelTravelsTo      RelationType = "TRAVELS_TO"
	RelParticipatesIn RelationType = "PARTICIPATES_IN"
	RelPossesses      RelationType = "POSSESSES"
	RelFamilyOf       RelationType = "FAMILY_OF"
	RelAlliedWith     RelationType = "ALLIED_WITH"
	RelConflictsWith  RelationType = "CONFLICTS_WITH"
	RelLoves          RelationType = "LOVES"
	RelCauses         RelationType = "CAUSES"
	RelSymbolizes     RelationType = "SYMBOLIZES"
	RelRelatedTo      RelationType = "RELATED_TO"
)

var RelationTypes = []RelationType{
	RelInteractsWith, RelLocatedIn, RelTravelsTo, RelParticipatesIn, RelPossesses, RelFamilyOf,
	RelAlliedWith, RelConflictsWith, RelLoves, RelCauses, RelSymbolizes, RelRelatedTo,
}

var relationTypeAliases = map[string]RelationType{
	"MEETS":         RelInteractsWith,
	"TALKS_TO":      RelInteractsWith,
	"SPEAKS_WITH":   RelInteractsWith,
	"KNOWS":         RelInteractsWith,
	"LIVES_IN":      RelLocatedIn,
	"AT":            RelLocatedIn,
	"IN":            RelLocatedIn,
	"GOES_TO":       RelTravelsTo,
	"VISITS":        RelTravelsTo,
	"PART_OF":       RelParticipatesIn,
	"OWNS":          RelPossesses,
	"HOLDS":         RelPossesses,
	"CARRIES":       RelPossesses,
	"SIBLING_OF":    RelFamilyOf,
	"PARENT_OF":     RelFamilyOf,
	"CHILD_OF":      RelFamilyOf,
	"FRIEND_OF":     RelAlliedWith,
	"ALLY_OF":       RelAlliedWith,
	"ENEMY_OF":      RelConflictsWith,
	"FIGHTS":        RelConflictsWith,
	"LOVES":         RelLoves,
	"LEADS_TO":      RelCauses,
	"REPRESENTS":    RelSymbolizes,
	"ASSOCIATED_TO": RelRelatedTo,
}

// ParseRelationType folds a relation label onto the closed set.
// Unrecognised labels map to RelRelatedTo and ok reports false.
func ParseRelationType(s string) (t RelationType, ok bool) {
	key := strings.ToUpper(strings.TrimSpace(s))
	key = strings.NewReplacer(" ", "_", "-", "_").Replace(key)
	for _, r := range RelationTypes {
		if string(r) == key {
			return r, true
		}
	}
	if t, ok := relationTypeAliases[key]; ok {
		return t, true
	}
	return RelRelatedTo, false
}

// Verb renders the relation the way narratives show it, e.g. "interacts_with".
func (r RelationType) Verb() string {
	return strings.ToLower(string(r))
}

// Document is one ingestion triple handed over by the document-management side.
type Document struct {
	DocID    string         `json:"doc_id" validate:"required"`
	Text     string         `json:"text"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Chunk is a bounded, overlapping segment of a document and the unit of
// semantic indexing. Position is monotonic within a DocID.
type Chunk struct {
	ID         string         `json:"id"`
	DocID      string         `json:"doc_id"`
	Text       string         `json:"text"`
	TokenCount int            `json:"token_count"`
	Position   int            `json:"position_index"`
	Embedding  []float32      `json:"embedding,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// Span is a half-open byte range into the extracted text.
type Span struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

type Entity struct {
	Text          string            `json:"text"`
	CanonicalName string            `json:"canonical_name"`
	Type          EntityType        `json:"type"`
	Confidence    float64           `json:"confidence"`
	SourceDocID   string            `json:"source_doc_id"`
	Span          *Span             `json:"span,omitempty"`
	Aliases       []string          `json:"aliases,omitempty"`
	Attributes    map[string]string `json:"attributes,omitempty"`
}

// Relationship is a directed, typed edge between two entity names as the
// extractor saw them. The graph resolves names to canonical nodes on merge.
type Relationship struct {
	Source         string       `json:"source"`
	Target         string       `json:"target"`
	RelationType   RelationType `json:"relation_type"`
	Confidence     float64      `json:"confidence"`
	ContextSnippet string       `json:"context_snippet"`
	SourceDocID    string       `json:"source_doc_id"`
}

type Extraction struct {
	Entities      []Entity       `json:"entities"`
	Relationships []Relationship `json:"relationships"`
}

// Empty reports whether nothing was extracted.
func (e Extraction) Empty() bool {
	return len(e.Entities) == 0 && len(e.Relationships) == 0
}

// SearchHit is one ranked chunk returned by a vector index.
type SearchHit struct {
	ID       string         `json:"id"`
	DocID    string         `json:"doc_id"`
	Text     string         `json:"text"`
	Score    float64        `json:"score"`
	Position int            `json:"position_index"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// PathStep is one (node, edge, node) triple of a narrative path.
// Source and Target are display names.
type PathStep struct {
	Source     string       `json:"source"`
	Relation   RelationType `json:"relation_type"`
	Target     string       `json:"target"`
	Confidence float64      `json:"confidence"`
}

type NarrativePath struct {
	Steps     []PathStep `json:"steps"`
	Nodes     []string   `json:"nodes"`
	Score     float64    `json:"score"`
	Narrative string     `json:"narrative"`
}

// End returns the canonical key of the last node on the path.
func (p NarrativePath) End() string {
	if len(p.Nodes) == 0 {
		return ""
	}
	return p.Nodes[len(p.Nodes)-1]
}

// GraphNode is the serialisable form of a canonical entity.
type GraphNode struct {
	Key          string     `json:"key"`
	Name         string     `json:"name"`
	Type         EntityType `json:"type"`
	Confidence   float64    `json:"confidence"`
	Mentions     int        `json:"mentions"`
	FirstSeenDoc string     `json:"first_seen_doc"`
	LastSeenDoc  string     `json:"last_seen_doc"`
	FirstSeq     int64      `json:"first_seq"`
	LastSeq      int64      `json:"last_seq"`
	Aliases      []string   `json:"aliases,omitempty"`
	Docs         []string   `json:"docs,omitempty"`
	Facts        []Fact     `json:"facts,omitempty"`
}

// Fact is an attribute value stated about an entity in one document.
type Fact struct {
	Attribute string `json:"attribute"`
	Value     string `json:"value"`
	DocID     string `json:"doc_id"`
}

// GraphEdge is the serialisable form of a relationship between two nodes,
// addressed by canonical key.
type GraphEdge struct {
	Source     string       `json:"source"`
	Target     string       `json:"target"`
	SourceName string       `json:"source_name,omitempty"`
	TargetName string       `json:"target_name,omitempty"`
	Relation   RelationType `json:"relation_type"`
	Confidence float64      `json:"confidence"`
	Snippets   []string     `json:"context_snippets,omitempty"`
	Docs       []string     `json:"docs,omitempty"`
	Seq        int64        `json:"seq"`
}

type GraphData struct {
	Nodes []GraphNode `json:"nodes"`
	Edges []GraphEdge `json:"edges"`
}
