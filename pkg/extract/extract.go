package extract

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/OFFIS-RIT/quill/internal/util"
	"github.com/OFFIS-RIT/quill/pkg/ai"
	"github.com/OFFIS-RIT/quill/pkg/chunker"
	"github.com/OFFIS-RIT/quill/pkg/common"
	"github.com/OFFIS-RIT/quill/pkg/logger"
)

const (
	DefaultTimeout    = 60 * time.Second
	DefaultMaxRetries = 2
	// DefaultConfidence is used when the model omits a confidence value.
	DefaultConfidence = 0.5
)

// Extractor turns a text span into typed entities and relationships with
// a single LLM request per attempt.
//
// An Extractor should be created using New.
type Extractor struct {
	client     ai.GraphAIClient
	timeout    time.Duration
	maxRetries int
	model      string
	system     string
}

// Options configures an Extractor.
//
// Timeout bounds each LLM attempt. MaxRetries counts the attempts after
// the first one; zero means a single attempt and a negative value selects
// DefaultMaxRetries. Model overrides the client's extraction model.
type Options struct {
	Timeout    time.Duration
	MaxRetries int
	Model      string
}

// New creates an Extractor.
//
// Example:
//
//	ex := extract.New(client, extract.Options{Timeout: 30 * time.Second, MaxRetries: -1})
//	res, err := ex.Extract(ctx, "chapter-1", text)
//	if err != nil {
//		// res is empty; keep indexing in vector-only mode
//	}
func New(client ai.GraphAIClient, opts Options) *Extractor {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = DefaultMaxRetries
	}
	return &Extractor{
		client:     client,
		timeout:    opts.Timeout,
		maxRetries: opts.MaxRetries,
		model:      opts.Model,
		system:     systemPrompt(),
	}
}

func systemPrompt() string {
	ents := make([]string, len(common.EntityTypes))
	for i, t := range common.EntityTypes {
		ents[i] = string(t)
	}
	rels := make([]string, len(common.RelationTypes))
	for i, r := range common.RelationTypes {
		rels[i] = string(r)
	}
	return fmt.Sprintf(ai.ExtractSystemPrompt, strings.Join(ents, ", "), strings.Join(rels, ", "))
}

type rawEntity struct {
	Text          string          `json:"text"`
	Name          string          `json:"name"`
	CanonicalName string          `json:"canonical_name"`
	Type          string          `json:"type"`
	Confidence    any             `json:"confidence"`
	Span          json.RawMessage `json:"span"`
	Aliases       []string        `json:"aliases"`
	Attributes    map[string]any  `json:"attributes"`
}

type rawRelationship struct {
	Source         string `json:"source"`
	Target         string `json:"target"`
	RelationType   string `json:"relation_type"`
	Type           string `json:"type"`
	Confidence     any    `json:"confidence"`
	ContextSnippet string `json:"context_snippet"`
}

type rawExtraction struct {
	Entities      []rawEntity       `json:"entities"`
	Relationships []rawRelationship `json:"relationships"`
}

// Extract runs extraction for text. Every failure, including timeouts and
// unparseable output after all retries, yields an empty Extraction and a
// *common.ExtractionError; the caller decides whether to continue.
func (e *Extractor) Extract(ctx context.Context, docID string, text string) (common.Extraction, error) {
	if strings.TrimSpace(text) == "" {
		return common.Extraction{}, nil
	}
	if e.client == nil {
		return common.Extraction{}, &common.ExtractionError{DocID: docID, Err: errors.New("no language model configured")}
	}

	prompt := fmt.Sprintf(ai.ExtractUserPrompt, text)
	opts := []ai.GenerateOption{ai.WithSystemPrompts(e.system), ai.WithTemperature(0.1)}
	if e.model != "" {
		opts = append(opts, ai.WithModel(e.model))
	}

	raw, err := util.RetryWithContext(ctx, e.maxRetries+1, func(ctx context.Context) (rawExtraction, error) {
		cctx, cancel := context.WithTimeout(ctx, e.timeout)
		defer cancel()

		reply, err := e.client.GenerateCompletion(cctx, prompt, opts...)
		if err != nil {
			return rawExtraction{}, err
		}
		var out rawExtraction
		stage, err := ai.ExtractJSON(reply, &out)
		if err != nil {
			logger.Debug("[Extract] unparseable model output", "doc_id", docID, "output", util.Truncate(reply, 200))
			return rawExtraction{}, err
		}
		logger.Debug("[Extract] parsed model output", "doc_id", docID, "stage", stage.String())
		return out, nil
	})
	if err != nil {
		logger.Warn("[Extract] extraction failed, continuing without graph data", "doc_id", docID, "err", err)
		return common.Extraction{}, &common.ExtractionError{DocID: docID, Err: err}
	}

	return normalize(raw, docID, text), nil
}

func normalize(raw rawExtraction, docID string, text string) common.Extraction {
	var out common.Extraction
	for _, re := range raw.Entities {
		name := firstNonEmpty(re.Text, re.Name, re.CanonicalName)
		if name == "" {
			continue
		}
		typ, ok := common.ParseEntityType(re.Type)
		if !ok {
			logger.Debug("[Extract] unknown entity type folded to OBJECT", "type", re.Type, "entity", name)
		}
		ent := common.Entity{
			Text:          name,
			CanonicalName: firstNonEmpty(re.CanonicalName, name),
			Type:          typ,
			Confidence:    confidence(re.Confidence),
			SourceDocID:   docID,
			Span:          resolveSpan(re.Span, name, text),
			Attributes:    stringAttributes(re.Attributes),
		}
		for _, a := range re.Aliases {
			if a = strings.TrimSpace(a); a != "" && !strings.EqualFold(a, ent.CanonicalName) {
				ent.Aliases = append(ent.Aliases, a)
			}
		}
		if !strings.EqualFold(ent.Text, ent.CanonicalName) {
			ent.Aliases = append(ent.Aliases, ent.Text)
		}
		out.Entities = append(out.Entities, ent)
	}

	for _, rr := range raw.Relationships {
		src, dst := strings.TrimSpace(rr.Source), strings.TrimSpace(rr.Target)
		if src == "" || dst == "" || strings.EqualFold(src, dst) {
			continue
		}
		rel, ok := common.ParseRelationType(firstNonEmpty(rr.RelationType, rr.Type))
		if !ok {
			logger.Debug("[Extract] unknown relation type folded to RELATED_TO", "type", rr.RelationType)
		}
		snippet := strings.TrimSpace(rr.ContextSnippet)
		if snippet == "" {
			snippet = supportingSentence(text, src, dst)
		}
		out.Relationships = append(out.Relationships, common.Relationship{
			Source:         src,
			Target:         dst,
			RelationType:   rel,
			Confidence:     confidence(rr.Confidence),
			ContextSnippet: snippet,
			SourceDocID:    docID,
		})
	}
	return out
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

// confidence coerces the model's value to [0,1]. Percentages are scaled.
func confidence(v any) float64 {
	var f float64
	switch c := v.(type) {
	case float64:
		f = c
	case string:
		p, err := strconv.ParseFloat(strings.TrimSuffix(strings.TrimSpace(c), "%"), 64)
		if err != nil {
			return DefaultConfidence
		}
		f = p
	default:
		return DefaultConfidence
	}
	if f > 1 && f <= 100 {
		f /= 100
	}
	return min(max(f, 0), 1)
}

// resolveSpan keeps a model-provided span when it is in range and points at
// the entity; otherwise the first case-insensitive occurrence is used.
func resolveSpan(raw json.RawMessage, name string, text string) *common.Span {
	var sp common.Span
	valid := false
	if len(raw) > 0 {
		var pair []int
		if err := json.Unmarshal(raw, &pair); err == nil && len(pair) == 2 {
			sp, valid = common.Span{Start: pair[0], End: pair[1]}, true
		} else if err := json.Unmarshal(raw, &sp); err == nil {
			valid = true
		}
	}
	if valid && sp.Start >= 0 && sp.Start < sp.End && sp.End <= len(text) &&
		strings.EqualFold(text[sp.Start:sp.End], name) {
		return &sp
	}

	idx := strings.Index(strings.ToLower(text), strings.ToLower(name))
	if idx < 0 || idx+len(name) > len(text) {
		return nil
	}
	return &common.Span{Start: idx, End: idx + len(name)}
}

func stringAttributes(in map[string]any) map[string]string {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		k = strings.ToLower(strings.TrimSpace(k))
		if k == "" || v == nil {
			continue
		}
		s := strings.TrimSpace(fmt.Sprint(v))
		if s != "" {
			out[k] = s
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func supportingSentence(text, a, b string) string {
	la, lb := strings.ToLower(a), strings.ToLower(b)
	for _, s := range chunker.SplitSentences(text) {
		ls := strings.ToLower(s)
		if strings.Contains(ls, la) && strings.Contains(ls, lb) {
			return util.Truncate(s, 300)
		}
	}
	return ""
}
