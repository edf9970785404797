package extract

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/OFFIS-RIT/quill/pkg/ai"
	"github.com/OFFIS-RIT/quill/pkg/common"
)

type scriptedClient struct {
	mu      sync.Mutex
	replies []string
	errs    []error
	calls   int
	block   bool
}

func (s *scriptedClient) GenerateCompletion(ctx context.Context, _ string, _ ...ai.GenerateOption) (string, error) {
	s.mu.Lock()
	i := s.calls
	s.calls++
	s.mu.Unlock()

	if s.block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	if i < len(s.errs) && s.errs[i] != nil {
		return "", s.errs[i]
	}
	if i < len(s.replies) {
		return s.replies[i], nil
	}
	return s.replies[len(s.replies)-1], nil
}

func (s *scriptedClient) GenerateCompletionWithFormat(context.Context, string, string, string, any, ...ai.GenerateOption) error {
	return errors.New("not scripted")
}
func (s *scriptedClient) GenerateEmbedding(context.Context, []byte) ([]float32, error) {
	return nil, errors.New("not scripted")
}
func (s *scriptedClient) ResetMetrics()               {}
func (s *scriptedClient) GetMetrics() ai.ModelMetrics { return ai.ModelMetrics{} }

const passage = "Sarah met Marcus at the temple. She clutched the crystal."

func TestExtract_ParsesAllFormats(t *testing.T) {
	body := `{"entities":[{"text":"Sarah","type":"CHARACTER","confidence":0.9},{"text":"Marcus","type":"PERSON"}],` +
		`"relationships":[{"source":"Sarah","target":"Marcus","relation_type":"INTERACTS_WITH","confidence":0.8}]}`

	replies := map[string]string{
		"raw":    body,
		"fenced": "Here you go:\n```json\n" + body + "\n```",
		"prose":  "I found the following. " + body + " Let me know if you need more.",
	}
	for name, reply := range replies {
		t.Run(name, func(t *testing.T) {
			ex := New(&scriptedClient{replies: []string{reply}}, Options{})
			res, err := ex.Extract(context.Background(), "ch1", passage)
			if err != nil {
				t.Fatalf("Extract() error = %v", err)
			}
			if len(res.Entities) != 2 || len(res.Relationships) != 1 {
				t.Fatalf("got %d entities, %d relationships", len(res.Entities), len(res.Relationships))
			}
			if res.Entities[1].Type != common.EntityCharacter {
				t.Errorf("PERSON should fold to CHARACTER, got %s", res.Entities[1].Type)
			}
			if res.Entities[1].Confidence != DefaultConfidence {
				t.Errorf("missing confidence = %v, want %v", res.Entities[1].Confidence, DefaultConfidence)
			}
			if res.Relationships[0].SourceDocID != "ch1" {
				t.Errorf("source doc not set: %+v", res.Relationships[0])
			}
			if res.Relationships[0].ContextSnippet != "Sarah met Marcus at the temple." {
				t.Errorf("snippet = %q", res.Relationships[0].ContextSnippet)
			}
		})
	}
}

func TestExtract_UnknownTypesAndValidation(t *testing.T) {
	reply := `{"entities":[
		{"text":"crystal","type":"ARTIFACT","confidence":"85%","span":[999,1005]},
		{"text":"Temple","type":"SPACESHIP","confidence":1.7,"span":{"start":24,"end":30}},
		{"text":"","type":"CHARACTER"},
		{"name":"Sarah","canonical_name":"Sarah Vale","type":"character","aliases":["Sar"],"attributes":{"Age":19,"hair":"red"}}
	],"relationships":[
		{"source":"Sarah","target":"crystal","relation_type":"clutches"},
		{"source":"Sarah","target":"sarah","relation_type":"LOVES"},
		{"source":"","target":"Marcus","relation_type":"LOVES"}
	]}`
	ex := New(&scriptedClient{replies: []string{reply}}, Options{})
	res, err := ex.Extract(context.Background(), "ch1", passage)
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if len(res.Entities) != 3 {
		t.Fatalf("got %d entities, want 3 (blank dropped)", len(res.Entities))
	}

	crystal := res.Entities[0]
	if crystal.Type != common.EntityObject || crystal.Confidence != 0.85 {
		t.Errorf("crystal = %+v", crystal)
	}
	if crystal.Span == nil || passage[crystal.Span.Start:crystal.Span.End] != "crystal" {
		t.Errorf("crystal span not relocated: %+v", crystal.Span)
	}

	temple := res.Entities[1]
	if temple.Type != common.EntityObject || temple.Confidence != 1 {
		t.Errorf("unknown type should fold to OBJECT with clamped confidence: %+v", temple)
	}
	if temple.Span == nil || temple.Span.Start != 24 {
		t.Errorf("valid span should be kept: %+v", temple.Span)
	}

	sarah := res.Entities[2]
	if sarah.CanonicalName != "Sarah Vale" || sarah.Attributes["age"] != "19" || sarah.Attributes["hair"] != "red" {
		t.Errorf("sarah = %+v", sarah)
	}
	if strings.Join(sarah.Aliases, ",") != "Sar,Sarah" {
		t.Errorf("aliases = %v", sarah.Aliases)
	}

	if len(res.Relationships) != 1 || res.Relationships[0].RelationType != common.RelRelatedTo {
		t.Fatalf("relationships = %+v", res.Relationships)
	}
}

func TestExtract_GarbageYieldsEmptyAndError(t *testing.T) {
	client := &scriptedClient{replies: []string{"I'm sorry, I cannot help with that."}}
	ex := New(client, Options{MaxRetries: 2})
	res, err := ex.Extract(context.Background(), "ch1", passage)

	var exErr *common.ExtractionError
	if !errors.As(err, &exErr) || exErr.DocID != "ch1" {
		t.Fatalf("expected ExtractionError, got %v", err)
	}
	if !res.Empty() {
		t.Fatalf("expected empty extraction, got %+v", res)
	}
	if client.calls != 3 {
		t.Errorf("expected 3 attempts, got %d", client.calls)
	}
}

func TestExtract_AttemptCount(t *testing.T) {
	tests := []struct {
		name       string
		maxRetries int
		want       int
	}{
		{"no retries", 0, 1},
		{"two retries", 2, 3},
		{"negative uses default", -1, DefaultMaxRetries + 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := &scriptedClient{replies: []string{"not json"}}
			if _, err := New(client, Options{MaxRetries: tt.maxRetries}).Extract(context.Background(), "ch1", passage); err == nil {
				t.Fatalf("expected an extraction error")
			}
			if client.calls != tt.want {
				t.Fatalf("calls = %d, want %d", client.calls, tt.want)
			}
		})
	}
}

func TestExtract_RetryRecovers(t *testing.T) {
	client := &scriptedClient{
		errs:    []error{errors.New("502 bad gateway")},
		replies: []string{"", `{"entities":[{"text":"Emma","type":"CHARACTER"}]}`},
	}
	ex := New(client, Options{MaxRetries: 1})
	res, err := ex.Extract(context.Background(), "ch1", "Emma waited.")
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if len(res.Entities) != 1 || res.Entities[0].Text != "Emma" {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestExtract_TimeoutYieldsEmpty(t *testing.T) {
	ex := New(&scriptedClient{block: true}, Options{Timeout: 20 * time.Millisecond, MaxRetries: 2})
	start := time.Now()
	res, err := ex.Extract(context.Background(), "ch1", passage)
	if err == nil || !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline error, got %v", err)
	}
	if !res.Empty() {
		t.Fatal("expected empty extraction")
	}
	if time.Since(start) > time.Second {
		t.Fatal("timeout not honoured")
	}
}

func TestExtract_NoClientOrEmptyText(t *testing.T) {
	res, err := New(nil, Options{}).Extract(context.Background(), "d", "Some text.")
	if err == nil || !res.Empty() {
		t.Fatalf("nil client should fail softly, got %+v %v", res, err)
	}
	res, err = New(&scriptedClient{}, Options{}).Extract(context.Background(), "d", "   ")
	if err != nil || !res.Empty() {
		t.Fatalf("blank text should be a no-op, got %+v %v", res, err)
	}
}

func TestConfidence(t *testing.T) {
	tests := []struct {
		in   any
		want float64
	}{
		{0.7, 0.7},
		{-1.0, 0},
		{42.0, 0.42},
		{150.0, 1},
		{"0.3", 0.3},
		{"high", DefaultConfidence},
		{nil, DefaultConfidence},
	}
	for _, tt := range tests {
		if got := confidence(tt.in); got != tt.want {
			t.Errorf("confidence(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
