package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"github.com/invopop/jsonschema"
	"github.com/kaptinlin/jsonrepair"
	"golang.org/x/sync/errgroup"
)

func stripDuplicateLeadingBrace(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "{") {
		rest := strings.TrimSpace(s[1:])
		if strings.HasPrefix(rest, "{") {
			return rest
		}
	}
	return s
}

// GenerateSchema creates a JSON Schema from the given Go type for use with
// structured output.
func GenerateSchema(value any) any {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}

	t := reflect.TypeOf(value)
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}

	v := reflect.New(t).Interface()
	return reflector.Reflect(v)
}

// UnmarshalFlexible attempts to unmarshal JSON into the target with multiple
// fallback strategies: standard decoding, double-encoded JSON strings and
// finally jsonrepair.
//
//	UnmarshalFlexible(`{"name": "test"}`, &result)       // standard JSON
//	UnmarshalFlexible(`"{\"name\": \"test\"}"`, &result) // double-encoded
//	UnmarshalFlexible(`{name: "test"}`, &result)         // malformed (repaired)
func UnmarshalFlexible(input string, out any) error {
	input = strings.TrimSpace(input)

	if err := json.Unmarshal([]byte(input), out); err == nil {
		return nil
	}

	var asString string
	if err := json.Unmarshal([]byte(input), &asString); err == nil {
		asString = strings.TrimSpace(asString)
		if err := json.Unmarshal([]byte(asString), out); err == nil {
			return nil
		}
		input = asString
	}

	input = stripDuplicateLeadingBrace(input)
	repaired, err := jsonrepair.JSONRepair(input)
	if err != nil {
		return fmt.Errorf("json repair failed: %w (input: %s)", err, input)
	}

	if err := json.Unmarshal([]byte(repaired), out); err == nil {
		return nil
	}

	return fmt.Errorf(
		"unmarshal failed after repair: input=%s repaired=%s",
		input, repaired,
	)
}

// ParseStage names the stage of ExtractJSON that produced a value.
type ParseStage int

const (
	StageNone ParseStage = iota
	StageStrict
	StageFenced
	StageBounded
)

func (s ParseStage) String() string {
	switch s {
	case StageStrict:
		return "strict"
	case StageFenced:
		return "fenced"
	case StageBounded:
		return "bounded"
	default:
		return "none"
	}
}

// ErrNoJSON is returned by ExtractJSON when no stage yields a decodable object.
var ErrNoJSON = errors.New("no JSON object found in model output")

var fenceRe = regexp.MustCompile("(?s)```[A-Za-z]*[ \t]*\\r?\\n?(.*?)```")

// ExtractJSON decodes an object out of free-form model output. Stages run in
// order and the first candidate that decodes into out wins:
//
//  1. strict:  the whole text is a JSON document (or a JSON string holding one)
//  2. fenced:  the body of a markdown code fence
//  3. bounded: the first balanced {...} region, repaired when malformed
func ExtractJSON(raw string, out any) (ParseStage, error) {
	stages := []struct {
		stage ParseStage
		fn    func(string) (string, bool)
	}{
		{StageStrict, parseStrict},
		{StageFenced, parseFenced},
		{StageBounded, parseBounded},
	}

	target := reflect.ValueOf(out)
	if target.Kind() != reflect.Pointer || target.IsNil() {
		return StageNone, fmt.Errorf("ExtractJSON: out must be a non-nil pointer")
	}

	for _, s := range stages {
		candidate, ok := s.fn(raw)
		if !ok {
			continue
		}
		target.Elem().Set(reflect.Zero(target.Elem().Type()))
		if err := json.Unmarshal([]byte(candidate), out); err == nil {
			return s.stage, nil
		}
	}
	target.Elem().Set(reflect.Zero(target.Elem().Type()))
	return StageNone, ErrNoJSON
}

func parseStrict(raw string) (string, bool) {
	s := strings.TrimSpace(raw)
	if s == "" || !json.Valid([]byte(s)) {
		return "", false
	}
	if strings.HasPrefix(s, `"`) {
		var inner string
		if err := json.Unmarshal([]byte(s), &inner); err != nil {
			return "", false
		}
		inner = strings.TrimSpace(inner)
		if !json.Valid([]byte(inner)) {
			return "", false
		}
		return inner, true
	}
	return s, true
}

func parseFenced(raw string) (string, bool) {
	for _, m := range fenceRe.FindAllStringSubmatch(raw, -1) {
		body := strings.TrimSpace(m[1])
		if body == "" {
			continue
		}
		if json.Valid([]byte(body)) {
			return body, true
		}
		if strings.HasPrefix(body, "{") || strings.HasPrefix(body, "[") {
			if repaired, ok := repair(body); ok {
				return repaired, true
			}
		}
	}
	return "", false
}

func parseBounded(raw string) (string, bool) {
	start := strings.Index(raw, "{")
	if start < 0 {
		return "", false
	}
	end := matchBrace(raw, start)
	var candidate string
	if end < 0 {
		// Truncated output; let the repair step close it.
		candidate = raw[start:]
	} else {
		candidate = raw[start : end+1]
	}
	if json.Valid([]byte(candidate)) {
		return candidate, true
	}
	return repair(candidate)
}

// matchBrace returns the index of the brace closing the one at start,
// skipping braces inside string literals, or -1.
func matchBrace(s string, start int) int {
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

func repair(s string) (string, bool) {
	repaired, err := jsonrepair.JSONRepair(stripDuplicateLeadingBrace(s))
	if err != nil || !json.Valid([]byte(repaired)) {
		return "", false
	}
	return repaired, true
}

// GenerateEmbeddings embeds inputs using the batch fast path when the client
// offers one and concurrent single requests otherwise.
func GenerateEmbeddings(ctx context.Context, client GraphAIClient, inputs [][]byte) ([][]float32, error) {
	if client == nil {
		return nil, fmt.Errorf("ai client is nil")
	}
	if len(inputs) == 0 {
		return nil, nil
	}
	if b, ok := client.(EmbeddingBatcher); ok {
		return b.GenerateEmbeddings(ctx, inputs)
	}

	out := make([][]float32, len(inputs))
	eg, ectx := errgroup.WithContext(ctx)
	for i := range inputs {
		eg.Go(func() error {
			emb, err := client.GenerateEmbedding(ectx, inputs[i])
			if err != nil {
				return err
			}
			out[i] = emb
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
