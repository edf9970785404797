package ai

import (
	"errors"
	"testing"
)

type character struct {
	Name string `json:"name"`
	Age  int    `json:"age,omitempty"`
}

func TestUnmarshalFlexible_ObjectVariants(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  character
	}{
		{
			name:  "valid json object",
			input: `{"name":"Emma","age":19}`,
			want:  character{Name: "Emma", Age: 19},
		},
		{
			name:  "unquoted key and single quotes",
			input: `{name: 'Emma'}`,
			want:  character{Name: "Emma"},
		},
		{
			name:  "trailing comma",
			input: `{"name":"Emma",}`,
			want:  character{Name: "Emma"},
		},
		{
			name:  "missing endbracket",
			input: `{"name":"Emma`,
			want:  character{Name: "Emma"},
		},
		{
			name:  "stringified invalid json object",
			input: `"{name: 'Emma'}"`,
			want:  character{Name: "Emma"},
		},
		{
			name:  "duplicate leading brace",
			input: "{\n{\n  \"name\": \"Emma\"\n}\n",
			want:  character{Name: "Emma"},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var got character
			if err := UnmarshalFlexible(tc.input, &got); err != nil {
				t.Fatalf("UnmarshalFlexible() error = %v", err)
			}
			if got != tc.want {
				t.Fatalf("UnmarshalFlexible() got = %+v, want %+v", got, tc.want)
			}
		})
	}
}

func TestUnmarshalFlexible_Unrecoverable(t *testing.T) {
	var got character
	if err := UnmarshalFlexible("hello", &got); err == nil {
		t.Fatalf("UnmarshalFlexible() expected error for unrecoverable input")
	}
}

type extraction struct {
	Entities []struct {
		Text string `json:"text"`
		Type string `json:"type"`
	} `json:"entities"`
}

func TestExtractJSON_Stages(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		wantStage ParseStage
		wantFirst string
	}{
		{
			name:      "raw object",
			input:     `{"entities":[{"text":"Emma","type":"CHARACTER"}]}`,
			wantStage: StageStrict,
			wantFirst: "Emma",
		},
		{
			name:      "double encoded",
			input:     `"{\"entities\":[{\"text\":\"Marcus\"}]}"`,
			wantStage: StageStrict,
			wantFirst: "Marcus",
		},
		{
			name:      "fenced block with prose",
			input:     "Here is the extraction:\n```json\n{\"entities\":[{\"text\":\"Sarah\"}]}\n```\nLet me know!",
			wantStage: StageFenced,
			wantFirst: "Sarah",
		},
		{
			name:      "fenced block with trailing comma",
			input:     "```\n{\"entities\":[{\"text\":\"Temple\"},]}\n```",
			wantStage: StageFenced,
			wantFirst: "Temple",
		},
		{
			name:      "embedded in prose",
			input:     `Sure. {"entities":[{"text":"crystal","type":"OBJECT"}]} Hope this helps.`,
			wantStage: StageBounded,
			wantFirst: "crystal",
		},
		{
			name:      "braces inside strings",
			input:     `Result: {"entities":[{"text":"the {sealed} door"}]} done }`,
			wantStage: StageBounded,
			wantFirst: "the {sealed} door",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var got extraction
			stage, err := ExtractJSON(tc.input, &got)
			if err != nil {
				t.Fatalf("ExtractJSON() error = %v", err)
			}
			if stage != tc.wantStage {
				t.Errorf("stage = %s, want %s", stage, tc.wantStage)
			}
			if len(got.Entities) == 0 || got.Entities[0].Text != tc.wantFirst {
				t.Fatalf("entities = %+v, want first %q", got.Entities, tc.wantFirst)
			}
		})
	}
}

func TestExtractJSON_NoJSON(t *testing.T) {
	inputs := []string{
		"",
		"I could not find any entities in this passage.",
		"```\nnot json at all\n```",
	}
	for _, in := range inputs {
		var got extraction
		stage, err := ExtractJSON(in, &got)
		if !errors.Is(err, ErrNoJSON) {
			t.Errorf("ExtractJSON(%q) err = %v, want ErrNoJSON", in, err)
		}
		if stage != StageNone || len(got.Entities) != 0 {
			t.Errorf("ExtractJSON(%q) = %s %+v, want empty", in, stage, got)
		}
	}
}

func TestExtractJSON_RequiresPointer(t *testing.T) {
	if _, err := ExtractJSON(`{}`, extraction{}); err == nil {
		t.Fatal("expected error for non-pointer target")
	}
}
