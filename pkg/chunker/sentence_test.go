package chunker

import (
	"reflect"
	"testing"
)

func TestSplitSentences(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []string
	}{
		{
			name: "empty input",
			text: "",
			want: nil,
		},
		{
			name: "whitespace only",
			text: "  \n\t\n ",
			want: nil,
		},
		{
			name: "multiple sentences",
			text: "Emma ran. The temple was dark! Was Marcus there?",
			want: []string{"Emma ran.", "The temple was dark!", "Was Marcus there?"},
		},
		{
			name: "paragraphs",
			text: "First paragraph.\n\nSecond paragraph.\n\nThird paragraph.",
			want: []string{"First paragraph.", "Second paragraph.", "Third paragraph."},
		},
		{
			name: "multi-line sentence",
			text: "Sarah walked along\nthe river until\nshe reached the gate.",
			want: []string{"Sarah walked along the river until she reached the gate."},
		},
		{
			name: "abbreviations and initials",
			text: "Dr. Hale met Mrs. Ward at St. Mary's. J. R. Tolkien was not invited.",
			want: []string{"Dr. Hale met Mrs. Ward at St. Mary's.", "J. R. Tolkien was not invited."},
		},
		{
			name: "dialogue with closing quotes",
			text: `"Stay here," she said. "I'll be back!" Marcus nodded.`,
			want: []string{`"Stay here," she said.`, `"I'll be back!"`, "Marcus nodded."},
		},
		{
			name: "age is not a list marker",
			text: "Emma is 19. She lives in Ravenholm.",
			want: []string{"Emma is 19.", "She lives in Ravenholm."},
		},
		{
			name: "numeric listing stays together",
			text: "She packed three things. 1. A lamp 2. A knife 3. The crystal. Then she left!",
			want: []string{
				"She packed three things.",
				"1. A lamp 2. A knife 3. The crystal.",
				"Then she left!",
			},
		},
		{
			name: "decimal and ellipsis",
			text: "The map was 2.5 miles wide... Nobody knew why.",
			want: []string{"The map was 2.5 miles wide...", "Nobody knew why."},
		},
		{
			name: "markdown table as single sentence",
			text: "Intro text.\nName | Age\n---- | ---\nEmma | 19\nConclusion text.",
			want: []string{
				"Intro text.",
				"Name | Age\n---- | ---\nEmma | 19",
				"Conclusion text.",
			},
		},
		{
			name: "table without delimiter",
			text: "Name | Age\nEmma | 19",
			want: []string{"Name | Age", "Emma | 19"},
		},
		{
			name: "no punctuation",
			text: "Just some text without punctuation\nMore text here",
			want: []string{"Just some text without punctuation More text here"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SplitSentences(tt.text)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("SplitSentences() = %#v, want %#v", got, tt.want)
			}
		})
	}
}
