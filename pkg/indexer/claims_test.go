package indexer

import (
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/OFFIS-RIT/quill/pkg/common"
)

var (
	emma   = subject{key: "emma", name: "Emma", labels: []string{"Emma"}}
	marcus = subject{key: "marcus", name: "Marcus", labels: []string{"Marcus"}}
)

func claimValues(claims []claim) []string {
	out := []string{}
	for _, c := range claims {
		out = append(out, c.subject+"/"+c.attribute+"="+c.value)
	}
	return out
}

func TestClaimExtractor(t *testing.T) {
	tests := []struct {
		name string
		x    claimExtractor
		text string
		want []string
	}{
		{
			name: "numeric age",
			x:    claimExtractor{subjects: []subject{emma}},
			text: "Emma is 19.",
			want: []string{"emma/age=19"},
		},
		{
			name: "word age",
			x:    claimExtractor{subjects: []subject{emma}},
			text: "Emma turned twenty-five years old last spring.",
			want: []string{"emma/age=25"},
		},
		{
			name: "adjective is not an age",
			x:    claimExtractor{subjects: []subject{emma}},
			text: "Emma is tired. Emma was one of the guards.",
			want: []string{},
		},
		{
			name: "measurements are not ages",
			x:    claimExtractor{subjects: []subject{emma}},
			text: "Emma was 3 miles from the temple. Emma is 5 feet tall. Emma was 20 minutes late.",
			want: []string{},
		},
		{
			name: "bare age before a conjunction",
			x:    claimExtractor{subjects: []subject{emma}},
			text: "Emma is 19 and restless",
			want: []string{"emma/age=19"},
		},
		{
			name: "appearance",
			x:    claimExtractor{subjects: []subject{emma}},
			text: "Emma has blond hair and green eyes.",
			want: []string{"emma/hair=blonde", "emma/eyes=green"},
		},
		{
			name: "location",
			x:    claimExtractor{subjects: []subject{emma}},
			text: "Emma lives in Port Hale with her aunt.",
			want: []string{"emma/location=port hale"},
		},
		{
			name: "relationship possessive",
			x:    claimExtractor{subjects: []subject{emma}},
			text: "Emma is Marcus's sister.",
			want: []string{"emma/relationship:marcus=sister"},
		},
		{
			name: "relationship of",
			x:    claimExtractor{subjects: []subject{emma}},
			text: "Emma was the mentor of Ravi.",
			want: []string{"emma/relationship:ravi=mentor"},
		},
		{
			name: "pronoun carries subject",
			x:    claimExtractor{subjects: []subject{emma}},
			text: "Emma opened the door. She is 19.",
			want: []string{"emma/age=19"},
		},
		{
			name: "nearest anchor wins",
			x:    claimExtractor{subjects: []subject{emma}, blockers: []subject{marcus}},
			text: "Marcus is 40 and Emma is 19.",
			want: []string{"emma/age=19"},
		},
		{
			name: "pronoun after blocker is dropped",
			x:    claimExtractor{subjects: []subject{emma}, blockers: []subject{marcus}},
			text: "Emma met Marcus. He is 40.",
			want: []string{},
		},
		{
			name: "unanchored without single",
			x:    claimExtractor{subjects: []subject{emma}},
			text: "Is 25 years old.",
			want: []string{},
		},
		{
			name: "unanchored statement about one subject",
			x:    claimExtractor{subjects: []subject{emma}, single: true},
			text: "Is 25 years old.",
			want: []string{"emma/age=25"},
		},
		{
			name: "anonymous",
			x:    claimExtractor{anonymous: true},
			text: "She is 25 years old.",
			want: []string{"/age=25"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := claimValues(tt.x.extract(tt.text, "doc"))
			if !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("extract(%q) = %v, want %v", tt.text, got, tt.want)
			}
		})
	}
}

func TestParseAge(t *testing.T) {
	tests := []struct {
		in   string
		want int
		ok   bool
	}{
		{in: "19", want: 19, ok: true},
		{in: "nineteen", want: 19, ok: true},
		{in: "twenty-five", want: 25, ok: true},
		{in: "Forty", want: 40, ok: true},
		{in: "200", ok: false},
		{in: "tired", ok: false},
	}
	for _, tt := range tests {
		got, ok := parseAge(tt.in)
		if ok != tt.ok || (ok && got != tt.want) {
			t.Fatalf("parseAge(%q) = %d, %v; want %d, %v", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}

func TestNormalizeColor(t *testing.T) {
	tests := map[string]string{
		"Dark-Blond":   "dark blonde",
		"gray":         "grey",
		"blonde":       "blonde",
		"light  brown": "light brown",
	}
	for in, want := range tests {
		if got := normalizeColor(in); got != want {
			t.Fatalf("normalizeColor(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestCapitalisedNames(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{in: "Emma met Marcus Vale in the hall.", want: []string{"Emma", "Marcus Vale"}},
		{in: "The knight greeted Emma's brother.", want: []string{"Emma"}},
		{in: "She is 25 years old.", want: nil},
		{in: "Ravi, Emma and Ann left.", want: []string{"Ravi", "Emma", "Ann"}},
	}
	for _, tt := range tests {
		if got := capitalisedNames(tt.in); !reflect.DeepEqual(got, tt.want) {
			t.Fatalf("capitalisedNames(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestCheckCategories(t *testing.T) {
	for _, in := range []string{"", "all", "Character"} {
		got, err := checkCategories(in)
		if err != nil || !reflect.DeepEqual(got, Categories) {
			t.Fatalf("checkCategories(%q) = %v, %v", in, got, err)
		}
	}
	got, err := checkCategories("Appearance")
	if err != nil || !reflect.DeepEqual(got, []string{CategoryAppearance}) {
		t.Fatalf("checkCategories(Appearance) = %v, %v", got, err)
	}
	if _, err := checkCategories("timeline"); !errors.Is(err, common.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestRecommendation(t *testing.T) {
	if got := recommendation(nil); got != NoConflicts {
		t.Fatalf("recommendation(nil) = %q", got)
	}
	got := recommendation([]Finding{
		{Category: CategoryAge, Source: "Chapter 1"},
		{Category: CategoryAge, Source: "Chapter 1"},
		{Category: CategoryLocation},
	})
	if got != "review: age mismatch with Chapter 1; location mismatch" {
		t.Fatalf("recommendation = %q", got)
	}
	if strings.Contains(got, NoConflicts) {
		t.Fatalf("unexpected %q", got)
	}
}
