package chunker

import (
	"fmt"
	"strings"
	"testing"
)

func words(n int, prefix string) string {
	w := make([]string, n)
	for i := range w {
		w[i] = fmt.Sprintf("%s%d", prefix, i)
	}
	return strings.Join(w, " ") + "."
}

func newWordChunker(max, overlap int) *Chunker {
	return New(Options{MaxTokens: max, OverlapTokens: overlap, Tokenizer: WordTokenizer{}})
}

// runeTokenizer counts one token per four runes, like a BPE encoder would
// for text without spaces.
type runeTokenizer struct{}

func (runeTokenizer) Count(text string) int {
	return (len([]rune(text)) + 3) / 4
}

func TestSplit_LongWordIsSplit(t *testing.T) {
	c := New(Options{MaxTokens: 5, OverlapTokens: -1, Tokenizer: runeTokenizer{}})
	text := "See https://example.com/" + strings.Repeat("abcdefghij", 6) + " now."
	chunks, err := c.Split("doc", text, nil)
	if err != nil {
		t.Fatalf("Split() error = %v", err)
	}
	if len(chunks) < 2 {
		t.Fatalf("got %d chunks, want the URL split", len(chunks))
	}
	var joined strings.Builder
	for _, ch := range chunks {
		if ch.TokenCount > 5 {
			t.Fatalf("chunk %d has %d tokens: %q", ch.Position, ch.TokenCount, ch.Text)
		}
		joined.WriteString(ch.Text)
	}
	strip := func(s string) string { return strings.ReplaceAll(s, " ", "") }
	if strip(joined.String()) != strip(text) {
		t.Fatalf("text lost in split: %q", joined.String())
	}
}

func TestSplit_EmptyText(t *testing.T) {
	c := newWordChunker(20, 5)
	for _, text := range []string{"", "   ", "\n\n\t"} {
		chunks, err := c.Split("doc", text, nil)
		if err != nil {
			t.Fatalf("Split(%q) error = %v", text, err)
		}
		if len(chunks) != 0 {
			t.Fatalf("Split(%q) = %d chunks, want 0", text, len(chunks))
		}
	}
}

func TestSplit_ShortTextSingleChunk(t *testing.T) {
	c := newWordChunker(500, 50)
	chunks, err := c.Split("ch1", "Emma is 19. She lives in Ravenholm.", map[string]any{"title": "Chapter 1"})
	if err != nil {
		t.Fatalf("Split() error = %v", err)
	}
	if len(chunks) != 1 {
		t.Fatalf("got %d chunks, want 1", len(chunks))
	}
	ch := chunks[0]
	if ch.Text != "Emma is 19. She lives in Ravenholm." {
		t.Errorf("Text = %q", ch.Text)
	}
	if ch.DocID != "ch1" || ch.Position != 0 || ch.TokenCount != 7 || ch.ID == "" {
		t.Errorf("unexpected chunk %+v", ch)
	}
	if ch.Metadata["title"] != "Chapter 1" || ch.Metadata["doc_id"] != "ch1" {
		t.Errorf("metadata = %v", ch.Metadata)
	}
}

func TestSplit_BoundsAndSentenceOverlap(t *testing.T) {
	var sentences []string
	for i := 0; i < 40; i++ {
		sentences = append(sentences, words(5, fmt.Sprintf("s%dw", i)))
	}
	text := strings.Join(sentences, " ")

	c := newWordChunker(20, 5)
	chunks, err := c.Split("doc", text, nil)
	if err != nil {
		t.Fatalf("Split() error = %v", err)
	}
	if len(chunks) < 2 {
		t.Fatalf("expected several chunks, got %d", len(chunks))
	}

	for i, ch := range chunks {
		if ch.Position != i {
			t.Errorf("chunk %d has position %d", i, ch.Position)
		}
		if ch.TokenCount > 20 {
			t.Errorf("chunk %d has %d tokens, max 20", i, ch.TokenCount)
		}
		if i == 0 {
			continue
		}
		prev := SplitSentences(chunks[i-1].Text)
		cur := SplitSentences(ch.Text)
		if prev[len(prev)-1] != cur[0] {
			t.Errorf("chunk %d does not start with the last sentence of chunk %d: %q vs %q", i, i-1, cur[0], prev[len(prev)-1])
		}
	}

	all := strings.Join(func() []string {
		var out []string
		for _, ch := range chunks {
			out = append(out, ch.Text)
		}
		return out
	}(), " ")
	for _, s := range sentences {
		if !strings.Contains(all, s) {
			t.Fatalf("sentence %q lost", s)
		}
	}
}

func TestSplit_WordTailOverlap(t *testing.T) {
	var sentences []string
	for i := 0; i < 6; i++ {
		sentences = append(sentences, words(10, fmt.Sprintf("s%dw", i)))
	}
	c := newWordChunker(25, 4)
	chunks, err := c.Split("doc", strings.Join(sentences, " "), nil)
	if err != nil {
		t.Fatalf("Split() error = %v", err)
	}
	if len(chunks) < 2 {
		t.Fatalf("expected at least 2 chunks, got %d", len(chunks))
	}
	if !strings.HasPrefix(chunks[1].Text, "s1w6 s1w7 s1w8 s1w9.") {
		t.Errorf("second chunk should open with the tail of the first: %q", chunks[1].Text)
	}
	for _, ch := range chunks {
		if ch.TokenCount > 25 {
			t.Errorf("chunk over budget: %d", ch.TokenCount)
		}
	}
}

func TestSplit_OversizeSentence(t *testing.T) {
	c := newWordChunker(20, -1)
	chunks, err := c.Split("doc", words(50, "w"), nil)
	if err != nil {
		t.Fatalf("Split() error = %v", err)
	}
	if len(chunks) != 3 {
		t.Fatalf("got %d chunks, want 3", len(chunks))
	}
	total := 0
	for _, ch := range chunks {
		if ch.TokenCount > 20 {
			t.Errorf("chunk over budget: %d", ch.TokenCount)
		}
		total += ch.TokenCount
	}
	if total != 50 {
		t.Errorf("total tokens = %d, want 50 without overlap", total)
	}
}

func TestSplit_Deterministic(t *testing.T) {
	text := strings.Repeat("Sarah and Marcus met at the temple. The crystal glowed. ", 30)
	c := newWordChunker(30, 8)
	a, _ := c.Split("doc", text, nil)
	b, _ := c.Split("doc", text, nil)
	if len(a) != len(b) {
		t.Fatalf("chunk counts differ: %d vs %d", len(a), len(b))
	}
	for i := range a {
		if a[i].Text != b[i].Text {
			t.Fatalf("chunk %d differs", i)
		}
	}
}

func TestNew_Defaults(t *testing.T) {
	c := New(Options{Tokenizer: WordTokenizer{}})
	if c.MaxTokens() != DefaultMaxTokens || c.OverlapTokens() != DefaultOverlapTokens {
		t.Errorf("defaults = %d/%d", c.MaxTokens(), c.OverlapTokens())
	}
	c = New(Options{MaxTokens: 100, OverlapTokens: 200, Tokenizer: WordTokenizer{}})
	if c.OverlapTokens() != 10 {
		t.Errorf("overlap should be clamped, got %d", c.OverlapTokens())
	}
}
