package chunker

import (
	"maps"
	"strings"

	"github.com/OFFIS-RIT/quill/pkg/common"
	"github.com/OFFIS-RIT/quill/pkg/logger"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

const (
	DefaultMaxTokens     = 500
	DefaultOverlapTokens = 50
	DefaultEncoding      = "o200k_base"
)

// Chunker splits documents into overlapping, token-bounded chunks aligned
// to sentence boundaries.
type Chunker struct {
	maxTokens     int
	overlapTokens int
	tok           Tokenizer
}

// Options configures a Chunker. Zero values select the defaults and a
// negative OverlapTokens disables overlap. A nil Tokenizer loads
// DefaultEncoding and falls back to WordTokenizer when that fails.
type Options struct {
	MaxTokens     int
	OverlapTokens int
	Tokenizer     Tokenizer
}

func New(opts Options) *Chunker {
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = DefaultMaxTokens
	}
	switch {
	case opts.OverlapTokens == 0:
		opts.OverlapTokens = DefaultOverlapTokens
	case opts.OverlapTokens < 0:
		opts.OverlapTokens = 0
	}
	if opts.OverlapTokens >= opts.MaxTokens {
		opts.OverlapTokens = opts.MaxTokens / 10
	}
	if opts.Tokenizer == nil {
		tok, err := NewTiktokenTokenizer(DefaultEncoding)
		if err != nil {
			logger.Warn("[Chunker] tiktoken encoding unavailable, counting words instead", "encoding", DefaultEncoding, "err", err)
			opts.Tokenizer = WordTokenizer{}
		} else {
			opts.Tokenizer = tok
		}
	}
	return &Chunker{
		maxTokens:     opts.MaxTokens,
		overlapTokens: opts.OverlapTokens,
		tok:           opts.Tokenizer,
	}
}

func (c *Chunker) MaxTokens() int     { return c.maxTokens }
func (c *Chunker) OverlapTokens() int { return c.overlapTokens }

// Split chunks text for docID. Whitespace-only text yields no chunks.
// Each chunk carries a copy of metadata plus doc_id and position_index.
func (c *Chunker) Split(docID string, text string, metadata map[string]any) ([]common.Chunk, error) {
	var pieces []string
	for _, s := range SplitSentences(text) {
		pieces = append(pieces, c.fit(s)...)
	}
	if len(pieces) == 0 {
		return nil, nil
	}

	var chunks []common.Chunk
	var window []string
	fresh := 0

	emit := func() error {
		id, err := gonanoid.New()
		if err != nil {
			return err
		}
		body := strings.Join(window, " ")
		md := make(map[string]any, len(metadata)+2)
		maps.Copy(md, metadata)
		md["doc_id"] = docID
		md["position_index"] = len(chunks)
		chunks = append(chunks, common.Chunk{
			ID:         id,
			DocID:      docID,
			Text:       body,
			TokenCount: c.tok.Count(body),
			Position:   len(chunks),
			Metadata:   md,
		})
		return nil
	}

	for _, p := range pieces {
		candidate := append(append([]string(nil), window...), p)
		if len(window) == 0 || c.tok.Count(strings.Join(candidate, " ")) <= c.maxTokens {
			window = candidate
			fresh++
			continue
		}

		if fresh > 0 {
			if err := emit(); err != nil {
				return nil, err
			}
		}
		window = c.overlap(window, p)
		window = append(window, p)
		fresh = 1
	}
	if fresh > 0 {
		if err := emit(); err != nil {
			return nil, err
		}
	}

	return chunks, nil
}

// overlap picks the tail of prev that is repeated at the start of the next
// chunk: whole trailing sentences within the overlap budget, or the trailing
// words of the last sentence when it alone is over budget. The result always
// leaves room for next.
func (c *Chunker) overlap(prev []string, next string) []string {
	if c.overlapTokens == 0 || len(prev) == 0 {
		return nil
	}

	var tail []string
	for i := len(prev) - 1; i >= 0; i-- {
		cand := append([]string{prev[i]}, tail...)
		if c.tok.Count(strings.Join(cand, " ")) > c.overlapTokens {
			break
		}
		tail = cand
	}
	if len(tail) == 0 {
		words := strings.Fields(prev[len(prev)-1])
		lo := len(words)
		for lo > 0 && c.tok.Count(strings.Join(words[lo-1:], " ")) <= c.overlapTokens {
			lo--
		}
		if lo < len(words) {
			tail = []string{strings.Join(words[lo:], " ")}
		}
	}

	for len(tail) > 0 {
		joined := strings.Join(append(append([]string(nil), tail...), next), " ")
		if c.tok.Count(joined) <= c.maxTokens {
			return tail
		}
		if len(tail) > 1 {
			tail = tail[1:]
			continue
		}
		words := strings.Fields(tail[0])
		if len(words) <= 1 {
			return nil
		}
		tail = []string{strings.Join(words[1:], " ")}
	}
	return nil
}

// fit hard-splits a sentence on word boundaries when it exceeds the budget.
// A single word over budget, like a URL, is split between runes.
func (c *Chunker) fit(sentence string) []string {
	if c.tok.Count(sentence) <= c.maxTokens {
		return []string{sentence}
	}
	var out []string
	var cur []string
	for _, w := range strings.Fields(sentence) {
		if c.tok.Count(w) > c.maxTokens {
			if len(cur) > 0 {
				out = append(out, strings.Join(cur, " "))
				cur = nil
			}
			out = append(out, c.splitWord(w)...)
			continue
		}
		cand := append(append([]string(nil), cur...), w)
		if len(cur) > 0 && c.tok.Count(strings.Join(cand, " ")) > c.maxTokens {
			out = append(out, strings.Join(cur, " "))
			cur = []string{w}
			continue
		}
		cur = cand
	}
	if len(cur) > 0 {
		out = append(out, strings.Join(cur, " "))
	}
	return out
}

// splitWord cuts w into the longest rune prefixes that fit the budget.
// Every piece holds at least one rune.
func (c *Chunker) splitWord(w string) []string {
	var out []string
	runes := []rune(w)
	for len(runes) > 0 {
		lo, hi := 1, len(runes)
		for lo < hi {
			mid := (lo + hi + 1) / 2
			if c.tok.Count(string(runes[:mid])) <= c.maxTokens {
				lo = mid
			} else {
				hi = mid - 1
			}
		}
		out = append(out, string(runes[:lo]))
		runes = runes[lo:]
	}
	return out
}
