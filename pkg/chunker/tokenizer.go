package chunker

import (
	"strings"

	"github.com/pkoukk/tiktoken-go"
)

// Tokenizer counts tokens the way the embedding model will see them.
type Tokenizer interface {
	Count(text string) int
}

// TiktokenTokenizer counts BPE tokens with a tiktoken encoding.
type TiktokenTokenizer struct {
	enc *tiktoken.Tiktoken
}

// NewTiktokenTokenizer loads the named encoding, e.g. "o200k_base" or
// "cl100k_base".
func NewTiktokenTokenizer(encoding string) (*TiktokenTokenizer, error) {
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, err
	}
	return &TiktokenTokenizer{enc: enc}, nil
}

func (t *TiktokenTokenizer) Count(text string) int {
	return len(t.enc.Encode(text, nil, nil))
}

// WordTokenizer treats every whitespace-separated word as one token. It needs
// no vocabulary download and is used offline and in tests.
type WordTokenizer struct{}

func (WordTokenizer) Count(text string) int {
	return len(strings.Fields(text))
}
