package chunker

import (
	"regexp"
	"strings"
	"unicode"
)

var tableDelimRe = regexp.MustCompile(`^\s*\|?\s*:?-{3,}:?\s*(\|\s*:?-{3,}:?\s*)+\|?\s*$`)

// Lowercased words that end in a period without ending the sentence.
var abbreviations = map[string]struct{}{
	"mr": {}, "mrs": {}, "ms": {}, "dr": {}, "st": {}, "prof": {}, "sr": {}, "jr": {},
	"mt": {}, "capt": {}, "col": {}, "gen": {}, "lt": {}, "sgt": {}, "rev": {},
	"vs": {}, "etc": {}, "e.g": {}, "i.e": {}, "no": {},
}

func isTableRow(line string) bool {
	return strings.Contains(line, "|")
}

// SplitSentences splits prose into sentences. Blank lines end a sentence,
// single line breaks do not. Markdown tables (a header row followed by a
// delimiter row) are kept as one block; other pipe-separated lines become
// one sentence each.
func SplitSentences(text string) []string {
	var sentences []string
	var pending strings.Builder

	flush := func() {
		if s := strings.TrimSpace(pending.String()); s != "" {
			sentences = append(sentences, s)
		}
		pending.Reset()
	}

	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
	for i := 0; i < len(lines); i++ {
		trimmed := strings.TrimSpace(lines[i])
		if trimmed == "" {
			flush()
			continue
		}

		if isTableRow(trimmed) {
			flush()
			if i+1 < len(lines) && tableDelimRe.MatchString(strings.TrimSpace(lines[i+1])) {
				block := []string{lines[i]}
				for i+1 < len(lines) && isTableRow(strings.TrimSpace(lines[i+1])) {
					i++
					block = append(block, lines[i])
				}
				sentences = append(sentences, strings.TrimSpace(strings.Join(block, "\n")))
			} else {
				sentences = append(sentences, trimmed)
			}
			continue
		}

		if pending.Len() > 0 {
			pending.WriteByte(' ')
		}
		pending.WriteString(trimmed)

		complete, rest := splitComplete(pending.String())
		sentences = append(sentences, complete...)
		pending.Reset()
		pending.WriteString(rest)
	}
	flush()

	return sentences
}

func isTerminator(r rune) bool {
	return r == '.' || r == '!' || r == '?' || r == '…'
}

func isCloser(r rune) bool {
	switch r {
	case '"', '\'', ')', ']', '}', '”', '’', '»', '*', '_':
		return true
	}
	return false
}

// splitComplete returns the finished sentences in s and the unfinished tail.
func splitComplete(s string) ([]string, string) {
	runes := []rune(s)
	var out []string
	start := 0
	listing := false

	for i := 0; i < len(runes); i++ {
		if !isTerminator(runes[i]) {
			continue
		}

		if runes[i] == '.' {
			word := lastWord(runes[start:i])
			if isNumber(word) && i+1 < len(runes) && runes[i+1] == ' ' {
				// "1. First item 2. Second item" stays together when the
				// sentence itself opens with a list marker.
				if strings.TrimSpace(string(runes[start:i])) == word || listing {
					listing = true
					continue
				}
			}
			if isAbbreviation(word) {
				continue
			}
		}

		j := i + 1
		for j < len(runes) && isTerminator(runes[j]) {
			j++
		}
		for j < len(runes) && isCloser(runes[j]) {
			j++
		}
		if j < len(runes) && !unicode.IsSpace(runes[j]) {
			i = j - 1
			continue
		}

		if sentence := strings.TrimSpace(string(runes[start:j])); sentence != "" {
			out = append(out, sentence)
		}
		start = j
		listing = false
		i = j - 1
	}

	return out, strings.TrimSpace(string(runes[start:]))
}

func lastWord(runes []rune) string {
	end := len(runes)
	begin := end
	for begin > 0 && !unicode.IsSpace(runes[begin-1]) {
		begin--
	}
	return strings.TrimLeft(string(runes[begin:end]), "\"'“‘([")
}

func isNumber(word string) bool {
	if word == "" {
		return false
	}
	for _, r := range word {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}

func isAbbreviation(word string) bool {
	if word == "" {
		return false
	}
	if _, ok := abbreviations[strings.ToLower(word)]; ok {
		return true
	}
	r := []rune(word)
	return len(r) == 1 && unicode.IsUpper(r[0])
}
