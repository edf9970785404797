package graph

import (
	"strings"
	"unicode"
)

var leadingArticles = []string{"the ", "a ", "an "}

// Normalize maps a surface name to its canonical key. It is a pure function
// of the string: case, surrounding punctuation, repeated whitespace, a
// leading article and a trailing possessive do not change the key.
//
//	Normalize("Emma")         == "emma"
//	Normalize("  EMMA's ")    == "emma"
//	Normalize("The Temple.")  == "temple"
func Normalize(name string) string {
	s := strings.ToLower(strings.TrimSpace(name))
	s = strings.NewReplacer("’", "'", "‘", "'", "“", "", "”", "").Replace(s)
	s = strings.Join(strings.Fields(s), " ")
	s = strings.TrimFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	s = strings.TrimSuffix(s, "'s")
	for _, a := range leadingArticles {
		if strings.HasPrefix(s, a) && len(s) > len(a) {
			s = s[len(a):]
			break
		}
	}
	return strings.TrimSpace(s)
}

// isMixedCase reports whether s has both upper and lower case letters,
// which is how names are usually written in prose.
func isMixedCase(s string) bool {
	var upper, lower bool
	for _, r := range s {
		upper = upper || unicode.IsUpper(r)
		lower = lower || unicode.IsLower(r)
	}
	return upper && lower
}

// betterDisplay decides whether candidate should replace current as the
// node's display name.
func betterDisplay(current, candidate string) bool {
	candidate = strings.TrimSpace(candidate)
	if candidate == "" || candidate == current {
		return false
	}
	if current == "" {
		return true
	}
	return !isMixedCase(current) && isMixedCase(candidate)
}

// words splits text into word tokens keeping case, without punctuation and
// possessive suffixes.
func words(text string) []string {
	fields := strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\'' && r != '’'
	})
	out := fields[:0]
	for _, f := range fields {
		f = strings.Trim(f, "'’")
		f = strings.TrimSuffix(strings.TrimSuffix(f, "'s"), "’s")
		if f != "" {
			out = append(out, f)
		}
	}
	return out
}

func containsPhrase(hay, phrase []string, fold bool) bool {
	if len(phrase) == 0 || len(phrase) > len(hay) {
		return false
	}
outer:
	for i := 0; i+len(phrase) <= len(hay); i++ {
		for j, p := range phrase {
			h := hay[i+j]
			if fold {
				if !strings.EqualFold(h, p) {
					continue outer
				}
			} else if h != p {
				continue outer
			}
		}
		return true
	}
	return false
}
