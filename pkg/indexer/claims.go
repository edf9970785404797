package indexer

import (
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"github.com/OFFIS-RIT/quill/pkg/chunker"
	"github.com/OFFIS-RIT/quill/pkg/graph"
)

// Attribute categories compared by the consistency check.
const (
	CategoryAge          = "age"
	CategoryLocation     = "location"
	CategoryAppearance   = "appearance"
	CategoryRelationship = "relationship"
)

var Categories = []string{CategoryAge, CategoryLocation, CategoryAppearance, CategoryRelationship}

const (
	colorWords = `black|brown|blonde|blond|red|auburn|grey|gray|white|silver|dark|golden|ginger|chestnut|blue|green|hazel|amber|violet|fair|raven|copper|light`
	colorRun   = `((?:(?:` + colorWords + `)[\s-]+)*(?:` + colorWords + `))`
	roleWords  = `sister|brother|mother|father|daughter|son|wife|husband|friend|enemy|cousin|aunt|uncle|mentor|rival|lover|fiancée|fiancee|fiancé|fiance|grandmother|grandfather|twin|partner|apprentice`
)

// All patterns run on lower-cased sentences.
var (
	ageVerbRe  = regexp.MustCompile(`\b(?:is|was|turned|turns|aged|age of)\s+(?:now\s+|only\s+|just\s+|nearly\s+|almost\s+)?(\d{1,3}|[a-z]+(?:-[a-z]+)?)(\s+years?\s+old|\s+years?\s+of\s+age)?\b`)
	ageAdjRe   = regexp.MustCompile(`\b(\d{1,3}|[a-z]+(?:-[a-z]+)?)[\s-]years?[\s-]old\b`)
	locationRe = regexp.MustCompile(`\b(?:lives|lived|living|resides|resided|dwells|dwelt|stays|stayed|settled|grew up)\s+(?:in|at|on)\s+((?:the\s+)?\pL[\pL'’-]*(?:\s+\pL[\pL'’-]*){0,3}?)(?:\s+(?:and|but|with|where|when|while|since|for|until|near|now)\b|[,.;:!?]|$)`)
	hairRe     = regexp.MustCompile(`\b` + colorRun + `\s+hair\b`)
	hairIsRe   = regexp.MustCompile(`\bhair\s+(?:is|was)\s+(?:now\s+)?` + colorRun + `\b`)
	eyesRe     = regexp.MustCompile(`\b` + colorRun + `\s+eyes\b`)
	eyesAreRe  = regexp.MustCompile(`\beyes\s+(?:are|were)\s+(?:now\s+)?` + colorRun + `\b`)
	relPossRe  = regexp.MustCompile(`\b(?:is|was)\s+(?:also\s+)?(\pL[\pL-]*(?:\s\pL[\pL-]*)?)['’]s\s+(` + roleWords + `)\b`)
	relOfRe    = regexp.MustCompile(`\b(?:is|was)\s+(?:also\s+)?(?:the|a|an)\s+(` + roleWords + `)\s+(?:of|to)\s+(\pL[\pL'’-]*)`)
	pronounRe  = regexp.MustCompile(`\b(?:she|he|her|his|him|they|their|them)\b`)
)

var numberWords = map[string]int{
	"zero": 0, "one": 1, "two": 2, "three": 3, "four": 4, "five": 5, "six": 6, "seven": 7, "eight": 8,
	"nine": 9, "ten": 10, "eleven": 11, "twelve": 12, "thirteen": 13, "fourteen": 14, "fifteen": 15,
	"sixteen": 16, "seventeen": 17, "eighteen": 18, "nineteen": 19, "twenty": 20, "thirty": 30,
	"forty": 40, "fifty": 50, "sixty": 60, "seventy": 70, "eighty": 80, "ninety": 90, "hundred": 100,
}

// clauseWords may follow a bare age ("Emma is 19 and ...").
var clauseWords = map[string]bool{
	"and": true, "but": true, "or": true, "yet": true, "so": true, "now": true,
	"when": true, "while": true, "since": true, "because": true,
}

// endsClause reports whether a bare number ends its clause, so that
// "was 3 miles away" or "is 5 feet tall" are not read as ages.
func endsClause(rest string) bool {
	rest = strings.TrimLeft(rest, " \t")
	if rest == "" || strings.ContainsRune(",.;:!?\n", rune(rest[0])) {
		return true
	}
	end := strings.IndexFunc(rest, func(r rune) bool { return !unicode.IsLetter(r) })
	if end < 0 {
		end = len(rest)
	}
	return clauseWords[rest[:end]]
}

// parseAge reads "19", "nineteen" or "twenty-five".
func parseAge(s string) (int, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	if n, err := strconv.Atoi(s); err == nil {
		return n, n >= 0 && n <= 150
	}
	total := 0
	for _, part := range strings.Split(s, "-") {
		n, ok := numberWords[part]
		if !ok {
			return 0, false
		}
		total += n
	}
	return total, total <= 150
}

var colorAliases = map[string]string{"blond": "blonde", "gray": "grey", "fiancée": "fiance", "fiancee": "fiance", "fiancé": "fiance"}

func canonicalWord(s string) string {
	if c, ok := colorAliases[s]; ok {
		return c
	}
	return s
}

func normalizeColor(s string) string {
	parts := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool { return r == ' ' || r == '-' })
	for i, p := range parts {
		parts[i] = canonicalWord(p)
	}
	return strings.Join(parts, " ")
}

// claim is an attribute value stated about a subject. An empty subject
// means the text could not be attributed to an entity.
type claim struct {
	subject   string
	category  string
	attribute string
	value     string
	docID     string
	evidence  string
}

func (c claim) id() string {
	return c.subject + "\x00" + c.attribute + "\x00" + c.value + "\x00" + c.docID
}

// subject is an entity claims can be attributed to, with the surface forms
// that identify it in text.
type subject struct {
	key    string
	name   string
	labels []string
}

// rawClaim is a pattern match before attribution.
type rawClaim struct {
	start     int
	category  string
	attribute string
	value     string
}

func matchClaims(lower string) []rawClaim {
	var out []rawClaim
	add := func(start int, category, attribute, value string) {
		if value != "" {
			out = append(out, rawClaim{start: start, category: category, attribute: attribute, value: value})
		}
	}

	for _, m := range ageVerbRe.FindAllStringSubmatchIndex(lower, -1) {
		token := lower[m[2]:m[3]]
		hasSuffix := m[4] >= 0
		if _, err := strconv.Atoi(token); err != nil && !hasSuffix {
			continue
		}
		if !hasSuffix && !endsClause(lower[m[1]:]) {
			continue
		}
		if n, ok := parseAge(token); ok {
			add(m[0], CategoryAge, CategoryAge, strconv.Itoa(n))
		}
	}
	for _, m := range ageAdjRe.FindAllStringSubmatchIndex(lower, -1) {
		if n, ok := parseAge(lower[m[2]:m[3]]); ok {
			add(m[0], CategoryAge, CategoryAge, strconv.Itoa(n))
		}
	}
	for _, m := range locationRe.FindAllStringSubmatchIndex(lower, -1) {
		add(m[0], CategoryLocation, CategoryLocation, graph.Normalize(lower[m[2]:m[3]]))
	}
	for _, re := range []*regexp.Regexp{hairRe, hairIsRe} {
		for _, m := range re.FindAllStringSubmatchIndex(lower, -1) {
			add(m[0], CategoryAppearance, "hair", normalizeColor(lower[m[2]:m[3]]))
		}
	}
	for _, re := range []*regexp.Regexp{eyesRe, eyesAreRe} {
		for _, m := range re.FindAllStringSubmatchIndex(lower, -1) {
			add(m[0], CategoryAppearance, "eyes", normalizeColor(lower[m[2]:m[3]]))
		}
	}
	for _, m := range relPossRe.FindAllStringSubmatchIndex(lower, -1) {
		other := graph.Normalize(lower[m[2]:m[3]])
		add(m[0], CategoryRelationship, CategoryRelationship+":"+other, canonicalWord(lower[m[4]:m[5]]))
	}
	for _, m := range relOfRe.FindAllStringSubmatchIndex(lower, -1) {
		other := graph.Normalize(lower[m[4]:m[5]])
		add(m[0], CategoryRelationship, CategoryRelationship+":"+other, canonicalWord(lower[m[2]:m[3]]))
	}
	return out
}

// labelPositions returns the byte offsets where label occurs in lower as a
// whole word sequence.
func labelPositions(lower, label string) []int {
	if label == "" {
		return nil
	}
	var out []int
	for from := 0; from < len(lower); {
		idx := strings.Index(lower[from:], label)
		if idx < 0 {
			break
		}
		start := from + idx
		end := start + len(label)
		if boundary(lower, start-1) && boundary(lower, end) {
			out = append(out, start)
		}
		from = start + 1
	}
	return out
}

func boundary(s string, i int) bool {
	if i < 0 || i >= len(s) {
		return true
	}
	r := rune(s[i])
	if r >= 0x80 {
		return false
	}
	return !unicode.IsLetter(r) && !unicode.IsDigit(r)
}

// claimExtractor attributes pattern matches to subjects. blockers are other
// known entities: a claim closest to a blocker is dropped rather than
// misattributed.
type claimExtractor struct {
	subjects []subject
	blockers []subject
	// single attributes unanchored claims to the only subject. It is used for
	// the statement under review, which is about its subjects by definition.
	single bool
	// anonymous keeps every claim with an empty subject.
	anonymous bool
}

type anchor struct {
	pos int
	key string
}

func (x claimExtractor) anchors(lower string) []anchor {
	var out []anchor
	for _, group := range [][]subject{x.subjects, x.blockers} {
		for _, s := range group {
			for _, l := range s.labels {
				for _, p := range labelPositions(lower, strings.ToLower(l)) {
					out = append(out, anchor{pos: p, key: s.key})
				}
			}
		}
	}
	return out
}

func (x claimExtractor) isSubject(key string) bool {
	for _, s := range x.subjects {
		if s.key == key {
			return true
		}
	}
	return false
}

func (x claimExtractor) extract(text, docID string) []claim {
	var out []claim
	carry := ""
	for _, sentence := range chunker.SplitSentences(text) {
		lower := strings.ToLower(sentence)
		raws := matchClaims(lower)
		anchors := x.anchors(lower)

		for _, rc := range raws {
			key := ""
			best := -1
			for _, a := range anchors {
				if a.pos < rc.start && a.pos > best {
					best, key = a.pos, a.key
				}
			}
			switch {
			case x.anonymous:
				key = ""
			case best >= 0:
			case carry != "" && pronounRe.MatchString(lower[:rc.start]):
				key = carry
			case x.single && len(x.subjects) == 1:
				key = x.subjects[0].key
			default:
				continue
			}
			if !x.anonymous && !x.isSubject(key) {
				continue
			}
			out = append(out, claim{
				subject:   key,
				category:  rc.category,
				attribute: rc.attribute,
				value:     rc.value,
				docID:     docID,
				evidence:  strings.TrimSpace(sentence),
			})
		}

		last := -1
		for _, a := range anchors {
			if a.pos > last {
				last, carry = a.pos, a.key
			}
		}
	}
	return dedupeClaims(out)
}

func dedupeClaims(in []claim) []claim {
	seen := make(map[string]struct{}, len(in))
	out := in[:0]
	for _, c := range in {
		if _, ok := seen[c.id()]; ok {
			continue
		}
		seen[c.id()] = struct{}{}
		out = append(out, c)
	}
	return out
}
