package dedup

import (
	"strings"
	"unicode/utf8"

	"github.com/impactwatch/impactwatch/pipeline/internal/normalizer"
)

// attributions are bylines and labels that precede or follow a headline.
var attributions = map[string]struct{}{
	"reuters": {}, "ap": {}, "afp": {}, "bloomberg": {}, "cnbc": {}, "techcrunch": {},
	"the verge": {}, "verge": {}, "wired": {}, "wsj": {}, "ft": {}, "axios": {},
	"breaking": {}, "exclusive": {}, "update": {}, "report": {}, "analysis": {},
	"opinion": {}, "watch": {}, "video": {}, "live": {},
}

// headlineVerbs folds verb variants so "Acme unveils X" and "Acme launches X" compare equal.
var headlineVerbs = map[string]string{
	"launch": "launch", "launches": "launch", "launched": "launch", "launching": "launch",
	"unveil": "launch", "unveils": "launch", "unveiled": "launch", "unveiling": "launch",
	"introduce": "launch", "introduces": "launch", "introduced": "launch", "introducing": "launch",
	"release": "launch", "releases": "launch", "released": "launch", "releasing": "launch",
	"debut": "launch", "debuts": "launch", "debuted": "launch", "debuting": "launch",
	"announce": "launch", "announces": "launch", "announced": "launch",
	"acquire": "acquire", "acquires": "acquire", "acquired": "acquire", "buys": "acquire", "bought": "acquire",
	"raise": "raise", "raises": "raise", "raised": "raise", "secures": "raise", "secured": "raise",
	"cut": "cut", "cuts": "cut", "slashes": "cut", "slashed": "cut", "lowers": "cut", "lowered": "cut",
	"partner": "partner", "partners": "partner", "partnered": "partner", "teams": "partner",
	"sue": "sue", "sues": "sue", "sued": "sue",
	"fine": "fine", "fines": "fine", "fined": "fine",
	"layoffs": "layoff", "lays": "layoff", "laid": "layoff",
	"hire": "hire", "hires": "hire", "hired": "hire", "hiring": "hire",
	"expand": "expand", "expands": "expand", "expanded": "expand",
}

// MatchKey reduces a headline to the form compared by fuzzy matching:
// attribution removed, normalized, headline verbs folded.
func MatchKey(title string) string {
	words := strings.Fields(normalizer.NormalizeTitle(stripAttribution(title)))
	for i, w := range words {
		if folded, ok := headlineVerbs[w]; ok {
			words[i] = folded
		}
	}
	return strings.Join(words, " ")
}

// stripAttribution drops a "Source: " prefix and a " - Source" or " | Source"
// suffix when the source part looks like a byline.
func stripAttribution(title string) string {
	t := strings.TrimSpace(title)

	if i := strings.Index(t, ":"); i > 0 {
		if isAttribution(t[:i]) {
			t = strings.TrimSpace(t[i+1:])
		}
	}
	for _, sep := range []string{" - ", " | ", " — ", " – "} {
		i := strings.LastIndex(t, sep)
		if i <= 0 {
			continue
		}
		tail := strings.TrimSpace(t[i+len(sep):])
		if isAttribution(tail) || (len(strings.Fields(tail)) <= 3 && startsUpper(tail)) {
			t = strings.TrimSpace(t[:i])
			break
		}
	}
	return t
}

func isAttribution(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	if len(strings.Fields(s)) > 3 {
		return false
	}
	_, ok := attributions[s]
	return ok
}

func startsUpper(s string) bool {
	r, _ := utf8.DecodeRuneInString(s)
	return r >= 'A' && r <= 'Z'
}

// Similarity is 1 - levenshtein(a,b)/max(len(a),len(b)) over runes.
// Two empty keys are identical.
func Similarity(a, b string) float64 {
	if a == b {
		return 1
	}
	ra, rb := []rune(a), []rune(b)
	longest := max(len(ra), len(rb))
	if longest == 0 {
		return 1
	}
	return 1 - float64(levenshtein(ra, rb))/float64(longest)
}

func levenshtein(a, b []rune) int {
	if len(a) < len(b) {
		a, b = b, a
	}
	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(a); i++ {
		curr[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			curr[j] = min(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(b)]
}
