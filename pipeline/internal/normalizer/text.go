package normalizer

import (
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"golang.org/x/net/html"
)

const (
	maxFingerprintTitle = 100
	maxExcerpt          = 1000
)

var stopwords = map[string]struct{}{
	"a": {}, "an": {}, "the": {}, "and": {}, "or": {}, "of": {}, "to": {}, "in": {},
	"on": {}, "for": {}, "with": {}, "at": {}, "by": {}, "from": {}, "as": {}, "is": {},
	"are": {}, "was": {}, "were": {}, "be": {}, "its": {}, "it": {}, "this": {}, "that": {},
	"new": {}, "says": {}, "said": {}, "after": {}, "over": {}, "into": {}, "amid": {},
	"breaking": {}, "exclusive": {}, "update": {}, "report": {},
}

// NormalizeTitle lowercases, replaces punctuation with spaces, drops stopwords
// and collapses whitespace.
func NormalizeTitle(title string) string {
	mapped := strings.Map(func(r rune) rune {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r):
			return unicode.ToLower(r)
		case r == '\'' || r == '’':
			return -1
		default:
			return ' '
		}
	}, title)

	words := strings.Fields(mapped)
	kept := words[:0]
	for _, w := range words {
		if _, stop := stopwords[w]; !stop {
			kept = append(kept, w)
		}
	}
	return strings.Join(kept, " ")
}

// Fingerprint is normalized title (first 100 chars), publisher domain and
// UTC publish day joined by "|".
func Fingerprint(title, publisherDomain string, publishedAt time.Time) string {
	return truncateRunes(NormalizeTitle(title), maxFingerprintTitle) + "|" +
		publisherDomain + "|" + publishedAt.UTC().Format(time.DateOnly)
}

// SourceID derives a stable identifier from the item URL, or from the
// publisher and title when the URL is missing.
func SourceID(rawURL, publisherDomain, title string) string {
	key := rawURL
	if key == "" {
		key = publisherDomain + "\x00" + title
	}
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])[:16]
}

// PublisherDomain returns the host of the first parseable URL, lowercased and
// without a leading www.
func PublisherDomain(urls ...string) string {
	for _, raw := range urls {
		if raw == "" {
			continue
		}
		u, err := url.Parse(strings.TrimSpace(raw))
		if err != nil || u.Hostname() == "" {
			continue
		}
		return strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	}
	return ""
}

// IsBreakingTitle reports a BREAKING or "Breaking:" headline prefix.
func IsBreakingTitle(title string) bool {
	t := strings.TrimSpace(title)
	return strings.HasPrefix(t, "BREAKING") || strings.HasPrefix(t, "Breaking:")
}

// StripHTML returns the visible text of an HTML fragment with whitespace
// collapsed. Script and style contents are dropped.
func StripHTML(fragment string) string {
	if !strings.ContainsAny(fragment, "<&") {
		return CollapseSpace(fragment)
	}
	doc, err := html.Parse(strings.NewReader(fragment))
	if err != nil {
		return CollapseSpace(fragment)
	}

	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.TextNode:
			b.WriteString(n.Data)
		case html.ElementNode:
			switch n.Data {
			case "script", "style", "noscript":
				return
			case "br", "p", "div", "li", "h1", "h2", "h3", "h4", "tr":
				b.WriteByte(' ')
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return CollapseSpace(b.String())
}

// CollapseSpace trims and folds every whitespace run into a single space.
func CollapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return strings.TrimSpace(string(r[:n]))
}
