package refdata

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"
)

// Publisher is one entry of the credibility table.
type Publisher struct {
	Domain      string  `yaml:"domain" json:"domain"`
	Name        string  `yaml:"name" json:"name"`
	Tier        int     `yaml:"tier" json:"tier"`
	Credibility float64 `yaml:"credibility" json:"credibility"`
}

// PublisherFile is the on-disk publisher table.
type PublisherFile struct {
	Version    string      `yaml:"version"`
	Publishers []Publisher `yaml:"publishers"`
}

// PublisherTable maps publisher domains to credibility. It is immutable.
type PublisherTable struct {
	Version  string
	byDomain map[string]Publisher
}

// DefaultPublishers seeds the table when no file is configured.
var DefaultPublishers = []Publisher{
	{Domain: "reuters.com", Name: "Reuters", Tier: 1, Credibility: 0.95},
	{Domain: "apnews.com", Name: "Associated Press", Tier: 1, Credibility: 0.95},
	{Domain: "bloomberg.com", Name: "Bloomberg", Tier: 1, Credibility: 0.92},
	{Domain: "ft.com", Name: "Financial Times", Tier: 1, Credibility: 0.92},
	{Domain: "wsj.com", Name: "The Wall Street Journal", Tier: 1, Credibility: 0.9},
	{Domain: "nytimes.com", Name: "The New York Times", Tier: 1, Credibility: 0.88},
	{Domain: "cnbc.com", Name: "CNBC", Tier: 2, Credibility: 0.8},
	{Domain: "techcrunch.com", Name: "TechCrunch", Tier: 2, Credibility: 0.8},
	{Domain: "theverge.com", Name: "The Verge", Tier: 2, Credibility: 0.75},
	{Domain: "wired.com", Name: "WIRED", Tier: 2, Credibility: 0.75},
	{Domain: "venturebeat.com", Name: "VentureBeat", Tier: 3, Credibility: 0.6},
	{Domain: "businesswire.com", Name: "Business Wire", Tier: 3, Credibility: 0.55},
	{Domain: "prnewswire.com", Name: "PR Newswire", Tier: 3, Credibility: 0.5},
	{Domain: "medium.com", Name: "Medium", Tier: 5, Credibility: 0.2},
}

// DefaultPublisherTable builds the table from DefaultPublishers.
func DefaultPublisherTable() *PublisherTable {
	t, _ := NewPublisherTable("builtin", DefaultPublishers)
	return t
}

// NewPublisherTable validates entries and indexes them by normalized domain.
func NewPublisherTable(version string, pubs []Publisher) (*PublisherTable, error) {
	t := &PublisherTable{Version: version, byDomain: make(map[string]Publisher, len(pubs))}
	var errs []error
	for i, p := range pubs {
		p.Domain = NormalizeDomain(p.Domain)
		switch {
		case p.Domain == "":
			errs = append(errs, fmt.Errorf("publisher %d: domain is required", i+1))
			continue
		case p.Tier < 1 || p.Tier > 5:
			errs = append(errs, fmt.Errorf("publisher %s: tier %d outside 1-5", p.Domain, p.Tier))
			continue
		case p.Credibility < 0 || p.Credibility > 1:
			errs = append(errs, fmt.Errorf("publisher %s: credibility %v outside [0,1]", p.Domain, p.Credibility))
			continue
		}
		if _, dup := t.byDomain[p.Domain]; dup {
			errs = append(errs, fmt.Errorf("publisher %s: duplicate domain", p.Domain))
			continue
		}
		t.byDomain[p.Domain] = p
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return t, nil
}

// ParsePublishers decodes a YAML publisher table. Unknown keys are rejected.
func ParsePublishers(data []byte) (*PublisherTable, error) {
	var f PublisherFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse publisher table: %w", err)
	}
	return NewPublisherTable(f.Version, f.Publishers)
}

// Lookup finds domain, falling back to parent domains so that
// markets.reuters.com resolves to reuters.com.
func (t *PublisherTable) Lookup(domain string) (Publisher, bool) {
	if t == nil {
		return Publisher{}, false
	}
	d := NormalizeDomain(domain)
	for d != "" {
		if p, ok := t.byDomain[d]; ok {
			return p, true
		}
		i := strings.IndexByte(d, '.')
		if i < 0 || !strings.Contains(d[i+1:], ".") {
			break
		}
		d = d[i+1:]
	}
	return Publisher{}, false
}

// Len returns the number of publishers.
func (t *PublisherTable) Len() int {
	if t == nil {
		return 0
	}
	return len(t.byDomain)
}

// NormalizeDomain lowercases, trims dots and a leading www.
func NormalizeDomain(d string) string {
	d = strings.Trim(strings.ToLower(strings.TrimSpace(d)), ".")
	return strings.TrimPrefix(d, "www.")
}
