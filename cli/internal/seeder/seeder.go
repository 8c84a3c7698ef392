// Package seeder generates NewsAPI-shaped article fixtures for exercising a
// pipeline without live providers. Each story is reported by several
// publishers with slightly different headlines, so the fixture exercises
// deduplication and corroboration as well as card assembly.
package seeder

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/brianvoe/gofakeit/v6"
)

// Response is the NewsAPI "everything" response shape.
type Response struct {
	Status       string    `json:"status"`
	TotalResults int       `json:"totalResults"`
	Articles     []Article `json:"articles"`
}

type Source struct {
	ID   string `json:"id,omitempty"`
	Name string `json:"name"`
}

type Article struct {
	Source      Source    `json:"source"`
	Author      string    `json:"author,omitempty"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	URL         string    `json:"url"`
	PublishedAt time.Time `json:"publishedAt"`
	Breaking    bool      `json:"breaking,omitempty"`
}

type Publisher struct {
	Domain string
	Name   string
}

// DefaultPublishers matches the sample publisher table.
var DefaultPublishers = []Publisher{
	{"reuters.com", "Reuters"},
	{"apnews.com", "Associated Press"},
	{"bloomberg.com", "Bloomberg"},
	{"techcrunch.com", "TechCrunch"},
	{"theverge.com", "The Verge"},
	{"venturebeat.com", "VentureBeat"},
	{"medium.com", "Medium"},
}

type Options struct {
	Company string
	// Stories is the number of distinct events.
	Stories int
	// Coverage is how many publishers report each story.
	Coverage int
	// Noise adds unrelated single-source articles.
	Noise int
	// Spread is how far back publication times reach.
	Spread     time.Duration
	Publishers []Publisher
	Seed       int64
	Now        time.Time
}

func (o *Options) defaults() {
	if o.Company == "" {
		o.Company = "Acme"
	}
	if o.Stories <= 0 {
		o.Stories = 3
	}
	if len(o.Publishers) == 0 {
		o.Publishers = DefaultPublishers
	}
	if o.Coverage <= 0 {
		o.Coverage = 3
	}
	if o.Coverage > len(o.Publishers) {
		o.Coverage = len(o.Publishers)
	}
	if o.Spread <= 0 {
		o.Spread = 12 * time.Hour
	}
	if o.Now.IsZero() {
		o.Now = time.Now().UTC()
	}
}

type template struct {
	headline    func(f *gofakeit.Faker, company string) string
	description func(f *gofakeit.Faker, company string) string
}

var templates = []template{
	{
		headline: func(f *gofakeit.Faker, c string) string {
			return fmt.Sprintf("%s launches %s", c, f.ProductName())
		},
		description: func(f *gofakeit.Faker, c string) string {
			return fmt.Sprintf("%s unveiled a new product aimed at %s teams, available %s.", c, f.JobDescriptor(), f.RandomString([]string{"today", "next month", "in beta"}))
		},
	},
	{
		headline: func(f *gofakeit.Faker, c string) string {
			return fmt.Sprintf("%s cuts prices on %s plan by %d%%", c, f.RandomString([]string{"Pro", "Team", "Enterprise"}), f.Number(10, 40))
		},
		description: func(f *gofakeit.Faker, c string) string {
			return fmt.Sprintf("%s is undercutting rivals with a new pricing model starting at $%.2f per seat.", c, f.Price(5, 50))
		},
	},
	{
		headline: func(f *gofakeit.Faker, c string) string {
			return fmt.Sprintf("%s partners with %s", c, f.Company())
		},
		description: func(f *gofakeit.Faker, c string) string {
			return fmt.Sprintf("The partnership bundles %s with %s for joint customers.", c, f.BS())
		},
	},
	{
		headline: func(f *gofakeit.Faker, c string) string {
			return fmt.Sprintf("%s discloses data breach affecting %d customers", c, f.Number(1000, 90000))
		},
		description: func(f *gofakeit.Faker, c string) string {
			return fmt.Sprintf("%s said attackers accessed %s systems before the incident was contained.", c, f.HackerAdjective())
		},
	},
	{
		headline: func(f *gofakeit.Faker, c string) string {
			return fmt.Sprintf("%s raises $%dM Series %s", c, f.Number(20, 300), f.RandomString([]string{"B", "C", "D"}))
		},
		description: func(f *gofakeit.Faker, c string) string {
			return fmt.Sprintf("The round was led by %s and values %s above $%dB.", f.Company(), c, f.Number(1, 12))
		},
	},
}

// variants rewrite a headline the way different outlets do.
var variants = []func(h string, p Publisher) string{
	func(h string, _ Publisher) string { return h },
	func(h string, p Publisher) string { return h + " - " + p.Name },
	func(h string, _ Publisher) string { return "Report: " + h },
	func(h string, _ Publisher) string { return strings.ToUpper(h[:1]) + h[1:] + "." },
}

// Generate builds a fixture. The same options and seed produce the same fixture.
func Generate(opts Options) Response {
	opts.defaults()
	f := gofakeit.New(opts.Seed)

	var articles []Article
	for i := 0; i < opts.Stories; i++ {
		tpl := templates[i%len(templates)]
		headline := tpl.headline(f, opts.Company)
		description := tpl.description(f, opts.Company)
		first := opts.Now.Add(-time.Duration(f.Number(0, int(opts.Spread/time.Minute))) * time.Minute)

		pubs := pick(f, opts.Publishers, opts.Coverage)
		for j, p := range pubs {
			published := first.Add(time.Duration(j*f.Number(5, 40)) * time.Minute)
			if published.After(opts.Now) {
				published = opts.Now
			}
			articles = append(articles, Article{
				Source:      Source{Name: p.Name},
				Author:      f.Name(),
				Title:       variants[j%len(variants)](headline, p),
				Description: description,
				URL:         fmt.Sprintf("https://www.%s/%d/%s", p.Domain, published.Year(), slug(headline)),
				PublishedAt: published,
			})
		}
	}

	for i := 0; i < opts.Noise; i++ {
		p := opts.Publishers[f.Number(0, len(opts.Publishers)-1)]
		headline := f.HipsterSentence(6)
		articles = append(articles, Article{
			Source:      Source{Name: p.Name},
			Title:       headline,
			Description: f.Sentence(12),
			URL:         fmt.Sprintf("https://www.%s/%s", p.Domain, slug(headline)),
			PublishedAt: opts.Now.Add(-time.Duration(f.Number(1, 600)) * time.Minute),
		})
	}

	sort.SliceStable(articles, func(i, j int) bool {
		return articles[i].PublishedAt.After(articles[j].PublishedAt)
	})
	return Response{Status: "ok", TotalResults: len(articles), Articles: articles}
}

func pick(f *gofakeit.Faker, pubs []Publisher, n int) []Publisher {
	idx := make([]int, len(pubs))
	for i := range idx {
		idx[i] = i
	}
	f.ShuffleInts(idx)
	out := make([]Publisher, n)
	for i := range out {
		out[i] = pubs[idx[i]]
	}
	return out
}

func slug(s string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			dash = false
		case !dash && b.Len() > 0:
			b.WriteByte('-')
			dash = true
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}

// Handler serves the fixture as a NewsAPI-compatible endpoint. Articles are
// filtered by the q parameter's terms (OR-joined, case-insensitive).
func Handler(resp Response) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		terms := queryTerms(r.URL.Query().Get("q"))
		out := Response{Status: "ok"}
		for _, a := range resp.Articles {
			if matches(a, terms) {
				out.Articles = append(out.Articles, a)
			}
		}
		out.TotalResults = len(out.Articles)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(out)
	})
}

func queryTerms(q string) []string {
	var terms []string
	for _, t := range strings.Split(q, " OR ") {
		if t = strings.ToLower(strings.Trim(strings.TrimSpace(t), `"`)); t != "" {
			terms = append(terms, t)
		}
	}
	return terms
}

func matches(a Article, terms []string) bool {
	if len(terms) == 0 {
		return true
	}
	text := strings.ToLower(a.Title + " " + a.Description)
	for _, t := range terms {
		if strings.Contains(text, t) {
			return true
		}
	}
	return false
}
