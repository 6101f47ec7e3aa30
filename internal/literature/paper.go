package literature

import (
	"context"
	"errors"
	"sort"
	"strings"
	"unicode"
)

// ErrNoProviders is returned when every literature provider is disabled.
var ErrNoProviders = errors.New("no literature providers enabled")

// Paper is a single search hit normalized across providers.
type Paper struct {
	ID            string   `json:"id"`
	Title         string   `json:"title"`
	Authors       []string `json:"authors,omitempty"`
	Year          int      `json:"year,omitempty"`
	Venue         string   `json:"venue,omitempty"`
	Abstract      string   `json:"abstract,omitempty"`
	URL           string   `json:"url,omitempty"`
	PDFURL        string   `json:"pdf_url,omitempty"`
	DOI           string   `json:"doi,omitempty"`
	CitationCount int      `json:"citation_count"`
	Source        string   `json:"source"`
}

// Query describes a literature search.
type Query struct {
	Text     string `json:"text"`
	Limit    int    `json:"limit,omitempty"`
	YearFrom int    `json:"year_from,omitempty"`
}

// Provider is one literature search backend.
type Provider interface {
	Name() string
	Search(ctx context.Context, q Query) ([]Paper, error)
}

// Key identifies a paper across providers: the DOI when known, otherwise the
// normalized title.
func (p Paper) Key() string {
	if doi := strings.ToLower(strings.TrimSpace(p.DOI)); doi != "" {
		return "doi:" + doi
	}
	return "title:" + normalizeTitle(p.Title)
}

func normalizeTitle(title string) string {
	var sb strings.Builder
	space := false
	for _, r := range strings.ToLower(title) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			sb.WriteRune(r)
			space = false
		case !space && sb.Len() > 0:
			sb.WriteByte(' ')
			space = true
		}
	}
	return strings.TrimSpace(sb.String())
}

// Merge de-duplicates papers by DOI and normalized title, keeping the first
// occurrence but filling its empty fields from later duplicates. The result
// is sorted by citation count, then year, both descending.
func Merge(lists ...[]Paper) []Paper {
	var out []Paper
	byKey := map[string]int{}
	byTitle := map[string]int{}
	for _, list := range lists {
		for _, p := range list {
			if strings.TrimSpace(p.Title) == "" {
				continue
			}
			title := normalizeTitle(p.Title)
			idx, ok := byKey[p.Key()]
			if !ok {
				idx, ok = byTitle[title]
			}
			if ok {
				out[idx] = fill(out[idx], p)
				if out[idx].DOI != "" {
					byKey[out[idx].Key()] = idx
				}
				continue
			}
			out = append(out, p)
			byKey[p.Key()] = len(out) - 1
			byTitle[title] = len(out) - 1
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CitationCount != out[j].CitationCount {
			return out[i].CitationCount > out[j].CitationCount
		}
		return out[i].Year > out[j].Year
	})
	return out
}

func fill(dst, src Paper) Paper {
	if dst.DOI == "" {
		dst.DOI = src.DOI
	}
	if dst.Abstract == "" {
		dst.Abstract = src.Abstract
	}
	if dst.PDFURL == "" {
		dst.PDFURL = src.PDFURL
	}
	if dst.URL == "" {
		dst.URL = src.URL
	}
	if dst.Venue == "" {
		dst.Venue = src.Venue
	}
	if dst.Year == 0 {
		dst.Year = src.Year
	}
	if len(dst.Authors) == 0 {
		dst.Authors = src.Authors
	}
	if src.CitationCount > dst.CitationCount {
		dst.CitationCount = src.CitationCount
	}
	return dst
}
