package literature

import (
	"context"
	"encoding/xml"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/mohammad-safakhou/paperflow/internal/httpclient"
)

// Arxiv searches the arXiv export API, which only speaks Atom.
type Arxiv struct {
	baseURL string
	http    *httpclient.Client
}

func NewArxiv(baseURL string, http *httpclient.Client) *Arxiv {
	if baseURL == "" {
		baseURL = "http://export.arxiv.org/api/query"
	}
	return &Arxiv{baseURL: baseURL, http: http}
}

func (a *Arxiv) Name() string { return "arxiv" }

type atomFeed struct {
	Entries []atomEntry `xml:"entry"`
}

type atomEntry struct {
	ID        string `xml:"id"`
	Title     string `xml:"title"`
	Summary   string `xml:"summary"`
	Published string `xml:"published"`
	DOI       string `xml:"http://arxiv.org/schemas/atom doi"`
	Journal   string `xml:"http://arxiv.org/schemas/atom journal_ref"`
	Authors   []struct {
		Name string `xml:"name"`
	} `xml:"author"`
	Links []struct {
		Href  string `xml:"href,attr"`
		Rel   string `xml:"rel,attr"`
		Title string `xml:"title,attr"`
		Type  string `xml:"type,attr"`
	} `xml:"link"`
}

func (a *Arxiv) Search(ctx context.Context, q Query) ([]Paper, error) {
	limit := limitOr(q.Limit, 10)
	params := url.Values{}
	params.Set("search_query", "all:"+q.Text)
	params.Set("start", "0")
	// year filtering happens client side, so over-fetch a little
	fetch := limit
	if q.YearFrom > 0 {
		fetch = limit * 2
	}
	params.Set("max_results", strconv.Itoa(fetch))
	params.Set("sortBy", "relevance")

	raw, err := a.http.Do(ctx, "GET", a.baseURL+"?"+params.Encode(), map[string]string{"Accept": "application/atom+xml"}, nil)
	if err != nil {
		return nil, fmt.Errorf("arxiv search: %w", err)
	}
	var feed atomFeed
	if err := xml.Unmarshal(raw, &feed); err != nil {
		return nil, fmt.Errorf("arxiv search: decode feed: %w", err)
	}

	out := make([]Paper, 0, len(feed.Entries))
	for _, e := range feed.Entries {
		p := Paper{
			ID:       arxivID(e.ID),
			Title:    collapse(e.Title),
			Abstract: collapse(e.Summary),
			URL:      strings.TrimSpace(e.ID),
			DOI:      strings.TrimSpace(e.DOI),
			Venue:    strings.TrimSpace(e.Journal),
			Source:   a.Name(),
		}
		if p.Venue == "" {
			p.Venue = "arXiv"
		}
		if len(e.Published) >= 4 {
			p.Year, _ = strconv.Atoi(e.Published[:4])
		}
		for _, au := range e.Authors {
			p.Authors = append(p.Authors, strings.TrimSpace(au.Name))
		}
		for _, l := range e.Links {
			switch {
			case l.Title == "pdf" || l.Type == "application/pdf":
				p.PDFURL = l.Href
			case l.Rel == "alternate" && p.URL == "":
				p.URL = l.Href
			}
		}
		if q.YearFrom > 0 && p.Year < q.YearFrom {
			continue
		}
		out = append(out, p)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func arxivID(id string) string {
	id = strings.TrimSpace(id)
	if i := strings.LastIndex(id, "/abs/"); i >= 0 {
		return "arXiv:" + id[i+len("/abs/"):]
	}
	return id
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
