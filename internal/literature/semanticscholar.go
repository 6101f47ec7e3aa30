package literature

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/mohammad-safakhou/paperflow/internal/httpclient"
)

const semanticScholarFields = "title,authors,year,venue,abstract,url,citationCount,externalIds,openAccessPdf"

// SemanticScholar searches the Semantic Scholar Graph API.
type SemanticScholar struct {
	baseURL string
	apiKey  string
	http    *httpclient.Client
}

func NewSemanticScholar(baseURL, apiKey string, http *httpclient.Client) *SemanticScholar {
	if baseURL == "" {
		baseURL = "https://api.semanticscholar.org/graph/v1"
	}
	return &SemanticScholar{baseURL: strings.TrimRight(baseURL, "/"), apiKey: apiKey, http: http}
}

func (s *SemanticScholar) Name() string { return "semantic_scholar" }

func (s *SemanticScholar) Search(ctx context.Context, q Query) ([]Paper, error) {
	params := url.Values{}
	params.Set("query", q.Text)
	params.Set("limit", strconv.Itoa(limitOr(q.Limit, 10)))
	params.Set("fields", semanticScholarFields)
	if q.YearFrom > 0 {
		params.Set("year", fmt.Sprintf("%d-", q.YearFrom))
	}
	var headers map[string]string
	if s.apiKey != "" {
		headers = map[string]string{"x-api-key": s.apiKey}
	}

	var resp struct {
		Data []struct {
			PaperID       string `json:"paperId"`
			Title         string `json:"title"`
			Year          int    `json:"year"`
			Venue         string `json:"venue"`
			Abstract      string `json:"abstract"`
			URL           string `json:"url"`
			CitationCount int    `json:"citationCount"`
			Authors       []struct {
				Name string `json:"name"`
			} `json:"authors"`
			ExternalIDs struct {
				DOI   string `json:"DOI"`
				ArXiv string `json:"ArXiv"`
			} `json:"externalIds"`
			OpenAccessPDF *struct {
				URL string `json:"url"`
			} `json:"openAccessPdf"`
		} `json:"data"`
	}
	if err := s.http.DoJSON(ctx, "GET", s.baseURL+"/paper/search?"+params.Encode(), headers, nil, &resp); err != nil {
		return nil, fmt.Errorf("semantic scholar search: %w", err)
	}

	out := make([]Paper, 0, len(resp.Data))
	for _, d := range resp.Data {
		p := Paper{
			ID:            d.PaperID,
			Title:         strings.TrimSpace(d.Title),
			Year:          d.Year,
			Venue:         d.Venue,
			Abstract:      strings.TrimSpace(d.Abstract),
			URL:           d.URL,
			DOI:           d.ExternalIDs.DOI,
			CitationCount: d.CitationCount,
			Source:        s.Name(),
		}
		for _, a := range d.Authors {
			p.Authors = append(p.Authors, a.Name)
		}
		if d.OpenAccessPDF != nil {
			p.PDFURL = d.OpenAccessPDF.URL
		}
		out = append(out, p)
	}
	return out, nil
}

func limitOr(n, def int) int {
	if n <= 0 {
		return def
	}
	if n > 100 {
		return 100
	}
	return n
}
