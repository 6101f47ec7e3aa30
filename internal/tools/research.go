package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/components/tool/utils"

	"github.com/mohammad-safakhou/paperflow/internal/fetch"
	"github.com/mohammad-safakhou/paperflow/internal/literature"
)

const maxAbstractChars = 800

// LiteratureSearcher is satisfied by *literature.Client.
type LiteratureSearcher interface {
	Search(ctx context.Context, q literature.Query) ([]literature.Paper, error)
}

// CollectedSearcher is satisfied by *literature.Index.
type CollectedSearcher interface {
	Search(query string, k int) ([]literature.Paper, error)
}

// PageFetcher is satisfied by *fetch.Fetcher.
type PageFetcher interface {
	Fetch(ctx context.Context, url string, maxChars int) (*fetch.Page, error)
}

type literatureSearchArgs struct {
	Query    string `json:"query" jsonschema:"required" jsonschema_description:"Search terms, e.g. 'graph neural networks molecule property prediction'"`
	Limit    int    `json:"limit,omitempty" jsonschema_description:"Maximum number of papers (default 10, max 100)"`
	YearFrom int    `json:"year_from,omitempty" jsonschema_description:"Only papers published in or after this year"`
}

type searchCollectedArgs struct {
	Query string `json:"query" jsonschema:"required" jsonschema_description:"Keywords to look for in collected titles, abstracts and authors"`
	K     int    `json:"k,omitempty" jsonschema_description:"Maximum number of papers (default 10)"`
}

type fetchPaperArgs struct {
	URL      string `json:"url" jsonschema:"required" jsonschema_description:"http(s) URL of a paper landing page or HTML full text"`
	MaxChars int    `json:"max_chars,omitempty" jsonschema_description:"Maximum characters of text to return"`
}

func shortenAbstracts(papers []literature.Paper) []literature.Paper {
	out := make([]literature.Paper, len(papers))
	for i, p := range papers {
		if r := []rune(p.Abstract); len(r) > maxAbstractChars {
			p.Abstract = string(r[:maxAbstractChars]) + "..."
		}
		out[i] = p
	}
	return out
}

func newLiteratureSearchTool(s LiteratureSearcher) (tool.InvokableTool, error) {
	return utils.InferTool("literature_search",
		"Search academic literature (Semantic Scholar and arXiv). Returns papers with title, authors, year, venue, abstract, url and citation count, most cited first.",
		func(ctx context.Context, in literatureSearchArgs) ([]literature.Paper, error) {
			papers, err := s.Search(ctx, literature.Query{Text: in.Query, Limit: in.Limit, YearFrom: in.YearFrom})
			if err != nil {
				return nil, err
			}
			return shortenAbstracts(papers), nil
		})
}

func newSearchCollectedTool(s CollectedSearcher) (tool.InvokableTool, error) {
	return utils.InferTool("search_collected",
		"Search the papers already found during this run by any agent. Use it before a new literature_search.",
		func(ctx context.Context, in searchCollectedArgs) ([]literature.Paper, error) {
			if strings.TrimSpace(in.Query) == "" {
				return nil, fmt.Errorf("query must not be empty")
			}
			papers, err := s.Search(in.Query, in.K)
			if err != nil {
				return nil, err
			}
			return shortenAbstracts(papers), nil
		})
}

func newFetchPaperTool(f PageFetcher) (tool.InvokableTool, error) {
	return utils.InferTool("fetch_paper",
		"Download a paper or landing page and return its readable text. PDFs are not supported; use the abstract page.",
		func(ctx context.Context, in fetchPaperArgs) (*fetch.Page, error) {
			return f.Fetch(ctx, in.URL, in.MaxChars)
		})
}
