package literature

import (
	"strings"
	"sync"

	"github.com/blevesearch/bleve"
)

// Index is an in-memory full-text index over every paper seen during a run.
type Index struct {
	bleve  bleve.Index
	papers map[string]Paper
	mu     sync.RWMutex
}

type indexedPaper struct {
	Title    string `json:"title"`
	Abstract string `json:"abstract"`
	Authors  string `json:"authors"`
	Venue    string `json:"venue"`
}

func NewIndex() (*Index, error) {
	idx, err := bleve.NewMemOnly(bleve.NewIndexMapping())
	if err != nil {
		return nil, err
	}
	return &Index{bleve: idx, papers: make(map[string]Paper)}, nil
}

// Add indexes papers, replacing earlier copies with the same key.
func (x *Index) Add(papers ...Paper) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	for _, p := range papers {
		id := p.Key()
		if prev, ok := x.papers[id]; ok {
			p = fill(p, prev)
		}
		x.papers[id] = p
		doc := indexedPaper{Title: p.Title, Abstract: p.Abstract, Authors: strings.Join(p.Authors, ", "), Venue: p.Venue}
		if err := x.bleve.Index(id, doc); err != nil {
			return err
		}
	}
	return nil
}

func (x *Index) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.papers)
}

// Search runs a match query over title, abstract, authors and venue and
// returns up to k papers by relevance.
func (x *Index) Search(query string, k int) ([]Paper, error) {
	if k <= 0 {
		k = 10
	}
	req := bleve.NewSearchRequestOptions(bleve.NewMatchQuery(query), k, 0, false)
	res, err := x.bleve.Search(req)
	if err != nil {
		return nil, err
	}
	x.mu.RLock()
	defer x.mu.RUnlock()
	out := make([]Paper, 0, len(res.Hits))
	for _, hit := range res.Hits {
		if p, ok := x.papers[hit.ID]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

func (x *Index) Close() error { return x.bleve.Close() }
