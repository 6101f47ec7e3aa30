package literature

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mohammad-safakhou/paperflow/internal/httpclient"
)

const s2Body = `{"total": 2, "data": [
  {"paperId": "s2-1", "title": "Attention Is All You Need", "year": 2017, "venue": "NeurIPS",
   "abstract": "The dominant sequence transduction models...", "url": "https://www.semanticscholar.org/paper/s2-1",
   "citationCount": 90000, "authors": [{"name": "Ashish Vaswani"}, {"name": "Noam Shazeer"}],
   "externalIds": {"DOI": "10.5555/3295222.3295349"}, "openAccessPdf": null},
  {"paperId": "s2-2", "title": "Graph Attention Networks", "year": 2018, "venue": "ICLR",
   "citationCount": 12000, "authors": [{"name": "Petar Velickovic"}], "externalIds": {}}
]}`

const arxivBody = `<?xml version="1.0" encoding="UTF-8"?>
<feed xmlns="http://www.w3.org/2005/Atom" xmlns:arxiv="http://arxiv.org/schemas/atom">
  <entry>
    <id>http://arxiv.org/abs/1706.03762v7</id>
    <published>2017-06-12T17:57:34Z</published>
    <title>Attention Is All
      You Need</title>
    <summary>  The dominant sequence transduction models are based on complex networks. </summary>
    <author><name>Ashish Vaswani</name></author>
    <link href="http://arxiv.org/abs/1706.03762v7" rel="alternate" type="text/html"/>
    <link title="pdf" href="http://arxiv.org/pdf/1706.03762v7" rel="related" type="application/pdf"/>
  </entry>
  <entry>
    <id>http://arxiv.org/abs/2301.00001v1</id>
    <published>2023-01-01T00:00:00Z</published>
    <title>Sparse Mixtures of Experts</title>
    <summary>Scaling with routers.</summary>
    <author><name>Jane Doe</name></author>
    <arxiv:doi>10.1000/moe</arxiv:doi>
  </entry>
</feed>`

func testHTTP() *httpclient.Client { return httpclient.New(2*time.Second, 0, time.Millisecond) }

func s2Server(t *testing.T, hits *int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits != nil {
			atomic.AddInt32(hits, 1)
		}
		assert.Equal(t, "/paper/search", r.URL.Path)
		assert.Equal(t, "attention", r.URL.Query().Get("query"))
		assert.Equal(t, "key-1", r.Header.Get("x-api-key"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(s2Body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func arxivServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "all:attention", r.URL.Query().Get("search_query"))
		_, _ = w.Write([]byte(arxivBody))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func failingServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadRequest)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestSemanticScholarSearch(t *testing.T) {
	srv := s2Server(t, nil)
	s2 := NewSemanticScholar(srv.URL, "key-1", testHTTP())

	papers, err := s2.Search(context.Background(), Query{Text: "attention", Limit: 5})
	require.NoError(t, err)
	require.Len(t, papers, 2)
	assert.Equal(t, "Attention Is All You Need", papers[0].Title)
	assert.Equal(t, []string{"Ashish Vaswani", "Noam Shazeer"}, papers[0].Authors)
	assert.Equal(t, "10.5555/3295222.3295349", papers[0].DOI)
	assert.Equal(t, "semantic_scholar", papers[0].Source)
	assert.Empty(t, papers[0].PDFURL)
}

func TestArxivSearchParsesAtom(t *testing.T) {
	srv := arxivServer(t)
	ax := NewArxiv(srv.URL, testHTTP())

	papers, err := ax.Search(context.Background(), Query{Text: "attention"})
	require.NoError(t, err)
	require.Len(t, papers, 2)
	assert.Equal(t, "arXiv:1706.03762v7", papers[0].ID)
	assert.Equal(t, "Attention Is All You Need", papers[0].Title)
	assert.Equal(t, "The dominant sequence transduction models are based on complex networks.", papers[0].Abstract)
	assert.Equal(t, 2017, papers[0].Year)
	assert.Equal(t, "http://arxiv.org/pdf/1706.03762v7", papers[0].PDFURL)
	assert.Equal(t, "10.1000/moe", papers[1].DOI)

	recent, err := ax.Search(context.Background(), Query{Text: "attention", YearFrom: 2020})
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, "Sparse Mixtures of Experts", recent[0].Title)
}

func TestClientMergesAndDeduplicates(t *testing.T) {
	index, err := NewIndex()
	require.NoError(t, err)
	c := NewClient([]Provider{
		NewSemanticScholar(s2Server(t, nil).URL, "key-1", testHTTP()),
		NewArxiv(arxivServer(t).URL, testHTTP()),
	}, WithIndex(index))

	papers, err := c.Search(context.Background(), Query{Text: "attention"})
	require.NoError(t, err)
	require.Len(t, papers, 3)

	// sorted by citations; the duplicate transformer paper is merged and picks up the arXiv PDF
	assert.Equal(t, "Attention Is All You Need", papers[0].Title)
	assert.Equal(t, "http://arxiv.org/pdf/1706.03762v7", papers[0].PDFURL)
	assert.Equal(t, "semantic_scholar", papers[0].Source)
	assert.Equal(t, "Graph Attention Networks", papers[1].Title)
	assert.Equal(t, 3, index.Len())
}

func TestClientPartialAndTotalFailure(t *testing.T) {
	ok := NewSemanticScholar(s2Server(t, nil).URL, "key-1", testHTTP())
	bad := NewArxiv(failingServer(t).URL, testHTTP())

	papers, err := NewClient([]Provider{ok, bad}).Search(context.Background(), Query{Text: "attention"})
	require.NoError(t, err)
	assert.Len(t, papers, 2)

	_, err = NewClient([]Provider{bad}).Search(context.Background(), Query{Text: "attention"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "all literature providers failed")

	_, err = NewClient(nil).Search(context.Background(), Query{Text: "attention"})
	assert.ErrorIs(t, err, ErrNoProviders)

	_, err = NewClient([]Provider{ok}).Search(context.Background(), Query{Text: "  "})
	assert.Error(t, err)
}

func TestClientUsesRedisCache(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	var hits int32
	s2 := NewSemanticScholar(s2Server(t, &hits).URL, "key-1", testHTTP())
	c := NewClient([]Provider{s2}, WithCache(NewCache(rdb, time.Hour)))

	first, err := c.Search(context.Background(), Query{Text: "attention", Limit: 5})
	require.NoError(t, err)
	second, err := c.Search(context.Background(), Query{Text: "attention", Limit: 5})
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))
	assert.Len(t, mr.Keys(), 1)

	mr.FastForward(2 * time.Hour)
	_, err = c.Search(context.Background(), Query{Text: "attention", Limit: 5})
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&hits))
}

func TestMergeFillsMissingFields(t *testing.T) {
	merged := Merge(
		[]Paper{{Title: "Deep Residual Learning", Year: 2016, CitationCount: 10}},
		[]Paper{{Title: "deep residual learning!", DOI: "10.1/resnet", Abstract: "Residual nets", CitationCount: 50}},
		[]Paper{{Title: ""}},
	)
	require.Len(t, merged, 1)
	assert.Equal(t, "10.1/resnet", merged[0].DOI)
	assert.Equal(t, "Residual nets", merged[0].Abstract)
	assert.Equal(t, 50, merged[0].CitationCount)
	assert.Equal(t, 2016, merged[0].Year)
}
