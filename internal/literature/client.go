package literature

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mohammad-safakhou/paperflow/config"
	"github.com/mohammad-safakhou/paperflow/internal/httpclient"
	"github.com/mohammad-safakhou/paperflow/internal/logging"
)

// Client fans a query out to every provider and merges the results.
type Client struct {
	providers  []Provider
	cache      *Cache
	index      *Index
	logger     *zap.Logger
	maxResults int
}

type Option func(*Client)

func WithCache(c *Cache) Option { return func(cl *Client) { cl.cache = c } }

func WithIndex(x *Index) Option { return func(cl *Client) { cl.index = x } }

func WithLogger(l *zap.Logger) Option { return func(cl *Client) { cl.logger = l } }

func WithMaxResults(n int) Option {
	return func(cl *Client) {
		if n > 0 {
			cl.maxResults = n
		}
	}
}

func NewClient(providers []Provider, opts ...Option) *Client {
	c := &Client{providers: providers, maxResults: 10, logger: zap.NewNop()}
	for _, o := range opts {
		o(c)
	}
	c.logger = logging.OrNop(c.logger)
	return c
}

// FromConfig builds the enabled providers. rdb may be nil, in which case
// results are not cached.
func FromConfig(cfg config.LiteratureConfig, rdb redis.UniversalClient, index *Index, logger *zap.Logger) *Client {
	http := httpclient.New(cfg.Timeout, cfg.MaxRetries, 0)
	var providers []Provider
	if cfg.SemanticScholar.Enabled {
		providers = append(providers, NewSemanticScholar(cfg.SemanticScholar.BaseURL, cfg.SemanticScholar.APIKey, http))
	}
	if cfg.Arxiv.Enabled {
		providers = append(providers, NewArxiv(cfg.Arxiv.BaseURL, http))
	}
	opts := []Option{WithLogger(logger), WithMaxResults(cfg.MaxResults)}
	if rdb != nil {
		opts = append(opts, WithCache(NewCache(rdb, cfg.CacheTTL)))
	}
	if index != nil {
		opts = append(opts, WithIndex(index))
	}
	return NewClient(providers, opts...)
}

// Index returns the run index, or nil when none is attached.
func (c *Client) Index() *Index { return c.index }

// Search queries all providers concurrently. A failing provider is logged and
// skipped; the call fails only when every provider fails.
func (c *Client) Search(ctx context.Context, q Query) ([]Paper, error) {
	q.Text = strings.TrimSpace(q.Text)
	if q.Text == "" {
		return nil, fmt.Errorf("empty literature query")
	}
	if len(c.providers) == 0 {
		return nil, ErrNoProviders
	}
	if q.Limit <= 0 {
		q.Limit = c.maxResults
	}

	results := make([][]Paper, len(c.providers))
	errs := make([]error, len(c.providers))
	g, gctx := errgroup.WithContext(ctx)
	for i, p := range c.providers {
		g.Go(func() error {
			results[i], errs[i] = c.searchOne(gctx, p, q)
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	failed := 0
	for i, err := range errs {
		if err != nil {
			failed++
			c.logger.Warn("literature provider failed", zap.String("provider", c.providers[i].Name()), zap.Error(err))
		}
	}
	if failed == len(c.providers) {
		return nil, fmt.Errorf("all literature providers failed: %w", errors.Join(errs...))
	}

	merged := Merge(results...)
	if len(merged) > q.Limit {
		merged = merged[:q.Limit]
	}
	if c.index != nil {
		if err := c.index.Add(merged...); err != nil {
			c.logger.Warn("index papers", zap.Error(err))
		}
	}
	c.logger.Debug("literature search", zap.String("query", q.Text), zap.Int("papers", len(merged)))
	return merged, nil
}

func (c *Client) searchOne(ctx context.Context, p Provider, q Query) ([]Paper, error) {
	if c.cache != nil {
		papers, ok, err := c.cache.Get(ctx, p.Name(), q)
		if err != nil {
			c.logger.Debug("literature cache read", zap.String("provider", p.Name()), zap.Error(err))
		} else if ok {
			return papers, nil
		}
	}
	papers, err := p.Search(ctx, q)
	if err != nil {
		return nil, err
	}
	if c.cache != nil {
		if err := c.cache.Put(ctx, p.Name(), q, papers); err != nil {
			c.logger.Debug("literature cache write", zap.String("provider", p.Name()), zap.Error(err))
		}
	}
	return papers, nil
}
