package literature

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/cespare/xxhash/v2"
	"github.com/redis/go-redis/v9"
)

// Cache memoizes search results in Redis.
type Cache struct {
	rdb    redis.UniversalClient
	ttl    time.Duration
	prefix string
}

func NewCache(rdb redis.UniversalClient, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Cache{rdb: rdb, ttl: ttl, prefix: "paperflow:literature:"}
}

func (c *Cache) key(provider string, q Query) string {
	text := strings.ToLower(strings.Join(strings.Fields(q.Text), " "))
	h := xxhash.Sum64String(fmt.Sprintf("%s|%d|%d", text, q.Limit, q.YearFrom))
	return fmt.Sprintf("%s%s:%016x", c.prefix, provider, h)
}

// Get returns cached papers; the bool is false on a miss.
func (c *Cache) Get(ctx context.Context, provider string, q Query) ([]Paper, bool, error) {
	raw, err := c.rdb.Get(ctx, c.key(provider, q)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var papers []Paper
	if err := sonic.Unmarshal(raw, &papers); err != nil {
		return nil, false, fmt.Errorf("decode cached papers: %w", err)
	}
	return papers, true, nil
}

func (c *Cache) Put(ctx context.Context, provider string, q Query, papers []Paper) error {
	raw, err := sonic.Marshal(papers)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, c.key(provider, q), raw, c.ttl).Err()
}
