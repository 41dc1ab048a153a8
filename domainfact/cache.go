package domainfact

import (
	"context"
	"fmt"
	"time"

	"github.com/dgraph-io/ristretto"

	"github.com/memfuse/memfuse/core"
)

// CachedStore memoizes Lookup and Facts results in a ristretto cache with a
// short TTL. Reads against the business database are side-effect free, so a
// stale-bounded cache is safe; finder methods stay uncached because entity
// extraction already runs at most once per turn.
type CachedStore struct {
	inner Store
	cache *ristretto.Cache
	ttl   time.Duration
}

var _ Store = (*CachedStore)(nil)

// NewCachedStore wraps inner with a lookup cache. A zero or negative ttl
// defaults to 30 seconds.
func NewCachedStore(inner Store, ttl time.Duration) (*CachedStore, error) {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 10_000,
		MaxCost:     1 << 24,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("create cache: %w", err)
	}
	return &CachedStore{inner: inner, cache: cache, ttl: ttl}, nil
}

// Lookup implements Store with memoization.
func (c *CachedStore) Lookup(ctx context.Context, table, id string) (core.DomainFact, error) {
	key := "lookup:" + table + ":" + id
	if v, ok := c.cache.Get(key); ok {
		return v.(core.DomainFact), nil
	}
	fact, err := c.inner.Lookup(ctx, table, id)
	if err != nil {
		return core.DomainFact{}, err
	}
	c.cache.SetWithTTL(key, fact, 1, c.ttl)
	return fact, nil
}

// Facts implements Store with memoization.
func (c *CachedStore) Facts(ctx context.Context, ref core.ExternalRef) ([]core.DomainFact, error) {
	key := "facts:" + ref.Table + ":" + ref.ID
	if v, ok := c.cache.Get(key); ok {
		return v.([]core.DomainFact), nil
	}
	facts, err := c.inner.Facts(ctx, ref)
	if err != nil {
		return nil, err
	}
	c.cache.SetWithTTL(key, facts, int64(len(facts)+1), c.ttl)
	return facts, nil
}

// Customers implements Store with memoization; the customer list backs every
// extraction pass, so this is the hottest read.
func (c *CachedStore) Customers(ctx context.Context) ([]Record, error) {
	const key = "customers"
	if v, ok := c.cache.Get(key); ok {
		return v.([]Record), nil
	}
	records, err := c.inner.Customers(ctx)
	if err != nil {
		return nil, err
	}
	c.cache.SetWithTTL(key, records, int64(len(records)+1), c.ttl)
	return records, nil
}

// FindCustomersByName implements Store, delegating uncached.
func (c *CachedStore) FindCustomersByName(ctx context.Context, name string) ([]Record, error) {
	return c.inner.FindCustomersByName(ctx, name)
}

// FindOrderByNumber implements Store, delegating uncached.
func (c *CachedStore) FindOrderByNumber(ctx context.Context, number string) (Record, error) {
	return c.inner.FindOrderByNumber(ctx, number)
}

// FindInvoiceByNumber implements Store, delegating uncached.
func (c *CachedStore) FindInvoiceByNumber(ctx context.Context, number string) (Record, error) {
	return c.inner.FindInvoiceByNumber(ctx, number)
}

// FindTasksByKeyword implements Store, delegating uncached.
func (c *CachedStore) FindTasksByKeyword(ctx context.Context, keyword string) ([]Record, error) {
	return c.inner.FindTasksByKeyword(ctx, keyword)
}

// Close implements Store.
func (c *CachedStore) Close() error {
	c.cache.Close()
	return c.inner.Close()
}
