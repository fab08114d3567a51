package solclash

import (
	"context"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// solPriceKey is the cache key for the native coin; mints never collide with
// it because it is not valid base58.
const solPriceKey = "native:SOL"

type priceQuote struct {
	price     float64
	fetchedAt time.Time
}

// quoteCache is a TTL price cache with stale fallback: a fresh quote short
// circuits the fetch, a failed fetch falls back to the last known quote even
// past its TTL, and a key that has never resolved yields 0. Expired entries
// are deliberately kept in the store; they are the fallback.
type quoteCache struct {
	ttl    time.Duration
	logger Logger
	now    func() time.Time

	mu    sync.Mutex
	store *lru.Cache[string, priceQuote]
}

func newQuoteCache(ttl time.Duration, maxEntries int, logger Logger) *quoteCache {
	if maxEntries <= 0 {
		maxEntries = 512
	}
	store, _ := lru.New[string, priceQuote](maxEntries)
	return &quoteCache{
		ttl:    ttl,
		logger: logger,
		now:    time.Now,
		store:  store,
	}
}

// Price returns the cached price for key when fresh, otherwise invokes fetch.
// Only positive fetched prices become quotes; a zero result or an error
// degrades to the previous quote if one exists, else 0.
func (c *quoteCache) Price(ctx context.Context, key string, fetch func(context.Context) (float64, error)) float64 {
	if cached, ok := c.fresh(key); ok {
		return cached
	}

	price, err := fetch(ctx)
	if err == nil && price > 0 {
		c.storeQuote(key, price)
		return price
	}

	if err != nil && c.logger != nil {
		c.logger.Printf("price fetch failed key=%s error=%v", key, err)
	}

	if stale, ok := c.any(key); ok {
		if c.logger != nil {
			c.logger.Printf("serving stale price key=%s price=%f", key, stale)
		}
		return stale
	}
	return 0
}

func (c *quoteCache) fresh(key string) (float64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	quote, ok := c.store.Get(key)
	if !ok {
		return 0, false
	}
	if c.ttl > 0 && c.now().Sub(quote.fetchedAt) > c.ttl {
		return 0, false
	}
	return quote.price, true
}

func (c *quoteCache) any(key string) (float64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	quote, ok := c.store.Get(key)
	if !ok {
		return 0, false
	}
	return quote.price, true
}

func (c *quoteCache) storeQuote(key string, price float64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.store.Add(key, priceQuote{price: price, fetchedAt: c.now()})
}
