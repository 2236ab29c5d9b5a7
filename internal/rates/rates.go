// Package rates caches exchange rates with a refresh TTL. The cache is
// injected wherever a rate snapshot is needed; nothing reads it through a
// package global.
package rates

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"
)

var ErrUnknownCurrency = errors.New("unknown currency")

type Fetcher func(ctx context.Context) (map[string]float64, error)

type Cache struct {
	fetch Fetcher
	ttl   time.Duration

	mu      sync.RWMutex
	rates   map[string]float64
	fetched time.Time
}

func New(fetch Fetcher, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Cache{fetch: fetch, ttl: ttl, rates: map[string]float64{}}
}

// Rate returns the cached rate for currency, refreshing first when stale.
// A failed refresh falls back to the last known value.
func (c *Cache) Rate(ctx context.Context, currency string) (float64, error) {
	c.mu.RLock()
	fresh := time.Since(c.fetched) < c.ttl
	rate, ok := c.rates[currency]
	c.mu.RUnlock()

	if fresh {
		if !ok {
			return 0, fmt.Errorf("%w: %s", ErrUnknownCurrency, currency)
		}
		return rate, nil
	}

	if err := c.refresh(ctx); err != nil {
		if ok {
			return rate, nil
		}
		return 0, err
	}

	c.mu.RLock()
	rate, ok = c.rates[currency]
	c.mu.RUnlock()
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownCurrency, currency)
	}
	return rate, nil
}

func (c *Cache) Invalidate() {
	c.mu.Lock()
	c.fetched = time.Time{}
	c.mu.Unlock()
}

func (c *Cache) refresh(ctx context.Context) error {
	rates, err := c.fetch(ctx)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.rates = rates
	c.fetched = time.Now()
	c.mu.Unlock()
	return nil
}

// HTTPFetcher pulls a {"USD": 64123.5, ...} document from url.
func HTTPFetcher(url string, timeout time.Duration) Fetcher {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	client := &http.Client{Timeout: timeout}
	return func(ctx context.Context) (map[string]float64, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, err
		}
		resp, err := client.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return nil, fmt.Errorf("rates http status %d", resp.StatusCode)
		}
		var rates map[string]float64
		if err := json.NewDecoder(resp.Body).Decode(&rates); err != nil {
			return nil, err
		}
		return rates, nil
	}
}

// Fixed returns a cache that always serves the given table; used in tests
// and single-currency deployments.
func Fixed(rates map[string]float64) *Cache {
	c := New(func(context.Context) (map[string]float64, error) {
		return rates, nil
	}, time.Hour)
	c.rates = rates
	c.fetched = time.Now()
	return c
}
