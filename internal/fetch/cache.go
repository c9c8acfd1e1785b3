package fetch

import (
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// Cache keeps rendered HTML by URL for a fixed TTL.
type Cache struct {
	c *gocache.Cache
}

// NewCache creates a cache whose entries expire after ttl.
func NewCache(ttl time.Duration) *Cache {
	return &Cache{c: gocache.New(ttl, 2*ttl)}
}

// Get returns the cached HTML for url.
func (c *Cache) Get(url string) (string, bool) {
	v, ok := c.c.Get(url)
	if !ok {
		return "", false
	}
	return v.(string), true
}

// Set stores html under url with the default TTL.
func (c *Cache) Set(url, html string) {
	c.c.SetDefault(url, html)
}

// Len reports the number of unexpired entries.
func (c *Cache) Len() int {
	return c.c.ItemCount()
}
