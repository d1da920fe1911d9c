// Package cache implements the binary/text HTTP resource cache keyed by URL
// and a binary flag (§4.3). Membership lists per publisher and per
// subscription support cascading deletion when those owners go away.
package cache

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
)

// Resource is one cached HTTP fetch.
type Resource struct {
	URL      string
	Binary   bool
	MimeType string
	Content  []byte
}

func key(url string, binary bool) string {
	if binary {
		return "b:" + url
	}
	return "t:" + url
}

// Cache is a concurrency-safe resource store with owner-scoped membership
// tracking, so a Publisher or Subscription can be torn down along with
// every resource it alone referenced.
type Cache struct {
	mu        sync.Mutex
	resources map[string]Resource
	owners    map[string]map[string]struct{} // resource key -> set of owner IDs
	client    *http.Client
}

// New returns an empty Cache. client may be nil, in which case
// http.DefaultClient is used for fetches.
func New(client *http.Client) *Cache {
	if client == nil {
		client = http.DefaultClient
	}
	return &Cache{
		resources: make(map[string]Resource),
		owners:    make(map[string]map[string]struct{}),
		client:    client,
	}
}

// ResourceByURL returns the cached resource for url, fetching it over HTTP
// on a miss and recording ownerID against it. binary controls whether the
// body is treated as opaque bytes or UTF-8 text; the cache key includes it
// so the same URL can be cached in both forms independently.
func (c *Cache) ResourceByURL(ctx context.Context, url string, binary bool, ownerID string) (Resource, error) {
	k := key(url, binary)

	c.mu.Lock()
	if r, ok := c.resources[k]; ok {
		c.addOwnerLocked(k, ownerID)
		c.mu.Unlock()
		return r, nil
	}
	c.mu.Unlock()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Resource{}, fmt.Errorf("cache: building request for %s: %w", url, err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return Resource{}, fmt.Errorf("cache: fetching %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Resource{}, fmt.Errorf("cache: fetching %s: status %d", url, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Resource{}, fmt.Errorf("cache: reading body of %s: %w", url, err)
	}

	r := Resource{
		URL:      url,
		Binary:   binary,
		MimeType: resp.Header.Get("Content-Type"),
		Content:  body,
	}

	c.mu.Lock()
	c.resources[k] = r
	c.addOwnerLocked(k, ownerID)
	c.mu.Unlock()

	return r, nil
}

// addOwnerLocked records ownerID against resource key k. Caller must hold c.mu.
func (c *Cache) addOwnerLocked(k, ownerID string) {
	if ownerID == "" {
		return
	}
	set, ok := c.owners[k]
	if !ok {
		set = make(map[string]struct{})
		c.owners[k] = set
	}
	set[ownerID] = struct{}{}
}

// ReleaseOwner drops ownerID's membership in every resource it referenced,
// evicting any resource left with no remaining owner. Called when a
// Publisher or Subscription is deleted.
func (c *Cache) ReleaseOwner(ownerID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for k, set := range c.owners {
		if _, ok := set[ownerID]; !ok {
			continue
		}
		delete(set, ownerID)
		if len(set) == 0 {
			delete(c.owners, k)
			delete(c.resources, k)
		}
	}
}

// Len reports how many distinct resources are currently cached, for tests
// and diagnostics.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.resources)
}
