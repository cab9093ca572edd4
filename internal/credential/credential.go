// Package credential resolves a usable bearer token from a prioritized chain
// of sources with different trust, caching and prompting characteristics:
// an environment override, two in-process caches, app-owned secure-store and
// file caches, a user-entered key, and finally the upstream tool's own
// credential stores. A sticky access-denied flag keeps automatic resolution
// away from sources that could raise an OS permission prompt.
package credential

import (
	"sync"
	"time"
)

// Source records where a credential came from.
type Source string

const (
	SourceEnvironment      Source = "environment"
	SourceMemoryCache      Source = "memory-cache"
	SourceAppCache         Source = "app-cache"
	SourceFileCache        Source = "file-cache"
	SourceManualKey        Source = "manual-key"
	SourceUpstreamKeychain Source = "upstream-keychain"
	SourceUpstreamFile     Source = "upstream-file"
)

// Credential is an opaque bearer token plus its provenance. Immutable once
// obtained; replaced wholesale, never merged.
type Credential struct {
	Token  string
	Source Source
}

// memoryCache holds one token with its fetch time. An entry older than the
// TTL reads as absent, not stale-but-usable, so resolution falls through.
type memoryCache struct {
	mu        sync.Mutex
	token     string
	fetchedAt time.Time
	ttl       time.Duration
	now       func() time.Time
}

func newMemoryCache(ttl time.Duration, now func() time.Time) *memoryCache {
	if now == nil {
		now = time.Now
	}
	return &memoryCache{ttl: ttl, now: now}
}

func (c *memoryCache) get() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token == "" || c.now().Sub(c.fetchedAt) >= c.ttl {
		return "", false
	}
	return c.token, true
}

func (c *memoryCache) put(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = token
	c.fetchedAt = c.now()
}

func (c *memoryCache) clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = ""
	c.fetchedAt = time.Time{}
}

func (c *memoryCache) warm() bool {
	_, ok := c.get()
	return ok
}
