// Package memory provides an in-process implementation of
// identity.TokenCache using a mutex-guarded map. It is suitable for
// sharing tokens between credentials inside one process; use the redis
// implementation to share across processes.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/cloudward/azkit-go/identity"
	"github.com/cloudward/azkit-go/pipeline"
)

// Cache implements identity.TokenCache in process memory. Expired
// entries are dropped lazily on read; there is no other eviction, new
// tokens simply overwrite old ones.
type Cache struct {
	mu      sync.Mutex
	entries map[string]pipeline.AccessToken
	now     func() time.Time
}

// New creates an empty cache.
func New() *Cache {
	return &Cache{
		entries: make(map[string]pipeline.AccessToken),
		now:     time.Now,
	}
}

func (c *Cache) Get(ctx context.Context, key string) (pipeline.AccessToken, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	tk, ok := c.entries[key]
	if !ok {
		return pipeline.AccessToken{}, false, nil
	}
	if !c.now().Before(tk.ExpiresOn) {
		delete(c.entries, key)
		return pipeline.AccessToken{}, false, nil
	}
	return tk, true, nil
}

func (c *Cache) Put(ctx context.Context, key string, token pipeline.AccessToken) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = token
	return nil
}

func (c *Cache) Delete(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
	return nil
}

// Close drops all entries.
func (c *Cache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]pipeline.AccessToken)
	return nil
}

var _ identity.TokenCache = (*Cache)(nil)
