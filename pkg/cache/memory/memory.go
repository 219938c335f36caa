package memory

import (
	"sync"
	"time"

	"github.com/UdeS-STI/udes-node-orchestrator/pkg/cache"
)

type entry struct {
	value   []byte
	expires time.Time
}

type memoryCache struct {
	lock    sync.Mutex
	entries map[string]entry
	ttl     time.Duration
	now     func() time.Time
}

// New creates an in-process Cacher. Entries expire after ttl; a zero ttl
// keeps them forever.
func New(ttl time.Duration) cache.Cacher {
	return newWithClock(ttl, time.Now)
}

func newWithClock(ttl time.Duration, now func() time.Time) *memoryCache {
	return &memoryCache{
		entries: make(map[string]entry),
		ttl:     ttl,
		now:     now,
	}
}

func (c *memoryCache) Get(key string) ([]byte, bool, error) {
	c.lock.Lock()
	defer c.lock.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return nil, false, nil
	}
	if !e.expires.IsZero() && !e.expires.After(c.now()) {
		delete(c.entries, key)
		return nil, false, nil
	}
	return append([]byte(nil), e.value...), true, nil
}

func (c *memoryCache) Set(key string, value []byte) error {
	c.lock.Lock()
	defer c.lock.Unlock()

	e := entry{value: append([]byte(nil), value...)}
	if c.ttl > 0 {
		e.expires = c.now().Add(c.ttl)
	}
	c.entries[key] = e
	return nil
}

func (c *memoryCache) Delete(key string) error {
	c.lock.Lock()
	defer c.lock.Unlock()
	delete(c.entries, key)
	return nil
}
