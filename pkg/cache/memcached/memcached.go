// Package memcached shares cache entries between orchestrator instances.
package memcached

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"github.com/bradfitz/gomemcache/memcache"

	"github.com/UdeS-STI/udes-node-orchestrator/pkg/cache"
)

// DefaultTimeout bounds one memcached operation.
const DefaultTimeout = 500 * time.Millisecond

type memcachedCache struct {
	client *memcache.Client
	// expiration in seconds, 0 keeps entries until evicted.
	expiration int32
}

// New returns a Cacher spreading keys over servers. Entries expire after
// expire, rounded down to the second.
func New(expire time.Duration, servers ...string) cache.Cacher {
	client := memcache.New(servers...)
	client.Timeout = DefaultTimeout
	return &memcachedCache{
		client:     client,
		expiration: int32(expire / time.Second),
	}
}

func (c *memcachedCache) Get(key string) ([]byte, bool, error) {
	item, err := c.client.Get(hashKey(key))
	if errors.Is(err, memcache.ErrCacheMiss) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return item.Value, true, nil
}

func (c *memcachedCache) Set(key string, value []byte) error {
	return c.client.Set(&memcache.Item{
		Key:        hashKey(key),
		Value:      value,
		Expiration: c.expiration,
	})
}

// Delete ignores missing keys.
func (c *memcachedCache) Delete(key string) error {
	err := c.client.Delete(hashKey(key))
	if errors.Is(err, memcache.ErrCacheMiss) {
		return nil
	}
	return err
}

// hashKey keeps keys within the 250 bytes memcached accepts, free of the
// spaces that URLs and user names may carry.
func hashKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}
