package cache

import (
	"context"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

type localEntry struct {
	value     []byte
	expiresAt time.Time
}

// localCache is a bounded LRU. The expirable LRU evicts by its default TTL;
// shorter per-entry expirations are checked on read.
type localCache struct {
	lru *expirable.LRU[string, localEntry]
	ttl time.Duration
	mu  sync.Mutex
}

func NewLocalCache(config LocalConfig) Cache {
	config = config.withDefaults()
	return &localCache{
		lru: expirable.NewLRU[string, localEntry](config.MaxSize, nil, config.DefaultExpiration),
		ttl: config.DefaultExpiration,
	}
}

func (lc *localCache) Get(_ context.Context, key string) ([]byte, bool) {
	e, ok := lc.lru.Get(key)
	if !ok {
		return nil, false
	}
	if time.Now().After(e.expiresAt) {
		lc.lru.Remove(key)
		return nil, false
	}
	return e.value, true
}

func (lc *localCache) entry(value []byte, expiration time.Duration) localEntry {
	if expiration <= 0 || expiration > lc.ttl {
		expiration = lc.ttl
	}
	return localEntry{value: value, expiresAt: time.Now().Add(expiration)}
}

func (lc *localCache) Set(_ context.Context, key string, value []byte, expiration time.Duration) error {
	lc.lru.Add(key, lc.entry(value, expiration))
	return nil
}

func (lc *localCache) SetNX(ctx context.Context, key string, value []byte, expiration time.Duration) (bool, error) {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	if _, ok := lc.Get(ctx, key); ok {
		return false, nil
	}
	lc.lru.Add(key, lc.entry(value, expiration))
	return true, nil
}

func (lc *localCache) Delete(_ context.Context, key string) error {
	lc.lru.Remove(key)
	return nil
}

func (lc *localCache) Close() error {
	lc.lru.Purge()
	return nil
}
