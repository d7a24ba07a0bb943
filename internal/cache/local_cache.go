// Package cache 提供进程内 TTL 缓存。
package cache

import (
	"sync"
	"time"
)

// LocalCache 本地内存缓存
//
// 条目按 TTL 过期，读取时惰性删除；容量满时先清理过期条目，
// 仍然满则淘汰最早过期的条目。
type LocalCache[K comparable, V any] struct {
	mu      sync.Mutex
	data    map[K]cacheEntry[V]
	maxSize int
	ttl     time.Duration
	now     func() time.Time
}

type cacheEntry[V any] struct {
	value     V
	expiresAt time.Time
}

// NewLocalCache 创建本地缓存
//
// 参数:
//   - maxSize: 最大缓存条目数
//   - ttl: 默认过期时间
func NewLocalCache[K comparable, V any](maxSize int, ttl time.Duration) *LocalCache[K, V] {
	if maxSize <= 0 {
		maxSize = 1
	}
	return &LocalCache[K, V]{
		data:    make(map[K]cacheEntry[V], maxSize),
		maxSize: maxSize,
		ttl:     ttl,
		now:     time.Now,
	}
}

// Get 获取缓存值
func (c *LocalCache[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.data[key]
	if !ok {
		var zero V
		return zero, false
	}
	if c.now().After(entry.expiresAt) {
		delete(c.data, key)
		var zero V
		return zero, false
	}
	return entry.value, true
}

// Set 设置缓存值，ttl 为 0 时使用默认值
func (c *LocalCache[K, V]) Set(key K, value V, ttl time.Duration) {
	if ttl == 0 {
		ttl = c.ttl
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if _, exists := c.data[key]; !exists && len(c.data) >= c.maxSize {
		c.evict(now)
	}
	c.data[key] = cacheEntry[V]{value: value, expiresAt: now.Add(ttl)}
}

// GetOrSet 命中则返回缓存值，否则调用 fn 计算并缓存
func (c *LocalCache[K, V]) GetOrSet(key K, fn func() V) V {
	if v, ok := c.Get(key); ok {
		return v
	}
	v := fn()
	c.Set(key, v, 0)
	return v
}

// Delete 删除缓存值
func (c *LocalCache[K, V]) Delete(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.data, key)
}

// Clear 清空所有缓存
func (c *LocalCache[K, V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data = make(map[K]cacheEntry[V], c.maxSize)
}

// Len 当前条目数（含尚未清理的过期条目）
func (c *LocalCache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.data)
}

func (c *LocalCache[K, V]) evict(now time.Time) {
	var (
		oldestKey K
		oldestAt  time.Time
		found     bool
	)
	for key, entry := range c.data {
		if now.After(entry.expiresAt) {
			delete(c.data, key)
			continue
		}
		if !found || entry.expiresAt.Before(oldestAt) {
			oldestKey, oldestAt, found = key, entry.expiresAt, true
		}
	}
	if len(c.data) >= c.maxSize && found {
		delete(c.data, oldestKey)
	}
}
