// Package cache implements the per-kernel dynamic store: a bounded
// key/value map with LRU ordering, TTL expiry, background cleanup,
// auto-resize, and cross-cache sync/migration.
package cache

import (
	"container/list"
	"sync"
	"time"

	"github.com/corefabric/corefabric/pkg/utils"
)

// EvictionCallback receives each evicted pair. It is always invoked
// with the cache lock released.
type EvictionCallback[K comparable, V any] func(key K, value V)

// Options tunes a dynamic cache beyond capacity and TTL.
type Options[V any] struct {
	// Clone copies values in and out. Nil means plain assignment,
	// which is only safe for value types.
	Clone func(V) V

	// CleanupInterval is the period of the background expiry sweep.
	CleanupInterval time.Duration

	Logger *utils.StructuredLogger
}

// CloneBytes is the Clone hook for byte-slice values.
func CloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

type item[K comparable, V any] struct {
	key        K
	value      V
	lastAccess time.Time
	ttl        time.Duration // 0 = infinite
	element    *list.Element
}

// Cache is a bounded map with an overlaid LRU order. Capacity counts
// entries; inserting past capacity evicts LRU victims, so admission
// never fails.
type Cache[K comparable, V any] struct {
	mu sync.RWMutex

	capacity   int
	defaultTTL time.Duration
	items      map[K]*item[K, V]
	evictList  *list.List // front = most recently used

	clone           func(V) V
	evictionCb      EvictionCallback[K, V]
	cleanupInterval time.Duration
	autoResize      bool
	minCapacity     int
	maxCapacity     int

	hits      uint64
	misses    uint64
	evictions uint64

	logger *utils.StructuredLogger
	stopCh chan struct{}
	wg     sync.WaitGroup
}

// Metrics is a point-in-time cache statistics snapshot.
type Metrics struct {
	Hits      uint64  `json:"hits"`
	Misses    uint64  `json:"misses"`
	HitRate   float64 `json:"hit_rate"`
	Size      int     `json:"size"`
	Capacity  int     `json:"capacity"`
	Evictions uint64  `json:"evictions"`
}

// New creates a cache with the given entry capacity and default TTL
// (0 = entries never expire) and starts the background cleanup sweep.
func New[K comparable, V any](capacity int, defaultTTL time.Duration, opts *Options[V]) *Cache[K, V] {
	if capacity <= 0 {
		capacity = 1
	}

	c := &Cache[K, V]{
		capacity:        capacity,
		defaultTTL:      defaultTTL,
		items:           make(map[K]*item[K, V]),
		evictList:       list.New(),
		cleanupInterval: 10 * time.Second,
		minCapacity:     16,
		maxCapacity:     4096,
		stopCh:          make(chan struct{}),
	}
	if opts != nil {
		c.clone = opts.Clone
		if opts.CleanupInterval > 0 {
			c.cleanupInterval = opts.CleanupInterval
		}
		c.logger = opts.Logger
	}
	if c.logger == nil {
		c.logger = utils.Discard("cachemanager")
	}

	c.wg.Add(1)
	go c.cleanupLoop()

	return c
}

// NewBytes creates the byte-slice cache used by kernels; values are
// copied on the way in and out.
func NewBytes(capacity int, defaultTTL time.Duration, logger *utils.StructuredLogger) *Cache[string, []byte] {
	return New[string, []byte](capacity, defaultTTL, &Options[[]byte]{
		Clone:  CloneBytes,
		Logger: logger,
	})
}

// Get returns a copy of the live value for key and touches the LRU
// order. An expired entry is removed and counts as a miss.
func (c *Cache[K, V]) Get(key K) (V, bool) {
	var zero V

	c.mu.Lock()
	it, ok := c.items[key]
	if !ok {
		c.misses++
		c.mu.Unlock()
		return zero, false
	}
	if c.expired(it, time.Now()) {
		c.removeItem(it)
		c.misses++
		c.mu.Unlock()
		return zero, false
	}

	it.lastAccess = time.Now()
	c.evictList.MoveToFront(it.element)
	c.hits++
	value := c.cloneValue(it.value)
	c.mu.Unlock()

	return value, true
}

// Put inserts or updates key with the default TTL.
func (c *Cache[K, V]) Put(key K, value V) {
	c.mu.Lock()
	ttl := c.defaultTTL
	evicted := c.putLocked(key, value, ttl)
	c.mu.Unlock()

	c.notifyEvictions(evicted)
}

// PutTTL inserts or updates key with an explicit TTL (0 = infinite).
func (c *Cache[K, V]) PutTTL(key K, value V, ttl time.Duration) {
	c.mu.Lock()
	evicted := c.putLocked(key, value, ttl)
	c.mu.Unlock()

	c.notifyEvictions(evicted)
}

// BatchPut inserts all pairs atomically with respect to concurrent
// readers: the write lock is held across the whole batch.
func (c *Cache[K, V]) BatchPut(data map[K]V, ttl time.Duration) {
	c.mu.Lock()
	var evicted []*item[K, V]
	for key, value := range data {
		evicted = append(evicted, c.putLocked(key, value, ttl)...)
	}
	c.mu.Unlock()

	c.notifyEvictions(evicted)
}

// Remove deletes key from the map and the LRU order.
func (c *Cache[K, V]) Remove(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if it, ok := c.items[key]; ok {
		c.removeItem(it)
	}
}

// Clear drops every entry. The eviction callback is not invoked.
func (c *Cache[K, V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items = make(map[K]*item[K, V])
	c.evictList.Init()
}

// Size returns the live entry count.
func (c *Cache[K, V]) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// AllocatedSize returns the current capacity.
func (c *Cache[K, V]) AllocatedSize() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.capacity
}

// Resize adjusts capacity, evicting LRU victims when shrinking below
// the live entry count.
func (c *Cache[K, V]) Resize(capacity int) {
	if capacity <= 0 {
		capacity = 1
	}

	c.mu.Lock()
	c.capacity = capacity
	evicted := c.evictToFitLocked()
	c.mu.Unlock()

	c.notifyEvictions(evicted)
}

// SetEvictionCallback installs the callback invoked per evicted pair.
func (c *Cache[K, V]) SetEvictionCallback(cb EvictionCallback[K, V]) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.evictionCb = cb
}

// SetAutoResize enables capacity adjustment within [minCapacity,
// maxCapacity] driven by the cleanup sweep's hit-rate observations.
func (c *Cache[K, V]) SetAutoResize(enable bool, minCapacity, maxCapacity int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.autoResize = enable
	if minCapacity > 0 {
		c.minCapacity = minCapacity
	}
	if maxCapacity >= c.minCapacity {
		c.maxCapacity = maxCapacity
	}
}

// SetCleanupInterval adjusts the background sweep period; it takes
// effect after the current sleep.
func (c *Cache[K, V]) SetCleanupInterval(interval time.Duration) {
	if interval <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cleanupInterval = interval
}

// SyncWith copies every live entry of other into this cache. The
// source is left unchanged; resulting LRU order is unspecified.
func (c *Cache[K, V]) SyncWith(other *Cache[K, V]) {
	if other == nil || other == c {
		return
	}
	snapshot, ttls := other.snapshot()

	c.mu.Lock()
	var evicted []*item[K, V]
	for key, value := range snapshot {
		evicted = append(evicted, c.putLocked(key, value, ttls[key])...)
	}
	c.mu.Unlock()

	c.notifyEvictions(evicted)
}

// MigrateTo copies every live entry of this cache into target without
// emptying the source.
func (c *Cache[K, V]) MigrateTo(target *Cache[K, V]) {
	if target == nil || target == c {
		return
	}
	target.SyncWith(c)
}

// GetMetrics returns a statistics snapshot.
func (c *Cache[K, V]) GetMetrics() Metrics {
	c.mu.RLock()
	defer c.mu.RUnlock()

	m := Metrics{
		Hits:      c.hits,
		Misses:    c.misses,
		Size:      len(c.items),
		Capacity:  c.capacity,
		Evictions: c.evictions,
	}
	if total := c.hits + c.misses; total > 0 {
		m.HitRate = float64(c.hits) / float64(total)
	}
	return m
}

// Close stops the background cleanup sweep and waits for it to exit.
func (c *Cache[K, V]) Close() {
	c.mu.Lock()
	select {
	case <-c.stopCh:
		c.mu.Unlock()
		return
	default:
	}
	close(c.stopCh)
	c.mu.Unlock()

	c.wg.Wait()
}

// internal

func (c *Cache[K, V]) cloneValue(v V) V {
	if c.clone != nil {
		return c.clone(v)
	}
	return v
}

func (c *Cache[K, V]) expired(it *item[K, V], now time.Time) bool {
	if it.ttl == 0 {
		return false
	}
	return it.lastAccess.Add(it.ttl).Before(now)
}

// putLocked inserts or updates and returns evicted items for callback
// delivery after the lock is released.
func (c *Cache[K, V]) putLocked(key K, value V, ttl time.Duration) []*item[K, V] {
	value = c.cloneValue(value)
	now := time.Now()

	if it, ok := c.items[key]; ok {
		it.value = value
		it.lastAccess = now
		it.ttl = ttl
		c.evictList.MoveToFront(it.element)
		return nil
	}

	it := &item[K, V]{
		key:        key,
		value:      value,
		lastAccess: now,
		ttl:        ttl,
	}
	it.element = c.evictList.PushFront(it)
	c.items[key] = it

	return c.evictToFitLocked()
}

func (c *Cache[K, V]) evictToFitLocked() []*item[K, V] {
	var evicted []*item[K, V]
	for len(c.items) > c.capacity {
		back := c.evictList.Back()
		if back == nil {
			break
		}
		victim := back.Value.(*item[K, V])
		c.removeItem(victim)
		c.evictions++
		evicted = append(evicted, victim)
	}
	return evicted
}

func (c *Cache[K, V]) removeItem(it *item[K, V]) {
	c.evictList.Remove(it.element)
	delete(c.items, it.key)
}

func (c *Cache[K, V]) notifyEvictions(evicted []*item[K, V]) {
	if len(evicted) == 0 {
		return
	}
	c.mu.RLock()
	cb := c.evictionCb
	c.mu.RUnlock()
	if cb == nil {
		return
	}
	for _, it := range evicted {
		cb(it.key, it.value)
	}
}

func (c *Cache[K, V]) cleanupLoop() {
	defer c.wg.Done()

	for {
		c.mu.RLock()
		interval := c.cleanupInterval
		c.mu.RUnlock()

		timer := time.NewTimer(interval)
		select {
		case <-c.stopCh:
			timer.Stop()
			return
		case <-timer.C:
		}

		c.removeExpired()
		c.maybeAutoResize()
	}
}

func (c *Cache[K, V]) removeExpired() {
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	var expired []*item[K, V]
	for _, it := range c.items {
		if c.expired(it, now) {
			expired = append(expired, it)
		}
	}
	for _, it := range expired {
		c.removeItem(it)
	}
	if len(expired) > 0 {
		c.logger.Debug("expired entries removed", map[string]interface{}{"count": len(expired)})
	}
}

func (c *Cache[K, V]) maybeAutoResize() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.autoResize {
		return
	}
	total := c.hits + c.misses
	if total == 0 {
		return
	}
	hitRate := float64(c.hits) / float64(total)

	switch {
	case hitRate < 0.8 && c.capacity < c.maxCapacity:
		grown := c.capacity + c.capacity/5
		if grown == c.capacity {
			grown++
		}
		c.capacity = min(grown, c.maxCapacity)
		c.logger.Debug("cache grown", map[string]interface{}{"capacity": c.capacity, "hit_rate": hitRate})
	case hitRate > 0.95 && c.capacity > c.minCapacity:
		shrunk := c.capacity - c.capacity/5
		c.capacity = max(shrunk, c.minCapacity)
		c.logger.Debug("cache shrunk", map[string]interface{}{"capacity": c.capacity, "hit_rate": hitRate})
	}
}

// snapshot returns copies of all live entries and their TTLs.
func (c *Cache[K, V]) snapshot() (map[K]V, map[K]time.Duration) {
	now := time.Now()

	c.mu.RLock()
	defer c.mu.RUnlock()

	values := make(map[K]V, len(c.items))
	ttls := make(map[K]time.Duration, len(c.items))
	for key, it := range c.items {
		if c.expired(it, now) {
			continue
		}
		values[key] = c.cloneValue(it.value)
		ttls[key] = it.ttl
	}
	return values, ttls
}
