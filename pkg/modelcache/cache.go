// Package modelcache holds loaded model resources under a size budget,
// evicting the least recently used entries first.
package modelcache

import (
	"container/list"
	"fmt"
	"reflect"
	"sync"
	"time"

	"github.com/jfrog/jfrog-client-go/utils/log"

	"github.com/UIDickinson/llm-identity/pkg/models"
)

// Releaser frees the resources behind an evicted or removed payload. It runs
// outside the cache lock and is called at most once per resident entry.
type Releaser func(key models.ModelKey, payload any)

// Options configures a Cache.
type Options struct {
	CapacityMB float64
	OnRelease  Releaser
	// MetadataPath, when set, receives a JSON snapshot of Stats after every change.
	MetadataPath string
}

type entry struct {
	key          models.ModelKey
	payload      any
	sizeMB       float64
	addedAt      time.Time
	lastAccessed time.Time
	accessCount  int64
}

// Cache is a size-bounded LRU of model payloads. The payload is owned by the
// cache; callers must not keep it beyond the audit that fetched it.
type Cache struct {
	mu         sync.Mutex
	capacityMB float64
	order      *list.List // front is least recently used
	items      map[models.ModelKey]*list.Element
	totalMB    float64
	release    Releaser
	meta       *metadataWriter
	now        func() time.Time
}

// New creates an empty Cache.
func New(opts Options) *Cache {
	c := &Cache{
		capacityMB: opts.CapacityMB,
		order:      list.New(),
		items:      make(map[models.ModelKey]*list.Element),
		release:    opts.OnRelease,
		now:        time.Now,
	}
	if opts.MetadataPath != "" {
		c.meta = &metadataWriter{path: opts.MetadataPath}
	}
	return c
}

// Get returns the payload for key and marks it most recently used.
func (c *Cache) Get(key models.ModelKey) (any, bool) {
	c.mu.Lock()
	el, ok := c.items[key]
	if !ok {
		c.mu.Unlock()
		return nil, false
	}
	e := el.Value.(*entry)
	e.lastAccessed = c.now()
	e.accessCount++
	c.order.MoveToBack(el)
	payload := e.payload
	c.mu.Unlock()
	return payload, true
}

// Contains reports whether key is resident without touching its recency.
func (c *Cache) Contains(key models.ModelKey) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.items[key]
	return ok
}

// Put inserts payload under key, evicting least recently used entries until
// it fits. An entry larger than the whole capacity is still admitted once
// everything else is gone. Replacing an existing key releases the old
// payload unless it is the same payload.
func (c *Cache) Put(key models.ModelKey, payload any, sizeMB float64) {
	c.mu.Lock()
	var replaced *entry
	if el, ok := c.items[key]; ok {
		if old := c.unlink(el); !samePayload(old.payload, payload) {
			replaced = old
		}
	}

	var evicted []*entry
	for c.totalMB+sizeMB > c.capacityMB && c.order.Len() > 0 {
		e := c.unlink(c.order.Front())
		evicted = append(evicted, e)
	}
	if sizeMB > c.capacityMB {
		log.Warn(fmt.Sprintf("Model %s (%.0fMB) exceeds cache capacity %.0fMB; admitting anyway", key, sizeMB, c.capacityMB))
	}

	now := c.now()
	c.items[key] = c.order.PushBack(&entry{
		key:          key,
		payload:      payload,
		sizeMB:       sizeMB,
		addedAt:      now,
		lastAccessed: now,
	})
	c.totalMB += sizeMB
	snap := c.statsLocked()
	c.mu.Unlock()

	if replaced != nil {
		log.Debug(fmt.Sprintf("Replaced %s in model cache", key))
		c.releaseEntry(replaced)
	}
	for _, e := range evicted {
		log.Info(fmt.Sprintf("Evicted %s from model cache (%.0fMB)", e.key, e.sizeMB))
		c.releaseEntry(e)
	}
	c.meta.write(snap)
}

// Remove drops key and releases its payload. It reports whether key was resident.
func (c *Cache) Remove(key models.ModelKey) bool {
	c.mu.Lock()
	el, ok := c.items[key]
	if !ok {
		c.mu.Unlock()
		return false
	}
	e := c.unlink(el)
	snap := c.statsLocked()
	c.mu.Unlock()

	c.releaseEntry(e)
	c.meta.write(snap)
	return true
}

// Detach drops key without releasing it and returns a func that runs the
// release hook, so callers can unload after dropping their own locks.
func (c *Cache) Detach(key models.ModelKey) (release func(), ok bool) {
	c.mu.Lock()
	el, ok := c.items[key]
	if !ok {
		c.mu.Unlock()
		return func() {}, false
	}
	e := c.unlink(el)
	snap := c.statsLocked()
	c.mu.Unlock()

	c.meta.write(snap)
	return func() { c.releaseEntry(e) }, true
}

// Clear releases every entry.
func (c *Cache) Clear() {
	c.mu.Lock()
	var all []*entry
	for c.order.Len() > 0 {
		all = append(all, c.unlink(c.order.Front()))
	}
	snap := c.statsLocked()
	c.mu.Unlock()

	for _, e := range all {
		c.releaseEntry(e)
	}
	c.meta.write(snap)
}

// Len returns the number of resident entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// Stats returns occupancy and per-entry telemetry, least recently used first.
func (c *Cache) Stats() models.CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.statsLocked()
}

func (c *Cache) statsLocked() models.CacheStats {
	now := c.now()
	stats := models.CacheStats{
		TotalItems:  c.order.Len(),
		TotalSizeMB: c.totalMB,
		CapacityMB:  c.capacityMB,
		Items:       make([]models.CacheItem, 0, c.order.Len()),
	}
	for el := c.order.Front(); el != nil; el = el.Next() {
		e := el.Value.(*entry)
		stats.Items = append(stats.Items, models.CacheItem{
			Key:         e.key.String(),
			SizeMB:      e.sizeMB,
			AccessCount: e.accessCount,
			AddedAt:     e.addedAt,
			AgeSeconds:  now.Sub(e.addedAt).Seconds(),
			IdleSeconds: now.Sub(e.lastAccessed).Seconds(),
		})
	}
	return stats
}

// unlink removes el from the index and accounting. Caller holds c.mu.
func (c *Cache) unlink(el *list.Element) *entry {
	e := c.order.Remove(el).(*entry)
	delete(c.items, e.key)
	c.totalMB -= e.sizeMB
	if c.order.Len() == 0 {
		c.totalMB = 0
	}
	return e
}

// samePayload compares payloads without panicking on uncomparable types.
func samePayload(a, b any) bool {
	if a == nil || b == nil {
		return a == b
	}
	t := reflect.TypeOf(a)
	if t != reflect.TypeOf(b) || !t.Comparable() {
		return false
	}
	return a == b
}

func (c *Cache) releaseEntry(e *entry) {
	if c.release == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			log.Error(fmt.Sprintf("Releasing %s panicked: %v", e.key, r))
		}
	}()
	c.release(e.key, e.payload)
}
