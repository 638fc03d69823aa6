// Package resultcache is a bounded, TTL-limited response cache shared by
// concurrent dispatches.
package resultcache

import (
	"container/list"
	"context"
	"fmt"
	"sync"
	"time"

	"stratumai/internal/core"
)

const (
	// DefaultTTL is used when Config.TTL is zero.
	DefaultTTL = time.Hour
	// DefaultMaxSize is used when Config.MaxSize is zero.
	DefaultMaxSize = 1000
)

// Config sizes a Cache.
type Config struct {
	TTL     time.Duration
	MaxSize int
}

// CostFunc prices a response; each hit adds the price of the cached
// response to the estimated savings.
type CostFunc func(resp *core.ChatResponse) float64

// Option configures a Cache.
type Option func(*Cache)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// WithCostFunc enables savings estimation.
func WithCostFunc(fn CostFunc) Option {
	return func(c *Cache) { c.cost = fn }
}

// Stats is a point-in-time view of the cache counters.
type Stats struct {
	Size             int           `json:"size"`
	Hits             uint64        `json:"hits"`
	Misses           uint64        `json:"misses"`
	Evictions        uint64        `json:"evictions"`
	HitRate          float64       `json:"hit_rate"`
	TTL              time.Duration `json:"ttl"`
	MaxSize          int           `json:"max_size"`
	EstimatedSavings float64       `json:"estimated_savings"`
}

type entry struct {
	key       string
	value     *core.ChatResponse
	createdAt time.Time
	hitCount  uint64
	elem      *list.Element
}

// Cache maps request keys to responses. Entries expire ttl after they were
// written. When full, the entry written longest ago is evicted; reads do not
// change eviction order.
//
// A single mutex guards every field.
type Cache struct {
	mu      sync.Mutex
	entries map[string]*entry
	// byAge holds keys ordered by createdAt, oldest at the front.
	byAge   *list.List
	ttl     time.Duration
	maxSize int
	now     func() time.Time
	cost    CostFunc

	hits      uint64
	misses    uint64
	evictions uint64
	savings   float64
}

// New creates a Cache. Zero TTL or MaxSize take the defaults; negative
// values are rejected.
func New(cfg Config, opts ...Option) (*Cache, error) {
	if cfg.TTL < 0 {
		return nil, fmt.Errorf("cache ttl must not be negative, got %s", cfg.TTL)
	}
	if cfg.MaxSize < 0 {
		return nil, fmt.Errorf("cache max size must not be negative, got %d", cfg.MaxSize)
	}
	if cfg.TTL == 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.MaxSize == 0 {
		cfg.MaxSize = DefaultMaxSize
	}

	c := &Cache{
		entries: make(map[string]*entry, cfg.MaxSize),
		byAge:   list.New(),
		ttl:     cfg.TTL,
		maxSize: cfg.MaxSize,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Get returns the cached response for key. Expired entries are removed and
// reported as misses.
func (c *Cache) Get(key string) (*core.ChatResponse, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		c.misses++
		return nil, false
	}
	if c.now().Sub(e.createdAt) > c.ttl {
		c.remove(e)
		c.misses++
		return nil, false
	}

	e.hitCount++
	c.hits++
	if c.cost != nil {
		c.savings += c.cost(e.value)
	}
	return cloneResponse(e.value), true
}

// Set stores value under key. Writing an existing key replaces its value and
// resets its age. Writing a new key into a full cache first evicts the
// oldest entry.
func (c *Cache) Set(key string, value *core.ChatResponse) {
	if value == nil {
		return
	}
	stored := cloneResponse(value)

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if e, ok := c.entries[key]; ok {
		e.value = stored
		e.createdAt = now
		e.hitCount = 0
		c.byAge.MoveToBack(e.elem)
		return
	}

	if len(c.entries) >= c.maxSize {
		if oldest := c.byAge.Front(); oldest != nil {
			c.remove(c.entries[oldest.Value.(string)])
			c.evictions++
		}
	}

	e := &entry{key: key, value: stored, createdAt: now}
	e.elem = c.byAge.PushBack(key)
	c.entries[key] = e
}

// Delete removes key if present.
func (c *Cache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[key]; ok {
		c.remove(e)
	}
}

// Clear removes every entry. Counters are kept.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*entry, c.maxSize)
	c.byAge.Init()
}

// Len returns the number of stored entries, including expired ones not yet
// observed by Get.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// HitCount returns how many times key has been served since it was written.
func (c *Cache) HitCount(key string) (uint64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return 0, false
	}
	return e.hitCount, true
}

// Stats returns a snapshot of the counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := Stats{
		Size:             len(c.entries),
		Hits:             c.hits,
		Misses:           c.misses,
		Evictions:        c.evictions,
		TTL:              c.ttl,
		MaxSize:          c.maxSize,
		EstimatedSavings: c.savings,
	}
	if total := c.hits + c.misses; total > 0 {
		s.HitRate = float64(c.hits) / float64(total)
	}
	return s
}

// Wrap returns an executor that serves repeated requests from the cache and
// stores successful responses. Streaming requests always go to exec.
func (c *Cache) Wrap(exec core.Executor) core.Executor {
	return core.ExecutorFunc(func(ctx context.Context, req *core.ChatRequest) (*core.ChatResponse, error) {
		if req.Stream {
			return exec.Execute(ctx, req)
		}
		key := Key(req)
		if resp, ok := c.Get(key); ok {
			return resp, nil
		}
		resp, err := exec.Execute(ctx, req)
		if err != nil {
			return nil, err
		}
		c.Set(key, resp)
		return resp, nil
	})
}

// remove must be called with mu held.
func (c *Cache) remove(e *entry) {
	c.byAge.Remove(e.elem)
	delete(c.entries, e.key)
}

func cloneResponse(r *core.ChatResponse) *core.ChatResponse {
	out := *r
	if r.Choices != nil {
		out.Choices = make([]core.Choice, len(r.Choices))
		copy(out.Choices, r.Choices)
	}
	return &out
}
