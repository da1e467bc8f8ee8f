// Package researchcache provides the in-process TTL cache for research
// outcomes. Keys are stable hashes of the research input (see Key); values
// are deep-copied on read and write so callers can mutate what they get back.
package researchcache

import (
	"sync"
	"time"

	"github.com/fairyhunter13/lead-scout/internal/domain"
)

type entry struct {
	outcome   domain.ResearchOutcome
	expiresAt time.Time
}

// Cache is a bounded TTL cache with opportunistic eviction: expired entries
// are dropped first, then the oldest-inserted. It is safe for concurrent use.
type Cache struct {
	mu       sync.Mutex
	m        map[string]entry
	ord      []string
	capacity int
	ttl      time.Duration

	now func() time.Time
}

// New builds a cache holding up to capacity entries for ttl each.
// Non-positive arguments fall back to 5000 entries and 24 hours.
func New(capacity int, ttl time.Duration) *Cache {
	if capacity <= 0 {
		capacity = 5000
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Cache{
		m:        make(map[string]entry, capacity),
		ord:      make([]string, 0, capacity),
		capacity: capacity,
		ttl:      ttl,
		now:      time.Now,
	}
}

// Get returns a deep copy of the cached outcome for key, if present and fresh.
func (c *Cache) Get(key string) (domain.ResearchOutcome, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.m[key]
	if !ok {
		return domain.ResearchOutcome{}, false
	}
	if !e.expiresAt.After(c.now()) {
		delete(c.m, key)
		c.dropFromOrder(key)
		return domain.ResearchOutcome{}, false
	}
	return cloneOutcome(e.outcome), true
}

// Put stores a deep copy of outcome under key, evicting as needed.
func (c *Cache) Put(key string, outcome domain.ResearchOutcome) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.m[key]; exists {
		c.m[key] = entry{outcome: cloneOutcome(outcome), expiresAt: c.now().Add(c.ttl)}
		return
	}
	if len(c.m) >= c.capacity {
		c.evictLocked()
	}
	c.m[key] = entry{outcome: cloneOutcome(outcome), expiresAt: c.now().Add(c.ttl)}
	c.ord = append(c.ord, key)
}

// Len reports the number of live entries (expired ones may still count until
// the next touch).
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.m)
}

// evictLocked frees at least one slot. Expired entries go first; when none
// are expired the oldest-inserted entry is dropped.
func (c *Cache) evictLocked() {
	now := c.now()
	kept := c.ord[:0]
	for _, k := range c.ord {
		if e, ok := c.m[k]; ok && !e.expiresAt.After(now) {
			delete(c.m, k)
			continue
		}
		kept = append(kept, k)
	}
	c.ord = kept
	if len(c.m) < c.capacity {
		return
	}
	if len(c.ord) > 0 {
		oldest := c.ord[0]
		c.ord = c.ord[1:]
		delete(c.m, oldest)
	}
}

func (c *Cache) dropFromOrder(key string) {
	for i, k := range c.ord {
		if k == key {
			c.ord = append(c.ord[:i], c.ord[i+1:]...)
			return
		}
	}
}

func cloneOutcome(o domain.ResearchOutcome) domain.ResearchOutcome {
	out := domain.ResearchOutcome{
		People: make([]domain.Person, len(o.People)),
		Trace:  o.Trace,
	}
	for i, p := range o.People {
		cp := p
		cp.EmailsFound = append([]string(nil), p.EmailsFound...)
		if p.GmapsRating != nil {
			v := *p.GmapsRating
			cp.GmapsRating = &v
		}
		if p.GmapsReviews != nil {
			v := *p.GmapsReviews
			cp.GmapsReviews = &v
		}
		out.People[i] = cp
	}
	t := &out.Trace
	t.PlanMessages = append([]domain.ChatMessage(nil), o.Trace.PlanMessages...)
	t.FinalMessages = append([]domain.ChatMessage(nil), o.Trace.FinalMessages...)
	t.SerperQueries = append([]string(nil), o.Trace.SerperQueries...)
	if o.Trace.LLMCallAt != nil {
		v := *o.Trace.LLMCallAt
		t.LLMCallAt = &v
	}
	if o.Trace.SerperCallAt != nil {
		v := *o.Trace.SerperCallAt
		t.SerperCallAt = &v
	}
	if o.Trace.PlanUsage != nil {
		v := *o.Trace.PlanUsage
		t.PlanUsage = &v
	}
	return out
}
