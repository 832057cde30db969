package policy

import (
	"slices"
	"sync"
	"time"

	"github.com/nathant30/ARCHIVED-xpress-ops-tower-sub003/internal/model"
)

const (
	DefaultCacheTTL  = 30 * time.Second
	DefaultCacheSize = 10000
)

// cacheKey fingerprints every input that can change a decision.
type cacheKey struct {
	userID    string
	resource  model.ResourceContext
	action    model.Permission
	mfa       bool
	operation model.OperationType
}

func keyFor(req model.PolicyEvaluationRequest) cacheKey {
	return cacheKey{
		userID:    req.User.ID,
		resource:  req.Resource,
		action:    req.Action,
		mfa:       req.Context.MFAPresent,
		operation: req.Context.Operation,
	}
}

type cacheEntry struct {
	out     outcome
	gen     uint64
	expires time.Time
}

// Cache is a short-lived decision cache. Every entry remembers the
// generation it was computed under; Invalidate starts a new generation so
// nothing computed before a role, grant or workflow change is served
// after it.
type Cache struct {
	mu      sync.Mutex
	ttl     time.Duration
	size    int
	gen     uint64
	entries map[cacheKey]cacheEntry
}

// NewCache returns a cache holding up to size decisions for at most ttl.
func NewCache(ttl time.Duration, size int) *Cache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	if size <= 0 {
		size = DefaultCacheSize
	}
	return &Cache{ttl: ttl, size: size, entries: make(map[cacheKey]cacheEntry)}
}

// Generation returns the current generation. Callers capture it before
// evaluating and hand it back to put.
func (c *Cache) Generation() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gen
}

func (c *Cache) get(k cacheKey, now time.Time) (outcome, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[k]
	if !ok {
		return outcome{}, false
	}
	if e.gen != c.gen || !now.Before(e.expires) {
		delete(c.entries, k)
		return outcome{}, false
	}
	return e.out.clone(), true
}

// put stores out unless it errored or the generation moved on while it was
// being computed. The entry never outlives changeAt, the next instant one
// of the user's assignments or grants starts or stops.
func (c *Cache) put(k cacheKey, out outcome, gen uint64, now, changeAt time.Time) {
	if out.decision.Metadata.Errored {
		return
	}
	expires := now.Add(c.ttl)
	if !changeAt.IsZero() && changeAt.Before(expires) {
		expires = changeAt
	}
	if !now.Before(expires) {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen {
		return
	}
	if len(c.entries) >= c.size {
		c.evict(now)
	}
	c.entries[k] = cacheEntry{out: out.clone(), gen: gen, expires: expires}
}

// clone copies the slices a caller could mutate so a served decision never
// aliases the stored one.
func (o outcome) clone() outcome {
	o.decision.Reasons = slices.Clone(o.decision.Reasons)
	o.decision.Obligations.MaskFields = slices.Clone(o.decision.Obligations.MaskFields)
	return o
}

// evict drops dead entries, and everything if that frees nothing.
func (c *Cache) evict(now time.Time) {
	for k, e := range c.entries {
		if e.gen != c.gen || !now.Before(e.expires) {
			delete(c.entries, k)
		}
	}
	if len(c.entries) >= c.size {
		c.entries = make(map[cacheKey]cacheEntry)
	}
}

// Invalidate discards every cached decision.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gen++
	c.entries = make(map[cacheKey]cacheEntry)
}

// Len returns the number of stored entries, live or not.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
