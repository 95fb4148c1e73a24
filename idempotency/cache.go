// Package idempotency maps client request IDs to assigned task IDs.
package idempotency

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sync"
	"time"

	"github.com/inferno-ml/inferno/log"
)

// DefaultTTL is the age after which an entry is no longer honored.
const DefaultTTL = time.Hour

type entry struct {
	taskID    string
	createdAt time.Time
}

// Cache is a per-process idempotency cache. Two submissions sharing a
// client_request_id within the TTL map to the same task, regardless of
// how the first one ended: idempotency is about submission, not
// outcome.
type Cache struct {
	mu      sync.Mutex
	entries map[string]entry
	ttl     time.Duration
	now     func() time.Time
}

// NewCache returns a Cache with the given TTL; ttl <= 0 uses
// DefaultTTL.
func NewCache(ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{
		entries: make(map[string]entry),
		ttl:     ttl,
		now:     time.Now,
	}
}

// GetTaskID returns the task previously stored for clientRequestID,
// or "" if absent or expired.
func (c *Cache) GetTaskID(clientRequestID string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.evictExpired()

	e, ok := c.entries[clientRequestID]
	if !ok {
		return ""
	}
	if c.now().Sub(e.createdAt) >= c.ttl {
		delete(c.entries, clientRequestID)
		return ""
	}
	return e.taskID
}

// SetTaskID stores the mapping, overwriting unconditionally.
func (c *Cache) SetTaskID(clientRequestID, taskID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.evictExpired()
	c.entries[clientRequestID] = entry{taskID: taskID, createdAt: c.now()}
}

// GetByContent looks up by a canonical hash of the request body.
// Not wired into the submission path; see DESIGN.md.
func (c *Cache) GetByContent(request map[string]any) string {
	return c.GetTaskID(contentHash(request))
}

// SetByContent stores under a canonical hash of the request body.
func (c *Cache) SetByContent(request map[string]any, taskID string) {
	c.SetTaskID(contentHash(request), taskID)
}

// Clear drops every entry.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]entry)
}

// Len reports the live entry count, after eviction.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.evictExpired()
	return len(c.entries)
}

// evictExpired lazily drops stale entries. Callers hold c.mu.
func (c *Cache) evictExpired() {
	now := c.now()
	removed := 0
	for key, e := range c.entries {
		if now.Sub(e.createdAt) >= c.ttl {
			delete(c.entries, key)
			removed++
		}
	}
	if removed > 0 {
		log.Logger.Debug().Int("removed", removed).Msg("evicted expired idempotency entries")
	}
}

// contentHash derives a stable key from a request body: canonical
// (sorted-key) JSON hashed with SHA-256. encoding/json sorts map keys,
// which gives the canonical form for free.
func contentHash(request map[string]any) string {
	data, err := json.Marshal(request)
	if err != nil {
		// Maps of JSON-decoded values always marshal; a failure here
		// means a non-JSON value sneaked in. Hash the error text so the
		// key is still deterministic for that input.
		data = []byte(err.Error())
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
