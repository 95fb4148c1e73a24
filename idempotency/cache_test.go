package idempotency

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func newFakeCache(ttl time.Duration) (*Cache, *time.Time) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	c := NewCache(ttl)
	c.now = func() time.Time { return now }
	return c, &now
}

func TestGetSetRoundtrip(t *testing.T) {
	c, _ := newFakeCache(time.Hour)

	assert.Empty(t, c.GetTaskID("req-1"))

	c.SetTaskID("req-1", "task-a")
	assert.Equal(t, "task-a", c.GetTaskID("req-1"))
	assert.Empty(t, c.GetTaskID("req-2"))
}

func TestEntryExpires(t *testing.T) {
	c, now := newFakeCache(time.Hour)

	c.SetTaskID("req-1", "task-a")
	*now = now.Add(59 * time.Minute)
	assert.Equal(t, "task-a", c.GetTaskID("req-1"))

	*now = now.Add(2 * time.Minute)
	assert.Empty(t, c.GetTaskID("req-1"))
	assert.Equal(t, 0, c.Len())
}

func TestSetOverwrites(t *testing.T) {
	c, _ := newFakeCache(time.Hour)

	c.SetTaskID("req-1", "task-a")
	c.SetTaskID("req-1", "task-b")
	assert.Equal(t, "task-b", c.GetTaskID("req-1"))
	assert.Equal(t, 1, c.Len())
}

func TestZeroTTLUsesDefault(t *testing.T) {
	c, now := newFakeCache(0)

	c.SetTaskID("req-1", "task-a")
	*now = now.Add(DefaultTTL - time.Second)
	assert.Equal(t, "task-a", c.GetTaskID("req-1"))

	*now = now.Add(2 * time.Second)
	assert.Empty(t, c.GetTaskID("req-1"))
}

func TestLazyEviction(t *testing.T) {
	c, now := newFakeCache(time.Minute)

	c.SetTaskID("req-1", "task-a")
	c.SetTaskID("req-2", "task-b")
	*now = now.Add(2 * time.Minute)
	c.SetTaskID("req-3", "task-c")

	assert.Equal(t, 1, c.Len())
	assert.Equal(t, "task-c", c.GetTaskID("req-3"))
}

func TestContentLookup(t *testing.T) {
	c, _ := newFakeCache(time.Hour)

	req := map[string]any{
		"model": "superres-x4",
		"input": map[string]any{"image_url": "https://example.com/a.png"},
	}
	assert.Empty(t, c.GetByContent(req))

	c.SetByContent(req, "task-a")
	assert.Equal(t, "task-a", c.GetByContent(req))

	// Equal content built independently hashes to the same key.
	same := map[string]any{
		"input": map[string]any{"image_url": "https://example.com/a.png"},
		"model": "superres-x4",
	}
	assert.Equal(t, "task-a", c.GetByContent(same))

	other := map[string]any{
		"model": "superres-x4",
		"input": map[string]any{"image_url": "https://example.com/b.png"},
	}
	assert.Empty(t, c.GetByContent(other))
}

func TestClear(t *testing.T) {
	c, _ := newFakeCache(time.Hour)

	c.SetTaskID("req-1", "task-a")
	c.Clear()
	assert.Equal(t, 0, c.Len())
	assert.Empty(t, c.GetTaskID("req-1"))
}
