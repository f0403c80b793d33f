package cache

import (
	"testing"

	"github.com/hupe1980/vistream/internal/resource"
	"github.com/stretchr/testify/assert"
)

func byteCost(b []byte) int64 { return int64(len(b)) }

func TestLRU_Eviction(t *testing.T) {
	c := NewLRU[string, []byte](10, byteCost, nil)
	c.Set("a", make([]byte, 4))
	c.Set("b", make([]byte, 4))
	c.Get("a") // a is now most recent
	c.Set("c", make([]byte, 4))

	_, ok := c.Get("b")
	assert.False(t, ok, "least recently used entry should be evicted")
	_, ok = c.Get("a")
	assert.True(t, ok)
	assert.Equal(t, int64(8), c.Size())
}

func TestLRU_EdgeCases(t *testing.T) {
	c := NewLRU[string, []byte](50, byteCost, nil)

	c.Set("big", make([]byte, 60))
	_, ok := c.Get("big")
	assert.False(t, ok, "item > capacity should not be cached")

	c.Set("k", make([]byte, 10))
	c.Set("k", make([]byte, 20))
	assert.Equal(t, int64(20), c.Size())
	c.Set("k", make([]byte, 5))
	assert.Equal(t, int64(5), c.Size())
	assert.Equal(t, 1, c.Len())
}

func TestLRU_ResourceLimit(t *testing.T) {
	rc := resource.NewController(resource.Config{MemoryLimitBytes: 10})
	c := NewLRU[string, []byte](50, byteCost, rc)

	c.Set("k", make([]byte, 8))
	assert.Equal(t, int64(8), rc.MemoryUsage())

	// growing to 12 bytes would exceed the controller limit
	c.Set("k", make([]byte, 12))
	v, ok := c.Get("k")
	assert.True(t, ok)
	assert.Len(t, v, 8, "update should have been rejected by the controller")

	c.Invalidate(func(string) bool { return true })
	assert.Equal(t, int64(0), rc.MemoryUsage())
}

func TestLRU_StatsAndInvalidate(t *testing.T) {
	c := NewLRU[int, string](100, nil, nil)
	c.Set(1, "a")
	c.Set(2, "b")
	c.Get(1)
	c.Get(3)

	hits, misses := c.Stats()
	assert.Equal(t, int64(1), hits)
	assert.Equal(t, int64(1), misses)

	c.Invalidate(func(k int) bool { return k == 1 })
	_, ok := c.Get(1)
	assert.False(t, ok)
	_, ok = c.Get(2)
	assert.True(t, ok)
}
