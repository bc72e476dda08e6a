package adapters

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func set(c *LRU[string, int], key string, v int, now time.Time) {
	c.Update(key, now, func(int, bool) int { return v })
}

func TestLRU_Update(t *testing.T) {
	now := time.Now()
	c := NewLRU[string, int](2, time.Minute)

	got := c.Update("a", now, func(v int, ok bool) int {
		assert.False(t, ok)
		return v + 1
	})
	assert.Equal(t, 1, got)

	got = c.Update("a", now.Add(30*time.Second), func(v int, ok bool) int {
		assert.True(t, ok)
		return v + 1
	})
	assert.Equal(t, 2, got)

	// Each write refreshes expiry.
	got = c.Update("a", now.Add(80*time.Second), func(v int, ok bool) int {
		assert.True(t, ok)
		return v + 1
	})
	assert.Equal(t, 3, got)

	// Expired entries are handed to fn as absent.
	got = c.Update("a", now.Add(3*time.Minute), func(v int, ok bool) int {
		assert.False(t, ok)
		assert.Zero(t, v)
		return 10
	})
	assert.Equal(t, 10, got)
}

func TestLRU_OverCapacityEvictsOnlyExpired(t *testing.T) {
	now := time.Now()
	c := NewLRU[string, int](2, time.Minute)

	set(c, "a", 1, now)
	set(c, "b", 2, now.Add(10*time.Second))
	set(c, "c", 3, now.Add(20*time.Second))
	assert.Equal(t, 3, c.Len(), "live entries are kept past capacity")

	// a expires at +1m; the next insert after that reclaims it.
	set(c, "d", 4, now.Add(65*time.Second))
	assert.Equal(t, 3, c.Len())
	c.Update("a", now.Add(65*time.Second), func(v int, ok bool) int {
		assert.False(t, ok)
		return v
	})

	c.Update("b", now.Add(65*time.Second), func(v int, ok bool) int {
		assert.True(t, ok)
		assert.Equal(t, 2, v)
		return v
	})
}

func TestLRU_Prune(t *testing.T) {
	now := time.Now()
	c := NewLRU[string, int](10, time.Minute)
	for i, key := range []string{"a", "b", "c", "d"} {
		set(c, key, i, now.Add(time.Duration(i)*time.Minute))
	}

	// a and b expire at +1m and +2m.
	assert.Equal(t, 2, c.Prune(now.Add(2*time.Minute)))
	assert.Equal(t, 2, c.Len())
	assert.Equal(t, 0, c.Prune(now.Add(2*time.Minute)))
	assert.Equal(t, 2, c.Prune(now.Add(time.Hour)))
	assert.Equal(t, 0, c.Len())
}

func TestLRU_MinimumCapacity(t *testing.T) {
	now := time.Now()
	c := NewLRU[string, int](0, 0)
	set(c, "a", 1, now)
	set(c, "b", 2, now)
	assert.Equal(t, 2, c.Len(), "entries without expiry are never evicted")
}
