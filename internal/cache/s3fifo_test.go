package cache

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetSet(t *testing.T) {
	t.Parallel()
	c := New[[]int](10)

	_, ok := c.Get("x")
	assert.False(t, ok, "miss on empty cache")

	c.Set("chunk-a", []int{1, 2})
	v, ok := c.Get("chunk-a")
	require.True(t, ok)
	assert.Equal(t, []int{1, 2}, v)

	c.Set("chunk-a", []int{3})
	v, _ = c.Get("chunk-a")
	assert.Equal(t, []int{3}, v)

	assert.Equal(t, 1, c.Len())
}

func TestCapacityEnforced(t *testing.T) {
	t.Parallel()
	c := New[string](10)
	for i := 0; i < 15; i++ {
		c.Set(fmt.Sprintf("key-%d", i), "v")
	}
	assert.LessOrEqual(t, c.Len(), 10)
}

// S3-FIFO evicts only when total > capacity, so capacity+1 insertions
// trigger eviction of the oldest S entry.
func TestPromotionToM(t *testing.T) {
	t.Parallel()
	c := New[string](2)

	c.Set("hot", "v")
	c.Get("hot") // freq → 1
	c.Set("cold", "v")
	c.Set("extra", "v")

	c.mu.Lock()
	e, ok := c.entries["hot"]
	c.mu.Unlock()
	require.True(t, ok, "hot should survive S eviction")
	assert.True(t, e.inM, "hot should be promoted to M")
}

func TestGhostBypassesS(t *testing.T) {
	t.Parallel()
	c := New[string](2)

	c.Set("victim", "v")
	c.Set("displacer", "v")
	c.Set("trigger", "v") // victim (freq 0) goes to ghost

	c.mu.Lock()
	_, resident := c.entries["victim"]
	inGhost := c.ghostContains("victim")
	c.mu.Unlock()
	assert.False(t, resident)
	assert.True(t, inGhost)

	c.Set("victim", "v2")
	c.mu.Lock()
	e, ok := c.entries["victim"]
	c.mu.Unlock()
	require.True(t, ok)
	assert.True(t, e.inM, "ghost hit should insert straight into M")
}

func TestGhostBounded(t *testing.T) {
	t.Parallel()
	c := New[string](20)
	for i := 0; i < c.ghostCap+30; i++ {
		c.Set(fmt.Sprintf("evict-%d", i), "v")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	assert.LessOrEqual(t, c.ghostCount, c.ghostCap)
	assert.Len(t, c.ghostSet, c.ghostCount)
}

func TestFrequencySaturation(t *testing.T) {
	t.Parallel()
	c := New[string](10)
	c.Set("k", "v")
	for i := 0; i < 100; i++ {
		c.Get("k")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	assert.Equal(t, uint8(3), c.entries["k"].freq)
}

func TestConcurrentAccess(t *testing.T) {
	t.Parallel()
	c := New[string](100)

	const goroutines, ops = 20, 200
	var wg sync.WaitGroup
	wg.Add(goroutines)
	for g := 0; g < goroutines; g++ {
		go func(g int) {
			defer wg.Done()
			for i := 0; i < ops; i++ {
				key := fmt.Sprintf("key-%d-%d", g, i%50)
				c.Set(key, "v")
				c.Get(key)
			}
		}(g)
	}
	wg.Wait()

	c.mu.Lock()
	defer c.mu.Unlock()
	total := c.sQueue.Len() + c.mQueue.Len()
	assert.LessOrEqual(t, total, c.capacity)
	assert.Len(t, c.entries, total, "entries map out of sync with queues")
	assert.LessOrEqual(t, c.ghostCount, c.ghostCap)
}
