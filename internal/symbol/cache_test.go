package symbol

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func keyN(n int) CacheKey {
	return CacheKey{RelPath: fmt.Sprintf("file%d.go", n), MtimeNS: 1, Size: 10, OptionsDigest: "d"}
}

func treeN(n int) *Tree {
	return &Tree{RelPath: fmt.Sprintf("file%d.go", n), MtimeNS: 1, Size: 10}
}

func TestCacheLRUEviction(t *testing.T) {
	cache := NewCache(5, 0)

	for i := 1; i <= 5; i++ {
		cache.Put(keyN(i), treeN(i))
	}

	// Touch k1 so it is no longer the coldest.
	_, ok := cache.Get(keyN(1))
	require.True(t, ok)

	// k6 pushes out the LRU entry, which is now k2.
	cache.Put(keyN(6), treeN(6))

	_, hit := cache.Get(keyN(1))
	assert.True(t, hit, "recently read k1 must survive")
	_, hit = cache.Get(keyN(2))
	assert.False(t, hit, "k2 was least recently used and must be evicted")

	stats := cache.Stats()
	assert.Equal(t, 5, stats.Entries)
	assert.Equal(t, int64(1), stats.Evictions)
}

func TestCacheEntryBoundHolds(t *testing.T) {
	cache := NewCache(3, 0)
	for i := 0; i < 50; i++ {
		cache.Put(keyN(i), treeN(i))
		stats := cache.Stats()
		assert.LessOrEqual(t, stats.Entries, 3)
	}
}

func TestCacheByteBoundHolds(t *testing.T) {
	// Each empty tree estimates ~60 bytes; cap to roughly three.
	budget := 3 * treeN(0).EstimateBytes()
	cache := NewCache(1000, budget)

	for i := 0; i < 20; i++ {
		cache.Put(keyN(i), treeN(i))
		stats := cache.Stats()
		assert.LessOrEqual(t, stats.Bytes, budget)
	}
	assert.Greater(t, cache.Stats().Evictions, int64(0))
}

func TestCachePutReplacesExisting(t *testing.T) {
	cache := NewCache(5, 0)
	cache.Put(keyN(1), treeN(1))
	cache.Put(keyN(1), treeN(1))
	assert.Equal(t, 1, cache.Stats().Entries)
}

func TestCacheInvalidatePath(t *testing.T) {
	cache := NewCache(10, 0)
	// Two generations of the same file (different mtime) plus another
	// file.
	oldKey := CacheKey{RelPath: "a.go", MtimeNS: 1, Size: 5, OptionsDigest: "d"}
	newKey := CacheKey{RelPath: "a.go", MtimeNS: 2, Size: 6, OptionsDigest: "d"}
	other := CacheKey{RelPath: "b.go", MtimeNS: 1, Size: 5, OptionsDigest: "d"}

	cache.Put(oldKey, &Tree{RelPath: "a.go"})
	cache.Put(newKey, &Tree{RelPath: "a.go"})
	cache.Put(other, &Tree{RelPath: "b.go"})

	dropped := cache.InvalidatePath("a.go")
	assert.Equal(t, 2, dropped)

	_, hit := cache.Get(oldKey)
	assert.False(t, hit)
	_, hit = cache.Get(newKey)
	assert.False(t, hit)
	_, hit = cache.Get(other)
	assert.True(t, hit, "other files are untouched")
}

func TestCacheStatsCounters(t *testing.T) {
	cache := NewCache(5, 0)
	cache.Put(keyN(1), treeN(1))

	_, _ = cache.Get(keyN(1))
	_, _ = cache.Get(keyN(2))

	stats := cache.Stats()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
}

func TestCacheClear(t *testing.T) {
	cache := NewCache(5, 0)
	cache.Put(keyN(1), treeN(1))
	cache.Clear()
	stats := cache.Stats()
	assert.Equal(t, 0, stats.Entries)
	assert.Equal(t, int64(0), stats.Bytes)
}
