package symbol

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreScheduleFlushLoad(t *testing.T) {
	store, err := NewStore(t.TempDir(), 10*time.Millisecond, nil)
	require.NoError(t, err)
	defer store.Close()

	key := keyN(1)
	store.Schedule(key, treeN(1))

	require.True(t, store.FlushAll(2*time.Second))

	loaded, ok := store.Load(key)
	require.True(t, ok)
	assert.Equal(t, "file1.go", loaded.RelPath)
}

func TestStoreDebounceCoalescesWrites(t *testing.T) {
	store, err := NewStore(t.TempDir(), 10*time.Second, nil)
	require.NoError(t, err)
	defer store.Close()

	// Rapid schedules stay within one debounce window.
	for i := 0; i < 5; i++ {
		store.Schedule(keyN(1), treeN(1))
	}

	// Nothing on disk until the window elapses.
	_, ok := store.Load(keyN(1))
	assert.False(t, ok, "write should still be pending")

	require.True(t, store.FlushAll(2*time.Second))
	_, ok = store.Load(keyN(1))
	assert.True(t, ok)
}

func TestStoreCorruptBlobReadsAsAbsent(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir, 10*time.Millisecond, nil)
	require.NoError(t, err)
	defer store.Close()

	key := keyN(2)
	store.Schedule(key, treeN(2))
	require.True(t, store.FlushAll(2*time.Second))

	// Corrupt every blob in place.
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, entry := range entries {
		if filepath.Ext(entry.Name()) == ".json" {
			require.NoError(t, os.WriteFile(filepath.Join(dir, entry.Name()), []byte("{not json"), 0o644))
		}
	}

	_, ok := store.Load(key)
	assert.False(t, ok, "corrupt blob must read as absent")
}

func TestStoreKeyMismatchReadsAsAbsent(t *testing.T) {
	store, err := NewStore(t.TempDir(), 10*time.Millisecond, nil)
	require.NoError(t, err)
	defer store.Close()

	store.Schedule(keyN(3), treeN(3))
	require.True(t, store.FlushAll(2*time.Second))

	// Same file, different mtime: stale generation must miss.
	stale := keyN(3)
	stale.MtimeNS = 999
	_, ok := store.Load(stale)
	assert.False(t, ok)
}

func TestStoreInvalidateRemovesBlobs(t *testing.T) {
	store, err := NewStore(t.TempDir(), 10*time.Millisecond, nil)
	require.NoError(t, err)
	defer store.Close()

	store.Schedule(keyN(1), treeN(1))
	store.Schedule(keyN(2), treeN(2))
	require.True(t, store.FlushAll(2*time.Second))

	store.Invalidate("file1.go")

	_, ok := store.Load(keyN(1))
	assert.False(t, ok)
	_, ok = store.Load(keyN(2))
	assert.True(t, ok)
}

func TestStoreWarmUpPopulatesCache(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir, 10*time.Millisecond, nil)
	require.NoError(t, err)

	store.Schedule(keyN(1), treeN(1))
	require.True(t, store.FlushAll(2*time.Second))
	store.Close()

	fresh, err := NewStore(dir, 10*time.Millisecond, nil)
	require.NoError(t, err)
	defer fresh.Close()

	cache := NewCache(10, 0)
	fresh.WarmUp(cache, 2*time.Second)

	// WarmUp is async; poll briefly.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, ok := cache.Get(keyN(1)); ok {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("warm-up never populated the cache")
}

func TestStoreCloseRejectsLateSchedules(t *testing.T) {
	store, err := NewStore(t.TempDir(), 10*time.Millisecond, nil)
	require.NoError(t, err)

	store.Close()
	store.Schedule(keyN(9), treeN(9)) // must be a no-op, not a panic

	_, ok := store.Load(keyN(9))
	assert.False(t, ok)
}
