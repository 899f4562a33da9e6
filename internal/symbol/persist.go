package symbol

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
)

// persistedTree is the on-disk envelope for one cached tree.
type persistedTree struct {
	Key  CacheKey `json:"key"`
	Tree *Tree    `json:"tree"`
}

// Store is the persistent cache tier: one JSON blob per key under the
// project's cache directory. Writes are debounced — a Schedule call
// arms a flush after the debounce interval, and further calls within
// the window extend the deadline. The store is an accelerator, not a
// source of truth: corrupt or missing blobs read as absent, and writes
// still pending at shutdown are abandoned after a short flush attempt.
type Store struct {
	dir      string
	debounce time.Duration
	log      *zap.Logger

	mu     sync.Mutex
	dirty  map[CacheKey]*Tree
	timer  *time.Timer
	closed bool

	flushDone sync.WaitGroup
}

// DefaultDebounce is the flush delay applied when the caller does not
// choose one.
const DefaultDebounce = 200 * time.Millisecond

// NewStore creates a persistent store rooted at dir.
func NewStore(dir string, debounce time.Duration, log *zap.Logger) (*Store, error) {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	if log == nil {
		log = zap.NewNop()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &Store{
		dir:      dir,
		debounce: debounce,
		log:      log,
		dirty:    make(map[CacheKey]*Tree),
	}, nil
}

// blobPath maps a key to its file.
func (s *Store) blobPath(key CacheKey) string {
	sum := sha256.Sum256([]byte(key.String()))
	return filepath.Join(s.dir, hex.EncodeToString(sum[:16])+".json")
}

// Schedule marks a tree dirty and (re)arms the debounced flush.
func (s *Store) Schedule(key CacheKey, tree *Tree) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.dirty[key] = tree

	if s.timer != nil && s.timer.Stop() {
		// The pending flush never runs; balance its Add.
		s.flushDone.Done()
	}
	s.flushDone.Add(1)
	s.timer = time.AfterFunc(s.debounce, func() {
		defer s.flushDone.Done()
		s.flushDirty()
	})
}

// flushDirty writes every dirty entry to disk.
func (s *Store) flushDirty() {
	s.mu.Lock()
	pending := s.dirty
	s.dirty = make(map[CacheKey]*Tree)
	s.mu.Unlock()

	for key, tree := range pending {
		if err := s.writeBlob(key, tree); err != nil {
			s.log.Debug("cache blob write failed",
				zap.String("key", key.String()), zap.Error(err))
		}
	}
}

func (s *Store) writeBlob(key CacheKey, tree *Tree) error {
	data, err := json.Marshal(persistedTree{Key: key, Tree: tree})
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(s.dir, ".blob.*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), s.blobPath(key))
}

// Load reads one blob. Missing or corrupt blobs, and blobs whose
// stored key does not match (hash collision or stale format), read as
// absent.
func (s *Store) Load(key CacheKey) (*Tree, bool) {
	data, err := os.ReadFile(s.blobPath(key))
	if err != nil {
		return nil, false
	}
	var env persistedTree
	if err := json.Unmarshal(data, &env); err != nil {
		s.log.Debug("cache blob corrupt, ignoring", zap.String("key", key.String()))
		return nil, false
	}
	if env.Key != key || env.Tree == nil {
		return nil, false
	}
	return env.Tree, true
}

// WarmUp loads blobs into the session cache asynchronously, stopping at
// the budget. Entries whose backing file changed since they were
// written are skipped by the session cache's key check on read, so the
// warm-up loads indiscriminately.
func (s *Store) WarmUp(cache *Cache, budget time.Duration) {
	go func() {
		deadline := time.Now().Add(budget)
		entries, err := os.ReadDir(s.dir)
		if err != nil {
			return
		}
		loaded := 0
		for _, entry := range entries {
			if time.Now().After(deadline) {
				break
			}
			if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
				continue
			}
			data, err := os.ReadFile(filepath.Join(s.dir, entry.Name()))
			if err != nil {
				continue
			}
			var env persistedTree
			if err := json.Unmarshal(data, &env); err != nil || env.Tree == nil {
				continue
			}
			cache.Put(env.Key, env.Tree)
			loaded++
		}
		s.log.Debug("cache warm-up finished", zap.Int("loaded", loaded))
	}()
}

// Invalidate removes the persisted blobs for a file path. Blob names
// are key hashes, so invalidation scans the directory; write tools are
// rare relative to reads and the directory is small.
func (s *Store) Invalidate(relPath string) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return
	}
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		path := filepath.Join(s.dir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		var env persistedTree
		if err := json.Unmarshal(data, &env); err != nil {
			continue
		}
		if env.Key.RelPath == relPath {
			os.Remove(path)
		}
	}

	s.mu.Lock()
	for key := range s.dirty {
		if key.RelPath == relPath {
			delete(s.dirty, key)
		}
	}
	s.mu.Unlock()
}

// FlushAll forces an immediate write of everything dirty and waits up
// to timeout for in-flight flushes. Returns false when the timeout
// expired with work still pending.
func (s *Store) FlushAll(timeout time.Duration) bool {
	s.mu.Lock()
	if s.timer != nil {
		if s.timer.Stop() {
			// Timer was armed and not yet fired: its Add is ours now.
			s.flushDone.Done()
		}
		s.timer = nil
	}
	s.mu.Unlock()

	s.flushDirty()

	done := make(chan struct{})
	go func() {
		s.flushDone.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}

// Close flushes with a short budget and rejects further schedules.
// Remaining writes are abandoned.
func (s *Store) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.FlushAll(2 * time.Second)
}
