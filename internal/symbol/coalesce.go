package symbol

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Coalescer collapses concurrent identical LSP requests into a single
// underlying call and holds completed results in a short TTL window so
// bursts of the same request — common while an agent is planning —
// return immediately. Modification tools must call Invalidate for the
// paths they touch; the TTL window otherwise serves reads computed
// before the write.
type Coalescer struct {
	group singleflight.Group
	ttl   time.Duration

	mu     sync.Mutex
	recent map[string]recentResult
	byPath map[string]map[string]struct{}
}

type recentResult struct {
	value   any
	expires time.Time
}

// DefaultResultTTL is the recent-result window applied when the caller
// does not choose one.
const DefaultResultTTL = 5 * time.Second

// NewCoalescer creates a coalescer with the given result TTL. Zero
// selects the default.
func NewCoalescer(ttl time.Duration) *Coalescer {
	if ttl <= 0 {
		ttl = DefaultResultTTL
	}
	return &Coalescer{
		ttl:    ttl,
		recent: make(map[string]recentResult),
		byPath: make(map[string]map[string]struct{}),
	}
}

// Do runs fn under the key, sharing the result with concurrent callers
// of the same key and with callers arriving within the TTL window.
// relPath associates the key with a file for invalidation; it may be
// empty for requests not tied to one file.
func (c *Coalescer) Do(ctx context.Context, key, relPath string, fn func(context.Context) (any, error)) (any, error) {
	c.mu.Lock()
	if res, ok := c.recent[key]; ok {
		if time.Now().Before(res.expires) {
			c.mu.Unlock()
			return res.value, nil
		}
		c.dropLocked(key, relPath)
	}
	c.mu.Unlock()

	ch := c.group.DoChan(key, func() (any, error) {
		value, err := fn(ctx)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.recent[key] = recentResult{value: value, expires: time.Now().Add(c.ttl)}
		if relPath != "" {
			keys, ok := c.byPath[relPath]
			if !ok {
				keys = make(map[string]struct{})
				c.byPath[relPath] = keys
			}
			keys[key] = struct{}{}
		}
		c.mu.Unlock()
		return value, nil
	})

	select {
	case res := <-ch:
		return res.Val, res.Err
	case <-ctx.Done():
		// This caller gives up; the shared call continues for any
		// remaining waiters and still seeds the TTL window.
		return nil, ctx.Err()
	}
}

// Invalidate drops the result window for every key tied to a file.
// In-flight calls are unaffected: their results were computed against
// the pre-write file and will be keyed out by mtime on the next read.
func (c *Coalescer) Invalidate(relPath string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	keys, ok := c.byPath[relPath]
	if !ok {
		return
	}
	for key := range keys {
		delete(c.recent, key)
		c.group.Forget(key)
	}
	delete(c.byPath, relPath)
}

// dropLocked removes one expired key. Must hold mu.
func (c *Coalescer) dropLocked(key, relPath string) {
	delete(c.recent, key)
	if relPath != "" {
		if keys, ok := c.byPath[relPath]; ok {
			delete(keys, key)
			if len(keys) == 0 {
				delete(c.byPath, relPath)
			}
		}
	}
}
