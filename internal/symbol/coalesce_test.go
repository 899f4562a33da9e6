package symbol

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCoalescerCollapsesConcurrentCalls(t *testing.T) {
	c := NewCoalescer(time.Minute)

	var calls atomic.Int32
	release := make(chan struct{})

	const waiters = 8
	var wg sync.WaitGroup
	results := make([]any, waiters)
	for i := 0; i < waiters; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := c.Do(context.Background(), "k", "a.go", func(context.Context) (any, error) {
				calls.Add(1)
				<-release
				return "shared", nil
			})
			require.NoError(t, err)
			results[i] = v
		}(i)
	}

	// Give the waiters time to pile onto the in-flight call.
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load(), "only one underlying call")
	for _, v := range results {
		assert.Equal(t, "shared", v)
	}
}

func TestCoalescerTTLWindow(t *testing.T) {
	c := NewCoalescer(time.Minute)

	var calls atomic.Int32
	fn := func(context.Context) (any, error) {
		calls.Add(1)
		return "v", nil
	}

	_, err := c.Do(context.Background(), "k", "a.go", fn)
	require.NoError(t, err)
	_, err = c.Do(context.Background(), "k", "a.go", fn)
	require.NoError(t, err)

	assert.Equal(t, int32(1), calls.Load(), "second call served from the TTL window")
}

func TestCoalescerTTLExpiry(t *testing.T) {
	c := NewCoalescer(20 * time.Millisecond)

	var calls atomic.Int32
	fn := func(context.Context) (any, error) {
		calls.Add(1)
		return "v", nil
	}

	_, _ = c.Do(context.Background(), "k", "", fn)
	time.Sleep(50 * time.Millisecond)
	_, _ = c.Do(context.Background(), "k", "", fn)

	assert.Equal(t, int32(2), calls.Load(), "expired window issues a fresh call")
}

func TestCoalescerInvalidateClearsWindow(t *testing.T) {
	c := NewCoalescer(time.Minute)

	var calls atomic.Int32
	fn := func(context.Context) (any, error) {
		calls.Add(1)
		return "v", nil
	}

	_, _ = c.Do(context.Background(), "k", "a.go", fn)
	c.Invalidate("a.go")
	_, _ = c.Do(context.Background(), "k", "a.go", fn)

	assert.Equal(t, int32(2), calls.Load(), "invalidation must drop the cached result")
}

func TestCoalescerErrorsNotCached(t *testing.T) {
	c := NewCoalescer(time.Minute)

	var calls atomic.Int32
	_, err := c.Do(context.Background(), "k", "", func(context.Context) (any, error) {
		calls.Add(1)
		return nil, assert.AnError
	})
	require.Error(t, err)

	_, err = c.Do(context.Background(), "k", "", func(context.Context) (any, error) {
		calls.Add(1)
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load(), "errors must not populate the window")
}

func TestCoalescerCallerCancellation(t *testing.T) {
	c := NewCoalescer(time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	release := make(chan struct{})
	defer close(release)

	errCh := make(chan error, 1)
	go func() {
		_, err := c.Do(ctx, "k", "", func(context.Context) (any, error) {
			<-release
			return "v", nil
		})
		errCh <- err
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("cancelled caller did not return")
	}
}
